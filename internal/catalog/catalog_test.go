package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/teal-agents/agentcore/pkg/agentapi"
)

func samplePlugin() *agentapi.Plugin {
	return &agentapi.Plugin{
		PluginID: "weather",
		Name:     "Weather",
		Version:  "1.0.0",
		Type:     agentapi.PluginTypeCode,
		Tools: []agentapi.PluginTool{
			{
				ToolID:      "lookup",
				Name:        "lookup",
				Description: "Looks up current weather for a city.",
				Governance:  agentapi.Governance{Cost: agentapi.CostLow, DataSensitivity: agentapi.SensitivityPublic},
				ArgsSchema: map[string]any{
					"type":     "object",
					"required": []any{"city"},
					"properties": map[string]any{
						"city": map[string]any{"type": "string"},
					},
				},
			},
		},
	}
}

func TestRegisterAndGetPlugin(t *testing.T) {
	c := New()
	require.NoError(t, c.RegisterDynamicPlugin(samplePlugin()))

	plugin, ok := c.GetPlugin("weather")
	require.True(t, ok)
	require.Equal(t, "Weather", plugin.Name)

	tool, ok := c.GetTool("weather-lookup")
	require.True(t, ok)
	require.Equal(t, "lookup", tool.Name)
}

func TestValidateArgsAcceptsWellFormed(t *testing.T) {
	c := New()
	require.NoError(t, c.RegisterDynamicPlugin(samplePlugin()))

	err := c.ValidateArgs("weather-lookup", map[string]any{"city": "Lisbon"})
	require.NoError(t, err)
}

func TestValidateArgsRejectsMissingRequiredField(t *testing.T) {
	c := New()
	require.NoError(t, c.RegisterDynamicPlugin(samplePlugin()))

	err := c.ValidateArgs("weather-lookup", map[string]any{})
	require.Error(t, err)
}

func TestValidateArgsNoSchemaAcceptsAnything(t *testing.T) {
	c := New()
	plugin := samplePlugin()
	plugin.Tools[0].ArgsSchema = nil
	require.NoError(t, c.RegisterDynamicPlugin(plugin))

	require.NoError(t, c.ValidateArgs("weather-lookup", map[string]any{"whatever": 1}))
}

func TestUnregisterCascadesToTools(t *testing.T) {
	c := New()
	require.NoError(t, c.RegisterDynamicPlugin(samplePlugin()))

	require.NoError(t, c.UnregisterDynamicPlugin("weather"))

	_, ok := c.GetPlugin("weather")
	require.False(t, ok)
	_, ok = c.GetTool("weather-lookup")
	require.False(t, ok)
}

func TestRegisterDynamicToolUpdatesExisting(t *testing.T) {
	c := New()
	require.NoError(t, c.RegisterDynamicPlugin(samplePlugin()))

	updated := &agentapi.PluginTool{ToolID: "lookup", Name: "lookup", Description: "v2"}
	require.NoError(t, c.RegisterDynamicTool(updated, "weather"))

	tool, ok := c.GetTool("weather-lookup")
	require.True(t, ok)
	require.Equal(t, "v2", tool.Description)
}

func TestRegisterDynamicToolCreatesPlaceholderPluginWhenMissing(t *testing.T) {
	c := New()
	tool := &agentapi.PluginTool{ToolID: "search", Name: "search"}
	require.NoError(t, c.RegisterDynamicTool(tool, "mcp_github"))

	plugin, ok := c.GetPlugin("mcp_github")
	require.True(t, ok)
	require.Equal(t, "mcp_github", plugin.PluginID)
	require.Len(t, plugin.Tools, 1)

	got, ok := c.GetTool("mcp_github_search")
	require.True(t, ok)
	require.Equal(t, "search", got.Name)
}

func TestRegisterDynamicToolWithoutPluginIDRegistersToolOnly(t *testing.T) {
	c := New()
	tool := &agentapi.PluginTool{ToolID: "standalone", Name: "standalone"}
	require.NoError(t, c.RegisterDynamicTool(tool, ""))

	_, ok := c.GetTool("-standalone")
	require.True(t, ok)
}

func TestLoadStaticJSON(t *testing.T) {
	c := New()
	doc := `{"plugins":[{"plugin_id":"calc","name":"Calculator","plugin_type":"code","tools":[{"tool_id":"add","name":"add"}]}]}`
	require.NoError(t, c.LoadStaticJSON([]byte(doc)))

	_, ok := c.GetTool("calc-add")
	require.True(t, ok)
}

func TestMcpPluginIDProducesMcpCatalogID(t *testing.T) {
	c := New()
	plugin := &agentapi.Plugin{
		PluginID: "mcp_github",
		Name:     "GitHub",
		Type:     agentapi.PluginTypeMCP,
		Tools:    []agentapi.PluginTool{{ToolID: "search", Name: "search"}},
	}
	require.NoError(t, c.RegisterDynamicPlugin(plugin))

	_, ok := c.GetTool("mcp_github_search")
	require.True(t, ok)
}
