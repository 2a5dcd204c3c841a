// Package catalog implements the PluginCatalog: a registry of Plugins
// and their PluginTools, loaded from a static JSON document at startup
// and augmented at runtime by MCP discovery's dynamic registration
// (spec.md §4.3 / component C5). It is grounded on the teacher's
// internal/tools/policy.Resolver, which similarly layers a static,
// config-declared tool set underneath dynamically registered MCP
// servers behind one name-resolution surface.
package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/teal-agents/agentcore/pkg/agentapi"
)

// Catalog is a thread-safe PluginCatalog combining a static plugin set
// with dynamically registered plugins/tools.
type Catalog struct {
	mu sync.RWMutex

	plugins map[string]*agentapi.Plugin // plugin_id -> plugin
	tools   map[string]*toolEntry       // tool catalog id -> entry

	schemas map[string]*jsonschema.Schema // tool catalog id -> compiled ArgsSchema
}

type toolEntry struct {
	tool     agentapi.PluginTool
	pluginID string
}

// New builds an empty Catalog.
func New() *Catalog {
	return &Catalog{
		plugins: make(map[string]*agentapi.Plugin),
		tools:   make(map[string]*toolEntry),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// LoadStaticJSON parses a JSON document of the form {"plugins": [...]}
// and registers every plugin and tool it contains. It is meant to be
// called once at startup, before any dynamic registration.
func (c *Catalog) LoadStaticJSON(data []byte) error {
	var doc struct {
		Plugins []agentapi.Plugin `json:"plugins"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("catalog: parsing static catalog: %w", err)
	}
	for i := range doc.Plugins {
		if err := c.RegisterDynamicPlugin(&doc.Plugins[i]); err != nil {
			return fmt.Errorf("catalog: loading plugin %q: %w", doc.Plugins[i].PluginID, err)
		}
	}
	return nil
}

var _ agentapi.PluginCatalog = (*Catalog)(nil)

// GetPlugin returns a registered plugin by id.
func (c *Catalog) GetPlugin(id string) (*agentapi.Plugin, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.plugins[id]
	return p, ok
}

// GetTool returns a registered tool by its catalog id
// (agentapi.ToolCallIntent.CatalogID's format).
func (c *Catalog) GetTool(id string) (*agentapi.PluginTool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.tools[id]
	if !ok {
		return nil, false
	}
	tool := entry.tool
	return &tool, true
}

// RegisterDynamicPlugin adds or replaces a plugin and all of its tools.
func (c *Catalog) RegisterDynamicPlugin(plugin *agentapi.Plugin) error {
	if plugin == nil || plugin.PluginID == "" {
		return fmt.Errorf("catalog: plugin_id is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range plugin.Tools {
		if err := c.registerToolLocked(&plugin.Tools[i], plugin.PluginID); err != nil {
			return err
		}
	}
	c.plugins[plugin.PluginID] = plugin
	return nil
}

// RegisterDynamicTool adds or replaces a single tool, used when an MCP
// server's tool list changes without a full re-registration of the
// plugin (spec.md §4.3 "Refresh & cascading unregister"). pluginID is
// optional: when it names a plugin this catalog does not yet know
// about, a minimal placeholder plugin is created for it rather than
// erroring (spec.md §4.3: "if `plugin_id` is provided and the plugin
// does not exist, a minimal placeholder plugin is created"). An empty
// pluginID registers the tool under no plugin at all.
func (c *Catalog) RegisterDynamicTool(tool *agentapi.PluginTool, pluginID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.registerToolLocked(tool, pluginID); err != nil {
		return err
	}
	if pluginID == "" {
		return nil
	}

	plugin, ok := c.plugins[pluginID]
	if !ok {
		plugin = &agentapi.Plugin{PluginID: pluginID, Name: pluginID}
		c.plugins[pluginID] = plugin
	}
	for i, existing := range plugin.Tools {
		if existing.ToolID == tool.ToolID {
			plugin.Tools[i] = *tool
			return nil
		}
	}
	plugin.Tools = append(plugin.Tools, *tool)
	return nil
}

// UnregisterDynamicPlugin removes a plugin and cascades the removal to
// every tool it owns, so a dropped MCP server connection can never
// leave stale catalog entries a kernel might still dispatch to.
func (c *Catalog) UnregisterDynamicPlugin(pluginID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	plugin, ok := c.plugins[pluginID]
	if !ok {
		return nil
	}
	for _, tool := range plugin.Tools {
		catalogID := agentapi.ToolCallIntent{PluginID: pluginID, ToolName: tool.Name}.CatalogID()
		delete(c.tools, catalogID)
		delete(c.schemas, catalogID)
	}
	delete(c.plugins, pluginID)
	return nil
}

func (c *Catalog) registerToolLocked(tool *agentapi.PluginTool, pluginID string) error {
	catalogID := agentapi.ToolCallIntent{PluginID: pluginID, ToolName: tool.Name}.CatalogID()
	c.tools[catalogID] = &toolEntry{tool: *tool, pluginID: pluginID}

	delete(c.schemas, catalogID)
	if len(tool.ArgsSchema) == 0 {
		return nil
	}
	raw, err := json.Marshal(tool.ArgsSchema)
	if err != nil {
		return fmt.Errorf("catalog: marshaling args_schema for %q: %w", catalogID, err)
	}
	compiler := jsonschema.NewCompiler()
	resourceName := catalogID + ".json"
	if err := compiler.AddResource(resourceName, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("catalog: loading args_schema for %q: %w", catalogID, err)
	}
	schema, err := compiler.Compile(resourceName)
	if err != nil {
		return fmt.Errorf("catalog: compiling args_schema for %q: %w", catalogID, err)
	}
	c.schemas[catalogID] = schema
	return nil
}

// ValidateArgs validates tool call arguments against the tool's
// registered ArgsSchema. Tools with no schema accept any arguments.
func (c *Catalog) ValidateArgs(catalogID string, args map[string]any) error {
	c.mu.RLock()
	schema, ok := c.schemas[catalogID]
	c.mu.RUnlock()
	if !ok {
		return nil
	}
	if err := schema.ValidateInterface(args); err != nil {
		return fmt.Errorf("catalog: tool %q arguments: %w", catalogID, err)
	}
	return nil
}
