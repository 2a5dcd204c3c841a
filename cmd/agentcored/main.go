// Command agentcored runs the agent orchestration runtime's HTTP
// surface (spec.md §6.1 / component C14), wiring the fourteen
// components named in spec.md §2 against either the in-memory reference
// stores or a durable sqlite-backed store, selected by TA_SQLITE_PATH.
//
// It is grounded on the teacher's cmd/nexus-edge/main.go, which performs
// the same shape of "load config, build the dependency graph, start an
// HTTP listener, wait for signal" sequence for its own gateway process.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/teal-agents/agentcore/internal/authstore"
	"github.com/teal-agents/agentcore/internal/catalog"
	"github.com/teal-agents/agentcore/internal/config"
	"github.com/teal-agents/agentcore/internal/discovery"
	"github.com/teal-agents/agentcore/internal/hitl"
	"github.com/teal-agents/agentcore/internal/httpapi"
	"github.com/teal-agents/agentcore/internal/kernel"
	"github.com/teal-agents/agentcore/internal/mcpclient"
	"github.com/teal-agents/agentcore/internal/modelclient"
	"github.com/teal-agents/agentcore/internal/oauthbroker"
	"github.com/teal-agents/agentcore/internal/observability"
	"github.com/teal-agents/agentcore/internal/orchestrator"
	"github.com/teal-agents/agentcore/internal/pluginregistry"
	"github.com/teal-agents/agentcore/internal/requestauth"
	"github.com/teal-agents/agentcore/internal/storage/sqlite"
	"github.com/teal-agents/agentcore/internal/taskstore"
	"github.com/teal-agents/agentcore/pkg/agentapi"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv)
	if err != nil {
		return fmt.Errorf("agentcored: loading config: %w", err)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  firstNonEmpty(os.Getenv("TA_LOG_LEVEL"), "info"),
		Format: firstNonEmpty(os.Getenv("TA_LOG_FORMAT"), "json"),
	})
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	persistence, authStore, discoveryStore, closeStore, err := buildStores(cfg)
	if err != nil {
		return fmt.Errorf("agentcored: building stores: %w", err)
	}
	if closeStore != nil {
		defer closeStore()
	}

	pluginCatalog := catalog.New()
	if path := os.Getenv("TA_PLUGIN_CATALOG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("agentcored: reading plugin catalog %q: %w", path, err)
		}
		if err := pluginCatalog.LoadStaticJSON(data); err != nil {
			return fmt.Errorf("agentcored: loading plugin catalog: %w", err)
		}
	}

	broker := oauthbroker.New(authStore, discoveryStore, cfg.Auth.OAuthRedirectURI, cfg.Auth.OAuthClientName)
	mcpClient := mcpclient.New(authStore, discoveryStore, broker)
	registry := pluginregistry.New(mcpClient, pluginCatalog, authStore)
	modelFactory := modelclient.NewFactory(cfg.Model.BaseURL, cfg.Auth.DefaultModelAPIKey, &http.Client{Timeout: 60 * time.Second})

	servers := make(map[string]agentapi.McpServerConfig, len(cfg.MCP.Servers))
	for _, s := range cfg.MCP.Servers {
		servers[s.Name] = s
	}

	kernelBuilder, err := kernel.New(modelFactory, pluginCatalog, registry, mcpClient, discoveryStore, cfg.MCP.Servers)
	if err != nil {
		return fmt.Errorf("agentcored: building kernel: %w", err)
	}
	gate := hitl.New(pluginCatalog)

	authorizer := requestauth.New(os.Getenv("TA_JWT_SECRET"), apiKeysFromEnv(os.Getenv("TA_API_KEYS")))

	urls := orchestrator.URLs{Name: cfg.Server.Name, Version: cfg.Server.Version}
	orch := orchestrator.New(persistence, authorizer, kernelBuilder, gate, broker, discoveryStore, cfg.MCP.Servers, cfg.Model.Name, urls)

	srv := &httpapi.Server{
		Orchestrator: orch,
		Broker:       broker,
		Discovery:    discoveryStore,
		Servers:      servers,
		Name:         cfg.Server.Name,
		Version:      cfg.Server.Version,
		Logger:       logger,
		Metrics:      metrics,
		StartTime:    time.Now().UTC(),
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Mux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "agentcored listening", slog.String("addr", cfg.Server.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info(ctx, "agentcored shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// buildStores selects the in-memory reference capability implementations
// by default, or the durable sqlite-backed ones when TA_SQLITE_PATH is
// set (spec.md §1 treats concrete persistence backends as out of core
// scope — both are valid TaskPersistence/AuthStorage/DiscoveryStore
// implementations against the same interfaces).
func buildStores(cfg *config.Config) (agentapi.TaskPersistence, agentapi.AuthStorage, agentapi.DiscoveryStore, func(), error) {
	if cfg.Persistence.SQLitePath == "" {
		return taskstore.New(), authstore.New(), discovery.New(), nil, nil
	}
	store, err := sqlite.Open(sqlite.Config{Path: cfg.Persistence.SQLitePath})
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return store.Tasks(), store.Auth(), store.Discovery(), func() { _ = store.Close() }, nil
}

// apiKeysFromEnv parses TA_API_KEYS as a comma-separated list of
// "key:user_id" pairs, the static-credential form requestauth.Authorizer
// accepts alongside JWT.
func apiKeysFromEnv(raw string) map[string]string {
	out := map[string]string{}
	if raw == "" {
		return out
	}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, userID, ok := strings.Cut(pair, ":")
		if !ok || key == "" {
			continue
		}
		if userID == "" {
			userID = key
		}
		out[key] = userID
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
