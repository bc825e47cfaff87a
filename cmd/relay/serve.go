package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/modelrelay/relay/internal/agent"
	"github.com/modelrelay/relay/internal/agent/providers"
	"github.com/modelrelay/relay/internal/config"
	"github.com/modelrelay/relay/internal/gateway"
	"github.com/modelrelay/relay/internal/mcp"
	"github.com/modelrelay/relay/internal/observability"
	"github.com/modelrelay/relay/internal/policy"
	"github.com/modelrelay/relay/internal/promptcache"
	"github.com/modelrelay/relay/internal/runner"
	"github.com/modelrelay/relay/internal/sessions"
	"github.com/modelrelay/relay/internal/tools/execs"
	"github.com/modelrelay/relay/internal/tools/files"
	"github.com/modelrelay/relay/internal/tools/gitws"
	"github.com/modelrelay/relay/internal/tools/indexer"
	"github.com/modelrelay/relay/internal/tools/mcptools"
	"github.com/modelrelay/relay/internal/tools/tasks"
	"github.com/modelrelay/relay/internal/tools/testrun"
	"github.com/modelrelay/relay/internal/tools/websearch"
)

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the proxy server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "relay.yaml", "path to the configuration file")
	return cmd
}

func serve(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Redact: true,
	})
	slog.SetDefault(logger)

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	tracer, err := observability.NewTracer(ctx, observability.TracingConfig{
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: "relay",
		SampleRatio: cfg.Tracing.SampleRatio,
		Insecure:    cfg.Tracing.Insecure,
	}, logger)
	if err != nil {
		return err
	}

	store, err := sessions.NewSQLiteStore(cfg.SessionDB)
	if err != nil {
		return err
	}
	defer store.Close()

	engine, err := policy.New(policy.Config{
		DisallowedTools:     cfg.Policy.DisallowedTools,
		MaxToolCallsPerTurn: cfg.Policy.MaxToolCalls,
		Git: policy.GitPolicy{
			AllowPush:    cfg.Policy.Git.AllowPush,
			AllowPull:    cfg.Policy.Git.AllowPull,
			AllowCommit:  cfg.Policy.Git.AllowCommit,
			RequireTests: cfg.Policy.Git.RequireTests,
			TestCommand:  cfg.Policy.Git.TestCommand,
			CommitRegex:  cfg.Policy.Git.CommitRegex,
			Autostash:    cfg.Policy.Git.Autostash,
		},
		Sandbox: policy.SandboxPermissions{
			Mode:  cfg.Sandbox.PermissionMode,
			Allow: cfg.Sandbox.PermissionAllow,
			Deny:  cfg.Sandbox.PermissionDeny,
		},
	}, logger)
	if err != nil {
		return err
	}

	cache := promptcache.New(cfg.Cache.MaxEntries, cfg.Cache.TTL)

	var sandbox *runner.SandboxConfig
	if cfg.Sandbox.Enabled {
		sandbox = &runner.SandboxConfig{
			Enabled:            true,
			Default:            true,
			Runtime:            cfg.Sandbox.Runtime,
			Image:              cfg.Sandbox.Image,
			WorkspaceRoot:      cfg.Workspace,
			ContainerWorkspace: cfg.Sandbox.ContainerWorkspace,
			MountWorkspace:     cfg.Sandbox.MountWorkspace,
			ExtraMounts:        cfg.Sandbox.ExtraMounts,
			AllowNetworking:    cfg.Sandbox.AllowNetworking,
			NetworkMode:        cfg.Sandbox.NetworkMode,
			PassthroughEnv:     cfg.Sandbox.PassthroughEnv,
			User:               cfg.Sandbox.User,
			Entrypoint:         cfg.Sandbox.Entrypoint,
		}
	}
	run := runner.New(sandbox, logger)

	mcpRegistry := mcp.NewRegistry(cfg.MCP.ServerManifest, cfg.MCP.ManifestDirs, logger)
	servers := mcpRegistry.Refresh()
	defer mcpRegistry.CloseAll()
	logger.Info("mcp manifests loaded", "servers", len(servers))

	registry := agent.NewRegistry(logger)

	resolver, err := files.NewResolver(cfg.Workspace)
	if err != nil {
		return err
	}
	files.NewTools(resolver, files.NewHistory(store.DB())).Register(registry)
	execs.NewTools(run, cfg.Workspace).Register(registry)
	gitws.NewTools(run, cfg.Workspace, gitws.NewReviewStore(store.DB())).Register(registry)
	indexer.NewTools(indexer.New(cfg.Workspace)).Register(registry)
	tasks.NewTools(tasks.NewStore(store.DB())).Register(registry)
	tests := testrun.NewTools(run, cfg.Workspace, store.DB(), cfg.Policy.Git.TestCommand)
	tests.Register(registry)
	websearch.NewTools(websearch.Config{
		Endpoint:     cfg.WebSearch.Endpoint,
		AllowAll:     cfg.WebSearch.AllowAll,
		AllowedHosts: cfg.WebSearch.AllowedHosts,
		Timeout:      time.Duration(cfg.WebSearch.TimeoutMS) * time.Millisecond,
	}).Register(registry)

	remote := mcptools.NewTools(mcpRegistry, run.Sessions(), logger)
	remote.Register(registry)
	if n := remote.RegisterRemoteTools(ctx, registry); n > 0 {
		logger.Info("remote mcp tools registered", "count", n)
	}

	provider, webFallback, err := buildProvider(cfg)
	if err != nil {
		return err
	}

	orchestrator := agent.NewOrchestrator(provider, registry, engine, cache, store, metrics, tracer, logger, agent.Config{
		MaxSteps:     cfg.Policy.MaxSteps,
		CacheEnabled: cfg.Cache.Enabled,
		WebFallback:  webFallback,
	})
	orchestrator.SetTestRunner(func(ctx context.Context, command string) error {
		result, err := tests.RunCommand(ctx, command)
		if err != nil {
			return err
		}
		if result.ExitCode != 0 {
			return fmt.Errorf("test command %q exited %d", result.Command, result.ExitCode)
		}
		return nil
	})

	server := gateway.NewServer(orchestrator, store, metrics, logger)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", httpServer.Addr, "provider", provider.Name())
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("shutting down", "reason", "context cancelled")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown", "error", err)
	}
	return nil
}

// buildProvider selects the upstream adapter. The browsing-refusal
// fallback applies to Databricks only; Azure-hosted Anthropic models do
// their own tool use.
func buildProvider(cfg *config.Config) (agent.Provider, bool, error) {
	switch cfg.Provider {
	case "databricks":
		p, err := providers.NewDatabricks(providers.DatabricksConfig{
			APIBase:      cfg.Databricks.APIBase,
			APIKey:       cfg.Databricks.APIKey,
			DefaultModel: cfg.Databricks.DefaultModel,
			EndpointPath: cfg.Databricks.EndpointPath,
		})
		return p, true, err
	case "azure":
		p, err := providers.NewAzureAnthropic(providers.AzureAnthropicConfig{
			Endpoint:     cfg.Azure.Endpoint,
			APIKey:       cfg.Azure.APIKey,
			APIVersion:   cfg.Azure.APIVersion,
			DefaultModel: cfg.Azure.DefaultModel,
		})
		return p, false, err
	default:
		return nil, false, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}
