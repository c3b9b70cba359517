package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/forgekit/agentcore/internal/agent"
	"github.com/forgekit/agentcore/internal/backoff"
	"github.com/forgekit/agentcore/internal/config"
	"github.com/forgekit/agentcore/internal/contextstore"
	"github.com/forgekit/agentcore/internal/devserver"
	"github.com/forgekit/agentcore/internal/jobs"
	"github.com/forgekit/agentcore/internal/observability"
	"github.com/forgekit/agentcore/internal/orchestrator"
	"github.com/forgekit/agentcore/internal/sandboxmgr"
	"github.com/forgekit/agentcore/internal/sandboxmgr/firecracker"
	toolsjobs "github.com/forgekit/agentcore/internal/tools/jobs"
	"github.com/forgekit/agentcore/internal/tools/project"
	"github.com/forgekit/agentcore/pkg/models"
)

// runServe implements the serve command: load config, wire every
// component, start the expiry sweeper and metrics listener, and block
// until a shutdown signal arrives.
func runServe(cmd *cobra.Command, configPath string, debug, dryRun bool) error {
	if debug {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	slog.Info("starting forgectl", "version", version, "commit", commit, "config", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: observability.LogLevelFromString(cfg.Logging.Level),
	}))

	// NewMetrics registers its collectors on the default Prometheus
	// registerer via promauto; promhttp.Handler() below serves them. No
	// direct reference is needed once registered.
	_ = observability.NewMetrics()

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    cfg.Observability.Tracing.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Observability.Tracing.Environment,
		Endpoint:       cfg.Observability.Tracing.Endpoint,
		SamplingRate:   cfg.Observability.Tracing.SamplingRate,
		Insecure:       cfg.Observability.Tracing.Insecure,
	})
	_ = tracer
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			slog.Warn("tracer shutdown failed", "error", err)
		}
	}()

	store, closeStore, err := buildContextStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build context store: %w", err)
	}
	defer closeStore()

	vmProvider, err := buildVMProvider(cfg.Sandbox)
	if err != nil {
		return fmt.Errorf("failed to build sandbox provider: %w", err)
	}
	sandboxMgr := sandboxmgr.New(vmProvider, store, cfg.Sandbox, logger)

	sweeper := sandboxmgr.NewExpirySweeper(sandboxMgr, cfg.Sandbox.MaxIdleTime, cfg.Sandbox.ExpiryInterval, logger)

	devSupervisor := devserver.NewSupervisor(sandboxMgr, store, cfg.DevServer, logger)

	jobStore, closeJobs, err := buildJobStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to build job store: %w", err)
	}
	defer closeJobs()

	registry := agent.NewToolRegistry()
	project.Register(registry, project.Deps{
		Store:     store,
		Sandbox:   sandboxMgr,
		DevServer: devSupervisor,
	})
	registry.Register(toolsjobs.NewStatusTool(jobStore))
	registry.Register(toolsjobs.NewCancelTool(jobStore))

	toolExec := agent.NewToolExecutor(registry, agent.ToolExecConfig{
		Concurrency:    cfg.Tools.Execution.Parallelism,
		PerToolTimeout: cfg.Tools.Execution.Timeout,
		MaxAttempts:    cfg.Tools.Execution.MaxAttempts,
		RetryPolicy: backoff.BackoffPolicy{
			InitialMs: float64(cfg.Tools.Execution.RetryBackoff.Milliseconds()),
			MaxMs:     10_000,
			Factor:    2,
			Jitter:    0.2,
		},
	})

	llmProvider, err := newLLMProvider(dryRun)
	if err != nil {
		return err
	}
	// Every model call goes through the failover chain, which adds retry
	// classification and per-provider circuit breaking. Fallback providers
	// named in llm.fallback_chain are added here once their concrete
	// clients are injected; with a single provider the chain still guards
	// against transient provider errors.
	failover := agent.NewFailoverOrchestrator(llmProvider, agent.DefaultFailoverConfig())

	traceSink, closeSink, err := buildEventSink(cfg)
	if err != nil {
		return fmt.Errorf("failed to open trace file: %w", err)
	}
	defer closeSink()

	timelineStore := observability.NewMemoryEventStore(10000)
	timelineSink := newTimelineSink(observability.NewEventRecorder(timelineStore, nil))
	var sink agent.EventSink = timelineSink
	if traceSink != nil {
		sink = agent.NewMultiSink(traceSink, timelineSink)
	}

	orch := orchestrator.New(orchestrator.Config{
		Provider: failover,
		Registry: registry,
		ToolExec: toolExec,
		Store:    store,
		Model:    cfg.LLM.Providers[cfg.LLM.DefaultProvider].DefaultModel,
		Logger:   logger,
		Sink:     sink,
		Options: agent.RuntimeOptions{
			MaxIterations:   cfg.Tools.Execution.MaxIterations,
			ToolParallelism: cfg.Tools.Execution.Parallelism,
			ToolTimeout:     cfg.Tools.Execution.Timeout,
			ToolMaxAttempts: cfg.Tools.Execution.MaxAttempts,
			RequireApproval: cfg.Tools.Execution.RequireApproval,
			ApprovalChecker: buildApprovalChecker(cfg.Tools.Execution),
			AsyncTools:      cfg.Tools.Execution.Async,
			JobStore:        jobStore,
			ToolResultGuard: buildResultGuard(cfg.Tools.ResultGuard),
			Logger:          logger,
		},
	})
	_ = orch // held by the request layer in a real deployment; kept alive here for health reporting

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := sweeper.Start(ctx); err != nil {
		return fmt.Errorf("failed to start expiry sweeper: %w", err)
	}
	defer sweeper.Stop()

	go pruneJobs(ctx, jobStore, cfg.Tools.Jobs, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/debug/timeline", timelineHandler(timelineStore))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort)
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("metrics/health listener started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("metrics listener failed: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("metrics listener shutdown error", "error", err)
	}

	slog.Info("forgectl stopped")
	return nil
}

// buildContextStore constructs the Context Store's durable backing from
// cfg.Database.Driver and ensures schema exists for SQL backings.
func buildContextStore(cfg *config.Config, logger *slog.Logger) (contextstore.Store, func(), error) {
	storeCfg := contextstore.Config{
		MaxToolHistory:  cfg.ContextStore.MaxToolHistory,
		MaxErrorHistory: cfg.ContextStore.MaxErrorHistory,
	}

	switch cfg.Database.Driver {
	case "memory", "":
		store := contextstore.New(nil, storeCfg)
		return store, func() { _ = store.Close() }, nil

	case "postgres":
		pgCfg := contextstore.DefaultPostgresConfig()
		if cfg.Database.MaxConnections > 0 {
			pgCfg.MaxOpenConns = cfg.Database.MaxConnections
		}
		if cfg.Database.ConnMaxLifetime > 0 {
			pgCfg.ConnMaxLifetime = cfg.Database.ConnMaxLifetime
		}
		backing, err := contextstore.NewPostgresBacking(cfg.Database.URL, pgCfg)
		if err != nil {
			return nil, nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := backing.EnsureSchema(ctx); err != nil {
			return nil, nil, err
		}
		store := contextstore.New(backing, storeCfg)
		return store, func() { _ = store.Close() }, nil

	case "sqlite":
		backing, err := contextstore.NewSQLiteBacking(cfg.Database.URL)
		if err != nil {
			return nil, nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := backing.EnsureSchema(ctx); err != nil {
			return nil, nil, err
		}
		store := contextstore.New(backing, storeCfg)
		return store, func() { _ = store.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unsupported database.driver %q", cfg.Database.Driver)
	}
}

// buildJobStore constructs the async tool job store: postgres-backed when
// the durable store is postgres, in-memory otherwise.
func buildJobStore(cfg *config.Config) (jobs.Store, func(), error) {
	if cfg.Database.Driver == "postgres" {
		store, err := jobs.NewCockroachStoreFromDSN(cfg.Database.URL, nil)
		if err != nil {
			return nil, nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	}
	return jobs.NewMemoryStore(), func() {}, nil
}

// pruneJobs drops finished async jobs past their retention on a fixed
// interval until ctx is cancelled.
func pruneJobs(ctx context.Context, store jobs.Store, cfg config.ToolJobsConfig, logger *slog.Logger) {
	ticker := time.NewTicker(cfg.PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.Prune(ctx, cfg.Retention)
			if err != nil {
				logger.Warn("async job prune failed", "error", err)
			} else if n > 0 {
				logger.Info("pruned async jobs", "count", n)
			}
		}
	}
}

// buildApprovalChecker turns the config's approval lists into a checker, or
// nil when nothing is configured so the orchestrator skips the gate
// entirely. Unmatched tools default to allowed: this is a headless service,
// so "pending" would silently deny everything.
func buildApprovalChecker(cfg config.ToolExecutionConfig) *agent.ApprovalChecker {
	if len(cfg.RequireApproval) == 0 && len(cfg.Approval.Allowlist) == 0 && len(cfg.Approval.Denylist) == 0 {
		return nil
	}
	policy := agent.DefaultApprovalPolicy()
	policy.Allowlist = cfg.Approval.Allowlist
	policy.Denylist = cfg.Approval.Denylist
	policy.RequireApproval = cfg.RequireApproval
	policy.DefaultDecision = agent.ApprovalAllowed
	if len(cfg.Approval.SafeBins) > 0 {
		policy.SafeBins = cfg.Approval.SafeBins
	}
	if cfg.Approval.DefaultDecision != "" {
		policy.DefaultDecision = agent.ApprovalDecision(cfg.Approval.DefaultDecision)
	}
	if cfg.Approval.AskFallback != nil {
		policy.AskFallback = *cfg.Approval.AskFallback
	}
	if cfg.Approval.RequestTTL > 0 {
		policy.RequestTTL = cfg.Approval.RequestTTL
	}
	return agent.NewApprovalChecker(policy)
}

func buildResultGuard(cfg config.ToolResultGuardConfig) agent.ToolResultGuard {
	return agent.ToolResultGuard{
		Enabled:         cfg.Enabled,
		MaxChars:        cfg.MaxChars,
		Denylist:        cfg.Denylist,
		RedactPatterns:  cfg.RedactPatterns,
		RedactionText:   cfg.RedactionText,
		TruncateSuffix:  cfg.TruncateSuffix,
		SanitizeSecrets: cfg.SanitizeSecrets,
	}
}

// newTimelineSink bridges agent lifecycle events into the in-memory turn
// timeline, so a finished turn can be inspected via /debug/timeline.
func newTimelineSink(recorder *observability.EventRecorder) agent.EventSink {
	return agent.NewCallbackSink(func(ctx context.Context, e models.AgentEvent) {
		if e.RunID != "" {
			ctx = observability.AddRunID(ctx, e.RunID)
		}
		switch e.Type {
		case models.AgentEventRunStarted:
			_ = recorder.Record(ctx, observability.EventTypeRunStart, "run_start", nil)
		case models.AgentEventRunFinished:
			_ = recorder.Record(ctx, observability.EventTypeRunEnd, "run_end", nil)
		case models.AgentEventRunError, models.AgentEventRunCancelled, models.AgentEventRunTimedOut:
			msg := string(e.Type)
			if e.Error != nil && e.Error.Message != "" {
				msg = e.Error.Message
			}
			_ = recorder.RecordError(ctx, observability.EventTypeRunError, "run_error", errors.New(msg), nil)
		case models.AgentEventIterStarted:
			_ = recorder.Record(ctx, observability.EventTypeStepStart, fmt.Sprintf("step-%d", e.IterIndex), nil)
		case models.AgentEventIterFinished:
			_ = recorder.Record(ctx, observability.EventTypeStepEnd, fmt.Sprintf("step-%d", e.IterIndex), nil)
		case models.AgentEventModelCompleted:
			name := "completion"
			if e.Stream != nil && e.Stream.Model != "" {
				name = e.Stream.Model
			}
			_ = recorder.Record(ctx, observability.EventTypeLLMResponse, name, nil)
		case models.AgentEventToolStarted:
			if e.Tool != nil {
				ctx = observability.AddToolCallID(ctx, e.Tool.CallID)
				_ = recorder.RecordToolStart(ctx, e.Tool.Name, nil)
			}
		case models.AgentEventToolFinished:
			if e.Tool != nil {
				ctx = observability.AddToolCallID(ctx, e.Tool.CallID)
				var toolErr error
				if !e.Tool.Success {
					toolErr = errors.New("tool reported failure")
				}
				_ = recorder.RecordToolEnd(ctx, e.Tool.Name, e.Tool.Elapsed, nil, toolErr)
			}
		}
	})
}

// timelineHandler serves a turn's (or project's) recorded timeline as text.
func timelineHandler(store *observability.MemoryEventStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			events []*observability.Event
			err    error
		)
		switch {
		case r.URL.Query().Get("run_id") != "":
			events, err = store.GetByRunID(r.URL.Query().Get("run_id"))
		case r.URL.Query().Get("project_id") != "":
			events, err = store.GetByProjectID(r.URL.Query().Get("project_id"))
		default:
			http.Error(w, "run_id or project_id query parameter required", http.StatusBadRequest)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, observability.FormatTimeline(observability.BuildTimeline(events)))
	}
}

// buildEventSink opens the configured agent-event trace file, returning a
// nil sink (and a no-op closer) when tracing to file is disabled.
func buildEventSink(cfg *config.Config) (agent.EventSink, func(), error) {
	if cfg.Observability.TraceFile == "" {
		return nil, func() {}, nil
	}
	plugin, err := agent.NewTracePluginFile(cfg.Observability.TraceFile, uuid.NewString(),
		agent.WithAppVersion(version),
		agent.WithEnvironment(cfg.Observability.Tracing.Environment),
		agent.WithRedactor(agent.DefaultRedactor))
	if err != nil {
		return nil, nil, err
	}
	return agent.NewCallbackSink(plugin.OnEvent), func() { _ = plugin.Close() }, nil
}

// buildVMProvider constructs the Sandbox Manager's VMProvider from the
// configured backend: "fake" for local development and tests, or
// "firecracker" for real microVM isolation (Linux only; see
// internal/sandboxmgr/firecracker).
func buildVMProvider(cfg config.SandboxConfig) (sandboxmgr.VMProvider, error) {
	switch cfg.Backend {
	case "fake", "":
		return sandboxmgr.NewFakeProvider(), nil
	case "firecracker":
		return firecracker.NewProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported sandbox.backend %q", cfg.Backend)
	}
}
