package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/quarry-ai/quarry/internal/checkpoint"
	"github.com/quarry-ai/quarry/internal/config"
	"github.com/quarry-ai/quarry/internal/events"
	"github.com/quarry-ai/quarry/internal/expansion"
	"github.com/quarry-ai/quarry/internal/graph"
	"github.com/quarry-ai/quarry/internal/health"
	"github.com/quarry-ai/quarry/internal/history"
	"github.com/quarry-ai/quarry/internal/planner"
	"github.com/quarry-ai/quarry/internal/research"
	"github.com/quarry-ai/quarry/internal/resilience"
	"github.com/quarry-ai/quarry/internal/source"
	"github.com/quarry-ai/quarry/internal/source/mcpsource"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	resumeID := flag.String("resume", "", "resume a checkpointed run by its id")
	flag.Parse()

	if flag.NArg() < 1 && *resumeID == "" {
		fmt.Fprintln(os.Stderr, "usage: quarry [-config file] <query>\n       quarry [-config file] -resume <run-id>")
		os.Exit(2)
	}
	query := strings.Join(flag.Args(), " ")

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	ctx := context.Background()

	clients, cleanups, err := buildSources(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to build sources", zap.Error(err))
	}
	defer func() {
		for _, c := range cleanups {
			_ = c()
		}
	}()

	registry := resilience.NewRegistry(clients,
		resilience.RetryPolicy{
			MaxAttempts: cfg.Resilience.MaxAttempts,
			BackoffBase: cfg.Resilience.BackoffBase,
			BackoffMax:  cfg.Resilience.BackoffMax,
		},
		resilience.BreakerConfig{
			FailureThreshold: uint32(cfg.Resilience.BreakerFailureThreshold),
			Cooldown:         cfg.Resilience.BreakerCooldown,
			Interval:         2 * cfg.Resilience.BreakerCooldown,
		},
		sourceLimits(cfg), logger)

	expander := expansion.New(nil, expansion.Config{
		RelevanceThreshold: cfg.Orchestrator.RelevanceThreshold,
		MaxWidth:           cfg.Orchestrator.MaxFanoutPerCycle,
	}, logger)

	var audit *history.Store
	if cfg.Storage.HistoryPath != "" {
		audit, err = history.Open(cfg.Storage.HistoryPath, logger)
		if err != nil {
			logger.Warn("History disabled", zap.Error(err))
			audit = nil
		} else {
			defer audit.Close()
		}
	}

	if cfg.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			health.NewHandler(registry, audit, logger).Register(mux)
			addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Warn("Status server stopped", zap.Error(err))
			}
		}()
	}

	llm := planner.NewLLMClient(cfg.LLM.ServiceURL, cfg.LLM.Timeout, logger)
	fallback := planner.NewRegexPlanner(nil, research.NormalizeIdentifier, registry.Sources(), logger)

	var (
		ckpt      graph.Checkpointer
		ckptStore *checkpoint.Store
	)
	if cfg.Storage.RedisAddr != "" {
		store, err := checkpoint.NewStore(cfg.Storage.RedisAddr, cfg.Storage.RedisPassword,
			cfg.Storage.CheckpointTTL, logger)
		if err != nil {
			logger.Warn("Checkpointing disabled", zap.Error(err))
		} else {
			defer store.Close()
			ckpt = store
			ckptStore = store
		}
	}

	engine, err := graph.New(llm, fallback, llm, registry, expander, events.NewManager(0), ckpt,
		graph.Config{
			MaxCycles:        cfg.Orchestrator.MaxCycles,
			PerRoundDeadline: cfg.Orchestrator.PerRoundDeadline,
			OverallDeadline:  cfg.Orchestrator.OverallDeadline,
			MaxConcurrency:   cfg.Orchestrator.MaxConcurrency,
		}, logger)
	if err != nil {
		logger.Fatal("Failed to build engine", zap.Error(err))
	}

	var (
		result graph.Result
		runErr error
	)
	if *resumeID != "" {
		if ckptStore == nil {
			logger.Fatal("Resume requires storage.redis_addr and a reachable Redis")
		}
		snapshot, err := ckptStore.Load(ctx, *resumeID)
		if err != nil {
			logger.Fatal("Failed to load checkpoint", zap.String("run_id", *resumeID), zap.Error(err))
		}
		result, runErr = engine.Resume(ctx, snapshot)
	} else {
		result, runErr = engine.Run(ctx, query)
	}

	if ckptStore != nil && result.Status == research.StatusDone {
		if err := ckptStore.Delete(ctx, result.State.RunID); err != nil {
			logger.Warn("Failed to delete checkpoint", zap.Error(err))
		}
	}

	if audit != nil {
		if err := audit.RecordRun(ctx, result.State, result.Report); err != nil {
			logger.Warn("Failed to archive run", zap.Error(err))
		}
	}

	fmt.Println(result.Report)
	if result.Partial {
		fmt.Fprintln(os.Stderr, "note: results are partial; some sources did not respond in time")
	}
	if result.Status != research.StatusDone {
		logger.Error("Run failed", zap.Error(runErr))
		os.Exit(1)
	}
}

// buildSources connects the configured MCP-backed sources. A source
// without an endpoint is skipped with a warning so a partially
// configured environment still runs.
func buildSources(ctx context.Context, cfg *config.Config, logger *zap.Logger) ([]source.Client, []func() error, error) {
	toolMaps := mcpsource.DefaultToolMaps()

	var clients []source.Client
	var cleanups []func() error
	for name, sc := range cfg.Sources {
		if sc.Endpoint == "" {
			logger.Warn("Source has no endpoint, skipping", zap.String("source", name))
			continue
		}
		if sc.Transport != "" && sc.Transport != "command" {
			return nil, cleanups, fmt.Errorf("source %s: unsupported transport %q", name, sc.Transport)
		}
		parts := strings.Fields(sc.Endpoint)
		transport, cleanup, err := mcpsource.NewCommandTransport(parts[0], parts[1:]...)
		if err != nil {
			return nil, cleanups, fmt.Errorf("source %s: %w", name, err)
		}
		cleanups = append(cleanups, cleanup)

		client, err := mcpsource.New(ctx, name, transport, toolMaps[name], logger)
		if err != nil {
			return nil, cleanups, fmt.Errorf("source %s: %w", name, err)
		}
		cleanups = append(cleanups, client.Close)
		clients = append(clients, client)
	}
	if len(clients) == 0 {
		return nil, cleanups, fmt.Errorf("no sources configured")
	}
	return clients, cleanups, nil
}

func sourceLimits(cfg *config.Config) map[string]resilience.SourceLimits {
	limits := make(map[string]resilience.SourceLimits, len(cfg.Sources))
	for name, sc := range cfg.Sources {
		limits[name] = resilience.SourceLimits{RPS: sc.RateRPS, Burst: sc.Burst}
	}
	return limits
}
