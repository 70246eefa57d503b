// Package ecoverify is the public API for embedding the EcoVerify
// orchestration server.
//
// Consumers construct and run the full stack without forking it:
//
//	app, err := ecoverify.New(
//	    ecoverify.WithVersion(version),
//	    ecoverify.WithLogger(logger),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: ecoverify (root)
// imports internal/*, but internal/* never imports ecoverify (root).
package ecoverify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"

	"github.com/ecoverify-ai/ecoverify/internal/agents"
	"github.com/ecoverify-ai/ecoverify/internal/auth"
	"github.com/ecoverify-ai/ecoverify/internal/bms"
	"github.com/ecoverify-ai/ecoverify/internal/config"
	"github.com/ecoverify-ai/ecoverify/internal/discovery"
	"github.com/ecoverify-ai/ecoverify/internal/fhir"
	"github.com/ecoverify-ai/ecoverify/internal/graph"
	"github.com/ecoverify-ai/ecoverify/internal/llm"
	"github.com/ecoverify-ai/ecoverify/internal/mcptools"
	"github.com/ecoverify-ai/ecoverify/internal/nhi"
	"github.com/ecoverify-ai/ecoverify/internal/regulatory"
	"github.com/ecoverify-ai/ecoverify/internal/server"
	"github.com/ecoverify-ai/ecoverify/internal/settlement"
	"github.com/ecoverify-ai/ecoverify/internal/telemetry"
	"github.com/ecoverify-ai/ecoverify/internal/tickets"
)

// App is the EcoVerify server lifecycle. Construct with New(), run with
// Run(). App has no public fields; use New() options to configure it.
type App struct {
	cfg          config.Config
	srv          *server.Server
	runner       *graph.Runner
	cp           graph.Checkpointer
	ownsCP       bool
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the EcoVerify server: configuration, identity keys,
// checkpoint store, adapters, the agent pipeline, and the HTTP façade.
// It does NOT start any goroutines or accept HTTP connections; call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.buildingID != "" {
		cfg.BuildingID = o.buildingID
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("ecoverify starting", "version", version, "port", cfg.Port,
		"checkpoint_backend", cfg.CheckpointBackend)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	fail := func(err error) (*App, error) {
		_ = otelShutdown(context.Background())
		return nil, err
	}

	// Agent identity keys.
	keys, err := nhi.NewKeyStore(cfg.KeysDir, logger)
	if err != nil {
		return fail(fmt.Errorf("nhi: %w", err))
	}
	if err := keys.EnsureAll(nhi.AgentIDs); err != nil {
		return fail(err)
	}

	// Checkpoint store.
	cp := o.checkpointer
	ownsCP := false
	if cp == nil {
		cp, err = newCheckpointer(cfg)
		if err != nil {
			return fail(err)
		}
		ownsCP = true
	}

	// Adapters.
	registry, err := regulatory.NewRegistry()
	if err != nil {
		return fail(fmt.Errorf("regulatory: %w", err))
	}
	sim := bms.NewSimulator()
	tracker := tickets.NewTracker()
	settlements := settlement.NewEngine(cfg.SettlementNetwork, logger)
	fhirClient := fhir.NewClient(cfg.FHIRBaseURL, logger)
	llmClient := llm.NewClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, logger)
	if llmClient.Enabled() {
		logger.Info("llm enrichment: enabled", "model", cfg.LLMModel)
	} else {
		logger.Info("llm enrichment: disabled")
	}

	// Pipeline.
	steps := agents.NewSteps(agents.Config{
		Telemetry:   sim,
		Registry:    registry,
		Tickets:     tracker,
		Settlements: settlements,
		FHIR:        fhirClient,
		Keys:        keys,
		LLM:         llmClient,
		Logger:      logger,
		BuildingID:  cfg.BuildingID,
	})
	verifier := func(trace nhi.DecisionTrace) bool {
		pub, err := keys.Public(trace.AgentID)
		if err != nil {
			return false
		}
		return nhi.Verify(trace, pub)
	}
	runner, err := graph.NewRunner(steps.Nodes(), "detector",
		graph.WithCheckpointer(cp),
		graph.WithLogger(logger),
		graph.WithRecursionLimit(cfg.RecursionLimit),
		graph.WithStepTimeout(cfg.StepTimeout),
		graph.WithTraceVerifier(verifier),
	)
	if err != nil {
		if ownsCP {
			_ = cp.Close()
		}
		return fail(fmt.Errorf("graph: %w", err))
	}

	// Auth (the orchestrator key is provisioned even when auth is off, so
	// discovery can publish it).
	authMgr, err := auth.NewManager(keys, cfg.TokenExpiration, cfg.AuthEnabled)
	if err != nil {
		if ownsCP {
			_ = cp.Close()
		}
		return fail(err)
	}
	if authMgr.Enabled() {
		logger.Info("auth: bearer tokens required on mutating endpoints")
	} else {
		logger.Info("auth: disabled")
	}

	mcpSrv := mcptools.New(sim, registry, tracker, settlements, logger, version)

	srv := server.New(server.ServerConfig{
		Runner:              runner,
		Telemetry:           sim,
		Settlements:         settlements,
		Discovery:           discovery.NewService(keys, cfg.BaseURL, logger),
		Logger:              logger,
		AuthMgr:             authMgr,
		MCPServer:           mcpSrv.MCPServer(),
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		BuildingID:          cfg.BuildingID,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	return &App{
		cfg:          cfg,
		srv:          srv,
		runner:       runner,
		cp:           cp,
		ownsCP:       ownsCP,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

func newCheckpointer(cfg config.Config) (graph.Checkpointer, error) {
	switch cfg.CheckpointBackend {
	case "memory":
		return graph.NewMemoryCheckpointer(), nil
	case "sqlite":
		cp, err := graph.NewSQLiteCheckpointer(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite checkpointer: %w", err)
		}
		return cp, nil
	case "postgres":
		cp, err := graph.NewPostgresCheckpointer(context.Background(), cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres checkpointer: %w", err)
		}
		return cp, nil
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.CheckpointBackend)
	}
}

// Runner exposes the orchestration runtime for embedding consumers.
func (a *App) Runner() *graph.Runner {
	return a.runner
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// server fails, then shuts everything down in reverse order.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- a.srv.Start() }()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			a.close()
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http shutdown failed", "error", err)
	}

	a.close()
	a.logger.Info("ecoverify stopped")
	return nil
}

func (a *App) close() {
	if a.ownsCP {
		if err := a.cp.Close(); err != nil {
			a.logger.Error("checkpointer close failed", "error", err)
		}
	}
	if err := a.otelShutdown(context.Background()); err != nil {
		a.logger.Error("telemetry shutdown failed", "error", err)
	}
}
