package main

import (
	"fmt"
	"os"

	"finsight/internal/agent"
	"finsight/internal/config"
	"finsight/internal/embedding"
	"finsight/internal/llm"
	"finsight/internal/logging"
	"finsight/internal/resilience"
	"finsight/internal/retrieval"
	"finsight/internal/store"
	"finsight/internal/tools"
	"finsight/internal/types"
)

// app holds the wired finsight stack shared by the subcommands.
type app struct {
	cfg          *config.Config
	store        *store.Store
	embedder     types.Embedder
	llm          types.LLMClient
	exec         *resilience.Executor
	retriever    *retrieval.Engine
	registry     *tools.Registry
	orchestrator *agent.Orchestrator
}

// buildApp loads configuration and wires every layer bottom-up: store,
// embedder, planner client, resilience executor, retrieval engine, tool
// registry, and the agent loop on top.
func buildApp() (*app, error) {
	ws := workspace
	if ws == "" {
		var err error
		ws, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve workspace: %w", err)
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if err := logging.Initialize(ws, cfg.Logging.DebugMode, cfg.Logging.Level, cfg.Logging.JSONFormat, cfg.Logging.Categories); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	st, err := store.New(cfg.Store.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	embedder, err := embedding.NewEngine(cfg.Embedding)
	if err != nil {
		st.Close()
		return nil, err
	}

	planner, err := llm.New(cfg.LLM)
	if err != nil {
		st.Close()
		return nil, err
	}

	exec := resilience.New(resilienceConfig(cfg.Resilience))
	retriever := retrieval.NewEngine(embedder, st, planner, exec, cfg.Retrieval)

	registry := tools.NewRegistry()
	tools.RegisterFinancial(registry, st)
	tools.RegisterTranscripts(registry, retriever)

	return &app{
		cfg:          cfg,
		store:        st,
		embedder:     embedder,
		llm:          planner,
		exec:         exec,
		retriever:    retriever,
		registry:     registry,
		orchestrator: agent.New(planner, registry, exec, cfg.Limits),
	}, nil
}

// Close releases the app's resources.
func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
}

// resilienceConfig converts the YAML-facing resilience section into the
// executor's parsed form.
func resilienceConfig(c config.ResilienceConfig) resilience.Config {
	return resilience.Config{
		CallTimeout:      c.GetCallTimeout(),
		MaxAttempts:      c.MaxAttempts,
		BaseDelay:        c.GetBaseDelay(),
		MaxDelay:         c.GetMaxDelay(),
		Jitter:           c.Jitter,
		FailureThreshold: c.FailureThreshold,
		CooldownWindow:   c.GetCooldownWindow(),
	}
}
