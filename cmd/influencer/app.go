package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rendis/influencer/internal/agent"
	"github.com/rendis/influencer/internal/engine"
	"github.com/rendis/influencer/internal/influencer"
	"github.com/rendis/influencer/internal/logging"
	"github.com/rendis/influencer/internal/store"
	"github.com/rendis/influencer/internal/streaming"
	"github.com/rendis/influencer/internal/tools"
	"github.com/rendis/influencer/internal/validation"
	"github.com/rendis/influencer/internal/xapi/mock"
)

// app is the wired process: one store, one agent, one executor.
type app struct {
	cfg      Config
	logger   *slog.Logger
	store    *store.LibSQLStore
	hub      *streaming.MemoryHub
	registry *tools.Registry
	agent    *agent.Agent
	executor *engine.Executor
	workflow *engine.Workflow
}

// newApp opens the database and wires every component. Logs go to logOut;
// stdout stays free for command output and the MCP stdio transport.
func newApp(ctx context.Context, cfg Config, logOut io.Writer) (*app, error) {
	logger := logging.New(logOut, cfg.LogLevel, cfg.LogFormat)

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}

	hub := streaming.NewMemoryHub()
	validator := validation.NewJSONSchemaValidator()
	registry := tools.NewRegistry(validator)
	client := mock.New(mock.WithLogger(logger.With("component", "xapi")))
	if err := tools.RegisterBuiltins(registry, client, logger); err != nil {
		_ = st.Close()
		return nil, err
	}

	ag := agent.New(newModel(cfg, logger), registry, st, agent.Config{
		Model:        cfg.Model,
		MaxSteps:     cfg.AgentMaxSteps,
		MemoryWindow: cfg.MemoryWindow,
		Hub:          hub,
		Logger:       logger.With("component", "agent"),
	})

	exec := engine.NewExecutor(st, store.NewEventLog(st), engine.ExecutorConfig{
		MaxLoopIterations: cfg.MaxLoopIterations,
		Validator:         validator,
		Hub:               hub,
		Logger:            logger.With("component", "engine"),
	})
	wf, err := influencer.New(ag)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	if err := exec.Register(wf); err != nil {
		_ = st.Close()
		return nil, err
	}

	logger.Debug("influencer wired", "db", cfg.DBPath, "workflow", wf.Describe(), "offline", cfg.useOffline())
	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		hub:      hub,
		registry: registry,
		agent:    ag,
		executor: exec,
		workflow: wf,
	}, nil
}

// newModel picks the chat-completions client, or the rule-based model when
// running offline.
func newModel(cfg Config, logger *slog.Logger) agent.Model {
	if cfg.useOffline() {
		logger.Info("no model endpoint configured, using the offline model")
		return agent.OfflineModel{}
	}
	opts := []agent.ChatOption{
		agent.WithModel(cfg.Model),
		agent.WithAPIKey(cfg.ModelAPIKey),
		agent.WithChatLogger(logger.With("component", "model")),
	}
	if cfg.ModelBaseURL != "" {
		opts = append(opts, agent.WithBaseURL(cfg.ModelBaseURL))
	}
	return agent.NewChatModel(opts...)
}

func (a *app) Close() error {
	return a.store.Close()
}
