package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// runInit writes settings.json from defaults and flags.
func runInit(_ context.Context, e *env, args []string) error {
	def := defaultConfig()
	fs := newFlagSet(e, "init")
	dbPath := fs.String("db-path", def.DBPath, "database path")
	logLevel := fs.String("log-level", def.LogLevel, "log level: debug, info, warn, error")
	logFormat := fs.String("log-format", def.LogFormat, "log format: text or json")
	model := fs.String("model", def.Model, "chat completions model")
	baseURL := fs.String("model-base-url", "", "chat completions endpoint (default: OpenAI)")
	offline := fs.Bool("offline", false, "always use the offline model")
	resourceID := fs.String("resource-id", def.ResourceID, "owner of the conversation memory")
	maxLoop := fs.Int("max-loop-iterations", def.MaxLoopIterations, "review rounds per checkpoint (0 = unbounded)")
	poolSize := fs.Int("pool-size", def.PoolSize, "concurrent scheduled runs")
	force := fs.Bool("force", false, "overwrite an existing settings.json")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path := settingsPath()
	if _, err := os.Stat(path); err == nil && !*force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := os.MkdirAll(influencerDir(), 0o700); err != nil {
		return fmt.Errorf("cannot create %s: %w", influencerDir(), err)
	}

	cfg := def
	cfg.DBPath = *dbPath
	cfg.LogLevel = *logLevel
	cfg.LogFormat = *logFormat
	cfg.Model = *model
	cfg.ModelBaseURL = *baseURL
	cfg.Offline = *offline
	cfg.ResourceID = *resourceID
	cfg.MaxLoopIterations = *maxLoop
	cfg.PoolSize = *poolSize

	// API keys stay in the environment.
	data, _ := json.MarshalIndent(cfg, "", "  ")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	fmt.Fprintf(e.stdout, "Config written to %s\n", path)
	return nil
}
