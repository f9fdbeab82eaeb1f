package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/rendis/influencer/internal/scheduler"
)

// Config holds all influencer configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath            string          `json:"db_path"`
	LogLevel          string          `json:"log_level"`
	LogFormat         string          `json:"log_format"`
	Model             string          `json:"model"`
	ModelBaseURL      string          `json:"model_base_url,omitempty"`
	ModelAPIKey       string          `json:"-"` // env only
	Offline           bool            `json:"offline"`
	ResourceID        string          `json:"resource_id"`
	MaxLoopIterations int             `json:"max_loop_iterations"`
	MemoryWindow      int             `json:"memory_window"`
	AgentMaxSteps     int             `json:"agent_max_steps"`
	PoolSize          int             `json:"pool_size"`
	Schedules         []scheduler.Job `json:"schedules,omitempty"`
}

func defaultConfig() Config {
	return Config{
		DBPath:            filepath.Join(influencerDir(), "influencer.db"),
		LogLevel:          "info",
		LogFormat:         "text",
		Model:             "gpt-5-mini",
		ResourceID:        "user-123",
		MaxLoopIterations: 10,
		MemoryWindow:      40,
		AgentMaxSteps:     8,
		PoolSize:          4,
	}
}

func influencerDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".influencer"
	}
	return filepath.Join(home, ".influencer")
}

func settingsPath() string {
	return filepath.Join(influencerDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	applyEnv(&cfg, os.Getenv)
	return cfg
}

func applyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv("INFLUENCER_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := getenv("INFLUENCER_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("INFLUENCER_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := getenv("INFLUENCER_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := getenv("INFLUENCER_MODEL_BASE_URL"); v != "" {
		cfg.ModelBaseURL = v
	}
	if v := getenv("OPENAI_API_KEY"); v != "" {
		cfg.ModelAPIKey = v
	}
	if v := getenv("INFLUENCER_MODEL_API_KEY"); v != "" {
		cfg.ModelAPIKey = v
	}
	if v := getenv("INFLUENCER_OFFLINE"); v != "" {
		cfg.Offline = v == "true" || v == "1"
	}
	if v := getenv("INFLUENCER_RESOURCE_ID"); v != "" {
		cfg.ResourceID = v
	}
	if v := getenv("INFLUENCER_MAX_LOOP_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxLoopIterations = n
		}
	}
	if v := getenv("INFLUENCER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
}

// useOffline reports whether the rule-based model should stand in for the
// chat-completions endpoint: explicitly, or because no key is configured.
func (c Config) useOffline() bool {
	return c.Offline || (c.ModelAPIKey == "" && c.ModelBaseURL == "")
}

// scheduleFile is the YAML layout accepted by `influencer schedule --file`.
type scheduleFile struct {
	Schedules []scheduler.Job `yaml:"schedules"`
}

// loadSchedules reads scheduled jobs from a YAML file.
func loadSchedules(path string) ([]scheduler.Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("schedule file %s does not exist", path)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var parsed scheduleFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return parsed.Schedules, nil
}
