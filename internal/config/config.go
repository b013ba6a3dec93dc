package config

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/caarlos0/env/v11"

	"github.com/tatianab/chronicle/internal/delta"
	"github.com/tatianab/chronicle/internal/engine"
	"github.com/tatianab/chronicle/internal/store"
)

// Config holds the application configuration.
type Config struct {
	GeminiAPIKey  string     `env:"GEMINI_API_KEY"`
	Model         string     `env:"CHRONICLE_MODEL" envDefault:"gemini-2.5-flash"`
	SaveDir       string     `env:"CHRONICLE_SAVE_DIR" envDefault:".saves"`
	Store         store.Kind `env:"CHRONICLE_STORE" envDefault:"file"`
	SQLitePath    string     `env:"CHRONICLE_SQLITE_PATH"`
	LimitsFile    string     `env:"CHRONICLE_LIMITS_FILE"`
	HistoryWindow int        `env:"CHRONICLE_HISTORY_WINDOW" envDefault:"8"`
}

// LoadConfig loads the configuration from environment variables.
func LoadConfig() (*Config, error) {
	return parse(env.Options{})
}

func parse(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values env parsing cannot.
func (c *Config) Validate() error {
	switch c.Store {
	case store.KindFile, store.KindSQLite, store.KindMemory:
	default:
		return fmt.Errorf("CHRONICLE_STORE must be file, sqlite or memory, got %q", c.Store)
	}
	if c.HistoryWindow < 1 {
		return fmt.Errorf("CHRONICLE_HISTORY_WINDOW must be at least 1, got %d", c.HistoryWindow)
	}
	if c.Model == "" {
		c.Model = engine.DefaultModel
	}
	return nil
}

// RequireAPIKey fails when no Gemini key is set. Only commands that call the
// generator need one.
func (c *Config) RequireAPIKey() error {
	if c.GeminiAPIKey == "" {
		return errors.New("GEMINI_API_KEY environment variable is not set")
	}
	return nil
}

// DBPath is where the sqlite store lives, inside SaveDir unless set.
func (c *Config) DBPath() string {
	if c.SQLitePath != "" {
		return c.SQLitePath
	}
	return filepath.Join(c.SaveDir, "chronicle.db")
}

// Limits returns the extraction limits, read from LimitsFile when set.
func (c *Config) Limits() (delta.Limits, error) {
	if c.LimitsFile == "" {
		return delta.DefaultLimits(), nil
	}
	return delta.LoadLimits(c.LimitsFile)
}

// OpenStore opens the configured store.
func (c *Config) OpenStore() (store.Store, error) {
	return store.Open(c.Store, c.SaveDir, c.DBPath())
}
