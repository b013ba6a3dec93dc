package root

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tatianab/chronicle/internal/config"
	"github.com/tatianab/chronicle/internal/migrate"
	"github.com/tatianab/chronicle/internal/store"
)

// env is what every command needs: config, the slot store and a logger.
type env struct {
	cfg     *config.Config
	store   store.Store
	logger  *slog.Logger
	cleanup func()
}

// openEnv loads config and opens the store. Logs go to logOut at warn level
// unless verbose; nil logOut means the log file in the save directory.
func openEnv(logOut io.Writer, verbose bool) (*env, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	closers := []func(){}
	if logOut == nil {
		if err := os.MkdirAll(cfg.SaveDir, 0o755); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(filepath.Join(cfg.SaveDir, "chronicle.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		closers = append(closers, func() { _ = f.Close() })
		logOut = f
		verbose = true
	}
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level}))

	st, err := cfg.OpenStore()
	if err != nil {
		for _, c := range closers {
			c()
		}
		return nil, err
	}
	if c, ok := st.(io.Closer); ok {
		closers = append(closers, func() { _ = c.Close() })
	}

	return &env{
		cfg:    cfg,
		store:  st,
		logger: logger,
		cleanup: func() {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		},
	}, nil
}

func (e *env) migrator() *migrate.Migrator {
	return migrate.New(nil, e.logger)
}
