// Package cli holds the cobra commands behind the scanhub command line tools.
package cli

import (
	"fmt"

	"github.com/cti/scanhub/internal/infrastructure/config"
	"github.com/cti/scanhub/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// environment is what every command needs before doing real work
type environment struct {
	cfg *config.Config
	log *zap.Logger
}

// loadEnvironment reads .env, the config file and SCANHUB_ variables, then
// builds a console logger at logLevel (the configured level when empty).
func loadEnvironment(logLevel string) (*environment, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, fmt.Errorf("read .env: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	log, err := newConsoleLogger(logLevel, cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	return &environment{cfg: cfg, log: log}, nil
}

func newConsoleLogger(level, fallback string) (*zap.Logger, error) {
	if level == "" {
		level = fallback
	}
	log, err := logger.New(&logger.Config{
		Level:      level,
		Format:     "console",
		Output:     "stderr",
		TimeFormat: "2006-01-02 15:04:05",
	})
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	return log, nil
}

func (e *environment) close() {
	_ = logger.Sync(e.log)
}
