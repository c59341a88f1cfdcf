package main

import (
	"log/slog"
	"os"

	"github.com/socketd-go/socketd/internal/config"
)

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	logLevel   string
}

// load reads the config file and applies the global flag overrides.
func (o *globalOptions) load() (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadOrDefault(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
	}
	logger := cfg.Log.Logger(os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}
