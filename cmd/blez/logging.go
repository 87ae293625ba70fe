package main

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blez/pkg/config"
)

// configureLogger creates a logger for a command run.
// --log-level takes precedence over --verbose. Without either, the level from
// an explicit --config file is used; otherwise the CLI stays silent.
func configureLogger(cmd *cobra.Command, cfg *config.Config) (*logrus.Logger, error) {
	// Default to panic level (essentially silent for normal operations)
	logLevel := logrus.PanicLevel
	if configPath != "" {
		lvl, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, err
		}
		logLevel = lvl
	}

	logLevelStr, _ := cmd.Flags().GetString("log-level")
	if logLevelStr != "" {
		switch logLevelStr {
		case "debug":
			logLevel = logrus.DebugLevel
		case "info":
			logLevel = logrus.InfoLevel
		case "warn":
			logLevel = logrus.WarnLevel
		case "error":
			logLevel = logrus.ErrorLevel
		default:
			return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", logLevelStr)
		}
	} else if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		logLevel = logrus.DebugLevel
	}

	logger := cfg.NewLogger()
	logger.SetLevel(logLevel)
	if cfg.LogFormat != "json" {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}
	return logger, nil
}
