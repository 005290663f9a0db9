// Package main is the entry point for the semfind connector CLI.
package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/semfind/semfind/cmd/semfind/app"
	"github.com/semfind/semfind/internal/config"
	"github.com/semfind/semfind/internal/logging"
)

// getLogLevel parses the SEMFIND_LOG_LEVEL environment variable and returns
// the corresponding slog.Level. Falls back to LOG_LEVEL.
// Defaults to slog.LevelInfo if neither is set or if the value is invalid.
func getLogLevel() slog.Level {
	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	levelStr := v.GetString("LOG_LEVEL")
	if levelStr == "" {
		levelStr = os.Getenv("LOG_LEVEL")
	}

	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		slog.Warn("Invalid LOG_LEVEL, using INFO", "value", levelStr)
		return slog.LevelInfo
	}
}

// getLogFormat parses SEMFIND_LOG_FORMAT, defaulting to text output
func getLogFormat() logging.Format {
	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if strings.ToLower(v.GetString("LOG_FORMAT")) == "json" {
		return logging.FormatJSON
	}
	return logging.FormatText
}

func main() {
	// Use stderr to keep stdout clean for commands that output data
	// (e.g., version --format json).
	handler := logging.NewHandler(
		logging.WithLevel(getLogLevel()),
		logging.WithFormat(getLogFormat()),
	)
	slog.SetDefault(slog.New(handler))

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
