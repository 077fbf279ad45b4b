// Package cmd holds the command-line entry points of the chatbot backend.
package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/AnastRaja/chatbot-sub000/config"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "chatbot",
	Short:         "Multi-tenant website chat widget backend",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML/JSON/TOML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override server.log_level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd, migrateCmd, ingestCmd)
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Error("chatbot: command failed", "err", err)
		os.Exit(1)
	}
}

// loadConfig reads configuration and applies the log level to the default logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	level := cfg.Server.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	if level != "" {
		parsed, err := log.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		log.SetLevel(parsed)
	}
	log.SetReportTimestamp(true)
	return cfg, nil
}
