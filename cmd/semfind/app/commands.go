// Package app provides the entry point for the semfind connector CLI.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/semfind/semfind/internal/config"
	"github.com/semfind/semfind/internal/controller"
	"github.com/semfind/semfind/internal/versions"
)

var rootCmd = &cobra.Command{
	Use:               "semfind",
	DisableAutoGenTag: true,
	Short:             "Semantic code search connector",
	Long: `semfind connects repositories to a semantic-index backend: it authorizes
against the code host, clones repositories, dispatches indexing jobs and keeps
indexed repositories in sync with their branch heads.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			slog.Error("Error displaying help", "error", err)
		}
	},
}

// NewRootCmd creates the root command for the connector CLI
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().String("config", "", "Path to configuration file (YAML format)")
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		slog.Error("Error binding config flag", "error", err)
	}

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(reposCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(checkoutCmd)
	rootCmd.AddCommand(branchesCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(versionCmd)

	return rootCmd
}

// newController assembles the subsystem from the configured settings
func newController(ctx context.Context) (*controller.Controller, error) {
	var opts []config.Option
	if path := viper.GetString("config"); path != "" {
		opts = append(opts, config.WithConfigPath(path))
	}

	cfg, err := config.LoadConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return controller.New(ctx, cfg)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		info := versions.GetVersionInfo()
		format, err := cmd.Flags().GetString("format")
		if err != nil {
			slog.Error("Error retrieving format flag", "error", err)
			return
		}

		if format == "json" {
			output, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				slog.Error("Error formatting version info as JSON", "error", err)
				return
			}
			fmt.Println(string(output))
		} else {
			slog.Info("semfind version",
				"version", info.Version,
				"commit", info.Commit,
				"built", info.BuildDate,
				"go", info.GoVersion,
				"platform", info.Platform)
		}
	},
}

func init() {
	versionCmd.Flags().String("format", "", "Output format (json)")
}
