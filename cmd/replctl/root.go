package main

import (
	"github.com/replforge/backend/internal/config"
	"github.com/replforge/backend/internal/infrastructure/logger"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "replctl",
	Short: "Provision two-node MongoDB replica sets over SSH",
	Long: `replctl drives the same installer as the HTTP server, from a terminal.

Available subcommands:
  install - Install and join a primary and a secondary
  plan    - Print the remote directives without connecting
  catalog - List supported OS labels and MongoDB versions`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "path to the config file")
	rootCmd.AddCommand(installCmd, planCmd, catalogCmd)
}

func loadConfig() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}
