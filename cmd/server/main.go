package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/clipforge/server/internal/shared/config"
)

// version is set at build time via -ldflags.
var version = "dev"

var configFile string

var rootCmd = &cobra.Command{
	Use:     "clipforge",
	Short:   "Asynchronous media generation server",
	Version: version,
	RunE:    runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default ./config.yaml, ./configs/config.yaml)")
	rootCmd.AddCommand(serveCmd, probeCmd, hashPasswordCmd)
}

func loadConfig() (*config.Loader, *config.Config, error) {
	loader := config.NewLoader(configFile)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	return loader, cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
