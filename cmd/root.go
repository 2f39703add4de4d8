package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/refcanvas/refcanvas-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "refcanvas",
	Short: "Citation enrichment pipeline",
	Long:  "Maintains bibliography references through a context → relevance → urls dependency chain: generates relevance statements, discovers and validates source URLs, and tracks every change for review.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
