package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/enrich-cli/internal/config"
)

var (
	cfg           *config.Config
	providersFile string
)

var rootCmd = &cobra.Command{
	Use:   "enrich-cli",
	Short: "Asynchronous entity enrichment pipeline",
	Long:  "Enriches companies and people through a prioritized provider waterfall, deduplicates against stored records, and classifies buyer-group roles.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if providersFile != "" {
			if err := c.LoadProviderFile(providersFile); err != nil {
				return fmt.Errorf("load provider file: %w", err)
			}
		}
		if err := c.Validate(); err != nil {
			return fmt.Errorf("validate config: %w", err)
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
	rootCmd.PersistentFlags().StringVar(&providersFile, "providers-file", "", "YAML file with per-provider overrides")
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
