package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/entity-graph/internal/config"
)

var (
	cfg *config.Config

	configPath string
	langFlag   string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "entity-graph",
	Short: "Multi-source entity resolution and knowledge-graph completion",
	Long:  "Resolves candidate entities against Wikipedia, Wikidata and DBpedia, deduplicates them into a graph, and completes the graph with inferred entities and relationships.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.LoadFile(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		applyRootFlags(cmd, c)
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

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&langFlag, "lang", "", "target language code, overrides config")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level, overrides config")
}

// applyRootFlags lets explicitly set persistent flags override loaded config.
func applyRootFlags(cmd *cobra.Command, c *config.Config) {
	if cmd.Flags().Changed("lang") {
		c.Language = langFlag
	}
	if cmd.Flags().Changed("log-level") {
		c.Log.Level = logLevel
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
