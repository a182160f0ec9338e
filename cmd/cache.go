package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/entity-graph/internal/cache"
)

var pruneOlderThan time.Duration

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the persisted response cache",
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete cache entries older than a cutoff",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("cache"); err != nil {
			return err
		}
		if pruneOlderThan <= 0 {
			return eris.New("--older-than must be positive")
		}

		store, err := cache.Open(cmd.Context(), cache.Options{
			Driver:    cfg.Cache.Driver,
			DSN:       cfg.Cache.DSN,
			KeyPrefix: cfg.Cache.KeyPrefix,
		})
		if err != nil {
			return eris.Wrap(err, "open cache")
		}
		layer := cache.NewLayer(store)
		defer layer.Close() //nolint:errcheck

		cutoff := time.Now().Add(-pruneOlderThan)
		n, err := layer.Prune(cmd.Context(), cutoff)
		if err != nil {
			return eris.Wrap(err, "prune cache")
		}

		zap.L().Info("cache pruned", zap.Int64("deleted", n), zap.Time("cutoff", cutoff))
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %d entries older than %s\n", n, pruneOlderThan)
		return nil
	},
}

func init() {
	cachePruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 720*time.Hour, "age cutoff, e.g. 720h")
	cacheCmd.AddCommand(cachePruneCmd)
	rootCmd.AddCommand(cacheCmd)
}
