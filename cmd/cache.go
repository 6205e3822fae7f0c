package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/dossier-crawler/internal/cache"
	"github.com/JakeFAU/dossier-crawler/internal/server"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspects and maintains the profile cache",
	}
	cmd.AddCommand(newCacheStatsCmd())
	cmd.AddCommand(newCacheClearExpiredCmd())
	cmd.AddCommand(newCacheDeleteCmd())
	return cmd
}

// withCache opens the configured cache, runs fn and closes the cache.
func withCache(cmd *cobra.Command, fn func(c *cache.Cache) (any, error)) error {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return err
	}
	c, err := server.OpenCache(cmd.Context(), rt.cfg, rt.logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := c.Close(); cerr != nil {
			rt.logger.Warn("cache close failed", zap.Error(cerr))
		}
	}()
	out, err := fn(c)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

func newCacheStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Prints entry counts and age bounds",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCache(cmd, func(c *cache.Cache) (any, error) {
				return c.Stats(cmd.Context()), nil
			})
		},
	}
}

func newCacheClearExpiredCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-expired",
		Short: "Removes entries older than the TTL",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCache(cmd, func(c *cache.Cache) (any, error) {
				return map[string]int64{"removed": c.ClearExpired(cmd.Context())}, nil
			})
		},
	}
}

func newCacheDeleteCmd() *cobra.Command {
	var flags subjectFlags
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Removes the entry for one subject",
		RunE: func(cmd *cobra.Command, _ []string) error {
			subject, err := flags.subject()
			if err != nil {
				return err
			}
			return withCache(cmd, func(c *cache.Cache) (any, error) {
				return map[string]any{"cache_key": c.Key(subject), "deleted": c.Delete(cmd.Context(), subject)}, nil
			})
		},
	}
	flags.register(cmd)
	return cmd
}
