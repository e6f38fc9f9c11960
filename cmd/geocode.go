package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/woonradar/listings-cli/internal/address"
	"github.com/woonradar/listings-cli/internal/geocache"
	"github.com/woonradar/listings-cli/pkg/geocode"
)

var geocodeCmd = &cobra.Command{
	Use:   "geocode",
	Short: "Inspect and maintain the geocode caches",
}

// -- geocode resolve --

var geocodeResolveCmd = &cobra.Command{
	Use:   "resolve <address>",
	Short: "Resolve one address through the cache and provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mode, err := modeFlag(cmd)
		if err != nil {
			return err
		}
		city, _ := cmd.Flags().GetString("city")

		env, err := initEnv(ctx, "geocode")
		if err != nil {
			return err
		}
		defer env.Close()

		addr := address.Normalize(args[0], address.Options{City: city, FallbackCity: cfg.Geocode.FallbackCity})
		if addr.IsZero() {
			return eris.Errorf("address %q has no street", args[0])
		}
		entry, err := env.resolver(mode).Resolve(ctx, addr)
		if err != nil {
			return eris.Wrap(err, "geocode resolve")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entry)
	},
}

// -- geocode refresh --

var geocodeRefreshCmd = &cobra.Command{
	Use:   "refresh <key>...",
	Short: "Remove cache entries so the next run queries them again",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mode, err := modeFlag(cmd)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "geocode")
		if err != nil {
			return err
		}
		defer env.Close()

		c := env.cache(mode)
		for _, key := range args {
			if !c.Contains(key) {
				zap.L().Warn("key not cached", zap.String("key", key))
				continue
			}
			if err := c.Refresh(ctx, key); err != nil {
				return eris.Wrapf(err, "refresh %q", key)
			}
			fmt.Fprintf(os.Stdout, "refreshed %s\n", key)
		}
		return nil
	},
}

// -- geocode retry --

var geocodeRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Drain the queue of transiently failed lookups",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		limit, _ := cmd.Flags().GetInt("limit")

		env, err := initEnv(ctx, "geocode")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Pipeline.RetryGeocodes(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "geocode retry")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

// -- geocode seed --

var geocodeSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the full-address cache from historical snapshot exports",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		dir, _ := cmd.Flags().GetString("dir")
		if dir == "" {
			dir = cfg.Cache.HistoryDir
		}
		if dir == "" {
			return eris.New("no history dir: pass --dir or set cache.history_dir")
		}
		pattern, _ := cmd.Flags().GetString("pattern")
		if pattern == "" {
			pattern = cfg.Cache.HistoryPattern
		}
		if pattern == "" {
			pattern = geocache.DefaultHistoryPattern
		}

		env, err := initEnv(ctx, "read")
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.AddrCache.SeedFromHistory(ctx, dir, pattern)
		if err != nil {
			return eris.Wrap(err, "geocode seed")
		}
		fmt.Fprintf(os.Stdout, "seeded %d entries (%d cached)\n", n, env.AddrCache.Len())
		return nil
	},
}

func modeFlag(cmd *cobra.Command) (geocode.KeyMode, error) {
	s, _ := cmd.Flags().GetString("mode")
	return geocode.ParseKeyMode(s)
}

func init() {
	for _, c := range []*cobra.Command{geocodeResolveCmd, geocodeRefreshCmd} {
		c.Flags().String("mode", string(geocode.FullAddress), "cache key mode (full_address, street_only)")
	}
	geocodeResolveCmd.Flags().String("city", "", "city for addresses that do not name one")
	geocodeRetryCmd.Flags().Int("limit", 100, "max queued lookups to retry (0 for all)")
	geocodeSeedCmd.Flags().String("dir", "", "directory of historical exports (default cache.history_dir)")
	geocodeSeedCmd.Flags().String("pattern", "", "file name regex (default cache.history_pattern)")

	geocodeCmd.AddCommand(geocodeResolveCmd)
	geocodeCmd.AddCommand(geocodeRefreshCmd)
	geocodeCmd.AddCommand(geocodeRetryCmd)
	geocodeCmd.AddCommand(geocodeSeedCmd)
	rootCmd.AddCommand(geocodeCmd)
}
