package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pario-ai/google-proxy/pkg/config"
	"github.com/pario-ai/google-proxy/pkg/store"
	"github.com/pario-ai/google-proxy/pkg/store/sqlite"
)

// openStore loads the config and opens its database without starting an
// actor, so no API key is required.
func openStore(configPath string) (*config.Config, *sqlite.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	db, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}

// storeNamespace mirrors the actor's choice of persistence namespace.
func storeNamespace(cfg *config.Config) string {
	if cfg.Actor.StoreID != "" {
		return cfg.Actor.StoreID
	}
	return cfg.Actor.ID
}

func newCacheCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the persisted response cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show persisted cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := openStore(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			n, err := db.Count(context.Background(), store.Key(storeNamespace(cfg), "cache")+"/")
			if err != nil {
				return err
			}
			capacity := config.DefaultMaxCacheSize
			if cfg.Actor.Config.MaxCacheSize != nil {
				capacity = *cfg.Actor.Config.MaxCacheSize
			}
			fmt.Printf("Store:    %s\nEntries:  %d\nCapacity: %d\n", storeNamespace(cfg), n, capacity)
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all persisted cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := openStore(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			n, err := db.DeletePrefix(context.Background(), store.Key(storeNamespace(cfg), "cache")+"/")
			if err != nil {
				return err
			}
			fmt.Printf("%d cache entries cleared.\n", n)
			return nil
		},
	}

	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}
