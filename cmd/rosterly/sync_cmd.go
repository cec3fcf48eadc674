package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	rosterly "github.com/rosterly/rosterly-go"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(syncCmd)
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull server changes into the local store",
	Long:  "Fetch change events since the last sync cursor and apply them to the local bbolt store.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if cfg.Auth.AccessToken == "" {
			return fmt.Errorf("not logged in; run 'rosterly login <email>' first")
		}

		storePath := cfg.Default.StorePath
		if storePath == "" {
			dir, err := configDir()
			if err != nil {
				return err
			}
			storePath = filepath.Join(dir, "rosterly.db")
		}

		store, err := rosterly.OpenBoltStore(storePath)
		if err != nil {
			return fmt.Errorf("cannot open local store: %w", err)
		}
		defer store.Close()

		client := rosterly.NewClient(cfg.Auth.AccessToken, clientOptions(cfg)...)
		mgr := rosterly.NewSyncManager(client, store)

		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		applied, err := mgr.Sync(ctx)
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}

		pending, _ := store.PendingCount()
		fmt.Printf("Applied %d change events.\n", applied)
		if pending > 0 {
			fmt.Printf("%d local mutations still pending upload.\n", pending)
		}
		return nil
	},
}
