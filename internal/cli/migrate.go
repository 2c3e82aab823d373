package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"logbook/api/internal/config"
	"logbook/api/internal/store"
)

func newMigrateCommand(opts *options) *cobra.Command {
	var status bool
	var dir string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configFile)
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.Database.MigrationsDir
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()
			db, err := store.Open(ctx, cfg.Database.URL, store.PoolOptions{MaxOpenConns: 2})
			if err != nil {
				return err
			}
			defer db.Close()

			out := cmd.OutOrStdout()
			if status {
				pending, err := store.PendingMigrations(ctx, db, dir)
				if err != nil {
					return err
				}
				if len(pending) == 0 {
					fmt.Fprintln(out, "(no pending migrations)")
				}
				for _, name := range pending {
					fmt.Fprintf(out, "- %s\n", name)
				}
				return nil
			}

			applied, err := store.ApplyMigrations(ctx, db, dir)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "✓ applied %d migration(s)\n", len(applied))
			for _, name := range applied {
				fmt.Fprintf(out, "- %s\n", name)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "list pending migrations without applying them")
	cmd.Flags().StringVar(&dir, "dir", "", "migrations directory (overrides config)")
	return cmd
}
