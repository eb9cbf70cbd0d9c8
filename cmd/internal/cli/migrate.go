package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/app"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/dbschema"
)

func newMigrateCommand(rt *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the database schema",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := rt.config()
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return app.ErrNoDatabase
			}
			v, err := dbschema.Up(cmd.Context(), cfg.Database.URL, cfg.Database.Schema, rt.logger(cmd, cfg))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "schema %s at version %d\n", cfg.Database.Schema, v)
			return err
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if steps < 1 {
				return fmt.Errorf("--steps must be at least 1")
			}
			cfg, err := rt.config()
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return app.ErrNoDatabase
			}
			v, err := dbschema.Down(cmd.Context(), cfg.Database.URL, cfg.Database.Schema, steps, rt.logger(cmd, cfg))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "schema %s at version %d\n", cfg.Database.Schema, v)
			return err
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	cmd.AddCommand(up, down)
	return cmd
}
