package cli

import (
	"github.com/spf13/cobra"

	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/app"
)

func newServeCommand(rt *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, moderation feed and background jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := rt.config()
			if err != nil {
				return err
			}
			log := rt.logger(cmd, cfg)
			log.Info("server.starting", "env", cfg.Env, "addr", cfg.HTTP.Addr)

			a, err := app.New(cmd.Context(), cfg, log)
			if err != nil {
				log.Error("server.init.fail", "err", err)
				return err
			}
			return a.Run(cmd.Context())
		},
	}

	def := app.DefaultConfig()
	f := cmd.Flags()
	f.String("addr", def.HTTP.Addr, "listen address")
	f.Bool("migrate", def.Database.MigrateOnStart, "apply pending migrations before serving")
	_ = rt.v.BindPFlag("http.addr", f.Lookup("addr"))
	_ = rt.v.BindPFlag("database.migrate_on_start", f.Lookup("migrate"))
	return cmd
}
