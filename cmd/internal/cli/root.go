// Package cli is the bytehack command tree: the server, schema migrations and
// the operator commands that act on a running deployment's database.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/app"
)

// Opener builds an App for an operator command.
type Opener func(ctx context.Context, cfg app.Config, log *slog.Logger) (*app.App, error)

type state struct {
	v          *viper.Viper
	configFile string

	// open and requireDB are swapped in tests to run against memory stores.
	open      Opener
	requireDB bool
}

// NewRootCommand returns the bytehack command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&state{v: app.NewViper(), open: app.New, requireDB: true})
}

func newRootCommand(rt *state) *cobra.Command {
	root := &cobra.Command{
		Use:           "bytehack",
		Short:         "ByteHack forum server and operator tooling",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Flag defaults mirror DefaultConfig: viper reads an unset bound flag's default
	// ahead of the struct defaults.
	def := app.DefaultConfig()
	pf := root.PersistentFlags()
	pf.StringVar(&rt.configFile, "config", "", "config file (yaml, toml or json)")
	pf.String("log-level", def.Log.Level, "log level: debug, info, warn or error")
	pf.String("log-format", def.Log.Format, "log format: json or pretty")
	_ = rt.v.BindPFlag("log.level", pf.Lookup("log-level"))
	_ = rt.v.BindPFlag("log.format", pf.Lookup("log-format"))

	root.AddCommand(
		newServeCommand(rt),
		newMigrateCommand(rt),
		newInvitesCommand(rt),
		newBanCommand(rt),
		newUnbanCommand(rt),
		newUsersCommand(rt),
		newWalletCommand(rt),
		newJobsCommand(rt),
	)
	return root
}

// Execute runs the command tree against the process arguments.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

func (rt *state) config() (app.Config, error) {
	return app.LoadConfig(rt.v, rt.configFile)
}

func (rt *state) logger(cmd *cobra.Command, cfg app.Config) *slog.Logger {
	return app.NewLogger(cfg.Log, cmd.ErrOrStderr())
}

// openApp wires the services for an operator command. Without a database the
// command would act on throwaway memory stores, so that is refused.
func (rt *state) openApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := rt.config()
	if err != nil {
		return nil, err
	}
	if rt.requireDB && cfg.Database.URL == "" {
		return nil, app.ErrNoDatabase
	}
	cfg.Jobs.Enabled = false
	return rt.open(cmd.Context(), cfg, rt.logger(cmd, cfg))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
