package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/huntiezz/bytehackv3-sub001/cmd/identity"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/app"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/invite"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/moderation"
)

// operator is recorded as issued_by for actions taken from the command line.
const operator = "cli"

// withApp opens the App for one command and closes it afterwards.
func withApp(rt *state, run func(cmd *cobra.Command, args []string, a *app.App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := rt.openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		return run(cmd, args, a)
	}
}

func optional(s string) *string {
	if s = strings.TrimSpace(s); s == "" {
		return nil
	}
	return &s
}

func newInvitesCommand(rt *state) *cobra.Command {
	cmd := &cobra.Command{Use: "invites", Short: "Manage invite codes"}

	var (
		code, description string
		maxUses           int
		ttl               time.Duration
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an invite code",
		Args:  cobra.NoArgs,
		RunE: withApp(rt, func(cmd *cobra.Command, _ []string, a *app.App) error {
			in := invite.CreateInput{
				Code:        code,
				CreatedBy:   optional(operator),
				TTL:         ttl,
				Description: optional(description),
			}
			if maxUses > 0 {
				in.MaxUses = &maxUses
			}
			inv, err := a.Invites.Create(cmd.Context(), in)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), inv)
		}),
	}
	f := create.Flags()
	f.StringVar(&code, "code", "", "code to create (generated when empty)")
	f.IntVar(&maxUses, "max-uses", 0, "maximum redemptions; 0 means unlimited")
	f.DurationVar(&ttl, "ttl", 0, "lifetime; 0 means the code never expires")
	f.StringVar(&description, "description", "", "free-form note")

	check := &cobra.Command{
		Use:   "check CODE",
		Short: "Report whether a code can still be redeemed",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(rt, func(cmd *cobra.Command, args []string, a *app.App) error {
			v, err := a.Invites.Validate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), v)
		}),
	}

	release := &cobra.Command{
		Use:   "release CODE USER_ID",
		Short: "Give back the use a user's redemption consumed",
		Long:  "Deletes the user's most recent redemption of CODE and frees its use, e.g. after the account was removed.",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(rt, func(cmd *cobra.Command, args []string, a *app.App) error {
			if err := a.Invites.Release(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"code":     invite.NormalizeCode(args[0]),
				"user_id":  args[1],
				"released": true,
			})
		}),
	}

	cmd.AddCommand(create, check, release)
	return cmd
}

func newBanCommand(rt *state) *cobra.Command {
	cmd := &cobra.Command{Use: "ban", Short: "Ban a user or blacklist an IP address"}
	cmd.AddCommand(
		newRestrictCommand(rt, moderation.KindUser, "user USER_ID", "Ban a user account"),
		newRestrictCommand(rt, moderation.KindIP, "ip ADDRESS", "Blacklist an IP address"),
	)
	return cmd
}

func newRestrictCommand(rt *state, kind moderation.Kind, use, short string) *cobra.Command {
	var (
		reason   string
		duration time.Duration
	)
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: withApp(rt, func(cmd *cobra.Command, args []string, a *app.App) error {
			in := moderation.RestrictInput{Subject: args[0], Reason: reason, IssuedBy: operator, Duration: duration}
			var (
				e   moderation.Entry
				err error
			)
			if kind == moderation.KindIP {
				e, err = a.Moderation.BlacklistIP(cmd.Context(), in)
			} else {
				e, err = a.Moderation.BanUser(cmd.Context(), in)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), e)
		}),
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason shown to the banned caller")
	cmd.Flags().DurationVar(&duration, "duration", 0, "ban length; 0 means permanent")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func newUnbanCommand(rt *state) *cobra.Command {
	cmd := &cobra.Command{Use: "unban", Short: "Lift bans on a user or an IP address"}

	user := &cobra.Command{
		Use:   "user USER_ID",
		Short: "Lift every active ban on a user",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(rt, func(cmd *cobra.Command, args []string, a *app.App) error {
			n, err := a.Moderation.UnbanUser(cmd.Context(), moderation.LiftInput{Subject: args[0], IssuedBy: operator})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "lifted %d\n", n)
			return err
		}),
	}
	ip := &cobra.Command{
		Use:   "ip ADDRESS",
		Short: "Lift every active blacklist entry on an IP address",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(rt, func(cmd *cobra.Command, args []string, a *app.App) error {
			n, err := a.Moderation.UnblacklistIP(cmd.Context(), moderation.LiftInput{Subject: args[0], IssuedBy: operator})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "lifted %d\n", n)
			return err
		}),
	}

	cmd.AddCommand(user, ip)
	return cmd
}

func newUsersCommand(rt *state) *cobra.Command {
	cmd := &cobra.Command{Use: "users", Short: "Manage user accounts"}

	role := &cobra.Command{
		Use:   "role USER_ID ROLE",
		Short: "Set a user's role: member, moderator or admin",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(rt, func(cmd *cobra.Command, args []string, a *app.App) error {
			r := identity.Role(strings.ToLower(strings.TrimSpace(args[1])))
			if !r.Valid() {
				return fmt.Errorf("unknown role %q", args[1])
			}
			if err := a.Users.SetRole(cmd.Context(), args[0], r); err != nil {
				return err
			}
			p, err := a.Users.GetProfile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p)
		}),
	}

	cmd.AddCommand(role)
	return cmd
}

func newWalletCommand(rt *state) *cobra.Command {
	cmd := &cobra.Command{Use: "wallet", Short: "Inspect and adjust coin balances"}

	var reason string
	grant := &cobra.Command{
		Use:   "grant USER_ID AMOUNT",
		Short: "Credit coins to a user",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(rt, func(cmd *cobra.Command, args []string, a *app.App) error {
			amount, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || amount <= 0 {
				return fmt.Errorf("amount must be a positive integer, got %q", args[1])
			}
			e, err := a.Wallet.AddCoins(cmd.Context(), args[0], amount, reason, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), e)
		}),
	}
	grant.Flags().StringVar(&reason, "reason", "admin_grant", "ledger reason")

	balance := &cobra.Command{
		Use:   "balance USER_ID",
		Short: "Print a user's balance",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(rt, func(cmd *cobra.Command, args []string, a *app.App) error {
			b, err := a.Wallet.Balance(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), b)
			return err
		}),
	}

	cmd.AddCommand(grant, balance)
	return cmd
}

func newJobsCommand(rt *state) *cobra.Command {
	cmd := &cobra.Command{Use: "jobs", Short: "Run maintenance tasks by hand"}

	list := &cobra.Command{
		Use:   "list",
		Short: "List the registered tasks",
		Args:  cobra.NoArgs,
		RunE: withApp(rt, func(cmd *cobra.Command, _ []string, a *app.App) error {
			for _, name := range a.Jobs.Tasks() {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), name); err != nil {
					return err
				}
			}
			return nil
		}),
	}
	run := &cobra.Command{
		Use:   "run TASK",
		Short: "Run one task now, for example " + app.TaskPurgeTokens,
		Args:  cobra.ExactArgs(1),
		RunE: withApp(rt, func(cmd *cobra.Command, args []string, a *app.App) error {
			n, err := a.Jobs.RunNow(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s removed %d\n", args[0], n)
			return err
		}),
	}

	cmd.AddCommand(list, run)
	return cmd
}
