package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Fabian0270/library-system/internal/util"
	"github.com/Fabian0270/library-system/pkg/domain"
	"github.com/Fabian0270/library-system/pkg/store"
	"github.com/Fabian0270/library-system/services/library/internal/app"
	"github.com/Fabian0270/library-system/services/library/internal/bootstrap"
	"github.com/Fabian0270/library-system/services/library/internal/config"
)

// operator is the principal recorded for changes made from the command line.
const operator = "libraryctl"

var operatorMeta = domain.ClientMeta{UserAgent: operator}

type cli struct {
	readPassword func(prompt string) (string, error)
	configPath   string
}

func newRootCmd(c cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "libraryctl",
		Short:         "Operate the library service database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", config.PathFromEnv(), "path to config.yaml")

	userCmd := &cobra.Command{Use: "user", Short: "Manage accounts"}
	userCmd.AddCommand(c.userAddCmd(), c.userUnlockCmd())
	loansCmd := &cobra.Command{Use: "loans", Short: "Inspect loans"}
	loansCmd.AddCommand(c.loansOverdueCmd())
	auditCmd := &cobra.Command{Use: "audit", Short: "Inspect the audit trail"}
	auditCmd.AddCommand(c.auditTailCmd())

	root.AddCommand(c.migrateCmd(), c.seedCmd(), userCmd, loansCmd, auditCmd)
	return root
}

// runtime loads config and builds the service graph without issuing sessions.
func (c *cli) runtime(ctx context.Context) (*bootstrap.Runtime, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	util.InitStderrLogger(cfg.LogLevel)
	cfg.SessionStrategy = config.SessionStrategyMemory
	cfg.SeedDemoData = false
	return bootstrap.Build(ctx, cfg)
}

func (c *cli) withRuntime(fn func(cmd *cobra.Command, rt *bootstrap.Runtime, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		rt, err := c.runtime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()
		return fn(cmd, rt, args)
	}
}

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Args:  cobra.NoArgs,
		RunE: c.withRuntime(func(cmd *cobra.Command, rt *bootstrap.Runtime, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		}),
	}
}

func (c *cli) seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert demo users and books into an empty database",
		Args:  cobra.NoArgs,
		RunE: c.withRuntime(func(cmd *cobra.Command, rt *bootstrap.Runtime, _ []string) error {
			if err := rt.App.SeedDemoData(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "demo data ready")
			return nil
		}),
	}
}

func (c *cli) userAddCmd() *cobra.Command {
	var reg app.Registration
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register an account; the first account becomes admin",
		Args:  cobra.NoArgs,
		RunE: c.withRuntime(func(cmd *cobra.Command, rt *bootstrap.Runtime, _ []string) error {
			password, err := c.readPassword("Password: ")
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}
			confirm, err := c.readPassword("Confirm password: ")
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}
			if confirm == "" {
				return app.ErrPasswordMismatch
			}
			reg.Password, reg.ConfirmPassword = password, confirm
			user, err := rt.App.Register(cmd.Context(), reg, operatorMeta)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s) roles=%s\n", user.Email, user.ID, joinRoles(user.Roles))
			return nil
		}),
	}
	cmd.Flags().StringVar(&reg.Email, "email", "", "account email")
	cmd.Flags().StringVar(&reg.FirstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&reg.LastName, "last-name", "", "last name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("first-name")
	_ = cmd.MarkFlagRequired("last-name")
	return cmd
}

func (c *cli) userUnlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlock <email>",
		Short: "Clear the lockout of an account",
		Args:  cobra.ExactArgs(1),
		RunE: c.withRuntime(func(cmd *cobra.Command, rt *bootstrap.Runtime, args []string) error {
			ctx := cmd.Context()
			user, ok, err := rt.Store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(args[0])))
			if err != nil {
				return err
			}
			if !ok {
				return domain.ErrUserNotFound
			}
			actor := domain.User{Email: operator}
			user, err = rt.App.UnlockUser(ctx, actor, user.ID, operatorMeta)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s unlocked (failed attempts: %d)\n", user.Email, user.FailedLoginAttempts)
			return nil
		}),
	}
}

func (c *cli) loansOverdueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "overdue",
		Short: "List open loans past their due date",
		Args:  cobra.NoArgs,
		RunE: c.withRuntime(func(cmd *cobra.Command, rt *bootstrap.Runtime, _ []string) error {
			loans, err := rt.App.ListOverdue(cmd.Context())
			if err != nil {
				return err
			}
			today := rt.Ledger.Today()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "LOAN\tUSER\tBOOK\tDUE\tDAYS OVERDUE")
			for _, loan := range loans {
				days := int(today.Sub(loan.DueDate) / (24 * time.Hour))
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", loan.ID, loan.UserID, loan.BookID, loan.DueDate.Format(time.DateOnly), days)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if len(loans) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no overdue loans")
			}
			return nil
		}),
	}
}

func (c *cli) auditTailCmd() *cobra.Command {
	var (
		filter    store.EventFilter
		eventType string
		since     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print the most recent audit events as JSON lines",
		Args:  cobra.NoArgs,
		RunE: c.withRuntime(func(cmd *cobra.Command, rt *bootstrap.Runtime, _ []string) error {
			if filter.Limit <= 0 {
				return errors.New("--limit must be positive")
			}
			filter.Type = domain.SecurityEventType(strings.ToUpper(strings.TrimSpace(eventType)))
			if since > 0 {
				filter.Since = time.Now().UTC().Add(-since)
			}
			events, err := rt.App.AuditEvents(cmd.Context(), filter)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, event := range events {
				if err := enc.Encode(event); err != nil {
					return err
				}
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&filter.Principal, "principal", "", "only events for this principal")
	cmd.Flags().StringVar(&eventType, "type", "", "only events of this type, e.g. LOGIN_FAILURE")
	cmd.Flags().DurationVar(&since, "since", 0, "only events newer than this, e.g. 24h")
	cmd.Flags().IntVar(&filter.Limit, "limit", 20, "maximum number of events")
	return cmd
}

func joinRoles(roles []domain.UserRole) string {
	names := make([]string, len(roles))
	for i, role := range roles {
		names[i] = string(role)
	}
	return strings.Join(names, ",")
}
