package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	cl "investments/internal/cli"
	"investments/internal/config"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const requestTimeout = 30 * time.Second

func main() {
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "invest",
		Short:        "Investments client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "API base URL")

	root.AddCommand(
		newLoginCmd(&apiBase),
		newLogoutCmd(),
		newProfileCmd(&apiBase),
		newInvestCmd(&apiBase),
		newCollectCmd(&apiBase),
		newDeleteCmd(&apiBase),
		newAutoCollectCmd(&apiBase),
		newNotifyCmd(&apiBase),
		newWalletCmd(&apiBase),
		newWatchCmd(&apiBase),
		newAdminCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

// session loads the saved login; a base URL stored at login wins over the
// default but not over an explicit --api flag.
func session(cmd *cobra.Command, apiBase *string) (cl.Session, *cl.Client, error) {
	sess, err := cl.LoadSession()
	if errors.Is(err, cl.ErrNoSession) {
		return cl.Session{}, nil, fmt.Errorf("%w: run `invest login` first", err)
	}
	if err != nil {
		return cl.Session{}, nil, err
	}
	if sess.BaseURL != "" && !cmd.Flags().Changed("api") {
		*apiBase = sess.BaseURL
	}
	return sess, newClient(apiBase), nil
}

func explain(err error) error {
	var apiErr *cl.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.Status {
	case http.StatusUnauthorized:
		return fmt.Errorf("session rejected (%s), run `invest login`", apiErr.Message)
	case http.StatusForbidden:
		return fmt.Errorf("you don't have permission to do that")
	case http.StatusTooManyRequests:
		return fmt.Errorf("slow down, too many requests")
	}
	return errors.New(apiErr.Message)
}

func newLoginCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Save an access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := promptSecret("Access token")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			view, err := newClient(apiBase).Profile(ctx, token)
			if err != nil {
				return explain(err)
			}
			if err := cl.SaveSession(cl.Session{
				AccessToken: token,
				Account:     view.Account.String(),
				BaseURL:     strings.TrimRight(*apiBase, "/"),
			}); err != nil {
				return err
			}
			printSuccess("Logged in as " + view.Account.String())
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear local session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newProfileCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:     "profile",
		Aliases: []string{"view", "me"},
		Short:   "Show your investments",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, client, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			view, err := client.Profile(ctx, sess.AccessToken)
			if err != nil {
				return explain(err)
			}
			renderProfile(view)
			return nil
		},
	}
}

func newInvestCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "invest [amount|preset]",
		Short: "Open a new investment (e.g. 25k, 1.5m)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, client, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			amount := ""
			if len(args) == 1 {
				amount = args[0]
			} else if amount, err = promptRequired("Amount"); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			out, err := client.Invest(ctx, sess.AccessToken, amount, uuid.NewString())
			if err != nil {
				return explain(err)
			}
			printSuccess("Invested " + money(decimalField(out, "amount")))
			return nil
		},
	}
}

func newCollectCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "collect",
		Short: "Pay accrued profit into your wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, client, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			out, err := client.Collect(ctx, sess.AccessToken)
			if err != nil {
				return explain(err)
			}
			amount := decimalField(out, "collected")
			if !amount.IsPositive() {
				printInfo("Nothing to collect yet.")
				return nil
			}
			printSuccess("Collected " + money(amount))
			return nil
		},
	}
}

func newDeleteCmd(apiBase *string) *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete all of your investments (principal is not refunded)",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, client, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			if !confirm {
				ok, err := promptConfirm("Delete every investment? Principal is lost")
				if err != nil {
					return err
				}
				if !ok {
					printInfo("Cancelled.")
					return nil
				}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			out, err := client.DeleteInvestments(ctx, sess.AccessToken, true)
			if err != nil {
				return explain(err)
			}
			printWarn("Deleted " + stringField(out, "deleted") + " investments.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&confirm, "confirm", false, "skip the confirmation prompt")
	return cmd
}

func newAutoCollectCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "autocollect",
		Short: "Toggle automatic profit collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, client, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			out, err := client.ToggleAutoCollect(ctx, sess.AccessToken)
			if err != nil {
				return explain(err)
			}
			printSuccess("Auto-collect is now " + onOffField(out, "auto_collect"))
			return nil
		},
	}
}

func newNotifyCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "notify",
		Short: "Toggle interest notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, client, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			out, err := client.ToggleNotifications(ctx, sess.AccessToken)
			if err != nil {
				return explain(err)
			}
			printSuccess("Notifications are now " + onOffField(out, "notifications"))
			return nil
		},
	}
}

func newWalletCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "wallet",
		Short: "Show your wallet balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, client, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			out, err := client.Wallet(ctx, sess.AccessToken)
			if err != nil {
				return explain(err)
			}
			fmt.Printf("Balance: %s\n", money(decimalField(out, "balance")))
			return nil
		},
	}
}

func newWatchCmd(apiBase *string) *cobra.Command {
	var heartbeat time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live view of your investments and payouts",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, client, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			return runWatch(cmd.Context(), client, sess.AccessToken, heartbeat)
		},
	}
	cmd.Flags().DurationVar(&heartbeat, "heartbeat", time.Minute, "presence heartbeat interval")
	return cmd
}

func newAdminCmd(apiBase *string) *cobra.Command {
	admin := &cobra.Command{
		Use:   "admin",
		Short: "Administrative commands",
	}
	admin.AddCommand(
		&cobra.Command{
			Use:   "reload",
			Short: "Reload server configuration",
			RunE: func(cmd *cobra.Command, args []string) error {
				sess, client, err := session(cmd, apiBase)
				if err != nil {
					return err
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
				defer cancel()
				out, err := client.AdminReload(ctx, sess.AccessToken)
				if err != nil {
					return explain(err)
				}
				if running, _ := out["interest_running"].(bool); !running {
					printWarn("Configuration reloaded, interest is disabled (check rate-percent and interval-minutes).")
					return nil
				}
				printSuccess("Configuration reloaded.")
				return nil
			},
		},
		&cobra.Command{
			Use:   "multiplier <all|account> <factor> <minutes>",
			Short: "Boost interest for everyone or one account",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				minutes, err := strconv.Atoi(args[2])
				if err != nil {
					return fmt.Errorf("minutes must be a whole number")
				}
				sess, client, err := session(cmd, apiBase)
				if err != nil {
					return err
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
				defer cancel()
				if _, err := client.AdminMultiplier(ctx, sess.AccessToken, args[0], args[1], minutes); err != nil {
					return explain(err)
				}
				printSuccess(fmt.Sprintf("Multiplier x%s set for %s for %d minutes.", args[1], args[0], minutes))
				return nil
			},
		},
		&cobra.Command{
			Use:   "view <account>",
			Short: "Show another account's investments",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				account, err := uuid.Parse(args[0])
				if err != nil {
					return fmt.Errorf("account must be a uuid")
				}
				sess, client, err := session(cmd, apiBase)
				if err != nil {
					return err
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
				defer cancel()
				view, err := client.AdminView(ctx, sess.AccessToken, account)
				if err != nil {
					return explain(err)
				}
				renderProfile(view)
				return nil
			},
		},
		&cobra.Command{
			Use:   "give <account> <amount>",
			Short: "Add an investment without charging the wallet",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				account, err := uuid.Parse(args[0])
				if err != nil {
					return fmt.Errorf("account must be a uuid")
				}
				sess, client, err := session(cmd, apiBase)
				if err != nil {
					return err
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
				defer cancel()
				out, err := client.AdminGive(ctx, sess.AccessToken, account, args[1])
				if err != nil {
					return explain(err)
				}
				printSuccess(fmt.Sprintf("Gave %s an investment of %s.", account, money(decimalField(out, "amount"))))
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete <account>",
			Short: "Delete every investment an account holds",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				account, err := uuid.Parse(args[0])
				if err != nil {
					return fmt.Errorf("account must be a uuid")
				}
				sess, client, err := session(cmd, apiBase)
				if err != nil {
					return err
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
				defer cancel()
				out, err := client.AdminDelete(ctx, sess.AccessToken, account)
				if err != nil {
					return explain(err)
				}
				printWarn(fmt.Sprintf("Deleted %s investments from %s.", stringField(out, "deleted"), account))
				return nil
			},
		},
	)
	return admin
}

func onOffField(raw map[string]any, key string) string {
	v, _ := raw[key].(bool)
	return onOff(v)
}
