package main

import (
	"fmt"
	"os"

	"keygate/internal/cli"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func newRootCmd() *cobra.Command {
	var endpoint string

	newApp := func(cmd *cobra.Command) (*cli.App, error) {
		return cli.NewApp(endpoint, cmd.OutOrStdout())
	}

	rootCmd := &cobra.Command{
		Use:   "keygatectl",
		Short: "keygatectl - operator tooling for the keygate billing gateway",
		Long: `keygatectl inspects and exercises a keygate deployment.

Quick Start:
  keygatectl login                 # Store the admin secret in the system keyring
  keygatectl account cus_123       # Show a customer's account
  keygatectl usage cus_123         # Show recent metered calls
  keygatectl checkout              # Start a Stripe Checkout session
  keygatectl call --key gk_...     # Make one metered API call
  keygatectl health                # Check the gateway`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&endpoint, "endpoint", "", "Gateway URL (overrides the config file)")

	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Store the admin JWT secret in the system keyring",
		Long: `Store the gateway's ADMIN_JWT_SECRET in the OS keyring.

The secret is read from --secret, then $KEYGATE_ADMIN_SECRET, then an
interactive prompt. It is used to mint short-lived admin tokens and is never
written to the config file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd)
			if err != nil {
				return err
			}
			secretFlag, _ := cmd.Flags().GetString("secret")
			subject, _ := cmd.Flags().GetString("subject")

			secret, err := cli.ReadSecret(secretFlag, cli.EnvAdminSecret, "Admin JWT secret: ")
			if err != nil {
				return err
			}
			return app.Login(secret, subject)
		},
	}
	loginCmd.Flags().String("secret", "", "Admin JWT secret (prefer the prompt or env var)")
	loginCmd.Flags().String("subject", "", "Subject recorded in minted admin tokens")

	logoutCmd := &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored admin secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd)
			if err != nil {
				return err
			}
			return app.Logout()
		},
	}

	accountCmd := &cobra.Command{
		Use:     "account <customer-id>",
		Short:   "Show a customer's account",
		Example: "  keygatectl account cus_123",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd)
			if err != nil {
				return err
			}
			return app.Account(cmd.Context(), args[0])
		},
	}

	usageCmd := &cobra.Command{
		Use:     "usage <customer-id>",
		Short:   "Show recent metered calls for a customer",
		Example: "  keygatectl usage cus_123 --limit 20",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd)
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")
			return app.Usage(cmd.Context(), args[0], limit)
		},
	}
	usageCmd.Flags().Int("limit", 0, "Maximum records to show (server default when 0)")

	checkoutCmd := &cobra.Command{
		Use:   "checkout",
		Short: "Start a Stripe Checkout session and print its URL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd)
			if err != nil {
				return err
			}
			return app.Checkout(cmd.Context())
		},
	}

	callCmd := &cobra.Command{
		Use:     "call",
		Short:   "Make one metered API call",
		Example: "  keygatectl call --key gk_0123456789abcdef0123456789abcdef",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd)
			if err != nil {
				return err
			}
			key, _ := cmd.Flags().GetString("key")
			return app.Call(cmd.Context(), key)
		},
	}
	callCmd.Flags().String("key", "", "API key issued at checkout")
	_ = callCmd.MarkFlagRequired("key")

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check gateway health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd)
			if err != nil {
				return err
			}
			return app.Health()
		},
	}

	webhookCmd := &cobra.Command{
		Use:   "webhook",
		Short: "Webhook testing tools",
	}

	webhookSendCmd := &cobra.Command{
		Use:   "send <payload.json>",
		Short: "Sign a Stripe event payload and post it to the gateway",
		Long: `Sign a Stripe event payload the way Stripe does and post it to /webhook.

The signing secret comes from --secret, then $STRIPE_WEBHOOK_SECRET. With
--unsigned the event is sent without a signature, which only a gateway
started with WEBHOOK_ALLOW_UNSIGNED=true accepts.`,
		Example: `  keygatectl webhook send checkout_completed.json
  keygatectl webhook send invoice_paid.json --secret whsec_...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd)
			if err != nil {
				return err
			}

			unsigned, _ := cmd.Flags().GetBool("unsigned")
			if unsigned {
				return app.SendWebhook(cmd.Context(), args[0], nil)
			}

			secretFlag, _ := cmd.Flags().GetString("secret")
			secret, err := cli.ReadSecret(secretFlag, cli.EnvWebhookSecret, "Webhook signing secret: ")
			if err != nil {
				return err
			}
			return app.SendWebhook(cmd.Context(), args[0], secret)
		},
	}
	webhookSendCmd.Flags().String("secret", "", "Webhook signing secret (whsec_...)")
	webhookSendCmd.Flags().Bool("unsigned", false, "Send without a Stripe-Signature header")
	webhookCmd.AddCommand(webhookSendCmd)

	rootCmd.AddCommand(loginCmd, logoutCmd, accountCmd, usageCmd, checkoutCmd, callCmd, healthCmd, webhookCmd)
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, cli.ErrorStyle.Render("Error:"), err)
		os.Exit(1)
	}
}
