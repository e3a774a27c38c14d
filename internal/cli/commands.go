package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"keygate/internal/adminauth"
	"keygate/internal/webhook"
)

// App carries the loaded config and output for a single command run
type App struct {
	Config *CLIConfig
	Out    io.Writer
}

// NewApp loads the CLI config, optionally overriding the API endpoint
func NewApp(endpoint string, out io.Writer) (*App, error) {
	config, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if endpoint != "" {
		config.API.Endpoint = endpoint
	}
	return &App{Config: config, Out: out}, nil
}

func (a *App) client() *APIClient {
	return NewAPIClient(a.Config.API.Endpoint, a.Config.API.Timeout)
}

// adminClient mints a short-lived admin token from the stored secret
func (a *App) adminClient() (*APIClient, error) {
	secret, err := LoadAdminSecret()
	if err != nil {
		return nil, err
	}
	defer zero(secret)

	token, err := adminauth.Sign(string(secret), a.Config.Admin.Subject, adminauth.DefaultTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to sign admin token: %w", err)
	}
	return a.client().WithAdminToken(token), nil
}

func (a *App) row(label string, value interface{}) {
	fmt.Fprintf(a.Out, "  %s %v\n", LabelStyle.Render(label), value)
}

// Login stores the admin secret in the keyring and records the subject
func (a *App) Login(secret []byte, subject string) error {
	defer zero(secret)

	if err := StoreAdminSecret(secret); err != nil {
		return fmt.Errorf("failed to store admin secret: %w", err)
	}

	if subject != "" {
		a.Config.Admin.Subject = subject
	}
	a.Config.Admin.LoggedIn = true
	if err := a.Config.Save(); err != nil {
		return err
	}

	fmt.Fprintln(a.Out, SuccessStyle.Render("✓ Admin secret stored in the system keyring"))
	a.row("Subject:", a.Config.Admin.Subject)
	a.row("Endpoint:", a.Config.API.Endpoint)
	return nil
}

// Logout removes the stored admin secret
func (a *App) Logout() error {
	if err := RemoveAdminSecret(); err != nil {
		return err
	}
	a.Config.Admin.LoggedIn = false
	if err := a.Config.Save(); err != nil {
		return err
	}
	fmt.Fprintln(a.Out, SuccessStyle.Render("✓ Logged out"))
	return nil
}

// Account prints a customer's account
func (a *App) Account(ctx context.Context, customerID string) error {
	c, err := a.adminClient()
	if err != nil {
		return err
	}

	account, err := c.GetAccount(ctx, customerID)
	if err != nil {
		return err
	}

	status := SuccessStyle.Render("active")
	if !account.Active {
		status = ErrorStyle.Render("inactive")
	}

	fmt.Fprintln(a.Out, TitleStyle.Render("Account "+account.CustomerID))
	a.row("Status:", status)
	a.row("Subscription item:", account.SubscriptionItemID)
	a.row("Credential hash:", account.HashedCredential)
	a.row("Created:", account.CreatedAt.Format(time.RFC3339))
	a.row("Updated:", account.UpdatedAt.Format(time.RFC3339))
	return nil
}

// Usage prints the most recent usage records for a customer
func (a *App) Usage(ctx context.Context, customerID string, limit int) error {
	c, err := a.adminClient()
	if err != nil {
		return err
	}

	usage, err := c.ListUsage(ctx, customerID, limit)
	if err != nil {
		return err
	}

	fmt.Fprintln(a.Out, TitleStyle.Render(fmt.Sprintf("Usage for %s (%d records)", usage.CustomerID, usage.Count)))
	if usage.Count == 0 {
		fmt.Fprintln(a.Out, InfoStyle.Render("  No usage recorded"))
		return nil
	}
	for _, r := range usage.Records {
		fmt.Fprintf(a.Out, "  %s  %-28s qty=%d  %s\n",
			r.CreatedAt.Format(time.RFC3339), r.SubscriptionItemID, r.Quantity, InfoStyle.Render(r.MeterEventID))
	}
	return nil
}

// Checkout starts a checkout session and prints the payment URL
func (a *App) Checkout(ctx context.Context) error {
	session, err := a.client().CreateCheckout(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(a.Out, TitleStyle.Render("Checkout session created"))
	a.row("Session:", session.ID)
	a.row("Pay at:", session.URL)
	return nil
}

// Call makes one metered API call
func (a *App) Call(ctx context.Context, apiKey string) error {
	if apiKey == "" {
		return fmt.Errorf("API key required")
	}

	resp, err := a.client().Call(ctx, apiKey)
	if err != nil {
		return err
	}

	fmt.Fprintln(a.Out, SuccessStyle.Render("✓ Call accepted"))
	if resp.Usage != nil {
		a.row("Usage record:", resp.Usage.ID)
		a.row("Subscription item:", resp.Usage.SubscriptionItemID)
		a.row("Quantity:", resp.Usage.Quantity)
	}
	return nil
}

// SendWebhook signs a payload file with secret and posts it to the gateway.
// An empty secret sends the event unsigned.
func (a *App) SendWebhook(ctx context.Context, path string, secret []byte) error {
	defer zero(secret)

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to read payload file: %w", err)
	}
	if info.Size() > MaxPayloadFileSize {
		return fmt.Errorf("payload file too large: %d bytes (max %d)", info.Size(), MaxPayloadFileSize)
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read payload file: %w", err)
	}

	var signature string
	if len(secret) > 0 {
		signature = webhook.Sign(payload, string(secret), time.Now())
	}

	resp, err := a.client().SendWebhook(ctx, payload, signature)
	if err != nil {
		return err
	}

	fmt.Fprintln(a.Out, SuccessStyle.Render("✓ Webhook accepted"))
	if resp.Duplicate {
		a.row("Outcome:", WarningStyle.Render("duplicate event"))
	} else {
		a.row("Outcome:", resp.Outcome)
	}
	return nil
}

// Health prints the gateway's health
func (a *App) Health() error {
	h := checkAPIHealthFunc(a.Config.API.Endpoint)

	fmt.Fprintln(a.Out, TitleStyle.Render("keygate health"))
	a.row("Endpoint:", a.Config.API.Endpoint)
	a.row("API:", renderStatus(h.Status))
	if h.Latency > 0 {
		a.row("Latency:", h.Latency.Round(time.Millisecond))
	}
	if h.Detail != "" {
		a.row("Detail:", h.Detail)
	}

	names := make([]string, 0, len(h.Services))
	for name := range h.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		a.row(name+":", renderStatus(h.Services[name]))
	}
	return nil
}
