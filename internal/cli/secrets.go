package cli

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/99designs/keyring"
	"golang.org/x/term"
)

// ErrNotLoggedIn is returned when no admin secret is available
var ErrNotLoggedIn = errors.New("no admin secret stored, run 'keygatectl login' first")

// openKeyringFunc is swapped for an in-memory keyring in tests
var openKeyringFunc = openKeyring

// openKeyring opens the OS keyring with appropriate configuration
func openKeyring() (keyring.Keyring, error) {
	if runtime.GOOS == "linux" {
		return openLinuxKeyring()
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName:              KeyringService,
		KeychainName:             KeyringService,
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open system keyring: %w", err)
	}
	return ring, nil
}

// openLinuxKeyring tries Linux backends in order and reports why each failed
func openLinuxKeyring() (keyring.Keyring, error) {
	backends := []struct {
		name      string
		backend   keyring.BackendType
		available func() bool
		missing   string
	}{
		{"Secret Service", keyring.SecretServiceBackend, hasEnv("DBUS_SESSION_BUS_ADDRESS"), "DBUS_SESSION_BUS_ADDRESS not set (is a desktop session running?)"},
		{"KWallet", keyring.KWalletBackend, hasEnv("KDE_SESSION_VERSION"), "KDE_SESSION_VERSION not set (not running KDE?)"},
		{"pass", keyring.PassBackend, hasPass, "'pass' command not found in PATH"},
	}

	var failures []string
	for _, b := range backends {
		if !b.available() {
			failures = append(failures, fmt.Sprintf("%s: %s", b.name, b.missing))
			continue
		}
		ring, err := keyring.Open(keyring.Config{
			ServiceName:              KeyringService,
			KeychainName:             KeyringService,
			KeychainTrustApplication: true,
			AllowedBackends:          []keyring.BackendType{b.backend},
		})
		if err == nil {
			return ring, nil
		}
		failures = append(failures, fmt.Sprintf("%s: %v", b.name, err))
	}

	return nil, fmt.Errorf("no secure keyring available:\n  - %s\n\nSet %s instead to skip the keyring", strings.Join(failures, "\n  - "), EnvAdminSecret)
}

func hasEnv(name string) func() bool {
	return func() bool { return os.Getenv(name) != "" }
}

func hasPass() bool {
	_, err := exec.LookPath("pass")
	return err == nil
}

// StoreAdminSecret saves the admin signing secret in the keyring
func StoreAdminSecret(secret []byte) error {
	ring, err := openKeyringFunc()
	if err != nil {
		return err
	}
	return ring.Set(keyring.Item{
		Key:         AdminSecretKey,
		Data:        secret,
		Label:       "keygate admin secret",
		Description: "HS256 secret for keygate admin API tokens",
	})
}

// LoadAdminSecret returns the admin secret from the environment or the keyring
func LoadAdminSecret() ([]byte, error) {
	if env := os.Getenv(EnvAdminSecret); env != "" {
		return []byte(env), nil
	}

	ring, err := openKeyringFunc()
	if err != nil {
		return nil, err
	}
	item, err := ring.Get(AdminSecretKey)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, ErrNotLoggedIn
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read admin secret: %w", err)
	}
	return item.Data, nil
}

// RemoveAdminSecret deletes the stored admin secret, if any
func RemoveAdminSecret() error {
	ring, err := openKeyringFunc()
	if err != nil {
		return err
	}
	if err := ring.Remove(AdminSecretKey); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("failed to remove admin secret: %w", err)
	}
	return nil
}

// ReadSecret resolves a secret from a flag value, an environment variable,
// or an interactive prompt, in that order
func ReadSecret(flagValue, envVar, prompt string) ([]byte, error) {
	if flagValue != "" {
		return []byte(flagValue), nil
	}
	if env := os.Getenv(envVar); env != "" {
		return []byte(env), nil
	}

	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Print(prompt)
		secret, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return nil, fmt.Errorf("failed to read secret: %w", err)
		}
		trimmed := []byte(strings.TrimSpace(string(secret)))
		zero(secret)
		if len(trimmed) == 0 {
			return nil, errors.New("empty secret")
		}
		return trimmed, nil
	}

	return nil, fmt.Errorf("no secret provided. Use the flag, %s, or run interactively", envVar)
}

// zero clears sensitive bytes once they are no longer needed
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
