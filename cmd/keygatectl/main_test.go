package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func executeRoot(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	cmd := newRootCmd()
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestAccount_RequiresCustomerArg(t *testing.T) {
	_, _, err := executeRoot(t, "account")
	if err == nil {
		t.Fatal("expected error when customer arg is omitted")
	}
	if !strings.Contains(err.Error(), "accepts 1 arg(s), received 0") {
		t.Fatalf("expected arg validation error, got: %v", err)
	}
}

func TestCall_RequiresKeyFlag(t *testing.T) {
	_, _, err := executeRoot(t, "call")
	if err == nil {
		t.Fatal("expected error when --key is omitted")
	}
	if !strings.Contains(err.Error(), `required flag(s) "key" not set`) {
		t.Fatalf("expected required flag error, got: %v", err)
	}
}

func TestCheckout_UsesEndpointFlag(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"id":  "cs_123",
			"url": "https://checkout.stripe.com/c/pay/cs_123",
		})
	}))
	defer server.Close()

	stdout, _, err := executeRoot(t, "checkout", "--endpoint", server.URL)
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if !strings.Contains(stdout, "cs_123") {
		t.Errorf("output should include the session ID, got: %s", stdout)
	}
}

func TestHelp_ListsCommands(t *testing.T) {
	stdout, stderr, err := executeRoot(t, "--help")
	if err != nil {
		t.Fatalf("help command failed: %v", err)
	}

	help := stdout + "\n" + stderr
	for _, name := range []string{"login", "account", "usage", "checkout", "call", "health", "webhook"} {
		if !strings.Contains(help, name) {
			t.Errorf("help output missing %q", name)
		}
	}
}
