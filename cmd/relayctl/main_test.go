package main

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"

	"relayctl/internal/config"

	"github.com/spf13/cobra"
)

// buildRoot constructs the root command as main() does, for use in tests.
func buildRoot() *cobra.Command {
	root := &cobra.Command{
		Use:   "relayctl",
		Short: "Region blocker and latency prober for game relay servers",
	}
	root.AddCommand(runCmd(), reconcileCmd(), probeCmd(), versionCmd())
	return root
}

// TestRootSubcommands verifies all expected subcommands are registered.
func TestRootSubcommands(t *testing.T) {
	root := buildRoot()

	registered := make(map[string]bool)
	for _, cmd := range root.Commands() {
		registered[cmd.Use] = true
	}

	for _, want := range []string{"run", "reconcile", "probe", "version"} {
		if !registered[want] {
			t.Errorf("subcommand %q not registered on root command", want)
		}
	}
}

// TestVersionOutput verifies the version subcommand prints the binary name.
func TestVersionOutput(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	oldStdout := os.Stdout
	os.Stdout = w

	root := buildRoot()
	root.SetArgs([]string{"version"})
	execErr := root.Execute()

	w.Close()
	os.Stdout = oldStdout

	if execErr != nil {
		t.Fatalf("version command returned error: %v", execErr)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(buf.String(), "relayctl") {
		t.Errorf("version output %q does not contain expected string %q", buf.String(), "relayctl")
	}
}

// TestRunDaemonInvalidConfig verifies runDaemon returns an error (not panics)
// when the directory URL is malformed.
func TestRunDaemonInvalidConfig(t *testing.T) {
	t.Setenv("RELAYCTL_DIRECTORY_URL", "not a url")

	err := runDaemon()
	if err == nil {
		t.Fatal("expected runDaemon() to return an error with an invalid directory URL")
	}
}

// TestLoadRejectsInvalidConfig verifies config.Load returns a descriptive error.
func TestLoadRejectsInvalidConfig(t *testing.T) {
	t.Setenv("RELAYCTL_DIRECTORY_URL", "ftp://example.test/config.json")

	_, err := config.Load()
	if err == nil {
		t.Fatal("expected config.Load() to return an error for a non-http URL")
	}
	if !strings.Contains(err.Error(), "RELAYCTL_DIRECTORY_URL") {
		t.Errorf("expected error message to mention RELAYCTL_DIRECTORY_URL; got: %v", err)
	}
}
