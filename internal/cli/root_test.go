package cli

import (
	"strings"
	"testing"
)

func TestVersionNotEmpty(t *testing.T) {
	if Version == "" {
		t.Error("Version should not be empty")
	}
}

func TestExecuteVersion(t *testing.T) {
	rootCmd.SetArgs([]string{"version"})
	out, err := captureStdout(t, rootCmd.Execute)
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	requireContains(t, out, "rentscout dev")
}

func TestCommandsRegistered(t *testing.T) {
	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	all := strings.Join(names, " ")
	for _, want := range []string{"serve", "fetch", "login", "stats", "doctor", "init", "version"} {
		if !strings.Contains(all, want) {
			t.Errorf("command %q not registered (have %s)", want, all)
		}
	}
}
