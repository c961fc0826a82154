package cli

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDoctorReportsMissingSession(t *testing.T) {
	setupConfigDir(t)

	out, err := captureStdout(t, func() error { return doctorAction(newCmd(), nil) })
	if err == nil {
		t.Fatal("expected failure without credentials")
	}
	requireContains(t, out, "[ OK ] config.yaml (1 channels")
	requireContains(t, out, "[FAIL] telegram api id is not set")
	requireContains(t, out, "[FAIL] telegram session")
	requireContains(t, out, "[ OK ] journal")
}

func TestDoctorPasses(t *testing.T) {
	dir := setupConfigDir(t)
	t.Setenv("TELEGRAM_API_ID", "12345")
	t.Setenv("TELEGRAM_API_HASH", "abcdef")
	if err := os.WriteFile(filepath.Join(dir, "session.json"), []byte(`{"Version":1}`), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := captureStdout(t, func() error { return doctorAction(newCmd(), nil) })
	if err != nil {
		t.Fatalf("doctor: %v\n%s", err, out)
	}
	requireContains(t, out, "All checks passed.")
}

func TestDoctorMissingConfig(t *testing.T) {
	old := configDir
	t.Cleanup(func() { configDir = old })
	configDir = filepath.Join(t.TempDir(), "missing")

	out, err := captureStdout(t, func() error { return doctorAction(newCmd(), nil) })
	if err == nil {
		t.Fatal("expected failure")
	}
	requireContains(t, out, "[FAIL] config directory")
}
