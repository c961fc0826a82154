package cli

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ppiankov/rentscout/internal/config"
	"github.com/ppiankov/rentscout/internal/telegram/telegramtest"
)

// setupConfigDir writes a config into a temp dir and points the command
// globals at it. It returns the dir.
func setupConfigDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, key := range []string{"TELEGRAM_API_ID", "TELEGRAM_API_HASH", "TELEGRAM_CHANNEL", "RENTSCOUT_ADMIN_TOKEN", "HOST", "PORT"} {
		t.Setenv(key, "")
	}

	content := "telegram:\n" +
		"  session_path: \"" + filepath.Join(dir, "session.json") + "\"\n" +
		"  channels:\n" +
		"    - \"@danang_rent\"\n" +
		"storage:\n" +
		"  path: \"" + filepath.Join(dir, "rentscout.db") + "\"\n" +
		"photos:\n" +
		"  dir: \"" + filepath.Join(dir, "photos") + "\"\n" +
		"log:\n" +
		"  level: error\n" +
		"  format: text\n"
	if err := os.WriteFile(filepath.Join(dir, config.DefaultConfigFile), []byte(content), 0o644); err != nil {
		t.Fatalf("write test config: %v", err)
	}

	old := configDir
	t.Cleanup(func() { configDir = old })
	configDir = dir
	return dir
}

// useFakeTransport makes newApp talk to fake.
func useFakeTransport(t *testing.T, fake *telegramtest.Fake) {
	t.Helper()
	old := openTransport
	t.Cleanup(func() { openTransport = old })
	openTransport = func(context.Context, *config.Config) (*transport, error) {
		return &transport{primary: fake, dialer: fake, linker: fake}, nil
	}
}

func captureStdout(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	oldStdout := os.Stdout
	reader, writer, err := os.Pipe()
	if err != nil {
		t.Fatalf("open stdout pipe: %v", err)
	}

	os.Stdout = writer
	runErr := fn()
	_ = writer.Close()
	os.Stdout = oldStdout

	out, readErr := io.ReadAll(reader)
	_ = reader.Close()
	if readErr != nil {
		t.Fatalf("read stdout pipe: %v", readErr)
	}
	return string(out), runErr
}

func requireContains(t *testing.T, got, want string) {
	t.Helper()

	if !strings.Contains(got, want) {
		t.Fatalf("expected output to contain %q, got:\n%s", want, got)
	}
}
