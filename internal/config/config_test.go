package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTestYAML(t *testing.T, dir, filename, content string) string {
	t.Helper()
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write test yaml: %v", err)
	}
	return path
}

// clearEnv blanks every variable Load consults so the host environment
// does not leak into tests.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		DefaultAPIIDEnv, DefaultAPIHashEnv, DefaultChannelEnv, DefaultAdminEnv,
		DefaultS3AccessEnv, DefaultS3SecretEnv, "HOST", "PORT",
	} {
		t.Setenv(k, "")
	}
}

// --- Load tests ---

func TestLoad_FullConfig(t *testing.T) {
	dir := t.TempDir()
	clearEnv(t)
	t.Setenv("TEST_TG_ID", "12345")
	t.Setenv("TEST_TG_HASH", "abcdef")
	t.Setenv("TEST_ADMIN", "s3cret")
	t.Setenv("TEST_S3_KEY", "AKIA")
	t.Setenv("TEST_S3_SECRET", "shh")

	writeTestYAML(t, dir, DefaultConfigFile, `
telegram:
  api_id_env: TEST_TG_ID
  api_hash_env: TEST_TG_HASH
  session_path: data/session.json
  channels:
    - "@danang_rent"
    - "hoian_rent"
fetch:
  days: 14
  max_parallel: 2
  cache_ttl: 45m
  refresh_cron: "*/30 * * * *"
auth:
  link_timeout: 2m
  admin_token_env: TEST_ADMIN
photos:
  dir: data/photos
  url_prefix: /media
  s3:
    bucket: rent-photos
    region: ap-southeast-1
    access_key_env: TEST_S3_KEY
    secret_key_env: TEST_S3_SECRET
server:
  addr: "127.0.0.1:9000"
  static_dir: public
  cors_origins: ["https://rent.example.com"]
storage:
  path: custom.db
  retain_days: 60
log:
  level: debug
  format: json
privacy:
  redact:
    enabled: true
    patterns:
      - "preset:phone"
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	// Telegram
	if cfg.Telegram.APIID != 12345 {
		t.Errorf("api_id = %d, want 12345", cfg.Telegram.APIID)
	}
	if cfg.Telegram.APIHash != "abcdef" {
		t.Errorf("api_hash = %q, want abcdef", cfg.Telegram.APIHash)
	}
	if cfg.Telegram.SessionPath != "data/session.json" {
		t.Errorf("session_path = %q", cfg.Telegram.SessionPath)
	}
	if len(cfg.Telegram.Channels) != 2 || cfg.Telegram.Channels[1] != "hoian_rent" {
		t.Errorf("channels = %v", cfg.Telegram.Channels)
	}

	// Fetch
	if cfg.Fetch.Days != 14 || cfg.Fetch.MaxParallel != 2 {
		t.Errorf("fetch = %+v", cfg.Fetch)
	}
	if cfg.Fetch.CacheTTL.Duration != 45*time.Minute {
		t.Errorf("cache_ttl = %v, want 45m", cfg.Fetch.CacheTTL.Duration)
	}
	if cfg.Fetch.RefreshCron != "*/30 * * * *" {
		t.Errorf("refresh_cron = %q", cfg.Fetch.RefreshCron)
	}

	// Auth
	if cfg.Auth.LinkTimeout.Duration != 2*time.Minute {
		t.Errorf("link_timeout = %v", cfg.Auth.LinkTimeout.Duration)
	}
	if cfg.Auth.AdminToken != "s3cret" {
		t.Errorf("admin token = %q", cfg.Auth.AdminToken)
	}

	// Photos
	if cfg.Photos.Dir != "data/photos" || cfg.Photos.URLPrefix != "/media" {
		t.Errorf("photos = %+v", cfg.Photos)
	}
	if !cfg.Photos.S3.Enabled() || cfg.Photos.S3.AccessKey != "AKIA" || cfg.Photos.S3.SecretKey != "shh" {
		t.Errorf("s3 = %+v", cfg.Photos.S3)
	}

	// Server
	if cfg.Server.Addr != "127.0.0.1:9000" || cfg.Server.StaticDir != "public" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if len(cfg.Server.CORSOrigins) != 1 {
		t.Errorf("cors_origins = %v", cfg.Server.CORSOrigins)
	}

	// Storage
	if cfg.Storage.Path != "custom.db" || cfg.Storage.RetainDays != 60 {
		t.Errorf("storage = %+v", cfg.Storage)
	}

	// Log
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("log = %+v", cfg.Log)
	}

	// Privacy
	if !cfg.Privacy.Redact.Enabled || len(cfg.Privacy.Redact.Patterns) != 1 {
		t.Errorf("redact = %+v", cfg.Privacy.Redact)
	}
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	clearEnv(t)
	writeTestYAML(t, dir, DefaultConfigFile, "telegram:\n  channels: [\"@danang_rent\"]\n")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Telegram.APIIDEnv != DefaultAPIIDEnv || cfg.Telegram.APIHashEnv != DefaultAPIHashEnv {
		t.Errorf("env names = %q, %q", cfg.Telegram.APIIDEnv, cfg.Telegram.APIHashEnv)
	}
	if cfg.Telegram.SessionPath != DefaultSessionPath {
		t.Errorf("session_path = %q", cfg.Telegram.SessionPath)
	}
	if cfg.Fetch.Days != DefaultFetchDays || cfg.Fetch.MaxParallel != DefaultMaxParallel {
		t.Errorf("fetch = %+v", cfg.Fetch)
	}
	if cfg.Fetch.CacheTTL.Duration != DefaultCacheTTL {
		t.Errorf("cache_ttl = %v", cfg.Fetch.CacheTTL.Duration)
	}
	if cfg.Auth.LinkTimeout.Duration != DefaultLinkTimeout {
		t.Errorf("link_timeout = %v", cfg.Auth.LinkTimeout.Duration)
	}
	if cfg.Photos.Dir != DefaultPhotoDir || cfg.Photos.URLPrefix != DefaultPhotoPrefix {
		t.Errorf("photos = %+v", cfg.Photos)
	}
	if cfg.Photos.S3.Enabled() {
		t.Error("s3 enabled without bucket")
	}
	if cfg.Server.Addr != "0.0.0.0:8000" {
		t.Errorf("addr = %q, want 0.0.0.0:8000", cfg.Server.Addr)
	}
	if cfg.Storage.Path != DefaultStoragePath || cfg.Storage.RetainDays != DefaultRetainDays {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Log.Level != DefaultLogLevel || cfg.Log.Format != DefaultLogFormat {
		t.Errorf("log = %+v", cfg.Log)
	}
	if cfg.Telegram.APIID != 0 || cfg.Telegram.APIHash != "" {
		t.Errorf("credentials resolved from empty env: %+v", cfg.Telegram)
	}
}

func TestLoad_HostPortOverride(t *testing.T) {
	dir := t.TempDir()
	clearEnv(t)
	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("PORT", "8080")
	writeTestYAML(t, dir, DefaultConfigFile, "server:\n  addr: \"0.0.0.0:9000\"\n")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:8080" {
		t.Errorf("addr = %q, want 127.0.0.1:8080", cfg.Server.Addr)
	}
}

func TestLoad_ChannelsFromEnv(t *testing.T) {
	dir := t.TempDir()
	clearEnv(t)
	t.Setenv(DefaultChannelEnv, "danang_rent, @hoian_rent ,")
	writeTestYAML(t, dir, DefaultConfigFile, "fetch:\n  days: 3\n")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Telegram.Channels) != 2 || cfg.Telegram.Channels[1] != "@hoian_rent" {
		t.Errorf("channels = %v", cfg.Telegram.Channels)
	}
}

func TestLoad_ConfiguredChannelsWinOverEnv(t *testing.T) {
	dir := t.TempDir()
	clearEnv(t)
	t.Setenv(DefaultChannelEnv, "from_env")
	writeTestYAML(t, dir, DefaultConfigFile, "telegram:\n  channels: [from_yaml]\n")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Telegram.Channels) != 1 || cfg.Telegram.Channels[0] != "from_yaml" {
		t.Errorf("channels = %v", cfg.Telegram.Channels)
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	clearEnv(t)
	const key = "RENTSCOUT_TEST_DOTENV_HASH"
	_ = os.Unsetenv(key)
	t.Cleanup(func() { _ = os.Unsetenv(key) })

	writeTestYAML(t, dir, ".env", key+"=from-dotenv\n")
	writeTestYAML(t, dir, DefaultConfigFile, "telegram:\n  api_hash_env: "+key+"\n")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.APIHash != "from-dotenv" {
		t.Errorf("api_hash = %q, want from-dotenv", cfg.Telegram.APIHash)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		env  map[string]string
		want string
	}{
		{"days too large", "fetch:\n  days: 91\n", nil, "fetch.days"},
		{"negative parallel", "fetch:\n  max_parallel: -1\n", nil, "fetch.max_parallel"},
		{"bad duration", "fetch:\n  cache_ttl: soon\n", nil, "parse duration"},
		{"bad log format", "log:\n  format: xml\n", nil, "log.format"},
		{"bad log level", "log:\n  level: loud\n", nil, "log.level"},
		{"bad addr", "server:\n  addr: nowhere\n", nil, "server.addr"},
		{"bad port", "", map[string]string{"PORT": "http"}, "server.addr"},
		{"bad url prefix", "photos:\n  url_prefix: media\n", nil, "photos.url_prefix"},
		{"bad api id", "", map[string]string{DefaultAPIIDEnv: "abc"}, DefaultAPIIDEnv},
		{"bad yaml", "telegram: [\n", nil, "parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			writeTestYAML(t, dir, DefaultConfigFile, tt.yaml)

			_, err := Load(dir)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatal("expected error for missing config")
	}
}

func TestLoad_EmptyDir(t *testing.T) {
	if _, err := Load(" "); err == nil {
		t.Fatal("expected error for empty dir")
	}
}

func TestRequireTelegram(t *testing.T) {
	cfg := &Config{Telegram: TelegramConfig{APIIDEnv: "ID", APIHashEnv: "HASH"}}
	if err := cfg.RequireTelegram(); err == nil || !strings.Contains(err.Error(), "ID") {
		t.Errorf("expected api id error, got %v", err)
	}
	cfg.Telegram.APIID = 1
	if err := cfg.RequireTelegram(); err == nil || !strings.Contains(err.Error(), "HASH") {
		t.Errorf("expected api hash error, got %v", err)
	}
	cfg.Telegram.APIHash = "h"
	if err := cfg.RequireTelegram(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
