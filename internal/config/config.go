package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultDir         = ".rentscout"
	DefaultConfigFile  = "config.yaml"
	DefaultSessionPath = ".rentscout/session.json"
	DefaultStoragePath = ".rentscout/rentscout.db"
	DefaultRetainDays  = 30
	DefaultFetchDays   = 7
	DefaultMaxParallel = 8
	DefaultCacheTTL    = 30 * time.Minute
	DefaultLinkTimeout = 5 * time.Minute
	DefaultStaticDir   = "static"
	DefaultPhotoDir    = "static/photos"
	DefaultPhotoPrefix = "/static/photos"
	DefaultHost        = "0.0.0.0"
	DefaultPort        = 8000
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "console"
	DefaultAPIIDEnv    = "TELEGRAM_API_ID"
	DefaultAPIHashEnv  = "TELEGRAM_API_HASH"
	DefaultChannelEnv  = "TELEGRAM_CHANNEL"
	DefaultAdminEnv    = "RENTSCOUT_ADMIN_TOKEN"
	DefaultS3AccessEnv = "AWS_ACCESS_KEY_ID"
	DefaultS3SecretEnv = "AWS_SECRET_ACCESS_KEY"
	minFetchDays       = 1
	maxFetchDays       = 90
)

// Duration wraps time.Duration for YAML values like "30m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

type Config struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Auth     AuthConfig     `yaml:"auth"`
	Photos   PhotosConfig   `yaml:"photos"`
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Log      LogConfig      `yaml:"log"`
	Privacy  PrivacyConfig  `yaml:"privacy"`
}

type TelegramConfig struct {
	APIIDEnv    string   `yaml:"api_id_env"`
	APIHashEnv  string   `yaml:"api_hash_env"`
	ChannelEnv  string   `yaml:"channel_env"`
	SessionPath string   `yaml:"session_path"`
	Channels    []string `yaml:"channels"`

	// Resolved from env vars at load time.
	APIID   int    `yaml:"-"`
	APIHash string `yaml:"-"`
}

type FetchConfig struct {
	Days        int      `yaml:"days"`
	MaxParallel int      `yaml:"max_parallel"`
	CacheTTL    Duration `yaml:"cache_ttl"`
	// RefreshCron enables scheduled refreshes, e.g. "*/30 * * * *".
	RefreshCron string `yaml:"refresh_cron"`
}

type AuthConfig struct {
	LinkTimeout   Duration `yaml:"link_timeout"`
	AdminTokenEnv string   `yaml:"admin_token_env"`

	AdminToken string `yaml:"-"`
}

type PhotosConfig struct {
	Dir       string   `yaml:"dir"`
	URLPrefix string   `yaml:"url_prefix"`
	S3        S3Config `yaml:"s3"`
}

type S3Config struct {
	Bucket        string `yaml:"bucket"`
	Region        string `yaml:"region"`
	Endpoint      string `yaml:"endpoint"`
	PublicBaseURL string `yaml:"public_base_url"`
	AccessKeyEnv  string `yaml:"access_key_env"`
	SecretKeyEnv  string `yaml:"secret_key_env"`

	AccessKey string `yaml:"-"`
	SecretKey string `yaml:"-"`
}

// Enabled reports whether photos are mirrored to a bucket.
func (s S3Config) Enabled() bool {
	return s.Bucket != ""
}

type ServerConfig struct {
	Addr        string   `yaml:"addr"`
	StaticDir   string   `yaml:"static_dir"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type StorageConfig struct {
	Path       string `yaml:"path"`
	RetainDays int    `yaml:"retain_days"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type PrivacyConfig struct {
	Redact RedactConfig `yaml:"redact"`
}

type RedactConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Patterns []string `yaml:"patterns"`
}

// Load reads config.yaml from dir, applies defaults, resolves env vars, and validates.
// A .env file in dir or the working directory is loaded first; variables
// already set in the environment win.
func Load(dir string) (*Config, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("config dir is required")
	}

	loadDotEnv(dir)

	path := filepath.Join(dir, DefaultConfigFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	if err := resolveEnv(&cfg); err != nil {
		return nil, fmt.Errorf("resolve env: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func loadDotEnv(dir string) {
	for _, p := range []string{filepath.Join(dir, ".env"), ".env"} {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}

func applyDefaults(cfg *Config) {
	t := &cfg.Telegram
	if t.APIIDEnv == "" {
		t.APIIDEnv = DefaultAPIIDEnv
	}
	if t.APIHashEnv == "" {
		t.APIHashEnv = DefaultAPIHashEnv
	}
	if t.ChannelEnv == "" {
		t.ChannelEnv = DefaultChannelEnv
	}
	if t.SessionPath == "" {
		t.SessionPath = DefaultSessionPath
	}
	if cfg.Fetch.Days == 0 {
		cfg.Fetch.Days = DefaultFetchDays
	}
	if cfg.Fetch.MaxParallel == 0 {
		cfg.Fetch.MaxParallel = DefaultMaxParallel
	}
	if cfg.Fetch.CacheTTL.Duration == 0 {
		cfg.Fetch.CacheTTL.Duration = DefaultCacheTTL
	}
	if cfg.Auth.LinkTimeout.Duration == 0 {
		cfg.Auth.LinkTimeout.Duration = DefaultLinkTimeout
	}
	if cfg.Auth.AdminTokenEnv == "" {
		cfg.Auth.AdminTokenEnv = DefaultAdminEnv
	}
	if cfg.Photos.Dir == "" {
		cfg.Photos.Dir = DefaultPhotoDir
	}
	if cfg.Photos.URLPrefix == "" {
		cfg.Photos.URLPrefix = DefaultPhotoPrefix
	}
	if cfg.Photos.S3.AccessKeyEnv == "" {
		cfg.Photos.S3.AccessKeyEnv = DefaultS3AccessEnv
	}
	if cfg.Photos.S3.SecretKeyEnv == "" {
		cfg.Photos.S3.SecretKeyEnv = DefaultS3SecretEnv
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = net.JoinHostPort(DefaultHost, strconv.Itoa(DefaultPort))
	}
	if cfg.Server.StaticDir == "" {
		cfg.Server.StaticDir = DefaultStaticDir
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultStoragePath
	}
	if cfg.Storage.RetainDays == 0 {
		cfg.Storage.RetainDays = DefaultRetainDays
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}

func resolveEnv(cfg *Config) error {
	t := &cfg.Telegram
	if raw := strings.TrimSpace(os.Getenv(t.APIIDEnv)); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%s: not a number: %q", t.APIIDEnv, raw)
		}
		t.APIID = id
	}
	t.APIHash = os.Getenv(t.APIHashEnv)
	if len(t.Channels) == 0 {
		for _, ch := range strings.Split(os.Getenv(t.ChannelEnv), ",") {
			if ch = strings.TrimSpace(ch); ch != "" {
				t.Channels = append(t.Channels, ch)
			}
		}
	}

	cfg.Auth.AdminToken = os.Getenv(cfg.Auth.AdminTokenEnv)
	cfg.Photos.S3.AccessKey = os.Getenv(cfg.Photos.S3.AccessKeyEnv)
	cfg.Photos.S3.SecretKey = os.Getenv(cfg.Photos.S3.SecretKeyEnv)

	host, port, err := net.SplitHostPort(cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("server.addr: %w", err)
	}
	if v := os.Getenv("HOST"); v != "" {
		host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		port = v
	}
	cfg.Server.Addr = net.JoinHostPort(host, port)
	return nil
}

func validate(cfg *Config) error {
	if cfg.Fetch.Days < minFetchDays || cfg.Fetch.Days > maxFetchDays {
		return fmt.Errorf("fetch.days: must be between %d and %d, got %d", minFetchDays, maxFetchDays, cfg.Fetch.Days)
	}
	if cfg.Fetch.MaxParallel < 0 {
		return fmt.Errorf("fetch.max_parallel: must not be negative, got %d", cfg.Fetch.MaxParallel)
	}
	if cfg.Fetch.CacheTTL.Duration < 0 || cfg.Auth.LinkTimeout.Duration < 0 {
		return errors.New("durations must not be negative")
	}

	if _, port, err := net.SplitHostPort(cfg.Server.Addr); err != nil {
		return fmt.Errorf("server.addr: %w", err)
	} else if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("server.addr: invalid port %q", port)
	}

	if !strings.HasPrefix(cfg.Photos.URLPrefix, "/") && !strings.Contains(cfg.Photos.URLPrefix, "://") {
		return fmt.Errorf("photos.url_prefix: must be a path or absolute URL, got %q", cfg.Photos.URLPrefix)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch cfg.Log.Format {
	case "console", "json", "text":
		// valid
	default:
		return fmt.Errorf("log.format: unknown format %q (want console, json or text)", cfg.Log.Format)
	}

	return nil
}

// RequireTelegram checks that API credentials were resolved. Commands
// that talk to Telegram call it; offline commands do not.
func (c *Config) RequireTelegram() error {
	if c.Telegram.APIID == 0 {
		return fmt.Errorf("telegram api id is not set (env %s)", c.Telegram.APIIDEnv)
	}
	if c.Telegram.APIHash == "" {
		return fmt.Errorf("telegram api hash is not set (env %s)", c.Telegram.APIHashEnv)
	}
	return nil
}
