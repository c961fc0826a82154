package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/rentscout/internal/config"
)

const envExampleFile = ".env.example"

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config directory with example files",
	RunE:  initAction,
}

func initAction(_ *cobra.Command, _ []string) error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	created := 0
	for _, f := range []struct {
		name string
		data string
	}{
		{config.DefaultConfigFile, exampleConfig},
		{envExampleFile, exampleEnv},
	} {
		wrote, err := writeIfNotExists(filepath.Join(configDir, f.name), []byte(f.data))
		if err != nil {
			return err
		}
		if wrote {
			created++
		}
	}

	if created == 0 {
		fmt.Printf("Config directory %s already initialized.\n", configDir)
	} else {
		fmt.Printf("Initialized %s with %d files. Copy %s to .env and fill in your API credentials.\n",
			configDir, created, envExampleFile)
	}
	return nil
}

// writeIfNotExists writes data to path if the file does not exist.
// Returns true if the file was created.
func writeIfNotExists(path string, data []byte) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("  exists: %s\n", path)
		return false, nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("  created: %s\n", path)
	return true, nil
}

const exampleConfig = `# rentscout configuration

telegram:
  api_id_env: TELEGRAM_API_ID
  api_hash_env: TELEGRAM_API_HASH
  session_path: .rentscout/session.json
  channels:
    - "@your_rental_channel"

fetch:
  days: 7
  max_parallel: 8
  cache_ttl: 30m
  # refresh_cron: "*/30 * * * *"

auth:
  link_timeout: 5m
  admin_token_env: RENTSCOUT_ADMIN_TOKEN

photos:
  dir: static/photos
  url_prefix: /static/photos
  s3:
    bucket: ""
    # region: ap-southeast-1
    # endpoint: https://sgp1.digitaloceanspaces.com
    # public_base_url: https://cdn.example.com

server:
  addr: 0.0.0.0:8000
  static_dir: static
  cors_origins: []

storage:
  path: .rentscout/rentscout.db
  retain_days: 30

log:
  level: info
  format: console

privacy:
  redact:
    enabled: false
    patterns:
      - "preset:phone"
`

const exampleEnv = `TELEGRAM_API_ID=
TELEGRAM_API_HASH=
# TELEGRAM_CHANNEL=@channel_one,@channel_two
# RENTSCOUT_ADMIN_TOKEN=
# PORT=8000
`
