package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ppiankov/rentscout/internal/auth"
)

var (
	loginQRPath   string
	loginInterval = 2 * time.Second
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Link this service to a Telegram account by QR code",
	RunE:  loginAction,
}

func init() {
	loginCmd.Flags().StringVar(&loginQRPath, "qr", "", "where to write the QR image (default: <config>/qr.png)")
}

func loginAction(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	ch, err := a.auth.IssueChallenge(ctx)
	if err != nil {
		return fmt.Errorf("issue qr code: %w", err)
	}
	if ch.Status == auth.StatusAlreadyAuthorized {
		fmt.Println("Already logged in.")
		return nil
	}

	path := loginQRPath
	if path == "" {
		path = filepath.Join(configDir, "qr.png")
	}
	if err := os.WriteFile(path, ch.PNG, 0o600); err != nil {
		return fmt.Errorf("write qr image: %w", err)
	}
	defer func() { _ = os.Remove(path) }()

	fmt.Println("Scan the QR code in Telegram: Settings > Devices > Link Desktop Device")
	fmt.Printf("  image:   %s\n", path)
	fmt.Printf("  url:     %s\n", ch.URL)
	if ch.ExpiresAt != nil {
		fmt.Printf("  expires: %s\n", humanize.Time(*ch.ExpiresAt))
	}

	ticker := time.NewTicker(loginInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		st, err := a.auth.PollStatus(ctx)
		if err != nil {
			return fmt.Errorf("link device: %w", err)
		}
		switch st.Status {
		case auth.StatusAuthorized:
			name := "unknown user"
			if st.User != nil {
				name = st.User.FirstName
				if st.User.Username != "" {
					name += " (@" + st.User.Username + ")"
				}
			}
			fmt.Printf("Logged in as %s.\n", name)
			return nil
		case auth.StatusExpired:
			return errors.New("qr code expired, run login again")
		case auth.StatusError:
			return fmt.Errorf("link failed: %s", st.Error)
		}
	}
}
