// Package photo downloads listing photos on demand and keeps them on disk
// under a content-addressed name.
package photo

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ppiankov/rentscout/internal/listing"
	"github.com/ppiankov/rentscout/internal/telegram"
)

// DefaultURLPrefix is where the static server exposes the photo directory.
const DefaultURLPrefix = "/static/photos"

// DefaultDownloadTimeout bounds one shared download.
const DefaultDownloadTimeout = 2 * time.Minute

// ErrMediaNotFound means the message does not exist or carries no photo.
var ErrMediaNotFound = errors.New("photo not found")

// Mirror publishes downloaded photos somewhere other than the local disk.
type Mirror interface {
	Upload(ctx context.Context, key, path string) error
	URL(key string) string
}

// Options tune a Cache.
type Options struct {
	Dir       string
	URLPrefix string
	Mirror    Mirror
	Logger    *slog.Logger
	// DownloadTimeout bounds a download shared by concurrent callers. It
	// does not end when the first caller goes away.
	DownloadTimeout time.Duration
}

// Cache fetches photos through the primary client. Each photo is
// downloaded at most once while its file exists.
type Cache struct {
	client telegram.Client
	dir    string
	prefix string
	mirror  Mirror
	log     *slog.Logger
	timeout time.Duration
	group   singleflight.Group
}

func New(client telegram.Client, opts Options) (*Cache, error) {
	if client == nil {
		return nil, errors.New("photo: client is required")
	}
	if strings.TrimSpace(opts.Dir) == "" {
		return nil, errors.New("photo: dir is required")
	}
	if opts.URLPrefix == "" {
		opts.URLPrefix = DefaultURLPrefix
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = DefaultDownloadTimeout
	}
	return &Cache{
		client:  client,
		dir:     opts.Dir,
		prefix:  strings.TrimSuffix(opts.URLPrefix, "/"),
		mirror:  opts.Mirror,
		log:     opts.Logger.With("component", "photo"),
		timeout: opts.DownloadTimeout,
	}, nil
}

// Key names the cached file for a message of a channel.
func Key(messageID int, channel string) string {
	sum := md5.Sum([]byte(strconv.Itoa(messageID) + "_" + listing.NormalizeChannel(channel)))
	return hex.EncodeToString(sum[:])
}

// Get returns a URL for the photo of message messageID in channel,
// downloading it first if it is not cached.
func (c *Cache) Get(ctx context.Context, messageID int, channel string) (string, error) {
	if listing.NormalizeChannel(channel) == "" {
		return "", fmt.Errorf("%w: channel is required", ErrMediaNotFound)
	}
	key := Key(messageID, channel)
	path := c.path(key)
	if exists(path) {
		return c.reference(key), nil
	}

	_, err, _ := c.group.Do(key, func() (any, error) {
		if exists(path) {
			return nil, nil
		}
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return nil, c.download(dctx, messageID, channel, key, path)
	})
	if err != nil {
		return "", err
	}
	return c.reference(key), nil
}

func (c *Cache) download(ctx context.Context, messageID int, channel, key, path string) error {
	ch, err := c.client.ResolveChannel(ctx, channel)
	if errors.Is(err, telegram.ErrNotFound) {
		return fmt.Errorf("%w: channel %s", ErrMediaNotFound, channel)
	}
	if err != nil {
		return fmt.Errorf("resolve channel: %w", err)
	}

	msg, err := c.client.GetMessage(ctx, ch, messageID)
	if errors.Is(err, telegram.ErrNotFound) {
		return fmt.Errorf("%w: message %d", ErrMediaNotFound, messageID)
	}
	if err != nil {
		return fmt.Errorf("get message: %w", err)
	}
	if !msg.HasPhoto {
		return fmt.Errorf("%w: message %d has no photo", ErrMediaNotFound, messageID)
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create photo dir: %w", err)
	}
	tmp, err := os.CreateTemp(c.dir, key+"-*.part")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer func() { _ = os.Remove(tmpPath) }()

	if err := c.client.DownloadMedia(ctx, msg, tmpPath); err != nil {
		if errors.Is(err, telegram.ErrNoMedia) {
			return fmt.Errorf("%w: message %d", ErrMediaNotFound, messageID)
		}
		return fmt.Errorf("download photo: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("store photo: %w", err)
	}

	if c.mirror != nil {
		if err := c.mirror.Upload(ctx, key, path); err != nil {
			_ = os.Remove(path)
			return fmt.Errorf("mirror photo: %w", err)
		}
	}
	c.log.Debug("photo cached", "channel", channel, "message", messageID, "key", key)
	return nil
}

// Purge removes every cached photo.
func (c *Cache) Purge() error {
	entries, err := os.ReadDir(c.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read photo dir: %w", err)
	}
	var errs []error
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !(strings.HasSuffix(name, ".jpg") || strings.HasSuffix(name, ".part")) {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key+".jpg")
}

func (c *Cache) reference(key string) string {
	if c.mirror != nil {
		return c.mirror.URL(key)
	}
	return c.prefix + "/" + key + ".jpg"
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
