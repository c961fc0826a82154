package photo

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/rentscout/internal/telegram"
	"github.com/ppiankov/rentscout/internal/telegram/telegramtest"
)

func newFake() *telegramtest.Fake {
	fake := telegramtest.New()
	fake.Authorize(telegram.Credential("primary"))
	fake.AddChannel("danang_rent",
		telegram.Message{ID: 42, Date: time.Now(), Text: "Studio", HasPhoto: true},
		telegram.Message{ID: 41, Date: time.Now(), Text: "Text only"},
	)
	return fake
}

func newTestCache(t *testing.T, fake *telegramtest.Fake, mirror Mirror) (*Cache, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "photos")
	c, err := New(fake, Options{Dir: dir, Mirror: mirror})
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	return c, dir
}

func TestKey(t *testing.T) {
	if got := Key(42, "@danang_rent"); got != "72bf72b6f00954181efc654fc8c6f1c1" {
		t.Errorf("Key = %s", got)
	}
	if Key(42, "danang_rent") != Key(42, "https://t.me/danang_rent") {
		t.Error("key depends on channel spelling")
	}
	if Key(42, "danang_rent") == Key(43, "danang_rent") {
		t.Error("different messages share a key")
	}
}

func TestGetDownloadsOnce(t *testing.T) {
	fake := newFake()
	c, dir := newTestCache(t, fake, nil)
	ctx := context.Background()

	first, err := c.Get(ctx, 42, "danang_rent")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	second, err := c.Get(ctx, 42, "@danang_rent")
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if first != second {
		t.Errorf("references differ: %s vs %s", first, second)
	}
	want := DefaultURLPrefix + "/" + Key(42, "danang_rent") + ".jpg"
	if first != want {
		t.Errorf("reference = %s, want %s", first, want)
	}
	if fake.Downloads() != 1 {
		t.Errorf("downloads = %d, want 1", fake.Downloads())
	}

	data, err := os.ReadFile(filepath.Join(dir, Key(42, "danang_rent")+".jpg"))
	if err != nil {
		t.Fatalf("read cached photo: %v", err)
	}
	if string(data) != "jpeg:42" {
		t.Errorf("cached body = %q", data)
	}
}

func TestGetConcurrentCallersShareDownload(t *testing.T) {
	fake := newFake()
	c, _ := newTestCache(t, fake, nil)

	const callers = 8
	refs := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			refs[i], errs[i] = c.Get(context.Background(), 42, "danang_rent")
		}()
	}
	wg.Wait()

	for i := range callers {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if refs[i] != refs[0] {
			t.Errorf("caller %d got %s, want %s", i, refs[i], refs[0])
		}
	}
	if fake.Downloads() != 1 {
		t.Errorf("downloads = %d, want 1", fake.Downloads())
	}
}

// ctxClient fails downloads whose context is already done.
type ctxClient struct {
	*telegramtest.Fake
}

func (c ctxClient) DownloadMedia(ctx context.Context, msg telegram.Message, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.Fake.DownloadMedia(ctx, msg, path)
}

func TestGetSharedDownloadOutlivesCaller(t *testing.T) {
	fake := newFake()
	c, err := New(ctxClient{fake}, Options{Dir: filepath.Join(t.TempDir(), "photos")})
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ref, err := c.Get(ctx, 42, "danang_rent")
	if err != nil {
		t.Fatalf("get with cancelled caller: %v", err)
	}
	if ref != DefaultURLPrefix+"/"+Key(42, "danang_rent")+".jpg" {
		t.Errorf("reference = %s", ref)
	}
	if fake.Downloads() != 1 {
		t.Errorf("downloads = %d, want 1", fake.Downloads())
	}
}

func TestGetNotFound(t *testing.T) {
	tests := []struct {
		name    string
		id      int
		channel string
	}{
		{"missing message", 7, "danang_rent"},
		{"no photo", 41, "danang_rent"},
		{"unknown channel", 42, "hoian_rent"},
		{"blank channel", 42, " "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFake()
			c, dir := newTestCache(t, fake, nil)
			_, err := c.Get(context.Background(), tt.id, tt.channel)
			if !errors.Is(err, ErrMediaNotFound) {
				t.Fatalf("expected ErrMediaNotFound, got %v", err)
			}
			if fake.Downloads() != 0 {
				t.Errorf("downloaded %d times", fake.Downloads())
			}
			entries, _ := os.ReadDir(dir)
			if len(entries) != 0 {
				t.Errorf("left %d files behind", len(entries))
			}
		})
	}
}

func TestGetTransportError(t *testing.T) {
	fake := newFake()
	boom := errors.New("flood wait")
	fake.FailResolve("danang_rent", boom)
	c, _ := newTestCache(t, fake, nil)

	_, err := c.Get(context.Background(), 42, "danang_rent")
	if !errors.Is(err, boom) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if errors.Is(err, ErrMediaNotFound) {
		t.Error("transport error reported as not found")
	}
}

func TestPurge(t *testing.T) {
	fake := newFake()
	c, dir := newTestCache(t, fake, nil)
	ctx := context.Background()

	if _, err := c.Get(ctx, 42, "danang_rent"); err != nil {
		t.Fatalf("get: %v", err)
	}
	keep := filepath.Join(dir, "README")
	if err := os.WriteFile(keep, []byte("keep"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := c.Purge(); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, Key(42, "danang_rent")+".jpg")); !os.IsNotExist(err) {
		t.Errorf("photo survived purge: %v", err)
	}
	if _, err := os.Stat(keep); err != nil {
		t.Errorf("unrelated file removed: %v", err)
	}

	if _, err := c.Get(ctx, 42, "danang_rent"); err != nil {
		t.Fatalf("get after purge: %v", err)
	}
	if fake.Downloads() != 2 {
		t.Errorf("downloads = %d, want 2", fake.Downloads())
	}
}

func TestPurgeMissingDir(t *testing.T) {
	c, _ := newTestCache(t, newFake(), nil)
	if err := c.Purge(); err != nil {
		t.Fatalf("purge of missing dir: %v", err)
	}
}

type recordingMirror struct {
	mu      sync.Mutex
	uploads []string
	err     error
}

func (m *recordingMirror) Upload(_ context.Context, key, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, err := os.Stat(path); err != nil {
		return err
	}
	m.uploads = append(m.uploads, key)
	return nil
}

func (m *recordingMirror) URL(key string) string {
	return "https://cdn.example.com/photos/" + key + ".jpg"
}

func TestGetWithMirror(t *testing.T) {
	fake := newFake()
	m := &recordingMirror{}
	c, _ := newTestCache(t, fake, m)

	for range 2 {
		ref, err := c.Get(context.Background(), 42, "danang_rent")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if ref != m.URL(Key(42, "danang_rent")) {
			t.Errorf("reference = %s", ref)
		}
	}
	if len(m.uploads) != 1 {
		t.Errorf("uploads = %d, want 1", len(m.uploads))
	}
}

func TestGetMirrorFailureIsRetried(t *testing.T) {
	fake := newFake()
	m := &recordingMirror{err: errors.New("access denied")}
	c, _ := newTestCache(t, fake, m)

	if _, err := c.Get(context.Background(), 42, "danang_rent"); err == nil {
		t.Fatal("expected mirror error")
	}
	m.err = nil
	if _, err := c.Get(context.Background(), 42, "danang_rent"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if fake.Downloads() != 2 {
		t.Errorf("downloads = %d, want 2", fake.Downloads())
	}
}

func TestObjectURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  S3Config
		want string
	}{
		{"aws", S3Config{Bucket: "rent", Region: "ap-southeast-1"}, "https://rent.s3.ap-southeast-1.amazonaws.com/photos/k.jpg"},
		{"spaces", S3Config{Bucket: "rent", Endpoint: "https://sgp1.digitaloceanspaces.com"}, "https://rent.sgp1.digitaloceanspaces.com/photos/k.jpg"},
		{"path style", S3Config{Bucket: "rent", Endpoint: "http://localhost:9000/"}, "http://localhost:9000/rent/photos/k.jpg"},
		{"public base", S3Config{Bucket: "rent", PublicBaseURL: "https://img.example.com/"}, "https://img.example.com/photos/k.jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := objectURL(tt.cfg, "photos/k.jpg"); got != tt.want {
				t.Errorf("objectURL = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(nil, Options{Dir: "x"}); err == nil {
		t.Error("expected error for nil client")
	}
	if _, err := New(newFake(), Options{}); err == nil {
		t.Error("expected error for empty dir")
	}
}
