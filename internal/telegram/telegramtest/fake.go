// Package telegramtest provides an in-memory telegram transport for tests.
package telegramtest

import (
	"context"
	"fmt"
	"iter"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ppiankov/rentscout/internal/telegram"
)

var (
	_ telegram.Primary = (*Fake)(nil)
	_ telegram.Dialer  = (*Fake)(nil)
	_ telegram.Linker  = (*Fake)(nil)
	_ telegram.Link    = (*Link)(nil)
)

type channelData struct {
	messages []telegram.Message
	err      error
	info     *telegram.ChannelInfo
}

// Fake is a scripted transport. It acts as the primary client, the dialer
// for fetch clients and the device linker at the same time.
type Fake struct {
	mu         sync.Mutex
	authorized bool
	cred       telegram.Credential
	user       telegram.User
	channels   map[string]*channelData
	resolveErr map[string]error
	dialErr    error
	linkErr    error
	saved      telegram.Credential
	links      []*Link

	dials     atomic.Int64
	closes    atomic.Int64
	downloads atomic.Int64
	restarts  atomic.Int64
}

// New returns an unauthorized fake with no channels.
func New() *Fake {
	return &Fake{
		channels:   make(map[string]*channelData),
		resolveErr: make(map[string]error),
		user:       telegram.User{ID: 1, Username: "tester", FirstName: "Test"},
	}
}

// Authorize marks the primary session authorized with cred.
func (f *Fake) Authorize(cred telegram.Credential) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authorized = true
	f.cred = cred
}

// AddChannel registers a channel with messages given newest first.
func (f *Fake) AddChannel(name string, msgs ...telegram.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels[key(name)] = &channelData{messages: msgs}
}

// FailHistory makes history enumeration of name fail with err after its
// messages were yielded.
func (f *Fake) FailHistory(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[key(name)]
	if !ok {
		ch = &channelData{}
		f.channels[key(name)] = ch
	}
	ch.err = err
}

// FailResolve makes resolution of name fail with err.
func (f *Fake) FailResolve(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolveErr[key(name)] = err
}

// FailDial makes every Dial fail with err.
func (f *Fake) FailDial(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dialErr = err
}

// FailLink makes IssueLinkChallenge fail with err.
func (f *Fake) FailLink(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.linkErr = err
}

func (f *Fake) Dials() int     { return int(f.dials.Load()) }
func (f *Fake) Closes() int    { return int(f.closes.Load()) }
func (f *Fake) Downloads() int { return int(f.downloads.Load()) }
func (f *Fake) Restarts() int  { return int(f.restarts.Load()) }

// Saved returns the credential written to the durable slot, if any.
func (f *Fake) Saved() telegram.Credential {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saved
}

// Links returns every link issued so far.
func (f *Fake) Links() []*Link {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Link(nil), f.links...)
}

func key(name string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "@"))
}

func (f *Fake) IsAuthorized(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authorized, nil
}

func (f *Fake) Self(context.Context) (telegram.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.authorized {
		return telegram.User{}, telegram.ErrUnauthorized
	}
	return f.user, nil
}

func (f *Fake) ResolveChannel(_ context.Context, name string) (telegram.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(name)
	if err := f.resolveErr[k]; err != nil {
		return telegram.Channel{}, err
	}
	if _, ok := f.channels[k]; !ok {
		return telegram.Channel{}, fmt.Errorf("resolve %s: %w", name, telegram.ErrNotFound)
	}
	return telegram.Channel{ID: int64(len(k)), Username: k, Title: k, Handle: k}, nil
}

// SetChannelInfo scripts the profile returned for an added channel.
func (f *Fake) SetChannelInfo(name string, info telegram.ChannelInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if data, ok := f.channels[key(name)]; ok {
		data.info = &info
	}
}

// ChannelInfo returns the scripted profile, or one built from ch.
func (f *Fake) ChannelInfo(_ context.Context, ch telegram.Channel) (telegram.ChannelInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.channels[key(ch.Username)]
	if !ok {
		return telegram.ChannelInfo{}, telegram.ErrNotFound
	}
	if data.info != nil {
		return *data.info, nil
	}
	return telegram.ChannelInfo{Title: ch.Title, Username: ch.Username}, nil
}

func (f *Fake) Messages(ctx context.Context, ch telegram.Channel) iter.Seq2[telegram.Message, error] {
	f.mu.Lock()
	data := f.channels[key(ch.Username)]
	var msgs []telegram.Message
	var histErr error
	if data != nil {
		msgs = append(msgs, data.messages...)
		histErr = data.err
	}
	f.mu.Unlock()

	return func(yield func(telegram.Message, error) bool) {
		for _, m := range msgs {
			if err := ctx.Err(); err != nil {
				yield(telegram.Message{}, err)
				return
			}
			if !yield(m, nil) {
				return
			}
		}
		if histErr != nil {
			yield(telegram.Message{}, histErr)
		}
	}
}

func (f *Fake) GetMessage(_ context.Context, ch telegram.Channel, id int) (telegram.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data := f.channels[key(ch.Username)]
	if data == nil {
		return telegram.Message{}, telegram.ErrNotFound
	}
	for _, m := range data.messages {
		if m.ID == id {
			return m, nil
		}
	}
	return telegram.Message{}, telegram.ErrNotFound
}

// DownloadMedia writes a small placeholder JPEG body to path.
func (f *Fake) DownloadMedia(_ context.Context, msg telegram.Message, path string) error {
	if !msg.HasPhoto {
		return telegram.ErrNoMedia
	}
	f.downloads.Add(1)
	// Widen the race window for concurrent callers.
	time.Sleep(10 * time.Millisecond)
	return os.WriteFile(path, []byte(fmt.Sprintf("jpeg:%d", msg.ID)), 0o644)
}

func (f *Fake) ExportCredential(context.Context) (telegram.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.authorized || len(f.cred) == 0 {
		return nil, telegram.ErrUnauthorized
	}
	return f.cred, nil
}

func (f *Fake) Close() error {
	return nil
}

func (f *Fake) SaveCredential(_ context.Context, cred telegram.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = cred
	return nil
}

// Restart adopts the saved credential, if any.
func (f *Fake) Restart(context.Context) error {
	f.restarts.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.saved) > 0 {
		f.authorized = true
		f.cred = f.saved
	}
	return nil
}

// Dial returns a client sharing the fake's channels. It is authorized
// whenever cred is non-empty.
func (f *Fake) Dial(_ context.Context, cred telegram.Credential) (telegram.Client, error) {
	f.dials.Add(1)
	f.mu.Lock()
	err := f.dialErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if len(cred) == 0 {
		return nil, telegram.ErrUnauthorized
	}
	return &dialed{Fake: f, cred: cred}, nil
}

type dialed struct {
	*Fake
	cred telegram.Credential
}

func (d *dialed) IsAuthorized(context.Context) (bool, error) {
	return true, nil
}

func (d *dialed) ExportCredential(context.Context) (telegram.Credential, error) {
	return d.cred, nil
}

func (d *dialed) Close() error {
	d.closes.Add(1)
	return nil
}

// IssueLinkChallenge returns a Link the test confirms or fails by hand.
func (f *Fake) IssueLinkChallenge(context.Context) (telegram.Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.linkErr != nil {
		return nil, f.linkErr
	}
	n := len(f.links) + 1
	l := &Link{
		token: telegram.LinkToken{
			URL:     fmt.Sprintf("tg://login?token=fake-%d", n),
			Expires: time.Now().Add(30 * time.Second),
		},
		cred:    telegram.Credential(fmt.Sprintf("linked-%d", n)),
		confirm: make(chan error, 1),
	}
	f.links = append(f.links, l)
	return l, nil
}

// Link is a scripted device-link attempt.
type Link struct {
	token   telegram.LinkToken
	cred    telegram.Credential
	confirm chan error
	closed  atomic.Bool
}

// Confirm simulates a device scanning the code.
func (l *Link) Confirm() { l.confirm <- nil }

// Fail makes the pending confirmation fail with err.
func (l *Link) Fail(err error) { l.confirm <- err }

// Closed reports whether the ephemeral session was disconnected.
func (l *Link) Closed() bool { return l.closed.Load() }

func (l *Link) Token() telegram.LinkToken { return l.token }

func (l *Link) AwaitConfirmation(ctx context.Context) error {
	select {
	case err := <-l.confirm:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Link) Credential(context.Context) (telegram.Credential, error) {
	return l.cred, nil
}

func (l *Link) Close() error {
	l.closed.Store(true)
	return nil
}
