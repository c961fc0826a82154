package telegram

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gotd/td/session"
	gotg "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth/qrlogin"
	"github.com/gotd/contrib/bg"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/telegram/peers"
	"github.com/gotd/td/telegram/query"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
)

const historyBatchSize = 100

var (
	_ Dialer  = (*MTProto)(nil)
	_ Linker  = (*MTProto)(nil)
	_ Primary = (*Account)(nil)
	_ Client  = (*conn)(nil)
)

// MTProto opens Telegram sessions with application credentials.
type MTProto struct {
	appID   int
	appHash string
}

// NewMTProto validates the application credentials obtained from
// my.telegram.org.
func NewMTProto(appID int, appHash string) (*MTProto, error) {
	if appID <= 0 {
		return nil, errors.New("telegram: api id is required")
	}
	if strings.TrimSpace(appHash) == "" {
		return nil, errors.New("telegram: api hash is required")
	}
	return &MTProto{appID: appID, appHash: appHash}, nil
}

// Dial connects a fresh client backed by an in-memory copy of cred.
func (m *MTProto) Dial(ctx context.Context, cred Credential) (Client, error) {
	if len(cred) == 0 {
		return nil, ErrUnauthorized
	}
	storage := new(session.StorageMemory)
	if err := storage.StoreSession(ctx, cred); err != nil {
		return nil, fmt.Errorf("telegram: load credential: %w", err)
	}
	return m.connect(storage, nil)
}

func (m *MTProto) connect(storage session.Storage, handler gotg.UpdateHandler) (*conn, error) {
	opts := gotg.Options{SessionStorage: storage}
	if handler != nil {
		opts.UpdateHandler = handler
	}
	client := gotg.NewClient(m.appID, m.appHash, opts)
	stop, err := bg.Connect(client)
	if err != nil {
		return nil, fmt.Errorf("telegram: connect: %w", err)
	}
	api := client.API()
	return &conn{
		client:  client,
		api:     api,
		peers:   peers.Options{}.Build(api),
		storage: storage,
		stop:    stop,
	}, nil
}

// conn is one running MTProto client.
type conn struct {
	client  *gotg.Client
	api     *tg.Client
	peers   *peers.Manager
	storage session.Storage
	stop    bg.StopFunc

	closeOnce sync.Once
	closeErr  error
}

func (c *conn) IsAuthorized(ctx context.Context) (bool, error) {
	status, err := c.client.Auth().Status(ctx)
	if err != nil {
		return false, fmt.Errorf("telegram: auth status: %w", err)
	}
	return status.Authorized, nil
}

func (c *conn) Self(ctx context.Context) (User, error) {
	u, err := c.client.Self(ctx)
	if err != nil {
		if tgerr.Is(err, "AUTH_KEY_UNREGISTERED") {
			return User{}, ErrUnauthorized
		}
		return User{}, fmt.Errorf("telegram: self: %w", err)
	}
	return User{ID: u.ID, Username: u.Username, FirstName: u.FirstName}, nil
}

func (c *conn) ResolveChannel(ctx context.Context, name string) (Channel, error) {
	handle := strings.TrimSpace(name)
	if handle == "" {
		return Channel{}, errors.New("telegram: channel name is required")
	}
	if !strings.Contains(handle, "/") && !strings.HasPrefix(handle, "@") {
		handle = "@" + handle
	}
	p, err := c.peers.Resolve(ctx, handle)
	if err != nil {
		if tgerr.Is(err, "USERNAME_NOT_OCCUPIED", "USERNAME_INVALID") {
			return Channel{}, fmt.Errorf("telegram: resolve %s: %w", name, ErrNotFound)
		}
		return Channel{}, fmt.Errorf("telegram: resolve %s: %w", name, err)
	}
	return Channel{
		ID:       p.ID(),
		Username: strings.TrimPrefix(handle, "@"),
		Title:    p.VisibleName(),
		Handle:   p,
	}, nil
}

func (c *conn) Messages(ctx context.Context, ch Channel) iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
		p, ok := ch.Handle.(peers.Peer)
		if !ok {
			yield(Message{}, fmt.Errorf("telegram: channel %s is not resolved", ch.Username))
			return
		}
		it := query.Messages(c.api).GetHistory(p.InputPeer()).BatchSize(historyBatchSize).Iter()
		for it.Next(ctx) {
			msg, ok := it.Value().Msg.(*tg.Message)
			if !ok {
				continue
			}
			if !yield(convertMessage(msg), nil) {
				return
			}
		}
		if err := it.Err(); err != nil {
			yield(Message{}, fmt.Errorf("telegram: history of %s: %w", ch.Username, err))
		}
	}
}

type inputChanneler interface {
	InputChannel() tg.InputChannelClass
}

func (c *conn) ChannelInfo(ctx context.Context, ch Channel) (ChannelInfo, error) {
	ic, ok := ch.Handle.(inputChanneler)
	if !ok {
		return ChannelInfo{}, fmt.Errorf("telegram: %s is not a channel", ch.Username)
	}
	res, err := c.api.ChannelsGetFullChannel(ctx, ic.InputChannel())
	if err != nil {
		if tgerr.Is(err, "CHANNEL_INVALID", "CHANNEL_PRIVATE") {
			return ChannelInfo{}, fmt.Errorf("telegram: channel %s: %w", ch.Username, ErrNotFound)
		}
		return ChannelInfo{}, fmt.Errorf("telegram: full channel %s: %w", ch.Username, err)
	}
	info := ChannelInfo{Title: ch.Title, Username: ch.Username}
	if full, ok := res.FullChat.(*tg.ChannelFull); ok {
		if n, ok := full.GetParticipantsCount(); ok {
			info.Participants = &n
		}
		about := full.About
		info.Description = &about
	}
	return info, nil
}

func (c *conn) GetMessage(ctx context.Context, ch Channel, id int) (Message, error) {
	ic, ok := ch.Handle.(inputChanneler)
	if !ok {
		return Message{}, fmt.Errorf("telegram: %s is not a channel", ch.Username)
	}
	res, err := c.api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
		Channel: ic.InputChannel(),
		ID:      []tg.InputMessageClass{&tg.InputMessageID{ID: id}},
	})
	if err != nil {
		if tgerr.Is(err, "MESSAGE_IDS_EMPTY", "MSG_ID_INVALID") {
			return Message{}, ErrNotFound
		}
		return Message{}, fmt.Errorf("telegram: get message %d: %w", id, err)
	}
	box, ok := res.(interface{ GetMessages() []tg.MessageClass })
	if !ok {
		return Message{}, ErrNotFound
	}
	for _, raw := range box.GetMessages() {
		if msg, ok := raw.(*tg.Message); ok && msg.ID == id {
			return convertMessage(msg), nil
		}
	}
	return Message{}, ErrNotFound
}

func (c *conn) DownloadMedia(ctx context.Context, msg Message, path string) error {
	photo, ok := msg.Media.(*tg.Photo)
	if !ok {
		return ErrNoMedia
	}
	loc := &tg.InputPhotoFileLocation{
		ID:            photo.ID,
		AccessHash:    photo.AccessHash,
		FileReference: photo.FileReference,
		ThumbSize:     largestSize(photo.Sizes),
	}
	if _, err := downloader.NewDownloader().Download(c.api, loc).ToPath(ctx, path); err != nil {
		return fmt.Errorf("telegram: download photo %d: %w", photo.ID, err)
	}
	return nil
}

func (c *conn) ExportCredential(ctx context.Context) (Credential, error) {
	data, err := c.storage.LoadSession(ctx)
	if errors.Is(err, session.ErrNotFound) || (err == nil && len(data) == 0) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("telegram: export credential: %w", err)
	}
	return Credential(data), nil
}

func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.stop()
	})
	return c.closeErr
}

func convertMessage(msg *tg.Message) Message {
	m := Message{
		ID:      msg.ID,
		Date:    time.Unix(int64(msg.Date), 0).UTC(),
		Text:    msg.Message,
		GroupID: msg.GroupedID,
	}
	if views, ok := msg.GetViews(); ok {
		m.Views = views
	}
	if media, ok := msg.Media.(*tg.MessageMediaPhoto); ok {
		if photo, ok := media.Photo.(*tg.Photo); ok {
			m.HasPhoto = true
			m.Media = photo
		}
	}
	return m
}

// largestSize picks the photo size type with the most pixels.
func largestSize(sizes []tg.PhotoSizeClass) string {
	best, bestArea := "", -1
	for _, s := range sizes {
		var typ string
		var area int
		switch v := s.(type) {
		case *tg.PhotoSize:
			typ, area = v.Type, v.W*v.H
		case *tg.PhotoSizeProgressive:
			typ, area = v.Type, v.W*v.H
		default:
			continue
		}
		if area > bestArea {
			best, bestArea = typ, area
		}
	}
	if best == "" {
		return "y"
	}
	return best
}

// Account is the primary client bound to a session file on disk.
type Account struct {
	mt      *MTProto
	storage *session.FileStorage

	mu   sync.RWMutex
	conn *conn
}

// Account returns the primary client persisted at path. Call Start before
// use.
func (m *MTProto) Account(path string) (*Account, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("telegram: session path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("telegram: create session dir: %w", err)
		}
	}
	return &Account{mt: m, storage: &session.FileStorage{Path: path}}, nil
}

// Start connects the account if it is not connected yet.
func (a *Account) Start(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn != nil {
		return nil
	}
	c, err := a.mt.connect(a.storage, nil)
	if err != nil {
		return err
	}
	a.conn = c
	return nil
}

func (a *Account) Restart(ctx context.Context) error {
	a.mu.Lock()
	old := a.conn
	a.conn = nil
	a.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return a.Start(ctx)
}

func (a *Account) SaveCredential(ctx context.Context, cred Credential) error {
	if err := a.storage.StoreSession(ctx, cred); err != nil {
		return fmt.Errorf("telegram: save credential: %w", err)
	}
	return nil
}

func (a *Account) current() (*conn, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.conn == nil {
		return nil, errors.New("telegram: account is not connected")
	}
	return a.conn, nil
}

func (a *Account) IsAuthorized(ctx context.Context) (bool, error) {
	c, err := a.current()
	if err != nil {
		return false, err
	}
	return c.IsAuthorized(ctx)
}

func (a *Account) Self(ctx context.Context) (User, error) {
	c, err := a.current()
	if err != nil {
		return User{}, err
	}
	return c.Self(ctx)
}

func (a *Account) ResolveChannel(ctx context.Context, name string) (Channel, error) {
	c, err := a.current()
	if err != nil {
		return Channel{}, err
	}
	return c.ResolveChannel(ctx, name)
}

func (a *Account) ChannelInfo(ctx context.Context, ch Channel) (ChannelInfo, error) {
	c, err := a.current()
	if err != nil {
		return ChannelInfo{}, err
	}
	return c.ChannelInfo(ctx, ch)
}

func (a *Account) Messages(ctx context.Context, ch Channel) iter.Seq2[Message, error] {
	c, err := a.current()
	if err != nil {
		return func(yield func(Message, error) bool) { yield(Message{}, err) }
	}
	return c.Messages(ctx, ch)
}

func (a *Account) GetMessage(ctx context.Context, ch Channel, id int) (Message, error) {
	c, err := a.current()
	if err != nil {
		return Message{}, err
	}
	return c.GetMessage(ctx, ch, id)
}

func (a *Account) DownloadMedia(ctx context.Context, msg Message, path string) error {
	c, err := a.current()
	if err != nil {
		return err
	}
	return c.DownloadMedia(ctx, msg, path)
}

func (a *Account) ExportCredential(ctx context.Context) (Credential, error) {
	data, err := a.storage.LoadSession(ctx)
	if errors.Is(err, session.ErrNotFound) || (err == nil && len(data) == 0) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("telegram: export credential: %w", err)
	}
	return Credential(data), nil
}

func (a *Account) Close() error {
	a.mu.Lock()
	c := a.conn
	a.conn = nil
	a.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Close()
}

// IssueLinkChallenge starts a QR login on an ephemeral in-memory session
// and returns once the first token is available.
func (m *MTProto) IssueLinkChallenge(ctx context.Context) (Link, error) {
	storage := new(session.StorageMemory)
	dispatcher := tg.NewUpdateDispatcher()
	loggedIn := qrlogin.OnLoginToken(dispatcher)

	c, err := m.connect(storage, dispatcher)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	l := &qrLink{conn: c, storage: storage, cancel: cancel, done: make(chan struct{})}

	first := make(chan struct{})
	var once sync.Once
	go func() {
		defer close(l.done)
		_, l.err = c.client.QR().Auth(runCtx, loggedIn, func(_ context.Context, token qrlogin.Token) error {
			l.setToken(LinkToken{URL: token.URL(), Expires: token.Expires()})
			once.Do(func() { close(first) })
			return nil
		})
	}()

	select {
	case <-first:
		return l, nil
	case <-l.done:
		_ = l.Close()
		if l.err == nil {
			return nil, errors.New("telegram: login finished without a token")
		}
		return nil, fmt.Errorf("telegram: issue link challenge: %w", l.err)
	case <-ctx.Done():
		_ = l.Close()
		return nil, ctx.Err()
	}
}

type qrLink struct {
	conn    *conn
	storage *session.StorageMemory
	cancel  context.CancelFunc

	mu    sync.Mutex
	token LinkToken

	done chan struct{}
	err  error
}

func (l *qrLink) setToken(t LinkToken) {
	l.mu.Lock()
	l.token = t
	l.mu.Unlock()
}

func (l *qrLink) Token() LinkToken {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.token
}

func (l *qrLink) AwaitConfirmation(ctx context.Context) error {
	select {
	case <-l.done:
		return l.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *qrLink) Credential(ctx context.Context) (Credential, error) {
	data, err := l.storage.LoadSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("telegram: link credential: %w", err)
	}
	return Credential(data), nil
}

func (l *qrLink) Close() error {
	l.cancel()
	return l.conn.Close()
}
