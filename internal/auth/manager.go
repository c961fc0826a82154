// Package auth links this service to a Telegram account by QR code and
// hands out the resulting credential to fetch workers.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/ppiankov/rentscout/internal/telegram"
)

const (
	DefaultLinkTimeout = 5 * time.Minute
	DefaultQRSize      = 256
)

// ErrNotAuthorized means no usable credential exists yet.
var ErrNotAuthorized = errors.New("not authorized: link a device first")

// Phase is the device-link lifecycle state.
type Phase string

const (
	PhaseUnauthenticated Phase = "unauthenticated"
	PhaseQRIssued        Phase = "qr_issued"
	PhaseAwaitingScan    Phase = "awaiting_scan"
	PhaseScanned         Phase = "scanned"
	PhaseEstablished     Phase = "established"
	PhaseExpired         Phase = "expired"
	PhaseError           Phase = "error"
)

// Outcomes reported to callers of IssueChallenge and PollStatus.
const (
	StatusAlreadyAuthorized = "already_authorized"
	StatusIssued            = "qr_issued"
	StatusNoChallenge       = "no_challenge"
	StatusWaiting           = "waiting"
	StatusAuthorized        = "authorized"
	StatusExpired           = "expired"
	StatusError             = "error"
)

// Challenge is the result of IssueChallenge.
type Challenge struct {
	Status    string     `json:"status"`
	SessionID string     `json:"session_id,omitempty"`
	URL       string     `json:"qr_url,omitempty"`
	PNG       []byte     `json:"qr_png,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Status is the result of PollStatus.
type Status struct {
	Status    string         `json:"status"`
	SessionID string         `json:"session_id,omitempty"`
	URL       string         `json:"qr_url,omitempty"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	Error     string         `json:"error,omitempty"`
	User      *telegram.User `json:"user,omitempty"`
}

// Options tune a Manager. Zero values select defaults.
type Options struct {
	LinkTimeout time.Duration
	QRSize      int
	Logger      *slog.Logger
	Now         func() time.Time
}

// Manager owns the primary session and at most one pending device link.
type Manager struct {
	primary telegram.Primary
	linker  telegram.Linker
	timeout time.Duration
	qrSize  int
	log     *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	phase   Phase
	session *linkSession
}

// linkSession is one device-link attempt. Its phase is written by the
// waiter goroutine and read by pollers.
type linkSession struct {
	id        uuid.UUID
	link      telegram.Link
	expiresAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}

	mu      sync.Mutex
	phase   Phase
	err     error
	confirm sync.Once
}

func (s *linkSession) set(p Phase, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = p
	s.err = err
}

func (s *linkSession) state() (Phase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase, s.err
}

// New creates a Manager over the primary session and a linker for
// ephemeral link sessions.
func New(primary telegram.Primary, linker telegram.Linker, opts Options) (*Manager, error) {
	if primary == nil {
		return nil, errors.New("auth: primary session is required")
	}
	if linker == nil {
		return nil, errors.New("auth: linker is required")
	}
	if opts.LinkTimeout <= 0 {
		opts.LinkTimeout = DefaultLinkTimeout
	}
	if opts.QRSize <= 0 {
		opts.QRSize = DefaultQRSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		primary: primary,
		linker:  linker,
		timeout: opts.LinkTimeout,
		qrSize:  opts.QRSize,
		log:     opts.Logger.With("component", "auth"),
		now:     opts.Now,
		phase:   PhaseUnauthenticated,
	}, nil
}

// IssueChallenge starts a device link and returns without waiting for
// it. If the primary session is already authorized nothing is issued. A
// still-pending earlier attempt is abandoned.
func (m *Manager) IssueChallenge(ctx context.Context) (Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ok, err := m.primary.IsAuthorized(ctx)
	if err != nil {
		return Challenge{}, fmt.Errorf("auth: check primary session: %w", err)
	}
	if ok {
		m.discardLocked()
		m.phase = PhaseEstablished
		return Challenge{Status: StatusAlreadyAuthorized}, nil
	}

	m.discardLocked()

	link, err := m.linker.IssueLinkChallenge(ctx)
	if err != nil {
		m.phase = PhaseError
		return Challenge{}, fmt.Errorf("auth: issue challenge: %w", err)
	}
	m.phase = PhaseQRIssued

	token := link.Token()
	png, err := qrcode.Encode(token.URL, qrcode.Medium, m.qrSize)
	if err != nil {
		_ = link.Close()
		m.phase = PhaseError
		return Challenge{}, fmt.Errorf("auth: render qr code: %w", err)
	}

	expires := m.now().Add(m.timeout)
	waitCtx, cancel := context.WithTimeout(context.Background(), m.timeout)
	s := &linkSession{
		id:        uuid.New(),
		link:      link,
		expiresAt: expires,
		cancel:    cancel,
		done:      make(chan struct{}),
		phase:     PhaseAwaitingScan,
	}
	m.session = s
	m.phase = PhaseAwaitingScan
	go m.wait(waitCtx, s)

	m.log.Info("device link issued", "session", s.id, "expires", expires)
	return Challenge{
		Status:    StatusIssued,
		SessionID: s.id.String(),
		URL:       token.URL,
		PNG:       png,
		ExpiresAt: &expires,
	}, nil
}

// wait runs once per issued session.
func (m *Manager) wait(ctx context.Context, s *linkSession) {
	defer close(s.done)
	defer s.cancel()

	err := s.link.AwaitConfirmation(ctx)
	switch {
	case err == nil:
		s.confirm.Do(func() { s.set(PhaseScanned, nil) })
		m.log.Info("device link confirmed", "session", s.id)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		_ = s.link.Close()
		s.set(PhaseExpired, err)
		m.log.Info("device link expired", "session", s.id)
	default:
		_ = s.link.Close()
		s.set(PhaseError, err)
		m.log.Warn("device link failed", "session", s.id, "error", err)
	}
}

// PollStatus reports progress of the pending link. The first poll after
// confirmation moves the linked credential into the primary session;
// later polls only report the result.
func (m *Manager) PollStatus(ctx context.Context) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.session
	if s == nil {
		if m.phase == PhaseEstablished {
			return Status{Status: StatusAuthorized}, nil
		}
		return Status{Status: StatusNoChallenge}, nil
	}

	phase, err := s.state()
	switch phase {
	case PhaseScanned:
		return m.materializeLocked(ctx, s)
	case PhaseExpired:
		m.session = nil
		m.phase = PhaseExpired
		return Status{Status: StatusExpired, SessionID: s.id.String()}, nil
	case PhaseError:
		m.session = nil
		m.phase = PhaseError
		return Status{Status: StatusError, SessionID: s.id.String(), Error: errString(err)}, nil
	default:
		expires := s.expiresAt
		return Status{
			Status:    StatusWaiting,
			SessionID: s.id.String(),
			URL:       s.link.Token().URL,
			ExpiresAt: &expires,
		}, nil
	}
}

func (m *Manager) materializeLocked(ctx context.Context, s *linkSession) (Status, error) {
	m.session = nil

	fail := func(step string, err error) (Status, error) {
		m.phase = PhaseError
		m.log.Error("device link materialization failed", "session", s.id, "step", step, "error", err)
		return Status{Status: StatusError, SessionID: s.id.String(), Error: err.Error()},
			fmt.Errorf("auth: %s: %w", step, err)
	}

	cred, err := s.link.Credential(ctx)
	if err != nil {
		_ = s.link.Close()
		return fail("read linked credential", err)
	}
	if err := s.link.Close(); err != nil {
		m.log.Warn("close link session", "session", s.id, "error", err)
	}
	if err := m.primary.SaveCredential(ctx, cred); err != nil {
		return fail("persist credential", err)
	}
	if err := m.primary.Restart(ctx); err != nil {
		return fail("restart primary session", err)
	}

	m.phase = PhaseEstablished
	st := Status{Status: StatusAuthorized, SessionID: s.id.String()}
	if u, err := m.primary.Self(ctx); err == nil {
		st.User = &u
	}
	m.log.Info("device link established", "session", s.id)
	return st, nil
}

// discardLocked abandons the pending session, if any.
func (m *Manager) discardLocked() {
	if m.session == nil {
		return
	}
	m.session.cancel()
	_ = m.session.link.Close()
	m.session = nil
}

// QRCode renders the current challenge token as PNG. Tokens rotate while
// a link is pending, so this may differ from the issued image.
func (m *Manager) QRCode() ([]byte, error) {
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	if s == nil {
		return nil, errors.New("auth: no pending challenge")
	}
	png, err := qrcode.Encode(s.link.Token().URL, qrcode.Medium, m.qrSize)
	if err != nil {
		return nil, fmt.Errorf("auth: render qr code: %w", err)
	}
	return png, nil
}

// ExportCredential returns a portable copy of the primary credential.
func (m *Manager) ExportCredential(ctx context.Context) (telegram.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ok, err := m.primary.IsAuthorized(ctx)
	if err != nil {
		return nil, fmt.Errorf("auth: check primary session: %w", err)
	}
	if !ok {
		return nil, ErrNotAuthorized
	}
	cred, err := m.primary.ExportCredential(ctx)
	if errors.Is(err, telegram.ErrUnauthorized) {
		return nil, ErrNotAuthorized
	}
	if err != nil {
		return nil, fmt.Errorf("auth: export credential: %w", err)
	}
	return cred, nil
}

// Phase returns the current lifecycle state.
func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		p, _ := m.session.state()
		return p
	}
	return m.phase
}

// Self returns the account behind the primary session.
func (m *Manager) Self(ctx context.Context) (telegram.User, error) {
	u, err := m.primary.Self(ctx)
	if errors.Is(err, telegram.ErrUnauthorized) {
		return telegram.User{}, ErrNotAuthorized
	}
	return u, err
}

// Close abandons any pending link.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discardLocked()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
