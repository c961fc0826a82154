// Package telegram declares the messaging transport capabilities the
// ingestion core depends on, and implements them over MTProto.
package telegram

import (
	"context"
	"errors"
	"iter"
	"time"
)

var (
	// ErrUnauthorized is returned when a client has no valid credential.
	ErrUnauthorized = errors.New("telegram: not authorized")
	// ErrNotFound is returned when a channel or message does not exist.
	ErrNotFound = errors.New("telegram: not found")
	// ErrNoMedia is returned when a message carries no downloadable photo.
	ErrNoMedia = errors.New("telegram: message has no photo")
)

// Credential is an exported, portable session blob.
type Credential []byte

// Channel is a resolved broadcast channel or group.
type Channel struct {
	ID       int64
	Username string
	Title    string
	// Handle is transport-specific resolution state.
	Handle any
}

// ChannelInfo is a channel's public profile. Participants and
// Description are nil when the transport does not report them.
type ChannelInfo struct {
	Title        string
	Username     string
	Participants *int
	Description  *string
}

// Message is one post as seen by the transport.
type Message struct {
	ID      int
	Date    time.Time
	Text    string
	Views   int
	GroupID int64
	// HasPhoto reports whether the message carries a photo.
	HasPhoto bool
	// Media is transport-specific download state.
	Media any
}

// Grouped reports whether the message belongs to an album.
func (m Message) Grouped() bool {
	return m.GroupID != 0
}

// User identifies the account behind a session.
type User struct {
	ID        int64
	Username  string
	FirstName string
}

// Client is a connected session.
type Client interface {
	IsAuthorized(ctx context.Context) (bool, error)
	Self(ctx context.Context) (User, error)
	ResolveChannel(ctx context.Context, name string) (Channel, error)
	ChannelInfo(ctx context.Context, ch Channel) (ChannelInfo, error)
	// Messages yields channel history newest first. Iteration stops at the
	// first error, which is yielded with a zero Message.
	Messages(ctx context.Context, ch Channel) iter.Seq2[Message, error]
	GetMessage(ctx context.Context, ch Channel, id int) (Message, error)
	// DownloadMedia writes the photo attached to msg to path.
	DownloadMedia(ctx context.Context, msg Message, path string) error
	ExportCredential(ctx context.Context) (Credential, error)
	Close() error
}

// Dialer opens independent clients from an exported credential.
type Dialer interface {
	Dial(ctx context.Context, cred Credential) (Client, error)
}

// Primary is the long-lived client bound to the durable session slot.
type Primary interface {
	Client
	// SaveCredential writes cred into the durable session slot.
	SaveCredential(ctx context.Context, cred Credential) error
	// Restart reconnects using whatever the durable slot now holds.
	Restart(ctx context.Context) error
}

// LinkToken is a device-link challenge rendered as a QR code.
type LinkToken struct {
	URL     string
	Expires time.Time
}

// Link is an in-progress device-link attempt on an ephemeral session.
type Link interface {
	// Token returns the current challenge. The transport may rotate it
	// while the link is pending.
	Token() LinkToken
	// AwaitConfirmation blocks until a device accepts the challenge, the
	// attempt fails or ctx ends.
	AwaitConfirmation(ctx context.Context) error
	// Credential exports the session established by a confirmed link.
	Credential(ctx context.Context) (Credential, error)
	// Close disconnects the ephemeral session.
	Close() error
}

// Linker starts device-link attempts.
type Linker interface {
	IssueLinkChallenge(ctx context.Context) (Link, error)
}
