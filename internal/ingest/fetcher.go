package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ppiankov/rentscout/internal/extract"
	"github.com/ppiankov/rentscout/internal/listing"
	"github.com/ppiankov/rentscout/internal/telegram"
)

// ChannelResult is the outcome of fetching one channel. Err is set when
// the channel failed; Listings is then empty.
type ChannelResult struct {
	Channel  string
	Listings []listing.Listing
	Scanned  int
	Err      *ChannelError
	Took     time.Duration
}

// Fetcher turns one channel's recent history into listings.
type Fetcher struct {
	dialer telegram.Dialer
	log    *slog.Logger
	now    func() time.Time
}

// FetcherOptions tune a Fetcher. Zero values select defaults.
type FetcherOptions struct {
	Logger *slog.Logger
	// Now anchors the day window.
	Now func() time.Time
}

// NewFetcher creates a Fetcher that opens its own client per call.
func NewFetcher(dialer telegram.Dialer, opts FetcherOptions) *Fetcher {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Fetcher{dialer: dialer, log: opts.Logger.With("component", "fetcher"), now: opts.Now}
}

// Fetch enumerates channel messages newer than days ago using an
// independent client authenticated with cred. Failures are returned in
// ChannelResult.Err, never as a panic or error value.
func (f *Fetcher) Fetch(ctx context.Context, channel string, days int, cred telegram.Credential) ChannelResult {
	start := f.now()
	res := ChannelResult{Channel: channel}

	listings, scanned, err := f.fetch(ctx, channel, days, cred)
	res.Took = f.now().Sub(start)
	res.Scanned = scanned
	if err != nil {
		res.Err = &ChannelError{Channel: channel, Err: err}
		f.log.Warn("channel fetch failed", "channel", channel, "error", err)
		return res
	}
	res.Listings = listings
	f.log.Info("channel fetched", "channel", channel, "messages", scanned, "listings", len(listings), "took", res.Took)
	return res
}

// connect dials an authorized client. The caller closes it.
func (f *Fetcher) connect(ctx context.Context, cred telegram.Credential) (telegram.Client, error) {
	client, err := f.dialer.Dial(ctx, cred)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	ok, err := client.IsAuthorized(ctx)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("check authorization: %w", err)
	}
	if !ok {
		_ = client.Close()
		return nil, telegram.ErrUnauthorized
	}
	return client, nil
}

// Info returns the public profile of channel.
func (f *Fetcher) Info(ctx context.Context, channel string, cred telegram.Credential) (telegram.ChannelInfo, error) {
	client, err := f.connect(ctx, cred)
	if err != nil {
		return telegram.ChannelInfo{}, err
	}
	defer func() { _ = client.Close() }()

	ch, err := client.ResolveChannel(ctx, channel)
	if err != nil {
		return telegram.ChannelInfo{}, err
	}
	return client.ChannelInfo(ctx, ch)
}

func (f *Fetcher) fetch(ctx context.Context, channel string, days int, cred telegram.Credential) ([]listing.Listing, int, error) {
	client, err := f.connect(ctx, cred)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = client.Close() }()

	ch, err := client.ResolveChannel(ctx, channel)
	if err != nil {
		return nil, 0, err
	}

	cutoff := f.now().Add(-time.Duration(days) * 24 * time.Hour)
	var msgs []telegram.Message
	for msg, err := range client.Messages(ctx, ch) {
		if err != nil {
			return nil, len(msgs), err
		}
		if msg.Date.Before(cutoff) {
			break
		}
		msgs = append(msgs, msg)
	}

	return buildListings(channel, msgs), len(msgs), nil
}

// buildListings collapses albums and drops text-less messages. msgs must
// be newest first; output keeps that order.
func buildListings(channel string, msgs []telegram.Message) []listing.Listing {
	photosByGroup := make(map[int64][]int)
	for _, m := range msgs {
		if m.Grouped() && m.HasPhoto {
			photosByGroup[m.GroupID] = append(photosByGroup[m.GroupID], m.ID)
		}
	}

	done := make(map[int64]bool)
	out := make([]listing.Listing, 0, len(msgs))
	for _, m := range msgs {
		if m.Grouped() && done[m.GroupID] {
			continue
		}
		if m.Text == "" {
			continue
		}

		l := listing.Listing{
			ID:       m.ID,
			Date:     m.Date,
			Text:     m.Text,
			Views:    m.Views,
			Link:     listing.Permalink(channel, m.ID),
			PhotoIDs: []int{},
		}
		switch {
		case m.Grouped():
			done[m.GroupID] = true
			l.PhotoIDs = append(l.PhotoIDs, photosByGroup[m.GroupID]...)
		case m.HasPhoto:
			l.PhotoIDs = append(l.PhotoIDs, m.ID)
		}
		extract.Apply(&l)
		out = append(out, l)
	}
	return out
}
