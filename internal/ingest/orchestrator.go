package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/rentscout/internal/filter"
	"github.com/ppiankov/rentscout/internal/listing"
	"github.com/ppiankov/rentscout/internal/privacy"
	"github.com/ppiankov/rentscout/internal/store"
	"github.com/ppiankov/rentscout/internal/telegram"
)

const (
	MinDays     = 1
	MaxDays     = 90
	DefaultTTL  = 30 * time.Minute
	DefaultDays = 7
)

// CredentialSource hands out the credential each fetch client dials with.
type CredentialSource interface {
	ExportCredential(ctx context.Context) (telegram.Credential, error)
}

// Purger drops media artifacts that belong to the previous snapshot.
type Purger interface {
	Purge() error
}

// Journal records finished runs.
type Journal interface {
	RecordRun(ctx context.Context, run store.Run) error
}

// FetchRequest describes one orchestrated fetch.
type FetchRequest struct {
	Channels []string `json:"channels"`
	Days     int      `json:"days"`
	Trigger  string   `json:"-"`
}

// FetchResult summarizes a finished fetch.
type FetchResult struct {
	TotalListings      int       `json:"total_messages"`
	ChannelsRequested  int       `json:"channels_requested"`
	ChannelsSuccessful int       `json:"channels_successful"`
	ChannelsFailed     int       `json:"channels_failed"`
	CacheUpdated       time.Time `json:"cache_updated"`
}

// ListQuery selects and orders cached listings.
type ListQuery struct {
	Criteria filter.Criteria
	Sort     filter.Order
	Refresh  bool
}

// Options tune an Orchestrator. Zero values select defaults.
type Options struct {
	TTL         time.Duration
	MaxParallel int
	Photos      Purger
	Journal     Journal
	Redactor    *privacy.Redactor
	Logger      *slog.Logger
	Now         func() time.Time
}

// Orchestrator owns the listing cache and fills it from many channels at
// once. Overlapping FetchAndCache calls are not serialized; the last one
// to finish replaces the snapshot.
type Orchestrator struct {
	fetcher  *Fetcher
	creds    CredentialSource
	cache    listing.Cache
	ttl      time.Duration
	parallel int
	photos   Purger
	journal  Journal
	redactor *privacy.Redactor
	log      *slog.Logger
	now      func() time.Time
}

// NewOrchestrator wires a fetcher and credential source into an
// Orchestrator with an empty cache.
func NewOrchestrator(fetcher *Fetcher, creds CredentialSource, opts Options) (*Orchestrator, error) {
	if fetcher == nil {
		return nil, errors.New("ingest: fetcher is required")
	}
	if creds == nil {
		return nil, errors.New("ingest: credential source is required")
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		fetcher:  fetcher,
		creds:    creds,
		ttl:      opts.TTL,
		parallel: opts.MaxParallel,
		photos:   opts.Photos,
		journal:  opts.Journal,
		redactor: opts.Redactor,
		log:      opts.Logger.With("component", "orchestrator"),
		now:      opts.Now,
	}, nil
}

// FetchAndCache fetches every requested channel concurrently and replaces
// the cache with the combined result. One channel failing never affects
// the others; it is only counted and logged.
func (o *Orchestrator) FetchAndCache(ctx context.Context, req FetchRequest) (FetchResult, error) {
	channels, err := validate(req)
	if err != nil {
		return FetchResult{}, err
	}

	if o.photos != nil {
		if err := o.photos.Purge(); err != nil {
			o.log.Warn("purge photo cache", "error", err)
		}
	}

	cred, err := o.creds.ExportCredential(ctx)
	if err != nil {
		return FetchResult{}, fmt.Errorf("export credential: %w", err)
	}

	started := o.now()
	results := make([]ChannelResult, len(channels))

	g, gctx := errgroup.WithContext(ctx)
	if o.parallel > 0 {
		g.SetLimit(o.parallel)
	}
	for i, ch := range channels {
		g.Go(func() error {
			results[i] = o.fetcher.Fetch(gctx, ch, req.Days, cred)
			return nil
		})
	}
	_ = g.Wait()

	res := FetchResult{ChannelsRequested: len(channels)}
	var all []listing.Listing
	for _, r := range results {
		if r.Err != nil {
			res.ChannelsFailed++
			continue
		}
		if len(r.Listings) > 0 {
			res.ChannelsSuccessful++
		}
		for _, l := range r.Listings {
			l.Channel = listing.StringPtr(r.Channel)
			all = append(all, o.redactor.Listing(l))
		}
	}
	if all == nil {
		all = []listing.Listing{}
	}

	finished := o.now()
	o.cache.Replace(&listing.Snapshot{
		Listings:  all,
		UpdatedAt: finished,
		Channels:  channels,
		Days:      req.Days,
	})
	res.TotalListings = len(all)
	res.CacheUpdated = finished

	o.log.Info("fetch complete",
		"channels", len(channels),
		"successful", res.ChannelsSuccessful,
		"failed", res.ChannelsFailed,
		"listings", res.TotalListings,
		"took", finished.Sub(started),
	)
	o.record(ctx, req, started, finished, res, results)
	return res, nil
}

func (o *Orchestrator) record(ctx context.Context, req FetchRequest, started, finished time.Time, res FetchResult, results []ChannelResult) {
	if o.journal == nil {
		return
	}
	run := store.Run{
		ID:                 uuid.NewString(),
		Trigger:            req.Trigger,
		StartedAt:          started,
		FinishedAt:         finished,
		Days:               req.Days,
		ChannelsRequested:  res.ChannelsRequested,
		ChannelsSuccessful: res.ChannelsSuccessful,
		TotalListings:      res.TotalListings,
	}
	for _, r := range results {
		cr := store.ChannelRun{
			Channel:  r.Channel,
			Messages: r.Scanned,
			Listings: len(r.Listings),
			Duration: r.Took,
		}
		if r.Err != nil {
			cr.Error = r.Err.Err.Error()
		}
		run.Channels = append(run.Channels, cr)
	}
	// The request context may already be gone for a slow fetch.
	if err := o.journal.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		o.log.Error("record fetch run", "run", run.ID, "error", err)
	}
}

// validate checks the day window and returns the normalized, deduplicated
// channel list in request order.
func validate(req FetchRequest) ([]string, error) {
	if req.Days < MinDays || req.Days > MaxDays {
		return nil, &ValidationError{Field: "days", Reason: fmt.Sprintf("must be between %d and %d", MinDays, MaxDays)}
	}
	seen := make(map[string]bool, len(req.Channels))
	var out []string
	for _, raw := range req.Channels {
		ch := listing.NormalizeChannel(raw)
		if ch == "" {
			continue
		}
		k := strings.ToLower(ch)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, ch)
	}
	if len(out) == 0 {
		return nil, &ValidationError{Field: "channels", Reason: "at least one channel is required"}
	}
	return out, nil
}

// Listings returns cached listings matching q. A cache that was never
// filled yields an empty list. With q.Refresh set, a snapshot older than
// the TTL is re-fetched first using its own channels and day window.
func (o *Orchestrator) Listings(ctx context.Context, q ListQuery) ([]listing.Listing, error) {
	snap := o.cache.Load()
	if snap == nil {
		return []listing.Listing{}, nil
	}

	if q.Refresh && snap.Age(o.now()) > o.ttl {
		_, err := o.FetchAndCache(ctx, FetchRequest{Channels: snap.Channels, Days: snap.Days, Trigger: "refresh"})
		switch {
		case err == nil:
			snap = o.cache.Load()
		case IsValidation(err):
			o.log.Warn("refresh rejected, serving stale cache", "error", err)
		default:
			return nil, fmt.Errorf("refresh cache: %w", err)
		}
	}

	out := filter.Apply(snap.Listings, q.Criteria)
	order := q.Sort
	if order == "" {
		order = filter.DefaultOrder
	}
	filter.Sort(out, order)
	return out, nil
}

// Refresh re-fetches the last-known channel set unconditionally, or the
// fallback channels when nothing was fetched yet.
func (o *Orchestrator) Refresh(ctx context.Context, fallback []string, days int) (FetchResult, error) {
	req := FetchRequest{Channels: fallback, Days: days, Trigger: "schedule"}
	if snap := o.cache.Load(); snap != nil && len(snap.Channels) > 0 {
		req.Channels = snap.Channels
		req.Days = snap.Days
	}
	return o.FetchAndCache(ctx, req)
}

// ChannelInfo looks up one channel's profile with the shared credential.
func (o *Orchestrator) ChannelInfo(ctx context.Context, channel string) (telegram.ChannelInfo, error) {
	ch := listing.NormalizeChannel(channel)
	if ch == "" {
		return telegram.ChannelInfo{}, &ValidationError{Field: "channel", Reason: "is required"}
	}
	cred, err := o.creds.ExportCredential(ctx)
	if err != nil {
		return telegram.ChannelInfo{}, fmt.Errorf("export credential: %w", err)
	}
	info, err := o.fetcher.Info(ctx, ch, cred)
	if err != nil {
		return telegram.ChannelInfo{}, fmt.Errorf("channel info %s: %w", ch, err)
	}
	return info, nil
}

// Stats summarizes the current snapshot.
func (o *Orchestrator) Stats() listing.Stats {
	return listing.StatsOf(o.cache.Load(), o.now())
}

// Channels returns the channel set of the current snapshot.
func (o *Orchestrator) Channels() []string {
	snap := o.cache.Load()
	if snap == nil {
		return []string{}
	}
	return append([]string(nil), snap.Channels...)
}

// Snapshot exposes the current snapshot for renderers. It may be nil.
func (o *Orchestrator) Snapshot() *listing.Snapshot {
	return o.cache.Load()
}
