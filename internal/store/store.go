// Package store keeps a sqlite journal of fetch runs. Listings themselves
// are never persisted; the journal only records what each run fetched and
// which channels failed.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

// Run is one orchestrated fetch.
type Run struct {
	ID                 string
	Trigger            string
	StartedAt          time.Time
	FinishedAt         time.Time
	Days               int
	ChannelsRequested  int
	ChannelsSuccessful int
	TotalListings      int
	Channels           []ChannelRun
}

// ChannelRun is the outcome for one channel within a Run.
type ChannelRun struct {
	Channel  string
	Messages int
	Listings int
	Error    string
	Duration time.Duration
}

// Failed reports whether the channel produced an error.
func (c ChannelRun) Failed() bool {
	return c.Error != ""
}

func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("path is required")
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Serialize writers; concurrent fetch runs may finish together.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ready(ctx context.Context) (context.Context, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx, nil
}

// RecordRun stores a run and its per-channel outcomes atomically.
func (s *Store) RecordRun(ctx context.Context, run Run) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return err
	}
	if strings.TrimSpace(run.ID) == "" {
		return errors.New("run id is required")
	}
	if run.StartedAt.IsZero() {
		return errors.New("started_at is required")
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = run.StartedAt
	}
	if run.Trigger == "" {
		run.Trigger = "manual"
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO fetch_runs (
			id, trigger, started_at, finished_at, days,
			channels_requested, channels_successful, total_listings
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.Trigger,
		formatTime(run.StartedAt),
		formatTime(run.FinishedAt),
		run.Days,
		run.ChannelsRequested,
		run.ChannelsSuccessful,
		run.TotalListings,
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, ch := range run.Channels {
		var errVal sql.NullString
		if ch.Error != "" {
			errVal = sql.NullString{String: ch.Error, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO channel_runs (run_id, channel, messages, listings, error, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(run_id, channel) DO UPDATE SET
				messages = excluded.messages,
				listings = excluded.listings,
				error = excluded.error,
				duration_ms = excluded.duration_ms
		`, run.ID, ch.Channel, ch.Messages, ch.Listings, errVal, ch.Duration.Milliseconds()); err != nil {
			return fmt.Errorf("insert channel run %s: %w", ch.Channel, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

// RecentRuns returns the latest runs, newest first, with their channels.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, trigger, started_at, finished_at, days,
			channels_requested, channels_successful, total_listings
		FROM fetch_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}

	var runs []Run
	for rows.Next() {
		var (
			run                 Run
			startedAt, finished string
		)
		if err := rows.Scan(&run.ID, &run.Trigger, &startedAt, &finished, &run.Days,
			&run.ChannelsRequested, &run.ChannelsSuccessful, &run.TotalListings); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if run.StartedAt, err = parseTime(startedAt); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if run.FinishedAt, err = parseTime(finished); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	_ = rows.Close()

	for i := range runs {
		channels, err := s.channelRuns(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Channels = channels
	}
	return runs, nil
}

func (s *Store) channelRuns(ctx context.Context, runID string) ([]ChannelRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT channel, messages, listings, error, duration_ms
		FROM channel_runs
		WHERE run_id = ?
		ORDER BY channel
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query channel runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ChannelRun
	for rows.Next() {
		var (
			ch     ChannelRun
			errVal sql.NullString
			ms     int64
		)
		if err := rows.Scan(&ch.Channel, &ch.Messages, &ch.Listings, &errVal, &ms); err != nil {
			return nil, fmt.Errorf("scan channel run: %w", err)
		}
		ch.Error = errVal.String
		ch.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channel runs: %w", err)
	}
	return out, nil
}

// ChannelStats aggregates journal history for one channel.
type ChannelStats struct {
	Channel     string
	Runs        int
	Failures    int
	Listings    int
	LastSuccess time.Time
	LastError   string
	AvgDuration time.Duration
}

// GetChannelStats returns per-channel aggregates for runs started since
// the given time, ordered by channel.
func (s *Store) GetChannelStats(ctx context.Context, since time.Time) ([]ChannelStats, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.channel,
			COUNT(*) AS runs,
			SUM(CASE WHEN c.error IS NOT NULL THEN 1 ELSE 0 END) AS failures,
			SUM(c.listings) AS listings,
			COALESCE(MAX(CASE WHEN c.error IS NULL THEN r.started_at END), '') AS last_success,
			COALESCE((
				SELECT c2.error FROM channel_runs c2
				JOIN fetch_runs r2 ON r2.id = c2.run_id
				WHERE c2.channel = c.channel AND c2.error IS NOT NULL
				ORDER BY r2.started_at DESC LIMIT 1
			), '') AS last_error,
			CAST(AVG(c.duration_ms) AS INTEGER) AS avg_ms
		FROM channel_runs c
		JOIN fetch_runs r ON r.id = c.run_id
		WHERE r.started_at >= ?
		GROUP BY c.channel
		ORDER BY c.channel
	`, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("get channel stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stats []ChannelStats
	for rows.Next() {
		var (
			cs          ChannelStats
			lastSuccess string
			avgMS       int64
		)
		if err := rows.Scan(&cs.Channel, &cs.Runs, &cs.Failures, &cs.Listings, &lastSuccess, &cs.LastError, &avgMS); err != nil {
			return nil, fmt.Errorf("scan channel stats: %w", err)
		}
		if cs.LastSuccess, err = parseTime(lastSuccess); err != nil {
			return nil, fmt.Errorf("parse last_success: %w", err)
		}
		cs.AvgDuration = time.Duration(avgMS) * time.Millisecond
		stats = append(stats, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channel stats: %w", err)
	}

	return stats, nil
}

// PruneOld deletes runs older than retainDays. Channel rows cascade.
// Returns the number of runs removed.
func (s *Store) PruneOld(ctx context.Context, retainDays int) (int64, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return 0, err
	}
	if retainDays <= 0 {
		return 0, nil
	}

	cutoff := formatTime(time.Now().AddDate(0, 0, -retainDays))
	res, err := s.db.ExecContext(ctx, "DELETE FROM fetch_runs WHERE started_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune old runs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return time.Time{}.UTC().Format(time.RFC3339Nano)
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	return time.Parse(time.RFC3339, value)
}
