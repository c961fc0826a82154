package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ppiankov/rentscout/internal/config"
	"github.com/ppiankov/rentscout/internal/store"
)

var (
	statsSince  string
	statsFormat string
	statsRuns   int
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show fetch history and channel health",
	RunE:  statsAction,
}

func init() {
	statsCmd.Flags().StringVar(&statsSince, "since", "7d", "time window (e.g. 7d, 48h)")
	statsCmd.Flags().StringVar(&statsFormat, "format", "terminal", "output format: terminal, json")
	statsCmd.Flags().IntVar(&statsRuns, "runs", 5, "number of recent runs to list")
	rootCmd.AddCommand(statsCmd)
}

func statsAction(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = db.Close() }()

	sinceDur, err := parseDuration(statsSince)
	if err != nil {
		return fmt.Errorf("parse --since: %w", err)
	}
	now := time.Now()
	ctx := commandContext(cmd)

	stats, err := db.GetChannelStats(ctx, now.Add(-sinceDur))
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}
	runs, err := db.RecentRuns(ctx, statsRuns)
	if err != nil {
		return fmt.Errorf("get runs: %w", err)
	}

	switch statsFormat {
	case "json":
		return printStatsJSON(os.Stdout, stats, runs)
	case "terminal", "":
		if len(stats) == 0 && len(runs) == 0 {
			fmt.Fprintln(os.Stdout, "No fetches recorded. Run 'rentscout fetch' first.")
			return nil
		}
		printStats(os.Stdout, stats, runs, sinceDur, now)
		return nil
	default:
		return fmt.Errorf("unknown format %q (want terminal or json)", statsFormat)
	}
}

type jsonStatsOutput struct {
	Channels []jsonChannelStats `json:"channels"`
	Runs     []jsonRun          `json:"runs"`
}

type jsonChannelStats struct {
	Channel     string     `json:"channel"`
	Runs        int        `json:"runs"`
	Failures    int        `json:"failures"`
	Listings    int        `json:"listings"`
	SuccessPct  float64    `json:"success_pct"`
	AvgMillis   int64      `json:"avg_ms"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

type jsonRun struct {
	ID         string    `json:"id"`
	Trigger    string    `json:"trigger"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Days       int       `json:"days"`
	Requested  int       `json:"channels_requested"`
	Successful int       `json:"channels_successful"`
	Listings   int       `json:"total_listings"`
}

func printStatsJSON(w io.Writer, stats []store.ChannelStats, runs []store.Run) error {
	out := jsonStatsOutput{
		Channels: make([]jsonChannelStats, 0, len(stats)),
		Runs:     make([]jsonRun, 0, len(runs)),
	}
	for _, cs := range stats {
		jc := jsonChannelStats{
			Channel:    cs.Channel,
			Runs:       cs.Runs,
			Failures:   cs.Failures,
			Listings:   cs.Listings,
			SuccessPct: successPct(cs),
			AvgMillis:  cs.AvgDuration.Milliseconds(),
			LastError:  cs.LastError,
		}
		if !cs.LastSuccess.IsZero() {
			t := cs.LastSuccess
			jc.LastSuccess = &t
		}
		out.Channels = append(out.Channels, jc)
	}
	for _, r := range runs {
		out.Runs = append(out.Runs, jsonRun{
			ID:         r.ID,
			Trigger:    r.Trigger,
			StartedAt:  r.StartedAt,
			FinishedAt: r.FinishedAt,
			Days:       r.Days,
			Requested:  r.ChannelsRequested,
			Successful: r.ChannelsSuccessful,
			Listings:   r.TotalListings,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func printStats(w io.Writer, stats []store.ChannelStats, runs []store.Run, since time.Duration, now time.Time) {
	totalRuns, totalListings := 0, 0
	for _, cs := range stats {
		totalRuns += cs.Runs
		totalListings += cs.Listings
	}

	fmt.Fprintf(w, "rentscout stats: %s, %s listings from %d channels\n\n",
		formatStatsDuration(since), humanize.Comma(int64(totalListings)), len(stats))

	if len(stats) > 0 {
		// Least reliable channels first.
		sorted := make([]store.ChannelStats, len(stats))
		copy(sorted, stats)
		sort.SliceStable(sorted, func(i, j int) bool {
			return successPct(sorted[i]) < successPct(sorted[j])
		})

		fmt.Fprintln(w, "--- Channel Health ---")
		fmt.Fprintln(w)

		width := 7
		for _, cs := range sorted {
			if len(cs.Channel) > width {
				width = len(cs.Channel)
			}
		}
		if width > 40 {
			width = 40
		}

		fmt.Fprintf(w, "  %-*s  %4s  %6s  %8s  %7s  %s\n", width, "Channel", "Runs", "Failed", "Listings", "Avg", "Last success")
		for _, cs := range sorted {
			name := cs.Channel
			if len(name) > width {
				name = name[:width-1] + "…"
			}
			last := "never"
			if !cs.LastSuccess.IsZero() {
				last = humanize.RelTime(cs.LastSuccess, now, "ago", "from now")
			}
			fmt.Fprintf(w, "  %-*s  %4d  %6d  %8s  %7s  %s\n",
				width, name, cs.Runs, cs.Failures, humanize.Comma(int64(cs.Listings)),
				cs.AvgDuration.Round(time.Millisecond), last)
		}
		fmt.Fprintln(w)

		var failing []store.ChannelStats
		for _, cs := range sorted {
			if cs.LastError != "" {
				failing = append(failing, cs)
			}
		}
		if len(failing) > 0 {
			fmt.Fprintln(w, "--- Last Errors ---")
			fmt.Fprintln(w)
			for _, cs := range failing {
				fmt.Fprintf(w, "  %s: %s\n", cs.Channel, cs.LastError)
			}
			fmt.Fprintln(w)
		}
	}

	if len(runs) > 0 {
		fmt.Fprintf(w, "--- Recent Runs (%d) ---\n\n", len(runs))
		for _, r := range runs {
			fmt.Fprintf(w, "  %-14s  %-8s  %d/%d channels  %s listings  %s\n",
				humanize.RelTime(r.StartedAt, now, "ago", "from now"),
				r.Trigger,
				r.ChannelsSuccessful, r.ChannelsRequested,
				humanize.Comma(int64(r.TotalListings)),
				r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond),
			)
		}
		fmt.Fprintln(w)
	}
}

func successPct(cs store.ChannelStats) float64 {
	if cs.Runs == 0 {
		return 0
	}
	return float64(cs.Runs-cs.Failures) / float64(cs.Runs) * 100
}

// parseDuration handles both Go durations and "Nd" day notation.
func parseDuration(s string) (time.Duration, error) {
	if len(s) > 1 && s[len(s)-1] == 'd' {
		var days int
		if _, err := fmt.Sscanf(s, "%dd", &days); err == nil && days > 0 {
			return time.Duration(days) * 24 * time.Hour, nil
		}
	}
	return time.ParseDuration(s)
}

func formatStatsDuration(d time.Duration) string {
	hours := int(d.Hours())
	if hours >= 24 && hours%24 == 0 {
		return fmt.Sprintf("%d days", hours/24)
	}
	return fmt.Sprintf("%dh", hours)
}
