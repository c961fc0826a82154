package schedule

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/ppiankov/rentscout/internal/ingest"
	"github.com/ppiankov/rentscout/internal/logging"
)

type fakeRefresher struct {
	mu       sync.Mutex
	calls    int
	channels []string
	days     int
	err      error
}

func (f *fakeRefresher) Refresh(_ context.Context, channels []string, days int) (ingest.FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.channels = channels
	f.days = days
	return ingest.FetchResult{TotalListings: 3}, f.err
}

type fakePruner struct {
	retain int
	calls  int
}

func (p *fakePruner) PruneOld(_ context.Context, retainDays int) (int64, error) {
	p.calls++
	p.retain = retainDays
	return 2, nil
}

func TestNewRegistersJobs(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want int
	}{
		{"nothing", Options{}, 0},
		{"refresh only", Options{Spec: "*/30 * * * *"}, 1},
		{"prune only", Options{Pruner: &fakePruner{}, RetainDays: 30}, 1},
		{"prune disabled", Options{Pruner: &fakePruner{}}, 0},
		{"both", Options{Spec: "@hourly", Pruner: &fakePruner{}, RetainDays: 30}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.Logger = logging.Discard()
			s, err := New(&fakeRefresher{}, tt.opts)
			if err != nil {
				t.Fatalf("new: %v", err)
			}
			if s.Jobs() != tt.want {
				t.Errorf("jobs = %d, want %d", s.Jobs(), tt.want)
			}
		})
	}
}

func TestNewInvalidSpec(t *testing.T) {
	if _, err := New(&fakeRefresher{}, Options{Spec: "every now and then", Logger: logging.Discard()}); err == nil {
		t.Fatal("expected error for invalid cron spec")
	}
	if _, err := New(nil, Options{}); err == nil {
		t.Fatal("expected error for nil refresher")
	}
}

func TestRunRefresh(t *testing.T) {
	r := &fakeRefresher{}
	s, err := New(r, Options{Channels: []string{"@danang_rent"}, Days: 5, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	s.RunRefresh(context.Background())

	if r.calls != 1 || r.days != 5 || !slices.Equal(r.channels, []string{"@danang_rent"}) {
		t.Errorf("unexpected refresh: calls=%d days=%d channels=%v", r.calls, r.days, r.channels)
	}
}

func TestRunRefreshErrorsAreLogged(t *testing.T) {
	for _, err := range []error{
		&ingest.ValidationError{Field: "channels", Reason: "at least one channel is required"},
		errors.New("not authorized"),
	} {
		r := &fakeRefresher{err: err}
		s, _ := New(r, Options{Logger: logging.Discard()})
		s.RunRefresh(context.Background())
		if r.calls != 1 {
			t.Errorf("calls = %d", r.calls)
		}
	}
}

func TestRunPrune(t *testing.T) {
	p := &fakePruner{}
	s, err := New(&fakeRefresher{}, Options{Pruner: p, RetainDays: 14, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	s.RunPrune(context.Background())
	if p.calls != 1 || p.retain != 14 {
		t.Errorf("prune calls=%d retain=%d", p.calls, p.retain)
	}
}

func TestStartStopWithoutJobs(t *testing.T) {
	s, err := New(&fakeRefresher{}, Options{Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()
	s.Stop()
}
