package listing

import (
	"sync/atomic"
	"time"
)

// Snapshot is an immutable view of the listing cache as produced by one
// orchestrated fetch. Callers must not mutate Listings.
type Snapshot struct {
	Listings  []Listing
	UpdatedAt time.Time
	Channels  []string
	Days      int
}

// Age returns how long ago the snapshot was produced.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.UpdatedAt)
}

// Cache holds the current snapshot. Writers replace it wholesale, so
// readers never observe a partially built collection.
type Cache struct {
	current atomic.Pointer[Snapshot]
}

// Load returns the current snapshot, or nil if nothing was ever stored.
func (c *Cache) Load() *Snapshot {
	return c.current.Load()
}

// Replace swaps in a new snapshot.
func (c *Cache) Replace(s *Snapshot) {
	c.current.Store(s)
}

// Stats summarizes a snapshot.
type Stats struct {
	TotalListings     int        `json:"total_messages"`
	WithPrice         int        `json:"messages_with_price"`
	WithLocation      int        `json:"messages_with_location"`
	CacheAgeMinutes   *float64   `json:"cache_age_minutes"`
	CacheUpdated      *time.Time `json:"cache_updated"`
	LastFetchChannels []string   `json:"channels,omitempty"`
}

// StatsOf computes Stats for s at time now. A nil snapshot yields zero
// counts and no age.
func StatsOf(s *Snapshot, now time.Time) Stats {
	if s == nil {
		return Stats{}
	}
	st := Stats{TotalListings: len(s.Listings), LastFetchChannels: s.Channels}
	for _, l := range s.Listings {
		if l.Price != nil {
			st.WithPrice++
		}
		if len(l.Location) > 0 {
			st.WithLocation++
		}
	}
	age := s.Age(now).Minutes()
	updated := s.UpdatedAt
	st.CacheAgeMinutes = &age
	st.CacheUpdated = &updated
	return st
}
