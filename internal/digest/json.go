package digest

import (
	"encoding/json"
	"io"
	"time"

	"github.com/ppiankov/rentscout/internal/listing"
)

type jsonDigest struct {
	Meta     jsonMeta          `json:"meta"`
	Listings []listing.Listing `json:"listings"`
}

type jsonMeta struct {
	Channels    []string  `json:"channels"`
	Days        int       `json:"days"`
	Total       int       `json:"total"`
	Shown       int       `json:"shown"`
	WithPrice   int       `json:"with_price"`
	GeneratedAt time.Time `json:"generated_at"`
}

// JSONFormatter formats listings as JSON.
type JSONFormatter struct{}

// NewJSON creates a JSON formatter.
func NewJSON() *JSONFormatter {
	return &JSONFormatter{}
}

// Format writes the listings as JSON to w.
func (f *JSONFormatter) Format(w io.Writer, input Input) error {
	priced, _ := splitByPrice(input.Listings)
	channels := input.Channels
	if channels == nil {
		channels = []string{}
	}
	listings := input.Listings
	if listings == nil {
		listings = []listing.Listing{}
	}
	now := input.Now
	if now.IsZero() {
		now = time.Now()
	}

	out := jsonDigest{
		Meta: jsonMeta{
			Channels:    channels,
			Days:        input.Days,
			Total:       input.Total,
			Shown:       len(listings),
			WithPrice:   len(priced),
			GeneratedAt: now.UTC(),
		},
		Listings: listings,
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
