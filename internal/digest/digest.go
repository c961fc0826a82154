// Package digest renders fetched listings for the command line.
package digest

import (
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"github.com/ppiankov/rentscout/internal/listing"
)

// Input is everything a formatter needs.
type Input struct {
	Listings []listing.Listing
	Channels []string
	Days     int
	// Total is the number of cached listings before filtering.
	Total int
	Now   time.Time
}

// Formatter writes rendered listings to w.
type Formatter interface {
	Format(w io.Writer, input Input) error
}

// New returns the formatter for format: terminal, json or markdown.
func New(format string, color bool) (Formatter, error) {
	switch format {
	case "", "terminal":
		return NewTerminal(color), nil
	case "json":
		return NewJSON(), nil
	case "markdown", "md":
		return NewMarkdown(), nil
	default:
		return nil, fmt.Errorf("unknown format %q (want terminal, json or markdown)", format)
	}
}

// splitByPrice keeps input order within each group.
func splitByPrice(ls []listing.Listing) (priced, unpriced []listing.Listing) {
	for _, l := range ls {
		if l.HasPrice() {
			priced = append(priced, l)
		} else {
			unpriced = append(unpriced, l)
		}
	}
	return priced, unpriced
}

func formatPrice(l listing.Listing) string {
	if l.Price == nil {
		return "no price"
	}
	return humanize.Comma(*l.Price) + " ₫"
}

func formatAge(t, now time.Time) string {
	if now.IsZero() {
		now = time.Now()
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

// headline is the first non-empty line of text, cut to width runes.
func headline(text string, width int) string {
	line := ""
	for _, s := range strings.Split(text, "\n") {
		if s = strings.TrimSpace(s); s != "" {
			line = s
			break
		}
	}
	if utf8.RuneCountInString(line) <= width {
		return line
	}
	r := []rune(line)
	return string(r[:width-1]) + "…"
}

func summaryLine(input Input) string {
	return fmt.Sprintf("%d channels, %d of %d listings, last %dd",
		len(input.Channels), len(input.Listings), input.Total, input.Days)
}
