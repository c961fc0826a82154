// Package filter narrows and orders cached listings.
package filter

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/ppiankov/rentscout/internal/listing"
)

// Criteria selects listings. Zero values disable the corresponding check.
type Criteria struct {
	MinPrice *int64
	MaxPrice *int64
	// Location is a whitelist term matched against text and locations.
	Location string
	// ExcludeAreas is a comma-separated blacklist. Exclusion wins over
	// every other criterion.
	ExcludeAreas string
}

// fold case-folds s. A Caser is stateful, so one is made per call.
func fold(s string) string {
	return cases.Fold().String(norm.NFC.String(s))
}

// ExcludeTerms splits a comma-separated exclusion list into folded,
// non-empty terms.
func ExcludeTerms(raw string) []string {
	var terms []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			terms = append(terms, fold(part))
		}
	}
	return terms
}

// Apply returns the listings matching c, preserving input order. The input
// slice is not modified.
func Apply(listings []listing.Listing, c Criteria) []listing.Listing {
	excluded := ExcludeTerms(c.ExcludeAreas)
	whitelist := fold(strings.TrimSpace(c.Location))

	out := make([]listing.Listing, 0, len(listings))
	for _, l := range listings {
		if len(excluded) > 0 && mentionsAny(l, excluded) {
			continue
		}
		if c.MinPrice != nil && (l.Price == nil || *l.Price < *c.MinPrice) {
			continue
		}
		if c.MaxPrice != nil && (l.Price == nil || *l.Price > *c.MaxPrice) {
			continue
		}
		if whitelist != "" && !mentionsAny(l, []string{whitelist}) {
			continue
		}
		out = append(out, l)
	}
	return out
}

// mentionsAny reports whether any folded term occurs in the listing text
// or in one of its locations.
func mentionsAny(l listing.Listing, terms []string) bool {
	text := fold(l.Text)
	locations := make([]string, len(l.Location))
	for i, loc := range l.Location {
		locations[i] = fold(loc)
	}
	for _, term := range terms {
		if strings.Contains(text, term) {
			return true
		}
		for _, loc := range locations {
			if strings.Contains(loc, term) {
				return true
			}
		}
	}
	return false
}
