// Package extract pulls rental prices and locations out of free-form
// English, Vietnamese and Russian post text using ordered pattern rules.
// Extraction never fails: unrecognized text yields no price and no
// locations.
package extract

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/ppiankov/rentscout/internal/listing"
)

// Result is the structured data extracted from one text.
type Result struct {
	Price     *int64
	Locations []string
}

// Parse extracts price and locations from text.
func Parse(text string) Result {
	text = normalize(text)
	var r Result
	if p, ok := priceOf(strings.ToLower(text)); ok {
		r.Price = &p
	}
	r.Locations = Locations(text)
	return r
}

// Apply fills Price, Location and RawText of l from its Text.
func Apply(l *listing.Listing) {
	r := Parse(l.Text)
	l.Price = r.Price
	l.Location = r.Locations
	l.RawText = listing.StringPtr(l.Text)
}

// normalize composes decomposed Vietnamese diacritics so keyword rules
// written in NFC match text typed on any keyboard.
func normalize(text string) string {
	return norm.NFC.String(text)
}
