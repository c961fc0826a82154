package privacy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ppiankov/rentscout/internal/listing"
)

const redactedPlaceholder = "[REDACTED]"

// presets are named patterns for contact details common in rental posts.
// Reference them in config as "preset:<name>".
var presets = map[string]string{
	"phone": `(?:\+\d{1,3}|\b0)[\d\s.-]{7,14}\d`,
	"email": `[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`,
	"zalo":  `(?i)zalo[:\s]*[\d\s.+-]{8,}\d`,
}

// Redactor replaces sensitive fragments of listing text.
type Redactor struct {
	patterns []*regexp.Regexp
}

// Compile builds a Redactor from regex patterns and preset references.
// Returns an error if any pattern is invalid or names an unknown preset.
func Compile(patterns []string) (*Redactor, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		expr := p
		if name, ok := strings.CutPrefix(p, "preset:"); ok {
			preset, known := presets[name]
			if !known {
				return nil, fmt.Errorf("unknown redact preset %q", name)
			}
			expr = preset
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compile redact pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return &Redactor{patterns: compiled}, nil
}

// Apply replaces all matches in text with [REDACTED]. A nil Redactor
// returns text unchanged.
func (r *Redactor) Apply(text string) string {
	if r == nil {
		return text
	}
	for _, re := range r.patterns {
		text = re.ReplaceAllString(text, redactedPlaceholder)
	}
	return text
}

// Listing redacts the text fields of l.
func (r *Redactor) Listing(l listing.Listing) listing.Listing {
	if r == nil || len(r.patterns) == 0 {
		return l
	}
	l.Text = r.Apply(l.Text)
	if l.RawText != nil {
		l.RawText = listing.StringPtr(r.Apply(*l.RawText))
	}
	return l
}
