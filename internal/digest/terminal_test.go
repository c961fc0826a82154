package digest

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/rentscout/internal/listing"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func makeListing(id int, age time.Duration, text string, price int64, locations ...string) listing.Listing {
	l := listing.Listing{
		ID:       id,
		Date:     now.Add(-age),
		Text:     text,
		Views:    id * 1000,
		Link:     listing.Permalink("@danang_rent", id),
		Location: locations,
		Channel:  listing.StringPtr("@danang_rent"),
	}
	if price > 0 {
		l.Price = &price
	}
	return l
}

func sampleInput() Input {
	return Input{
		Listings: []listing.Listing{
			makeListing(3, 3*time.Hour, "Studio near the beach\nPrice: 12 million", 12_000_000, "Mỹ An"),
			makeListing(2, 26*time.Hour, "Villa, contact for price", 0),
		},
		Channels: []string{"@danang_rent", "@hoian_rent"},
		Days:     7,
		Total:    5,
		Now:      now,
	}
}

func TestTerminalFormat(t *testing.T) {
	var buf bytes.Buffer
	if err := NewTerminal(false).Format(&buf, sampleInput()); err != nil {
		t.Fatalf("format: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"2 channels, 2 of 5 listings, last 7d",
		"@danang_rent, @hoian_rent",
		"--- With price (1) ---",
		"[12,000,000 ₫] @danang_rent  Studio near the beach",
		"3 hours ago · 3,000 views",
		"area: Mỹ An",
		"https://t.me/danang_rent/3",
		"--- No price (1) ---",
		"[no price] @danang_rent  Villa, contact for price",
		"1 day ago",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "With price") > strings.Index(out, "No price") {
		t.Error("priced listings should come first")
	}
	if strings.Contains(out, "\033[") {
		t.Error("color codes with color disabled")
	}
}

func TestTerminalFormatEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := NewTerminal(false).Format(&buf, Input{Days: 7, Now: now}); err != nil {
		t.Fatalf("format: %v", err)
	}
	if !strings.Contains(buf.String(), "No listings found.") {
		t.Errorf("unexpected output: %q", buf.String())
	}
}

func TestTerminalFormatColor(t *testing.T) {
	var buf bytes.Buffer
	if err := NewTerminal(true).Format(&buf, sampleInput()); err != nil {
		t.Fatalf("format: %v", err)
	}
	if !strings.Contains(buf.String(), "\033[1m") {
		t.Error("expected ANSI codes")
	}
}

func TestHeadline(t *testing.T) {
	tests := []struct {
		text  string
		width int
		want  string
	}{
		{"\n  Studio  \nsecond", 20, "Studio"},
		{"Căn hộ 2 phòng ngủ", 6, "Căn h…"},
		{"", 10, ""},
	}
	for _, tt := range tests {
		if got := headline(tt.text, tt.width); got != tt.want {
			t.Errorf("headline(%q, %d) = %q, want %q", tt.text, tt.width, got, tt.want)
		}
	}
}

func TestNew(t *testing.T) {
	for _, f := range []string{"", "terminal", "json", "markdown", "md"} {
		if _, err := New(f, false); err != nil {
			t.Errorf("New(%q): %v", f, err)
		}
	}
	if _, err := New("html", false); err == nil {
		t.Error("expected error for unknown format")
	}
}
