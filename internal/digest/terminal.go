package digest

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/ppiankov/rentscout/internal/listing"
)

const headlineWidth = 90

// TerminalFormatter formats listings for terminal output.
type TerminalFormatter struct {
	color bool
}

// NewTerminal creates a terminal formatter. Set color=true for ANSI colors.
func NewTerminal(color bool) *TerminalFormatter {
	return &TerminalFormatter{color: color}
}

// Format writes priced listings first, then the rest.
func (f *TerminalFormatter) Format(w io.Writer, input Input) error {
	fmt.Fprintln(w, f.bold("rentscout: "+summaryLine(input)))
	if len(input.Channels) > 0 {
		fmt.Fprintln(w, f.dim(strings.Join(input.Channels, ", ")))
	}
	fmt.Fprintln(w)

	if len(input.Listings) == 0 {
		fmt.Fprintln(w, "No listings found.")
		return nil
	}

	priced, unpriced := splitByPrice(input.Listings)
	if len(priced) > 0 {
		fmt.Fprintln(w, f.green(f.bold(fmt.Sprintf("--- With price (%d) ---", len(priced)))))
		fmt.Fprintln(w)
		for _, l := range priced {
			f.writeItem(w, l, input)
		}
	}
	if len(unpriced) > 0 {
		fmt.Fprintln(w, f.yellow(f.bold(fmt.Sprintf("--- No price (%d) ---", len(unpriced)))))
		fmt.Fprintln(w)
		for _, l := range unpriced {
			f.writeItem(w, l, input)
		}
	}
	return nil
}

func (f *TerminalFormatter) writeItem(w io.Writer, l listing.Listing, input Input) {
	fmt.Fprintf(w, "  %s %s  %s\n",
		f.bold("["+formatPrice(l)+"]"),
		l.ChannelName(),
		headline(l.Text, headlineWidth),
	)
	meta := []string{formatAge(l.Date, input.Now), humanize.Comma(int64(l.Views)) + " views"}
	if n := len(l.PhotoIDs); n > 0 {
		meta = append(meta, fmt.Sprintf("%d photos", n))
	}
	fmt.Fprintf(w, "      %s\n", f.dim(strings.Join(meta, " · ")))
	if len(l.Location) > 0 {
		fmt.Fprintf(w, "      %s\n", f.dim("area: "+strings.Join(l.Location, "; ")))
	}
	if l.Link != "" {
		fmt.Fprintf(w, "      %s\n", f.dim(l.Link))
	}
	fmt.Fprintln(w)
}

func (f *TerminalFormatter) bold(s string) string {
	if !f.color {
		return s
	}
	return "\033[1m" + s + "\033[0m"
}

func (f *TerminalFormatter) green(s string) string {
	if !f.color {
		return s
	}
	return "\033[32m" + s + "\033[0m"
}

func (f *TerminalFormatter) yellow(s string) string {
	if !f.color {
		return s
	}
	return "\033[33m" + s + "\033[0m"
}

func (f *TerminalFormatter) dim(s string) string {
	if !f.color {
		return s
	}
	return "\033[2m" + s + "\033[0m"
}
