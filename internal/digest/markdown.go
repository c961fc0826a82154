package digest

import (
	"fmt"
	"io"
	"strings"

	"github.com/ppiankov/rentscout/internal/listing"
)

// MarkdownFormatter formats listings as Markdown.
type MarkdownFormatter struct{}

// NewMarkdown creates a Markdown formatter.
func NewMarkdown() *MarkdownFormatter {
	return &MarkdownFormatter{}
}

// Format writes the listings as Markdown to w.
func (f *MarkdownFormatter) Format(w io.Writer, input Input) error {
	fmt.Fprintf(w, "# rentscout listings\n\n")
	fmt.Fprintf(w, "%s\n\n", summaryLine(input))

	if len(input.Listings) == 0 {
		fmt.Fprintln(w, "No listings found.")
		return nil
	}

	priced, unpriced := splitByPrice(input.Listings)
	if len(priced) > 0 {
		fmt.Fprintf(w, "## With price (%d)\n\n", len(priced))
		for _, l := range priced {
			f.writeItem(w, l, input)
		}
	}
	if len(unpriced) > 0 {
		fmt.Fprintf(w, "## No price (%d)\n\n", len(unpriced))
		for _, l := range unpriced {
			f.writeItem(w, l, input)
		}
	}
	return nil
}

func (f *MarkdownFormatter) writeItem(w io.Writer, l listing.Listing, input Input) {
	fmt.Fprintf(w, "### %s · %s\n\n", formatPrice(l), l.ChannelName())
	fmt.Fprintf(w, "%s\n\n", headline(l.Text, headlineWidth))
	if len(l.Location) > 0 {
		parts := make([]string, len(l.Location))
		for i, loc := range l.Location {
			parts[i] = "`" + loc + "`"
		}
		fmt.Fprintf(w, "Area: %s\n\n", strings.Join(parts, " "))
	}
	fmt.Fprintf(w, "Posted %s", formatAge(l.Date, input.Now))
	if l.Link != "" {
		fmt.Fprintf(w, " · [Open in Telegram](%s)", l.Link)
	}
	fmt.Fprint(w, "\n\n")
}
