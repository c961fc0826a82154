package listing

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// MaxLocations caps the number of extracted location strings per listing.
const MaxLocations = 10

// Listing is one logical post from a channel. Album posts collapse into a
// single Listing whose PhotoIDs aggregate every photo-bearing member.
type Listing struct {
	ID       int
	Date     time.Time
	Text     string
	Views    int
	Link     string
	Price    *int64
	Location []string
	PhotoIDs []int
	RawText  *string
	Channel  *string
}

type wireListing struct {
	ID       int       `json:"id"`
	Date     time.Time `json:"date"`
	Text     string    `json:"text"`
	Views    int       `json:"views"`
	Link     string    `json:"link"`
	Price    *int64    `json:"price"`
	Location []string  `json:"location"`
	PhotoIDs []int     `json:"photo_ids"`
	RawText  *string   `json:"raw_text"`
	Channel  *string   `json:"channel"`
}

// MarshalJSON keeps location and photo_ids as arrays even when empty.
func (l Listing) MarshalJSON() ([]byte, error) {
	w := wireListing(l)
	if w.Location == nil {
		w.Location = []string{}
	}
	if w.PhotoIDs == nil {
		w.PhotoIDs = []int{}
	}
	return json.Marshal(w)
}

func (l *Listing) UnmarshalJSON(data []byte) error {
	var w wireListing
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*l = Listing(w)
	return nil
}

// HasPrice reports whether an extracted price is present.
func (l Listing) HasPrice() bool {
	return l.Price != nil
}

// ChannelName returns the source channel or "" when untagged.
func (l Listing) ChannelName() string {
	if l.Channel == nil {
		return ""
	}
	return *l.Channel
}

// Permalink builds the public t.me link for a message in channel.
func Permalink(channel string, id int) string {
	return "https://t.me/" + strings.TrimPrefix(NormalizeChannel(channel), "@") + "/" + strconv.Itoa(id)
}

// NormalizeChannel turns "name", "@name" or "https://t.me/name" into "@name".
func NormalizeChannel(channel string) string {
	c := strings.TrimSpace(channel)
	for _, prefix := range []string{"https://t.me/", "http://t.me/", "t.me/"} {
		if strings.HasPrefix(strings.ToLower(c), prefix) {
			c = c[len(prefix):]
			break
		}
	}
	c = strings.TrimPrefix(strings.TrimSuffix(c, "/"), "@")
	if c == "" {
		return ""
	}
	return "@" + c
}

// StringPtr returns a pointer to a copy of s.
func StringPtr(s string) *string {
	return &s
}
