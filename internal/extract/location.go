package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ppiankov/rentscout/internal/listing"
)

// MaxLocationLen caps each extracted location, in runes.
const MaxLocationLen = 50

// wordOrSpace matches letters (with combining marks), digits, underscore
// and blanks in any script. Line breaks end a phrase.
const wordOrSpace = `[\p{L}\p{M}\p{N}_ \t]`

// explicitRules capture a field value such as "Area: Mỹ An". A rule with
// three groups is a location field with an embedded district designator:
// head, designator and tail are joined into one entry.
var explicitRules = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:area|khu vực|район)[:\s]+([^\n\r-]+?)(?:\n|-|$)`),
	regexp.MustCompile(`(?i)-\s*area[:\s]+([^\n\r-]+?)(?:\n|-|$)`),
	regexp.MustCompile(`(?i)(?:location|địa điểm)[:\s]+([^\n\r]+?)(district|quận)([^\n\r,]+)`),
}

// locationField is a labelled location without a district designator. It
// applies only when no district form was found.
var locationField = regexp.MustCompile(`(?i)(?:location|địa điểm)\s*:\s*([^\n\r]+)`)

var gazetteer = []string{
	"hanoi", "hà nội", "ханой",
	"ho chi minh", "hcmc", "saigon", "сайгон", "хошимин",
	"da nang", "đà nẵng", "дананг",
	"hoi an", "hội an", "хойан",
	"nha trang", "нячанг",
	"vung tau", "vũng tàu", "вунгтау",
	"phu quoc", "phú quốc", "фукуок",
	"hue", "huế", "хюэ",
	"halong", "hạ long", "халонг",
	"dalat", "đà lạt", "далат",
	"district", "quận", "район",
	"ward", "phường",
	"street", "đường", "улица",
	"city center", "trung tâm", "центр",
	"beach", "bãi biển", "пляж",
	"downtown", "старый город",
}

type keywordRule struct {
	keyword string
	re      *regexp.Regexp
}

var keywordRules = compileGazetteer(gazetteer)

func compileGazetteer(words []string) []keywordRule {
	rules := make([]keywordRule, 0, len(words))
	for _, w := range words {
		rules = append(rules, keywordRule{
			keyword: w,
			re:      regexp.MustCompile(`(?i)` + wordOrSpace + `*` + regexp.QuoteMeta(w) + wordOrSpace + `*`),
		})
	}
	return rules
}

var addressRules = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:đường|đ\.)\s+` + wordOrSpace + `+(?:\d+)?`),
	regexp.MustCompile(`(?i)(?:quận|q\.)\s+\d+`),
	regexp.MustCompile(`(?i)(?:phường|p\.)\s+` + wordOrSpace + `+`),
	regexp.MustCompile(`(?i)district\s+\d+`),
	regexp.MustCompile(`(?i)` + wordOrSpace + `+[ \t]+(?:district|area|район)`),
	regexp.MustCompile(`(?i)(?:улица|ул\.)\s+` + wordOrSpace + `+`),
}

// Locations returns up to listing.MaxLocations location strings found in
// text, in original casing. Explicit field values come first, then
// gazetteer hits, then address-like phrases.
func Locations(text string) []string {
	text = normalize(text)
	lower := strings.ToLower(text)

	var set locationSet
	district := false
	for _, re := range explicitRules {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			var value string
			if len(m) == 4 {
				value = strings.TrimSpace(m[1]) + " " + m[2] + m[3]
				district = true
			} else {
				value = m[1]
			}
			set.prependField(value)
		}
	}
	if !district {
		for _, m := range locationField.FindAllStringSubmatch(text, -1) {
			set.prependField(m[1])
		}
	}

	for _, rule := range keywordRules {
		if !strings.Contains(lower, rule.keyword) {
			continue
		}
		for _, m := range rule.re.FindAllString(text, -1) {
			set.add(m)
		}
	}

	for _, re := range addressRules {
		for _, m := range re.FindAllString(text, -1) {
			set.add(m)
		}
	}

	return set.list()
}

// locationSet is an insertion-ordered set of truncated entries.
type locationSet struct {
	items []string
}

func (s *locationSet) clean(v string) (string, bool) {
	v = truncateRunes(strings.TrimSpace(v), MaxLocationLen)
	v = strings.TrimSpace(v)
	if v == "" {
		return "", false
	}
	for _, existing := range s.items {
		if existing == v {
			return "", false
		}
	}
	return v, true
}

func (s *locationSet) add(v string) {
	if v, ok := s.clean(v); ok {
		s.items = append(s.items, v)
	}
}

func (s *locationSet) prepend(v string) {
	if v, ok := s.clean(v); ok {
		s.items = append([]string{v}, s.items...)
	}
}

// prependField puts an explicit field value first. Single-rune values are
// ignored.
func (s *locationSet) prependField(v string) {
	v = strings.TrimSpace(v)
	if utf8.RuneCountInString(v) > 1 {
		s.prepend(v)
	}
}

func (s *locationSet) list() []string {
	if len(s.items) > listing.MaxLocations {
		return s.items[:listing.MaxLocations]
	}
	return s.items
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
