package extract

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	minPlausiblePrice = 100
	maxPlausiblePrice = 100_000_000

	windowBefore = 5
	windowAfter  = 20
)

// priceKeyword anchors the keyword-led rules.
const priceKeyword = `(?:rent|price|giá|цена|аренда|thuê)`

// priceRules are evaluated in order against lower-cased text. Group 1 is
// the numeric candidate.
var priceRules = []*regexp.Regexp{
	regexp.MustCompile(priceKeyword + `[:\s]+([\d,.\s]+?)\s+(?:million|triệu|млн)`),
	regexp.MustCompile(priceKeyword + `[:\s]+([\d,.\s]+?)\s+(?:thousand|nghìn|тыс|k)`),
	regexp.MustCompile(priceKeyword + `[:\s]+([\d,.\s]+?)(?:\s*vnd|\s*$|\s*\n)`),
	regexp.MustCompile(`(\d+[\d,.\s]*)\s*(?:vnd|₫|đ|dong|донг)`),
	regexp.MustCompile(`(\d+[\d,.\s]*)\s*(?:tr|triệu|млн)`),
	regexp.MustCompile(`(\d+[\d,.\s]*)\s*(?:k|nghìn|тыс)`),
	regexp.MustCompile(`\$\s*([\d,.\s]+)`),
	regexp.MustCompile(`([\d,.\s]+)\s*(?:usd|долл)`),
	regexp.MustCompile(`(?:price|цена|giá)[:\s]+([\d,.\s]+)`),
	regexp.MustCompile(`([\d,.\s]+)\s*(?:/month|в месяц|tháng)`),
}

var (
	millionWords  = []string{"tr", "triệu", "триệу", "млн", "million", "mil"}
	thousandWords = []string{"k", "nghìn", "тыс", "тысяч", "thousand"}
)

// Price returns the rental price mentioned in text, in base currency units.
// The first rule yielding a parseable all-digit candidate decides the
// outcome; if that candidate is implausible the price is absent.
func Price(text string) (int64, bool) {
	return priceOf(strings.ToLower(normalize(text)))
}

func priceOf(lower string) (int64, bool) {
	for _, re := range priceRules {
		m := re.FindStringSubmatchIndex(lower)
		if m == nil || m[2] < 0 {
			continue
		}
		digits := stripSeparators(lower[m[2]:m[3]])
		if !isDigits(digits) {
			continue
		}
		raw, err := strconv.ParseInt(digits, 10, 64)
		if err != nil {
			continue
		}
		return plausible(raw, window(lower, m[0], m[1]))
	}
	return 0, false
}

func plausible(raw int64, context string) (int64, bool) {
	value := raw
	switch {
	case containsAny(context, millionWords):
		value = scale(raw, 1_000_000)
	case containsAny(context, thousandWords):
		value = scale(raw, 1_000)
	}

	if value >= minPlausiblePrice && value <= maxPlausiblePrice {
		return value, true
	}
	// "Rent: 15" is shorthand for 15 million.
	if value >= 5 && value <= 100 && strings.Contains(context, "rent") {
		return value * 1_000_000, true
	}
	return 0, false
}

// scale multiplies and saturates on overflow, which the range check rejects.
func scale(v, factor int64) int64 {
	if v > math.MaxInt64/factor {
		return math.MaxInt64
	}
	return v * factor
}

// window returns the text from windowBefore runes before start to
// windowAfter runes after end.
func window(s string, start, end int) string {
	from := start
	for i := 0; i < windowBefore && from > 0; i++ {
		_, size := utf8.DecodeLastRuneInString(s[:from])
		from -= size
	}
	to := end
	for i := 0; i < windowAfter && to < len(s); i++ {
		_, size := utf8.DecodeRuneInString(s[to:])
		to += size
	}
	return s[from:to]
}

var separators = strings.NewReplacer(" ", "", ",", "", ".", "")

func stripSeparators(s string) string {
	return separators.Replace(s)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
