package filter

import (
	"errors"
	"testing"
	"time"

	"github.com/ppiankov/rentscout/internal/extract"
	"github.com/ppiankov/rentscout/internal/listing"
)

func ptr(v int64) *int64 { return &v }

func parsedListings(texts ...string) []listing.Listing {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	out := make([]listing.Listing, len(texts))
	for i, text := range texts {
		out[i] = listing.Listing{ID: i + 1, Date: base.Add(time.Duration(i) * time.Hour), Text: text}
		extract.Apply(&out[i])
	}
	return out
}

var fixtures = []string{
	"Type: Studio\n- Address: Hoàng Kế Viêm st\n- Price: 12 million\n- Area: Mỹ An\n- Available 16th December",
	"Luxury 1BR Apartment for Rent – Da Nang City Center\n📍 Location: Tran Phu Street, Hai Chau District – prime location by Han River\n💵 Rent: 15,000,000",
	"Studio apartment in Hòa Hải area\nPrice: 8 million VND per month",
	"2BR in An Thượng beach\nRent $600/month",
	"House in Khuê Mỹ district\n15tr/tháng",
}

func ids(listings []listing.Listing) []int {
	out := make([]int, len(listings))
	for i, l := range listings {
		out[i] = l.ID
	}
	return out
}

func equalIDs(got []listing.Listing, want ...int) bool {
	g := ids(got)
	if len(g) != len(want) {
		return false
	}
	for i := range g {
		if g[i] != want[i] {
			return false
		}
	}
	return true
}

func TestApplyExclusion(t *testing.T) {
	got := Apply(parsedListings(fixtures...), Criteria{ExcludeAreas: "Hòa Hải, Khuê Mỹ"})
	if !equalIDs(got, 1, 2, 4) {
		t.Errorf("ids = %v, want [1 2 4]", ids(got))
	}
}

func TestApplyExclusionCaseInsensitive(t *testing.T) {
	got := Apply(parsedListings(fixtures...), Criteria{ExcludeAreas: " HÒA HẢI ,, "})
	for _, l := range got {
		if l.ID == 3 {
			t.Fatalf("listing 3 should be excluded: %v", ids(got))
		}
	}
	if len(got) != 4 {
		t.Errorf("len = %d, want 4", len(got))
	}
}

func TestExclusionWinsOverWhitelist(t *testing.T) {
	got := Apply(parsedListings(fixtures...), Criteria{
		Location:     "Khuê Mỹ",
		ExcludeAreas: "khuê mỹ",
		MinPrice:     ptr(1_000_000),
	})
	if len(got) != 0 {
		t.Errorf("ids = %v, want none", ids(got))
	}
}

func TestApplyPriceBounds(t *testing.T) {
	all := parsedListings(fixtures...)
	// prices: 12M, 15M, 8M, 600, 15M

	tests := []struct {
		name string
		c    Criteria
		want []int
	}{
		{"min", Criteria{MinPrice: ptr(10_000_000)}, []int{1, 2, 5}},
		{"max", Criteria{MaxPrice: ptr(1_000)}, []int{4}},
		{"range", Criteria{MinPrice: ptr(8_000_000), MaxPrice: ptr(12_000_000)}, []int{1, 3}},
		{"none", Criteria{}, []int{1, 2, 3, 4, 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Apply(all, tt.c)
			if !equalIDs(got, tt.want...) {
				t.Errorf("ids = %v, want %v", ids(got), tt.want)
			}
		})
	}
}

func TestApplyPriceBoundDropsUnpriced(t *testing.T) {
	listings := []listing.Listing{{ID: 1, Text: "nice flat"}, {ID: 2, Text: "nice flat", Price: ptr(5_000_000)}}
	got := Apply(listings, Criteria{MinPrice: ptr(0)})
	if !equalIDs(got, 2) {
		t.Errorf("ids = %v, want [2]", ids(got))
	}
}

func TestApplyWhitelist(t *testing.T) {
	listings := []listing.Listing{
		{ID: 1, Text: "flat", Location: []string{"An Thượng"}},
		{ID: 2, Text: "villa near an thượng beach"},
		{ID: 3, Text: "room in Hải Châu"},
	}
	got := Apply(listings, Criteria{Location: "AN THƯỢNG"})
	if !equalIDs(got, 1, 2) {
		t.Errorf("ids = %v, want [1 2]", ids(got))
	}
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	all := parsedListings(fixtures...)
	_ = Apply(all, Criteria{ExcludeAreas: "Mỹ An"})
	if len(all) != len(fixtures) || all[0].ID != 1 {
		t.Error("input slice modified")
	}
}

func TestExcludeTerms(t *testing.T) {
	got := ExcludeTerms(" Hòa Hải, ,Khuê Mỹ ,")
	if len(got) != 2 || got[0] != "hòa hải" || got[1] != "khuê mỹ" {
		t.Errorf("ExcludeTerms = %q", got)
	}
	if ExcludeTerms("") != nil {
		t.Error("empty list should yield no terms")
	}
}

func TestSort(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	make3 := func() []listing.Listing {
		return []listing.Listing{
			{ID: 1, Date: base.Add(2 * time.Hour), Price: ptr(10)},
			{ID: 2, Date: base},
			{ID: 3, Date: base.Add(time.Hour), Price: ptr(30)},
		}
	}

	tests := []struct {
		order Order
		want  []int
	}{
		{DateDesc, []int{1, 3, 2}},
		{DateAsc, []int{2, 3, 1}},
		{PriceDesc, []int{3, 1, 2}},
		{PriceAsc, []int{1, 3, 2}},
	}
	for _, tt := range tests {
		t.Run(string(tt.order), func(t *testing.T) {
			l := make3()
			Sort(l, tt.order)
			if !equalIDs(l, tt.want...) {
				t.Errorf("ids = %v, want %v", ids(l), tt.want)
			}
		})
	}
}

func TestSortStable(t *testing.T) {
	l := []listing.Listing{{ID: 1}, {ID: 2}, {ID: 3}}
	Sort(l, PriceAsc)
	if !equalIDs(l, 1, 2, 3) {
		t.Errorf("ids = %v, want input order for equal keys", ids(l))
	}
}

func TestParseOrder(t *testing.T) {
	if o, err := ParseOrder(""); err != nil || o != DateDesc {
		t.Errorf("ParseOrder(\"\") = %q, %v", o, err)
	}
	if o, err := ParseOrder("PRICE_ASC"); err != nil || o != PriceAsc {
		t.Errorf("ParseOrder(PRICE_ASC) = %q, %v", o, err)
	}
	_, err := ParseOrder("cheapest")
	var unknown *UnknownOrderError
	if !errors.As(err, &unknown) {
		t.Fatalf("err = %v, want UnknownOrderError", err)
	}
}
