package filter

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/ppiankov/rentscout/internal/listing"
)

// Order is a listing sort order.
type Order string

const (
	DateDesc  Order = "date_desc"
	DateAsc   Order = "date_asc"
	PriceDesc Order = "price_desc"
	PriceAsc  Order = "price_asc"
)

// DefaultOrder is used when no order is requested.
const DefaultOrder = DateDesc

// UnknownOrderError reports an unsupported sort order.
type UnknownOrderError struct {
	Order string
}

func (e *UnknownOrderError) Error() string {
	return fmt.Sprintf("unknown sort order %q (want date_desc, date_asc, price_desc or price_asc)", e.Order)
}

// ParseOrder validates a sort order string. Empty selects DefaultOrder.
func ParseOrder(s string) (Order, error) {
	switch o := Order(strings.ToLower(strings.TrimSpace(s))); o {
	case "":
		return DefaultOrder, nil
	case DateDesc, DateAsc, PriceDesc, PriceAsc:
		return o, nil
	default:
		return "", &UnknownOrderError{Order: s}
	}
}

// Sort orders listings in place. The sort is stable. For price_desc a
// missing price counts as 0; for price_asc it counts as +inf, so unpriced
// listings end up last either way.
func Sort(listings []listing.Listing, o Order) {
	switch o {
	case DateAsc:
		slices.SortStableFunc(listings, func(a, b listing.Listing) int {
			return a.Date.Compare(b.Date)
		})
	case PriceDesc:
		slices.SortStableFunc(listings, func(a, b listing.Listing) int {
			return cmp.Compare(priceOr(b, 0), priceOr(a, 0))
		})
	case PriceAsc:
		slices.SortStableFunc(listings, func(a, b listing.Listing) int {
			return cmp.Compare(priceOr(a, math.MaxInt64), priceOr(b, math.MaxInt64))
		})
	default:
		slices.SortStableFunc(listings, func(a, b listing.Listing) int {
			return b.Date.Compare(a.Date)
		})
	}
}

func priceOr(l listing.Listing, missing int64) int64 {
	if l.Price == nil {
		return missing
	}
	return *l.Price
}
