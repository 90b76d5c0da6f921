// Package ranking orders registered helpers by geographic proximity to a
// customer. The ranking is a pure function of the helper set and the geo
// index; repeated calls with the same inputs return the same order.
package ranking

import (
	"context"
	"sort"

	"github.com/dekvall/matkrasslig/internal/geo"
	"github.com/dekvall/matkrasslig/internal/store"
)

// HelperSource yields the current registered-helper set.
type HelperSource interface {
	AllHelpers(ctx context.Context) ([]store.Helper, error)
}

type Ranker struct {
	geo     *geo.Index
	helpers HelperSource
}

func NewRanker(idx *geo.Index, helpers HelperSource) *Ranker {
	return &Ranker{geo: idx, helpers: helpers}
}

type scored struct {
	helper   store.Helper
	distance float64
}

// Rank returns helper phone numbers closest-first for a customer at the
// given zip code. An unknown zip or an empty helper set yields an empty
// list, never an error: callers treat empty as "no match found".
//
// Ties on distance prefer helpers in the customer's district, then fall
// back to phone order so the result is stable.
func (r *Ranker) Rank(ctx context.Context, district, zipcode string) ([]string, error) {
	origin, ok := r.geo.LatLong(zipcode)
	if !ok {
		return nil, nil
	}

	helpers, err := r.helpers.AllHelpers(ctx)
	if err != nil {
		return nil, err
	}

	ranked := make([]scored, 0, len(helpers))
	for _, h := range helpers {
		pos, ok := r.geo.LatLong(h.Zipcode)
		if !ok {
			// A helper registered with a zip the table no longer knows
			// cannot be placed; leave them out rather than guessing.
			continue
		}
		ranked = append(ranked, scored{helper: h, distance: geo.Distance(origin, pos)})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].distance != ranked[j].distance {
			return ranked[i].distance < ranked[j].distance
		}
		iSame := ranked[i].helper.District == district
		jSame := ranked[j].helper.District == district
		if iSame != jSame {
			return iSame
		}
		return ranked[i].helper.Phone < ranked[j].helper.Phone
	})

	out := make([]string, 0, len(ranked))
	for _, s := range ranked {
		out = append(out, s.helper.Phone)
	}
	return out, nil
}
