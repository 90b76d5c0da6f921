package ranking

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/dekvall/matkrasslig/internal/geo"
	"github.com/dekvall/matkrasslig/internal/store"
)

// testIndex builds a synthetic GeoNames table with zips 10000..10019
// spaced out northwards, so index order equals distance order from 10000.
func testIndex(t *testing.T) *geo.Index {
	t.Helper()
	var b strings.Builder
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&b, "SE\t%d\tPlace%d\tCounty\tAB\tDistrict%d\t0100\t\t\t%f\t18.0\t4\n",
			10000+i, i, i, 59.0+float64(i)*0.1)
	}
	idx, err := geo.Parse(strings.NewReader(b.String()))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return idx
}

type staticHelpers []store.Helper

func (s staticHelpers) AllHelpers(ctx context.Context) ([]store.Helper, error) {
	return append([]store.Helper(nil), s...), nil
}

func TestRank_ClosestFirst(t *testing.T) {
	idx := testIndex(t)
	helpers := staticHelpers{
		{Phone: "+46703", Zipcode: "10015", District: "District15"},
		{Phone: "+46701", Zipcode: "10001", District: "District1"},
		{Phone: "+46702", Zipcode: "10007", District: "District7"},
	}
	r := NewRanker(idx, helpers)

	got, err := r.Rank(context.Background(), "District0", "10000")
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	want := []string{"+46701", "+46702", "+46703"}
	if len(got) != len(want) {
		t.Fatalf("expected %d candidates, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestRank_UnknownZipIsEmptyNotError(t *testing.T) {
	r := NewRanker(testIndex(t), staticHelpers{{Phone: "+46701", Zipcode: "10001"}})
	got, err := r.Rank(context.Background(), "", "99999")
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty ranking, got %v", got)
	}
}

func TestRank_NoHelpersIsEmpty(t *testing.T) {
	r := NewRanker(testIndex(t), staticHelpers{})
	got, err := r.Rank(context.Background(), "District0", "10000")
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty ranking, got %v", got)
	}
}

func TestRank_SkipsHelpersWithUnknownZip(t *testing.T) {
	r := NewRanker(testIndex(t), staticHelpers{
		{Phone: "+46701", Zipcode: "10001"},
		{Phone: "+46702", Zipcode: "55555"},
	})
	got, err := r.Rank(context.Background(), "District0", "10000")
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if len(got) != 1 || got[0] != "+46701" {
		t.Fatalf("expected only the placeable helper, got %v", got)
	}
}

// Property tests over random helper sets: ranking is deterministic, its
// distances are non-decreasing, and it is a permutation of the input.
func TestRank_Properties(t *testing.T) {
	idx := testIndex(t)
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	genHelpers := gen.SliceOf(gen.IntRange(0, 19).Map(func(i int) store.Helper {
		return store.Helper{
			Phone:    fmt.Sprintf("+4670%04d", i),
			Zipcode:  fmt.Sprintf("%d", 10000+i),
			District: fmt.Sprintf("District%d", i),
		}
	}))

	properties.Property("deterministic", prop.ForAll(
		func(helpers []store.Helper) bool {
			r := NewRanker(idx, staticHelpers(helpers))
			a, err1 := r.Rank(context.Background(), "District0", "10003")
			b, err2 := r.Rank(context.Background(), "District0", "10003")
			if err1 != nil || err2 != nil || len(a) != len(b) {
				return false
			}
			for i := range a {
				if a[i] != b[i] {
					return false
				}
			}
			return true
		},
		genHelpers,
	))

	properties.Property("non-decreasing distance", prop.ForAll(
		func(helpers []store.Helper) bool {
			r := NewRanker(idx, staticHelpers(helpers))
			ranked, err := r.Rank(context.Background(), "District0", "10003")
			if err != nil {
				return false
			}
			origin, _ := idx.LatLong("10003")
			zipByPhone := map[string]string{}
			for _, h := range helpers {
				zipByPhone[h.Phone] = h.Zipcode
			}
			prev := -1.0
			for _, phone := range ranked {
				pos, ok := idx.LatLong(zipByPhone[phone])
				if !ok {
					return false
				}
				d := geo.Distance(origin, pos)
				if d < prev {
					return false
				}
				prev = d
			}
			return true
		},
		genHelpers,
	))

	properties.Property("permutation of placeable helpers", prop.ForAll(
		func(helpers []store.Helper) bool {
			r := NewRanker(idx, staticHelpers(helpers))
			ranked, err := r.Rank(context.Background(), "District0", "10003")
			if err != nil {
				return false
			}
			counts := map[string]int{}
			for _, h := range helpers {
				counts[h.Phone]++
			}
			for _, phone := range ranked {
				counts[phone]--
				if counts[phone] < 0 {
					return false
				}
			}
			return len(ranked) == len(helpers)
		},
		genHelpers,
	))

	properties.TestingRun(t)
}
