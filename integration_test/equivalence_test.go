package integration_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/entidx"
	"github.com/hupe1980/entidx/attribute"
	"github.com/hupe1980/entidx/query"
	"github.com/hupe1980/entidx/testutil"
)

// case pairs a predicate with the plain scan it must agree with.
type filterCase struct {
	name string
	p    query.Predicate
	scan func(testutil.Record) bool
}

func filterCases(rng *testutil.RNG) []filterCase {
	var cases []filterCase
	for range 20 {
		color := testutil.Colors[rng.Intn(len(testutil.Colors))]
		tag := testutil.Tags[rng.Intn(len(testutil.Tags))]
		lo := 1 + rng.Int63n(1000)
		hi := lo + rng.Int63n(1001-lo)
		at := rng.Int63n(testutil.Horizon + 1)
		from := rng.Int63n(testutil.Horizon)
		to := from + rng.Int63n(testutil.Horizon-from+1)

		cases = append(cases,
			filterCase{
				name: fmt.Sprintf("color=%s", color),
				p:    query.Eq("color", attribute.String(color)),
				scan: func(r testutil.Record) bool { return r.Color == color },
			},
			filterCase{
				name: fmt.Sprintf("color!=%s", color),
				p:    query.NotEq("color", attribute.String(color)),
				scan: func(r testutil.Record) bool { return r.Color != color },
			},
			filterCase{
				name: fmt.Sprintf("price in [%d,%d]", lo, hi),
				p:    query.Between("price", attribute.Int(lo), attribute.Int(hi)),
				scan: func(r testutil.Record) bool { return lo <= r.Price && r.Price <= hi },
			},
			filterCase{
				name: fmt.Sprintf("price<%d or tag=%s", lo, tag),
				p:    query.Or(query.Lt("price", attribute.Int(lo)), query.Eq("tags", attribute.String(tag))),
				scan: func(r testutil.Record) bool { return r.Price < lo || r.HasTag(tag) },
			},
			filterCase{
				name: fmt.Sprintf("valid at %d", at),
				p:    query.ValidAt("validity", at),
				scan: func(r testutil.Record) bool { return r.ValidAt(at) },
			},
			filterCase{
				name: fmt.Sprintf("overlaps [%d,%d]", from, to),
				p:    query.RangeOverlaps("validity", from, to),
				scan: func(r testutil.Record) bool { return r.From <= to && from <= r.To },
			},
			filterCase{
				name: fmt.Sprintf("within [%d,%d]", from, to),
				p:    query.RangeWithin("validity", from, to),
				scan: func(r testutil.Record) bool { return from <= r.From && r.To <= to },
			},
			filterCase{
				name: fmt.Sprintf("not color=%s and valid at %d", color, at),
				p:    query.And(query.Not(query.Eq("color", attribute.String(color))), query.ValidAt("validity", at)),
				scan: func(r testutil.Record) bool { return r.Color != color && r.ValidAt(at) },
			},
		)
	}
	return cases
}

func TestQueryMatchesScan(t *testing.T) {
	ctx := context.Background()
	rng := testutil.NewRNG(7)
	records := rng.Records(2_000)

	for _, cacheSize := range []int{0, 256} {
		t.Run(fmt.Sprintf("cache=%d", cacheSize), func(t *testing.T) {
			db, err := entidx.Open(ctx, entidx.WithResultCache(cacheSize))
			require.NoError(t, err)
			defer db.Close()

			c, err := db.Collection("products")
			require.NoError(t, err)
			require.NoError(t, testutil.Populate(ctx, c, records))
			require.NoError(t, c.Validate(ctx))

			for _, tc := range filterCases(testutil.NewRNG(11)) {
				res, err := db.Query(ctx, "products", query.Request{Filter: &tc.p})
				require.NoError(t, err, tc.name)
				assert.Equal(t, testutil.Scan(records, tc.scan), res.IDs, tc.name)
			}
		})
	}
}
