package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/entidx/attribute"
	"github.com/hupe1980/entidx/entity"
	"github.com/hupe1980/entidx/query"
)

func TestRecords(t *testing.T) {
	rng := NewRNG(4711)

	records := rng.Records(500)

	require.Len(t, records, 500)
	for i, rec := range records {
		assert.Equal(t, uint32(i+1), rec.ID)
		assert.LessOrEqual(t, rec.From, rec.To)
		assert.LessOrEqual(t, rec.To, int64(Horizon))
		assert.Positive(t, rec.Price)
	}
}

func TestReset(t *testing.T) {
	rng := NewRNG(4711)
	r1 := rng.Records(10)
	rng.Reset()
	r2 := rng.Records(10)

	assert.Equal(t, r1, r2)
	assert.Equal(t, int64(4711), rng.Seed())
}

func TestPopulate(t *testing.T) {
	ctx := context.Background()
	records := NewRNG(1).Records(300)

	idx := entity.New("products")
	require.NoError(t, Populate(ctx, idx, records))
	require.NoError(t, idx.Validate(ctx))
	assert.Equal(t, 300, idx.PrimaryKeys(ctx).Len())

	e := query.NewEvaluator()
	p := query.And(query.Eq("color", attribute.String("red")), query.ValidAt("validity", 5000))
	res, err := e.Evaluate(ctx, idx, query.Request{Filter: &p})
	require.NoError(t, err)

	want := Scan(records, func(r Record) bool { return r.Color == "red" && r.ValidAt(5000) })
	assert.Equal(t, want, res.IDs)
}
