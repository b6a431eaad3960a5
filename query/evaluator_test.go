package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/entidx/attribute"
	"github.com/hupe1980/entidx/entity"
	"github.com/hupe1980/entidx/formula"
	"github.com/hupe1980/entidx/txn"
)

// products builds a small collection:
//
//	id  color  price  tags    tree
//	1   red    10     [a b]   [1,10]
//	2   red    20     [b]     [2,5]
//	3   blue   30     [c]     [6,9]
//	4   green  40             [3,4]
//	5          20
//	6
func products(t *testing.T) *entity.Index {
	t.Helper()
	ctx := context.Background()
	idx := entity.New("products")

	require.NoError(t, idx.AddPrimaryKeys(ctx, 1, 2, 3, 4, 5, 6))

	require.NoError(t, idx.AddAttribute(ctx, "color", attribute.String("red"), 1, 2))
	require.NoError(t, idx.AddAttribute(ctx, "color", attribute.String("blue"), 3))
	require.NoError(t, idx.AddAttribute(ctx, "color", attribute.String("green"), 4))

	require.NoError(t, idx.AddAttribute(ctx, "price", attribute.Int(10), 1))
	require.NoError(t, idx.AddAttribute(ctx, "price", attribute.Int(20), 2, 5))
	require.NoError(t, idx.AddAttribute(ctx, "price", attribute.Int(30), 3))
	require.NoError(t, idx.AddAttribute(ctx, "price", attribute.Int(40), 4))

	require.NoError(t, idx.AddAttribute(ctx, "tags", attribute.Array(attribute.String("a"), attribute.String("b")), 1))
	require.NoError(t, idx.AddAttribute(ctx, "tags", attribute.Array(attribute.String("b")), 2))
	require.NoError(t, idx.AddAttribute(ctx, "tags", attribute.Array(attribute.String("c")), 3))

	require.NoError(t, idx.AddRange(ctx, "tree", 1, 10, 1))
	require.NoError(t, idx.AddRange(ctx, "tree", 2, 5, 2))
	require.NoError(t, idx.AddRange(ctx, "tree", 6, 9, 3))
	require.NoError(t, idx.AddRange(ctx, "tree", 3, 4, 4))

	require.NoError(t, idx.Validate(ctx))
	return idx
}

func TestEvaluator_Filters(t *testing.T) {
	ctx := context.Background()
	idx := products(t)
	e := NewEvaluator()

	red := attribute.String("red")
	tests := []struct {
		name string
		p    Predicate
		want []uint32
	}{
		{"eq", Eq("color", red), []uint32{1, 2}},
		{"ne", NotEq("color", red), []uint32{3, 4, 5, 6}},
		{"in", In("color", red, attribute.String("blue")), []uint32{1, 2, 3}},
		{"gt", Gt("price", attribute.Int(20)), []uint32{3, 4}},
		{"gte", Gte("price", attribute.Int(20)), []uint32{2, 3, 4, 5}},
		{"lt", Lt("price", attribute.Int(20)), []uint32{1}},
		{"lte", Lte("price", attribute.Int(20)), []uint32{1, 2, 5}},
		{"between", Between("price", attribute.Int(15), attribute.Int(35)), []uint32{2, 3, 5}},
		{"between float bounds", Between("price", attribute.Float(19.5), attribute.Float(20.5)), []uint32{2, 5}},
		{"array element", Eq("tags", attribute.String("b")), []uint32{1, 2}},
		{"not", Not(Eq("color", red)), []uint32{3, 4, 5, 6}},
		{"and", And(Eq("color", red), Gt("price", attribute.Int(10))), []uint32{2}},
		{"or", Or(Eq("color", attribute.String("blue")), Eq("tags", attribute.String("a"))), []uint32{1, 3}},
		{"pk in", PrimaryKeyIn(2, 3, 9), []uint32{2, 3}},
		{"pk in narrows negation", And(PrimaryKeyIn(1, 2, 3), Not(Eq("color", red))), []uint32{3}},
		{"nested pk in", Or(PrimaryKeyIn(6), Eq("color", attribute.String("green"))), []uint32{4, 6}},
		{"missing attribute", Eq("size", attribute.Int(1)), []uint32{}},
		{"ne missing attribute", NotEq("size", attribute.Int(1)), []uint32{1, 2, 3, 4, 5, 6}},
		{"valid at", ValidAt("tree", 3), []uint32{1, 2, 4}},
		{"range from", RangeFrom("tree", 9), []uint32{1, 3}},
		{"range to", RangeTo("tree", 2), []uint32{1, 2}},
		{"range exact", RangeExact("tree", 6, 9), []uint32{3}},
		{"range within", RangeWithin("tree", 2, 5), []uint32{2, 4}},
		{"range within exclusive", RangeWithinExclusive("tree", 2, 5), []uint32{4}},
		{"range encloses", RangeEncloses("tree", 3, 4), []uint32{1, 2}},
		{"range encloses inclusive", RangeEnclosesInclusive("tree", 2, 4), []uint32{1, 2}},
		{"range overlaps", RangeOverlaps("tree", 5, 6), []uint32{1, 2, 3}},
		{"missing range", ValidAt("validity", 3), []uint32{}},
		{"subtree of red", And(RangeWithin("tree", 2, 5), Eq("color", red)), []uint32{2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := e.Formula(ctx, idx, tt.p)
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.Compute().ToArray())
		})
	}
}

func TestEvaluator_FormulaHoistsPrimaryKeys(t *testing.T) {
	ctx := context.Background()
	idx := products(t)
	e := NewEvaluator()

	f, err := e.Formula(ctx, idx, PrimaryKeyIn(1, 2))
	require.NoError(t, err)
	assert.Equal(t, formula.KindConstant, f.Kind())
	assert.Equal(t, "[1, 2]", f.String())

	f, err = e.Formula(ctx, idx, And(PrimaryKeyIn(1, 2), Eq("color", attribute.String("red"))))
	require.NoError(t, err)
	assert.Equal(t, formula.KindAnd, f.Kind())
	assert.Len(t, f.Children(), 2)

	f, err = e.Formula(ctx, idx, PrimaryKeyIn(42))
	require.NoError(t, err)
	assert.True(t, f.IsEmpty())
}

func TestEvaluator_InvalidPredicate(t *testing.T) {
	ctx := context.Background()
	idx := products(t)
	e := NewEvaluator()

	_, err := e.Formula(ctx, idx, Predicate{Op: "xor"})
	assert.ErrorIs(t, err, ErrInvalidPredicate)

	_, err = e.Evaluate(ctx, idx, Request{Filter: &Predicate{Op: OpNot}})
	assert.ErrorIs(t, err, ErrInvalidPredicate)

	_, err = e.Evaluate(ctx, idx, Request{Filter: ptr(RangeOverlaps("tree", 9, 2))})
	assert.ErrorIs(t, err, ErrInvalidPredicate)
}

func ptr[T any](v T) *T { return &v }

func TestEvaluator_Evaluate(t *testing.T) {
	ctx := context.Background()
	idx := products(t)
	e := NewEvaluator()

	tests := []struct {
		name      string
		req       Request
		want      []uint32
		wantTotal int
	}{
		{"all", Request{}, []uint32{1, 2, 3, 4, 5, 6}, 6},
		{"page", Request{Offset: 1, Limit: 2}, []uint32{2, 3}, 6},
		{"offset past end", Request{Offset: 10}, []uint32{}, 6},
		{"id descending", Request{OrderBy: &Order{Descending: true}}, []uint32{6, 5, 4, 3, 2, 1}, 6},
		{"price ascending", Request{OrderBy: &Order{Attribute: "price"}}, []uint32{1, 2, 5, 3, 4, 6}, 6},
		{"price descending", Request{OrderBy: &Order{Attribute: "price", Descending: true}}, []uint32{4, 3, 5, 2, 1, 6}, 6},
		{"array ascending", Request{OrderBy: &Order{Attribute: "tags"}}, []uint32{1, 2, 3, 4, 5, 6}, 6},
		{"array descending", Request{OrderBy: &Order{Attribute: "tags", Descending: true}}, []uint32{3, 2, 1, 4, 5, 6}, 6},
		{
			"filtered page by price",
			Request{
				Filter:  ptr(Gte("price", attribute.Int(20))),
				OrderBy: &Order{Attribute: "price", Descending: true},
				Offset:  1,
				Limit:   2,
			},
			[]uint32{3, 5}, 4,
		},
		{"no match", Request{Filter: ptr(Eq("color", attribute.String("pink")))}, []uint32{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := e.Evaluate(ctx, idx, tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.IDs)
			assert.Equal(t, tt.wantTotal, res.Total)
		})
	}

	_, err := e.Evaluate(ctx, idx, Request{OrderBy: &Order{Attribute: "weight"}})
	assert.ErrorIs(t, err, ErrUnknownOrder)
}

func TestEvaluator_Cache(t *testing.T) {
	ctx := context.Background()
	idx := products(t)

	cache, err := formula.NewCache(16)
	require.NoError(t, err)
	e := NewEvaluator(WithCache(cache))

	req := Request{Filter: ptr(And(Eq("color", attribute.String("red")), Gt("price", attribute.Int(10))))}
	first, err := e.Evaluate(ctx, idx, req)
	require.NoError(t, err)
	assert.Zero(t, cache.Stats().Hits)

	second, err := e.Evaluate(ctx, idx, req)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, uint64(1), cache.Stats().Hits)
}

func TestEvaluator_Transactional(t *testing.T) {
	ctx := context.Background()
	idx := products(t)
	e := NewEvaluator()

	tx := txn.NewManager().Begin()
	txCtx := txn.NewContext(ctx, tx)
	require.NoError(t, idx.AddPrimaryKeys(txCtx, 7))
	require.NoError(t, idx.AddAttribute(txCtx, "color", attribute.String("red"), 7))

	req := Request{Filter: ptr(Eq("color", attribute.String("red")))}
	res, err := e.Evaluate(txCtx, idx, req)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2, 7}, res.IDs)

	res, err = e.Evaluate(ctx, idx, req)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2}, res.IDs)

	require.NoError(t, tx.Rollback())
	res, err = e.Evaluate(ctx, idx, Request{Filter: ptr(NotEq("color", attribute.String("red")))})
	require.NoError(t, err)
	assert.Equal(t, []uint32{3, 4, 5, 6}, res.IDs)
}
