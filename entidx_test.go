package entidx_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/entidx"
	"github.com/hupe1980/entidx/attribute"
	"github.com/hupe1980/entidx/blobstore"
	"github.com/hupe1980/entidx/persistence"
	"github.com/hupe1980/entidx/query"
	"github.com/hupe1980/entidx/resource"
)

var (
	red  = attribute.String("red")
	blue = attribute.String("blue")
)

// seed fills the products collection:
//
//	id  color  price  validity
//	1   red    10     [100, 200]
//	2   red    20     [150, 300]
//	3   blue   30     [250, 400]
//	4          40
func seed(t *testing.T, db *entidx.DB) *entidx.Collection {
	t.Helper()
	ctx := context.Background()

	c, err := db.Collection("products")
	require.NoError(t, err)

	require.NoError(t, c.AddPrimaryKeys(ctx, 1, 2, 3, 4))
	require.NoError(t, c.AddAttribute(ctx, "color", red, 1, 2))
	require.NoError(t, c.AddAttribute(ctx, "color", blue, 3))
	for i, id := range []uint32{1, 2, 3, 4} {
		require.NoError(t, c.AddAttribute(ctx, "price", attribute.Int(int64(i+1)*10), id))
	}
	require.NoError(t, c.AddRange(ctx, "validity", 100, 200, 1))
	require.NoError(t, c.AddRange(ctx, "validity", 150, 300, 2))
	require.NoError(t, c.AddRange(ctx, "validity", 250, 400, 3))
	require.NoError(t, c.Validate(ctx))
	return c
}

func openDB(t *testing.T, opts ...entidx.Option) *entidx.DB {
	t.Helper()
	db, err := entidx.Open(context.Background(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestDB_Query(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	seed(t, db)

	eq := query.Eq("color", red)
	tests := []struct {
		name string
		req  query.Request
		want []uint32
		tot  int
	}{
		{"all", query.Request{}, []uint32{1, 2, 3, 4}, 4},
		{"eq", query.Request{Filter: &eq}, []uint32{1, 2}, 2},
		{"paged", query.Request{Offset: 1, Limit: 2}, []uint32{2, 3}, 4},
		{"order desc", query.Request{OrderBy: &query.Order{Attribute: "price", Descending: true}}, []uint32{4, 3, 2, 1}, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := db.Query(ctx, "products", tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.IDs)
			assert.Equal(t, tt.tot, res.Total)
		})
	}
}

func TestDB_QueryErrors(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	seed(t, db)

	_, err := db.Query(ctx, "missing", query.Request{})
	var cnf *entidx.ErrCollectionNotFound
	require.ErrorAs(t, err, &cnf)
	assert.Equal(t, "missing", cnf.Name)
	assert.ErrorIs(t, err, entidx.ErrNotFound)

	bad := query.Predicate{Op: query.OpAnd}
	_, err = db.Query(ctx, "products", query.Request{Filter: &bad})
	assert.ErrorIs(t, err, entidx.ErrInvalidArgument)

	_, err = db.Query(ctx, "products", query.Request{OrderBy: &query.Order{Attribute: "weight"}})
	assert.ErrorIs(t, err, entidx.ErrNotFound)
}

func TestCollection_Mutations(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	c := seed(t, db)

	t.Run("remove attribute", func(t *testing.T) {
		require.NoError(t, c.RemoveAttribute(ctx, "color", red, 2))
		res := db.Find("products").Where(query.Eq("color", red)).MustExecute(ctx)
		assert.Equal(t, []uint32{1}, res.IDs)
	})

	t.Run("remove range", func(t *testing.T) {
		require.NoError(t, c.RemoveRange(ctx, "validity", 250, 400, 3))
		res := db.Find("products").Where(query.ValidAt("validity", 300)).MustExecute(ctx)
		assert.Equal(t, []uint32{2}, res.IDs)
	})

	t.Run("remove unknown primary key", func(t *testing.T) {
		err := c.RemovePrimaryKeys(ctx, 9)
		assert.ErrorIs(t, err, entidx.ErrNotFound)
	})

	t.Run("unknown attribute", func(t *testing.T) {
		err := c.RemoveAttribute(ctx, "size", red, 1)
		assert.ErrorIs(t, err, entidx.ErrNotFound)
	})

	t.Run("invalid span", func(t *testing.T) {
		err := c.AddRange(ctx, "validity", 10, 5, 1)
		var ir *entidx.ErrInvalidRange
		require.ErrorAs(t, err, &ir)
		assert.Equal(t, int64(10), ir.From)
		assert.ErrorIs(t, err, entidx.ErrInvalidArgument)
	})

	t.Run("invalid value", func(t *testing.T) {
		err := c.AddAttribute(ctx, "color", attribute.Value{}, 1)
		assert.ErrorIs(t, err, entidx.ErrInvalidArgument)
	})

	t.Run("stats", func(t *testing.T) {
		s := c.Stats(ctx)
		assert.Equal(t, 4, s.Records)
		assert.Contains(t, s.Attributes, "price")
		assert.Contains(t, s.Ranges, "validity")
	})
}

func TestDB_Collection(t *testing.T) {
	db := openDB(t)

	a, err := db.Collection("a")
	require.NoError(t, err)
	again, err := db.Collection("a")
	require.NoError(t, err)
	assert.Same(t, a, again)

	_, err = db.Collection("")
	assert.ErrorIs(t, err, entidx.ErrInvalidArgument)

	_, err = db.LookupCollection("b")
	assert.ErrorIs(t, err, entidx.ErrNotFound)

	_, err = db.Collection("b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, db.CollectionNames())
}

func TestDB_Update(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	c := seed(t, db)

	t.Run("commit", func(t *testing.T) {
		err := db.Update(ctx, func(ctx context.Context) error {
			if err := c.AddPrimaryKeys(ctx, 5); err != nil {
				return err
			}
			if err := c.AddAttribute(ctx, "color", blue, 5); err != nil {
				return err
			}
			// The transaction sees its own writes.
			res, err := c.Query(ctx, query.Request{Filter: ptr(query.Eq("color", blue))})
			if err != nil {
				return err
			}
			assert.Equal(t, []uint32{3, 5}, res.IDs)
			return nil
		})
		require.NoError(t, err)

		n, err := db.Find("products").Where(query.Eq("color", blue)).Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("rollback on error", func(t *testing.T) {
		boom := errors.New("boom")
		err := db.Update(ctx, func(ctx context.Context) error {
			if err := c.AddPrimaryKeys(ctx, 6); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		ok, err := db.Find("products").Where(query.PrimaryKeyIn(6)).Exists(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("rollback on panic", func(t *testing.T) {
		assert.Panics(t, func() {
			_ = db.Update(ctx, func(ctx context.Context) error {
				_ = c.AddPrimaryKeys(ctx, 7)
				panic("boom")
			})
		})
		assert.False(t, c.Index().PrimaryKeys(ctx).Contains(7))
	})
}

func TestTx_Isolation(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	c := seed(t, db)

	tx, err := db.Begin(ctx)
	require.NoError(t, err)

	require.NoError(t, c.AddAttribute(tx.Context(), "color", blue, 4))

	outside := db.Find("products").Where(query.Eq("color", blue))
	res := outside.MustExecute(ctx)
	assert.Equal(t, []uint32{3}, res.IDs)

	inside, err := c.Query(tx.Context(), query.Request{Filter: ptr(query.Eq("color", blue))})
	require.NoError(t, err)
	assert.Equal(t, []uint32{3, 4}, inside.IDs)

	require.NoError(t, tx.Commit())
	res = outside.MustExecute(ctx)
	assert.Equal(t, []uint32{3, 4}, res.IDs)

	assert.ErrorIs(t, tx.Commit(), entidx.ErrTxDone)
	assert.ErrorIs(t, tx.Rollback(), entidx.ErrTxDone)
}

func TestTx_Conflict(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	c := seed(t, db)

	tx1, err := db.Begin(ctx)
	require.NoError(t, err)
	tx2, err := db.Begin(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, tx1.ID(), tx2.ID())

	require.NoError(t, c.AddPrimaryKeys(tx1.Context(), 10))
	require.NoError(t, c.AddPrimaryKeys(tx2.Context(), 11))

	require.NoError(t, tx1.Commit())
	assert.ErrorIs(t, tx2.Commit(), entidx.ErrConflict)

	pks := c.Index().PrimaryKeys(ctx)
	assert.True(t, pks.Contains(10))
	assert.False(t, pks.Contains(11))
}

func TestDB_SaveReopen(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	metrics := &entidx.BasicMetricsCollector{}

	db := openDB(t, entidx.WithBlobStore(store), entidx.WithMetricsCollector(metrics))
	seed(t, db)
	_, err := db.Collection("empty")
	require.NoError(t, err)

	m1, err := db.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), m1.ID)
	assert.Len(t, m1.Collections, 2)

	m2, err := db.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), m2.ID)

	stats := metrics.GetStats()
	assert.Equal(t, int64(2), stats.SnapshotSaves)
	assert.Zero(t, stats.SnapshotErrors)
	assert.Positive(t, stats.SnapshotBytes)

	reopened := openDB(t,
		entidx.WithBlobStore(store),
		entidx.WithCompression(persistence.CompressionLZ4),
		entidx.WithResourceLimits(resource.Config{MaxWorkers: 4}),
		entidx.WithMetricsCollector(metrics),
	)
	assert.Equal(t, []string{"empty", "products"}, reopened.CollectionNames())
	assert.Equal(t, int64(1), metrics.GetStats().SnapshotLoads)

	res := reopened.Find("products").
		Where(query.Eq("color", red)).
		Where(query.ValidAt("validity", 180)).
		MustExecute(ctx)
	assert.Equal(t, []uint32{1, 2}, res.IDs)

	products, err := reopened.LookupCollection("products")
	require.NoError(t, err)
	require.NoError(t, products.Validate(ctx))
}

func TestDB_SaveExcludesOpenTransactions(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	db := openDB(t, entidx.WithBlobStore(store))
	c := seed(t, db)

	tx, err := db.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, c.AddPrimaryKeys(tx.Context(), 99))

	_, err = db.Save(tx.Context())
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	reopened := openDB(t, entidx.WithBlobStore(store))
	n, err := reopened.Find("products").Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestDB_SaveWithoutStore(t *testing.T) {
	db := openDB(t)
	_, err := db.Save(context.Background())
	assert.ErrorIs(t, err, entidx.ErrNoBlobStore)
}

func TestDB_Close(t *testing.T) {
	ctx := context.Background()
	db, err := entidx.Open(ctx)
	require.NoError(t, err)
	c := seed(t, db)

	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	assert.ErrorIs(t, c.AddPrimaryKeys(ctx, 5), entidx.ErrClosed)
	_, err = db.Collection("products")
	assert.ErrorIs(t, err, entidx.ErrClosed)
	_, err = db.Begin(ctx)
	assert.ErrorIs(t, err, entidx.ErrClosed)
	_, err = db.Find("products").Execute(ctx)
	assert.ErrorIs(t, err, entidx.ErrClosed)
}

func TestQueryBuilder(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	seed(t, db)

	t.Run("request", func(t *testing.T) {
		req := db.Find("products").
			Where(query.Eq("color", red)).
			Where(query.Gt("price", attribute.Int(10))).
			OrderByDesc("price").
			Offset(1).
			Limit(5).
			Request()
		require.NotNil(t, req.Filter)
		assert.Equal(t, query.OpAnd, req.Filter.Op)
		assert.Len(t, req.Filter.Children, 2)
		assert.Equal(t, &query.Order{Attribute: "price", Descending: true}, req.OrderBy)
		assert.Equal(t, 1, req.Offset)
		assert.Equal(t, 5, req.Limit)
	})

	t.Run("stream", func(t *testing.T) {
		var got []uint32
		for id, err := range db.Find("products").OrderBy("price").Stream(ctx) {
			require.NoError(t, err)
			got = append(got, id)
			if len(got) == 2 {
				break
			}
		}
		assert.Equal(t, []uint32{1, 2}, got)
	})

	t.Run("stream error", func(t *testing.T) {
		for _, err := range db.Find("missing").Stream(ctx) {
			assert.ErrorIs(t, err, entidx.ErrNotFound)
		}
	})

	t.Run("first", func(t *testing.T) {
		id, err := db.Find("products").Where(query.Eq("color", blue)).First(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint32(3), id)

		_, err = db.Find("products").Where(query.Eq("color", attribute.String("pink"))).First(ctx)
		assert.ErrorIs(t, err, entidx.ErrNotFound)
	})

	t.Run("count ignores paging", func(t *testing.T) {
		n, err := db.Find("products").Offset(3).Limit(1).Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 4, n)
	})

	t.Run("must execute panics", func(t *testing.T) {
		assert.Panics(t, func() { db.Find("missing").MustExecute(ctx) })
	})
}

func TestDB_ResultCache(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, entidx.WithResultCache(128))
	c := seed(t, db)

	q := db.Find("products").Where(query.Or(query.Eq("color", red), query.ValidAt("validity", 260)))
	first := q.MustExecute(ctx)
	second := q.MustExecute(ctx)
	assert.Equal(t, first, second)

	stats, ok := db.CacheStats()
	require.True(t, ok)
	assert.Positive(t, stats.Hits)

	require.NoError(t, c.AddAttribute(ctx, "color", red, 4))
	stats, _ = db.CacheStats()
	assert.Zero(t, stats.Entries)

	res := q.MustExecute(ctx)
	assert.Equal(t, []uint32{1, 2, 3, 4}, res.IDs)

	_, ok = openDB(t).CacheStats()
	assert.False(t, ok)
}

func TestBasicMetricsCollector(t *testing.T) {
	ctx := context.Background()
	metrics := &entidx.BasicMetricsCollector{}
	db := openDB(t, entidx.WithMetricsCollector(metrics))
	c := seed(t, db)

	_ = db.Find("products").MustExecute(ctx)
	_, _ = db.Query(ctx, "products", query.Request{OrderBy: &query.Order{Attribute: "nope"}})

	require.NoError(t, db.Update(ctx, func(ctx context.Context) error {
		return c.AddPrimaryKeys(ctx, 8)
	}))
	tx, err := db.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, c.AddPrimaryKeys(tx.Context(), 9))
	require.NoError(t, tx.Rollback())

	stats := metrics.GetStats()
	assert.Equal(t, int64(2), stats.QueryCount)
	assert.Equal(t, int64(1), stats.QueryErrors)
	assert.Equal(t, int64(4), stats.QueryMatched)
	assert.Equal(t, int64(1), stats.CommitCount)
	assert.Zero(t, stats.CommitErrors)
	assert.Equal(t, int64(1), stats.RollbackCount)
}

func TestLogger(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, entidx.WithLogger(nil), entidx.WithMetricsCollector(nil))
	c := seed(t, db)
	assert.NoError(t, c.AddPrimaryKeys(ctx, 5))

	l := entidx.NoopLogger().WithCollection("products").WithTx(1)
	l.LogQuery(ctx, "products", 1, 1, 0, nil)
	l.LogCommit(ctx, 1, 2, errors.New("boom"))
	l.LogSnapshot(ctx, "save", 1, 10, nil)
}

func ptr[T any](v T) *T { return &v }

func TestCollection_Index(t *testing.T) {
	db := openDB(t)
	c := seed(t, db)
	assert.Equal(t, "products", c.Name())
	assert.Equal(t, "products", c.Index().Name())
	assert.True(t, slices.Contains(c.Index().AttributeNames(), "color"))
}
