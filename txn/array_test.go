package txn

import (
	"cmp"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	key int
	n   int
}

var errNegative = errors.New("negative count")

func counterFuncs() ArrayFuncs[int, counter] {
	return ArrayFuncs[int, counter]{
		Key:     func(c counter) int { return c.key },
		Compare: cmp.Compare[int],
		Produce: func(existing, added counter) counter {
			return counter{key: existing.key, n: existing.n + added.n}
		},
		Reduce: func(existing, removed counter) (counter, error) {
			if removed.n > existing.n {
				return existing, errNegative
			}
			return counter{key: existing.key, n: existing.n - removed.n}, nil
		},
		Obsolete:  func(c counter) bool { return c.n == 0 },
		DeepEqual: func(a, b counter) bool { return a == b },
	}
}

func newCounters(t *testing.T, items ...counter) *SortedArray[int, counter] {
	t.Helper()
	a, err := NewSortedArray(counterFuncs(), items)
	require.NoError(t, err)
	return a
}

func TestNewSortedArray_Validation(t *testing.T) {
	_, err := NewSortedArray(counterFuncs(), []counter{{1, 1}, {1, 2}})
	var notSorted *ErrNotSorted
	require.ErrorAs(t, err, &notSorted)
	assert.Equal(t, 1, notSorted.Index)

	_, err = NewSortedArray(counterFuncs(), []counter{{1, 1}, {2, 0}})
	var obsolete *ErrObsoleteItem
	require.ErrorAs(t, err, &obsolete)
	assert.Equal(t, 1, obsolete.Index)

	a := newCounters(t)
	assert.Equal(t, 0, a.Len(context.Background()))
}

func TestSortedArray_DirectWrites(t *testing.T) {
	ctx := context.Background()
	a := newCounters(t, counter{2, 1})

	require.NoError(t, a.Add(ctx, counter{1, 1}))
	require.NoError(t, a.Add(ctx, counter{3, 1}))
	require.NoError(t, a.Add(ctx, counter{2, 4}))
	assert.Equal(t, []counter{{1, 1}, {2, 5}, {3, 1}}, a.Items(ctx))

	require.NoError(t, a.Remove(ctx, counter{1, 1}))
	assert.Equal(t, []counter{{2, 5}, {3, 1}}, a.Items(ctx))

	err := a.Remove(ctx, counter{9, 1})
	assert.ErrorIs(t, err, ErrItemNotFound)

	err = a.Remove(ctx, counter{3, 7})
	assert.ErrorIs(t, err, errNegative)
	assert.Equal(t, []counter{{2, 5}, {3, 1}}, a.Items(ctx))

	got, ok := a.Get(ctx, 2)
	require.True(t, ok)
	assert.Equal(t, 5, got.n)
	_, ok = a.Get(ctx, 7)
	assert.False(t, ok)
}

func TestSortedArray_TransactionIsolation(t *testing.T) {
	ctx := context.Background()
	a := newCounters(t, counter{1, 1}, counter{5, 1})
	before := a.Base()

	mgr := NewManager()
	tx := mgr.Begin()
	txCtx := NewContext(ctx, tx)

	require.NoError(t, a.Add(txCtx, counter{3, 2}))
	require.NoError(t, a.Remove(txCtx, counter{1, 1}))

	assert.Equal(t, []counter{{3, 2}, {5, 1}}, a.Items(txCtx))
	assert.Equal(t, []counter{{1, 1}, {5, 1}}, a.Items(ctx))
	assert.Equal(t, 1, tx.Participants())

	merged := a.CreateCopyWithMergedTransactionalMemory(tx)
	assert.Equal(t, []counter{{3, 2}, {5, 1}}, merged)
	assert.Equal(t, before, a.Base())

	require.NoError(t, tx.Commit())
	assert.Equal(t, StateCommitted, tx.State())
	assert.Equal(t, []counter{{3, 2}, {5, 1}}, a.Items(ctx))

	// Reads through a finished transaction fall back to the base.
	assert.Equal(t, []counter{{3, 2}, {5, 1}}, a.Items(txCtx))
}

func TestSortedArray_Rollback(t *testing.T) {
	ctx := context.Background()
	a := newCounters(t, counter{1, 1})
	before := a.Base()

	mgr := NewManager()
	tx := mgr.Begin()
	txCtx := NewContext(ctx, tx)

	require.NoError(t, a.Add(txCtx, counter{2, 1}))
	require.NoError(t, tx.Rollback())

	assert.Equal(t, []counter{{1, 1}}, a.Items(ctx))
	assert.Same(t, &before[0], &a.Base()[0])

	assert.ErrorIs(t, a.Add(txCtx, counter{4, 1}), ErrTxDone)
	assert.ErrorIs(t, tx.Commit(), ErrTxDone)
	assert.ErrorIs(t, tx.Rollback(), ErrTxDone)
}

func TestSortedArray_UnchangedCommitKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	a := newCounters(t, counter{1, 2})
	before := a.Base()

	mgr := NewManager()
	tx := mgr.Begin()
	txCtx := NewContext(ctx, tx)

	// Net effect is zero.
	require.NoError(t, a.Add(txCtx, counter{1, 1}))
	require.NoError(t, a.Remove(txCtx, counter{1, 1}))
	require.NoError(t, tx.Commit())

	assert.Same(t, &before[0], &a.Base()[0])
}

func TestSortedArray_RemoveThenAddWithinTx(t *testing.T) {
	ctx := context.Background()
	a := newCounters(t, counter{1, 1})

	tx := NewManager().Begin()
	txCtx := NewContext(ctx, tx)

	require.NoError(t, a.Remove(txCtx, counter{1, 1}))
	assert.Empty(t, a.Items(txCtx))
	assert.ErrorIs(t, a.Remove(txCtx, counter{1, 1}), ErrItemNotFound)

	require.NoError(t, a.Add(txCtx, counter{1, 3}))
	assert.Equal(t, []counter{{1, 3}}, a.Items(txCtx))

	require.NoError(t, tx.Commit())
	assert.Equal(t, []counter{{1, 3}}, a.Items(ctx))
}

func TestSortedArray_Conflict(t *testing.T) {
	ctx := context.Background()
	a := newCounters(t)
	b := newCounters(t)

	mgr := NewManager()
	tx1 := mgr.Begin()
	tx2 := mgr.Begin()
	ctx1 := NewContext(ctx, tx1)
	ctx2 := NewContext(ctx, tx2)

	require.NoError(t, b.Add(ctx1, counter{7, 1}))
	require.NoError(t, a.Add(ctx1, counter{1, 1}))
	require.NoError(t, a.Add(ctx2, counter{2, 1}))

	require.NoError(t, tx2.Commit())

	err := tx1.Commit()
	require.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, StateRolledBack, tx1.State())

	// Nothing of the failed transaction was published.
	assert.Empty(t, b.Items(ctx))
	assert.Equal(t, []counter{{2, 1}}, a.Items(ctx))
}

func TestSortedArray_Replace(t *testing.T) {
	a := newCounters(t, counter{1, 1})

	require.NoError(t, a.Replace([]counter{{4, 1}, {8, 2}}))
	assert.Equal(t, []counter{{4, 1}, {8, 2}}, a.Base())

	var notSorted *ErrNotSorted
	assert.ErrorAs(t, a.Replace([]counter{{8, 1}, {4, 1}}), &notSorted)
	assert.Equal(t, []counter{{4, 1}, {8, 2}}, a.Base())
}

func TestSortedArray_Search(t *testing.T) {
	a := newCounters(t, counter{2, 1}, counter{4, 1})
	ctx := context.Background()

	tests := []struct {
		key   int
		pos   int
		found bool
	}{
		{1, 0, false},
		{2, 0, true},
		{3, 1, false},
		{4, 1, true},
		{5, 2, false},
	}
	for _, tt := range tests {
		_, pos, found := a.Search(ctx, tt.key)
		assert.Equal(t, tt.pos, pos, "key %d", tt.key)
		assert.Equal(t, tt.found, found, "key %d", tt.key)
	}
}
