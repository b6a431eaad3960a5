package txn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockObserver struct {
	mock.Mock
}

func (m *mockObserver) OnCommit(txID uint64, participants int, d time.Duration, err error) {
	m.Called(txID, participants, err)
}

func (m *mockObserver) OnRollback(txID uint64, participants int) {
	m.Called(txID, participants)
}

func TestManager_Observer(t *testing.T) {
	obs := &mockObserver{}
	mgr := NewManager(WithObserver(obs), WithLogger(nil))
	c := NewCell(0)

	tx1 := mgr.Begin()
	tx2 := mgr.Begin()
	assert.NotEqual(t, tx1.ID(), tx2.ID())

	obs.On("OnCommit", tx1.ID(), 1, nil).Once()
	obs.On("OnRollback", tx2.ID(), 0).Once()

	require.NoError(t, c.Update(NewContext(context.Background(), tx1), func(v int) (int, error) { return v + 1, nil }))
	require.NoError(t, tx1.Commit())
	require.NoError(t, tx2.Rollback())

	obs.AssertExpectations(t)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "committed", StateCommitted.String())
	assert.Equal(t, "rolled-back", StateRolledBack.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestFromContext(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))

	tx := NewManager().Begin()
	assert.Same(t, tx, FromContext(NewContext(context.Background(), tx)))
}

func TestCell(t *testing.T) {
	ctx := context.Background()
	c := NewCell("a")
	mgr := NewManager()

	tx := mgr.Begin()
	txCtx := NewContext(ctx, tx)

	require.NoError(t, c.Update(txCtx, func(s string) (string, error) { return s + "b", nil }))
	require.NoError(t, c.Update(txCtx, func(s string) (string, error) { return s + "c", nil }))
	assert.Equal(t, "abc", c.Load(txCtx))
	assert.Equal(t, "a", c.Load(ctx))

	boom := errors.New("boom")
	err := c.Update(txCtx, func(s string) (string, error) { return "", boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "abc", c.Load(txCtx))

	require.NoError(t, tx.Commit())
	assert.Equal(t, "abc", c.Load(ctx))

	c.Store("z")
	assert.Equal(t, "z", c.Load(ctx))

	require.NoError(t, c.Update(ctx, func(s string) (string, error) { return s + "!", nil }))
	assert.Equal(t, "z!", c.Load(ctx))
}

func TestCell_Conflict(t *testing.T) {
	ctx := context.Background()
	c := NewCell(1)
	mgr := NewManager()

	tx := mgr.Begin()
	require.NoError(t, c.Update(NewContext(ctx, tx), func(v int) (int, error) { return v * 10, nil }))

	c.Store(2)

	assert.ErrorIs(t, tx.Commit(), ErrConflict)
	assert.Equal(t, 2, c.Load(ctx))
}

func TestManager_ConcurrentDirectWrites(t *testing.T) {
	ctx := context.Background()
	c := NewCell(0)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Update(ctx, func(v int) (int, error) { return v + 1, nil })
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, c.Load(ctx))
}

// interleave starts fn from its validate step, as a writer that arrives in
// the middle of a commit would.
type interleave struct {
	fn   func()
	done chan struct{}
}

func (p *interleave) lock()   {}
func (p *interleave) unlock() {}

func (p *interleave) validate(any) error {
	started := make(chan struct{})
	go func() {
		defer close(p.done)
		close(started)
		p.fn()
	}()
	<-started
	time.Sleep(20 * time.Millisecond)
	return nil
}

func (p *interleave) publish(any) {}

func TestManager_DirectWriteDuringCommit(t *testing.T) {
	ctx := context.Background()
	a := newCounters(t, counter{1, 1})
	c := NewCell(1)
	mgr := NewManager()

	tx := mgr.Begin()
	txCtx := NewContext(ctx, tx)
	require.NoError(t, a.Add(txCtx, counter{2, 1}))
	require.NoError(t, c.Update(txCtx, func(v int) (int, error) { return v * 10, nil }))

	var arrayErr, cellErr error
	hook := &interleave{
		done: make(chan struct{}),
		fn: func() {
			arrayErr = a.Add(ctx, counter{3, 1})
			cellErr = c.Update(ctx, func(v int) (int, error) { return v + 1, nil })
		},
	}
	_, err := tx.diffFor(hook, func() any { return nil })
	require.NoError(t, err)

	require.NoError(t, tx.Commit())
	<-hook.done

	require.NoError(t, arrayErr)
	require.NoError(t, cellErr)
	assert.Equal(t, []counter{{1, 1}, {2, 1}, {3, 1}}, a.Items(ctx))
	assert.Equal(t, 11, c.Load(ctx))
}

func TestTx_ReadCommitted(t *testing.T) {
	ctx := context.Background()
	touched := NewCell(1)
	untouched := NewCell(1)
	mgr := NewManager()

	tx := mgr.Begin()
	txCtx := NewContext(ctx, tx)
	require.NoError(t, touched.Update(txCtx, func(v int) (int, error) { return v + 1, nil }))

	other := mgr.Begin()
	otherCtx := NewContext(ctx, other)
	require.NoError(t, untouched.Update(otherCtx, func(int) (int, error) { return 5, nil }))
	require.NoError(t, other.Commit())

	assert.Equal(t, 2, touched.Load(txCtx))
	assert.Equal(t, 5, untouched.Load(txCtx))

	touched.Store(7)
	assert.Equal(t, 2, touched.Load(txCtx))
	assert.ErrorIs(t, tx.Commit(), ErrConflict)
}
