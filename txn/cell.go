package txn

import (
	"context"
	"sync"
	"sync/atomic"
)

// Cell is a transactional single value.
//
// T should be an immutable value or a pointer to an immutable value: Update
// must return a new T rather than modify the one it receives.
type Cell[T any] struct {
	mu  sync.Mutex
	val atomic.Pointer[T]
}

type cellDiff[T any] struct {
	base  *T
	value T
}

// NewCell creates a cell holding v.
func NewCell[T any](v T) *Cell[T] {
	c := &Cell[T]{}
	c.val.Store(&v)
	return c
}

// Load returns the value visible from ctx.
func (c *Cell[T]) Load(ctx context.Context) T {
	if tx := FromContext(ctx); tx != nil {
		if d, ok := tx.peek(c); ok {
			return d.(*cellDiff[T]).value
		}
	}
	return *c.val.Load()
}

// Store replaces the committed value, ignoring any transaction.
func (c *Cell[T]) Store(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.val.Store(&v)
}

// Update replaces the value visible from ctx with fn(current). Inside a
// transaction the new value stays private until commit.
func (c *Cell[T]) Update(ctx context.Context, fn func(T) (T, error)) error {
	if tx := FromContext(ctx); tx != nil {
		d, err := tx.diffFor(c, func() any {
			base := c.val.Load()
			return &cellDiff[T]{base: base, value: *base}
		})
		if err != nil {
			return err
		}
		cd := d.(*cellDiff[T])
		next, err := fn(cd.value)
		if err != nil {
			return err
		}
		cd.value = next
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	next, err := fn(*c.val.Load())
	if err != nil {
		return err
	}
	c.val.Store(&next)
	return nil
}

func (c *Cell[T]) lock()   { c.mu.Lock() }
func (c *Cell[T]) unlock() { c.mu.Unlock() }

func (c *Cell[T]) validate(diff any) error {
	if c.val.Load() != diff.(*cellDiff[T]).base {
		return ErrConflict
	}
	return nil
}

func (c *Cell[T]) publish(diff any) {
	v := diff.(*cellDiff[T]).value
	c.val.Store(&v)
}
