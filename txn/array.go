package txn

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
)

// ArrayFuncs describes how a SortedArray orders, merges and drops items.
type ArrayFuncs[K, T any] struct {
	// Key extracts the ordering key of an item.
	Key func(T) K
	// Compare orders keys.
	Compare func(a, b K) int
	// Produce merges an added item into an existing item with the same key.
	// It must not modify its arguments.
	Produce func(existing, added T) T
	// Reduce removes the contents of removed from existing.
	// It must not modify its arguments.
	Reduce func(existing, removed T) (T, error)
	// Obsolete reports whether an item should be dropped after a Reduce.
	Obsolete func(T) bool
	// DeepEqual compares full contents, not just keys. Used at commit to
	// keep unchanged items (and unchanged arrays) by identity.
	DeepEqual func(a, b T) bool
}

// ErrNotSorted reports an item array whose keys are not strictly increasing.
type ErrNotSorted struct {
	Index int
}

func (e *ErrNotSorted) Error() string {
	return fmt.Sprintf("txn: item %d is not strictly greater than its predecessor", e.Index)
}

// ErrObsoleteItem reports an obsolete item in an array passed for construction.
type ErrObsoleteItem struct {
	Index int
}

func (e *ErrObsoleteItem) Error() string {
	return fmt.Sprintf("txn: item %d is obsolete", e.Index)
}

// SortedArray is a copy-on-write array of items kept in strictly ascending
// key order.
//
// Without a transaction in the context, writes replace the committed base
// immediately. With one, writes go to a private diff of that transaction and
// reads through the same context see base and diff merged. The committed
// base slice is never modified after publication.
type SortedArray[K, T any] struct {
	fn ArrayFuncs[K, T]

	mu   sync.Mutex // serializes direct writes
	base atomic.Pointer[[]T]
}

type touchedItem[K, T any] struct {
	key     K
	item    T
	removed bool
}

type arrayDiff[K, T any] struct {
	base    *[]T
	touched []touchedItem[K, T] // sorted by key
	view    []T
	fresh   bool
}

// NewSortedArray creates an array from items, which must be strictly
// increasing by key and contain no obsolete items. The slice is retained.
func NewSortedArray[K, T any](fn ArrayFuncs[K, T], items []T) (*SortedArray[K, T], error) {
	a := &SortedArray[K, T]{fn: fn}
	if err := a.check(items); err != nil {
		return nil, err
	}
	a.base.Store(&items)
	return a, nil
}

func (a *SortedArray[K, T]) check(items []T) error {
	for i := range items {
		if a.fn.Obsolete(items[i]) {
			return &ErrObsoleteItem{Index: i}
		}
		if i > 0 && a.fn.Compare(a.fn.Key(items[i-1]), a.fn.Key(items[i])) >= 0 {
			return &ErrNotSorted{Index: i}
		}
	}
	return nil
}

// Replace swaps the committed base for items after validating them.
// It bypasses transactions and is meant for restoring persisted state.
func (a *SortedArray[K, T]) Replace(items []T) error {
	if err := a.check(items); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.base.Store(&items)
	return nil
}

// Base returns the committed items, ignoring any transaction.
func (a *SortedArray[K, T]) Base() []T {
	return *a.base.Load()
}

// Items returns the items visible from ctx. The result must not be modified.
// Until the transaction of ctx writes to a, that is the committed base.
func (a *SortedArray[K, T]) Items(ctx context.Context) []T {
	if tx := FromContext(ctx); tx != nil {
		if d, ok := tx.peek(a); ok {
			return a.view(d.(*arrayDiff[K, T]))
		}
	}
	return *a.base.Load()
}

// Len returns the number of items visible from ctx.
func (a *SortedArray[K, T]) Len(ctx context.Context) int {
	return len(a.Items(ctx))
}

// Search binary-searches key in the items visible from ctx. It returns the
// position of key and true, or the insertion point and false.
func (a *SortedArray[K, T]) Search(ctx context.Context, key K) (items []T, pos int, found bool) {
	items = a.Items(ctx)
	pos, found = slices.BinarySearchFunc(items, key, a.cmpItemKey)
	return items, pos, found
}

// Get returns the item with key as visible from ctx.
func (a *SortedArray[K, T]) Get(ctx context.Context, key K) (T, bool) {
	items, pos, found := a.Search(ctx, key)
	if !found {
		var zero T
		return zero, false
	}
	return items[pos], true
}

// Add inserts item, merging it with Produce into an existing item of the same key.
func (a *SortedArray[K, T]) Add(ctx context.Context, item T) error {
	key := a.fn.Key(item)
	return a.write(ctx, key, func(cur T, exists bool) (T, bool, error) {
		if !exists {
			return item, false, nil
		}
		return a.fn.Produce(cur, item), false, nil
	})
}

// Remove subtracts item from the existing item of the same key with Reduce,
// dropping the result if it became obsolete.
func (a *SortedArray[K, T]) Remove(ctx context.Context, item T) error {
	key := a.fn.Key(item)
	return a.write(ctx, key, func(cur T, exists bool) (T, bool, error) {
		if !exists {
			return cur, false, ErrItemNotFound
		}
		next, err := a.fn.Reduce(cur, item)
		if err != nil {
			return cur, false, err
		}
		return next, a.fn.Obsolete(next), nil
	})
}

type applyFunc[T any] func(cur T, exists bool) (next T, removed bool, err error)

func (a *SortedArray[K, T]) write(ctx context.Context, key K, apply applyFunc[T]) error {
	if tx := FromContext(ctx); tx != nil {
		d, err := tx.diffFor(a, func() any {
			return &arrayDiff[K, T]{base: a.base.Load()}
		})
		if err != nil {
			return err
		}
		return a.writeDiff(d.(*arrayDiff[K, T]), key, apply)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	d := &arrayDiff[K, T]{base: a.base.Load()}
	if err := a.writeDiff(d, key, apply); err != nil {
		return err
	}
	merged, changed := a.merge(*d.base, d.touched)
	if changed {
		a.base.Store(&merged)
	}
	return nil
}

func (a *SortedArray[K, T]) writeDiff(d *arrayDiff[K, T], key K, apply applyFunc[T]) error {
	pos, inDiff := slices.BinarySearchFunc(d.touched, key, func(t touchedItem[K, T], k K) int {
		return a.fn.Compare(t.key, k)
	})

	var (
		cur    T
		exists bool
	)
	if inDiff {
		cur, exists = d.touched[pos].item, !d.touched[pos].removed
	} else {
		base := *d.base
		if i, ok := slices.BinarySearchFunc(base, key, a.cmpItemKey); ok {
			cur, exists = base[i], true
		}
	}

	next, removed, err := apply(cur, exists)
	if err != nil {
		return err
	}

	t := touchedItem[K, T]{key: key, item: next, removed: removed}
	if removed {
		var zero T
		t.item = zero
	}
	if inDiff {
		d.touched[pos] = t
	} else {
		d.touched = slices.Insert(d.touched, pos, t)
	}
	d.fresh = false
	return nil
}

func (a *SortedArray[K, T]) view(d *arrayDiff[K, T]) []T {
	if !d.fresh {
		d.view, _ = a.merge(*d.base, d.touched)
		d.fresh = true
	}
	return d.view
}

// CreateCopyWithMergedTransactionalMemory returns a new array holding the
// committed base with the diff of tx applied. Items the diff left
// deep-equal to their base counterpart are kept by identity. Without a diff
// the committed base itself is returned.
func (a *SortedArray[K, T]) CreateCopyWithMergedTransactionalMemory(tx *Tx) []T {
	if tx != nil {
		if d, ok := tx.peek(a); ok {
			merged, _ := a.merge(*d.(*arrayDiff[K, T]).base, d.(*arrayDiff[K, T]).touched)
			return merged
		}
	}
	return *a.base.Load()
}

// merge applies touched items to base. changed is false when the result is
// item-for-item deep-equal to base, in which case base itself is returned.
func (a *SortedArray[K, T]) merge(base []T, touched []touchedItem[K, T]) ([]T, bool) {
	if len(touched) == 0 {
		return base, false
	}

	out := make([]T, 0, len(base)+len(touched))
	changed := false
	i, j := 0, 0
	for i < len(base) || j < len(touched) {
		if j == len(touched) {
			out = append(out, base[i:]...)
			break
		}
		t := touched[j]
		c := 1
		if i < len(base) {
			c = a.fn.Compare(a.fn.Key(base[i]), t.key)
		}
		switch {
		case c < 0:
			out = append(out, base[i])
			i++
		case c > 0:
			if !t.removed {
				out = append(out, t.item)
				changed = true
			}
			j++
		default:
			switch {
			case t.removed:
				changed = true
			case a.fn.DeepEqual(base[i], t.item):
				out = append(out, base[i])
			default:
				out = append(out, t.item)
				changed = true
			}
			i++
			j++
		}
	}
	if !changed {
		return base, false
	}
	return out, true
}

func (a *SortedArray[K, T]) lock()   { a.mu.Lock() }
func (a *SortedArray[K, T]) unlock() { a.mu.Unlock() }

func (a *SortedArray[K, T]) validate(diff any) error {
	d := diff.(*arrayDiff[K, T])
	if a.base.Load() != d.base {
		return ErrConflict
	}
	return nil
}

func (a *SortedArray[K, T]) publish(diff any) {
	d := diff.(*arrayDiff[K, T])
	merged, changed := a.merge(*d.base, d.touched)
	if changed {
		a.base.Store(&merged)
	}
}

func (a *SortedArray[K, T]) cmpItemKey(item T, key K) int {
	return a.fn.Compare(a.fn.Key(item), key)
}
