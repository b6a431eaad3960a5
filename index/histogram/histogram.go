package histogram

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/hupe1980/entidx/bitmap"
	"github.com/hupe1980/entidx/formula"
	"github.com/hupe1980/entidx/txn"
)

var (
	// ErrValueNotFound is returned when removing records from a value that
	// has no bucket.
	ErrValueNotFound = errors.New("histogram: value not found")

	// ErrRecordNotFound is returned when removing record ids that are not
	// present in the bucket of the value.
	ErrRecordNotFound = errors.New("histogram: record not found in bucket")

	// ErrInvalidBuckets is returned when a bucket array violates the index
	// invariants.
	ErrInvalidBuckets = errors.New("histogram: invalid buckets")
)

// ErrNotMonotonic reports a bucket whose value is not strictly greater than
// the value of its predecessor.
type ErrNotMonotonic struct {
	Index int
}

func (e *ErrNotMonotonic) Error() string {
	return fmt.Sprintf("histogram: bucket %d is not strictly greater than bucket %d", e.Index, e.Index-1)
}

func (e *ErrNotMonotonic) Unwrap() error { return ErrInvalidBuckets }

// ErrEmptyBucket reports a bucket without record ids.
type ErrEmptyBucket struct {
	Index int
}

func (e *ErrEmptyBucket) Error() string {
	return fmt.Sprintf("histogram: bucket %d has no records", e.Index)
}

func (e *ErrEmptyBucket) Unwrap() error { return ErrInvalidBuckets }

// ErrDuplicateRecord reports a record id present in more than one bucket.
type ErrDuplicateRecord struct {
	ID     uint32
	Bucket int
}

func (e *ErrDuplicateRecord) Error() string {
	return fmt.Sprintf("histogram: record %d of bucket %d is also present in an earlier bucket", e.ID, e.Bucket)
}

func (e *ErrDuplicateRecord) Unwrap() error { return ErrInvalidBuckets }

// Bucket maps one value to the records holding it.
type Bucket[V any] struct {
	Value   V
	Records *bitmap.Bitmap
}

// Index is a histogram: buckets of record ids in strictly ascending value
// order. A record id is expected to live in at most one bucket; Validate
// checks it, mutations do not.
//
// Mutations and reads take a context. A transaction bound to it with
// txn.NewContext isolates the mutations until commit.
type Index[V any] struct {
	cmp func(a, b V) int
	arr *txn.SortedArray[V, Bucket[V]]
}

// New creates an empty index ordering values with cmp.
func New[V any](cmp func(a, b V) int) *Index[V] {
	idx, _ := FromBuckets(cmp, nil)
	return idx
}

// NewOrdered creates an empty index over an ordered value type.
func NewOrdered[V cmp.Ordered]() *Index[V] {
	return New(cmp.Compare[V])
}

// FromBuckets creates an index over buckets, which must be strictly
// ascending by value and non-empty. The slice is retained.
func FromBuckets[V any](cmp func(a, b V) int, buckets []Bucket[V]) (*Index[V], error) {
	idx := &Index[V]{cmp: cmp}
	arr, err := txn.NewSortedArray(idx.funcs(), buckets)
	if err != nil {
		return nil, translate(err)
	}
	idx.arr = arr
	return idx, nil
}

func (idx *Index[V]) funcs() txn.ArrayFuncs[V, Bucket[V]] {
	return txn.ArrayFuncs[V, Bucket[V]]{
		Key:     func(b Bucket[V]) V { return b.Value },
		Compare: idx.cmp,
		Produce: func(existing, added Bucket[V]) Bucket[V] {
			return Bucket[V]{Value: existing.Value, Records: existing.Records.Or(added.Records)}
		},
		Reduce: func(existing, removed Bucket[V]) (Bucket[V], error) {
			if missing := removed.Records.AndNot(existing.Records); !missing.IsEmpty() {
				return existing, fmt.Errorf("%w: %s", ErrRecordNotFound, missing)
			}
			return Bucket[V]{Value: existing.Value, Records: existing.Records.AndNot(removed.Records)}, nil
		},
		Obsolete: func(b Bucket[V]) bool { return b.Records.IsEmpty() },
		DeepEqual: func(a, b Bucket[V]) bool {
			return idx.cmp(a.Value, b.Value) == 0 && a.Records.Equal(b.Records)
		},
	}
}

func translate(err error) error {
	var notSorted *txn.ErrNotSorted
	if errors.As(err, &notSorted) {
		return &ErrNotMonotonic{Index: notSorted.Index}
	}
	var obsolete *txn.ErrObsoleteItem
	if errors.As(err, &obsolete) {
		return &ErrEmptyBucket{Index: obsolete.Index}
	}
	if errors.Is(err, txn.ErrItemNotFound) {
		return ErrValueNotFound
	}
	return err
}

// AddRecord registers ids under v, creating the bucket if needed.
func (idx *Index[V]) AddRecord(ctx context.Context, v V, ids ...uint32) error {
	if len(ids) == 0 {
		return nil
	}
	return translate(idx.arr.Add(ctx, Bucket[V]{Value: v, Records: bitmap.New(ids...)}))
}

// RemoveRecord removes ids from the bucket of v. A bucket left empty is
// dropped.
func (idx *Index[V]) RemoveRecord(ctx context.Context, v V, ids ...uint32) error {
	if len(ids) == 0 {
		return nil
	}
	return translate(idx.arr.Remove(ctx, Bucket[V]{Value: v, Records: bitmap.New(ids...)}))
}

// Restore replaces the committed buckets, validating them like FromBuckets.
func (idx *Index[V]) Restore(buckets []Bucket[V]) error {
	return translate(idx.arr.Replace(buckets))
}

// Buckets returns the buckets visible from ctx. The result must not be
// modified.
func (idx *Index[V]) Buckets(ctx context.Context) []Bucket[V] {
	return idx.arr.Items(ctx)
}

// Len returns the number of buckets.
func (idx *Index[V]) Len(ctx context.Context) int {
	return idx.arr.Len(ctx)
}

// IsEmpty reports whether the index holds no buckets.
func (idx *Index[V]) IsEmpty(ctx context.Context) bool {
	return idx.Len(ctx) == 0
}

// Size returns the number of record ids summed over all buckets.
func (idx *Index[V]) Size(ctx context.Context) int {
	n := 0
	for _, b := range idx.Buckets(ctx) {
		n += b.Records.Len()
	}
	return n
}

// RecordsAt returns the records holding exactly v.
func (idx *Index[V]) RecordsAt(ctx context.Context, v V) *bitmap.Bitmap {
	b, ok := idx.arr.Get(ctx, v)
	if !ok {
		return bitmap.Empty()
	}
	return b.Records
}

// AllRecords returns the union of all buckets.
func (idx *Index[V]) AllRecords(ctx context.Context) *bitmap.Bitmap {
	return idx.Records(ctx, Unbounded[V](), Unbounded[V]()).Sorted()
}

// Records selects the buckets between from and to in ascending value order.
func (idx *Index[V]) Records(ctx context.Context, from, to Bound[V]) Selection[V] {
	return Selection[V]{Buckets: idx.window(ctx, from, to)}
}

// RecordsReversed selects the buckets between from and to in descending
// value order.
func (idx *Index[V]) RecordsReversed(ctx context.Context, from, to Bound[V]) Selection[V] {
	buckets := slices.Clone(idx.window(ctx, from, to))
	slices.Reverse(buckets)
	return Selection[V]{Buckets: buckets, reversed: true}
}

// SortedRecords returns the records of the buckets between from and to as
// one bitmap.
func (idx *Index[V]) SortedRecords(ctx context.Context, from, to Bound[V]) *bitmap.Bitmap {
	return idx.Records(ctx, from, to).Sorted()
}

// SortedRecordsExclusive returns the records with a value strictly between
// moreThan and lessThan.
func (idx *Index[V]) SortedRecordsExclusive(ctx context.Context, moreThan, lessThan V) *bitmap.Bitmap {
	return idx.SortedRecords(ctx, Exclusive(moreThan), Exclusive(lessThan))
}

// Formula returns the records between from and to as an unevaluated formula.
func (idx *Index[V]) Formula(ctx context.Context, from, to Bound[V]) *formula.Formula {
	return idx.Records(ctx, from, to).Formula()
}

func (idx *Index[V]) window(ctx context.Context, from, to Bound[V]) []Bucket[V] {
	items := idx.arr.Items(ctx)
	if len(items) == 0 {
		return nil
	}

	lo := 0
	if from.kind != unbounded {
		pos, found := idx.search(items, from.value)
		lo = pos
		if found && from.kind == exclusive {
			lo++
		}
	}

	hi := len(items) - 1
	if to.kind != unbounded {
		pos, found := idx.search(items, to.value)
		hi = pos - 1
		if found && to.kind == inclusive {
			hi = pos
		}
	}

	if lo > hi {
		return nil
	}
	return items[lo : hi+1]
}

func (idx *Index[V]) search(items []Bucket[V], v V) (int, bool) {
	return slices.BinarySearchFunc(items, v, func(b Bucket[V], v V) int {
		return idx.cmp(b.Value, v)
	})
}

// FindRecordIndex returns the position of id when all records are listed
// bucket by bucket in ascending value order, or -1 if id is absent.
func (idx *Index[V]) FindRecordIndex(ctx context.Context, id uint32) int {
	missed := 0
	for _, b := range idx.Buckets(ctx) {
		if i, ok := positionIn(b.Records, id); ok {
			return missed + i
		}
		missed += b.Records.Len()
	}
	return -1
}

// FindRecordIndexReversed returns the position of id when all records are
// listed in descending value order with descending ids per bucket, or -1 if
// id is absent.
func (idx *Index[V]) FindRecordIndexReversed(ctx context.Context, id uint32) int {
	buckets := idx.Buckets(ctx)
	missed := 0
	for i := len(buckets) - 1; i >= 0; i-- {
		b := buckets[i]
		if pos, ok := positionIn(b.Records, id); ok {
			return missed + b.Records.Len() - 1 - pos
		}
		missed += b.Records.Len()
	}
	return -1
}

// positionIn skips the rank lookup when id lies outside the bitmap bounds.
func positionIn(bm *bitmap.Bitmap, id uint32) (int, bool) {
	first, ok := bm.First()
	if !ok || id < first {
		return 0, false
	}
	if last, _ := bm.Last(); id > last {
		return 0, false
	}
	i := bm.IndexOf(id)
	return i, i >= 0
}

// Validate checks that no record id is present in two buckets.
func (idx *Index[V]) Validate(ctx context.Context) error {
	seen := bitmap.Empty()
	for i, b := range idx.Buckets(ctx) {
		if dup := seen.And(b.Records); !dup.IsEmpty() {
			id, _ := dup.First()
			return &ErrDuplicateRecord{ID: id, Bucket: i}
		}
		seen = seen.Or(b.Records)
	}
	return nil
}

// Equal reports whether both indexes hold the same buckets as seen from ctx.
func (idx *Index[V]) Equal(ctx context.Context, o *Index[V]) bool {
	return slices.EqualFunc(idx.Buckets(ctx), o.Buckets(ctx), func(a, b Bucket[V]) bool {
		return idx.cmp(a.Value, b.Value) == 0 && a.Records.Equal(b.Records)
	})
}
