package histogram

import (
	"github.com/hupe1980/entidx/bitmap"
	"github.com/hupe1980/entidx/formula"
)

type boundKind uint8

const (
	unbounded boundKind = iota
	inclusive
	exclusive
)

// Bound limits one side of a value range.
type Bound[V any] struct {
	value V
	kind  boundKind
}

// Unbounded leaves a side of the range open.
func Unbounded[V any]() Bound[V] { return Bound[V]{} }

// Inclusive includes v in the range.
func Inclusive[V any](v V) Bound[V] { return Bound[V]{value: v, kind: inclusive} }

// Exclusive excludes v from the range.
func Exclusive[V any](v V) Bound[V] { return Bound[V]{value: v, kind: exclusive} }

// Value returns the bound value and whether the side is bounded.
func (b Bound[V]) Value() (V, bool) { return b.value, b.kind != unbounded }

// IsInclusive reports whether the bound value itself is part of the range.
func (b Bound[V]) IsInclusive() bool { return b.kind == inclusive }

// Selection is a contiguous run of buckets picked by a range lookup.
type Selection[V any] struct {
	Buckets  []Bucket[V]
	reversed bool
}

// Reversed reports whether the buckets are in descending value order.
func (s Selection[V]) Reversed() bool { return s.reversed }

// Len returns the number of selected records.
func (s Selection[V]) Len() int {
	n := 0
	for _, b := range s.Buckets {
		n += b.Records.Len()
	}
	return n
}

// RecordIDs lists the records in bucket order without merging. In a
// reversed selection the ids of each bucket are descending as well.
func (s Selection[V]) RecordIDs() []uint32 {
	out := make([]uint32, 0, s.Len())
	for _, b := range s.Buckets {
		if s.reversed {
			for id := range b.Records.Backward() {
				out = append(out, id)
			}
			continue
		}
		out = append(out, b.Records.ToArray()...)
	}
	return out
}

// Sorted merges the selected buckets into one bitmap.
func (s Selection[V]) Sorted() *bitmap.Bitmap {
	bms := make([]*bitmap.Bitmap, len(s.Buckets))
	for i, b := range s.Buckets {
		bms[i] = b.Records
	}
	return bitmap.Union(bms...)
}

// Formula returns the union of the selected buckets, unevaluated.
func (s Selection[V]) Formula() *formula.Formula {
	fs := make([]*formula.Formula, len(s.Buckets))
	for i, b := range s.Buckets {
		fs[i] = formula.Constant(b.Records)
	}
	return formula.Or(fs...)
}
