package rangeindex

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/hupe1980/entidx/bitmap"
	"github.com/hupe1980/entidx/txn"
)

const (
	// MinThreshold is the sentinel for an unbounded span start.
	MinThreshold int64 = math.MinInt64
	// MaxThreshold is the sentinel for an unbounded span end.
	MaxThreshold int64 = math.MaxInt64
)

var (
	// ErrRecordNotFound is returned when removing a span that is not registered.
	ErrRecordNotFound = errors.New("rangeindex: record not found")

	// ErrInvalidPoints is returned when a point array violates the index
	// invariants.
	ErrInvalidPoints = errors.New("rangeindex: invalid points")
)

// ErrInvalidRange reports a window or span whose start lies after its end.
type ErrInvalidRange struct {
	From, To int64
}

func (e *ErrInvalidRange) Error() string {
	return fmt.Sprintf("rangeindex: invalid range [%d, %d]: from must not exceed to", e.From, e.To)
}

// ErrNotMonotonic reports a point whose threshold is not strictly greater
// than the threshold of its predecessor.
type ErrNotMonotonic struct {
	Index int
}

func (e *ErrNotMonotonic) Error() string {
	return fmt.Sprintf("rangeindex: point %d is not strictly greater than point %d", e.Index, e.Index-1)
}

func (e *ErrNotMonotonic) Unwrap() error { return ErrInvalidPoints }

// ErrEmptyPoint reports a non-sentinel point without starts or ends.
type ErrEmptyPoint struct {
	Index int
}

func (e *ErrEmptyPoint) Error() string {
	return fmt.Sprintf("rangeindex: point %d has neither starts nor ends", e.Index)
}

func (e *ErrEmptyPoint) Unwrap() error { return ErrInvalidPoints }

// ErrMissingSentinel reports a point array that does not begin with
// MinThreshold or end with MaxThreshold.
type ErrMissingSentinel struct {
	Threshold int64
}

func (e *ErrMissingSentinel) Error() string {
	return fmt.Sprintf("rangeindex: missing sentinel point %d", e.Threshold)
}

func (e *ErrMissingSentinel) Unwrap() error { return ErrInvalidPoints }

// ErrOverlappingSpans reports a record whose spans overlap or share a border.
type ErrOverlappingSpans struct {
	ID        uint32
	Threshold int64
}

func (e *ErrOverlappingSpans) Error() string {
	return fmt.Sprintf("rangeindex: record %d opens a span at %d while another of its spans is open", e.ID, e.Threshold)
}

func (e *ErrOverlappingSpans) Unwrap() error { return ErrInvalidPoints }

// ErrUnbalancedSpan reports a record end without a matching start, or a
// start that is never closed.
type ErrUnbalancedSpan struct {
	ID        uint32
	Threshold int64
}

func (e *ErrUnbalancedSpan) Error() string {
	return fmt.Sprintf("rangeindex: record %d has an unbalanced span border at %d", e.ID, e.Threshold)
}

func (e *ErrUnbalancedSpan) Unwrap() error { return ErrInvalidPoints }

// Point records which spans start and which end at a threshold.
type Point struct {
	Threshold int64
	Starts    *bitmap.Bitmap
	Ends      *bitmap.Bitmap
}

func (p Point) sentinel() bool {
	return p.Threshold == MinThreshold || p.Threshold == MaxThreshold
}

// Index answers interval queries over closed record spans [from, to] using
// only the points where spans start and end.
//
// A record may register several spans as long as they neither overlap nor
// share a border. Mutations do not check this; Validate does.
type Index struct {
	arr *txn.SortedArray[int64, Point]
}

var pointFuncs = txn.ArrayFuncs[int64, Point]{
	Key:     func(p Point) int64 { return p.Threshold },
	Compare: cmp.Compare[int64],
	Produce: func(existing, added Point) Point {
		return Point{
			Threshold: existing.Threshold,
			Starts:    existing.Starts.Or(added.Starts),
			Ends:      existing.Ends.Or(added.Ends),
		}
	},
	Reduce: func(existing, removed Point) (Point, error) {
		if missing := removed.Starts.AndNot(existing.Starts); !missing.IsEmpty() {
			return existing, fmt.Errorf("%w: no span of %s starts at %d", ErrRecordNotFound, missing, existing.Threshold)
		}
		if missing := removed.Ends.AndNot(existing.Ends); !missing.IsEmpty() {
			return existing, fmt.Errorf("%w: no span of %s ends at %d", ErrRecordNotFound, missing, existing.Threshold)
		}
		return Point{
			Threshold: existing.Threshold,
			Starts:    existing.Starts.AndNot(removed.Starts),
			Ends:      existing.Ends.AndNot(removed.Ends),
		}, nil
	},
	Obsolete: func(p Point) bool {
		return !p.sentinel() && p.Starts.IsEmpty() && p.Ends.IsEmpty()
	},
	DeepEqual: func(a, b Point) bool {
		return a.Threshold == b.Threshold && a.Starts.Equal(b.Starts) && a.Ends.Equal(b.Ends)
	},
}

func sentinels() []Point {
	return []Point{
		{Threshold: MinThreshold, Starts: bitmap.Empty(), Ends: bitmap.Empty()},
		{Threshold: MaxThreshold, Starts: bitmap.Empty(), Ends: bitmap.Empty()},
	}
}

// New creates an index holding only the two sentinel points.
func New() *Index {
	arr, err := txn.NewSortedArray(pointFuncs, sentinels())
	if err != nil {
		panic(err)
	}
	return &Index{arr: arr}
}

// FromPoints creates an index over points, which must be strictly ascending,
// start with MinThreshold, end with MaxThreshold and contain no empty
// non-sentinel point. The slice is retained.
func FromPoints(points []Point) (*Index, error) {
	if err := checkSentinels(points); err != nil {
		return nil, err
	}
	arr, err := txn.NewSortedArray(pointFuncs, points)
	if err != nil {
		return nil, translate(err)
	}
	return &Index{arr: arr}, nil
}

// Restore replaces the committed points, validating them like FromPoints.
func (idx *Index) Restore(points []Point) error {
	if err := checkSentinels(points); err != nil {
		return err
	}
	return translate(idx.arr.Replace(points))
}

func checkSentinels(points []Point) error {
	if len(points) == 0 || points[0].Threshold != MinThreshold {
		return &ErrMissingSentinel{Threshold: MinThreshold}
	}
	if points[len(points)-1].Threshold != MaxThreshold {
		return &ErrMissingSentinel{Threshold: MaxThreshold}
	}
	return nil
}

func translate(err error) error {
	var notSorted *txn.ErrNotSorted
	if errors.As(err, &notSorted) {
		return &ErrNotMonotonic{Index: notSorted.Index}
	}
	var obsolete *txn.ErrObsoleteItem
	if errors.As(err, &obsolete) {
		return &ErrEmptyPoint{Index: obsolete.Index}
	}
	if errors.Is(err, txn.ErrItemNotFound) {
		return ErrRecordNotFound
	}
	return err
}

// AddRecord registers the span [from, to] for ids.
func (idx *Index) AddRecord(ctx context.Context, from, to int64, ids ...uint32) error {
	if from > to {
		return &ErrInvalidRange{From: from, To: to}
	}
	if len(ids) == 0 {
		return nil
	}
	bm := bitmap.New(ids...)
	if from == to {
		return idx.arr.Add(ctx, Point{Threshold: from, Starts: bm, Ends: bm})
	}
	if err := idx.arr.Add(ctx, Point{Threshold: from, Starts: bm, Ends: bitmap.Empty()}); err != nil {
		return err
	}
	return idx.arr.Add(ctx, Point{Threshold: to, Starts: bitmap.Empty(), Ends: bm})
}

// RemoveRecord unregisters the span [from, to] of ids. Nothing is removed
// unless every id has exactly that span.
func (idx *Index) RemoveRecord(ctx context.Context, from, to int64, ids ...uint32) error {
	if from > to {
		return &ErrInvalidRange{From: from, To: to}
	}
	if len(ids) == 0 {
		return nil
	}
	bm := bitmap.New(ids...)

	start, ok := idx.arr.Get(ctx, from)
	if !ok || !start.Starts.ContainsAll(ids...) {
		return fmt.Errorf("%w: span [%d, %d] of %s", ErrRecordNotFound, from, to, bm)
	}
	end, ok := idx.arr.Get(ctx, to)
	if !ok || !end.Ends.ContainsAll(ids...) {
		return fmt.Errorf("%w: span [%d, %d] of %s", ErrRecordNotFound, from, to, bm)
	}

	if from == to {
		return translate(idx.arr.Remove(ctx, Point{Threshold: from, Starts: bm, Ends: bm}))
	}
	if err := idx.arr.Remove(ctx, Point{Threshold: from, Starts: bm, Ends: bitmap.Empty()}); err != nil {
		return translate(err)
	}
	return translate(idx.arr.Remove(ctx, Point{Threshold: to, Starts: bitmap.Empty(), Ends: bm}))
}

// Points returns the points visible from ctx, sentinels included. The
// result must not be modified.
func (idx *Index) Points(ctx context.Context) []Point {
	return idx.arr.Items(ctx)
}

// Len returns the number of points, sentinels included.
func (idx *Index) Len(ctx context.Context) int {
	return idx.arr.Len(ctx)
}

// IsEmpty reports whether no span is registered.
func (idx *Index) IsEmpty(ctx context.Context) bool {
	for _, p := range idx.Points(ctx) {
		if !p.Starts.IsEmpty() {
			return false
		}
	}
	return true
}

// AllRecords returns every record with at least one span.
func (idx *Index) AllRecords(ctx context.Context) *bitmap.Bitmap {
	points := idx.Points(ctx)
	bms := make([]*bitmap.Bitmap, len(points))
	for i, p := range points {
		bms[i] = p.Starts
	}
	return bitmap.Union(bms...)
}

// Equal reports whether both indexes hold the same points as seen from ctx.
func (idx *Index) Equal(ctx context.Context, o *Index) bool {
	return slices.EqualFunc(idx.Points(ctx), o.Points(ctx), pointFuncs.DeepEqual)
}

// Validate checks that no record has overlapping spans or spans sharing a
// border, and that every start has a matching end.
func (idx *Index) Validate(ctx context.Context) error {
	open := make(map[uint32]int)
	for _, p := range idx.Points(ctx) {
		for id := range p.Starts.All() {
			if open[id] > 0 {
				return &ErrOverlappingSpans{ID: id, Threshold: p.Threshold}
			}
			open[id]++
		}
		for id := range p.Ends.All() {
			if open[id] == 0 {
				return &ErrUnbalancedSpan{ID: id, Threshold: p.Threshold}
			}
			open[id]--
		}
	}
	for id, n := range open {
		if n != 0 {
			return &ErrUnbalancedSpan{ID: id, Threshold: MaxThreshold}
		}
	}
	return nil
}
