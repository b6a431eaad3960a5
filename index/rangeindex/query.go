package rangeindex

import (
	"context"
	"slices"

	"github.com/hupe1980/entidx/formula"
)

// view is one consistent read of the points with the window arithmetic.
type view struct {
	points []Point
}

func (idx *Index) view(ctx context.Context) view {
	return view{points: idx.Points(ctx)}
}

func (v view) search(t int64) (int, bool) {
	return slices.BinarySearchFunc(v.points, t, func(p Point, t int64) int {
		switch {
		case p.Threshold < t:
			return -1
		case p.Threshold > t:
			return 1
		default:
			return 0
		}
	})
}

// ge returns the index of the first point at or after t.
func (v view) ge(t int64) int {
	pos, _ := v.search(t)
	return pos
}

// gt returns the index of the first point after t.
func (v view) gt(t int64) int {
	pos, found := v.search(t)
	if found {
		return pos + 1
	}
	return pos
}

// le returns the index of the last point at or before t.
func (v view) le(t int64) int {
	pos, found := v.search(t)
	if found {
		return pos
	}
	return pos - 1
}

// lt returns the index of the last point before t.
func (v view) lt(t int64) int {
	pos, _ := v.search(t)
	return pos - 1
}

func (v view) clamp(lo, hi int) (int, int) {
	return max(lo, 0), min(hi, len(v.points)-1)
}

// starts collects the starts of points lo..hi as constant formulas.
func (v view) starts(lo, hi int) []*formula.Formula {
	lo, hi = v.clamp(lo, hi)
	var out []*formula.Formula
	for i := lo; i <= hi; i++ {
		if !v.points[i].Starts.IsEmpty() {
			out = append(out, formula.Constant(v.points[i].Starts))
		}
	}
	return out
}

// ends collects the ends of points lo..hi as constant formulas.
func (v view) ends(lo, hi int) []*formula.Formula {
	lo, hi = v.clamp(lo, hi)
	var out []*formula.Formula
	for i := lo; i <= hi; i++ {
		if !v.points[i].Ends.IsEmpty() {
			out = append(out, formula.Constant(v.points[i].Ends))
		}
	}
	return out
}

func (v view) last() int { return len(v.points) - 1 }

// openAt returns the records holding a span that started at or before
// point hiStart and did not end at or before point hiEnd.
func (v view) openAt(hiStart, hiEnd int) *formula.Formula {
	return formula.Disentangle(
		formula.Join(v.starts(0, hiStart)...),
		formula.Join(v.ends(0, hiEnd)...),
	)
}

// closedAfter returns the records holding a span that ends at or after
// point loEnd and did not start at or after point loStart.
func (v view) closedAfter(loEnd, loStart int) *formula.Formula {
	return formula.Disentangle(
		formula.Join(v.ends(loEnd, v.last())...),
		formula.Join(v.starts(loStart, v.last())...),
	)
}

func (v view) exact(from, to int64) *formula.Formula {
	s, sFound := v.search(from)
	e, eFound := v.search(to)
	if !sFound || !eFound {
		return formula.Empty()
	}
	return formula.And(formula.Constant(v.points[s].Starts), formula.Constant(v.points[e].Ends))
}

func (v view) enclosingExclusive(from, to int64) *formula.Formula {
	return formula.And(
		v.openAt(v.lt(from), v.lt(from)),
		v.closedAfter(v.gt(to), v.gt(to)),
	)
}

func checkRange(from, to int64) error {
	if from > to {
		return &ErrInvalidRange{From: from, To: to}
	}
	return nil
}

// RecordsFrom returns the records with a span ending at or after t.
func (idx *Index) RecordsFrom(ctx context.Context, t int64) *formula.Formula {
	v := idx.view(ctx)
	return formula.Or(
		v.openAt(v.lt(t), v.lt(t)),
		formula.Or(v.starts(v.ge(t), v.last())...),
	)
}

// RecordsTo returns the records with a span starting at or before t.
func (idx *Index) RecordsTo(ctx context.Context, t int64) *formula.Formula {
	v := idx.view(ctx)
	return formula.Or(
		v.closedAfter(v.gt(t), v.gt(t)),
		formula.Or(v.ends(0, v.le(t))...),
	)
}

// RecordsValidAt returns the records with a span containing t.
func (idx *Index) RecordsValidAt(ctx context.Context, t int64) *formula.Formula {
	v := idx.view(ctx)
	return v.openAt(v.le(t), v.lt(t))
}

// RecordsWithExactRange returns the records with the span [from, to].
func (idx *Index) RecordsWithExactRange(ctx context.Context, from, to int64) (*formula.Formula, error) {
	if err := checkRange(from, to); err != nil {
		return nil, err
	}
	return idx.view(ctx).exact(from, to), nil
}

// RecordsWithinIncludingBounds returns the records with a span inside
// [from, to], touching the bounds allowed.
func (idx *Index) RecordsWithinIncludingBounds(ctx context.Context, from, to int64) (*formula.Formula, error) {
	if err := checkRange(from, to); err != nil {
		return nil, err
	}
	v := idx.view(ctx)
	lo, hi := v.ge(from), v.le(to)
	return formula.And(
		formula.Or(v.starts(lo, hi)...),
		formula.Or(v.ends(lo, hi)...),
	), nil
}

// RecordsWithinExcludingBounds returns the records with a span inside
// [from, to] other than [from, to] itself: the span may touch one bound,
// not both.
func (idx *Index) RecordsWithinExcludingBounds(ctx context.Context, from, to int64) (*formula.Formula, error) {
	if err := checkRange(from, to); err != nil {
		return nil, err
	}
	v := idx.view(ctx)
	lo, hi := v.ge(from), v.le(to)
	innerLo, innerHi := v.gt(from), v.lt(to)
	return formula.Or(
		formula.And(formula.Or(v.starts(innerLo, hi)...), formula.Or(v.ends(lo, hi)...)),
		formula.And(formula.Or(v.starts(lo, hi)...), formula.Or(v.ends(lo, innerHi)...)),
	), nil
}

// RecordsEnclosingExclusive returns the records with a span strictly
// enclosing [from, to]: starting before from and ending after to. In a
// nested-set hierarchy these are the strict ancestors of the node [from, to].
func (idx *Index) RecordsEnclosingExclusive(ctx context.Context, from, to int64) (*formula.Formula, error) {
	if err := checkRange(from, to); err != nil {
		return nil, err
	}
	return idx.view(ctx).enclosingExclusive(from, to), nil
}

// RecordsEnclosingInclusive returns the records with a span enclosing
// [from, to] where either bound may be shared, excluding spans equal to
// [from, to].
func (idx *Index) RecordsEnclosingInclusive(ctx context.Context, from, to int64) (*formula.Formula, error) {
	if err := checkRange(from, to); err != nil {
		return nil, err
	}
	v := idx.view(ctx)
	return formula.Not(
		v.exact(from, to),
		formula.And(
			v.openAt(v.le(from), v.lt(from)),
			v.closedAfter(v.ge(to), v.gt(to)),
		),
	), nil
}

// RecordsOverlapping returns the records with a span sharing at least one
// threshold with [from, to].
func (idx *Index) RecordsOverlapping(ctx context.Context, from, to int64) (*formula.Formula, error) {
	if err := checkRange(from, to); err != nil {
		return nil, err
	}
	v := idx.view(ctx)
	lo, hi := v.ge(from), v.le(to)
	inside := append(v.starts(lo, hi), v.ends(lo, hi)...)
	return formula.Or(
		formula.Or(inside...),
		v.enclosingExclusive(from, to),
	), nil
}
