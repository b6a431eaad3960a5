package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hupe1980/entidx/attribute"
	"github.com/hupe1980/entidx/bitmap"
	"github.com/hupe1980/entidx/entity"
	"github.com/hupe1980/entidx/formula"
	"github.com/hupe1980/entidx/index/histogram"
)

// ErrUnknownOrder is returned when ordering by an attribute without a histogram.
var ErrUnknownOrder = errors.New("query: unknown order attribute")

// Order sorts results. An empty Attribute orders by record id.
type Order struct {
	Attribute  string `json:"attr,omitempty"`
	Descending bool   `json:"desc,omitempty"`
}

// Request describes one query against an entity index.
type Request struct {
	// Filter selects records; nil selects every primary key.
	Filter  *Predicate `json:"filter,omitempty"`
	OrderBy *Order     `json:"order,omitempty"`
	Offset  int        `json:"offset,omitempty"`
	// Limit caps the page size; zero means no limit.
	Limit int `json:"limit,omitempty"`
}

// Result is one page of matching record ids.
type Result struct {
	IDs   []uint32 `json:"ids"`
	Total int      `json:"total"`
}

// Evaluator translates predicate trees into formulas and evaluates them.
// It is safe for concurrent use.
type Evaluator struct {
	cache  *formula.Cache
	logger *slog.Logger
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithCache shares computed sub-formulas across queries. The cache must be
// purged whenever a commit changes the indexes it was filled from.
func WithCache(c *formula.Cache) Option {
	return func(e *Evaluator) {
		e.cache = c
	}
}

// WithLogger sets the logger for query diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(e *Evaluator) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEvaluator creates an evaluator.
func NewEvaluator(opts ...Option) *Evaluator {
	e := &Evaluator{
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Formula translates p into an unevaluated formula over idx as seen from ctx.
//
// Primary key conjuncts at the top level narrow the universe instead of
// adding an intersection: they are folded into it and replaced by Skip.
func (e *Evaluator) Formula(ctx context.Context, idx *entity.Index, p Predicate) (*formula.Formula, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	conjuncts := []Predicate{p}
	if p.Op == OpAnd {
		conjuncts = p.Children
	}

	universe := idx.PrimaryKeys(ctx)
	for _, c := range conjuncts {
		if c.Op == OpPrimaryKeyIn {
			universe = universe.And(bitmap.New(c.IDs...))
		}
	}

	t := translator{ctx: ctx, idx: idx, universe: formula.Constant(universe)}
	children := make([]*formula.Formula, 0, len(conjuncts)+1)
	children = append(children, t.universe)
	for _, c := range conjuncts {
		if c.Op == OpPrimaryKeyIn {
			children = append(children, formula.Skip())
			continue
		}
		f, err := t.translate(c)
		if err != nil {
			return nil, err
		}
		children = append(children, f)
	}
	return formula.And(children...), nil
}

// Evaluate runs req against idx and returns the requested page.
func (e *Evaluator) Evaluate(ctx context.Context, idx *entity.Index, req Request) (Result, error) {
	start := time.Now()

	var matched *bitmap.Bitmap
	if req.Filter == nil {
		matched = idx.PrimaryKeys(ctx)
	} else {
		f, err := e.Formula(ctx, idx, *req.Filter)
		if err != nil {
			return Result{}, err
		}
		matched = e.cache.Compute(f)
	}

	ids, err := page(ctx, idx, matched, req)
	if err != nil {
		return Result{}, err
	}

	e.logger.Debug("query evaluated",
		"collection", idx.Name(),
		"total", matched.Len(),
		"returned", len(ids),
		"duration", time.Since(start),
	)
	return Result{IDs: ids, Total: matched.Len()}, nil
}

func page(ctx context.Context, idx *entity.Index, matched *bitmap.Bitmap, req Request) ([]uint32, error) {
	offset := max(req.Offset, 0)
	want := matched.Len() - offset
	if req.Limit > 0 {
		want = min(want, req.Limit)
	}
	if want <= 0 {
		return []uint32{}, nil
	}

	out := make([]uint32, 0, want)
	skipped := 0
	emit := func(id uint32) bool {
		if skipped < offset {
			skipped++
			return true
		}
		out = append(out, id)
		return len(out) < want
	}

	order := req.OrderBy
	if order == nil || order.Attribute == "" {
		seq := matched.All()
		if order != nil && order.Descending {
			seq = matched.Backward()
		}
		for id := range seq {
			if !emit(id) {
				break
			}
		}
		return out, nil
	}

	h, ok := idx.Histogram(order.Attribute)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOrder, order.Attribute)
	}

	sel := h.Records(ctx, histogram.Unbounded[attribute.Value](), histogram.Unbounded[attribute.Value]())
	if order.Descending {
		sel = h.RecordsReversed(ctx, histogram.Unbounded[attribute.Value](), histogram.Unbounded[attribute.Value]())
	}

	// Array attributes put a record in several buckets; the first wins.
	seen := bitmap.Empty()
	for _, b := range sel.Buckets {
		hits := b.Records.And(matched).AndNot(seen)
		if hits.IsEmpty() {
			continue
		}
		seen = seen.Or(hits)
		seq := hits.All()
		if order.Descending {
			seq = hits.Backward()
		}
		for id := range seq {
			if !emit(id) {
				return out, nil
			}
		}
	}

	// Records without a value for the attribute trail in id order.
	for id := range matched.AndNot(seen).All() {
		if !emit(id) {
			break
		}
	}
	return out, nil
}

// translator turns predicates into formulas against one index view.
type translator struct {
	ctx      context.Context
	idx      *entity.Index
	universe *formula.Formula
}

func (t translator) translate(p Predicate) (*formula.Formula, error) {
	switch p.Op {
	case OpAnd, OpOr:
		children := make([]*formula.Formula, len(p.Children))
		for i, c := range p.Children {
			f, err := t.translate(c)
			if err != nil {
				return nil, err
			}
			children[i] = f
		}
		if p.Op == OpAnd {
			return formula.And(children...), nil
		}
		return formula.Or(children...), nil
	case OpNot:
		f, err := t.translate(p.Children[0])
		if err != nil {
			return nil, err
		}
		return formula.Not(f, t.universe), nil
	case OpPrimaryKeyIn:
		return formula.Constant(bitmap.New(p.IDs...)), nil
	case OpEqual, OpNotEqual, OpIn, OpGreaterThan, OpGreaterEqual, OpLessThan, OpLessEqual, OpBetween:
		return t.attribute(p), nil
	default:
		return t.rangeFormula(p)
	}
}

func (t translator) attribute(p Predicate) *formula.Formula {
	h, ok := t.idx.Histogram(p.Attribute)
	if !ok {
		if p.Op == OpNotEqual {
			return t.universe
		}
		return formula.Empty()
	}

	v := p.Values[0]
	switch p.Op {
	case OpEqual:
		return formula.Constant(h.RecordsAt(t.ctx, v))
	case OpNotEqual:
		return formula.Not(formula.Constant(h.RecordsAt(t.ctx, v)), t.universe)
	case OpIn:
		fs := make([]*formula.Formula, len(p.Values))
		for i, v := range p.Values {
			fs[i] = formula.Constant(h.RecordsAt(t.ctx, v))
		}
		return formula.Or(fs...)
	case OpGreaterThan:
		return h.Formula(t.ctx, histogram.Exclusive(v), histogram.Unbounded[attribute.Value]())
	case OpGreaterEqual:
		return h.Formula(t.ctx, histogram.Inclusive(v), histogram.Unbounded[attribute.Value]())
	case OpLessThan:
		return h.Formula(t.ctx, histogram.Unbounded[attribute.Value](), histogram.Exclusive(v))
	case OpLessEqual:
		return h.Formula(t.ctx, histogram.Unbounded[attribute.Value](), histogram.Inclusive(v))
	default: // OpBetween
		return h.Formula(t.ctx, histogram.Inclusive(v), histogram.Inclusive(p.Values[1]))
	}
}

func (t translator) rangeFormula(p Predicate) (*formula.Formula, error) {
	r, ok := t.idx.Range(p.Attribute)
	if !ok {
		return formula.Empty(), nil
	}

	var window func(context.Context, int64, int64) (*formula.Formula, error)
	switch p.Op {
	case OpRangeFrom:
		return r.RecordsFrom(t.ctx, p.Threshold), nil
	case OpRangeTo:
		return r.RecordsTo(t.ctx, p.Threshold), nil
	case OpValidAt:
		return r.RecordsValidAt(t.ctx, p.Threshold), nil
	case OpRangeExact:
		window = r.RecordsWithExactRange
	case OpRangeWithin:
		window = r.RecordsWithinIncludingBounds
	case OpRangeWithinExclusive:
		window = r.RecordsWithinExcludingBounds
	case OpRangeEncloses:
		window = r.RecordsEnclosingExclusive
	case OpRangeEnclosesInclusive:
		window = r.RecordsEnclosingInclusive
	case OpRangeOverlaps:
		window = r.RecordsOverlapping
	default:
		return nil, fmt.Errorf("%w: unknown operator %q", ErrInvalidPredicate, p.Op)
	}
	return window(t.ctx, p.From, p.To)
}
