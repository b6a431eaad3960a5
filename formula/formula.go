package formula

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/hupe1980/entidx/bitmap"
)

// Kind identifies the operator of a Formula node.
type Kind uint8

const (
	// KindEmpty matches nothing.
	KindEmpty Kind = iota
	// KindConstant wraps a precomputed bitmap.
	KindConstant
	// KindAnd intersects its children.
	KindAnd
	// KindOr unions its children.
	KindOr
	// KindNot subtracts its excluded child from its universe.
	KindNot
	// KindJoin unions its children keeping duplicates.
	KindJoin
	// KindDisentangle cancels control occurrences out of a main multiset.
	KindDisentangle
	// KindDeferred calls a supplier on first Compute.
	KindDeferred
	// KindSkip marks a predicate that contributes nothing.
	KindSkip
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "EMPTY"
	case KindConstant:
		return "CONST"
	case KindAnd:
		return "AND"
	case KindOr:
		return "OR"
	case KindNot:
		return "NOT"
	case KindJoin:
		return "JOIN"
	case KindDisentangle:
		return "DISENTANGLE"
	case KindDeferred:
		return "DEFERRED"
	case KindSkip:
		return "SKIP"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Formula is an immutable node of a lazily evaluated set expression over
// record id bitmaps. Compute evaluates the tree once and memoizes the result
// on every node it visits.
//
// Build formulas with the package constructors; they normalize the tree.
type Formula struct {
	kind     Kind
	leaf     *bitmap.Bitmap
	children []*Formula
	supplier func() *Formula
	label    string
	seq      uint64

	once   sync.Once
	result atomic.Pointer[bitmap.Bitmap]

	hashOnce sync.Once
	hash     uint64
}

var (
	emptyFormula = &Formula{kind: KindEmpty}
	skipFormula  = &Formula{kind: KindSkip}

	deferredSeq atomic.Uint64
)

// Empty returns the formula matching nothing.
func Empty() *Formula { return emptyFormula }

// Skip returns the marker for a predicate already covered elsewhere.
// And and Or drop it; computing it panics.
func Skip() *Formula { return skipFormula }

// Constant wraps bm. An empty bitmap yields Empty.
func Constant(bm *bitmap.Bitmap) *Formula {
	if bm.IsEmpty() {
		return emptyFormula
	}
	return &Formula{kind: KindConstant, leaf: bm}
}

// And intersects fs.
func And(fs ...*Formula) *Formula {
	children := make([]*Formula, 0, len(fs))
	for _, f := range fs {
		switch {
		case f == nil || f.kind == KindSkip:
		case f.kind == KindEmpty:
			return emptyFormula
		case f.kind == KindAnd:
			children = append(children, f.children...)
		default:
			children = append(children, f)
		}
	}
	return composite(KindAnd, children)
}

// Or unions fs.
func Or(fs ...*Formula) *Formula {
	children := make([]*Formula, 0, len(fs))
	for _, f := range fs {
		switch {
		case f == nil || f.kind == KindSkip || f.kind == KindEmpty:
		case f.kind == KindOr:
			children = append(children, f.children...)
		default:
			children = append(children, f)
		}
	}
	return composite(KindOr, children)
}

// Join unions fs as a multiset: an id contributed by k children is counted
// k times when the join feeds a Disentangle. Compute returns the plain union.
func Join(fs ...*Formula) *Formula {
	children := make([]*Formula, 0, len(fs))
	for _, f := range fs {
		switch {
		case f == nil || f.kind == KindEmpty:
		case f.kind == KindSkip:
			panic("formula: Skip inside Join")
		case f.kind == KindJoin:
			children = append(children, f.children...)
		default:
			children = append(children, f)
		}
	}
	return composite(KindJoin, children)
}

func composite(kind Kind, children []*Formula) *Formula {
	switch len(children) {
	case 0:
		return emptyFormula
	case 1:
		return children[0]
	}
	return &Formula{kind: kind, children: children}
}

// Not returns the ids of universe that are not in excluded.
// It panics if universe is nil.
func Not(excluded, universe *Formula) *Formula {
	if universe == nil {
		panic("formula: Not requires a universe")
	}
	if excluded == nil || excluded.kind == KindEmpty {
		return universe
	}
	if universe.kind == KindEmpty {
		return emptyFormula
	}
	return &Formula{kind: KindNot, children: []*Formula{excluded, universe}}
}

// Disentangle keeps every id whose occurrence count in main exceeds its
// occurrence count in control. Each occurrence in control cancels one
// occurrence in main.
//
// With main = Join(starts before T) and control = Join(ends before T), the
// result is the set of records holding a span open at T.
func Disentangle(main, control *Formula) *Formula {
	if main == nil || main.kind == KindEmpty {
		return emptyFormula
	}
	if control == nil || control.kind == KindEmpty {
		control = emptyFormula
	}
	return &Formula{kind: KindDisentangle, children: []*Formula{main, control}}
}

// Deferred calls supplier on first Compute and evaluates the formula it
// returns. label names the node in String.
func Deferred(label string, supplier func() *Formula) *Formula {
	return &Formula{
		kind:     KindDeferred,
		label:    label,
		supplier: supplier,
		seq:      deferredSeq.Add(1),
	}
}

// Kind returns the operator of f.
func (f *Formula) Kind() Kind { return f.kind }

// Children returns the operands of f. For Not they are (excluded, universe),
// for Disentangle (main, control).
func (f *Formula) Children() []*Formula { return f.children }

// IsEmpty reports whether f is the Empty formula. It does not compute f.
func (f *Formula) IsEmpty() bool { return f.kind == KindEmpty }

// IsSkip reports whether f is the Skip marker.
func (f *Formula) IsSkip() bool { return f.kind == KindSkip }

// Computed reports whether f already holds its result.
func (f *Formula) Computed() bool {
	return f.kind == KindEmpty || f.result.Load() != nil
}

// Compute evaluates f. The first call does the work; later calls return the
// memoized bitmap. It panics on Skip.
func (f *Formula) Compute() *bitmap.Bitmap {
	switch f.kind {
	case KindEmpty:
		return bitmap.Empty()
	case KindSkip:
		panic("formula: Skip must not be computed")
	}
	if r := f.result.Load(); r != nil {
		return r
	}
	f.once.Do(func() {
		if f.result.Load() == nil {
			f.result.Store(f.evaluate())
		}
	})
	return f.result.Load()
}

// prime installs bm as the result of f unless f is already computed.
func (f *Formula) prime(bm *bitmap.Bitmap) {
	f.result.CompareAndSwap(nil, bm)
}

func (f *Formula) evaluate() *bitmap.Bitmap {
	switch f.kind {
	case KindConstant:
		return f.leaf
	case KindAnd:
		bms := make([]*bitmap.Bitmap, 0, len(f.children))
		for _, c := range f.children {
			bm := c.Compute()
			if bm.IsEmpty() {
				return bitmap.Empty()
			}
			bms = append(bms, bm)
		}
		return bitmap.Intersection(bms...)
	case KindOr, KindJoin:
		bms := make([]*bitmap.Bitmap, 0, len(f.children))
		for _, c := range f.children {
			bms = append(bms, c.Compute())
		}
		return bitmap.Union(bms...)
	case KindNot:
		excluded, universe := f.children[0], f.children[1]
		u := universe.Compute()
		if u.IsEmpty() {
			return u
		}
		return u.AndNot(excluded.Compute())
	case KindDisentangle:
		return disentangle(f.children[0].multiset(), f.children[1].multiset())
	case KindDeferred:
		inner := f.supplier()
		if inner == nil {
			return bitmap.Empty()
		}
		return inner.Compute()
	default:
		panic(fmt.Sprintf("formula: cannot compute %s", f.kind))
	}
}

// multiset returns the sorted ids of f with duplicates for Join nodes.
func (f *Formula) multiset() []uint32 {
	if f.kind != KindJoin {
		return f.Compute().ToArray()
	}
	var out []uint32
	for _, c := range f.children {
		out = append(out, c.multiset()...)
	}
	slices.Sort(out)
	return out
}

func disentangle(main, control []uint32) *bitmap.Bitmap {
	out := make([]uint32, 0, len(main))
	i, j := 0, 0
	for i < len(main) {
		id := main[i]
		n := 0
		for i < len(main) && main[i] == id {
			n++
			i++
		}
		for j < len(control) && control[j] < id {
			j++
		}
		for j < len(control) && control[j] == id {
			n--
			j++
		}
		if n > 0 {
			out = append(out, id)
		}
	}
	return bitmap.FromSorted(out)
}

// Hash returns a structural hash. Formulas built from equal bitmaps with the
// same operators hash equal; And, Or and Join ignore operand order. Deferred
// nodes hash by identity.
func (f *Formula) Hash() uint64 {
	f.hashOnce.Do(func() {
		f.hash = f.computeHash()
	})
	return f.hash
}

func (f *Formula) computeHash() uint64 {
	d := xxhash.New()
	var buf [8]byte
	put := func(v uint64) {
		for i := range buf {
			buf[i] = byte(v >> (8 * i))
		}
		_, _ = d.Write(buf[:])
	}

	put(uint64(f.kind))
	switch f.kind {
	case KindConstant:
		put(f.leaf.Hash())
	case KindAnd, KindOr, KindJoin:
		hs := make([]uint64, len(f.children))
		for i, c := range f.children {
			hs[i] = c.Hash()
		}
		slices.Sort(hs)
		for _, h := range hs {
			put(h)
		}
	case KindNot, KindDisentangle:
		put(f.children[0].Hash())
		put(f.children[1].Hash())
	case KindDeferred:
		put(f.seq)
	}
	return d.Sum64()
}

// String renders the tree.
func (f *Formula) String() string {
	var sb strings.Builder
	f.write(&sb)
	return sb.String()
}

func (f *Formula) write(sb *strings.Builder) {
	switch f.kind {
	case KindEmpty, KindSkip:
		sb.WriteString(f.kind.String())
	case KindConstant:
		sb.WriteString(f.leaf.String())
	case KindDeferred:
		fmt.Fprintf(sb, "DEFERRED(%s)", f.label)
	default:
		sb.WriteString(f.kind.String())
		sb.WriteByte('(')
		for i, c := range f.children {
			if i > 0 {
				sb.WriteString(", ")
			}
			c.write(sb)
		}
		sb.WriteByte(')')
	}
}
