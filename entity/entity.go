package entity

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/hupe1980/entidx/attribute"
	"github.com/hupe1980/entidx/bitmap"
	"github.com/hupe1980/entidx/index/histogram"
	"github.com/hupe1980/entidx/index/rangeindex"
	"github.com/hupe1980/entidx/txn"
)

var (
	// ErrRecordNotFound is returned when removing a primary key that is not
	// registered.
	ErrRecordNotFound = errors.New("entity: record not found")

	// ErrAttributeNotFound is returned when removing from an attribute that
	// has never been indexed.
	ErrAttributeNotFound = errors.New("entity: attribute not found")

	// ErrRangeNotFound is returned when removing from a range that has never
	// been indexed.
	ErrRangeNotFound = errors.New("entity: range not found")

	// ErrInvalidValue is returned for values that cannot be indexed.
	ErrInvalidValue = errors.New("entity: invalid attribute value")
)

// ErrUnknownRecord reports an indexed record that is not a primary key.
type ErrUnknownRecord struct {
	Index string
	ID    uint32
}

func (e *ErrUnknownRecord) Error() string {
	return fmt.Sprintf("entity: record %d indexed in %q is not a primary key", e.ID, e.Index)
}

// Index owns every index of one entity collection: the primary key set
// (the universe for negation), one histogram per attribute and one range
// index per span-valued property.
//
// Indexes are created on first write. Creation is not transactional: a
// rolled back transaction may leave an empty index behind. The same holds
// for the multi-valued mark of an attribute.
type Index struct {
	name string
	pks  *txn.Cell[*bitmap.Bitmap]

	mu     sync.RWMutex
	attrs  map[string]*histogram.Index[attribute.Value]
	multi  map[string]struct{}
	ranges map[string]*rangeindex.Index
}

// New creates an empty entity index.
func New(name string) *Index {
	return &Index{
		name:   name,
		pks:    txn.NewCell(bitmap.Empty()),
		attrs:  make(map[string]*histogram.Index[attribute.Value]),
		multi:  make(map[string]struct{}),
		ranges: make(map[string]*rangeindex.Index),
	}
}

// Name returns the collection name.
func (idx *Index) Name() string { return idx.name }

// PrimaryKeys returns every registered record id.
func (idx *Index) PrimaryKeys(ctx context.Context) *bitmap.Bitmap {
	return idx.pks.Load(ctx)
}

// AddPrimaryKeys registers record ids.
func (idx *Index) AddPrimaryKeys(ctx context.Context, ids ...uint32) error {
	if len(ids) == 0 {
		return nil
	}
	return idx.pks.Update(ctx, func(bm *bitmap.Bitmap) (*bitmap.Bitmap, error) {
		return bm.With(ids...), nil
	})
}

// RemovePrimaryKeys unregisters record ids. It fails without change if any
// id is not registered. Attribute and range entries of the records are left
// to the caller.
func (idx *Index) RemovePrimaryKeys(ctx context.Context, ids ...uint32) error {
	if len(ids) == 0 {
		return nil
	}
	return idx.pks.Update(ctx, func(bm *bitmap.Bitmap) (*bitmap.Bitmap, error) {
		if missing := bitmap.New(ids...).AndNot(bm); !missing.IsEmpty() {
			return bm, fmt.Errorf("%w: %s", ErrRecordNotFound, missing)
		}
		return bm.Without(ids...), nil
	})
}

// AddAttribute indexes v under attribute name for ids. Array values index
// each distinct element and mark the attribute multi-valued.
func (idx *Index) AddAttribute(ctx context.Context, name string, v attribute.Value, ids ...uint32) error {
	elems, err := indexable(v)
	if err != nil {
		return err
	}
	h := idx.histogram(name, true)
	if v.Kind == attribute.KindArray {
		idx.MarkMultiValued(name)
	}
	for _, e := range elems {
		if err := h.AddRecord(ctx, e, ids...); err != nil {
			return fmt.Errorf("attribute %q: %w", name, err)
		}
	}
	return nil
}

// RemoveAttribute removes v of attribute name for ids.
func (idx *Index) RemoveAttribute(ctx context.Context, name string, v attribute.Value, ids ...uint32) error {
	elems, err := indexable(v)
	if err != nil {
		return err
	}
	h := idx.histogram(name, false)
	if h == nil {
		return fmt.Errorf("%w: %q", ErrAttributeNotFound, name)
	}
	// Without a transaction every element is published on its own, so a
	// failure must be detected before the first removal.
	if len(elems) > 1 && len(ids) > 0 {
		want := bitmap.New(ids...)
		for _, e := range elems {
			present := h.RecordsAt(ctx, e)
			if present.IsEmpty() {
				return fmt.Errorf("attribute %q: %w: %s", name, histogram.ErrValueNotFound, e)
			}
			if missing := want.AndNot(present); !missing.IsEmpty() {
				return fmt.Errorf("attribute %q: %w: %s", name, histogram.ErrRecordNotFound, missing)
			}
		}
	}
	for _, e := range elems {
		if err := h.RemoveRecord(ctx, e, ids...); err != nil {
			return fmt.Errorf("attribute %q: %w", name, err)
		}
	}
	return nil
}

func indexable(v attribute.Value) ([]attribute.Value, error) {
	elems := v.Elements()
	for _, e := range elems {
		if e.Kind == attribute.KindInvalid || e.Kind == attribute.KindArray {
			return nil, fmt.Errorf("%w: %s", ErrInvalidValue, e.Kind)
		}
	}
	if len(elems) > 1 {
		elems = slices.Clone(elems)
		slices.SortFunc(elems, attribute.Compare)
		elems = slices.CompactFunc(elems, attribute.Equal)
	}
	return elems, nil
}

// AddRange registers the span [from, to] of range name for ids.
func (idx *Index) AddRange(ctx context.Context, name string, from, to int64, ids ...uint32) error {
	if err := idx.rangeIndex(name, true).AddRecord(ctx, from, to, ids...); err != nil {
		return fmt.Errorf("range %q: %w", name, err)
	}
	return nil
}

// RemoveRange unregisters the span [from, to] of range name for ids.
func (idx *Index) RemoveRange(ctx context.Context, name string, from, to int64, ids ...uint32) error {
	r := idx.rangeIndex(name, false)
	if r == nil {
		return fmt.Errorf("%w: %q", ErrRangeNotFound, name)
	}
	if err := r.RemoveRecord(ctx, from, to, ids...); err != nil {
		return fmt.Errorf("range %q: %w", name, err)
	}
	return nil
}

// Histogram returns the histogram of attribute name.
func (idx *Index) Histogram(name string) (*histogram.Index[attribute.Value], bool) {
	h := idx.histogram(name, false)
	return h, h != nil
}

// Range returns the range index name.
func (idx *Index) Range(name string) (*rangeindex.Index, bool) {
	r := idx.rangeIndex(name, false)
	return r, r != nil
}

// AttributeNames returns the indexed attribute names in sorted order.
func (idx *Index) AttributeNames() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return slices.Sorted(maps.Keys(idx.attrs))
}

// MarkMultiValued declares that records may hold several values of
// attribute name. Validate then allows a record in more than one bucket.
func (idx *Index) MarkMultiValued(name string) {
	idx.mu.RLock()
	_, ok := idx.multi[name]
	idx.mu.RUnlock()
	if ok {
		return
	}
	idx.mu.Lock()
	idx.multi[name] = struct{}{}
	idx.mu.Unlock()
}

// MultiValued reports whether attribute name is multi-valued.
func (idx *Index) MultiValued(name string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.multi[name]
	return ok
}

// RangeNames returns the indexed range names in sorted order.
func (idx *Index) RangeNames() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return slices.Sorted(maps.Keys(idx.ranges))
}

func (idx *Index) histogram(name string, create bool) *histogram.Index[attribute.Value] {
	idx.mu.RLock()
	h := idx.attrs[name]
	idx.mu.RUnlock()
	if h != nil || !create {
		return h
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if h = idx.attrs[name]; h == nil {
		h = histogram.New(attribute.Compare)
		idx.attrs[name] = h
	}
	return h
}

func (idx *Index) rangeIndex(name string, create bool) *rangeindex.Index {
	idx.mu.RLock()
	r := idx.ranges[name]
	idx.mu.RUnlock()
	if r != nil || !create {
		return r
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if r = idx.ranges[name]; r == nil {
		r = rangeindex.New()
		idx.ranges[name] = r
	}
	return r
}

// RestorePrimaryKeys replaces the committed primary key set.
func (idx *Index) RestorePrimaryKeys(bm *bitmap.Bitmap) {
	if bm == nil {
		bm = bitmap.Empty()
	}
	idx.pks.Store(bm)
}

// RestoreAttribute replaces the committed buckets of attribute name.
func (idx *Index) RestoreAttribute(name string, buckets []histogram.Bucket[attribute.Value]) error {
	if err := idx.histogram(name, true).Restore(buckets); err != nil {
		return fmt.Errorf("attribute %q: %w", name, err)
	}
	return nil
}

// RestoreRange replaces the committed points of range name.
func (idx *Index) RestoreRange(name string, points []rangeindex.Point) error {
	if err := idx.rangeIndex(name, true).Restore(points); err != nil {
		return fmt.Errorf("range %q: %w", name, err)
	}
	return nil
}

// Validate checks the invariants every index relies on but does not enforce
// on mutation, and that every indexed record is a primary key. Bucket
// disjointness is only checked for attributes that are not multi-valued.
func (idx *Index) Validate(ctx context.Context) error {
	pks := idx.PrimaryKeys(ctx)
	check := func(name string, records *bitmap.Bitmap) error {
		if unknown := records.AndNot(pks); !unknown.IsEmpty() {
			id, _ := unknown.First()
			return &ErrUnknownRecord{Index: name, ID: id}
		}
		return nil
	}

	for _, name := range idx.AttributeNames() {
		h, _ := idx.Histogram(name)
		if !idx.MultiValued(name) {
			if err := h.Validate(ctx); err != nil {
				return fmt.Errorf("attribute %q: %w", name, err)
			}
		}
		if err := check(name, h.AllRecords(ctx)); err != nil {
			return err
		}
	}
	for _, name := range idx.RangeNames() {
		r, _ := idx.Range(name)
		if err := r.Validate(ctx); err != nil {
			return fmt.Errorf("range %q: %w", name, err)
		}
		if err := check(name, r.AllRecords(ctx)); err != nil {
			return err
		}
	}
	return nil
}

// Stats summarizes the collection.
type Stats struct {
	Records    int
	Attributes map[string]int // buckets per attribute
	Ranges     map[string]int // points per range, sentinels included
}

// Stats returns counts as seen from ctx.
func (idx *Index) Stats(ctx context.Context) Stats {
	s := Stats{
		Records:    idx.PrimaryKeys(ctx).Len(),
		Attributes: make(map[string]int),
		Ranges:     make(map[string]int),
	}
	for _, name := range idx.AttributeNames() {
		h, _ := idx.Histogram(name)
		s.Attributes[name] = h.Len(ctx)
	}
	for _, name := range idx.RangeNames() {
		r, _ := idx.Range(name)
		s.Ranges[name] = r.Len(ctx)
	}
	return s
}
