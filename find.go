package entidx

import (
	"context"
	"iter"

	"github.com/hupe1980/entidx/query"
)

// Find creates a fluent query builder for the named collection.
//
// Example:
//
//	res, err := db.Find("products").
//	    Where(query.Eq("color", attribute.String("red"))).
//	    Where(query.ValidAt("validity", now)).
//	    OrderBy("price").
//	    Limit(20).
//	    Execute(ctx)
//
//	// Or with streaming:
//	for id, err := range db.Find("products").Where(filter).Stream(ctx) {
//	    if err != nil { break }
//	    process(id)
//	}
func (db *DB) Find(collection string) *QueryBuilder {
	return &QueryBuilder{
		db:         db,
		collection: collection,
	}
}

// QueryBuilder is a fluent builder for collection queries.
type QueryBuilder struct {
	db         *DB
	collection string

	filters []query.Predicate
	order   *query.Order
	offset  int
	limit   int
}

// Where adds a predicate. Predicates of successive calls are combined with AND.
func (qb *QueryBuilder) Where(p query.Predicate) *QueryBuilder {
	qb.filters = append(qb.filters, p)
	return qb
}

// OrderBy sorts results by ascending attribute value. Records without a
// value follow in id order. An empty attribute orders by record id.
func (qb *QueryBuilder) OrderBy(attr string) *QueryBuilder {
	qb.order = &query.Order{Attribute: attr}
	return qb
}

// OrderByDesc sorts results by descending attribute value.
func (qb *QueryBuilder) OrderByDesc(attr string) *QueryBuilder {
	qb.order = &query.Order{Attribute: attr, Descending: true}
	return qb
}

// Offset skips the first n matches.
func (qb *QueryBuilder) Offset(n int) *QueryBuilder {
	qb.offset = n
	return qb
}

// Limit caps the number of returned ids. Zero means no limit.
func (qb *QueryBuilder) Limit(n int) *QueryBuilder {
	qb.limit = n
	return qb
}

// Request returns the query request the builder describes.
func (qb *QueryBuilder) Request() query.Request {
	req := query.Request{
		OrderBy: qb.order,
		Offset:  qb.offset,
		Limit:   qb.limit,
	}
	switch len(qb.filters) {
	case 0:
	case 1:
		req.Filter = &qb.filters[0]
	default:
		f := query.And(qb.filters...)
		req.Filter = &f
	}
	return req
}

// Execute runs the query and returns the requested page.
func (qb *QueryBuilder) Execute(ctx context.Context) (query.Result, error) {
	return qb.db.Query(ctx, qb.collection, qb.Request())
}

// MustExecute runs the query, panicking on error.
// Use this only in tests or when you're certain the query is valid.
func (qb *QueryBuilder) MustExecute(ctx context.Context) query.Result {
	res, err := qb.Execute(ctx)
	if err != nil {
		panic(err)
	}
	return res
}

// Stream returns an iterator over the ids of the requested page.
// The iterator supports early termination by breaking from the loop.
func (qb *QueryBuilder) Stream(ctx context.Context) iter.Seq2[uint32, error] {
	return func(yield func(uint32, error) bool) {
		res, err := qb.Execute(ctx)
		if err != nil {
			yield(0, err)
			return
		}
		for _, id := range res.IDs {
			if !yield(id, nil) {
				return
			}
		}
	}
}

// First returns the first matching id, or ErrNotFound if nothing matches.
func (qb *QueryBuilder) First(ctx context.Context) (uint32, error) {
	qb.limit = 1
	res, err := qb.Execute(ctx)
	if err != nil {
		return 0, err
	}
	if len(res.IDs) == 0 {
		return 0, ErrNotFound
	}
	return res.IDs[0], nil
}

// Count returns the number of matching records, ignoring offset and limit.
func (qb *QueryBuilder) Count(ctx context.Context) (int, error) {
	req := qb.Request()
	req.Offset, req.Limit = 0, 1
	res, err := qb.db.Query(ctx, qb.collection, req)
	if err != nil {
		return 0, err
	}
	return res.Total, nil
}

// Exists reports whether at least one record matches.
func (qb *QueryBuilder) Exists(ctx context.Context) (bool, error) {
	n, err := qb.Count(ctx)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
