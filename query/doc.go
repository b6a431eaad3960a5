// Package query translates filter predicates into formula trees over an
// entity index and evaluates them into ordered, paged results.
//
// Negation is always relative to the primary keys of the collection.
// Primary key filters at the top level are folded into that universe.
package query
