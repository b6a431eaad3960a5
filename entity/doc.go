// Package entity groups the indexes of one entity collection.
//
// An Index holds the primary key set of the collection, a histogram per
// attribute and a range index per span-valued property. It is the
// mutation entry point for the pipeline that keeps indexes in sync with
// entity changes and the lookup target for query evaluation.
package entity
