// Package histogram implements a transactional histogram index: buckets of
// record ids keyed by distinct values in strictly ascending order.
//
// It answers equality and range lookups by binary-searching bucket bounds
// and returns either bucket-ordered record lists (no merge cost) or merged,
// id-sorted bitmaps. FindRecordIndex locates a record within the
// value-ordered listing, which is what sorting by an attribute needs.
package histogram
