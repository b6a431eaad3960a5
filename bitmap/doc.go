// Package bitmap provides the immutable record-id set used by every index
// and by the formula engine.
//
// A Bitmap is a sorted, duplicate-free set of uint32 record ids backed by a
// Roaring bitmap. Bitmaps are never modified after construction: With,
// Without, Or, And and AndNot all return new values. Index snapshots rely on
// this to share bitmaps with concurrent readers and formula leaves.
//
//	a := bitmap.New(1, 3)
//	b := bitmap.New(2, 3)
//	a.Or(b)  // [1, 2, 3]
//	a.And(b) // [3]
//
// Hash returns a content hash that the formula engine uses to recognize
// structurally equal sub-trees across queries.
package bitmap
