// Package formula implements a lazy set algebra over record id bitmaps.
//
// Index lookups return *Formula trees instead of bitmaps. Query translation
// composes them with And, Or and Not and calls Compute once on the root;
// every node memoizes its result, so sub-trees referenced from several places
// are evaluated once. Join and Disentangle work on multisets and are used by
// the range index to find records with a span open at a threshold.
//
// Skip marks a predicate that is already covered by another path (for
// example a primary key filter folded into the universe). And and Or drop it;
// computing it is a programming error and panics.
//
// Cache extends memoization across queries by structural hash.
package formula
