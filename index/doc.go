// Package index groups the secondary index structures of an entity
// collection.
//
//   - histogram: attribute value to record set, kept in value order, for
//     equality, range and ordering queries
//   - rangeindex: record spans kept as sorted threshold points, for
//     valid-at, overlap, within and enclose queries
//
// Both keep their state in txn structures, so writes bound to a
// transaction stay private until it commits.
package index
