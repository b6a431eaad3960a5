// Package rangeindex implements a transactional interval index over closed
// record spans [from, to].
//
// The index stores no per-record intervals. It keeps an ascending array of
// threshold points, each carrying the records whose spans start there and
// the records whose spans end there, bounded by two permanent sentinel
// points at MinThreshold and MaxThreshold. Queries binary-search the window
// and combine the collected bitmaps into formula trees; Join and
// Disentangle cancel starts against ends to find spans open at a cut.
//
// Hierarchies stored as nested sets (each node a span enclosing the spans of
// its descendants) are queried with the Enclosing and Within methods.
package rangeindex
