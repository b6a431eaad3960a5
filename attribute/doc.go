// Package attribute defines the typed values stored in entity attributes
// and indexed by histograms.
package attribute
