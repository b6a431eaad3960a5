// Package persistence saves and loads snapshots of entity collections.
//
// A snapshot is a set of immutable blobs under snapshots/<id>/, one per
// primary key set, attribute histogram and range index, plus a manifest
// naming them. The CURRENT blob points at the latest manifest and is written
// last, so a crashed save never becomes visible.
//
// Blob layout:
//
//	magic   uint32  "EIX1"
//	version uint16
//	kind    uint8   primary keys, histogram or range
//	codec   uint8   compression of the block
//	crc     uint32  CRC32C of the block
//	block   [uncompressed uint32][compressed uint32, 0 = raw][data]
//
// All integers are little-endian.
package persistence
