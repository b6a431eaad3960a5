// Package hash holds the checksum every snapshot block and S3 upload is
// verified with: CRC32-Castagnoli, hardware accelerated on amd64 and arm64.
//
//	sum := hash.CRC32C(block)
package hash
