// Package blobstore provides the storage abstraction snapshots are written to.
//
// A snapshot is a set of immutable blobs plus one mutable pointer blob named
// CURRENT, which is written last. Implementations must be safe for
// concurrent use.
//
// # Built-in Implementations
//
//   - MemoryStore: in-memory, for tests and ephemeral databases
//   - LocalStore: local filesystem with atomic renames and mmap reads
//   - CachingStore: LRU of whole blobs in front of a remote store
//   - s3.Store, s3.DDBCommitStore: Amazon S3, optionally with DynamoDB commits
//   - minio.Store: MinIO and other S3-compatible services
package blobstore
