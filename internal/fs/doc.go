// Package fs abstracts the filesystem calls of the local blob store so tests
// can inject faults.
//
//   - [LocalFS]: the os package
//   - [FaultyFS]: fails writes, syncs or renames of matching files
//
// Operations take no context: local syscalls cannot be interrupted.
package fs
