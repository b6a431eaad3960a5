// Package mmap maps snapshot blocks read-only into memory.
//
//	m, err := mmap.Open(path)
//	if err != nil { ... }
//	defer m.Close()
//	data := m.Bytes()
//
// The slice returned by Bytes is invalid after Close.
package mmap
