package entidx

import "io"

// Close releases the blob store, if it implements io.Closer. Close is
// idempotent; a closed DB rejects further use with ErrClosed.
func (db *DB) Close() error {
	if db == nil || !db.closed.CompareAndSwap(false, true) {
		return nil
	}
	db.cache.Purge()
	if closer, ok := db.opts.store.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
