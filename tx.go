package entidx

import (
	"context"

	"github.com/hupe1980/entidx/txn"
)

// Tx is a transaction over every collection of a DB. Bind writes and reads
// to it through Context.
//
// Reads see the transaction's own writes. Indexes it has not written are
// read at their latest committed state, not as of Begin.
//
// A Tx must not be used after Commit or Rollback.
type Tx struct {
	db  *DB
	tx  *txn.Tx
	ctx context.Context
}

// Context returns the context the transaction is bound to. Pass it to
// Collection methods.
func (t *Tx) Context() context.Context { return t.ctx }

// ID returns the transaction id.
func (t *Tx) ID() uint64 { return t.tx.ID() }

// Commit publishes the transaction's writes atomically. It fails with
// ErrConflict if a concurrent commit changed an item this transaction wrote;
// the transaction is then rolled back.
func (t *Tx) Commit() error {
	if err := t.db.checkOpen(); err != nil {
		_ = t.tx.Rollback()
		return err
	}

	participants := t.tx.Participants()
	t.db.commitMu.RLock()
	err := t.tx.Commit()
	t.db.commitMu.RUnlock()
	if err == nil {
		t.db.cache.Purge()
	}

	t.db.opts.logger.LogCommit(t.ctx, t.tx.ID(), participants, err)
	return translateError(err)
}

// Rollback discards the transaction's writes.
func (t *Tx) Rollback() error {
	return translateError(t.tx.Rollback())
}
