// Package txn provides transactional memory for index structures.
//
// Structures such as SortedArray and Cell keep a committed base that is
// published through an atomic pointer and never modified in place. A Tx
// bound to a context with NewContext collects a private diff per structure
// it writes to; reads through that context see base and diff merged, while
// every other reader keeps seeing the committed base. Commit validates that
// no other writer replaced a touched base in the meantime and then swaps in
// all merged states under one lock. Rollback drops the diffs.
//
// Usage:
//
//	mgr := txn.NewManager()
//	tx := mgr.Begin()
//	ctx := txn.NewContext(ctx, tx)
//	if err := arr.Add(ctx, item); err != nil {
//	    _ = tx.Rollback()
//	    return err
//	}
//	return tx.Commit()
package txn
