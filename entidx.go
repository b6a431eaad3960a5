package entidx

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/entidx/attribute"
	"github.com/hupe1980/entidx/entity"
	"github.com/hupe1980/entidx/formula"
	"github.com/hupe1980/entidx/persistence"
	"github.com/hupe1980/entidx/query"
	"github.com/hupe1980/entidx/resource"
	"github.com/hupe1980/entidx/txn"
)

// DB is an embedded entity index database: a set of named collections
// sharing one transaction manager, one result cache and one snapshot store.
//
// DB is safe for concurrent use.
type DB struct {
	opts options

	txm       *txn.Manager
	cache     *formula.Cache
	eval      *query.Evaluator
	snapshots *persistence.Manager

	// commitMu keeps commits and direct writes (read side) out of snapshot
	// captures (write side).
	commitMu sync.RWMutex

	mu          sync.RWMutex
	collections map[string]*Collection

	closed atomic.Bool
}

// Open creates a DB. If a blob store is configured, the latest snapshot in
// it is loaded.
//
// Example:
//
//	db, err := entidx.Open(ctx, entidx.WithBlobStore(blobstore.NewMemoryStore()))
func Open(ctx context.Context, opts ...Option) (*DB, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	db := &DB{
		opts:        o,
		collections: make(map[string]*Collection),
	}
	db.txm = txn.NewManager(
		txn.WithLogger(o.logger.Logger),
		txn.WithObserver(txObserver{mc: o.metricsCollector}),
	)

	if o.cacheSize > 0 {
		cache, err := formula.NewCache(o.cacheSize)
		if err != nil {
			return nil, fmt.Errorf("%w: result cache: %w", ErrInvalidArgument, err)
		}
		db.cache = cache
	}
	db.eval = query.NewEvaluator(
		query.WithCache(db.cache),
		query.WithLogger(o.logger.Logger),
	)

	if o.store == nil {
		return db, nil
	}

	var rc *resource.Controller
	if o.resources != nil {
		rc = resource.NewController(*o.resources)
	}
	db.snapshots = persistence.NewManager(o.store, func(po *persistence.Options) {
		po.Codec = o.codec
		po.Compression = o.compression
		po.Resources = rc
		po.Logger = o.logger.Logger
		if o.retain >= 0 {
			po.Retain = o.retain
		}
	})

	if err := db.load(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

func (db *DB) load(ctx context.Context) error {
	start := time.Now()
	m, indexes, err := db.snapshots.Load(ctx)
	if errors.Is(err, persistence.ErrNoSnapshot) {
		db.opts.logger.DebugContext(ctx, "no snapshot to load")
		return nil
	}

	var (
		id    uint64
		bytes int64
	)
	if m != nil {
		id, bytes = m.ID, m.Size()
	}
	db.opts.metricsCollector.RecordSnapshot("load", bytes, time.Since(start), err)
	db.opts.logger.LogSnapshot(ctx, "load", id, bytes, err)
	if err != nil {
		return translateError(err)
	}

	for _, idx := range indexes {
		db.collections[idx.Name()] = &Collection{db: db, idx: idx}
	}
	return nil
}

func (db *DB) checkOpen() error {
	if db.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Collection returns the named collection, creating it if needed.
func (db *DB) Collection(name string) (*Collection, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("%w: empty collection name", ErrInvalidArgument)
	}

	db.mu.RLock()
	c, ok := db.collections[name]
	db.mu.RUnlock()
	if ok {
		return c, nil
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if c, ok := db.collections[name]; ok {
		return c, nil
	}
	c = &Collection{db: db, idx: entity.New(name)}
	db.collections[name] = c
	db.opts.logger.Debug("collection created", "collection", name)
	return c, nil
}

// LookupCollection returns the named collection if it exists.
func (db *DB) LookupCollection(name string) (*Collection, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	c, ok := db.collections[name]
	if !ok {
		return nil, &ErrCollectionNotFound{Name: name}
	}
	return c, nil
}

// CollectionNames returns the names of all collections, sorted.
func (db *DB) CollectionNames() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return slices.Sorted(maps.Keys(db.collections))
}

func (db *DB) indexes() []*entity.Index {
	db.mu.RLock()
	defer db.mu.RUnlock()
	names := slices.Sorted(maps.Keys(db.collections))
	out := make([]*entity.Index, len(names))
	for i, name := range names {
		out[i] = db.collections[name].idx
	}
	return out
}

// Query runs req against the named collection. A transaction bound to ctx
// (see Tx.Context) sees its own uncommitted writes.
func (db *DB) Query(ctx context.Context, collection string, req query.Request) (query.Result, error) {
	c, err := db.LookupCollection(collection)
	if err != nil {
		return query.Result{}, err
	}
	return c.Query(ctx, req)
}

// Begin starts a transaction. Writes through the context returned by
// Tx.Context stay private until Commit.
func (db *DB) Begin(ctx context.Context) (*Tx, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	tx := db.txm.Begin()
	return &Tx{
		db:  db,
		tx:  tx,
		ctx: txn.NewContext(ctx, tx),
	}, nil
}

// Update runs fn in a transaction and commits it if fn returns nil.
// The transaction is rolled back if fn fails or panics.
//
// Example:
//
//	err := db.Update(ctx, func(ctx context.Context) error {
//	    products, _ := db.Collection("products")
//	    return products.AddPrimaryKeys(ctx, 1, 2, 3)
//	})
func (db *DB) Update(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx.Context()); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, ErrTxDone) {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

// Save writes a snapshot of every collection to the blob store. Commits
// wait only while the collections are captured, not while blobs are written.
// Superseded snapshots beyond the retention are pruned afterwards.
func (db *DB) Save(ctx context.Context) (*persistence.Manifest, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	if db.snapshots == nil {
		return nil, ErrNoBlobStore
	}

	start := time.Now()
	// Uncommitted writes of a transaction bound to ctx are not saved.
	captureCtx := txn.NewContext(ctx, nil)
	db.commitMu.Lock()
	snap := persistence.Capture(captureCtx, db.indexes())
	db.commitMu.Unlock()

	m, err := db.snapshots.Write(ctx, snap)
	var (
		id    uint64
		bytes int64
	)
	if m != nil {
		id, bytes = m.ID, m.Size()
	}
	db.opts.metricsCollector.RecordSnapshot("save", bytes, time.Since(start), err)
	db.opts.logger.LogSnapshot(ctx, "save", id, bytes, err)
	if err != nil {
		return nil, translateError(err)
	}

	if db.opts.retain >= 0 {
		n, err := db.snapshots.Prune(ctx)
		if err != nil {
			db.opts.logger.WarnContext(ctx, "snapshot prune failed", "error", err)
		} else if n > 0 {
			db.opts.logger.DebugContext(ctx, "snapshots pruned", "deleted", n)
		}
	}
	return m, nil
}

// CacheStats returns result cache statistics. ok is false if the DB was
// opened without WithResultCache.
func (db *DB) CacheStats() (stats formula.CacheStats, ok bool) {
	if db.cache == nil {
		return formula.CacheStats{}, false
	}
	return db.cache.Stats(), true
}

// Collection is one named entity collection: a primary key set plus
// attribute histograms and range indexes over its records.
//
// Every method takes a context; a transaction bound to it (see Tx.Context)
// makes writes private to that transaction and reads see them.
type Collection struct {
	db  *DB
	idx *entity.Index
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.idx.Name() }

// Index exposes the underlying entity index.
func (c *Collection) Index() *entity.Index { return c.idx }

// mutate applies a write. Writes without a bound transaction are published
// immediately and must not interleave with snapshot captures.
func (c *Collection) mutate(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := c.db.checkOpen(); err != nil {
		return err
	}
	if txn.FromContext(ctx) == nil {
		c.db.commitMu.RLock()
		defer c.db.commitMu.RUnlock()
		defer c.db.cache.Purge()
	}
	return translateError(fn(ctx))
}

// AddPrimaryKeys registers record ids.
func (c *Collection) AddPrimaryKeys(ctx context.Context, ids ...uint32) error {
	return c.mutate(ctx, func(ctx context.Context) error {
		return c.idx.AddPrimaryKeys(ctx, ids...)
	})
}

// RemovePrimaryKeys unregisters record ids. The records must be removed from
// every attribute and range first.
func (c *Collection) RemovePrimaryKeys(ctx context.Context, ids ...uint32) error {
	return c.mutate(ctx, func(ctx context.Context) error {
		return c.idx.RemovePrimaryKeys(ctx, ids...)
	})
}

// AddAttribute indexes ids under value v of the named attribute. Array
// values index every element.
func (c *Collection) AddAttribute(ctx context.Context, name string, v attribute.Value, ids ...uint32) error {
	return c.mutate(ctx, func(ctx context.Context) error {
		return c.idx.AddAttribute(ctx, name, v, ids...)
	})
}

// RemoveAttribute removes ids from value v of the named attribute.
func (c *Collection) RemoveAttribute(ctx context.Context, name string, v attribute.Value, ids ...uint32) error {
	return c.mutate(ctx, func(ctx context.Context) error {
		return c.idx.RemoveAttribute(ctx, name, v, ids...)
	})
}

// AddRange records the closed span [from, to] for ids in the named range.
func (c *Collection) AddRange(ctx context.Context, name string, from, to int64, ids ...uint32) error {
	return c.mutate(ctx, func(ctx context.Context) error {
		return c.idx.AddRange(ctx, name, from, to, ids...)
	})
}

// RemoveRange removes the span [from, to] of ids from the named range.
func (c *Collection) RemoveRange(ctx context.Context, name string, from, to int64, ids ...uint32) error {
	return c.mutate(ctx, func(ctx context.Context) error {
		return c.idx.RemoveRange(ctx, name, from, to, ids...)
	})
}

// Query evaluates req and returns the requested page of record ids.
func (c *Collection) Query(ctx context.Context, req query.Request) (query.Result, error) {
	if err := c.db.checkOpen(); err != nil {
		return query.Result{}, err
	}
	start := time.Now()
	res, err := c.db.eval.Evaluate(ctx, c.idx, req)
	err = translateError(err)
	d := time.Since(start)

	c.db.opts.metricsCollector.RecordQuery(c.Name(), res.Total, d, err)
	c.db.opts.logger.LogQuery(ctx, c.Name(), res.Total, len(res.IDs), d, err)
	return res, err
}

// Stats returns record and index counts.
func (c *Collection) Stats(ctx context.Context) entity.Stats {
	return c.idx.Stats(ctx)
}

// Validate checks that every indexed record is a primary key and that every
// index is internally consistent.
func (c *Collection) Validate(ctx context.Context) error {
	return translateError(c.idx.Validate(ctx))
}
