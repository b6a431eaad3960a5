// Package entidx provides an embeddable entity index and query engine for Go.
//
// A DB holds named collections. Each collection indexes a set of record ids
// (its primary keys) by attribute values, using sorted histograms, and by
// closed integer spans such as validity periods, using range indexes.
// Queries are predicate trees that compile to a lazily evaluated bitmap
// formula.
//
// # Quick Start
//
//	ctx := context.Background()
//	db, _ := entidx.Open(ctx)
//	products, _ := db.Collection("products")
//
//	_ = products.AddPrimaryKeys(ctx, 1, 2, 3)
//	_ = products.AddAttribute(ctx, "color", attribute.String("red"), 1, 3)
//	_ = products.AddRange(ctx, "validity", 100, 200, 1, 2)
//
//	res, _ := db.Find("products").
//	    Where(query.Eq("color", attribute.String("red"))).
//	    Where(query.ValidAt("validity", 150)).
//	    Execute(ctx)
//	fmt.Println(res.IDs) // [1]
//
// # Transactions
//
// Writes made through a transaction context stay private until Commit.
// Reads through the same context see them; every other reader sees the
// last committed state.
//
//	err := db.Update(ctx, func(ctx context.Context) error {
//	    if err := products.AddPrimaryKeys(ctx, 4); err != nil {
//	        return err
//	    }
//	    return products.AddAttribute(ctx, "color", attribute.String("blue"), 4)
//	})
//
// Commits are optimistic: a transaction that wrote an item a concurrent
// transaction committed first fails with ErrConflict.
//
// # Snapshots
//
// With a blob store configured, Save writes every collection as compressed,
// checksummed blobs plus a manifest, and Open loads the latest snapshot:
//
//	store := blobstore.NewLocalStore("./data")
//	db, _ := entidx.Open(ctx, entidx.WithBlobStore(store))
//	manifest, _ := db.Save(ctx)
//
// The s3 and minio sub-packages of blobstore provide cloud stores.
//
// # Key Features
//
//   - Roaring bitmap record sets
//   - Ordered attribute histograms with range and ordering queries
//   - Span queries (valid-at, overlaps, within, encloses)
//   - Optimistic multi-collection transactions
//   - Shared sub-query result cache
//   - Snapshots to local disk, S3 or MinIO
//   - Structured logging and Prometheus metrics
package entidx
