package benchmark_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/hupe1980/entidx"
	"github.com/hupe1980/entidx/testutil"
)

func formatCount(n int) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%dM", n/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%dK", n/1_000)
	default:
		return fmt.Sprint(n)
	}
}

// setupDB opens a DB holding one products collection with n generated records.
func setupDB(b *testing.B, n int, opts ...entidx.Option) (*entidx.DB, []testutil.Record) {
	b.Helper()
	ctx := context.Background()

	db, err := entidx.Open(ctx, opts...)
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = db.Close() })

	c, err := db.Collection("products")
	if err != nil {
		b.Fatal(err)
	}
	records := testutil.NewRNG(42).Records(n)
	if err := testutil.Populate(ctx, c, records); err != nil {
		b.Fatal(err)
	}
	return db, records
}
