// Package testutil provides testing utilities for entidx.
//
// This package is intended for use in tests and benchmarks only.
// It generates reproducible record sets and writes them into anything with
// the collection write methods, so query results can be checked against a
// plain scan of the generated records.
//
//	rng := testutil.NewRNG(seed)
//	records := rng.Records(10_000)
//	err := testutil.Populate(ctx, collection, records)
//
//	want := testutil.Scan(records, func(r testutil.Record) bool {
//	    return r.Color == "red" && r.ValidAt(now)
//	})
package testutil
