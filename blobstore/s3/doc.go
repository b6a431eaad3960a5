// Package s3 stores snapshots in Amazon S3.
//
//	store, err := s3.New(ctx, "my-bucket", s3.WithPrefix("entidx/"), s3.WithRegion("eu-west-1"))
//
// S3 has no compare-and-swap, so concurrent writers must commit through
// DDBCommitStore, which keeps the CURRENT pointer in a DynamoDB table with
// conditional writes.
package s3
