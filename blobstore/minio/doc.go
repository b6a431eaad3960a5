// Package minio stores snapshots in MinIO or any other S3-compatible service
// through the MinIO client.
//
//	client, err := minio.Dial("localhost:9000", "minioadmin", "minioadmin", false)
//	if err != nil { ... }
//	store := minio.NewStore(client, "entidx", "products/")
//
// Writers are not coordinated: use one writer per prefix.
package minio
