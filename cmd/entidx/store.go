package main

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/hupe1980/entidx/blobstore"
	"github.com/hupe1980/entidx/blobstore/minio"
	"github.com/hupe1980/entidx/blobstore/s3"
)

// storeURL is a parsed --store value.
type storeURL struct {
	Scheme string
	Host   string // minio endpoint
	Bucket string
	Prefix string
	Dir    string
}

func parseStoreURL(raw string) (storeURL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return storeURL{}, fmt.Errorf("store %q: %w", raw, err)
	}

	s := storeURL{Scheme: u.Scheme}
	p := strings.Trim(u.Path, "/")
	switch u.Scheme {
	case "mem":
	case "file":
		if u.Path == "" {
			return storeURL{}, fmt.Errorf("store %q: missing directory", raw)
		}
		s.Dir = u.Path
	case "s3":
		if u.Host == "" {
			return storeURL{}, fmt.Errorf("store %q: missing bucket", raw)
		}
		s.Bucket, s.Prefix = u.Host, p
	case "minio":
		bucket, prefix, _ := strings.Cut(p, "/")
		if u.Host == "" || bucket == "" {
			return storeURL{}, fmt.Errorf("store %q: want minio://host/bucket/prefix", raw)
		}
		s.Host, s.Bucket, s.Prefix = u.Host, bucket, prefix
	default:
		return storeURL{}, fmt.Errorf("store %q: unsupported scheme %q", raw, u.Scheme)
	}
	if s.Prefix != "" {
		s.Prefix += "/"
	}
	return s, nil
}

func openStore(ctx context.Context, cfg *config) (blobstore.BlobStore, error) {
	su, err := parseStoreURL(cfg.Store)
	if err != nil {
		return nil, err
	}

	var store blobstore.BlobStore
	switch su.Scheme {
	case "mem":
		return blobstore.NewMemoryStore(), nil
	case "file":
		return blobstore.NewLocalStore(su.Dir), nil
	case "s3":
		var opts []s3.Option
		if su.Prefix != "" {
			opts = append(opts, s3.WithPrefix(su.Prefix))
		}
		if cfg.S3.Region != "" {
			opts = append(opts, s3.WithRegion(cfg.S3.Region))
		}
		if cfg.S3.Endpoint != "" {
			opts = append(opts, s3.WithEndpoint(cfg.S3.Endpoint))
		}
		s, err := s3.New(ctx, su.Bucket, opts...)
		if err != nil {
			return nil, err
		}
		store = s
		if cfg.S3.DDBTable != "" {
			ddb, err := s3.NewDDBClient(ctx, cfg.S3.Region)
			if err != nil {
				return nil, err
			}
			store = s3.NewDDBCommitStore(s, ddb, cfg.S3.DDBTable, cfg.Store)
		}
	case "minio":
		client, err := minio.Dial(su.Host, cfg.Minio.AccessKey, cfg.Minio.SecretKey, cfg.Minio.Secure)
		if err != nil {
			return nil, fmt.Errorf("minio: %w", err)
		}
		store = minio.NewStore(client, su.Bucket, su.Prefix)
	}

	if cfg.BlobCache > 0 {
		cached, err := blobstore.NewCachingStore(store, cfg.BlobCache)
		if err != nil {
			return nil, err
		}
		return cached, nil
	}
	return store, nil
}
