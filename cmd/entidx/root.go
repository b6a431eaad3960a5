package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hupe1980/entidx"
	"github.com/hupe1980/entidx/blobstore"
	"github.com/hupe1980/entidx/persistence"
	"github.com/hupe1980/entidx/resource"
)

const envPrefix = "ENTIDX"

// config holds the settings shared by every command.
type config struct {
	Store       string `mapstructure:"store"`
	LogLevel    string `mapstructure:"log-level"`
	Compression string `mapstructure:"compression"`
	Workers     int64  `mapstructure:"workers"`
	BlobCache   int    `mapstructure:"blob-cache"`

	S3 struct {
		Region   string `mapstructure:"region"`
		Endpoint string `mapstructure:"endpoint"`
		DDBTable string `mapstructure:"ddb-table"`
	} `mapstructure:"s3"`

	Minio struct {
		AccessKey string `mapstructure:"access-key"`
		SecretKey string `mapstructure:"secret-key"`
		Secure    bool   `mapstructure:"secure"`
	} `mapstructure:"minio"`
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "entidx",
		Short:         "Inspect and query entidx snapshots",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("store", "", "snapshot store: mem://, file:///dir, s3://bucket/prefix or minio://host/bucket/prefix")
	flags.String("log-level", "warn", "log level: debug, info, warn or error")
	flags.String("compression", "zstd", "block compression for saved snapshots: none, lz4 or zstd")
	flags.Int64("workers", 4, "parallel blob reads")
	flags.Int("blob-cache", 0, "keep up to n blobs of remote stores in memory")
	flags.String("s3.region", "", "AWS region")
	flags.String("s3.endpoint", "", "S3-compatible endpoint URL")
	flags.String("s3.ddb-table", "", "DynamoDB table holding CURRENT")
	flags.String("minio.access-key", "", "MinIO access key")
	flags.String("minio.secret-key", "", "MinIO secret key")
	flags.Bool("minio.secure", true, "use TLS for MinIO")
	_ = v.BindPFlags(flags)

	cfg := func() (*config, error) {
		var c config
		if err := v.Unmarshal(&c); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if c.Store == "" {
			return nil, fmt.Errorf("config: no store; set --store or %s_STORE", envPrefix)
		}
		return &c, nil
	}

	root.AddCommand(
		newInspectCmd(cfg),
		newQueryCmd(cfg),
		newValidateCmd(cfg),
	)
	return root
}

// openDB opens the store named by cfg and loads its latest snapshot.
func openDB(ctx context.Context, cfg *config) (*entidx.DB, blobstore.BlobStore, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return nil, nil, fmt.Errorf("config: log level: %w", err)
	}
	compression, err := persistence.ParseCompression(cfg.Compression)
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	db, err := entidx.Open(ctx,
		entidx.WithBlobStore(store),
		entidx.WithLogLevel(level),
		entidx.WithCompression(compression),
		entidx.WithResourceLimits(resource.Config{MaxWorkers: cfg.Workers}),
	)
	if err != nil {
		return nil, nil, err
	}
	return db, store, nil
}
