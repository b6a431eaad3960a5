package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/entidx"
	"github.com/hupe1980/entidx/attribute"
	"github.com/hupe1980/entidx/blobstore"
)

func TestParseStoreURL(t *testing.T) {
	tests := []struct {
		raw     string
		want    storeURL
		wantErr bool
	}{
		{raw: "mem://", want: storeURL{Scheme: "mem"}},
		{raw: "file:///var/lib/entidx", want: storeURL{Scheme: "file", Dir: "/var/lib/entidx"}},
		{raw: "s3://bucket", want: storeURL{Scheme: "s3", Bucket: "bucket"}},
		{raw: "s3://bucket/a/b/", want: storeURL{Scheme: "s3", Bucket: "bucket", Prefix: "a/b/"}},
		{raw: "minio://localhost:9000/bucket/idx", want: storeURL{Scheme: "minio", Host: "localhost:9000", Bucket: "bucket", Prefix: "idx/"}},
		{raw: "file://", wantErr: true},
		{raw: "s3:///prefix", wantErr: true},
		{raw: "minio://localhost:9000", wantErr: true},
		{raw: "gs://bucket", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := parseStoreURL(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// saveFixture writes a snapshot with one products collection to dir.
func saveFixture(t *testing.T, dir string) {
	t.Helper()
	ctx := context.Background()

	db, err := entidx.Open(ctx, entidx.WithBlobStore(blobstore.NewLocalStore(dir)))
	require.NoError(t, err)
	defer db.Close()

	c, err := db.Collection("products")
	require.NoError(t, err)
	require.NoError(t, c.AddPrimaryKeys(ctx, 1, 2, 3))
	require.NoError(t, c.AddAttribute(ctx, "color", attribute.String("red"), 1, 3))
	require.NoError(t, c.AddAttribute(ctx, "color", attribute.String("blue"), 2))
	require.NoError(t, c.AddAttribute(ctx, "price", attribute.Int(30), 1))
	require.NoError(t, c.AddAttribute(ctx, "price", attribute.Int(10), 3))
	require.NoError(t, c.AddAttribute(ctx, "tags", attribute.Array(attribute.String("eco"), attribute.String("sale")), 1, 2))
	require.NoError(t, c.AddRange(ctx, "validity", 0, 100, 1, 2))

	_, err = db.Save(ctx)
	require.NoError(t, err)
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestInspect(t *testing.T) {
	dir := t.TempDir()
	saveFixture(t, dir)

	out, err := run(t, "inspect", "--store", "file://"+filepath.ToSlash(dir))
	require.NoError(t, err)
	assert.Contains(t, out, "snapshot 1")
	assert.Regexp(t, `products\s+primary keys\s+3`, out)
	assert.Regexp(t, `products\s+attribute\s+color\s+2`, out)
	assert.Regexp(t, `products\s+range\s+validity`, out)
}

func TestInspect_Empty(t *testing.T) {
	out, err := run(t, "inspect", "--store", "file://"+filepath.ToSlash(t.TempDir()))
	require.NoError(t, err)
	assert.Equal(t, "no snapshot\n", out)
}

func TestQuery(t *testing.T) {
	dir := t.TempDir()
	saveFixture(t, dir)
	store := "file://" + filepath.ToSlash(dir)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{
			name: "filter",
			args: []string{"--filter", `{"op":"eq","attr":"color","values":[{"k":4,"s":"red"}]}`},
			want: "1\n3\n",
		},
		{
			name: "order by price",
			args: []string{"--order-by", "price"},
			want: "3\n1\n2\n",
		},
		{
			name: "valid at with limit",
			args: []string{"--filter", `{"op":"valid_at","attr":"validity","at":50}`, "--desc", "--limit", "1"},
			want: "2\n",
		},
		{
			name: "json",
			args: []string{"--json", "--limit", "1"},
			want: `{"ids":[1],"total":3}` + "\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"query", "--store", store, "--collection", "products"}, tt.args...)
			out, err := run(t, args...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestQuery_Errors(t *testing.T) {
	dir := t.TempDir()
	saveFixture(t, dir)
	store := "file://" + filepath.ToSlash(dir)

	_, err := run(t, "query", "--store", store, "--collection", "missing")
	assert.ErrorIs(t, err, entidx.ErrNotFound)

	_, err = run(t, "query", "--store", store, "--collection", "products", "--filter", "{")
	assert.ErrorContains(t, err, "filter")

	_, err = run(t, "query", "--collection", "products")
	assert.ErrorContains(t, err, "no store")
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	saveFixture(t, dir)

	out, err := run(t, "validate", "--store", "file://"+filepath.ToSlash(dir))
	require.NoError(t, err)
	assert.Equal(t, "products: ok\n", out)
}

func TestConfig_Env(t *testing.T) {
	dir := t.TempDir()
	saveFixture(t, dir)
	t.Setenv("ENTIDX_STORE", "file://"+filepath.ToSlash(dir))
	t.Setenv("ENTIDX_LOG_LEVEL", "error")

	out, err := run(t, "validate")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "products"))

	t.Setenv("ENTIDX_COMPRESSION", "brotli")
	_, err = run(t, "validate")
	assert.Error(t, err)
}
