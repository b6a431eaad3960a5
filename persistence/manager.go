package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/entidx/attribute"
	"github.com/hupe1980/entidx/bitmap"
	"github.com/hupe1980/entidx/blobstore"
	"github.com/hupe1980/entidx/codec"
	"github.com/hupe1980/entidx/entity"
	"github.com/hupe1980/entidx/index/histogram"
	"github.com/hupe1980/entidx/index/rangeindex"
	"github.com/hupe1980/entidx/resource"
)

// ErrNoSnapshot is returned by Load when the store holds no committed snapshot.
var ErrNoSnapshot = errors.New("persistence: no snapshot")

// Options configures a Manager.
type Options struct {
	// Codec encodes manifests. Loading picks the codec a manifest was
	// written with.
	Codec codec.Codec

	// Compression compresses index blobs.
	Compression Compression

	// Resources bounds workers, memory and I/O of saves and loads.
	// Nil means a single worker without further limits.
	Resources *resource.Controller

	// Retain is the number of superseded snapshots Prune keeps.
	Retain int

	Logger *slog.Logger
}

// DefaultOptions are the options NewManager starts from.
var DefaultOptions = Options{
	Codec:       codec.Default,
	Compression: CompressionZSTD,
	Retain:      1,
}

// Manager saves and loads snapshots of entity collections to a blob store.
// Saves are serialized; loads may run concurrently with them.
type Manager struct {
	store blobstore.BlobStore
	opts  Options

	mu sync.Mutex
}

// NewManager creates a snapshot manager on store.
func NewManager(store blobstore.BlobStore, optFns ...func(o *Options)) *Manager {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Codec == nil {
		opts.Codec = codec.Default
	}
	if opts.Resources == nil {
		opts.Resources = resource.NewController(resource.Config{MaxWorkers: 1})
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{store: store, opts: opts}
}

// Store returns the underlying blob store.
func (m *Manager) Store() blobstore.BlobStore { return m.store }

// Snapshot is the captured state of a set of collections. Index contents
// are immutable once read, so a Snapshot can be written after commits resume.
type Snapshot struct {
	collections []capturedCollection
}

type capturedCollection struct {
	name       string
	pks        *bitmap.Bitmap
	attrNames  []string
	multi      []bool
	attributes [][]histogram.Bucket[attribute.Value]
	rangeNames []string
	ranges     [][]rangeindex.Point
}

// Capture reads collections as seen from ctx. Callers that need a snapshot
// consistent across collections keep commits out while Capture runs.
func Capture(ctx context.Context, collections []*entity.Index) *Snapshot {
	s := &Snapshot{collections: make([]capturedCollection, len(collections))}
	for i, idx := range collections {
		c := &s.collections[i]
		c.name = idx.Name()
		c.pks = idx.PrimaryKeys(ctx)
		c.attrNames = idx.AttributeNames()
		for _, name := range c.attrNames {
			h, _ := idx.Histogram(name)
			c.attributes = append(c.attributes, h.Buckets(ctx))
			c.multi = append(c.multi, idx.MultiValued(name))
		}
		c.rangeNames = idx.RangeNames()
		for _, name := range c.rangeNames {
			r, _ := idx.Range(name)
			c.ranges = append(c.ranges, r.Points(ctx))
		}
	}
	return s
}

// blobJob encodes and writes one index blob.
type blobJob struct {
	path   string
	kind   BlobKind
	encode func() ([]byte, error)
	out    *BlobInfo
}

// Save captures collections and writes them as a new snapshot.
func (m *Manager) Save(ctx context.Context, collections []*entity.Index) (*Manifest, error) {
	return m.Write(ctx, Capture(ctx, collections))
}

// Write stores s as a new snapshot and moves CURRENT to it. Blobs are
// written in parallel; the manifest follows and CURRENT is written last.
func (m *Manager) Write(ctx context.Context, s *Snapshot) (*Manifest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now()

	prev, err := m.ReadManifest(ctx)
	switch {
	case errors.Is(err, ErrNoSnapshot):
		prev = &Manifest{}
	case err != nil:
		return nil, err
	}

	id := prev.ID + 1
	dir := snapshotDir(id, rand.Uint32())
	man := &Manifest{
		Version:     ManifestVersion,
		ID:          id,
		Dir:         dir,
		CreatedAt:   start.UTC(),
		Codec:       m.opts.Codec.Name(),
		Compression: m.opts.Compression.String(),
		Collections: make([]CollectionInfo, len(s.collections)),
	}

	var jobs []blobJob
	for i := range s.collections {
		jobs = append(jobs, collectionJobs(fmt.Sprintf("%s%03d/", dir, i), &s.collections[i], &man.Collections[i])...)
	}

	written, err := m.writeBlobs(ctx, jobs)
	if err != nil {
		m.opts.Logger.Error("snapshot save failed", "id", id, "error", err)
		return nil, err
	}

	data, err := m.opts.Codec.Marshal(man)
	if err != nil {
		return nil, fmt.Errorf("persistence: encode manifest: %w", err)
	}
	name := manifestName(dir, m.opts.Codec.Name())
	if err := m.store.Put(ctx, name, data); err != nil {
		return nil, fmt.Errorf("persistence: write manifest: %w", err)
	}
	if err := m.store.Put(ctx, blobstore.CurrentName, []byte(name)); err != nil {
		m.opts.Logger.Error("snapshot commit failed", "id", id, "error", err)
		return nil, fmt.Errorf("persistence: commit %s: %w", name, err)
	}

	m.opts.Logger.Info("snapshot saved",
		"id", id,
		"collections", len(s.collections),
		"blobs", len(jobs),
		"bytes", written,
		"duration", time.Since(start),
	)
	return man, nil
}

func collectionJobs(base string, c *capturedCollection, info *CollectionInfo) []blobJob {
	info.Name = c.name
	info.Records = c.pks.Len()

	jobs := []blobJob{{
		path:   base + "pk.blk",
		kind:   KindPrimaryKeys,
		encode: func() ([]byte, error) { return encodePrimaryKeys(c.pks) },
		out:    &info.PrimaryKeys,
	}}

	info.Attributes = make([]IndexInfo, len(c.attrNames))
	for i, name := range c.attrNames {
		buckets := c.attributes[i]
		info.Attributes[i] = IndexInfo{Name: name, Entries: len(buckets), MultiValued: c.multi[i]}
		jobs = append(jobs, blobJob{
			path:   fmt.Sprintf("%sattr-%03d.blk", base, i),
			kind:   KindHistogram,
			encode: func() ([]byte, error) { return encodeHistogram(buckets) },
			out:    &info.Attributes[i].Blob,
		})
	}

	info.Ranges = make([]IndexInfo, len(c.rangeNames))
	for i, name := range c.rangeNames {
		points := c.ranges[i]
		info.Ranges[i] = IndexInfo{Name: name, Entries: len(points)}
		jobs = append(jobs, blobJob{
			path:   fmt.Sprintf("%srange-%03d.blk", base, i),
			kind:   KindRange,
			encode: func() ([]byte, error) { return encodeRange(points) },
			out:    &info.Ranges[i].Blob,
		})
	}
	return jobs
}

func (m *Manager) writeBlobs(ctx context.Context, jobs []blobJob) (int64, error) {
	rc := m.opts.Resources
	sizes := make([]int64, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	for i, job := range jobs {
		if err := rc.AcquireWorker(gctx); err != nil {
			break
		}
		g.Go(func() error {
			defer rc.ReleaseWorker()

			payload, err := job.encode()
			if err != nil {
				return fmt.Errorf("persistence: encode %s: %w", job.path, err)
			}
			data, err := sealBlob(job.kind, m.opts.Compression, payload)
			if err != nil {
				return fmt.Errorf("persistence: seal %s: %w", job.path, err)
			}

			size := int64(len(data))
			if err := rc.AcquireMemory(gctx, size); err != nil {
				return err
			}
			defer rc.ReleaseMemory(size)

			if err := rc.AcquireIO(gctx, len(data)); err != nil {
				return err
			}
			if err := m.store.Put(gctx, job.path, data); err != nil {
				return fmt.Errorf("persistence: write %s: %w", job.path, err)
			}
			*job.out = BlobInfo{Path: job.path, Size: size, Checksum: ComputeChecksum(data)}
			sizes[i] = size
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	// A failed AcquireWorker stops scheduling without a goroutine error.
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var total int64
	for _, s := range sizes {
		total += s
	}
	return total, nil
}

// ReadManifest reads the manifest CURRENT points to.
func (m *Manager) ReadManifest(ctx context.Context) (*Manifest, error) {
	current, err := blobstore.ReadAll(ctx, m.store, blobstore.CurrentName)
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("persistence: read %s: %w", blobstore.CurrentName, err)
	}

	name := strings.TrimSpace(string(current))
	_, codecName, err := parseManifestName(name)
	if err != nil {
		return nil, err
	}
	c, ok := codec.ByName(codecName)
	if !ok {
		return nil, fmt.Errorf("%w: unknown manifest codec %q", ErrCorrupt, codecName)
	}

	data, err := blobstore.ReadAll(ctx, m.store, name)
	if err != nil {
		return nil, fmt.Errorf("persistence: read %s: %w", name, err)
	}
	var man Manifest
	if err := c.Unmarshal(data, &man); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", ErrCorrupt, name, err)
	}
	if man.Version != ManifestVersion {
		return nil, fmt.Errorf("%w: manifest %d", ErrInvalidVersion, man.Version)
	}
	return &man, nil
}

// decoded holds the decoded contents of one collection.
type decoded struct {
	pks        *bitmap.Bitmap
	attributes [][]histogram.Bucket[attribute.Value]
	ranges     [][]rangeindex.Point
}

// Load reads the snapshot CURRENT points to and rebuilds its collections.
// Every blob is verified against the manifest and every index against its
// monotonicity invariants.
func (m *Manager) Load(ctx context.Context) (*Manifest, []*entity.Index, error) {
	start := time.Now()

	man, err := m.ReadManifest(ctx)
	if err != nil {
		return nil, nil, err
	}

	out := make([]decoded, len(man.Collections))
	g, gctx := errgroup.WithContext(ctx)
	read := func(info BlobInfo, kind BlobKind, decode func([]byte) error) {
		g.Go(func() error {
			payload, err := m.readBlob(gctx, info, kind)
			if err != nil {
				return err
			}
			if err := decode(payload); err != nil {
				return fmt.Errorf("persistence: decode %s: %w", info.Path, err)
			}
			return nil
		})
	}

	for i, c := range man.Collections {
		d := &out[i]
		d.attributes = make([][]histogram.Bucket[attribute.Value], len(c.Attributes))
		d.ranges = make([][]rangeindex.Point, len(c.Ranges))

		read(c.PrimaryKeys, KindPrimaryKeys, func(p []byte) (err error) {
			d.pks, err = decodePrimaryKeys(p)
			return err
		})
		for j, a := range c.Attributes {
			read(a.Blob, KindHistogram, func(p []byte) (err error) {
				d.attributes[j], err = decodeHistogram(p)
				return err
			})
		}
		for j, r := range c.Ranges {
			read(r.Blob, KindRange, func(p []byte) (err error) {
				d.ranges[j], err = decodeRange(p)
				return err
			})
		}
	}
	if err := g.Wait(); err != nil {
		m.opts.Logger.Error("snapshot load failed", "id", man.ID, "error", err)
		return nil, nil, err
	}

	indexes := make([]*entity.Index, len(man.Collections))
	for i, c := range man.Collections {
		idx := entity.New(c.Name)
		idx.RestorePrimaryKeys(out[i].pks)
		for j, a := range c.Attributes {
			if err := idx.RestoreAttribute(a.Name, out[i].attributes[j]); err != nil {
				return nil, nil, fmt.Errorf("persistence: collection %q: %w", c.Name, err)
			}
			if a.MultiValued {
				idx.MarkMultiValued(a.Name)
			}
		}
		for j, r := range c.Ranges {
			if err := idx.RestoreRange(r.Name, out[i].ranges[j]); err != nil {
				return nil, nil, fmt.Errorf("persistence: collection %q: %w", c.Name, err)
			}
		}
		indexes[i] = idx
	}

	m.opts.Logger.Info("snapshot loaded",
		"id", man.ID,
		"collections", len(indexes),
		"bytes", man.Size(),
		"duration", time.Since(start),
	)
	return man, indexes, nil
}

func (m *Manager) readBlob(ctx context.Context, info BlobInfo, kind BlobKind) ([]byte, error) {
	rc := m.opts.Resources
	if err := rc.AcquireWorker(ctx); err != nil {
		return nil, err
	}
	defer rc.ReleaseWorker()
	if err := rc.AcquireMemory(ctx, info.Size); err != nil {
		return nil, err
	}
	defer rc.ReleaseMemory(info.Size)
	if err := rc.AcquireIO(ctx, int(info.Size)); err != nil {
		return nil, err
	}

	data, err := blobstore.ReadAll(ctx, m.store, info.Path)
	if err != nil {
		return nil, fmt.Errorf("persistence: read %s: %w", info.Path, err)
	}
	if int64(len(data)) != info.Size {
		return nil, fmt.Errorf("%w: %s has %d bytes, manifest says %d", ErrCorrupt, info.Path, len(data), info.Size)
	}
	if err := verifyChecksum(info.Path, data, info.Checksum); err != nil {
		return nil, err
	}
	return openBlob(info.Path, data, kind)
}

// Prune deletes snapshot blobs that CURRENT no longer needs: snapshots more
// than Retain generations old and leftovers of failed saves. Snapshots newer
// than CURRENT may belong to a save in progress and are kept.
func (m *Manager) Prune(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	man, err := m.ReadManifest(ctx)
	if err != nil {
		return 0, err
	}
	names, err := m.store.List(ctx, SnapshotPrefix)
	if err != nil {
		return 0, fmt.Errorf("persistence: list snapshots: %w", err)
	}

	retain := uint64(max(m.opts.Retain, 0))
	deleted := 0
	for _, name := range names {
		dir, id, ok := parseSnapshotDir(name)
		if !ok || dir == man.Dir || id > man.ID {
			continue
		}
		if id < man.ID && man.ID-id <= retain {
			continue
		}
		if err := m.store.Delete(ctx, name); err != nil {
			return deleted, fmt.Errorf("persistence: delete %s: %w", name, err)
		}
		deleted++
	}

	if deleted > 0 {
		m.opts.Logger.Info("snapshots pruned", "current", man.ID, "deleted", deleted)
	}
	return deleted, nil
}
