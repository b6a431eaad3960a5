package persistence

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// SnapshotPrefix starts every snapshot blob name.
	SnapshotPrefix = "snapshots/"
	// ManifestVersion is the current manifest schema version.
	ManifestVersion = 1

	manifestBase = "MANIFEST."
)

// Manifest describes one snapshot.
type Manifest struct {
	Version     int              `json:"version"`
	ID          uint64           `json:"id"`
	Dir         string           `json:"dir"`
	CreatedAt   time.Time        `json:"created_at"`
	Codec       string           `json:"codec"`
	Compression string           `json:"compression"`
	Collections []CollectionInfo `json:"collections"`
}

// CollectionInfo names the blobs of one entity collection.
type CollectionInfo struct {
	Name        string      `json:"name"`
	Records     int         `json:"records"`
	PrimaryKeys BlobInfo    `json:"primary_keys"`
	Attributes  []IndexInfo `json:"attributes,omitempty"`
	Ranges      []IndexInfo `json:"ranges,omitempty"`
}

// IndexInfo names the blob of one attribute histogram or range index.
type IndexInfo struct {
	Name string   `json:"name"`
	Blob BlobInfo `json:"blob"`
	// Entries counts buckets or points.
	Entries int `json:"entries"`
	// MultiValued marks attributes whose records may sit in several buckets.
	MultiValued bool `json:"multi_valued,omitempty"`
}

// BlobInfo locates one sealed blob.
type BlobInfo struct {
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Checksum uint32 `json:"checksum"`
}

// Collection returns the collection named name.
func (m *Manifest) Collection(name string) (CollectionInfo, bool) {
	for _, c := range m.Collections {
		if c.Name == name {
			return c, true
		}
	}
	return CollectionInfo{}, false
}

// Size returns the total size of the index blobs.
func (m *Manifest) Size() int64 {
	var n int64
	for _, c := range m.Collections {
		n += c.PrimaryKeys.Size
		for _, a := range c.Attributes {
			n += a.Blob.Size
		}
		for _, r := range c.Ranges {
			n += r.Blob.Size
		}
	}
	return n
}

// snapshotDir returns the directory of snapshot id. The nonce keeps two
// writers racing for the same id from overwriting each other's blobs.
func snapshotDir(id uint64, nonce uint32) string {
	return fmt.Sprintf("%s%06d-%08x/", SnapshotPrefix, id, nonce)
}

// parseSnapshotDir returns the directory and snapshot id of a blob name.
func parseSnapshotDir(name string) (dir string, id uint64, ok bool) {
	rest, ok := strings.CutPrefix(name, SnapshotPrefix)
	if !ok {
		return "", 0, false
	}
	base, _, ok := strings.Cut(rest, "/")
	if !ok {
		return "", 0, false
	}
	num, _, ok := strings.Cut(base, "-")
	if !ok {
		return "", 0, false
	}
	id, err := strconv.ParseUint(num, 10, 64)
	if err != nil {
		return "", 0, false
	}
	return SnapshotPrefix + base + "/", id, true
}

// manifestName returns the manifest blob of dir. The codec name is the
// extension, so loading needs no prior knowledge of the codec.
func manifestName(dir, codecName string) string {
	return dir + manifestBase + codecName
}

// parseManifestName reverses manifestName.
func parseManifestName(name string) (dir, codecName string, err error) {
	i := strings.LastIndex(name, "/"+manifestBase)
	if i < 0 {
		return "", "", fmt.Errorf("%w: manifest name %q", ErrCorrupt, name)
	}
	dir = name[:i+1]
	codecName = name[i+1+len(manifestBase):]
	if codecName == "" {
		return "", "", fmt.Errorf("%w: manifest name %q", ErrCorrupt, name)
	}
	return dir, codecName, nil
}
