package persistence

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// MagicNumber identifies entidx snapshot blobs (ASCII: "EIX1").
	MagicNumber = 0x45495831
	// FormatVersion is the current blob format version.
	FormatVersion = 1

	blobHeaderSize = 12
)

// BlobKind identifies the index a blob holds.
type BlobKind uint8

const (
	KindPrimaryKeys BlobKind = 1
	KindHistogram   BlobKind = 2
	KindRange       BlobKind = 3
)

func (k BlobKind) String() string {
	switch k {
	case KindPrimaryKeys:
		return "primary-keys"
	case KindHistogram:
		return "histogram"
	case KindRange:
		return "range"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

var (
	ErrInvalidMagic   = errors.New("persistence: invalid magic number")
	ErrInvalidVersion = errors.New("persistence: unsupported version")
	ErrInvalidKind    = errors.New("persistence: unexpected blob kind")
)

// BlobHeader is the fixed header in front of every blob.
type BlobHeader struct {
	Magic       uint32
	Version     uint16
	Kind        BlobKind
	Compression Compression
	Checksum    uint32 // CRC32C of the block
}

func (h BlobHeader) appendTo(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, h.Magic)
	buf = binary.LittleEndian.AppendUint16(buf, h.Version)
	buf = append(buf, byte(h.Kind), byte(h.Compression))
	return binary.LittleEndian.AppendUint32(buf, h.Checksum)
}

func parseBlobHeader(data []byte) (BlobHeader, error) {
	if len(data) < blobHeaderSize {
		return BlobHeader{}, fmt.Errorf("%w: blob too small for header", ErrCorrupt)
	}
	h := BlobHeader{
		Magic:       binary.LittleEndian.Uint32(data[0:]),
		Version:     binary.LittleEndian.Uint16(data[4:]),
		Kind:        BlobKind(data[6]),
		Compression: Compression(data[7]),
		Checksum:    binary.LittleEndian.Uint32(data[8:]),
	}
	if h.Magic != MagicNumber {
		return h, fmt.Errorf("%w: 0x%08x", ErrInvalidMagic, h.Magic)
	}
	if h.Version != FormatVersion {
		return h, fmt.Errorf("%w: %d", ErrInvalidVersion, h.Version)
	}
	return h, nil
}

// sealBlob compresses payload and prepends the blob header.
func sealBlob(kind BlobKind, c Compression, payload []byte) ([]byte, error) {
	block, err := compressBlock(payload, c)
	if err != nil {
		return nil, err
	}
	h := BlobHeader{
		Magic:       MagicNumber,
		Version:     FormatVersion,
		Kind:        kind,
		Compression: c,
		Checksum:    ComputeChecksum(block),
	}
	out := make([]byte, 0, blobHeaderSize+len(block))
	out = h.appendTo(out)
	return append(out, block...), nil
}

// openBlob verifies a sealed blob of the wanted kind and returns its payload.
func openBlob(name string, data []byte, want BlobKind) ([]byte, error) {
	h, err := parseBlobHeader(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if h.Kind != want {
		return nil, fmt.Errorf("%s: %w: %s, want %s", name, ErrInvalidKind, h.Kind, want)
	}
	block := data[blobHeaderSize:]
	if err := verifyChecksum(name, block, h.Checksum); err != nil {
		return nil, err
	}
	payload, err := decompressBlock(block, h.Compression)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return payload, nil
}
