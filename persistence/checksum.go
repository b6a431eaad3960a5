package persistence

import (
	"errors"
	"fmt"

	"github.com/hupe1980/entidx/internal/hash"
)

// ErrCorrupt is returned for blobs that fail structural or checksum checks.
var ErrCorrupt = errors.New("persistence: corrupt snapshot")

// Checksums are CRC32C. They detect accidental corruption, not tampering.

// ComputeChecksum computes the CRC32C checksum of data.
func ComputeChecksum(data []byte) uint32 {
	return hash.CRC32C(data)
}

// ChecksumMismatchError is returned when checksum verification fails.
type ChecksumMismatchError struct {
	Blob     string
	Expected uint32
	Actual   uint32
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch in %s: expected 0x%08x, got 0x%08x", e.Blob, e.Expected, e.Actual)
}

func (e *ChecksumMismatchError) Unwrap() error { return ErrCorrupt }

// IsChecksumMismatch returns true if err is a checksum mismatch error.
func IsChecksumMismatch(err error) bool {
	var target *ChecksumMismatchError
	return errors.As(err, &target)
}

func verifyChecksum(blob string, data []byte, expected uint32) error {
	if actual := ComputeChecksum(data); actual != expected {
		return &ChecksumMismatchError{Blob: blob, Expected: expected, Actual: actual}
	}
	return nil
}
