package entidx

import (
	"errors"
	"fmt"

	"github.com/hupe1980/entidx/blobstore"
	"github.com/hupe1980/entidx/entity"
	"github.com/hupe1980/entidx/index/histogram"
	"github.com/hupe1980/entidx/index/rangeindex"
	"github.com/hupe1980/entidx/persistence"
	"github.com/hupe1980/entidx/query"
	"github.com/hupe1980/entidx/txn"
)

var (
	// ErrNotFound is returned when a collection, record, value or span is not found.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument is returned for malformed predicates, values and spans.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvariantViolation is returned when index data breaks an index
	// invariant, e.g. a record id in two buckets or a corrupt snapshot.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrConflict is returned when a concurrent writer won a commit race.
	ErrConflict = errors.New("conflict")

	// ErrTxDone is returned when a finished transaction is used.
	ErrTxDone = errors.New("transaction already finished")

	// ErrClosed is returned when a closed DB is used.
	ErrClosed = errors.New("db is closed")

	// ErrNoBlobStore is returned by Save when the DB has no blob store.
	ErrNoBlobStore = errors.New("no blob store configured")
)

// ErrCollectionNotFound indicates a query against an unknown collection.
type ErrCollectionNotFound struct {
	Name string
}

func (e *ErrCollectionNotFound) Error() string {
	return fmt.Sprintf("collection %q not found", e.Name)
}

func (e *ErrCollectionNotFound) Unwrap() error { return ErrNotFound }

// ErrInvalidRange indicates a span or window whose start lies after its end.
//
// The original underlying error can be accessed via errors.Unwrap.
type ErrInvalidRange struct {
	From, To int64
	cause    error
}

func (e *ErrInvalidRange) Error() string {
	return fmt.Sprintf("invalid range [%d, %d]", e.From, e.To)
}

func (e *ErrInvalidRange) Unwrap() []error { return []error{ErrInvalidArgument, e.cause} }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Not found unification.
	if errors.Is(err, entity.ErrRecordNotFound) ||
		errors.Is(err, entity.ErrAttributeNotFound) ||
		errors.Is(err, entity.ErrRangeNotFound) ||
		errors.Is(err, histogram.ErrValueNotFound) ||
		errors.Is(err, histogram.ErrRecordNotFound) ||
		errors.Is(err, rangeindex.ErrRecordNotFound) ||
		errors.Is(err, query.ErrUnknownOrder) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	// Argument normalization.
	var ir *rangeindex.ErrInvalidRange
	if errors.As(err, &ir) {
		return &ErrInvalidRange{From: ir.From, To: ir.To, cause: err}
	}
	if errors.Is(err, query.ErrInvalidPredicate) || errors.Is(err, entity.ErrInvalidValue) {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	// Invariants.
	var ur *entity.ErrUnknownRecord
	if errors.As(err, &ur) ||
		errors.Is(err, histogram.ErrInvalidBuckets) ||
		errors.Is(err, rangeindex.ErrInvalidPoints) ||
		errors.Is(err, persistence.ErrCorrupt) ||
		errors.Is(err, persistence.ErrInvalidMagic) ||
		errors.Is(err, persistence.ErrInvalidVersion) ||
		errors.Is(err, persistence.ErrInvalidKind) {
		return fmt.Errorf("%w: %w", ErrInvariantViolation, err)
	}

	// Transactions.
	if errors.Is(err, txn.ErrConflict) || errors.Is(err, blobstore.ErrConflict) {
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	if errors.Is(err, txn.ErrTxDone) {
		return fmt.Errorf("%w: %w", ErrTxDone, err)
	}

	return err
}
