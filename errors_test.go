package entidx

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/entidx/blobstore"
	"github.com/hupe1980/entidx/entity"
	"github.com/hupe1980/entidx/index/histogram"
	"github.com/hupe1980/entidx/index/rangeindex"
	"github.com/hupe1980/entidx/persistence"
	"github.com/hupe1980/entidx/query"
	"github.com/hupe1980/entidx/txn"
)

func TestTranslateError(t *testing.T) {
	other := errors.New("other")
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"nil", nil, nil},
		{"record not found", entity.ErrRecordNotFound, ErrNotFound},
		{"attribute not found", fmt.Errorf("wrapped: %w", entity.ErrAttributeNotFound), ErrNotFound},
		{"value not found", histogram.ErrValueNotFound, ErrNotFound},
		{"span not found", rangeindex.ErrRecordNotFound, ErrNotFound},
		{"unknown order", query.ErrUnknownOrder, ErrNotFound},
		{"invalid predicate", query.ErrInvalidPredicate, ErrInvalidArgument},
		{"invalid value", entity.ErrInvalidValue, ErrInvalidArgument},
		{"invalid range", &rangeindex.ErrInvalidRange{From: 2, To: 1}, ErrInvalidArgument},
		{"unknown record", &entity.ErrUnknownRecord{Index: "p", ID: 1}, ErrInvariantViolation},
		{"invalid buckets", histogram.ErrInvalidBuckets, ErrInvariantViolation},
		{"invalid points", rangeindex.ErrInvalidPoints, ErrInvariantViolation},
		{"corrupt", persistence.ErrCorrupt, ErrInvariantViolation},
		{"bad magic", persistence.ErrInvalidMagic, ErrInvariantViolation},
		{"tx conflict", txn.ErrConflict, ErrConflict},
		{"store conflict", blobstore.ErrConflict, ErrConflict},
		{"tx done", txn.ErrTxDone, ErrTxDone},
		{"passthrough", other, other},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translateError(tt.in)
			if tt.want == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tt.want)
			assert.ErrorIs(t, got, tt.in)
		})
	}
}

func TestErrInvalidRange(t *testing.T) {
	cause := &rangeindex.ErrInvalidRange{From: 5, To: 1}
	err := translateError(fmt.Errorf("range %q: %w", "validity", cause))

	var ir *ErrInvalidRange
	require.ErrorAs(t, err, &ir)
	assert.Equal(t, int64(5), ir.From)
	assert.Equal(t, int64(1), ir.To)
	assert.Equal(t, "invalid range [5, 1]", ir.Error())

	var orig *rangeindex.ErrInvalidRange
	assert.ErrorAs(t, err, &orig)
}

func TestErrCollectionNotFound(t *testing.T) {
	err := error(&ErrCollectionNotFound{Name: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, `collection "x" not found`, err.Error())
}
