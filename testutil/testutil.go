package testutil

import (
	"context"
	"math/rand"
	"slices"
	"strings"
	"sync"

	"github.com/hupe1980/entidx/attribute"
)

// Colors is the value domain of the generated color attribute.
var Colors = []string{"red", "green", "blue", "black", "white", "yellow", "orange", "purple"}

// Tags is the value domain of the generated tags attribute.
var Tags = []string{"new", "sale", "eco", "bulk", "gift", "limited"}

// Horizon bounds generated validity spans to [0, Horizon].
const Horizon = 10_000

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Int63n returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Int63n(n int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Int63n(n)
}

// Record is one generated record.
type Record struct {
	ID    uint32
	Color string // empty if the record has no color
	Price int64
	Tags  []string
	From  int64
	To    int64
}

// ValidAt reports whether t lies in the record's validity span.
func (r Record) ValidAt(t int64) bool { return r.From <= t && t <= r.To }

// HasTag reports whether the record carries tag.
func (r Record) HasTag(tag string) bool { return slices.Contains(r.Tags, tag) }

// Records generates n records with ids 1..n. About one in ten records has
// no color.
func (r *RNG) Records(n int) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Record, n)
	for i := range out {
		rec := Record{
			ID:    uint32(i + 1),
			Price: 1 + r.rand.Int63n(1000),
		}
		if r.rand.Intn(10) > 0 {
			rec.Color = Colors[r.rand.Intn(len(Colors))]
		}
		for _, tag := range Tags {
			if r.rand.Intn(4) == 0 {
				rec.Tags = append(rec.Tags, tag)
			}
		}
		rec.From = r.rand.Int63n(Horizon)
		rec.To = rec.From + r.rand.Int63n(Horizon-rec.From+1)
		out[i] = rec
	}
	return out
}

// Writer is the write surface shared by entity.Index and entidx.Collection.
type Writer interface {
	AddPrimaryKeys(ctx context.Context, ids ...uint32) error
	AddAttribute(ctx context.Context, name string, v attribute.Value, ids ...uint32) error
	AddRange(ctx context.Context, name string, from, to int64, ids ...uint32) error
}

type span struct{ from, to int64 }

// Populate writes records to w as attributes "color", "price" and the
// multi-valued "tags" and range "validity". Records sharing a value, or the
// same set of tags, are written in one call.
func Populate(ctx context.Context, w Writer, records []Record) error {
	ids := make([]uint32, len(records))
	colors := make(map[string][]uint32)
	prices := make(map[int64][]uint32)
	tagSets := make(map[string][]uint32)
	spans := make(map[span][]uint32)
	for i, rec := range records {
		ids[i] = rec.ID
		if rec.Color != "" {
			colors[rec.Color] = append(colors[rec.Color], rec.ID)
		}
		prices[rec.Price] = append(prices[rec.Price], rec.ID)
		if len(rec.Tags) > 0 {
			key := strings.Join(rec.Tags, ",")
			tagSets[key] = append(tagSets[key], rec.ID)
		}
		s := span{rec.From, rec.To}
		spans[s] = append(spans[s], rec.ID)
	}

	if err := w.AddPrimaryKeys(ctx, ids...); err != nil {
		return err
	}
	for c, ids := range colors {
		if err := w.AddAttribute(ctx, "color", attribute.String(c), ids...); err != nil {
			return err
		}
	}
	for p, ids := range prices {
		if err := w.AddAttribute(ctx, "price", attribute.Int(p), ids...); err != nil {
			return err
		}
	}
	for key, ids := range tagSets {
		tags := strings.Split(key, ",")
		elems := make([]attribute.Value, len(tags))
		for i, tag := range tags {
			elems[i] = attribute.String(tag)
		}
		if err := w.AddAttribute(ctx, "tags", attribute.Array(elems...), ids...); err != nil {
			return err
		}
	}
	for s, ids := range spans {
		if err := w.AddRange(ctx, "validity", s.from, s.to, ids...); err != nil {
			return err
		}
	}
	return nil
}

// Scan returns the ids of records matching fn, in ascending order.
func Scan(records []Record, fn func(Record) bool) []uint32 {
	out := []uint32{}
	for _, rec := range records {
		if fn(rec) {
			out = append(out, rec.ID)
		}
	}
	return out
}
