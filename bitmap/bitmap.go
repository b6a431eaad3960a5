package bitmap

import (
	"encoding/binary"
	"fmt"
	"iter"
	"strings"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/cespare/xxhash/v2"
)

// Bitmap is an immutable, sorted, duplicate-free set of 32-bit record ids.
//
// Every operation that would change the contents returns a new Bitmap. This
// lets committed index snapshots hand their bitmaps to formula leaves and
// concurrent readers without copying or locking.
type Bitmap struct {
	rb *roaring.Bitmap

	// hash is computed lazily; hashed guards it.
	hash   atomic.Uint64
	hashed atomic.Bool
}

var empty = &Bitmap{rb: roaring.New()}

// Empty returns the shared empty bitmap.
func Empty() *Bitmap {
	return empty
}

// New creates a bitmap from ids in any order. Duplicates are collapsed.
func New(ids ...uint32) *Bitmap {
	if len(ids) == 0 {
		return empty
	}
	return &Bitmap{rb: roaring.BitmapOf(ids...)}
}

// FromSorted creates a bitmap from ids sorted ascending.
// The input is not validated; unsorted input is still handled by roaring,
// only slower.
func FromSorted(ids []uint32) *Bitmap {
	if len(ids) == 0 {
		return empty
	}
	rb := roaring.New()
	rb.AddMany(ids)
	return &Bitmap{rb: rb}
}

// FromRoaring takes ownership of rb. The caller must not modify rb afterwards.
func FromRoaring(rb *roaring.Bitmap) *Bitmap {
	if rb == nil || rb.IsEmpty() {
		return empty
	}
	return &Bitmap{rb: rb}
}

// Len returns the number of ids.
func (b *Bitmap) Len() int {
	if b == nil {
		return 0
	}
	return int(b.rb.GetCardinality())
}

// IsEmpty reports whether the bitmap holds no ids.
func (b *Bitmap) IsEmpty() bool {
	return b == nil || b.rb.IsEmpty()
}

// Contains reports whether id is present.
func (b *Bitmap) Contains(id uint32) bool {
	return b != nil && b.rb.Contains(id)
}

// ContainsAll reports whether every id is present.
func (b *Bitmap) ContainsAll(ids ...uint32) bool {
	for _, id := range ids {
		if !b.Contains(id) {
			return false
		}
	}
	return true
}

// IndexOf returns the zero-based position of id, or -1 if absent.
func (b *Bitmap) IndexOf(id uint32) int {
	if !b.Contains(id) {
		return -1
	}
	return int(b.rb.Rank(id)) - 1
}

// First returns the smallest id.
func (b *Bitmap) First() (uint32, bool) {
	if b.IsEmpty() {
		return 0, false
	}
	return b.rb.Minimum(), true
}

// Last returns the largest id.
func (b *Bitmap) Last() (uint32, bool) {
	if b.IsEmpty() {
		return 0, false
	}
	return b.rb.Maximum(), true
}

// Select returns the id at position i.
func (b *Bitmap) Select(i int) (uint32, bool) {
	if i < 0 || i >= b.Len() {
		return 0, false
	}
	id, err := b.rb.Select(uint32(i))
	if err != nil {
		return 0, false
	}
	return id, true
}

// ToArray returns the ids in ascending order.
func (b *Bitmap) ToArray() []uint32 {
	if b.IsEmpty() {
		return []uint32{}
	}
	return b.rb.ToArray()
}

// All iterates the ids in ascending order.
func (b *Bitmap) All() iter.Seq[uint32] {
	return func(yield func(uint32) bool) {
		if b.IsEmpty() {
			return
		}
		it := b.rb.Iterator()
		for it.HasNext() {
			if !yield(it.Next()) {
				return
			}
		}
	}
}

// Backward iterates the ids in descending order.
func (b *Bitmap) Backward() iter.Seq[uint32] {
	return func(yield func(uint32) bool) {
		if b.IsEmpty() {
			return
		}
		it := b.rb.ReverseIterator()
		for it.HasNext() {
			if !yield(it.Next()) {
				return
			}
		}
	}
}

// Or returns the union of b and o.
func (b *Bitmap) Or(o *Bitmap) *Bitmap {
	switch {
	case o.IsEmpty():
		return b.orEmpty()
	case b.IsEmpty():
		return o
	}
	return &Bitmap{rb: roaring.Or(b.rb, o.rb)}
}

// And returns the intersection of b and o.
func (b *Bitmap) And(o *Bitmap) *Bitmap {
	if b.IsEmpty() || o.IsEmpty() {
		return empty
	}
	return FromRoaring(roaring.And(b.rb, o.rb))
}

// AndNot returns the ids of b that are not in o.
func (b *Bitmap) AndNot(o *Bitmap) *Bitmap {
	if b.IsEmpty() {
		return empty
	}
	if o.IsEmpty() {
		return b
	}
	return FromRoaring(roaring.AndNot(b.rb, o.rb))
}

func (b *Bitmap) orEmpty() *Bitmap {
	if b == nil {
		return empty
	}
	return b
}

// Union returns the union of all bitmaps.
func Union(bms ...*Bitmap) *Bitmap {
	var last *Bitmap
	rbs := make([]*roaring.Bitmap, 0, len(bms))
	for _, bm := range bms {
		if !bm.IsEmpty() {
			rbs = append(rbs, bm.rb)
			last = bm
		}
	}
	switch len(rbs) {
	case 0:
		return empty
	case 1:
		return last
	}
	return FromRoaring(roaring.FastOr(rbs...))
}

// Intersection returns the intersection of all bitmaps.
// The intersection of zero bitmaps is empty.
func Intersection(bms ...*Bitmap) *Bitmap {
	if len(bms) == 0 {
		return empty
	}
	rbs := make([]*roaring.Bitmap, 0, len(bms))
	for _, bm := range bms {
		if bm.IsEmpty() {
			return empty
		}
		rbs = append(rbs, bm.rb)
	}
	if len(rbs) == 1 {
		return bms[0]
	}
	return FromRoaring(roaring.FastAnd(rbs...))
}

// With returns a copy of b with ids added.
func (b *Bitmap) With(ids ...uint32) *Bitmap {
	if len(ids) == 0 {
		return b.orEmpty()
	}
	var rb *roaring.Bitmap
	if b.IsEmpty() {
		rb = roaring.New()
	} else {
		rb = b.rb.Clone()
	}
	rb.AddMany(ids)
	return &Bitmap{rb: rb}
}

// Without returns a copy of b with ids removed.
func (b *Bitmap) Without(ids ...uint32) *Bitmap {
	if b.IsEmpty() || len(ids) == 0 {
		return b.orEmpty()
	}
	rb := b.rb.Clone()
	for _, id := range ids {
		rb.Remove(id)
	}
	return FromRoaring(rb)
}

// Equal reports whether both bitmaps hold the same ids.
func (b *Bitmap) Equal(o *Bitmap) bool {
	if b.IsEmpty() || o.IsEmpty() {
		return b.IsEmpty() && o.IsEmpty()
	}
	if b == o {
		return true
	}
	return b.rb.Equals(o.rb)
}

// Hash returns a content hash. Equal bitmaps have equal hashes.
func (b *Bitmap) Hash() uint64 {
	if b.IsEmpty() {
		return 0
	}
	if b.hashed.Load() {
		return b.hash.Load()
	}
	d := xxhash.New()
	var buf [4]byte
	it := b.rb.Iterator()
	for it.HasNext() {
		binary.LittleEndian.PutUint32(buf[:], it.Next())
		_, _ = d.Write(buf[:])
	}
	h := d.Sum64()
	b.hash.Store(h)
	b.hashed.Store(true)
	return h
}

// SizeInBytes returns the serialized size estimate.
func (b *Bitmap) SizeInBytes() uint64 {
	if b.IsEmpty() {
		return 0
	}
	return b.rb.GetSerializedSizeInBytes()
}

// MarshalBinary encodes the bitmap in the portable roaring format.
func (b *Bitmap) MarshalBinary() ([]byte, error) {
	if b == nil {
		return empty.rb.ToBytes()
	}
	return b.rb.ToBytes()
}

// Decode reads a bitmap encoded by MarshalBinary.
func Decode(data []byte) (*Bitmap, error) {
	rb := roaring.New()
	if err := rb.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("bitmap: decode: %w", err)
	}
	return FromRoaring(rb), nil
}

// String renders the ids, eliding long bitmaps.
func (b *Bitmap) String() string {
	const maxShown = 16

	var sb strings.Builder
	sb.WriteByte('[')
	i := 0
	for id := range b.All() {
		if i == maxShown {
			fmt.Fprintf(&sb, ", ... (%d total)", b.Len())
			break
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%d", id)
		i++
	}
	sb.WriteByte(']')
	return sb.String()
}
