package persistence

import (
	"encoding/binary"
	"fmt"

	"github.com/hupe1980/entidx/attribute"
	"github.com/hupe1980/entidx/bitmap"
	"github.com/hupe1980/entidx/index/histogram"
	"github.com/hupe1980/entidx/index/rangeindex"
)

// Payload encodings, before compression:
//
//	primary keys: roaring bitmap
//	histogram:    uvarint n, n × (attribute value, uvarint len, roaring bitmap)
//	range:        uvarint n, n × (varint threshold, uvarint len, starts, uvarint len, ends)

func encodePrimaryKeys(bm *bitmap.Bitmap) ([]byte, error) {
	return bm.MarshalBinary()
}

func decodePrimaryKeys(data []byte) (*bitmap.Bitmap, error) {
	return bitmap.Decode(data)
}

func encodeHistogram(buckets []histogram.Bucket[attribute.Value]) ([]byte, error) {
	buf := binary.AppendUvarint(nil, uint64(len(buckets)))
	for _, b := range buckets {
		var err error
		if buf, err = attribute.AppendBinary(buf, b.Value); err != nil {
			return nil, err
		}
		if buf, err = appendBitmap(buf, b.Records); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func decodeHistogram(data []byte) ([]histogram.Bucket[attribute.Value], error) {
	r := reader{data: data}
	n := r.uvarint()
	if r.err != nil || n > uint64(len(data)) {
		return nil, fmt.Errorf("%w: bucket count", ErrCorrupt)
	}
	buckets := make([]histogram.Bucket[attribute.Value], 0, n)
	for range n {
		v, rest, err := attribute.ParseBinary(r.data)
		if err != nil {
			return nil, fmt.Errorf("%w: bucket value: %w", ErrCorrupt, err)
		}
		r.data = rest
		records := r.bitmap()
		if r.err != nil {
			return nil, r.err
		}
		buckets = append(buckets, histogram.Bucket[attribute.Value]{Value: v, Records: records})
	}
	if len(r.data) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, len(r.data))
	}
	return buckets, nil
}

func encodeRange(points []rangeindex.Point) ([]byte, error) {
	buf := binary.AppendUvarint(nil, uint64(len(points)))
	for _, p := range points {
		buf = binary.AppendVarint(buf, p.Threshold)
		var err error
		if buf, err = appendBitmap(buf, p.Starts); err != nil {
			return nil, err
		}
		if buf, err = appendBitmap(buf, p.Ends); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func decodeRange(data []byte) ([]rangeindex.Point, error) {
	r := reader{data: data}
	n := r.uvarint()
	if r.err != nil || n > uint64(len(data)) {
		return nil, fmt.Errorf("%w: point count", ErrCorrupt)
	}
	points := make([]rangeindex.Point, 0, n)
	for range n {
		p := rangeindex.Point{Threshold: r.varint()}
		p.Starts = r.bitmap()
		p.Ends = r.bitmap()
		if r.err != nil {
			return nil, r.err
		}
		points = append(points, p)
	}
	if len(r.data) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, len(r.data))
	}
	return points, nil
}

func appendBitmap(buf []byte, bm *bitmap.Bitmap) ([]byte, error) {
	b, err := bm.MarshalBinary()
	if err != nil {
		return nil, err
	}
	buf = binary.AppendUvarint(buf, uint64(len(b)))
	return append(buf, b...), nil
}

// reader consumes a payload and keeps the first error.
type reader struct {
	data []byte
	err  error
}

func (r *reader) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.data)
	if n <= 0 {
		r.err = fmt.Errorf("%w: bad uvarint", ErrCorrupt)
		return 0
	}
	r.data = r.data[n:]
	return v
}

func (r *reader) varint() int64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Varint(r.data)
	if n <= 0 {
		r.err = fmt.Errorf("%w: bad varint", ErrCorrupt)
		return 0
	}
	r.data = r.data[n:]
	return v
}

func (r *reader) bitmap() *bitmap.Bitmap {
	l := r.uvarint()
	if r.err != nil {
		return nil
	}
	if l > uint64(len(r.data)) {
		r.err = fmt.Errorf("%w: bitmap of %d bytes exceeds payload", ErrCorrupt, l)
		return nil
	}
	bm, err := bitmap.Decode(r.data[:l])
	if err != nil {
		r.err = fmt.Errorf("%w: %w", ErrCorrupt, err)
		return nil
	}
	r.data = r.data[l:]
	return bm
}
