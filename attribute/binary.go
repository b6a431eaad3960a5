package attribute

import (
	"encoding/binary"
	"errors"
	"math"
	"unique"
)

var (
	// ErrShortBuffer is returned when decoding runs out of input.
	ErrShortBuffer = errors.New("attribute: short buffer")
	// ErrUnknownKind is returned for an unknown kind byte.
	ErrUnknownKind = errors.New("attribute: unknown kind")
)

// AppendBinary appends the binary encoding of v to buf.
func AppendBinary(buf []byte, v Value) ([]byte, error) {
	buf = append(buf, byte(v.Kind))

	switch v.Kind {
	case KindNull:
	case KindInt:
		buf = binary.AppendVarint(buf, v.I64)
	case KindFloat:
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v.F64))
	case KindString:
		s := v.s.Value()
		buf = binary.AppendUvarint(buf, uint64(len(s)))
		buf = append(buf, s...)
	case KindBool:
		if v.B {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case KindArray:
		buf = binary.AppendUvarint(buf, uint64(len(v.A)))
		for _, item := range v.A {
			var err error
			if buf, err = AppendBinary(buf, item); err != nil {
				return nil, err
			}
		}
	default:
		return nil, ErrUnknownKind
	}
	return buf, nil
}

// ParseBinary decodes one value from data and returns the remaining bytes.
func ParseBinary(data []byte) (Value, []byte, error) {
	if len(data) == 0 {
		return Value{}, nil, ErrShortBuffer
	}
	v := Value{Kind: Kind(data[0])}
	data = data[1:]

	switch v.Kind {
	case KindNull:
	case KindInt:
		i, n := binary.Varint(data)
		if n <= 0 {
			return v, nil, ErrShortBuffer
		}
		v.I64 = i
		data = data[n:]
	case KindFloat:
		if len(data) < 8 {
			return v, nil, ErrShortBuffer
		}
		v.F64 = math.Float64frombits(binary.LittleEndian.Uint64(data))
		data = data[8:]
	case KindString:
		l, n := binary.Uvarint(data)
		if n <= 0 || uint64(len(data)-n) < l {
			return v, nil, ErrShortBuffer
		}
		data = data[n:]
		v.s = unique.Make(string(data[:l]))
		data = data[l:]
	case KindBool:
		if len(data) == 0 {
			return v, nil, ErrShortBuffer
		}
		v.B = data[0] != 0
		data = data[1:]
	case KindArray:
		l, n := binary.Uvarint(data)
		if n <= 0 || l > uint64(len(data)) {
			return v, nil, ErrShortBuffer
		}
		data = data[n:]
		v.A = make([]Value, l)
		for i := range v.A {
			item, rest, err := ParseBinary(data)
			if err != nil {
				return v, nil, err
			}
			v.A[i] = item
			data = rest
		}
	default:
		return v, nil, ErrUnknownKind
	}
	return v, data, nil
}
