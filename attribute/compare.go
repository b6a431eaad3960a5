package attribute

import (
	"cmp"
	"strings"
)

// rank orders kinds. Int and Float share a rank so they compare numerically.
func (k Kind) rank() int {
	switch k {
	case KindNull:
		return 1
	case KindBool:
		return 2
	case KindInt, KindFloat:
		return 3
	case KindString:
		return 4
	case KindArray:
		return 5
	default:
		return 0
	}
}

// Compare defines a total order over values: null < bool < number < string
// < array. Ints and floats compare numerically; a numerically equal int
// sorts before the float. Floats follow cmp.Compare, so NaN sorts first.
// Arrays compare element by element.
func Compare(a, b Value) int {
	if c := cmp.Compare(a.Kind.rank(), b.Kind.rank()); c != 0 {
		return c
	}

	switch a.Kind {
	case KindNull, KindInvalid:
		return 0
	case KindBool:
		switch {
		case a.B == b.B:
			return 0
		case !a.B:
			return -1
		default:
			return 1
		}
	case KindInt, KindFloat:
		if a.Kind == KindInt && b.Kind == KindInt {
			return cmp.Compare(a.I64, b.I64)
		}
		af, _ := a.AsFloat64()
		bf, _ := b.AsFloat64()
		if c := cmp.Compare(af, bf); c != 0 {
			return c
		}
		return cmp.Compare(a.Kind, b.Kind)
	case KindString:
		return strings.Compare(a.s.Value(), b.s.Value())
	case KindArray:
		for i := 0; i < len(a.A) && i < len(b.A); i++ {
			if c := Compare(a.A[i], b.A[i]); c != 0 {
				return c
			}
		}
		return cmp.Compare(len(a.A), len(b.A))
	default:
		return 0
	}
}

// Equal reports whether a and b compare equal.
func Equal(a, b Value) bool {
	return Compare(a, b) == 0
}

// Less reports whether a sorts before b.
func Less(a, b Value) bool {
	return Compare(a, b) < 0
}
