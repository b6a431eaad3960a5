package query

import (
	"errors"
	"fmt"

	"github.com/hupe1980/entidx/attribute"
)

// ErrInvalidPredicate is returned for a predicate with missing or extra
// operands.
var ErrInvalidPredicate = errors.New("query: invalid predicate")

// Op is the operator of a Predicate.
type Op string

const (
	// OpAnd matches records matching every child.
	OpAnd Op = "and"
	// OpOr matches records matching any child.
	OpOr Op = "or"
	// OpNot matches primary keys not matching the single child.
	OpNot Op = "not"

	// OpEqual matches records whose attribute holds the value.
	OpEqual Op = "eq"
	// OpNotEqual matches primary keys whose attribute does not hold the value.
	OpNotEqual Op = "ne"
	// OpIn matches records whose attribute holds any of the values.
	OpIn Op = "in"
	// OpGreaterThan matches attribute values greater than the value.
	OpGreaterThan Op = "gt"
	// OpGreaterEqual matches attribute values greater than or equal to the value.
	OpGreaterEqual Op = "gte"
	// OpLessThan matches attribute values less than the value.
	OpLessThan Op = "lt"
	// OpLessEqual matches attribute values less than or equal to the value.
	OpLessEqual Op = "lte"
	// OpBetween matches attribute values within two inclusive values.
	OpBetween Op = "between"

	// OpPrimaryKeyIn matches the listed record ids.
	OpPrimaryKeyIn Op = "pk_in"

	// OpRangeFrom matches records with a span ending at or after the threshold.
	OpRangeFrom Op = "range_from"
	// OpRangeTo matches records with a span starting at or before the threshold.
	OpRangeTo Op = "range_to"
	// OpValidAt matches records with a span containing the threshold.
	OpValidAt Op = "valid_at"
	// OpRangeExact matches records with the span [from, to].
	OpRangeExact Op = "range_exact"
	// OpRangeWithin matches records with a span inside [from, to].
	OpRangeWithin Op = "range_within"
	// OpRangeWithinExclusive matches records with a span inside [from, to]
	// other than [from, to] itself.
	OpRangeWithinExclusive Op = "range_within_exclusive"
	// OpRangeEncloses matches records with a span strictly enclosing [from, to].
	OpRangeEncloses Op = "range_encloses"
	// OpRangeEnclosesInclusive matches records with a span enclosing
	// [from, to] that may share a bound, excluding [from, to] itself.
	OpRangeEnclosesInclusive Op = "range_encloses_inclusive"
	// OpRangeOverlaps matches records with a span overlapping [from, to].
	OpRangeOverlaps Op = "range_overlaps"
)

// Predicate is a node of a filter tree. Which fields are used depends on Op.
type Predicate struct {
	Op Op `json:"op"`

	// Attribute names the attribute or range the predicate reads.
	Attribute string            `json:"attr,omitempty"`
	Values    []attribute.Value `json:"values,omitempty"`

	IDs []uint32 `json:"ids,omitempty"`

	// Threshold is the probe of RangeFrom, RangeTo and ValidAt.
	Threshold int64 `json:"at,omitempty"`
	From      int64 `json:"from,omitempty"`
	To        int64 `json:"to,omitempty"`

	Children []Predicate `json:"children,omitempty"`
}

// And combines ps with logical AND.
func And(ps ...Predicate) Predicate { return Predicate{Op: OpAnd, Children: ps} }

// Or combines ps with logical OR.
func Or(ps ...Predicate) Predicate { return Predicate{Op: OpOr, Children: ps} }

// Not negates p against the primary keys of the collection.
func Not(p Predicate) Predicate { return Predicate{Op: OpNot, Children: []Predicate{p}} }

// Eq matches attr == v.
func Eq(attr string, v attribute.Value) Predicate {
	return Predicate{Op: OpEqual, Attribute: attr, Values: []attribute.Value{v}}
}

// NotEq matches attr != v.
func NotEq(attr string, v attribute.Value) Predicate {
	return Predicate{Op: OpNotEqual, Attribute: attr, Values: []attribute.Value{v}}
}

// In matches attr in vs.
func In(attr string, vs ...attribute.Value) Predicate {
	return Predicate{Op: OpIn, Attribute: attr, Values: vs}
}

// Gt matches attr > v.
func Gt(attr string, v attribute.Value) Predicate {
	return Predicate{Op: OpGreaterThan, Attribute: attr, Values: []attribute.Value{v}}
}

// Gte matches attr >= v.
func Gte(attr string, v attribute.Value) Predicate {
	return Predicate{Op: OpGreaterEqual, Attribute: attr, Values: []attribute.Value{v}}
}

// Lt matches attr < v.
func Lt(attr string, v attribute.Value) Predicate {
	return Predicate{Op: OpLessThan, Attribute: attr, Values: []attribute.Value{v}}
}

// Lte matches attr <= v.
func Lte(attr string, v attribute.Value) Predicate {
	return Predicate{Op: OpLessEqual, Attribute: attr, Values: []attribute.Value{v}}
}

// Between matches lo <= attr <= hi.
func Between(attr string, lo, hi attribute.Value) Predicate {
	return Predicate{Op: OpBetween, Attribute: attr, Values: []attribute.Value{lo, hi}}
}

// PrimaryKeyIn matches the given record ids.
func PrimaryKeyIn(ids ...uint32) Predicate { return Predicate{Op: OpPrimaryKeyIn, IDs: ids} }

// RangeFrom matches records of range name with a span ending at or after t.
func RangeFrom(name string, t int64) Predicate {
	return Predicate{Op: OpRangeFrom, Attribute: name, Threshold: t}
}

// RangeTo matches records of range name with a span starting at or before t.
func RangeTo(name string, t int64) Predicate {
	return Predicate{Op: OpRangeTo, Attribute: name, Threshold: t}
}

// ValidAt matches records of range name with a span containing t.
func ValidAt(name string, t int64) Predicate {
	return Predicate{Op: OpValidAt, Attribute: name, Threshold: t}
}

// RangeExact matches records of range name with the span [from, to].
func RangeExact(name string, from, to int64) Predicate {
	return window(OpRangeExact, name, from, to)
}

// RangeWithin matches records of range name with a span inside [from, to].
func RangeWithin(name string, from, to int64) Predicate {
	return window(OpRangeWithin, name, from, to)
}

// RangeWithinExclusive is RangeWithin without the span [from, to] itself.
func RangeWithinExclusive(name string, from, to int64) Predicate {
	return window(OpRangeWithinExclusive, name, from, to)
}

// RangeEncloses matches records of range name with a span strictly
// enclosing [from, to].
func RangeEncloses(name string, from, to int64) Predicate {
	return window(OpRangeEncloses, name, from, to)
}

// RangeEnclosesInclusive matches records of range name with a span
// enclosing [from, to] that may share a bound with it.
func RangeEnclosesInclusive(name string, from, to int64) Predicate {
	return window(OpRangeEnclosesInclusive, name, from, to)
}

// RangeOverlaps matches records of range name with a span overlapping
// [from, to].
func RangeOverlaps(name string, from, to int64) Predicate {
	return window(OpRangeOverlaps, name, from, to)
}

func window(op Op, name string, from, to int64) Predicate {
	return Predicate{Op: op, Attribute: name, From: from, To: to}
}

// Validate checks operand counts recursively.
func (p Predicate) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s: %s", ErrInvalidPredicate, p.Op, fmt.Sprintf(format, args...))
	}

	switch p.Op {
	case OpAnd, OpOr:
		if len(p.Children) == 0 {
			return invalid("needs at least one child")
		}
	case OpNot:
		if len(p.Children) != 1 {
			return invalid("needs exactly one child, got %d", len(p.Children))
		}
	case OpEqual, OpNotEqual, OpGreaterThan, OpGreaterEqual, OpLessThan, OpLessEqual:
		if len(p.Values) != 1 {
			return invalid("needs exactly one value, got %d", len(p.Values))
		}
	case OpIn:
		if len(p.Values) == 0 {
			return invalid("needs at least one value")
		}
	case OpBetween:
		if len(p.Values) != 2 {
			return invalid("needs two values, got %d", len(p.Values))
		}
	case OpPrimaryKeyIn:
	case OpRangeFrom, OpRangeTo, OpValidAt:
	case OpRangeExact, OpRangeWithin, OpRangeWithinExclusive,
		OpRangeEncloses, OpRangeEnclosesInclusive, OpRangeOverlaps:
		if p.From > p.To {
			return invalid("from %d exceeds to %d", p.From, p.To)
		}
	default:
		return fmt.Errorf("%w: unknown operator %q", ErrInvalidPredicate, p.Op)
	}

	switch p.Op {
	case OpEqual, OpNotEqual, OpIn, OpGreaterThan, OpGreaterEqual, OpLessThan, OpLessEqual, OpBetween,
		OpRangeFrom, OpRangeTo, OpValidAt, OpRangeExact, OpRangeWithin, OpRangeWithinExclusive,
		OpRangeEncloses, OpRangeEnclosesInclusive, OpRangeOverlaps:
		if p.Attribute == "" {
			return invalid("missing attribute")
		}
	}

	for _, c := range p.Children {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}
