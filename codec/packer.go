// Package codec packs one or two bounded integer fields into single int32 payload.
//
// Composite packing is payload = primary*multiplier + secondary.
// It is inverse only while 0 <= secondary < multiplier and primary >= 0,
// CheckDomain enforces that for configured bounds at load time.
package codec

import (
	"fmt"
	"math"

	"github.com/juju/errors"
)

var (
	ErrEncodingOverflow = fmt.Errorf("encoding overflow")
	ErrDecode           = fmt.Errorf("decode error")
	ErrUnknownKind      = fmt.Errorf("unknown kind")
)

// Bounds is inclusive [Min, Max].
type Bounds struct {
	Min int
	Max int
}

func (b Bounds) Contains(x int) bool { return x >= b.Min && x <= b.Max }
func (b Bounds) String() string      { return fmt.Sprintf("[%d,%d]", b.Min, b.Max) }

type Packer interface {
	Fields() int
	Pack(fields []int) (int32, error)
	Unpack(payload int32) ([]int, error)
	// CheckDomain returns error if some value combination within bounds
	// (one Bounds per field) would not survive Pack+Unpack.
	CheckDomain(bounds []Bounds) error
}

type Scalar struct{}

var _ Packer = Scalar{} // compile-time interface test

func (Scalar) Fields() int { return 1 }

func (Scalar) Pack(fields []int) (int32, error) {
	if len(fields) != 1 {
		return 0, errors.Annotatef(ErrEncodingOverflow, "scalar fields=%d", len(fields))
	}
	x := fields[0]
	if x < math.MinInt32 || x > math.MaxInt32 {
		return 0, errors.Annotatef(ErrEncodingOverflow, "scalar value=%d does not fit int32", x)
	}
	return int32(x), nil
}

func (Scalar) Unpack(payload int32) ([]int, error) {
	return []int{int(payload)}, nil
}

func (Scalar) CheckDomain(bounds []Bounds) error {
	if len(bounds) != 1 {
		return errors.NotValidf("scalar bounds=%d", len(bounds))
	}
	b := bounds[0]
	if b.Min > b.Max {
		return errors.NotValidf("bounds %s min>max", b)
	}
	if b.Min < math.MinInt32 || b.Max > math.MaxInt32 {
		return errors.NotValidf("bounds %s do not fit int32", b)
	}
	return nil
}

type Composite struct {
	Multiplier int32
}

var _ Packer = Composite{}

func (Composite) Fields() int { return 2 }

func (c Composite) Pack(fields []int) (int32, error) {
	if len(fields) != 2 {
		return 0, errors.Annotatef(ErrEncodingOverflow, "composite fields=%d", len(fields))
	}
	m := int64(c.Multiplier)
	primary, secondary := int64(fields[0]), int64(fields[1])
	if m <= 0 {
		return 0, errors.Annotatef(ErrEncodingOverflow, "multiplier=%d", m)
	}
	if secondary < 0 || secondary >= m {
		return 0, errors.Annotatef(ErrEncodingOverflow, "secondary=%d multiplier=%d", secondary, m)
	}
	if primary < 0 {
		return 0, errors.Annotatef(ErrEncodingOverflow, "primary=%d negative", primary)
	}
	// primary*m may overflow int64, compare before multiply
	if primary > (math.MaxInt32-secondary)/m {
		return 0, errors.Annotatef(ErrEncodingOverflow, "primary=%d multiplier=%d payload does not fit int32", primary, m)
	}
	return int32(primary*m + secondary), nil
}

func (c Composite) Unpack(payload int32) ([]int, error) {
	if c.Multiplier <= 0 {
		return nil, errors.Annotatef(ErrDecode, "multiplier=%d", c.Multiplier)
	}
	if payload < 0 {
		return nil, errors.Annotatef(ErrDecode, "composite payload=%d negative", payload)
	}
	return []int{int(payload / c.Multiplier), int(payload % c.Multiplier)}, nil
}

func (c Composite) CheckDomain(bounds []Bounds) error {
	if len(bounds) != 2 {
		return errors.NotValidf("composite bounds=%d", len(bounds))
	}
	primary, secondary := bounds[0], bounds[1]
	m := int64(c.Multiplier)
	switch {
	case m <= 0:
		return errors.NotValidf("multiplier=%d", m)
	case primary.Min > primary.Max:
		return errors.NotValidf("primary bounds %s min>max", primary)
	case secondary.Min > secondary.Max:
		return errors.NotValidf("secondary bounds %s min>max", secondary)
	case primary.Min < 0:
		return errors.NotValidf("primary bounds %s negative", primary)
	case secondary.Min < 0:
		return errors.NotValidf("secondary bounds %s negative", secondary)
	case int64(secondary.Max) >= m:
		// the one that silently corrupts primary field on decode
		return errors.NotValidf("secondary max=%d >= multiplier=%d", secondary.Max, m)
	case int64(primary.Max) > (math.MaxInt32-int64(secondary.Max))/m:
		return errors.NotValidf("primary max=%d multiplier=%d payload does not fit int32", primary.Max, m)
	}
	return nil
}
