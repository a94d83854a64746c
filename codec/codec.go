package codec

import (
	"github.com/juju/errors"
	"github.com/temoto/wearable/reading"
)

// Codec maps each kind to its packer. Immutable after New.
type Codec struct {
	packers map[reading.Kind]Packer
}

func New(packers map[reading.Kind]Packer) *Codec {
	c := &Codec{packers: make(map[reading.Kind]Packer, len(packers))}
	for k, p := range packers {
		if p.Fields() != k.FieldCount() {
			panic(errors.Errorf("code error codec kind=%s fields=%d packer=%d", k, k.FieldCount(), p.Fields()))
		}
		c.packers[k] = p
	}
	return c
}

func (c *Codec) Packer(kind reading.Kind) (Packer, bool) {
	p, ok := c.packers[kind]
	return p, ok
}

func (c *Codec) Encode(kind reading.Kind, fields []int) (reading.Message, error) {
	p, ok := c.packers[kind]
	if !ok {
		return reading.Message{}, errors.Annotatef(ErrUnknownKind, "encode kind=%s", kind)
	}
	payload, err := p.Pack(fields)
	if err != nil {
		return reading.Message{}, errors.Annotatef(err, "encode kind=%s", kind)
	}
	return reading.Message{Kind: kind, Payload: payload}, nil
}

func (c *Codec) Decode(m reading.Message) ([]int, error) {
	p, ok := c.packers[m.Kind]
	if !ok {
		return nil, errors.Annotatef(ErrUnknownKind, "decode kind=%s", m.Kind)
	}
	fields, err := p.Unpack(m.Payload)
	if err != nil {
		return nil, errors.Annotatef(err, "decode kind=%s", m.Kind)
	}
	return fields, nil
}
