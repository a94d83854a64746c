package reading

import (
	"encoding/json"

	"github.com/juju/errors"
)

type Field struct {
	Name  string
	Value int
}

// Event is dispatcher output handed to sink and then discarded.
type Event struct {
	Kind      Kind
	Timestamp int64 // unix seconds
	Fields    []Field
}

func NewEvent(kind Kind, timestamp int64, values []int) (Event, error) {
	names := kind.FieldNames()
	if names == nil {
		return Event{}, errors.NotValidf("event kind=%s", kind)
	}
	if len(values) != len(names) {
		return Event{}, errors.NotValidf("event kind=%s fields=%d expected=%d", kind, len(values), len(names))
	}
	e := Event{Kind: kind, Timestamp: timestamp, Fields: make([]Field, len(names))}
	for i, name := range names {
		e.Fields[i] = Field{Name: name, Value: values[i]}
	}
	return e, nil
}

func (e Event) Value(name string) (int, bool) {
	for _, f := range e.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return 0, false
}

// MarshalJSON renders flat object of named fields plus timestamp,
// e.g. {"heartRate":72,"timestamp":1670000000}.
func (e Event) MarshalJSON() ([]byte, error) {
	m := make(map[string]int64, len(e.Fields)+1)
	for _, f := range e.Fields {
		m[f.Name] = int64(f.Value)
	}
	m["timestamp"] = e.Timestamp
	b, err := json.Marshal(m)
	return b, errors.Annotatef(err, "event kind=%s json", e.Kind)
}

// Proto converts to wire protobuf message.
func (e Event) Proto() *EventProto {
	p := &EventProto{Kind: uint32(e.Kind), Timestamp: e.Timestamp}
	for _, f := range e.Fields {
		p.Fields = append(p.Fields, &EventProto_Field{Name: f.Name, Value: int64(f.Value)})
	}
	return p
}

func EventFromProto(p *EventProto) (Event, error) {
	kind := Kind(p.Kind)
	values := make([]int, len(p.Fields))
	for i, f := range p.Fields {
		values[i] = int(f.Value)
	}
	return NewEvent(kind, p.Timestamp, values)
}
