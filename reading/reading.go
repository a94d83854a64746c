package reading

import (
	"fmt"
	"time"
)

// Reading is one generated sample. Len(Fields) == Kind.FieldCount().
type Reading struct {
	Kind        Kind
	Fields      []int
	Tick        uint64
	GeneratedAt time.Time
}

func (r Reading) String() string {
	return fmt.Sprintf("%s tick=%d fields=%v", r.Kind, r.Tick, r.Fields)
}

// Message is encoded reading in transit between producer and dispatcher.
type Message struct {
	Kind    Kind
	Payload int32
}

func (m Message) String() string {
	return fmt.Sprintf("%s payload=%d", m.Kind, m.Payload)
}
