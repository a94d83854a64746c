package sink

import (
	"context"
	"strconv"
	"strings"

	"github.com/temoto/wearable/log2"
	"github.com/temoto/wearable/reading"
)

// Log prints every event on info level.
type Log struct {
	log *log2.Log
}

func NewLog(log *log2.Log) *Log { return &Log{log: log} }

func (s *Log) Deliver(ctx context.Context, e reading.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.log.Info(FormatText(e))
	return nil
}

func (s *Log) Close() error { return nil }

// FormatText is single line human readable event,
// e.g. "bloodPressure bloodPressureSystolic=120 bloodPressureDiastolic=80 timestamp=1670000000".
func FormatText(e reading.Event) string {
	var b strings.Builder
	b.WriteString(e.Kind.Slug())
	for _, f := range e.Fields {
		b.WriteByte(' ')
		b.WriteString(f.Name)
		b.WriteByte('=')
		b.WriteString(strconv.Itoa(f.Value))
	}
	b.WriteString(" timestamp=")
	b.WriteString(strconv.FormatInt(e.Timestamp, 10))
	return b.String()
}
