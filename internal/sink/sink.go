// Package sink is delivery side of dispatcher: log, HTTP, MQTT, Redis streams.
package sink

import (
	"context"
	"sync"

	"github.com/golang/protobuf/proto"
	"github.com/juju/errors"
	"github.com/temoto/wearable/helpers"
	"github.com/temoto/wearable/reading"
)

const (
	FormatJSON     = "json"
	FormatProtobuf = "protobuf"
)

// Sink accepts decoded events. Deliver must respect ctx deadline.
// Retry policy, if any, belongs to implementation.
type Sink interface {
	Deliver(ctx context.Context, e reading.Event) error
	Close() error
}

// Func adapts function to Sink, Close is no-op.
type Func func(ctx context.Context, e reading.Event) error

func (f Func) Deliver(ctx context.Context, e reading.Event) error { return f(ctx, e) }
func (f Func) Close() error                                       { return nil }

// Multi delivers each event to all sinks concurrently
// and folds their errors.
type Multi []Sink

var _ Sink = Multi{} // compile-time interface test

func (m Multi) Deliver(ctx context.Context, e reading.Event) error {
	switch len(m) {
	case 0:
		return nil
	case 1:
		return m[0].Deliver(ctx, e)
	}
	errch := make(chan error, len(m))
	wg := sync.WaitGroup{}
	for _, s := range m {
		s := s
		wg.Add(1)
		go helpers.WrapErrChan(&wg, errch, func() error { return s.Deliver(ctx, e) })
	}
	wg.Wait()
	close(errch)
	return helpers.FoldErrChan(errch)
}

func (m Multi) Close() error {
	errs := make([]error, 0, len(m))
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return helpers.FoldErrors(errs)
}

// Marshal renders event payload in given format.
func Marshal(format string, e reading.Event) ([]byte, error) {
	switch format {
	case FormatJSON, "":
		return e.MarshalJSON()
	case FormatProtobuf:
		b, err := proto.Marshal(e.Proto())
		return b, errors.Annotate(err, "event protobuf")
	default:
		return nil, errors.NotSupportedf("event format=%s", format)
	}
}
