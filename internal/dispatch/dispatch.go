// Package dispatch drains channel, decodes messages and delivers events to sink.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/wearable/codec"
	"github.com/temoto/wearable/internal/channel"
	"github.com/temoto/wearable/internal/sink"
	"github.com/temoto/wearable/internal/stat"
	"github.com/temoto/wearable/log2"
	"github.com/temoto/wearable/reading"
)

type Options struct {
	Channel channel.Channel
	Codec   *codec.Codec
	Sink    sink.Sink
	Log     *log2.Log
	Stat    *stat.Stat
	// Per delivery, zero means no timeout.
	SinkTimeout time.Duration
	// Event timestamp source.
	Now func() time.Time
}

type Dispatcher struct {
	opt  Options
	log  *log2.Log
	once sync.Once
	done chan struct{}

	mu        sync.Mutex
	delivered uint64
	skipped   uint64
	dropped   int
}

func New(opt Options) *Dispatcher {
	if opt.Channel == nil || opt.Codec == nil || opt.Sink == nil {
		panic("code error dispatch Channel, Codec and Sink are mandatory")
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	return &Dispatcher{
		opt:  opt,
		log:  opt.Log.Fork("dispatch: "),
		done: make(chan struct{}),
	}
}

// Done is closed after disconnect signal was received.
func (d *Dispatcher) Done() <-chan struct{} { return d.done }
func (d *Dispatcher) Wait()                 { <-d.done }

// Dropped is number of messages found queued behind disconnect signal.
func (d *Dispatcher) Dropped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

func (d *Dispatcher) Delivered() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.delivered
}

// Run blocks until disconnect signal. Decode and sink errors are logged
// and never stop the loop. Second Run is no-op.
func (d *Dispatcher) Run(ctx context.Context) {
	d.once.Do(func() {
		defer close(d.done)
		d.loop(ctx)
	})
}

func (d *Dispatcher) loop(ctx context.Context) {
	for {
		m, err := d.opt.Channel.Receive()
		if err != nil {
			if errors.Cause(err) == channel.ErrDisconnected {
				d.terminate()
				return
			}
			// spq backend reports storage or frame errors here
			d.log.Errorf("receive err=%v", err)
			d.opt.Stat.Failed(reading.KindInvalid, stat.ReasonDecode)
			continue
		}
		d.opt.Stat.Queued(d.opt.Channel.Len())
		d.handle(ctx, m)
	}
}

func (d *Dispatcher) handle(ctx context.Context, m reading.Message) {
	fields, err := d.opt.Codec.Decode(m)
	if err != nil {
		reason := stat.ReasonDecode
		if errors.Cause(err) == codec.ErrUnknownKind {
			reason = stat.ReasonUnknownKind
		}
		d.opt.Stat.Failed(m.Kind, reason)
		d.log.Errorf("skip %s err=%v", m, err)
		d.count(false)
		return
	}
	e, err := reading.NewEvent(m.Kind, d.opt.Now().Unix(), fields)
	if err != nil {
		d.opt.Stat.Failed(m.Kind, stat.ReasonDecode)
		d.log.Errorf("skip %s err=%v", m, err)
		d.count(false)
		return
	}

	dctx := ctx
	if d.opt.SinkTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, d.opt.SinkTimeout)
		defer cancel()
	}
	if err = d.opt.Sink.Deliver(dctx, e); err != nil {
		d.opt.Stat.Failed(m.Kind, stat.ReasonSink)
		d.log.Errorf("sink %s err=%v", m, err)
		d.count(false)
		return
	}
	d.opt.Stat.Delivered(m.Kind)
	d.count(true)
}

func (d *Dispatcher) count(ok bool) {
	d.mu.Lock()
	if ok {
		d.delivered++
	} else {
		d.skipped++
	}
	d.mu.Unlock()
}

func (d *Dispatcher) terminate() {
	pending := d.opt.Channel.Len()
	d.mu.Lock()
	d.dropped = pending
	delivered, skipped := d.delivered, d.skipped
	d.mu.Unlock()
	if pending > 0 {
		d.opt.Stat.DroppedN(reading.KindInvalid, stat.ReasonPending, pending)
		d.log.Errorf("disconnect with pending=%d messages, dropped", pending)
	}
	d.opt.Stat.Queued(0)
	d.log.Debugf("disconnect delivered=%d skipped=%d", delivered, skipped)
}
