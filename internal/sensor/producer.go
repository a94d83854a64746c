// Package sensor runs one periodic producer per reading kind.
package sensor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/wearable/codec"
	"github.com/temoto/wearable/helpers/atomic_clock"
	"github.com/temoto/wearable/internal/channel"
	"github.com/temoto/wearable/internal/config"
	"github.com/temoto/wearable/internal/sched"
	"github.com/temoto/wearable/internal/stat"
	"github.com/temoto/wearable/log2"
	"github.com/temoto/wearable/reading"
)

type State uint32

const (
	StateIdle State = iota
	StateGenerating
	StateWaiting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateGenerating:
		return "generating"
	case StateWaiting:
		return "waiting"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", uint32(s))
}

type Options struct {
	Sensor      config.Sensor
	Codec       *codec.Codec
	Channel     channel.Channel
	Scheduler   sched.Scheduler
	Rand        Rand
	SendTimeout time.Duration
	Log         *log2.Log
	Stat        *stat.Stat
	// Optional, replaces generator built from Sensor.
	Generator Generator
	Now       func() time.Time
}

type Producer struct {
	alive *alive.Alive
	opt   Options
	gen   Generator
	log   *log2.Log
	state uint32 // State
	ticks uint64
	// last successful channel send
	sentAt atomic_clock.Clock
}

func NewProducer(opt Options) (*Producer, error) {
	if err := opt.Sensor.Validate(); err != nil {
		return nil, errors.Annotate(err, "producer")
	}
	if opt.Codec == nil || opt.Channel == nil || opt.Scheduler == nil {
		return nil, errors.NotValidf("code error producer=%s codec, channel and scheduler are mandatory", opt.Sensor.Kind)
	}
	if _, ok := opt.Codec.Packer(opt.Sensor.Kind); !ok {
		return nil, errors.NotValidf("producer=%s codec has no packer", opt.Sensor.Kind)
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	gen := opt.Generator
	if gen == nil {
		if opt.Rand == nil {
			return nil, errors.NotValidf("code error producer=%s Rand=nil", opt.Sensor.Kind)
		}
		gen = NewGenerator(opt.Sensor, opt.Rand)
	}
	return &Producer{
		alive: alive.NewAlive(),
		opt:   opt,
		gen:   gen,
		log:   opt.Log.Fork(opt.Sensor.Kind.String() + ": "),
	}, nil
}

func (p *Producer) Kind() reading.Kind { return p.opt.Sensor.Kind }
func (p *Producer) State() State       { return State(atomic.LoadUint32(&p.state)) }
func (p *Producer) Ticks() uint64      { return atomic.LoadUint64(&p.ticks) }

// LastSent is zero until first message enters channel.
func (p *Producer) LastSent() time.Time { return p.sentAt.Time() }

func (p *Producer) setState(s State) { atomic.StoreUint32(&p.state, uint32(s)) }

// Stop is observed while Waiting. Tick in progress finishes first.
func (p *Producer) Stop() { p.alive.Stop() }

// Wait until Run returned.
func (p *Producer) Wait() { p.alive.Wait() }

// Run ticks immediately then every period until Stop or ctx done.
// ctx done aborts tick waiting for scheduler slot, Stop does not.
// Returns only fatal errors: ErrGeneration, codec.ErrEncodingOverflow.
func (p *Producer) Run(ctx context.Context) error {
	if !p.alive.Add(1) {
		p.setState(StateStopped)
		return nil
	}
	defer p.alive.Done()
	defer p.setState(StateStopped)

	stopch := p.alive.StopChan()
	period := p.opt.Sensor.Period
	p.log.Debugf("start priority=%d period=%v", p.opt.Sensor.Priority, period)
	next := time.Now()
	for {
		p.setState(StateGenerating)
		if err := p.tick(ctx); err != nil {
			p.log.Errorf("fatal: %v", err)
			p.alive.Stop()
			return err
		}

		p.setState(StateWaiting)
		next = next.Add(period)
		delay := time.Until(next)
		if delay < 0 {
			// overrun, skip missed activations
			next = time.Now()
			delay = 0
		}
		tmr := time.NewTimer(delay)
		select {
		case <-tmr.C:
		case <-stopch:
			tmr.Stop()
			p.log.Debugf("stop ticks=%d", p.Ticks())
			return nil
		case <-ctx.Done():
			tmr.Stop()
			return nil
		}
	}
}

// tick work inside scheduler slot: generate, check, encode, try send.
// If channel is full, slot is released and send waits on producer goroutine.
func (p *Producer) tick(ctx context.Context) error {
	kind := p.opt.Sensor.Kind
	var pending *reading.Message
	err := p.opt.Scheduler.ScheduleSync(ctx, sched.Priority(p.opt.Sensor.Priority), func(context.Context) error {
		n := atomic.AddUint64(&p.ticks, 1) - 1
		r := reading.Reading{Kind: kind, Fields: p.gen.Next(n), Tick: n, GeneratedAt: p.opt.Now()}
		p.opt.Stat.Generated(kind)
		if err := p.checkDomain(r); err != nil {
			return err
		}
		m, err := p.opt.Codec.Encode(kind, r.Fields)
		if err != nil {
			return errors.Annotatef(err, "reading=%s", r)
		}
		switch err = p.opt.Channel.Send(m, 0); errors.Cause(err) {
		case nil:
			p.sent(kind)
			p.log.Debugf("sent %s", r)
		case channel.ErrSendTimeout:
			pending = &m
		default:
			p.drop(m, err)
		}
		return nil
	})
	switch errors.Cause(err) {
	case nil:
	case sched.ErrInterrupted, context.Canceled, context.DeadlineExceeded:
		return nil
	default:
		return err
	}

	if pending != nil {
		if err = p.opt.Channel.Send(*pending, p.opt.SendTimeout); err != nil {
			p.drop(*pending, err)
		} else {
			p.sent(kind)
		}
	}
	return nil
}

func (p *Producer) checkDomain(r reading.Reading) error {
	domain := p.opt.Sensor.Domain()
	if len(r.Fields) != len(domain) {
		return errors.Annotatef(ErrGeneration, "reading=%s fields=%d expected=%d", r, len(r.Fields), len(domain))
	}
	for i, b := range domain {
		if !b.Contains(r.Fields[i]) {
			return errors.Annotatef(ErrGeneration, "reading=%s field=%s value=%d out of %s",
				r, r.Kind.FieldNames()[i], r.Fields[i], b)
		}
	}
	return nil
}

func (p *Producer) sent(kind reading.Kind) {
	p.sentAt.SetNow()
	p.opt.Stat.Sent(kind)
}

func (p *Producer) drop(m reading.Message, err error) {
	reason := stat.ReasonTimeout
	if errors.Cause(err) == channel.ErrDisconnected {
		reason = stat.ReasonDisconnected
	}
	p.opt.Stat.Dropped(m.Kind, reason)
	p.log.Errorf("dropped %s reason=%s err=%v", m, reason, err)
}
