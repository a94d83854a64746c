// Package channel is single consumer conduit of encoded readings
// from producers to dispatcher.
//
// Disconnect is ordered: every message accepted by Send before Disconnect
// is received before ErrDisconnected, Send after Disconnect is rejected.
package channel

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/wearable/reading"
)

var (
	ErrDisconnected = fmt.Errorf("channel disconnected")
	ErrSendTimeout  = errors.NewTimeout(nil, "channel send timeout")
)

type Channel interface {
	// Send with timeout=0 is single non-blocking attempt.
	Send(m reading.Message, timeout time.Duration) error
	// Receive blocks until message or disconnect signal.
	Receive() (reading.Message, error)
	// Disconnect succeeds exactly once.
	Disconnect() error
	// Len is number of queued messages.
	Len() int
	Close() error
}

// gate bounds capacity and orders disconnect after accepted sends.
type gate struct {
	mu      sync.Mutex
	slots   chan struct{}
	discoch chan struct{}
	disco   bool
	ended   uint32 // receiver reached disconnect signal
}

func newGate(capacity int) gate {
	if capacity < 1 {
		capacity = 1
	}
	return gate{
		slots:   make(chan struct{}, capacity),
		discoch: make(chan struct{}),
	}
}

func (g *gate) acquire(timeout time.Duration) error {
	select {
	case <-g.discoch:
		return ErrDisconnected
	default:
	}
	if timeout <= 0 {
		select {
		case g.slots <- struct{}{}:
			return nil
		default:
			return ErrSendTimeout
		}
	}
	tmr := time.NewTimer(timeout)
	defer tmr.Stop()
	select {
	case g.slots <- struct{}{}:
		return nil
	case <-g.discoch:
		return ErrDisconnected
	case <-tmr.C:
		return ErrSendTimeout
	}
}

func (g *gate) release() {
	select {
	case <-g.slots:
	default:
	}
}

// admit runs push unless disconnected. Slot must be acquired.
func (g *gate) admit(push func() error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.disco {
		g.release()
		return ErrDisconnected
	}
	if err := push(); err != nil {
		g.release()
		return err
	}
	return nil
}

func (g *gate) disconnect(push func() error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.disco {
		return ErrDisconnected
	}
	if err := push(); err != nil {
		return err
	}
	g.disco = true
	close(g.discoch)
	return nil
}

func (g *gate) isEnded() bool { return atomic.LoadUint32(&g.ended) == 1 }
func (g *gate) end()          { atomic.StoreUint32(&g.ended, 1) }

const (
	BackendMemory = "memory"
	BackendQueue  = "spq"
)

func New(backend string, capacity int, spoolDir string) (Channel, error) {
	switch backend {
	case BackendMemory, "":
		return NewMemory(capacity), nil
	case BackendQueue:
		q, err := NewQueue(spoolDir, capacity)
		if err != nil {
			return nil, err
		}
		return q, nil
	default:
		return nil, errors.NotSupportedf("channel backend=%s", backend)
	}
}
