package channel

import (
	"time"

	"github.com/temoto/wearable/reading"
)

type item struct {
	m     reading.Message
	disco bool
}

// Memory is in-process bounded channel.
type Memory struct {
	gate
	items chan item
}

var _ Channel = &Memory{} // compile-time interface test

func NewMemory(capacity int) *Memory {
	c := &Memory{gate: newGate(capacity)}
	// one extra place for disconnect signal
	c.items = make(chan item, cap(c.slots)+1)
	return c
}

func (c *Memory) Send(m reading.Message, timeout time.Duration) error {
	if err := c.acquire(timeout); err != nil {
		return err
	}
	return c.admit(func() error {
		c.items <- item{m: m}
		return nil
	})
}

func (c *Memory) Receive() (reading.Message, error) {
	if c.isEnded() {
		return reading.Message{}, ErrDisconnected
	}
	it := <-c.items
	if it.disco {
		c.end()
		return reading.Message{}, ErrDisconnected
	}
	c.release()
	return it.m, nil
}

func (c *Memory) Disconnect() error {
	return c.disconnect(func() error {
		c.items <- item{disco: true}
		return nil
	})
}

func (c *Memory) Len() int { return len(c.slots) }

func (c *Memory) Close() error { return nil }
