package channel

import (
	"io/ioutil"
	"os"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/spq"
	"github.com/temoto/wearable/codec"
	"github.com/temoto/wearable/reading"
)

// Queue keeps wire frames in spq (leveldb) queue.
// Empty spool dir means in-memory storage. Otherwise fresh temporary
// directory is created inside and removed on Close, so readings
// never outlive the process.
type Queue struct {
	gate
	q   *spq.Queue
	dir string
}

var _ Channel = &Queue{}

func NewQueue(spoolDir string, capacity int) (*Queue, error) {
	c := &Queue{gate: newGate(capacity)}
	path := spq.OnlyForTesting
	if spoolDir != "" {
		dir, err := ioutil.TempDir(spoolDir, "wearable-spool-")
		if err != nil {
			return nil, errors.Annotatef(err, "channel spool dir=%s", spoolDir)
		}
		c.dir, path = dir, dir
	}
	var err error
	if c.q, err = spq.Open(path); err != nil {
		c.removeDir()
		return nil, errors.Annotatef(err, "channel queue path=%s", path)
	}
	return c, nil
}

func (c *Queue) Send(m reading.Message, timeout time.Duration) error {
	if err := c.acquire(timeout); err != nil {
		return err
	}
	return c.admit(func() error {
		return errors.Annotate(c.q.Push(codec.MarshalFrame(m)), "channel queue push")
	})
}

func (c *Queue) Receive() (reading.Message, error) {
	if c.isEnded() {
		return reading.Message{}, ErrDisconnected
	}
	box, err := c.q.Peek()
	switch err {
	case nil:
	case spq.ErrClosed:
		return reading.Message{}, ErrDisconnected
	default:
		return reading.Message{}, errors.Annotate(err, "channel queue peek")
	}
	b := append([]byte(nil), box.Bytes()...)
	if err = c.q.Delete(box); err != nil {
		return reading.Message{}, errors.Annotate(err, "channel queue delete")
	}
	m, disco, err := codec.UnmarshalFrame(b)
	if disco {
		c.end()
		return reading.Message{}, ErrDisconnected
	}
	c.release()
	if err != nil {
		return reading.Message{}, errors.Annotatef(codec.ErrDecode, "frame=%x err=%v", b, err)
	}
	return m, nil
}

func (c *Queue) Disconnect() error {
	return c.disconnect(func() error {
		return errors.Annotate(c.q.Push(codec.DisconnectFrame()), "channel queue push disconnect")
	})
}

func (c *Queue) Len() int { return len(c.slots) }

func (c *Queue) Close() error {
	c.q.Close()
	c.removeDir()
	return nil
}

func (c *Queue) removeDir() {
	if c.dir != "" {
		_ = os.RemoveAll(c.dir)
	}
}
