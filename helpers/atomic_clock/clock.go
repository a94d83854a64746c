// Package atomic_clock is lock free unix nanosecond timestamp.
// Zero value means never set.
package atomic_clock

import (
	"sync/atomic"
	"time"
)

type Clock struct{ v int64 }

func New(v int64) *Clock { return &Clock{v: v} }
func Now() *Clock        { return New(time.Now().UnixNano()) }

func Since(begin *Clock) time.Duration { return time.Duration(time.Now().UnixNano() - begin.load()) }

func (c *Clock) load() int64 { return atomic.LoadInt64(&c.v) }

func (c *Clock) IsZero() bool                   { return c.load() == 0 }
func (c *Clock) SetNow()                        { atomic.StoreInt64(&c.v, time.Now().UnixNano()) }
func (c *Clock) SetTime(t time.Time)            { atomic.StoreInt64(&c.v, t.UnixNano()) }
func (c *Clock) Sub(begin *Clock) time.Duration { return time.Duration(c.load() - begin.load()) }

// Time returns zero time.Time for zero Clock.
func (c *Clock) Time() time.Time {
	if v := c.load(); v != 0 {
		return time.Unix(0, v)
	}
	return time.Time{}
}
