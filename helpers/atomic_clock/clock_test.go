package atomic_clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClock(t *testing.T) {
	t.Parallel()

	const delta = 100 * time.Millisecond
	var c Clock
	assert.True(t, c.IsZero())
	assert.True(t, c.Time().IsZero())

	tim := time.Now()
	c.SetTime(tim)
	assert.False(t, c.IsZero())
	assert.Equal(t, tim.UnixNano(), c.Time().UnixNano())

	c.SetNow()
	assert.True(t, Since(&c) < delta)
	later := New(c.Time().Add(time.Second).UnixNano())
	assert.Equal(t, time.Second, later.Sub(&c))
	assert.InDelta(t, time.Now().UnixNano(), Now().Time().UnixNano(), float64(delta))
}
