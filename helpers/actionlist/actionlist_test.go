package actionlist_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/wearable/helpers/actionlist"
)

func TestDo(t *testing.T) {
	t.Parallel()

	delay := 10 * time.Millisecond
	called := uint32(0)
	expectedErr := errors.Errorf("listen tcp: address in use")
	l := new(actionlist.List)
	l.Append(func(ctx context.Context) error {
		atomic.AddUint32(&called, 1)
		return expectedErr
	}, "metrics")
	l.Append(func(ctx context.Context) error {
		atomic.AddUint32(&called, 1)
		return nil
	}, "broker")
	slow := func(ctx context.Context) error {
		time.Sleep(delay)
		atomic.AddUint32(&called, 1)
		return nil
	}
	l.Append(slow, "slow1")
	l.Append(slow, "slow2")
	l.Append(slow, "slow3")
	require.Equal(t, 5, l.Len())

	t1 := time.Now()
	errs := l.Do(context.Background())
	assert.Less(t, int64(time.Since(t1)), int64(4*delay), "steps must run concurrently")
	assert.Equal(t, uint32(5), atomic.LoadUint32(&called))
	require.Len(t, errs, 1)
	assert.Equal(t, expectedErr, errors.Cause(errs[0]))
	assert.Contains(t, errs[0].Error(), "metrics")
}

func TestDoEmpty(t *testing.T) {
	t.Parallel()

	assert.Empty(t, new(actionlist.List).Do(context.Background()))
}
