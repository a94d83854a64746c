package helpers

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFoldErrors(t *testing.T) {
	t.Parallel()

	e1 := fmt.Errorf("sensor gps priority=0")
	e2 := fmt.Errorf("sensor gps period=0")
	cases := []struct {
		name   string
		input  []error
		expect string
	}{
		{"empty", nil, ""},
		{"nils", []error{nil, nil}, ""},
		{"single", []error{nil, e1}, e1.Error()},
		{"many", []error{e1, nil, e2}, e1.Error() + "\n" + e2.Error()},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			err := FoldErrors(c.input)
			if c.expect == "" {
				assert.NoError(t, err)
			} else {
				assert.EqualError(t, err, c.expect)
			}
		})
	}
}

func TestFoldErrChan(t *testing.T) {
	t.Parallel()

	wg := sync.WaitGroup{}
	ch := make(chan error, 3)
	wg.Add(3)
	go WrapErrChan(&wg, ch, func() error { return nil })
	go WrapErrChan(&wg, ch, func() error { return fmt.Errorf("sink close") })
	go WrapErrChan(&wg, ch, func() error { return nil })
	wg.Wait()
	close(ch)
	assert.EqualError(t, FoldErrChan(ch), "sink close")
}

func TestAtomicErrorStoreOnce(t *testing.T) {
	t.Parallel()

	var ae AtomicError
	first := fmt.Errorf("first")
	prev, set := ae.StoreOnce(first)
	assert.Nil(t, prev)
	assert.False(t, set)
	prev, set = ae.StoreOnce(fmt.Errorf("second"))
	assert.Equal(t, first, prev)
	assert.True(t, set)
	e, ok := ae.Load()
	assert.Equal(t, first, e)
	assert.True(t, ok)
}
