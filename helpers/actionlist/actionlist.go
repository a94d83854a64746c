// Package actionlist runs tagged init steps concurrently
// and collects their errors.
package actionlist

import (
	"context"
	"sync"

	"github.com/juju/errors"
)

type Func func(context.Context) error

type step struct {
	f   Func
	tag string
}

// List is safe for concurrent Append and Do.
type List struct {
	lk    sync.Mutex
	steps []step
}

func (self *List) Append(fun Func, tag string) {
	self.lk.Lock()
	self.steps = append(self.steps, step{fun, tag})
	self.lk.Unlock()
}

func (self *List) Len() int {
	self.lk.Lock()
	defer self.lk.Unlock()
	return len(self.steps)
}

// Do waits for all steps. Each error is prefixed with step tag.
func (self *List) Do(ctx context.Context) []error {
	self.lk.Lock()
	defer self.lk.Unlock()

	errch := make(chan error, len(self.steps))
	for i := range self.steps {
		go self.steps[i].run(ctx, errch)
	}
	var errs []error
	for range self.steps {
		if e := <-errch; e != nil {
			errs = append(errs, e)
		}
	}
	return errs
}

func (s *step) run(ctx context.Context, ch chan<- error) {
	if err := s.f(ctx); err != nil {
		// errors.Annotate without call location
		tagged := errors.NewErrWithCause(err, s.tag)
		ch <- &tagged
		return
	}
	ch <- nil
}
