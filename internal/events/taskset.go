package events

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// TaskSet tracks fire-and-forget work so it can be drained on shutdown.
// A panicking task is logged and does not take the process down.
type TaskSet struct {
	name string
	log  *logrus.Entry

	mu     sync.RWMutex
	closed bool
	wg     conc.WaitGroup
}

func NewTaskSet(name string) *TaskSet {
	return &TaskSet{
		name: name,
		log:  logrus.WithField("component", "tasks").WithField("set", name),
	}
}

// Go runs fn in the background. It reports false when the set is closed
// and fn was not scheduled.
func (s *TaskSet) Go(label string, fn func()) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.log.WithField("task", label).Debug("dropping task after close")
		return false
	}

	s.wg.Go(func() {
		var pc panics.Catcher
		pc.Try(fn)
		if r := pc.Recovered(); r != nil {
			s.log.WithField("task", label).WithError(r.AsError()).Error("task panicked")
		}
	})
	return true
}

// Drain stops accepting new tasks and waits for running ones, bounded by ctx.
func (s *TaskSet) Drain(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *TaskSet) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}
