package throttle

import (
	"errors"
	"time"
)

// ErrStopped is returned for tasks scheduled on or interrupted by a stopped
// scheduler.
var ErrStopped = errors.New("throttle: scheduler stopped")

// Task is an asynchronous unit of work whose result is handed back to the
// caller of Schedule.
type Task func() (interface{}, error)

type result struct {
	value interface{}
	err   error
}

type pending struct {
	task Task
	done chan result
}

// Scheduler serializes calls to an upstream API behind a sliding-window rate
// limit. Tasks run strictly in submission order, one at a time; before each
// task the worker sleeps out the remainder of the trailing window if the call
// budget is already spent. No more than maxPerSecond tasks start within any
// trailing one-second window.
type Scheduler struct {
	tasks        chan *pending
	maxPerSecond int
	window       time.Duration

	// timestamps of recent task starts, touched only by the drain goroutine
	timestamps []time.Time

	stopCh chan struct{}
}

// New creates a Scheduler and starts its single drain worker
func New(maxPerSecond int) *Scheduler {
	s := &Scheduler{
		tasks:        make(chan *pending, 256),
		maxPerSecond: maxPerSecond,
		window:       time.Second,
		stopCh:       make(chan struct{}),
	}

	go s.drain()

	return s
}

// Schedule enqueues a task and blocks until it has run, returning the task's
// own result or error.
func (s *Scheduler) Schedule(task Task) (interface{}, error) {
	p := &pending{task: task, done: make(chan result, 1)}

	select {
	case s.tasks <- p:
	case <-s.stopCh:
		return nil, ErrStopped
	}

	select {
	case r := <-p.done:
		return r.value, r.err
	case <-s.stopCh:
		return nil, ErrStopped
	}
}

// drain runs queued tasks one at a time in FIFO order
func (s *Scheduler) drain() {
	for {
		select {
		case p := <-s.tasks:
			s.waitForRateLimit()
			value, err := p.task()
			p.done <- result{value: value, err: err}
		case <-s.stopCh:
			return
		}
	}
}

// waitForRateLimit blocks until starting another task would keep the trailing
// window under the ceiling, then records the start.
func (s *Scheduler) waitForRateLimit() {
	now := time.Now()

	kept := s.timestamps[:0]
	for _, ts := range s.timestamps {
		if now.Sub(ts) < s.window {
			kept = append(kept, ts)
		}
	}
	s.timestamps = kept

	if len(s.timestamps) >= s.maxPerSecond {
		// Sleep until the oldest recorded call leaves the window.
		wait := s.window - now.Sub(s.timestamps[0])
		if wait > 0 {
			select {
			case <-time.After(wait):
			case <-s.stopCh:
				return
			}
		}
		s.timestamps = s.timestamps[1:]
	}

	s.timestamps = append(s.timestamps, time.Now())
}

// Stop stops the drain worker. In-flight Schedule calls return ErrStopped.
func (s *Scheduler) Stop() {
	close(s.stopCh)
}
