package queue

import (
	"sync"
	"sync/atomic"
	"time"
)

// AdmissionQueue gates forwarding to the primary RPC node. One request holds
// the in-flight slot at a time; later arrivals park in a FIFO backlog. The
// slot is handed over only after a settle delay plus a backlog-scaled delay,
// converting bursty client traffic into a gently paced serial stream. The
// node publishes no concurrency guarantee, so latency is traded for
// stability here.
type AdmissionQueue struct {
	mutex      sync.Mutex
	processing bool
	waiting    []chan struct{}

	// requests currently in flight to the upstream node
	active    int64
	maxActive int

	queueLimit  int
	settleDelay time.Duration
	stepDelay   time.Duration
	maxDelay    time.Duration
}

// Snapshot is the queue state reported on /health
type Snapshot struct {
	Length     int   `json:"length"`
	Processing bool  `json:"processing"`
	Active     int64 `json:"active"`
}

// New creates an AdmissionQueue
func New(maxActive, queueLimit int, settleDelay, stepDelay, maxDelay time.Duration) *AdmissionQueue {
	return &AdmissionQueue{
		maxActive:   maxActive,
		queueLimit:  queueLimit,
		settleDelay: settleDelay,
		stepDelay:   stepDelay,
		maxDelay:    maxDelay,
	}
}

// Admit blocks until the caller holds the in-flight slot. Arrivals while the
// slot is held are served in FIFO order. Every successful Admit must be paired
// with exactly one Release on every exit path, or the backlog starves.
func (q *AdmissionQueue) Admit() {
	q.mutex.Lock()
	if !q.processing {
		q.processing = true
		q.mutex.Unlock()
		return
	}

	ch := make(chan struct{})
	q.waiting = append(q.waiting, ch)
	q.mutex.Unlock()

	<-ch
}

// Release schedules the slot handover: after the settle delay plus a
// backlog-scaled delay (capped), the next parked request is woken, or the
// queue returns to idle. Returns immediately.
func (q *AdmissionQueue) Release() {
	go q.release()
}

func (q *AdmissionQueue) release() {
	q.mutex.Lock()
	scaled := time.Duration(len(q.waiting)) * q.stepDelay
	q.mutex.Unlock()

	if scaled > q.maxDelay {
		scaled = q.maxDelay
	}
	time.Sleep(q.settleDelay + scaled)

	q.mutex.Lock()
	if len(q.waiting) > 0 {
		ch := q.waiting[0]
		q.waiting = q.waiting[1:]
		// slot stays held; the woken request releases it in turn
		q.mutex.Unlock()
		close(ch)
		return
	}

	q.processing = false
	q.mutex.Unlock()
}

// Overloaded reports whether new work should bypass the primary path and go
// straight to the fallback endpoint.
func (q *AdmissionQueue) Overloaded() bool {
	q.mutex.Lock()
	backlog := len(q.waiting)
	q.mutex.Unlock()

	return backlog > q.queueLimit || atomic.LoadInt64(&q.active) > int64(q.maxActive)
}

// IncActive records a request going in flight to the upstream node
func (q *AdmissionQueue) IncActive() {
	atomic.AddInt64(&q.active, 1)
}

// DecActive records an upstream request completing
func (q *AdmissionQueue) DecActive() {
	atomic.AddInt64(&q.active, -1)
}

// GetSnapshot returns the current queue state
func (q *AdmissionQueue) GetSnapshot() Snapshot {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	return Snapshot{
		Length:     len(q.waiting),
		Processing: q.processing,
		Active:     atomic.LoadInt64(&q.active),
	}
}
