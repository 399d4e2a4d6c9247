// Package queue implements the single-goroutine, message-passing task queue
// spec §5 requires each pipeline stage to own instead of protecting shared
// state with locks: one goroutine drains one channel of closures in the
// order they were posted, so everything that runs through a Queue is
// already serialized with respect to everything else on that same Queue.
//
// Grounded on the worker-pool idiom the pack uses for packet processing
// (internal-worker_pool.go's buffered-channel-plus-goroutine shape), cut
// down from an N-worker fan-out pool to the single-consumer queue spec §5
// actually calls for, and extended with PostDelayed/RepeatingTask since the
// spec's RTCP/NACK timers need to run on the same serialized queue as the
// work they schedule.
package queue

import (
	"sync"
	"time"
)

// Task is a unit of work posted to a Queue.
type Task func()

// Queue runs posted Tasks one at a time, in FIFO order, on a single
// goroutine it owns.
type Queue struct {
	tasks chan Task
	done  chan struct{}
	wg    sync.WaitGroup

	closeOnce sync.Once
}

// NewQueue starts the queue's worker goroutine. capacity bounds how many
// pending tasks may be buffered before Post blocks.
func NewQueue(capacity int) *Queue {
	q := &Queue{
		tasks: make(chan Task, capacity),
		done:  make(chan struct{}),
	}
	q.wg.Add(1)
	go q.run()
	return q
}

func (q *Queue) run() {
	defer q.wg.Done()
	for {
		select {
		case t, ok := <-q.tasks:
			if !ok {
				return
			}
			t()
		case <-q.done:
			// Drain whatever is already buffered before exiting, so
			// "destruction blocks until all pending tasks have drained"
			// (spec §5) holds even for tasks posted just before Close.
			for {
				select {
				case t := <-q.tasks:
					t()
				default:
					return
				}
			}
		}
	}
}

// Post enqueues fn to run on the queue's goroutine. Safe to call from any
// goroutine, including from within a Task running on this same Queue.
func (q *Queue) Post(fn Task) {
	select {
	case q.tasks <- fn:
	case <-q.done:
	}
}

// PostDelayed schedules fn to be posted to the queue after d elapses. The
// returned timer can be stopped to cancel a delayed post that hasn't fired
// yet.
func (q *Queue) PostDelayed(d time.Duration, fn Task) *time.Timer {
	return time.AfterFunc(d, func() { q.Post(fn) })
}

// RunOn blocks the calling goroutine until fn has run on the queue and
// returns. Useful for synchronous handoffs (e.g. fetching a snapshot of
// queue-owned state from another goroutine).
func (q *Queue) RunOn(fn Task) {
	done := make(chan struct{})
	q.Post(func() {
		fn()
		close(done)
	})
	<-done
}

// Close stops accepting new tasks, drains what's already buffered, and
// blocks until the worker goroutine exits. Holders of raw references to
// queue-owned state must not outlive this call (spec §5).
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
	q.wg.Wait()
}

// RepeatingTask runs fn on a Queue at a fixed period until Stop is called.
// The tick after Stop is suppressed (spec §5: "Repeating tasks expose
// stop(); the next tick after stop is suppressed").
type RepeatingTask struct {
	q        *Queue
	ticker   *time.Ticker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// StartRepeatingTask posts fn to q every period, starting after the first
// period elapses, until Stop is called.
func StartRepeatingTask(q *Queue, period time.Duration, fn Task) *RepeatingTask {
	rt := &RepeatingTask{
		q:      q,
		ticker: time.NewTicker(period),
		stopCh: make(chan struct{}),
	}
	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		for {
			select {
			case <-rt.ticker.C:
				select {
				case <-rt.stopCh:
					return
				default:
				}
				q.Post(fn)
			case <-rt.stopCh:
				return
			}
		}
	}()
	return rt
}

// Stop cancels future ticks. Any tick already in flight when Stop is called
// may still be suppressed per the select race above, but no new tick is
// scheduled after Stop returns.
func (rt *RepeatingTask) Stop() {
	rt.stopOnce.Do(func() {
		rt.ticker.Stop()
		close(rt.stopCh)
	})
	rt.wg.Wait()
}
