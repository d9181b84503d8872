// Package timerqueue implements a min-heap of deadline/value pairs
// drained by a single worker goroutine: Push schedules a value to be
// delivered to a callback at or after its priority (a UnixNano
// deadline), Peek/Pop let the caller inspect or cancel the next
// pending delivery.
package timerqueue

import (
	"container/heap"
	"sync"
	"time"

	"github.com/katzenpost/rtpscore/internal/worker"
)

// Element is one scheduled entry. Priority is a UnixNano deadline;
// Value is delivered to the TimerQueue's callback when it fires.
type Element struct {
	Priority uint64
	Value    interface{}
	index    int
}

type elementHeap []*Element

func (h elementHeap) Len() int            { return len(h) }
func (h elementHeap) Less(i, j int) bool  { return h[i].Priority < h[j].Priority }
func (h elementHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *elementHeap) Push(x interface{}) {
	e := x.(*Element)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *elementHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// TimerQueue delivers values to a callback once their scheduled
// deadline has passed. A tick delivered late, or a Pop racing a firing
// timer, is not a correctness issue: duplicate or skipped deliveries
// are the caller's responsibility to tolerate (callers in this tree
// always re-validate state before acting on a fired entry).
type TimerQueue struct {
	worker.Worker

	callback func(interface{})

	mu    sync.Mutex
	heap  elementHeap
	wake  chan struct{}
}

// NewTimerQueue creates a TimerQueue that invokes callback for every
// entry once Start has been called.
func NewTimerQueue(callback func(interface{})) *TimerQueue {
	return &TimerQueue{
		callback: callback,
		wake:     make(chan struct{}, 1),
	}
}

// Start launches the delivery goroutine. Push may be called before or
// after Start.
func (q *TimerQueue) Start() {
	q.Go(q.worker)
}

func (q *TimerQueue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *TimerQueue) worker() {
	for {
		q.mu.Lock()
		var timer <-chan time.Time
		if len(q.heap) > 0 {
			deadline := time.Unix(0, int64(q.heap[0].Priority))
			d := time.Until(deadline)
			if d <= 0 {
				d = 0
			}
			timer = time.After(d)
		}
		q.mu.Unlock()

		select {
		case <-q.HaltCh():
			return
		case <-q.wake:
			continue
		case <-orNever(timer):
			q.fireReady()
		}
	}
}

func orNever(c <-chan time.Time) <-chan time.Time {
	if c == nil {
		return make(chan time.Time)
	}
	return c
}

func (q *TimerQueue) fireReady() {
	now := uint64(time.Now().UnixNano())
	for {
		q.mu.Lock()
		if len(q.heap) == 0 || q.heap[0].Priority > now {
			q.mu.Unlock()
			return
		}
		e := heap.Pop(&q.heap).(*Element)
		q.mu.Unlock()
		q.callback(e.Value)
	}
}

// Push schedules value for delivery once priority (a UnixNano
// deadline) has passed.
func (q *TimerQueue) Push(priority uint64, value interface{}) {
	q.mu.Lock()
	heap.Push(&q.heap, &Element{Priority: priority, Value: value})
	q.mu.Unlock()
	q.notify()
}

// Peek returns the next entry due to fire without removing it, or nil
// if the queue is empty.
func (q *TimerQueue) Peek() *Element {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.heap) == 0 {
		return nil
	}
	return q.heap[0]
}

// Pop removes and discards the next entry due to fire, if any.
func (q *TimerQueue) Pop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.heap) == 0 {
		return
	}
	heap.Pop(&q.heap)
}

// Len reports how many entries are pending.
func (q *TimerQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}
