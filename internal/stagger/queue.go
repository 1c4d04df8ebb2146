// Package stagger implements a delay queue that runs tasks at increasing
// offsets, spacing out bursts of connections to remote networks.
package stagger

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Task is a unit of deferred work. The context is the one passed to Run.
type Task func(ctx context.Context)

// Policy describes a linear stagger: the i-th task fires Initial + i*Step
// after scheduling.
type Policy struct {
	Initial time.Duration
	Step    time.Duration
}

// Delay returns the delay of the i-th task (zero based).
func (p Policy) Delay(i int) time.Duration {
	return p.Initial + time.Duration(i)*p.Step
}

// Queue is a delay queue backed by a priority queue of fire times.
// Tasks run one at a time on the goroutine calling Run, ordered by fire time
// and then by scheduling order.
type Queue struct {
	clock  clockwork.Clock
	logger *slog.Logger

	mu    sync.Mutex
	items itemHeap
	seq   uint64
	wake  chan struct{}
}

// Handle refers to a scheduled task.
type Handle struct {
	q    *Queue
	item *item
}

type item struct {
	at       time.Time
	seq      uint64
	name     string
	task     Task
	onCancel func()
	index    int
}

// New creates a queue using clock for time. A nil logger discards output.
func New(clock clockwork.Clock, logger *slog.Logger) *Queue {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Queue{
		clock:  clock,
		logger: logger.With("component", "stagger"),
		wake:   make(chan struct{}, 1),
	}
}

// Schedule registers task to run after delay. The returned handle can
// cancel the task until it starts.
func (q *Queue) Schedule(delay time.Duration, name string, task Task) *Handle {
	return q.ScheduleWithCancel(delay, name, task, nil)
}

// ScheduleWithCancel is Schedule with a callback invoked when the task is
// cancelled before it runs.
func (q *Queue) ScheduleWithCancel(delay time.Duration, name string, task Task, onCancel func()) *Handle {
	q.mu.Lock()
	q.seq++
	it := &item{
		at:       q.clock.Now().Add(delay),
		seq:      q.seq,
		name:     name,
		task:     task,
		onCancel: onCancel,
	}
	heap.Push(&q.items, it)
	q.mu.Unlock()

	q.logger.Debug("Task scheduled", "task", name, "delay", delay)
	q.notify()
	return &Handle{q: q, item: it}
}

// Cancel removes the task from the queue. It reports false if the task has
// already started or was cancelled before.
func (h *Handle) Cancel() bool {
	q := h.q
	q.mu.Lock()
	if h.item.index < 0 {
		q.mu.Unlock()
		return false
	}
	heap.Remove(&q.items, h.item.index)
	onCancel := h.item.onCancel
	q.mu.Unlock()

	q.logger.Debug("Task cancelled", "task", h.item.name)
	if onCancel != nil {
		onCancel()
	}
	q.notify()
	return true
}

// FireAt returns the time the task is due.
func (h *Handle) FireAt() time.Time {
	return h.item.at
}

// Len returns the number of tasks waiting to run.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Run executes due tasks until ctx is cancelled. Tasks still queued at that
// point stay queued and can be cancelled through their handles.
func (q *Queue) Run(ctx context.Context) error {
	q.logger.Info("Stagger queue started")
	defer q.logger.Info("Stagger queue stopped")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-q.wake:
			}
			continue
		}

		next := q.items[0]
		wait := next.at.Sub(q.clock.Now())
		if wait <= 0 {
			heap.Pop(&q.items)
			q.mu.Unlock()
			q.runTask(ctx, next)
			continue
		}
		q.mu.Unlock()

		timer := q.clock.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-q.wake:
			timer.Stop()
		case <-timer.Chan():
		}
	}
}

func (q *Queue) runTask(ctx context.Context, it *item) {
	startTime := q.clock.Now()
	q.logger.Debug("Running task", "task", it.name)
	it.task(ctx)
	q.logger.Debug("Finished task", "task", it.name, "duration", q.clock.Since(startTime))
}

func (q *Queue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// itemHeap orders items by fire time, then by scheduling sequence.
type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}
