package session

import (
	"context"
	"sync"
	"time"

	"github.com/mixer/clock"
)

// Task runs fn repeatedly with a fixed delay between the end of one run and
// the start of the next. Stop prevents further runs but never interrupts a
// run that is already executing.
type Task struct {
	clock    clock.Clock
	interval time.Duration
	fn       func(ctx context.Context)

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func NewTask(c clock.Clock, interval time.Duration, fn func(ctx context.Context)) *Task {
	if c == nil {
		c = clock.C
	}
	return &Task{
		clock:    c,
		interval: interval,
		fn:       fn,
	}
}

// Start schedules the first run one interval from now. It returns false when
// the task is already running.
func (t *Task) Start(ctx context.Context) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stop != nil {
		return false
	}

	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	go t.run(ctx, t.stop, t.done)
	return true
}

func (t *Task) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-t.clock.After(t.Interval()):
		}

		select {
		case <-stop:
			return
		default:
		}

		t.fn(context.WithoutCancel(ctx))
	}
}

// Stop returns a channel closed once the loop has exited, including any
// run that was in flight when Stop was called.
func (t *Task) Stop() <-chan struct{} {
	t.mu.Lock()
	stop, done := t.stop, t.done
	t.stop, t.done = nil, nil
	t.mu.Unlock()

	if stop == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}

	close(stop)
	return done
}

func (t *Task) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interval
}

// SetInterval changes the delay used from the next wait on.
func (t *Task) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.interval = d
}

func (t *Task) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stop != nil
}
