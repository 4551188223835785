package schedule

import (
	"log/slog"
	"sync"
	"time"
)

// Task runs a function at a fixed interval on its own goroutine.
// Cancel stops it; a nil *Task is a valid, already-cancelled task.
type Task struct {
	name   string
	stopCh chan struct{}
	done   chan struct{}
	once   sync.Once
}

// Every starts a task that calls fn once per interval until cancelled.
// The first call happens one interval after Every returns.
func Every(clock Clock, name string, interval time.Duration, fn func()) *Task {
	t := &Task{
		name:   name,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	ticker := clock.NewTicker(interval)
	go t.run(ticker, fn)
	return t
}

func (t *Task) run(ticker Ticker, fn func()) {
	defer close(t.done)
	defer ticker.Stop()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in scheduled task", "task", t.name, "panic", r)
		}
	}()

	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C():
			// A tick and a cancel can be ready together; cancel wins.
			select {
			case <-t.stopCh:
				return
			default:
			}
			fn()
		}
	}
}

// Cancel stops the task and waits for its goroutine to exit. After Cancel
// returns, fn is not running and will not be called again. Cancel is
// idempotent and must not be called from inside fn.
func (t *Task) Cancel() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		close(t.stopCh)
	})
	<-t.done
}

// Active reports whether the task is still running.
func (t *Task) Active() bool {
	if t == nil {
		return false
	}
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}
