// Package runloop provides the single event-processing sequence the
// session controllers run on. Command completions, feed pushes, and timer
// fires all resolve onto one goroutine, so controller state never needs a
// lock.
package runloop

import (
	"context"
	"sync/atomic"
	"time"
)

// Task is a scheduled callback that can be stopped before it fires.
// Stopping an already-fired or already-stopped task is a no-op.
type Task struct {
	stopped atomic.Bool
	cancel  func()
}

// Stop prevents any future fire of the task.
func (t *Task) Stop() {
	if t == nil {
		return
	}
	if t.stopped.CompareAndSwap(false, true) && t.cancel != nil {
		t.cancel()
	}
}

// Stopped reports whether Stop has been called.
func (t *Task) Stopped() bool {
	return t != nil && t.stopped.Load()
}

// Scheduler hands out cancellable timer tasks whose callbacks run on the
// owning loop.
type Scheduler interface {
	// NextTick runs fn on the next pass through the loop.
	NextTick(fn func()) *Task
	// After runs fn once after d.
	After(d time.Duration, fn func()) *Task
	// Every runs fn repeatedly with period d, first fire after d.
	Every(d time.Duration, fn func()) *Task
}

// Loop is a single goroutine draining posted callbacks in order.
type Loop struct {
	inbox  chan func()
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func New(parent context.Context) *Loop {
	ctx, cancel := context.WithCancel(parent)
	l := &Loop{
		inbox:  make(chan func(), 256),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		select {
		case <-l.ctx.Done():
			return
		case fn := <-l.inbox:
			fn()
		}
	}
}

// Post queues fn for execution on the loop goroutine. Posts after
// shutdown are dropped.
func (l *Loop) Post(fn func()) {
	select {
	case l.inbox <- fn:
	case <-l.ctx.Done():
	}
}

// Shutdown stops the loop and waits for the goroutine to exit. Callbacks
// still queued are discarded.
func (l *Loop) Shutdown() {
	l.cancel()
	<-l.done
}

// NextTick implements Scheduler.
func (l *Loop) NextTick(fn func()) *Task {
	t := &Task{}
	l.Post(func() {
		if !t.Stopped() {
			fn()
		}
	})
	return t
}

// After implements Scheduler.
func (l *Loop) After(d time.Duration, fn func()) *Task {
	t := &Task{}
	timer := time.AfterFunc(d, func() {
		l.Post(func() {
			if !t.Stopped() {
				fn()
			}
		})
	})
	t.cancel = func() { timer.Stop() }
	return t
}

// Every implements Scheduler.
func (l *Loop) Every(d time.Duration, fn func()) *Task {
	t := &Task{}
	ticker := time.NewTicker(d)
	go func() {
		for {
			select {
			case <-ticker.C:
				l.Post(func() {
					if !t.Stopped() {
						fn()
					}
				})
			case <-l.ctx.Done():
				ticker.Stop()
				return
			}
		}
	}()
	t.cancel = func() { ticker.Stop() }
	return t
}
