package runloop

import "time"

type manualEntry struct {
	task      *Task
	fn        func()
	repeating bool
}

// Manual is a Scheduler for tests: nothing fires until Tick is called,
// and durations are ignored. Callbacks run inline on the caller's
// goroutine, matching the single-sequence model.
type Manual struct {
	pending []manualEntry
}

func NewManual() *Manual {
	return &Manual{}
}

func (m *Manual) NextTick(fn func()) *Task {
	return m.add(fn, false)
}

func (m *Manual) After(d time.Duration, fn func()) *Task {
	return m.add(fn, false)
}

func (m *Manual) Every(d time.Duration, fn func()) *Task {
	return m.add(fn, true)
}

func (m *Manual) add(fn func(), repeating bool) *Task {
	t := &Task{}
	m.pending = append(m.pending, manualEntry{task: t, fn: fn, repeating: repeating})
	return t
}

// Tick fires everything currently scheduled, once each. Repeating tasks
// are rescheduled for the next Tick; tasks scheduled during a Tick fire
// on the following one.
func (m *Manual) Tick() {
	due := m.pending
	m.pending = nil
	for _, e := range due {
		if e.task.Stopped() {
			continue
		}
		if e.repeating {
			m.pending = append(m.pending, e)
		}
		e.fn()
	}
}

// PendingCount reports how many live tasks are waiting for the next Tick.
func (m *Manual) PendingCount() int {
	n := 0
	for _, e := range m.pending {
		if !e.task.Stopped() {
			n++
		}
	}
	return n
}
