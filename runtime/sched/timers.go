package sched

import (
	"sort"
	"sync"
	"time"

	"github.com/kahflane/naml/runtime/value"
)

// timer is one pending one-shot or interval timer.
type timer struct {
	id       int64
	fireAt   time.Time
	interval time.Duration // 0 for one-shot
	fn       TaskFn
	data     value.Word
	free     func(value.Word) // releases the capture data when cancelled
}

// Timers is the dedicated timer thread: it keeps the pending timers sorted
// by fire time, sleeps until the next deadline, and dispatches expired
// callbacks into the scheduler. One-shot timeouts move their capture data
// into the dispatched task; intervals copy it before each dispatch and
// re-arm at now + interval.
type Timers struct {
	sched *Scheduler

	mu        sync.Mutex
	cond      *sync.Cond
	pending   []*timer
	cancelled map[int64]bool
	nextID    int64
	shutdown  bool
	copyData  func(value.Word) value.Word
}

// NewTimers starts the timer thread dispatching into s. copyData clones
// interval capture data before each dispatch (nil when capture data needs
// no cloning). The free function given to SetTimeout or SetInterval
// releases the capture data of a cancelled timer.
func NewTimers(s *Scheduler, copyData func(value.Word) value.Word) *Timers {
	t := &Timers{
		sched:     s,
		cancelled: make(map[int64]bool),
		copyData:  copyData,
	}
	t.cond = sync.NewCond(&t.mu)
	go t.loop()
	return t
}

// SetTimeout schedules fn to run once after ms milliseconds, returning the
// timer id. free releases the capture data if the timer is cancelled
// before it fires.
func (t *Timers) SetTimeout(fn TaskFn, data value.Word, ms int64, free func(value.Word)) int64 {
	return t.add(fn, data, ms, 0, free)
}

// SetInterval schedules fn to run every ms milliseconds until cancelled.
func (t *Timers) SetInterval(fn TaskFn, data value.Word, ms int64, free func(value.Word)) int64 {
	return t.add(fn, data, ms, time.Duration(ms)*time.Millisecond, free)
}

func (t *Timers) add(fn TaskFn, data value.Word, ms int64, interval time.Duration, free func(value.Word)) int64 {
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.pending = append(t.pending, &timer{
		id:       id,
		fireAt:   time.Now().Add(time.Duration(ms) * time.Millisecond),
		interval: interval,
		fn:       fn,
		data:     data,
		free:     free,
	})
	sort.Slice(t.pending, func(i, j int) bool {
		return t.pending[i].fireAt.Before(t.pending[j].fireAt)
	})
	t.mu.Unlock()
	t.cond.Signal()
	return id
}

// Cancel marks a timer id as cancelled; the timer thread drops it on the
// next drain and frees its capture data. Cancelling an already-fired
// one-shot is a no-op.
func (t *Timers) Cancel(id int64) {
	t.mu.Lock()
	t.cancelled[id] = true
	t.mu.Unlock()
	t.cond.Signal()
}

// Shutdown stops the timer thread.
func (t *Timers) Shutdown() {
	t.mu.Lock()
	t.shutdown = true
	t.mu.Unlock()
	t.cond.Broadcast()
}

func (t *Timers) loop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for !t.shutdown {
		t.drainCancelled()

		if len(t.pending) == 0 {
			t.cond.Wait()
			continue
		}

		now := time.Now()
		next := t.pending[0]
		if next.fireAt.After(now) {
			t.waitTimeout(next.fireAt.Sub(now))
			continue
		}

		// dispatch every expired timer
		for len(t.pending) > 0 && !t.pending[0].fireAt.After(now) {
			tm := t.pending[0]
			t.pending = t.pending[1:]
			if t.cancelled[tm.id] {
				delete(t.cancelled, tm.id)
				if tm.free != nil {
					tm.free(tm.data)
				}
				continue
			}
			if tm.interval > 0 {
				data := tm.data
				if t.copyData != nil {
					data = t.copyData(tm.data)
				}
				t.sched.Spawn(tm.fn, data)
				tm.fireAt = now.Add(tm.interval)
				t.pending = append(t.pending, tm)
			} else {
				// one-shot: the task takes ownership of the data
				t.sched.Spawn(tm.fn, tm.data)
			}
		}
		sort.Slice(t.pending, func(i, j int) bool {
			return t.pending[i].fireAt.Before(t.pending[j].fireAt)
		})
	}
}

func (t *Timers) drainCancelled() {
	kept := t.pending[:0]
	for _, tm := range t.pending {
		if t.cancelled[tm.id] {
			delete(t.cancelled, tm.id)
			if tm.free != nil {
				tm.free(tm.data)
			}
			continue
		}
		kept = append(kept, tm)
	}
	t.pending = kept
}

// waitTimeout waits on the condition variable with a deadline, releasing
// the mutex while parked. sync.Cond has no timed wait, so the deadline is
// delivered by a helper timer signalling the condition.
func (t *Timers) waitTimeout(d time.Duration) {
	stop := time.AfterFunc(d, func() { t.cond.Signal() })
	t.cond.Wait()
	stop.Stop()
}
