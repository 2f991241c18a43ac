package sched

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/kahflane/naml/runtime/value"
)

// cronEntry caches one scheduled job: its parsed cron expression and the
// next fire timestamp.
type cronEntry struct {
	id      int64
	spec    cron.Schedule
	nextRun time.Time
	fn      TaskFn
	data    value.Word
}

// Cron is the dedicated cron thread: it maintains the scheduled entries,
// waits until the earliest next-fire time, dispatches expired entries into
// the scheduler (copying the capture data), and recomputes their next
// fire.
type Cron struct {
	sched *Scheduler

	mu       sync.Mutex
	cond     *sync.Cond
	entries  map[int64]*cronEntry
	nextID   int64
	shutdown bool
	copyData func(value.Word) value.Word
	parser   cron.Parser
}

// NewCron starts the cron thread dispatching into s.
func NewCron(s *Scheduler, copyData func(value.Word) value.Word) *Cron {
	c := &Cron{
		sched:    s,
		entries:  make(map[int64]*cronEntry),
		copyData: copyData,
		parser: cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		),
	}
	c.cond = sync.NewCond(&c.mu)
	go c.loop()
	return c
}

// Schedule registers a job under a cron expression. Invalid expressions
// fail here, at schedule time, never at dispatch.
func (c *Cron) Schedule(expr string, fn TaskFn, data value.Word) (int64, error) {
	spec, err := c.parser.Parse(expr)
	if err != nil {
		return 0, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.entries[id] = &cronEntry{
		id:      id,
		spec:    spec,
		nextRun: spec.Next(time.Now()),
		fn:      fn,
		data:    data,
	}
	c.mu.Unlock()
	c.cond.Signal()
	return id, nil
}

// Cancel removes a scheduled entry before its next dispatch.
func (c *Cron) Cancel(id int64) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
	c.cond.Signal()
}

// NextRun returns the next fire time of an entry in Unix milliseconds,
// and false when the id is unknown.
func (c *Cron) NextRun(id int64) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return 0, false
	}
	return e.nextRun.UnixMilli(), true
}

// Shutdown stops the cron thread.
func (c *Cron) Shutdown() {
	c.mu.Lock()
	c.shutdown = true
	c.mu.Unlock()
	c.cond.Broadcast()
}

func (c *Cron) loop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for !c.shutdown {
		if len(c.entries) == 0 {
			c.cond.Wait()
			continue
		}

		now := time.Now()
		var earliest time.Time
		for _, e := range c.entries {
			if earliest.IsZero() || e.nextRun.Before(earliest) {
				earliest = e.nextRun
			}
		}
		if earliest.After(now) {
			c.waitTimeout(earliest.Sub(now))
			continue
		}

		for _, e := range c.entries {
			if e.nextRun.After(now) {
				continue
			}
			data := e.data
			if c.copyData != nil {
				data = c.copyData(e.data)
			}
			c.sched.Spawn(e.fn, data)
			e.nextRun = e.spec.Next(now)
		}
	}
}

func (c *Cron) waitTimeout(d time.Duration) {
	stop := time.AfterFunc(d, func() { c.cond.Signal() })
	c.cond.Wait()
	stop.Stop()
}
