// Package sched implements the M:N concurrency runtime: a fixed pool of
// worker threads draining a shared FIFO task queue, plus the timer and cron
// threads that dispatch callbacks into the pool.
package sched

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/kahflane/naml/runtime/value"
)

// TaskFn is the entry point of a scheduled task; it receives the captured
// data handle (null for captureless tasks).
type TaskFn func(data value.Word)

// Task is the run-to-completion unit of work: a function and its captured
// data.
type Task struct {
	Fn   TaskFn
	Data value.Word
}

// Config is the runtime configuration read from the environment.
type Config struct {
	// Workers is the worker pool size; 0 means available parallelism.
	Workers int `env:"NAML_WORKERS"`
	// MaxStackDepth bounds the in-process call stack depth.
	MaxStackDepth int `env:"NAML_MAX_STACK_DEPTH" envDefault:"10000"`
	// ShadowStack is read from NAML_SHADOW_STACK; nothing consults it, and
	// shadow stack frames are recorded whatever its value.
	ShadowStack bool `env:"NAML_SHADOW_STACK" envDefault:"true"`
}

// ConfigFromEnv reads the runtime configuration from the environment,
// falling back to defaults on parse errors.
func ConfigFromEnv() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		cfg = Config{MaxStackDepth: 10000, ShadowStack: true}
	}
	return cfg
}

// queue is the globally-shared FIFO task queue, guarded by a mutex and a
// condition variable. Pop blocks while the queue is empty and the
// scheduler is running.
type queue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	tasks    []Task
	shutdown bool
}

func newQueue() *queue {
	q := &queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *queue) push(t Task) {
	q.mu.Lock()
	q.tasks = append(q.tasks, t)
	q.mu.Unlock()
	q.cond.Signal()
}

func (q *queue) pop() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.tasks) == 0 && !q.shutdown {
		q.cond.Wait()
	}
	if len(q.tasks) == 0 {
		return Task{}, false
	}
	t := q.tasks[0]
	q.tasks = q.tasks[1:]
	return t, true
}

func (q *queue) close() {
	q.mu.Lock()
	q.shutdown = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Scheduler multiplexes tasks onto a fixed pool of worker threads. Tasks
// observe FIFO submission order but no execution ordering between
// workers; writes made before Spawn happen before the task body through
// the queue mutex. There is no task cancellation: a task runs to
// completion or not at all (scheduler already shut down).
type Scheduler struct {
	queue   *queue
	active  atomic.Int64
	workers int
	wg      sync.WaitGroup
}

// New starts a scheduler with the provided worker count; 0 means available
// parallelism.
func New(workers int) *Scheduler {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	s := &Scheduler{queue: newQueue(), workers: workers}
	s.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go s.worker()
	}
	return s
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		t, ok := s.queue.pop()
		if !ok {
			return
		}
		t.Fn(t.Data)
		s.active.Add(-1)
	}
}

// Spawn enqueues a task. The active counter is bumped before the push so
// WaitAll started concurrently cannot miss it.
func (s *Scheduler) Spawn(fn TaskFn, data value.Word) {
	s.active.Add(1)
	s.queue.push(Task{Fn: fn, Data: data})
}

// Active returns the number of spawned tasks not yet completed.
func (s *Scheduler) Active() int64 { return s.active.Load() }

// WaitAll blocks until every spawned task has completed.
func (s *Scheduler) WaitAll() {
	for s.active.Load() > 0 {
		runtime.Gosched()
	}
}

// Workers returns the pool size.
func (s *Scheduler) Workers() int { return s.workers }

// Shutdown closes the queue and waits for the workers to exit. Workers keep
// running queued tasks until the queue is empty; a task spawned after
// Shutdown returns never runs. It is called at process teardown.
func (s *Scheduler) Shutdown() {
	s.queue.close()
	s.wg.Wait()
}

// Sleep blocks the calling worker for the provided number of
// milliseconds.
func Sleep(ms int64) {
	time.Sleep(time.Duration(ms) * time.Millisecond)
}
