package sched

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kahflane/naml/runtime/value"
)

func TestSpawnRunsAllTasks(t *testing.T) {
	s := New(4)
	defer s.Shutdown()

	var count atomic.Int64
	for i := 0; i < 100; i++ {
		s.Spawn(func(value.Word) { count.Add(1) }, value.Null)
	}
	s.WaitAll()
	require.EqualValues(t, 100, count.Load())
	require.EqualValues(t, 0, s.Active())
}

func TestTaskReceivesData(t *testing.T) {
	s := New(1)
	defer s.Shutdown()

	var got atomic.Int64
	s.Spawn(func(data value.Word) { got.Store(data.Int()) }, value.FromInt(42))
	s.WaitAll()
	require.EqualValues(t, 42, got.Load())
}

func TestSingleWorkerPreservesSubmissionOrder(t *testing.T) {
	s := New(1)
	defer s.Shutdown()

	var mu sync.Mutex
	var order []int64
	for i := int64(0); i < 20; i++ {
		s.Spawn(func(data value.Word) {
			mu.Lock()
			order = append(order, data.Int())
			mu.Unlock()
		}, value.FromInt(i))
	}
	s.WaitAll()

	require.Len(t, order, 20)
	for i, v := range order {
		require.EqualValues(t, i, v)
	}
}

func TestWritesBeforeSpawnHappenBeforeTask(t *testing.T) {
	s := New(4)
	defer s.Shutdown()

	shared := 0
	done := make(chan int)
	shared = 7
	s.Spawn(func(value.Word) { done <- shared }, value.Null)
	require.Equal(t, 7, <-done)
	s.WaitAll()
}

func TestWorkersDefaultsToParallelism(t *testing.T) {
	s := New(0)
	defer s.Shutdown()
	require.Greater(t, s.Workers(), 0)
}

func TestTimersOneShot(t *testing.T) {
	s := New(2)
	defer s.Shutdown()
	tm := NewTimers(s, nil)
	defer tm.Shutdown()

	fired := make(chan struct{})
	tm.SetTimeout(func(value.Word) { close(fired) }, value.Null, 10, nil)

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout never fired")
	}
}

func TestTimersCancelBeforeFire(t *testing.T) {
	s := New(2)
	defer s.Shutdown()
	tm := NewTimers(s, nil)
	defer tm.Shutdown()

	var fired atomic.Bool
	freed := make(chan struct{})
	id := tm.SetTimeout(func(value.Word) { fired.Store(true) }, value.Null, 200,
		func(value.Word) { close(freed) })
	tm.Cancel(id)

	select {
	case <-freed:
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled timer data never freed")
	}
	time.Sleep(300 * time.Millisecond)
	require.False(t, fired.Load())
}

func TestTimersInterval(t *testing.T) {
	s := New(2)
	defer s.Shutdown()
	tm := NewTimers(s, nil)
	defer tm.Shutdown()

	var count atomic.Int64
	id := tm.SetInterval(func(value.Word) { count.Add(1) }, value.Null, 20, nil)

	require.Eventually(t, func() bool { return count.Load() >= 3 },
		3*time.Second, 10*time.Millisecond)
	tm.Cancel(id)
}

func TestCronInvalidExpressionFailsAtScheduleTime(t *testing.T) {
	s := New(1)
	defer s.Shutdown()
	c := NewCron(s, nil)
	defer c.Shutdown()

	_, err := c.Schedule("not a cron", func(value.Word) {}, value.Null)
	require.Error(t, err)
}

func TestCronScheduleAndNextRun(t *testing.T) {
	s := New(1)
	defer s.Shutdown()
	c := NewCron(s, nil)
	defer c.Shutdown()

	id, err := c.Schedule("* * * * *", func(value.Word) {}, value.Null)
	require.NoError(t, err)

	next, ok := c.NextRun(id)
	require.True(t, ok)
	require.Greater(t, next, time.Now().UnixMilli())

	c.Cancel(id)
	_, ok = c.NextRun(id)
	require.False(t, ok)
}

func TestConfigFromEnvDefaults(t *testing.T) {
	cfg := ConfigFromEnv()
	require.Equal(t, 10000, cfg.MaxStackDepth)
	require.True(t, cfg.ShadowStack)
}
