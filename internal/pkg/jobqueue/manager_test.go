package jobqueue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_RunsTasksOnInterval(t *testing.T) {
	var runs atomic.Int32
	m := NewManager(nil, nil, Task{
		Name:     "sequences",
		Interval: 10 * time.Millisecond,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	m.Start()
	assert.True(t, m.IsRunning())
	require.True(t, waitFor(func() bool { return runs.Load() >= 2 }, 2*time.Second))
	m.Stop()
	assert.False(t, m.IsRunning())

	stopped := runs.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stopped, runs.Load(), "no runs after stop")
}

func TestManager_TaskErrorsKeepLoopAlive(t *testing.T) {
	var runs atomic.Int32
	m := NewManager(nil, nil, Task{
		Name:     "intake",
		Interval: 10 * time.Millisecond,
		Run: func(context.Context) error {
			runs.Add(1)
			return errors.New("db down")
		},
	})

	m.Start()
	defer m.Stop()
	assert.True(t, waitFor(func() bool { return runs.Load() >= 3 }, 2*time.Second))
}

func TestManager_StopWithoutStart(t *testing.T) {
	m := NewManager(nil, nil)
	assert.False(t, m.IsRunning())
	m.Stop()
	assert.False(t, m.IsRunning())
}

func TestManager_Restart(t *testing.T) {
	var runs atomic.Int32
	m := NewManager(nil, nil, Task{Name: "expiry", Interval: 10 * time.Millisecond, Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}})

	m.Start()
	m.Stop()
	before := runs.Load()
	m.Start()
	defer m.Stop()
	assert.True(t, waitFor(func() bool { return runs.Load() > before }, 2*time.Second))
}

func TestManager_RunOnce(t *testing.T) {
	called := false
	m := NewManager(nil, nil, Task{Name: "expiry", Interval: time.Hour, Run: func(context.Context) error {
		called = true
		return nil
	}})

	require.NoError(t, m.RunOnce(context.Background(), "expiry"))
	assert.True(t, called)
	assert.Error(t, m.RunOnce(context.Background(), "missing"))
	assert.Nil(t, m.GetQueue())
}

func TestManager_LockAllowsOneHolder(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedJobQueueTestRedisDB)

	block := make(chan struct{})
	entered := make(chan struct{})
	var runs atomic.Int32
	task := Task{Name: "sequences", Interval: time.Minute, Run: func(context.Context) error {
		runs.Add(1)
		close(entered)
		<-block
		return nil
	}}
	a := NewManager(nil, client, task)
	b := NewManager(nil, client, task)

	done := make(chan error, 1)
	go func() { done <- a.RunOnce(context.Background(), "sequences") }()
	<-entered

	require.NoError(t, b.RunOnce(context.Background(), "sequences"))
	assert.Equal(t, int32(1), runs.Load(), "second instance must skip while the lock is held")

	close(block)
	require.NoError(t, <-done)
}
