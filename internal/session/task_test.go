package session

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mixer/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskStartIsIdempotent(t *testing.T) {
	var runs atomic.Int32
	task := NewTask(clock.NewMockClock(), time.Second, func(context.Context) { runs.Add(1) })

	require.True(t, task.Start(context.Background()))
	assert.False(t, task.Start(context.Background()))
	assert.True(t, task.Running())

	<-task.Stop()
	assert.False(t, task.Running())
	assert.Zero(t, runs.Load())
}

func TestTaskStopWhenIdle(t *testing.T) {
	task := NewTask(nil, time.Second, func(context.Context) {})

	select {
	case <-task.Stop():
	case <-time.After(time.Second):
		t.Fatal("stop on idle task did not return a closed channel")
	}
}

func TestTaskFixedDelay(t *testing.T) {
	mc := clock.NewMockClock()
	var runs atomic.Int32
	task := NewTask(mc, time.Second, func(context.Context) { runs.Add(1) })

	task.Start(context.Background())
	require.Eventually(t, func() bool {
		mc.AddTime(time.Second)
		return runs.Load() >= 3
	}, time.Second, 5*time.Millisecond)

	<-task.Stop()
	n := runs.Load()
	mc.AddTime(10 * time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, n, runs.Load())
}

func TestTaskRestart(t *testing.T) {
	mc := clock.NewMockClock()
	var runs atomic.Int32
	task := NewTask(mc, time.Second, func(context.Context) { runs.Add(1) })

	task.Start(context.Background())
	<-task.Stop()
	require.True(t, task.Start(context.Background()))

	require.Eventually(t, func() bool {
		mc.AddTime(time.Second)
		return runs.Load() >= 1
	}, time.Second, 5*time.Millisecond)
	<-task.Stop()
}

func TestTaskStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	task := NewTask(clock.NewMockClock(), time.Second, func(context.Context) {})

	task.Start(ctx)
	cancel()

	done := task.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not exit")
	}
}

func TestTaskSetInterval(t *testing.T) {
	task := NewTask(clock.NewMockClock(), time.Second, func(context.Context) {})

	task.SetInterval(0)
	assert.Equal(t, time.Second, task.Interval())

	task.SetInterval(3 * time.Second)
	assert.Equal(t, 3*time.Second, task.Interval())
}
