package runner

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingTask struct {
	runs     int32
	schedule string
	block    chan struct{}
}

func (t *countingTask) Name() string           { return "counting" }
func (t *countingTask) Schedule() string       { return t.schedule }
func (t *countingTask) Timeout() time.Duration { return time.Second }

func (t *countingTask) Run(ctx context.Context) error {
	atomic.AddInt32(&t.runs, 1)
	if t.block != nil {
		select {
		case <-t.block:
		case <-ctx.Done():
		}
	}
	return nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	registry := NewTaskRegistry()
	task := &countingTask{schedule: "@hourly"}
	registry.Register(task)

	got, ok := registry.Get("counting")
	require.True(t, ok)
	require.Equal(t, task, got)
	require.Len(t, registry.All(), 1)
}

func TestRunnerExecutesScheduledTask(t *testing.T) {
	registry := NewTaskRegistry()
	task := &countingTask{schedule: "* * * * * *"} // every second
	registry.Register(task)

	runner := NewRunner(registry)
	require.NoError(t, runner.Start(context.Background()))
	defer runner.Stop()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&task.runs) >= 1
	}, 3*time.Second, 50*time.Millisecond)
}

func TestRunnerRejectsBadSchedule(t *testing.T) {
	registry := NewTaskRegistry()
	registry.Register(&countingTask{schedule: "not a schedule"})

	runner := NewRunner(registry)
	require.Error(t, runner.Start(context.Background()))
}

func TestRunnerSkipsOverlappingRuns(t *testing.T) {
	registry := NewTaskRegistry()
	task := &countingTask{schedule: "* * * * * *", block: make(chan struct{})}
	registry.Register(task)

	runner := NewRunner(registry)
	require.NoError(t, runner.Start(context.Background()))

	// The first run blocks; later ticks must be dropped, not queued.
	time.Sleep(2500 * time.Millisecond)
	close(task.block)
	runner.Stop()

	require.LessOrEqual(t, atomic.LoadInt32(&task.runs), int32(2))
}
