package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingRunner struct {
	mu       sync.Mutex
	triggers []Trigger
}

func (c *countingRunner) Run(_ context.Context, trigger Trigger) (*Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.triggers = append(c.triggers, trigger)
	return &Report{}, nil
}

func (c *countingRunner) Wait() {}

func (c *countingRunner) count(trigger Trigger) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.triggers {
		if t == trigger {
			n++
		}
	}
	return n
}

func TestSchedulerRunsImmediatelyAndOnInterval(t *testing.T) {
	runner := &countingRunner{}
	s := NewScheduler(runner, time.Second, quiet)
	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool { return runner.count(TriggerScheduled) >= 1 }, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return runner.count(TriggerScheduled) >= 2 }, 3*time.Second, 20*time.Millisecond)
}

func TestSchedulerTriggerNowResetsCountdown(t *testing.T) {
	runner := &countingRunner{}
	s := NewScheduler(runner, time.Hour, quiet)
	require.True(t, s.NextRun().IsZero())

	s.Start(context.Background())
	defer s.Stop()

	var before time.Time
	require.Eventually(t, func() bool {
		before = s.NextRun()
		return !before.IsZero()
	}, time.Second, 10*time.Millisecond)

	time.Sleep(1100 * time.Millisecond)
	_, err := s.TriggerNow(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, runner.count(TriggerManual))

	var after time.Time
	require.Eventually(t, func() bool {
		after = s.NextRun()
		return after.After(before)
	}, time.Second, 10*time.Millisecond)
	require.WithinDuration(t, time.Now().Add(time.Hour), after, 2*time.Second)
}

func TestSchedulerSkipsAfterContextDone(t *testing.T) {
	runner := &countingRunner{}
	s := NewScheduler(runner, time.Hour, quiet)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s.Start(ctx)
	defer s.Stop()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, runner.count(TriggerScheduled))
}

type blockingRunner struct {
	started  chan struct{}
	release  chan struct{}
	finished atomic.Bool
}

func (b *blockingRunner) Run(context.Context, Trigger) (*Report, error) {
	close(b.started)
	<-b.release
	b.finished.Store(true)
	return &Report{}, nil
}

func (b *blockingRunner) Wait() {}

func TestSchedulerStopWaitsForFirstCycle(t *testing.T) {
	runner := &blockingRunner{started: make(chan struct{}), release: make(chan struct{})}
	s := NewScheduler(runner, time.Hour, quiet)
	s.Start(context.Background())
	<-runner.started

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while the first cycle was still running")
	case <-time.After(100 * time.Millisecond):
	}

	close(runner.release)
	<-stopped
	require.True(t, runner.finished.Load())
}
