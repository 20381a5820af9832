package server

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuriy-kovalchuk/yk-ddns/internal/controller"
)

func TestScheduler_RunsUntilCancelled(t *testing.T) {
	runner := &fakeRunner{}
	s := &Scheduler{Runner: runner, Interval: 5 * time.Millisecond, Log: logr.Discard()}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool { return len(runner.calls()) >= 3 }, 2*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}

	for _, req := range runner.calls() {
		assert.Equal(t, controller.TriggerScheduled, req.Trigger)
		assert.Nil(t, req.Config, "scheduled runs load their own config")
	}
}

func TestScheduler_Disabled(t *testing.T) {
	runner := &fakeRunner{}
	s := &Scheduler{Runner: runner, Log: logr.Discard()}

	require.NoError(t, s.Start(context.Background()))
	assert.Empty(t, runner.calls())
}
