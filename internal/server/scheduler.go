package server

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/yuriy-kovalchuk/yk-ddns/internal/controller"
)

// Scheduler triggers a run immediately and then every Interval.
type Scheduler struct {
	Runner   Runner
	Interval time.Duration
	Log      logr.Logger
}

// Start blocks until ctx is cancelled. It returns at once when Interval is
// not positive.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.Interval <= 0 {
		s.Log.Info("scheduler disabled")
		return nil
	}
	s.Log.Info("starting scheduler", "interval", s.Interval)
	wait.UntilWithContext(ctx, func(ctx context.Context) {
		// The runner logs and records failures.
		_, _ = s.Runner.Run(ctx, controller.Request{Trigger: controller.TriggerScheduled})
	}, s.Interval)
	s.Log.Info("scheduler stopped")
	return nil
}
