package sandboxmgr

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// ExpirySweeper periodically marks sandboxes idle past MaxIdleTime as
// expired, using a robfig/cron entry at ExpiryInterval cadence rather than a
// bare ticker so the interval can later grow into a real cron expression
// without changing callers.
type ExpirySweeper struct {
	mgr         *Manager
	maxIdleTime time.Duration
	interval    time.Duration
	logger      *slog.Logger

	cron *cron.Cron
}

// NewExpirySweeper builds a sweeper bound to mgr that marks sandboxes idle
// past maxIdleTime as expired every interval.
func NewExpirySweeper(mgr *Manager, maxIdleTime, interval time.Duration, logger *slog.Logger) *ExpirySweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	c := cron.New(cron.WithParser(cron.NewParser(
		cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
	)))
	return &ExpirySweeper{
		mgr:         mgr,
		maxIdleTime: maxIdleTime,
		interval:    interval,
		logger:      logger,
		cron:        c,
	}
}

// intervalSpec renders a fixed duration as a "@every" cron descriptor.
func intervalSpec(d time.Duration) string {
	return fmt.Sprintf("@every %s", d.String())
}

// Start schedules the sweep and begins running it in the background. Stop
// must be called to release the underlying cron goroutine.
func (s *ExpirySweeper) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(intervalSpec(s.interval), func() {
		s.sweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("sandboxmgr: schedule expiry sweep: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop halts the sweep, waiting for any in-flight run to finish.
func (s *ExpirySweeper) Stop() {
	<-s.cron.Stop().Done()
}

// sweep marks every project idle past maxIdleTime as expired. A single
// project's failure never aborts the rest of the pass.
func (s *ExpirySweeper) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.maxIdleTime)
	idle := s.mgr.IdleProjects(cutoff)
	for _, projectID := range idle {
		if err := s.mgr.MarkExpired(ctx, projectID); err != nil {
			s.logger.Error("expiry sweep: mark expired failed", "project_id", projectID, "error", err)
			continue
		}
		s.logger.Info("expiry sweep: marked sandbox expired", "project_id", projectID)
	}
}
