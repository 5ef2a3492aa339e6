// Package jobs runs periodic housekeeping.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/weiawesome/wes-totp-chat/pkg/log"
)

// Reaper is the part of the AI session service the scheduler drives.
type Reaper interface {
	ReapIdle(ctx context.Context) (int, error)
}

// Scheduler runs the idle session reaper on a cron spec. A run that is still
// going when the next one is due is skipped.
type Scheduler struct {
	cron   *cron.Cron
	reaper Reaper
	spec   string
}

// NewScheduler validates spec and registers the reaper job. The schedule
// starts with Run.
func NewScheduler(spec string, reaper Reaper) (*Scheduler, error) {
	if spec == "" {
		spec = "@every 10m"
	}
	s := &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		reaper: reaper,
		spec:   spec,
	}
	if _, err := s.cron.AddFunc(spec, func() { s.RunOnce(context.Background()) }); err != nil {
		return nil, err
	}
	return s, nil
}

// Run starts the schedule and blocks until ctx is done. It waits for a
// running job before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	l := log.L()
	l.Info().Str("schedule", s.spec).Msg("ai session reaper started")

	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()

	l.Info().Msg("ai session reaper stopped")
	return nil
}

// RunOnce reaps idle sessions now.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	l := log.L()
	ctx = log.WithLogger(ctx, l)

	n, err := s.reaper.ReapIdle(ctx)
	if err != nil {
		l.Error().Err(err).Msg("failed to reap idle ai sessions")
		return 0
	}
	if n > 0 {
		l.Info().Int("count", n).Msg("idle ai sessions closed")
	}
	return n
}
