package refresh

import (
	"context"
	"time"

	"github.com/pders01/newsync/internal/debuglog"
)

// DefaultInterval is the delay between attempts when none is configured.
const DefaultInterval = time.Hour

// Attempter is what the Scheduler drives. *Reconciler implements it.
type Attempter interface {
	RefreshOnce(ctx context.Context) Status
}

// Scheduler runs attempts back to back: one immediately, then one after each
// delay. The delay is measured from the end of an attempt to the start of
// the next, so attempts never overlap and a slow fetch pushes the schedule
// back instead of piling up.
type Scheduler struct {
	attempter Attempter
	policy    BackoffPolicy
	trigger   chan struct{}
	log       *debuglog.FieldLogger
}

// NewScheduler returns a Scheduler. A nil policy means FixedDelay of
// DefaultInterval.
func NewScheduler(a Attempter, policy BackoffPolicy) *Scheduler {
	if policy == nil {
		policy = FixedDelay(DefaultInterval)
	}
	return &Scheduler{
		attempter: a,
		policy:    policy,
		trigger:   make(chan struct{}, 1),
		log:       debuglog.WithFields(map[string]any{"component": "scheduler"}),
	}
}

// Trigger asks for an attempt now. A request made while an attempt is in
// flight runs as soon as that attempt ends. Requests coalesce: any number of
// triggers before the next attempt yields one attempt. A request made while
// the Scheduler is not running is served by the first attempt of the next Run.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run drives attempts until ctx is done. It blocks.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Infof("scheduler started")
	defer s.log.Infof("scheduler stopped")

	// the immediate first attempt serves any request pending from before Run
	select {
	case <-s.trigger:
	default:
	}

	for {
		if ctx.Err() != nil {
			return
		}

		status := s.attempter.RefreshOnce(ctx)

		if ctx.Err() != nil {
			return
		}

		delay := s.policy.Next(status)
		s.log.With("delay", delay).Debugf("next attempt scheduled")

		if !s.wait(ctx, delay) {
			return
		}
	}
}

// wait returns false once ctx is done.
func (s *Scheduler) wait(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	case <-s.trigger:
		s.log.Debugf("refresh requested")
		return true
	}
}
