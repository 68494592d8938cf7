package app

import (
	"context"
	"time"
)

// sessionPurger deletes expired and long-revoked session records.
type sessionPurger interface {
	PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// attemptPurger deletes stale failure counters.
type attemptPurger interface {
	PurgeStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper periodically purges expired sessions and stale rate limit
// counters so the tables do not grow without bound.
type Sweeper struct {
	log      Logger
	sessions sessionPurger
	attempts attemptPurger
	interval time.Duration

	// retain keeps revoked session rows around for incident review
	// before they are deleted.
	retain time.Duration
}

// NewSweeper builds a Sweeper. A nil purger disables that half of the sweep.
func NewSweeper(log Logger, sessions sessionPurger, attempts attemptPurger, interval time.Duration) *Sweeper {
	return &Sweeper{
		log:      log,
		sessions: sessions,
		attempts: attempts,
		interval: interval,
		retain:   30 * 24 * time.Hour,
	}
}

// Run blocks until ctx is cancelled, sweeping at the configured interval.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}

	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	now := time.Now().UTC()

	if s.sessions != nil {
		n, err := s.sessions.PurgeExpired(ctx, now.Add(-s.retain))
		if err != nil {
			s.log.Error("sweep.sessions.fail", "err", err)
		} else if n > 0 {
			s.log.Info("sweep.sessions", "purged", n)
		}
	}

	if s.attempts != nil {
		n, err := s.attempts.PurgeStale(ctx, now)
		if err != nil {
			s.log.Error("sweep.attempts.fail", "err", err)
		} else if n > 0 {
			s.log.Info("sweep.attempts", "purged", n)
		}
	}
}
