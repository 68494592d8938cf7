package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

type stubSessionPurger struct {
	calls  int
	cutoff time.Time
	err    error
}

func (s *stubSessionPurger) PurgeExpired(_ context.Context, cutoff time.Time) (int64, error) {
	s.calls++
	s.cutoff = cutoff
	return 2, s.err
}

type stubAttemptPurger struct {
	calls int
}

func (s *stubAttemptPurger) PurgeStale(_ context.Context, _ time.Time) (int64, error) {
	s.calls++
	return 1, nil
}

func TestSweeper_SweepCallsBothPurgers(t *testing.T) {
	t.Parallel()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessions := &stubSessionPurger{}
	attempts := &stubAttemptPurger{}

	sw := NewSweeper(log, sessions, attempts, time.Minute)
	sw.sweep(context.Background())

	if sessions.calls != 1 || attempts.calls != 1 {
		t.Fatalf("calls: sessions=%d attempts=%d", sessions.calls, attempts.calls)
	}
	// Revoked rows are retained for a while before deletion.
	if time.Until(sessions.cutoff) > -24*time.Hour {
		t.Fatalf("cutoff %v should be well in the past", sessions.cutoff)
	}
}

func TestSweeper_PurgeErrorDoesNotStopOtherHalf(t *testing.T) {
	t.Parallel()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessions := &stubSessionPurger{err: errors.New("db gone")}
	attempts := &stubAttemptPurger{}

	sw := NewSweeper(log, sessions, attempts, time.Minute)
	sw.sweep(context.Background())

	if attempts.calls != 1 {
		t.Fatalf("attempt purge skipped after session purge error")
	}
}

func TestSweeper_ZeroIntervalDisables(t *testing.T) {
	t.Parallel()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessions := &stubSessionPurger{}

	sw := NewSweeper(log, sessions, nil, 0)

	done := make(chan struct{})
	go func() {
		sw.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run should return immediately with zero interval")
	}
	if sessions.calls != 0 {
		t.Fatalf("no sweep expected")
	}
}
