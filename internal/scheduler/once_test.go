package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BesiegedCity/sakamichibot/pkg/logx"
)

func newTestService() *Service {
	return New(Config{}, logx.Nop())
}

func TestScheduleReplacesSameID(t *testing.T) {
	t.Parallel()
	s := newTestService()
	far := time.Now().Add(time.Hour)

	var first, second atomic.Int32
	s.Schedule("job", far, func(context.Context) error { first.Add(1); return nil })
	s.Schedule("job", far, func(context.Context) error { second.Add(1); return nil })

	if err := s.Fire(context.Background(), "job"); err != nil {
		t.Fatalf("Fire error: %v", err)
	}
	if first.Load() != 0 || second.Load() != 1 {
		t.Fatalf("ran first=%d second=%d, want 0/1", first.Load(), second.Load())
	}
	if s.Pending("job") {
		t.Fatal("job still pending after Fire")
	}
}

func TestCancelPendingJob(t *testing.T) {
	t.Parallel()
	s := newTestService()
	s.Schedule("job", time.Now().Add(time.Hour), func(context.Context) error { return nil })

	if err := s.Cancel("job"); err != nil {
		t.Fatalf("Cancel error: %v", err)
	}
	if err := s.Cancel("job"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Cancel = %v, want ErrNotFound", err)
	}
}

func TestRescheduleMissingJob(t *testing.T) {
	t.Parallel()
	s := newTestService()
	if err := s.Reschedule("ghost", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Reschedule = %v, want ErrNotFound", err)
	}
}

func TestRescheduleKeepsCallback(t *testing.T) {
	t.Parallel()
	s := newTestService()
	var ran atomic.Int32
	s.Schedule("job", time.Now().Add(time.Hour), func(context.Context) error { ran.Add(1); return nil })

	if err := s.Reschedule("job", time.Now().Add(2*time.Hour)); err != nil {
		t.Fatalf("Reschedule error: %v", err)
	}
	if err := s.Fire(context.Background(), "job"); err != nil {
		t.Fatalf("Fire error: %v", err)
	}
	if ran.Load() != 1 {
		t.Fatalf("callback ran %d times, want 1", ran.Load())
	}
}

func TestFireMissingJob(t *testing.T) {
	t.Parallel()
	s := newTestService()
	if err := s.Fire(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Fire = %v, want ErrNotFound", err)
	}
}

func TestStaleTimerCallbackIsNoOp(t *testing.T) {
	t.Parallel()
	s := newTestService()
	s.Start(context.Background())
	defer s.Stop()

	var stale, fresh atomic.Int32
	s.Schedule("job", time.Now().Add(time.Hour), func(context.Context) error { stale.Add(1); return nil })

	// fireOnce with the old version must not run anything once the entry
	// has been replaced
	s.Schedule("job", time.Now().Add(time.Hour), func(context.Context) error { fresh.Add(1); return nil })
	s.fireOnce("job", 1)

	time.Sleep(50 * time.Millisecond)
	if stale.Load() != 0 || fresh.Load() != 0 {
		t.Fatalf("stale=%d fresh=%d, want 0/0", stale.Load(), fresh.Load())
	}
	if !s.Pending("job") {
		t.Fatal("replacement entry lost")
	}
}

func TestScheduledJobRunsThroughWorkers(t *testing.T) {
	t.Parallel()
	s := newTestService()
	s.Start(context.Background())
	defer s.Stop()

	done := make(chan struct{})
	s.Schedule("soon", time.Now().Add(10*time.Millisecond), func(context.Context) error {
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled job never ran")
	}
	if s.Pending("soon") {
		t.Fatal("job still pending after running")
	}
}

func TestOneTimeJobSurvivesFullQueue(t *testing.T) {
	t.Parallel()
	s := newTestService()
	// unbuffered queue with no worker draining it: every send would block
	s.queue = make(chan task)

	done := make(chan struct{})
	s.enqueueOnce(task{name: "publish", run: func(context.Context) error {
		close(done)
		return nil
	}})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("one-time job dropped instead of running")
	}
}

func TestAddDailyRejectsBadTime(t *testing.T) {
	t.Parallel()
	s := newTestService()
	s.Start(context.Background())
	defer s.Stop()

	if err := s.AddDaily("sweep", "04:00", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("AddDaily error: %v", err)
	}
	if err := s.AddDaily("bad", "24:00", func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected error for invalid hour")
	}
	if err := s.AddDaily("bad", "4am", func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected error for malformed time")
	}
}
