package scheduler

import (
	"context"
	"time"

	"github.com/BesiegedCity/sakamichibot/pkg/logx"
)

// Schedule arms a one-time job under id, replacing any pending job with the
// same id. The callback is enqueued to the worker pool when the timer fires;
// a version guard makes stale timer callbacks from a replaced entry no-ops.
func (s *Service) Schedule(id string, runAt time.Time, job func(ctx context.Context) error) {
	s.tmu.Lock()
	defer s.tmu.Unlock()

	var ver uint64 = 1
	if old, ok := s.once[id]; ok {
		old.timer.Stop()
		ver = old.ver + 1
	}

	e := &onceEntry{runAt: runAt, job: job, ver: ver}
	e.timer = time.AfterFunc(time.Until(runAt), func() { s.fireOnce(id, ver) })
	s.once[id] = e
	s.log.Debug("one-time job armed", logx.String("id", id), logx.Time("at", runAt))
}

// Reschedule moves a pending job to a new time, keeping its callback.
// Returns ErrNotFound when the job already fired or was never scheduled.
func (s *Service) Reschedule(id string, runAt time.Time) error {
	s.tmu.Lock()
	defer s.tmu.Unlock()

	e, ok := s.once[id]
	if !ok {
		return ErrNotFound
	}
	e.timer.Stop()
	e.ver++
	e.runAt = runAt
	ver := e.ver
	e.timer = time.AfterFunc(time.Until(runAt), func() { s.fireOnce(id, ver) })
	s.log.Debug("one-time job rescheduled", logx.String("id", id), logx.Time("at", runAt))
	return nil
}

// Cancel drops a pending job. Returns ErrNotFound when nothing is pending.
func (s *Service) Cancel(id string) error {
	s.tmu.Lock()
	defer s.tmu.Unlock()

	e, ok := s.once[id]
	if !ok {
		return ErrNotFound
	}
	e.timer.Stop()
	delete(s.once, id)
	return nil
}

// Fire runs a pending job immediately, in the caller's goroutine, removing
// it from the pending set first. Used to force-close a collection window
// before opening the next: the caller needs the side effects to have
// completed when Fire returns.
func (s *Service) Fire(ctx context.Context, id string) error {
	s.tmu.Lock()
	e, ok := s.once[id]
	if !ok {
		s.tmu.Unlock()
		return ErrNotFound
	}
	e.timer.Stop()
	delete(s.once, id)
	job := e.job
	s.tmu.Unlock()

	return job(ctx)
}

// Pending reports whether a job with the given id is still armed.
func (s *Service) Pending(id string) bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	_, ok := s.once[id]
	return ok
}

func (s *Service) fireOnce(id string, ver uint64) {
	s.tmu.Lock()
	e, ok := s.once[id]
	if !ok || e.ver != ver {
		// replaced or cancelled after the timer fired
		s.tmu.Unlock()
		return
	}
	delete(s.once, id)
	job := e.job
	s.tmu.Unlock()

	s.enqueueOnce(task{name: id, run: job})
}
