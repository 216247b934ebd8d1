// Package scheduler hosts the bot's deferred jobs: named one-time jobs
// (schedule / reschedule / cancel by id) and recurring cron entries.
//
// Jobs run on a small worker pool; a job callback therefore executes
// concurrently with everything else, and callers are expected to guard
// their own state.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/BesiegedCity/sakamichibot/pkg/logx"
)

// ErrNotFound reports a cancel/reschedule/fire against an id with no
// pending job. Callers treat it as "the job already ran or never existed".
var ErrNotFound = errors.New("scheduler: job not found")

type Config struct {
	Workers  int
	Timezone string // IANA TZ; empty means time.Local
}

type task struct {
	name string
	run  func(ctx context.Context) error
}

type onceEntry struct {
	timer *time.Timer
	runAt time.Time
	job   func(ctx context.Context) error
	ver   uint64
}

type Service struct {
	log logx.Logger
	cfg Config

	mu     sync.Mutex
	c      *cron.Cron
	loc    *time.Location
	queue  chan task
	stopCh chan struct{}

	// one-time jobs by caller-chosen id
	tmu  sync.Mutex
	once map[string]*onceEntry
}

func New(cfg Config, log logx.Logger) *Service {
	return &Service{cfg: cfg, log: log, once: map[string]*onceEntry{}}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})

	workers := s.cfg.Workers
	if workers <= 0 {
		workers = 2
	}
	s.queue = make(chan task, 64)
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithLocation(s.loc))

	for i := 0; i < workers; i++ {
		go s.worker(ctx, s.stopCh, s.queue)
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.Int("workers", workers), logx.String("tz", s.loc.String()))
}

func (s *Service) Stop() {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.stopCh = nil
	if s.c != nil {
		<-s.c.Stop().Done()
		s.c = nil
	}
	s.mu.Unlock()

	s.tmu.Lock()
	for _, e := range s.once {
		e.timer.Stop()
	}
	s.once = map[string]*onceEntry{}
	s.tmu.Unlock()

	s.log.Info("scheduler stopped")
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// AddCron registers a recurring job under a standard cron spec.
func (s *Service) AddCron(name, spec string, job func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return errors.New("scheduler not started")
	}
	_, err := s.c.AddFunc(spec, func() {
		s.enqueue(task{name: name, run: job})
	})
	if err == nil {
		s.log.Debug("schedule registered", logx.String("name", name), logx.String("spec", spec))
	}
	return err
}

// AddDaily registers a job at HH:MM every day (scheduler timezone).
func (s *Service) AddDaily(name, atHHMM string, job func(ctx context.Context) error) error {
	h, m, err := parseHHMM(atHHMM)
	if err != nil {
		return err
	}
	return s.AddCron(name, fmt.Sprintf("%d %d * * *", m, h), job)
}

func (s *Service) enqueue(t task) {
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	if q == nil {
		s.log.Debug("scheduler not running; dropping job", logx.String("job", t.name))
		return
	}
	select {
	case q <- t:
	default:
		s.log.Warn("scheduler queue full; dropping job", logx.String("job", t.name))
	}
}

// enqueueOnce hands a fired one-time job to the workers. Unlike recurring
// cron ticks, a one-time job has no next occurrence, so a full queue falls
// back to running it in its own goroutine instead of dropping it.
func (s *Service) enqueueOnce(t task) {
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	if q == nil {
		s.log.Debug("scheduler not running; dropping job", logx.String("job", t.name))
		return
	}
	select {
	case q <- t:
	default:
		s.log.Warn("scheduler queue full; running one-time job inline", logx.String("job", t.name))
		go s.execOne(context.Background(), t)
	}
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan task) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case t := <-queue:
			s.execOne(ctx, t)
		}
	}
}

func (s *Service) execOne(ctx context.Context, t task) {
	start := time.Now()
	err := t.run(ctx)
	dur := time.Since(start)
	if err != nil {
		s.log.Warn("job failed", logx.String("job", t.name), logx.Err(err), logx.Duration("dur", dur))
		return
	}
	s.log.Debug("job completed", logx.String("job", t.name), logx.Duration("dur", dur))
}

func parseHHMM(s string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
