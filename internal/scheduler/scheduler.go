// Package scheduler runs the sync pipeline on a cron schedule. Whether the
// schedule is active is persisted as a single boolean option.
package scheduler

import (
	"context"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"lms-course-sync/internal/store"
)

// FlagStore persists the auto-sync toggle.
type FlagStore interface {
	GetBool(ctx context.Context, key string, def bool) (bool, error)
	SetBool(ctx context.Context, key string, v bool) error
}

// Job is one scheduled run; false means it failed.
type Job func(ctx context.Context) bool

type Options struct {
	// DefaultEnabled applies when the flag was never written.
	DefaultEnabled bool
	// RunTimeout bounds a single run. Zero means no bound.
	RunTimeout time.Duration
	Log        zerolog.Logger
}

type Scheduler struct {
	cron  *cron.Cron
	expr  string
	job   Job
	flags FlagStore
	opts  Options
	log   zerolog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc

	mu        stdsync.Mutex
	entry     cron.EntryID
	scheduled bool
}

// New validates schedule (five-field cron or a descriptor such as @weekly).
func New(schedule string, job Job, flags FlagStore, opts Options) (*Scheduler, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("scheduler: invalid schedule %q: %w", schedule, err)
	}
	log := opts.Log.With().Str("component", "scheduler").Logger()
	ctx, cancel := context.WithCancel(context.Background())

	cronLog := cron.PrintfLogger(&log)
	return &Scheduler{
		cron:    cron.New(cron.WithLogger(cronLog), cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog))),
		expr:    schedule,
		job:     job,
		flags:   flags,
		opts:    opts,
		log:     log,
		baseCtx: ctx,
		cancel:  cancel,
	}, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Str("schedule", s.expr).Bool("enabled", s.Scheduled()).Msg("scheduler started")
}

// Stop cancels a running job and waits for it to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.log.Info().Msg("scheduler stopped")
}

// Enable persists the flag and schedules the job if it is not scheduled yet.
func (s *Scheduler) Enable(ctx context.Context) error {
	if err := s.flags.SetBool(ctx, store.OptAutoSyncEnabled, true); err != nil {
		return err
	}
	return s.schedule()
}

// Disable persists the flag and clears any pending run.
func (s *Scheduler) Disable(ctx context.Context) error {
	if err := s.flags.SetBool(ctx, store.OptAutoSyncEnabled, false); err != nil {
		return err
	}
	s.unschedule()
	return nil
}

// Set is Enable or Disable.
func (s *Scheduler) Set(ctx context.Context, enabled bool) error {
	if enabled {
		return s.Enable(ctx)
	}
	return s.Disable(ctx)
}

// Reconcile makes the cron state match the persisted flag.
func (s *Scheduler) Reconcile(ctx context.Context) (bool, error) {
	on, err := s.flags.GetBool(ctx, store.OptAutoSyncEnabled, s.opts.DefaultEnabled)
	if err != nil {
		return false, err
	}
	if on {
		return true, s.schedule()
	}
	s.unschedule()
	return false, nil
}

func (s *Scheduler) Scheduled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduled
}

// Next is the next activation, or zero when nothing is scheduled or the
// scheduler has not been started.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.scheduled {
		return time.Time{}
	}
	return s.cron.Entry(s.entry).Next
}

func (s *Scheduler) schedule() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scheduled {
		return nil
	}
	id, err := s.cron.AddFunc(s.expr, s.runOnce)
	if err != nil {
		return fmt.Errorf("scheduler: add job: %w", err)
	}
	s.entry = id
	s.scheduled = true
	s.log.Info().Str("schedule", s.expr).Msg("auto-sync scheduled")
	return nil
}

func (s *Scheduler) unschedule() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.scheduled {
		return
	}
	s.cron.Remove(s.entry)
	s.scheduled = false
	s.log.Info().Msg("auto-sync unscheduled")
}

// runOnce is the cron callback.
func (s *Scheduler) runOnce() {
	ctx := s.baseCtx
	if s.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RunTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("scheduled job crashed")
		}
	}()
	if !s.job(ctx) {
		s.log.Warn().Msg("scheduled job reported failure")
	}
}
