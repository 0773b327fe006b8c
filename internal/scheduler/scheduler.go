package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	// JobLettuceDrop grants the periodic action points and pays out the votes.
	JobLettuceDrop = "lettuce-drop"
	// JobPlayerCountLog samples how many players are connected.
	JobPlayerCountLog = "player-count-log"
)

var (
	errUnknownJob   = errors.New("scheduler: unknown job")
	errDuplicateJob = errors.New("scheduler: job already registered")
)

// Job is one unit of scheduled work.
type Job func(ctx context.Context) error

// Config describes a Scheduler.
type Config struct {
	Location *time.Location
	Logger   *zap.Logger
}

// Scheduler runs named jobs on cron specs (with a seconds field) and on demand.
type Scheduler struct {
	cron    *cron.Cron
	logger  *zap.Logger
	mu      sync.Mutex
	jobs    map[string]Job
	baseCtx context.Context
	running sync.WaitGroup
}

// New constructs an idle Scheduler.
func New(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	location := cfg.Location
	if location == nil {
		location = time.UTC
	}
	adapter := cronLogger{logger: logger.Sugar()}
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(location),
			cron.WithLogger(adapter),
			cron.WithChain(cron.Recover(adapter)),
		),
		logger:  logger,
		jobs:    make(map[string]Job),
		baseCtx: context.Background(),
	}
}

// Register adds a job under name with the given cron spec.
func (s *Scheduler) Register(name, spec string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("%w: %s", errDuplicateJob, name)
	}
	if _, err := s.cron.AddFunc(spec, func() { s.execute(name, job, "schedule") }); err != nil {
		return fmt.Errorf("scheduler: invalid spec %q for %s: %w", spec, name, err)
	}
	s.jobs[name] = job
	s.logger.Info("job registered", zap.String("job", name), zap.String("spec", spec))
	return nil
}

// Trigger runs a registered job now on its own goroutine.
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", errUnknownJob, name)
	}
	s.running.Add(1)
	go func() {
		defer s.running.Done()
		s.execute(name, job, "manual")
	}()
	return nil
}

// TriggerDrop runs the lettuce drop job now.
func (s *Scheduler) TriggerDrop() {
	if err := s.Trigger(JobLettuceDrop); err != nil {
		s.logger.Error("manual drop failed", zap.Error(err))
	}
}

// Run starts the schedule and blocks until ctx is done, then waits for running jobs.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.cron.Entries())))
	<-ctx.Done()

	stopped := s.cron.Stop()
	<-stopped.Done()
	s.running.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) execute(name string, job Job, source string) {
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()

	started := time.Now()
	if err := job(ctx); err != nil {
		s.logger.Error("job failed",
			zap.String("job", name),
			zap.String("source", source),
			zap.Error(err))
		return
	}
	s.logger.Debug("job completed",
		zap.String("job", name),
		zap.String("source", source),
		zap.Duration("elapsed", time.Since(started)))
}

type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
