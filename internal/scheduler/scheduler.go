package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler owns the daemon loop: it triggers a full run on a cron schedule.
type Scheduler struct {
	runner     *Runner
	requests   func() []Request
	spec       string
	runOnStart bool
	logger     *slog.Logger

	// done is signalled after every run; tests use it to observe progress.
	done func(Result)
}

// NewScheduler creates a scheduler that runs requests() on the cron spec.
// requests is called on every tick so inputs can be refreshed between runs.
func NewScheduler(runner *Runner, requests func() []Request, spec string, runOnStart bool, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner:     runner,
		requests:   requests,
		spec:       spec,
		runOnStart: runOnStart,
		logger:     logger,
	}
}

// Run starts the schedule. With runOnStart it runs one immediate cycle first.
// A tick that fires while the previous run is still active is skipped.
// It returns nil when ctx is cancelled (graceful shutdown), after the active
// run has finished.
func (s *Scheduler) Run(ctx context.Context) error {
	logger := cronLogger{s.logger}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(s.spec, func() { s.runOnce(ctx) }); err != nil {
		return fmt.Errorf("schedule %q: %w", s.spec, err)
	}

	s.logger.Info("starting scheduler", "schedule", s.spec, "run_on_start", s.runOnStart)

	if s.runOnStart {
		s.runOnce(ctx)
	}

	c.Start()
	<-ctx.Done()
	s.logger.Info("shutting down scheduler")
	<-c.Stop().Done()
	return nil
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	reqs := s.requests()
	if len(reqs) == 0 {
		s.logger.Warn("no sources to run")
		return
	}
	res := s.runner.RunAll(ctx, reqs)
	if s.done != nil {
		s.done(res)
	}
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
