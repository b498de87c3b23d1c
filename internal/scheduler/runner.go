package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/amishk599/jobflow/internal/model"
	"github.com/amishk599/jobflow/internal/persist"
	"github.com/amishk599/jobflow/internal/workflow"
)

// Mode selects how executions are launched.
type Mode string

const (
	ModeSequential Mode = "sequential"
	ModeParallel   Mode = "parallel"
)

// Options configure one Runner.
type Options struct {
	Mode        Mode
	MaxParallel int // cap on simultaneously active executions in parallel mode
	// FailFast stops launching new executions once one has failed. Executions
	// already started always run to completion.
	FailFast bool
	// PersistPartial persists listings gathered by failed executions.
	PersistPartial   bool
	ExecutionTimeout time.Duration // zero means unbounded
}

func (o Options) limit() int64 {
	if o.Mode != ModeParallel {
		return 1
	}
	if o.MaxParallel < 1 {
		return 1
	}
	return int64(o.MaxParallel)
}

// Request asks for one execution of a registered workflow.
type Request struct {
	Workflow string
	Input    workflow.Input
}

// Outcome is the result of one request.
type Outcome struct {
	Record model.ExecutionRecord
	// State is the final run state; zero for executions that never started.
	State workflow.State
	// Path lists the steps visited.
	Path []string
}

// Result is the aggregated outcome of RunAll, in request order.
type Result struct {
	Outcomes []Outcome
	failFast bool
}

// Records returns the execution records in request order.
func (r Result) Records() []model.ExecutionRecord {
	out := make([]model.ExecutionRecord, len(r.Outcomes))
	for i, o := range r.Outcomes {
		out[i] = o.Record
	}
	return out
}

// Count returns how many executions ended with status s.
func (r Result) Count(s model.ExecutionStatus) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Record.Status == s {
			n++
		}
	}
	return n
}

// ExitCode is 1 in fail-fast mode when any execution did not succeed, 0 otherwise.
func (r Result) ExitCode() int {
	if !r.failFast {
		return 0
	}
	for _, o := range r.Outcomes {
		if o.Record.Status != model.StatusSucceeded {
			return 1
		}
	}
	return 0
}

// Runner drives one execution per request and then hands the gathered
// listings to persistence, the output sink, the recorder and the notifier.
type Runner struct {
	registry  *workflow.Registry
	persister *persist.Persister
	sink      model.OutputSink
	recorder  model.ExecutionRecorder
	notifier  model.Notifier
	observer  workflow.Observer
	opts      Options
	logger    *slog.Logger

	newID func() string
	now   func() time.Time
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithSink writes each execution's listings to s after persistence.
func WithSink(s model.OutputSink) RunnerOption {
	return func(r *Runner) { r.sink = s }
}

// WithRecorder saves execution records as they start and finish.
func WithRecorder(rec model.ExecutionRecorder) RunnerOption {
	return func(r *Runner) { r.recorder = rec }
}

// WithNotifier reports the records of every run.
func WithNotifier(n model.Notifier) RunnerOption {
	return func(r *Runner) { r.notifier = n }
}

// WithObserver receives step events from every execution.
func WithObserver(o workflow.Observer) RunnerOption {
	return func(r *Runner) { r.observer = o }
}

// NewRunner creates a runner over the registered workflows.
func NewRunner(registry *workflow.Registry, persister *persist.Persister, opts Options, logger *slog.Logger, options ...RunnerOption) *Runner {
	r := &Runner{
		registry:  registry,
		persister: persister,
		opts:      opts,
		logger:    logger,
		newID:     uuid.NewString,
		now:       time.Now,
	}
	for _, o := range options {
		o(r)
	}
	return r
}

// execution is the in-flight bookkeeping for one request.
type execution struct {
	graph   *workflow.Graph
	out     Outcome
	wf      workflow.Outcome
	started bool
	// runCancelled is sampled as soon as the executor returns, so a shutdown
	// arriving later does not relabel an earlier failure.
	runCancelled bool
}

// RunAll runs every request and returns once all of them are final.
//
// A failing execution never affects its siblings. Cancelling ctx stops the
// active step of every running execution; listings gathered so far are still
// persisted when PersistPartial is set.
func (r *Runner) RunAll(ctx context.Context, reqs []Request) Result {
	execs := make([]*execution, len(reqs))
	for i, req := range reqs {
		execs[i] = &execution{out: Outcome{Record: model.ExecutionRecord{
			ID:       r.newID(),
			Workflow: req.Workflow,
			Source:   model.Source(req.Workflow),
			Status:   model.StatusPending,
		}}}
	}

	r.logger.Info("run started",
		"executions", len(reqs),
		"mode", r.opts.Mode,
		"max_parallel", r.opts.limit(),
		"fail_fast", r.opts.FailFast,
	)

	var (
		g      errgroup.Group
		sem    = semaphore.NewWeighted(r.opts.limit())
		failed atomic.Bool
	)
	for i, req := range reqs {
		e := execs[i]
		rec := &e.out.Record

		err := ctx.Err()
		if err == nil {
			err = sem.Acquire(ctx, 1)
		}
		if err != nil {
			rec.Status = model.StatusFailed
			rec.Reason = model.ReasonCancelled
			rec.Error = fmt.Sprintf("not started: %v", err)
			continue
		}
		if r.opts.FailFast && failed.Load() {
			sem.Release(1)
			rec.Reason = model.ReasonSkipped
			rec.Error = "not started: an earlier execution failed"
			continue
		}

		graph, err := r.registry.Graph(req.Workflow)
		if err != nil {
			sem.Release(1)
			rec.Status = model.StatusFailed
			rec.Reason = model.ReasonConfiguration
			rec.Error = err.Error()
			failed.Store(true)
			r.logger.Error("workflow not runnable", "workflow", req.Workflow, "error", err)
			continue
		}

		e.graph = graph
		e.started = true
		rec.Status = model.StatusRunning
		rec.StartedAt = r.now()
		r.save(ctx, *rec)

		g.Go(func() error {
			defer sem.Release(1)
			r.execute(ctx, e, req)
			if e.wf.Status != model.StatusSucceeded {
				failed.Store(true)
			}
			return nil
		})
	}
	_ = g.Wait()

	// Persistence and reporting must survive a shutdown signal.
	final := context.WithoutCancel(ctx)
	result := Result{Outcomes: make([]Outcome, len(execs)), failFast: r.opts.FailFast}
	for i, e := range execs {
		if e.started {
			r.finalize(final, e)
		}
		r.save(final, e.out.Record)
		result.Outcomes[i] = e.out
	}

	if r.notifier != nil {
		if err := r.notifier.Notify(final, result.Records()); err != nil {
			r.logger.Error("notification failed", "error", err)
		}
	}

	r.logger.Info("run finished",
		"succeeded", result.Count(model.StatusSucceeded),
		"partial", result.Count(model.StatusPartial),
		"failed", result.Count(model.StatusFailed),
		"pending", result.Count(model.StatusPending),
	)
	return result
}

func (r *Runner) execute(ctx context.Context, e *execution, req Request) {
	rec := &e.out.Record
	execCtx := ctx
	if r.opts.ExecutionTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, r.opts.ExecutionTimeout)
		defer cancel()
	}

	var opts []workflow.ExecutorOption
	if r.observer != nil {
		opts = append(opts, workflow.WithObserver(r.observer))
	}
	exec := workflow.NewExecutor(e.graph, r.logger.With("source", rec.Source), opts...)

	state, wf := exec.Execute(execCtx, workflow.NewState(rec.ID, rec.Source, req.Input))
	e.runCancelled = ctx.Err() != nil
	rec.FinishedAt = r.now()
	e.out.State = state
	e.out.Path = wf.Path
	e.wf = wf
}

// finalize persists and writes the execution's listings and derives its
// final status. persistCtx is detached from cancellation.
func (r *Runner) finalize(persistCtx context.Context, e *execution) {
	rec := &e.out.Record
	listings := e.out.State.Listings
	rec.Listings = len(listings)
	rec.Attempts = e.wf.Attempts()
	rec.FailedStep = e.wf.FailedStep()
	if e.wf.Err != nil {
		rec.Error = e.wf.Err.Error()
	}

	eligible := e.wf.Status == model.StatusSucceeded || r.opts.PersistPartial
	if eligible && len(listings) > 0 {
		if r.persister != nil {
			rec.Persistence = r.persister.Persist(persistCtx, listings)
		}
		if r.sink != nil {
			dest, err := r.sink.WriteBatch(persistCtx, rec.Source, listings)
			if err != nil {
				r.logger.Error("output sink failed", "workflow", rec.Workflow, "error", err)
				e.out.State.RecordError(fmt.Errorf("output sink: %w", err))
			}
			rec.Destination = dest
		}
	}

	rec.Status, rec.Reason = deriveStatus(e.wf, rec.Persistence, e.runCancelled)
}

// deriveStatus maps an executor outcome and its persistence report onto the
// reported status:
//   - succeeded: the graph reached its terminal and every listing was stored
//   - partial: the graph reached its terminal but some listings could not be
//     stored, or the graph failed after listings were stored
//   - failed: the graph failed and nothing was stored, or the run was cancelled
func deriveStatus(wf workflow.Outcome, report model.PersistenceReport, runCancelled bool) (model.ExecutionStatus, model.FailureReason) {
	if wf.Status == model.StatusSucceeded {
		if report.Failed > 0 {
			return model.StatusPartial, model.ReasonNone
		}
		return model.StatusSucceeded, model.ReasonNone
	}
	if wf.Cancelled && runCancelled {
		return model.StatusFailed, model.ReasonCancelled
	}
	if report.Saved() > 0 {
		return model.StatusPartial, model.ReasonStep
	}
	return model.StatusFailed, model.ReasonStep
}

func (r *Runner) save(ctx context.Context, rec model.ExecutionRecord) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.SaveExecution(ctx, rec); err != nil {
		r.logger.Warn("saving execution record failed", "execution_id", rec.ID, "error", err)
	}
}
