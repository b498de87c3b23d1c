package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/amishk599/jobflow/internal/model"
	"github.com/amishk599/jobflow/internal/retry"
)

// DefaultMaxTransitions bounds looping graphs such as paginated fetches.
const DefaultMaxTransitions = 1000

// ErrTooManyTransitions is reported when an execution exceeds MaxTransitions.
var ErrTooManyTransitions = errors.New("too many step transitions")

// StepError is the terminal failure of a step after its retry policy gave up.
type StepError struct {
	Step     string
	Attempts int
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q failed after %d attempt(s): %v", e.Step, e.Attempts, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Outcome is the result of one execution.
type Outcome struct {
	Status    model.ExecutionStatus // StatusSucceeded or StatusFailed
	Cancelled bool
	Err       error // *StepError, or a transition error
	Path      []string
}

// FailedStep returns the failing step name, if any.
func (o Outcome) FailedStep() string {
	var se *StepError
	if errors.As(o.Err, &se) {
		return se.Step
	}
	return ""
}

// Attempts returns the attempt count of the failing step, if any.
func (o Outcome) Attempts() int {
	var se *StepError
	if errors.As(o.Err, &se) {
		return se.Attempts
	}
	return 0
}

// EventKind classifies executor events.
type EventKind string

const (
	EventStepStarted   EventKind = "step_started"
	EventStepRetrying  EventKind = "step_retrying"
	EventStepSucceeded EventKind = "step_succeeded"
	EventStepFailed    EventKind = "step_failed"
	EventFinished      EventKind = "finished"
)

// Event is published to an Observer as the execution advances.
type Event struct {
	ExecutionID string
	Workflow    string
	Source      model.Source
	Kind        EventKind
	Step        string
	Attempt     int
	Listings    int
	Status      model.ExecutionStatus
	Err         error
}

// Observer receives executor events. It must not block.
type Observer func(Event)

// Executor runs one execution of a graph. It is not reusable across executions.
type Executor struct {
	graph          *Graph
	logger         *slog.Logger
	observer       Observer
	maxTransitions int

	snapshot atomic.Pointer[State]
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithObserver registers an event observer.
func WithObserver(o Observer) ExecutorOption {
	return func(e *Executor) { e.observer = o }
}

// WithMaxTransitions overrides DefaultMaxTransitions.
func WithMaxTransitions(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.maxTransitions = n
		}
	}
}

// NewExecutor creates an executor for a single run of graph.
func NewExecutor(graph *Graph, logger *slog.Logger, opts ...ExecutorOption) *Executor {
	e := &Executor{
		graph:          graph,
		logger:         logger,
		maxTransitions: DefaultMaxTransitions,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Snapshot returns the last committed state. Safe for concurrent use.
func (e *Executor) Snapshot() State {
	if p := e.snapshot.Load(); p != nil {
		return p.Clone()
	}
	return State{}
}

func (e *Executor) commit(s State) {
	c := s.Clone()
	e.snapshot.Store(&c)
}

// Execute walks the graph from its entry point. It returns the final state and
// the outcome; on failure the state is the last committed snapshot plus
// diagnostics, so listings gathered before the failure are preserved.
func (e *Executor) Execute(ctx context.Context, initial State) (State, Outcome) {
	state := initial.Clone()
	state.Workflow = e.graph.name
	if state.Values == nil {
		state.Values = make(map[string]any)
	}
	if state.Attempts == nil {
		state.Attempts = make(map[string]int)
	}
	e.commit(state)

	logger := e.logger.With("workflow", e.graph.name, "execution_id", state.ExecutionID)
	logger.Info("execution started", "entry", e.graph.entry)

	var path []string
	current := e.graph.entry
	for transitions := 0; ; transitions++ {
		if transitions >= e.maxTransitions {
			err := fmt.Errorf("%w: limit %d reached at step %q", ErrTooManyTransitions, e.maxTransitions, current)
			return e.fail(ctx, logger, state, path, err)
		}

		step := e.graph.steps[current]
		state.CurrentStep = current
		path = append(path, current)

		next, attempts, err := e.runStep(ctx, logger, step, state)
		state.Attempts[current] += attempts
		if err != nil {
			stepErr := &StepError{Step: current, Attempts: attempts, Err: err}
			e.publish(Event{Kind: EventStepFailed, Step: current, Attempt: attempts, Err: err}, state)
			return e.fail(ctx, logger, state, path, stepErr)
		}

		next.CurrentStep = current
		next.Attempts = state.Attempts
		state = next
		e.commit(state)
		e.publish(Event{Kind: EventStepSucceeded, Step: current, Attempt: attempts}, state)

		to, err := e.graph.Next(current, state)
		if err != nil {
			return e.fail(ctx, logger, state, path, err)
		}
		if to == Terminal {
			logger.Info("execution succeeded", "steps", len(path), "listings", len(state.Listings))
			e.publish(Event{Kind: EventFinished, Status: model.StatusSucceeded}, state)
			return state, Outcome{Status: model.StatusSucceeded, Path: path}
		}
		logger.Debug("transition", "from", current, "to", to)
		current = to
	}
}

// fail closes the execution. It counts as cancelled only when the run's own ctx
// is done; a deadline raised inside a step is an ordinary step failure.
func (e *Executor) fail(ctx context.Context, logger *slog.Logger, state State, path []string, err error) (State, Outcome) {
	state.RecordError(err)
	e.commit(state)

	cancelled := ctx.Err() != nil
	logger.Error("execution failed", "step", state.CurrentStep, "cancelled", cancelled, "error", err)
	e.publish(Event{Kind: EventFinished, Status: model.StatusFailed, Err: err}, state)
	return state, Outcome{Status: model.StatusFailed, Cancelled: cancelled, Err: err, Path: path}
}

// runStep invokes a step under its retry policy. Every attempt starts from the
// same input snapshot.
func (e *Executor) runStep(ctx context.Context, logger *slog.Logger, step Step, in State) (State, int, error) {
	var out State
	stepLogger := logger.With("step", step.Name)
	attempts, err := retry.Do(ctx, step.Retry, stepLogger, func(ctx context.Context, attempt int) error {
		if attempt == 1 {
			e.publish(Event{Kind: EventStepStarted, Step: step.Name, Attempt: attempt}, in)
		} else {
			e.publish(Event{Kind: EventStepRetrying, Step: step.Name, Attempt: attempt}, in)
		}
		stepLogger.Debug("step attempt", "attempt", attempt)

		next, err := step.Action(ctx, in.Clone())
		if err != nil {
			return err
		}
		if len(next.Listings) < len(in.Listings) {
			return model.Permanent(fmt.Errorf("step dropped %d accumulated listing(s)", len(in.Listings)-len(next.Listings)))
		}
		out = next
		return nil
	})
	if err != nil {
		return State{}, attempts, err
	}
	return out, attempts, nil
}

func (e *Executor) publish(ev Event, s State) {
	if e.observer == nil {
		return
	}
	ev.ExecutionID = s.ExecutionID
	ev.Workflow = e.graph.name
	ev.Source = s.Source
	ev.Listings = len(s.Listings)
	e.observer(ev)
}
