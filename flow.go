package armada

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// StepType identifies what a flow step does.
type StepType string

const (
	StepCrew      StepType = "crew"
	StepCondition StepType = "condition"
	StepDelay     StepType = "delay"
	StepCustom    StepType = "custom"
)

const (
	defaultFlowTimeout  = 600 * time.Second
	defaultFlowMaxSteps = 50
)

// StepHandler is the body of a custom step. It receives the current flow
// context and returns the step's result.
type StepHandler func(ctx context.Context, flowContext map[string]any) (any, error)

// Step is one unit in a flow: a crew run, a condition check, a delay, or
// a custom handler. Steps are gated by zero or more conditions; a step
// whose gate is false is skipped without a result.
type Step struct {
	Name string
	Type StepType

	crew    *Crew
	cond    *Condition
	delay   time.Duration
	handler StepHandler

	when            []*Condition
	continueOnError bool
}

// StepOption configures a Step.
type StepOption func(*Step)

// When gates the step on a condition evaluated against the flow context
// at dispatch time. Multiple gates must all hold.
func When(cond *Condition) StepOption {
	return func(s *Step) { s.when = append(s.when, cond) }
}

// ContinueOnError lets the flow proceed past this step's failure instead
// of aborting.
func ContinueOnError() StepOption {
	return func(s *Step) { s.continueOnError = true }
}

// CrewStep runs a crew and records its CrewResult.
func CrewStep(name string, crew *Crew, opts ...StepOption) *Step {
	s := &Step{Name: name, Type: StepCrew, crew: crew}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ConditionStep evaluates a condition against the flow context and
// records the boolean, also exposing it to later steps under the step
// name.
func ConditionStep(name string, cond *Condition, opts ...StepOption) *Step {
	s := &Step{Name: name, Type: StepCondition, cond: cond}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DelayStep suspends the flow for d and records true.
func DelayStep(name string, d time.Duration, opts ...StepOption) *Step {
	s := &Step{Name: name, Type: StepDelay, delay: d}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CustomStep invokes handler with the current flow context and records
// its return value.
func CustomStep(name string, handler StepHandler, opts ...StepOption) *Step {
	s := &Step{Name: name, Type: StepCustom, handler: handler}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// flowConfig holds flow engine options.
type flowConfig struct {
	timeout  time.Duration
	maxSteps int
	logger   *slog.Logger
	tracer   Tracer
}

// FlowOption configures a Flow.
type FlowOption func(*flowConfig)

// WithFlowTimeout caps total flow execution time (default: 600s).
func WithFlowTimeout(d time.Duration) FlowOption {
	return func(c *flowConfig) { c.timeout = d }
}

// WithMaxSteps caps how many steps a flow may carry (default: 50).
func WithMaxSteps(n int) FlowOption {
	return func(c *flowConfig) {
		if n > 0 {
			c.maxSteps = n
		}
	}
}

// WithFlowLogger sets the structured logger for step events.
func WithFlowLogger(l *slog.Logger) FlowOption {
	return func(c *flowConfig) { c.logger = l }
}

// WithFlowTracer enables span creation around flow and step execution.
func WithFlowTracer(t Tracer) FlowOption {
	return func(c *flowConfig) { c.tracer = t }
}

// Flow runs an ordered list of steps over a shared context map. Keys a
// step writes are visible to every later step and to its gate
// conditions. Run is single-shot; build a new Flow per run.
type Flow struct {
	steps   []*Step
	context map[string]any
	cfg     flowConfig

	onStepCompleted func(StepResult)
	onStepFailed    func(StepResult)
}

// NewFlow creates a flow with the given initial context. A nil initial
// context starts empty.
func NewFlow(initial map[string]any, opts ...FlowOption) *Flow {
	cfg := flowConfig{
		timeout:  defaultFlowTimeout,
		maxSteps: defaultFlowMaxSteps,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = nopLogger
	}
	ctx := make(map[string]any, len(initial))
	for k, v := range initial {
		ctx[k] = v
	}
	return &Flow{context: ctx, cfg: cfg}
}

// AddStep appends a step.
func (f *Flow) AddStep(s *Step) *Flow {
	f.steps = append(f.steps, s)
	return f
}

// OnStepCompleted registers a handler fired after each successful step.
// Handler panics are isolated and never affect the flow result.
func (f *Flow) OnStepCompleted(fn func(StepResult)) *Flow {
	f.onStepCompleted = fn
	return f
}

// OnStepFailed registers a handler fired after each failed step.
func (f *Flow) OnStepFailed(fn func(StepResult)) *Flow {
	f.onStepFailed = fn
	return f
}

// Context returns the flow's context map. Read-only once Run starts.
func (f *Flow) Context() map[string]any { return f.context }

// Run executes the steps in order. The returned FlowResult carries every
// recorded step result; on failure Success is false and the error is
// returned alongside.
func (f *Flow) Run(ctx context.Context) (FlowResult, error) {
	start := time.Now()
	if f.cfg.tracer != nil {
		var span Span
		ctx, span = f.cfg.tracer.Start(ctx, "flow.run",
			IntAttr("flow.steps", len(f.steps)))
		defer span.End()
	}
	if len(f.steps) > f.cfg.maxSteps {
		err := &ErrInput{Field: "flow.steps", Reason: "too many steps"}
		return FlowResult{ExecutionTime: time.Since(start).Seconds(), Error: err.Error()}, err
	}
	ctx, cancel := context.WithTimeout(ctx, f.cfg.timeout)
	defer cancel()

	results := make([]StepResult, 0, len(f.steps))
	fail := func(err error) (FlowResult, error) {
		if errors.Is(err, context.DeadlineExceeded) {
			err = &ErrTimeout{Scope: "flow"}
		}
		f.cfg.logger.Error("flow failed", "error", err)
		return FlowResult{
			Results:       results,
			ExecutionTime: time.Since(start).Seconds(),
			Error:         err.Error(),
		}, err
	}

	for i, step := range f.steps {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		gated, err := f.gateOpen(step)
		if err != nil {
			return fail(err)
		}
		if !gated {
			f.cfg.logger.Debug("step skipped", "step", step.Name)
			continue
		}

		stepStart := time.Now()
		result, err := f.dispatch(ctx, step)
		elapsed := time.Since(stepStart).Seconds()

		if err != nil {
			sr := StepResult{
				StepIndex:     i,
				StepName:      step.Name,
				StepType:      string(step.Type),
				ExecutionTime: elapsed,
				Success:       false,
				Error:         err.Error(),
			}
			results = append(results, sr)
			safeCallback(f.cfg.logger, "step_failed", f.onStepFailed, sr)
			if step.continueOnError {
				f.cfg.logger.Warn("step failed, continuing", "step", step.Name, "error", err)
				continue
			}
			return fail(err)
		}

		sr := StepResult{
			StepIndex:     i,
			StepName:      step.Name,
			StepType:      string(step.Type),
			Result:        result,
			ExecutionTime: elapsed,
			Success:       true,
		}
		results = append(results, sr)
		f.context[step.Name] = result
		safeCallback(f.cfg.logger, "step_completed", f.onStepCompleted, sr)
	}

	return FlowResult{
		Results:       results,
		ExecutionTime: time.Since(start).Seconds(),
		Success:       true,
	}, nil
}

// gateOpen evaluates every gate condition on the step against the flow
// context.
func (f *Flow) gateOpen(step *Step) (bool, error) {
	for _, cond := range step.when {
		ok, err := cond.Evaluate(f.context)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// dispatch runs the step body by type.
func (f *Flow) dispatch(ctx context.Context, step *Step) (any, error) {
	switch step.Type {
	case StepCrew:
		res, err := step.crew.Execute(ctx)
		if err != nil {
			return nil, err
		}
		return res, nil
	case StepCondition:
		return step.cond.Evaluate(f.context)
	case StepDelay:
		timer := time.NewTimer(step.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
			return true, nil
		}
	case StepCustom:
		if step.handler == nil {
			return nil, &ErrHandlerMissing{Name: step.Name}
		}
		return step.handler(ctx, f.context)
	}
	return nil, &ErrInput{Field: "step.type", Reason: "unknown type " + string(step.Type)}
}

// safeCallback invokes a user event handler, swallowing panics so fired
// events never mutate the flow's outcome.
func safeCallback(logger *slog.Logger, name string, fn func(StepResult), sr StepResult) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("event handler panicked", "event", name, "panic", r)
		}
	}()
	fn(sr)
}
