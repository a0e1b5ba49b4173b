package armada

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ExecutionMode selects how a crew schedules its tasks.
type ExecutionMode string

const (
	// ExecSequential runs tasks in insertion order, feeding each task's
	// response into the next task's context.
	ExecSequential ExecutionMode = "sequential"
	// ExecParallel runs tasks concurrently with no context linkage.
	ExecParallel ExecutionMode = "parallel"
)

const (
	defaultCrewTimeout = 60 * time.Second
	defaultMaxRetries  = 3
	defaultMaxParallel = 5
)

// crewConfig holds crew scheduling options.
type crewConfig struct {
	mode        ExecutionMode
	timeout     time.Duration
	maxRetries  int
	maxParallel int64
	logger      *slog.Logger
	tracer      Tracer
}

// CrewOption configures a Crew.
type CrewOption func(*crewConfig)

// WithExecutionMode sets sequential or parallel scheduling
// (default: sequential).
func WithExecutionMode(m ExecutionMode) CrewOption {
	return func(c *crewConfig) { c.mode = m }
}

// WithCrewTimeout caps total crew execution time (default: 60s). On
// expiry the crew returns its partial results with *ErrTimeout.
func WithCrewTimeout(d time.Duration) CrewOption {
	return func(c *crewConfig) { c.timeout = d }
}

// WithMaxRetries sets how many attempts each task gets before its error
// fails the crew (default: 3).
func WithMaxRetries(n int) CrewOption {
	return func(c *crewConfig) {
		if n > 0 {
			c.maxRetries = n
		}
	}
}

// WithMaxParallel caps concurrent tasks in parallel mode (default: 5).
func WithMaxParallel(n int) CrewOption {
	return func(c *crewConfig) {
		if n > 0 {
			c.maxParallel = int64(n)
		}
	}
}

// WithCrewLogger sets the structured logger for scheduling events.
func WithCrewLogger(l *slog.Logger) CrewOption {
	return func(c *crewConfig) { c.logger = l }
}

// WithCrewTracer enables span creation around crew execution.
func WithCrewTracer(t Tracer) CrewOption {
	return func(c *crewConfig) { c.tracer = t }
}

// Crew schedules tasks across a set of agents, sequentially or in
// parallel. Agents are keyed by role and kept in insertion order; a task
// with no agent set goes to the first agent added.
type Crew struct {
	agents map[string]*Agent
	order  []string
	tasks  []*Task
	cfg    crewConfig
}

// NewCrew creates an empty crew.
func NewCrew(opts ...CrewOption) *Crew {
	cfg := crewConfig{
		mode:        ExecSequential,
		timeout:     defaultCrewTimeout,
		maxRetries:  defaultMaxRetries,
		maxParallel: defaultMaxParallel,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = nopLogger
	}
	return &Crew{
		agents: make(map[string]*Agent),
		cfg:    cfg,
	}
}

// AddAgent registers an agent under its role. Re-adding a role replaces
// the previous agent without changing insertion order.
func (c *Crew) AddAgent(a *Agent) *Crew {
	if _, exists := c.agents[a.Role]; !exists {
		c.order = append(c.order, a.Role)
	}
	c.agents[a.Role] = a
	return c
}

// AddTask appends a task to the schedule.
func (c *Crew) AddTask(t *Task) *Crew {
	c.tasks = append(c.tasks, t)
	return c
}

// Agents returns the crew's agent roles in insertion order.
func (c *Crew) Agents() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// resolveAgent picks the handling agent for a task: the task's role, or
// the first agent when unset.
func (c *Crew) resolveAgent(t *Task) (*Agent, error) {
	role := t.AgentRole
	if role == "" {
		if len(c.order) == 0 {
			return nil, &ErrAgentNotInCrew{Role: "(none)"}
		}
		role = c.order[0]
	}
	a, ok := c.agents[role]
	if !ok {
		return nil, &ErrAgentNotInCrew{Role: role}
	}
	return a, nil
}

// Execute runs all tasks per the configured mode. The returned CrewResult
// always carries whatever task results completed; on failure Success is
// false, Error holds the message, and the error is returned alongside.
func (c *Crew) Execute(ctx context.Context) (CrewResult, error) {
	start := time.Now()
	if c.cfg.tracer != nil {
		var span Span
		ctx, span = c.cfg.tracer.Start(ctx, "crew.execute",
			StringAttr("crew.mode", string(c.cfg.mode)),
			IntAttr("crew.tasks", len(c.tasks)))
		defer span.End()
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.timeout)
	defer cancel()

	var (
		results []TaskResult
		err     error
	)
	switch c.cfg.mode {
	case ExecParallel:
		results, err = c.runParallel(ctx)
	default:
		results, err = c.runSequential(ctx)
	}

	res := CrewResult{
		Results:       results,
		ExecutionTime: time.Since(start).Seconds(),
		Success:       err == nil,
	}
	if err != nil {
		err = c.mapTimeout(err)
		res.Error = err.Error()
		c.cfg.logger.Error("crew failed", "mode", c.cfg.mode, "error", err)
	}
	return res, err
}

// runSequential executes tasks in order, linking each response into the
// next task's context.
func (c *Crew) runSequential(ctx context.Context) ([]TaskResult, error) {
	results := make([]TaskResult, 0, len(c.tasks))
	for i, task := range c.tasks {
		agent, err := c.resolveAgent(task)
		if err != nil {
			return results, err
		}
		taskStart := time.Now()
		resp, err := c.handleWithRetry(ctx, agent, task)
		if err != nil {
			return results, err
		}
		results = append(results, TaskResult{
			TaskIndex:     i,
			Agent:         agent.Role,
			Response:      resp,
			ExecutionTime: time.Since(taskStart).Seconds(),
		})
		if i+1 < len(c.tasks) {
			next := c.tasks[i+1]
			if next.Context == nil {
				next.Context = make(map[string]any)
			}
			next.Context["previous_response"] = resp.Content
			next.Context["previous_agent"] = agent.Role
		}
	}
	return results, nil
}

// runParallel executes tasks concurrently, bounded by maxParallel. Each
// goroutine works on a clone so siblings observe no context mutations.
// Results keep task order; on failure the lowest-index error wins.
func (c *Crew) runParallel(ctx context.Context) ([]TaskResult, error) {
	sem := semaphore.NewWeighted(c.cfg.maxParallel)
	slots := make([]*TaskResult, len(c.tasks))
	errs := make([]error, len(c.tasks))

	var wg sync.WaitGroup
	for i, task := range c.tasks {
		agent, err := c.resolveAgent(task)
		if err != nil {
			errs[i] = err
			continue
		}
		wg.Add(1)
		go func(i int, agent *Agent, task *Task) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				errs[i] = err
				return
			}
			defer sem.Release(1)
			taskStart := time.Now()
			resp, err := c.handleWithRetry(ctx, agent, task.clone())
			if err != nil {
				errs[i] = err
				return
			}
			slots[i] = &TaskResult{
				TaskIndex:     i,
				Agent:         agent.Role,
				Response:      resp,
				ExecutionTime: time.Since(taskStart).Seconds(),
			}
		}(i, agent, task)
	}
	wg.Wait()

	results := make([]TaskResult, 0, len(c.tasks))
	for _, r := range slots {
		if r != nil {
			results = append(results, *r)
		}
	}
	for _, err := range errs {
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// handleWithRetry runs a task through its agent, retrying on error up to
// maxRetries attempts.
func (c *Crew) handleWithRetry(ctx context.Context, agent *Agent, task *Task) (Response, error) {
	var last error
	for attempt := 0; attempt < c.cfg.maxRetries; attempt++ {
		resp, err := agent.Handle(ctx, task)
		if err == nil {
			return resp, nil
		}
		last = err
		if ctx.Err() != nil || !isTransient(err) {
			return Response{}, err
		}
		c.cfg.logger.Warn("task attempt failed",
			"agent", agent.Role,
			"attempt", attempt+1,
			"max_retries", c.cfg.maxRetries,
			"error", err)
	}
	return Response{}, last
}

// ExecuteStream runs the schedule sequentially, streaming the first task
// (and any task with streaming enabled) into ch as EventChunk events and
// emitting an EventTaskComplete per finished task. A streamed task's
// OnChunk callback fires per chunk. ch is closed before returning.
func (c *Crew) ExecuteStream(ctx context.Context, ch chan<- CrewEvent) (CrewResult, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.cfg.timeout)
	defer cancel()
	defer close(ch)

	results := make([]TaskResult, 0, len(c.tasks))
	fail := func(err error) (CrewResult, error) {
		err = c.mapTimeout(err)
		return CrewResult{
			Results:       results,
			ExecutionTime: time.Since(start).Seconds(),
			Error:         err.Error(),
		}, err
	}

	for i, task := range c.tasks {
		agent, err := c.resolveAgent(task)
		if err != nil {
			return fail(err)
		}
		taskStart := time.Now()

		var resp Response
		if i == 0 || task.Config.Streaming {
			stream, err := agent.HandleStream(ctx, task, task.Config.OnChunk)
			if err != nil {
				return fail(err)
			}
			for {
				chunk, ok := stream.Recv()
				if !ok {
					break
				}
				ch <- CrewEvent{Type: EventChunk, TaskIndex: i, Chunk: chunk}
			}
			resp, err = stream.ToResponse()
			if err != nil {
				return fail(err)
			}
		} else {
			resp, err = c.handleWithRetry(ctx, agent, task)
			if err != nil {
				return fail(err)
			}
		}

		results = append(results, TaskResult{
			TaskIndex:     i,
			Agent:         agent.Role,
			Response:      resp,
			ExecutionTime: time.Since(taskStart).Seconds(),
		})
		r := resp
		ch <- CrewEvent{Type: EventTaskComplete, TaskIndex: i, Response: &r}

		if i+1 < len(c.tasks) {
			next := c.tasks[i+1]
			if next.Context == nil {
				next.Context = make(map[string]any)
			}
			next.Context["previous_response"] = resp.Content
			next.Context["previous_agent"] = agent.Role
		}
	}
	return CrewResult{
		Results:       results,
		ExecutionTime: time.Since(start).Seconds(),
		Success:       true,
	}, nil
}

// mapTimeout converts a context deadline error into the crew timeout
// error so callers can match on *ErrTimeout.
func (c *Crew) mapTimeout(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &ErrTimeout{Scope: "crew"}
	}
	return err
}
