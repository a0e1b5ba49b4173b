package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	armada "github.com/armadahq/armada"
)

// allowedTools is the fixed whitelist of tool identifiers a deferred
// job may reference.
var allowedTools = map[string]bool{
	"http":       true,
	"database":   true,
	"filesystem": true,
	"mcp":        true,
}

// ProviderResolver maps a serialized provider name to a live provider.
type ProviderResolver func(name string) (armada.Provider, error)

// ToolFactory builds a tool from its serialized config.
type ToolFactory func(config map[string]any) (armada.Tool, error)

// Hooks announce job outcomes. Nil hooks are skipped.
type Hooks struct {
	OnCrewExecuted func(jobID string, result armada.CrewResult)
	OnFlowExecuted func(jobID string, result armada.FlowResult)
	OnCrewFailed   func(jobID string, err error)
	OnFlowFailed   func(jobID string, err error)
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithInterval sets the polling interval. Default: 5 seconds.
func WithInterval(d time.Duration) WorkerOption {
	return func(w *Worker) { w.interval = d }
}

// WithBatchSize caps how many jobs one poll cycle picks up. Default: 10.
func WithBatchSize(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

// WithHooks registers outcome hooks.
func WithHooks(h Hooks) WorkerOption {
	return func(w *Worker) { w.hooks = h }
}

// WithWorkerLogger sets the logger.
func WithWorkerLogger(l *slog.Logger) WorkerOption {
	return func(w *Worker) { w.logger = l }
}

// Worker polls the job store, rehydrates each pending job, and runs
// it. Results land back in memory under a timestamped key.
type Worker struct {
	memory    armada.Memory
	providers ProviderResolver
	factories map[string]ToolFactory
	handlers  map[string]armada.StepHandler
	hooks     Hooks
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

// NewWorker creates a worker over the same memory store the queue
// writes to. providers resolves serialized provider names.
func NewWorker(memory armada.Memory, providers ProviderResolver, opts ...WorkerOption) *Worker {
	w := &Worker{
		memory:    memory,
		providers: providers,
		factories: make(map[string]ToolFactory),
		handlers:  make(map[string]armada.StepHandler),
		interval:  5 * time.Second,
		batchSize: 10,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// RegisterTool installs a factory for a whitelisted tool identifier.
// Identifiers outside the whitelist are rejected.
func (w *Worker) RegisterTool(name string, factory ToolFactory) error {
	if !allowedTools[name] {
		return &ErrToolNotAllowed{Name: name}
	}
	w.factories[name] = factory
	return nil
}

// RegisterHandler installs a named custom-step handler.
func (w *Worker) RegisterHandler(name string, h armada.StepHandler) {
	w.handlers[name] = h
}

// Start begins the polling loop. Blocks until ctx is cancelled.
// Returns nil on clean shutdown.
func (w *Worker) Start(ctx context.Context) error {
	for {
		w.tick(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.interval):
		}
	}
}

// tick performs one poll cycle: fetch pending jobs and run each
// sequentially. A job is claimed (removed) before it runs, so a slow
// job is never picked up twice.
func (w *Worker) tick(ctx context.Context) {
	records, err := w.memory.Search(ctx, jobKeyPrefix, w.batchSize)
	if err != nil {
		w.logger.Error("job poll failed", "error", err)
		return
	}
	for _, rec := range records {
		if ctx.Err() != nil {
			return
		}
		job, err := decodeJob(rec.Data)
		if err != nil {
			w.logger.Error("dropping undecodable job", "key", rec.Key, "error", err)
			w.memory.Forget(ctx, rec.Key)
			continue
		}
		if err := w.memory.Forget(ctx, rec.Key); err != nil {
			w.logger.Error("job claim failed", "key", rec.Key, "error", err)
			continue
		}
		w.run(ctx, job)
	}
}

func decodeJob(data any) (Job, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Job{}, err
	}
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return Job{}, err
	}
	switch {
	case job.Kind == JobCrew && job.Crew != nil:
	case job.Kind == JobFlow && job.Flow != nil:
	default:
		return Job{}, fmt.Errorf("malformed job %s: kind %q", job.ID, job.Kind)
	}
	return job, nil
}

func (w *Worker) run(ctx context.Context, job Job) {
	w.logger.Info("job started", "job_id", job.ID, "kind", job.Kind)
	switch job.Kind {
	case JobCrew:
		w.runCrew(ctx, job)
	case JobFlow:
		w.runFlow(ctx, job)
	}
}

func (w *Worker) runCrew(ctx context.Context, job Job) {
	crew, err := w.buildCrew(job.Crew)
	if err == nil {
		var result armada.CrewResult
		result, err = crew.Execute(ctx)
		if err == nil {
			w.storeResult(ctx, "crew_result", job.ID, result)
			if w.hooks.OnCrewExecuted != nil {
				w.hooks.OnCrewExecuted(job.ID, result)
			}
			return
		}
	}
	w.logger.Error("crew job failed", "job_id", job.ID, "error", err)
	if w.hooks.OnCrewFailed != nil {
		w.hooks.OnCrewFailed(job.ID, err)
	}
}

func (w *Worker) runFlow(ctx context.Context, job Job) {
	flow, err := w.buildFlow(job.Flow)
	if err == nil {
		var result armada.FlowResult
		result, err = flow.Run(ctx)
		if err == nil {
			w.storeResult(ctx, "flow_result", job.ID, result)
			if w.hooks.OnFlowExecuted != nil {
				w.hooks.OnFlowExecuted(job.ID, result)
			}
			return
		}
	}
	w.logger.Error("flow job failed", "job_id", job.ID, "error", err)
	if w.hooks.OnFlowFailed != nil {
		w.hooks.OnFlowFailed(job.ID, err)
	}
}

func (w *Worker) storeResult(ctx context.Context, tag, jobID string, result any) {
	key := fmt.Sprintf("%s_%d_%s", tag, armada.NowUnix(), jobID)
	err := w.memory.Store(ctx, key, result, map[string]any{"type": tag, "job_id": jobID}, 0)
	if err != nil {
		w.logger.Error("result store failed", "job_id", jobID, "error", err)
	}
}
