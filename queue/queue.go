package queue

import (
	"context"
	"fmt"
	"log/slog"

	armada "github.com/armadahq/armada"
)

const jobKeyPrefix = "queue_job_"

// Queue enqueues jobs into a memory store for workers to pick up.
type Queue struct {
	memory armada.Memory
	logger *slog.Logger
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithQueueLogger sets the logger.
func WithQueueLogger(l *slog.Logger) QueueOption {
	return func(q *Queue) { q.logger = l }
}

// NewQueue creates a queue on top of memory. Workers must poll the
// same store.
func NewQueue(memory armada.Memory, opts ...QueueOption) *Queue {
	q := &Queue{memory: memory, logger: slog.Default()}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// EnqueueCrew serializes spec and stores it as a pending crew job,
// returning the job id.
func (q *Queue) EnqueueCrew(ctx context.Context, spec *CrewSpec) (string, error) {
	if spec == nil || len(spec.Agents) == 0 || len(spec.Tasks) == 0 {
		return "", fmt.Errorf("crew job needs at least one agent and one task")
	}
	return q.enqueue(ctx, Job{Kind: JobCrew, Crew: spec})
}

// EnqueueFlow serializes spec and stores it as a pending flow job,
// returning the job id.
func (q *Queue) EnqueueFlow(ctx context.Context, spec *FlowSpec) (string, error) {
	if spec == nil || len(spec.Steps) == 0 {
		return "", fmt.Errorf("flow job needs at least one step")
	}
	return q.enqueue(ctx, Job{Kind: JobFlow, Flow: spec})
}

func (q *Queue) enqueue(ctx context.Context, job Job) (string, error) {
	job.ID = armada.NewID()
	job.EnqueuedAt = armada.NowUnix()
	err := q.memory.Store(ctx, jobKeyPrefix+job.ID, job,
		map[string]any{"type": "queue_job", "kind": string(job.Kind)}, 0)
	if err != nil {
		return "", err
	}
	q.logger.Debug("job enqueued", "job_id", job.ID, "kind", job.Kind)
	return job.ID, nil
}
