package armada

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// SpawnState represents the execution state of a spawned crew.
type SpawnState int32

const (
	// SpawnPending indicates the crew has been spawned but Execute has
	// not started.
	SpawnPending SpawnState = iota
	// SpawnRunning indicates Execute is in progress.
	SpawnRunning
	// SpawnCompleted indicates Execute finished successfully.
	SpawnCompleted
	// SpawnFailed indicates Execute returned an error.
	SpawnFailed
	// SpawnCancelled indicates the crew was cancelled via Cancel() or
	// the parent context.
	SpawnCancelled
)

// String returns the state name.
func (s SpawnState) String() string {
	switch s {
	case SpawnPending:
		return "pending"
	case SpawnRunning:
		return "running"
	case SpawnCompleted:
		return "completed"
	case SpawnFailed:
		return "failed"
	case SpawnCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the state is final.
func (s SpawnState) IsTerminal() bool {
	return s == SpawnCompleted || s == SpawnFailed || s == SpawnCancelled
}

// SpawnOption configures a SpawnCrew call.
type SpawnOption func(*spawnConfig)

type spawnConfig struct {
	logger *slog.Logger
}

// SpawnLogger sets the structured logger for spawn lifecycle events.
func SpawnLogger(l *slog.Logger) SpawnOption {
	return func(c *spawnConfig) { c.logger = l }
}

// CrewHandle tracks a background crew execution.
// All methods are safe for concurrent use.
type CrewHandle struct {
	id     string
	crew   *Crew
	state  atomic.Int32
	result CrewResult
	err    error
	done   chan struct{}
	cancel context.CancelFunc
}

// SpawnCrew launches crew.Execute(ctx) in a background goroutine and
// returns immediately with a handle for tracking, awaiting, and
// cancelling. The parent ctx controls the crew's lifetime.
func SpawnCrew(ctx context.Context, crew *Crew, opts ...SpawnOption) *CrewHandle {
	var cfg spawnConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = nopLogger
	}
	logger := cfg.logger

	ctx, cancel := context.WithCancel(ctx)
	h := &CrewHandle{
		id:     NewID(),
		crew:   crew,
		done:   make(chan struct{}),
		cancel: cancel,
	}
	h.state.Store(int32(SpawnPending))

	logger.Info("crew spawned", "handle_id", h.id)

	go func() {
		defer cancel()
		defer func() {
			if p := recover(); p != nil {
				logger.Error("spawned crew panic", "handle_id", h.id, "panic", fmt.Sprintf("%v", p))
				h.result = CrewResult{}
				h.err = fmt.Errorf("crew panic: %v", p)
				h.state.Store(int32(SpawnFailed))
				close(h.done)
			}
		}()
		h.state.Store(int32(SpawnRunning))
		start := time.Now()
		result, err := crew.Execute(ctx)

		// Write result/err before close(done). The channel close is the
		// happens-before barrier for all readers.
		h.result = result
		h.err = err
		if ctx.Err() != nil && err != nil {
			h.state.Store(int32(SpawnCancelled))
			logger.Info("spawned crew cancelled", "handle_id", h.id, "duration", time.Since(start))
		} else if err != nil {
			h.state.Store(int32(SpawnFailed))
			logger.Error("spawned crew failed", "handle_id", h.id, "error", err, "duration", time.Since(start))
		} else {
			h.state.Store(int32(SpawnCompleted))
			logger.Info("spawned crew completed", "handle_id", h.id,
				"duration", time.Since(start),
				"tasks", len(result.Results))
		}
		close(h.done)
	}()

	return h
}

// ID returns the unique execution identifier (time-sortable).
func (h *CrewHandle) ID() string { return h.id }

// Crew returns the crew being executed.
func (h *CrewHandle) Crew() *Crew { return h.crew }

// State returns the current execution state. For a terminal state, State
// waits for Done() so Result() is guaranteed valid afterward.
func (h *CrewHandle) State() SpawnState {
	s := SpawnState(h.state.Load())
	if s.IsTerminal() {
		<-h.done
	}
	return s
}

// Done returns a channel closed when execution finishes.
func (h *CrewHandle) Done() <-chan struct{} { return h.done }

// Await blocks until the crew completes or ctx is cancelled.
func (h *CrewHandle) Await(ctx context.Context) (CrewResult, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return CrewResult{}, ctx.Err()
	}
}

// Result returns the result and error. Only meaningful after Done() is
// closed; before completion it returns a zero CrewResult and nil error.
func (h *CrewHandle) Result() (CrewResult, error) {
	select {
	case <-h.done:
		return h.result, h.err
	default:
		return CrewResult{}, nil
	}
}

// Cancel requests cancellation. Non-blocking.
func (h *CrewHandle) Cancel() { h.cancel() }
