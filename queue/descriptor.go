// Package queue defers crew and flow execution into a persistent job
// queue backed by armada.Memory. The enqueuer serializes a canonical
// job description; workers poll, validate, rehydrate, and run it.
//
// Rehydration is restricted: tool identifiers must be on a fixed
// whitelist of built-ins, and every agent and task field is re-run
// through the sanitizer.
package queue

import "fmt"

// JobKind selects what a job executes.
type JobKind string

const (
	JobCrew JobKind = "crew"
	JobFlow JobKind = "flow"
)

// ToolSpec names a whitelisted tool plus its construction config.
type ToolSpec struct {
	Name   string         `json:"name"`
	Config map[string]any `json:"config,omitempty"`
}

// AgentSpec is the serialized form of an agent.
type AgentSpec struct {
	Role        string         `json:"role"`
	Goal        string         `json:"goal"`
	Provider    string         `json:"provider"`
	Temperature float64        `json:"temperature,omitempty"`
	MaxTokens   int            `json:"max_tokens,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
	Tools       []ToolSpec     `json:"tools,omitempty"`
}

// TaskSpec is the serialized form of a task.
type TaskSpec struct {
	Description string                    `json:"description"`
	AgentRole   string                    `json:"agent_role,omitempty"`
	ToolInputs  map[string]map[string]any `json:"tool_inputs,omitempty"`
	Context     map[string]any            `json:"context,omitempty"`
}

// CrewSpec is the serialized form of a crew.
type CrewSpec struct {
	Agents []AgentSpec `json:"agents"`
	Tasks  []TaskSpec  `json:"tasks"`
	// Mode is "sequential" (default) or "parallel".
	Mode           string `json:"mode,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	MaxRetries     int    `json:"max_retries,omitempty"`
	MaxParallel    int    `json:"max_parallel,omitempty"`
}

// CondSpec is the serialized form of a condition. Expr wins when set;
// otherwise the simple (variable, operator, literal) form applies.
type CondSpec struct {
	Variable string `json:"variable,omitempty"`
	Operator string `json:"operator,omitempty"`
	Literal  any    `json:"literal,omitempty"`
	Expr     string `json:"expr,omitempty"`
}

// StepSpec is the serialized form of a flow step.
type StepSpec struct {
	Name string `json:"name"`
	// Type is "crew", "condition", "delay", or "custom".
	Type      string     `json:"type"`
	Crew      *CrewSpec  `json:"crew,omitempty"`
	Condition *CondSpec  `json:"condition,omitempty"`
	DelayMS   int        `json:"delay_ms,omitempty"`
	// Handler names a worker-registered step handler for custom steps.
	Handler         string     `json:"handler,omitempty"`
	When            []CondSpec `json:"when,omitempty"`
	ContinueOnError bool       `json:"continue_on_error,omitempty"`
}

// FlowSpec is the serialized form of a flow.
type FlowSpec struct {
	Context        map[string]any `json:"context,omitempty"`
	Steps          []StepSpec     `json:"steps"`
	TimeoutSeconds int            `json:"timeout_seconds,omitempty"`
	MaxSteps       int            `json:"max_steps,omitempty"`
}

// Job is one queued unit of deferred work. Exactly one of Crew or
// Flow is set, matching Kind.
type Job struct {
	ID         string    `json:"id"`
	Kind       JobKind   `json:"kind"`
	Crew       *CrewSpec `json:"crew,omitempty"`
	Flow       *FlowSpec `json:"flow,omitempty"`
	EnqueuedAt int64     `json:"enqueued_at"`
}

// ErrToolNotAllowed reports a job referencing a tool outside the
// rehydration whitelist.
type ErrToolNotAllowed struct {
	Name string
}

func (e *ErrToolNotAllowed) Error() string {
	return fmt.Sprintf("tool not allowed in deferred jobs: %s", e.Name)
}
