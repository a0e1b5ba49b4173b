package armada

import "maps"

// TaskConfig holds per-task execution options.
type TaskConfig struct {
	// Streaming requests the streaming path when the crew supports it.
	Streaming bool
	// OnChunk is the chunk callback for streaming execution.
	OnChunk ChunkFunc
}

// Task is one unit of work: a sanitized description plus optional tool
// inputs and context. Constructed by the user; the sequential crew
// scheduler injects previous_response/previous_agent into Context between
// tasks; immutable once handed to an agent.
type Task struct {
	Description string
	// AgentRole selects the crew agent to handle the task. Empty means
	// the crew's first agent.
	AgentRole string
	// ToolInputs maps tool name to the input mapping for that tool.
	ToolInputs map[string]map[string]any
	Context    map[string]any
	Config     TaskConfig
}

// NewTask builds a task with a sanitized description (max 10,000 chars).
// Dangerous content is rejected with *ErrInput.
func NewTask(description string) (*Task, error) {
	cleaned, err := sanitizeField("task.description", description, MaxDescriptionLength)
	if err != nil {
		return nil, err
	}
	return &Task{
		Description: cleaned,
		ToolInputs:  make(map[string]map[string]any),
		Context:     make(map[string]any),
	}, nil
}

// MustTask is like NewTask but panics on error. For static task lists.
func MustTask(description string) *Task {
	t, err := NewTask(description)
	if err != nil {
		panic(err)
	}
	return t
}

// WithAgent sets the handling agent role. Returns the task for chaining.
func (t *Task) WithAgent(role string) *Task {
	t.AgentRole = Sanitize(role)
	return t
}

// WithToolInput sets the input mapping for a named tool.
func (t *Task) WithToolInput(tool string, input map[string]any) *Task {
	if t.ToolInputs == nil {
		t.ToolInputs = make(map[string]map[string]any)
	}
	t.ToolInputs[tool] = input
	return t
}

// WithContext merges ctx into the task context.
func (t *Task) WithContext(ctx map[string]any) *Task {
	if t.Context == nil {
		t.Context = make(map[string]any)
	}
	maps.Copy(t.Context, ctx)
	return t
}

// WithStreaming enables the streaming path with an optional chunk callback.
func (t *Task) WithStreaming(onChunk ChunkFunc) *Task {
	t.Config.Streaming = true
	t.Config.OnChunk = onChunk
	return t
}

// clone returns a shallow copy with its own context map, so parallel
// tasks observe no mutations from siblings.
func (t *Task) clone() *Task {
	cp := *t
	cp.Context = make(map[string]any, len(t.Context))
	maps.Copy(cp.Context, t.Context)
	return &cp
}
