package armada

// Response is the realized output of one agent handling one task.
type Response struct {
	Content       string         `json:"content"`
	AgentRole     string         `json:"agent_role"`
	ToolResults   map[string]any `json:"tool_results,omitempty"`
	ExecutionTime float64        `json:"execution_time"`
	Usage         Usage          `json:"usage"`
}

// TaskResult is one entry in a CrewResult: the task index, the agent that
// handled it, and the realized response.
type TaskResult struct {
	TaskIndex     int      `json:"task_index"`
	Agent         string   `json:"agent"`
	Response      Response `json:"response"`
	ExecutionTime float64  `json:"execution_time"`
}

// CrewResult is the aggregate outcome of a crew execution. Results are
// ordered by task index regardless of completion order.
type CrewResult struct {
	Results       []TaskResult `json:"results"`
	ExecutionTime float64      `json:"execution_time"`
	Success       bool         `json:"success"`
	Error         string       `json:"error,omitempty"`
}

// StepResult is one entry in a FlowResult. Result holds whatever the step
// produced: a CrewResult for crew steps, a bool for condition and delay
// steps, the handler's return for custom steps.
type StepResult struct {
	StepIndex     int     `json:"step_index"`
	StepName      string  `json:"step_name"`
	StepType      string  `json:"step_type"`
	Result        any     `json:"result"`
	ExecutionTime float64 `json:"execution_time"`
	Success       bool    `json:"success"`
	Error         string  `json:"error,omitempty"`
}

// FlowResult is the aggregate outcome of a flow run. Results preserve step
// insertion order; skipped steps record nothing.
type FlowResult struct {
	Results       []StepResult `json:"results"`
	ExecutionTime float64      `json:"execution_time"`
	Success       bool         `json:"success"`
	Error         string       `json:"error,omitempty"`
}

// CrewEventType identifies the kind of crew streaming event.
type CrewEventType string

const (
	// EventChunk carries an incremental text chunk from a streaming task.
	EventChunk CrewEventType = "chunk"
	// EventTaskComplete signals a task has finished; Response is set.
	EventTaskComplete CrewEventType = "task-complete"
)

// CrewEvent is emitted on the channel passed to Crew.ExecuteStream.
type CrewEvent struct {
	Type      CrewEventType `json:"type"`
	TaskIndex int           `json:"task_index"`
	Chunk     string        `json:"chunk,omitempty"`
	Response  *Response     `json:"response,omitempty"`
}
