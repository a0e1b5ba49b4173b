package armada

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// discardHandler drops every record. Used when no logger is configured.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (discardHandler) WithAttrs([]slog.Attr) slog.Handler        { return discardHandler{} }
func (discardHandler) WithGroup(string) slog.Handler             { return discardHandler{} }

var nopLogger = slog.New(discardHandler{})

// PromptConfig controls how an agent assembles its prompt.
type PromptConfig struct {
	// IncludeMemory appends recalled memory records to the prompt context.
	IncludeMemory bool
	// IncludeTools appends tool results to the prompt context.
	IncludeTools bool
	// MaxContextLength caps the total prompt length in characters. When
	// the prompt would exceed it, the context section is truncated first.
	MaxContextLength int
	// MemorySearchLimit caps how many memory records a recall returns.
	MemorySearchLimit int
}

// agentConfig holds optional agent configuration set via AgentOption.
type agentConfig struct {
	memory     Memory
	tools      *ToolRegistry
	context    map[string]any
	generation GenerateOptions
	prompts    PromptConfig
	logger     *slog.Logger
	tracer     Tracer
}

// AgentOption configures an Agent.
type AgentOption func(*agentConfig)

// WithMemory attaches a memory store. The agent recalls related records
// into its prompt and persists each exchange after generation.
func WithMemory(m Memory) AgentOption {
	return func(c *agentConfig) { c.memory = m }
}

// WithTools registers tools the agent can run when a task carries inputs
// for them.
func WithTools(tools ...Tool) AgentOption {
	return func(c *agentConfig) {
		if c.tools == nil {
			c.tools = NewToolRegistry()
		}
		for _, t := range tools {
			c.tools.Add(t)
		}
	}
}

// WithAgentContext sets base context merged under every task's context.
// Task keys override agent keys.
func WithAgentContext(ctx map[string]any) AgentOption {
	return func(c *agentConfig) { c.context = ctx }
}

// WithGeneration overrides the default generation options
// (temperature 0.7, max_tokens 1000).
func WithGeneration(opts GenerateOptions) AgentOption {
	return func(c *agentConfig) { c.generation = opts }
}

// WithPromptConfig overrides the default prompt assembly settings.
func WithPromptConfig(pc PromptConfig) AgentOption {
	return func(c *agentConfig) { c.prompts = pc }
}

// WithLogger sets the structured logger. Without it the agent is silent.
func WithLogger(l *slog.Logger) AgentOption {
	return func(c *agentConfig) { c.logger = l }
}

// WithTracer enables span creation around handle and tool execution.
func WithTracer(t Tracer) AgentOption {
	return func(c *agentConfig) { c.tracer = t }
}

// Agent binds a role and goal to a provider, with optional memory, tools,
// and base context. Safe for concurrent use once constructed; all fields
// are read-only after NewAgent.
type Agent struct {
	ID       string
	Role     string
	Goal     string
	provider Provider
	cfg      agentConfig
}

// NewAgent creates an agent with a sanitized role (max 255 chars) and goal
// (max 1000 chars). Dangerous input fails with *ErrInput; a nil provider
// is rejected.
func NewAgent(role, goal string, p Provider, opts ...AgentOption) (*Agent, error) {
	cleanRole, err := sanitizeField("agent.role", role, MaxRoleLength)
	if err != nil {
		return nil, err
	}
	cleanGoal, err := sanitizeField("agent.goal", goal, MaxGoalLength)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, &ErrInput{Field: "agent.provider", Reason: "must not be nil"}
	}
	cfg := agentConfig{
		generation: GenerateOptions{Temperature: 0.7, MaxTokens: 1000},
		prompts: PromptConfig{
			IncludeMemory:     true,
			IncludeTools:      true,
			MaxContextLength:  2000,
			MemorySearchLimit: 5,
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = nopLogger
	}
	if cfg.prompts.MaxContextLength <= 0 {
		cfg.prompts.MaxContextLength = 2000
	}
	if cfg.prompts.MemorySearchLimit <= 0 {
		cfg.prompts.MemorySearchLimit = 5
	}
	return &Agent{
		ID:       NewID(),
		Role:     cleanRole,
		Goal:     cleanGoal,
		provider: p,
		cfg:      cfg,
	}, nil
}

// Memory returns the agent's memory store, or nil.
func (a *Agent) Memory() Memory { return a.cfg.memory }

// Tools returns the agent's tool registry, or nil.
func (a *Agent) Tools() *ToolRegistry { return a.cfg.tools }

// Handle runs the task to completion: recall memory, run requested tools,
// assemble the prompt, generate, persist the exchange.
func (a *Agent) Handle(ctx context.Context, task *Task) (Response, error) {
	start := time.Now()
	if a.cfg.tracer != nil {
		var span Span
		ctx, span = a.cfg.tracer.Start(ctx, "agent.handle",
			StringAttr("agent.role", a.Role))
		defer span.End()
	}

	prompt, toolResults, err := a.prepare(ctx, task)
	if err != nil {
		return Response{}, err
	}

	a.cfg.logger.Debug("generating", "agent", a.Role, "provider", a.provider.Name(), "prompt_len", len(prompt))
	content, err := a.provider.Generate(ctx, prompt, a.cfg.generation)
	if err != nil {
		a.cfg.logger.Error("generation failed", "agent", a.Role, "error", err)
		return Response{}, err
	}

	a.persistExchange(ctx, prompt, content, task.Description)

	resp := Response{
		Content:       content,
		AgentRole:     a.Role,
		ToolResults:   toolResults,
		ExecutionTime: time.Since(start).Seconds(),
	}
	if u, ok := a.provider.LastUsage(); ok {
		resp.Usage = u
	}
	return resp, nil
}

// HandleStream runs the task through the provider's streaming path. The
// returned Stream is live; consume it with Recv or ToResponse. onChunk,
// when non-nil, fires per chunk with the chunk and accumulated content.
func (a *Agent) HandleStream(ctx context.Context, task *Task, onChunk ChunkFunc) (*Stream, error) {
	prompt, toolResults, err := a.prepare(ctx, task)
	if err != nil {
		return nil, err
	}

	var opts []StreamOption
	if onChunk != nil {
		opts = append(opts, WithChunkCallback(onChunk))
	}
	s := NewStream(a.Role, opts...)
	s.toolResults = toolResults

	// A consumer that stops pulling calls Close, which cancels this
	// context; the provider's HTTP read unblocks within one chunk.
	ctx, cancel := context.WithCancel(ctx)
	s.bindCancel(cancel)

	// The provider writes into an intermediate channel so the stream's
	// error and usage are recorded before its sink closes. Consumers then
	// always observe a terminal error on a failed stream.
	go func() {
		defer cancel()
		mid := make(chan string, 16)
		var (
			content   string
			streamErr error
		)
		done := make(chan struct{})
		go func() {
			defer close(done)
			content, streamErr = a.provider.Stream(ctx, prompt, a.cfg.generation, mid)
		}()

		sink := s.Sink()
	forward:
		for chunk := range mid {
			select {
			case sink <- chunk:
			case <-s.closed:
				break forward
			}
		}
		// After Close the provider's context is cancelled; discard what
		// it emits until it closes mid.
		for range mid {
		}
		<-done

		if streamErr != nil {
			a.cfg.logger.Error("stream failed", "agent", a.Role, "error", streamErr)
			s.Fail(streamErr)
		} else {
			if u, ok := a.provider.LastUsage(); ok {
				s.SetUsage(u)
			}
			a.persistExchange(ctx, prompt, content, task.Description)
		}
		close(sink)
	}()
	return s, nil
}

// prepare resolves the effective context, recalls memory, runs requested
// tools, and assembles the prompt.
func (a *Agent) prepare(ctx context.Context, task *Task) (string, map[string]any, error) {
	if task == nil {
		return "", nil, &ErrInput{Field: "task", Reason: "must not be nil"}
	}

	effective := make(map[string]any, len(a.cfg.context)+len(task.Context)+2)
	for k, v := range a.cfg.context {
		effective[k] = v
	}
	for k, v := range task.Context {
		effective[k] = v
	}

	if a.cfg.memory != nil && a.cfg.prompts.IncludeMemory {
		records, err := a.cfg.memory.Search(ctx, task.Description, a.cfg.prompts.MemorySearchLimit)
		if err != nil {
			a.cfg.logger.Warn("memory recall failed", "agent", a.Role, "error", err)
		} else if len(records) > 0 {
			recalled := make([]any, len(records))
			for i, r := range records {
				recalled[i] = r.Data
			}
			effective["memory"] = recalled
		}
	}

	var toolResults map[string]any
	if len(task.ToolInputs) > 0 && a.cfg.tools != nil {
		toolResults = a.runTools(ctx, task)
		if a.cfg.prompts.IncludeTools {
			effective["tools"] = toolResults
		}
	}

	prompt := buildPrompt(a.Role, a.Goal, effective, task.Description, a.cfg.prompts.MaxContextLength)
	return prompt, toolResults, nil
}

// runTools executes each tool the task names, in sorted order. Tool errors
// are captured into the result map, not propagated.
func (a *Agent) runTools(ctx context.Context, task *Task) map[string]any {
	names := make([]string, 0, len(task.ToolInputs))
	for name := range task.ToolInputs {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make(map[string]any, len(names))
	for _, name := range names {
		out, err := a.cfg.tools.Execute(ctx, name, task.ToolInputs[name])
		if err != nil {
			a.cfg.logger.Warn("tool failed", "agent", a.Role, "tool", name, "error", err)
			results[name] = map[string]any{"status": "error", "message": err.Error()}
			continue
		}
		results[name] = out
	}
	return results
}

// persistExchange stores the prompt/response pair in memory. Failures are
// logged, never propagated; generation already succeeded.
func (a *Agent) persistExchange(ctx context.Context, prompt, response, description string) {
	if a.cfg.memory == nil {
		return
	}
	key := "agent_memory_" + NewID()
	data := map[string]any{
		"prompt":     prompt,
		"response":   response,
		"agent_role": a.Role,
		"task":       description,
	}
	if err := a.cfg.memory.Store(ctx, key, data, nil, 0); err != nil {
		a.cfg.logger.Warn("memory persist failed", "agent", a.Role, "error", err)
	}
}

// buildPrompt concatenates role, goal, context, and the task description.
// The total length is capped at maxLen by truncating the context section
// first; role, goal, and description are never cut.
func buildPrompt(role, goal string, context map[string]any, description string, maxLen int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s.\nYour goal: %s.\n", role, goal)

	contextSection := ""
	if len(context) > 0 {
		if encoded, err := json.Marshal(context); err == nil {
			contextSection = "\nContext:\n" + string(encoded) + "\n"
		}
	}
	tail := "\nTask: " + description

	if maxLen > 0 {
		fixed := b.Len() + len(tail)
		if fixed+len(contextSection) > maxLen {
			allowed := maxLen - fixed
			if allowed < 0 {
				allowed = 0
			}
			contextSection = contextSection[:min(allowed, len(contextSection))]
		}
	}
	b.WriteString(contextSection)
	b.WriteString(tail)
	return b.String()
}
