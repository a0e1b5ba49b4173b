package armada

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func mustAgent(t *testing.T, role, goal string, p Provider, opts ...AgentOption) *Agent {
	t.Helper()
	a, err := NewAgent(role, goal, p, opts...)
	if err != nil {
		t.Fatalf("NewAgent(%s): %v", role, err)
	}
	return a
}

func TestCrewSequentialPropagatesContext(t *testing.T) {
	first := newMockProvider("X")
	second := newMockProvider("Y")

	crew := NewCrew().
		AddAgent(mustAgent(t, "first", "start", first)).
		AddAgent(mustAgent(t, "second", "finish", second)).
		AddTask(MustTask("step one").WithAgent("first")).
		AddTask(MustTask("step two").WithAgent("second"))

	res, err := crew.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("success = false: %s", res.Error)
	}
	if len(res.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(res.Results))
	}
	if res.Results[0].Response.Content != "X" || res.Results[1].Response.Content != "Y" {
		t.Errorf("contents = %q, %q", res.Results[0].Response.Content, res.Results[1].Response.Content)
	}

	prompt := second.lastPrompt()
	if !strings.Contains(prompt, `"previous_response":"X"`) {
		t.Errorf("second prompt missing previous_response: %q", prompt)
	}
	if !strings.Contains(prompt, `"previous_agent":"first"`) {
		t.Errorf("second prompt missing previous_agent: %q", prompt)
	}
}

func TestCrewDefaultsToFirstAgent(t *testing.T) {
	p := newMockProvider("ok")
	crew := NewCrew().
		AddAgent(mustAgent(t, "only", "goal", p)).
		AddTask(MustTask("no agent set"))

	res, err := crew.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Results[0].Agent != "only" {
		t.Errorf("agent = %q, want only", res.Results[0].Agent)
	}
}

func TestCrewUnknownAgent(t *testing.T) {
	crew := NewCrew().
		AddAgent(mustAgent(t, "present", "goal", newMockProvider("ok"))).
		AddTask(MustTask("task").WithAgent("absent"))

	res, err := crew.Execute(context.Background())
	var missing *ErrAgentNotInCrew
	if !errors.As(err, &missing) {
		t.Fatalf("err = %v, want *ErrAgentNotInCrew", err)
	}
	if missing.Role != "absent" {
		t.Errorf("role = %q", missing.Role)
	}
	if res.Success {
		t.Error("success should be false")
	}
}

func TestCrewParallelPreservesOrder(t *testing.T) {
	slow := newMockProvider("slow")
	fast := newMockProvider("fast")

	// Delay the first task so the second finishes first.
	slowTool := &sleepTool{d: 50 * time.Millisecond}
	crew := NewCrew(WithExecutionMode(ExecParallel)).
		AddAgent(mustAgent(t, "slow", "goal", slow, WithTools(slowTool))).
		AddAgent(mustAgent(t, "fast", "goal", fast)).
		AddTask(MustTask("one").WithAgent("slow").WithToolInput("sleep", map[string]any{})).
		AddTask(MustTask("two").WithAgent("fast"))

	res, err := crew.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(res.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(res.Results))
	}
	if res.Results[0].TaskIndex != 0 || res.Results[0].Response.Content != "slow" {
		t.Errorf("result 0 = %+v", res.Results[0])
	}
	if res.Results[1].TaskIndex != 1 || res.Results[1].Response.Content != "fast" {
		t.Errorf("result 1 = %+v", res.Results[1])
	}
}

func TestCrewParallelIsolatesContext(t *testing.T) {
	p := newMockProvider("ok")
	crew := NewCrew(WithExecutionMode(ExecParallel)).
		AddAgent(mustAgent(t, "a", "goal", p))

	shared := MustTask("shared")
	crew.AddTask(shared).AddTask(MustTask("other"))

	if _, err := crew.Execute(context.Background()); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, ok := shared.Context["previous_response"]; ok {
		t.Error("parallel mode must not link task contexts")
	}
}

func TestCrewParallelFailureKeepsCompletedResults(t *testing.T) {
	good := newMockProvider("ok")
	bad := newMockProvider("")
	bad.err = &ErrRequestFailed{Provider: "mock", Status: 500, Body: "down"}

	crew := NewCrew(WithExecutionMode(ExecParallel), WithMaxRetries(1)).
		AddAgent(mustAgent(t, "good", "goal", good)).
		AddAgent(mustAgent(t, "bad", "goal", bad)).
		AddTask(MustTask("one").WithAgent("good")).
		AddTask(MustTask("two").WithAgent("bad"))

	res, err := crew.Execute(context.Background())
	var reqErr *ErrRequestFailed
	if !errors.As(err, &reqErr) {
		t.Fatalf("err = %v, want *ErrRequestFailed", err)
	}
	if res.Success {
		t.Error("success should be false")
	}
	if len(res.Results) != 1 || res.Results[0].Agent != "good" {
		t.Errorf("partial results = %+v", res.Results)
	}
}

func TestCrewTimeout(t *testing.T) {
	p := &slowProvider{d: 200 * time.Millisecond}
	crew := NewCrew(WithCrewTimeout(10 * time.Millisecond)).
		AddAgent(mustAgent(t, "a", "goal", p)).
		AddTask(MustTask("slow"))

	_, err := crew.Execute(context.Background())
	var timeout *ErrTimeout
	if !errors.As(err, &timeout) {
		t.Fatalf("err = %v, want *ErrTimeout", err)
	}
	if timeout.Scope != "crew" {
		t.Errorf("scope = %q", timeout.Scope)
	}
}

func TestCrewExecuteStream(t *testing.T) {
	first := newMockProvider("")
	first.chunks = []string{"a", "b", "c"}
	second := newMockProvider("done")

	crew := NewCrew().
		AddAgent(mustAgent(t, "first", "goal", first)).
		AddAgent(mustAgent(t, "second", "goal", second)).
		AddTask(MustTask("stream me").WithAgent("first")).
		AddTask(MustTask("then finish").WithAgent("second"))

	events := make(chan CrewEvent, 16)
	type outcome struct {
		res CrewResult
		err error
	}
	resCh := make(chan outcome, 1)
	go func() {
		res, err := crew.ExecuteStream(context.Background(), events)
		resCh <- outcome{res, err}
	}()

	var chunks []string
	var completions int
	for ev := range events {
		switch ev.Type {
		case EventChunk:
			if ev.TaskIndex != 0 {
				t.Errorf("chunk from task %d", ev.TaskIndex)
			}
			chunks = append(chunks, ev.Chunk)
		case EventTaskComplete:
			completions++
			if ev.Response == nil {
				t.Error("completion event missing response")
			}
		}
	}

	out := <-resCh
	if out.err != nil {
		t.Fatalf("ExecuteStream: %v", out.err)
	}
	if strings.Join(chunks, "") != "abc" {
		t.Errorf("chunks = %v", chunks)
	}
	if completions != 2 {
		t.Errorf("completions = %d, want 2", completions)
	}
	if len(out.res.Results) != 2 || out.res.Results[0].Response.Content != "abc" {
		t.Errorf("results = %+v", out.res.Results)
	}
}

func TestCrewExecuteStreamTaskCallback(t *testing.T) {
	first := newMockProvider("")
	first.chunks = []string{"a", "b"}
	second := newMockProvider("")
	second.chunks = []string{"c", "d"}

	var calls int
	var last string
	streamed := MustTask("then stream").WithAgent("second").
		WithStreaming(func(chunk, soFar string) {
			calls++
			last = soFar
		})

	crew := NewCrew().
		AddAgent(mustAgent(t, "first", "goal", first)).
		AddAgent(mustAgent(t, "second", "goal", second)).
		AddTask(MustTask("stream me").WithAgent("first")).
		AddTask(streamed)

	events := make(chan CrewEvent, 16)
	type outcome struct {
		res CrewResult
		err error
	}
	resCh := make(chan outcome, 1)
	go func() {
		res, err := crew.ExecuteStream(context.Background(), events)
		resCh <- outcome{res, err}
	}()

	var secondChunks []string
	for ev := range events {
		if ev.Type == EventChunk && ev.TaskIndex == 1 {
			secondChunks = append(secondChunks, ev.Chunk)
		}
	}

	out := <-resCh
	if out.err != nil {
		t.Fatalf("ExecuteStream: %v", out.err)
	}
	if calls != 2 || last != "cd" {
		t.Errorf("callback calls = %d, last = %q, want 2 and cd", calls, last)
	}
	if strings.Join(secondChunks, "") != "cd" {
		t.Errorf("second task chunks = %v", secondChunks)
	}
}

func TestCrewRetriesTransientErrors(t *testing.T) {
	p := &flakyProvider{failures: 2, reply: "recovered"}
	crew := NewCrew().
		AddAgent(mustAgent(t, "a", "goal", p)).
		AddTask(MustTask("task"))

	res, err := crew.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Results[0].Response.Content != "recovered" {
		t.Errorf("content = %q", res.Results[0].Response.Content)
	}
	if p.calls != 3 {
		t.Errorf("calls = %d, want 3", p.calls)
	}
}

// sleepTool blocks for d or until the context is cancelled.
type sleepTool struct {
	d time.Duration
}

func (t *sleepTool) Name() string             { return "sleep" }
func (t *sleepTool) Description() string      { return "sleeps" }
func (t *sleepTool) Schema() map[string]Field { return map[string]Field{} }

func (t *sleepTool) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(t.d):
		return map[string]any{"slept": true}, nil
	}
}

// slowProvider blocks Generate for d or until the context is cancelled.
type slowProvider struct {
	mockProvider
	d time.Duration
}

func (p *slowProvider) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(p.d):
		return "slow", nil
	}
}

func (p *slowProvider) Name() string { return "slow" }

// flakyProvider fails its first n Generate calls with a 503.
type flakyProvider struct {
	mockProvider
	failures int
	reply    string
	calls    int
}

func (p *flakyProvider) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	p.calls++
	if p.calls <= p.failures {
		return "", &ErrRequestFailed{Provider: "flaky", Status: 503, Body: "busy"}
	}
	return p.reply, nil
}

func (p *flakyProvider) Name() string { return "flaky" }
