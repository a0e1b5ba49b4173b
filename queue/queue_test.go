package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	armada "github.com/armadahq/armada"
)

// memStore is an in-memory armada.Memory for tests.
type memStore struct {
	mu      sync.Mutex
	records map[string]armada.MemoryRecord
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]armada.MemoryRecord)}
}

func (m *memStore) Store(ctx context.Context, key string, data any, metadata map[string]any, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := armada.NowUnix()
	m.records[key] = armada.MemoryRecord{Key: key, Data: data, Metadata: metadata, CreatedAt: now, UpdatedAt: now}
	return nil
}

func (m *memStore) Recall(ctx context.Context, key string) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok {
		return nil, nil
	}
	return rec.Data, nil
}

func (m *memStore) Search(ctx context.Context, query string, limit int) ([]armada.MemoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []armada.MemoryRecord
	for key, rec := range m.records {
		if strings.Contains(key, query) || strings.Contains(fmt.Sprint(rec.Data), query) {
			out = append(out, rec)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memStore) Forget(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, key)
	return nil
}

func (m *memStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]armada.MemoryRecord)
	return nil
}

func (m *memStore) Has(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[key]
	return ok, nil
}

func (m *memStore) Stats(ctx context.Context) (armada.MemoryStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return armada.MemoryStats{Records: len(m.records)}, nil
}

func (m *memStore) Cleanup(ctx context.Context) (int, error) { return 0, nil }

func (m *memStore) keysWithPrefix(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for key := range m.records {
		if strings.HasPrefix(key, prefix) {
			out = append(out, key)
		}
	}
	return out
}

// replyProvider returns a canned reply and reports no usage.
type replyProvider struct {
	reply string
}

func (p *replyProvider) Generate(ctx context.Context, prompt string, opts armada.GenerateOptions) (string, error) {
	return p.reply, nil
}

func (p *replyProvider) Stream(ctx context.Context, prompt string, opts armada.GenerateOptions, ch chan<- string) (string, error) {
	ch <- p.reply
	close(ch)
	return p.reply, nil
}

func (p *replyProvider) Name() string                    { return "mock" }
func (p *replyProvider) Model() string                   { return "mock-1" }
func (p *replyProvider) Modes() []armada.Mode            { return []armada.Mode{armada.ModeChat} }
func (p *replyProvider) SetMode(m armada.Mode) error     { return nil }
func (p *replyProvider) SupportsMode(m armada.Mode) bool { return m == armada.ModeChat }
func (p *replyProvider) LastUsage() (armada.Usage, bool) { return armada.Usage{}, false }

func mockResolver(name string) (armada.Provider, error) {
	return &replyProvider{reply: "done"}, nil
}

func crewSpec() *CrewSpec {
	return &CrewSpec{
		Agents: []AgentSpec{{Role: "writer", Goal: "write", Provider: "mock"}},
		Tasks:  []TaskSpec{{Description: "write a summary"}},
	}
}

func TestEnqueueAndRunCrewJob(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	q := NewQueue(store)

	id, err := q.EnqueueCrew(ctx, crewSpec())
	if err != nil {
		t.Fatalf("EnqueueCrew: %v", err)
	}
	if has, _ := store.Has(ctx, jobKeyPrefix+id); !has {
		t.Fatal("job not stored")
	}

	var gotID string
	var gotResult armada.CrewResult
	w := NewWorker(store, mockResolver, WithHooks(Hooks{
		OnCrewExecuted: func(jobID string, r armada.CrewResult) { gotID, gotResult = jobID, r },
	}))
	w.tick(ctx)

	if gotID != id {
		t.Fatalf("hook job id = %q, want %q", gotID, id)
	}
	if !gotResult.Success || len(gotResult.Results) != 1 || gotResult.Results[0].Response.Content != "done" {
		t.Errorf("result = %+v", gotResult)
	}
	if has, _ := store.Has(ctx, jobKeyPrefix+id); has {
		t.Error("job still queued after run")
	}
	if keys := store.keysWithPrefix("crew_result_"); len(keys) != 1 {
		t.Errorf("result keys = %v", keys)
	}
}

func TestWorkerRejectsNonWhitelistedTool(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	q := NewQueue(store)

	spec := crewSpec()
	spec.Agents[0].Tools = []ToolSpec{{Name: "shell"}}
	id, _ := q.EnqueueCrew(ctx, spec)

	var gotErr error
	w := NewWorker(store, mockResolver, WithHooks(Hooks{
		OnCrewFailed: func(jobID string, err error) {
			if jobID == id {
				gotErr = err
			}
		},
	}))
	w.tick(ctx)

	var notAllowed *ErrToolNotAllowed
	if !errors.As(gotErr, &notAllowed) || notAllowed.Name != "shell" {
		t.Fatalf("err = %v, want *ErrToolNotAllowed", gotErr)
	}
	if keys := store.keysWithPrefix("crew_result_"); len(keys) != 0 {
		t.Errorf("unexpected result keys: %v", keys)
	}
}

func TestRegisterToolWhitelist(t *testing.T) {
	w := NewWorker(newMemStore(), mockResolver)
	if err := w.RegisterTool("http", func(config map[string]any) (armada.Tool, error) {
		return nil, nil
	}); err != nil {
		t.Fatalf("RegisterTool(http): %v", err)
	}
	err := w.RegisterTool("shell", func(config map[string]any) (armada.Tool, error) {
		return nil, nil
	})
	var notAllowed *ErrToolNotAllowed
	if !errors.As(err, &notAllowed) {
		t.Fatalf("RegisterTool(shell) = %v, want *ErrToolNotAllowed", err)
	}
}

func TestWorkerResanitizesJobFields(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	q := NewQueue(store)

	spec := crewSpec()
	spec.Tasks[0].Description = "<script>alert(1)</script>"
	q.EnqueueCrew(ctx, spec)

	var gotErr error
	w := NewWorker(store, mockResolver, WithHooks(Hooks{
		OnCrewFailed: func(jobID string, err error) { gotErr = err },
	}))
	w.tick(ctx)

	var input *armada.ErrInput
	if !errors.As(gotErr, &input) {
		t.Fatalf("err = %v, want *ErrInput", gotErr)
	}
}

func TestWorkerRunsFlowJob(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	q := NewQueue(store)

	id, err := q.EnqueueFlow(ctx, &FlowSpec{
		Context: map[string]any{"count": 3},
		Steps: []StepSpec{
			{Name: "check", Type: "condition", Condition: &CondSpec{Variable: "count", Operator: ">", Literal: 1}},
			{Name: "mark", Type: "custom", Handler: "mark",
				When: []CondSpec{{Variable: "check", Operator: "==", Literal: true}}},
		},
	})
	if err != nil {
		t.Fatalf("EnqueueFlow: %v", err)
	}

	var gotResult armada.FlowResult
	w := NewWorker(store, mockResolver, WithHooks(Hooks{
		OnFlowExecuted: func(jobID string, r armada.FlowResult) { gotResult = r },
	}))
	w.RegisterHandler("mark", func(ctx context.Context, flowCtx map[string]any) (any, error) {
		return "marked", nil
	})
	w.tick(ctx)

	if !gotResult.Success || len(gotResult.Results) != 2 {
		t.Fatalf("result = %+v", gotResult)
	}
	if gotResult.Results[1].Result != "marked" {
		t.Errorf("custom step result = %v", gotResult.Results[1].Result)
	}
	if keys := store.keysWithPrefix("flow_result_"); len(keys) != 1 {
		t.Errorf("result keys = %v", keys)
	}
	_ = id
}

func TestWorkerMissingHandler(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	q := NewQueue(store)

	q.EnqueueFlow(ctx, &FlowSpec{
		Steps: []StepSpec{{Name: "mark", Type: "custom", Handler: "nonesuch"}},
	})

	var gotErr error
	w := NewWorker(store, mockResolver, WithHooks(Hooks{
		OnFlowFailed: func(jobID string, err error) { gotErr = err },
	}))
	w.tick(ctx)

	var missing *armada.ErrHandlerMissing
	if !errors.As(gotErr, &missing) || missing.Name != "nonesuch" {
		t.Fatalf("err = %v, want *ErrHandlerMissing", gotErr)
	}
}

func TestEnqueueValidatesShape(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(newMemStore())

	if _, err := q.EnqueueCrew(ctx, &CrewSpec{}); err == nil {
		t.Error("empty crew spec accepted")
	}
	if _, err := q.EnqueueFlow(ctx, &FlowSpec{}); err == nil {
		t.Error("empty flow spec accepted")
	}
}
