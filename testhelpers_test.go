package armada

import (
	"context"
	"strings"
	"sync"
	"time"
)

// mockProvider is a scriptable Provider for tests. Generate returns
// reply; Stream emits chunks (or the whole reply when chunks is nil).
type mockProvider struct {
	name   string
	model  string
	mode   Mode
	reply  string
	chunks []string
	err    error
	usage  Usage
	hasUse bool

	mu      sync.Mutex
	calls   int
	prompts []string
}

func newMockProvider(reply string) *mockProvider {
	return &mockProvider{name: "mock", model: "mock-1", mode: ModeChat, reply: reply}
}

func (m *mockProvider) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	m.mu.Lock()
	m.calls++
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	return m.reply, nil
}

func (m *mockProvider) Stream(ctx context.Context, prompt string, opts GenerateOptions, ch chan<- string) (string, error) {
	m.mu.Lock()
	m.calls++
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()
	if m.err != nil {
		close(ch)
		return "", m.err
	}
	chunks := m.chunks
	if chunks == nil {
		chunks = []string{m.reply}
	}
	var b strings.Builder
	for _, c := range chunks {
		ch <- c
		b.WriteString(c)
	}
	close(ch)
	return b.String(), nil
}

func (m *mockProvider) Name() string  { return m.name }
func (m *mockProvider) Model() string { return m.model }
func (m *mockProvider) Modes() []Mode { return []Mode{ModeChat} }

func (m *mockProvider) SetMode(mo Mode) error {
	if mo != ModeChat {
		return &ErrInput{Field: "mode", Reason: "unsupported"}
	}
	m.mode = mo
	return nil
}

func (m *mockProvider) SupportsMode(mo Mode) bool { return mo == ModeChat }
func (m *mockProvider) LastUsage() (Usage, bool)  { return m.usage, m.hasUse }

func (m *mockProvider) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockProvider) lastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.prompts) == 0 {
		return ""
	}
	return m.prompts[len(m.prompts)-1]
}

var _ Provider = (*mockProvider)(nil)

// memMemory is an in-process Memory for tests.
type memMemory struct {
	mu      sync.Mutex
	records map[string]MemoryRecord
}

func newMemMemory() *memMemory {
	return &memMemory{records: make(map[string]MemoryRecord)}
}

func (m *memMemory) Store(ctx context.Context, key string, data any, metadata map[string]any, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := NowUnix()
	rec, exists := m.records[key]
	if !exists {
		rec = MemoryRecord{Key: key, CreatedAt: now}
	}
	rec.Data = data
	rec.Metadata = metadata
	rec.UpdatedAt = now
	rec.ExpiresAt = 0
	if ttl > 0 {
		rec.ExpiresAt = now + int64(ttl/time.Second)
	}
	m.records[key] = rec
	return nil
}

func (m *memMemory) expired(rec MemoryRecord) bool {
	return rec.ExpiresAt > 0 && rec.ExpiresAt <= NowUnix()
}

func (m *memMemory) Recall(ctx context.Context, key string) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok || m.expired(rec) {
		return nil, nil
	}
	return rec.Data, nil
}

func (m *memMemory) Search(ctx context.Context, query string, limit int) ([]MemoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []MemoryRecord
	for _, rec := range m.records {
		if m.expired(rec) {
			continue
		}
		encoded, _ := EncodeMemoryValue(rec.Data)
		if strings.Contains(rec.Key, query) || strings.Contains(encoded, query) {
			out = append(out, rec)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memMemory) Forget(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, key)
	return nil
}

func (m *memMemory) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]MemoryRecord)
	return nil
}

func (m *memMemory) Has(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	return ok && !m.expired(rec), nil
}

func (m *memMemory) Stats(ctx context.Context) (MemoryStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var st MemoryStats
	for _, rec := range m.records {
		if m.expired(rec) {
			st.Expired++
			continue
		}
		st.Records++
	}
	return st, nil
}

func (m *memMemory) Cleanup(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, rec := range m.records {
		if m.expired(rec) {
			delete(m.records, k)
			n++
		}
	}
	return n, nil
}

func (m *memMemory) keysWithPrefix(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.records {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out
}

var _ Memory = (*memMemory)(nil)

// echoTool returns its input under "echoed".
type echoTool struct {
	failWith error
}

func (t *echoTool) Name() string        { return "echo" }
func (t *echoTool) Description() string { return "echoes its input" }

func (t *echoTool) Schema() map[string]Field {
	return map[string]Field{
		"text": {Required: true, Type: "string"},
	}
}

func (t *echoTool) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	if t.failWith != nil {
		return nil, t.failWith
	}
	return map[string]any{"echoed": input["text"]}, nil
}

var _ Tool = (*echoTool)(nil)
