package observer

import (
	"context"
	"errors"
	"testing"

	armada "github.com/armadahq/armada"
)

// mockProvider for observer tests.
type mockProvider struct {
	reply string
	err   error
	usage armada.Usage
}

func (m *mockProvider) Generate(_ context.Context, _ string, _ armada.GenerateOptions) (string, error) {
	return m.reply, m.err
}

func (m *mockProvider) Stream(ctx context.Context, _ string, _ armada.GenerateOptions, ch chan<- string) (string, error) {
	ch <- "hello"
	ch <- " world"
	close(ch)
	return m.reply, m.err
}

func (m *mockProvider) Name() string                     { return "mock" }
func (m *mockProvider) Model() string                    { return "mock-1" }
func (m *mockProvider) Modes() []armada.Mode             { return []armada.Mode{armada.ModeChat} }
func (m *mockProvider) SetMode(armada.Mode) error        { return nil }
func (m *mockProvider) SupportsMode(mo armada.Mode) bool { return mo == armada.ModeChat }
func (m *mockProvider) LastUsage() (armada.Usage, bool)  { return m.usage, true }

// mockTool for observer tests.
type mockTool struct {
	result map[string]any
	err    error
}

func (m *mockTool) Name() string                    { return "echo" }
func (m *mockTool) Description() string             { return "echoes" }
func (m *mockTool) Schema() map[string]armada.Field { return nil }
func (m *mockTool) Execute(_ context.Context, _ map[string]any) (map[string]any, error) {
	return m.result, m.err
}

// testInstruments creates Instruments over the global OTEL providers,
// which are no-ops by default. Safe for testing delegation behavior
// without a real OTEL backend.
func testInstruments(t *testing.T) *Instruments {
	t.Helper()
	inst, err := newInstruments(nil)
	if err != nil {
		t.Fatalf("newInstruments: %v", err)
	}
	return inst
}

func TestObservedProviderPassthrough(t *testing.T) {
	inner := &mockProvider{reply: "out", usage: armada.Usage{PromptTokens: 3, CompletionTokens: 2}}
	op := WrapProvider(inner, testInstruments(t))

	if op.Name() != "mock" || op.Model() != "mock-1" {
		t.Errorf("identity = %q/%q", op.Name(), op.Model())
	}
	if !op.SupportsMode(armada.ModeChat) || op.SupportsMode(armada.ModeEmbedding) {
		t.Error("mode support not delegated")
	}
	if u, ok := op.LastUsage(); !ok || u.Total() != 5 {
		t.Errorf("usage = %+v, %v", u, ok)
	}
}

func TestObservedProviderGenerate(t *testing.T) {
	op := WrapProvider(&mockProvider{reply: "out"}, testInstruments(t))

	got, err := op.Generate(context.Background(), "hi", armada.GenerateOptions{})
	if err != nil || got != "out" {
		t.Errorf("Generate = %q, %v", got, err)
	}
}

func TestObservedProviderGenerateError(t *testing.T) {
	wantErr := errors.New("provider unavailable")
	op := WrapProvider(&mockProvider{err: wantErr}, testInstruments(t))

	_, err := op.Generate(context.Background(), "hi", armada.GenerateOptions{})
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}

func TestObservedProviderStream(t *testing.T) {
	op := WrapProvider(&mockProvider{reply: "hello world"}, testInstruments(t))

	ch := make(chan string, 10)
	got, err := op.Stream(context.Background(), "hi", armada.GenerateOptions{}, ch)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var chunks []string
	for chunk := range ch {
		chunks = append(chunks, chunk)
	}
	if len(chunks) != 2 || chunks[0] != "hello" || chunks[1] != " world" {
		t.Errorf("chunks = %v", chunks)
	}
	if got != "hello world" {
		t.Errorf("content = %q", got)
	}
}

func TestObservedToolExecute(t *testing.T) {
	want := map[string]any{"echo": "hi"}
	ot := WrapTool(&mockTool{result: want}, testInstruments(t))

	if ot.Name() != "echo" {
		t.Errorf("Name = %q", ot.Name())
	}
	got, err := ot.Execute(context.Background(), map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got["echo"] != "hi" {
		t.Errorf("result = %v", got)
	}
}

func TestObservedToolExecuteError(t *testing.T) {
	wantErr := errors.New("tool broken")
	ot := WrapTool(&mockTool{err: wantErr}, testInstruments(t))

	_, err := ot.Execute(context.Background(), nil)
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}
