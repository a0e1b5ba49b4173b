package armada

import (
	"context"
	"fmt"
	"strconv"
)

// Field describes one input field in a tool schema.
type Field struct {
	Required bool   `json:"required"`
	Type     string `json:"type"` // string, array, integer, float, boolean
	// MaxLength caps string fields; 0 means unlimited.
	MaxLength int `json:"max_length,omitempty"`
}

// Tool is a named capability an agent can invoke. Tools are stateless with
// respect to invocations; Execute may be called concurrently.
type Tool interface {
	Name() string
	Description() string
	Schema() map[string]Field
	Execute(ctx context.Context, input map[string]any) (map[string]any, error)
}

// ToolRegistry holds tools keyed by name and validates inputs against each
// tool's schema before dispatch.
type ToolRegistry struct {
	tools map[string]Tool
	order []string
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Add registers a tool. A tool re-registered under the same name replaces
// the previous one.
func (r *ToolRegistry) Add(t Tool) {
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

// Get returns the tool registered under name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns registered tool names in insertion order.
func (r *ToolRegistry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Execute validates input against the named tool's schema, then runs it.
// Unknown tools return an error; validation failures return *ErrToolInput.
func (r *ToolRegistry) Execute(ctx context.Context, name string, input map[string]any) (map[string]any, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
	validated, err := ValidateInput(t.Schema(), input)
	if err != nil {
		return nil, err
	}
	return t.Execute(ctx, validated)
}

// ValidateInput checks input against schema: required fields present, types
// coerced, string lengths capped, unknown fields dropped, dangerous text
// rejected. Returns the coerced input or an *ErrToolInput.
func ValidateInput(schema map[string]Field, input map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(schema))
	for name, field := range schema {
		raw, present := input[name]
		if !present {
			if field.Required {
				return nil, &ErrToolInput{Field: name, Reason: "required"}
			}
			continue
		}
		coerced, err := coerceField(name, field, raw)
		if err != nil {
			return nil, err
		}
		out[name] = coerced
	}
	return out, nil
}

func coerceField(name string, field Field, raw any) (any, error) {
	switch field.Type {
	case "string", "":
		s, err := coerceString(name, raw)
		if err != nil {
			return nil, err
		}
		if field.MaxLength > 0 && len(s) > field.MaxLength {
			return nil, &ErrToolInput{Field: name, Reason: "too long"}
		}
		if CheckDangerous(s) {
			return nil, &ErrToolInput{Field: name, Reason: "dangerous content"}
		}
		return s, nil
	case "integer":
		switch v := raw.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			return int(v), nil
		case string:
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, &ErrToolInput{Field: name, Reason: "not an integer"}
			}
			return n, nil
		}
		return nil, &ErrToolInput{Field: name, Reason: "not an integer"}
	case "float":
		if f, ok := toFloat(raw); ok {
			return f, nil
		}
		if s, ok := raw.(string); ok {
			f, err := strconv.ParseFloat(s, 64)
			if err == nil {
				return f, nil
			}
		}
		return nil, &ErrToolInput{Field: name, Reason: "not a number"}
	case "boolean":
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, &ErrToolInput{Field: name, Reason: "not a boolean"}
			}
			return b, nil
		}
		return nil, &ErrToolInput{Field: name, Reason: "not a boolean"}
	case "array":
		switch v := raw.(type) {
		case []any:
			for i, el := range v {
				if s, ok := el.(string); ok && CheckDangerous(s) {
					return nil, &ErrToolInput{Field: fmt.Sprintf("%s[%d]", name, i), Reason: "dangerous content"}
				}
			}
			return v, nil
		case []string:
			out := make([]any, len(v))
			for i, s := range v {
				if CheckDangerous(s) {
					return nil, &ErrToolInput{Field: fmt.Sprintf("%s[%d]", name, i), Reason: "dangerous content"}
				}
				out[i] = s
			}
			return out, nil
		}
		return nil, &ErrToolInput{Field: name, Reason: "not an array"}
	}
	return nil, &ErrToolInput{Field: name, Reason: "unknown type " + field.Type}
}

func coerceString(name string, raw any) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	}
	return "", &ErrToolInput{Field: name, Reason: "not a string"}
}
