package queue

import (
	"fmt"
	"time"

	armada "github.com/armadahq/armada"
)

// buildCrew rehydrates a crew from its serialized spec. Every field
// passes through the sanitizer again; tool identifiers must be
// whitelisted and registered.
func (w *Worker) buildCrew(spec *CrewSpec) (*armada.Crew, error) {
	var opts []armada.CrewOption
	if spec.Mode == "parallel" {
		opts = append(opts, armada.WithExecutionMode(armada.ExecParallel))
	}
	if spec.TimeoutSeconds > 0 {
		opts = append(opts, armada.WithCrewTimeout(time.Duration(spec.TimeoutSeconds)*time.Second))
	}
	if spec.MaxRetries > 0 {
		opts = append(opts, armada.WithMaxRetries(spec.MaxRetries))
	}
	if spec.MaxParallel > 0 {
		opts = append(opts, armada.WithMaxParallel(spec.MaxParallel))
	}
	crew := armada.NewCrew(opts...)

	for _, as := range spec.Agents {
		agent, err := w.buildAgent(as)
		if err != nil {
			return nil, fmt.Errorf("agent %q: %w", as.Role, err)
		}
		crew.AddAgent(agent)
	}
	for i, ts := range spec.Tasks {
		task, err := buildTask(ts)
		if err != nil {
			return nil, fmt.Errorf("task %d: %w", i, err)
		}
		crew.AddTask(task)
	}
	return crew, nil
}

func (w *Worker) buildAgent(spec AgentSpec) (*armada.Agent, error) {
	provider, err := w.providers(spec.Provider)
	if err != nil {
		return nil, err
	}
	tools, err := w.buildTools(spec.Tools)
	if err != nil {
		return nil, err
	}

	var opts []armada.AgentOption
	if len(tools) > 0 {
		opts = append(opts, armada.WithTools(tools...))
	}
	if spec.Context != nil {
		clean, err := armada.SanitizeMap("agent.context", spec.Context)
		if err != nil {
			return nil, err
		}
		opts = append(opts, armada.WithAgentContext(clean))
	}
	if spec.Temperature != 0 || spec.MaxTokens != 0 {
		opts = append(opts, armada.WithGeneration(armada.GenerateOptions{
			Temperature: spec.Temperature,
			MaxTokens:   spec.MaxTokens,
		}))
	}
	opts = append(opts, armada.WithLogger(w.logger))
	return armada.NewAgent(spec.Role, spec.Goal, provider, opts...)
}

func (w *Worker) buildTools(specs []ToolSpec) ([]armada.Tool, error) {
	var tools []armada.Tool
	for _, ts := range specs {
		factory, registered := w.factories[ts.Name]
		if !allowedTools[ts.Name] || !registered {
			return nil, &ErrToolNotAllowed{Name: ts.Name}
		}
		t, err := factory(ts.Config)
		if err != nil {
			return nil, fmt.Errorf("tool %q: %w", ts.Name, err)
		}
		tools = append(tools, t)
	}
	return tools, nil
}

func buildTask(spec TaskSpec) (*armada.Task, error) {
	task, err := armada.NewTask(spec.Description)
	if err != nil {
		return nil, err
	}
	if spec.AgentRole != "" {
		task.WithAgent(spec.AgentRole)
	}
	for tool, input := range spec.ToolInputs {
		clean, err := armada.SanitizeMap("task.tool_inputs", input)
		if err != nil {
			return nil, err
		}
		task.WithToolInput(tool, clean)
	}
	if spec.Context != nil {
		clean, err := armada.SanitizeMap("task.context", spec.Context)
		if err != nil {
			return nil, err
		}
		task.WithContext(clean)
	}
	return task, nil
}

// buildFlow rehydrates a flow from its serialized spec. Custom steps
// resolve against the worker's handler registry.
func (w *Worker) buildFlow(spec *FlowSpec) (*armada.Flow, error) {
	var initial map[string]any
	if spec.Context != nil {
		clean, err := armada.SanitizeMap("flow.context", spec.Context)
		if err != nil {
			return nil, err
		}
		initial = clean
	}

	var opts []armada.FlowOption
	if spec.TimeoutSeconds > 0 {
		opts = append(opts, armada.WithFlowTimeout(time.Duration(spec.TimeoutSeconds)*time.Second))
	}
	if spec.MaxSteps > 0 {
		opts = append(opts, armada.WithMaxSteps(spec.MaxSteps))
	}
	flow := armada.NewFlow(initial, opts...)

	for i, ss := range spec.Steps {
		step, err := w.buildStep(ss)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, ss.Name, err)
		}
		flow.AddStep(step)
	}
	return flow, nil
}

func (w *Worker) buildStep(spec StepSpec) (*armada.Step, error) {
	var opts []armada.StepOption
	for _, cs := range spec.When {
		cond, err := buildCond(cs)
		if err != nil {
			return nil, err
		}
		opts = append(opts, armada.When(cond))
	}
	if spec.ContinueOnError {
		opts = append(opts, armada.ContinueOnError())
	}

	switch spec.Type {
	case "crew":
		if spec.Crew == nil {
			return nil, fmt.Errorf("crew step without crew spec")
		}
		crew, err := w.buildCrew(spec.Crew)
		if err != nil {
			return nil, err
		}
		return armada.CrewStep(spec.Name, crew, opts...), nil
	case "condition":
		if spec.Condition == nil {
			return nil, fmt.Errorf("condition step without condition spec")
		}
		cond, err := buildCond(*spec.Condition)
		if err != nil {
			return nil, err
		}
		return armada.ConditionStep(spec.Name, cond, opts...), nil
	case "delay":
		return armada.DelayStep(spec.Name, time.Duration(spec.DelayMS)*time.Millisecond, opts...), nil
	case "custom":
		handler, ok := w.handlers[spec.Handler]
		if !ok {
			return nil, &armada.ErrHandlerMissing{Name: spec.Handler}
		}
		return armada.CustomStep(spec.Name, handler, opts...), nil
	}
	return nil, fmt.Errorf("unknown step type %q", spec.Type)
}

func buildCond(spec CondSpec) (*armada.Condition, error) {
	if spec.Expr != "" {
		return armada.Expr(spec.Expr)
	}
	return armada.Simple(spec.Variable, spec.Operator, spec.Literal)
}
