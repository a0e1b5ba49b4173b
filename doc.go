// Package armada is an orchestration engine for multi-agent LLM workflows.
//
// Agents are named roles bound to a provider, a memory store, and an
// optional tool set. Crews run ordered task lists through agents either
// sequentially (with context propagation between tasks) or in parallel.
// Flows lift crews into multi-step pipelines with conditional gating,
// delays, nested crews, and custom handlers.
//
// The root package carries the domain core. Leaf concerns live in
// subpackages: provider backends under provider/, durable stores under
// memory/, token accounting under usage/, the JSON-RPC tool-server client
// under mcp/, and the deferred-execution bridge under queue/.
//
// Minimal use:
//
//	p := openaicompat.New(apiKey, "gpt-4o-mini")
//	agent, err := armada.NewAgent("Writer", "Write short blog posts", p)
//	if err != nil { ... }
//	crew := armada.NewCrew()
//	crew.AddAgent(agent)
//	crew.AddTask(armada.MustTask("Write a post about tides"))
//	result := crew.Execute(ctx)
package armada
