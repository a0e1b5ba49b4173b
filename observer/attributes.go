package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for armada observability spans and metrics.
var (
	AttrLLMModel    = attribute.Key("llm.model")
	AttrLLMProvider = attribute.Key("llm.provider")
	AttrLLMMethod   = attribute.Key("llm.method")

	AttrTokensInput  = attribute.Key("llm.tokens.input")
	AttrTokensOutput = attribute.Key("llm.tokens.output")
	AttrCostUSD      = attribute.Key("llm.cost_usd")

	AttrStreamChunks = attribute.Key("llm.stream_chunks")

	AttrToolName   = attribute.Key("tool.name")
	AttrToolStatus = attribute.Key("tool.status")

	AttrAgentRole   = attribute.Key("agent.role")
	AttrCrewMode    = attribute.Key("crew.mode")
	AttrCrewTasks   = attribute.Key("crew.tasks")
	AttrFlowStep    = attribute.Key("flow.step")
	AttrStepType    = attribute.Key("flow.step_type")
	AttrStepSkipped = attribute.Key("flow.step_skipped")
)
