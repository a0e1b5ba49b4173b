package openaicompat

// usagePayload is the usage object shared by chat, completion, and
// embedding responses.
type usagePayload struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatChoice struct {
	Message chatMessage `json:"message"`
	Delta   *chatDelta  `json:"delta,omitempty"`
}

type chatDelta struct {
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []chatChoice  `json:"choices"`
	Usage   *usagePayload `json:"usage,omitempty"`
}

type completionChoice struct {
	Text string `json:"text"`
}

type completionResponse struct {
	Choices []completionChoice `json:"choices"`
	Usage   *usagePayload      `json:"usage,omitempty"`
}

type embeddingDatum struct {
	Embedding []float32 `json:"embedding"`
}

type embeddingResponse struct {
	Data  []embeddingDatum `json:"data"`
	Usage *usagePayload    `json:"usage,omitempty"`
}
