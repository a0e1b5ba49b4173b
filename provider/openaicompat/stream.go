package openaicompat

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
)

// streamSSE reads an OpenAI-style SSE stream from body, forwards content
// deltas to ch, and returns the accumulated text plus the usage payload
// when the stream carried one. ch is closed before returning.
//
// Wire format:
//
//	data: {"choices":[{"delta":{"content":"..."}}]}\n
//	data: [DONE]\n
func streamSSE(ctx context.Context, body io.Reader, ch chan<- string) (string, *usagePayload, error) {
	defer close(ch)

	scanner := bufio.NewScanner(body)
	// Large SSE payloads exceed the default token size.
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	var content strings.Builder
	var usage *usagePayload

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk chatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Skip malformed chunks.
			continue
		}
		if chunk.Usage != nil {
			u := *chunk.Usage
			usage = &u
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta == nil {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			content.WriteString(delta)
			select {
			case ch <- delta:
			case <-ctx.Done():
				return content.String(), usage, ctx.Err()
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return content.String(), usage, err
	}
	return content.String(), usage, nil
}
