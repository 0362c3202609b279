package translator

import "fmt"

// openAIOnlyKeys never appear in a Claude Messages request.
var openAIOnlyKeys = []string{
	"max_completion_tokens", "n", "response_format", "stream_options",
	"logprobs", "top_logprobs", "frequency_penalty", "presence_penalty", "seed",
}

// Detect classifies a raw body. The most distinctive shapes are checked first:
// Gemini contents, then Responses input items, then Claude messages, then
// OpenAI chat. Anything else is ErrUnrecognizedFormat.
func Detect(body []byte) (Format, error) {
	m, err := DecodeObject(body)
	if err != nil {
		return "", err
	}
	return DetectMap(m)
}

// DetectMap is Detect for an already decoded body.
func DetectMap(m map[string]any) (Format, error) {
	if contents, ok := asSlice(m["contents"]); ok && anyItemHas(contents, "parts") {
		return FormatGemini, nil
	}

	if input, ok := asSlice(m["input"]); ok && anyItemTyped(input, "message") {
		return FormatOpenAIResponses, nil
	}

	_, hasInput := m["input"]
	_, hasContents := m["contents"]
	if messages, ok := asSlice(m["messages"]); ok && !hasInput && !hasContents {
		if _, hasMax := m["max_tokens"]; hasMax && !hasOpenAIMarkers(m, messages) {
			return FormatClaude, nil
		}
		return FormatOpenAIChat, nil
	}

	// A bare string input is the short form of a Responses request.
	if s, ok := m["input"].(string); ok && s != "" && !hasContents {
		return FormatOpenAIResponses, nil
	}

	return "", fmt.Errorf("%w: no messages, input or contents array", ErrUnrecognizedFormat)
}

func anyItemHas(items []any, key string) bool {
	for _, item := range items {
		if m, ok := asMap(item); ok {
			if _, has := m[key]; has {
				return true
			}
		}
	}
	return false
}

func anyItemTyped(items []any, typ string) bool {
	for _, item := range items {
		if m, ok := asMap(item); ok && asString(m["type"]) == typ {
			return true
		}
	}
	return false
}

// hasOpenAIMarkers reports shapes that only OpenAI chat bodies carry, so an
// OpenAI request that happens to set max_tokens is not taken for Claude.
func hasOpenAIMarkers(m map[string]any, messages []any) bool {
	for _, k := range openAIOnlyKeys {
		if _, ok := m[k]; ok {
			return true
		}
	}
	for _, item := range messages {
		msg, ok := asMap(item)
		if !ok {
			continue
		}
		switch asString(msg["role"]) {
		case "system", "developer", "tool":
			return true
		}
		if _, ok := msg["tool_calls"]; ok {
			return true
		}
	}
	if tools, ok := asSlice(m["tools"]); ok && anyItemHas(tools, "function") {
		return true
	}
	return false
}
