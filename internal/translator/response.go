package translator

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Canonical finish reasons.
const (
	FinishStop          = "stop"
	FinishLength        = "length"
	FinishToolCalls     = "tool_calls"
	FinishContentFilter = "content_filter"
)

// Usage counts tokens for one completion.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// CanonicalResponse is a complete, non-streamed model reply.
type CanonicalResponse struct {
	ID           string
	Model        string
	Text         string
	Reasoning    string
	ToolCalls    []Part
	FinishReason string
	Usage        Usage
}

// ResponseCodec is implemented by codecs that can also translate complete replies.
type ResponseCodec interface {
	ResponseToCanonical(body map[string]any) (*CanonicalResponse, error)
	ResponseFromCanonical(resp *CanonicalResponse) map[string]any
}

// TranslateResponse converts a provider reply in source format to the client's format.
func (r *Registry) TranslateResponse(body []byte, source, target Format) ([]byte, error) {
	if source == target {
		return body, nil
	}
	resp, err := r.DecodeResponse(body, source)
	if err != nil {
		return nil, err
	}
	return r.EncodeResponse(resp, target)
}

// DecodeResponse parses a provider reply into a canonical response.
func (r *Registry) DecodeResponse(body []byte, source Format) (*CanonicalResponse, error) {
	rc, err := r.responseCodec(source)
	if err != nil {
		return nil, err
	}
	m, err := DecodeObject(body)
	if err != nil {
		return nil, err
	}
	return rc.ResponseToCanonical(m)
}

// EncodeResponse renders a canonical response in the target format.
func (r *Registry) EncodeResponse(resp *CanonicalResponse, target Format) ([]byte, error) {
	rc, err := r.responseCodec(target)
	if err != nil {
		return nil, err
	}
	return json.Marshal(rc.ResponseFromCanonical(resp))
}

func (r *Registry) responseCodec(f Format) (ResponseCodec, error) {
	c, err := r.Codec(f)
	if err != nil {
		return nil, err
	}
	rc, ok := c.(ResponseCodec)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no response codec", ErrUnsupportedFormat, f)
	}
	return rc, nil
}

func intOf(v any) int {
	if p := asIntPtr(v); p != nil {
		return *p
	}
	return 0
}

func responseID(id, prefix string) string {
	if id != "" {
		return id
	}
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// --- OpenAI chat ---

func (OpenAIChatCodec) ResponseToCanonical(body map[string]any) (*CanonicalResponse, error) {
	resp := &CanonicalResponse{ID: asString(body["id"]), Model: asString(body["model"])}
	choices, _ := asSlice(body["choices"])
	if len(choices) == 0 {
		return nil, fmt.Errorf("response has no choices")
	}
	choice, _ := asMap(choices[0])
	msg, _ := asMap(choice["message"])
	resp.Text = asString(msg["content"])
	resp.Reasoning = asString(msg["reasoning_content"])
	resp.FinishReason = asString(choice["finish_reason"])
	if calls, ok := asSlice(msg["tool_calls"]); ok {
		for _, item := range calls {
			call, _ := asMap(item)
			fn, _ := asMap(call["function"])
			resp.ToolCalls = append(resp.ToolCalls, Part{
				Type:         PartToolCall,
				ToolCallID:   asString(call["id"]),
				ToolName:     asString(fn["name"]),
				RawArguments: asString(fn["arguments"]),
			})
		}
	}
	if usage, ok := asMap(body["usage"]); ok {
		resp.Usage = Usage{InputTokens: intOf(usage["prompt_tokens"]), OutputTokens: intOf(usage["completion_tokens"])}
	}
	return resp, nil
}

func (OpenAIChatCodec) ResponseFromCanonical(resp *CanonicalResponse) map[string]any {
	msg := map[string]any{"role": "assistant", "content": resp.Text}
	if resp.Reasoning != "" {
		msg["reasoning_content"] = resp.Reasoning
	}
	if len(resp.ToolCalls) > 0 {
		calls := make([]any, 0, len(resp.ToolCalls))
		for _, p := range resp.ToolCalls {
			calls = append(calls, map[string]any{
				"id":       responseID(p.ToolCallID, "call_"),
				"type":     "function",
				"function": map[string]any{"name": p.ToolName, "arguments": argumentsString(p)},
			})
		}
		msg["tool_calls"] = calls
		if resp.Text == "" {
			msg["content"] = nil
		}
	}
	finish := resp.FinishReason
	if finish == "" {
		finish = FinishStop
	}
	return map[string]any{
		"id":      responseID(resp.ID, "chatcmpl-"),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   resp.Model,
		"choices": []any{map[string]any{"index": 0, "message": msg, "finish_reason": finish}},
		"usage": map[string]any{
			"prompt_tokens":     resp.Usage.InputTokens,
			"completion_tokens": resp.Usage.OutputTokens,
			"total_tokens":      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
}

// --- Claude ---

// FinishFromClaude maps a Claude stop_reason onto a canonical finish reason.
func FinishFromClaude(stopReason string) string {
	switch stopReason {
	case "max_tokens":
		return FinishLength
	case "tool_use":
		return FinishToolCalls
	case "refusal":
		return FinishContentFilter
	case "":
		return ""
	}
	return FinishStop
}

// FinishToClaude maps a canonical finish reason onto a Claude stop_reason.
func FinishToClaude(finish string) string {
	switch finish {
	case FinishLength:
		return "max_tokens"
	case FinishToolCalls:
		return "tool_use"
	case FinishContentFilter:
		return "refusal"
	}
	return "end_turn"
}

func (ClaudeCodec) ResponseToCanonical(body map[string]any) (*CanonicalResponse, error) {
	if asString(body["type"]) == "error" {
		return nil, fmt.Errorf("claude error response")
	}
	resp := &CanonicalResponse{
		ID:           asString(body["id"]),
		Model:        asString(body["model"]),
		FinishReason: FinishFromClaude(asString(body["stop_reason"])),
	}
	content, _ := asSlice(body["content"])
	var text, reasoning strings.Builder
	for _, item := range content {
		block, _ := asMap(item)
		switch asString(block["type"]) {
		case "text":
			text.WriteString(asString(block["text"]))
		case "thinking":
			reasoning.WriteString(asString(block["thinking"]))
		case "tool_use":
			args, _ := asMap(block["input"])
			resp.ToolCalls = append(resp.ToolCalls, Part{
				Type:       PartToolCall,
				ToolCallID: asString(block["id"]),
				ToolName:   asString(block["name"]),
				Arguments:  args,
			})
		}
	}
	resp.Text, resp.Reasoning = text.String(), reasoning.String()
	if usage, ok := asMap(body["usage"]); ok {
		resp.Usage = Usage{InputTokens: intOf(usage["input_tokens"]), OutputTokens: intOf(usage["output_tokens"])}
	}
	return resp, nil
}

func (ClaudeCodec) ResponseFromCanonical(resp *CanonicalResponse) map[string]any {
	content := []any{}
	if resp.Reasoning != "" {
		content = append(content, map[string]any{"type": "thinking", "thinking": resp.Reasoning})
	}
	if resp.Text != "" {
		content = append(content, map[string]any{"type": "text", "text": resp.Text})
	}
	for _, p := range resp.ToolCalls {
		content = append(content, map[string]any{
			"type":  "tool_use",
			"id":    responseID(p.ToolCallID, "toolu_"),
			"name":  p.ToolName,
			"input": argumentsObject(p),
		})
	}
	return map[string]any{
		"id":            responseID(resp.ID, "msg_"),
		"type":          "message",
		"role":          "assistant",
		"model":         resp.Model,
		"content":       content,
		"stop_reason":   FinishToClaude(resp.FinishReason),
		"stop_sequence": nil,
		"usage": map[string]any{
			"input_tokens":  resp.Usage.InputTokens,
			"output_tokens": resp.Usage.OutputTokens,
		},
	}
}

// --- Gemini ---

// FinishFromGemini maps a Gemini finishReason onto a canonical finish reason.
func FinishFromGemini(reason string) string {
	switch reason {
	case "":
		return ""
	case "MAX_TOKENS":
		return FinishLength
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT", "SPII":
		return FinishContentFilter
	}
	return FinishStop
}

// FinishToGemini maps a canonical finish reason onto a Gemini finishReason.
func FinishToGemini(finish string) string {
	switch finish {
	case FinishLength:
		return "MAX_TOKENS"
	case FinishContentFilter:
		return "SAFETY"
	}
	return "STOP"
}

// UnwrapGemini returns the inner payload of a Cloud Code style {"response": {...}} envelope.
func UnwrapGemini(body map[string]any) map[string]any {
	if inner, ok := asMap(body["response"]); ok {
		if _, hasCandidates := body["candidates"]; !hasCandidates {
			return inner
		}
	}
	return body
}

func (GeminiCodec) ResponseToCanonical(body map[string]any) (*CanonicalResponse, error) {
	body = UnwrapGemini(body)
	resp := &CanonicalResponse{ID: asString(body["responseId"]), Model: asString(body["modelVersion"])}
	candidates, _ := asSlice(body["candidates"])
	if len(candidates) == 0 {
		return nil, fmt.Errorf("response has no candidates")
	}
	cand, _ := asMap(candidates[0])
	content, _ := asMap(cand["content"])
	parts, _ := asSlice(content["parts"])
	var text, reasoning strings.Builder
	for _, item := range parts {
		part, _ := asMap(item)
		if call, ok := asMap(part["functionCall"]); ok {
			args, _ := asMap(call["args"])
			resp.ToolCalls = append(resp.ToolCalls, Part{
				Type:       PartToolCall,
				ToolCallID: asString(call["id"]),
				ToolName:   asString(call["name"]),
				Arguments:  args,
			})
			continue
		}
		if asBool(part["thought"]) {
			reasoning.WriteString(asString(part["text"]))
		} else {
			text.WriteString(asString(part["text"]))
		}
	}
	resp.Text, resp.Reasoning = text.String(), reasoning.String()
	resp.FinishReason = FinishFromGemini(asString(cand["finishReason"]))
	if len(resp.ToolCalls) > 0 && resp.FinishReason == FinishStop {
		resp.FinishReason = FinishToolCalls
	}
	if usage, ok := asMap(body["usageMetadata"]); ok {
		resp.Usage = Usage{InputTokens: intOf(usage["promptTokenCount"]), OutputTokens: intOf(usage["candidatesTokenCount"])}
	}
	return resp, nil
}

func (GeminiCodec) ResponseFromCanonical(resp *CanonicalResponse) map[string]any {
	parts := []any{}
	if resp.Reasoning != "" {
		parts = append(parts, map[string]any{"text": resp.Reasoning, "thought": true})
	}
	if resp.Text != "" {
		parts = append(parts, map[string]any{"text": resp.Text})
	}
	for _, p := range resp.ToolCalls {
		parts = append(parts, map[string]any{"functionCall": map[string]any{"name": p.ToolName, "args": argumentsObject(p)}})
	}
	return map[string]any{
		"candidates": []any{map[string]any{
			"content":      map[string]any{"role": "model", "parts": parts},
			"finishReason": FinishToGemini(resp.FinishReason),
			"index":        0,
		}},
		"usageMetadata": map[string]any{
			"promptTokenCount":     resp.Usage.InputTokens,
			"candidatesTokenCount": resp.Usage.OutputTokens,
			"totalTokenCount":      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
		"modelVersion": resp.Model,
	}
}

// --- Responses ---

func (ResponsesCodec) ResponseToCanonical(body map[string]any) (*CanonicalResponse, error) {
	resp := &CanonicalResponse{ID: asString(body["id"]), Model: asString(body["model"]), FinishReason: FinishStop}
	output, _ := asSlice(body["output"])
	var text, reasoning strings.Builder
	for _, item := range output {
		m, _ := asMap(item)
		switch asString(m["type"]) {
		case "message":
			content, _ := asSlice(m["content"])
			for _, c := range content {
				block, _ := asMap(c)
				if asString(block["type"]) == "output_text" {
					text.WriteString(asString(block["text"]))
				}
			}
		case "reasoning":
			summary, _ := asSlice(m["summary"])
			for _, s := range summary {
				block, _ := asMap(s)
				reasoning.WriteString(asString(block["text"]))
			}
		case "function_call":
			resp.ToolCalls = append(resp.ToolCalls, Part{
				Type:         PartToolCall,
				ToolCallID:   asString(m["call_id"]),
				ToolName:     asString(m["name"]),
				RawArguments: asString(m["arguments"]),
			})
		}
	}
	resp.Text, resp.Reasoning = text.String(), reasoning.String()
	if len(resp.ToolCalls) > 0 {
		resp.FinishReason = FinishToolCalls
	}
	if asString(body["status"]) == "incomplete" {
		resp.FinishReason = FinishLength
	}
	if usage, ok := asMap(body["usage"]); ok {
		resp.Usage = Usage{InputTokens: intOf(usage["input_tokens"]), OutputTokens: intOf(usage["output_tokens"])}
	}
	return resp, nil
}

func (ResponsesCodec) ResponseFromCanonical(resp *CanonicalResponse) map[string]any {
	output := []any{}
	if resp.Reasoning != "" {
		output = append(output, map[string]any{
			"type":    "reasoning",
			"id":      responseID("", "rs_"),
			"summary": []any{map[string]any{"type": "summary_text", "text": resp.Reasoning}},
		})
	}
	if resp.Text != "" {
		output = append(output, map[string]any{
			"type":    "message",
			"id":      responseID("", "msg_"),
			"role":    "assistant",
			"status":  "completed",
			"content": []any{map[string]any{"type": "output_text", "text": resp.Text, "annotations": []any{}}},
		})
	}
	for _, p := range resp.ToolCalls {
		output = append(output, map[string]any{
			"type":      "function_call",
			"id":        responseID("", "fc_"),
			"call_id":   responseID(p.ToolCallID, "call_"),
			"name":      p.ToolName,
			"arguments": argumentsString(p),
			"status":    "completed",
		})
	}
	status := "completed"
	if resp.FinishReason == FinishLength {
		status = "incomplete"
	}
	return map[string]any{
		"id":         responseID(resp.ID, "resp_"),
		"object":     "response",
		"created_at": time.Now().Unix(),
		"model":      resp.Model,
		"status":     status,
		"output":     output,
		"usage": map[string]any{
			"input_tokens":  resp.Usage.InputTokens,
			"output_tokens": resp.Usage.OutputTokens,
			"total_tokens":  resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
}
