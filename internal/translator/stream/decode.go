package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pysugar/nexus-gateway/internal/translator"
)

// ToolCallDelta is one fragment of a streamed tool call. ID and Name arrive
// with the first fragment; Arguments are JSON text to be concatenated.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// Delta is one incremental update in canonical form.
type Delta struct {
	ID           string
	Model        string
	Role         string
	Text         string
	Reasoning    string
	ToolCalls    []ToolCallDelta
	FinishReason string
	Usage        *translator.Usage
}

// empty reports a delta with no content increment.
func (d Delta) empty() bool {
	return d.Role == "" && d.Text == "" && d.Reasoning == "" && len(d.ToolCalls) == 0
}

// Decoder turns upstream events into deltas. ok is false for events that carry
// nothing (pings, block stops). io.EOF marks the format's end-of-stream event
// and may accompany a final delta.
type Decoder interface {
	Decode(ev Event) (d Delta, ok bool, err error)
}

// NewDecoder returns the decoder for an upstream format.
func NewDecoder(f translator.Format) (Decoder, error) {
	switch f {
	case translator.FormatOpenAIChat:
		return &openAIDecoder{}, nil
	case translator.FormatClaude:
		return &claudeDecoder{tools: map[int]int{}}, nil
	case translator.FormatGemini:
		return &geminiDecoder{}, nil
	case translator.FormatOpenAIResponses:
		return &responsesDecoder{tools: map[int]int{}}, nil
	}
	return nil, fmt.Errorf("%w: no stream decoder for %s", translator.ErrUnsupportedFormat, f)
}

func decodeJSON(data []byte) (map[string]any, error) {
	m, err := translator.DecodeObject(data)
	if err != nil {
		return nil, fmt.Errorf("malformed stream chunk: %w", err)
	}
	return m, nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func obj(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func arr(v any) []any {
	a, _ := v.([]any)
	return a
}

func num(v any) int {
	switch n := v.(type) {
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	case float64:
		return int(n)
	}
	return 0
}

// upstreamError wraps an error object sent inside a stream.
func upstreamError(m map[string]any) error {
	e := obj(m["error"])
	msg := str(e["message"])
	if msg == "" {
		b, _ := json.Marshal(m["error"])
		msg = string(b)
	}
	return fmt.Errorf("upstream stream error: %s", msg)
}

// --- OpenAI chat ---

type openAIDecoder struct{}

func (openAIDecoder) Decode(ev Event) (Delta, bool, error) {
	if bytes.Equal(bytes.TrimSpace(ev.Data), []byte("[DONE]")) {
		return Delta{}, false, io.EOF
	}
	m, err := decodeJSON(ev.Data)
	if err != nil {
		return Delta{}, false, err
	}
	if _, ok := m["error"]; ok {
		return Delta{}, false, upstreamError(m)
	}
	d := Delta{ID: str(m["id"]), Model: str(m["model"])}
	if u := obj(m["usage"]); u != nil {
		d.Usage = &translator.Usage{InputTokens: num(u["prompt_tokens"]), OutputTokens: num(u["completion_tokens"])}
	}
	choices := arr(m["choices"])
	if len(choices) == 0 {
		return d, d.Usage != nil, nil
	}
	choice := obj(choices[0])
	delta := obj(choice["delta"])
	d.Role = str(delta["role"])
	d.Text = str(delta["content"])
	d.Reasoning = str(delta["reasoning_content"])
	d.FinishReason = str(choice["finish_reason"])
	for _, item := range arr(delta["tool_calls"]) {
		tc := obj(item)
		fn := obj(tc["function"])
		d.ToolCalls = append(d.ToolCalls, ToolCallDelta{
			Index:     num(tc["index"]),
			ID:        str(tc["id"]),
			Name:      str(fn["name"]),
			Arguments: str(fn["arguments"]),
		})
	}
	return d, true, nil
}

// --- Claude ---

type claudeDecoder struct {
	// content block index -> tool call index
	tools map[int]int
}

func (c *claudeDecoder) Decode(ev Event) (Delta, bool, error) {
	m, err := decodeJSON(ev.Data)
	if err != nil {
		return Delta{}, false, err
	}
	typ := str(m["type"])
	if typ == "" {
		typ = ev.Name
	}
	switch typ {
	case "message_start":
		msg := obj(m["message"])
		d := Delta{ID: str(msg["id"]), Model: str(msg["model"]), Role: "assistant"}
		if u := obj(msg["usage"]); u != nil {
			d.Usage = &translator.Usage{InputTokens: num(u["input_tokens"]), OutputTokens: num(u["output_tokens"])}
		}
		return d, true, nil
	case "content_block_start":
		block := obj(m["content_block"])
		if str(block["type"]) == "tool_use" {
			idx := len(c.tools)
			c.tools[num(m["index"])] = idx
			return Delta{ToolCalls: []ToolCallDelta{{Index: idx, ID: str(block["id"]), Name: str(block["name"])}}}, true, nil
		}
		return Delta{}, false, nil
	case "content_block_delta":
		delta := obj(m["delta"])
		switch str(delta["type"]) {
		case "text_delta":
			return Delta{Text: str(delta["text"])}, true, nil
		case "thinking_delta":
			return Delta{Reasoning: str(delta["thinking"])}, true, nil
		case "input_json_delta":
			idx := c.tools[num(m["index"])]
			return Delta{ToolCalls: []ToolCallDelta{{Index: idx, Arguments: str(delta["partial_json"])}}}, true, nil
		}
		// signature_delta and future delta kinds carry no text increment.
		return Delta{}, true, nil
	case "message_delta":
		delta := obj(m["delta"])
		d := Delta{FinishReason: translator.FinishFromClaude(str(delta["stop_reason"]))}
		if u := obj(m["usage"]); u != nil {
			d.Usage = &translator.Usage{InputTokens: num(u["input_tokens"]), OutputTokens: num(u["output_tokens"])}
		}
		return d, true, nil
	case "message_stop":
		return Delta{}, false, io.EOF
	case "error":
		return Delta{}, false, upstreamError(m)
	}
	return Delta{}, false, nil
}

// --- Gemini ---

// geminiDecoder reads streamGenerateContent?alt=sse chunks. Gemini has no end
// marker; the stream ends with the body.
type geminiDecoder struct {
	nextTool int
}

func (g *geminiDecoder) Decode(ev Event) (Delta, bool, error) {
	m, err := decodeJSON(ev.Data)
	if err != nil {
		return Delta{}, false, err
	}
	if _, ok := m["error"]; ok {
		return Delta{}, false, upstreamError(m)
	}
	m = translator.UnwrapGemini(m)
	d := Delta{ID: str(m["responseId"]), Model: str(m["modelVersion"])}
	if u := obj(m["usageMetadata"]); u != nil {
		d.Usage = &translator.Usage{InputTokens: num(u["promptTokenCount"]), OutputTokens: num(u["candidatesTokenCount"])}
	}
	candidates := arr(m["candidates"])
	if len(candidates) == 0 {
		return d, true, nil
	}
	cand := obj(candidates[0])
	for _, item := range arr(obj(cand["content"])["parts"]) {
		part := obj(item)
		if call := obj(part["functionCall"]); call != nil {
			args, _ := json.Marshal(call["args"])
			if call["args"] == nil {
				args = []byte("{}")
			}
			d.ToolCalls = append(d.ToolCalls, ToolCallDelta{
				Index:     g.nextTool,
				ID:        str(call["id"]),
				Name:      str(call["name"]),
				Arguments: string(args),
			})
			g.nextTool++
			continue
		}
		if thought, _ := part["thought"].(bool); thought {
			d.Reasoning += str(part["text"])
		} else {
			d.Text += str(part["text"])
		}
	}
	if reason := str(cand["finishReason"]); reason != "" {
		d.FinishReason = translator.FinishFromGemini(reason)
		if g.nextTool > 0 && d.FinishReason == translator.FinishStop {
			d.FinishReason = translator.FinishToolCalls
		}
	}
	return d, true, nil
}

// --- Responses ---

type responsesDecoder struct {
	// output_index -> tool call index
	tools map[int]int
}

func (r *responsesDecoder) Decode(ev Event) (Delta, bool, error) {
	m, err := decodeJSON(ev.Data)
	if err != nil {
		return Delta{}, false, err
	}
	typ := str(m["type"])
	if typ == "" {
		typ = ev.Name
	}
	switch typ {
	case "response.created":
		resp := obj(m["response"])
		return Delta{ID: str(resp["id"]), Model: str(resp["model"]), Role: "assistant"}, true, nil
	case "response.output_text.delta":
		return Delta{Text: str(m["delta"])}, true, nil
	case "response.reasoning_summary_text.delta", "response.reasoning_text.delta":
		return Delta{Reasoning: str(m["delta"])}, true, nil
	case "response.output_item.added":
		item := obj(m["item"])
		if str(item["type"]) != "function_call" {
			return Delta{}, false, nil
		}
		idx := len(r.tools)
		r.tools[num(m["output_index"])] = idx
		return Delta{ToolCalls: []ToolCallDelta{{Index: idx, ID: str(item["call_id"]), Name: str(item["name"])}}}, true, nil
	case "response.function_call_arguments.delta":
		idx := r.tools[num(m["output_index"])]
		return Delta{ToolCalls: []ToolCallDelta{{Index: idx, Arguments: str(m["delta"])}}}, true, nil
	case "response.completed", "response.incomplete":
		resp := obj(m["response"])
		d := Delta{FinishReason: translator.FinishStop}
		if len(r.tools) > 0 {
			d.FinishReason = translator.FinishToolCalls
		}
		if str(resp["status"]) == "incomplete" {
			d.FinishReason = translator.FinishLength
		}
		if u := obj(resp["usage"]); u != nil {
			d.Usage = &translator.Usage{InputTokens: num(u["input_tokens"]), OutputTokens: num(u["output_tokens"])}
		}
		return d, true, io.EOF
	case "response.failed", "error":
		if resp := obj(m["response"]); resp != nil && resp["error"] != nil {
			return Delta{}, false, upstreamError(resp)
		}
		return Delta{}, false, upstreamError(m)
	}
	return Delta{}, false, nil
}
