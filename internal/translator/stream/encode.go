package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pysugar/nexus-gateway/internal/translator"
)

// Encoder writes deltas in a client format. Close writes the format's own
// end-of-stream marker.
type Encoder interface {
	Encode(w io.Writer, d Delta) error
	Close(w io.Writer) error
}

// NewEncoder returns the encoder for a client format. model is echoed in chunks
// until the upstream reports its own.
func NewEncoder(f translator.Format, model string) (Encoder, error) {
	switch f {
	case translator.FormatOpenAIChat:
		return &openAIEncoder{meta: newMeta("chatcmpl-", model)}, nil
	case translator.FormatClaude:
		return &claudeEncoder{meta: newMeta("msg_", model)}, nil
	case translator.FormatGemini:
		return &geminiEncoder{meta: newMeta("", model), tools: map[int]*toolBuffer{}}, nil
	case translator.FormatOpenAIResponses:
		return &responsesEncoder{meta: newMeta("resp_", model), tools: map[int]int{}}, nil
	}
	return nil, fmt.Errorf("%w: no stream encoder for %s", translator.ErrUnsupportedFormat, f)
}

func newID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

// meta is the state every encoder tracks: ids, finish reason and usage, which
// may arrive in different upstream events.
type meta struct {
	id      string
	model   string
	created int64
	finish  string
	usage   translator.Usage
}

func newMeta(prefix, model string) meta {
	return meta{id: newID(prefix), model: model, created: time.Now().Unix()}
}

func (m *meta) observe(d Delta) {
	if d.Model != "" {
		m.model = d.Model
	}
	if d.FinishReason != "" {
		m.finish = d.FinishReason
	}
	if d.Usage != nil {
		if d.Usage.InputTokens > 0 {
			m.usage.InputTokens = d.Usage.InputTokens
		}
		if d.Usage.OutputTokens > 0 {
			m.usage.OutputTokens = d.Usage.OutputTokens
		}
	}
}

func (m *meta) finishOr(def string) string {
	if m.finish == "" {
		return def
	}
	return m.finish
}

// --- OpenAI chat ---

type openAIEncoder struct {
	meta
}

func (e *openAIEncoder) chunk(delta map[string]any, finish any) map[string]any {
	return map[string]any{
		"id":      e.id,
		"object":  "chat.completion.chunk",
		"created": e.created,
		"model":   e.model,
		"choices": []any{map[string]any{"index": 0, "delta": delta, "finish_reason": finish}},
	}
}

func (e *openAIEncoder) Encode(w io.Writer, d Delta) error {
	e.observe(d)
	if d.empty() && (d.FinishReason != "" || d.Usage != nil) {
		// Reported once in the final chunk.
		return nil
	}
	delta := map[string]any{"content": d.Text}
	if d.Role != "" {
		delta["role"] = d.Role
	}
	if d.Reasoning != "" {
		delta["reasoning_content"] = d.Reasoning
	}
	if len(d.ToolCalls) > 0 {
		calls := make([]any, 0, len(d.ToolCalls))
		for _, tc := range d.ToolCalls {
			call := map[string]any{"index": tc.Index}
			fn := map[string]any{"arguments": tc.Arguments}
			if tc.ID != "" || tc.Name != "" {
				id := tc.ID
				if id == "" {
					id = newID("call_")
				}
				call["id"] = id
				call["type"] = "function"
				fn["name"] = tc.Name
			}
			call["function"] = fn
			calls = append(calls, call)
		}
		delta["tool_calls"] = calls
		if d.Text == "" {
			delete(delta, "content")
		}
	}
	return writeData(w, e.chunk(delta, nil))
}

func (e *openAIEncoder) Close(w io.Writer) error {
	final := e.chunk(map[string]any{}, e.finishOr(translator.FinishStop))
	final["usage"] = map[string]any{
		"prompt_tokens":     e.usage.InputTokens,
		"completion_tokens": e.usage.OutputTokens,
		"total_tokens":      e.usage.InputTokens + e.usage.OutputTokens,
	}
	if err := writeData(w, final); err != nil {
		return err
	}
	_, err := io.WriteString(w, "data: [DONE]\n\n")
	return err
}

// --- Claude ---

type claudeEncoder struct {
	meta
	started  bool
	next     int    // next content block index
	open     string // "", "text", "thinking" or "tool_use"
	openTool int
}

func (e *claudeEncoder) start(w io.Writer) error {
	if e.started {
		return nil
	}
	e.started = true
	return writeNamed(w, "message_start", map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id":            e.id,
			"type":          "message",
			"role":          "assistant",
			"model":         e.model,
			"content":       []any{},
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage":         map[string]any{"input_tokens": e.usage.InputTokens, "output_tokens": 0},
		},
	})
}

func (e *claudeEncoder) closeBlock(w io.Writer) error {
	if e.open == "" {
		return nil
	}
	e.open = ""
	err := writeNamed(w, "content_block_stop", map[string]any{"type": "content_block_stop", "index": e.next - 1})
	return err
}

func (e *claudeEncoder) openBlock(w io.Writer, kind string, block map[string]any) error {
	if err := e.closeBlock(w); err != nil {
		return err
	}
	e.open = kind
	e.next++
	return writeNamed(w, "content_block_start", map[string]any{
		"type":          "content_block_start",
		"index":         e.next - 1,
		"content_block": block,
	})
}

func (e *claudeEncoder) blockDelta(w io.Writer, delta map[string]any) error {
	return writeNamed(w, "content_block_delta", map[string]any{
		"type":  "content_block_delta",
		"index": e.next - 1,
		"delta": delta,
	})
}

func (e *claudeEncoder) Encode(w io.Writer, d Delta) error {
	e.observe(d)
	wasStarted := e.started
	if err := e.start(w); err != nil {
		return err
	}
	if d.Reasoning != "" {
		if e.open != "thinking" {
			if err := e.openBlock(w, "thinking", map[string]any{"type": "thinking", "thinking": ""}); err != nil {
				return err
			}
		}
		if err := e.blockDelta(w, map[string]any{"type": "thinking_delta", "thinking": d.Reasoning}); err != nil {
			return err
		}
	}
	if d.Text != "" {
		if e.open != "text" {
			if err := e.openBlock(w, "text", map[string]any{"type": "text", "text": ""}); err != nil {
				return err
			}
		}
		if err := e.blockDelta(w, map[string]any{"type": "text_delta", "text": d.Text}); err != nil {
			return err
		}
	}
	for _, tc := range d.ToolCalls {
		if e.open != "tool_use" || e.openTool != tc.Index {
			id := tc.ID
			if id == "" {
				id = newID("toolu_")
			}
			block := map[string]any{"type": "tool_use", "id": id, "name": tc.Name, "input": map[string]any{}}
			if err := e.openBlock(w, "tool_use", block); err != nil {
				return err
			}
			e.openTool = tc.Index
		}
		if tc.Arguments != "" {
			if err := e.blockDelta(w, map[string]any{"type": "input_json_delta", "partial_json": tc.Arguments}); err != nil {
				return err
			}
		}
	}
	if d.empty() && wasStarted && d.FinishReason == "" && d.Usage == nil {
		return writeNamed(w, "ping", map[string]any{"type": "ping"})
	}
	return nil
}

func (e *claudeEncoder) Close(w io.Writer) error {
	if err := e.start(w); err != nil {
		return err
	}
	if err := e.closeBlock(w); err != nil {
		return err
	}
	if err := writeNamed(w, "message_delta", map[string]any{
		"type":  "message_delta",
		"delta": map[string]any{"stop_reason": translator.FinishToClaude(e.finish), "stop_sequence": nil},
		"usage": map[string]any{"output_tokens": e.usage.OutputTokens},
	}); err != nil {
		return err
	}
	return writeNamed(w, "message_stop", map[string]any{"type": "message_stop"})
}

// --- Gemini ---

type toolBuffer struct {
	id   string
	name string
	args strings.Builder
}

// geminiEncoder emits text as it arrives. Gemini function calls are whole
// objects, so tool-call fragments are buffered and flushed with the final chunk.
type geminiEncoder struct {
	meta
	tools map[int]*toolBuffer
	order []int
}

func (e *geminiEncoder) chunk(parts []any, finish string) map[string]any {
	cand := map[string]any{"content": map[string]any{"role": "model", "parts": parts}, "index": 0}
	if finish != "" {
		cand["finishReason"] = finish
	}
	return map[string]any{"candidates": []any{cand}, "modelVersion": e.model}
}

func (e *geminiEncoder) Encode(w io.Writer, d Delta) error {
	e.observe(d)
	for _, tc := range d.ToolCalls {
		buf, ok := e.tools[tc.Index]
		if !ok {
			buf = &toolBuffer{}
			e.tools[tc.Index] = buf
			e.order = append(e.order, tc.Index)
		}
		if tc.ID != "" {
			buf.id = tc.ID
		}
		if tc.Name != "" {
			buf.name = tc.Name
		}
		buf.args.WriteString(tc.Arguments)
	}

	var parts []any
	if d.Reasoning != "" {
		parts = append(parts, map[string]any{"text": d.Reasoning, "thought": true})
	}
	if d.Text != "" {
		parts = append(parts, map[string]any{"text": d.Text})
	}
	if len(parts) == 0 {
		if len(d.ToolCalls) > 0 || d.FinishReason != "" || d.Usage != nil {
			return nil
		}
		parts = []any{map[string]any{"text": ""}}
	}
	return writeData(w, e.chunk(parts, ""))
}

func (e *geminiEncoder) Close(w io.Writer) error {
	parts := []any{}
	for _, idx := range e.order {
		buf := e.tools[idx]
		var args map[string]any
		if err := json.Unmarshal([]byte(buf.args.String()), &args); err != nil || args == nil {
			args = map[string]any{}
		}
		parts = append(parts, map[string]any{"functionCall": map[string]any{"name": buf.name, "args": args}})
	}
	if len(parts) == 0 {
		parts = append(parts, map[string]any{"text": ""})
	}
	final := e.chunk(parts, translator.FinishToGemini(e.finish))
	final["usageMetadata"] = map[string]any{
		"promptTokenCount":     e.usage.InputTokens,
		"candidatesTokenCount": e.usage.OutputTokens,
		"totalTokenCount":      e.usage.InputTokens + e.usage.OutputTokens,
	}
	return writeData(w, final)
}

// --- Responses ---

// responsesEncoder writes the Responses API event sequence. The closing
// events carry status and usage but not the accumulated text, which keeps the
// encoder's memory independent of the stream length.
type responsesEncoder struct {
	meta
	started   bool
	seq       int
	outputs   int
	msgIndex  int
	msgID     string
	reasonIdx int
	reasonID  string
	tools     map[int]int // tool call index -> output index
	toolIDs   map[int]string
	openItems []map[string]any
}

func (e *responsesEncoder) event(w io.Writer, typ string, payload map[string]any) error {
	payload["type"] = typ
	payload["sequence_number"] = e.seq
	e.seq++
	return writeNamed(w, typ, payload)
}

func (e *responsesEncoder) response(status string) map[string]any {
	resp := map[string]any{
		"id":         e.id,
		"object":     "response",
		"created_at": e.created,
		"model":      e.model,
		"status":     status,
		"output":     []any{},
	}
	if status != "in_progress" {
		resp["usage"] = map[string]any{
			"input_tokens":  e.usage.InputTokens,
			"output_tokens": e.usage.OutputTokens,
			"total_tokens":  e.usage.InputTokens + e.usage.OutputTokens,
		}
	}
	return resp
}

func (e *responsesEncoder) start(w io.Writer) error {
	if e.started {
		return nil
	}
	e.started = true
	return e.event(w, "response.created", map[string]any{"response": e.response("in_progress")})
}

func (e *responsesEncoder) addItem(w io.Writer, item map[string]any) (int, error) {
	idx := e.outputs
	e.outputs++
	e.openItems = append(e.openItems, item)
	return idx, e.event(w, "response.output_item.added", map[string]any{"output_index": idx, "item": item})
}

func (e *responsesEncoder) ensureMessage(w io.Writer) error {
	if e.msgID != "" {
		return nil
	}
	e.msgID = newID("msg_")
	idx, err := e.addItem(w, map[string]any{
		"type": "message", "id": e.msgID, "role": "assistant", "status": "in_progress", "content": []any{},
	})
	if err != nil {
		return err
	}
	e.msgIndex = idx
	return e.event(w, "response.content_part.added", map[string]any{
		"item_id": e.msgID, "output_index": idx, "content_index": 0,
		"part": map[string]any{"type": "output_text", "text": "", "annotations": []any{}},
	})
}

func (e *responsesEncoder) Encode(w io.Writer, d Delta) error {
	e.observe(d)
	if err := e.start(w); err != nil {
		return err
	}
	if d.Reasoning != "" {
		if e.reasonID == "" {
			e.reasonID = newID("rs_")
			idx, err := e.addItem(w, map[string]any{"type": "reasoning", "id": e.reasonID, "summary": []any{}})
			if err != nil {
				return err
			}
			e.reasonIdx = idx
		}
		if err := e.event(w, "response.reasoning_summary_text.delta", map[string]any{
			"item_id": e.reasonID, "output_index": e.reasonIdx, "summary_index": 0, "delta": d.Reasoning,
		}); err != nil {
			return err
		}
	}
	if d.Text != "" || (d.empty() && d.FinishReason == "" && d.Usage == nil) {
		if err := e.ensureMessage(w); err != nil {
			return err
		}
		if err := e.event(w, "response.output_text.delta", map[string]any{
			"item_id": e.msgID, "output_index": e.msgIndex, "content_index": 0, "delta": d.Text,
		}); err != nil {
			return err
		}
	}
	for _, tc := range d.ToolCalls {
		idx, ok := e.tools[tc.Index]
		if !ok {
			if e.toolIDs == nil {
				e.toolIDs = map[int]string{}
			}
			callID := tc.ID
			if callID == "" {
				callID = newID("call_")
			}
			itemID := newID("fc_")
			var err error
			idx, err = e.addItem(w, map[string]any{
				"type": "function_call", "id": itemID, "call_id": callID, "name": tc.Name,
				"arguments": "", "status": "in_progress",
			})
			if err != nil {
				return err
			}
			e.tools[tc.Index] = idx
			e.toolIDs[idx] = itemID
		}
		if tc.Arguments != "" {
			if err := e.event(w, "response.function_call_arguments.delta", map[string]any{
				"item_id": e.toolIDs[idx], "output_index": idx, "delta": tc.Arguments,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *responsesEncoder) Close(w io.Writer) error {
	if err := e.start(w); err != nil {
		return err
	}
	for i, item := range e.openItems {
		item["status"] = "completed"
		if err := e.event(w, "response.output_item.done", map[string]any{"output_index": i, "item": item}); err != nil {
			return err
		}
	}
	typ, status := "response.completed", "completed"
	if e.finish == translator.FinishLength {
		typ, status = "response.incomplete", "incomplete"
	}
	return e.event(w, typ, map[string]any{"response": e.response(status)})
}
