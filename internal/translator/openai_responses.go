package translator

import (
	"fmt"
	"strings"
)

// ResponsesCodec handles OpenAI Responses API (/v1/responses) bodies, the
// format spoken by Codex backends.
type ResponsesCodec struct{}

var responsesKeys = []string{
	"model", "instructions", "input", "tools", "temperature", "top_p",
	"max_output_tokens", "stream",
}

func (ResponsesCodec) Format() Format { return FormatOpenAIResponses }

func (ResponsesCodec) ToCanonical(body map[string]any) (*CanonicalRequest, error) {
	req := &CanonicalRequest{
		Model:       asString(body["model"]),
		Stream:      asBoolPtr(body["stream"]),
		Temperature: asFloatPtr(body["temperature"]),
		TopP:        asFloatPtr(body["top_p"]),
		MaxTokens:   asIntPtr(body["max_output_tokens"]),
		Passthrough: extras(body, responsesKeys...),
	}

	if instructions := asString(body["instructions"]); instructions != "" {
		req.Turns = append(req.Turns, Turn{Role: RoleSystem, Text: instructions})
	}

	switch input := body["input"].(type) {
	case string:
		req.Turns = append(req.Turns, Turn{Role: RoleUser, Text: input})
		req.ShorthandInput = true
	case []any:
		for i, item := range input {
			m, ok := asMap(item)
			if !ok {
				return nil, fmt.Errorf("input[%d] is not an object", i)
			}
			req.Turns = appendResponsesItem(req.Turns, m)
		}
	default:
		return nil, fmt.Errorf("input must be a string or an array")
	}

	if tools, ok := asSlice(body["tools"]); ok {
		for _, item := range tools {
			tool, ok := asMap(item)
			if !ok {
				continue
			}
			if asString(tool["type"]) != "function" {
				req.Tools = append(req.Tools, Tool{Raw: tool})
				continue
			}
			params, _ := asMap(tool["parameters"])
			req.Tools = append(req.Tools, Tool{
				Name:        asString(tool["name"]),
				Description: asString(tool["description"]),
				Parameters:  params,
				Extra:       extras(tool, "type", "name", "description", "parameters"),
			})
		}
	}
	return req, nil
}

func appendResponsesItem(turns []Turn, item map[string]any) []Turn {
	typ := asString(item["type"])
	switch {
	case typ == "message" || (typ == "" && item["role"] != nil):
		turn := Turn{Content: contentShapeOf(item, "content"), Extra: extras(item, "role", "content")}
		switch role := asString(item["role"]); role {
		case "system", "developer":
			// Inline system messages keep their role so a same-format round
			// trip leaves them in input instead of moving them to instructions.
			turn.Role = RoleSystem
			if turn.Extra == nil {
				turn.Extra = map[string]any{}
			}
			turn.Extra["role"] = role
		default:
			turn.Role = Role(role)
		}
		switch content := item["content"].(type) {
		case string:
			turn.Text = content
		case []any:
			for _, c := range content {
				if block, ok := asMap(c); ok {
					turn.Parts = append(turn.Parts, responsesContentPart(block))
				}
			}
		}
		return append(turns, turn)

	case typ == "function_call":
		raw := asString(item["arguments"])
		part := Part{
			Type:         PartToolCall,
			ToolCallID:   asString(item["call_id"]),
			ToolName:     asString(item["name"]),
			RawArguments: raw,
			Extra:        extras(item, "type", "call_id", "name", "arguments"),
		}
		if args, err := DecodeObject([]byte(raw)); err == nil {
			part.Arguments = args
		}
		// Consecutive calls belong to the same assistant turn.
		if n := len(turns); n > 0 && isToolCallTurn(turns[n-1]) {
			turns[n-1].Parts = append(turns[n-1].Parts, part)
			return turns
		}
		return append(turns, Turn{Role: RoleAssistant, Parts: []Part{part}})

	case typ == "function_call_output":
		return append(turns, Turn{Role: RoleTool, Parts: []Part{{
			Type:       PartToolResult,
			ToolCallID: asString(item["call_id"]),
			Result:     item["output"],
			Extra:      extras(item, "type", "call_id", "output"),
		}}})
	}
	// Reasoning and other items with no canonical meaning.
	return append(turns, Turn{Role: RoleAssistant, Parts: []Part{{Type: PartRaw, Raw: item}}, OmitRole: true})
}

func isToolCallTurn(t Turn) bool {
	if t.Role != RoleAssistant || len(t.Parts) == 0 || t.Extra != nil {
		return false
	}
	for _, p := range t.Parts {
		if p.Type != PartToolCall {
			return false
		}
	}
	return true
}

func responsesContentPart(block map[string]any) Part {
	switch asString(block["type"]) {
	case "input_text", "output_text":
		return Part{Type: PartText, Text: asString(block["text"]), Extra: extras(block, "text")}
	case "input_image":
		url := asString(block["image_url"])
		part := Part{Type: PartImage, Extra: extras(block, "image_url")}
		if mt, data, ok := parseDataURL(url); ok {
			part.MediaType, part.Data = mt, data
		} else {
			part.URL = url
		}
		return part
	}
	return Part{Type: PartRaw, Raw: block}
}

func (ResponsesCodec) FromCanonical(req *CanonicalRequest) (map[string]any, error) {
	same := req.sameFormat(FormatOpenAIResponses)
	out := map[string]any{"model": req.Model}

	turns := withToolCallIDs(req.portableTurns(FormatOpenAIResponses), "call_")

	var instructions []string
	input := make([]any, 0, len(turns))
	for _, t := range turns {
		if t.Role == RoleSystem && !(same && t.Extra["role"] != nil) {
			instructions = append(instructions, t.PlainText())
			continue
		}
		input = append(input, turnToResponsesItems(t, same)...)
	}
	if len(instructions) > 0 {
		out["instructions"] = strings.Join(instructions, "\n\n")
	}
	if same && req.ShorthandInput && len(input) == 1 {
		out["input"] = asString(asMapOrNil(input[0])["content"])
	} else {
		out["input"] = input
	}

	if req.Stream != nil {
		out["stream"] = *req.Stream
	}
	if req.Temperature != nil {
		out["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		out["top_p"] = *req.TopP
	}
	if req.MaxTokens != nil {
		out["max_output_tokens"] = *req.MaxTokens
	}

	tools := make([]any, 0, len(req.Tools))
	for _, t := range req.Tools {
		if t.Raw != nil {
			if same {
				tools = append(tools, t.Raw)
			}
			continue
		}
		tool := map[string]any{"type": "function", "name": t.Name}
		if t.Description != "" {
			tool["description"] = t.Description
		}
		if t.Parameters != nil {
			tool["parameters"] = t.Parameters
		}
		if same {
			overlay(tool, t.Extra)
		}
		tools = append(tools, tool)
	}
	if len(tools) > 0 {
		out["tools"] = tools
	}

	if same {
		overlay(out, req.Passthrough)
	}
	return out, nil
}

func turnToResponsesItems(t Turn, same bool) []any {
	var items []any
	var content []any
	textType := "input_text"
	if t.Role == RoleAssistant {
		textType = "output_text"
	}

	flush := func() {
		if content == nil {
			return
		}
		items = append(items, responsesMessage(t, content, same))
		content = nil
	}

	if len(t.Parts) == 0 {
		v, ok := t.plainContent(same)
		msg := responsesMessage(t, v, same)
		if !ok {
			delete(msg, "content")
		}
		return []any{msg}
	}
	for _, p := range t.Parts {
		switch p.Type {
		case PartText:
			block := map[string]any{"type": textType, "text": p.Text}
			if same {
				overlay(block, p.Extra)
			}
			content = append(content, block)
		case PartImage:
			url := p.URL
			if p.Data != "" {
				url = dataURL(p.MediaType, p.Data)
			}
			block := map[string]any{"type": "input_image", "image_url": url}
			if same {
				overlay(block, p.Extra)
			}
			content = append(content, block)
		case PartToolCall:
			flush()
			item := map[string]any{
				"type":      "function_call",
				"call_id":   p.ToolCallID,
				"name":      p.ToolName,
				"arguments": argumentsString(p),
			}
			if same {
				overlay(item, p.Extra)
			}
			items = append(items, item)
		case PartToolResult:
			flush()
			output := p.Result
			if !same {
				output = resultString(p.Result)
			}
			item := map[string]any{"type": "function_call_output", "call_id": p.ToolCallID, "output": output}
			if same {
				overlay(item, p.Extra)
			}
			items = append(items, item)
		case PartRaw:
			if t.OmitRole {
				items = append(items, p.Raw)
			} else {
				content = append(content, p.Raw)
			}
		}
	}
	flush()
	return items
}

func responsesMessage(t Turn, content any, same bool) map[string]any {
	msg := map[string]any{"role": string(t.Role), "content": content}
	if same {
		overlay(msg, t.Extra)
	} else {
		msg["type"] = "message"
	}
	return msg
}

func asMapOrNil(v any) map[string]any {
	m, _ := asMap(v)
	return m
}
