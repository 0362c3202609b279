package translator

import "fmt"

// OpenAIChatCodec handles /v1/chat/completions bodies.
type OpenAIChatCodec struct{}

var openAIChatKeys = []string{"model", "messages", "stream", "temperature", "top_p", "max_tokens", "stop", "tools"}

func (OpenAIChatCodec) Format() Format { return FormatOpenAIChat }

func (OpenAIChatCodec) ToCanonical(body map[string]any) (*CanonicalRequest, error) {
	req := &CanonicalRequest{
		Model:       asString(body["model"]),
		Stream:      asBoolPtr(body["stream"]),
		Temperature: asFloatPtr(body["temperature"]),
		TopP:        asFloatPtr(body["top_p"]),
		MaxTokens:   asIntPtr(body["max_tokens"]),
		Stop:        asStringSlice(body["stop"]),
		StopScalar:  isString(body["stop"]),
		Passthrough: extras(body, openAIChatKeys...),
	}

	messages, ok := asSlice(body["messages"])
	if !ok {
		return nil, fmt.Errorf("messages must be an array")
	}
	for i, item := range messages {
		msg, ok := asMap(item)
		if !ok {
			return nil, fmt.Errorf("messages[%d] is not an object", i)
		}
		req.Turns = append(req.Turns, openAIMessageToTurn(msg))
	}

	if tools, ok := asSlice(body["tools"]); ok {
		for _, item := range tools {
			tool, ok := asMap(item)
			if !ok {
				continue
			}
			fn, ok := asMap(tool["function"])
			if !ok {
				req.Tools = append(req.Tools, Tool{Raw: tool})
				continue
			}
			params, _ := asMap(fn["parameters"])
			req.Tools = append(req.Tools, Tool{
				Name:        asString(fn["name"]),
				Description: asString(fn["description"]),
				Parameters:  params,
				Extra:       extras(fn, "name", "description", "parameters"),
			})
		}
	}
	return req, nil
}

func openAIMessageToTurn(msg map[string]any) Turn {
	role := asString(msg["role"])
	turn := Turn{
		Content: contentShapeOf(msg, "content"),
		Extra:   extras(msg, "role", "content", "tool_calls", "tool_call_id"),
	}

	switch role {
	case "developer":
		turn.Role = RoleSystem
		if turn.Extra == nil {
			turn.Extra = map[string]any{}
		}
		turn.Extra["role"] = role
	case "tool":
		turn.Role = RoleTool
		turn.Parts = []Part{{
			Type:       PartToolResult,
			ToolCallID: asString(msg["tool_call_id"]),
			Result:     msg["content"],
		}}
		return turn
	default:
		turn.Role = Role(role)
	}

	switch content := msg["content"].(type) {
	case string:
		turn.Text = content
	case []any:
		for _, item := range content {
			block, ok := asMap(item)
			if !ok {
				continue
			}
			turn.Parts = append(turn.Parts, openAIContentPart(block))
		}
	}

	if calls, ok := asSlice(msg["tool_calls"]); ok && len(calls) > 0 {
		if turn.Text != "" {
			turn.Parts = append([]Part{{Type: PartText, Text: turn.Text}}, turn.Parts...)
			turn.Text = ""
		}
		for _, item := range calls {
			call, ok := asMap(item)
			if !ok {
				continue
			}
			fn, _ := asMap(call["function"])
			raw := asString(fn["arguments"])
			part := Part{
				Type:         PartToolCall,
				ToolCallID:   asString(call["id"]),
				ToolName:     asString(fn["name"]),
				RawArguments: raw,
			}
			if args, err := DecodeObject([]byte(raw)); err == nil {
				part.Arguments = args
			}
			turn.Parts = append(turn.Parts, part)
		}
	}
	return turn
}

func openAIContentPart(block map[string]any) Part {
	switch asString(block["type"]) {
	case "text":
		return Part{Type: PartText, Text: asString(block["text"]), Extra: extras(block, "type", "text")}
	case "image_url":
		img, _ := asMap(block["image_url"])
		url := asString(img["url"])
		part := Part{Type: PartImage, Extra: extras(img, "url")}
		if mt, data, ok := parseDataURL(url); ok {
			part.MediaType, part.Data = mt, data
		} else {
			part.URL = url
		}
		return part
	}
	return Part{Type: PartRaw, Raw: block}
}

func (OpenAIChatCodec) FromCanonical(req *CanonicalRequest) (map[string]any, error) {
	same := req.sameFormat(FormatOpenAIChat)
	out := map[string]any{"model": req.Model}

	turns := withToolCallIDs(req.portableTurns(FormatOpenAIChat), "call_")
	messages := make([]any, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, turnToOpenAIMessages(t, same)...)
	}
	out["messages"] = messages

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
		out["max_tokens"] = *req.MaxTokens
	}
	switch {
	case same && req.StopScalar && len(req.Stop) == 1:
		out["stop"] = req.Stop[0]
	case len(req.Stop) > 0:
		out["stop"] = stringsToAny(req.Stop)
	}
	if tools := openAITools(req.Tools, same); len(tools) > 0 {
		out["tools"] = tools
	}
	if same {
		overlay(out, req.Passthrough)
	}
	return out, nil
}

func openAITools(tools []Tool, same bool) []any {
	out := make([]any, 0, len(tools))
	for _, t := range tools {
		if t.Raw != nil {
			if same {
				out = append(out, t.Raw)
			}
			continue
		}
		fn := map[string]any{"name": t.Name}
		if t.Description != "" {
			fn["description"] = t.Description
		}
		if t.Parameters != nil {
			fn["parameters"] = t.Parameters
		}
		if same {
			overlay(fn, t.Extra)
		}
		out = append(out, map[string]any{"type": "function", "function": fn})
	}
	return out
}

// turnToOpenAIMessages may expand one canonical turn into several messages:
// tool results carried inside a user turn become separate role=tool messages.
func turnToOpenAIMessages(t Turn, same bool) []any {
	var out []any
	var rest []Part
	for _, p := range t.Parts {
		if p.Type == PartToolResult {
			content := p.Result
			if !same {
				content = resultString(p.Result)
			}
			msg := map[string]any{"role": "tool", "tool_call_id": p.ToolCallID, "content": content}
			if same && t.Role == RoleTool {
				overlay(msg, t.Extra)
			}
			out = append(out, msg)
			continue
		}
		rest = append(rest, p)
	}
	if t.Role == RoleTool || (len(t.Parts) > 0 && len(rest) == 0) {
		return out
	}

	msg := map[string]any{"role": string(t.Role)}
	var calls []any
	var content []any
	for _, p := range rest {
		switch p.Type {
		case PartToolCall:
			calls = append(calls, map[string]any{
				"id":   p.ToolCallID,
				"type": "function",
				"function": map[string]any{
					"name":      p.ToolName,
					"arguments": argumentsString(p),
				},
			})
		case PartText:
			block := map[string]any{"type": "text", "text": p.Text}
			if same {
				overlay(block, p.Extra)
			}
			content = append(content, block)
		case PartImage:
			img := map[string]any{"url": p.URL}
			if p.Data != "" {
				img["url"] = dataURL(p.MediaType, p.Data)
			}
			if same {
				overlay(img, p.Extra)
			}
			content = append(content, map[string]any{"type": "image_url", "image_url": img})
		case PartRaw:
			if same {
				content = append(content, p.Raw)
			}
		}
	}

	switch {
	case len(t.Parts) == 0:
		if v, ok := t.plainContent(same); ok {
			msg["content"] = v
		}
	case t.Role == RoleSystem && !same:
		msg["content"] = Turn{Parts: rest}.PlainText()
	case len(calls) > 0:
		msg["tool_calls"] = calls
		text := Turn{Parts: rest}.PlainText()
		var shape ContentShape
		if same {
			shape = t.Content
		}
		switch {
		case shape == ContentParts:
			if content == nil {
				content = []any{}
			}
			msg["content"] = content
		case shape == ContentString:
			msg["content"] = text
		case shape == ContentAbsent:
		case text != "":
			// Assistant tool-call messages carry text as a plain string.
			msg["content"] = text
		default:
			msg["content"] = nil
		}
	default:
		msg["content"] = content
	}
	if same {
		overlay(msg, t.Extra)
	}
	return append(out, msg)
}
