package translator

import "fmt"

// defaultClaudeMaxTokens is used when the source request set no limit, since
// the Messages API requires max_tokens.
const defaultClaudeMaxTokens = 4096

// ClaudeCodec handles Anthropic Messages API bodies.
type ClaudeCodec struct{}

var claudeKeys = []string{
	"model", "system", "messages", "tools", "max_tokens", "temperature",
	"top_p", "stop_sequences", "stream", "thinking",
}

func (ClaudeCodec) Format() Format { return FormatClaude }

func (ClaudeCodec) ToCanonical(body map[string]any) (*CanonicalRequest, error) {
	req := &CanonicalRequest{
		Model:       asString(body["model"]),
		Stream:      asBoolPtr(body["stream"]),
		Temperature: asFloatPtr(body["temperature"]),
		TopP:        asFloatPtr(body["top_p"]),
		MaxTokens:   asIntPtr(body["max_tokens"]),
		Stop:        asStringSlice(body["stop_sequences"]),
		Passthrough: extras(body, claudeKeys...),
	}

	switch sys := body["system"].(type) {
	case string:
		if sys != "" {
			req.Turns = append(req.Turns, Turn{Role: RoleSystem, Text: sys})
		}
	case []any:
		turn := Turn{Role: RoleSystem, Content: ContentParts}
		for _, item := range sys {
			if block, ok := asMap(item); ok {
				turn.Parts = append(turn.Parts, claudeBlockToPart(block))
			}
		}
		req.Turns = append(req.Turns, turn)
	}

	if thinking, ok := asMap(body["thinking"]); ok {
		req.ReasoningBudget = asIntPtr(thinking["budget_tokens"])
		if req.ReasoningBudget == nil || asString(thinking["type"]) != "enabled" ||
			extras(thinking, "type", "budget_tokens") != nil {
			if req.Passthrough == nil {
				req.Passthrough = map[string]any{}
			}
			req.Passthrough["thinking"] = thinking
		}
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
		turn := Turn{
			Role:    Role(asString(msg["role"])),
			Content: contentShapeOf(msg, "content"),
			Extra:   extras(msg, "role", "content"),
		}
		switch content := msg["content"].(type) {
		case string:
			turn.Text = content
		case []any:
			for _, c := range content {
				if block, ok := asMap(c); ok {
					turn.Parts = append(turn.Parts, claudeBlockToPart(block))
				}
			}
		}
		req.Turns = append(req.Turns, turn)
	}

	if tools, ok := asSlice(body["tools"]); ok {
		for _, item := range tools {
			tool, ok := asMap(item)
			if !ok {
				continue
			}
			schema, hasSchema := asMap(tool["input_schema"])
			if !hasSchema {
				req.Tools = append(req.Tools, Tool{Raw: tool})
				continue
			}
			req.Tools = append(req.Tools, Tool{
				Name:        asString(tool["name"]),
				Description: asString(tool["description"]),
				Parameters:  schema,
				Extra:       extras(tool, "name", "description", "input_schema"),
			})
		}
	}
	return req, nil
}

func claudeBlockToPart(block map[string]any) Part {
	switch asString(block["type"]) {
	case "text":
		return Part{Type: PartText, Text: asString(block["text"]), Extra: extras(block, "type", "text")}
	case "image":
		src, _ := asMap(block["source"])
		part := Part{Type: PartImage, Extra: extras(block, "type", "source")}
		switch asString(src["type"]) {
		case "base64":
			part.MediaType = asString(src["media_type"])
			part.Data = asString(src["data"])
		case "url":
			part.URL = asString(src["url"])
		default:
			return Part{Type: PartRaw, Raw: block}
		}
		return part
	case "tool_use":
		args, _ := asMap(block["input"])
		return Part{
			Type:       PartToolCall,
			ToolCallID: asString(block["id"]),
			ToolName:   asString(block["name"]),
			Arguments:  args,
			Extra:      extras(block, "type", "id", "name", "input"),
		}
	case "tool_result":
		return Part{
			Type:       PartToolResult,
			ToolCallID: asString(block["tool_use_id"]),
			Result:     block["content"],
			IsError:    asBool(block["is_error"]),
			Extra:      extras(block, "type", "tool_use_id", "content"),
		}
	}
	return Part{Type: PartRaw, Raw: block}
}

func (ClaudeCodec) FromCanonical(req *CanonicalRequest) (map[string]any, error) {
	same := req.sameFormat(FormatClaude)
	out := map[string]any{"model": req.Model}

	turns := withToolCallIDs(req.portableTurns(FormatClaude), "toolu_")

	if sys := req.systemTurns(); len(sys) > 0 {
		if same && len(sys) == 1 && (len(sys[0].Parts) > 0 || sys[0].Content == ContentParts) {
			blocks := make([]any, 0, len(sys[0].Parts))
			for _, p := range sys[0].Parts {
				if b := partToClaudeBlock(p, same); b != nil {
					blocks = append(blocks, b)
				}
			}
			out["system"] = blocks
		} else {
			out["system"] = req.SystemText()
		}
	}

	messages := make([]any, 0, len(turns))
	var pendingResults []any
	flushResults := func() {
		if len(pendingResults) > 0 {
			messages = append(messages, map[string]any{"role": "user", "content": pendingResults})
			pendingResults = nil
		}
	}
	for _, t := range turns {
		switch t.Role {
		case RoleSystem:
			continue
		case RoleTool:
			for _, p := range t.Parts {
				if b := partToClaudeBlock(p, same); b != nil {
					pendingResults = append(pendingResults, b)
				}
			}
			continue
		}
		flushResults()

		msg := map[string]any{"role": string(t.Role)}
		if len(t.Parts) == 0 {
			if v, ok := t.plainContent(same); ok {
				msg["content"] = v
			}
		} else {
			blocks := make([]any, 0, len(t.Parts))
			for _, p := range t.Parts {
				if b := partToClaudeBlock(p, same); b != nil {
					blocks = append(blocks, b)
				}
			}
			msg["content"] = blocks
		}
		if same {
			overlay(msg, t.Extra)
		}
		messages = append(messages, msg)
	}
	flushResults()
	out["messages"] = messages

	if req.MaxTokens != nil {
		out["max_tokens"] = *req.MaxTokens
	} else {
		out["max_tokens"] = defaultClaudeMaxTokens
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
	if len(req.Stop) > 0 {
		out["stop_sequences"] = stringsToAny(req.Stop)
	}
	if req.ReasoningBudget != nil {
		out["thinking"] = map[string]any{"type": "enabled", "budget_tokens": *req.ReasoningBudget}
	}

	tools := make([]any, 0, len(req.Tools))
	for _, t := range req.Tools {
		if t.Raw != nil {
			if same {
				tools = append(tools, t.Raw)
			}
			continue
		}
		tool := map[string]any{"name": t.Name, "input_schema": claudeSchema(t.Parameters)}
		if t.Description != "" {
			tool["description"] = t.Description
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

// claudeSchema returns a schema Claude accepts; input_schema is mandatory.
func claudeSchema(params map[string]any) map[string]any {
	if params == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return params
}

func partToClaudeBlock(p Part, same bool) map[string]any {
	var block map[string]any
	switch p.Type {
	case PartText:
		block = map[string]any{"type": "text", "text": p.Text}
	case PartImage:
		if p.Data != "" {
			block = map[string]any{"type": "image", "source": map[string]any{
				"type": "base64", "media_type": p.MediaType, "data": p.Data,
			}}
		} else {
			block = map[string]any{"type": "image", "source": map[string]any{"type": "url", "url": p.URL}}
		}
	case PartToolCall:
		block = map[string]any{
			"type":  "tool_use",
			"id":    p.ToolCallID,
			"name":  p.ToolName,
			"input": argumentsObject(p),
		}
	case PartToolResult:
		content := p.Result
		if !same {
			content = resultString(p.Result)
		}
		block = map[string]any{"type": "tool_result", "tool_use_id": p.ToolCallID, "content": content}
		if p.IsError {
			block["is_error"] = true
		}
	case PartRaw:
		if !same {
			return nil
		}
		return p.Raw
	default:
		return nil
	}
	if same {
		overlay(block, p.Extra)
	}
	return block
}
