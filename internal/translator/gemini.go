package translator

import "fmt"

// GeminiCodec handles generateContent bodies. The model normally lives in the
// URL path; when a body carries a "model" key it is kept on the canonical
// request and the upstream client moves it back into the path.
type GeminiCodec struct{}

var geminiKeys = []string{"model", "contents", "systemInstruction", "tools", "generationConfig"}

var geminiGenerationKeys = []string{"temperature", "topP", "maxOutputTokens", "stopSequences", "thinkingConfig"}

// Passthrough keys for unmodeled generationConfig and thinkingConfig entries.
// They are merged back into the nested objects rather than the top level.
const (
	geminiGenerationExtra = "generationConfig"
	geminiThinkingExtra   = "generationConfig.thinkingConfig"
)

func (GeminiCodec) Format() Format { return FormatGemini }

func (GeminiCodec) ToCanonical(body map[string]any) (*CanonicalRequest, error) {
	req := &CanonicalRequest{
		Model:       asString(body["model"]),
		Passthrough: extras(body, geminiKeys...),
	}
	setPassthrough := func(k string, v map[string]any) {
		if v == nil {
			return
		}
		if req.Passthrough == nil {
			req.Passthrough = map[string]any{}
		}
		req.Passthrough[k] = v
	}

	if sys, ok := asMap(body["systemInstruction"]); ok {
		turn := geminiContentToTurn(sys)
		turn.Role = RoleSystem
		turn.OmitRole = false
		if role, ok := sys["role"]; ok {
			if turn.Extra == nil {
				turn.Extra = map[string]any{}
			}
			turn.Extra["role"] = role
		}
		req.Turns = append(req.Turns, turn)
	}

	contents, ok := asSlice(body["contents"])
	if !ok {
		return nil, fmt.Errorf("contents must be an array")
	}
	for i, item := range contents {
		content, ok := asMap(item)
		if !ok {
			return nil, fmt.Errorf("contents[%d] is not an object", i)
		}
		req.Turns = append(req.Turns, geminiContentToTurn(content))
	}

	if cfg, ok := asMap(body["generationConfig"]); ok {
		req.Temperature = asFloatPtr(cfg["temperature"])
		req.TopP = asFloatPtr(cfg["topP"])
		req.MaxTokens = asIntPtr(cfg["maxOutputTokens"])
		req.Stop = asStringSlice(cfg["stopSequences"])
		setPassthrough(geminiGenerationExtra, extras(cfg, geminiGenerationKeys...))
		if thinking, ok := asMap(cfg["thinkingConfig"]); ok {
			req.ReasoningBudget = asIntPtr(thinking["thinkingBudget"])
			setPassthrough(geminiThinkingExtra, extras(thinking, "thinkingBudget"))
		}
	}

	if tools, ok := asSlice(body["tools"]); ok {
		for _, item := range tools {
			tool, ok := asMap(item)
			if !ok {
				continue
			}
			decls, ok := asSlice(tool["functionDeclarations"])
			if !ok {
				req.Tools = append(req.Tools, Tool{Raw: tool})
				continue
			}
			for _, d := range decls {
				decl, ok := asMap(d)
				if !ok {
					continue
				}
				params, _ := asMap(decl["parameters"])
				req.Tools = append(req.Tools, Tool{
					Name:        asString(decl["name"]),
					Description: asString(decl["description"]),
					Parameters:  params,
					Extra:       extras(decl, "name", "description", "parameters"),
				})
			}
		}
	}
	return req, nil
}

func geminiContentToTurn(content map[string]any) Turn {
	turn := Turn{Extra: extras(content, "parts")}
	role, hasRole := content["role"].(string)
	switch {
	case role == "model":
		turn.Role = RoleAssistant
		delete(turn.Extra, "role")
	case role == "user":
		turn.Role = RoleUser
		delete(turn.Extra, "role")
	default:
		// "function" and other legacy roles are carried as user turns and
		// restored from Extra on a Gemini round trip.
		turn.Role = RoleUser
		turn.OmitRole = !hasRole
	}
	if len(turn.Extra) == 0 {
		turn.Extra = nil
	}

	parts, _ := asSlice(content["parts"])
	for _, item := range parts {
		if m, ok := asMap(item); ok {
			turn.Parts = append(turn.Parts, geminiPartToPart(m))
		}
	}
	if len(turn.Parts) == 1 && turn.Parts[0].Type == PartText && turn.Parts[0].Extra == nil {
		turn.Text = turn.Parts[0].Text
		turn.Parts = nil
	}
	return turn
}

func geminiPartToPart(m map[string]any) Part {
	if text, ok := m["text"].(string); ok && !asBool(m["thought"]) {
		return Part{Type: PartText, Text: text, Extra: extras(m, "text")}
	}
	if inline, ok := asMap(m["inlineData"]); ok {
		return Part{
			Type:      PartImage,
			MediaType: asString(inline["mimeType"]),
			Data:      asString(inline["data"]),
			Extra:     extras(m, "inlineData"),
		}
	}
	if file, ok := asMap(m["fileData"]); ok {
		return Part{
			Type:      PartImage,
			MediaType: asString(file["mimeType"]),
			URL:       asString(file["fileUri"]),
			Extra:     extras(m, "fileData"),
		}
	}
	if call, ok := asMap(m["functionCall"]); ok {
		args, _ := asMap(call["args"])
		return Part{
			Type:       PartToolCall,
			ToolCallID: asString(call["id"]),
			ToolName:   asString(call["name"]),
			Arguments:  args,
			Extra:      extras(m, "functionCall"),
		}
	}
	if resp, ok := asMap(m["functionResponse"]); ok {
		return Part{
			Type:       PartToolResult,
			ToolCallID: asString(resp["id"]),
			ToolName:   asString(resp["name"]),
			Result:     resp["response"],
			Extra:      extras(m, "functionResponse"),
		}
	}
	return Part{Type: PartRaw, Raw: m}
}

func (GeminiCodec) FromCanonical(req *CanonicalRequest) (map[string]any, error) {
	same := req.sameFormat(FormatGemini)
	out := map[string]any{}
	if req.Model != "" {
		out["model"] = req.Model
	}

	turns := req.portableTurns(FormatGemini)
	names := toolNamesByID(turns)

	if sys := req.systemTurns(); len(sys) > 0 {
		var instruction map[string]any
		if same && len(sys) == 1 {
			instruction = turnToGeminiContent(sys[0], same, names)
			delete(instruction, "role")
			overlay(instruction, sys[0].Extra)
		} else {
			instruction = map[string]any{"parts": []any{map[string]any{"text": req.SystemText()}}}
		}
		out["systemInstruction"] = instruction
	}

	contents := make([]any, 0, len(turns))
	for _, t := range turns {
		if t.Role == RoleSystem {
			continue
		}
		content := turnToGeminiContent(t, same, names)
		if same {
			overlay(content, t.Extra)
		}
		contents = append(contents, content)
	}
	out["contents"] = contents

	cfg := map[string]any{}
	if req.Temperature != nil {
		cfg["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		cfg["topP"] = *req.TopP
	}
	if req.MaxTokens != nil {
		cfg["maxOutputTokens"] = *req.MaxTokens
	}
	if len(req.Stop) > 0 {
		cfg["stopSequences"] = stringsToAny(req.Stop)
	}
	thinking := map[string]any{}
	if req.ReasoningBudget != nil {
		thinking["thinkingBudget"] = *req.ReasoningBudget
	}
	if same {
		if extra, ok := asMap(req.Passthrough[geminiGenerationExtra]); ok {
			overlay(cfg, extra)
		}
		if extra, ok := asMap(req.Passthrough[geminiThinkingExtra]); ok {
			overlay(thinking, extra)
		}
	}
	if len(thinking) > 0 {
		cfg["thinkingConfig"] = thinking
	}
	if len(cfg) > 0 {
		out["generationConfig"] = cfg
	}

	if tools := geminiTools(req.Tools, same); len(tools) > 0 {
		out["tools"] = tools
	}

	if same {
		for k, v := range req.Passthrough {
			if k == geminiGenerationExtra || k == geminiThinkingExtra {
				continue
			}
			out[k] = v
		}
	}
	return out, nil
}

// geminiTools groups consecutive function tools into one functionDeclarations entry.
func geminiTools(tools []Tool, same bool) []any {
	var out []any
	var decls []any
	flush := func() {
		if len(decls) > 0 {
			out = append(out, map[string]any{"functionDeclarations": decls})
			decls = nil
		}
	}
	for _, t := range tools {
		if t.Raw != nil {
			if same {
				flush()
				out = append(out, t.Raw)
			}
			continue
		}
		decl := map[string]any{"name": t.Name}
		if t.Description != "" {
			decl["description"] = t.Description
		}
		if t.Parameters != nil {
			if same {
				decl["parameters"] = t.Parameters
			} else {
				decl["parameters"] = cleanSchemaForGemini(t.Parameters)
			}
		}
		if same {
			overlay(decl, t.Extra)
		}
		decls = append(decls, decl)
	}
	flush()
	return out
}

func turnToGeminiContent(t Turn, same bool, names map[string]string) map[string]any {
	role := "user"
	if t.Role == RoleAssistant {
		role = "model"
	}
	content := map[string]any{}
	if !(same && t.OmitRole) {
		content["role"] = role
	}

	if len(t.Parts) == 0 {
		content["parts"] = []any{map[string]any{"text": t.Text}}
		return content
	}
	parts := make([]any, 0, len(t.Parts))
	for _, p := range t.Parts {
		var part map[string]any
		switch p.Type {
		case PartText:
			part = map[string]any{"text": p.Text}
		case PartImage:
			if p.Data != "" {
				part = map[string]any{"inlineData": map[string]any{"mimeType": p.MediaType, "data": p.Data}}
			} else {
				file := map[string]any{"fileUri": p.URL}
				if p.MediaType != "" {
					file["mimeType"] = p.MediaType
				}
				part = map[string]any{"fileData": file}
			}
		case PartToolCall:
			call := map[string]any{"name": p.ToolName, "args": argumentsObject(p)}
			if same && p.ToolCallID != "" {
				call["id"] = p.ToolCallID
			}
			part = map[string]any{"functionCall": call}
		case PartToolResult:
			name := p.ToolName
			if name == "" {
				name = names[p.ToolCallID]
			}
			resp := map[string]any{"name": name, "response": geminiResponseObject(p.Result)}
			if same && p.ToolCallID != "" {
				resp["id"] = p.ToolCallID
			}
			part = map[string]any{"functionResponse": resp}
		case PartRaw:
			part = p.Raw
		}
		if part == nil {
			continue
		}
		if same && p.Type != PartRaw {
			overlay(part, p.Extra)
		}
		parts = append(parts, part)
	}
	content["parts"] = parts
	return content
}

// geminiResponseObject wraps non-object tool results; functionResponse.response must be an object.
func geminiResponseObject(v any) map[string]any {
	if m, ok := asMap(v); ok {
		return m
	}
	return map[string]any{"content": resultString(v)}
}
