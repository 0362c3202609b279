package translator

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func asSlice(v any) ([]any, bool) {
	s, ok := v.([]any)
	return s, ok
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func isString(v any) bool {
	_, ok := v.(string)
	return ok
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

// asBoolPtr keeps an explicit false apart from a missing field.
func asBoolPtr(v any) *bool {
	if b, ok := v.(bool); ok {
		return &b
	}
	return nil
}

func asFloatPtr(v any) *float64 {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return nil
		}
		return &f
	case float64:
		return &n
	case int:
		f := float64(n)
		return &f
	}
	return nil
}

func asIntPtr(v any) *int {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			x := int(i)
			return &x
		}
		if f, err := n.Float64(); err == nil {
			x := int(f)
			return &x
		}
	case float64:
		x := int(n)
		return &x
	case int:
		return &n
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return &i
		}
	}
	return nil
}

func asStringSlice(v any) []string {
	switch s := v.(type) {
	case string:
		return []string{s}
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	case []string:
		return s
	}
	return nil
}

// extras returns the keys of m not listed in known, or nil when there are none.
func extras(m map[string]any, known ...string) map[string]any {
	var out map[string]any
	for k, v := range m {
		if containsKey(known, k) {
			continue
		}
		if out == nil {
			out = make(map[string]any)
		}
		out[k] = v
	}
	return out
}

func containsKey(keys []string, k string) bool {
	for _, key := range keys {
		if key == k {
			return true
		}
	}
	return false
}

// overlay copies src into dst. Used to re-apply same-format extras after the
// modeled fields are written.
func overlay(dst, src map[string]any) {
	for k, v := range src {
		dst[k] = v
	}
}

// stringsToAny converts a string slice for map-based encoding.
func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

// argumentsString renders tool-call arguments as the JSON string OpenAI expects.
func argumentsString(p Part) string {
	if p.RawArguments != "" {
		return p.RawArguments
	}
	if p.Arguments == nil {
		return "{}"
	}
	b, err := json.Marshal(p.Arguments)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// argumentsObject returns the arguments as an object, parsing the raw string when needed.
func argumentsObject(p Part) map[string]any {
	if p.Arguments != nil {
		return p.Arguments
	}
	if p.RawArguments != "" {
		if m, err := DecodeObject([]byte(p.RawArguments)); err == nil {
			return m
		}
	}
	return map[string]any{}
}

// resultString renders a tool result as text for formats that only accept strings.
func resultString(v any) string {
	switch r := v.(type) {
	case nil:
		return ""
	case string:
		return r
	case []any:
		// Claude-style content blocks: keep the text.
		var texts []string
		for _, item := range r {
			if m, ok := asMap(item); ok {
				if t := asString(m["text"]); t != "" {
					texts = append(texts, t)
				}
			}
		}
		if len(texts) > 0 {
			return strings.Join(texts, "\n")
		}
	case map[string]any:
		if len(r) == 1 {
			if s, ok := r["content"].(string); ok {
				return s
			}
			if s, ok := r["result"].(string); ok {
				return s
			}
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// newToolCallID generates a call id in the given prefix style ("call_", "toolu_").
func newToolCallID(prefix string) string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return prefix + hex.EncodeToString(b)
}

// withToolCallIDs returns turns in which every tool call has an id and every
// tool result references one. Gemini omits ids, so results are matched to the
// most recent call with the same function name.
func withToolCallIDs(turns []Turn, prefix string) []Turn {
	needs := false
	for _, t := range turns {
		for _, p := range t.Parts {
			if (p.Type == PartToolCall || p.Type == PartToolResult) && p.ToolCallID == "" {
				needs = true
			}
		}
	}
	if !needs {
		return turns
	}

	out := make([]Turn, len(turns))
	lastByName := make(map[string]string)
	for i, t := range turns {
		out[i] = t
		if len(t.Parts) == 0 {
			continue
		}
		parts := make([]Part, len(t.Parts))
		copy(parts, t.Parts)
		for j := range parts {
			p := &parts[j]
			switch p.Type {
			case PartToolCall:
				if p.ToolCallID == "" {
					p.ToolCallID = newToolCallID(prefix)
				}
				lastByName[p.ToolName] = p.ToolCallID
			case PartToolResult:
				if p.ToolCallID == "" {
					if id, ok := lastByName[p.ToolName]; ok {
						p.ToolCallID = id
					} else {
						p.ToolCallID = newToolCallID(prefix)
					}
				}
			}
		}
		out[i].Parts = parts
	}
	return out
}

// toolNamesByID indexes tool call names so results can be labelled for Gemini.
func toolNamesByID(turns []Turn) map[string]string {
	names := make(map[string]string)
	for _, t := range turns {
		for _, p := range t.Parts {
			if p.Type == PartToolCall && p.ToolCallID != "" {
				names[p.ToolCallID] = p.ToolName
			}
		}
	}
	return names
}

// parseDataURL splits "data:<mime>;base64,<data>".
func parseDataURL(u string) (mediaType, data string, ok bool) {
	if !strings.HasPrefix(u, "data:") {
		return "", "", false
	}
	rest := strings.TrimPrefix(u, "data:")
	meta, payload, found := strings.Cut(rest, ",")
	if !found {
		return "", "", false
	}
	meta = strings.TrimSuffix(meta, ";base64")
	return meta, payload, true
}

func dataURL(mediaType, data string) string {
	return "data:" + mediaType + ";base64," + data
}

// cleanSchemaForGemini drops JSON-Schema keywords Gemini's OpenAPI subset rejects.
func cleanSchemaForGemini(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}
	out := make(map[string]any, len(schema))
	for k, v := range schema {
		switch k {
		case "additionalProperties", "strict", "$schema", "$id", "$defs", "definitions":
			continue
		}
		switch nested := v.(type) {
		case map[string]any:
			out[k] = cleanSchemaForGemini(nested)
		case []any:
			items := make([]any, len(nested))
			for i, item := range nested {
				if m, ok := asMap(item); ok {
					items[i] = cleanSchemaForGemini(m)
				} else {
					items[i] = item
				}
			}
			out[k] = items
		default:
			out[k] = v
		}
	}
	return out
}
