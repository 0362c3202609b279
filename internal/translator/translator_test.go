package translator

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func mustDecode(t *testing.T, body []byte) map[string]any {
	t.Helper()
	m, err := DecodeObject(body)
	if err != nil {
		t.Fatalf("DecodeObject() error = %v\nbody: %s", err, body)
	}
	return m
}

func translate(t *testing.T, body string, source, target Format) map[string]any {
	t.Helper()
	out, err := DefaultRegistry().Translate([]byte(body), source, target)
	if err != nil {
		t.Fatalf("Translate(%s -> %s) error = %v", source, target, err)
	}
	return mustDecode(t, out)
}

func path(m map[string]any, keys ...any) any {
	var cur any = m
	for _, k := range keys {
		switch key := k.(type) {
		case string:
			obj, ok := cur.(map[string]any)
			if !ok {
				return nil
			}
			cur = obj[key]
		case int:
			arr, ok := cur.([]any)
			if !ok || key >= len(arr) {
				return nil
			}
			cur = arr[key]
		}
	}
	return cur
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Format
	}{
		{"gemini contents", `{"contents":[{"role":"user","parts":[{"text":"hi"}]}]}`, FormatGemini},
		{"responses items", `{"model":"gpt-5","input":[{"type":"message","role":"user","content":"hi"}]}`, FormatOpenAIResponses},
		{"responses string input", `{"model":"gpt-5","input":"hi"}`, FormatOpenAIResponses},
		{"claude", `{"model":"claude-sonnet-4","max_tokens":1024,"messages":[{"role":"user","content":"hi"}]}`, FormatClaude},
		{"openai chat", `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`, FormatOpenAIChat},
		{"openai chat with max_tokens and system message", `{"model":"gpt-4o","max_tokens":100,"messages":[{"role":"system","content":"x"},{"role":"user","content":"hi"}]}`, FormatOpenAIChat},
		{"openai chat with max_tokens and openai-only key", `{"model":"gpt-4o","max_tokens":100,"n":2,"messages":[{"role":"user","content":"hi"}]}`, FormatOpenAIChat},
		{"gemini wins over messages", `{"messages":[],"contents":[{"parts":[{"text":"hi"}]}]}`, FormatGemini},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Detect([]byte(tt.body))
			if err != nil {
				t.Fatalf("Detect() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Detect() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetectUnrecognized(t *testing.T) {
	bodies := []string{
		`{"prompt":"hello"}`,
		`{"contents":[{"text":"no parts"}]}`,
		`[1,2,3]`,
		`not json`,
		``,
	}
	for _, body := range bodies {
		if f, err := Detect([]byte(body)); !errors.Is(err, ErrUnrecognizedFormat) {
			t.Errorf("Detect(%q) = %q, %v; want ErrUnrecognizedFormat", body, f, err)
		}
	}
}

func TestParseFormat(t *testing.T) {
	tests := map[string]Format{
		"openai":           FormatOpenAIChat,
		"openai-chat":      FormatOpenAIChat,
		"Responses":        FormatOpenAIResponses,
		"anthropic":        FormatClaude,
		" gemini ":         FormatGemini,
		"openai-responses": FormatOpenAIResponses,
	}
	for in, want := range tests {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseFormat("cohere"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("ParseFormat(cohere) error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestSameFormatRoundTrip(t *testing.T) {
	tests := []struct {
		format Format
		body   string
	}{
		{FormatOpenAIChat, `{
			"model":"gpt-4o",
			"messages":[
				{"role":"system","content":"Be brief."},
				{"role":"user","content":[
					{"type":"text","text":"What is in this image?"},
					{"type":"image_url","image_url":{"url":"https://example.com/cat.png","detail":"low"}}
				]},
				{"role":"assistant","content":null,"tool_calls":[
					{"id":"call_1","type":"function","function":{"name":"lookup","arguments":"{\"q\":\"cat\"}"}}
				]},
				{"role":"tool","tool_call_id":"call_1","content":"a cat"}
			],
			"temperature":0.2,
			"max_tokens":256,
			"stop":["END"],
			"tools":[{"type":"function","function":{"name":"lookup","description":"Search","parameters":{"type":"object","properties":{"q":{"type":"string"}}}}}],
			"stream":true,
			"user":"u-1",
			"seed":7
		}`},
		{FormatOpenAIChat, `{
			"model":"o3",
			"messages":[{"role":"developer","content":"Follow the rules."},{"role":"user","content":"hello","name":"alice"}],
			"response_format":{"type":"json_object"}
		}`},
		{FormatClaude, `{
			"model":"claude-sonnet-4",
			"max_tokens":1024,
			"system":"You are terse.",
			"messages":[
				{"role":"user","content":"Weather in Paris?"},
				{"role":"assistant","content":[
					{"type":"text","text":"Checking."},
					{"type":"tool_use","id":"toolu_1","name":"get_weather","input":{"city":"Paris"}}
				]},
				{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_1","content":"18C","is_error":false}]}
			],
			"tools":[{"name":"get_weather","description":"Get weather","input_schema":{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}}],
			"thinking":{"type":"enabled","budget_tokens":2048},
			"metadata":{"user_id":"u-1"},
			"stop_sequences":["\n\nHuman:"],
			"temperature":1
		}`},
		{FormatClaude, `{
			"model":"claude-opus-4",
			"max_tokens":512,
			"system":[{"type":"text","text":"Cached prompt","cache_control":{"type":"ephemeral"}}],
			"messages":[{"role":"user","content":[{"type":"text","text":"hi"},{"type":"document","source":{"type":"text","data":"x"}}]}],
			"tools":[{"type":"web_search_20250305","name":"web_search","max_uses":3}],
			"thinking":{"type":"disabled"}
		}`},
		{FormatGemini, `{
			"contents":[
				{"role":"user","parts":[{"text":"Hi"}]},
				{"role":"model","parts":[{"functionCall":{"name":"get_time","args":{"tz":"UTC"}}}]},
				{"role":"user","parts":[{"functionResponse":{"name":"get_time","response":{"time":"12:00"}}}]},
				{"parts":[{"text":"and tomorrow?"},{"inlineData":{"mimeType":"image/png","data":"iVBORw0K"}}]}
			],
			"systemInstruction":{"parts":[{"text":"Be kind."}]},
			"tools":[{"functionDeclarations":[{"name":"get_time","description":"Current time","parameters":{"type":"object","properties":{"tz":{"type":"string"}}}}]},{"googleSearch":{}}],
			"generationConfig":{"temperature":0.5,"maxOutputTokens":512,"responseMimeType":"text/plain","thinkingConfig":{"thinkingBudget":1024,"includeThoughts":true}},
			"safetySettings":[{"category":"HARM_CATEGORY_HARASSMENT","threshold":"BLOCK_NONE"}]
		}`},
		{FormatOpenAIResponses, `{
			"model":"gpt-5-codex",
			"instructions":"You are a coding agent.",
			"input":[
				{"type":"message","role":"user","content":[{"type":"input_text","text":"List files"}]},
				{"type":"reasoning","id":"rs_1","summary":[]},
				{"type":"function_call","call_id":"call_a","name":"shell","arguments":"{\"cmd\":\"ls\"}"},
				{"type":"function_call_output","call_id":"call_a","output":"main.go"}
			],
			"tools":[{"type":"function","name":"shell","description":"Run a command","parameters":{"type":"object","properties":{"cmd":{"type":"string"}}},"strict":false}],
			"reasoning":{"effort":"high"},
			"store":false,
			"stream":true
		}`},
		{FormatOpenAIResponses, `{"model":"gpt-5","input":"Say hi","max_output_tokens":64}`},
		{FormatOpenAIResponses, `{"model":"gpt-5","input":[{"role":"developer","content":"inline rules"},{"role":"user","content":"go"}]}`},
		// Scalar stop, explicit stream:false and the empty and missing content shapes.
		{FormatOpenAIChat, `{
			"model":"gpt-4o",
			"stop":"END",
			"stream":false,
			"messages":[
				{"role":"user","content":[]},
				{"role":"assistant","content":"","tool_calls":[{"id":"call_1","type":"function","function":{"name":"a","arguments":"{}"}}]},
				{"role":"tool","tool_call_id":"call_1","content":"ok"},
				{"role":"assistant","content":[{"type":"text","text":"More."}],"tool_calls":[{"id":"call_2","type":"function","function":{"name":"b","arguments":"{}"}}]},
				{"role":"tool","tool_call_id":"call_2","content":"ok"},
				{"role":"assistant","tool_calls":[{"id":"call_3","type":"function","function":{"name":"c","arguments":"{}"}}]},
				{"role":"tool","tool_call_id":"call_3","content":"ok"},
				{"role":"assistant","content":null}
			]
		}`},
		{FormatClaude, `{
			"model":"claude-sonnet-4",
			"max_tokens":64,
			"stream":false,
			"system":[],
			"messages":[{"role":"user","content":[]},{"role":"assistant","content":""}]
		}`},
		{FormatOpenAIResponses, `{"model":"gpt-5","stream":false,"input":[{"role":"user","content":[]}]}`},
	}
	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			want := mustDecode(t, []byte(tt.body))
			got := translate(t, tt.body, tt.format, tt.format)
			if !reflect.DeepEqual(got, want) {
				gotJSON, _ := json.MarshalIndent(got, "", "  ")
				wantJSON, _ := json.MarshalIndent(want, "", "  ")
				t.Errorf("round trip mismatch\ngot:  %s\nwant: %s", gotJSON, wantJSON)
			}
		})
	}
}

func TestStopAndStreamShapesAcrossFormats(t *testing.T) {
	body := `{"model":"gpt-4o","stop":"END","stream":false,"messages":[{"role":"user","content":"hi"}]}`

	claude := translate(t, body, FormatOpenAIChat, FormatClaude)
	if !reflect.DeepEqual(claude["stop_sequences"], []any{"END"}) {
		t.Errorf("stop_sequences = %v", claude["stop_sequences"])
	}
	if claude["stream"] != false {
		t.Errorf("stream = %v, want false", claude["stream"])
	}

	gemini := translate(t, body, FormatOpenAIChat, FormatGemini)
	if _, ok := gemini["stream"]; ok {
		t.Errorf("gemini body carries stream: %v", gemini)
	}

	unset := translate(t, `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`, FormatOpenAIChat, FormatClaude)
	if _, ok := unset["stream"]; ok {
		t.Errorf("stream set although the source had none: %v", unset["stream"])
	}
}

func TestCanonicalJSONFieldNames(t *testing.T) {
	body := `{"model":"gpt-4o","stream":true,"messages":[{"role":"assistant","content":null,"tool_calls":[{"id":"call_1","type":"function","function":{"name":"a","arguments":"{\"x\":1}"}}]}]}`
	req, err := DefaultRegistry().ToCanonical([]byte(body), FormatOpenAIChat)
	if err != nil {
		t.Fatalf("ToCanonical() error = %v", err)
	}
	b, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	got := mustDecode(t, b)
	if got["model"] != "gpt-4o" || got["stream"] != true || got["source"] != "openai-chat" {
		t.Fatalf("canonical JSON = %s", b)
	}
	if path(got, "turns", 0, "content") != "null" || path(got, "turns", 0, "parts", 0, "rawArguments") != `{"x":1}` {
		t.Fatalf("canonical turn JSON = %s", b)
	}
}

func TestClaudeThinkingBudgetToGemini(t *testing.T) {
	body := `{"model":"claude-sonnet-4","max_tokens":2048,"thinking":{"type":"enabled","budget_tokens":10000},"messages":[{"role":"user","content":"think hard"}]}`
	got := translate(t, body, FormatClaude, FormatGemini)

	budget, ok := path(got, "generationConfig", "thinkingConfig", "thinkingBudget").(json.Number)
	if !ok || budget.String() != "10000" {
		t.Fatalf("thinkingBudget = %v, want 10000", path(got, "generationConfig", "thinkingConfig", "thinkingBudget"))
	}
	if n := path(got, "generationConfig", "maxOutputTokens"); n != json.Number("2048") {
		t.Errorf("maxOutputTokens = %v, want 2048", n)
	}
}

func TestGeminiThinkingBudgetToClaude(t *testing.T) {
	body := `{"contents":[{"role":"user","parts":[{"text":"hi"}]}],"generationConfig":{"thinkingConfig":{"thinkingBudget":4096,"includeThoughts":true}}}`
	got := translate(t, body, FormatGemini, FormatClaude)

	if b := path(got, "thinking", "budget_tokens"); b != json.Number("4096") {
		t.Errorf("thinking.budget_tokens = %v, want 4096", b)
	}
	if typ := path(got, "thinking", "type"); typ != "enabled" {
		t.Errorf("thinking.type = %v, want enabled", typ)
	}
	thinking, _ := path(got, "thinking").(map[string]any)
	if _, ok := thinking["includeThoughts"]; ok {
		t.Errorf("gemini-only includeThoughts leaked into claude thinking")
	}
}

func TestAbsentReasoningBudgetStaysUnset(t *testing.T) {
	got := translate(t, `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}],"temperature":0.3}`, FormatOpenAIChat, FormatGemini)
	if v := path(got, "generationConfig", "thinkingConfig"); v != nil {
		t.Errorf("thinkingConfig = %v, want absent", v)
	}
	got = translate(t, `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`, FormatOpenAIChat, FormatClaude)
	if v, ok := got["thinking"]; ok {
		t.Errorf("thinking = %v, want absent", v)
	}
}

func TestSystemPromptPlacement(t *testing.T) {
	openai := `{"model":"m","messages":[{"role":"system","content":"SYS"},{"role":"user","content":"hi"}]}`

	claude := translate(t, openai, FormatOpenAIChat, FormatClaude)
	if claude["system"] != "SYS" {
		t.Errorf("claude system = %v, want SYS", claude["system"])
	}
	if n := len(claude["messages"].([]any)); n != 1 {
		t.Errorf("claude messages = %d, want 1 (system lifted out)", n)
	}

	gemini := translate(t, openai, FormatOpenAIChat, FormatGemini)
	if got := path(gemini, "systemInstruction", "parts", 0, "text"); got != "SYS" {
		t.Errorf("gemini systemInstruction text = %v, want SYS", got)
	}

	responses := translate(t, openai, FormatOpenAIChat, FormatOpenAIResponses)
	if responses["instructions"] != "SYS" {
		t.Errorf("responses instructions = %v, want SYS", responses["instructions"])
	}

	back := translate(t, `{"model":"m","max_tokens":10,"system":"SYS","messages":[{"role":"user","content":"hi"}]}`, FormatClaude, FormatOpenAIChat)
	if role := path(back, "messages", 0, "role"); role != "system" {
		t.Errorf("openai messages[0].role = %v, want system", role)
	}
	if content := path(back, "messages", 0, "content"); content != "SYS" {
		t.Errorf("openai messages[0].content = %v, want SYS", content)
	}
}

func TestAssistantRoleRenamedOnlyForGemini(t *testing.T) {
	openai := `{"model":"m","messages":[{"role":"user","content":"hi"},{"role":"assistant","content":"hello"}]}`

	gemini := translate(t, openai, FormatOpenAIChat, FormatGemini)
	if role := path(gemini, "contents", 1, "role"); role != "model" {
		t.Errorf("gemini role = %v, want model", role)
	}
	claude := translate(t, openai, FormatOpenAIChat, FormatClaude)
	if role := path(claude, "messages", 1, "role"); role != "assistant" {
		t.Errorf("claude role = %v, want assistant", role)
	}

	back := translate(t, `{"contents":[{"role":"user","parts":[{"text":"hi"}]},{"role":"model","parts":[{"text":"hello"}]}]}`, FormatGemini, FormatOpenAIChat)
	if role := path(back, "messages", 1, "role"); role != "assistant" {
		t.Errorf("openai role = %v, want assistant", role)
	}
}

func TestToolDeclarationMapping(t *testing.T) {
	openai := `{"model":"m","messages":[{"role":"user","content":"hi"}],"tools":[{"type":"function","function":{"name":"get_weather","description":"Weather lookup","parameters":{"type":"object","additionalProperties":false,"properties":{"city":{"type":"string"}}}}}]}`

	claude := translate(t, openai, FormatOpenAIChat, FormatClaude)
	if name := path(claude, "tools", 0, "name"); name != "get_weather" {
		t.Errorf("claude tool name = %v", name)
	}
	if desc := path(claude, "tools", 0, "description"); desc != "Weather lookup" {
		t.Errorf("claude tool description = %v", desc)
	}
	if typ := path(claude, "tools", 0, "input_schema", "type"); typ != "object" {
		t.Errorf("claude input_schema.type = %v", typ)
	}

	gemini := translate(t, openai, FormatOpenAIChat, FormatGemini)
	decl := path(gemini, "tools", 0, "functionDeclarations", 0)
	if name := path(decl.(map[string]any), "name"); name != "get_weather" {
		t.Errorf("gemini declaration name = %v", name)
	}
	if _, ok := path(decl.(map[string]any), "parameters").(map[string]any)["additionalProperties"]; ok {
		t.Errorf("gemini parameters still carry additionalProperties")
	}

	back := translate(t, `{"model":"m","max_tokens":5,"messages":[{"role":"user","content":"hi"}],"tools":[{"name":"t","description":"d","input_schema":{"type":"object"}}]}`, FormatClaude, FormatOpenAIChat)
	if name := path(back, "tools", 0, "function", "name"); name != "t" {
		t.Errorf("openai function name = %v", name)
	}
	if typ := path(back, "tools", 0, "function", "parameters", "type"); typ != "object" {
		t.Errorf("openai function parameters.type = %v", typ)
	}
}

func TestToolCallsAcrossFormats(t *testing.T) {
	claude := `{"model":"c","max_tokens":100,"messages":[
		{"role":"user","content":"weather?"},
		{"role":"assistant","content":[{"type":"tool_use","id":"toolu_9","name":"get_weather","input":{"city":"Oslo"}}]},
		{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_9","content":"cold"},{"type":"text","text":"thanks"}]}
	]}`
	openai := translate(t, claude, FormatClaude, FormatOpenAIChat)
	msgs := openai["messages"].([]any)
	if len(msgs) != 4 {
		t.Fatalf("openai messages = %d, want 4: %v", len(msgs), msgs)
	}
	if id := path(openai, "messages", 1, "tool_calls", 0, "id"); id != "toolu_9" {
		t.Errorf("tool call id = %v", id)
	}
	if args := path(openai, "messages", 1, "tool_calls", 0, "function", "arguments"); args != `{"city":"Oslo"}` {
		t.Errorf("tool call arguments = %v", args)
	}
	if role := path(openai, "messages", 2, "role"); role != "tool" {
		t.Errorf("messages[2].role = %v, want tool", role)
	}
	if c := path(openai, "messages", 2, "content"); c != "cold" {
		t.Errorf("tool content = %v, want cold", c)
	}
	if c := path(openai, "messages", 3, "content", 0, "text"); c != "thanks" {
		t.Errorf("trailing user text = %v", c)
	}

	gemini := `{"contents":[
		{"role":"user","parts":[{"text":"time?"}]},
		{"role":"model","parts":[{"functionCall":{"name":"get_time","args":{}}}]},
		{"role":"user","parts":[{"functionResponse":{"name":"get_time","response":{"content":"noon"}}}]}
	]}`
	fromGemini := translate(t, gemini, FormatGemini, FormatOpenAIChat)
	callID := path(fromGemini, "messages", 1, "tool_calls", 0, "id")
	if callID == nil || callID == "" {
		t.Fatalf("generated tool call id missing")
	}
	if got := path(fromGemini, "messages", 2, "tool_call_id"); got != callID {
		t.Errorf("tool_call_id = %v, want %v", got, callID)
	}
	if c := path(fromGemini, "messages", 2, "content"); c != "noon" {
		t.Errorf("tool content = %v, want noon", c)
	}

	toGemini := translate(t, `{"model":"m","messages":[
		{"role":"user","content":"x"},
		{"role":"assistant","content":null,"tool_calls":[{"id":"call_1","type":"function","function":{"name":"f","arguments":"{\"a\":1}"}}]},
		{"role":"tool","tool_call_id":"call_1","content":"done"}
	]}`, FormatOpenAIChat, FormatGemini)
	if name := path(toGemini, "contents", 2, "parts", 0, "functionResponse", "name"); name != "f" {
		t.Errorf("functionResponse.name = %v, want f", name)
	}
	if a := path(toGemini, "contents", 1, "parts", 0, "functionCall", "args", "a"); a != json.Number("1") {
		t.Errorf("functionCall.args.a = %v, want 1", a)
	}
	if _, ok := path(toGemini, "contents", 1, "parts", 0, "functionCall").(map[string]any)["id"]; ok {
		t.Errorf("functionCall carries a foreign call id")
	}
}

func TestPassthroughDroppedAcrossFormats(t *testing.T) {
	openai := `{"model":"m","messages":[{"role":"user","content":"hi"}],"seed":42,"response_format":{"type":"json_object"},"temperature":0.4}`
	for _, target := range []Format{FormatClaude, FormatGemini, FormatOpenAIResponses} {
		got := translate(t, openai, FormatOpenAIChat, target)
		for _, key := range []string{"seed", "response_format"} {
			if _, ok := got[key]; ok {
				t.Errorf("%s output carries passthrough key %q", target, key)
			}
		}
	}

	claude := translate(t, openai, FormatOpenAIChat, FormatClaude)
	if claude["temperature"] != json.Number("0.4") {
		t.Errorf("modeled temperature = %v, want 0.4", claude["temperature"])
	}
	if claude["max_tokens"] != json.Number("4096") {
		t.Errorf("claude default max_tokens = %v", claude["max_tokens"])
	}

	gemini := translate(t, `{"contents":[{"role":"user","parts":[{"text":"hi"}]}],"safetySettings":[],"generationConfig":{"topK":3,"temperature":0.9}}`, FormatGemini, FormatOpenAIChat)
	if _, ok := gemini["safetySettings"]; ok {
		t.Errorf("safetySettings leaked into openai body")
	}
	if _, ok := gemini["topK"]; ok {
		t.Errorf("topK leaked into openai body")
	}
	if gemini["temperature"] != json.Number("0.9") {
		t.Errorf("temperature = %v, want 0.9", gemini["temperature"])
	}
}

func TestRawPartsDroppedAcrossFormats(t *testing.T) {
	claude := `{"model":"c","max_tokens":10,"messages":[
		{"role":"user","content":"hi"},
		{"role":"assistant","content":[{"type":"thinking","thinking":"hmm","signature":"sig"},{"type":"text","text":"hello"}]}
	],"tools":[{"type":"web_search_20250305","name":"web_search"}]}`
	got := translate(t, claude, FormatClaude, FormatOpenAIChat)
	if c := path(got, "messages", 1, "content"); !reflect.DeepEqual(c, []any{map[string]any{"type": "text", "text": "hello"}}) {
		t.Errorf("assistant content = %v", c)
	}
	if _, ok := got["tools"]; ok {
		t.Errorf("provider-native tool leaked: %v", got["tools"])
	}
}

func TestImageParts(t *testing.T) {
	openai := `{"model":"m","messages":[{"role":"user","content":[{"type":"image_url","image_url":{"url":"data:image/png;base64,QUJD"}}]}]}`

	claude := translate(t, openai, FormatOpenAIChat, FormatClaude)
	src := path(claude, "messages", 0, "content", 0, "source").(map[string]any)
	if src["type"] != "base64" || src["media_type"] != "image/png" || src["data"] != "QUJD" {
		t.Errorf("claude image source = %v", src)
	}

	gemini := translate(t, openai, FormatOpenAIChat, FormatGemini)
	inline := path(gemini, "contents", 0, "parts", 0, "inlineData").(map[string]any)
	if inline["mimeType"] != "image/png" || inline["data"] != "QUJD" {
		t.Errorf("gemini inlineData = %v", inline)
	}

	back := translate(t, `{"model":"c","max_tokens":1,"messages":[{"role":"user","content":[{"type":"image","source":{"type":"base64","media_type":"image/jpeg","data":"WFla"}}]}]}`, FormatClaude, FormatOpenAIChat)
	if url := path(back, "messages", 0, "content", 0, "image_url", "url"); url != "data:image/jpeg;base64,WFla" {
		t.Errorf("openai image url = %v", url)
	}
}

func TestResponsesToOpenAIChat(t *testing.T) {
	body := `{"model":"gpt-5","instructions":"rules","input":[
		{"type":"message","role":"user","content":[{"type":"input_text","text":"run ls"}]},
		{"type":"function_call","call_id":"c1","name":"shell","arguments":"{}"},
		{"type":"function_call","call_id":"c2","name":"shell","arguments":"{\"cmd\":\"pwd\"}"},
		{"type":"function_call_output","call_id":"c1","output":"a.go"},
		{"type":"function_call_output","call_id":"c2","output":"/src"}
	],"max_output_tokens":99}`
	got := translate(t, body, FormatOpenAIResponses, FormatOpenAIChat)

	if role := path(got, "messages", 0, "role"); role != "system" {
		t.Errorf("messages[0].role = %v", role)
	}
	calls, _ := path(got, "messages", 2, "tool_calls").([]any)
	if len(calls) != 2 {
		t.Errorf("tool_calls = %d, want 2 in one assistant message", len(calls))
	}
	if id := path(got, "messages", 4, "tool_call_id"); id != "c2" {
		t.Errorf("messages[4].tool_call_id = %v", id)
	}
	if got["max_tokens"] != json.Number("99") {
		t.Errorf("max_tokens = %v", got["max_tokens"])
	}
}

func TestOpenAIChatToResponses(t *testing.T) {
	body := `{"model":"gpt-5","stream":true,"messages":[{"role":"system","content":"rules"},{"role":"user","content":"hi"},{"role":"assistant","content":"hello"}]}`
	got := translate(t, body, FormatOpenAIChat, FormatOpenAIResponses)
	if got["instructions"] != "rules" {
		t.Errorf("instructions = %v", got["instructions"])
	}
	if typ := path(got, "input", 0, "type"); typ != "message" {
		t.Errorf("input[0].type = %v", typ)
	}
	if c := path(got, "input", 1, "content"); c != "hello" {
		t.Errorf("input[1].content = %v", c)
	}
	if got["stream"] != true {
		t.Errorf("stream = %v", got["stream"])
	}
}

func TestToCanonicalErrors(t *testing.T) {
	reg := DefaultRegistry()
	cases := []struct {
		format Format
		body   string
	}{
		{FormatOpenAIChat, `{"model":"m"}`},
		{FormatClaude, `{"model":"m","messages":"hi"}`},
		{FormatGemini, `{"contents":{}}`},
		{FormatOpenAIResponses, `{"model":"m","input":5}`},
	}
	for _, c := range cases {
		if _, err := reg.ToCanonical([]byte(c.body), c.format); err == nil {
			t.Errorf("ToCanonical(%s, %s) succeeded, want error", c.format, c.body)
		}
	}
	if _, err := reg.ToCanonical([]byte(`{}`), "cohere"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("unknown format error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestRegistryFormats(t *testing.T) {
	got := DefaultRegistry().Formats()
	want := []Format{FormatClaude, FormatGemini, FormatOpenAIChat, FormatOpenAIResponses}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Formats() = %v, want %v", got, want)
	}
}
