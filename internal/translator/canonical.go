package translator

import "strings"

// Role is the speaker of a canonical turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType discriminates the structured content of a turn.
type PartType string

const (
	PartText       PartType = "text"
	PartImage      PartType = "image"
	PartToolCall   PartType = "tool_call"
	PartToolResult PartType = "tool_result"
	// PartRaw carries a block with no canonical meaning. It is only emitted
	// back into the format it came from.
	PartRaw PartType = "raw"
)

// ContentShape records how a message's content was written, so encoding back
// into the source format reproduces it. The zero value means "derive from
// Text and Parts".
type ContentShape string

const (
	ContentString ContentShape = "string"
	ContentParts  ContentShape = "parts"
	ContentNull   ContentShape = "null"
	ContentAbsent ContentShape = "absent"
)

func contentShapeOf(msg map[string]any, key string) ContentShape {
	v, ok := msg[key]
	if !ok {
		return ContentAbsent
	}
	switch v.(type) {
	case nil:
		return ContentNull
	case string:
		return ContentString
	case []any:
		return ContentParts
	}
	return ""
}

// CanonicalRequest is the one intermediate shape every format translates through.
type CanonicalRequest struct {
	Model       string   `json:"model"`
	Turns       []Turn   `json:"turns"`
	Tools       []Tool   `json:"tools,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"topP,omitempty"`
	MaxTokens   *int     `json:"maxTokens,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	// StopScalar is set when the source wrote a single stop string.
	StopScalar bool `json:"stopScalar,omitempty"`
	// Stream is nil when the source body had no stream field.
	Stream *bool `json:"stream,omitempty"`
	// ReasoningBudget is nil when the source did not ask for one.
	ReasoningBudget *int `json:"reasoningBudget,omitempty"`

	// Source is the format the request was decoded from.
	Source Format `json:"source"`
	// Passthrough holds top-level fields of the source body that have no
	// canonical slot. Only re-emitted when encoding back into Source.
	Passthrough map[string]any `json:"passthrough,omitempty"`

	// ShorthandInput is set by ResponsesCodec when input was a bare string.
	ShorthandInput bool `json:"shorthandInput,omitempty"`
}

// IsStream reports whether the client asked for a streamed reply.
func (r *CanonicalRequest) IsStream() bool {
	return r.Stream != nil && *r.Stream
}

func (r *CanonicalRequest) SetStream(on bool) {
	r.Stream = &on
}

// Turn is one message of the conversation. Either Text or Parts is used:
// Text for plain string content, Parts for structured content.
type Turn struct {
	Role  Role   `json:"role"`
	Text  string `json:"text,omitempty"`
	Parts []Part `json:"parts,omitempty"`
	// Content is the source's content shape, same-format only.
	Content ContentShape `json:"content,omitempty"`
	// Extra holds unmodeled message-level fields, same-format only.
	Extra map[string]any `json:"extra,omitempty"`

	// OmitRole records an entry that carried no role: a Gemini content
	// without one, or a standalone Responses input item.
	OmitRole bool `json:"omitRole,omitempty"`
}

// plainContent is the content value for a turn without parts. ok is false
// when the source message had no content key at all.
func (t Turn) plainContent(same bool) (v any, ok bool) {
	if !same {
		return t.Text, true
	}
	switch t.Content {
	case ContentParts:
		return []any{}, true
	case ContentNull:
		return nil, true
	case ContentAbsent:
		return nil, false
	}
	return t.Text, true
}

// Part is one structured content block.
type Part struct {
	Type PartType `json:"type"`
	Text string   `json:"text,omitempty"`

	// image
	MediaType string `json:"mediaType,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`

	// tool_call / tool_result
	ToolCallID   string         `json:"toolCallId,omitempty"`
	ToolName     string         `json:"toolName,omitempty"`
	Arguments    map[string]any `json:"arguments,omitempty"`
	RawArguments string         `json:"rawArguments,omitempty"`
	Result       any            `json:"result,omitempty"`
	IsError      bool           `json:"isError,omitempty"`

	Raw   map[string]any `json:"raw,omitempty"`
	Extra map[string]any `json:"extra,omitempty"`
}

// Tool is a function declaration offered to the model.
type Tool struct {
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	// Raw holds a provider-native tool (web search, code execution) that has no
	// function shape. Same-format only.
	Raw map[string]any `json:"raw,omitempty"`
	// Extra holds unmodeled keys of a function tool (strict, cache_control).
	Extra map[string]any `json:"extra,omitempty"`
}

// PlainText returns the turn's text, concatenating text parts when the turn is structured.
func (t Turn) PlainText() string {
	if len(t.Parts) == 0 {
		return t.Text
	}
	var texts []string
	for _, p := range t.Parts {
		if p.Type == PartText {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// SystemText joins the text of every system turn.
func (r *CanonicalRequest) SystemText() string {
	var texts []string
	for _, t := range r.Turns {
		if t.Role == RoleSystem {
			texts = append(texts, t.PlainText())
		}
	}
	return strings.Join(texts, "\n\n")
}

func (r *CanonicalRequest) sameFormat(f Format) bool {
	return r.Source == f
}

func (r *CanonicalRequest) systemTurns() []Turn {
	var out []Turn
	for _, t := range r.Turns {
		if t.Role == RoleSystem {
			out = append(out, t)
		}
	}
	return out
}

// portableTurns drops raw parts when encoding into a different format, along
// with any turn left empty by that.
func (r *CanonicalRequest) portableTurns(target Format) []Turn {
	if r.sameFormat(target) {
		return r.Turns
	}
	out := make([]Turn, 0, len(r.Turns))
	for _, t := range r.Turns {
		if len(t.Parts) == 0 {
			out = append(out, t)
			continue
		}
		parts := make([]Part, 0, len(t.Parts))
		for _, p := range t.Parts {
			if p.Type != PartRaw {
				parts = append(parts, p)
			}
		}
		if len(parts) == 0 {
			continue
		}
		t.Parts = parts
		out = append(out, t)
	}
	return out
}
