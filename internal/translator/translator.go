// Package translator converts LLM request bodies between wire formats.
//
// Every conversion goes through a single canonical request: a body in format A
// is decoded by A's codec into a CanonicalRequest, and that request is encoded
// by B's codec. Codecs are registered per Format in a Registry, so adding a
// format means adding one codec, not touching every other format.
package translator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Format tags the wire format a body is written in.
type Format string

const (
	FormatOpenAIChat      Format = "openai-chat"
	FormatOpenAIResponses Format = "openai-responses"
	FormatClaude          Format = "claude"
	FormatGemini          Format = "gemini"
)

var (
	// ErrUnrecognizedFormat is returned when a body matches no known wire format.
	ErrUnrecognizedFormat = errors.New("unrecognized request format")
	// ErrUnsupportedFormat is returned when no codec is registered for a format.
	ErrUnsupportedFormat = errors.New("unsupported format")
)

// ParseFormat maps a user-supplied name onto a Format. A few common aliases
// ("openai", "anthropic", "responses") are accepted.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "openai-chat", "openai", "chat":
		return FormatOpenAIChat, nil
	case "openai-responses", "responses":
		return FormatOpenAIResponses, nil
	case "claude", "anthropic":
		return FormatClaude, nil
	case "gemini", "genai", "google":
		return FormatGemini, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// Codec converts one wire format to and from the canonical request.
type Codec interface {
	Format() Format
	ToCanonical(body map[string]any) (*CanonicalRequest, error)
	FromCanonical(req *CanonicalRequest) (map[string]any, error)
}

// Registry holds one codec per format.
type Registry struct {
	codecs map[Format]Codec
}

// NewRegistry builds a registry from the given codecs. A later codec for the
// same format replaces an earlier one.
func NewRegistry(codecs ...Codec) *Registry {
	r := &Registry{codecs: make(map[Format]Codec, len(codecs))}
	for _, c := range codecs {
		r.codecs[c.Format()] = c
	}
	return r
}

// DefaultRegistry returns a registry with every built-in codec.
func DefaultRegistry() *Registry {
	return NewRegistry(OpenAIChatCodec{}, ResponsesCodec{}, ClaudeCodec{}, GeminiCodec{})
}

// Codec returns the codec registered for f.
func (r *Registry) Codec(f Format) (Codec, error) {
	c, ok := r.codecs[f]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
	}
	return c, nil
}

// Formats lists registered formats in stable order.
func (r *Registry) Formats() []Format {
	out := make([]Format, 0, len(r.codecs))
	for f := range r.codecs {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ToCanonical decodes body, written in source format, into a canonical request.
func (r *Registry) ToCanonical(body []byte, source Format) (*CanonicalRequest, error) {
	c, err := r.Codec(source)
	if err != nil {
		return nil, err
	}
	m, err := DecodeObject(body)
	if err != nil {
		return nil, err
	}
	req, err := c.ToCanonical(m)
	if err != nil {
		return nil, fmt.Errorf("decode %s request: %w", source, err)
	}
	req.Source = source
	return req, nil
}

// FromCanonical encodes req in the target format.
func (r *Registry) FromCanonical(req *CanonicalRequest, target Format) ([]byte, error) {
	m, err := r.FromCanonicalMap(req, target)
	if err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// FromCanonicalMap is FromCanonical without the final marshal step.
func (r *Registry) FromCanonicalMap(req *CanonicalRequest, target Format) (map[string]any, error) {
	c, err := r.Codec(target)
	if err != nil {
		return nil, err
	}
	m, err := c.FromCanonical(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", target, err)
	}
	return m, nil
}

// Translate converts body from source to target through the canonical request.
func (r *Registry) Translate(body []byte, source, target Format) ([]byte, error) {
	req, err := r.ToCanonical(body, source)
	if err != nil {
		return nil, err
	}
	return r.FromCanonical(req, target)
}

// DecodeObject parses a JSON object, keeping numbers as json.Number so integer
// and float literals survive a round trip unchanged.
func DecodeObject(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnrecognizedFormat, err)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: body is not a JSON object", ErrUnrecognizedFormat)
	}
	return m, nil
}
