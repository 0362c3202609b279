package resilience

import (
	"encoding/json"
	"math"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// RetryHint is what a provider's error body says about when to retry.
// RetryAfterMs is nil when the body carries no usable delay.
type RetryHint struct {
	RetryAfterMs *int64
	Reason       Reason
}

// Duration returns the hinted delay, or 0 without one.
func (h RetryHint) Duration() time.Duration {
	if h.RetryAfterMs == nil {
		return 0
	}
	return time.Duration(*h.RetryAfterMs) * time.Millisecond
}

// e.g. "Please retry in 33.5s", "retry after 20 seconds"
var retryTextPattern = regexp.MustCompile(`(?i)retry\s+(?:after|in)\s+(\d+(?:\.\d+)?)\s*(ms|s|sec|secs|seconds?)\b`)

// typeReasons are error `type`/`status`/`code`/`reason` discriminators that
// identify a rate-limit class error without a delay.
var typeReasons = map[string]Reason{
	"rate_limit_error":    ReasonRateLimit,
	"rate_limit_exceeded": ReasonRateLimit,
	"ratelimitexceeded":   ReasonRateLimit,
	"resource_exhausted":  ReasonRateLimit,
	"too_many_requests":   ReasonRateLimit,
	"insufficient_quota":  ReasonQuota,
	"quotaexceeded":       ReasonQuota,
	"quota_exhausted":     ReasonQuota,
	"overloaded_error":    ReasonCapacity,
}

// ExtractRetryHint reads a provider error body, given as []byte, string or an
// already decoded JSON value. Malformed input yields RetryHint{Reason: ReasonUnknown}.
func ExtractRetryHint(body any) (hint RetryHint) {
	hint.Reason = ReasonUnknown
	defer func() {
		if recover() != nil {
			hint = RetryHint{Reason: ReasonUnknown}
		}
	}()

	var text string
	var decoded any
	switch b := body.(type) {
	case nil:
		return hint
	case []byte:
		text = string(b)
		decoded = decodeLoose(b)
	case json.RawMessage:
		text = string(b)
		decoded = decodeLoose(b)
	case string:
		text = b
		decoded = decodeLoose([]byte(b))
	default:
		decoded = b
		if raw, err := json.Marshal(b); err == nil {
			text = string(raw)
		}
	}

	if decoded != nil {
		var s hintScan
		s.walk(decoded, 0)
		if s.reason != "" {
			hint.Reason = s.reason
		}
		if s.delay != nil {
			hint.RetryAfterMs = s.delay
		}
	}
	if hint.RetryAfterMs == nil {
		hint.RetryAfterMs = delayFromText(text)
	}
	if hint.RetryAfterMs != nil && hint.Reason == ReasonUnknown {
		hint.Reason = ReasonRateLimit
	}
	return hint
}

func decodeLoose(b []byte) any {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil
	}
	return v
}

// hintScan walks a decoded body looking for details[].retryDelay and type
// discriminators at any depth.
type hintScan struct {
	delay  *int64
	reason Reason
}

const maxHintDepth = 16

var discriminatorKeys = []string{"code", "reason", "type", "status"}

func (s *hintScan) walk(v any, depth int) {
	if depth > maxHintDepth {
		return
	}
	switch t := v.(type) {
	case map[string]any:
		// An object's own discriminators decide before its children, most
		// specific key first.
		for _, key := range discriminatorKeys {
			if str, ok := t[key].(string); ok && s.reason == "" {
				if r, ok := typeReasons[strings.ToLower(str)]; ok {
					s.reason = r
				}
			}
		}
		keys := make([]string, 0, len(t))
		for key := range t {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			if key == "details" {
				for _, d := range asList(t[key]) {
					s.detail(d)
				}
			}
			s.walk(t[key], depth+1)
		}
	case []any:
		for _, child := range t {
			s.walk(child, depth+1)
		}
	case string:
		// Some providers embed the JSON error as a string in a message field.
		if s.delay == nil && len(t) > 1 && t[0] == '{' {
			if inner := decodeLoose([]byte(t)); inner != nil {
				s.walk(inner, depth+1)
			}
		}
	}
}

func (s *hintScan) detail(v any) {
	m, ok := v.(map[string]any)
	if !ok || s.delay != nil {
		return
	}
	if ms := parseDelay(m["retryDelay"]); ms != nil {
		s.delay = ms
		return
	}
	if meta, ok := m["metadata"].(map[string]any); ok {
		s.delay = parseDelay(meta["retryDelay"])
	}
}

// parseDelay accepts the protobuf Duration string form used by Google APIs ("33s", "0.5s").
func parseDelay(v any) *int64 {
	str, ok := v.(string)
	if !ok || str == "" {
		return nil
	}
	d, err := time.ParseDuration(str)
	if err != nil || d < 0 {
		return nil
	}
	ms := d.Milliseconds()
	return &ms
}

func delayFromText(text string) *int64 {
	m := retryTextPattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil || math.IsInf(n, 0) || n < 0 {
		return nil
	}
	ms := int64(n * 1000)
	if strings.EqualFold(m[2], "ms") {
		ms = int64(n)
	}
	return &ms
}

func asList(v any) []any {
	l, _ := v.([]any)
	return l
}

// ParseRetryAfterHeader reads an HTTP Retry-After value, either delta-seconds
// or an HTTP date relative to now.
func ParseRetryAfterHeader(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if t, err := http.ParseTime(value); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}
