package resilience

import (
	"bytes"
	"net/http"
)

// Reason is the classified cause of a failed provider call.
type Reason string

const (
	ReasonRateLimit Reason = "RATE_LIMIT_EXCEEDED"
	ReasonQuota     Reason = "QUOTA_EXHAUSTED"
	ReasonAuth      Reason = "AUTH_ERROR"
	ReasonCapacity  Reason = "MODEL_CAPACITY"
	ReasonServer    Reason = "SERVER_ERROR"
	ReasonUnknown   Reason = "UNKNOWN"
)

// ModelScoped reports reasons that describe one model on an account rather
// than the account itself.
func (r Reason) ModelScoped() bool {
	return r == ReasonQuota || r == ReasonCapacity
}

// textRule maps a phrase found in an error body to a reason. Rules are checked
// in order; the first hit wins.
type textRule struct {
	reason  Reason
	phrases [][]byte
}

var textRules = []textRule{
	{ReasonQuota, phrases("quota", "insufficient_quota", "credit balance is too low", "billing")},
	{ReasonRateLimit, phrases("rate limit", "rate_limit", "ratelimit", "too many requests")},
	{ReasonCapacity, phrases("capacity", "overloaded")},
	{ReasonAuth, phrases("unauthorized", "unauthenticated")},
}

func phrases(p ...string) [][]byte {
	out := make([][]byte, len(p))
	for i, s := range p {
		out[i] = []byte(s)
	}
	return out
}

// classifyText returns the reason suggested by the body text, or "" if no
// rule matches.
func classifyText(body []byte) Reason {
	if len(body) == 0 {
		return ""
	}
	lower := bytes.ToLower(body)
	for _, rule := range textRules {
		for _, p := range rule.phrases {
			if bytes.Contains(lower, p) {
				return rule.reason
			}
		}
	}
	return ""
}

// statusReason is the baseline reason for a status code. ok is false for
// client errors that should be surfaced without trying another account.
// Status 0 stands for a transport failure (no response).
func statusReason(status int) (Reason, bool) {
	switch {
	case status == 0:
		return ReasonServer, true
	case status == http.StatusTooManyRequests:
		return ReasonRateLimit, true
	case status == http.StatusPaymentRequired:
		return ReasonQuota, true
	case status == http.StatusUnauthorized:
		return ReasonAuth, true
	case status == http.StatusServiceUnavailable:
		return ReasonCapacity, true
	case status >= 500:
		return ReasonServer, true
	case status >= 400:
		return ReasonUnknown, false
	}
	return ReasonUnknown, true
}

// Classify maps a failed response onto the error taxonomy. A reason found in
// the body text overrides the status baseline.
func Classify(status int, body []byte) Reason {
	if r := classifyText(body); r != "" {
		return r
	}
	r, _ := statusReason(status)
	return r
}

// Retryable reports whether a failed response should move on to the next
// candidate account. Plain 4xx validation errors are not retryable; on those
// statuses only quota, rate-limit or capacity text makes a retry worthwhile.
func Retryable(status int, body []byte) bool {
	if _, ok := statusReason(status); ok {
		return true
	}
	switch classifyText(body) {
	case ReasonQuota, ReasonRateLimit, ReasonCapacity:
		return true
	}
	return false
}
