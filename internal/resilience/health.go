package resilience

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// AccountHealth scores an account from 0 to 100 for ranking. A nil account
// scores 0.
func AccountHealth(a *AccountState, now time.Time) int {
	if a == nil {
		return 0
	}
	score := 100 - 10*a.BackoffLevel
	if a.LastError != nil {
		score -= 20
	}
	if IsAccountUnavailable(a.RateLimitedUntil, now) {
		score -= 30
	}
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// IsAccountUnavailable is true only for a rate limit that ends strictly after now.
func IsAccountUnavailable(rateLimitedUntil *time.Time, now time.Time) bool {
	return rateLimitedUntil != nil && rateLimitedUntil.After(now)
}

// ParseRateLimitedUntil reads a stored rate-limit timestamp (RFC 3339 or Unix
// milliseconds). Anything unparseable yields nil, which counts as available.
func ParseRateLimitedUntil(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return &t
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms > 0 {
		t := time.UnixMilli(ms)
		return &t
	}
	return nil
}

// FilterAvailableAccounts keeps the accounts that are not rate limited, in
// input order.
func FilterAvailableAccounts(accounts []AccountState, now time.Time) []AccountState {
	out := make([]AccountState, 0, len(accounts))
	for _, a := range accounts {
		if !IsAccountUnavailable(a.RateLimitedUntil, now) {
			out = append(out, a)
		}
	}
	return out
}

// RankAccounts returns the available accounts ordered by health, best first.
// Accounts with equal health keep their input order.
func RankAccounts(accounts []AccountState, now time.Time) []AccountState {
	out := FilterAvailableAccounts(accounts, now)
	sort.SliceStable(out, func(i, j int) bool {
		return AccountHealth(&out[i], now) > AccountHealth(&out[j], now)
	})
	return out
}

// ResetAccountState records a success.
func ResetAccountState(a *AccountState) {
	a.RateLimitedUntil = nil
	a.BackoffLevel = 0
	a.LastError = nil
	a.Status = StatusActive
}

// ApplyErrorState records a failure: the account cools down for the outcome's
// cooldown and its backoff level moves up by one.
func ApplyErrorState(a *AccountState, o Outcome, message string, now time.Time) {
	until := now.Add(time.Duration(o.CooldownMs) * time.Millisecond)
	a.RateLimitedUntil = &until
	a.BackoffLevel++
	a.Status = StatusError
	a.LastError = &ErrorInfo{Reason: o.Reason, Message: message}
}

// FormatRetryAfter renders the remaining wait for display, "1h 5m" or "3m".
// Partial minutes round up. It returns "" when the account is not limited.
func FormatRetryAfter(rateLimitedUntil *time.Time, now time.Time) string {
	if !IsAccountUnavailable(rateLimitedUntil, now) {
		return ""
	}
	minutes := int((rateLimitedUntil.Sub(now) + time.Minute - 1) / time.Minute)
	if minutes >= 60 {
		return fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
	}
	return fmt.Sprintf("%dm", minutes)
}

// Outcome is the engine's decision about one failed call.
type Outcome struct {
	ShouldFallback  bool
	CooldownMs      int64
	NewBackoffLevel int
	Reason          Reason
}

// EvaluateOutcome decides what a failed response means for an account at the
// given backoff level. A provider retry hint replaces the step-table cooldown.
func EvaluateOutcome(status int, body []byte, backoffLevel int) Outcome {
	if status >= 200 && status < 400 {
		return Outcome{}
	}
	reason := Classify(status, body)
	if !Retryable(status, body) {
		return Outcome{NewBackoffLevel: backoffLevel, Reason: reason}
	}
	cooldown := BackoffDuration(backoffLevel).Milliseconds()
	if hint := ExtractRetryHint(body); hint.RetryAfterMs != nil {
		cooldown = *hint.RetryAfterMs
	}
	return Outcome{
		ShouldFallback:  true,
		CooldownMs:      cooldown,
		NewBackoffLevel: backoffLevel + 1,
		Reason:          reason,
	}
}
