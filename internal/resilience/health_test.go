package resilience

import (
	"testing"
	"time"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	t := testNow.Add(d)
	return &t
}

func TestAccountHealth(t *testing.T) {
	tests := []struct {
		name string
		acc  *AccountState
		want int
	}{
		{"nil account", nil, 0},
		{"fresh", &AccountState{}, 100},
		{"backoff level 5", &AccountState{BackoffLevel: 5}, 50},
		{"level 3 with error and future limit", &AccountState{BackoffLevel: 3, LastError: &ErrorInfo{Reason: ReasonRateLimit}, RateLimitedUntil: at(time.Minute)}, 20},
		{"past limit is not penalized", &AccountState{RateLimitedUntil: at(-time.Minute)}, 100},
		{"clamped at zero", &AccountState{BackoffLevel: 12, LastError: &ErrorInfo{}}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AccountHealth(tt.acc, testNow); got != tt.want {
				t.Errorf("AccountHealth() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestHealthAfterResetIsFull(t *testing.T) {
	accounts := []AccountState{
		{},
		{BackoffLevel: 7, Status: StatusError},
		{BackoffLevel: 2, LastError: &ErrorInfo{Reason: ReasonServer, Message: "boom"}, RateLimitedUntil: at(time.Hour)},
	}
	for i := range accounts {
		ResetAccountState(&accounts[i])
		a := accounts[i]
		if got := AccountHealth(&a, testNow); got != 100 {
			t.Errorf("account %d health after reset = %d", i, got)
		}
		if a.Status != StatusActive || a.RateLimitedUntil != nil || a.LastError != nil || a.BackoffLevel != 0 {
			t.Errorf("account %d after reset = %+v", i, a)
		}
	}
}

func TestIsAccountUnavailable(t *testing.T) {
	if IsAccountUnavailable(nil, testNow) {
		t.Error("nil limit should be available")
	}
	if IsAccountUnavailable(at(-time.Second), testNow) {
		t.Error("past limit should be available")
	}
	if IsAccountUnavailable(at(0), testNow) {
		t.Error("limit ending now should be available")
	}
	if !IsAccountUnavailable(at(time.Millisecond), testNow) {
		t.Error("future limit should be unavailable")
	}
}

func TestParseRateLimitedUntil(t *testing.T) {
	if got := ParseRateLimitedUntil("2026-03-01T12:05:00Z"); got == nil || !got.Equal(testNow.Add(5*time.Minute)) {
		t.Errorf("RFC 3339 = %v", got)
	}
	if got := ParseRateLimitedUntil("1772366700000"); got == nil || got.UnixMilli() != 1772366700000 {
		t.Errorf("unix ms = %v", got)
	}
	for _, bad := range []string{"", "soon", "-5", "2026-13-45"} {
		if got := ParseRateLimitedUntil(bad); got != nil {
			t.Errorf("ParseRateLimitedUntil(%q) = %v, want nil", bad, got)
		}
		if IsAccountUnavailable(ParseRateLimitedUntil(bad), testNow) {
			t.Errorf("unparseable %q should fail open", bad)
		}
	}
}

func TestFilterAvailableAccounts(t *testing.T) {
	accounts := []AccountState{
		{AccountID: "a"},
		{AccountID: "b", RateLimitedUntil: at(time.Minute)},
		{AccountID: "c", RateLimitedUntil: at(-time.Minute)},
	}
	got := FilterAvailableAccounts(accounts, testNow)
	if len(got) != 2 || got[0].AccountID != "a" || got[1].AccountID != "c" {
		t.Errorf("FilterAvailableAccounts() = %+v, want a, c", got)
	}
}

func TestFilterNeverMisclassifies(t *testing.T) {
	offsets := []time.Duration{-time.Hour, -time.Millisecond, 0, time.Millisecond, time.Hour}
	var accounts []AccountState
	for i, off := range offsets {
		accounts = append(accounts, AccountState{AccountID: string(rune('a' + i)), RateLimitedUntil: at(off)})
	}
	accounts = append(accounts, AccountState{AccountID: "nil"})

	kept := map[string]bool{}
	for _, a := range FilterAvailableAccounts(accounts, testNow) {
		kept[a.AccountID] = true
	}
	for _, a := range accounts {
		future := a.RateLimitedUntil != nil && a.RateLimitedUntil.After(testNow)
		if future && kept[a.AccountID] {
			t.Errorf("future-limited account %s was kept", a.AccountID)
		}
		if !future && !kept[a.AccountID] {
			t.Errorf("available account %s was dropped", a.AccountID)
		}
	}
}

func TestRankAccounts(t *testing.T) {
	accounts := []AccountState{
		{AccountID: "tired", BackoffLevel: 3},
		{AccountID: "fresh1"},
		{AccountID: "limited", RateLimitedUntil: at(time.Minute)},
		{AccountID: "errored", LastError: &ErrorInfo{}},
		{AccountID: "fresh2"},
	}
	got := RankAccounts(accounts, testNow)
	want := []string{"fresh1", "fresh2", "errored", "tired"}
	if len(got) != len(want) {
		t.Fatalf("RankAccounts() returned %d accounts", len(got))
	}
	for i, id := range want {
		if got[i].AccountID != id {
			t.Errorf("rank %d = %s, want %s", i, got[i].AccountID, id)
		}
	}
}

func TestApplyErrorState(t *testing.T) {
	a := AccountState{BackoffLevel: 1, Status: StatusActive}
	ApplyErrorState(&a, Outcome{ShouldFallback: true, CooldownMs: 120000, Reason: ReasonRateLimit}, "slow down", testNow)
	if a.RateLimitedUntil == nil || !a.RateLimitedUntil.Equal(testNow.Add(2*time.Minute)) {
		t.Errorf("RateLimitedUntil = %v", a.RateLimitedUntil)
	}
	if a.BackoffLevel != 2 || a.Status != StatusError {
		t.Errorf("state = %+v", a)
	}
	if a.LastError == nil || a.LastError.Reason != ReasonRateLimit || a.LastError.Message != "slow down" {
		t.Errorf("LastError = %+v", a.LastError)
	}
}

func TestFormatRetryAfter(t *testing.T) {
	tests := []struct {
		until *time.Time
		want  string
	}{
		{nil, ""},
		{at(-time.Minute), ""},
		{at(30 * time.Second), "1m"},
		{at(5 * time.Minute), "5m"},
		{at(59*time.Minute + time.Second), "1h 0m"},
		{at(65 * time.Minute), "1h 5m"},
		{at(25*time.Hour + 30*time.Minute), "25h 30m"},
	}
	for _, tt := range tests {
		if got := FormatRetryAfter(tt.until, testNow); got != tt.want {
			t.Errorf("FormatRetryAfter(%v) = %q, want %q", tt.until, got, tt.want)
		}
	}
}
