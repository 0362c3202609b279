package resilience

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeClock is a settable clock for lockout and cooldown math.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: testNow} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestStoreRegisterAndUpdate(t *testing.T) {
	s := NewStore(newFakeClock().Now)
	defer s.Close()

	if _, ok := s.Account("claude", "a1"); ok {
		t.Fatal("unregistered account found")
	}
	s.Register("claude", "a1")
	got, ok := s.Account("claude", "a1")
	if !ok || got.Status != StatusActive || got.Provider != "claude" || got.AccountID != "a1" {
		t.Fatalf("Account() = %+v, %v", got, ok)
	}

	s.Update("claude", "a1", func(a *AccountState) { a.BackoffLevel = 4 })
	s.Register("claude", "a1")
	if got, _ := s.Account("claude", "a1"); got.BackoffLevel != 4 {
		t.Errorf("Register reset existing state: %+v", got)
	}

	// Returned state is a copy.
	got, _ = s.Account("claude", "a1")
	got.BackoffLevel = 99
	if again, _ := s.Account("claude", "a1"); again.BackoffLevel != 4 {
		t.Errorf("snapshot aliased store state")
	}
}

func TestStoreLoad(t *testing.T) {
	s := NewStore(nil)
	limit := testNow.Add(time.Minute)
	s.Load(AccountState{Provider: "gemini", AccountID: "g1", BackoffLevel: 2, RateLimitedUntil: &limit})
	got, ok := s.Account("gemini", "g1")
	if !ok || got.BackoffLevel != 2 || got.Status != StatusActive || !got.RateLimitedUntil.Equal(limit) {
		t.Errorf("Account() after Load = %+v", got)
	}
	limit = limit.Add(time.Hour)
	if got, _ := s.Account("gemini", "g1"); !got.RateLimitedUntil.Equal(testNow.Add(time.Minute)) {
		t.Errorf("Load kept a reference to the caller's time")
	}
}

func TestStoreAccountsSorted(t *testing.T) {
	s := NewStore(nil)
	for _, k := range [][2]string{{"openai", "b"}, {"claude", "z"}, {"openai", "a"}} {
		s.Register(k[0], k[1])
	}
	var keys []string
	for _, a := range s.Accounts() {
		keys = append(keys, a.Provider+"/"+a.AccountID)
	}
	want := "claude/z,openai/a,openai/b"
	if got := strings.Join(keys, ","); got != want {
		t.Errorf("Accounts() = %s, want %s", got, want)
	}
}

func TestModelLockBoundary(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(clock.Now)
	s.LockModel("gemini", "g1", "gemini-2.5-pro", ReasonCapacity, 10*time.Second)

	if !s.IsModelLocked("gemini", "g1", "gemini-2.5-pro") {
		t.Fatal("model not locked right after LockModel")
	}
	if s.IsModelLocked("gemini", "g1", "gemini-2.5-flash") {
		t.Error("lock leaked to another model")
	}
	if s.IsModelLocked("gemini", "g2", "gemini-2.5-pro") {
		t.Error("lock leaked to another account")
	}
	if s.IsModelLocked("gemini", "g1", "") {
		t.Error("empty model reported locked")
	}

	clock.Advance(10*time.Second - time.Millisecond)
	if !s.IsModelLocked("gemini", "g1", "gemini-2.5-pro") {
		t.Error("lock expired before its duration")
	}
	info := s.GetModelLockoutInfo("gemini", "g1", "gemini-2.5-pro")
	if info == nil || info.Reason != ReasonCapacity || info.Remaining != time.Millisecond {
		t.Errorf("GetModelLockoutInfo() = %+v", info)
	}

	clock.Advance(time.Millisecond)
	if s.IsModelLocked("gemini", "g1", "gemini-2.5-pro") {
		t.Error("lock still active at its expiry")
	}
	if info := s.GetModelLockoutInfo("gemini", "g1", "gemini-2.5-pro"); info != nil {
		t.Errorf("GetModelLockoutInfo() after expiry = %+v", info)
	}
}

func TestExpiredLocksAreNotDeleted(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(clock.Now)
	for i := 0; i < 64; i++ {
		s.LockModel("openai", "o1", fmt.Sprintf("model-%d", i), ReasonRateLimit, time.Second)
	}
	clock.Advance(2 * time.Second)
	s.LockModel("openai", "o1", "fresh", ReasonRateLimit, time.Second)

	stored := 0
	for i := range s.locks {
		s.locks[i].mu.RLock()
		stored += len(s.locks[i].locks)
		s.locks[i].mu.RUnlock()
	}
	if stored != 65 {
		t.Errorf("stored locks = %d, want 65", stored)
	}
	if locks := s.GetAllModelLockouts(); len(locks) != 1 || locks[0].Model != "fresh" {
		t.Errorf("GetAllModelLockouts() = %+v, want only fresh", locks)
	}
	if s.IsModelLocked("openai", "o1", "model-3") {
		t.Error("expired lock still reported")
	}
}

func TestLockModelIgnoresEmptyModel(t *testing.T) {
	s := NewStore(nil)
	s.LockModel("claude", "a1", "", ReasonQuota, time.Minute)
	if locks := s.GetAllModelLockouts(); len(locks) != 0 {
		t.Errorf("GetAllModelLockouts() = %+v, want none", locks)
	}
}

func TestLockModelOverwrites(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(clock.Now)
	s.LockModel("claude", "a1", "opus", ReasonCapacity, time.Hour)
	s.LockModel("claude", "a1", "opus", ReasonQuota, time.Second)
	info := s.GetModelLockoutInfo("claude", "a1", "opus")
	if info == nil || info.Reason != ReasonQuota || info.Remaining != time.Second {
		t.Errorf("GetModelLockoutInfo() = %+v", info)
	}
}

func TestGetAllModelLockouts(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(clock.Now)
	s.LockModel("gemini", "g1", "pro", ReasonCapacity, 5*time.Second)
	s.LockModel("claude", "c1", "opus", ReasonQuota, 30*time.Second)

	locks := s.GetAllModelLockouts()
	if len(locks) != 2 || locks[0].Provider != "claude" || locks[1].Provider != "gemini" {
		t.Fatalf("GetAllModelLockouts() = %+v", locks)
	}
	if locks[0].RemainingMs != 30000 {
		t.Errorf("RemainingMs = %d", locks[0].RemainingMs)
	}

	clock.Advance(6 * time.Second)
	locks = s.GetAllModelLockouts()
	if len(locks) != 1 || locks[0].Model != "opus" || locks[0].RemainingMs != 24000 {
		t.Errorf("GetAllModelLockouts() after 6s = %+v", locks)
	}
}

func TestStoreConcurrentUpdates(t *testing.T) {
	s := NewStore(nil)
	const accounts, perAccount = 16, 200
	var wg sync.WaitGroup
	for i := 0; i < accounts; i++ {
		for j := 0; j < 4; j++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				for k := 0; k < perAccount/4; k++ {
					s.Update("p", id, func(a *AccountState) { a.BackoffLevel++ })
					s.LockModel("p", id, "m", ReasonCapacity, time.Minute)
					_ = s.IsModelLocked("p", id, "m")
				}
			}(fmt.Sprintf("acct-%d", i))
		}
	}
	wg.Wait()
	for _, a := range s.Accounts() {
		if a.BackoffLevel != perAccount {
			t.Errorf("%s backoff = %d, want %d", a.AccountID, a.BackoffLevel, perAccount)
		}
	}
	if n := len(s.Accounts()); n != accounts {
		t.Errorf("Accounts() = %d entries, want %d", n, accounts)
	}
}

func TestStoreCloseDropsState(t *testing.T) {
	s := NewStore(nil)
	s.Register("p", "a")
	s.LockModel("p", "a", "m", ReasonQuota, time.Minute)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if len(s.Accounts()) != 0 || len(s.GetAllModelLockouts()) != 0 {
		t.Error("state survived Close")
	}
}

func TestStoresAreIndependent(t *testing.T) {
	a, b := NewStore(nil), NewStore(nil)
	a.Update("p", "x", func(s *AccountState) { s.BackoffLevel = 3 })
	if _, ok := b.Account("p", "x"); ok {
		t.Error("state shared between stores")
	}
}
