package resilience

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"
)

// Clock returns the current time. Tests inject a fixed clock.
type Clock func() time.Time

// Status is the coarse account status shown to operators.
type Status string

const (
	StatusActive Status = "active"
	StatusError  Status = "error"
)

// ErrorInfo is the last failure recorded on an account.
type ErrorInfo struct {
	Reason  Reason `json:"reason"`
	Message string `json:"message"`
}

// AccountState is the engine's mutable view of one account.
type AccountState struct {
	Provider         string     `json:"provider"`
	AccountID        string     `json:"account_id"`
	RateLimitedUntil *time.Time `json:"rate_limited_until,omitempty"`
	BackoffLevel     int        `json:"backoff_level"`
	LastError        *ErrorInfo `json:"last_error,omitempty"`
	Status           Status     `json:"status"`
}

func (a AccountState) clone() AccountState {
	if a.RateLimitedUntil != nil {
		t := *a.RateLimitedUntil
		a.RateLimitedUntil = &t
	}
	if a.LastError != nil {
		e := *a.LastError
		a.LastError = &e
	}
	return a
}

// ModelLockout is an unexpired lock on one model of one account.
type ModelLockout struct {
	Provider    string    `json:"provider"`
	AccountID   string    `json:"account_id"`
	Model       string    `json:"model"`
	Reason      Reason    `json:"reason"`
	Expiry      time.Time `json:"expiry"`
	RemainingMs int64     `json:"remaining_ms"`
}

// LockoutInfo describes an active lock on a model.
type LockoutInfo struct {
	Reason    Reason
	Remaining time.Duration
}

const shardCount = 32

type accountKey struct {
	provider string
	id       string
}

type lockKey struct {
	accountKey
	model string
}

type accountEntry struct {
	mu    sync.Mutex
	state AccountState
}

type accountShard struct {
	mu       sync.RWMutex
	accounts map[accountKey]*accountEntry
}

type lockout struct {
	reason Reason
	expiry time.Time
}

type lockShard struct {
	mu    sync.RWMutex
	locks map[lockKey]lockout
}

// Store holds account state and model lockouts for the life of the process.
// Account entries are spread over shards; the shard lock is held only to find
// or create an entry, and each account's read-modify-write runs under its own
// mutex. Expiry is evaluated when state is read; nothing runs in the background.
type Store struct {
	now      Clock
	accounts [shardCount]accountShard
	locks    [shardCount]lockShard
}

// NewStore creates an empty store. A nil clock means time.Now.
func NewStore(clock Clock) *Store {
	if clock == nil {
		clock = time.Now
	}
	s := &Store{now: clock}
	for i := range s.accounts {
		s.accounts[i].accounts = make(map[accountKey]*accountEntry)
		s.locks[i].locks = make(map[lockKey]lockout)
	}
	return s
}

// Now returns the store's clock reading.
func (s *Store) Now() time.Time {
	return s.now()
}

func shardIndex(parts ...string) int {
	h := fnv.New32a()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return int(h.Sum32() % shardCount)
}

func (s *Store) entry(provider, id string, create bool) *accountEntry {
	key := accountKey{provider, id}
	shard := &s.accounts[shardIndex(provider, id)]

	shard.mu.RLock()
	e := shard.accounts[key]
	shard.mu.RUnlock()
	if e != nil || !create {
		return e
	}

	shard.mu.Lock()
	defer shard.mu.Unlock()
	if e = shard.accounts[key]; e == nil {
		e = &accountEntry{state: AccountState{Provider: provider, AccountID: id, Status: StatusActive}}
		shard.accounts[key] = e
	}
	return e
}

// Register adds an account in its initial Active state. Registering an already
// known account keeps its current state.
func (s *Store) Register(provider, accountID string) {
	s.entry(provider, accountID, true)
}

// Load registers an account with a state supplied by persistence, replacing
// any state held for it.
func (s *Store) Load(state AccountState) {
	e := s.entry(state.Provider, state.AccountID, true)
	e.mu.Lock()
	e.state = state.clone()
	if e.state.Status == "" {
		e.state.Status = StatusActive
	}
	e.mu.Unlock()
}

// Account returns a copy of an account's state.
func (s *Store) Account(provider, accountID string) (AccountState, bool) {
	e := s.entry(provider, accountID, false)
	if e == nil {
		return AccountState{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.clone(), true
}

// Update runs fn on an account's state as one critical section, registering
// the account first if needed. Updates to different accounts do not contend.
func (s *Store) Update(provider, accountID string, fn func(*AccountState)) AccountState {
	e := s.entry(provider, accountID, true)
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.state)
	e.state.Provider, e.state.AccountID = provider, accountID
	return e.state.clone()
}

// Accounts returns a snapshot of every account ordered by provider and id.
func (s *Store) Accounts() []AccountState {
	var out []AccountState
	for i := range s.accounts {
		shard := &s.accounts[i]
		shard.mu.RLock()
		entries := make([]*accountEntry, 0, len(shard.accounts))
		for _, e := range shard.accounts {
			entries = append(entries, e)
		}
		shard.mu.RUnlock()
		for _, e := range entries {
			e.mu.Lock()
			out = append(out, e.state.clone())
			e.mu.Unlock()
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].AccountID < out[j].AccountID
	})
	return out
}

// LockModel blocks one model on one account for d, replacing any earlier lock.
// An empty model is ignored: locks never cover a whole account.
func (s *Store) LockModel(provider, accountID, model string, reason Reason, d time.Duration) {
	if model == "" || d <= 0 {
		return
	}
	now := s.now()
	key := lockKey{accountKey{provider, accountID}, model}
	shard := &s.locks[shardIndex(provider, accountID, model)]
	// Expired locks are never deleted; readers compare against the clock.
	shard.mu.Lock()
	shard.locks[key] = lockout{reason: reason, expiry: now.Add(d)}
	shard.mu.Unlock()
}

func (s *Store) lookupLock(provider, accountID, model string) (lockout, bool) {
	if model == "" {
		return lockout{}, false
	}
	key := lockKey{accountKey{provider, accountID}, model}
	shard := &s.locks[shardIndex(provider, accountID, model)]
	shard.mu.RLock()
	l, ok := shard.locks[key]
	shard.mu.RUnlock()
	if !ok || !s.now().Before(l.expiry) {
		return lockout{}, false
	}
	return l, true
}

// IsModelLocked reports whether the model is locked on the account. It is
// always false for an empty model.
func (s *Store) IsModelLocked(provider, accountID, model string) bool {
	_, ok := s.lookupLock(provider, accountID, model)
	return ok
}

// GetModelLockoutInfo returns the active lock on a model, or nil.
func (s *Store) GetModelLockoutInfo(provider, accountID, model string) *LockoutInfo {
	l, ok := s.lookupLock(provider, accountID, model)
	if !ok {
		return nil
	}
	return &LockoutInfo{Reason: l.reason, Remaining: l.expiry.Sub(s.now())}
}

// GetAllModelLockouts lists the locks that are unexpired at call time.
func (s *Store) GetAllModelLockouts() []ModelLockout {
	now := s.now()
	var out []ModelLockout
	for i := range s.locks {
		shard := &s.locks[i]
		shard.mu.RLock()
		for k, l := range shard.locks {
			if now.Before(l.expiry) {
				out = append(out, ModelLockout{
					Provider:    k.provider,
					AccountID:   k.id,
					Model:       k.model,
					Reason:      l.reason,
					Expiry:      l.expiry,
					RemainingMs: l.expiry.Sub(now).Milliseconds(),
				})
			}
		}
		shard.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Provider != b.Provider {
			return a.Provider < b.Provider
		}
		if a.AccountID != b.AccountID {
			return a.AccountID < b.AccountID
		}
		return a.Model < b.Model
	})
	return out
}

// Close drops all state. The store must not be used afterwards.
func (s *Store) Close() error {
	for i := range s.accounts {
		s.accounts[i].mu.Lock()
		s.accounts[i].accounts = make(map[accountKey]*accountEntry)
		s.accounts[i].mu.Unlock()
		s.locks[i].mu.Lock()
		s.locks[i].locks = make(map[lockKey]lockout)
		s.locks[i].mu.Unlock()
	}
	return nil
}
