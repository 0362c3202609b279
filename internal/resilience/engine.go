package resilience

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"
)

// ErrNoCandidates is returned when a request has no account to try.
var ErrNoCandidates = errors.New("no candidate accounts")

// maxErrorBody bounds how much of a failed response is read for classification.
const maxErrorBody = 1 << 20

// Candidate is one (account, upstream model) pair a request may be sent to.
type Candidate struct {
	Provider  string
	AccountID string
	Model     string
	// Timeout bounds the wait for response headers. Zero means only the
	// request context applies.
	Timeout time.Duration
}

func (c Candidate) String() string {
	return c.Provider + "/" + c.AccountID
}

// SendFunc performs one upstream call. The engine owns the returned body.
type SendFunc func(ctx context.Context, c Candidate) (*http.Response, error)

// ExecuteRequest is one client request's candidate list.
type ExecuteRequest struct {
	RequestID  string
	Candidates []Candidate
	// MaxAttempts caps the number of upstream calls; zero tries every candidate.
	MaxAttempts int
}

// Result is the response the engine settled on: a success, or a client error
// that another account would not fix. The caller closes Response.Body.
type Result struct {
	Response  *http.Response
	Candidate Candidate
	Attempts  int
}

// ExhaustedError reports that every candidate failed or was unavailable.
type ExhaustedError struct {
	// StatusCode is the last provider status, or 429 when no call was made.
	StatusCode int
	// RetryAfter is the earliest time any candidate recovers, 0 if unknown.
	RetryAfter time.Duration
	LastReason Reason
	// Body is the last provider error body, if any.
	Body     []byte
	Attempts int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all accounts exhausted after %d attempts (status %d, %s)", e.Attempts, e.StatusCode, e.LastReason)
}

// Observer is notified of engine decisions. Metrics implement it.
type Observer interface {
	Attempt(c Candidate)
	Failure(c Candidate, o Outcome)
	Success(c Candidate, attempts int)
	ModelLocked(c Candidate, reason Reason)
	Exhausted(err *ExhaustedError)
}

type nopObserver struct{}

func (nopObserver) Attempt(Candidate) {}
func (nopObserver) Failure(Candidate, Outcome) {}
func (nopObserver) Success(Candidate, int) {}
func (nopObserver) ModelLocked(Candidate, Reason) {}
func (nopObserver) Exhausted(*ExhaustedError) {}

// Engine drives the attempt loop over a request's candidates, keeping account
// state in its Store.
type Engine struct {
	store    *Store
	observer Observer
}

// NewEngine creates an engine over store. observer may be nil.
func NewEngine(store *Store, observer Observer) *Engine {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Engine{store: store, observer: observer}
}

// Store returns the engine's account state store.
func (e *Engine) Store() *Store {
	return e.store
}

// Plan returns the candidates that can be tried now, healthiest first.
// Rate-limited accounts and locked models are left out.
func (e *Engine) Plan(candidates []Candidate) []Candidate {
	now := e.store.Now()
	type ranked struct {
		c      Candidate
		health int
	}
	var out []ranked
	for _, c := range candidates {
		e.store.Register(c.Provider, c.AccountID)
		state, _ := e.store.Account(c.Provider, c.AccountID)
		if IsAccountUnavailable(state.RateLimitedUntil, now) {
			continue
		}
		if e.store.IsModelLocked(c.Provider, c.AccountID, c.Model) {
			continue
		}
		out = append(out, ranked{c, AccountHealth(&state, now)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].health > out[j].health })
	plan := make([]Candidate, len(out))
	for i, r := range out {
		plan[i] = r.c
	}
	return plan
}

// Execute sends the request to candidates in plan order until one succeeds or
// returns a non-retryable error. Each failure updates the account's state
// before the next candidate is tried. When nothing succeeds it returns an
// *ExhaustedError.
func (e *Engine) Execute(ctx context.Context, req ExecuteRequest, send SendFunc) (*Result, error) {
	if len(req.Candidates) == 0 {
		return nil, ErrNoCandidates
	}
	plan := e.Plan(req.Candidates)
	exhausted := &ExhaustedError{StatusCode: http.StatusTooManyRequests, LastReason: ReasonRateLimit}
	if len(plan) == 0 {
		exhausted.LastReason = e.lastReason(req.Candidates)
	}

	for _, c := range plan {
		if req.MaxAttempts > 0 && exhausted.Attempts >= req.MaxAttempts {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		exhausted.Attempts++
		e.observer.Attempt(c)

		status, header, body, resp, err := e.attempt(ctx, c, send)
		if err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if resp != nil && resp.StatusCode < 400 {
			e.store.Update(c.Provider, c.AccountID, ResetAccountState)
			e.observer.Success(c, exhausted.Attempts)
			return &Result{Response: resp, Candidate: c, Attempts: exhausted.Attempts}, nil
		}

		outcome := e.recordFailure(c, status, header, body)
		if !outcome.ShouldFallback {
			log.Printf("⛔ [%s] %s returned %d (%s), not retrying", req.RequestID, c, status, outcome.Reason)
			resp.Body = io.NopCloser(bytes.NewReader(body))
			return &Result{Response: resp, Candidate: c, Attempts: exhausted.Attempts}, nil
		}
		e.observer.Failure(c, outcome)
		log.Printf("🔄 [%s] %s failed (status %d, %s), cooling down %dms, trying next account", req.RequestID, c, status, outcome.Reason, outcome.CooldownMs)

		if status == 0 {
			status = http.StatusBadGateway
		}
		exhausted.StatusCode = status
		exhausted.LastReason = outcome.Reason
		exhausted.Body = body
	}

	exhausted.RetryAfter = e.retryAfter(req.Candidates)
	e.observer.Exhausted(exhausted)
	log.Printf("❌ [%s] All accounts exhausted: %v (retry after %s)", req.RequestID, exhausted, exhausted.RetryAfter)
	return nil, exhausted
}

// attempt performs one call. A transport failure is reported as status 0 with
// the error text as body.
func (e *Engine) attempt(ctx context.Context, c Candidate, send SendFunc) (int, http.Header, []byte, *http.Response, error) {
	resp, err := sendWithTimeout(ctx, c, send)
	if err != nil {
		return 0, nil, []byte(err.Error()), nil, err
	}
	if resp.StatusCode < 400 {
		return resp.StatusCode, resp.Header, nil, resp, nil
	}
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
	if readErr != nil && ctx.Err() != nil {
		return 0, nil, nil, nil, ctx.Err()
	}
	return resp.StatusCode, resp.Header, body, resp, nil
}

// recordFailure evaluates a failed call and updates the account in one
// critical section. Quota and capacity failures lock only the requested model.
func (e *Engine) recordFailure(c Candidate, status int, header http.Header, body []byte) Outcome {
	now := e.store.Now()
	hinted := ExtractRetryHint(body).RetryAfterMs != nil
	headerDelay, hasHeader := ParseRetryAfterHeader(header.Get("Retry-After"), now)

	var outcome Outcome
	var lockFor time.Duration
	e.store.Update(c.Provider, c.AccountID, func(a *AccountState) {
		outcome = EvaluateOutcome(status, body, a.BackoffLevel)
		if !outcome.ShouldFallback {
			return
		}
		if !hinted && hasHeader {
			outcome.CooldownMs = headerDelay.Milliseconds()
		}
		modelScoped := outcome.Reason.ModelScoped() && c.Model != ""
		if modelScoped {
			lockFor = QuotaCooldown(a.BackoffLevel)
			if hinted || hasHeader {
				lockFor = time.Duration(outcome.CooldownMs) * time.Millisecond
			}
			outcome.CooldownMs = lockFor.Milliseconds()
		}
		ApplyErrorState(a, outcome, errorMessage(body), now)
		if modelScoped {
			// The account stays usable for other models.
			a.RateLimitedUntil = nil
		}
	})
	if lockFor > 0 {
		e.store.LockModel(c.Provider, c.AccountID, c.Model, outcome.Reason, lockFor)
		e.observer.ModelLocked(c, outcome.Reason)
	}
	return outcome
}

// lastReason picks the most severe recorded reason among unavailable candidates.
func (e *Engine) lastReason(candidates []Candidate) Reason {
	for _, c := range candidates {
		if info := e.store.GetModelLockoutInfo(c.Provider, c.AccountID, c.Model); info != nil {
			return info.Reason
		}
		if state, ok := e.store.Account(c.Provider, c.AccountID); ok && state.LastError != nil {
			return state.LastError.Reason
		}
	}
	return ReasonRateLimit
}

// retryAfter is the shortest remaining wait over the candidates.
func (e *Engine) retryAfter(candidates []Candidate) time.Duration {
	now := e.store.Now()
	var best time.Duration
	consider := func(d time.Duration) {
		if d > 0 && (best == 0 || d < best) {
			best = d
		}
	}
	for _, c := range candidates {
		state, _ := e.store.Account(c.Provider, c.AccountID)
		wait := time.Duration(0)
		if IsAccountUnavailable(state.RateLimitedUntil, now) {
			wait = state.RateLimitedUntil.Sub(now)
		}
		if info := e.store.GetModelLockoutInfo(c.Provider, c.AccountID, c.Model); info != nil && info.Remaining > wait {
			wait = info.Remaining
		}
		consider(wait)
	}
	return best
}

func errorMessage(body []byte) string {
	const max = 512
	if len(body) > max {
		return string(body[:max])
	}
	return string(body)
}

// sendWithTimeout applies c.Timeout to the wait for response headers only, so
// a long stream is not cut off once it has started.
func sendWithTimeout(ctx context.Context, c Candidate, send SendFunc) (*http.Response, error) {
	if c.Timeout <= 0 {
		return send(ctx, c)
	}
	attemptCtx, cancel := context.WithCancel(ctx)
	timer := time.AfterFunc(c.Timeout, cancel)
	resp, err := send(attemptCtx, c)
	fired := !timer.Stop()
	if err != nil {
		cancel()
		if fired && ctx.Err() == nil {
			return nil, fmt.Errorf("%s: no response within %s: %w", c, c.Timeout, context.DeadlineExceeded)
		}
		return nil, err
	}
	if fired {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%s: no response within %s: %w", c, c.Timeout, context.DeadlineExceeded)
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
	once   sync.Once
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.cancel)
	return err
}
