package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pysugar/nexus-gateway/internal/auth/token"
	"github.com/pysugar/nexus-gateway/internal/db"
	"github.com/pysugar/nexus-gateway/internal/db/models"
	"github.com/pysugar/nexus-gateway/internal/providers/catalog"
	"github.com/pysugar/nexus-gateway/internal/resilience"
	"gorm.io/gorm"
)

func newHandlerTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	database, err := db.InitDB(dsn)
	if err != nil {
		t.Fatalf("InitDB() error: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := database.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return database
}

func TestTranslatorDetect(t *testing.T) {
	g := newTestGateway(t, nil, fakeCredentials{})
	rec := post(t, g.TranslatorDetect(), "/api/translator/detect",
		`{"body":{"model":"claude-sonnet-4","max_tokens":64,"messages":[{"role":"user","content":"hi"}]}}`)
	if rec.Code != http.StatusOK || decode(t, rec)["format"] != "claude" {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = post(t, g.TranslatorDetect(), "/api/translator/detect", `{"body":{"prompt":"hi"}}`)
	if rec.Code != http.StatusBadRequest || decode(t, rec)["error"] != "unrecognized request format" {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestTranslatorTranslate(t *testing.T) {
	g := newTestGateway(t, []catalog.ProviderConfig{
		{ID: "gemini", Format: "gemini", BaseURL: "http://x"},
	}, fakeCredentials{})
	claudeBody := `{"model":"claude-sonnet-4","max_tokens":64,"thinking":{"type":"enabled","budget_tokens":10000},"messages":[{"role":"user","content":"hi"}]}`

	rec := post(t, g.TranslatorTranslate(), "/api/translator/translate", `{"provider":"gemini","body":`+claudeBody+`}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	m := decode(t, rec)
	if m["success"] != true || m["targetFormat"] != "gemini" || m["sourceFormat"] != "claude" {
		t.Fatalf("unexpected response %v", m)
	}
	gen := m["result"].(map[string]interface{})["generationConfig"].(map[string]interface{})
	if budget := gen["thinkingConfig"].(map[string]interface{})["thinkingBudget"]; budget != float64(10000) {
		t.Fatalf("thinkingBudget = %v", budget)
	}

	rec = post(t, g.TranslatorTranslate(), "/api/translator/translate", `{"step":"canonical","sourceFormat":"anthropic","body":`+claudeBody+`}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("canonical step status=%d body=%s", rec.Code, rec.Body.String())
	}
	canonical := decode(t, rec)["result"].(map[string]interface{})
	if canonical["model"] != "claude-sonnet-4" || canonical["source"] != "claude" || canonical["reasoningBudget"] != float64(10000) {
		t.Fatalf("canonical request = %v", canonical)
	}
	turn := canonical["turns"].([]interface{})[0].(map[string]interface{})
	if turn["role"] != "user" || turn["text"] != "hi" || turn["content"] != "string" {
		t.Fatalf("canonical turn = %v", turn)
	}

	tests := []struct {
		name string
		body string
	}{
		{"bad step", `{"step":"sideways","targetFormat":"gemini","body":` + claudeBody + `}`},
		{"no target", `{"body":` + claudeBody + `}`},
		{"unknown provider", `{"provider":"nope","body":` + claudeBody + `}`},
		{"unknown format", `{"targetFormat":"xml","body":` + claudeBody + `}`},
		{"missing body", `{"targetFormat":"gemini"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, g.TranslatorTranslate(), "/api/translator/translate", tt.body)
			if rec.Code != http.StatusBadRequest || decode(t, rec)["success"] != false {
				t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestTranslatorSendRelaysRawResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/gemini-2.5-pro:generateContent" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"raw"}]},"finishReason":"STOP"}]}`)
	}))
	defer srv.Close()

	g := newTestGateway(t, []catalog.ProviderConfig{
		{ID: "gemini", Format: "gemini", BaseURL: srv.URL},
	}, fakeCredentials{"gemini": {"g1"}})

	rec := post(t, g.TranslatorSend(), "/api/translator/send",
		`{"provider":"gemini","body":{"model":"gemini-2.5-pro","messages":[{"role":"user","content":"hi"}]}}`)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"candidates"`) {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	ev := g.Monitor.History(1)[0]
	if ev.SourceFormat != "openai-chat" || ev.TargetFormat != "gemini" || ev.Provider != "gemini" {
		t.Fatalf("history = %+v", ev)
	}

	rec = post(t, g.TranslatorSend(), "/api/translator/send", `{"provider":"missing","body":{"messages":[]}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown provider status=%d", rec.Code)
	}
}

func TestTranslatorHistoryLimit(t *testing.T) {
	g := newTestGateway(t, nil, fakeCredentials{})
	for i := 0; i < 3; i++ {
		g.Monitor.Record(models.RequestLog{Model: fmt.Sprintf("m%d", i), Status: 200})
	}

	rec := httptest.NewRecorder()
	g.TranslatorHistory().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/translator/history?limit=2", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.HasPrefix(body, "[") || strings.Count(body, `"model"`) != 2 || !strings.Contains(body, `"m2"`) {
		t.Fatalf("history body = %s", body)
	}

	rec = httptest.NewRecorder()
	g.TranslatorHistory().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/translator/history?limit=x", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status=%d", rec.Code)
	}
}

func TestAccountsHealth(t *testing.T) {
	g := newTestGateway(t, []catalog.ProviderConfig{
		{ID: "openai", Format: "openai-chat", BaseURL: "http://x"},
	}, fakeCredentials{"openai": {"a1", "a2"}})
	store := g.Engine.Store()
	store.Register("openai", "a1")
	store.Update("openai", "a1", func(a *resilience.AccountState) {
		resilience.ApplyErrorState(a, resilience.Outcome{CooldownMs: 90000, Reason: resilience.ReasonRateLimit}, "slow down", testNow)
	})
	store.LockModel("openai", "a2", "gpt-4o", resilience.ReasonCapacity, time.Minute)

	rec := httptest.NewRecorder()
	g.AccountsHealth().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/accounts/health", nil))
	m := decode(t, rec)
	accounts := m["accounts"].([]interface{})
	if len(accounts) != 2 {
		t.Fatalf("accounts = %v", accounts)
	}
	first := accounts[0].(map[string]interface{})
	second := accounts[1].(map[string]interface{})
	if first["account_id"] != "a2" || first["health"] != float64(100) || first["label"] != "label-a2" {
		t.Fatalf("healthy account should come first: %v", first)
	}
	if second["available"] != false || second["retry_after"] != "2m" || second["backoff_level"] != float64(1) || second["status"] != "error" {
		t.Fatalf("cooling account = %v", second)
	}
	if locks := m["lockouts"].([]interface{}); len(locks) != 1 {
		t.Fatalf("lockouts = %v", locks)
	}
}

func TestResetAccountHandler(t *testing.T) {
	g := newTestGateway(t, nil, fakeCredentials{})
	store := g.Engine.Store()
	store.Register("openai", "a1")
	store.Update("openai", "a1", func(a *resilience.AccountState) {
		resilience.ApplyErrorState(a, resilience.Outcome{CooldownMs: 60000, Reason: resilience.ReasonServer}, "boom", testNow)
	})

	r := chi.NewRouter()
	r.Post("/api/accounts/{provider}/{id}/reset", g.ResetAccountHandler())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/accounts/openai/a1/reset", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	st, _ := store.Account("openai", "a1")
	if st.BackoffLevel != 0 || st.RateLimitedUntil != nil || resilience.AccountHealth(&st, testNow) != 100 {
		t.Fatalf("state not reset: %+v", st)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/accounts/openai/missing/reset", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing account status=%d", rec.Code)
	}
}

type fakeRefresher struct {
	err      error
	reloaded bool
}

func (f *fakeRefresher) RefreshAccountToken(context.Context, string) error { return f.err }
func (f *fakeRefresher) ReloadAllTokens()                                  { f.reloaded = true }

func TestRefreshAccountHandler(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"ok", nil, http.StatusOK},
		{"missing", fmt.Errorf("wrap: %w", token.ErrAccountNotFound), http.StatusNotFound},
		{"api key", token.ErrNoRefresh, http.StatusBadRequest},
		{"upstream", errors.New("token endpoint down"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := chi.NewRouter()
			r.Post("/api/accounts/{id}/refresh", RefreshAccountHandler(&fakeRefresher{err: tt.err}))
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/accounts/acc-1/refresh", nil))
			if rec.Code != tt.want {
				t.Fatalf("status=%d, want %d", rec.Code, tt.want)
			}
		})
	}

	f := &fakeRefresher{}
	rec := httptest.NewRecorder()
	RefreshHandler(f).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/refresh", nil))
	if rec.Code != http.StatusOK || !f.reloaded {
		t.Fatalf("RefreshHandler status=%d reloaded=%v", rec.Code, f.reloaded)
	}
}

func TestModelRouteCRUD(t *testing.T) {
	database := newHandlerTestDB(t)
	cache, err := db.NewRouteCache(database)
	if err != nil {
		t.Fatalf("NewRouteCache() error: %v", err)
	}
	cat := catalog.New([]catalog.ProviderConfig{
		{ID: "anthropic", Format: "claude", BaseURL: "http://x"},
		{ID: "openai", Format: "openai-chat", BaseURL: "http://x"},
	})

	r := chi.NewRouter()
	r.Get("/model-routes", ModelRoutesHandler(database))
	r.Post("/model-routes", CreateModelRouteHandler(database, cat, cache))
	r.Put("/model-routes/{id}", UpdateModelRouteHandler(database, cat, cache))
	r.Delete("/model-routes/{id}", DeleteModelRouteHandler(database, cache))
	do := func(method, path, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
		return rec
	}

	if rec := do(http.MethodPost, "/model-routes", `{"client_model":"smart","target_provider":"nope","target_model":"x"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown provider accepted: %d", rec.Code)
	}
	rec := do(http.MethodPost, "/model-routes", `{"client_model":"smart","target_provider":"Anthropic","target_model":"claude-sonnet-4"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", rec.Code, rec.Body.String())
	}
	id := decode(t, rec)["id"].(float64)
	if got := cache.Resolve("smart"); len(got) != 1 || got[0].Provider != "anthropic" {
		t.Fatalf("cache not reloaded after create: %+v", got)
	}
	if rec := do(http.MethodPost, "/model-routes", `{"client_model":"smart","target_provider":"anthropic","target_model":"other"}`); rec.Code != http.StatusConflict {
		t.Fatalf("duplicate route status=%d", rec.Code)
	}

	path := fmt.Sprintf("/model-routes/%d", int(id))
	rec = do(http.MethodPut, path, `{"client_model":"smart","target_provider":"openai","target_model":"gpt-4o","priority":2}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status=%d body=%s", rec.Code, rec.Body.String())
	}
	if got := cache.Resolve("smart"); len(got) != 1 || got[0].Model != "gpt-4o" {
		t.Fatalf("cache not reloaded after update: %+v", got)
	}
	if rec := do(http.MethodPut, "/model-routes/999", `{"client_model":"a","target_provider":"openai","target_model":"b"}`); rec.Code != http.StatusNotFound {
		t.Fatalf("update missing status=%d", rec.Code)
	}

	rec = do(http.MethodGet, "/model-routes", "")
	if decode(t, rec)["count"] != float64(1) {
		t.Fatalf("list = %s", rec.Body.String())
	}

	if rec := do(http.MethodDelete, path, ""); rec.Code != http.StatusOK {
		t.Fatalf("delete status=%d", rec.Code)
	}
	if got := cache.Resolve("smart"); got != nil {
		t.Fatalf("cache not reloaded after delete: %+v", got)
	}
	if rec := do(http.MethodDelete, path, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status=%d", rec.Code)
	}
	if rec := do(http.MethodDelete, "/model-routes/abc", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id status=%d", rec.Code)
	}
}

func TestAPIKeyHandlers(t *testing.T) {
	database := newHandlerTestDB(t)
	original := db.GetAPIKey(database)

	rec := httptest.NewRecorder()
	GetAPIKeyHandler(database).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/config/apikey", nil))
	if decode(t, rec)["api_key"] != original {
		t.Fatalf("GetAPIKeyHandler body=%s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	RegenerateAPIKeyHandler(database).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/config/apikey/regenerate", nil))
	key, _ := decode(t, rec)["api_key"].(string)
	if rec.Code != http.StatusOK || key == original || !strings.HasPrefix(key, "sk-") || db.GetAPIKey(database) != key {
		t.Fatalf("regenerate status=%d key=%q", rec.Code, key)
	}
}

func TestCreateAccountHandler(t *testing.T) {
	database := newHandlerTestDB(t)
	cat := catalog.New([]catalog.ProviderConfig{
		{ID: "openai", Format: "openai-chat", BaseURL: "http://x"},
	})
	tokens := &fakeRefresher{}
	h := CreateAccountHandler(database, cat, tokens)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"api key", `{"provider":"OpenAI","label":"team","api_key":"sk-test"}`, http.StatusCreated},
		{"duplicate label", `{"provider":"openai","label":"team","api_key":"sk-other"}`, http.StatusConflict},
		{"no secret", `{"provider":"openai","label":"empty"}`, http.StatusBadRequest},
		{"refresh without oauth", `{"provider":"openai","refresh_token":"rt"}`, http.StatusBadRequest},
		{"unknown provider", `{"provider":"nope","api_key":"k"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := post(t, h, "/api/accounts", tt.body); rec.Code != tt.want {
				t.Fatalf("status=%d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
	if !tokens.reloaded {
		t.Fatal("token cache was not reloaded after create")
	}

	rec := httptest.NewRecorder()
	AccountsListHandler(database).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/accounts", nil))
	if decode(t, rec)["count"] != float64(1) || strings.Contains(rec.Body.String(), "sk-test") {
		t.Fatalf("list = %s", rec.Body.String())
	}
}

func TestProvidersHandlers(t *testing.T) {
	g := newTestGateway(t, []catalog.ProviderConfig{
		{ID: "openai", Format: "openai-chat", BaseURL: "http://x", ModelPrefixes: []string{"gpt-"}},
		{ID: "anthropic", Format: "claude", BaseURL: "http://y", ModelPrefixes: []string{"claude-"}},
	}, fakeCredentials{"openai": {"a1", "a2"}})

	rec := httptest.NewRecorder()
	g.ProvidersHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/providers", nil))
	providers := decode(t, rec)["providers"].([]interface{})
	if len(providers) != 2 {
		t.Fatalf("providers = %v", providers)
	}
	// Catalog order is sorted by id.
	if p := providers[1].(map[string]interface{}); p["id"] != "openai" || p["accounts"] != float64(2) {
		t.Fatalf("openai entry = %v", p)
	}

	rec = httptest.NewRecorder()
	g.AllowedProvidersHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/providers/allowed?client_model=claude-sonnet-4", nil))
	targets := decode(t, rec)["targets"].([]interface{})
	if len(targets) != 1 || targets[0].(map[string]interface{})["provider"] != "anthropic" {
		t.Fatalf("targets = %v", targets)
	}

	rec = httptest.NewRecorder()
	g.AllowedProvidersHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/providers/allowed", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing client_model status=%d", rec.Code)
	}
}

func TestUsageHandler(t *testing.T) {
	g := newTestGateway(t, nil, fakeCredentials{})
	g.Monitor.Record(models.RequestLog{Status: 200})
	g.Monitor.Record(models.RequestLog{Status: 502})

	rec := httptest.NewRecorder()
	g.UsageHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/usage", nil))
	stats := decode(t, rec)["stats"].(map[string]interface{})
	if stats["total_requests"] != float64(2) || stats["error_count"] != float64(1) {
		t.Fatalf("stats = %v", stats)
	}
}
