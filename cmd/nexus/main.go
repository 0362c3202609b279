package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pysugar/nexus-gateway/internal/auth/login"
	"github.com/pysugar/nexus-gateway/internal/auth/token"
	"github.com/pysugar/nexus-gateway/internal/config"
	"github.com/pysugar/nexus-gateway/internal/db"
	"github.com/pysugar/nexus-gateway/internal/metrics"
	"github.com/pysugar/nexus-gateway/internal/providers/catalog"
	"github.com/pysugar/nexus-gateway/internal/proxy/handlers"
	"github.com/pysugar/nexus-gateway/internal/proxy/middleware"
	"github.com/pysugar/nexus-gateway/internal/proxy/monitor"
	"github.com/pysugar/nexus-gateway/internal/resilience"
	"github.com/pysugar/nexus-gateway/internal/translator"
	"github.com/pysugar/nexus-gateway/internal/upstream"
	"github.com/pysugar/nexus-gateway/internal/util"
	"github.com/pysugar/nexus-gateway/internal/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	util.SetVerbose(cfg.Verbose)

	cat, err := catalog.Load(cfg.ProvidersFile)
	if err != nil {
		log.Printf("⚠️ Provider config: %v (using built-in providers)", err)
	}
	log.Printf("🧭 %d providers configured", len(cat.Providers()))

	database, err := db.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Restore the persisted cooldowns so a restart does not hammer limited accounts.
	store := resilience.NewStore(nil)
	accounts, err := db.ActiveAccounts(database)
	if err != nil {
		log.Fatalf("Failed to load accounts: %v", err)
	}
	for _, acc := range accounts {
		store.Load(db.StateFromAccount(acc))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tokenManager := token.NewManager(database, cat)
	tokenManager.StartRefreshLoop(ctx, cfg.RefreshInterval)

	collector := metrics.NewCollector(prometheus.NewRegistry())

	routes, err := db.NewRouteCache(database)
	if err != nil {
		log.Fatalf("Failed to load model routes: %v", err)
	}
	mon := monitor.New(database, cfg.HistorySize)

	gw := &handlers.Gateway{
		Registry:    translator.DefaultRegistry(),
		Engine:      resilience.NewEngine(store, collector),
		Catalog:     cat,
		Routes:      routes,
		Credentials: tokenManager,
		Upstream:    upstream.NewClient(),
		Monitor:     mon,
		Metrics:     collector,
		MaxAttempts: cfg.MaxAttempts,
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Handle("/metrics", collector.Handler())

	// OAuth login for providers with an auth_url
	loginFlow := login.NewFlow(database, cat, tokenManager)
	r.Group(func(r chi.Router) {
		r.Use(middleware.AdminAuth(cfg.AdminPassword))
		r.Get("/auth/{provider}/login", loginFlow.HandleLogin())
		r.Get("/auth/{provider}/callback", loginFlow.HandleCallback())
	})

	// ============================================
	// Admin and inspection (basic auth when NEXUS_ADMIN_PASSWORD is set)
	// ============================================
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.AdminAuth(cfg.AdminPassword))

		r.Post("/translator/detect", gw.TranslatorDetect())
		r.Post("/translator/translate", gw.TranslatorTranslate())
		r.Post("/translator/send", gw.TranslatorSend())
		r.Get("/translator/history", gw.TranslatorHistory())

		r.Get("/accounts", handlers.AccountsListHandler(database))
		r.Post("/accounts", handlers.CreateAccountHandler(database, cat, tokenManager))
		r.Get("/accounts/health", gw.AccountsHealth())
		r.Post("/accounts/{provider}/{id}/reset", gw.ResetAccountHandler())
		r.Post("/accounts/{id}/refresh", handlers.RefreshAccountHandler(tokenManager))
		r.Post("/refresh", handlers.RefreshHandler(tokenManager))

		r.Get("/discovery/scan", handlers.DiscoveryScanHandler())
		r.Post("/discovery/import", handlers.DiscoveryImportHandler(database, cat, tokenManager))

		r.Get("/config/apikey", handlers.GetAPIKeyHandler(database))
		r.Post("/config/apikey/regenerate", handlers.RegenerateAPIKeyHandler(database))

		r.Get("/model-routes", handlers.ModelRoutesHandler(database))
		r.Post("/model-routes", handlers.CreateModelRouteHandler(database, cat, routes))
		r.Put("/model-routes/{id}", handlers.UpdateModelRouteHandler(database, cat, routes))
		r.Delete("/model-routes/{id}", handlers.DeleteModelRouteHandler(database, routes))

		r.Get("/providers", gw.ProvidersHandler())
		r.Get("/providers/allowed", gw.AllowedProvidersHandler())
		r.Get("/usage", gw.UsageHandler())
		r.Get("/version", handlers.VersionHandler())
	})

	// ============================================
	// Protected Routes (API Key Required)
	// ============================================
	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(database))
		r.Post("/chat/completions", gw.Generate("/v1/chat/completions"))
		r.Post("/messages", gw.Generate("/v1/messages"))
		r.Post("/responses", gw.Generate("/v1/responses"))

		r.Post("/embeddings", gw.Passthrough(catalog.CapabilityEmbeddings, "embeddings"))
		r.Post("/images/generations", gw.Passthrough(catalog.CapabilityImages, "images/generations"))
		r.Post("/rerank", gw.Passthrough(catalog.CapabilityRerank, "rerank"))
		r.Post("/audio/transcriptions", gw.Passthrough(catalog.CapabilityAudio, "audio/transcriptions"))
		r.Post("/audio/speech", gw.Passthrough(catalog.CapabilityAudio, "audio/speech"))
		r.Post("/moderations", gw.Passthrough(catalog.CapabilityModerations, "moderations"))

		r.Get("/models", gw.ModelsList())
	})

	// Gemini-native clients
	r.Route("/v1beta/models", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(database))
		r.Post("/{model}:generateContent", gw.Generate("/v1beta/models:generateContent"))
		r.Post("/{model}:streamGenerateContent", gw.Generate("/v1beta/models:streamGenerateContent"))
	})

	displayURL := "localhost:" + cfg.Port
	if cfg.Host == "0.0.0.0" {
		displayURL = "<your-ip>:" + cfg.Port
	}
	srv := &http.Server{Addr: cfg.Addr(), Handler: r}

	go func() {
		log.Printf("🚀 Nexus Gateway %s starting on http://%s", version.String(), cfg.Addr())
		log.Printf("🔌 OpenAI API: http://%s/v1", displayURL)
		log.Printf("🔌 Anthropic API: http://%s/v1/messages", displayURL)
		log.Printf("🔌 Gemini API: http://%s/v1beta", displayURL)
		log.Printf("📊 Metrics: http://%s/metrics", displayURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("🛑 Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️ Shutdown: %v", err)
	}

	saved := 0
	for _, st := range store.Accounts() {
		if err := db.SaveAccountState(database, st); err != nil {
			log.Printf("⚠️ Failed to save state for %s/%s: %v", st.Provider, st.AccountID, err)
			continue
		}
		saved++
	}
	log.Printf("💾 Saved resilience state for %d accounts", saved)

	store.Close()
	mon.Close()
}
