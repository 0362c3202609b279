// Package handlers implements the gateway's HTTP surface: the OpenAI
// compatible inference endpoints, passthrough endpoints, the translator
// inspection API and admin endpoints.
package handlers

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/pysugar/nexus-gateway/internal/auth/token"
	"github.com/pysugar/nexus-gateway/internal/db"
	"github.com/pysugar/nexus-gateway/internal/db/models"
	"github.com/pysugar/nexus-gateway/internal/metrics"
	"github.com/pysugar/nexus-gateway/internal/providers/catalog"
	"github.com/pysugar/nexus-gateway/internal/proxy/monitor"
	"github.com/pysugar/nexus-gateway/internal/resilience"
	"github.com/pysugar/nexus-gateway/internal/translator"
	"github.com/pysugar/nexus-gateway/internal/upstream"
)

// Credentials resolves which accounts a provider has and their tokens.
// *token.Manager implements it.
type Credentials interface {
	Accounts(provider string) []token.AccountRef
	Credential(ctx context.Context, provider, accountID string) (token.Credential, error)
}

// Routes resolves client models to configured targets. *db.RouteCache implements it.
type Routes interface {
	Resolve(clientModel string) []db.RouteTarget
	ClientModels() []string
}

// Gateway holds everything the request handlers need.
type Gateway struct {
	Registry    *translator.Registry
	Engine      *resilience.Engine
	Catalog     *catalog.Catalog
	Routes      Routes
	Credentials Credentials
	Upstream    *upstream.Client
	Monitor     *monitor.Monitor
	// Metrics may be nil.
	Metrics *metrics.Collector
	// MaxAttempts caps upstream calls per request; zero tries every candidate.
	MaxAttempts int
}

// accountHeader pins a request to one account id.
const accountHeader = "X-Nexus-Account"

// targets lists the (provider, model) pairs that can serve clientModel:
// configured routes first, otherwise every provider whose model prefixes match.
func (g *Gateway) targets(clientModel string) []db.RouteTarget {
	if g.Routes != nil {
		if routed := g.Routes.Resolve(clientModel); len(routed) > 0 {
			return routed
		}
	}
	var out []db.RouteTarget
	for _, id := range g.Catalog.ProvidersForModel(clientModel) {
		out = append(out, db.RouteTarget{Provider: id, Model: clientModel})
	}
	return out
}

// capabilityTargets is targets for a non-chat capability. Routes whose provider
// lacks the capability are skipped; without routes, providers whose prefixes
// match the model come before the rest.
func (g *Gateway) capabilityTargets(clientModel, capability string) []db.RouteTarget {
	if g.Routes != nil && clientModel != "" {
		var routed []db.RouteTarget
		for _, t := range g.Routes.Resolve(clientModel) {
			if g.Catalog.SupportsCapability(t.Provider, capability) {
				routed = append(routed, t)
			}
		}
		if len(routed) > 0 {
			return routed
		}
	}
	m := strings.ToLower(clientModel)
	var matched, rest []db.RouteTarget
	for _, id := range g.Catalog.IDsByCapability(capability) {
		t := db.RouteTarget{Provider: id, Model: clientModel}
		p, _ := g.Catalog.Get(id)
		if m != "" && hasAnyPrefix(m, p.ModelPrefixes) {
			matched = append(matched, t)
		} else {
			rest = append(rest, t)
		}
	}
	return append(matched, rest...)
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// candidates expands targets into one candidate per usable account. pinned,
// when set, keeps only that account.
func (g *Gateway) candidates(targets []db.RouteTarget, pinned string) []resilience.Candidate {
	var out []resilience.Candidate
	for _, t := range targets {
		p, ok := g.Catalog.Get(t.Provider)
		if !ok || !p.Enabled {
			continue
		}
		for _, acc := range g.Credentials.Accounts(p.ID) {
			if pinned != "" && acc.AccountID != pinned && acc.Label != pinned {
				continue
			}
			out = append(out, resilience.Candidate{
				Provider:  p.ID,
				AccountID: acc.AccountID,
				Model:     t.Model,
				Timeout:   p.Timeout,
			})
		}
	}
	return out
}

// target resolves the provider and credential for one candidate.
func (g *Gateway) target(ctx context.Context, c resilience.Candidate, stream bool) (upstream.Target, error) {
	p, ok := g.Catalog.Get(c.Provider)
	if !ok {
		return upstream.Target{}, catalogMiss(c.Provider)
	}
	cred, err := g.Credentials.Credential(ctx, c.Provider, c.AccountID)
	if err != nil {
		return upstream.Target{}, err
	}
	return upstream.Target{Provider: p, Credential: cred, Model: c.Model, Stream: stream}, nil
}

type catalogMiss string

func (c catalogMiss) Error() string { return "provider not in catalog: " + string(c) }

// record stores a finished request in the monitor and the metrics.
func (g *Gateway) record(entry models.RequestLog, start time.Time) {
	entry.Duration = elapsedMs(start)
	if g.Monitor != nil {
		g.Monitor.Record(entry)
	}
	if g.Metrics != nil {
		g.Metrics.ObserveRequest(entry.Endpoint, entry.SourceFormat, entry.TargetFormat, entry.Status, time.Since(start))
	}
	if entry.Status >= 400 || entry.Status == 0 {
		log.Printf("📉 [%s] %s %s -> %s/%s status=%d attempts=%d (%dms) %s",
			entry.RequestID, entry.Endpoint, entry.Model, entry.Provider, entry.TargetModel, entry.Status, entry.Attempts, entry.Duration, entry.Error)
	}
}
