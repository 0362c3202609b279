package db

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/pysugar/nexus-gateway/internal/db/models"
	"github.com/pysugar/nexus-gateway/internal/providers/catalog"
	"gorm.io/gorm"
)

// RouteTarget is one (provider, model) a client model can be served by.
type RouteTarget struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// RouteCache keeps the active model routes in memory. Reload after every change.
type RouteCache struct {
	db     *gorm.DB
	mu     sync.RWMutex
	routes map[string][]RouteTarget
}

// NewRouteCache loads the active routes from db.
func NewRouteCache(db *gorm.DB) (*RouteCache, error) {
	c := &RouteCache{db: db, routes: map[string][]RouteTarget{}}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload rebuilds the cache from the database.
func (c *RouteCache) Reload() error {
	var rows []models.ModelRoute
	err := c.db.Where("is_active = ?", true).
		Order("client_model ASC, priority ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return fmt.Errorf("load model routes: %w", err)
	}

	routes := make(map[string][]RouteTarget)
	for _, r := range rows {
		key := normalizeModel(r.ClientModel)
		routes[key] = append(routes[key], RouteTarget{Provider: normalizeProvider(r.TargetProvider), Model: r.TargetModel})
	}

	c.mu.Lock()
	c.routes = routes
	c.mu.Unlock()
	log.Printf("🗺️ Loaded %d model routes for %d client models", len(rows), len(routes))
	return nil
}

// Resolve returns the configured targets for clientModel in priority order,
// or nil when the model has no route.
func (c *RouteCache) Resolve(clientModel string) []RouteTarget {
	c.mu.RLock()
	defer c.mu.RUnlock()
	targets := c.routes[normalizeModel(clientModel)]
	if len(targets) == 0 {
		return nil
	}
	return append([]RouteTarget(nil), targets...)
}

// ClientModels returns every routed client model, sorted.
func (c *RouteCache) ClientModels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.routes))
	for m := range c.routes {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// ValidateRoute checks that route names a chat-capable provider from cat.
func ValidateRoute(route *models.ModelRoute, cat *catalog.Catalog) error {
	route.ClientModel = strings.TrimSpace(route.ClientModel)
	route.TargetModel = strings.TrimSpace(route.TargetModel)
	route.TargetProvider = normalizeProvider(route.TargetProvider)
	if route.ClientModel == "" || route.TargetModel == "" {
		return fmt.Errorf("client_model and target_model are required")
	}
	if _, ok := cat.Get(route.TargetProvider); !ok {
		return fmt.Errorf("unknown provider %q", route.TargetProvider)
	}
	if !cat.SupportsCapability(route.TargetProvider, catalog.CapabilityChat) {
		return fmt.Errorf("provider %q is disabled or does not serve chat", route.TargetProvider)
	}
	return nil
}

// ListModelRoutes returns every route, active or not.
func ListModelRoutes(db *gorm.DB) ([]models.ModelRoute, error) {
	var routes []models.ModelRoute
	if err := db.Order("client_model ASC, priority ASC, id ASC").Find(&routes).Error; err != nil {
		return nil, err
	}
	return routes, nil
}

// CreateModelRoute inserts route; the (client model, provider) pair must be new.
func CreateModelRoute(db *gorm.DB, route *models.ModelRoute) error {
	return db.Create(route).Error
}

// UpdateModelRoute overwrites the editable fields of route id.
func UpdateModelRoute(db *gorm.DB, id uint, route *models.ModelRoute) error {
	res := db.Model(&models.ModelRoute{}).Where("id = ?", id).Updates(map[string]interface{}{
		"client_model":    route.ClientModel,
		"target_provider": route.TargetProvider,
		"target_model":    route.TargetModel,
		"priority":        route.Priority,
		"is_active":       route.IsActive,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteModelRoute removes route id.
func DeleteModelRoute(db *gorm.DB, id uint) error {
	res := db.Delete(&models.ModelRoute{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func normalizeModel(m string) string {
	return strings.ToLower(strings.TrimSpace(m))
}

func normalizeProvider(p string) string {
	return strings.ToLower(strings.TrimSpace(p))
}
