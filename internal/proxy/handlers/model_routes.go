package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/pysugar/nexus-gateway/internal/db"
	"github.com/pysugar/nexus-gateway/internal/db/models"
	"github.com/pysugar/nexus-gateway/internal/providers/catalog"
	"gorm.io/gorm"
)

// RouteReloader is refreshed after every route change. *db.RouteCache implements it.
type RouteReloader interface {
	Reload() error
}

func reloadRoutes(cache RouteReloader) {
	if err := cache.Reload(); err != nil {
		log.Printf("⚠️ Failed to reload model routes: %v", err)
	}
}

// ModelRoutesHandler returns all model routes
func ModelRoutesHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		routes, err := db.ListModelRoutes(database)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"routes": routes,
			"count":  len(routes),
		})
	}
}

// CreateModelRouteHandler creates a new model route
func CreateModelRouteHandler(database *gorm.DB, cat *catalog.Catalog, cache RouteReloader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var route models.ModelRoute
		if err := json.NewDecoder(r.Body).Decode(&route); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
			return
		}
		if err := db.ValidateRoute(&route, cat); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		route.ID = 0
		route.IsActive = true

		if err := db.CreateModelRoute(database, &route); err != nil {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "Failed to create route (possibly duplicate): " + err.Error()})
			return
		}
		reloadRoutes(cache)
		writeJSON(w, http.StatusCreated, route)
	}
}

// UpdateModelRouteHandler updates an existing model route
func UpdateModelRouteHandler(database *gorm.DB, cat *catalog.Catalog, cache RouteReloader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := routeID(w, r)
		if !ok {
			return
		}

		// is_active stays on unless the body turns it off.
		route := models.ModelRoute{IsActive: true}
		if err := json.NewDecoder(r.Body).Decode(&route); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
			return
		}
		if err := db.ValidateRoute(&route, cat); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}

		route.ID = id
		if err := db.UpdateModelRoute(database, id, &route); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "Route not found"})
				return
			}
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to update route: " + err.Error()})
			return
		}
		reloadRoutes(cache)
		writeJSON(w, http.StatusOK, route)
	}
}

// DeleteModelRouteHandler deletes a model route
func DeleteModelRouteHandler(database *gorm.DB, cache RouteReloader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := routeID(w, r)
		if !ok {
			return
		}
		if err := db.DeleteModelRoute(database, id); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "Route not found"})
				return
			}
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to delete route"})
			return
		}
		reloadRoutes(cache)
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

func routeID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid route ID"})
		return 0, false
	}
	return uint(id), true
}
