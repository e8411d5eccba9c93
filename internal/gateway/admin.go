package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/auth-platform/platform/api-gateway/internal/circuitbreaker"
	"github.com/auth-platform/platform/api-gateway/internal/routes"
)

// Admin exposes the route table and circuit breakers for operators.
type Admin struct {
	manager  *routes.Manager
	breakers *circuitbreaker.Service
	logger   *slog.Logger
}

// NewAdmin creates the admin handler set.
func NewAdmin(manager *routes.Manager, breakers *circuitbreaker.Service, logger *slog.Logger) *Admin {
	return &Admin{manager: manager, breakers: breakers, logger: logger}
}

// Mount registers the admin endpoints on a router.
func (a *Admin) Mount(r chi.Router) {
	r.Get("/routes", a.listRoutes)
	r.Post("/routes", a.addRoute)
	r.Get("/routes/{name}", a.getRoute)
	r.Put("/routes/{name}", a.updateRoute)
	r.Delete("/routes/{name}", a.deleteRoute)
	r.Get("/circuits", a.listCircuits)
	r.Post("/circuits/{name}/reset", a.resetCircuit)
}

func (a *Admin) listRoutes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.manager.Routes())
}

func (a *Admin) getRoute(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	route, ok := a.manager.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, "Not Found", "No route named "+name)
		return
	}
	writeJSON(w, http.StatusOK, route)
}

func (a *Admin) addRoute(w http.ResponseWriter, r *http.Request) {
	var route routes.Route
	if err := json.NewDecoder(r.Body).Decode(&route); err != nil {
		writeError(w, http.StatusBadRequest, "Bad Request", "Invalid route definition")
		return
	}

	if err := a.manager.Add(r.Context(), route); err != nil {
		a.writeRouteError(w, route.Name, err)
		return
	}
	writeJSON(w, http.StatusCreated, route)
}

func (a *Admin) updateRoute(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var route routes.Route
	if err := json.NewDecoder(r.Body).Decode(&route); err != nil {
		writeError(w, http.StatusBadRequest, "Bad Request", "Invalid route definition")
		return
	}

	found, err := a.manager.Update(r.Context(), name, route)
	if err != nil {
		a.writeRouteError(w, name, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "Not Found", "No route named "+name)
		return
	}
	route.Name = name
	writeJSON(w, http.StatusOK, route)
}

func (a *Admin) deleteRoute(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	found, err := a.manager.Delete(r.Context(), name)
	if err != nil {
		a.writeRouteError(w, name, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "Not Found", "No route named "+name)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// circuitStatus is the admin view of one breaker.
type circuitStatus struct {
	ServiceID string `json:"service_id"`
	State     string `json:"state"`
	Failures  int    `json:"failures"`
}

func (a *Admin) listCircuits(w http.ResponseWriter, r *http.Request) {
	health := a.breakers.Health()
	out := make([]circuitStatus, 0, len(health))
	for id, snap := range health {
		out = append(out, circuitStatus{
			ServiceID: id,
			State:     snap.State.String(),
			Failures:  snap.Failures,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *Admin) resetCircuit(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := a.breakers.Reset(r.Context(), name); err != nil {
		writeError(w, http.StatusNotFound, "Not Found", "No circuit breaker for "+name)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "service_id": name})
}

func (a *Admin) writeRouteError(w http.ResponseWriter, name string, err error) {
	switch {
	case errors.Is(err, routes.ErrRouteExists):
		writeError(w, http.StatusConflict, "Conflict", "Route "+name+" already exists")
	case errors.Is(err, routes.ErrPersist):
		a.logger.Error("route mutation failed",
			slog.String("route", name),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to persist route change")
	default:
		writeError(w, http.StatusBadRequest, "Bad Request", err.Error())
	}
}
