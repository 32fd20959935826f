package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/sanctiond/internal/catalog"
	"github.com/opensource-finance/sanctiond/internal/domain"
	"github.com/opensource-finance/sanctiond/internal/registry"
	"github.com/opensource-finance/sanctiond/internal/sanction"
	"github.com/opensource-finance/sanctiond/internal/worker"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo       domain.Repository
	cache      domain.Cache
	bus        domain.EventBus
	catalog    *catalog.Catalog
	structures *registry.Directory
	service    *sanction.Service
	sweeper    *worker.Sweeper
	version    string
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		repo:       deps.Repo,
		cache:      deps.Cache,
		bus:        deps.Bus,
		catalog:    deps.Catalog,
		structures: deps.Structures,
		service:    deps.Service,
		sweeper:    deps.Sweeper,
		version:    deps.Version,
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready reports whether every backing adapter answers.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := map[string]string{}
	ready := true

	check := func(name string, ping func() error) {
		if err := ping(); err != nil {
			checks[name] = err.Error()
			ready = false
			return
		}
		checks[name] = "ok"
	}
	if h.repo != nil {
		check("repository", func() error { return h.repo.Ping(ctx) })
	}
	if h.cache != nil {
		check("cache", func() error { return h.cache.Ping(ctx) })
	}
	if h.bus != nil {
		check("bus", func() error { return h.bus.Ping(ctx) })
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"ready":  ready,
		"checks": checks,
	})
}

// ListRules returns the enabled catalog rules, narrowed to those applicable
// to ?structureId= when given.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	var structure *domain.Structure
	if id := r.URL.Query().Get("structureId"); id != "" {
		s, err := h.structures.GetStructure(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		structure = s
	}

	rules := h.catalog.RulesFor(structure)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": rules,
		"count": len(rules),
	})
}

// GetRule returns a rule by code, including disabled ones.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.repo.GetRule(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// ruleRequest defaults Enabled to true when omitted.
type ruleRequest struct {
	domain.ViolationRule
	Enabled *bool `json:"enabled,omitempty"`
}

// SaveRule validates and upserts a rule, then applies it to the loaded catalog.
func (h *Handler) SaveRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := GetActor(ctx).Require("manage rules"); err != nil {
		writeError(w, err)
		return
	}

	var req ruleRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	rule := req.ViolationRule
	rule.Enabled = req.Enabled == nil || *req.Enabled

	if err := h.catalog.Validate(&rule); err != nil {
		var verr *domain.ValidationError
		if !errors.As(err, &verr) {
			verr = &domain.ValidationError{}
			verr.Add("applicability", err.Error())
		}
		writeError(w, verr)
		return
	}

	if err := h.repo.SaveRule(ctx, &rule); err != nil {
		writeError(w, err)
		return
	}
	if err := h.catalog.Load(&rule); err != nil {
		writeError(w, err)
		return
	}

	slog.Info("rule saved", "code", rule.Code, "enabled", rule.Enabled, "actor", GetActor(ctx).ID)
	writeJSON(w, http.StatusOK, rule)
}

// DisableRule soft-deletes a rule and drops it from the catalog.
func (h *Handler) DisableRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := GetActor(ctx).Require("manage rules"); err != nil {
		writeError(w, err)
		return
	}

	code := chi.URLParam(r, "code")
	if err := h.repo.DisableRule(ctx, code); err != nil {
		writeError(w, err)
		return
	}
	h.catalog.Remove(code)

	slog.Info("rule disabled", "code", code, "actor", GetActor(ctx).ID)
	w.WriteHeader(http.StatusNoContent)
}

// ReloadRules rebuilds the catalog from the repository.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := GetActor(ctx).Require("manage rules"); err != nil {
		writeError(w, err)
		return
	}

	if err := h.catalog.LoadFrom(ctx, h.repo); err != nil {
		slog.Error("rule reload failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reloaded": true,
		"count":    h.catalog.Count(),
	})
}

// SaveStructure upserts the local replica of a registry structure.
func (h *Handler) SaveStructure(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := GetActor(ctx).Require("save structure"); err != nil {
		writeError(w, err)
		return
	}

	var s domain.Structure
	if !decodeJSON(w, r, &s, false) {
		return
	}
	s.ID = chi.URLParam(r, "id")

	if err := h.structures.Save(ctx, &s); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// GetStructure returns a structure by id.
func (h *Handler) GetStructure(w http.ResponseWriter, r *http.Request) {
	s, err := h.structures.GetStructure(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// Calculate previews a fine without persisting anything.
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	var req sanction.CalculateRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	result, err := h.service.Calculate(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// decodeJSON decodes the request body into dst. An empty body is accepted
// when optional is set. It writes the 400 response itself and reports
// whether the handler should continue.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}, optional bool) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"error": "invalid JSON request body",
	})
	return false
}

// writeError maps service errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var (
		verr     *domain.ValidationError
		rangeErr *domain.AmountOutOfRangeError
		stateErr *domain.InvalidStateError
	)

	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":  "validation failed",
			"fields": verr.Fields,
		})
	case errors.As(err, &rangeErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":  rangeErr.Error(),
			"amount": rangeErr.Amount,
			"min":    rangeErr.Min,
			"max":    rangeErr.Max,
			"fixed":  rangeErr.Fixed,
		})
	case errors.As(err, &stateErr):
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":         stateErr.Error(),
			"currentStatus": stateErr.Current,
			"operation":     stateErr.Operation,
		})
	case errors.Is(err, domain.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":     "decision was modified concurrently",
			"retryable": true,
		})
	case errors.Is(err, domain.ErrForbidden):
		writeJSON(w, http.StatusForbidden, map[string]string{
			"error": err.Error(),
		})
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrRuleNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": err.Error(),
		})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal server error",
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
