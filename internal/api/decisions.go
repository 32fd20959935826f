package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/sanctiond/internal/domain"
	"github.com/opensource-finance/sanctiond/internal/sanction"
)

// DecisionResponse is a decision plus the operations its status admits.
type DecisionResponse struct {
	*domain.SanctionDecision
	AllowedOperations []sanction.Operation `json:"allowedOperations"`
}

// DecisionViewResponse is the read model plus the operations its status admits.
type DecisionViewResponse struct {
	*domain.DecisionView
	AllowedOperations []sanction.Operation `json:"allowedOperations"`
}

// ReturnRequest is the body of POST /decisions/{id}/return.
type ReturnRequest struct {
	Comments string `json:"comments"`
}

// NotifyRequest is the body of POST /decisions/{id}/notify.
// NotifiedAt defaults to the time of the request.
type NotifyRequest struct {
	Method     domain.NotificationMethod `json:"method"`
	NotifiedAt *time.Time                `json:"notifiedAt,omitempty"`
}

// PaymentRequest is the body of POST /decisions/{id}/payment.
// Outcome is one of paid, appealed or cancelled.
type PaymentRequest struct {
	Outcome domain.Status `json:"outcome"`
}

// OverdueRequest is the optional body of the overdue endpoints.
type OverdueRequest struct {
	AsOf *time.Time `json:"asOf,omitempty"`
}

func (o OverdueRequest) asOf() time.Time {
	if o.AsOf == nil {
		return time.Now()
	}
	return *o.AsOf
}

// CreateDecision handles POST /decisions.
func (h *Handler) CreateDecision(w http.ResponseWriter, r *http.Request) {
	var req sanction.CreateRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	d, err := h.service.Create(r.Context(), GetActor(r.Context()), req)
	writeDecision(w, http.StatusCreated, d, err)
}

// ListDecisions handles GET /decisions?status=&structureId=&limit=.
func (h *Handler) ListDecisions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.DecisionFilter{StructureID: q.Get("structureId")}

	verr := &domain.ValidationError{}
	if raw := q.Get("status"); raw != "" {
		status, err := domain.ParseStatus(raw)
		if err != nil {
			verr.Add("status", err.Error())
		}
		filter.Status = status
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			verr.Add("limit", "must be a non-negative integer")
		}
		filter.Limit = limit
	}
	if err := verr.OrNil(); err != nil {
		writeError(w, err)
		return
	}

	views, err := h.service.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]DecisionViewResponse, len(views))
	for i, v := range views {
		out[i] = DecisionViewResponse{DecisionView: v, AllowedOperations: sanction.AllowedOperations(v.Status)}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"decisions": out,
		"count":     len(out),
	})
}

// GetDecision handles GET /decisions/{id} with the read model. ?full=true
// returns the complete decision including its calculation snapshot.
func (h *Handler) GetDecision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if r.URL.Query().Get("full") == "true" {
		d, err := h.service.Get(ctx, id)
		writeDecision(w, http.StatusOK, d, err)
		return
	}

	v, err := h.service.View(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DecisionViewResponse{
		DecisionView:      v,
		AllowedOperations: sanction.AllowedOperations(v.Status),
	})
}

// UpdateDecision handles PATCH /decisions/{id}.
func (h *Handler) UpdateDecision(w http.ResponseWriter, r *http.Request) {
	var req sanction.UpdateRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	d, err := h.service.Update(r.Context(), GetActor(r.Context()), chi.URLParam(r, "id"), req)
	writeDecision(w, http.StatusOK, d, err)
}

// SubmitDecision handles POST /decisions/{id}/submit.
func (h *Handler) SubmitDecision(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.Submit(r.Context(), GetActor(r.Context()), chi.URLParam(r, "id"))
	writeDecision(w, http.StatusOK, d, err)
}

// ApproveDecision handles POST /decisions/{id}/approve.
func (h *Handler) ApproveDecision(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.Approve(r.Context(), GetActor(r.Context()), chi.URLParam(r, "id"))
	writeDecision(w, http.StatusOK, d, err)
}

// ReturnDecision handles POST /decisions/{id}/return.
func (h *Handler) ReturnDecision(w http.ResponseWriter, r *http.Request) {
	var req ReturnRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	d, err := h.service.Return(r.Context(), GetActor(r.Context()), chi.URLParam(r, "id"), req.Comments)
	writeDecision(w, http.StatusOK, d, err)
}

// NotifyDecision handles POST /decisions/{id}/notify.
func (h *Handler) NotifyDecision(w http.ResponseWriter, r *http.Request) {
	var req NotifyRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	var notifiedAt time.Time
	if req.NotifiedAt != nil {
		notifiedAt = *req.NotifiedAt
	}
	d, err := h.service.Notify(r.Context(), GetActor(r.Context()), chi.URLParam(r, "id"), req.Method, notifiedAt)
	writeDecision(w, http.StatusOK, d, err)
}

// RecordPayment handles POST /decisions/{id}/payment.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	d, err := h.service.RecordPayment(r.Context(), GetActor(r.Context()), chi.URLParam(r, "id"), req.Outcome)
	writeDecision(w, http.StatusOK, d, err)
}

// MarkOverdue handles POST /decisions/{id}/overdue. The response carries
// changed=false when the decision was not due yet or not notified.
func (h *Handler) MarkOverdue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := GetActor(ctx).Require("mark overdue"); err != nil {
		writeError(w, err)
		return
	}

	var req OverdueRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}

	d, changed, err := h.service.MarkOverdue(ctx, chi.URLParam(r, "id"), req.asOf())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"changed":  changed,
		"decision": DecisionResponse{SanctionDecision: d, AllowedOperations: sanction.AllowedOperations(d.Status)},
	})
}

// SweepOverdue handles POST /decisions/overdue-sweep.
func (h *Handler) SweepOverdue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := GetActor(ctx).Require("run overdue sweep"); err != nil {
		writeError(w, err)
		return
	}
	if h.sweeper == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "overdue sweeper not available",
		})
		return
	}

	var req OverdueRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}

	result, err := h.sweeper.SweepOnce(ctx, req.asOf())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ExportDecision handles POST /decisions/{id}/exports.
func (h *Handler) ExportDecision(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.Export(r.Context(), GetActor(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// ListExports handles GET /decisions/{id}/exports.
func (h *Handler) ListExports(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.Exports(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []*domain.ExportRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"exports": records,
		"count":   len(records),
	})
}

func writeDecision(w http.ResponseWriter, status int, d *domain.SanctionDecision, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, status, DecisionResponse{
		SanctionDecision:  d,
		AllowedOperations: sanction.AllowedOperations(d.Status),
	})
}
