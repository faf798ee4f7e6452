package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-doubleoptin/internal/application/cleanup"
	"github.com/go-doubleoptin/internal/application/gdpr"
	"github.com/go-doubleoptin/internal/application/optin"
	"github.com/go-doubleoptin/internal/application/telemetry"
)

// CategoryMove is the body of PUT /admin/categories.
type CategoryMove struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// EraseRequest is the body of POST /admin/gdpr/erase.
type EraseRequest struct {
	Email string `json:"email"`
}

// AdminHandler serves the management API.
type AdminHandler struct {
	repo     optin.Repository
	engine   *optin.Engine
	counters *telemetry.Counters
	gdpr     *gdpr.Service
	worker   *cleanup.Worker
}

func NewAdminHandler(repo optin.Repository, engine *optin.Engine, counters *telemetry.Counters, g *gdpr.Service, worker *cleanup.Worker) *AdminHandler {
	return &AdminHandler{repo: repo, engine: engine, counters: counters, gdpr: g, worker: worker}
}

// List returns one page of records of a category. An empty category lists every record.
func (h *AdminHandler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := parsePagination(r)
	res, err := h.repo.FindByCategory(r.Context(), r.URL.Query().Get("category"), page, perPage)
	if err != nil {
		httpError(w, err)
		return
	}
	maxPage := 1
	if perPage > 0 && res.Total > 0 {
		maxPage = (res.Total + perPage - 1) / perPage
	}
	writeJSON(w, http.StatusOK, PaginatedOptInsEnvelope{
		MaxPage: maxPage, ActualPage: page, PerPage: perPage, Total: res.Total, Data: res.Items,
	})
}

func (h *AdminHandler) Get(w http.ResponseWriter, r *http.Request) {
	o, err := h.repo.FindByHash(r.Context(), chi.URLParam(r, "hash"))
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *AdminHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Delete(r.Context(), chi.URLParam(r, "hash")); err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) Resend(w http.ResponseWriter, r *http.Request) {
	o, err := h.engine.Resend(r.Context(), chi.URLParam(r, "hash"))
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *AdminHandler) MoveCategory(w http.ResponseWriter, r *http.Request) {
	var req CategoryMove
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.From == req.To {
		writeError(w, http.StatusBadRequest, "from and to must differ")
		return
	}
	n, err := h.repo.BulkUpdateCategory(r.Context(), req.From, req.To)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CountEnvelope{Count: n})
}

func (h *AdminHandler) CountByCategory(w http.ResponseWriter, r *http.Request) {
	n, err := h.repo.CountByCategory(r.Context(), chi.URLParam(r, "category"))
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CountEnvelope{Count: n})
}

func (h *AdminHandler) CountByForm(w http.ResponseWriter, r *http.Request) {
	n, err := h.repo.CountByFormID(r.Context(), chi.URLParam(r, "formID"))
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CountEnvelope{Count: n})
}

// Telemetry returns the usage counters, including one per registered form system.
func (h *AdminHandler) Telemetry(w http.ResponseWriter, r *http.Request) {
	var extra []string
	for _, a := range h.engine.Registry().Available() {
		extra = append(extra, telemetry.IntegrationCounter(a.Identifier()))
	}
	writeJSON(w, http.StatusOK, h.counters.Snapshot(r.Context(), extra...))
}

// Export streams the GDPR export of one email as CSV (default) or JSON.
func (h *AdminHandler) Export(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	format := q.Get("format")
	if format == "" {
		format = gdpr.FormatCSV
	}
	if format != gdpr.FormatCSV && format != gdpr.FormatJSON {
		writeError(w, http.StatusBadRequest, "format must be csv or json")
		return
	}
	recs, err := h.gdpr.Export(r.Context(), q.Get("email"))
	if err != nil {
		httpError(w, err)
		return
	}
	contentType := "text/csv; charset=utf-8"
	if format == gdpr.FormatJSON {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="gdpr-export.%s"`, format))
	w.WriteHeader(http.StatusOK)
	_ = gdpr.Write(w, format, recs)
}

func (h *AdminHandler) Erase(w http.ResponseWriter, r *http.Request) {
	var req EraseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	n, err := h.gdpr.Erase(r.Context(), req.Email)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CountEnvelope{Count: n})
}

// RunCleanup triggers one retention and reminder sweep outside the schedule.
func (h *AdminHandler) RunCleanup(w http.ResponseWriter, r *http.Request) {
	if h.worker == nil {
		writeError(w, http.StatusServiceUnavailable, "cleanup worker not configured")
		return
	}
	rep, err := h.worker.RunOnce(r.Context())
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func parsePagination(r *http.Request) (page, perPage int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ = strconv.Atoi(r.URL.Query().Get("per_page"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 500 {
		perPage = 50
	}
	return page, perPage
}
