package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-doubleoptin/internal/application/errorslot"
	"github.com/go-doubleoptin/internal/application/optin"
	"github.com/go-doubleoptin/internal/domain"
	"github.com/go-doubleoptin/internal/pkg/clientip"
)

// Messages shown when a link is answered with JSON.
var linkMessages = map[optin.Status]string{
	optin.StatusConfirmed:        "Thank you. Your submission has been confirmed.",
	optin.StatusAlreadyConfirmed: "This submission has already been confirmed.",
	optin.StatusExpired:          "This confirmation link has expired.",
	optin.StatusNotFound:         "This link is not valid.",
	optin.StatusNotApplicable:    "This link is not valid.",
	optin.StatusOptedOut:         "You have been unsubscribed.",
	optin.StatusAlreadyOptedOut:  "You have already been unsubscribed.",
	optin.StatusPending:          "Your request could not be processed. Please try again later.",
}

var linkCodes = map[optin.Status]int{
	optin.StatusConfirmed:        http.StatusOK,
	optin.StatusAlreadyConfirmed: http.StatusOK,
	optin.StatusExpired:          http.StatusGone,
	optin.StatusNotFound:         http.StatusNotFound,
	optin.StatusNotApplicable:    http.StatusNotFound,
	optin.StatusOptedOut:         http.StatusOK,
	optin.StatusAlreadyOptedOut:  http.StatusOK,
	optin.StatusPending:          http.StatusServiceUnavailable,
}

// LinkHandler serves the links sent in opt-in mails and the error slot poll.
type LinkHandler struct {
	engine *optin.Engine
	repo   optin.Repository
	slots  *errorslot.Slots
	log    *slog.Logger
}

func NewLinkHandler(engine *optin.Engine, repo optin.Repository, slots *errorslot.Slots, log *slog.Logger) *LinkHandler {
	if log == nil {
		log = slog.Default()
	}
	return &LinkHandler{engine: engine, repo: repo, slots: slots, log: log}
}

// Confirm handles GET /optin?optin=<hash>. The record's own adapter performs
// the confirmation; a confirmed visit redirects to the form's confirmation page.
func (h *LinkHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	hash := r.URL.Query().Get("optin")
	if hash == "" {
		writeError(w, http.StatusBadRequest, "optin parameter required")
		return
	}
	o, err := h.repo.FindByHash(r.Context(), hash)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			h.log.Error("load opt-in for confirmation", "err", err)
		}
		h.writeLink(w, optin.StatusNotFound)
		return
	}
	a, ok := h.engine.Registry().ForRecord(o)
	if !ok {
		h.writeLink(w, optin.StatusNotApplicable)
		return
	}
	_, status := h.engine.ValidateOptIn(r.Context(), a, hash, clientip.FromRequest(r))
	if status == optin.StatusConfirmed || status == optin.StatusAlreadyConfirmed {
		if p, ok := a.FormParameter(o.FormID); ok && p.ConfirmationPage != "" {
			http.Redirect(w, r, p.ConfirmationPage, http.StatusFound)
			return
		}
	}
	h.writeLink(w, status)
}

// OptOut handles GET /optout?optout=<hash>.
func (h *LinkHandler) OptOut(w http.ResponseWriter, r *http.Request) {
	hash := r.URL.Query().Get("optout")
	if hash == "" {
		writeError(w, http.StatusBadRequest, "optout parameter required")
		return
	}
	status, err := h.engine.OptOut(r.Context(), hash, clientip.FromRequest(r))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.writeLink(w, optin.StatusNotFound)
			return
		}
		h.log.Error("opt-out", "err", err)
		h.writeLink(w, optin.StatusPending)
		return
	}
	if page := h.engine.Settings().OptOutPage; page != "" {
		http.Redirect(w, r, page, http.StatusFound)
		return
	}
	h.writeLink(w, status)
}

// ErrorSlot returns the message parked for this client by a failed submission, once.
func (h *LinkHandler) ErrorSlot(w http.ResponseWriter, r *http.Request) {
	fp := errorslot.Fingerprint(clientip.FromRequest(r), r.UserAgent())
	msg, ok := h.slots.Take(r.Context(), fp)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Error: msg})
}

func (h *LinkHandler) writeLink(w http.ResponseWriter, s optin.Status) {
	code, ok := linkCodes[s]
	if !ok {
		code = http.StatusInternalServerError
	}
	writeJSON(w, code, LinkEnvelope{Status: string(s), Message: linkMessages[s]})
}
