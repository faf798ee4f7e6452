// Package adapters holds the plumbing shared by the form-system adapters:
// catalog lookup, upload handling and the submission response policy.
package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-doubleoptin/internal/application/errorslot"
	"github.com/go-doubleoptin/internal/application/optin"
	"github.com/go-doubleoptin/internal/domain"
	"github.com/go-doubleoptin/internal/normalize"
	"github.com/go-doubleoptin/internal/pkg/clientip"
)

// Response messages shown to the submitter.
const (
	MsgCheckInbox = "Thank you. Please check your inbox and confirm your submission."
	MsgSent       = "Thank you for your message. It has been sent."
)

// Submission statuses.
const (
	StatusMailSent         = "mail_sent"
	StatusValidationFailed = "validation_failed"
)

// SubmitResponse is the JSON answer to a form post.
type SubmitResponse struct {
	Status   string `json:"status"`
	Code     string `json:"code,omitempty"`
	Message  string `json:"message,omitempty"`
	Redirect string `json:"redirect,omitempty"`
}

// Base implements the parts of optin.Adapter that do not depend on the form
// system. Concrete adapters embed it and add ProcessSubmission and RegisterHooks.
type Base struct {
	id        string
	engine    *optin.Engine
	forms     map[string]domain.FormParameter
	slots     *errorslot.Slots
	log       *slog.Logger
	maxMemory int64
}

func NewBase(id string, engine *optin.Engine, forms map[string]domain.FormParameter, slots *errorslot.Slots, log *slog.Logger) Base {
	if forms == nil {
		forms = map[string]domain.FormParameter{}
	}
	if log == nil {
		log = slog.Default()
	}
	return Base{id: id, engine: engine, forms: forms, slots: slots, log: log.With("adapter", id), maxMemory: 32 << 20}
}

func (b *Base) Identifier() string    { return b.id }
func (b *Base) IsAvailable() bool     { return b.engine != nil }
func (b *Base) Engine() *optin.Engine { return b.engine }
func (b *Base) Logger() *slog.Logger  { return b.log }

func (b *Base) ResolveRecipient(fd *domain.FormData, p domain.FormParameter) string {
	return optin.ResolveRecipient(fd, p)
}

func (b *Base) SendOptInMail(ctx context.Context, o *domain.OptIn, fd *domain.FormData, p domain.FormParameter) error {
	return b.engine.SendOptInMail(ctx, o, fd, p)
}

// SendConfirmationMail replays the withheld notification from the stored
// submission of a confirmed record.
func (b *Base) SendConfirmationMail(ctx context.Context, o *domain.OptIn) error {
	p, ok := b.forms[o.FormID]
	if !ok {
		return fmt.Errorf("form %s/%s: %w", b.id, o.FormID, domain.ErrNotFound)
	}
	return b.engine.ReplayNotification(ctx, o, p)
}

func (b *Base) IsOptInEnabled(formID string) bool {
	p, ok := b.forms[formID]
	return ok && p.Enabled
}

func (b *Base) FormFields(formID string) map[string]string {
	out := make(map[string]string, len(b.forms[formID].Fields))
	for k, v := range b.forms[formID].Fields {
		out[k] = v
	}
	return out
}

func (b *Base) FormParameter(formID string) (domain.FormParameter, bool) {
	p, ok := b.forms[formID]
	return p, ok
}

// RequestInfo collects the client data every normalizer records.
func (b *Base) RequestInfo(r *http.Request) normalize.Request {
	return normalize.Request{
		URL:       r.Referer(),
		IP:        clientip.FromRequest(r),
		UserAgent: r.UserAgent(),
		Title:     r.Header.Get("X-Page-Title"),
		Timestamp: time.Now(),
	}
}

// ParseForm parses a multipart or urlencoded post and copies uploaded files
// to temporary paths, keyed by field name. Each upload gets its own directory
// so the original file name is kept.
func (b *Base) ParseForm(r *http.Request) (map[string][]string, error) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("parse form: %w", domain.ErrBadRequest)
		}
		return map[string][]string{}, nil
	}
	if err := r.ParseMultipartForm(b.maxMemory); err != nil {
		return nil, fmt.Errorf("parse multipart form: %w", domain.ErrBadRequest)
	}
	files := make(map[string][]string)
	for field, headers := range r.MultipartForm.File {
		for _, h := range headers {
			p, err := saveUpload(h)
			if err != nil {
				b.log.Warn("could not buffer upload", "field", field, "err", err)
				continue
			}
			files[field] = append(files[field], p)
		}
	}
	return files, nil
}

func saveUpload(h *multipart.FileHeader) (string, error) {
	src, err := h.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()
	dir, err := os.MkdirTemp("", optin.UploadDirPrefix+"*")
	if err != nil {
		return "", err
	}
	name := filepath.Base(strings.ReplaceAll(h.Filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "upload"
	}
	p := filepath.Join(dir, name)
	dst, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		os.Remove(dir)
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		optin.RemoveUpload(p)
		return "", err
	}
	if err := dst.Close(); err != nil {
		optin.RemoveUpload(p)
		return "", err
	}
	return p, nil
}

// Submit is the shared submission endpoint. Forms without double opt-in, or
// whose condition is not met, have their notification forwarded right away.
func (b *Base) Submit(a optin.Adapter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fd, err := a.ProcessSubmission(r)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, SubmitResponse{Status: StatusValidationFailed, Message: "invalid submission"})
			return
		}
		p, ok := a.FormParameter(fd.FormID())
		if !ok {
			optin.DiscardUploads(fd)
			writeJSON(w, http.StatusNotFound, SubmitResponse{Status: StatusValidationFailed, Message: "unknown form"})
			return
		}
		if !p.Enabled || !p.ConditionMet(fd) {
			if err := b.engine.Forward(r.Context(), a, fd, p); err != nil {
				b.log.Error("forward notification", "form_id", p.FormID, "err", err)
				writeJSON(w, http.StatusBadGateway, SubmitResponse{Status: StatusValidationFailed, Message: "the message could not be sent"})
				return
			}
			writeJSON(w, http.StatusOK, SubmitResponse{Status: StatusMailSent, Message: MsgSent})
			return
		}
		if _, err := b.engine.CreateOptIn(r.Context(), a, fd, p); err != nil {
			b.respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, SubmitResponse{Status: StatusMailSent, Message: MsgCheckInbox})
	}
}

// respondError applies the response policy: detailed errors when enabled,
// otherwise a generic success with the message parked in the error slot.
// Duplicate addresses are never revealed.
func (b *Base) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var oe *domain.OptInError
	if !errors.As(err, &oe) {
		b.log.Error("create opt-in", "err", err)
		writeJSON(w, http.StatusInternalServerError, SubmitResponse{Status: StatusValidationFailed, Message: "internal error"})
		return
	}
	settings := b.engine.Settings()
	if settings.ShowDetailedErrors {
		writeJSON(w, http.StatusUnprocessableEntity, SubmitResponse{
			Status: StatusValidationFailed, Code: string(oe.Code), Message: oe.Message,
		})
		return
	}
	resp := SubmitResponse{Status: StatusMailSent, Message: MsgCheckInbox}
	if oe.Code != domain.CodeUniqueEmailDuplicate {
		if b.slots != nil {
			b.slots.Put(r.Context(), errorslot.Fingerprint(clientip.FromRequest(r), r.UserAgent()), oe.Message)
		}
		resp.Redirect = settings.ErrorRedirectPage
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
