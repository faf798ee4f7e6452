// Package avada connects Avada (Fusion Builder) form posts to the opt-in engine.
package avada

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-doubleoptin/internal/adapters"
	"github.com/go-doubleoptin/internal/application/optin"
	"github.com/go-doubleoptin/internal/domain"
	"github.com/go-doubleoptin/internal/normalize"
	"github.com/go-doubleoptin/internal/pkg/validate"
)

const Identifier = "avada"

type Adapter struct {
	adapters.Base
}

var _ optin.Adapter = (*Adapter)(nil)

func New(base adapters.Base) *Adapter {
	return &Adapter{Base: base}
}

// RegisterHooks mounts POST /forms/avada/submit.
func (a *Adapter) RegisterHooks(r chi.Router) {
	r.Post("/forms/avada/submit", a.Submit(a))
}

func (a *Adapter) ProcessSubmission(r *http.Request) (*domain.FormData, error) {
	files, err := a.ParseForm(r)
	if err != nil {
		return nil, err
	}
	return normalize.FromAvada(normalize.AvadaSubmission{
		FormID:   r.PostForm.Get("form_id"),
		FormData: r.PostForm.Get("formData"),
		Files:    files,
		Request:  a.RequestInfo(r),
	}), nil
}

// ResolveRecipient falls back to the first email field when the form has no
// recipient configured, since Avada forms rarely name one.
func (a *Adapter) ResolveRecipient(fd *domain.FormData, p domain.FormParameter) string {
	if email := a.Base.ResolveRecipient(fd, p); email != "" {
		return email
	}
	if strings.TrimSpace(p.Recipient) != "" {
		return ""
	}
	for _, name := range fd.SortedFieldNames() {
		v := strings.TrimSpace(fd.FieldString(name))
		if strings.Contains(strings.ToLower(name), "email") && validate.Email(v) {
			return v
		}
	}
	return ""
}
