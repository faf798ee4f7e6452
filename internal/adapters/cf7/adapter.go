// Package cf7 connects Contact Form 7 posts to the opt-in engine.
package cf7

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-doubleoptin/internal/adapters"
	"github.com/go-doubleoptin/internal/application/optin"
	"github.com/go-doubleoptin/internal/domain"
	"github.com/go-doubleoptin/internal/normalize"
)

// Identifier is the form type stored on CF7 records.
const Identifier = "cf7"

// formHTMLField optionally carries a snapshot of the rendered form.
const formHTMLField = "_wpcf7_form_html"

type Adapter struct {
	adapters.Base
}

var _ optin.Adapter = (*Adapter)(nil)

func New(base adapters.Base) *Adapter {
	return &Adapter{Base: base}
}

// RegisterHooks mounts POST /forms/cf7/{formID}/submit.
func (a *Adapter) RegisterHooks(r chi.Router) {
	r.Post("/forms/cf7/{formID}/submit", a.Submit(a))
}

func (a *Adapter) ProcessSubmission(r *http.Request) (*domain.FormData, error) {
	files, err := a.ParseForm(r)
	if err != nil {
		return nil, err
	}
	return normalize.FromCF7(normalize.CF7Submission{
		FormID:   chi.URLParam(r, "formID"),
		Posted:   r.PostForm,
		Files:    files,
		FormHTML: r.PostForm.Get(formHTMLField),
		Request:  a.RequestInfo(r),
	}), nil
}
