package optin

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-doubleoptin/internal/domain"
)

// Adapter connects one form system to the engine. Adapters never touch the
// record store themselves.
type Adapter interface {
	Identifier() string
	IsAvailable() bool
	// RegisterHooks mounts the adapter's submission endpoints.
	RegisterHooks(r chi.Router)
	ProcessSubmission(r *http.Request) (*domain.FormData, error)
	ResolveRecipient(fd *domain.FormData, p domain.FormParameter) string
	SendOptInMail(ctx context.Context, o *domain.OptIn, fd *domain.FormData, p domain.FormParameter) error
	// SendConfirmationMail replays the withheld notification of a confirmed record.
	SendConfirmationMail(ctx context.Context, o *domain.OptIn) error
	IsOptInEnabled(formID string) bool
	FormFields(formID string) map[string]string
	FormParameter(formID string) (domain.FormParameter, bool)
}

// Registry holds the adapters known to the process.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	order    []string
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter. Identifiers must be unique.
func (r *Registry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := a.Identifier()
	if _, ok := r.adapters[id]; ok {
		return fmt.Errorf("adapter %q already registered: %w", id, domain.ErrConflict)
	}
	r.adapters[id] = a
	r.order = append(r.order, id)
	return nil
}

func (r *Registry) Get(id string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[id]
	return a, ok
}

// Available lists the usable adapters in registration order.
func (r *Registry) Available() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, 0, len(r.order))
	for _, id := range r.order {
		if a := r.adapters[id]; a.IsAvailable() {
			out = append(out, a)
		}
	}
	return out
}

// ForRecord returns the adapter owning the record's form type.
func (r *Registry) ForRecord(o *domain.OptIn) (Adapter, bool) {
	a, ok := r.Get(o.FormType)
	if !ok || !a.IsAvailable() {
		return nil, false
	}
	return a, true
}
