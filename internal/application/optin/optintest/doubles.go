package optintest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-doubleoptin/internal/application/optin"
	"github.com/go-doubleoptin/internal/domain"
	"github.com/go-doubleoptin/internal/infrastructure/mail"
)

// FileStore keeps objects in memory.
type FileStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func NewFileStore() *FileStore {
	return &FileStore{objects: make(map[string][]byte)}
}

func (s *FileStore) Put(_ context.Context, key string, r io.Reader, _ string) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = b
	return nil
}

func (s *FileStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", key, domain.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// Keys lists the stored object keys.
func (s *FileStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.objects))
	for k := range s.objects {
		out = append(out, k)
	}
	return out
}

// Mailer records sent messages. Set Err to make sends fail.
type Mailer struct {
	mu   sync.Mutex
	sent []*mail.Message
	Err  error
}

func (m *Mailer) Send(_ context.Context, msg *mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	cp := *msg
	m.sent = append(m.sent, &cp)
	return nil
}

// Sent returns the delivered messages in order.
func (m *Mailer) Sent() []*mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*mail.Message(nil), m.sent...)
}

// Adapter is a minimal form-system adapter delegating to the engine.
type Adapter struct {
	ID      string
	Engine  *optin.Engine
	Forms   map[string]domain.FormParameter
	mu      sync.Mutex
	replays int
}

var _ optin.Adapter = (*Adapter)(nil)

func NewAdapter(id string, engine *optin.Engine, forms ...domain.FormParameter) *Adapter {
	a := &Adapter{ID: id, Engine: engine, Forms: make(map[string]domain.FormParameter)}
	for _, f := range forms {
		a.Forms[f.FormID] = f
	}
	return a
}

func (a *Adapter) Identifier() string       { return a.ID }
func (a *Adapter) IsAvailable() bool        { return true }
func (a *Adapter) RegisterHooks(chi.Router) {}

func (a *Adapter) ProcessSubmission(*http.Request) (*domain.FormData, error) {
	return nil, fmt.Errorf("not supported: %w", domain.ErrBadRequest)
}

func (a *Adapter) ResolveRecipient(fd *domain.FormData, p domain.FormParameter) string {
	return optin.ResolveRecipient(fd, p)
}

func (a *Adapter) SendOptInMail(ctx context.Context, o *domain.OptIn, fd *domain.FormData, p domain.FormParameter) error {
	return a.Engine.SendOptInMail(ctx, o, fd, p)
}

func (a *Adapter) SendConfirmationMail(ctx context.Context, o *domain.OptIn) error {
	a.mu.Lock()
	a.replays++
	a.mu.Unlock()
	return a.Engine.ReplayNotification(ctx, o, a.Forms[o.FormID])
}

// Replays counts SendConfirmationMail calls.
func (a *Adapter) Replays() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.replays
}

func (a *Adapter) IsOptInEnabled(formID string) bool {
	p, ok := a.Forms[formID]
	return ok && p.Enabled
}

func (a *Adapter) FormFields(formID string) map[string]string { return a.Forms[formID].Fields }

func (a *Adapter) FormParameter(formID string) (domain.FormParameter, bool) {
	p, ok := a.Forms[formID]
	return p, ok
}
