// Package optin is the double opt-in lifecycle engine: it turns a normalized
// form submission into a pending record, confirms it through the emailed
// token and releases the withheld notification.
package optin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/go-doubleoptin/internal/application/ratelimit"
	"github.com/go-doubleoptin/internal/application/telemetry"
	"github.com/go-doubleoptin/internal/domain"
	"github.com/go-doubleoptin/internal/events"
	"github.com/go-doubleoptin/internal/infrastructure/mail"
	"github.com/go-doubleoptin/internal/pkg/mailtemplate"
)

// defaultRateWindow applies when a limit sets attempts but no window.
const defaultRateWindow = time.Hour

// Deps are the collaborators of an Engine. Now and LookupMX are optional.
type Deps struct {
	Repo     Repository
	Files    FileStore
	Limiter  *ratelimit.Limiter
	Events   *events.Dispatcher
	Counters *telemetry.Counters
	Mailer   mail.Sender
	Layouts  *mailtemplate.Layouts
	Registry *Registry
	Settings domain.Settings
	// BaseURL is the public root of the service, used for links in mails.
	BaseURL  string
	Log      *slog.Logger
	Now      func() time.Time
	LookupMX func(host string) ([]*net.MX, error)
}

// Engine runs the opt-in state machine.
type Engine struct {
	repo       Repository
	files      FileStore
	limiter    *ratelimit.Limiter
	events     *events.Dispatcher
	counters   *telemetry.Counters
	mailer     mail.Sender
	layouts    *mailtemplate.Layouts
	registry   *Registry
	settings   domain.Settings
	baseURL    string
	log        *slog.Logger
	now        func() time.Time
	lookupMX   func(string) ([]*net.MX, error)
	validators []RecipientValidator
	scope      ValidationScope
}

func NewEngine(d Deps) *Engine {
	e := &Engine{
		repo:     d.Repo,
		files:    d.Files,
		limiter:  d.Limiter,
		events:   d.Events,
		counters: d.Counters,
		mailer:   d.Mailer,
		layouts:  d.Layouts,
		registry: d.Registry,
		settings: d.Settings.WithDefaults(),
		baseURL:  strings.TrimRight(d.BaseURL, "/"),
		log:      d.Log,
		now:      d.Now,
		lookupMX: d.LookupMX,
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.lookupMX == nil {
		e.lookupMX = net.LookupMX
	}
	if e.layouts == nil {
		e.layouts = mailtemplate.NewLayouts(e.settings.Layouts)
	}
	if e.registry == nil {
		e.registry = NewRegistry()
	}
	e.validators = []RecipientValidator{e.validateFormat, e.validateMX, e.validateUnique}
	return e
}

func (e *Engine) Settings() domain.Settings { return e.settings }
func (e *Engine) Registry() *Registry       { return e.registry }
func (e *Engine) Scope() *ValidationScope   { return &e.scope }

// CreateOptIn turns a submission into a pending record and sends the opt-in
// mail through the adapter. Business failures are returned as *domain.OptInError
// and leave nothing behind.
func (e *Engine) CreateOptIn(ctx context.Context, a Adapter, fd *domain.FormData, p domain.FormParameter) (*domain.OptIn, error) {
	sub := &events.FormSubmission{FormData: fd}
	e.events.Dispatch(ctx, sub)
	if sub.IsCancelled() {
		return nil, e.reject(domain.CodeSubmissionCancelled, "", map[string]any{
			"form_id": fd.FormID(), "reason": sub.CancelReason(),
		})
	}
	if sub.FormData != nil {
		fd = sub.FormData
	}

	fd, stored := e.storeFiles(ctx, fd)

	email := strings.TrimSpace(a.ResolveRecipient(fd, p))
	if email == "" {
		e.RemoveFiles(ctx, stored)
		return nil, e.reject(domain.CodeNoRecipient, "", map[string]any{"form_id": fd.FormID()})
	}

	ip := fd.MetaString(domain.MetaIP)
	if !ValidationSuppressed(ctx) {
		if err := e.checkRateLimits(ctx, a, fd, p, ip, email); err != nil {
			e.RemoveFiles(ctx, stored)
			return nil, err
		}
		if err := e.runValidators(ctx, email, fd, p); err != nil {
			e.RemoveFiles(ctx, stored)
			return nil, err
		}
	}

	fd = fd.WithRecipientEmail(email)
	content, err := json.Marshal(fd)
	if err != nil {
		e.RemoveFiles(ctx, stored)
		e.log.Error("encode submission", "form_id", fd.FormID(), "err", err)
		return nil, e.reject(domain.CodeSaveFailed, "", map[string]any{"form_id": fd.FormID()})
	}

	o := &domain.OptIn{
		FormID:      fd.FormID(),
		FormType:    a.Identifier(),
		Category:    p.Category,
		Content:     string(content),
		Files:       stored,
		IPRegister:  ip,
		Email:       email,
		Form:        fd.FormHTML(),
		ConsentText: p.ConsentText,
		CreateTime:  e.now().UTC().Truncate(time.Second),
	}
	if err := e.repo.Save(ctx, o); err != nil {
		e.RemoveFiles(ctx, stored)
		e.log.Error("save opt-in", "form_id", o.FormID, "form_type", o.FormType, "email", email, "ip", ip, "err", err)
		return nil, e.reject(domain.CodeSaveFailed, "", map[string]any{"form_id": o.FormID, "email": email})
	}

	e.events.Dispatch(ctx, &events.OptInCreated{
		ID: o.ID, FormID: o.FormID, FormType: o.FormType, Email: o.Email, Hash: o.Hash, Fields: fd.Fields(),
	})
	e.counters.Incr(ctx, telemetry.TotalOptIns)
	e.counters.Incr(ctx, telemetry.IntegrationCounter(o.FormType))

	if err := a.SendOptInMail(ctx, o, fd, p); err != nil {
		e.log.Warn("send opt-in mail", "id", o.ID, "form_id", o.FormID, "err", err)
	} else if o.MailOptIn != "" {
		if err := e.repo.Save(ctx, o); err != nil {
			e.log.Warn("store opt-in mail body", "id", o.ID, "err", err)
		}
	}
	return o, nil
}

func (e *Engine) checkRateLimits(ctx context.Context, a Adapter, fd *domain.FormData, p domain.FormParameter, ip, email string) error {
	checks := []struct {
		kind  string
		ident string
		limit domain.RateLimit
		code  domain.ErrorCode
	}{
		{ratelimit.TypeIP, ip, p.IPLimit, domain.CodeRateLimitIP},
		{ratelimit.TypeEmail, email, p.EmailLimit, domain.CodeRateLimitEmail},
	}
	for _, c := range checks {
		if c.ident == "" {
			continue
		}
		window := c.limit.Window()
		if window <= 0 {
			window = defaultRateWindow
		}
		if e.limiter.IsAllowed(ctx, c.kind, c.ident, c.limit.MaxAttempts, window) {
			continue
		}
		e.events.Dispatch(ctx, &events.RateLimited{
			Type: c.kind, Identifier: c.ident, FormID: fd.FormID(), FormType: a.Identifier(),
		})
		e.counters.Incr(ctx, telemetry.RateLimited)
		return e.reject(c.code, "", map[string]any{"form_id": fd.FormID(), c.kind: c.ident})
	}
	return nil
}

func (e *Engine) runValidators(ctx context.Context, email string, fd *domain.FormData, p domain.FormParameter) error {
	for _, v := range e.validators {
		err := v(ctx, email, fd, p)
		if err == nil {
			continue
		}
		if errors.Is(err, domain.ErrDuplicateEmail) {
			return e.reject(domain.CodeUniqueEmailDuplicate, "", map[string]any{"form_id": fd.FormID(), "email": email})
		}
		return e.reject(domain.CodeRecipientInvalid, err.Error(), map[string]any{"form_id": fd.FormID(), "email": email})
	}
	return nil
}

func (e *Engine) reject(code domain.ErrorCode, msg string, ctx map[string]any) error {
	err := domain.NewOptInError(code, msg, ctx)
	args := []any{"code", string(code)}
	for k, v := range ctx {
		args = append(args, k, v)
	}
	e.log.Info("opt-in rejected", args...)
	return err
}

// ValidateOptIn confirms the record behind hash for the calling adapter. It
// returns true only when this call performed the confirmation.
func (e *Engine) ValidateOptIn(ctx context.Context, a Adapter, hash, ip string) (bool, Status) {
	o, err := e.repo.FindByHash(ctx, hash)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			e.log.Error("load opt-in", "err", err)
		}
		return false, StatusNotFound
	}
	if o.FormType != a.Identifier() {
		return false, StatusNotApplicable
	}

	// Without its form the expiry window is unknown.
	p, ok := a.FormParameter(o.FormID)
	if !ok {
		return false, StatusNotApplicable
	}
	now := e.now()
	if o.IsExpired(now, p.TokenExpiryHours) {
		e.events.Dispatch(ctx, &events.OptInExpired{CleanupType: events.SourceValidation, Count: 1, Hash: o.Hash})
		return false, StatusExpired
	}
	if o.Confirmed {
		return false, StatusAlreadyConfirmed
	}
	if o.IsOptedOut() {
		return false, StatusOptedOut
	}

	if err := e.repo.Confirm(ctx, o.ID, ip, now); err != nil {
		if errors.Is(err, domain.ErrAlreadyConfirmed) {
			return false, StatusAlreadyConfirmed
		}
		e.log.Error("confirm opt-in", "id", o.ID, "err", err)
		return false, StatusPending
	}
	o.Confirmed = true
	o.IPConfirmation = ip
	o.UpdateTime = now

	e.counters.Incr(ctx, telemetry.ConfirmedOptIns)
	e.events.Dispatch(ctx, &events.OptInConfirmed{
		ID: o.ID, Hash: o.Hash, Email: o.Email, IP: ip, FormID: o.FormID, FormType: o.FormType,
	})

	if e.settings.ReplayEnabled() {
		err := e.scope.Suppress(ctx, func(ctx context.Context) error {
			return a.SendConfirmationMail(ctx, o)
		})
		if err != nil {
			e.log.Error("replay notification", "id", o.ID, "err", err)
		}
	}
	return true, StatusConfirmed
}

// OptOut withdraws consent for the record behind hash.
func (e *Engine) OptOut(ctx context.Context, hash, ip string) (Status, error) {
	o, err := e.repo.FindByHash(ctx, hash)
	if err != nil {
		return StatusNotFound, err
	}
	if o.IsOptedOut() {
		return StatusAlreadyOptedOut, nil
	}
	if ip == "" {
		ip = domain.AnonymizedIP
	}
	o.OptOutTime = e.now().UTC()
	o.IPOptOut = ip
	if err := e.repo.Save(ctx, o); err != nil {
		return StatusPending, err
	}
	e.counters.Incr(ctx, telemetry.OptOuts)
	e.events.Dispatch(ctx, &events.OptInOptedOut{ID: o.ID, Hash: o.Hash, Email: o.Email, IP: ip})
	return StatusOptedOut, nil
}

// Resend mails the opt-in link of a pending record again.
func (e *Engine) Resend(ctx context.Context, hash string) (*domain.OptIn, error) {
	o, err := e.repo.FindByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if !o.IsPending() {
		return nil, fmt.Errorf("opt-in is not pending: %w", domain.ErrConflict)
	}
	a, p, fd, err := e.recordContext(o)
	if err != nil {
		return nil, err
	}
	if err := a.SendOptInMail(ctx, o, fd, p); err != nil {
		return nil, err
	}
	if err := e.repo.Save(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// SendReminder mails the one-time reminder and stamps the record.
func (e *Engine) SendReminder(ctx context.Context, o *domain.OptIn) error {
	if !o.IsPending() || o.HasReminder() {
		return fmt.Errorf("opt-in %s not eligible for reminder: %w", o.ID, domain.ErrConflict)
	}
	_, p, fd, err := e.recordContext(o)
	if err != nil {
		return err
	}
	subject := firstNonEmpty(p.ReminderSubject, e.settings.Reminder.Subject, p.Subject)
	body := firstNonEmpty(p.ReminderBody, e.settings.Reminder.Body, p.Body)
	msg := e.compose(o, fd, p, subject, body)
	if err := e.Deliver(ctx, events.MailReminder, o.Hash, msg); err != nil {
		return err
	}
	o.MailReminder = msg.HTML
	o.ReminderSentAt = e.now().UTC()
	if err := e.repo.Save(ctx, o); err != nil {
		return err
	}
	e.counters.Incr(ctx, telemetry.RemindersSent)
	return nil
}

// Delete removes a record and its stored files on admin request.
func (e *Engine) Delete(ctx context.Context, hash string) error {
	o, err := e.repo.FindByHash(ctx, hash)
	if err != nil {
		return err
	}
	e.RemoveFiles(ctx, o.Files)
	if err := e.repo.DeleteByHash(ctx, hash); err != nil {
		return err
	}
	e.events.Dispatch(ctx, &events.OptInDeleted{Type: events.SourceAdmin, Count: 1, Hash: hash})
	return nil
}

// recordContext resolves the adapter, form configuration and original submission of a record.
func (e *Engine) recordContext(o *domain.OptIn) (Adapter, domain.FormParameter, *domain.FormData, error) {
	a, ok := e.registry.ForRecord(o)
	if !ok {
		return nil, domain.FormParameter{}, nil, fmt.Errorf("no adapter for form type %q: %w", o.FormType, domain.ErrNotFound)
	}
	p, ok := a.FormParameter(o.FormID)
	if !ok {
		return nil, domain.FormParameter{}, nil, fmt.Errorf("form %s/%s: %w", o.FormType, o.FormID, domain.ErrNotFound)
	}
	fd, err := SubmissionOf(o)
	if err != nil {
		return nil, domain.FormParameter{}, nil, err
	}
	return a, p, fd, nil
}

// SubmissionOf rebuilds the normalized submission captured when the record was created.
func SubmissionOf(o *domain.OptIn) (*domain.FormData, error) {
	fd := domain.NewFormData(o.FormID, o.FormType, nil, nil, nil)
	if o.Content == "" {
		return fd.WithRecipientEmail(o.Email), nil
	}
	if err := json.Unmarshal([]byte(o.Content), fd); err != nil {
		return nil, fmt.Errorf("decode stored submission %s: %w", o.ID, err)
	}
	return fd, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
