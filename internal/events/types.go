package events

import (
	"github.com/go-doubleoptin/internal/domain"
)

// FormSubmission fires before an opt-in record is created. Listeners may
// replace the form data or cancel the submission.
type FormSubmission struct {
	Propagation
	FormData     *domain.FormData `json:"form_data"`
	cancelled    bool
	cancelReason string
}

func (*FormSubmission) Name() string { return "doubleoptin_form_submission" }

func (e *FormSubmission) SetFormData(fd *domain.FormData) { e.FormData = fd }

// Cancel aborts the opt-in creation and stops propagation.
func (e *FormSubmission) Cancel(reason string) {
	e.cancelled = true
	e.cancelReason = reason
	e.StopPropagation()
}

func (e *FormSubmission) IsCancelled() bool    { return e.cancelled }
func (e *FormSubmission) CancelReason() string { return e.cancelReason }

// OptInCreated fires after a pending record was persisted.
type OptInCreated struct {
	ID       string         `json:"id"`
	FormID   string         `json:"form_id"`
	FormType string         `json:"form_type"`
	Email    string         `json:"email"`
	Hash     string         `json:"hash"`
	Fields   map[string]any `json:"fields"`
}

func (*OptInCreated) Name() string { return "doubleoptin_optin_created" }

// OptInConfirmed fires after the confirmed flag was written.
type OptInConfirmed struct {
	ID       string `json:"id"`
	Hash     string `json:"hash"`
	Email    string `json:"email"`
	IP       string `json:"ip"`
	FormID   string `json:"form_id"`
	FormType string `json:"form_type"`
}

func (*OptInConfirmed) Name() string { return "doubleoptin_optin_confirmed" }

// Cleanup and deletion sources.
const (
	SourceConfirmed   = "confirmed"
	SourceUnconfirmed = "unconfirmed"
	SourceAdmin       = "admin"
	SourceValidation  = "validation"
)

// OptInDeleted reports removed records.
type OptInDeleted struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
	Hash  string `json:"hash,omitempty"`
}

func (*OptInDeleted) Name() string { return "doubleoptin_optin_deleted" }

// OptInExpired reports unconfirmed records that ran out of time, either swept
// by the scheduler or detected when a stale link was visited.
type OptInExpired struct {
	CleanupType string `json:"cleanup_type"`
	Count       int    `json:"count"`
	Hash        string `json:"hash,omitempty"`
}

func (*OptInExpired) Name() string { return "doubleoptin_optin_expired" }

// OptInOptedOut fires when a recipient withdraws consent.
type OptInOptedOut struct {
	ID    string `json:"id"`
	Hash  string `json:"hash"`
	Email string `json:"email"`
	IP    string `json:"ip"`
}

func (*OptInOptedOut) Name() string { return "doubleoptin_optin_optedout" }

// Mail kinds.
const (
	MailOptIn        = "optin"
	MailReminder     = "reminder"
	MailNotification = "notification"
)

// MailPreparing fires before any outgoing mail. Listeners may rewrite the
// message or cancel the send.
type MailPreparing struct {
	Propagation
	Kind      string            `json:"kind"`
	To        string            `json:"to"`
	Subject   string            `json:"subject"`
	Body      string            `json:"body"`
	Headers   map[string]string `json:"headers"`
	cancelled bool
}

func (*MailPreparing) Name() string { return "doubleoptin_mail_preparing" }

func (e *MailPreparing) Cancel() {
	e.cancelled = true
	e.StopPropagation()
}

func (e *MailPreparing) IsCancelled() bool { return e.cancelled }

// MailSent fires after the transport accepted a message.
type MailSent struct {
	Kind    string `json:"kind"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Hash    string `json:"hash,omitempty"`
}

func (*MailSent) Name() string { return "doubleoptin_mail_sent" }

// ReminderSent reports one reminder sweep.
type ReminderSent struct {
	Count  int      `json:"count"`
	Hashes []string `json:"hashes"`
}

func (*ReminderSent) Name() string { return "doubleoptin_reminder_sent" }

// RateLimited fires when a submission was rejected by a rate limit.
type RateLimited struct {
	Type       string `json:"type"`
	Identifier string `json:"identifier"`
	FormID     string `json:"form_id"`
	FormType   string `json:"form_type"`
}

func (*RateLimited) Name() string { return "doubleoptin_rate_limited" }
