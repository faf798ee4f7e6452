package domain

import (
	"strings"
	"time"
)

// Condition values for FormParameter.Condition.
const ConditionDisabled = "disabled"

// RateLimit holds one attempt threshold. MaxAttempts <= 0 disables the limit.
type RateLimit struct {
	MaxAttempts   int `yaml:"max_attempts" json:"max_attempts" validate:"gte=0"`
	WindowSeconds int `yaml:"window_seconds" json:"window_seconds" validate:"gte=0"`
}

// Window returns the limit's window as a duration.
func (r RateLimit) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// FormParameter is the double opt-in configuration of one form.
type FormParameter struct {
	FormID           string    `yaml:"form_id" json:"form_id" validate:"required"`
	FormType         string    `yaml:"form_type" json:"form_type" validate:"required"`
	Title            string    `yaml:"title" json:"title"`
	Enabled          bool      `yaml:"enabled" json:"enabled"`
	SenderEmail      string    `yaml:"sender_email" json:"sender_email" validate:"omitempty,email"`
	SenderName       string    `yaml:"sender_name" json:"sender_name"`
	Subject          string    `yaml:"subject" json:"subject"`
	Body             string    `yaml:"body" json:"body"`
	Recipient        string    `yaml:"recipient" json:"recipient"`
	ConfirmationPage string    `yaml:"confirmation_page" json:"confirmation_page" validate:"omitempty,url"`
	Condition        string    `yaml:"condition" json:"condition"`
	Template         string    `yaml:"template" json:"template"`
	Category         string    `yaml:"category" json:"category"`
	ConsentText      string    `yaml:"consent_text" json:"consent_text"`
	TokenExpiryHours int       `yaml:"token_expiry_hours" json:"token_expiry_hours" validate:"gte=0"`
	IPLimit          RateLimit `yaml:"ip_limit" json:"ip_limit"`
	EmailLimit       RateLimit `yaml:"email_limit" json:"email_limit"`
	UniqueEmail      bool      `yaml:"unique_email" json:"unique_email"`
	CheckMX          bool      `yaml:"check_mx" json:"check_mx"`
	ReminderSubject  string    `yaml:"reminder_subject" json:"reminder_subject"`
	ReminderBody     string    `yaml:"reminder_body" json:"reminder_body"`

	// Notification is the withheld mail that is released after confirmation.
	Notification NotificationMail `yaml:"notification" json:"notification"`
	// Fields maps field names to their labels for the admin views.
	Fields map[string]string `yaml:"fields" json:"fields"`
}

// NotificationMail is the form's original notification, held back until confirmation.
type NotificationMail struct {
	To      string `yaml:"to" json:"to"`
	From    string `yaml:"from" json:"from"`
	Subject string `yaml:"subject" json:"subject"`
	Body    string `yaml:"body" json:"body"`
	ReplyTo string `yaml:"reply_to" json:"reply_to"`
}

// RecipientField returns the field name when Recipient is a [field] reference.
func (p FormParameter) RecipientField() (string, bool) {
	r := strings.TrimSpace(p.Recipient)
	if len(r) > 2 && strings.HasPrefix(r, "[") && strings.HasSuffix(r, "]") {
		return r[1 : len(r)-1], true
	}
	return "", false
}

// ConditionMet evaluates the dynamic enable condition against the submitted fields:
// an empty condition always passes, "disabled" never does, anything else names a
// field that must be non-empty.
func (p FormParameter) ConditionMet(fd *FormData) bool {
	c := strings.TrimSpace(p.Condition)
	switch c {
	case "":
		return true
	case ConditionDisabled:
		return false
	}
	return strings.TrimSpace(fd.FieldString(c)) != ""
}

// Retention is a value+unit window, e.g. {3, "months"}.
type Retention struct {
	Value int    `yaml:"value" json:"value" validate:"gte=0"`
	Unit  string `yaml:"unit" json:"unit" validate:"omitempty,oneof=hours days weeks months years"`
}

// Duration converts the retention to a duration. Zero means keep forever.
func (r Retention) Duration() time.Duration {
	if r.Value <= 0 {
		return 0
	}
	day := 24 * time.Hour
	var unit time.Duration
	switch r.Unit {
	case "hours":
		unit = time.Hour
	case "weeks":
		unit = 7 * day
	case "months":
		unit = 30 * day
	case "years":
		unit = 365 * day
	default:
		unit = day
	}
	return time.Duration(r.Value) * unit
}
