package domain

import "time"

// OptIn is one double opt-in record. Hash is the external bearer token and never
// changes once the store assigned it; Confirmed only ever moves from false to true.
type OptIn struct {
	ID             string    `json:"id"`
	FormID         string    `json:"form_id"`
	FormType       string    `json:"form_type"`
	Category       string    `json:"category,omitempty"`
	Confirmed      bool      `json:"confirmed"`
	Content        string    `json:"content"`
	Files          []string  `json:"files"`
	Hash           string    `json:"hash"`
	IPRegister     string    `json:"ip_register"`
	IPConfirmation string    `json:"ip_confirmation"`
	IPOptOut       string    `json:"ip_optout"`
	Email          string    `json:"email"`
	Form           string    `json:"form"`
	MailOptIn      string    `json:"mail_optin"`
	MailReminder   string    `json:"mail_reminder"`
	ConsentText    string    `json:"consent_text"`
	CreateTime     time.Time `json:"created"`
	UpdateTime     time.Time `json:"updated"`
	OptOutTime     time.Time `json:"optout_time"`
	ReminderSentAt time.Time `json:"reminder_sent_at"`
}

// IsNew reports whether the record has not been persisted yet.
func (o *OptIn) IsNew() bool { return o.ID == "" }

// IsOptedOut is true once an opt-out was recorded, whether or not the record
// had been confirmed before.
func (o *OptIn) IsOptedOut() bool {
	return !o.OptOutTime.IsZero() && o.IPOptOut != ""
}

// IsPending reports an unconfirmed record that has not opted out.
func (o *OptIn) IsPending() bool {
	return !o.Confirmed && !o.IsOptedOut()
}

// Age is the time elapsed since the record was created.
func (o *OptIn) Age(now time.Time) time.Duration {
	return now.Sub(o.CreateTime)
}

// IsExpired reports whether the token is older than the given window.
// A non-positive window disables expiry.
func (o *OptIn) IsExpired(now time.Time, hours int) bool {
	if hours <= 0 {
		return false
	}
	return o.Age(now) > time.Duration(hours)*time.Hour
}

// HasReminder reports whether a reminder was already sent.
func (o *OptIn) HasReminder() bool { return !o.ReminderSentAt.IsZero() }

// Anonymize strips personal data while keeping the consent proof
// (id, hash, timestamps, confirmed flag, consent text, form id and category).
func (o *OptIn) Anonymize() {
	o.Email = AnonymizedEmail(o.ID)
	o.IPRegister = AnonymizedIP
	o.IPConfirmation = AnonymizedIP
	o.IPOptOut = AnonymizedIP
	o.Content = ""
	o.Form = ""
	o.MailOptIn = ""
	o.MailReminder = ""
	o.Files = nil
}

// AnonymizedIP replaces every stored IP address on erasure.
const AnonymizedIP = "0.0.0.0"

// AnonymizedEmail returns the deterministic placeholder address for a record id.
func AnonymizedEmail(id string) string {
	return "anonymized-" + id + "@deleted.invalid"
}

// OptInPage is one page of records plus the total count.
type OptInPage struct {
	Items   []OptIn `json:"data"`
	Total   int     `json:"total"`
	Page    int     `json:"actual_page"`
	PerPage int     `json:"per_page"`
}
