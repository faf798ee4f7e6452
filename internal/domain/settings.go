package domain

import "time"

// Settings are the global double opt-in options shared by every form.
type Settings struct {
	RetentionConfirmed   Retention `yaml:"retention_confirmed" json:"retention_confirmed"`
	RetentionUnconfirmed Retention `yaml:"retention_unconfirmed" json:"retention_unconfirmed"`
	Reminder             Reminder  `yaml:"reminder" json:"reminder"`

	OptOutPage string `yaml:"optout_page" json:"optout_page" validate:"omitempty,url"`
	// PlaceholderMapping maps standard placeholders (e.g. "firstname") to form field names.
	PlaceholderMapping map[string]string `yaml:"placeholder_mapping" json:"placeholder_mapping"`
	AllowedMIMETypes   []string          `yaml:"allowed_mime_types" json:"allowed_mime_types"`
	MaxUploadBytes     int64             `yaml:"max_upload_bytes" json:"max_upload_bytes" validate:"gte=0"`

	ShowDetailedErrors  bool   `yaml:"show_detailed_errors" json:"show_detailed_errors"`
	ErrorRedirectPage   string `yaml:"error_redirect_page" json:"error_redirect_page" validate:"omitempty,url"`
	ErrorSlotTTLSeconds int    `yaml:"error_slot_ttl_seconds" json:"error_slot_ttl_seconds" validate:"gte=0"`
	// ReplayOnConfirm releases the withheld notification after confirmation; unset means on.
	ReplayOnConfirm *bool `yaml:"replay_on_confirm" json:"replay_on_confirm"`

	DateFormat string `yaml:"date_format" json:"date_format"`
	TimeFormat string `yaml:"time_format" json:"time_format"`
	Timezone   string `yaml:"timezone" json:"timezone"`

	// Layouts maps template keys to liquid layouts wrapping the mail body.
	Layouts map[string]string `yaml:"layouts" json:"layouts"`
}

// Reminder configures the one-time reminder mail.
type Reminder struct {
	Enabled          bool   `yaml:"enabled" json:"enabled"`
	DelayHours       int    `yaml:"delay_hours" json:"delay_hours" validate:"gte=0"`
	SafetyFloorHours int    `yaml:"safety_floor_hours" json:"safety_floor_hours" validate:"gte=0"`
	Limit            int    `yaml:"limit" json:"limit" validate:"gte=0"`
	Subject          string `yaml:"subject" json:"subject"`
	Body             string `yaml:"body" json:"body"`
}

// DefaultAllowedMIMETypes is used when the configuration lists none.
var DefaultAllowedMIMETypes = []string{
	"image/jpeg", "image/png", "image/gif", "image/webp",
	"application/pdf", "text/plain", "text/csv",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/zip",
}

// ErrorSlotTTL returns the toast error slot lifetime.
func (s Settings) ErrorSlotTTL() time.Duration {
	if s.ErrorSlotTTLSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(s.ErrorSlotTTLSeconds) * time.Second
}

// ReplayEnabled reports whether confirmations release the withheld notification.
func (s Settings) ReplayEnabled() bool {
	return s.ReplayOnConfirm == nil || *s.ReplayOnConfirm
}

// Location returns the configured timezone, falling back to UTC.
func (s Settings) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// WithDefaults fills empty options.
func (s Settings) WithDefaults() Settings {
	if s.DateFormat == "" {
		s.DateFormat = "2006-01-02"
	}
	if s.TimeFormat == "" {
		s.TimeFormat = "15:04"
	}
	if len(s.AllowedMIMETypes) == 0 {
		s.AllowedMIMETypes = append([]string(nil), DefaultAllowedMIMETypes...)
	}
	if s.MaxUploadBytes == 0 {
		s.MaxUploadBytes = 10 << 20
	}
	if s.Reminder.Limit == 0 {
		s.Reminder.Limit = 50
	}
	if s.PlaceholderMapping == nil {
		s.PlaceholderMapping = map[string]string{}
	}
	return s
}
