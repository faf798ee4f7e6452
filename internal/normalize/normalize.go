// Package normalize maps the submission shapes of the supported form systems
// onto domain.FormData. The mappings are total: they never fail and never
// return nil, missing parts become empty values.
package normalize

import (
	"net/url"
	"strings"
	"time"

	"github.com/go-doubleoptin/internal/domain"
)

// Request carries the client data shared by every form system.
type Request struct {
	URL       string
	IP        string
	UserAgent string
	Title     string
	Timestamp time.Time
}

func (r Request) meta() map[string]any {
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return map[string]any{
		domain.MetaURL:       r.URL,
		domain.MetaIP:        r.IP,
		domain.MetaUserAgent: r.UserAgent,
		domain.MetaTitle:     r.Title,
		domain.MetaTimestamp: ts.UTC().Format(time.RFC3339),
	}
}

// CF7Submission is a Contact Form 7 post: the posted fields as parsed by
// net/http plus the temporary paths of uploaded files.
type CF7Submission struct {
	FormID   string
	Posted   url.Values
	Files    map[string][]string
	FormHTML string
	Request  Request
}

// cf7Internal are CF7 bookkeeping fields that never reach the record.
var cf7Internal = []string{"_wpcf7", "_wpnonce", "g-recaptcha-response", "_wpcf7_recaptcha_response"}

// FromCF7 maps a CF7 submission.
func FromCF7(s CF7Submission) *domain.FormData {
	fields := make(map[string]any, len(s.Posted))
	for name, values := range s.Posted {
		if hasAnyPrefix(name, cf7Internal) {
			continue
		}
		addField(fields, name, values)
	}
	return domain.NewFormData(s.FormID, "cf7", fields, cleanFiles(s.Files), s.Request.meta()).
		WithFormHTML(s.FormHTML)
}

// AvadaSubmission is an Avada (Fusion) form post. Avada sends the whole form
// URL-encoded in a single formData parameter.
type AvadaSubmission struct {
	FormID   string
	FormData string
	Files    map[string][]string
	Request  Request
}

// avadaInternal are Avada bookkeeping keys.
var avadaInternal = []string{
	"fusion_privacy_store_ip_ua", "fusion_privacy_expiration_interval", "privacy_expiration_action",
	"fusion-form-nonce", "fusion-fields-hold-private-data", "fusion_form_id", "form_id",
	"post_id", "field_labels", "field_types", "hidden_field_names", "g-recaptcha-response",
}

// FromAvada maps an Avada submission. A blob that does not parse yields
// the fields decoded up to the error.
func FromAvada(s AvadaSubmission) *domain.FormData {
	values, _ := url.ParseQuery(s.FormData)
	formID := s.FormID
	if formID == "" {
		formID = firstValue(values, "form_id", "fusion_form_id")
	}
	fields := make(map[string]any, len(values))
	for name, vals := range values {
		if hasAnyPrefix(name, avadaInternal) {
			continue
		}
		addField(fields, name, vals)
	}
	return domain.NewFormData(formID, "avada", fields, cleanFiles(s.Files), s.Request.meta())
}

// addField stores a posted value. Names ending in [] always become lists and
// lose the suffix; a repeated plain name becomes a list as well.
func addField(fields map[string]any, name string, values []string) {
	list := strings.HasSuffix(name, "[]")
	name = strings.TrimSuffix(name, "[]")
	if name == "" {
		return
	}
	if prev, ok := fields[name]; ok {
		switch p := prev.(type) {
		case []string:
			values = append(append([]string{}, p...), values...)
		case string:
			values = append([]string{p}, values...)
		}
		list = true
	}
	switch {
	case list:
		fields[name] = append([]string{}, values...)
	case len(values) == 0:
		fields[name] = ""
	case len(values) == 1:
		fields[name] = values[0]
	default:
		fields[name] = append([]string{}, values...)
	}
}

func cleanFiles(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for name, paths := range in {
		name = strings.TrimSuffix(name, "[]")
		for _, p := range paths {
			if strings.TrimSpace(p) != "" {
				out[name] = append(out[name], p)
			}
		}
	}
	return out
}

func hasAnyPrefix(name string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func firstValue(values url.Values, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(values.Get(k)); v != "" {
			return v
		}
	}
	return ""
}

