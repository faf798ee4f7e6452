package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// FormData is the normalized, immutable view of one form submission.
// Field values are always string or []string. Every With* method returns a copy.
type FormData struct {
	formID         string
	formType       string
	fields         map[string]any
	files          map[string][]string
	meta           map[string]any
	recipientEmail string
	formHTML       string
}

// Meta keys written by the normalizers.
const (
	MetaURL       = "url"
	MetaTimestamp = "timestamp"
	MetaIP        = "ip"
	MetaUserAgent = "user_agent"
	MetaTitle     = "title"
)

// NewFormData builds a FormData. Nil maps become empty ones.
func NewFormData(formID, formType string, fields map[string]any, files map[string][]string, meta map[string]any) *FormData {
	return &FormData{
		formID:   formID,
		formType: formType,
		fields:   normalizeFields(fields),
		files:    copyFiles(files),
		meta:     copyMeta(meta),
	}
}

func (f *FormData) FormID() string         { return f.formID }
func (f *FormData) FormType() string       { return f.formType }
func (f *FormData) RecipientEmail() string { return f.recipientEmail }
func (f *FormData) FormHTML() string       { return f.formHTML }

// Fields returns a copy of the submitted fields.
func (f *FormData) Fields() map[string]any { return copyFields(f.fields) }

// Files returns a copy of the uploaded file paths keyed by field name.
func (f *FormData) Files() map[string][]string { return copyFiles(f.files) }

// Meta returns a copy of the submission metadata.
func (f *FormData) Meta() map[string]any { return copyMeta(f.meta) }

// Field returns the value of a single field.
func (f *FormData) Field(name string) (any, bool) {
	v, ok := f.fields[name]
	if !ok {
		return nil, false
	}
	if list, isList := v.([]string); isList {
		return append([]string{}, list...), true
	}
	return v, true
}

// FieldString returns a field as text; list values are joined with ", ".
func (f *FormData) FieldString(name string) string {
	v, ok := f.fields[name]
	if !ok {
		return ""
	}
	return valueString(v)
}

// MetaString returns a metadata value as text.
func (f *FormData) MetaString(key string) string {
	v, ok := f.meta[key]
	if !ok || v == nil {
		return ""
	}
	if s, isStr := v.(string); isStr {
		return s
	}
	return fmt.Sprint(v)
}

// HasFiles reports whether any field carries at least one file.
func (f *FormData) HasFiles() bool {
	for _, list := range f.files {
		if len(list) > 0 {
			return true
		}
	}
	return false
}

func (f *FormData) clone() *FormData {
	return &FormData{
		formID:         f.formID,
		formType:       f.formType,
		fields:         copyFields(f.fields),
		files:          copyFiles(f.files),
		meta:           copyMeta(f.meta),
		recipientEmail: f.recipientEmail,
		formHTML:       f.formHTML,
	}
}

func (f *FormData) WithField(name string, value any) *FormData {
	c := f.clone()
	c.fields[name] = normalizeValue(value)
	return c
}

func (f *FormData) WithFields(fields map[string]any) *FormData {
	c := f.clone()
	c.fields = normalizeFields(fields)
	return c
}

func (f *FormData) WithFiles(files map[string][]string) *FormData {
	c := f.clone()
	c.files = copyFiles(files)
	return c
}

func (f *FormData) WithMeta(key string, value any) *FormData {
	c := f.clone()
	c.meta[key] = value
	return c
}

func (f *FormData) WithRecipientEmail(email string) *FormData {
	c := f.clone()
	c.recipientEmail = strings.TrimSpace(email)
	return c
}

func (f *FormData) WithFormHTML(html string) *FormData {
	c := f.clone()
	c.formHTML = html
	return c
}

// ToMap exports the value object as plain maps for serialization.
func (f *FormData) ToMap() map[string]any {
	return map[string]any{
		"formId":         f.formID,
		"formType":       f.formType,
		"fields":         copyFields(f.fields),
		"files":          copyFiles(f.files),
		"meta":           copyMeta(f.meta),
		"recipientEmail": f.recipientEmail,
		"formHtml":       f.formHTML,
	}
}

// FormDataFromMap rebuilds a FormData from ToMap output, including maps that
// went through a JSON round trip. It never fails; unknown shapes become empty values.
func FormDataFromMap(m map[string]any) *FormData {
	fd := &FormData{
		formID:         asString(m["formId"]),
		formType:       asString(m["formType"]),
		fields:         map[string]any{},
		files:          map[string][]string{},
		meta:           map[string]any{},
		recipientEmail: asString(m["recipientEmail"]),
		formHTML:       asString(m["formHtml"]),
	}
	if fields, ok := m["fields"].(map[string]any); ok {
		fd.fields = normalizeFields(fields)
	}
	switch files := m["files"].(type) {
	case map[string][]string:
		fd.files = copyFiles(files)
	case map[string]any:
		for k, v := range files {
			fd.files[k] = asStringList(v)
		}
	}
	if meta, ok := m["meta"].(map[string]any); ok {
		fd.meta = copyMeta(meta)
	}
	return fd
}

func (f *FormData) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.ToMap())
}

func (f *FormData) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	*f = *FormDataFromMap(m)
	return nil
}

// SortedFieldNames returns the field names in lexical order.
func (f *FormData) SortedFieldNames() []string {
	names := make([]string, 0, len(f.fields))
	for k := range f.fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func normalizeFields(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []string:
		return append([]string{}, t...)
	case []any:
		return asStringList(t)
	default:
		return fmt.Sprint(t)
	}
}

func valueString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []string:
		return strings.Join(t, ", ")
	default:
		return fmt.Sprint(t)
	}
}

func asString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func asStringList(v any) []string {
	switch t := v.(type) {
	case []string:
		return append([]string{}, t...)
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, asString(item))
		}
		return out
	case string:
		return []string{t}
	default:
		return []string{}
	}
}

func copyFields(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if list, ok := v.([]string); ok {
			out[k] = append([]string{}, list...)
			continue
		}
		out[k] = v
	}
	return out
}

func copyFiles(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for k, v := range in {
		out[k] = append([]string{}, v...)
	}
	return out
}

func copyMeta(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
