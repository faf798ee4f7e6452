package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleFormData() *FormData {
	return NewFormData("42", "cf7",
		map[string]any{"your-email": "user@example.com", "topics": []string{"a", "b"}, "age": 30},
		map[string][]string{"upload": {"/tmp/x.pdf"}},
		map[string]any{MetaIP: "1.2.3.4", MetaURL: "https://example.com/contact"},
	).WithRecipientEmail(" user@example.com ")
}

func TestFormData_NormalizesValues(t *testing.T) {
	fd := sampleFormData()
	assert.Equal(t, "30", fd.FieldString("age"))
	assert.Equal(t, "a, b", fd.FieldString("topics"))
	assert.Equal(t, "user@example.com", fd.RecipientEmail())
	assert.Equal(t, "", fd.FieldString("missing"))
}

func TestFormData_WithReturnsCopy(t *testing.T) {
	orig := sampleFormData()
	changed := orig.WithField("your-email", "other@example.com")

	assert.Equal(t, "user@example.com", orig.FieldString("your-email"))
	assert.Equal(t, "other@example.com", changed.FieldString("your-email"))

	fields := orig.Fields()
	fields["your-email"] = "mutated"
	assert.Equal(t, "user@example.com", orig.FieldString("your-email"))

	files := orig.Files()
	files["upload"][0] = "mutated"
	assert.Equal(t, []string{"/tmp/x.pdf"}, orig.Files()["upload"])
}

func TestFormData_MapRoundTrip(t *testing.T) {
	orig := sampleFormData()
	back := FormDataFromMap(orig.ToMap())

	assert.Equal(t, orig.FormID(), back.FormID())
	assert.Equal(t, orig.Fields(), back.Fields())
	assert.Equal(t, orig.Files(), back.Files())
	assert.Equal(t, orig.RecipientEmail(), back.RecipientEmail())
}

func TestFormData_JSONRoundTrip(t *testing.T) {
	orig := sampleFormData().WithFormHTML("<form></form>")
	b, err := json.Marshal(orig)
	require.NoError(t, err)

	var back FormData
	require.NoError(t, json.Unmarshal(b, &back))

	assert.Equal(t, orig.FormID(), back.FormID())
	assert.Equal(t, orig.FormType(), back.FormType())
	assert.Equal(t, orig.Fields(), back.Fields())
	assert.Equal(t, orig.Files(), back.Files())
	assert.Equal(t, orig.RecipientEmail(), back.RecipientEmail())
	assert.Equal(t, "<form></form>", back.FormHTML())
	assert.Equal(t, "1.2.3.4", back.MetaString(MetaIP))
}

func TestFormDataFromMap_Total(t *testing.T) {
	fd := FormDataFromMap(map[string]any{"fields": "garbage", "files": 12})
	require.NotNil(t, fd)
	assert.Empty(t, fd.Fields())
	assert.Empty(t, fd.Files())
	assert.False(t, fd.HasFiles())
}

func TestFormParameter_RecipientField(t *testing.T) {
	field, ok := FormParameter{Recipient: "[your-email]"}.RecipientField()
	assert.True(t, ok)
	assert.Equal(t, "your-email", field)

	_, ok = FormParameter{Recipient: "admin@example.com"}.RecipientField()
	assert.False(t, ok)
}

func TestFormParameter_ConditionMet(t *testing.T) {
	fd := NewFormData("1", "cf7", map[string]any{"newsletter": "yes", "empty": ""}, nil, nil)

	assert.True(t, FormParameter{}.ConditionMet(fd))
	assert.False(t, FormParameter{Condition: ConditionDisabled}.ConditionMet(fd))
	assert.True(t, FormParameter{Condition: "newsletter"}.ConditionMet(fd))
	assert.False(t, FormParameter{Condition: "empty"}.ConditionMet(fd))
}
