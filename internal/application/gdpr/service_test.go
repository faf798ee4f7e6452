package gdpr

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/go-doubleoptin/internal/application/optin/optintest"
	"github.com/go-doubleoptin/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var created = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func seed(t *testing.T) (*Service, *optintest.Repository, *optintest.FileStore) {
	t.Helper()
	repo := optintest.NewRepository()
	files := optintest.NewFileStore()
	require.NoError(t, files.Put(context.Background(), "optins/a.pdf", strings.NewReader("x"), "application/pdf"))
	repo.Put(domain.OptIn{
		ID: "7", Hash: "h7", FormID: "42", Category: "news", Confirmed: true, Email: "user@example.com",
		IPRegister: "203.0.113.7", IPConfirmation: "198.51.100.1", ConsentText: "I agree",
		Content: `{"fields":{}}`, Form: "<form>", MailOptIn: "body", Files: []string{"optins/a.pdf"},
		CreateTime: created, UpdateTime: created.Add(time.Hour),
	})
	repo.Put(domain.OptIn{ID: "8", Hash: "h8", FormID: "42", Email: "other@example.com", CreateTime: created})
	return NewService(repo, files, nil), repo, files
}

func TestExport_CSV(t *testing.T) {
	svc, _, _ := seed(t)
	recs, err := svc.Export(context.Background(), "user@example.com")
	require.NoError(t, err)
	require.Len(t, recs, 1)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatCSV, recs))
	out := buf.String()
	require.True(t, strings.HasPrefix(out, "\ufeff"))

	rows, err := csv.NewReader(strings.NewReader(strings.TrimPrefix(out, "\ufeff"))).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, []string{
		"7", "user@example.com", "42", "true", "false", "I agree",
		"2026-01-02T03:04:05Z", "203.0.113.7", "2026-01-02T04:04:05Z", "198.51.100.1", "", "", "h7",
	}, rows[1])
}

func TestExport_JSON(t *testing.T) {
	svc, _, _ := seed(t)
	recs, err := svc.Export(context.Background(), "other@example.com")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatJSON, recs))
	assert.Contains(t, buf.String(), "\n  {\n")

	var decoded []Record
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "8", decoded[0].ID)
	assert.Empty(t, decoded[0].ConfirmationDate)
}

func TestExport_Errors(t *testing.T) {
	svc, _, _ := seed(t)
	_, err := svc.Export(context.Background(), " ")
	assert.ErrorIs(t, err, domain.ErrBadRequest)
	assert.ErrorIs(t, Write(&bytes.Buffer{}, "xml", nil), domain.ErrBadRequest)

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, nil))
	assert.Equal(t, "[]\n", buf.String())
}

func TestErase_KeepsConsentProof(t *testing.T) {
	svc, repo, files := seed(t)

	n, err := svc.Erase(context.Background(), "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	o, err := repo.FindByID(context.Background(), "7")
	require.NoError(t, err)
	assert.Regexp(t, `^anonymized-7@deleted\.invalid$`, o.Email)
	assert.Equal(t, "0.0.0.0", o.IPRegister)
	assert.Equal(t, "0.0.0.0", o.IPConfirmation)
	assert.True(t, o.Confirmed)
	assert.Equal(t, "I agree", o.ConsentText)
	assert.Equal(t, created, o.CreateTime)
	assert.Equal(t, "h7", o.Hash)
	assert.Equal(t, "42", o.FormID)
	assert.Equal(t, "news", o.Category)
	assert.Empty(t, o.Content)
	assert.Empty(t, o.Form)
	assert.Empty(t, o.MailOptIn)
	assert.Empty(t, o.Files)
	assert.Empty(t, files.Keys())

	recs, err := svc.Export(context.Background(), "user@example.com")
	require.NoError(t, err)
	assert.Empty(t, recs)

	other, _ := repo.FindByID(context.Background(), "8")
	assert.Equal(t, "other@example.com", other.Email)
}
