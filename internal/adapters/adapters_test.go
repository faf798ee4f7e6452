package adapters_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-doubleoptin/internal/adapters"
	"github.com/go-doubleoptin/internal/adapters/avada"
	"github.com/go-doubleoptin/internal/adapters/cf7"
	"github.com/go-doubleoptin/internal/application/errorslot"
	"github.com/go-doubleoptin/internal/application/optin"
	"github.com/go-doubleoptin/internal/application/optin/optintest"
	"github.com/go-doubleoptin/internal/application/ratelimit"
	"github.com/go-doubleoptin/internal/application/telemetry"
	"github.com/go-doubleoptin/internal/domain"
	"github.com/go-doubleoptin/internal/events"
	"github.com/go-doubleoptin/internal/infrastructure/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	router *chi.Mux
	repo   *optintest.Repository
	files  *optintest.FileStore
	mailer *optintest.Mailer
	slots  *errorslot.Slots
}

func newEnv(t *testing.T, settings domain.Settings, forms ...domain.FormParameter) *env {
	t.Helper()
	e := &env{
		repo:   optintest.NewRepository(),
		files:  optintest.NewFileStore(),
		mailer: &optintest.Mailer{},
	}
	store := cache.NewMemory()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	e.slots = errorslot.New(store, 0)
	registry := optin.NewRegistry()
	engine := optin.NewEngine(optin.Deps{
		Repo:     e.repo,
		Files:    e.files,
		Limiter:  ratelimit.New(store),
		Events:   events.NewDispatcher(quiet),
		Counters: telemetry.New(store),
		Mailer:   e.mailer,
		Registry: registry,
		Settings: settings,
		BaseURL:  "https://optin.example.com",
		Log:      quiet,
	})
	byType := map[string]map[string]domain.FormParameter{}
	for _, f := range forms {
		if byType[f.FormType] == nil {
			byType[f.FormType] = map[string]domain.FormParameter{}
		}
		byType[f.FormType][f.FormID] = f
	}
	require.NoError(t, registry.Register(cf7.New(adapters.NewBase(cf7.Identifier, engine, byType[cf7.Identifier], e.slots, quiet))))
	require.NoError(t, registry.Register(avada.New(adapters.NewBase(avada.Identifier, engine, byType[avada.Identifier], e.slots, quiet))))

	e.router = chi.NewRouter()
	for _, a := range registry.Available() {
		a.RegisterHooks(e.router)
	}
	return e
}

func cf7Form() domain.FormParameter {
	return domain.FormParameter{
		FormID:    "42",
		FormType:  cf7.Identifier,
		Enabled:   true,
		Subject:   "Confirm",
		Body:      "Click [doubleoptinlink]",
		Recipient: "[your-email]",
		Notification: domain.NotificationMail{
			To:      "office@example.com",
			Subject: "Contact from [your-name]",
		},
	}
}

func post(e *env, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "test-agent")
	req.RemoteAddr = "203.0.113.7:5555"
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) adapters.SubmitResponse {
	t.Helper()
	var resp adapters.SubmitResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestCF7_CreatesPendingOptIn(t *testing.T) {
	e := newEnv(t, domain.Settings{}, cf7Form())

	rec := post(e, "/forms/cf7/42/submit", url.Values{
		"your-name":  {"Ada"},
		"your-email": {"ada@example.com"},
		"_wpcf7":     {"42"},
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, adapters.StatusMailSent, resp.Status)
	assert.Equal(t, adapters.MsgCheckInbox, resp.Message)

	list, err := e.repo.FindByEmail(context.Background(), "ada@example.com")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "cf7", list[0].FormType)
	assert.Equal(t, "203.0.113.7", list[0].IPRegister)
	assert.NotContains(t, list[0].Content, "_wpcf7")

	sent := e.mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "ada@example.com", sent[0].To)
}

func TestCF7_UnknownForm(t *testing.T) {
	e := newEnv(t, domain.Settings{}, cf7Form())
	rec := post(e, "/forms/cf7/999/submit", url.Values{"your-email": {"ada@example.com"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Zero(t, e.repo.Len())
}

func TestCF7_DisabledFormForwardsNotification(t *testing.T) {
	form := cf7Form()
	form.Enabled = false
	e := newEnv(t, domain.Settings{}, form)

	rec := post(e, "/forms/cf7/42/submit", url.Values{"your-name": {"Ada"}, "your-email": {"ada@example.com"}})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, adapters.MsgSent, decode(t, rec).Message)
	assert.Zero(t, e.repo.Len())
	sent := e.mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "office@example.com", sent[0].To)
	assert.Equal(t, "Contact from Ada", sent[0].Subject)
}

func TestCF7_ConditionNotMetForwards(t *testing.T) {
	form := cf7Form()
	form.Condition = "newsletter"
	e := newEnv(t, domain.Settings{}, form)

	post(e, "/forms/cf7/42/submit", url.Values{"your-email": {"ada@example.com"}})
	assert.Zero(t, e.repo.Len())

	post(e, "/forms/cf7/42/submit", url.Values{"your-email": {"ada@example.com"}, "newsletter": {"1"}})
	assert.Equal(t, 1, e.repo.Len())
}

func TestCF7_DetailedErrors(t *testing.T) {
	e := newEnv(t, domain.Settings{ShowDetailedErrors: true}, cf7Form())

	rec := post(e, "/forms/cf7/42/submit", url.Values{"your-name": {"Ada"}})

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, string(domain.CodeNoRecipient), resp.Code)
	assert.Equal(t, domain.CodeNoRecipient.DefaultMessage(), resp.Message)
}

func TestCF7_GenericErrorParksMessage(t *testing.T) {
	e := newEnv(t, domain.Settings{ErrorRedirectPage: "https://example.com/oops"}, cf7Form())

	rec := post(e, "/forms/cf7/42/submit", url.Values{"your-email": {"not-an-address"}})

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, adapters.StatusMailSent, resp.Status)
	assert.Equal(t, "https://example.com/oops", resp.Redirect)

	msg, ok := e.slots.Take(context.Background(), errorslot.Fingerprint("203.0.113.7", "test-agent"))
	require.True(t, ok)
	assert.NotEmpty(t, msg)
	_, ok = e.slots.Take(context.Background(), errorslot.Fingerprint("203.0.113.7", "test-agent"))
	assert.False(t, ok)
}

func TestCF7_DuplicateEmailIsNotRevealed(t *testing.T) {
	form := cf7Form()
	form.UniqueEmail = true
	e := newEnv(t, domain.Settings{ErrorRedirectPage: "https://example.com/oops"}, form)
	e.repo.Put(domain.OptIn{ID: "100", Hash: "h", FormID: "42", FormType: "cf7", Email: "ada@example.com", Confirmed: true})

	rec := post(e, "/forms/cf7/42/submit", url.Values{"your-email": {"ada@example.com"}})

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, adapters.MsgCheckInbox, resp.Message)
	assert.Empty(t, resp.Redirect)
	_, ok := e.slots.Take(context.Background(), errorslot.Fingerprint("203.0.113.7", "test-agent"))
	assert.False(t, ok)
	assert.Equal(t, 1, e.repo.Len())
}

func TestCF7_MultipartUploadIsStored(t *testing.T) {
	e := newEnv(t, domain.Settings{}, cf7Form())
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("your-email", "ada@example.com"))
	fw, err := mw.CreateFormFile("cv", "my cv.pdf")
	require.NoError(t, err)
	_, err = fw.Write([]byte("%PDF-1.4\n%âãÏÓ\n1 0 obj\n<<>>\nendobj\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/forms/cf7/42/submit", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	keys := e.files.Keys()
	require.Len(t, keys, 1)
	assert.Regexp(t, `^optins/[0-9a-f]{32}\.pdf$`, keys[0])
	list, _ := e.repo.FindByEmail(context.Background(), "ada@example.com")
	require.Len(t, list, 1)
	assert.Equal(t, keys, list[0].Files)
}

func TestAvada_ParsesBlobAndFindsEmailField(t *testing.T) {
	form := domain.FormParameter{
		FormID: "1337", FormType: avada.Identifier, Enabled: true,
		Subject: "Confirm", Body: "[doubleoptinlink]",
	}
	e := newEnv(t, domain.Settings{}, form)
	blob := url.Values{"name": {"Grace"}, "your_email": {"grace@example.com"}, "fusion-form-nonce-1337": {"x"}}.Encode()

	rec := post(e, "/forms/avada/submit", url.Values{"form_id": {"1337"}, "formData": {blob}})

	assert.Equal(t, http.StatusOK, rec.Code)
	list, err := e.repo.FindByEmail(context.Background(), "grace@example.com")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "avada", list[0].FormType)
	assert.NotContains(t, list[0].Content, "fusion-form-nonce")
}

func TestAvada_ConfiguredRecipientIsNotGuessed(t *testing.T) {
	a := avada.New(adapters.NewBase(avada.Identifier, nil, nil, nil, nil))
	fd := domain.NewFormData("1", "avada", map[string]any{"email": "x@example.com"}, nil, nil)

	assert.Equal(t, "x@example.com", a.ResolveRecipient(fd, domain.FormParameter{}))
	assert.Empty(t, a.ResolveRecipient(fd, domain.FormParameter{Recipient: "[other]"}))
	assert.False(t, a.IsAvailable())
}

func TestBase_ConfirmationReplay(t *testing.T) {
	e := newEnv(t, domain.Settings{}, cf7Form())
	post(e, "/forms/cf7/42/submit", url.Values{"your-name": {"Ada"}, "your-email": {"ada@example.com"}})
	list, _ := e.repo.FindByEmail(context.Background(), "ada@example.com")
	require.Len(t, list, 1)

	base := adapters.NewBase(cf7.Identifier, nil, map[string]domain.FormParameter{}, nil, nil)
	err := base.SendConfirmationMail(context.Background(), &list[0])
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBase_LoggerTagsAdapterOnce(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	base := adapters.NewBase(cf7.Identifier, nil, nil, nil, log)

	base.Logger().Info("submitted")
	assert.Equal(t, 1, strings.Count(buf.String(), "adapter=cf7"))
}
