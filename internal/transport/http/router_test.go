package http

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-doubleoptin/internal/application/errorslot"
	"github.com/go-doubleoptin/internal/application/gdpr"
	"github.com/go-doubleoptin/internal/application/optin"
	"github.com/go-doubleoptin/internal/application/optin/optintest"
	"github.com/go-doubleoptin/internal/application/ratelimit"
	"github.com/go-doubleoptin/internal/application/session"
	"github.com/go-doubleoptin/internal/application/telemetry"
	"github.com/go-doubleoptin/internal/config"
	"github.com/go-doubleoptin/internal/domain"
	"github.com/go-doubleoptin/internal/events"
	"github.com/go-doubleoptin/internal/infrastructure/cache"
	jwtinfra "github.com/go-doubleoptin/internal/infrastructure/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestRouter(t *testing.T) (http.Handler, *jwtinfra.Provider) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	jwtp := jwtinfra.NewProviderFromKeys(key, &key.PublicKey, time.Hour, "https://optin.example.com")

	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)

	store := cache.NewMemory()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := optintest.NewRepository()
	files := optintest.NewFileStore()
	counters := telemetry.New(store)
	registry := optin.NewRegistry()
	engine := optin.NewEngine(optin.Deps{
		Repo:     repo,
		Files:    files,
		Limiter:  ratelimit.New(store),
		Events:   events.NewDispatcher(quiet),
		Counters: counters,
		Mailer:   &optintest.Mailer{},
		Registry: registry,
		BaseURL:  "https://optin.example.com",
		Log:      quiet,
	})
	require.NoError(t, registry.Register(optintest.NewAdapter("cf7", engine)))

	cfg := &config.Config{AllowedOrigins: []string{"*"}}
	return NewRouter(cfg, &Deps{
		Engine:   engine,
		Repo:     repo,
		Slots:    errorslot.New(store, 0),
		Counters: counters,
		GDPR:     gdpr.NewService(repo, files, quiet),
		Sessions: session.NewService([]domain.Admin{{Username: "admin", PasswordHash: string(hash)}}, jwtp),
		Verifier: jwtp,
		Log:      quiet,
	}), jwtp
}

func serve(h http.Handler, method, target, body, bearer string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouter_HealthCheck(t *testing.T) {
	h, _ := newTestRouter(t)
	rec := serve(h, http.MethodGet, "/v1/health-check/ping", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_AdminRequiresToken(t *testing.T) {
	h, _ := newTestRouter(t)
	rec := serve(h, http.MethodGet, "/v1/admin/optins", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_LoginThenList(t *testing.T) {
	h, _ := newTestRouter(t)

	rec := serve(h, http.MethodPost, "/v1/admin/sessions", `{"username":"admin","password":"secret"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var res session.LoginResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	require.NotEmpty(t, res.Bearer)
	assert.Equal(t, domain.RoleAdmin, res.Role)

	rec = serve(h, http.MethodGet, "/v1/admin/optins", "", res.Bearer)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(h, http.MethodPost, "/v1/admin/sessions", `{"username":"admin","password":"nope"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_AdminRejectsOtherRoles(t *testing.T) {
	h, jwtp := newTestRouter(t)
	tok, _, err := jwtp.Sign("viewer", "viewer")
	require.NoError(t, err)

	rec := serve(h, http.MethodGet, "/v1/admin/telemetry", "", tok)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRouter_PublicLinks(t *testing.T) {
	h, _ := newTestRouter(t)
	rec := serve(h, http.MethodGet, "/v1/optin?optin=unknown", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(h, http.MethodGet, "/v1/optin/error", "", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
