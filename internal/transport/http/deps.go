package http

import (
	"log/slog"

	"github.com/go-doubleoptin/internal/application/cleanup"
	"github.com/go-doubleoptin/internal/application/errorslot"
	"github.com/go-doubleoptin/internal/application/gdpr"
	"github.com/go-doubleoptin/internal/application/optin"
	"github.com/go-doubleoptin/internal/application/session"
	"github.com/go-doubleoptin/internal/application/telemetry"
	"github.com/go-doubleoptin/internal/transport/http/handler"
	"github.com/go-doubleoptin/internal/transport/http/middleware"
)

// Deps holds everything the router needs. Adapters are taken from the
// engine's registry.
type Deps struct {
	Engine   *optin.Engine
	Repo     optin.Repository
	Slots    *errorslot.Slots
	Counters *telemetry.Counters
	GDPR     *gdpr.Service
	Sessions session.Service
	// Verifier checks admin bearer tokens. Nil leaves the admin API and login unmounted.
	Verifier middleware.TokenVerifier
	// Worker is optional; without it the manual cleanup trigger answers 503.
	Worker *cleanup.Worker
	Checks map[string]handler.Check
	Log    *slog.Logger
}
