package errorslot

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/go-doubleoptin/internal/infrastructure/cache"
)

// Slots park one user-facing error per client so the page can fetch it after
// the form's own response. A slot is read at most once.
type Slots struct {
	store cache.Store
	ttl   time.Duration
}

func New(store cache.Store, ttl time.Duration) *Slots {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Slots{store: store, ttl: ttl}
}

// Fingerprint identifies a client by IP and user agent.
func Fingerprint(ip, userAgent string) string {
	sum := md5.Sum([]byte(ip + "|" + userAgent))
	return hex.EncodeToString(sum[:])
}

func key(fp string) string { return "doi_error_" + fp }

func (s *Slots) Put(ctx context.Context, fingerprint, message string) {
	if err := s.store.Set(ctx, key(fingerprint), message, s.ttl); err != nil {
		slog.Warn("could not store error slot", "err", err)
	}
}

// Take returns and clears the pending message, if any.
func (s *Slots) Take(ctx context.Context, fingerprint string) (string, bool) {
	msg, ok, err := s.store.Take(ctx, key(fingerprint))
	if err != nil {
		slog.Warn("could not read error slot", "err", err)
		return "", false
	}
	return msg, ok
}
