package optin

import (
	"context"
	"io"
	"time"

	"github.com/go-doubleoptin/internal/domain"
)

// Repository persists opt-in records. Not-found lookups return an error
// wrapping domain.ErrNotFound, failed writes wrap domain.ErrPersistence.
type Repository interface {
	FindByID(ctx context.Context, id string) (*domain.OptIn, error)
	FindByHash(ctx context.Context, hash string) (*domain.OptIn, error)
	FindByEmail(ctx context.Context, email string) ([]domain.OptIn, error)
	FindConfirmedByEmail(ctx context.Context, email string) ([]domain.OptIn, error)
	FindUnconfirmedByEmail(ctx context.Context, email string) ([]domain.OptIn, error)
	FindByCategory(ctx context.Context, category string, page, perPage int) (*domain.OptInPage, error)
	CountByCategory(ctx context.Context, category string) (int, error)
	CountByFormID(ctx context.Context, formID string) (int, error)

	// Save inserts when the ID is empty, assigning ID and hash, and updates otherwise.
	Save(ctx context.Context, o *domain.OptIn) error
	// Confirm sets the confirmed flag only if it is still unset. Otherwise it
	// returns domain.ErrAlreadyConfirmed.
	Confirm(ctx context.Context, id, ip string, at time.Time) error
	Delete(ctx context.Context, id string) error
	DeleteByHash(ctx context.Context, hash string) error
	BulkUpdateCategory(ctx context.Context, from, to string) (int, error)
	// DeleteOlderThan returns the number of deleted records and the file keys
	// they referenced.
	DeleteOlderThan(ctx context.Context, before time.Time, confirmed bool) (int, []string, error)
	FindEligibleForReminder(ctx context.Context, now time.Time, delay, safetyFloor time.Duration, limit int) ([]domain.OptIn, error)
	ExistsByEmailAndFormID(ctx context.Context, email, formID string, confirmedOnly bool) (bool, error)
}

// FileStore keeps uploaded attachments until the notification was replayed.
type FileStore interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}
