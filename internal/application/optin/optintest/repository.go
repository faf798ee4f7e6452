// Package optintest provides in-memory doubles for the opt-in engine's
// collaborators.
package optintest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-doubleoptin/internal/application/optin"
	"github.com/go-doubleoptin/internal/domain"
	"github.com/go-doubleoptin/internal/pkg/token"
)

var _ optin.Repository = (*Repository)(nil)

// Repository is a mutex-guarded map store with the same confirmation
// semantics as the real stores. Set SaveErr to make writes fail.
type Repository struct {
	mu      sync.Mutex
	rows    map[string]domain.OptIn
	nextID  int
	SaveErr error
}

func NewRepository() *Repository {
	return &Repository{rows: make(map[string]domain.OptIn)}
}

// Len returns the number of stored records.
func (r *Repository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

// Put stores a record as-is, for test setup.
func (r *Repository) Put(o domain.OptIn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[o.ID] = o
}

func (r *Repository) FindByID(_ context.Context, id string) (*domain.OptIn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.rows[id]
	if !ok {
		return nil, fmt.Errorf("opt-in %s: %w", id, domain.ErrNotFound)
	}
	return &o, nil
}

func (r *Repository) FindByHash(_ context.Context, hash string) (*domain.OptIn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.rows {
		if o.Hash == hash {
			return &o, nil
		}
	}
	return nil, fmt.Errorf("opt-in hash: %w", domain.ErrNotFound)
}

func (r *Repository) filter(keep func(*domain.OptIn) bool) []domain.OptIn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []domain.OptIn{}
	for _, o := range r.rows {
		if keep(&o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return idLess(out[i].ID, out[j].ID) })
	return out
}

func idLess(a, b string) bool {
	x, errA := strconv.Atoi(a)
	y, errB := strconv.Atoi(b)
	if errA == nil && errB == nil {
		return x < y
	}
	return a < b
}

func (r *Repository) FindByEmail(_ context.Context, email string) ([]domain.OptIn, error) {
	return r.filter(func(o *domain.OptIn) bool { return o.Email == email }), nil
}

func (r *Repository) FindConfirmedByEmail(_ context.Context, email string) ([]domain.OptIn, error) {
	return r.filter(func(o *domain.OptIn) bool { return o.Email == email && o.Confirmed }), nil
}

func (r *Repository) FindUnconfirmedByEmail(_ context.Context, email string) ([]domain.OptIn, error) {
	return r.filter(func(o *domain.OptIn) bool { return o.Email == email && !o.Confirmed }), nil
}

func (r *Repository) FindByCategory(_ context.Context, category string, page, perPage int) (*domain.OptInPage, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	all := r.filter(func(o *domain.OptIn) bool { return category == "" || o.Category == category })
	sort.SliceStable(all, func(i, j int) bool { return idLess(all[j].ID, all[i].ID) })
	res := &domain.OptInPage{Items: []domain.OptIn{}, Total: len(all), Page: page, PerPage: perPage}
	if start := (page - 1) * perPage; start < len(all) {
		res.Items = all[start:min(start+perPage, len(all))]
	}
	return res, nil
}

func (r *Repository) CountByCategory(_ context.Context, category string) (int, error) {
	return len(r.filter(func(o *domain.OptIn) bool { return category == "" || o.Category == category })), nil
}

func (r *Repository) CountByFormID(_ context.Context, formID string) (int, error) {
	return len(r.filter(func(o *domain.OptIn) bool { return o.FormID == formID })), nil
}

func (r *Repository) Save(_ context.Context, o *domain.OptIn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.SaveErr != nil {
		return fmt.Errorf("save opt-in: %w", r.SaveErr)
	}
	now := time.Now().UTC()
	if o.IsNew() {
		r.nextID++
		id := strconv.Itoa(r.nextID)
		hash, err := token.NewOptInHash(id)
		if err != nil {
			return err
		}
		o.ID, o.Hash = id, hash
		if o.CreateTime.IsZero() {
			o.CreateTime = now
		}
		o.UpdateTime = now
		r.rows[id] = cloneOptIn(*o)
		return nil
	}
	cur, ok := r.rows[o.ID]
	if !ok || cur.Hash != o.Hash || (cur.Confirmed && !o.Confirmed) {
		return fmt.Errorf("update opt-in %s: %w", o.ID, domain.ErrConflict)
	}
	o.UpdateTime = now
	r.rows[o.ID] = cloneOptIn(*o)
	return nil
}

func (r *Repository) Confirm(_ context.Context, id, ip string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.SaveErr != nil {
		return fmt.Errorf("confirm opt-in: %w", r.SaveErr)
	}
	o, ok := r.rows[id]
	if !ok || o.Confirmed {
		return fmt.Errorf("confirm opt-in %s: %w", id, domain.ErrAlreadyConfirmed)
	}
	o.Confirmed, o.IPConfirmation, o.UpdateTime = true, ip, at
	r.rows[id] = o
	return nil
}

func (r *Repository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return fmt.Errorf("delete opt-in: %w", domain.ErrNotFound)
	}
	delete(r.rows, id)
	return nil
}

func (r *Repository) DeleteByHash(ctx context.Context, hash string) error {
	o, err := r.FindByHash(ctx, hash)
	if err != nil {
		return err
	}
	return r.Delete(ctx, o.ID)
}

func (r *Repository) BulkUpdateCategory(_ context.Context, from, to string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, o := range r.rows {
		if o.Category == from {
			o.Category = to
			r.rows[id] = o
			n++
		}
	}
	return n, nil
}

func (r *Repository) DeleteOlderThan(_ context.Context, before time.Time, confirmed bool) (int, []string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	var files []string
	for id, o := range r.rows {
		if o.Confirmed == confirmed && !o.CreateTime.IsZero() && o.CreateTime.Before(before) {
			files = append(files, o.Files...)
			delete(r.rows, id)
			n++
		}
	}
	return n, files, nil
}

func (r *Repository) FindEligibleForReminder(_ context.Context, now time.Time, delay, safetyFloor time.Duration, limit int) ([]domain.OptIn, error) {
	latest, earliest := now.Add(-delay), now.Add(-safetyFloor)
	out := r.filter(func(o *domain.OptIn) bool {
		return !o.Confirmed && !o.IsOptedOut() && !o.HasReminder() &&
			!o.CreateTime.Before(earliest) && !o.CreateTime.After(latest)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreateTime.Before(out[j].CreateTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Repository) ExistsByEmailAndFormID(_ context.Context, email, formID string, confirmedOnly bool) (bool, error) {
	found := r.filter(func(o *domain.OptIn) bool {
		return o.Email == email && o.FormID == formID && !o.IsOptedOut() && (!confirmedOnly || o.Confirmed)
	})
	return len(found) > 0, nil
}

func cloneOptIn(o domain.OptIn) domain.OptIn {
	if o.Files != nil {
		o.Files = append([]string{}, o.Files...)
	}
	return o
}
