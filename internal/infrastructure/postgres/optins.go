package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/go-doubleoptin/internal/domain"
	"github.com/go-doubleoptin/internal/pkg/token"
	"github.com/lib/pq"
)

const columns = `id, cf_form_id, form_type, doubleoptin, content, files, COALESCE(hash, ''),
	ipaddr_register, ipaddr_confirmation, ipaddr_optout, createtime, updatetime, optouttime,
	category, email, form, mail_optin, consent_text, reminder_sent_at, mail_reminder`

const notOptedOut = `NOT (optouttime <> '' AND ipaddr_optout <> '')`

// OptInRepo stores opt-in records in the optins table.
type OptInRepo struct {
	db  *sql.DB
	now func() time.Time
}

func NewOptInRepo(db *sql.DB) *OptInRepo {
	return &OptInRepo{db: db, now: time.Now}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOptIn(s scanner) (*domain.OptIn, error) {
	var o domain.OptIn
	var rowID int64
	var confirmed int
	var files []string
	var created, updated, optOut, reminded string
	err := s.Scan(&rowID, &o.FormID, &o.FormType, &confirmed, &o.Content, pq.Array(&files), &o.Hash,
		&o.IPRegister, &o.IPConfirmation, &o.IPOptOut, &created, &updated, &optOut,
		&o.Category, &o.Email, &o.Form, &o.MailOptIn, &o.ConsentText, &reminded, &o.MailReminder)
	if err != nil {
		return nil, err
	}
	o.ID = strconv.FormatInt(rowID, 10)
	o.Confirmed = confirmed == 1
	o.Files = files
	if o.Files == nil {
		o.Files = []string{}
	}
	o.CreateTime, o.UpdateTime = parseTime(created), parseTime(updated)
	o.OptOutTime, o.ReminderSentAt = parseTime(optOut), parseTime(reminded)
	return &o, nil
}

func (r *OptInRepo) queryOne(ctx context.Context, where string, args ...any) (*domain.OptIn, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+columns+" FROM optins WHERE "+where, args...)
	o, err := scanOptIn(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("opt-in: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load opt-in: %w", err)
	}
	return o, nil
}

func (r *OptInRepo) queryMany(ctx context.Context, query string, args ...any) ([]domain.OptIn, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query opt-ins: %w", err)
	}
	defer rows.Close()

	res := []domain.OptIn{}
	for rows.Next() {
		o, err := scanOptIn(rows)
		if err != nil {
			return nil, fmt.Errorf("scan opt-in: %w", err)
		}
		res = append(res, *o)
	}
	return res, rows.Err()
}

func (r *OptInRepo) FindByID(ctx context.Context, optInID string) (*domain.OptIn, error) {
	n, err := strconv.ParseInt(optInID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("opt-in %q: %w", optInID, domain.ErrNotFound)
	}
	return r.queryOne(ctx, "id = $1", n)
}

func (r *OptInRepo) FindByHash(ctx context.Context, hash string) (*domain.OptIn, error) {
	return r.queryOne(ctx, "hash = $1", hash)
}

func (r *OptInRepo) FindByEmail(ctx context.Context, email string) ([]domain.OptIn, error) {
	return r.queryMany(ctx, "SELECT "+columns+" FROM optins WHERE email = $1 ORDER BY id", email)
}

func (r *OptInRepo) FindConfirmedByEmail(ctx context.Context, email string) ([]domain.OptIn, error) {
	return r.queryMany(ctx, "SELECT "+columns+" FROM optins WHERE email = $1 AND doubleoptin = 1 ORDER BY id", email)
}

func (r *OptInRepo) FindUnconfirmedByEmail(ctx context.Context, email string) ([]domain.OptIn, error) {
	return r.queryMany(ctx, "SELECT "+columns+" FROM optins WHERE email = $1 AND doubleoptin = 0 ORDER BY id", email)
}

// FindByCategory pages through a category, newest first. An empty category
// lists every record.
func (r *OptInRepo) FindByCategory(ctx context.Context, category string, page, perPage int) (*domain.OptInPage, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	total, err := r.CountByCategory(ctx, category)
	if err != nil {
		return nil, err
	}
	items, err := r.queryMany(ctx,
		"SELECT "+columns+" FROM optins WHERE ($1 = '' OR category = $1) ORDER BY id DESC LIMIT $2 OFFSET $3",
		category, perPage, (page-1)*perPage)
	if err != nil {
		return nil, err
	}
	return &domain.OptInPage{Items: items, Total: total, Page: page, PerPage: perPage}, nil
}

func (r *OptInRepo) CountByCategory(ctx context.Context, category string) (int, error) {
	return r.count(ctx, "SELECT COUNT(*) FROM optins WHERE ($1 = '' OR category = $1)", category)
}

func (r *OptInRepo) CountByFormID(ctx context.Context, formID string) (int, error) {
	return r.count(ctx, "SELECT COUNT(*) FROM optins WHERE cf_form_id = $1", formID)
}

func (r *OptInRepo) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count opt-ins: %w", err)
	}
	return n, nil
}

// Save inserts a record without an ID or updates an existing one. The insert
// assigns id and hash in one transaction. An update from a copy that still
// reads unconfirmed is rejected once the stored row is confirmed.
func (r *OptInRepo) Save(ctx context.Context, o *domain.OptIn) error {
	now := r.now().UTC()
	if o.IsNew() {
		return r.insert(ctx, o, now)
	}
	n, err := strconv.ParseInt(o.ID, 10, 64)
	if err != nil {
		return fmt.Errorf("update opt-in %q: %w", o.ID, errors.Join(domain.ErrPersistence, domain.ErrNotFound))
	}
	res, err := r.db.ExecContext(ctx, `UPDATE optins SET
		cf_form_id = $3, form_type = $4, doubleoptin = GREATEST(doubleoptin, $5), content = $6, files = $7,
		ipaddr_register = $8, ipaddr_confirmation = $9, ipaddr_optout = $10, updatetime = $11,
		optouttime = $12, category = $13, email = $14, form = $15, mail_optin = $16,
		consent_text = $17, reminder_sent_at = $18, mail_reminder = $19
		WHERE id = $1 AND hash = $2 AND (doubleoptin = 0 OR $5 = 1)`,
		n, o.Hash, o.FormID, o.FormType, boolToInt(o.Confirmed), o.Content, pq.Array(nonNil(o.Files)),
		o.IPRegister, o.IPConfirmation, o.IPOptOut, formatTime(now),
		formatTime(o.OptOutTime), o.Category, o.Email, o.Form, o.MailOptIn,
		o.ConsentText, formatTime(o.ReminderSentAt), o.MailReminder)
	if err != nil {
		return fmt.Errorf("update opt-in %s: %w", o.ID, errors.Join(domain.ErrPersistence, err))
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("update opt-in %s: %w", o.ID, errors.Join(domain.ErrPersistence, domain.ErrConflict))
	}
	o.UpdateTime = now
	return nil
}

func (r *OptInRepo) insert(ctx context.Context, o *domain.OptIn, now time.Time) (err error) {
	created := o.CreateTime
	if created.IsZero() {
		created = now
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert opt-in: %w", errors.Join(domain.ErrPersistence, err))
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var rowID int64
	err = tx.QueryRowContext(ctx, `INSERT INTO optins (
		cf_form_id, form_type, doubleoptin, content, files, ipaddr_register, ipaddr_confirmation,
		ipaddr_optout, createtime, updatetime, optouttime, category, email, form, mail_optin,
		consent_text, reminder_sent_at, mail_reminder
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	RETURNING id`,
		o.FormID, o.FormType, boolToInt(o.Confirmed), o.Content, pq.Array(nonNil(o.Files)), o.IPRegister,
		o.IPConfirmation, o.IPOptOut, formatTime(created), formatTime(now), formatTime(o.OptOutTime),
		o.Category, o.Email, o.Form, o.MailOptIn, o.ConsentText, formatTime(o.ReminderSentAt), o.MailReminder,
	).Scan(&rowID)
	if err != nil {
		return fmt.Errorf("insert opt-in: %w", errors.Join(domain.ErrPersistence, err))
	}

	newID := strconv.FormatInt(rowID, 10)
	hash, err := token.NewOptInHash(newID)
	if err != nil {
		return fmt.Errorf("insert opt-in: %w", errors.Join(domain.ErrPersistence, err))
	}
	if _, err = tx.ExecContext(ctx, "UPDATE optins SET hash = $1 WHERE id = $2", hash, rowID); err != nil {
		return fmt.Errorf("assign opt-in hash: %w", errors.Join(domain.ErrPersistence, err))
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit opt-in: %w", errors.Join(domain.ErrPersistence, err))
	}

	o.ID, o.Hash = newID, hash
	o.CreateTime, o.UpdateTime = parseTime(formatTime(created)), now
	return nil
}

// Confirm flips doubleoptin from 0 to 1. Losing the race yields ErrAlreadyConfirmed.
func (r *OptInRepo) Confirm(ctx context.Context, optInID, ip string, at time.Time) error {
	n, err := strconv.ParseInt(optInID, 10, 64)
	if err != nil {
		return fmt.Errorf("confirm opt-in %q: %w", optInID, domain.ErrNotFound)
	}
	res, err := r.db.ExecContext(ctx,
		"UPDATE optins SET doubleoptin = 1, ipaddr_confirmation = $2, updatetime = $3 WHERE id = $1 AND doubleoptin = 0",
		n, ip, formatTime(at))
	if err != nil {
		return fmt.Errorf("confirm opt-in %s: %w", optInID, errors.Join(domain.ErrPersistence, err))
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("confirm opt-in %s: %w", optInID, domain.ErrAlreadyConfirmed)
	}
	return nil
}

func (r *OptInRepo) Delete(ctx context.Context, optInID string) error {
	n, err := strconv.ParseInt(optInID, 10, 64)
	if err != nil {
		return fmt.Errorf("delete opt-in %q: %w", optInID, domain.ErrNotFound)
	}
	return r.exec(ctx, "delete opt-in", "DELETE FROM optins WHERE id = $1", n)
}

func (r *OptInRepo) DeleteByHash(ctx context.Context, hash string) error {
	return r.exec(ctx, "delete opt-in", "DELETE FROM optins WHERE hash = $1", hash)
}

func (r *OptInRepo) exec(ctx context.Context, op, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, errors.Join(domain.ErrPersistence, err))
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	return nil
}

func (r *OptInRepo) BulkUpdateCategory(ctx context.Context, from, to string) (int, error) {
	return r.execCount(ctx, "move category", "UPDATE optins SET category = $2 WHERE category = $1", from, to)
}

func (r *OptInRepo) DeleteOlderThan(ctx context.Context, before time.Time, confirmed bool) (int, []string, error) {
	rows, err := r.db.QueryContext(ctx,
		"DELETE FROM optins WHERE doubleoptin = $1 AND createtime <> '' AND createtime < $2 RETURNING files",
		boolToInt(confirmed), formatTime(before))
	if err != nil {
		return 0, nil, fmt.Errorf("delete old opt-ins: %w", errors.Join(domain.ErrPersistence, err))
	}
	defer rows.Close()

	n := 0
	var keys []string
	for rows.Next() {
		var files []string
		if err := rows.Scan(pq.Array(&files)); err != nil {
			return n, keys, fmt.Errorf("delete old opt-ins: %w", err)
		}
		keys = append(keys, files...)
		n++
	}
	if err := rows.Err(); err != nil {
		return n, keys, fmt.Errorf("delete old opt-ins: %w", errors.Join(domain.ErrPersistence, err))
	}
	return n, keys, nil
}

func (r *OptInRepo) execCount(ctx context.Context, op, query string, args ...any) (int, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, errors.Join(domain.ErrPersistence, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(n), nil
}

// FindEligibleForReminder returns unconfirmed, not opted-out records without a
// reminder whose age lies between delay and safetyFloor, oldest first.
func (r *OptInRepo) FindEligibleForReminder(ctx context.Context, now time.Time, delay, safetyFloor time.Duration, limit int) ([]domain.OptIn, error) {
	if limit <= 0 {
		limit = math.MaxInt32
	}
	return r.queryMany(ctx, "SELECT "+columns+" FROM optins WHERE doubleoptin = 0 AND "+notOptedOut+
		" AND reminder_sent_at = '' AND createtime >= $1 AND createtime <= $2 ORDER BY createtime LIMIT $3",
		formatTime(now.Add(-safetyFloor)), formatTime(now.Add(-delay)), limit)
}

// ExistsByEmailAndFormID ignores opted-out records.
func (r *OptInRepo) ExistsByEmailAndFormID(ctx context.Context, email, formID string, confirmedOnly bool) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM optins WHERE email = $1 AND cf_form_id = $2 AND "+
		notOptedOut+" AND ($3 = FALSE OR doubleoptin = 1))", email, formID, confirmedOnly).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check opt-in email: %w", err)
	}
	return exists, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
