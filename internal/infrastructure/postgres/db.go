// Package postgres is the relational opt-in store.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Open connects to databaseURL and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Schema creates the optins table. Times are RFC 3339 UTC text, '' when unset.
const Schema = `
CREATE TABLE IF NOT EXISTS optins (
	id                  BIGSERIAL PRIMARY KEY,
	cf_form_id          TEXT NOT NULL DEFAULT '',
	form_type           TEXT NOT NULL DEFAULT '',
	doubleoptin         SMALLINT NOT NULL DEFAULT 0,
	content             TEXT NOT NULL DEFAULT '',
	files               TEXT[] NOT NULL DEFAULT '{}',
	hash                TEXT UNIQUE,
	ipaddr_register     TEXT NOT NULL DEFAULT '',
	ipaddr_confirmation TEXT NOT NULL DEFAULT '',
	ipaddr_optout       TEXT NOT NULL DEFAULT '',
	createtime          TEXT NOT NULL DEFAULT '',
	updatetime          TEXT NOT NULL DEFAULT '',
	optouttime          TEXT NOT NULL DEFAULT '',
	category            TEXT NOT NULL DEFAULT '',
	email               TEXT NOT NULL DEFAULT '',
	form                TEXT NOT NULL DEFAULT '',
	mail_optin          TEXT NOT NULL DEFAULT '',
	consent_text        TEXT NOT NULL DEFAULT '',
	reminder_sent_at    TEXT NOT NULL DEFAULT '',
	mail_reminder       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS optins_email_idx ON optins (email);
CREATE INDEX IF NOT EXISTS optins_category_idx ON optins (category);
CREATE INDEX IF NOT EXISTS optins_form_idx ON optins (cf_form_id);
CREATE INDEX IF NOT EXISTS optins_createtime_idx ON optins (doubleoptin, createtime);
`

// Migrate applies Schema. It is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate optins: %w", err)
	}
	return nil
}
