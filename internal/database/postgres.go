// Package database opens the configured storage backend and prepares its
// schema and indexes.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// schema is applied in order on every start; each statement is idempotent.
// The users table belongs to the identity service and is created here only
// so a fresh database can serve reads.
var schema = []string{
	`CREATE EXTENSION IF NOT EXISTS postgis`,

	`CREATE TABLE IF NOT EXISTS users (
		id          UUID PRIMARY KEY,
		name        VARCHAR(255) NOT NULL,
		email       VARCHAR(255) NOT NULL UNIQUE,
		role        VARCHAR(20)  NOT NULL DEFAULT 'sailor',
		vessel_name VARCHAR(255),
		vessel_type VARCHAR(100),
		is_active   BOOLEAN      NOT NULL DEFAULT TRUE,
		created_at  TIMESTAMPTZ  NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS reports (
		id           UUID PRIMARY KEY,
		type         VARCHAR(20)  NOT NULL CHECK (type IN ('hotspot', 'pollution')),
		location     GEOGRAPHY(Point, 4326) NOT NULL,
		title        VARCHAR(100) NOT NULL CHECK (length(btrim(title)) > 0),
		description  VARCHAR(1000) NOT NULL CHECK (length(btrim(description)) > 0),
		species      VARCHAR(100),
		severity     VARCHAR(20)  NOT NULL DEFAULT 'medium'
		             CHECK (severity IN ('low', 'medium', 'high', 'critical')),
		image_url    TEXT,
		submitted_by UUID         NOT NULL,
		vessel_name  VARCHAR(255) NOT NULL DEFAULT '',
		vessel_type  VARCHAR(100) NOT NULL DEFAULT '',
		is_active    BOOLEAN      NOT NULL DEFAULT TRUE,
		created_at   TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
		updated_at   TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
		CONSTRAINT reports_species_matches_type CHECK (
			(type = 'hotspot' AND species IS NOT NULL AND length(btrim(species)) > 0)
			OR (type = 'pollution' AND species IS NULL)
		)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reports_location ON reports USING GIST (location)`,
	`CREATE INDEX IF NOT EXISTS idx_reports_type_severity ON reports (type, severity)`,
	`CREATE INDEX IF NOT EXISTS idx_reports_submitted_by_created_at ON reports (submitted_by, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS outbox_messages (
		id           UUID PRIMARY KEY,
		routing_key  VARCHAR(100) NOT NULL,
		payload      JSONB        NOT NULL,
		status       VARCHAR(20)  NOT NULL DEFAULT 'pending',
		retry_count  INT          NOT NULL DEFAULT 0,
		last_error   TEXT,
		created_at   TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
		published_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox_messages (created_at) WHERE status = 'pending'`,
}

// OpenPostgres opens a pool and waits for the server to answer.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// MigratePostgres applies the schema inside one transaction.
func MigratePostgres(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d: %w", i+1, err)
		}
	}
	return tx.Commit()
}
