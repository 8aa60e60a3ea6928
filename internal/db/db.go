package db

import (
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Connect initializes the database connection and runs migrations.
func Connect(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

func runMigrations(db *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS outbox_events (
            id BIGINT PRIMARY KEY,
            aggregate_type TEXT NOT NULL,
            aggregate_id TEXT NOT NULL,
            event_type TEXT NOT NULL,
            payload JSONB NOT NULL DEFAULT '{}',
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            published_at TIMESTAMPTZ,
            retry_count INT NOT NULL DEFAULT 0
        );`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_unpublished
            ON outbox_events (id) WHERE published_at IS NULL;`,
		`CREATE TABLE IF NOT EXISTS server_members (
            server_id BIGINT NOT NULL,
            user_id BIGINT NOT NULL,
            joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            PRIMARY KEY (server_id, user_id)
        );`,
		`CREATE TABLE IF NOT EXISTS messages (
            id BIGINT PRIMARY KEY,
            server_id BIGINT NOT NULL,
            channel_id BIGINT NOT NULL,
            author_id BIGINT NOT NULL,
            content TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		`CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages (channel_id, id DESC);`,
		`CREATE TABLE IF NOT EXISTS attachments (
            id BIGINT PRIMARY KEY,
            server_id BIGINT NOT NULL,
            channel_id BIGINT NOT NULL,
            uploader_id BIGINT NOT NULL,
            object_key TEXT NOT NULL,
            filename TEXT NOT NULL,
            content_type TEXT NOT NULL,
            size_bytes BIGINT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            scanning_started_at TIMESTAMPTZ,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            deleted_at TIMESTAMPTZ
        );`,
		`CREATE INDEX IF NOT EXISTS idx_attachments_status
            ON attachments (status, created_at) WHERE deleted_at IS NULL;`,
		`CREATE TABLE IF NOT EXISTS message_attachments (
            message_id BIGINT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
            attachment_id BIGINT NOT NULL REFERENCES attachments(id),
            position INT NOT NULL DEFAULT 0,
            PRIMARY KEY (message_id, attachment_id)
        );`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	log.Println("database migrations applied")
	return nil
}
