package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// NotifyChannel is the LISTEN/NOTIFY channel fed by the messages trigger.
const NotifyChannel = "message_changes"

// Connect opens the database connection and runs migrations.
func Connect(ctx context.Context, dsn string, logger *slog.Logger) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations applied")

	return db, nil
}

func runMigrations(ctx context.Context, db *sqlx.DB) error {
	for i, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}

var migrations = []string{
	`CREATE EXTENSION IF NOT EXISTS pgcrypto;`,
	`CREATE TABLE IF NOT EXISTS profiles (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            display_name TEXT NOT NULL,
            avatar_url TEXT NOT NULL DEFAULT '',
            locale TEXT NOT NULL DEFAULT 'en',
            last_seen_at TIMESTAMPTZ
        );`,
	`CREATE INDEX IF NOT EXISTS profiles_display_name_idx ON profiles (lower(display_name));`,
	`CREATE TABLE IF NOT EXISTS conversations (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            pair_key TEXT NOT NULL UNIQUE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
	`CREATE TABLE IF NOT EXISTS conversation_participants (
            conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
            profile_id UUID NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
            PRIMARY KEY (conversation_id, profile_id)
        );`,
	`CREATE INDEX IF NOT EXISTS conversation_participants_profile_idx ON conversation_participants (profile_id);`,
	`CREATE TABLE IF NOT EXISTS messages (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            seq BIGSERIAL NOT NULL,
            conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
            sender_id UUID NOT NULL REFERENCES profiles(id),
            content TEXT NOT NULL DEFAULT '',
            media_url TEXT,
            media_type TEXT CHECK (media_type IN ('image', 'video', 'file', 'gif', 'profile')),
            latitude DOUBLE PRECISION,
            longitude DOUBLE PRECISION,
            read_at TIMESTAMPTZ,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
	`CREATE INDEX IF NOT EXISTS messages_conversation_created_idx ON messages (conversation_id, created_at, seq);`,
	`CREATE INDEX IF NOT EXISTS messages_unread_idx ON messages (conversation_id, sender_id) WHERE read_at IS NULL;`,
	// read_at may only move from NULL to a timestamp; every other column is frozen.
	`CREATE OR REPLACE FUNCTION guard_message_update() RETURNS trigger AS $$
        BEGIN
            IF OLD.read_at IS NOT NULL AND NEW.read_at IS DISTINCT FROM OLD.read_at THEN
                RAISE EXCEPTION 'read_at is already set for message %', OLD.id;
            END IF;
            IF NEW.id IS DISTINCT FROM OLD.id
                OR NEW.seq IS DISTINCT FROM OLD.seq
                OR NEW.conversation_id IS DISTINCT FROM OLD.conversation_id
                OR NEW.sender_id IS DISTINCT FROM OLD.sender_id
                OR NEW.content IS DISTINCT FROM OLD.content
                OR NEW.media_url IS DISTINCT FROM OLD.media_url
                OR NEW.media_type IS DISTINCT FROM OLD.media_type
                OR NEW.latitude IS DISTINCT FROM OLD.latitude
                OR NEW.longitude IS DISTINCT FROM OLD.longitude
                OR NEW.created_at IS DISTINCT FROM OLD.created_at THEN
                RAISE EXCEPTION 'message % is immutable', OLD.id;
            END IF;
            RETURN NEW;
        END;
        $$ LANGUAGE plpgsql;`,
	`DROP TRIGGER IF EXISTS messages_guard ON messages;`,
	`CREATE TRIGGER messages_guard BEFORE UPDATE ON messages
        FOR EACH ROW EXECUTE FUNCTION guard_message_update();`,
	`CREATE OR REPLACE FUNCTION notify_message_change() RETURNS trigger AS $$
        BEGIN
            IF TG_OP = 'INSERT' THEN
                UPDATE conversations SET updated_at = NEW.created_at WHERE id = NEW.conversation_id;
            END IF;
            PERFORM pg_notify('` + NotifyChannel + `', json_build_object(
                'op', TG_OP,
                'id', NEW.id,
                'conversation_id', NEW.conversation_id,
                'sender_id', NEW.sender_id
            )::text);
            RETURN NEW;
        END;
        $$ LANGUAGE plpgsql;`,
	`DROP TRIGGER IF EXISTS messages_notify ON messages;`,
	`CREATE TRIGGER messages_notify AFTER INSERT OR UPDATE ON messages
        FOR EACH ROW EXECUTE FUNCTION notify_message_change();`,
}
