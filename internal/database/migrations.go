package database

import (
	"fmt"
	"log/slog"
)

// ChangesChannel is the LISTEN/NOTIFY channel row triggers publish to
const ChangesChannel = "festtix_changes"

func (db *DB) RunMigrations() error {
	slog.Info("Running database migrations...")

	for i, migration := range Migrations() {
		slog.Info("Running migration", "step", i+1)
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	slog.Info("All migrations completed successfully")
	return nil
}

// Migrations returns the ordered schema statements
func Migrations() []string {
	return []string{
		createExtensions,
		createProfilesTable,
		createEventsTable,
		createTicketsTable,
		createActivityTable,
		createNotificationsTable,
		createCounterFunctions,
		createBookTicketFunction,
		createChangeTrigger,
		createEventsStartIndex,
	}
}

const createExtensions = `
CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`

const createProfilesTable = `
CREATE TABLE IF NOT EXISTS profiles (
    id TEXT PRIMARY KEY,
    email VARCHAR(255),
    name VARCHAR(200) NOT NULL,
    role VARCHAR(20) NOT NULL DEFAULT 'user',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CHECK (role IN ('user', 'admin'))
);`

// tickets_booked has no upper bound check: overselling is guarded only by
// book_ticket when the server guard is enabled.
const createEventsTable = `
CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY DEFAULT uuid_generate_v4()::text,
    title VARCHAR(300) NOT NULL,
    category VARCHAR(50) NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    event_date TIMESTAMPTZ NOT NULL,
    venue VARCHAR(200) NOT NULL DEFAULT '',
    capacity INTEGER NOT NULL,
    tickets_booked INTEGER NOT NULL DEFAULT 0,
    duration VARCHAR(50) NOT NULL DEFAULT '',
    emoji VARCHAR(16) NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CONSTRAINT events_capacity_check CHECK (capacity > 0),
    CONSTRAINT events_tickets_booked_check CHECK (tickets_booked >= 0)
);`

const createTicketsTable = `
CREATE TABLE IF NOT EXISTS tickets (
    id TEXT PRIMARY KEY DEFAULT uuid_generate_v4()::text,
    ticket_code VARCHAR(40) NOT NULL,
    user_id TEXT NOT NULL,
    event_id TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
    status VARCHAR(20) NOT NULL DEFAULT 'confirmed',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CONSTRAINT tickets_ticket_code_key UNIQUE (ticket_code),
    CONSTRAINT tickets_event_id_user_id_key UNIQUE (event_id, user_id),
    CHECK (status IN ('confirmed', 'pending', 'cancelled'))
);
CREATE INDEX IF NOT EXISTS tickets_user_created_idx ON tickets (user_id, created_at DESC);`

const createActivityTable = `
CREATE TABLE IF NOT EXISTS user_activity_logs (
    id TEXT PRIMARY KEY DEFAULT uuid_generate_v4()::text,
    user_id TEXT NOT NULL,
    action VARCHAR(100) NOT NULL,
    metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

const createNotificationsTable = `
CREATE TABLE IF NOT EXISTS notifications (
    id TEXT PRIMARY KEY DEFAULT uuid_generate_v4()::text,
    user_id TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
    title VARCHAR(200) NOT NULL,
    message TEXT NOT NULL,
    read BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS notifications_user_created_idx ON notifications (user_id, created_at DESC);`

const createCounterFunctions = `
CREATE OR REPLACE FUNCTION increment_tickets(event_id TEXT) RETURNS INTEGER AS $$
    UPDATE events SET tickets_booked = tickets_booked + 1
    WHERE id = increment_tickets.event_id
    RETURNING tickets_booked;
$$ LANGUAGE sql;

CREATE OR REPLACE FUNCTION decrement_tickets(event_id TEXT) RETURNS INTEGER AS $$
    UPDATE events SET tickets_booked = GREATEST(tickets_booked - 1, 0)
    WHERE id = decrement_tickets.event_id
    RETURNING tickets_booked;
$$ LANGUAGE sql;

CREATE OR REPLACE FUNCTION reconcile_tickets(event_id TEXT) RETURNS INTEGER AS $$
    UPDATE events SET tickets_booked = (
        SELECT COUNT(*) FROM tickets t WHERE t.event_id = reconcile_tickets.event_id
    )
    WHERE id = reconcile_tickets.event_id
    RETURNING tickets_booked;
$$ LANGUAGE sql;`

const createBookTicketFunction = `
CREATE OR REPLACE FUNCTION book_ticket(event_id TEXT, user_id TEXT, ticket_code TEXT)
RETURNS SETOF tickets AS $$
DECLARE
    v_capacity INTEGER;
    v_booked INTEGER;
    v_ticket tickets%ROWTYPE;
BEGIN
    SELECT e.capacity, e.tickets_booked INTO v_capacity, v_booked
    FROM events e WHERE e.id = book_ticket.event_id
    FOR UPDATE;

    IF NOT FOUND THEN
        RAISE EXCEPTION 'event % not found', book_ticket.event_id USING ERRCODE = 'no_data_found';
    END IF;

    IF v_booked >= v_capacity THEN
        RAISE EXCEPTION 'capacity exceeded' USING ERRCODE = 'check_violation', CONSTRAINT = 'events_capacity_guard';
    END IF;

    UPDATE events SET tickets_booked = tickets_booked + 1 WHERE id = book_ticket.event_id;

    INSERT INTO tickets (event_id, user_id, ticket_code, status)
    VALUES (book_ticket.event_id, book_ticket.user_id, book_ticket.ticket_code, 'confirmed')
    RETURNING * INTO v_ticket;

    RETURN NEXT v_ticket;
    RETURN;
END;
$$ LANGUAGE plpgsql;`

// pg_notify payloads must stay under 8000 bytes, so rows travel as their
// key and counter columns only and listeners re-read the rest.
const createChangeTrigger = `
CREATE OR REPLACE FUNCTION festtix_change_keys(r JSONB) RETURNS JSONB AS $$
    SELECT COALESCE(jsonb_object_agg(key, value), '{}'::jsonb)
    FROM jsonb_each(r)
    WHERE key IN ('id', 'capacity', 'tickets_booked', 'event_id', 'user_id', 'ticket_code', 'status', 'read');
$$ LANGUAGE sql IMMUTABLE;

CREATE OR REPLACE FUNCTION notify_festtix_change() RETURNS TRIGGER AS $$
BEGIN
    PERFORM pg_notify('` + ChangesChannel + `', json_build_object(
        'table', TG_TABLE_NAME,
        'type', TG_OP,
        'new', CASE WHEN TG_OP = 'DELETE' THEN NULL ELSE festtix_change_keys(to_jsonb(NEW)) END,
        'old', CASE WHEN TG_OP = 'INSERT' THEN NULL ELSE festtix_change_keys(to_jsonb(OLD)) END,
        'commit_time', NOW()
    )::text);
    RETURN NULL;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS events_notify ON events;
CREATE TRIGGER events_notify AFTER INSERT OR UPDATE OR DELETE ON events
    FOR EACH ROW EXECUTE FUNCTION notify_festtix_change();

DROP TRIGGER IF EXISTS tickets_notify ON tickets;
CREATE TRIGGER tickets_notify AFTER INSERT OR UPDATE OR DELETE ON tickets
    FOR EACH ROW EXECUTE FUNCTION notify_festtix_change();

DROP TRIGGER IF EXISTS notifications_notify ON notifications;
CREATE TRIGGER notifications_notify AFTER INSERT OR UPDATE ON notifications
    FOR EACH ROW EXECUTE FUNCTION notify_festtix_change();`

const createEventsStartIndex = `
CREATE INDEX IF NOT EXISTS events_event_date_idx ON events (event_date);`
