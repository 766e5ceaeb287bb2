package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"festtix/internal/backend"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChangeUpdate(t *testing.T) {
	payload := `{"table":"events","type":"UPDATE",
		"new":{"id":"e1","capacity":100,"tickets_booked":42,"event_date":"2026-08-15T18:00:00+00:00"},
		"old":{"id":"e1","capacity":100,"tickets_booked":41,"event_date":"2026-08-15T18:00:00+00:00"},
		"commit_time":"2026-10-18T10:00:00.123456+00:00"}`

	change, err := parseChange(payload)
	require.NoError(t, err)

	assert.Equal(t, backend.TableEvents, change.Table)
	assert.Equal(t, backend.ChangeUpdate, change.Type)
	assert.Equal(t, int64(42), change.New["tickets_booked"])
	assert.Equal(t, int64(41), change.Old["tickets_booked"])
	assert.IsType(t, time.Time{}, change.New["event_date"])
	assert.Equal(t, 2026, change.CommitTime.Year())
}

func TestParseChangeDeleteHasNoNewRow(t *testing.T) {
	change, err := parseChange(`{"table":"tickets","type":"DELETE","new":null,"old":{"id":"t1","user_id":"u1"},"commit_time":""}`)
	require.NoError(t, err)

	assert.Nil(t, change.New)
	assert.Equal(t, "u1", change.Old["user_id"])
	assert.True(t, change.CommitTime.IsZero())
}

func TestParseChangeRejectsGarbage(t *testing.T) {
	_, err := parseChange("not json")
	assert.Error(t, err)

	_, err = parseChange(`{"table":"events","type":"INSERT","new":{"created_at":"yesterday"}}`)
	assert.Error(t, err)
}

func TestTranslateError(t *testing.T) {
	unique := &pq.Error{Code: "23505", Constraint: "tickets_event_id_user_id_key", Detail: "Key exists"}
	err := translateError(backend.TableTickets, fmt.Errorf("wrapped: %w", unique))
	var ce *backend.ConstraintError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "tickets_event_id_user_id_key", ce.Constraint)
	assert.Equal(t, backend.TableTickets, ce.Table)

	guard := &pq.Error{Code: "23514", Constraint: "events_capacity_guard", Message: "capacity exceeded"}
	require.ErrorAs(t, translateError(backend.TableTickets, guard), &ce)
	assert.Equal(t, "capacity exceeded", ce.Detail)

	assert.ErrorIs(t, translateError("events", &pq.Error{Code: "42883"}), backend.ErrProcedureUnavailable)
	assert.ErrorIs(t, translateError("events", &pq.Error{Code: "P0002"}), backend.ErrNotFound)
	assert.ErrorIs(t, translateError("events", sql.ErrNoRows), backend.ErrNotFound)
	assert.ErrorIs(t, translateError("events", errors.New("dial tcp: connection refused")), backend.ErrUnavailable)
	assert.NoError(t, translateError("events", nil))
}

func TestUnknownTableIsRejectedBeforeQuerying(t *testing.T) {
	b := New(nil, ListenerConfig{})
	_, err := b.Select(t.Context(), "secrets", backend.Query{})
	assert.ErrorIs(t, err, backend.ErrUnknownTable)

	_, err = b.Select(t.Context(), backend.TableEvents, backend.Query{Filter: backend.Filter{"password": "x"}})
	assert.ErrorContains(t, err, "unknown column")

	_, err = b.CallProcedure(t.Context(), "drop_everything", nil)
	assert.ErrorIs(t, err, backend.ErrProcedureUnavailable)
}

func TestEncodeValueMarshalsJSONColumns(t *testing.T) {
	v, err := encodeValue(map[string]any{"event_id": "e1"})
	require.NoError(t, err)
	assert.Equal(t, `{"event_id":"e1"}`, v)

	v, err = encodeValue(int64(3))
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)
}
