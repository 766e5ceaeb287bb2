// Package postgres implements backend.DataService on a Postgres schema
// created by internal/database migrations, with LISTEN/NOTIFY as the change
// feed.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"festtix/internal/backend"
	"festtix/internal/database"

	"github.com/lib/pq"
)

var columns = map[string][]string{
	backend.TableEvents:        {"id", "title", "category", "description", "event_date", "venue", "capacity", "tickets_booked", "duration", "emoji", "created_at"},
	backend.TableTickets:       {"id", "ticket_code", "user_id", "event_id", "status", "created_at"},
	backend.TableProfiles:      {"id", "email", "name", "role", "created_at"},
	backend.TableActivities:    {"id", "user_id", "action", "metadata", "created_at"},
	backend.TableNotifications: {"id", "user_id", "title", "message", "read", "created_at"},
}

// procedure argument order
var procedures = map[string][]string{
	backend.ProcIncrementTickets: {"event_id"},
	backend.ProcDecrementTickets: {"event_id"},
	backend.ProcReconcileTickets: {"event_id"},
	backend.ProcBookTicket:       {"event_id", "user_id", "ticket_code"},
}

// ListenerConfig bounds the reconnect backoff of the change listener
type ListenerConfig struct {
	MinReconnect time.Duration
	MaxReconnect time.Duration
}

// Backend is the Postgres DataService
type Backend struct {
	db       *database.DB
	listener ListenerConfig

	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int
	feed   *changeFeed
}

type subscriber struct {
	table    string
	filter   backend.Filter
	onChange func(backend.Change)
}

// New wraps an open database
func New(db *database.DB, cfg ListenerConfig) *Backend {
	if cfg.MinReconnect <= 0 {
		cfg.MinReconnect = 500 * time.Millisecond
	}
	if cfg.MaxReconnect < cfg.MinReconnect {
		cfg.MaxReconnect = time.Minute
	}
	return &Backend{
		db:       db,
		listener: cfg,
		subs:     make(map[int]*subscriber),
	}
}

func tableColumns(table string) ([]string, error) {
	cols, ok := columns[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", backend.ErrUnknownTable, table)
	}
	return cols, nil
}

func checkColumn(table string, cols []string, col string) error {
	for _, c := range cols {
		if c == col {
			return nil
		}
	}
	return fmt.Errorf("backend: unknown column %s.%s", table, col)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func quoteAll(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pq.QuoteIdentifier(c)
	}
	return strings.Join(quoted, ", ")
}

// Select runs SELECT ... WHERE col = $n ... ORDER BY ... LIMIT ...
func (b *Backend) Select(ctx context.Context, table string, q backend.Query) ([]backend.Row, error) {
	cols, err := tableColumns(table)
	if err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	for _, col := range sortedKeys(q.Filter) {
		if err := checkColumn(table, cols, col); err != nil {
			return nil, err
		}
		args = append(args, q.Filter[col])
		where = append(where, fmt.Sprintf("%s = $%d", pq.QuoteIdentifier(col), len(args)))
	}

	query := fmt.Sprintf("SELECT %s FROM %s", quoteAll(cols), pq.QuoteIdentifier(table))
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if q.Order != nil {
		if err := checkColumn(table, cols, q.Order.Column); err != nil {
			return nil, err
		}
		query += " ORDER BY " + pq.QuoteIdentifier(q.Order.Column)
		if q.Order.Descending {
			query += " DESC"
		}
	}
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := b.db.QueryWithRetry(ctx, query, args...)
	if err != nil {
		return nil, translateError(table, err)
	}
	defer rows.Close()

	return scanRows(rows, cols)
}

// Insert runs INSERT ... RETURNING *
func (b *Backend) Insert(ctx context.Context, table string, row backend.Row) (backend.Row, error) {
	cols, err := tableColumns(table)
	if err != nil {
		return nil, err
	}

	var (
		names        []string
		placeholders []string
		args         []any
	)
	for _, col := range sortedKeys(row) {
		if err := checkColumn(table, cols, col); err != nil {
			return nil, err
		}
		value, err := encodeValue(row[col])
		if err != nil {
			return nil, err
		}
		args = append(args, value)
		names = append(names, pq.QuoteIdentifier(col))
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		pq.QuoteIdentifier(table), strings.Join(names, ", "), strings.Join(placeholders, ", "), quoteAll(cols))

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translateError(table, err)
	}
	defer rows.Close()

	return singleRow(table, rows, cols)
}

// Update runs UPDATE ... SET ... WHERE id = $n RETURNING *
func (b *Backend) Update(ctx context.Context, table, id string, patch backend.Row) (backend.Row, error) {
	cols, err := tableColumns(table)
	if err != nil {
		return nil, err
	}
	if len(patch) == 0 {
		return nil, fmt.Errorf("backend: empty patch for %s", table)
	}

	var (
		sets []string
		args []any
	)
	for _, col := range sortedKeys(patch) {
		if col == "id" {
			continue
		}
		if err := checkColumn(table, cols, col); err != nil {
			return nil, err
		}
		value, err := encodeValue(patch[col])
		if err != nil {
			return nil, err
		}
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", pq.QuoteIdentifier(col), len(args)))
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d RETURNING %s",
		pq.QuoteIdentifier(table), strings.Join(sets, ", "), len(args), quoteAll(cols))

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translateError(table, err)
	}
	defer rows.Close()

	return singleRow(table, rows, cols)
}

// Delete removes one row by id
func (b *Backend) Delete(ctx context.Context, table, id string) error {
	if _, err := tableColumns(table); err != nil {
		return err
	}
	res, err := b.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1", pq.QuoteIdentifier(table)), id)
	if err != nil {
		return translateError(table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return translateError(table, err)
	}
	if n == 0 {
		return backend.ErrNotFound
	}
	return nil
}

// CallProcedure invokes one of the schema functions. book_ticket returns the
// inserted ticket row, the counter functions return the new count.
func (b *Backend) CallProcedure(ctx context.Context, name string, args backend.Row) (any, error) {
	params, ok := procedures[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", backend.ErrProcedureUnavailable, name)
	}

	values := make([]any, len(params))
	placeholders := make([]string, len(params))
	for i, p := range params {
		values[i] = args[p]
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	call := fmt.Sprintf("%s(%s)", pq.QuoteIdentifier(name), strings.Join(placeholders, ", "))

	if name == backend.ProcBookTicket {
		cols := columns[backend.TableTickets]
		rows, err := b.db.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s", quoteAll(cols), call), values...)
		if err != nil {
			return nil, translateError(backend.TableTickets, err)
		}
		defer rows.Close()
		return singleRow(backend.TableTickets, rows, cols)
	}

	var result sql.NullInt64
	if err := b.db.QueryRowContext(ctx, "SELECT "+call, values...).Scan(&result); err != nil {
		return nil, translateError(backend.TableEvents, err)
	}
	if !result.Valid {
		return nil, backend.ErrNotFound
	}
	return result.Int64, nil
}

// Close stops the change feed; the database itself is owned by the caller
func (b *Backend) Close() error {
	b.mu.Lock()
	feed := b.feed
	b.feed = nil
	b.subs = make(map[int]*subscriber)
	b.mu.Unlock()

	if feed != nil {
		return feed.close()
	}
	return nil
}

func scanRows(rows *sql.Rows, cols []string) ([]backend.Row, error) {
	var out []backend.Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(backend.Row, len(cols))
		for i, col := range cols {
			row[col] = decodeValue(values[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func singleRow(table string, rows *sql.Rows, cols []string) (backend.Row, error) {
	out, err := scanRows(rows, cols)
	if err != nil {
		return nil, translateError(table, err)
	}
	if len(out) == 0 {
		return nil, backend.ErrNotFound
	}
	return out[0], nil
}

func decodeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func encodeValue(v any) (any, error) {
	switch x := v.(type) {
	case map[string]any:
		data, err := json.Marshal(x)
		if err != nil {
			return nil, fmt.Errorf("backend: encode json column: %w", err)
		}
		return string(data), nil
	default:
		return v, nil
	}
}

// translateError maps driver errors onto the backend error vocabulary
func translateError(table string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return backend.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Name() {
		case "unique_violation", "check_violation", "foreign_key_violation", "not_null_violation":
			detail := pqErr.Detail
			if detail == "" {
				detail = pqErr.Message
			}
			return &backend.ConstraintError{Table: table, Constraint: pqErr.Constraint, Detail: detail}
		case "undefined_function":
			return fmt.Errorf("%w: %s", backend.ErrProcedureUnavailable, pqErr.Message)
		case "no_data_found":
			return backend.ErrNotFound
		}
		return err
	}
	if database.IsRetryableError(err) {
		return fmt.Errorf("%w: %v", backend.ErrUnavailable, err)
	}
	return err
}

// Open connects, runs migrations and wraps the database. The caller closes
// both the backend and the database.
func Open(cfg database.Config, lc ListenerConfig) (*Backend, *database.DB, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := db.RunMigrations(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return New(db, lc), db, nil
}
