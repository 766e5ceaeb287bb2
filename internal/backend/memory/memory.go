// Package memory is an in-process DataService with the same tables,
// constraints and procedures as the Postgres schema. It backs tests and
// BACKEND=memory demo runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"festtix/internal/backend"

	"github.com/google/uuid"
)

// Option configures a Store
type Option func(*Store)

// WithClock overrides the time source used for default timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is a mutex-guarded set of tables
type Store struct {
	mu     sync.Mutex
	now    func() time.Time
	tables map[string]*table

	subMu  sync.Mutex
	subs   map[int]*subscriber
	nextID int

	failures    map[string][]error
	unavailable map[string]bool
}

type table struct {
	rows  map[string]backend.Row
	order []string
}

type subscriber struct {
	table    string
	filter   backend.Filter
	onChange func(backend.Change)
}

var knownTables = []string{
	backend.TableEvents,
	backend.TableTickets,
	backend.TableProfiles,
	backend.TableActivities,
	backend.TableNotifications,
}

// New creates an empty store
func New(opts ...Option) *Store {
	s := &Store{
		now:         time.Now,
		tables:      make(map[string]*table),
		subs:        make(map[int]*subscriber),
		failures:    make(map[string][]error),
		unavailable: make(map[string]bool),
	}
	for _, name := range knownTables {
		s.tables[name] = &table{rows: make(map[string]backend.Row)}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FailNext makes the next call of op ("select:tickets", "insert:tickets",
// "delete:tickets", "call:increment_tickets", ...) return err. Calls queue.
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], err)
}

// DisableProcedure makes CallProcedure(name) return ErrProcedureUnavailable
func (s *Store) DisableProcedure(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable[name] = true
}

// Emit pushes a change to matching subscribers as if it came from the backend
func (s *Store) Emit(change backend.Change) {
	if change.CommitTime.IsZero() {
		change.CommitTime = s.now()
	}
	s.publish([]backend.Change{change})
}

// Count returns the number of rows in table matching filter
func (s *Store) Count(tableName string, filter backend.Filter) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[tableName]
	if !ok {
		return 0
	}
	n := 0
	for _, row := range t.rows {
		if filter.Matches(row) {
			n++
		}
	}
	return n
}

func (s *Store) popFailure(op string) error {
	queue := s.failures[op]
	if len(queue) == 0 {
		return nil
	}
	s.failures[op] = queue[1:]
	return queue[0]
}

func (s *Store) table(name string) (*table, error) {
	t, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", backend.ErrUnknownTable, name)
	}
	return t, nil
}

// Select returns copies of matching rows
func (s *Store) Select(ctx context.Context, tableName string, q backend.Query) ([]backend.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.popFailure("select:" + tableName); err != nil {
		return nil, err
	}
	t, err := s.table(tableName)
	if err != nil {
		return nil, err
	}

	var out []backend.Row
	for _, id := range t.order {
		row := t.rows[id]
		if q.Filter.Matches(row) {
			out = append(out, copyRow(row))
		}
	}
	if q.Order != nil {
		col, desc := q.Order.Column, q.Order.Descending
		sort.SliceStable(out, func(i, j int) bool {
			c := compare(out[i][col], out[j][col])
			if desc {
				return c > 0
			}
			return c < 0
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Insert adds a row, filling id and created_at when absent
func (s *Store) Insert(ctx context.Context, tableName string, row backend.Row) (backend.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if err := s.popFailure("insert:" + tableName); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	inserted, err := s.insertLocked(tableName, row)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.publish([]backend.Change{{Table: tableName, Type: backend.ChangeInsert, New: copyRow(inserted), CommitTime: s.now()}})
	return copyRow(inserted), nil
}

func (s *Store) insertLocked(tableName string, row backend.Row) (backend.Row, error) {
	t, err := s.table(tableName)
	if err != nil {
		return nil, err
	}
	stored := normalize(row)
	if id, _ := stored["id"].(string); id == "" {
		stored["id"] = uuid.New().String()
	}
	if _, ok := stored["created_at"]; !ok {
		stored["created_at"] = s.now().UTC()
	}
	id := stored["id"].(string)
	if _, exists := t.rows[id]; exists {
		return nil, &backend.ConstraintError{Table: tableName, Constraint: tableName + "_pkey", Detail: "duplicate id " + id}
	}
	if err := s.checkConstraints(tableName, stored, ""); err != nil {
		return nil, err
	}
	t.rows[id] = stored
	t.order = append(t.order, id)
	return stored, nil
}

// Update merges patch into the row with the given id
func (s *Store) Update(ctx context.Context, tableName, id string, patch backend.Row) (backend.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if err := s.popFailure("update:" + tableName); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	t, err := s.table(tableName)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	current, ok := t.rows[id]
	if !ok {
		s.mu.Unlock()
		return nil, backend.ErrNotFound
	}
	old := copyRow(current)
	next := copyRow(current)
	for k, v := range normalize(patch) {
		if k == "id" {
			continue
		}
		next[k] = v
	}
	if err := s.checkConstraints(tableName, next, id); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	t.rows[id] = next
	s.mu.Unlock()

	s.publish([]backend.Change{{Table: tableName, Type: backend.ChangeUpdate, New: copyRow(next), Old: old, CommitTime: s.now()}})
	return copyRow(next), nil
}

// Delete removes a row; deleting an event cascades to its tickets
func (s *Store) Delete(ctx context.Context, tableName, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if err := s.popFailure("delete:" + tableName); err != nil {
		s.mu.Unlock()
		return err
	}
	changes, err := s.deleteLocked(tableName, id)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.publish(changes)
	return nil
}

func (s *Store) deleteLocked(tableName, id string) ([]backend.Change, error) {
	t, err := s.table(tableName)
	if err != nil {
		return nil, err
	}
	row, ok := t.rows[id]
	if !ok {
		return nil, backend.ErrNotFound
	}
	var changes []backend.Change
	if tableName == backend.TableEvents {
		tickets := s.tables[backend.TableTickets]
		for _, tid := range append([]string(nil), tickets.order...) {
			if tickets.rows[tid]["event_id"] == id {
				changes = append(changes, backend.Change{Table: backend.TableTickets, Type: backend.ChangeDelete, Old: copyRow(tickets.rows[tid]), CommitTime: s.now()})
				tickets.remove(tid)
			}
		}
	}
	t.remove(id)
	changes = append(changes, backend.Change{Table: tableName, Type: backend.ChangeDelete, Old: copyRow(row), CommitTime: s.now()})
	return changes, nil
}

func (t *table) remove(id string) {
	delete(t.rows, id)
	for i, v := range t.order {
		if v == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// CallProcedure runs one of the schema's counter procedures
func (s *Store) CallProcedure(ctx context.Context, name string, args backend.Row) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if err := s.popFailure("call:" + name); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if s.unavailable[name] {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", backend.ErrProcedureUnavailable, name)
	}

	var (
		result  any
		changes []backend.Change
		err     error
	)
	eventID := fmt.Sprint(args["event_id"])
	switch name {
	case backend.ProcIncrementTickets:
		result, changes, err = s.adjustLocked(eventID, func(booked int64) int64 { return booked + 1 })
	case backend.ProcDecrementTickets:
		result, changes, err = s.adjustLocked(eventID, func(booked int64) int64 { return max(booked-1, 0) })
	case backend.ProcReconcileTickets:
		count := int64(0)
		for _, row := range s.tables[backend.TableTickets].rows {
			if row["event_id"] == eventID {
				count++
			}
		}
		result, changes, err = s.adjustLocked(eventID, func(int64) int64 { return count })
	case backend.ProcBookTicket:
		result, changes, err = s.bookLocked(eventID, args)
	default:
		err = fmt.Errorf("%w: %s", backend.ErrProcedureUnavailable, name)
	}
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s.publish(changes)
	return result, nil
}

func (s *Store) adjustLocked(eventID string, next func(int64) int64) (any, []backend.Change, error) {
	events := s.tables[backend.TableEvents]
	row, ok := events.rows[eventID]
	if !ok {
		return nil, nil, backend.ErrNotFound
	}
	old := copyRow(row)
	booked := next(toInt64(row["tickets_booked"]))
	row["tickets_booked"] = booked
	change := backend.Change{Table: backend.TableEvents, Type: backend.ChangeUpdate, New: copyRow(row), Old: old, CommitTime: s.now()}
	return booked, []backend.Change{change}, nil
}

// bookLocked mirrors the book_ticket SQL function: capacity check, insert and
// increment happen under one lock.
func (s *Store) bookLocked(eventID string, args backend.Row) (any, []backend.Change, error) {
	event, ok := s.tables[backend.TableEvents].rows[eventID]
	if !ok {
		return nil, nil, backend.ErrNotFound
	}
	if toInt64(event["tickets_booked"]) >= toInt64(event["capacity"]) {
		return nil, nil, &backend.ConstraintError{Table: backend.TableEvents, Constraint: "events_capacity_guard", Detail: "capacity exceeded"}
	}
	ticket, err := s.insertLocked(backend.TableTickets, backend.Row{
		"event_id":    eventID,
		"user_id":     args["user_id"],
		"ticket_code": args["ticket_code"],
		"status":      "confirmed",
	})
	if err != nil {
		return nil, nil, err
	}
	_, changes, err := s.adjustLocked(eventID, func(booked int64) int64 { return booked + 1 })
	if err != nil {
		return nil, nil, err
	}
	insert := backend.Change{Table: backend.TableTickets, Type: backend.ChangeInsert, New: copyRow(ticket), CommitTime: s.now()}
	return copyRow(ticket), append([]backend.Change{insert}, changes...), nil
}

func (s *Store) checkConstraints(tableName string, row backend.Row, selfID string) error {
	switch tableName {
	case backend.TableEvents:
		if toInt64(row["capacity"]) <= 0 {
			return &backend.ConstraintError{Table: tableName, Constraint: "events_capacity_check", Detail: "capacity must be positive"}
		}
		if toInt64(row["tickets_booked"]) < 0 {
			return &backend.ConstraintError{Table: tableName, Constraint: "events_tickets_booked_check", Detail: "tickets_booked must be non-negative"}
		}
	case backend.TableTickets:
		if _, ok := s.tables[backend.TableEvents].rows[fmt.Sprint(row["event_id"])]; !ok {
			return &backend.ConstraintError{Table: tableName, Constraint: "tickets_event_id_fkey", Detail: "event does not exist"}
		}
		for id, other := range s.tables[backend.TableTickets].rows {
			if id == selfID {
				continue
			}
			if other["ticket_code"] == row["ticket_code"] {
				return &backend.ConstraintError{Table: tableName, Constraint: "tickets_ticket_code_key", Detail: "duplicate ticket code"}
			}
			if other["event_id"] == row["event_id"] && other["user_id"] == row["user_id"] {
				return &backend.ConstraintError{Table: tableName, Constraint: "tickets_event_id_user_id_key", Detail: "duplicate ticket for user"}
			}
		}
	}
	return nil
}

// Subscribe registers onChange for changes on table matching filter.
// Delivery is synchronous on the writer's goroutine, after the write lock
// has been released.
func (s *Store) Subscribe(ctx context.Context, tableName string, filter backend.Filter, onChange func(backend.Change)) (backend.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	err := s.popFailure("subscribe:" + tableName)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = &subscriber{table: tableName, filter: filter, onChange: onChange}
	s.subMu.Unlock()

	return backend.SubscriptionFunc(func() error {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
		return nil
	}), nil
}

func (s *Store) publish(changes []backend.Change) {
	if len(changes) == 0 {
		return
	}
	s.subMu.Lock()
	var targets []*subscriber
	for _, sub := range s.subs {
		targets = append(targets, sub)
	}
	s.subMu.Unlock()

	for _, change := range changes {
		for _, sub := range targets {
			if sub.table != change.Table {
				continue
			}
			row := change.New
			if row == nil {
				row = change.Old
			}
			if change.Type != backend.ChangeResync && !sub.filter.Matches(row) {
				continue
			}
			sub.onChange(change)
		}
	}
}

// Close drops all subscribers
func (s *Store) Close() error {
	s.subMu.Lock()
	s.subs = make(map[int]*subscriber)
	s.subMu.Unlock()
	return nil
}

func copyRow(row backend.Row) backend.Row {
	if row == nil {
		return nil
	}
	out := make(backend.Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

// normalize stores every integer kind as int64, like the Postgres driver
func normalize(row backend.Row) backend.Row {
	out := make(backend.Row, len(row))
	for k, v := range row {
		switch n := v.(type) {
		case int:
			out[k] = int64(n)
		case int32:
			out[k] = int64(n)
		default:
			out[k] = v
		}
	}
	return out
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

func compare(a, b any) int {
	switch x := a.(type) {
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	case int64:
		if y, ok := b.(int64); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
