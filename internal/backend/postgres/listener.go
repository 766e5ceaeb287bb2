package postgres

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"festtix/internal/backend"
	"festtix/internal/database"

	"github.com/lib/pq"
)

var timeColumns = map[string]bool{"created_at": true, "event_date": true}

type changeFeed struct {
	listener *pq.Listener
	done     chan struct{}
	stopped  chan struct{}
}

// Subscribe registers onChange for table changes matching filter. The first
// subscription opens the LISTEN connection; pq.Listener reconnects with
// backoff between MinReconnect and MaxReconnect and we emit ChangeResync to
// every subscriber once it is back.
func (b *Backend) Subscribe(ctx context.Context, table string, filter backend.Filter, onChange func(backend.Change)) (backend.Subscription, error) {
	if _, err := tableColumns(table); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.feed == nil {
		feed, err := b.startFeed()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", backend.ErrUnavailable, err)
		}
		b.feed = feed
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = &subscriber{table: table, filter: filter, onChange: onChange}

	return backend.SubscriptionFunc(func() error {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		return nil
	}), nil
}

func (b *Backend) startFeed() (*changeFeed, error) {
	logEvent := func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			slog.Info("Realtime listener connected", "channel", database.ChangesChannel)
		case pq.ListenerEventDisconnected:
			slog.Warn("Realtime listener disconnected", "channel", database.ChangesChannel, "error", err)
		case pq.ListenerEventReconnected:
			slog.Info("Realtime listener reconnected", "channel", database.ChangesChannel)
		case pq.ListenerEventConnectionAttemptFailed:
			slog.Warn("Realtime listener reconnect attempt failed", "channel", database.ChangesChannel, "error", err)
		}
	}

	listener := pq.NewListener(b.db.DSN(), b.listener.MinReconnect, b.listener.MaxReconnect, logEvent)
	if err := listener.Listen(database.ChangesChannel); err != nil {
		listener.Close()
		return nil, err
	}

	feed := &changeFeed{
		listener: listener,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go b.run(feed)
	return feed, nil
}

func (b *Backend) run(feed *changeFeed) {
	defer close(feed.stopped)
	for {
		select {
		case <-feed.done:
			return
		case n, ok := <-feed.listener.Notify:
			if !ok {
				return
			}
			if n == nil {
				// reconnected: anything sent while we were away is lost
				b.dispatchResync()
				continue
			}
			change, err := parseChange(n.Extra)
			if err != nil {
				slog.Error("Failed to decode realtime change", "error", err)
				continue
			}
			if !b.watched(change.Table) {
				continue
			}
			change, ok = b.hydrate(change)
			if !ok {
				continue
			}
			b.dispatch(change)
		case <-time.After(90 * time.Second):
			go func() {
				if err := feed.listener.Ping(); err != nil {
					slog.Warn("Realtime listener ping failed", "error", err)
				}
			}()
		}
	}
}

func (b *Backend) targets() []*subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		out = append(out, s)
	}
	return out
}

func (b *Backend) watched(table string) bool {
	for _, sub := range b.targets() {
		if sub.table == table {
			return true
		}
	}
	return false
}

// hydrate swaps the key-only row of an insert or update for the stored row.
// ok is false when the row is already gone; a failed read is turned into a
// resync so subscribers refresh by themselves.
func (b *Backend) hydrate(change backend.Change) (backend.Change, bool) {
	if change.New == nil {
		return change, true
	}
	id, _ := change.New["id"].(string)
	if id == "" {
		return change, true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rows, err := b.Select(ctx, change.Table, backend.Query{Filter: backend.Filter{"id": id}, Limit: 1})
	if err != nil {
		slog.Warn("Failed to read changed row, resyncing", "table", change.Table, "id", id, "error", err)
		b.dispatchResync()
		return change, false
	}
	if len(rows) == 0 {
		return change, false
	}
	change.New = rows[0]
	return change, true
}

func (b *Backend) dispatch(change backend.Change) {
	row := change.New
	if row == nil {
		row = change.Old
	}
	for _, sub := range b.targets() {
		if sub.table == change.Table && sub.filter.Matches(row) {
			sub.onChange(change)
		}
	}
}

func (b *Backend) dispatchResync() {
	now := time.Now()
	for _, sub := range b.targets() {
		sub.onChange(backend.Change{Table: sub.table, Type: backend.ChangeResync, CommitTime: now})
	}
}

func (f *changeFeed) close() error {
	close(f.done)
	err := f.listener.Close()
	<-f.stopped
	return err
}

type notification struct {
	Table      string          `json:"table"`
	Type       string          `json:"type"`
	New        json.RawMessage `json:"new"`
	Old        json.RawMessage `json:"old"`
	CommitTime string          `json:"commit_time"`
}

// parseChange decodes the pg_notify payload built by notify_festtix_change.
// Rows carry key and counter columns only.
func parseChange(payload string) (backend.Change, error) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return backend.Change{}, err
	}

	change := backend.Change{Table: n.Table, Type: backend.ChangeType(n.Type)}
	var err error
	if change.New, err = parseRow(n.New); err != nil {
		return backend.Change{}, err
	}
	if change.Old, err = parseRow(n.Old); err != nil {
		return backend.Change{}, err
	}
	if n.CommitTime != "" {
		if change.CommitTime, err = parseTimestamp(n.CommitTime); err != nil {
			return backend.Change{}, err
		}
	}
	return change, nil
}

func parseRow(raw json.RawMessage) (backend.Row, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}

	row := make(backend.Row, len(fields))
	for k, v := range fields {
		switch x := v.(type) {
		case json.Number:
			if i, err := x.Int64(); err == nil {
				row[k] = i
			} else {
				row[k] = x.String()
			}
		case string:
			if timeColumns[k] {
				ts, err := parseTimestamp(x)
				if err != nil {
					return nil, fmt.Errorf("column %s: %w", k, err)
				}
				row[k] = ts
			} else {
				row[k] = x
			}
		default:
			row[k] = v
		}
	}
	return row, nil
}

// Postgres JSON timestamps: "2026-08-15T18:00:00+00:00" or with a space
// separator and short zone from NOW()::text.
func parseTimestamp(s string) (time.Time, error) {
	layouts := []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999-07", "2006-01-02T15:04:05.999999"}
	var lastErr error
	for _, layout := range layouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
