package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"stakevault/core/events"
)

// DefaultListLimit bounds List when the caller does not pass a limit.
const DefaultListLimit = 100

// MaxListLimit is the largest page List returns.
const MaxListLimit = 1000

// Record is a persisted ledger event.
type Record struct {
	Sequence   int64             `json:"sequence"`
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Account    string            `json:"account,omitempty"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Type          string
	Account       string
	AfterSequence int64
	Limit         int
}

// Store appends emitted events to a SQLite table so they can be queried after
// the fact. It implements events.Emitter.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	nowFn  func() time.Time
}

// Open creates or opens the event log at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("eventlog: path required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite serialises writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if logger == nil {
		logger = slog.Default()
	}
	store := &Store{db: db, logger: logger, nowFn: time.Now}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) init() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS events (
            sequence INTEGER PRIMARY KEY AUTOINCREMENT,
            id TEXT NOT NULL UNIQUE,
            type TEXT NOT NULL,
            account TEXT,
            payload TEXT NOT NULL,
            created_at TIMESTAMP NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS events_account_idx ON events(account, sequence);`,
		`CREATE INDEX IF NOT EXISTS events_type_idx ON events(type, sequence);`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("eventlog: init schema: %w", err)
		}
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Emit implements events.Emitter. Persistence failures are logged; they never
// affect the ledger operation that produced the event.
func (s *Store) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	if _, err := s.Append(context.Background(), evt); err != nil {
		s.logger.Error("persist event", "type", evt.EventType(), "error", err)
	}
}

// Append persists evt and returns the stored record.
func (s *Store) Append(ctx context.Context, evt events.Event) (*Record, error) {
	payload := evt.Event()
	if payload == nil {
		return nil, errors.New("eventlog: event has no payload")
	}
	attrs := payload.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return nil, err
	}
	rec := &Record{
		ID:         uuid.NewString(),
		Type:       payload.Type,
		Account:    attrs["account"],
		Attributes: attrs,
		CreatedAt:  s.nowFn().UTC(),
	}
	const stmt = `INSERT INTO events (id, type, account, payload, created_at) VALUES (?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, stmt, rec.ID, rec.Type, nullable(rec.Account), string(encoded), rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("eventlog: insert: %w", err)
	}
	if rec.Sequence, err = res.LastInsertId(); err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns events matching filter in sequence order.
func (s *Store) List(ctx context.Context, filter Filter) ([]Record, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	var (
		clauses = []string{"sequence > ?"}
		args    = []any{filter.AfterSequence}
	)
	if t := strings.TrimSpace(filter.Type); t != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, t)
	}
	if a := strings.TrimSpace(filter.Account); a != "" {
		clauses = append(clauses, "account = ?")
		args = append(args, a)
	}
	args = append(args, limit)
	query := `SELECT sequence, id, type, account, payload, created_at FROM events WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY sequence ASC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("eventlog: query: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		var (
			rec     Record
			account sql.NullString
			payload string
		)
		if err := rows.Scan(&rec.Sequence, &rec.ID, &rec.Type, &account, &payload, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Account = account.String
		if err := json.Unmarshal([]byte(payload), &rec.Attributes); err != nil {
			return nil, fmt.Errorf("eventlog: decode payload %d: %w", rec.Sequence, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
