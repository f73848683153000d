// Package audit keeps a queryable history of MQTT tool invocations in the
// audit_logs table.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Actions recorded in the audit log.
const (
	ActionPublish = "publish"
	ActionReceive = "receive"
)

// Page size bounds for List.
const (
	defaultLimit = 50
	maxLimit     = 200
)

// timeFormat is fixed-width so created_at sorts correctly as TEXT.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Entry is one audited publish or receive.
type Entry struct {
	ID       string        `json:"id"`
	Action   string        `json:"action"`
	Topic    string        `json:"topic"`
	Endpoint string        `json:"endpoint"`
	QoS      int           `json:"qos"`
	Outcome  string        `json:"outcome"`
	Duration time.Duration `json:"duration_ns"`
	Bytes    int           `json:"bytes"`
	Error    string        `json:"error,omitempty"`

	// Source names the surface that triggered the call (mcp, cli).
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter controls which entries List returns.
type Filter struct {
	Action  string // optional: publish or receive
	Topic   string // optional: exact topic
	Outcome string // optional: ok, timeout, rejected, ...
	Limit   int    // default 50, max 200
	Offset  int    // pagination offset
}

// ListResult contains the paginated audit log results.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository defines the audit log operations.
type Repository interface {
	Record(ctx context.Context, e *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// Noop discards entries. It is used when auditing is disabled.
type Noop struct{}

func (Noop) Record(context.Context, *Entry) error { return nil }

func (Noop) List(_ context.Context, filter Filter) (*ListResult, error) {
	return &ListResult{Entries: []Entry{}, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// SQLiteRepository stores audit entries in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new audit log repository.
// The audit_logs table must already exist (see the migrations package).
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record inserts an entry. The ID and CreatedAt are generated if empty.
func (r *SQLiteRepository) Record(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = "aud-" + uuid.NewString()[:8]
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, action, topic, endpoint, qos, outcome, duration_ms, bytes, error, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Action, e.Topic, e.Endpoint, e.QoS, e.Outcome,
		e.Duration.Milliseconds(), e.Bytes,
		nullableString(e.Error), nullableString(e.Source),
		e.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	return nil
}

// nullableString returns nil for empty strings so nullable TEXT columns stay NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns entries matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	for column, value := range map[string]string{
		"action":  filter.Action,
		"topic":   filter.Topic,
		"outcome": filter.Outcome,
	} {
		if value != "" {
			conditions = append(conditions, column+" = ?")
			args = append(args, value)
		}
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	// WHERE clause is built from fixed column names and ? placeholders only.
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM audit_logs %s", where) //nolint:gosec // no user input in SQL string
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit entries: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // no user input in SQL string
		`SELECT id, action, topic, endpoint, qos, outcome, duration_ms, bytes, error, source, created_at
		 FROM audit_logs %s ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var durationMS int64
		var errText, source sql.NullString
		var createdAt string

		if err := rows.Scan(&e.ID, &e.Action, &e.Topic, &e.Endpoint, &e.QoS, &e.Outcome,
			&durationMS, &e.Bytes, &errText, &source, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}

		e.Duration = time.Duration(durationMS) * time.Millisecond
		e.Error = errText.String
		e.Source = source.String

		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing audit timestamp %q: %w", createdAt, err)
		}
		e.CreatedAt = t

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}
