// ABOUTME: SQLite implementation of the Ledger interface using modernc.org/sqlite
// ABOUTME: Creates the agent_events schema on open; WAL mode for concurrent readers

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeFormat sorts lexicographically in timestamp order.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements Ledger using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the ledger database at path.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite ledger initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS agent_events (
			event_id  TEXT PRIMARY KEY,
			agent_id  TEXT NOT NULL,
			kind      TEXT NOT NULL,
			detail    TEXT,
			timestamp TEXT NOT NULL,

			CHECK (kind IN (
				'created',
				'executed',
				'failed',
				'spawned',
				'cleanup_scheduled',
				'removed',
				'reclaimed'
			))
		);

		CREATE INDEX IF NOT EXISTS idx_agent_events_agent ON agent_events(agent_id, timestamp);
		CREATE INDEX IF NOT EXISTS idx_agent_events_timestamp ON agent_events(timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite ledger")
	return s.db.Close()
}

// SaveEvent appends an event to the ledger.
func (s *SQLiteStore) SaveEvent(ctx context.Context, event *AgentEvent) error {
	if err := prepare(event); err != nil {
		return err
	}

	var detail *string
	if event.Detail != "" {
		detail = &event.Detail
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_events (event_id, agent_id, kind, detail, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`,
		event.ID,
		event.AgentID,
		string(event.Kind),
		detail,
		event.Timestamp.Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}

	s.logger.Debug("saved agent event",
		"event_id", event.ID,
		"agent_id", event.AgentID,
		"kind", event.Kind,
	)
	return nil
}

// ListEvents returns events matching params, oldest first.
func (s *SQLiteStore) ListEvents(ctx context.Context, params ListParams) ([]AgentEvent, error) {
	var where []string
	var args []any

	if params.AgentID != "" {
		where = append(where, "agent_id = ?")
		args = append(args, params.AgentID)
	}
	if params.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(params.Kind))
	}
	if params.Since != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, params.Since.UTC().Format(timeFormat))
	}

	query := `SELECT event_id, agent_id, kind, detail, timestamp FROM agent_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp ASC, rowid ASC LIMIT ?"
	args = append(args, params.limit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []AgentEvent
	for rows.Next() {
		var ev AgentEvent
		var kind, ts string
		var detail sql.NullString
		if err := rows.Scan(&ev.ID, &ev.AgentID, &kind, &detail, &ts); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		ev.Kind = EventKind(kind)
		ev.Detail = detail.String
		ev.Timestamp, err = time.Parse(timeFormat, ts)
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp %q: %w", ts, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return events, nil
}

// PruneEvents deletes events older than before and returns how many were removed.
func (s *SQLiteStore) PruneEvents(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM agent_events WHERE timestamp < ?`,
		before.UTC().Format(timeFormat),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned events: %w", err)
	}
	if n > 0 {
		s.logger.Info("pruned agent events", "count", n, "before", before)
	}
	return n, nil
}
