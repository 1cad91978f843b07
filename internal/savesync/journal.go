package savesync

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

// Event kinds written to the journal.
const (
	EventUpload   = "upload"
	EventDownload = "download"
	EventConflict = "conflict"
	EventResolve  = "resolve"
	EventError    = "error"
	EventSession  = "session"
)

const defaultHistoryLimit = 50

const (
	sqlInsertEvent = `INSERT INTO sync_events
		(run_id, entity_id, file_name, kind, detail, bytes, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	sqlRecentEvents = `SELECT id, run_id, entity_id, file_name, kind, detail, bytes, recorded_at
		FROM sync_events
		WHERE (? = '' OR entity_id = ?)
		ORDER BY recorded_at DESC, id DESC
		LIMIT ?`
)

// Event is one journal entry.
type Event struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	EntityID   string    `json:"entity_id"`
	FileName   string    `json:"file_name,omitempty"`
	Kind       string    `json:"kind"`
	Detail     string    `json:"detail,omitempty"`
	Bytes      int64     `json:"bytes,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Journal is an append-only history of transfers, conflicts and failures,
// kept in SQLite. It is diagnostic only; sync decisions never read it.
type Journal struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// OpenJournal opens (creating if needed) the journal database at dbPath and
// applies migrations. Use ":memory:" in tests.
func OpenJournal(ctx context.Context, dbPath string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := dbPath
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
			return nil, fmt.Errorf("savesync: creating journal directory: %w", err)
		}

		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbPath)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("savesync: opening journal %s: %w", dbPath, err)
	}

	// Sole-writer pattern; also keeps a ":memory:" database on one connection.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("journal ready", slog.String("db_path", dbPath))

	return &Journal{db: db, logger: logger, nowFunc: time.Now}, nil
}

// Record appends ev. A zero RecordedAt is set to now.
func (j *Journal) Record(ctx context.Context, ev Event) error {
	if ev.RecordedAt.IsZero() {
		ev.RecordedAt = j.nowFunc()
	}

	_, err := j.db.ExecContext(ctx, sqlInsertEvent,
		ev.RunID, ev.EntityID, ev.FileName, ev.Kind, ev.Detail, ev.Bytes, ev.RecordedAt.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("savesync: recording %s event: %w", ev.Kind, err)
	}

	return nil
}

// Recent returns up to limit events, newest first. An empty entityID
// returns events for all entities.
func (j *Journal) Recent(ctx context.Context, entityID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	rows, err := j.db.QueryContext(ctx, sqlRecentEvents, entityID, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("savesync: querying journal: %w", err)
	}
	defer rows.Close()

	var events []Event

	for rows.Next() {
		var (
			ev Event
			ns int64
		)

		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.EntityID, &ev.FileName, &ev.Kind, &ev.Detail, &ev.Bytes, &ns); err != nil {
			return nil, fmt.Errorf("savesync: scanning journal row: %w", err)
		}

		ev.RecordedAt = time.Unix(0, ns).UTC()
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("savesync: iterating journal: %w", err)
	}

	return events, nil
}

// Close releases the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
