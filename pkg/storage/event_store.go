package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dougsko/asiod/pkg/asio"
	"github.com/dougsko/asiod/pkg/logging"
	_ "github.com/mattn/go-sqlite3"
)

// EventStore journals relayed driver events and stream sessions in SQLite
type EventStore struct {
	db        *sql.DB
	dbPath    string
	maxEvents int
}

// NewEventStore opens (or creates) the journal at dbPath. maxEvents <= 0
// disables trimming.
func NewEventStore(dbPath string, maxEvents int) (*EventStore, error) {
	store := &EventStore{
		dbPath:    dbPath,
		maxEvents: maxEvents,
	}

	if err := store.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize event store: %w", err)
	}

	return store, nil
}

func (es *EventStore) initialize() error {
	if es.dbPath == "" {
		es.dbPath = "./asiod.db"
	}
	if es.dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(es.dbPath), 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", es.dbPath+"?_busy_timeout=10000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection keeps :memory: databases shared
	db.SetMaxOpenConns(1)
	es.db = db

	if err := es.createTables(); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	if err := es.createIndexes(); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	logging.Info("storage", fmt.Sprintf("Event store initialized: %s (max %d events)", es.dbPath, es.maxEvents))
	return nil
}

func (es *EventStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS stream_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device INTEGER NOT NULL,
		driver TEXT NOT NULL,
		frames INTEGER NOT NULL,
		sample_rate REAL NOT NULL,
		input_channels TEXT NOT NULL DEFAULT '',
		output_channels TEXT NOT NULL DEFAULT '',
		opened_at DATETIME NOT NULL,
		closed_at DATETIME,
		close_reason TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS driver_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER,
		seq INTEGER NOT NULL,
		timestamp DATETIME NOT NULL,
		device INTEGER NOT NULL,
		driver TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL,
		code INTEGER NOT NULL,
		direction TEXT NOT NULL CHECK (direction IN ('input', 'output')),
		value INTEGER NOT NULL DEFAULT 0,
		sample_rate REAL NOT NULL DEFAULT 0,
		handled BOOLEAN NOT NULL DEFAULT FALSE,
		requires_reset BOOLEAN NOT NULL DEFAULT FALSE,
		FOREIGN KEY (session_id) REFERENCES stream_sessions(id) ON DELETE SET NULL
	);

	CREATE TABLE IF NOT EXISTS event_stats (
		id INTEGER PRIMARY KEY,
		total_events INTEGER NOT NULL DEFAULT 0,
		total_reset_class INTEGER NOT NULL DEFAULT 0,
		total_unrecognized INTEGER NOT NULL DEFAULT 0,
		total_sessions INTEGER NOT NULL DEFAULT 0,
		last_cleanup DATETIME,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	INSERT OR IGNORE INTO event_stats (id) VALUES (1);
	`

	_, err := es.db.Exec(schema)
	return err
}

func (es *EventStore) createIndexes() error {
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_events_timestamp ON driver_events(timestamp DESC)",
		"CREATE INDEX IF NOT EXISTS idx_events_kind ON driver_events(kind)",
		"CREATE INDEX IF NOT EXISTS idx_events_device ON driver_events(device)",
		"CREATE INDEX IF NOT EXISTS idx_events_session ON driver_events(session_id)",
		"CREATE INDEX IF NOT EXISTS idx_sessions_opened ON stream_sessions(opened_at DESC)",
	}

	for _, indexSQL := range indexes {
		if _, err := es.db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// Session describes one open stream
type Session struct {
	ID             int64                 `json:"id"`
	Device         int                   `json:"device"`
	Driver         string                `json:"driver"`
	Frames         int                   `json:"frames"`
	SampleRate     float64               `json:"sample_rate"`
	InputChannels  asio.ChannelSelection `json:"input_channels"`
	OutputChannels asio.ChannelSelection `json:"output_channels"`
	OpenedAt       time.Time             `json:"opened_at"`
	ClosedAt       *time.Time            `json:"closed_at,omitempty"`
	CloseReason    string                `json:"close_reason,omitempty"`
}

// StartSession records a newly opened stream and returns its id
func (es *EventStore) StartSession(s Session) (int64, error) {
	if s.OpenedAt.IsZero() {
		s.OpenedAt = time.Now()
	}

	tx, err := es.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		INSERT INTO stream_sessions (
			device, driver, frames, sample_rate, input_channels, output_channels, opened_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.Device, s.Driver, s.Frames, s.SampleRate,
		formatSelection(s.InputChannels), formatSelection(s.OutputChannels), s.OpenedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert session: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get session ID: %w", err)
	}

	if _, err := tx.Exec(`UPDATE event_stats SET total_sessions = total_sessions + 1,
		updated_at = CURRENT_TIMESTAMP WHERE id = 1`); err != nil {
		return 0, fmt.Errorf("failed to update stats: %w", err)
	}

	return id, tx.Commit()
}

// EndSession marks a session closed
func (es *EventStore) EndSession(id int64, reason string) error {
	result, err := es.db.Exec(`UPDATE stream_sessions SET closed_at = ?, close_reason = ?
		WHERE id = ? AND closed_at IS NULL`, time.Now(), reason, id)
	if err != nil {
		return fmt.Errorf("failed to close session %d: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("session %d not found or already closed", id)
	}
	return nil
}

// StoreEvent appends one relayed event. sessionID 0 stores it without a session.
func (es *EventStore) StoreEvent(sessionID int64, device int, driverName string, rec asio.EventRecord) error {
	tx, err := es.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var session interface{}
	if sessionID > 0 {
		session = sessionID
	}
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}

	_, err = tx.Exec(`
		INSERT INTO driver_events (
			session_id, seq, timestamp, device, driver, kind, code,
			direction, value, sample_rate, handled, requires_reset
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session, rec.Seq, rec.Time, device, driverName, rec.Kind.String(), rec.Code,
		rec.Direction.String(), rec.Value, rec.SampleRate, rec.Handled, rec.Kind.RequiresReset(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	if err := es.updateStats(tx, rec.Kind); err != nil {
		return fmt.Errorf("failed to update stats: %w", err)
	}

	if err := es.cleanupOldEvents(tx); err != nil {
		logging.Warn("storage", fmt.Sprintf("Failed to cleanup old events: %v", err))
	}

	return tx.Commit()
}

func (es *EventStore) updateStats(tx *sql.Tx, kind asio.MessageType) error {
	_, err := tx.Exec(`
		UPDATE event_stats SET
			total_events = total_events + 1,
			total_reset_class = total_reset_class + ?,
			total_unrecognized = total_unrecognized + ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = 1`,
		boolInt(kind.RequiresReset()), boolInt(kind == asio.Unrecognized),
	)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// CleanupOldEvents trims the journal to maxEvents
func (es *EventStore) CleanupOldEvents() error {
	tx, err := es.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := es.cleanupOldEvents(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (es *EventStore) cleanupOldEvents(tx *sql.Tx) error {
	if es.maxEvents <= 0 {
		return nil
	}

	var count int
	if err := tx.QueryRow("SELECT COUNT(*) FROM driver_events").Scan(&count); err != nil {
		return err
	}
	if count <= es.maxEvents {
		return nil
	}

	_, err := tx.Exec(`
		DELETE FROM driver_events
		WHERE id IN (
			SELECT id FROM driver_events
			ORDER BY id ASC
			LIMIT ?
		)`, count-es.maxEvents)
	if err != nil {
		return err
	}

	_, err = tx.Exec("UPDATE event_stats SET last_cleanup = CURRENT_TIMESTAMP WHERE id = 1")
	return err
}

// Close closes the database connection
func (es *EventStore) Close() error {
	if es.db != nil {
		return es.db.Close()
	}
	return nil
}

func formatSelection(sel asio.ChannelSelection) string {
	parts := make([]string, len(sel))
	for i, ch := range sel {
		parts[i] = strconv.Itoa(ch)
	}
	return strings.Join(parts, ",")
}

func parseSelection(s string) asio.ChannelSelection {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	sel := make(asio.ChannelSelection, 0, len(parts))
	for _, p := range parts {
		if ch, err := strconv.Atoi(p); err == nil {
			sel = append(sel, ch)
		}
	}
	return sel
}
