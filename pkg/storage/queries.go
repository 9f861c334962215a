package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dougsko/asiod/pkg/asio"
)

// EventQuery filters journal reads
type EventQuery struct {
	Limit     int
	Offset    int
	Since     *time.Time
	Until     *time.Time
	Device    *int
	SessionID int64
	Kind      string // MessageType name, "" for all
	ResetOnly bool
}

// StoredEvent is a journaled driver event
type StoredEvent struct {
	ID            int64            `json:"id"`
	SessionID     int64            `json:"session_id,omitempty"`
	Device        int              `json:"device"`
	Driver        string           `json:"driver"`
	RequiresReset bool             `json:"requires_reset"`
	Record        asio.EventRecord `json:"record"`
}

// EventStats are the journal's running totals
type EventStats struct {
	TotalEvents       int            `json:"total_events"`
	TotalResetClass   int            `json:"total_reset_class"`
	TotalUnrecognized int            `json:"total_unrecognized"`
	TotalSessions     int            `json:"total_sessions"`
	Stored            int            `json:"stored"`
	ByKind            map[string]int `json:"by_kind"`
	LastCleanup       *time.Time     `json:"last_cleanup,omitempty"`
}

// GetEvents retrieves events newest first
func (es *EventStore) GetEvents(query EventQuery) ([]StoredEvent, error) {
	var args []interface{}
	sqlQuery := `
		SELECT id, COALESCE(session_id, 0), seq, timestamp, device, driver, kind, code,
			   direction, value, sample_rate, handled, requires_reset
		FROM driver_events
		WHERE 1=1
	`

	if query.Since != nil {
		sqlQuery += " AND timestamp >= ?"
		args = append(args, *query.Since)
	}
	if query.Until != nil {
		sqlQuery += " AND timestamp <= ?"
		args = append(args, *query.Until)
	}
	if query.Device != nil {
		sqlQuery += " AND device = ?"
		args = append(args, *query.Device)
	}
	if query.SessionID > 0 {
		sqlQuery += " AND session_id = ?"
		args = append(args, query.SessionID)
	}
	if query.Kind != "" {
		sqlQuery += " AND kind = ?"
		args = append(args, query.Kind)
	}
	if query.ResetOnly {
		sqlQuery += " AND requires_reset = TRUE"
	}

	sqlQuery += " ORDER BY id DESC"
	if query.Limit > 0 {
		sqlQuery += " LIMIT ?"
		args = append(args, query.Limit)
		if query.Offset > 0 {
			sqlQuery += " OFFSET ?"
			args = append(args, query.Offset)
		}
	}

	rows, err := es.db.Query(sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []StoredEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func scanEvent(rows *sql.Rows) (StoredEvent, error) {
	var (
		ev        StoredEvent
		kind, dir string
	)
	err := rows.Scan(
		&ev.ID, &ev.SessionID, &ev.Record.Seq, &ev.Record.Time, &ev.Device, &ev.Driver,
		&kind, &ev.Record.Code, &dir, &ev.Record.Value, &ev.Record.SampleRate,
		&ev.Record.Handled, &ev.RequiresReset,
	)
	if err != nil {
		return StoredEvent{}, err
	}
	ev.Record.Kind, _ = asio.ParseMessageType(kind)
	ev.Record.Direction, err = asio.ParseDirection(dir)
	return ev, err
}

// GetRecentEvents returns the newest limit events
func (es *EventStore) GetRecentEvents(limit int) ([]StoredEvent, error) {
	return es.GetEvents(EventQuery{Limit: limit})
}

// GetEventStats returns totals plus a per-kind count of stored events
func (es *EventStore) GetEventStats() (EventStats, error) {
	var (
		stats   EventStats
		cleanup sql.NullTime
	)
	err := es.db.QueryRow(`
		SELECT total_events, total_reset_class, total_unrecognized, total_sessions, last_cleanup
		FROM event_stats WHERE id = 1`).Scan(
		&stats.TotalEvents, &stats.TotalResetClass, &stats.TotalUnrecognized,
		&stats.TotalSessions, &cleanup,
	)
	if err != nil {
		return EventStats{}, fmt.Errorf("failed to read stats: %w", err)
	}
	if cleanup.Valid {
		stats.LastCleanup = &cleanup.Time
	}

	rows, err := es.db.Query("SELECT kind, COUNT(*) FROM driver_events GROUP BY kind")
	if err != nil {
		return EventStats{}, fmt.Errorf("failed to count events: %w", err)
	}
	defer rows.Close()

	stats.ByKind = make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return EventStats{}, err
		}
		stats.ByKind[kind] = n
		stats.Stored += n
	}
	return stats, rows.Err()
}

// GetSessions returns stream sessions newest first
func (es *EventStore) GetSessions(limit int) ([]Session, error) {
	sqlQuery := `
		SELECT id, device, driver, frames, sample_rate, input_channels, output_channels,
			   opened_at, closed_at, close_reason
		FROM stream_sessions
		ORDER BY id DESC`
	var args []interface{}
	if limit > 0 {
		sqlQuery += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := es.db.Query(sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var (
			s       Session
			in, out string
			closed  sql.NullTime
		)
		if err := rows.Scan(&s.ID, &s.Device, &s.Driver, &s.Frames, &s.SampleRate,
			&in, &out, &s.OpenedAt, &closed, &s.CloseReason); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		s.InputChannels = parseSelection(in)
		s.OutputChannels = parseSelection(out)
		if closed.Valid {
			s.ClosedAt = &closed.Time
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// CountEvents returns how many stored events have the given kind name
func (es *EventStore) CountEvents(kind string) (int, error) {
	var n int
	err := es.db.QueryRow("SELECT COUNT(*) FROM driver_events WHERE kind = ?", kind).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}
