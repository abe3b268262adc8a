package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DBName is the database file created in the data directory
const DBName = "drivewatch.db"

// Cycle statuses
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Manager persists the committed cursor of each watched root and the
// history of poll cycles
type Manager struct {
	db *sql.DB
}

// CycleRecord represents a single poll cycle
type CycleRecord struct {
	ID             string
	RootID         string
	StartTime      time.Time
	EndTime        time.Time
	Status         string // "success" or "failed"
	Events         int
	Folders        int
	Pages          int
	PreviousCursor time.Time
	Cursor         time.Time
	Error          string
}

// Checkpoint is the last committed cursor of a root
type Checkpoint struct {
	RootID    string
	Cursor    time.Time
	UpdatedAt time.Time
}

// NewManager creates a new state manager
func NewManager(dataDir string) (*Manager, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("data directory cannot be empty")
	}

	// Ensure directory exists
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DBName)
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Limit connection pool to prevent "database is locked" errors
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Enable WAL mode for better concurrency and set busy timeout
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode and busy timeout: %w", err)
	}

	manager := &Manager{db: db}

	if err := manager.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return manager, nil
}

// initSchema creates the database schema. Timestamps are stored as
// RFC 3339 text with nanoseconds so cursors round-trip exactly.
func (m *Manager) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cursors (
		root_id TEXT PRIMARY KEY,
		cursor TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cycles (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL,
		root_id TEXT NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		status TEXT NOT NULL,
		events INTEGER DEFAULT 0,
		folders INTEGER DEFAULT 0,
		pages INTEGER DEFAULT 0,
		previous_cursor TEXT NOT NULL,
		cursor TEXT NOT NULL,
		error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_cycles_root_time ON cycles(root_id, start_time DESC);
	CREATE INDEX IF NOT EXISTS idx_cycles_status ON cycles(status);
	`

	_, err := m.db.Exec(schema)
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// SaveCursor commits the cursor of rootID. A cursor older than the stored
// one is ignored so the checkpoint only moves forward.
func (m *Manager) SaveCursor(rootID string, cursor time.Time) error {
	if rootID == "" {
		return fmt.Errorf("root id cannot be empty")
	}

	current, ok, err := m.LoadCursor(rootID)
	if err != nil {
		return err
	}
	if ok && !cursor.After(current) {
		return nil
	}

	query := `
		INSERT INTO cursors (root_id, cursor, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(root_id) DO UPDATE SET cursor = excluded.cursor, updated_at = excluded.updated_at
	`
	if _, err := m.db.Exec(query, rootID, formatTime(cursor), formatTime(time.Now())); err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

// LoadCursor returns the committed cursor of rootID. ok is false if none
// was saved yet.
func (m *Manager) LoadCursor(rootID string) (time.Time, bool, error) {
	var raw string
	err := m.db.QueryRow(`SELECT cursor FROM cursors WHERE root_id = ?`, rootID).Scan(&raw)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to load cursor: %w", err)
	}

	cursor, err := parseTime(raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("corrupt cursor for %s: %w", rootID, err)
	}
	return cursor, true, nil
}

// Checkpoints lists the committed cursor of every root
func (m *Manager) Checkpoints() ([]Checkpoint, error) {
	rows, err := m.db.Query(`SELECT root_id, cursor, updated_at FROM cursors ORDER BY root_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query cursors: %w", err)
	}
	defer rows.Close()

	var checkpoints []Checkpoint
	for rows.Next() {
		var cp Checkpoint
		var cursor, updated string
		if err := rows.Scan(&cp.RootID, &cursor, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan cursor: %w", err)
		}
		if cp.Cursor, err = parseTime(cursor); err != nil {
			return nil, fmt.Errorf("corrupt cursor for %s: %w", cp.RootID, err)
		}
		cp.UpdatedAt, _ = parseTime(updated)
		checkpoints = append(checkpoints, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cursors: %w", err)
	}
	return checkpoints, nil
}

// SaveCycle records a poll cycle
func (m *Manager) SaveCycle(record CycleRecord) error {
	if record.Status != StatusSuccess && record.Status != StatusFailed {
		return fmt.Errorf("invalid status: %s (must be 'success' or 'failed')", record.Status)
	}
	if record.RootID == "" {
		return fmt.Errorf("root id cannot be empty")
	}

	query := `
		INSERT INTO cycles (id, root_id, start_time, end_time, status, events, folders, pages, previous_cursor, cursor, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := m.db.Exec(query,
		record.ID,
		record.RootID,
		formatTime(record.StartTime),
		formatTime(record.EndTime),
		record.Status,
		record.Events,
		record.Folders,
		record.Pages,
		formatTime(record.PreviousCursor),
		formatTime(record.Cursor),
		record.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to save cycle record: %w", err)
	}

	return nil
}

const cycleColumns = `id, root_id, start_time, end_time, status, events, folders, pages, previous_cursor, cursor, error`

// GetHistory retrieves cycle history for a root, newest first. An empty
// rootID returns every root.
func (m *Manager) GetHistory(rootID string, limit int) ([]CycleRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	var (
		rows *sql.Rows
		err  error
	)
	if rootID == "" {
		rows, err = m.db.Query(`SELECT `+cycleColumns+` FROM cycles ORDER BY seq DESC LIMIT ?`, limit)
	} else {
		rows, err = m.db.Query(`SELECT `+cycleColumns+` FROM cycles WHERE root_id = ? ORDER BY seq DESC LIMIT ?`, rootID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var records []CycleRecord
	for rows.Next() {
		record, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}

	return records, nil
}

// GetLastSuccess retrieves the last successful cycle of a root
func (m *Manager) GetLastSuccess(rootID string) (*CycleRecord, error) {
	row := m.db.QueryRow(`SELECT `+cycleColumns+` FROM cycles
		WHERE root_id = ? AND status = 'success'
		ORDER BY seq DESC LIMIT 1`, rootID)

	record, err := scanCycle(row)
	if err == sql.ErrNoRows {
		return nil, nil // No successful cycle found
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCycle(s scanner) (CycleRecord, error) {
	var (
		record                         CycleRecord
		start, end, prevCursor, cursor string
		errText                        sql.NullString
	)
	err := s.Scan(
		&record.ID,
		&record.RootID,
		&start,
		&end,
		&record.Status,
		&record.Events,
		&record.Folders,
		&record.Pages,
		&prevCursor,
		&cursor,
		&errText,
	)
	if err == sql.ErrNoRows {
		return CycleRecord{}, err
	}
	if err != nil {
		return CycleRecord{}, fmt.Errorf("failed to scan record: %w", err)
	}

	record.StartTime, _ = parseTime(start)
	record.EndTime, _ = parseTime(end)
	record.PreviousCursor, _ = parseTime(prevCursor)
	record.Cursor, _ = parseTime(cursor)
	record.Error = errText.String
	return record, nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
