package emitter

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLite writes emitted records into a SQLite database: history rows keyed
// by experiment id and simulated time, configuration rows by experiment id.
// Insert failures are logged and the record is dropped.
type SQLite struct {
	db           *sql.DB
	experimentID string
	log          *slog.Logger
}

// NewSQLite opens (creating if needed) the database at path and ensures the
// emission tables exist.
func NewSQLite(path, experimentID string, log *slog.Logger) (*SQLite, error) {
	if path == "" {
		path = "experiment.db"
	}
	if log == nil {
		log = slog.Default()
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite works best with single writer

	schema := `
CREATE TABLE IF NOT EXISTS history (
	experiment_id TEXT NOT NULL,
	time REAL NOT NULL,
	data TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_experiment ON history(experiment_id, time);
CREATE TABLE IF NOT EXISTS configuration (
	experiment_id TEXT NOT NULL,
	data TEXT NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLite{db: db, experimentID: experimentID, log: log}, nil
}

func (s *SQLite) Emit(table string, data map[string]any) {
	encoded, err := json.Marshal(data)
	if err != nil {
		s.log.Warn("failed to encode emitted record", "table", table, "error", err)
		return
	}
	switch table {
	case TableHistory:
		t, _ := data["time"].(float64)
		_, err = s.db.Exec(
			"INSERT INTO history (experiment_id, time, data) VALUES (?, ?, ?)",
			s.experimentID, t, string(encoded))
	case TableConfiguration:
		_, err = s.db.Exec(
			"INSERT INTO configuration (experiment_id, data) VALUES (?, ?)",
			s.experimentID, string(encoded))
	default:
		s.log.Warn("emit to unknown table dropped", "table", table)
		return
	}
	if err != nil {
		s.log.Warn("failed to insert emitted record", "table", table, "error", err)
	}
}

// History reads back the snapshots recorded for this experiment in time
// order.
func (s *SQLite) History() ([]map[string]any, error) {
	rows, err := s.db.Query(
		"SELECT data FROM history WHERE experiment_id = ? ORDER BY time",
		s.experimentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var history []map[string]any
	for rows.Next() {
		var encoded string
		if err := rows.Scan(&encoded); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		var record map[string]any
		if err := json.Unmarshal([]byte(encoded), &record); err != nil {
			return nil, fmt.Errorf("failed to decode history row: %w", err)
		}
		history = append(history, record)
	}
	return history, rows.Err()
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
