package emitter

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// JSONL appends one JSON record per line to <dir>/history.jsonl and
// <dir>/configuration.jsonl. Write failures are logged and the record is
// dropped.
type JSONL struct {
	experimentID string
	log          *slog.Logger
	files        map[string]*os.File
}

// NewJSONL opens (creating if needed) the per-table JSONL files under dir.
func NewJSONL(dir, experimentID string, log *slog.Logger) (*JSONL, error) {
	if dir == "" {
		dir = "."
	}
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create emitter directory: %w", err)
	}
	files := make(map[string]*os.File, 2)
	for _, table := range []string{TableHistory, TableConfiguration} {
		path := filepath.Join(dir, table+".jsonl")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			for _, open := range files {
				open.Close()
			}
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		files[table] = f
	}
	return &JSONL{experimentID: experimentID, log: log, files: files}, nil
}

func (j *JSONL) Emit(table string, data map[string]any) {
	f, ok := j.files[table]
	if !ok {
		j.log.Warn("emit to unknown table dropped", "table", table)
		return
	}
	record := map[string]any{
		"experiment_id": j.experimentID,
		"data":          data,
	}
	line, err := json.Marshal(record)
	if err != nil {
		j.log.Warn("failed to encode emitted record", "table", table, "error", err)
		return
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		j.log.Warn("failed to write emitted record", "table", table, "error", err)
	}
}

// Close flushes and closes the table files.
func (j *JSONL) Close() error {
	var firstErr error
	for _, f := range j.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
