// Package emitter provides the snapshot sinks an experiment writes to:
// discard, structured log, in-memory (with timeseries export), append-only
// JSONL files, and SQLite. Emitters absorb their own failures; a sink that
// cannot write logs the problem and drops the record rather than aborting
// the simulation.
package emitter

import (
	"fmt"
	"log/slog"
)

// Tables an experiment emits to.
const (
	// TableHistory holds one snapshot per emission, tagged with simulated
	// time under the "time" key.
	TableHistory = "history"
	// TableConfiguration holds the one-time run metadata record.
	TableConfiguration = "configuration"
)

// Emitter receives emitted records. Implementations must not retain or
// mutate data after Emit returns.
type Emitter interface {
	Emit(table string, data map[string]any)
}

// Config selects and parameterizes an emitter.
type Config struct {
	// Type is one of "null", "log", "memory", "jsonl", "sqlite".
	// Empty defaults to "memory".
	Type string `yaml:"type"`

	// Path is the output file for jsonl (a directory) and sqlite (the
	// database file).
	Path string `yaml:"path"`

	// ExperimentID tags every record written by the jsonl and sqlite
	// emitters.
	ExperimentID string `yaml:"-"`
}

// New builds the emitter cfg selects. log may be nil.
func New(cfg Config, log *slog.Logger) (Emitter, error) {
	switch cfg.Type {
	case "", "memory":
		return NewInMemory(), nil
	case "null":
		return Null{}, nil
	case "log":
		return NewLog(log), nil
	case "jsonl":
		return NewJSONL(cfg.Path, cfg.ExperimentID, log)
	case "sqlite":
		return NewSQLite(cfg.Path, cfg.ExperimentID, log)
	default:
		return nil, fmt.Errorf("unknown emitter type %q", cfg.Type)
	}
}

// Close releases an emitter's resources when it holds any. Emitters without
// resources close as a no-op.
func Close(e Emitter) error {
	if closer, ok := e.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// Null discards everything.
type Null struct{}

func (Null) Emit(string, map[string]any) {}

// Log writes every record to a structured logger at debug level.
type Log struct {
	log *slog.Logger
}

// NewLog returns a Log emitter; a nil logger means slog.Default().
func NewLog(log *slog.Logger) *Log {
	if log == nil {
		log = slog.Default()
	}
	return &Log{log: log}
}

func (l *Log) Emit(table string, data map[string]any) {
	l.log.Debug("emit", "table", table, "data", data)
}
