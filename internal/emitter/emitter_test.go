package emitter

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/apache/arrow/go/v17/arrow/ipc"
)

func TestNewSelectsEmitter(t *testing.T) {
	tests := []struct {
		cfg     Config
		want    string
		wantErr bool
	}{
		{Config{Type: ""}, "*emitter.InMemory", false},
		{Config{Type: "memory"}, "*emitter.InMemory", false},
		{Config{Type: "null"}, "emitter.Null", false},
		{Config{Type: "log"}, "*emitter.Log", false},
		{Config{Type: "warp"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.cfg.Type, func(t *testing.T) {
			e, err := New(tt.cfg, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got := reflect.TypeOf(e).String(); got != tt.want {
				t.Errorf("New() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestInMemoryTimeseries(t *testing.T) {
	m := NewInMemory()
	m.Emit(TableConfiguration, map[string]any{"experiment_id": "test"})
	m.Emit(TableHistory, map[string]any{
		"time":   0.0,
		"global": map[string]any{"mass": 1.0},
	})
	m.Emit(TableHistory, map[string]any{
		"time":   1.0,
		"global": map[string]any{"mass": 2.0, "phase": "growth"},
	})
	m.Emit(TableHistory, map[string]any{
		"time":   2.0,
		"global": map[string]any{"mass": 4.0, "phase": "growth"},
	})

	if got := len(m.Configuration()); got != 1 {
		t.Errorf("Configuration() has %d records, want 1", got)
	}

	ts := m.Timeseries()
	if !reflect.DeepEqual(ts.Time, []float64{0.0, 1.0, 2.0}) {
		t.Errorf("Time = %v", ts.Time)
	}
	if got := ts.Values["global/mass"]; !reflect.DeepEqual(got, []any{1.0, 2.0, 4.0}) {
		t.Errorf("global/mass series = %v", got)
	}
	// phase was absent from the first snapshot: padded with nil.
	if got := ts.Values["global/phase"]; !reflect.DeepEqual(got, []any{nil, "growth", "growth"}) {
		t.Errorf("global/phase series = %v", got)
	}

	values, valid, ok := ts.Float64Series("global/mass")
	if !ok {
		t.Fatalf("global/mass not numeric")
	}
	if !reflect.DeepEqual(values, []float64{1.0, 2.0, 4.0}) || !valid[0] {
		t.Errorf("Float64Series = %v %v", values, valid)
	}
	if _, _, ok := ts.Float64Series("global/phase"); ok {
		t.Errorf("string series reported as numeric")
	}
}

func TestJSONLEmitter(t *testing.T) {
	dir := t.TempDir()
	e, err := NewJSONL(dir, "exp1", nil)
	if err != nil {
		t.Fatalf("NewJSONL() error = %v", err)
	}
	e.Emit(TableHistory, map[string]any{"time": 0.0, "mass": 1.0})
	e.Emit(TableHistory, map[string]any{"time": 1.0, "mass": 2.0})
	e.Emit(TableConfiguration, map[string]any{"experiment_id": "exp1"})
	if err := e.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	f, err := os.Open(filepath.Join(dir, "history.jsonl"))
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	defer f.Close()
	var lines []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var record map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			t.Fatalf("decode line: %v", err)
		}
		lines = append(lines, record)
	}
	if len(lines) != 2 {
		t.Fatalf("history has %d lines, want 2", len(lines))
	}
	if lines[0]["experiment_id"] != "exp1" {
		t.Errorf("experiment_id = %v", lines[0]["experiment_id"])
	}
	data := lines[1]["data"].(map[string]any)
	if data["mass"] != 2.0 {
		t.Errorf("second record mass = %v, want 2.0", data["mass"])
	}
}

func TestSQLiteEmitterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.db")
	e, err := NewSQLite(path, "exp1", nil)
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	defer e.Close()

	e.Emit(TableConfiguration, map[string]any{"experiment_id": "exp1"})
	e.Emit(TableHistory, map[string]any{"time": 0.0, "mass": 1.0})
	e.Emit(TableHistory, map[string]any{"time": 1.5, "mass": 3.0})

	history, err := e.History()
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("History() has %d rows, want 2", len(history))
	}
	if history[1]["time"] != 1.5 || history[1]["mass"] != 3.0 {
		t.Errorf("second row = %v", history[1])
	}
}

func TestWriteArrow(t *testing.T) {
	ts := &Timeseries{
		Time: []float64{0.0, 1.0},
		Values: map[string][]any{
			"global/mass":  {1.0, 2.0},
			"global/phase": {"lag", "growth"},
			"counts":       {nil, 5},
		},
	}

	var buf bytes.Buffer
	if err := WriteArrow(&buf, ts); err != nil {
		t.Fatalf("WriteArrow() error = %v", err)
	}

	reader, err := ipc.NewReader(&buf)
	if err != nil {
		t.Fatalf("NewReader() error = %v", err)
	}
	defer reader.Release()

	schema := reader.Schema()
	var names []string
	for _, field := range schema.Fields() {
		names = append(names, field.Name)
	}
	want := []string{"time", "counts", "global/mass"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("columns = %v, want %v", names, want)
	}

	if !reader.Next() {
		t.Fatalf("stream holds no record")
	}
	record := reader.Record()
	if record.NumRows() != 2 {
		t.Errorf("record has %d rows, want 2", record.NumRows())
	}
	if record.Column(0).IsNull(0) {
		t.Errorf("time column has an unexpected null")
	}
	if !record.Column(1).IsNull(0) {
		t.Errorf("counts[0] should be null for the missing sample")
	}
}
