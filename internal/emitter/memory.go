package emitter

import "sort"

// InMemory records every emitted record, keeps the history ordered by
// emission, and derives path timeseries from it. It is the default emitter
// and the one tests inspect.
type InMemory struct {
	history       []map[string]any
	configuration []map[string]any
}

// NewInMemory returns an empty in-memory emitter.
func NewInMemory() *InMemory {
	return &InMemory{}
}

func (m *InMemory) Emit(table string, data map[string]any) {
	record := copyMap(data)
	switch table {
	case TableHistory:
		m.history = append(m.history, record)
	case TableConfiguration:
		m.configuration = append(m.configuration, record)
	}
}

// History returns the emitted snapshots in emission order.
func (m *InMemory) History() []map[string]any {
	return m.history
}

// Configuration returns the emitted configuration records.
func (m *InMemory) Configuration() []map[string]any {
	return m.configuration
}

// Timeseries holds one value sequence per emitted leaf path, aligned with
// the shared Time vector. A path missing from a snapshot carries nil at that
// index.
type Timeseries struct {
	Time   []float64
	Values map[string][]any
}

// Paths lists the series paths in sorted order.
func (ts *Timeseries) Paths() []string {
	paths := make([]string, 0, len(ts.Values))
	for path := range ts.Values {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Float64Series returns the series at path as floats when every present
// value is numeric; ok is false otherwise. Missing indices read as valid=false.
func (ts *Timeseries) Float64Series(path string) (values []float64, valid []bool, ok bool) {
	series, exists := ts.Values[path]
	if !exists {
		return nil, nil, false
	}
	values = make([]float64, len(series))
	valid = make([]bool, len(series))
	for i, v := range series {
		switch n := v.(type) {
		case float64:
			values[i] = n
			valid[i] = true
		case int:
			values[i] = float64(n)
			valid[i] = true
		case nil:
		default:
			return nil, nil, false
		}
	}
	return values, valid, true
}

// Timeseries flattens the emitted history into per-path series sharing one
// time vector.
func (m *InMemory) Timeseries() *Timeseries {
	ts := &Timeseries{Values: make(map[string][]any)}
	for _, record := range m.history {
		t, _ := record["time"].(float64)
		ts.Time = append(ts.Time, t)
	}
	for i, record := range m.history {
		flattenInto(ts.Values, "", record, i, len(ts.Time))
	}
	for path, series := range ts.Values {
		for len(series) < len(ts.Time) {
			series = append(series, nil)
		}
		ts.Values[path] = series
	}
	return ts
}

// flattenInto appends every leaf of record under its slash-joined path,
// padding series that skipped earlier snapshots with nil.
func flattenInto(values map[string][]any, prefix string, record map[string]any, index, total int) {
	for key, value := range record {
		if prefix == "" && key == "time" {
			continue
		}
		path := key
		if prefix != "" {
			path = prefix + "/" + key
		}
		if inner, ok := value.(map[string]any); ok {
			flattenInto(values, path, inner, index, total)
			continue
		}
		series := values[path]
		for len(series) < index {
			series = append(series, nil)
		}
		values[path] = append(series, value)
	}
}

func copyMap(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for key, value := range data {
		if inner, ok := value.(map[string]any); ok {
			out[key] = copyMap(inner)
			continue
		}
		out[key] = value
	}
	return out
}
