package emitter

import (
	"fmt"
	"io"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

// WriteArrow writes a timeseries as a single-record Arrow IPC stream: one
// float64 "time" column plus one nullable float64 column per numeric series.
// Non-numeric series are skipped; downstream analysis tools read the stream
// directly.
func WriteArrow(w io.Writer, ts *Timeseries) error {
	type column struct {
		name   string
		values []float64
		valid  []bool
	}
	columns := []column{{name: "time", values: ts.Time, valid: nil}}
	for _, path := range ts.Paths() {
		values, valid, ok := ts.Float64Series(path)
		if !ok {
			continue
		}
		columns = append(columns, column{name: path, values: values, valid: valid})
	}

	fields := make([]arrow.Field, len(columns))
	for i, col := range columns {
		fields[i] = arrow.Field{
			Name:     col.name,
			Type:     arrow.PrimitiveTypes.Float64,
			Nullable: col.valid != nil,
		}
	}
	schema := arrow.NewSchema(fields, nil)

	builder := array.NewRecordBuilder(memory.NewGoAllocator(), schema)
	defer builder.Release()
	for i, col := range columns {
		builder.Field(i).(*array.Float64Builder).AppendValues(col.values, col.valid)
	}
	record := builder.NewRecord()
	defer record.Release()

	writer := ipc.NewWriter(w, ipc.WithSchema(schema))
	if err := writer.Write(record); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write timeseries record: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close timeseries stream: %w", err)
	}
	return nil
}
