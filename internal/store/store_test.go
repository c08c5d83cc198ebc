package store

import (
	"testing"
)

// stubProcess is a minimal Process for wiring tests. It declares a fixed
// ports schema and returns a canned update.
type stubProcess struct {
	schema   *Schema
	update   Update
	timestep float64
	deriver  bool
}

func (p *stubProcess) PortsSchema() *Schema { return p.schema }

func (p *stubProcess) NextUpdate(timestep float64, states map[string]any) (Update, error) {
	return p.update, nil
}

func (p *stubProcess) LocalTimestep() float64 {
	if p.timestep > 0 {
		return p.timestep
	}
	return 1.0
}

func (p *stubProcess) IsDeriver() bool { return p.deriver }

func (p *stubProcess) Derivers() map[string]DeriverSpec { return nil }

func newTestRoot(t *testing.T, schema *Schema) *Node {
	t.Helper()
	root, err := NewRoot(NewEnv(nil, 1, nil), schema)
	if err != nil {
		t.Fatalf("NewRoot() error = %v", err)
	}
	root.ApplyDefaults()
	return root
}
