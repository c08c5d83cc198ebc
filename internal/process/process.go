// Package process carries the scaffolding shared by process implementations:
// embeddable defaults, a factory library keyed by name, compartment
// generation, and helpers for reading free-form config maps.
package process

import "microcosm/internal/store"

// Base supplies the common defaults for a timer-driven process. Embed it and
// override what differs.
type Base struct {
	Timestep float64
}

// LocalTimestep returns the configured timestep, 1.0 when unset.
func (b Base) LocalTimestep() float64 {
	if b.Timestep > 0 {
		return b.Timestep
	}
	return 1.0
}

func (Base) IsDeriver() bool { return false }

func (Base) Derivers() map[string]store.DeriverSpec { return nil }

// Deriver supplies the defaults for a zero-duration process that runs after
// every applied update batch instead of on a timer.
type Deriver struct{}

func (Deriver) LocalTimestep() float64 { return 0 }

func (Deriver) IsDeriver() bool { return true }

func (Deriver) Derivers() map[string]store.DeriverSpec { return nil }

// DefaultState assembles the state a ports schema declares through its
// defaults, shaped like the schema itself. Variables without a default are
// omitted.
func DefaultState(schema *store.Schema) map[string]any {
	if schema == nil {
		return map[string]any{}
	}
	state := make(map[string]any)
	for name, child := range schema.Children {
		if child == nil {
			continue
		}
		if len(child.Children) > 0 {
			inner := DefaultState(child)
			if len(inner) > 0 {
				state[name] = inner
			}
			continue
		}
		if child.Default != nil {
			state[name] = child.Default
		}
	}
	return state
}
