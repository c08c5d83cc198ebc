package store

import "fmt"

// ConfigurationError reports a schema or topology problem: reserved-name
// collisions, leaf/branch conflicts, unresolvable value conflicts, or a
// topology that does not line up with its schema. It is always fatal and is
// raised at wiring time whenever possible.
type ConfigurationError struct {
	Path Path
	Msg  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error at %q: %s", e.Path.String(), e.Msg)
}

// DivisionError reports a failed division: a terminal leaf with no resolvable
// divider, or a divider handed a value of an unsupported type. It is fatal at
// the moment division is attempted.
type DivisionError struct {
	Path Path
	Msg  string
}

func (e *DivisionError) Error() string {
	return fmt.Sprintf("division error at %q: %s", e.Path.String(), e.Msg)
}

// SchedulingInvariantError reports a broken scheduler invariant: a process
// front that fails to reach the terminal time, or a timer-driven process
// declaring a non-positive timestep. It indicates a wiring bug, never a
// transient condition.
type SchedulingInvariantError struct {
	Path Path
	Msg  string
}

func (e *SchedulingInvariantError) Error() string {
	return fmt.Sprintf("scheduling invariant violated at %q: %s", e.Path.String(), e.Msg)
}
