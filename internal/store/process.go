package store

// Process is the contract every simulation unit implements. Processes are
// external collaborators: the store holds them as atomically replaceable leaf
// values and the scheduler drives them, but the kernel never looks inside
// them beyond this interface.
type Process interface {
	// PortsSchema declares every port and variable the process touches,
	// with default, updater, emit, and divider attributes.
	PortsSchema() *Schema

	// NextUpdate is a pure function of a snapshot and an interval. The
	// states map mirrors the ports schema; the returned update is pure
	// data and must not hold references into the snapshot.
	NextUpdate(timestep float64, states map[string]any) (Update, error)

	// LocalTimestep reports the process's preferred timestep.
	LocalTimestep() float64

	// IsDeriver reports whether this process runs with a zero-length
	// interval after every applied update batch instead of on a timer.
	IsDeriver() bool

	// Derivers names the auxiliary zero-duration processes this process
	// requires, keyed by deriver instance name.
	Derivers() map[string]DeriverSpec
}

// ProcessFactory builds a process from free-form parameters.
type ProcessFactory func(config map[string]any) (Process, error)

// DeriverSpec names one auxiliary deriver a process requires: a factory (or a
// symbolic name resolved against a process library), a port remapping from
// the deriver's ports to the declaring process's ports, and its own config.
type DeriverSpec struct {
	Deriver     string
	Factory     ProcessFactory
	PortMapping map[string]string
	Config      map[string]any
}

// Processes is a possibly nested group of named processes. Values are either
// Process implementations or nested Processes groups, mirroring hierarchical
// compartments.
type Processes map[string]any
