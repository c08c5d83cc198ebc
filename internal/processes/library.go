package processes

import "microcosm/internal/process"

// DefaultLibrary returns a process library preloaded with the built-in
// processes that can be built from plain config. Division is absent: it
// needs a live compartment, so it is only reachable through GrowthDivision.
func DefaultLibrary() *process.Library {
	lib := process.NewLibrary()
	lib.Register("growth", NewGrowth)
	lib.Register("mass_deriver", NewMassDeriver)
	return lib
}
