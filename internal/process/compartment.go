package process

import (
	"fmt"
	"slices"

	"microcosm/internal/store"
)

// sortedMapKeys returns the keys of m in sorted order so iteration is
// deterministic.
func sortedMapKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// Network is a generated process graph: the processes and the topology that
// wires their ports into the tree. It is the payload handed to Generate and
// to division directives.
type Network struct {
	Processes store.Processes
	Topology  store.Topology
}

// Compartment generates a self-contained process network, parameterized by
// config and by the path the network will live at. Implementations are
// factories for whole agents; division directives use them to build fresh
// daughters.
type Compartment interface {
	Generate(config map[string]any, path store.Path) (*Network, error)
}

// AttachDerivers extends a network with the auxiliary derivers its processes
// declare. Each deriver is named after its declaring process, and its ports
// are routed through the declaring process's own topology entries so both
// address the same stores. Symbolic deriver names resolve against lib.
func AttachDerivers(lib *Library, network *Network) error {
	if network.Processes == nil {
		return nil
	}
	if network.Topology == nil {
		network.Topology = store.Topology{}
	}
	return attachDerivers(lib, network.Processes, network.Topology)
}

func attachDerivers(lib *Library, processes store.Processes, topology store.Topology) error {
	for _, name := range sortedMapKeys(processes) {
		entry := processes[name]

		proc, isProcess := entry.(store.Process)
		if !isProcess {
			group, ok := entry.(store.Processes)
			if !ok {
				if raw, isMap := entry.(map[string]any); isMap {
					group = store.Processes(raw)
				} else {
					continue
				}
			}
			subTopology := toTopology(topology[name])
			if subTopology == nil {
				subTopology = store.Topology{}
				topology[name] = subTopology
			}
			if err := attachDerivers(lib, group, subTopology); err != nil {
				return err
			}
			continue
		}

		specs := proc.Derivers()
		if len(specs) == 0 {
			continue
		}
		procTopology := toTopology(topology[name])
		for _, derName := range sortedMapKeys(specs) {
			spec := specs[derName]
			deriver, err := buildDeriver(lib, spec)
			if err != nil {
				return fmt.Errorf("process %q deriver %q: %w", name, derName, err)
			}
			key := name + "_" + derName
			if _, taken := processes[key]; taken {
				return fmt.Errorf("process %q deriver %q: name %q already in use", name, derName, key)
			}
			processes[key] = deriver
			topology[key] = deriverTopology(spec, procTopology)
		}
	}
	return nil
}

func buildDeriver(lib *Library, spec store.DeriverSpec) (store.Process, error) {
	if spec.Factory != nil {
		return spec.Factory(spec.Config)
	}
	if lib == nil {
		return nil, fmt.Errorf("symbolic deriver %q needs a process library", spec.Deriver)
	}
	return lib.Build(spec.Deriver, spec.Config)
}

// toTopology recognizes the map shapes a topology entry may arrive as.
func toTopology(value any) store.Topology {
	switch v := value.(type) {
	case store.Topology:
		return v
	case map[string]any:
		return store.Topology(v)
	default:
		return nil
	}
}

// deriverTopology maps a deriver's ports through the declaring process's
// topology: a deriver port bound to process port p lands wherever p lands.
func deriverTopology(spec store.DeriverSpec, procTopology store.Topology) store.Topology {
	out := store.Topology{}
	for derPort, procPort := range spec.PortMapping {
		if procTopology != nil {
			if entry, ok := procTopology[procPort]; ok {
				out[derPort] = entry
				continue
			}
		}
		out[derPort] = store.Path{procPort}
	}
	return out
}
