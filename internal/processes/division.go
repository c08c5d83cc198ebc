package processes

import (
	"fmt"

	"microcosm/internal/process"
	"microcosm/internal/store"
)

// Division watches a per-agent divide flag and, once it is raised, issues a
// division directive that retires the mother and installs two daughters. The
// daughters' process networks come from a compartment so each is born with
// its own fresh processes; their state comes from dividing the mother's.
type Division struct {
	process.Deriver
	agentID      string
	compartment  process.Compartment
	daughterPath store.Path
}

// NewDivision builds a Division. The config must carry "agent_id" (the
// mother's name under the agents store) and "compartment" (a
// process.Compartment used to generate daughter networks); "daughter_path"
// optionally nests each daughter's network below its agent node.
func NewDivision(config map[string]any) (store.Process, error) {
	compartment, ok := config["compartment"].(process.Compartment)
	if !ok {
		return nil, fmt.Errorf("division requires a compartment to generate daughters")
	}
	agentID := process.String(config, "agent_id", "")
	if agentID == "" {
		return nil, fmt.Errorf("division requires an agent_id")
	}
	return &Division{
		agentID:      agentID,
		compartment:  compartment,
		daughterPath: store.Path(process.Strings(config, "daughter_path")),
	}, nil
}

func (d *Division) PortsSchema() *store.Schema {
	return &store.Schema{Children: map[string]*store.Schema{
		"global": {Children: map[string]*store.Schema{
			"divide": {Default: false, Updater: "set", Divider: "zero"},
		}},
		"agents": {Wildcard: &store.Schema{}},
	}}
}

func (d *Division) NextUpdate(timestep float64, states map[string]any) (store.Update, error) {
	global, _ := states["global"].(map[string]any)
	divide, _ := global["divide"].(bool)
	if !divide {
		return store.Update{}, nil
	}

	var daughters [2]store.DaughterSpec
	for i, id := range daughterIDs(d.agentID) {
		network, err := d.compartment.Generate(map[string]any{"agent_id": id}, store.Path{id})
		if err != nil {
			return nil, fmt.Errorf("generating daughter %q: %w", id, err)
		}
		path := append(store.Path{id}, d.daughterPath...)
		daughters[i] = store.DaughterSpec{
			ID:        id,
			Path:      path,
			Processes: network.Processes,
			Topology:  network.Topology,
		}
	}

	return store.Update{
		"agents": store.Update{"_divide": &store.DivideSpec{
			Mother:    d.agentID,
			Daughters: daughters,
		}},
	}, nil
}

// daughterIDs extends the mother's name, keeping the phylogeny readable in
// the tree: agent "0" divides into "00" and "01".
func daughterIDs(motherID string) [2]string {
	return [2]string{motherID + "0", motherID + "1"}
}
