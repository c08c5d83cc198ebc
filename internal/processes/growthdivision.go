package processes

import (
	"fmt"

	"microcosm/internal/process"
	"microcosm/internal/store"
)

// GrowthDivision is a compartment pairing a Growth process with a Division
// deriver, plus the mass deriver Growth declares. Generated under an agents
// store it yields a population that grows, divides, and grows again, with
// every structural directive exercised along the way.
type GrowthDivision struct {
	globalPath   store.Path
	agentsPath   store.Path
	daughterPath store.Path
	growth       map[string]any
	division     map[string]any
}

// NewGrowthDivision builds the compartment. Config keys global_path,
// agents_path, and daughter_path adjust the wiring (defaults assume the
// network is generated directly at agents/<id>); "growth" and "division" are
// passed through to the member processes.
func NewGrowthDivision(config map[string]any) *GrowthDivision {
	c := &GrowthDivision{
		globalPath: store.Path{"global"},
		agentsPath: store.Path{".."},
		growth:     process.Map(config, "growth"),
		division:   process.Map(config, "division"),
	}
	if raw := process.Strings(config, "global_path"); raw != nil {
		c.globalPath = store.Path(raw)
	}
	if raw := process.Strings(config, "agents_path"); raw != nil {
		c.agentsPath = store.Path(raw)
	}
	if raw := process.Strings(config, "daughter_path"); raw != nil {
		c.daughterPath = store.Path(raw)
	}
	return c
}

// Generate builds one agent's network. The division process closes over this
// compartment, so daughters generate their own divisions recursively.
func (c *GrowthDivision) Generate(config map[string]any, path store.Path) (*process.Network, error) {
	agentID := process.String(config, "agent_id", "0")

	growth, err := NewGrowth(c.growth)
	if err != nil {
		return nil, fmt.Errorf("building growth for agent %q: %w", agentID, err)
	}

	divisionConfig := make(map[string]any, len(c.division)+3)
	for key, value := range c.division {
		divisionConfig[key] = value
	}
	divisionConfig["agent_id"] = agentID
	divisionConfig["compartment"] = c
	if len(c.daughterPath) > 0 {
		divisionConfig["daughter_path"] = []string(c.daughterPath)
	}
	division, err := NewDivision(divisionConfig)
	if err != nil {
		return nil, fmt.Errorf("building division for agent %q: %w", agentID, err)
	}

	network := &process.Network{
		Processes: store.Processes{
			"growth":   growth,
			"division": division,
		},
		Topology: store.Topology{
			"growth": store.Topology{
				"internal": []string(store.Path{"internal"}),
				"global":   []string(c.globalPath),
			},
			"division": store.Topology{
				"global": []string(c.globalPath),
				"agents": []string(c.agentsPath),
			},
		},
	}
	if err := process.AttachDerivers(nil, network); err != nil {
		return nil, fmt.Errorf("attaching derivers for agent %q: %w", agentID, err)
	}
	return network, nil
}
