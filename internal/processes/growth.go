// Package processes ships a small library of ready-made processes: an
// exponential growth process, a mass deriver that folds molecular weights
// over a subtree, and a division deriver that replaces a grown agent with
// two daughters built from a compartment. Together they exercise every
// structural directive the kernel supports.
package processes

import (
	"math"

	"microcosm/internal/process"
	"microcosm/internal/store"
)

// proteinMW approximates the average molecular weight of a protein complement
// in femtograms per mole, so raw counts reduce to a mass on the right scale.
const proteinMW = 1.0e8

// Growth grows a protein count exponentially and raises the division flag
// once the count crosses a threshold. Mass bookkeeping is delegated to a
// MassDeriver attached through the deriver declaration.
type Growth struct {
	process.Base
	rate            float64
	initialProtein  float64
	divisionProtein float64
}

// NewGrowth builds a Growth from config keys rate, initial_protein,
// division_protein, and timestep.
func NewGrowth(config map[string]any) (store.Process, error) {
	initial := process.Float(config, "initial_protein", 3.9e7)
	return &Growth{
		Base:            process.Base{Timestep: process.Float(config, "timestep", 1.0)},
		rate:            process.Float(config, "rate", 0.0005),
		initialProtein:  initial,
		divisionProtein: process.Float(config, "division_protein", 2*initial),
	}, nil
}

func (g *Growth) PortsSchema() *store.Schema {
	return &store.Schema{Children: map[string]*store.Schema{
		"internal": {Children: map[string]*store.Schema{
			"protein": {
				Default:    g.initialProtein,
				Emit:       true,
				Divider:    "split",
				Properties: map[string]any{"mw": proteinMW},
			},
		}},
		"global": {Children: map[string]*store.Schema{
			"divide": {Default: false, Updater: "set", Divider: "zero"},
		}},
	}}
}

func (g *Growth) NextUpdate(timestep float64, states map[string]any) (store.Update, error) {
	internal, _ := states["internal"].(map[string]any)
	protein, _ := internal["protein"].(float64)

	delta := protein * (math.Exp(g.rate*timestep) - 1)
	update := store.Update{
		"internal": store.Update{"protein": delta},
	}
	if protein+delta >= g.divisionProtein {
		update["global"] = store.Update{"divide": true}
	}
	return update, nil
}

func (g *Growth) Derivers() map[string]store.DeriverSpec {
	return map[string]store.DeriverSpec{
		"mass": {
			Factory: NewMassDeriver,
			PortMapping: map[string]string{
				"global": "global",
			},
		},
	}
}
