package processes

import (
	"microcosm/internal/process"
	"microcosm/internal/store"
)

const avogadro = 6.02214076e23

// MassDeriver folds molecular weights over a subtree and sets the total on
// global/mass after every update batch. Any variable carrying an "mw"
// property contributes count/avogadro*mw; everything else is ignored.
type MassDeriver struct {
	process.Deriver
	fromPath    store.Path
	initialMass float64
}

// NewMassDeriver builds a MassDeriver from config keys from_path and
// initial_mass. The from-path is resolved relative to the mass variable, so
// the default of ("..", "..") covers the enclosing agent subtree.
func NewMassDeriver(config map[string]any) (store.Process, error) {
	fromPath := store.Path{"..", ".."}
	if raw := process.Strings(config, "from_path"); raw != nil {
		fromPath = store.Path(raw)
	}
	return &MassDeriver{
		fromPath:    fromPath,
		initialMass: process.Float(config, "initial_mass", 0.0),
	}, nil
}

func (d *MassDeriver) PortsSchema() *store.Schema {
	return &store.Schema{Children: map[string]*store.Schema{
		"global": {Children: map[string]*store.Schema{
			"initial_mass": {Default: d.initialMass, Updater: "set", Divider: "split"},
			"mass":         {Default: d.initialMass, Emit: true, Updater: "set"},
		}},
	}}
}

func (d *MassDeriver) NextUpdate(timestep float64, states map[string]any) (store.Update, error) {
	global, _ := states["global"].(map[string]any)
	initial, _ := global["initial_mass"].(float64)
	return store.Update{
		"global": store.Update{
			"mass": store.Update{"_reduce": &store.ReduceSpec{
				From:    d.fromPath,
				Initial: initial,
				Reducer: addMass,
			}},
		},
	}, nil
}

// addMass is the reducer: leaves carrying an "mw" property contribute their
// count converted to mass, all other nodes pass the accumulator through.
func addMass(value any, _ store.Path, node *store.Node) any {
	mw, ok := node.Properties()["mw"].(float64)
	if !ok {
		return value
	}
	total, _ := value.(float64)
	switch count := node.Value().(type) {
	case float64:
		return total + count/avogadro*mw
	case int:
		return total + float64(count)/avogadro*mw
	default:
		return value
	}
}
