package store

import (
	"fmt"

	"microcosm/internal/registry"
)

// Update is the tree-shaped payload a process returns from NextUpdate, keyed
// like its ports schema. Values are either leaf payloads or nested updates.
// Branch updates may carry the structural directive keys below; leaf updates
// may carry "_updater" overrides and "_reduce" folds.
type Update map[string]any

// Directive keys recognized by ApplyUpdate.
const (
	deleteKey   = "_delete"
	addKey      = "_add"
	generateKey = "_generate"
	divideKey   = "_divide"
	reduceKey   = "_reduce"
	updaterKey  = "_updater"
	valueKey    = "_value"
)

// AddSpec instantiates a new subtree with an initial state, using the target
// branch's subschema when one is registered.
type AddSpec struct {
	Path  Path
	State map[string]any
}

// GenerateSpec wires new processes, topology, and initial state into the tree
// at Path.
type GenerateSpec struct {
	Path         Path
	Processes    Processes
	Topology     Topology
	InitialState map[string]any
}

// DaughterSpec describes one daughter produced by division: where it lives
// and the fresh process graph generated for it (usually from a Compartment
// factory).
type DaughterSpec struct {
	ID           string
	Path         Path
	Processes    Processes
	Topology     Topology
	InitialState map[string]any
}

// DivideSpec replaces the named mother child with two daughters. Division is
// atomic: on any error the whole update is rejected and the run aborts.
type DivideSpec struct {
	Mother    string
	Daughters [2]DaughterSpec
}

// ReduceSpec folds Reducer over the subtree at From (resolved relative to the
// leaf being updated) and uses the result as the update payload.
type ReduceSpec struct {
	From    Path
	Initial any
	Reducer Reducer
}

// ApplyUpdate maps every value in the update to its position in the tree and
// applies it through each node's updater. Structural directives run first, in
// a fixed order (_delete, _add, _generate, _divide) because later directives
// may rely on state removed or created by earlier ones; recursion into named
// children follows. Topology wiring introduced by _generate/_divide is
// returned so the scheduler can extend its routing before the next tick.
func (n *Node) ApplyUpdate(update any) (map[string]any, error) {
	if len(n.children) > 0 || n.subschema != nil && !n.leaf {
		branchUpdate, ok := asMap(update)
		if !ok {
			return nil, &ConfigurationError{
				Path: n.PathFor(),
				Msg:  fmt.Sprintf("branch node cannot apply an update of type %T", update),
			}
		}
		return n.applyBranchUpdate(branchUpdate)
	}
	return nil, n.applyLeafUpdate(update)
}

func (n *Node) applyBranchUpdate(update map[string]any) (map[string]any, error) {
	topologyUpdates := make(map[string]any)

	if raw, ok := update[deleteKey]; ok {
		paths, err := deletePaths(n, raw)
		if err != nil {
			return nil, err
		}
		for _, path := range paths {
			n.DeletePath(path)
		}
	}

	if raw, ok := update[addKey]; ok {
		specs, ok := raw.([]AddSpec)
		if !ok {
			return nil, &ConfigurationError{
				Path: n.PathFor(),
				Msg:  fmt.Sprintf("_add directive is %T, expected []AddSpec", raw),
			}
		}
		for _, spec := range specs {
			target, err := n.EstablishPath(spec.Path, nil, "")
			if err != nil {
				return nil, err
			}
			// Subschemas first, so the state lands on schema'd variables
			// rather than as an opaque value on a bare node.
			if err := n.ApplySubschemas(); err != nil {
				return nil, err
			}
			if err := target.SetValue(spec.State); err != nil {
				return nil, err
			}
			n.ApplyDefaults()
		}
	}

	if raw, ok := update[generateKey]; ok {
		specs, ok := raw.([]GenerateSpec)
		if !ok {
			return nil, &ConfigurationError{
				Path: n.PathFor(),
				Msg:  fmt.Sprintf("_generate directive is %T, expected []GenerateSpec", raw),
			}
		}
		for _, spec := range specs {
			if err := n.Generate(spec.Path, spec.Processes, spec.Topology, spec.InitialState); err != nil {
				return nil, err
			}
			assocPath(topologyUpdates, spec.Path, spec.Topology)
		}
		if err := n.ApplySubschemas(); err != nil {
			return nil, err
		}
		n.ApplyDefaults()
	}

	if raw, ok := update[divideKey]; ok {
		spec, ok := raw.(*DivideSpec)
		if !ok {
			if value, isValue := raw.(DivideSpec); isValue {
				spec = &value
			} else {
				return nil, &ConfigurationError{
					Path: n.PathFor(),
					Msg:  fmt.Sprintf("_divide directive is %T, expected *DivideSpec", raw),
				}
			}
		}
		if err := n.applyDivide(spec, topologyUpdates); err != nil {
			return nil, err
		}
	}

	for _, key := range sortedKeys(update) {
		switch key {
		case deleteKey, addKey, generateKey, divideKey:
			continue
		}
		value := update[key]
		if child, ok := n.children[key]; ok {
			inner, err := child.ApplyUpdate(value)
			if err != nil {
				return nil, err
			}
			if len(inner) > 0 {
				topologyUpdates = DeepMerge(topologyUpdates, map[string]any{key: inner})
			}
			continue
		}
		// A deleted child stays deleted for the rest of the batch: a process
		// may race the deletion within the same superstep.
		if n.removed[key] {
			continue
		}
		// A never-seen key under a wildcard registration instantiates a
		// fresh child from the subschema; the update is written directly
		// and the remaining variables pick up their defaults.
		if n.subschema != nil {
			child, err := n.newSubschemaChild(key)
			if err != nil {
				return nil, err
			}
			if err := child.SetValue(value); err != nil {
				return nil, err
			}
			child.ApplyDefaults()
		}
	}

	return topologyUpdates, nil
}

// applyDivide captures the mother's non-process state, divides it, and builds
// both daughters before deleting the mother.
func (n *Node) applyDivide(spec *DivideSpec, topologyUpdates map[string]any) error {
	mother, ok := n.children[spec.Mother]
	if !ok {
		return &DivisionError{
			Path: n.PathFor(),
			Msg:  fmt.Sprintf("no mother %q to divide", spec.Mother),
		}
	}
	template := mother.captureValue()
	shares, divided, err := mother.DivideValue()
	if err != nil {
		return err
	}
	if !divided {
		return &DivisionError{
			Path: mother.PathFor(),
			Msg:  "nothing to divide: no divider and no divisible children",
		}
	}

	for i, daughter := range spec.Daughters {
		state, _ := asMap(deepCopy(template))
		if share, ok := asMap(shares[i]); ok {
			state = DeepMerge(state, share)
		}
		if err := n.Generate(daughter.Path, daughter.Processes, daughter.Topology, daughter.InitialState); err != nil {
			return err
		}
		assocPath(topologyUpdates, daughter.Path, daughter.Topology)
		if err := n.ApplySubschemas(); err != nil {
			return err
		}
		target := n.children[daughter.ID]
		if target == nil {
			return &DivisionError{
				Path: n.PathFor(),
				Msg:  fmt.Sprintf("daughter %q was not generated under the divided branch", daughter.ID),
			}
		}
		if err := target.SetValue(state); err != nil {
			return err
		}
		n.ApplyDefaults()
	}
	n.DeletePath(Path{spec.Mother})
	return nil
}

func (n *Node) applyLeafUpdate(update any) error {
	payload := update
	updater := n.updater

	if m, ok := asMap(update); ok {
		if raw, has := m[reduceKey]; has {
			spec, ok := raw.(*ReduceSpec)
			if !ok {
				if value, isValue := raw.(ReduceSpec); isValue {
					spec = &value
				} else {
					return &ConfigurationError{
						Path: n.PathFor(),
						Msg:  fmt.Sprintf("_reduce directive is %T, expected *ReduceSpec", raw),
					}
				}
			}
			top := n.GetPath(spec.From)
			if top == nil {
				return &ConfigurationError{
					Path: n.PathFor(),
					Msg:  fmt.Sprintf("_reduce from-path %q does not exist", spec.From),
				}
			}
			payload = top.Reduce(spec.Reducer, spec.Initial)
		} else if raw, has := m[updaterKey]; has {
			var err error
			updater, err = n.resolveUpdaterOverride(raw)
			if err != nil {
				return err
			}
			payload, ok = m[valueKey]
			if !ok {
				payload = n.def
			}
		}
	}

	if updater == nil {
		fn, err := n.env.Registry.Updater(defaultUpdater)
		if err != nil {
			return &ConfigurationError{Path: n.PathFor(), Msg: err.Error()}
		}
		updater = fn
	}
	value, err := updater(n.value, payload)
	if err != nil {
		return &ConfigurationError{Path: n.PathFor(), Msg: err.Error()}
	}
	n.value = value
	return nil
}

// resolveUpdaterOverride resolves a one-shot "_updater" override, which is
// either a symbolic name or a caller-supplied function.
func (n *Node) resolveUpdaterOverride(raw any) (registry.Updater, error) {
	switch override := raw.(type) {
	case string:
		fn, err := n.env.Registry.Updater(override)
		if err != nil {
			return nil, &ConfigurationError{Path: n.PathFor(), Msg: err.Error()}
		}
		return fn, nil
	case registry.Updater:
		return override, nil
	case func(current, update any) (any, error):
		return override, nil
	default:
		return nil, &ConfigurationError{
			Path: n.PathFor(),
			Msg:  fmt.Sprintf("_updater override is %T, expected a name or function", raw),
		}
	}
}

// deletePaths normalizes the accepted _delete payload shapes.
func deletePaths(n *Node, raw any) ([]Path, error) {
	switch v := raw.(type) {
	case []Path:
		return v, nil
	case []string:
		paths := make([]Path, len(v))
		for i, name := range v {
			paths[i] = Path{name}
		}
		return paths, nil
	default:
		return nil, &ConfigurationError{
			Path: n.PathFor(),
			Msg:  fmt.Sprintf("_delete directive is %T, expected []Path", raw),
		}
	}
}
