package store

import (
	"fmt"
	"strings"
)

const (
	// parentStep steps a path to the parent node.
	parentStep = ".."
	// wildcardKey marks a port applied to every child at its target.
	wildcardKey = "*"
	// pathKey re-roots a nested topology before its entries resolve.
	pathKey = "_path"
)

// Path addresses a node as a sequence of child names; ".." steps to the
// parent.
type Path []string

func (p Path) String() string {
	return strings.Join(p, "/")
}

// Key returns a stable string form usable as a map key.
func (p Path) Key() string {
	return p.String()
}

// Normalize resolves ".." steps against the preceding elements.
func (p Path) Normalize() Path {
	progress := make(Path, 0, len(p))
	for _, step := range p {
		if step == parentStep && len(progress) > 0 {
			progress = progress[:len(progress)-1]
		} else {
			progress = append(progress, step)
		}
	}
	return progress
}

func joinPaths(parts ...Path) Path {
	var out Path
	for _, part := range parts {
		out = append(out, part...)
	}
	return out
}

// Topology maps a process's port names to store locations. A mapping value
// is either a Path or a nested Topology renaming/relocating a whole
// sub-port; a nested Topology may carry a "_path" entry that re-roots
// resolution before the remaining entries resolve. A "*" entry pairs with a
// wildcard schema and applies to every existing and future child at the
// target.
type Topology map[string]any

// asTopology recognizes nested topology values.
func asTopology(value any) (Topology, bool) {
	switch v := value.(type) {
	case Topology:
		return v, true
	case map[string]any:
		return Topology(v), true
	default:
		return nil, false
	}
}

// asPath recognizes path-shaped topology values.
func asPath(value any) (Path, bool) {
	switch v := value.(type) {
	case Path:
		return v, true
	case []string:
		return Path(v), true
	case []any:
		path := make(Path, 0, len(v))
		for _, step := range v {
			s, ok := step.(string)
			if !ok {
				return nil, false
			}
			path = append(path, s)
		}
		return path, true
	case string:
		return Path{v}, true
	default:
		return nil, false
	}
}

// mergeTopology merges addition onto base, recursing where both sides are
// nested topologies.
func mergeTopology(base, addition Topology) Topology {
	if base == nil {
		base = Topology{}
	}
	for key, value := range addition {
		if addMap, ok := asTopology(value); ok {
			if baseMap, ok := asTopology(base[key]); ok {
				base[key] = mergeTopology(baseMap, addMap)
				continue
			}
		}
		base[key] = value
	}
	return base
}

// outerPath applies a topology's "_path" redirection: it establishes the
// redirection target and returns it as the new resolution root along with
// the remaining topology entries.
func (n *Node) outerPath(topology Topology, source string) (*Node, Topology, error) {
	raw, ok := topology[pathKey]
	if !ok {
		return n, topology, nil
	}
	path, ok := asPath(raw)
	if !ok {
		return nil, nil, &ConfigurationError{
			Path: n.PathFor(),
			Msg:  fmt.Sprintf("invalid _path redirection of type %T", raw),
		}
	}
	node, err := n.EstablishPath(path, nil, source)
	if err != nil {
		return nil, nil, err
	}
	rest := make(Topology, len(topology)-1)
	for key, value := range topology {
		if key != pathKey {
			rest[key] = value
		}
	}
	return node, rest, nil
}

// TopologyPorts distributes a schema into the tree by mapping its ports
// according to the given topology: every port resolves to a concrete store
// location (created if absent) and receives that port's sub-schema. A
// wildcard port applies its subschema to every current child at the target
// and registers it for children added later.
func (n *Node) TopologyPorts(schema *Schema, topology Topology, source string) error {
	if schema == nil {
		return nil
	}
	if source == "" {
		source = n.PathFor().String()
	}

	if schema.leafConfig() {
		if len(topology) > 0 {
			return &ConfigurationError{
				Path: n.PathFor(),
				Msg:  fmt.Sprintf("variable declaration from %s cannot carry a port topology", source),
			}
		}
		return n.ApplyConfig(schema, source)
	}

	for key := range topology {
		if key == pathKey {
			continue
		}
		if key == wildcardKey {
			if schema.Wildcard == nil {
				return &ConfigurationError{
					Path: n.PathFor(),
					Msg:  fmt.Sprintf("topology from %s has a wildcard entry with no wildcard schema", source),
				}
			}
			continue
		}
		if _, ok := schema.Children[key]; !ok {
			return &ConfigurationError{
				Path: n.PathFor(),
				Msg:  fmt.Sprintf("topology from %s has port %q that is not in the schema", source, key),
			}
		}
	}
	for _, port := range sortedKeys(schema.Children) {
		if _, ok := topology[port]; !ok {
			n.env.logger().Debug("schema port not in topology, defaulting to its own name",
				"port", port, "source", source)
		}
	}

	if schema.Wildcard != nil {
		if err := n.wildcardPort(schema, topology, source); err != nil {
			return err
		}
	}

	for _, port := range sortedKeys(schema.Children) {
		sub := schema.Children[port]
		raw, ok := topology[port]
		if !ok {
			raw = Path{port}
		}
		if nested, isMap := asTopology(raw); isMap {
			node, rest, err := n.outerPath(nested, source)
			if err != nil {
				return err
			}
			if err := node.TopologyPorts(sub, rest, source); err != nil {
				return err
			}
			continue
		}
		path, isPath := asPath(raw)
		if !isPath {
			return &ConfigurationError{
				Path: n.PathFor(),
				Msg:  fmt.Sprintf("port %q from %s has an invalid topology entry of type %T", port, source, raw),
			}
		}
		if _, err := n.EstablishPath(path, sub, source); err != nil {
			return err
		}
	}
	return nil
}

// wildcardPort wires a schema's wildcard into the tree: the subschema is
// applied to every current child of the target and registered there so
// future children are wired automatically.
func (n *Node) wildcardPort(schema *Schema, topology Topology, source string) error {
	target := n
	raw, ok := topology[wildcardKey]
	if ok {
		if nested, isMap := asTopology(raw); isMap {
			node, rest, err := n.outerPath(nested, source)
			if err != nil {
				return err
			}
			node.mergeSubtopology(rest)
			node.applySubschemaConfig(schema.Wildcard)
			target = node
		} else {
			path, isPath := asPath(raw)
			if !isPath {
				return &ConfigurationError{
					Path: n.PathFor(),
					Msg:  fmt.Sprintf("wildcard port from %s has an invalid topology entry of type %T", source, raw),
				}
			}
			node, err := n.EstablishPath(path, &Schema{Wildcard: schema.Wildcard}, source)
			if err != nil {
				return err
			}
			target = node
		}
	} else {
		n.applySubschemaConfig(schema.Wildcard)
	}
	if schema.Subtopology != nil {
		target.mergeSubtopology(schema.Subtopology)
	}
	if err := target.ApplySubschema(nil, nil); err != nil {
		return err
	}
	target.ApplyDefaults()
	return nil
}

// GeneratePaths wires a possibly nested group of processes into the tree.
// Each process becomes a leaf holding its handle (updater "set" so the handle
// is atomically replaceable) and its ports schema is distributed through its
// topology entry; nested groups recurse.
func (n *Node) GeneratePaths(processes Processes, topology Topology) error {
	for _, key := range sortedKeys(processes) {
		sub := processes[key]
		rawTopo, ok := topology[key]
		if !ok {
			return &ConfigurationError{
				Path: n.PathFor(),
				Msg:  fmt.Sprintf("no topology entry for process group %q", key),
			}
		}
		subTopo, isMap := asTopology(rawTopo)
		if !isMap {
			return &ConfigurationError{
				Path: n.PathFor(),
				Msg:  fmt.Sprintf("topology entry for %q is %T, not a port mapping", key, rawTopo),
			}
		}

		if process, isProcess := sub.(Process); isProcess {
			child := newNode(n.env, n)
			child.leaf = true
			child.value = process
			setter, err := n.env.Registry.Updater("set")
			if err != nil {
				return &ConfigurationError{Path: n.PathFor(), Msg: err.Error()}
			}
			child.updater = setter
			child.updaterName = "set"
			n.ensureChildren()
			n.children[key] = child

			source := n.PathFor().String() + "/" + key
			if err := n.TopologyPorts(process.PortsSchema(), subTopo, source); err != nil {
				return err
			}
			continue
		}

		group, isGroup := asProcesses(sub)
		if !isGroup {
			return &ConfigurationError{
				Path: n.PathFor(),
				Msg:  fmt.Sprintf("process group entry %q is %T, neither a Process nor a nested group", key, sub),
			}
		}
		child, ok := n.children[key]
		if !ok {
			child = newNode(n.env, n)
			n.ensureChildren()
			n.children[key] = child
		}
		if err := child.GeneratePaths(group, subTopo); err != nil {
			return err
		}
	}
	return nil
}

// asProcesses recognizes nested process groups.
func asProcesses(value any) (Processes, bool) {
	switch v := value.(type) {
	case Processes:
		return v, true
	case map[string]any:
		return Processes(v), true
	default:
		return nil, false
	}
}

// Generate builds a subtree at path: processes are wired in through the
// topology, the initial state is written, pending subschemas are applied, and
// defaults fill any unset leaves.
func (n *Node) Generate(path Path, processes Processes, topology Topology, initialState map[string]any) error {
	target, err := n.EstablishPath(path, nil, "")
	if err != nil {
		return err
	}
	if err := target.GeneratePaths(processes, topology); err != nil {
		return err
	}
	if initialState != nil {
		if err := target.SetValue(initialState); err != nil {
			return err
		}
	}
	if err := target.ApplySubschemas(); err != nil {
		return err
	}
	target.ApplyDefaults()
	return nil
}

// SchemaTopology fills in the structure of the given schema with the values
// located through the topology: the process-side view of the tree. Resolution
// side effects are limited to establishing "_path" redirection targets.
func (n *Node) SchemaTopology(schema *Schema, topology Topology) (any, error) {
	if n.leaf {
		return n.GetValue(), nil
	}
	state := make(map[string]any)
	if schema == nil {
		return state, nil
	}

	if schema.Wildcard != nil {
		raw := topology[wildcardKey]
		if nested, isMap := asTopology(raw); isMap {
			node, rest, err := n.outerPath(nested, "")
			if err != nil {
				return nil, err
			}
			for _, key := range node.Children() {
				value, err := node.children[key].SchemaTopology(schema.Wildcard, rest)
				if err != nil {
					return nil, err
				}
				state[key] = value
			}
		} else {
			path, _ := asPath(raw)
			node := n.GetPath(path)
			if node == nil {
				return nil, &ConfigurationError{
					Path: n.PathFor(),
					Msg:  fmt.Sprintf("wildcard port resolves to missing path %q", path),
				}
			}
			for _, key := range node.Children() {
				value, err := node.children[key].SchemaTopology(schema.Wildcard, Topology{})
				if err != nil {
					return nil, err
				}
				state[key] = value
			}
		}
	}

	for _, port := range sortedKeys(schema.Children) {
		sub := schema.Children[port]
		raw, ok := topology[port]
		if !ok {
			raw = Path{port}
		}
		if nested, isMap := asTopology(raw); isMap {
			node, rest, err := n.outerPath(nested, "")
			if err != nil {
				return nil, err
			}
			value, err := node.SchemaTopology(sub, rest)
			if err != nil {
				return nil, err
			}
			state[port] = value
			continue
		}
		path, isPath := asPath(raw)
		if !isPath {
			return nil, &ConfigurationError{
				Path: n.PathFor(),
				Msg:  fmt.Sprintf("port %q has an invalid topology entry of type %T", port, raw),
			}
		}
		node := n.GetPath(path)
		if node == nil {
			return nil, &ConfigurationError{
				Path: n.PathFor(),
				Msg:  fmt.Sprintf("port %q resolves to missing path %q", port, path),
			}
		}
		value, err := node.SchemaTopology(sub, Topology{})
		if err != nil {
			return nil, err
		}
		state[port] = value
	}
	return state, nil
}

// InverseTopology transforms an update from the port-relative form a process
// produced into the absolute tree paths given by the topology. outer is the
// path of the node the topology is anchored at (the process's parent).
func InverseTopology(outer Path, update map[string]any, topology Topology) map[string]any {
	inverse := make(map[string]any)
	for _, key := range sortedKeys(topology) {
		raw := topology[key]

		if key == wildcardKey {
			if nested, isMap := asTopology(raw); isMap {
				node, rest := inverseReroot(inverse, outer, nested)
				for _, child := range sortedKeys(update) {
					childUpdate, ok := asMap(update[child])
					if !ok {
						continue
					}
					node[child] = InverseTopology(nil, childUpdate, rest)
				}
			} else if path, isPath := asPath(raw); isPath {
				for _, child := range sortedKeys(update) {
					inner := joinPaths(outer, path, Path{child}).Normalize()
					assocPath(inverse, inner, update[child])
				}
			}
			continue
		}

		value, ok := update[key]
		if !ok {
			continue
		}
		if nested, isMap := asTopology(raw); isMap {
			node, rest := inverseReroot(inverse, outer, nested)
			valueMap, ok := asMap(value)
			if !ok {
				continue
			}
			for inner, innerValue := range InverseTopology(nil, valueMap, rest) {
				node[inner] = innerValue
			}
			continue
		}
		if path, isPath := asPath(raw); isPath {
			inner := joinPaths(outer, path).Normalize()
			assocPath(inverse, inner, value)
		}
	}
	return inverse
}

// inverseReroot applies a nested topology's "_path" inside an inverse update
// under construction, returning the map to write into and the remaining
// topology entries.
func inverseReroot(inverse map[string]any, outer Path, nested Topology) (map[string]any, Topology) {
	raw, ok := nested[pathKey]
	if !ok {
		return inverse, nested
	}
	path, isPath := asPath(raw)
	if !isPath {
		return inverse, nested
	}
	inner := joinPaths(outer, path).Normalize()
	node, isMap := asMap(getIn(inverse, inner))
	if !isMap {
		node = make(map[string]any)
		assocPath(inverse, inner, node)
	}
	rest := make(Topology, len(nested)-1)
	for key, value := range nested {
		if key != pathKey {
			rest[key] = value
		}
	}
	return node, rest
}
