// Package store implements the hierarchical simulation state tree: a tree of
// typed nodes carrying a declarative schema (defaults, updaters, dividers,
// emission flags, dynamically-typed child sets) together with the topology
// machinery that lets each process address the tree through a private,
// renamed view of its own ports.
//
// A node is either a branch (named children) or a leaf (a value plus schema
// attributes), never both. Leaves hold one of: a number, a string, a boolean,
// an opaque process handle, or a serializable blob (nested maps/slices of the
// above). All mutation goes through ApplyConfig, SetValue, ApplyUpdate, and
// DeletePath; processes only ever see read-only projections built by
// SchemaTopology.
package store

import (
	"log/slog"
	"math/rand"
	"strings"

	"microcosm/internal/registry"
)

// defaultUpdater is assumed for any declared variable that does not name one.
const defaultUpdater = "accumulate"

// Env carries the per-experiment collaborators every node shares: the schema
// registry, the seeded random source driving stochastic dividers, and the
// logger. It is an explicit value rather than package state so several
// experiments can coexist in one program.
type Env struct {
	Registry *registry.Registry
	Rand     *rand.Rand
	Log      *slog.Logger
}

func (e *Env) logger() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}

// NewEnv fills in defaults for any collaborator left nil: the default
// registry, a random source seeded with seed, and the default logger.
func NewEnv(reg *registry.Registry, seed int64, log *slog.Logger) *Env {
	if reg == nil {
		reg = registry.Default()
	}
	return &Env{
		Registry: reg,
		Rand:     rand.New(rand.NewSource(seed)),
		Log:      log,
	}
}

// dividerBinding is a resolved divider: the function plus the side topology
// describing auxiliary state it reads, resolved relative to the node's parent.
type dividerBinding struct {
	name     string
	fn       registry.Divider
	topology map[string]Path
}

// Node is one node of the state tree. The parent reference is non-owning: it
// exists for path reconstruction and ".." resolution and never extends the
// child's lifetime; ownership runs strictly downward through children.
type Node struct {
	env      *Env
	outer    *Node
	children map[string]*Node

	subschema   *Schema
	subtopology Topology

	leaf           bool
	value          any
	def            any
	updater        registry.Updater
	updaterName    string
	divider        *dividerBinding
	emit           bool
	properties     map[string]any
	serializer     registry.Serializer
	serializerName string

	// Deletion leaves a tombstone: the node keeps the path it lived at, and
	// the parent remembers the name so a same-batch update cannot recreate
	// the child through the wildcard subschema.
	deleted   bool
	finalPath Path
	removed   map[string]bool
}

// NewRoot creates a root node under env and applies the given schema to it.
func NewRoot(env *Env, schema *Schema) (*Node, error) {
	if env == nil {
		env = NewEnv(nil, 0, nil)
	}
	if env.Registry == nil {
		env.Registry = registry.Default()
	}
	if env.Rand == nil {
		env.Rand = rand.New(rand.NewSource(0))
	}
	root := newNode(env, nil)
	if err := root.ApplyConfig(schema, ""); err != nil {
		return nil, err
	}
	return root, nil
}

func newNode(env *Env, outer *Node) *Node {
	return &Node{env: env, outer: outer}
}

func (n *Node) ensureChildren() {
	if n.children == nil {
		n.children = make(map[string]*Node)
	}
}

// Top returns the root of the tree this node belongs to.
func (n *Node) Top() *Node {
	if n.outer != nil {
		return n.outer.Top()
	}
	return n
}

// PathFor reconstructs this node's path from the root by walking parent
// references. A tombstoned node reports the path it lived at when it was
// deleted.
func (n *Node) PathFor() Path {
	if n.deleted && n.finalPath != nil {
		return n.finalPath
	}
	if n.outer == nil {
		return Path{}
	}
	above := n.outer.PathFor()
	for key, child := range n.outer.children {
		if child == n {
			return append(above, key)
		}
	}
	return append(above, "?")
}

// IsLeaf reports whether this node holds a value rather than children.
func (n *Node) IsLeaf() bool { return n.leaf }

// Deleted reports whether this node has been tombstoned.
func (n *Node) Deleted() bool { return n.deleted }

// Value returns a leaf's raw value (nil for branches).
func (n *Node) Value() any { return n.value }

// Children returns the names of this node's children in sorted order.
func (n *Node) Children() []string { return sortedKeys(n.children) }

// Properties returns a leaf's free-form metadata.
func (n *Node) Properties() map[string]any { return n.properties }

// GetPath resolves a path relative to this node, with ".." stepping to the
// parent. A path that does not exist resolves to nil; callers treat that as a
// normal query result, not an error.
func (n *Node) GetPath(path Path) *Node {
	if len(path) == 0 {
		return n
	}
	var child *Node
	if path[0] == parentStep {
		child = n.outer
	} else {
		child = n.children[path[0]]
	}
	if child == nil {
		return nil
	}
	return child.GetPath(path[1:])
}

// GetIn returns the value at path, nil if the path does not exist.
func (n *Node) GetIn(path Path) any {
	target := n.GetPath(path)
	if target == nil {
		return nil
	}
	return target.GetValue()
}

// EstablishPath walks path, creating missing intermediate branch nodes, then
// applies schema at the terminal node. Stepping ".." above the root is a
// configuration error: it means a badly wired topology, not a runtime
// condition to recover from.
func (n *Node) EstablishPath(path Path, schema *Schema, source string) (*Node, error) {
	if len(path) == 0 {
		if err := n.ApplyConfig(schema, source); err != nil {
			return nil, err
		}
		return n, nil
	}
	step := path[0]
	if step == parentStep {
		if n.outer == nil {
			return nil, &ConfigurationError{
				Path: n.PathFor(),
				Msg:  "no parent to resolve \"..\" against",
			}
		}
		return n.outer.EstablishPath(path[1:], schema, source)
	}
	if n.leaf {
		return nil, &ConfigurationError{
			Path: n.PathFor(),
			Msg:  "cannot extend a leaf node with children",
		}
	}
	if err := checkChildName(n, step); err != nil {
		return nil, err
	}
	child, ok := n.children[step]
	if !ok {
		child = newNode(n.env, n)
		n.ensureChildren()
		n.children[step] = child
		delete(n.removed, step)
	}
	return child.EstablishPath(path[1:], schema, source)
}

// DeletePath removes the subtree at path, tombstoning every removed node so
// that stale references are detectable. Deleting the empty path clears this
// node in place. The removed subtree is returned, nil if nothing existed.
func (n *Node) DeletePath(path Path) *Node {
	if len(path) == 0 {
		n.children = nil
		n.value = nil
		return n
	}
	target := n.GetPath(path[:len(path)-1])
	if target == nil {
		return nil
	}
	name := path[len(path)-1]
	lost, ok := target.children[name]
	if !ok {
		return nil
	}
	at := lost.PathFor()
	delete(target.children, name)
	if target.removed == nil {
		target.removed = make(map[string]bool)
	}
	target.removed[name] = true
	lost.markDeleted(at)
	return lost
}

func (n *Node) markDeleted(at Path) {
	n.deleted = true
	n.finalPath = at
	for key, child := range n.children {
		down := make(Path, len(at), len(at)+1)
		copy(down, at)
		child.markDeleted(append(down, key))
	}
}

// GetValue pulls the values out of the tree in a structure symmetrical to
// the tree: branches become maps, leaves their values. A branch that only
// holds a wildcard registration reads as an empty map.
func (n *Node) GetValue() any {
	if len(n.children) > 0 {
		values := make(map[string]any, len(n.children))
		for key, child := range n.children {
			values[key] = child.GetValue()
		}
		return values
	}
	if n.subschema != nil && !n.leaf {
		return map[string]any{}
	}
	return n.value
}

// captureValue deep-copies the non-process values of this subtree, used as
// the daughter template during division.
func (n *Node) captureValue() any {
	if len(n.children) > 0 {
		values := make(map[string]any)
		for key, child := range n.children {
			if _, isProcess := child.value.(Process); isProcess {
				continue
			}
			values[key] = child.captureValue()
		}
		return values
	}
	if n.subschema != nil && !n.leaf {
		return map[string]any{}
	}
	return deepCopy(n.value)
}

// SetValue writes values directly into the tree, bypassing updaters. Keys
// missing from a branch are instantiated from its subschema when one is
// registered and ignored otherwise.
func (n *Node) SetValue(value any) error {
	if len(n.children) > 0 || n.subschema != nil && !n.leaf {
		inner, ok := asMap(value)
		if !ok {
			return &ConfigurationError{
				Path: n.PathFor(),
				Msg:  "cannot set a non-map value on a branch node",
			}
		}
		for _, key := range sortedKeys(inner) {
			child, exists := n.children[key]
			if !exists {
				if n.subschema == nil {
					continue
				}
				var err error
				child, err = n.newSubschemaChild(key)
				if err != nil {
					return err
				}
			}
			if err := child.SetValue(inner[key]); err != nil {
				return err
			}
		}
		return nil
	}
	n.value = value
	return nil
}

// newSubschemaChild instantiates a child from this node's wildcard subschema.
func (n *Node) newSubschemaChild(key string) (*Node, error) {
	child := newNode(n.env, n)
	n.ensureChildren()
	n.children[key] = child
	delete(n.removed, key)
	if err := child.ApplyConfig(n.subschema, n.PathFor().String()+"/*"); err != nil {
		return nil, err
	}
	return child, nil
}

// ApplyDefaults fills every leaf whose value is unset with a copy of its
// declared default.
func (n *Node) ApplyDefaults() {
	if len(n.children) > 0 {
		for _, child := range n.children {
			child.ApplyDefaults()
		}
		return
	}
	if n.value == nil {
		n.value = deepCopy(n.def)
	}
}

// Entry pairs a path with the node living there.
type Entry struct {
	Path Path
	Node *Node
}

// Depth lists every node of this subtree in depth-first pre-order, branches
// before children, children in sorted name order.
func (n *Node) Depth(base Path) []Entry {
	entries := []Entry{{Path: base, Node: n}}
	for _, key := range sortedKeys(n.children) {
		down := make(Path, len(base), len(base)+1)
		copy(down, base)
		down = append(down, key)
		entries = append(entries, n.children[key].Depth(down)...)
	}
	return entries
}

// ProcessEntries lists every process leaf of this subtree in depth-first
// order.
func (n *Node) ProcessEntries() []Entry {
	var entries []Entry
	for _, entry := range n.Depth(nil) {
		if _, ok := entry.Node.value.(Process); ok {
			entries = append(entries, entry)
		}
	}
	return entries
}

// Reducer folds over one node during Reduce.
type Reducer func(value any, path Path, node *Node) any

// Reduce folds reducer over every node in this subtree in depth-first
// pre-order, starting from initial.
func (n *Node) Reduce(reducer Reducer, initial any) any {
	value := initial
	for _, entry := range n.Depth(nil) {
		value = reducer(value, entry.Path, entry.Node)
	}
	return value
}

// ApplySubschema applies a subschema to every child of this node, wired
// through the given subtopology. With nil arguments the node's own
// subschema/subtopology registration is used.
func (n *Node) ApplySubschema(subschema *Schema, subtopology Topology) error {
	if subschema == nil {
		subschema = n.subschema
	}
	if subtopology == nil {
		subtopology = n.subtopology
	}
	if subschema == nil {
		return nil
	}
	source := n.PathFor().String() + "/" + wildcardKey
	for _, key := range sortedKeys(n.children) {
		if err := n.children[key].TopologyPorts(subschema, subtopology, source); err != nil {
			return err
		}
	}
	return nil
}

// ApplySubschemas applies every subschema registration at this node or lower.
func (n *Node) ApplySubschemas() error {
	if n.subschema != nil {
		if err := n.ApplySubschema(nil, nil); err != nil {
			return err
		}
	}
	for _, key := range sortedKeys(n.children) {
		if err := n.children[key].ApplySubschemas(); err != nil {
			return err
		}
	}
	return nil
}

// String renders the node's path for diagnostics.
func (n *Node) String() string {
	path := n.PathFor()
	if len(path) == 0 {
		return "<root>"
	}
	return strings.Join(path, "/")
}
