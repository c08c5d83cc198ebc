package store

import (
	"fmt"
	"reflect"
	"strings"

	"microcosm/internal/registry"
)

// Schema is the declarative description of a subtree. A schema is either a
// variable declaration (any of the leaf attributes set) or a branch
// (Children and/or Wildcard set); declaring both on one schema is a
// configuration error when applied.
type Schema struct {
	// Children declares named child schemas for a branch.
	Children map[string]*Schema

	// Wildcard declares the schema applied to every existing and future
	// child of the node, enabling unboundedly many homogeneous children.
	Wildcard *Schema

	// Subtopology maps the wildcard schema's ports onto the tree;
	// consulted whenever the wildcard schema is applied to a child.
	Subtopology Topology

	// Leaf attributes.
	Default     any
	Value       any
	Updater     string
	UpdaterFunc registry.Updater // caller-supplied escape hatch; wins over Updater
	Emit        bool
	Properties  map[string]any
	Serializer  string

	// Divider attributes, valid on leaves and on branches whose whole
	// subtree divides as one value.
	Divider         string
	DividerFunc     registry.Divider
	DividerTopology map[string]Path
}

// leafConfig reports whether this schema declares a variable.
func (s *Schema) leafConfig() bool {
	return s.Default != nil || s.Value != nil || s.Updater != "" ||
		s.UpdaterFunc != nil || s.Emit || s.Serializer != "" ||
		len(s.Properties) > 0
}

// hasDivider reports whether this schema declares a divider.
func (s *Schema) hasDivider() bool {
	return s.Divider != "" || s.DividerFunc != nil
}

// ApplyConfig expands the tree at this node by merging in additional schema.
// Re-applying a schema is idempotent for resolved values: defaults and
// updaters may be tightened but an explicit value conflict is fatal.
func (n *Node) ApplyConfig(schema *Schema, source string) error {
	if schema == nil {
		return nil
	}

	if n.leaf && (schema.Children != nil || schema.Wildcard != nil) {
		return &ConfigurationError{Path: n.PathFor(), Msg: "cannot assign children to a leaf node"}
	}

	if schema.Wildcard != nil {
		n.applySubschemaConfig(schema.Wildcard)
	}
	if schema.Subtopology != nil {
		n.mergeSubtopology(schema.Subtopology)
	}
	if schema.hasDivider() {
		if err := n.resolveDivider(schema); err != nil {
			return err
		}
	}

	if schema.leafConfig() {
		if len(n.children) > 0 {
			return &ConfigurationError{Path: n.PathFor(), Msg: "cannot assign leaf values to a branch node"}
		}
		n.leaf = true

		if schema.Serializer != "" {
			serializer, err := n.env.Registry.Serializer(schema.Serializer)
			if err != nil {
				return &ConfigurationError{Path: n.PathFor(), Msg: err.Error()}
			}
			n.serializer = serializer
			n.serializerName = schema.Serializer
		}
		if schema.Default != nil {
			n.def = n.checkDefault(schema.Default, source)
		}
		if schema.Value != nil {
			value, err := n.checkValue(schema.Value)
			if err != nil {
				return err
			}
			n.value = value
		}
		if err := n.resolveUpdater(schema); err != nil {
			return err
		}
		if len(schema.Properties) > 0 {
			n.properties = DeepMerge(n.properties, schema.Properties)
		}
		if schema.Emit {
			n.emit = true
		}
		return nil
	}

	if schema.Children != nil {
		n.value = nil
		for _, key := range sortedKeys(schema.Children) {
			if err := checkChildName(n, key); err != nil {
				return err
			}
			child, ok := n.children[key]
			if !ok {
				child = newNode(n.env, n)
				n.ensureChildren()
				n.children[key] = child
			}
			if err := child.ApplyConfig(schema.Children[key], source); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkChildName rejects child names that collide with the reserved schema
// vocabulary. The whole underscore prefix is reserved, not just the names in
// use: schema attributes and update directives share the key space with child
// names, so any "_" data key would be ambiguous in an update payload.
func checkChildName(n *Node, name string) error {
	if name == "" || name == wildcardKey || strings.HasPrefix(name, "_") {
		return &ConfigurationError{
			Path: n.PathFor(),
			Msg:  fmt.Sprintf("child name %q collides with a reserved schema name", name),
		}
	}
	return nil
}

// checkDefault resolves a conflict between an existing and a newly declared
// default. A nonzero existing default wins over a new zero default; otherwise
// the new declaration wins. Conflicts are logged, never fatal.
func (n *Node) checkDefault(newDefault any, source string) any {
	if n.def != nil && !reflect.DeepEqual(newDefault, n.def) {
		if isZeroNumber(newDefault) && !isZeroNumber(n.def) {
			n.env.logger().Debug("default schema conflict, keeping existing nonzero default",
				"path", n.PathFor().String(), "existing", n.def, "new", newDefault, "source", source)
			return n.def
		}
		n.env.logger().Debug("default schema conflict, selecting new default",
			"path", n.PathFor().String(), "existing", n.def, "new", newDefault, "source", source)
	}
	return newDefault
}

// checkValue rejects conflicting explicit values.
func (n *Node) checkValue(newValue any) (any, error) {
	if n.value != nil && !reflect.DeepEqual(newValue, n.value) {
		return nil, &ConfigurationError{
			Path: n.PathFor(),
			Msg:  fmt.Sprintf("conflicting explicit values %v and %v", n.value, newValue),
		}
	}
	return newValue, nil
}

func (n *Node) resolveUpdater(schema *Schema) error {
	switch {
	case schema.UpdaterFunc != nil:
		n.updater = schema.UpdaterFunc
		n.updaterName = ""
	case schema.Updater != "":
		fn, err := n.env.Registry.Updater(schema.Updater)
		if err != nil {
			return &ConfigurationError{Path: n.PathFor(), Msg: err.Error()}
		}
		n.updater = fn
		n.updaterName = schema.Updater
	case n.updater == nil:
		fn, err := n.env.Registry.Updater(defaultUpdater)
		if err != nil {
			return &ConfigurationError{Path: n.PathFor(), Msg: err.Error()}
		}
		n.updater = fn
		n.updaterName = defaultUpdater
	}
	return nil
}

func (n *Node) resolveDivider(schema *Schema) error {
	binding := &dividerBinding{
		name:     schema.Divider,
		fn:       schema.DividerFunc,
		topology: schema.DividerTopology,
	}
	if binding.fn == nil {
		fn, err := n.env.Registry.Divider(schema.Divider)
		if err != nil {
			return &ConfigurationError{Path: n.PathFor(), Msg: err.Error()}
		}
		binding.fn = fn
	}
	n.divider = binding
	return nil
}

func (n *Node) applySubschemaConfig(subschema *Schema) {
	n.subschema = mergeSchemas(n.subschema, subschema)
}

func (n *Node) mergeSubtopology(subtopology Topology) {
	n.subtopology = mergeTopology(n.subtopology, subtopology)
}

// mergeSchemas merges addition onto base, with addition winning on scalar
// attributes and children merged recursively. base is mutated when non-nil.
func mergeSchemas(base, addition *Schema) *Schema {
	if base == nil {
		return addition
	}
	if addition == nil {
		return base
	}
	if addition.Default != nil {
		base.Default = addition.Default
	}
	if addition.Value != nil {
		base.Value = addition.Value
	}
	if addition.Updater != "" {
		base.Updater = addition.Updater
	}
	if addition.UpdaterFunc != nil {
		base.UpdaterFunc = addition.UpdaterFunc
	}
	if addition.Emit {
		base.Emit = true
	}
	if addition.Serializer != "" {
		base.Serializer = addition.Serializer
	}
	if len(addition.Properties) > 0 {
		base.Properties = DeepMerge(base.Properties, addition.Properties)
	}
	if addition.hasDivider() {
		base.Divider = addition.Divider
		base.DividerFunc = addition.DividerFunc
		base.DividerTopology = addition.DividerTopology
	}
	if addition.Wildcard != nil {
		base.Wildcard = mergeSchemas(base.Wildcard, addition.Wildcard)
	}
	if addition.Subtopology != nil {
		base.Subtopology = mergeTopology(base.Subtopology, addition.Subtopology)
	}
	for key, child := range addition.Children {
		if base.Children == nil {
			base.Children = make(map[string]*Schema)
		}
		base.Children[key] = mergeSchemas(base.Children[key], child)
	}
	return base
}

// GetConfig reassembles a schema describing this node. Applying the result to
// an empty root recreates the node's structure and resolved values.
func (n *Node) GetConfig() *Schema {
	config := &Schema{}
	if len(n.properties) > 0 {
		config.Properties = n.properties
	}
	if n.subschema != nil {
		config.Wildcard = n.subschema
	}
	if n.subtopology != nil {
		config.Subtopology = n.subtopology
	}
	if n.divider != nil {
		config.Divider = n.divider.name
		if n.divider.name == "" {
			config.DividerFunc = n.divider.fn
		}
		config.DividerTopology = n.divider.topology
	}

	if len(n.children) > 0 {
		config.Children = make(map[string]*Schema, len(n.children))
		for key, child := range n.children {
			config.Children[key] = child.GetConfig()
		}
		return config
	}

	if n.leaf {
		config.Default = n.def
		config.Value = n.value
		if n.updaterName != "" {
			config.Updater = n.updaterName
		} else if n.updater != nil {
			config.UpdaterFunc = n.updater
		}
		config.Emit = n.emit
		config.Serializer = n.serializerName
	}
	return config
}

// isZeroNumber reports whether value is a numeric zero.
func isZeroNumber(value any) bool {
	switch v := value.(type) {
	case int:
		return v == 0
	case float64:
		return v == 0
	default:
		return false
	}
}
