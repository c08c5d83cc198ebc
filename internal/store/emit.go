package store

// EmitData collects the emitted slice of the subtree. Leaves opt in through
// their emit flag and pass through their serializer when one is configured;
// process handles never emit. Branches whose children all stay silent are
// omitted entirely, so the result is nil when nothing under this node emits.
func (n *Node) EmitData() (any, error) {
	if n.leaf {
		if !n.emit {
			return nil, nil
		}
		if _, isProcess := n.value.(Process); isProcess {
			return nil, nil
		}
		if n.serializer != nil {
			serialized, err := n.serializer.Serialize(n.value)
			if err != nil {
				return nil, &ConfigurationError{Path: n.PathFor(), Msg: err.Error()}
			}
			return serialized, nil
		}
		return deepCopy(n.value), nil
	}

	data := make(map[string]any)
	for _, key := range sortedKeys(n.children) {
		childData, err := n.children[key].EmitData()
		if err != nil {
			return nil, err
		}
		if childData == nil {
			continue
		}
		if m, ok := childData.(map[string]any); ok && len(m) == 0 {
			continue
		}
		data[key] = childData
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}
