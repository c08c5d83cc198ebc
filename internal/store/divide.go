package store

import "fmt"

// DivideValue assembles two parallel divided states for this subtree. A node
// with an explicit divider invokes it (resolving any side topology against
// the parent); a branch without one divides every child and zips the results.
// A terminal leaf without a divider contributes nothing (ok is false) and the
// daughters inherit its value from the captured mother template instead.
func (n *Node) DivideValue() (shares [2]any, ok bool, err error) {
	if n.divider != nil {
		var aux map[string]any
		if len(n.divider.topology) > 0 {
			if n.outer == nil {
				return shares, false, &DivisionError{
					Path: n.PathFor(),
					Msg:  "divider topology cannot resolve without a parent",
				}
			}
			aux = make(map[string]any, len(n.divider.topology))
			for _, key := range sortedKeys(n.divider.topology) {
				path := n.divider.topology[key]
				target := n.outer.GetPath(path)
				if target == nil {
					return shares, false, &DivisionError{
						Path: n.PathFor(),
						Msg:  fmt.Sprintf("divider topology key %q resolves to missing path %q", key, path),
					}
				}
				aux[key] = target.GetValue()
			}
		}
		shares, err = n.divider.fn(n.GetValue(), aux, n.env.Rand)
		if err != nil {
			return shares, false, &DivisionError{Path: n.PathFor(), Msg: err.Error()}
		}
		return shares, true, nil
	}

	if len(n.children) > 0 {
		daughters := [2]map[string]any{make(map[string]any), make(map[string]any)}
		for _, key := range sortedKeys(n.children) {
			child := n.children[key]
			if _, isProcess := child.value.(Process); isProcess {
				continue
			}
			division, childOK, err := child.DivideValue()
			if err != nil {
				return shares, false, err
			}
			if !childOK {
				continue
			}
			for i := range daughters {
				daughters[i][key] = division[i]
			}
		}
		return [2]any{daughters[0], daughters[1]}, true, nil
	}

	return shares, false, nil
}
