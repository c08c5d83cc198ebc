package process

import (
	"fmt"
	"slices"

	"microcosm/internal/store"
)

// Library maps symbolic process names to factories, letting configuration
// files and division directives name the processes they instantiate.
type Library struct {
	factories map[string]store.ProcessFactory
}

// NewLibrary returns an empty library.
func NewLibrary() *Library {
	return &Library{factories: make(map[string]store.ProcessFactory)}
}

// Register adds or replaces a named factory.
func (l *Library) Register(name string, factory store.ProcessFactory) {
	l.factories[name] = factory
}

// Build instantiates the named process with the given config.
func (l *Library) Build(name string, config map[string]any) (store.Process, error) {
	factory, ok := l.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown process %q", name)
	}
	proc, err := factory(config)
	if err != nil {
		return nil, fmt.Errorf("building process %q: %w", name, err)
	}
	return proc, nil
}

// Names lists the registered factory names in sorted order.
func (l *Library) Names() []string {
	names := make([]string, 0, len(l.factories))
	for name := range l.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
