// Package registry provides the lookup tables that resolve symbolic schema
// names (updaters, dividers, serializers) to their implementations.
//
// A Registry is an explicit value passed into the store rather than a set of
// package globals, so two experiments in the same program can run with
// different registries. Default() returns a registry preloaded with the
// standard library of updaters and dividers; callers may register their own
// entries on top of it.
package registry

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// Updater computes the next value of a variable from its current value and an
// update payload.
type Updater func(current, update any) (any, error)

// Divider splits a mother variable's value into two daughter values. aux
// carries any side state resolved through the divider's topology (nil for
// plain dividers); r is the experiment's seeded random source.
type Divider func(value any, aux map[string]any, r *rand.Rand) ([2]any, error)

// Serializer converts a value to and from an emittable representation.
type Serializer interface {
	Serialize(value any) (any, error)
	Deserialize(value any) (any, error)
}

// Registry maps symbolic names to updater, divider, and serializer
// implementations. The zero value is not usable; construct with Default or
// New.
type Registry struct {
	updaters    map[string]Updater
	dividers    map[string]Divider
	serializers map[string]Serializer
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		updaters:    make(map[string]Updater),
		dividers:    make(map[string]Divider),
		serializers: make(map[string]Serializer),
	}
}

// Default returns a registry preloaded with the standard updaters
// (accumulate, set, merge), dividers (set, split, split_dict, zero), and the
// json serializer.
func Default() *Registry {
	r := New()
	r.RegisterUpdater("accumulate", UpdateAccumulate)
	r.RegisterUpdater("set", UpdateSet)
	r.RegisterUpdater("merge", UpdateMerge)
	r.RegisterDivider("set", DivideSet)
	r.RegisterDivider("split", DivideSplit)
	r.RegisterDivider("split_dict", DivideSplitDict)
	r.RegisterDivider("zero", DivideZero)
	r.RegisterSerializer("json", jsonSerializer{})
	return r
}

// RegisterUpdater adds or replaces a named updater.
func (r *Registry) RegisterUpdater(name string, fn Updater) {
	r.updaters[name] = fn
}

// RegisterDivider adds or replaces a named divider.
func (r *Registry) RegisterDivider(name string, fn Divider) {
	r.dividers[name] = fn
}

// RegisterSerializer adds or replaces a named serializer.
func (r *Registry) RegisterSerializer(name string, s Serializer) {
	r.serializers[name] = s
}

// Updater resolves a named updater.
func (r *Registry) Updater(name string) (Updater, error) {
	fn, ok := r.updaters[name]
	if !ok {
		return nil, fmt.Errorf("unknown updater %q", name)
	}
	return fn, nil
}

// Divider resolves a named divider.
func (r *Registry) Divider(name string) (Divider, error) {
	fn, ok := r.dividers[name]
	if !ok {
		return nil, fmt.Errorf("unknown divider %q", name)
	}
	return fn, nil
}

// Serializer resolves a named serializer.
func (r *Registry) Serializer(name string) (Serializer, error) {
	s, ok := r.serializers[name]
	if !ok {
		return nil, fmt.Errorf("unknown serializer %q", name)
	}
	return s, nil
}

// UpdateAccumulate returns current + update for numeric values.
func UpdateAccumulate(current, update any) (any, error) {
	if current == nil {
		return update, nil
	}
	switch c := current.(type) {
	case int:
		switch u := update.(type) {
		case int:
			return c + u, nil
		case float64:
			return float64(c) + u, nil
		}
	case float64:
		switch u := update.(type) {
		case int:
			return c + float64(u), nil
		case float64:
			return c + u, nil
		}
	}
	return nil, fmt.Errorf("accumulate: cannot add %T and %T", update, current)
}

// UpdateSet returns the update payload, discarding the current value.
func UpdateSet(_, update any) (any, error) {
	return update, nil
}

// UpdateMerge merges two string-keyed maps, with the update winning on shared
// keys. Nested maps are merged recursively.
func UpdateMerge(current, update any) (any, error) {
	c, ok := current.(map[string]any)
	if current != nil && !ok {
		return nil, fmt.Errorf("merge: current value is %T, not a map", current)
	}
	u, ok := update.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("merge: update payload is %T, not a map", update)
	}
	merged := make(map[string]any, len(c)+len(u))
	for k, v := range c {
		merged[k] = v
	}
	for k, v := range u {
		if inner, ok := v.(map[string]any); ok {
			sub, err := UpdateMerge(merged[k], inner)
			if err != nil {
				return nil, err
			}
			merged[k] = sub
		} else {
			merged[k] = v
		}
	}
	return merged, nil
}

// DivideSet gives both daughters the mother's value. No copy is performed.
func DivideSet(value any, _ map[string]any, _ *rand.Rand) ([2]any, error) {
	return [2]any{value, value}, nil
}

// DivideZero gives both daughters the zero of the mother's type.
func DivideZero(value any, _ map[string]any, _ *rand.Rand) ([2]any, error) {
	switch value.(type) {
	case bool:
		return [2]any{false, false}, nil
	case float64:
		return [2]any{0.0, 0.0}, nil
	default:
		return [2]any{0, 0}, nil
	}
}

// DivideSplit halves a numeric value. Integers split as (n/2 + remainder,
// n/2) with the remainder's side chosen at random; infinite values (including
// the "Infinity" sentinel) pass through unchanged to both daughters.
func DivideSplit(value any, _ map[string]any, r *rand.Rand) ([2]any, error) {
	switch v := value.(type) {
	case int:
		half := v / 2
		remainder := v % 2
		if r.Intn(2) == 0 {
			return [2]any{half + remainder, half}, nil
		}
		return [2]any{half, half + remainder}, nil
	case float64:
		if math.IsInf(v, 0) {
			return [2]any{v, v}, nil
		}
		return [2]any{v / 2, v / 2}, nil
	case string:
		if v == "Infinity" {
			return [2]any{v, v}, nil
		}
	}
	return [2]any{}, fmt.Errorf("split: cannot divide value %v of type %T", value, value)
}

// DivideSplitDict splits a string-keyed map into two maps of roughly equal
// size. Keys are partitioned by sorted order so the split is deterministic,
// but callers must not depend on which daughter receives which keys.
func DivideSplitDict(value any, _ map[string]any, _ *rand.Rand) ([2]any, error) {
	if value == nil {
		return [2]any{map[string]any{}, map[string]any{}}, nil
	}
	m, ok := value.(map[string]any)
	if !ok {
		return [2]any{}, fmt.Errorf("split_dict: cannot divide value of type %T", value)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	mid := len(keys) / 2
	first := make(map[string]any, len(keys)-mid)
	second := make(map[string]any, mid)
	for _, k := range keys[mid:] {
		first[k] = m[k]
	}
	for _, k := range keys[:mid] {
		second[k] = m[k]
	}
	return [2]any{first, second}, nil
}

// jsonSerializer round-trips opaque values through JSON text.
type jsonSerializer struct{}

func (jsonSerializer) Serialize(value any) (any, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("json serializer: %w", err)
	}
	return string(data), nil
}

func (jsonSerializer) Deserialize(value any) (any, error) {
	text, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("json serializer: expected string, got %T", value)
	}
	var out any
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("json serializer: %w", err)
	}
	return out, nil
}
