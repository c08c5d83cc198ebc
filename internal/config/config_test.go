package config

import (
	"math"
	"testing"

	"microcosm/internal/emitter"
	"microcosm/internal/store"
)

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
	}{
		{
			name: "minimal process",
			yaml: "interval: 5\nprocesses:\n  growth:\n    type: growth\n",
		},
		{
			name: "minimal compartment",
			yaml: "interval: 5\ncompartment:\n  type: growth_division\n",
		},
		{
			name:    "zero interval",
			yaml:    "interval: 0\nprocesses:\n  growth:\n    type: growth\n",
			wantErr: true,
		},
		{
			name:    "negative emit step",
			yaml:    "interval: 5\nemit_step: -1\nprocesses:\n  growth:\n    type: growth\n",
			wantErr: true,
		},
		{
			name:    "bad log level",
			yaml:    "interval: 5\nlogging:\n  level: loud\nprocesses:\n  growth:\n    type: growth\n",
			wantErr: true,
		},
		{
			name:    "process without type",
			yaml:    "interval: 5\nprocesses:\n  growth:\n    config: {}\n",
			wantErr: true,
		},
		{
			name:    "nothing to run",
			yaml:    "interval: 5\n",
			wantErr: true,
		},
		{
			name:    "malformed yaml",
			yaml:    "interval: [\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if (err != nil) != tt.wantErr {
				t.Errorf("Parse() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

const singleProcessYAML = `
id: single
interval: 5
emit_step: 1
processes:
  growth:
    type: growth
    config:
      rate: 0.1
      initial_protein: 100
topology:
  growth:
    internal: [internal]
    global: [global]
initial_state:
  internal:
    protein: 50
`

func TestBuildSingleProcess(t *testing.T) {
	cfg, err := Parse([]byte(singleProcessYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	e, emit, err := cfg.Build(nil, nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer emitter.Close(emit)

	if err := e.Update(cfg.Interval); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	protein, ok := e.Root().GetIn(store.Path{"internal", "protein"}).(float64)
	if !ok {
		t.Fatalf("protein missing after run")
	}
	want := 50.0 * math.Exp(0.5)
	if math.Abs(protein-want) > want*1e-9 {
		t.Errorf("protein = %v, want %v from initial_state override", protein, want)
	}

	// The growth process declares a mass deriver; building from config must
	// attach it.
	if _, ok := e.Root().GetIn(store.Path{"global", "mass"}).(float64); !ok {
		t.Errorf("mass deriver not attached")
	}

	mem, ok := emit.(*emitter.InMemory)
	if !ok {
		t.Fatalf("default emitter is %T, want *InMemory", emit)
	}
	if got := len(mem.History()); got != 6 {
		t.Errorf("history has %d snapshots, want 6 for emit_step 1 over interval 5", got)
	}
}

const populationYAML = `
id: population
interval: 3
compartment:
  type: growth_division
  agents: [a, b]
  config:
    growth:
      rate: 0.1
      initial_protein: 100
`

func TestBuildPopulation(t *testing.T) {
	cfg, err := Parse([]byte(populationYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	e, emit, err := cfg.Build(nil, nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer emitter.Close(emit)

	if err := e.Update(cfg.Interval); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	for _, id := range []string{"a", "b"} {
		protein, ok := e.Root().GetIn(store.Path{"agents", id, "internal", "protein"}).(float64)
		if !ok {
			t.Fatalf("agent %q has no protein count", id)
		}
		want := 100.0 * math.Exp(0.3)
		if math.Abs(protein-want) > want*1e-9 {
			t.Errorf("agent %q protein = %v, want %v", id, protein, want)
		}
	}
}

func TestBuildUnknownTypes(t *testing.T) {
	cfg, err := Parse([]byte("interval: 5\nprocesses:\n  p:\n    type: warp\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if _, _, err := cfg.Build(nil, nil); err == nil {
		t.Errorf("Build() with unknown process type did not fail")
	}

	cfg, err = Parse([]byte("interval: 5\ncompartment:\n  type: warp\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if _, _, err := cfg.Build(nil, nil); err == nil {
		t.Errorf("Build() with unknown compartment type did not fail")
	}
}

func TestTopologyConversion(t *testing.T) {
	raw := map[string]any{
		"proc": map[string]any{
			"port":   []any{"..", "shared"},
			"nested": map[string]any{"_path": []any{"up"}, "inner": []any{"leaf"}},
			"short":  "local",
		},
	}
	topology, err := toTopology(raw)
	if err != nil {
		t.Fatalf("toTopology() error = %v", err)
	}

	proc := topology["proc"].(store.Topology)
	if path := proc["port"].([]string); len(path) != 2 || path[0] != ".." || path[1] != "shared" {
		t.Errorf("port path = %v, want [.. shared]", path)
	}
	nested := proc["nested"].(store.Topology)
	if path := nested["_path"].([]string); len(path) != 1 || path[0] != "up" {
		t.Errorf("_path = %v, want [up]", path)
	}
	if path := proc["short"].([]string); len(path) != 1 || path[0] != "local" {
		t.Errorf("short path = %v, want [local]", path)
	}

	if _, err := toTopology(map[string]any{"p": 7}); err == nil {
		t.Errorf("numeric topology entry did not fail")
	}
}
