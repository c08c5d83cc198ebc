package processes

import (
	"math"
	"sort"
	"testing"

	"microcosm/internal/emitter"
	"microcosm/internal/experiment"
	"microcosm/internal/store"
)

func TestGrowthUpdate(t *testing.T) {
	growth, err := NewGrowth(map[string]any{
		"rate":             0.1,
		"initial_protein":  100.0,
		"division_protein": 200.0,
	})
	if err != nil {
		t.Fatalf("NewGrowth() error = %v", err)
	}

	update, err := growth.NextUpdate(1.0, map[string]any{
		"internal": map[string]any{"protein": 100.0},
		"global":   map[string]any{"divide": false},
	})
	if err != nil {
		t.Fatalf("NextUpdate() error = %v", err)
	}
	delta := update["internal"].(store.Update)["protein"].(float64)
	want := 100.0 * (math.Exp(0.1) - 1)
	if math.Abs(delta-want) > 1e-9 {
		t.Errorf("protein delta = %v, want %v", delta, want)
	}
	if _, ok := update["global"]; ok {
		t.Errorf("divide flag raised below the division threshold")
	}

	update, err = growth.NextUpdate(1.0, map[string]any{
		"internal": map[string]any{"protein": 190.0},
		"global":   map[string]any{"divide": false},
	})
	if err != nil {
		t.Fatalf("NextUpdate() error = %v", err)
	}
	if divide := update["global"].(store.Update)["divide"]; divide != true {
		t.Errorf("divide = %v, want true once the threshold is crossed", divide)
	}
}

func TestGrowthDivisionGenerate(t *testing.T) {
	compartment := NewGrowthDivision(nil)
	network, err := compartment.Generate(map[string]any{"agent_id": "7"}, store.Path{"7"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	var names []string
	for name := range network.Processes {
		names = append(names, name)
	}
	sort.Strings(names)
	want := []string{"division", "growth", "growth_mass"}
	if len(names) != len(want) {
		t.Fatalf("processes = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("processes = %v, want %v", names, want)
		}
	}

	mass := network.Topology["growth_mass"].(store.Topology)
	path, _ := mass["global"].([]string)
	if len(path) != 1 || path[0] != "global" {
		t.Errorf("mass deriver global port routed to %v, want [global]", path)
	}
}

// newPopulation wires one growth/division agent under an agents store and
// returns the running experiment.
func newPopulation(t *testing.T) (*experiment.Experiment, *GrowthDivision) {
	t.Helper()

	compartment := NewGrowthDivision(map[string]any{
		"growth": map[string]any{
			"rate":             0.1,
			"initial_protein":  100.0,
			"division_protein": 200.0,
		},
	})
	network, err := compartment.Generate(map[string]any{"agent_id": "0"}, store.Path{"0"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	e, err := experiment.New(experiment.Options{
		ID:        "population",
		Processes: store.Processes{"agents": store.Processes{"0": network.Processes}},
		Topology:  store.Topology{"agents": store.Topology{"0": network.Topology}},
		Emitter:   emitter.Null{},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return e, compartment
}

func TestGrowthDivisionExperiment(t *testing.T) {
	e, _ := newPopulation(t)

	// protein(t) = 100*e^(0.1t) crosses 200 when the update computed at
	// t=6 lands, so the mother divides at t=7 and no daughter divides
	// again before t=12.
	if err := e.Update(12.0); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	agents := e.Root().GetPath(store.Path{"agents"})
	if agents == nil {
		t.Fatalf("agents store missing")
	}
	if mother := e.Root().GetPath(store.Path{"agents", "0"}); mother != nil {
		t.Errorf("mother still present after division")
	}

	for _, id := range []string{"00", "01"} {
		protein, ok := e.Root().GetIn(store.Path{"agents", id, "internal", "protein"}).(float64)
		if !ok {
			t.Fatalf("daughter %q has no protein count", id)
		}
		// Half of 100*e^0.7, grown for five more ticks.
		want := 50.0 * math.Exp(0.7) * math.Exp(0.5)
		if math.Abs(protein-want) > want*1e-9 {
			t.Errorf("daughter %q protein = %v, want %v", id, protein, want)
		}

		if divide := e.Root().GetIn(store.Path{"agents", id, "global", "divide"}); divide != false {
			t.Errorf("daughter %q divide flag = %v, want false at birth", id, divide)
		}

		mass, _ := e.Root().GetIn(store.Path{"agents", id, "global", "mass"}).(float64)
		wantMass := protein / avogadro * proteinMW
		if math.Abs(mass-wantMass) > wantMass*1e-9 {
			t.Errorf("daughter %q mass = %v, want %v from the mass deriver", id, mass, wantMass)
		}
	}
}

func TestGrowthDivisionSecondGeneration(t *testing.T) {
	e, _ := newPopulation(t)

	if err := e.Update(12.0); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if err := e.Update(2.0); err != nil {
		t.Fatalf("second Update() error = %v", err)
	}

	agents := e.Root().GetPath(store.Path{"agents"})
	var population []string
	for _, entry := range agents.Depth(nil) {
		if len(entry.Path) == 1 {
			population = append(population, entry.Path[0])
		}
	}
	sort.Strings(population)
	want := []string{"000", "001", "010", "011"}
	if len(population) != len(want) {
		t.Fatalf("population = %v, want %v", population, want)
	}
	for i := range want {
		if population[i] != want[i] {
			t.Fatalf("population = %v, want %v", population, want)
		}
	}
}
