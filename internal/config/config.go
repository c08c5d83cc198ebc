// Package config provides YAML experiment definitions: which processes to
// build, how their ports wire into the tree, the initial state, and the run
// settings. A loaded definition resolves against a process library into a
// runnable experiment.
package config

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"microcosm/internal/emitter"
	"microcosm/internal/experiment"
	"microcosm/internal/process"
	"microcosm/internal/processes"
	"microcosm/internal/store"
)

// ProcessSpec names a process factory and its parameters.
type ProcessSpec struct {
	// Type is the factory name resolved against the process library.
	Type string `yaml:"type"`

	// Config is passed through to the factory.
	Config map[string]any `yaml:"config,omitempty"`
}

// CompartmentSpec seeds a population of agents, each generated from a named
// compartment.
type CompartmentSpec struct {
	// Type identifies the compartment; "growth_division" is built in.
	Type string `yaml:"type"`

	// Agents lists the agent ids to seed. Defaults to a single agent "0".
	Agents []string `yaml:"agents,omitempty"`

	// Path is the store the population lives under. Defaults to [agents].
	Path []string `yaml:"path,omitempty"`

	// Config is passed through to the compartment.
	Config map[string]any `yaml:"config,omitempty"`
}

// LoggingConfig configures operational logging.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	Level string `yaml:"level,omitempty"`
}

// ExperimentConfig is a whole experiment definition.
type ExperimentConfig struct {
	ID          string  `yaml:"id,omitempty"`
	Description string  `yaml:"description,omitempty"`
	Interval    float64 `yaml:"interval"`
	EmitStep    float64 `yaml:"emit_step,omitempty"`
	Seed        int64   `yaml:"seed,omitempty"`

	Logging LoggingConfig  `yaml:"logging,omitempty"`
	Emitter emitter.Config `yaml:"emitter,omitempty"`

	Processes    map[string]ProcessSpec `yaml:"processes,omitempty"`
	Topology     map[string]any         `yaml:"topology,omitempty"`
	InitialState map[string]any         `yaml:"initial_state,omitempty"`
	Compartment  *CompartmentSpec       `yaml:"compartment,omitempty"`
}

// Default returns an ExperimentConfig with sensible defaults.
func Default() *ExperimentConfig {
	return &ExperimentConfig{
		Interval: 10.0,
		Logging:  LoggingConfig{Level: "info"},
		Emitter:  emitter.Config{Type: "memory"},
	}
}

// LoadFromFile loads an experiment definition from a YAML file.
func LoadFromFile(path string) (*ExperimentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading experiment file: %w", err)
	}
	return Parse(data)
}

// Parse loads an experiment definition from YAML bytes.
func Parse(data []byte) (*ExperimentConfig, error) {
	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing experiment file: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks that the definition is runnable.
func (c *ExperimentConfig) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %v", c.Interval)
	}
	if c.EmitStep < 0 {
		return fmt.Errorf("emit_step must be non-negative, got %v", c.EmitStep)
	}
	validLevels := map[string]bool{"": true, "info": true, "debug": true, "trace": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, trace, or empty for default)", c.Logging.Level)
	}
	if len(c.Processes) == 0 && c.Compartment == nil {
		return fmt.Errorf("experiment declares no processes and no compartment")
	}
	for name, spec := range c.Processes {
		if spec.Type == "" {
			return fmt.Errorf("process %q declares no type", name)
		}
	}
	return nil
}

// Build resolves the definition against lib into a running experiment. The
// caller owns the returned emitter and must close it after the run.
func (c *ExperimentConfig) Build(lib *process.Library, log *slog.Logger) (*experiment.Experiment, emitter.Emitter, error) {
	if lib == nil {
		lib = processes.DefaultLibrary()
	}

	emitterConfig := c.Emitter
	emitterConfig.ExperimentID = c.ID
	emit, err := emitter.New(emitterConfig, log)
	if err != nil {
		return nil, nil, fmt.Errorf("building emitter: %w", err)
	}

	network := &process.Network{
		Processes: store.Processes{},
		Topology:  store.Topology{},
	}
	for name, spec := range c.Processes {
		proc, err := lib.Build(spec.Type, spec.Config)
		if err != nil {
			return nil, nil, fmt.Errorf("process %q: %w", name, err)
		}
		network.Processes[name] = proc
	}
	topology, err := toTopology(c.Topology)
	if err != nil {
		return nil, nil, fmt.Errorf("topology: %w", err)
	}
	network.Topology = topology
	if err := process.AttachDerivers(lib, network); err != nil {
		return nil, nil, fmt.Errorf("attaching derivers: %w", err)
	}

	if c.Compartment != nil {
		if err := c.seedPopulation(network); err != nil {
			return nil, nil, err
		}
	}

	e, err := experiment.New(experiment.Options{
		ID:           c.ID,
		Description:  c.Description,
		Processes:    network.Processes,
		Topology:     network.Topology,
		InitialState: floatState(c.InitialState),
		Seed:         c.Seed,
		Emitter:      emit,
		EmitStep:     c.EmitStep,
		Log:          log,
	})
	if err != nil {
		emitter.Close(emit)
		return nil, nil, err
	}
	return e, emit, nil
}

// seedPopulation generates one network per agent id and nests them under the
// population path.
func (c *ExperimentConfig) seedPopulation(network *process.Network) error {
	spec := c.Compartment
	compartment, err := newCompartment(spec)
	if err != nil {
		return err
	}

	agents := spec.Agents
	if len(agents) == 0 {
		agents = []string{"0"}
	}
	path := store.Path(spec.Path)
	if len(path) == 0 {
		path = store.Path{"agents"}
	}

	for _, id := range agents {
		agent, err := compartment.Generate(map[string]any{"agent_id": id}, append(path, id))
		if err != nil {
			return fmt.Errorf("generating agent %q: %w", id, err)
		}
		nestNetwork(network, append(path, id), agent)
	}
	return nil
}

// newCompartment resolves a compartment spec by type.
func newCompartment(spec *CompartmentSpec) (process.Compartment, error) {
	switch spec.Type {
	case "growth_division":
		return processes.NewGrowthDivision(spec.Config), nil
	default:
		return nil, fmt.Errorf("unknown compartment type %q", spec.Type)
	}
}

// nestNetwork grafts an agent's network into the experiment network at path.
func nestNetwork(network *process.Network, path store.Path, agent *process.Network) {
	procs := network.Processes
	topo := network.Topology
	for _, step := range path {
		group, ok := procs[step].(store.Processes)
		if !ok {
			group = store.Processes{}
			procs[step] = group
		}
		procs = group

		branch, ok := topo[step].(store.Topology)
		if !ok {
			branch = store.Topology{}
			topo[step] = branch
		}
		topo = branch
	}
	for name, proc := range agent.Processes {
		procs[name] = proc
	}
	for name, entry := range agent.Topology {
		topo[name] = entry
	}
}

// toTopology converts parsed YAML into topology form: maps recurse, lists
// become paths, and maps carrying _path keep their other keys as nested
// wiring.
func toTopology(raw map[string]any) (store.Topology, error) {
	topology := store.Topology{}
	for name, value := range raw {
		converted, err := topologyEntry(value)
		if err != nil {
			return nil, fmt.Errorf("port %q: %w", name, err)
		}
		topology[name] = converted
	}
	return topology, nil
}

func topologyEntry(value any) (any, error) {
	switch v := value.(type) {
	case []any:
		return toPath(v)
	case []string:
		return v, nil
	case map[string]any:
		return toTopology(v)
	case string:
		return []string{v}, nil
	default:
		return nil, fmt.Errorf("entry is %T, expected path or nested map", value)
	}
}

func toPath(raw []any) ([]string, error) {
	path := make([]string, len(raw))
	for i, step := range raw {
		s, ok := step.(string)
		if !ok {
			return nil, fmt.Errorf("path step %v is %T, expected string", step, step)
		}
		path[i] = s
	}
	return path, nil
}

// floatState normalizes YAML numbers to float64 so initial values match the
// float-typed variables the built-in processes declare.
func floatState(state map[string]any) map[string]any {
	if state == nil {
		return nil
	}
	out := make(map[string]any, len(state))
	for key, value := range state {
		switch v := value.(type) {
		case map[string]any:
			out[key] = floatState(v)
		case int:
			out[key] = float64(v)
		default:
			out[key] = v
		}
	}
	return out
}
