// Package experiment drives a simulation: it owns the store root, the
// process and topology registration, and the bulk-synchronous variable
// timestep loop that advances every process at its own rate.
//
// Each superstep snapshots the store through every due process's topology,
// computes the updates, advances global time to the nearest computed front,
// and applies every update that has become due as one batch. Derivers run
// after every batch with a zero-length interval. No process observes another
// process's update from the same superstep.
package experiment

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"microcosm/internal/emitter"
	"microcosm/internal/registry"
	"microcosm/internal/store"
)

// Options configures an experiment. Processes and Topology describe the
// initial process graph the way a Compartment generates them.
type Options struct {
	ID           string
	Description  string
	Processes    store.Processes
	Topology     store.Topology
	InitialState map[string]any

	// Registry resolves updater/divider/serializer names; nil means the
	// default registry.
	Registry *registry.Registry

	// Seed drives the experiment's random source (stochastic dividers).
	Seed int64

	// Emitter receives history and configuration records; nil means an
	// in-memory emitter.
	Emitter emitter.Emitter

	// EmitStep is the simulated-time cadence between history emissions.
	// Zero emits after every applied batch.
	EmitStep float64

	Log *slog.Logger
}

// front tracks how far one process has simulated: the time its last computed
// update lands at, and that update (already translated to absolute paths)
// until it is applied.
type front struct {
	time    float64
	update  map[string]any
	pending bool
}

// Experiment is a running simulation.
type Experiment struct {
	id          string
	description string
	root        *store.Node
	topology    store.Topology
	emitter     emitter.Emitter
	emitStep    float64
	log         *slog.Logger

	localTime float64
	fronts    map[string]*front
}

// New wires the initial process graph into a fresh store, runs the derivers
// once so derived quantities start consistent, and emits the configuration
// record plus the initial snapshot.
func New(opts Options) (*Experiment, error) {
	id := opts.ID
	if id == "" {
		id = fmt.Sprintf("experiment_%d", time.Now().UnixNano())
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	sink := opts.Emitter
	if sink == nil {
		sink = emitter.NewInMemory()
	}

	env := store.NewEnv(opts.Registry, opts.Seed, log)
	root, err := store.NewRoot(env, nil)
	if err != nil {
		return nil, err
	}
	topology := opts.Topology
	if topology == nil {
		topology = store.Topology{}
	}
	if err := root.Generate(nil, opts.Processes, topology, opts.InitialState); err != nil {
		return nil, err
	}

	e := &Experiment{
		id:          id,
		description: opts.Description,
		root:        root,
		topology:    topology,
		emitter:     sink,
		emitStep:    opts.EmitStep,
		log:         log,
		fronts:      make(map[string]*front),
	}

	if err := e.runDerivers(e.deriverEntries()); err != nil {
		return nil, err
	}
	e.emitConfiguration()
	e.emitData()

	log.Info("experiment initialized",
		"id", e.id, "processes", len(root.ProcessEntries()))
	return e, nil
}

// ID returns the experiment identifier emitted with the configuration
// record.
func (e *Experiment) ID() string { return e.id }

// Root returns the store root. Callers must not mutate it outside the
// scheduler's apply phase.
func (e *Experiment) Root() *store.Node { return e.root }

// Time returns the simulated time reached so far.
func (e *Experiment) Time() float64 { return e.localTime }

// Update advances the simulation by interval. On return every live process
// has simulated exactly to the end of the interval; anything less is a
// scheduling invariant violation and aborts the run.
func (e *Experiment) Update(interval float64) error {
	time := 0.0
	emitTime := e.emitStep

	for time < interval {
		fullStep := math.Inf(1)
		processes, derivers := e.splitEntries()
		e.pruneFronts(processes)

		for _, entry := range processes {
			key := entry.Path.Key()
			fr, ok := e.fronts[key]
			if !ok {
				fr = &front{time: time}
				e.fronts[key] = fr
			}
			if fr.time > time || fr.pending {
				continue
			}
			proc := entry.Node.Value().(store.Process)
			timestep := proc.LocalTimestep()
			if timestep <= 0 {
				return &store.SchedulingInvariantError{
					Path: entry.Path,
					Msg:  fmt.Sprintf("timer-driven process declares timestep %v", timestep),
				}
			}
			future := math.Min(fr.time+timestep, interval)
			step := future - fr.time

			update, err := e.processUpdate(entry, step)
			if err != nil {
				return err
			}
			fr.time = future
			fr.update = update
			fr.pending = true
			if step < fullStep {
				fullStep = step
			}
		}

		var stepEnd float64
		if math.IsInf(fullStep, 1) {
			// No process was due: jump to the nearest future front.
			stepEnd = interval
			for _, fr := range e.fronts {
				if fr.time < stepEnd {
					stepEnd = fr.time
				}
			}
		} else {
			stepEnd = time + fullStep
		}

		// Apply every update that has become due, in process order.
		applied := false
		for _, entry := range processes {
			fr := e.fronts[entry.Path.Key()]
			if fr == nil || !fr.pending || fr.time > stepEnd {
				continue
			}
			if err := e.applyUpdate(fr.update); err != nil {
				return err
			}
			fr.update = nil
			fr.pending = false
			applied = true
		}
		if applied {
			if err := e.runDerivers(derivers); err != nil {
				return err
			}
		}

		e.localTime += stepEnd - time
		time = stepEnd

		if e.emitStep == 0 {
			if applied {
				e.emitData()
			}
		} else {
			for emitTime <= time {
				e.emitData()
				emitTime += e.emitStep
			}
		}
	}

	processes, _ := e.splitEntries()
	e.pruneFronts(processes)
	for _, entry := range processes {
		fr := e.fronts[entry.Path.Key()]
		if fr == nil {
			// First scheduled at the next Update call.
			continue
		}
		if fr.time != interval || fr.pending {
			return &store.SchedulingInvariantError{
				Path: entry.Path,
				Msg:  fmt.Sprintf("front stopped at %v before reaching %v", fr.time, interval),
			}
		}
		fr.time = 0
	}
	return nil
}

// splitEntries collects the current process leaves of the tree, separating
// timer-driven processes from derivers. The sets can shrink and grow between
// supersteps as divisions and deletions restructure the tree.
func (e *Experiment) splitEntries() (processes, derivers []store.Entry) {
	for _, entry := range e.root.ProcessEntries() {
		if entry.Node.Value().(store.Process).IsDeriver() {
			derivers = append(derivers, entry)
		} else {
			processes = append(processes, entry)
		}
	}
	return processes, derivers
}

func (e *Experiment) deriverEntries() []store.Entry {
	_, derivers := e.splitEntries()
	return derivers
}

// pruneFronts drops front entries whose process no longer exists, discarding
// any update it had computed: a deleted process's pending work dies with it.
func (e *Experiment) pruneFronts(processes []store.Entry) {
	live := make(map[string]bool, len(processes))
	for _, entry := range processes {
		live[entry.Path.Key()] = true
	}
	for key := range e.fronts {
		if !live[key] {
			delete(e.fronts, key)
		}
	}
}

// processUpdate snapshots the store through the process's topology, computes
// its update for the given timestep, and translates the result back to
// absolute paths.
func (e *Experiment) processUpdate(entry store.Entry, timestep float64) (map[string]any, error) {
	proc := entry.Node.Value().(store.Process)
	outer := entry.Path[:len(entry.Path)-1]
	topology := e.processTopology(entry.Path)

	parent := e.root.GetPath(outer)
	if parent == nil {
		return nil, &store.SchedulingInvariantError{
			Path: entry.Path,
			Msg:  "process parent no longer exists",
		}
	}
	states, err := parent.SchemaTopology(proc.PortsSchema(), topology)
	if err != nil {
		return nil, err
	}
	ports, _ := states.(map[string]any)

	update, err := proc.NextUpdate(timestep, ports)
	if err != nil {
		return nil, fmt.Errorf("process %q: %w", entry.Path.String(), err)
	}
	return store.InverseTopology(outer, update, topology), nil
}

// processTopology resolves the topology entry registered for the process at
// path.
func (e *Experiment) processTopology(path store.Path) store.Topology {
	var current any = e.topology
	for _, step := range path {
		topo, ok := current.(store.Topology)
		if !ok {
			if raw, isMap := current.(map[string]any); isMap {
				topo = store.Topology(raw)
			} else {
				return store.Topology{}
			}
		}
		current = topo[step]
	}
	switch v := current.(type) {
	case store.Topology:
		return v
	case map[string]any:
		return store.Topology(v)
	default:
		return store.Topology{}
	}
}

// applyUpdate applies one absolute-path update to the store and merges any
// topology wiring it introduced, so processes created by _generate/_divide
// are scheduled from the next superstep on.
func (e *Experiment) applyUpdate(update map[string]any) error {
	if len(update) == 0 {
		return nil
	}
	topologyUpdates, err := e.root.ApplyUpdate(update)
	if err != nil {
		return err
	}
	if len(topologyUpdates) > 0 {
		e.topology = store.Topology(store.DeepMerge(map[string]any(e.topology), topologyUpdates))
	}
	return nil
}

// runDerivers runs every deriver with a zero-length interval, applying each
// update immediately so later derivers observe earlier ones.
func (e *Experiment) runDerivers(derivers []store.Entry) error {
	for _, entry := range derivers {
		if entry.Node.Deleted() {
			continue
		}
		update, err := e.processUpdate(entry, 0)
		if err != nil {
			return err
		}
		if err := e.applyUpdate(update); err != nil {
			return err
		}
	}
	return nil
}

func (e *Experiment) emitConfiguration() {
	e.emitter.Emit(emitter.TableConfiguration, map[string]any{
		"experiment_id": e.id,
		"description":   e.description,
		"time_created":  time.Now().UTC().Format(time.RFC3339),
	})
}

func (e *Experiment) emitData() {
	data, err := e.root.EmitData()
	if err != nil {
		e.log.Warn("snapshot emission failed", "error", err)
		return
	}
	snapshot, _ := data.(map[string]any)
	if snapshot == nil {
		snapshot = map[string]any{}
	}
	snapshot["time"] = e.localTime
	e.emitter.Emit(emitter.TableHistory, snapshot)
}
