package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"microcosm/internal/config"
	"microcosm/internal/emitter"
	"microcosm/internal/logging"
	"microcosm/internal/store"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <experiment.yaml>",
		Short: "Build an experiment and print its resolved store structure",
		Long: `Build an experiment and print its resolved store structure.

The experiment is constructed but not run: every process's ports schema
is applied and the resulting tree is reassembled, showing each variable
with its default, updater, divider, and emit settings, and each process
with its timestep.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := config.LoadFromFile(args[0])
			if err != nil {
				return err
			}
			// Inspection must not write simulation output.
			cfg.Emitter = emitter.Config{Type: "null"}

			e, emit, err := cfg.Build(nil, logging.NewLogger("info", io.Discard))
			if err != nil {
				return err
			}
			defer emitter.Close(emit)

			structure := describeSchema(e.Root().GetConfig())
			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(structure)
			}
			out, err := yaml.Marshal(structure)
			if err != nil {
				return fmt.Errorf("failed to render structure: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}

// describeSchema flattens a reassembled schema into plain maps for printing.
// Process leaves show their concrete type and timestep instead of a value.
func describeSchema(schema *store.Schema) map[string]any {
	if len(schema.Children) > 0 {
		out := make(map[string]any, len(schema.Children))
		for name, child := range schema.Children {
			out[name] = describeSchema(child)
		}
		return out
	}

	if proc, ok := schema.Value.(store.Process); ok {
		return map[string]any{
			"_process":  fmt.Sprintf("%T", proc),
			"_timestep": proc.LocalTimestep(),
		}
	}

	desc := map[string]any{}
	if schema.Default != nil {
		desc["_default"] = schema.Default
	}
	if schema.Value != nil {
		desc["_value"] = schema.Value
	}
	if schema.Updater != "" {
		desc["_updater"] = schema.Updater
	}
	if schema.Divider != "" {
		desc["_divider"] = schema.Divider
	}
	if schema.Emit {
		desc["_emit"] = true
	}
	if len(schema.Properties) > 0 {
		desc["_properties"] = schema.Properties
	}
	return desc
}
