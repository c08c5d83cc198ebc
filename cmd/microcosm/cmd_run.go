package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"microcosm/internal/config"
	"microcosm/internal/emitter"
	"microcosm/internal/logging"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <experiment.yaml>",
		Short: "Run an experiment to completion",
		Long: `Run an experiment to completion.

The experiment file declares the processes, their wiring, the initial
state, and the run settings. Snapshots go to the emitter the file
configures (in-memory by default).

Examples:
  microcosm run growth.yaml
  microcosm run growth.yaml --timeseries growth.arrow
  microcosm run growth.yaml --log-level debug --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			levelFlag, _ := cmd.Flags().GetString("log-level")
			timeseriesPath, _ := cmd.Flags().GetString("timeseries")

			cfg, err := config.LoadFromFile(args[0])
			if err != nil {
				return err
			}
			level := cfg.Logging.Level
			if levelFlag != "" {
				level = levelFlag
			}
			log := logging.NewLogger(level, os.Stderr)

			if timeseriesPath != "" && cfg.Emitter.Type != "" && cfg.Emitter.Type != "memory" {
				return fmt.Errorf("timeseries export requires the memory emitter, experiment uses %q", cfg.Emitter.Type)
			}

			e, emit, err := cfg.Build(nil, log)
			if err != nil {
				return err
			}
			defer emitter.Close(emit)

			start := time.Now()
			if err := e.Update(cfg.Interval); err != nil {
				return fmt.Errorf("failed to run experiment: %w", err)
			}
			elapsed := time.Since(start)

			if timeseriesPath != "" {
				if err := exportTimeseries(emit, timeseriesPath); err != nil {
					return err
				}
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
					"experiment_id": e.ID(),
					"time":          e.Time(),
					"elapsed_ms":    elapsed.Milliseconds(),
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "experiment %s reached t=%v in %s\n",
				e.ID(), e.Time(), elapsed.Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().String("timeseries", "", "Write the run's timeseries as an Arrow IPC stream to this file")
	return cmd
}

func exportTimeseries(emit emitter.Emitter, path string) error {
	mem, ok := emit.(*emitter.InMemory)
	if !ok {
		return fmt.Errorf("timeseries export requires the memory emitter")
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create timeseries file: %w", err)
	}
	defer f.Close()
	if err := emitter.WriteArrow(f, mem.Timeseries()); err != nil {
		return fmt.Errorf("failed to write timeseries: %w", err)
	}
	return nil
}
