package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Napageneral/airport/internal/config"
	"github.com/Napageneral/airport/internal/history"
	"github.com/Napageneral/airport/internal/logger"
	"github.com/Napageneral/airport/internal/plane"
	"github.com/Napageneral/airport/internal/scenario"
	"github.com/Napageneral/airport/internal/sim"
)

// errInconsistent marks a completed run whose end state failed the checks.
var errInconsistent = errors.New("run ended in an inconsistent state")

type runOptions struct {
	scenarioPath string
	scenarioID   string
	scenarioDir  string
	planes       int
	gates        int
	timeScale    float64
	seed         int64
	format       string
	noHistory    bool
}

func newRunCmd(out io.Writer, configPath *string) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a simulation and print its summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("time-scale") {
				cfg.Sim.TimeScale = opts.timeScale
			}
			if flags.Changed("seed") {
				cfg.Sim.Seed = opts.seed
			}
			if opts.noHistory {
				cfg.History.Enabled = false
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			switch opts.format {
			case "text", "json", "yaml":
			default:
				return fmt.Errorf("unknown format %q (expected text, json or yaml)", opts.format)
			}

			if err := logger.Init(logger.Options{
				Level:       cfg.Log.Level,
				Development: cfg.Log.Development,
				File:        cfg.Log.File,
				Quiet:       opts.format != "text",
			}); err != nil {
				return err
			}

			scn, err := resolveScenario(opts)
			if err != nil {
				return err
			}
			if flags.Changed("gates") {
				scn.Gates = opts.gates
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSimulation(ctx, out, cfg, scn, opts.format)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.scenarioPath, "scenario", "", "scenario YAML file")
	f.StringVar(&opts.scenarioID, "scenario-id", "", "built-in (or --scenario-dir) scenario ID")
	f.StringVar(&opts.scenarioDir, "scenario-dir", "", "override directory for --scenario-id")
	f.IntVar(&opts.planes, "planes", 0, "generate a fleet of this many planes instead of a scenario")
	f.IntVar(&opts.gates, "gates", 0, "gate count (overrides config and scenario)")
	f.Float64Var(&opts.timeScale, "time-scale", 1.0, "multiply every simulated duration by this factor")
	f.Int64Var(&opts.seed, "seed", 0, "random seed (0 = time based)")
	f.StringVar(&opts.format, "format", "text", "output format: text, json or yaml")
	f.BoolVar(&opts.noHistory, "no-history", false, "do not record the run in the history database")

	return cmd
}

func resolveScenario(opts runOptions) (*scenario.Scenario, error) {
	switch {
	case opts.scenarioPath != "":
		return scenario.Load(opts.scenarioPath)
	case opts.scenarioID != "":
		return scenario.NewLoader(opts.scenarioDir).Get(opts.scenarioID)
	case opts.planes > 0:
		return scenario.Generate(opts.planes), nil
	default:
		return scenario.Default()
	}
}

func runSimulation(ctx context.Context, out io.Writer, cfg *config.Config, scn *scenario.Scenario, format string) error {
	log := logger.Component("cli")
	runID := uuid.NewString()

	var (
		store  *history.Store
		writer *history.Writer
		simOpt = sim.Options{RunID: runID}
	)
	if cfg.History.Enabled {
		var err error
		store, err = history.Open(cfg.History.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()
		writer = history.NewWriter(store.DB(), history.DefaultWriterConfig())
		simOpt.Observers = []plane.Observer{history.NewRecorder(writer, runID)}
	}

	s, err := sim.New(cfg, scn, simOpt)
	if err != nil {
		if writer != nil {
			writer.Close()
		}
		return err
	}

	res, runErr := s.Run(ctx)

	if writer != nil {
		if err := writer.Close(); err != nil {
			log.Error("failed to persist plane events", zap.Error(err))
		}
		if err := store.SaveRun(res); err != nil {
			log.Error("failed to save run", zap.Error(err))
		}
	}

	if err := printResult(out, res, format); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}
	if !res.Interrupted && !res.Consistent() {
		return errInconsistent
	}
	return nil
}

func printResult(out io.Writer, res *sim.Result, format string) error {
	switch format {
	case "json":
		return printJSON(out, res)
	case "yaml":
		return printYAML(out, res)
	}

	fmt.Fprintf(out, "Run %s (scenario %s, seed %d, %d gates)\n", res.RunID, res.Scenario, res.Seed, res.Gates)
	fmt.Fprint(out, res.Summary.Text())
	if res.Interrupted {
		fmt.Fprintln(out, "Run was interrupted before every plane departed.")
	}
	if res.Error != "" {
		fmt.Fprintf(out, "Error: %s\n", res.Error)
	}
	return nil
}
