package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Napageneral/airport/internal/config"
	"github.com/Napageneral/airport/internal/gates"
	"github.com/Napageneral/airport/internal/logger"
	"github.com/Napageneral/airport/internal/plane"
	"github.com/Napageneral/airport/internal/refuel"
	"github.com/Napageneral/airport/internal/runway"
	"github.com/Napageneral/airport/internal/scenario"
	"github.com/Napageneral/airport/internal/stats"
)

// ErrShutdownTimeout is returned when planes are still running after the
// shutdown grace period.
var ErrShutdownTimeout = errors.New("shutdown timeout exceeded")

// Options are per-run extras that do not belong in config.
type Options struct {
	// RunID identifies the run; empty generates a new UUID.
	RunID string
	// Observers receive every plane event alongside the stats collector.
	Observers []plane.Observer
}

// Simulation is one configured run of a scenario.
type Simulation struct {
	cfg      *config.Config
	scenario *scenario.Scenario
	runID    string
	seed     int64

	airport   plane.Airport
	collector *stats.Collector
	observer  plane.Observer
	arrivals  []scenario.Arrival
	params    plane.Params
	log       *zap.Logger
}

// Result is the outcome of a run.
type Result struct {
	RunID       string            `json:"run_id" yaml:"run_id"`
	Scenario    string            `json:"scenario" yaml:"scenario"`
	Seed        int64             `json:"seed" yaml:"seed"`
	Gates       int               `json:"gates" yaml:"gates"`
	StartedAt   time.Time         `json:"started_at" yaml:"started_at"`
	FinishedAt  time.Time         `json:"finished_at" yaml:"finished_at"`
	ElapsedMS   int64             `json:"elapsed_ms" yaml:"elapsed_ms"`
	Summary     stats.Summary     `json:"summary" yaml:"summary"`
	GateStatus  []gates.Status    `json:"gate_status" yaml:"gate_status"`
	FinalStates map[string]string `json:"final_states" yaml:"final_states"`
	Interrupted bool              `json:"interrupted" yaml:"interrupted"`
	Error       string            `json:"error,omitempty" yaml:"error,omitempty"`
}

// Consistent reports whether the run ended cleanly: every plane departed, no
// gate is occupied and nothing failed.
func (r *Result) Consistent() bool {
	return r.Error == "" && !r.Interrupted && r.Summary.Consistent()
}

// New wires the shared resources and resolves the fleet.
func New(cfg *config.Config, scn *scenario.Scenario, opts Options) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := scn.Validate(); err != nil {
		return nil, err
	}

	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	seed := cfg.Sim.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	gateCount := cfg.Gates.Count
	if scn.Gates > 0 {
		gateCount = scn.Gates
	}

	params := plane.ParamsFromConfig(cfg)
	collector := stats.NewCollector(len(scn.Planes))
	observers := plane.Observers{collector}
	observers = append(observers, opts.Observers...)

	s := &Simulation{
		cfg:      cfg,
		scenario: scn,
		runID:    runID,
		seed:     seed,
		airport: plane.Airport{
			Runway: runway.NewController(cfg.ScaleDuration(cfg.Runway.PollInterval)),
			Gates:  gates.New(gateCount),
			Refuel: refuel.New(params.Timing.Refuel),
		},
		collector: collector,
		observer:  observers,
		params:    params,
		log:       logger.Component("sim").With(zap.String("run_id", runID)),
	}
	s.arrivals = scn.Resolve(cfg, rand.New(rand.NewSource(seed)))
	return s, nil
}

func (s *Simulation) RunID() string               { return s.runID }
func (s *Simulation) Airport() plane.Airport      { return s.airport }
func (s *Simulation) Collector() *stats.Collector { return s.collector }

// Arrivals returns the resolved fleet in arrival order.
func (s *Simulation) Arrivals() []scenario.Arrival {
	return append([]scenario.Arrival(nil), s.arrivals...)
}

// Run launches every plane at its arrival offset and waits for all of them.
// The first non-cancellation error (an invariant violation) cancels the rest
// of the run. A Result is always returned.
func (s *Simulation) Run(ctx context.Context) (*Result, error) {
	started := time.Now()
	s.log.Info("simulation starting",
		zap.String("scenario", s.scenario.ID),
		zap.Int("planes", len(s.arrivals)),
		zap.Int("gates", s.airport.Gates.Size()),
		zap.Int64("seed", s.seed))

	g, gctx := errgroup.WithContext(ctx)
	for _, a := range s.arrivals {
		p := plane.New(a.Spec, s.airport, s.params, s.observer, rand.New(rand.NewSource(s.seed+int64(a.Spec.ID))))
		offset := a.Offset
		g.Go(func() error {
			if !waitArrival(gctx, offset) {
				return nil
			}
			return p.Run(gctx)
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	var runErr error
	select {
	case runErr = <-done:
	case <-ctx.Done():
		timer := time.NewTimer(s.cfg.Sim.ShutdownTimeout)
		select {
		case runErr = <-done:
		case <-timer.C:
			s.log.Warn("shutdown timeout exceeded, some planes may not have finished")
			runErr = ErrShutdownTimeout
		}
		timer.Stop()
	}

	finished := time.Now()
	gatesEmpty := s.airport.Gates.AllFree()
	res := &Result{
		RunID:       s.runID,
		Scenario:    s.scenario.ID,
		Seed:        s.seed,
		Gates:       s.airport.Gates.Size(),
		StartedAt:   started,
		FinishedAt:  finished,
		ElapsedMS:   finished.Sub(started).Milliseconds(),
		Summary:     s.collector.Summary(gatesEmpty),
		GateStatus:  s.airport.Gates.Snapshot(),
		FinalStates: s.collector.FinalStates(),
		Interrupted: ctx.Err() != nil,
	}
	if runErr != nil {
		res.Error = runErr.Error()
		s.log.Error("simulation failed", zap.Error(runErr))
		return res, fmt.Errorf("simulation %s: %w", s.runID, runErr)
	}

	s.log.Info("simulation complete",
		zap.Int("departed", res.Summary.PlanesServed),
		zap.Int("expected", res.Summary.Expected),
		zap.Bool("gates_empty", gatesEmpty),
		zap.Bool("interrupted", res.Interrupted),
		zap.Int64("elapsed_ms", res.ElapsedMS))
	if !res.Interrupted && !res.Summary.Consistent() {
		s.log.Error("inconsistent end state",
			zap.String("gates", s.airport.Gates.StatusSummary()),
			zap.String("runway_queue", s.airport.Runway.QueueSummary()))
	}
	return res, nil
}

func waitArrival(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
