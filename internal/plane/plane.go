package plane

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Napageneral/airport/internal/config"
	"github.com/Napageneral/airport/internal/gates"
	"github.com/Napageneral/airport/internal/logger"
	"github.com/Napageneral/airport/internal/refuel"
	"github.com/Napageneral/airport/internal/runway"
)

// Airport is the set of shared resources every plane contends for.
type Airport struct {
	Runway *runway.Controller
	Gates  *gates.Pool
	Refuel *refuel.Station
}

// Params are the per-run knobs that shape a plane's behavior.
type Params struct {
	Timing           config.Timing
	LowFuelThreshold int
	DecayMin         int
	DecayMax         int
	FuelTick         time.Duration
}

// ParamsFromConfig extracts plane parameters, applying the time scale.
func ParamsFromConfig(cfg *config.Config) Params {
	return Params{
		Timing:           cfg.Timing.Scaled(cfg.Sim.TimeScale),
		LowFuelThreshold: cfg.Fuel.LowThreshold,
		DecayMin:         cfg.Fuel.DecayMin,
		DecayMax:         cfg.Fuel.DecayMax,
		FuelTick:         cfg.ScaleDuration(cfg.Fuel.Tick),
	}
}

// Spec describes one plane before it starts.
type Spec struct {
	ID         int
	Passengers int
	Fuel       int
}

// Plane drives one aircraft through its lifecycle. Fuel and the emergency
// flag belong to the plane; the runway controller only reads the flag.
type Plane struct {
	id         int
	name       string
	passengers int

	airport Airport
	params  Params
	obs     Observer
	log     *zap.Logger

	emergency atomic.Bool

	mu      sync.Mutex
	fuel    int
	state   State
	arrival time.Time
	rng     *rand.Rand
}

// New creates a plane. rng may be shared with nothing else; a nil rng gets a
// time-seeded source.
func New(spec Spec, airport Airport, params Params, obs Observer, rng *rand.Rand) *Plane {
	if obs == nil {
		obs = nopObserver{}
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano() + int64(spec.ID)))
	}
	name := fmt.Sprintf("Plane-%d", spec.ID)
	return &Plane{
		id:         spec.ID,
		name:       name,
		passengers: spec.Passengers,
		airport:    airport,
		params:     params,
		obs:        obs,
		log:        logger.Component("plane").With(zap.String("plane", name)),
		fuel:       spec.Fuel,
		rng:        rng,
	}
}

func (p *Plane) Name() string      { return p.name }
func (p *Plane) ID() int           { return p.id }
func (p *Plane) Passengers() int   { return p.passengers }
func (p *Plane) IsEmergency() bool { return p.emergency.Load() }

func (p *Plane) Fuel() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fuel
}

func (p *Plane) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Plane) setState(s State) {
	now := time.Now()
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
	p.log.Debug("state", zap.Stringer("state", s))
	p.obs.StateChanged(p.name, s, now)
}

// Run executes the whole lifecycle. Cancellation is absorbed: whatever the
// plane holds is released and Run returns nil. Any other error, in
// particular gates.ErrInvariant, is returned.
func (p *Plane) Run(ctx context.Context) error {
	rw, gp := p.airport.Runway, p.airport.Gates

	p.mu.Lock()
	p.arrival = time.Now()
	p.mu.Unlock()
	p.setState(Arrived)
	p.log.Info("arrived", zap.Int("fuel", p.Fuel()), zap.Int("passengers", p.passengers))

	monCtx, stopMonitor := context.WithCancel(ctx)
	monDone := make(chan struct{})
	go func() {
		defer close(monDone)
		p.monitorFuel(monCtx)
	}()

	p.setState(LandingRequested)
	err := rw.Request(ctx, p, runway.Landing, gp)
	stopMonitor()
	<-monDone
	if err != nil {
		return p.abort("landing request", err)
	}
	p.obs.RecordWait(p.name, time.Since(p.arrival))

	if err := p.simulate(ctx, "landing", p.params.Timing.Landing); err != nil {
		rw.Release(p)
		return p.abort("landing", err)
	}
	p.setState(Landed)

	// The runway stays ours until we are at a gate, so the gate that made
	// us eligible cannot be taken by another lander.
	p.setState(GateRequested)
	gate, err := gp.Assign(ctx, p.name)
	rw.Release(p)
	if err != nil {
		return p.abort("gate request", err)
	}
	p.setState(Docked)
	p.log.Info("docked", zap.Int("gate", gate.ID))

	if err := p.simulate(ctx, fmt.Sprintf("taxi to gate %d", gate.ID), p.params.Timing.Taxi); err != nil {
		gp.Release(gate)
		return p.abort("taxi", err)
	}

	p.setState(Turnaround)
	p.turnaround(ctx)
	if err := ctx.Err(); err != nil {
		gp.Release(gate)
		return p.abort("turnaround", err)
	}
	p.log.Info("all operations completed, waiting for refuel")

	p.setState(Refueling)
	if err := p.airport.Refuel.Refuel(ctx, p.name); err != nil {
		gp.Release(gate)
		return p.abort("refuel", err)
	}

	p.setState(ReadyForDeparture)
	if err := p.simulate(ctx, "preparing for takeoff", p.params.Timing.Prepare); err != nil {
		gp.Release(gate)
		return p.abort("prepare", err)
	}

	// Take a place in the takeoff queue before giving up the gate, so the
	// lander the freed gate unblocks is ordered against us fairly.
	p.setState(TakeoffRequested)
	ticket, err := rw.Enqueue(p, runway.Takeoff, nil)
	gp.Release(gate)
	rw.Wake()
	if err != nil {
		return p.abort("takeoff request", err)
	}
	if err := ticket.Wait(ctx); err != nil {
		return p.abort("takeoff request", err)
	}

	if err := p.simulate(ctx, "takeoff", p.params.Timing.Takeoff); err != nil {
		rw.Release(p)
		return p.abort("takeoff", err)
	}
	// Airborne before the runway is handed on.
	p.setState(Departed)
	rw.Release(p)
	p.obs.RecordDeparture(p.name, p.passengers)
	p.log.Info("departed", zap.Int("passengers", p.passengers))
	return nil
}

// abort logs and classifies an error from step. Cancellation is swallowed.
func (p *Plane) abort(step string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		p.log.Warn("interrupted", zap.String("step", step), zap.Stringer("state", p.State()))
		return nil
	}
	p.log.Error("lifecycle failed", zap.String("step", step), zap.Error(err))
	return fmt.Errorf("%s %s: %w", p.name, step, err)
}

// monitorFuel burns fuel every tick until the context ends or the plane
// declares an emergency.
func (p *Plane) monitorFuel(ctx context.Context) {
	ticker := time.NewTicker(p.params.FuelTick)
	defer ticker.Stop()

	for !p.IsEmergency() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		burn := p.randBetween(p.params.DecayMin, p.params.DecayMax)
		p.mu.Lock()
		p.fuel -= burn
		fuel := p.fuel
		p.mu.Unlock()

		if fuel <= p.params.LowFuelThreshold {
			p.declareEmergency(fuel)
			return
		}
		p.log.Debug("fuel remaining", zap.Int("fuel", fuel))
	}
}

// declareEmergency flips the flag once and alerts the controller.
func (p *Plane) declareEmergency(fuel int) {
	if !p.emergency.CompareAndSwap(false, true) {
		return
	}
	p.log.Warn("low fuel, declaring emergency", zap.Int("fuel", fuel))
	p.obs.EmergencyDeclared(p.name, fuel)
	p.airport.Runway.DeclareEmergency(p)
}

// Turnaround task names.
const (
	TaskDisembark = "disembark"
	TaskClean     = "clean"
	TaskEmbark    = "embark"
)

// turnaround runs disembark, clean and embark concurrently and returns once
// all three have finished. Each task counts down on every exit path, so an
// interrupted task never wedges the barrier.
func (p *Plane) turnaround(ctx context.Context) {
	tasks := []struct {
		name string
		d    time.Duration
	}{
		{TaskDisembark, p.params.Timing.Disembark},
		{TaskClean, p.params.Timing.Clean},
		{TaskEmbark, p.params.Timing.Embark},
	}

	var wg sync.WaitGroup
	for _, task := range tasks {
		task := task
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := sleep(ctx, p.jitter(p.params.Timing.StartJitter))
			if err == nil {
				err = p.simulate(ctx, task.name, task.d)
			}
			p.obs.TaskCompleted(p.name, task.name, err != nil)
		}()
	}
	wg.Wait()
}

// simulate spends d plus random jitter on action.
func (p *Plane) simulate(ctx context.Context, action string, d time.Duration) error {
	p.log.Info(action)
	return sleep(ctx, d+p.jitter(p.params.Timing.Jitter))
}

func (p *Plane) jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Duration(p.rng.Int63n(int64(max)))
}

// randBetween returns a value in [lo, hi].
func (p *Plane) randBetween(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return lo + p.rng.Intn(hi-lo+1)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
