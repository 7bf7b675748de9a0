package gates

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/Napageneral/airport/internal/logger"
	"github.com/Napageneral/airport/internal/resource"
)

// ErrInvariant reports that the gate permit count and slot bookkeeping have
// diverged. It is never recoverable: the run must abort.
var ErrInvariant = errors.New("gate pool invariant violated")

// Gate is one physical dock.
type Gate struct {
	ID       int
	occupied bool
	holder   string
}

// Status is a point-in-time view of one gate.
type Status struct {
	ID       int    `json:"id" yaml:"id"`
	Occupied bool   `json:"occupied" yaml:"occupied"`
	Holder   string `json:"holder,omitempty" yaml:"holder,omitempty"`
}

// Pool is a fixed set of gates guarded by a counting semaphore. Slot scans,
// occupancy changes and status queries all share mu.
type Pool struct {
	slots *resource.Semaphore

	mu    sync.Mutex
	gates []*Gate

	log *zap.Logger
}

// New creates a pool with gateCount gates numbered 1..gateCount.
func New(gateCount int) *Pool {
	if gateCount < 1 {
		gateCount = 1
	}
	p := &Pool{
		slots: resource.NewSemaphore(gateCount),
		gates: make([]*Gate, 0, gateCount),
		log:   logger.Component("gates"),
	}
	for i := 1; i <= gateCount; i++ {
		p.gates = append(p.gates, &Gate{ID: i})
	}
	return p
}

func (p *Pool) Size() int {
	return len(p.gates)
}

// HasFreeGate reports whether any gate is unoccupied right now. It reserves
// nothing; Assign is the real admission check.
func (p *Pool) HasFreeGate() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, g := range p.gates {
		if !g.occupied {
			return true
		}
	}
	return false
}

// Assign blocks until a gate permit is available, then marks the first free
// gate as occupied by plane. On cancellation nothing is held.
func (p *Pool) Assign(ctx context.Context, plane string) (*Gate, error) {
	p.log.Info("requesting gate", zap.String("plane", plane))
	if err := p.slots.Acquire(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	for _, g := range p.gates {
		if !g.occupied {
			g.occupied = true
			g.holder = plane
			summary := p.summaryLocked()
			p.mu.Unlock()

			p.log.Info("gate assigned", zap.String("plane", plane), zap.Int("gate", g.ID))
			p.log.Info(summary)
			return g, nil
		}
	}
	summary := p.summaryLocked()
	p.mu.Unlock()

	p.slots.Release()
	return nil, fmt.Errorf("%w: no free slot after permit acquired for %s (%s)", ErrInvariant, plane, summary)
}

// Release frees g and hands its permit to the next waiter.
func (p *Pool) Release(g *Gate) {
	p.mu.Lock()
	if !g.occupied {
		p.mu.Unlock()
		// Double release would inflate the permit count.
		p.log.Error("release of free gate ignored", zap.Int("gate", g.ID))
		return
	}
	holder := g.holder
	g.occupied = false
	g.holder = ""
	summary := p.summaryLocked()
	p.mu.Unlock()

	p.slots.Release()
	p.log.Info("gate released", zap.Int("gate", g.ID), zap.String("plane", holder))
	p.log.Info(summary)
}

// Snapshot returns the occupancy of every gate.
func (p *Pool) Snapshot() []Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Status, len(p.gates))
	for i, g := range p.gates {
		out[i] = Status{ID: g.ID, Occupied: g.occupied, Holder: g.holder}
	}
	return out
}

// AllFree reports whether every gate is unoccupied.
func (p *Pool) AllFree() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, g := range p.gates {
		if g.occupied {
			return false
		}
	}
	return true
}

// AvailablePermits exposes the gate semaphore's free count.
func (p *Pool) AvailablePermits() int {
	return p.slots.Available()
}

// StatusSummary renders the gates as "Gates: [1: OCC] [2: FREE] ...".
func (p *Pool) StatusSummary() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.summaryLocked()
}

func (p *Pool) summaryLocked() string {
	var sb strings.Builder
	sb.WriteString("Gates:")
	for _, g := range p.gates {
		state := "FREE"
		if g.occupied {
			state = "OCC"
		}
		fmt.Fprintf(&sb, " [%d: %s]", g.ID, state)
	}
	return sb.String()
}
