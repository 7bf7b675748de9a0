package runway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Napageneral/airport/internal/logger"
	"github.com/Napageneral/airport/internal/resource"
)

var (
	ErrUnknownIntent = errors.New("unknown runway intent")
	ErrNoGatePool    = errors.New("landing request without gate pool")
	ErrAlreadyQueued = errors.New("plane already has a pending runway request")
)

// Intent is what a plane wants the runway for.
type Intent int

const (
	Landing Intent = iota
	Takeoff
)

func (i Intent) String() string {
	switch i {
	case Landing:
		return "landing"
	case Takeoff:
		return "takeoff"
	default:
		return fmt.Sprintf("intent(%d)", int(i))
	}
}

// Aircraft is the controller's view of a plane. Implementations must be
// comparable (normally a pointer) since the value is the plane's identity.
type Aircraft interface {
	Name() string
	IsEmergency() bool
}

// GateChecker is the landing precondition. HasFreeGate must not block.
type GateChecker interface {
	HasFreeGate() bool
}

type statusReporter interface {
	StatusSummary() string
}

// PendingRequest describes a queued request, in admission order.
type PendingRequest struct {
	Plane        string        `json:"plane"`
	Intent       string        `json:"intent"`
	ArrivalSeq   uint64        `json:"arrival_seq"`
	EmergencySeq uint64        `json:"emergency_seq,omitempty"`
	Waiting      time.Duration `json:"waiting"`
}

// Controller arbitrates the single runway. Only the head of the priority
// order may take the runway, and only once its precondition holds; everyone
// else waits even if they would individually be eligible.
//
// mu guards pending, byPlane, both counters and holder. The gate pool's
// HasFreeGate is called with mu held; the pool never calls back into the
// controller, so there is no lock cycle.
type Controller struct {
	mu            sync.Mutex
	pending       waitList
	byPlane       map[Aircraft]*request
	nextArrival   uint64
	nextEmergency uint64
	holder        string
	granted       int

	runway       *resource.Semaphore
	wake         *resource.Signal
	pollInterval time.Duration
	log          *zap.Logger
}

// NewController creates a controller that rechecks blocked requests every
// pollInterval in addition to explicit wake-ups.
func NewController(pollInterval time.Duration) *Controller {
	if pollInterval <= 0 {
		pollInterval = 300 * time.Millisecond
	}
	return &Controller{
		byPlane:      make(map[Aircraft]*request),
		runway:       resource.NewSemaphore(1),
		wake:         resource.NewSignal(),
		pollInterval: pollInterval,
		log:          logger.Component("atc"),
	}
}

// Ticket is a queued runway request. Wait must be called exactly once.
type Ticket struct {
	c   *Controller
	req *request
}

// Request queues plane and blocks until it holds the runway. On cancellation
// the request is withdrawn and ctx.Err() is returned with nothing held.
func (c *Controller) Request(ctx context.Context, plane Aircraft, intent Intent, gates GateChecker) error {
	t, err := c.Enqueue(plane, intent, gates)
	if err != nil {
		return err
	}
	return t.Wait(ctx)
}

// Enqueue places plane in the wait set without blocking. A plane that is
// already in emergency enters with an emergency sequence.
func (c *Controller) Enqueue(plane Aircraft, intent Intent, gates GateChecker) (*Ticket, error) {
	switch intent {
	case Landing:
		if gates == nil {
			return nil, ErrNoGatePool
		}
	case Takeoff:
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownIntent, int(intent))
	}

	c.mu.Lock()
	if _, ok := c.byPlane[plane]; ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyQueued, plane.Name())
	}
	c.nextArrival++
	req := &request{
		plane:      plane,
		intent:     intent,
		gates:      gates,
		arrivalSeq: c.nextArrival,
		enqueued:   time.Now(),
	}
	if plane.IsEmergency() {
		c.nextEmergency++
		req.emergencySeq = c.nextEmergency
	}
	c.pending.insert(req)
	c.byPlane[plane] = req
	queue := c.pending.summary()
	c.mu.Unlock()

	c.log.Info("runway requested",
		zap.String("plane", plane.Name()),
		zap.Stringer("intent", intent),
		zap.Bool("emergency", req.emergency()))
	c.log.Info("waiting for runway", zap.String("queue", queue))

	return &Ticket{c: c, req: req}, nil
}

// Wait blocks until the ticket's plane holds the runway or ctx is done.
func (t *Ticket) Wait(ctx context.Context) error {
	c := t.c
	timer := time.NewTimer(c.pollInterval)
	defer timer.Stop()

	for {
		// A cancelled caller never takes the runway, even if it is free.
		if err := ctx.Err(); err != nil {
			c.withdraw(t.req)
			return err
		}
		c.mu.Lock()
		if c.tryGrantLocked(t.req) {
			queue := c.pending.summary()
			c.mu.Unlock()
			c.log.Info("runway granted",
				zap.String("plane", t.req.plane.Name()),
				zap.Stringer("intent", t.req.intent),
				zap.Duration("waited", time.Since(t.req.enqueued)))
			c.log.Info("waiting for runway", zap.String("queue", queue))
			return nil
		}
		// Grab the wake channel before unlocking so a broadcast between
		// here and the select is not lost.
		wake := c.wake.C()
		c.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(c.pollInterval)

		select {
		case <-ctx.Done():
			c.withdraw(t.req)
			return ctx.Err()
		case <-wake:
		case <-timer.C:
		}
	}
}

// tryGrantLocked admits req if it is the head, its precondition holds and the
// runway permit is free.
func (c *Controller) tryGrantLocked(req *request) bool {
	if c.pending.head() != req {
		return false
	}
	if req.intent == Landing && !req.gates.HasFreeGate() {
		return false
	}
	if !c.runway.TryAcquire() {
		return false
	}
	c.pending.remove(req)
	delete(c.byPlane, req.plane)
	c.holder = req.plane.Name()
	c.granted++
	return true
}

func (c *Controller) withdraw(req *request) {
	c.mu.Lock()
	removed := c.pending.remove(req)
	if removed {
		delete(c.byPlane, req.plane)
		// The head may have changed.
		c.wake.Broadcast()
	}
	c.mu.Unlock()

	if removed {
		c.log.Warn("runway request withdrawn", zap.String("plane", req.plane.Name()))
	}
}

// Release frees the runway held by plane and wakes every waiter.
func (c *Controller) Release(plane Aircraft) {
	c.mu.Lock()
	if c.holder != plane.Name() {
		holder := c.holder
		c.mu.Unlock()
		c.log.Error("runway release by non-holder ignored",
			zap.String("plane", plane.Name()), zap.String("holder", holder))
		return
	}
	c.holder = ""
	// Permit and broadcast change under mu, so a waiter that failed its
	// check has already taken the channel this closes.
	c.runway.Release()
	c.wake.Broadcast()
	c.mu.Unlock()

	c.log.Info("cleared from runway", zap.String("plane", plane.Name()))
}

// DeclareEmergency promotes plane's pending request ahead of all normal
// requests and behind earlier emergencies. It reports whether anything moved;
// a plane with no pending request, or one already in emergency, is a no-op.
func (c *Controller) DeclareEmergency(plane Aircraft) bool {
	c.mu.Lock()
	req, ok := c.byPlane[plane]
	if !ok || req.emergency() {
		c.mu.Unlock()
		return false
	}
	c.log.Warn("emergency declared", zap.String("plane", plane.Name()))

	before := c.pending.summary()
	var gateStatus string
	if sr, ok := req.gatesReporter(); ok {
		gateStatus = sr.StatusSummary()
	}

	c.pending.remove(req)
	c.nextEmergency++
	req.emergencySeq = c.nextEmergency
	c.pending.insert(req)

	after := c.pending.summary()
	permits := c.runway.Available()
	c.wake.Broadcast()
	c.mu.Unlock()

	c.log.Info("airport status",
		zap.Int("runway_available", permits),
		zap.String("gates", gateStatus),
		zap.String("queue_before", before),
		zap.String("queue_after", after))
	c.log.Info("moved to front for emergency", zap.String("plane", plane.Name()))
	return true
}

// Wake makes every waiter recheck eligibility now, e.g. after a gate frees.
// The gate pool changes outside mu; taking mu here orders the broadcast after
// any eligibility check that already saw the old gate state.
func (c *Controller) Wake() {
	c.mu.Lock()
	c.wake.Broadcast()
	c.mu.Unlock()
}

// Pending returns the queued requests in admission order.
func (c *Controller) Pending() []PendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	out := make([]PendingRequest, len(c.pending))
	for i, r := range c.pending {
		out[i] = PendingRequest{
			Plane:        r.plane.Name(),
			Intent:       r.intent.String(),
			ArrivalSeq:   r.arrivalSeq,
			EmergencySeq: r.emergencySeq,
			Waiting:      now.Sub(r.enqueued),
		}
	}
	return out
}

// QueueSummary renders the wait set as "Plane-3(E) Plane-1 Plane-2" or "none".
func (c *Controller) QueueSummary() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending.summary()
}

// Holder returns the plane currently on the runway, or "".
func (c *Controller) Holder() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.holder
}

// Granted counts runway grants so far.
func (c *Controller) Granted() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.granted
}

// RunwayAvailable reports whether the runway permit is free.
func (c *Controller) RunwayAvailable() bool {
	return c.runway.Available() == 1
}
