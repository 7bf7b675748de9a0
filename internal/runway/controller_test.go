package runway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Napageneral/airport/internal/logger"
)

type fakePlane struct {
	name      string
	emergency atomic.Bool
}

func newPlane(name string) *fakePlane {
	return &fakePlane{name: name}
}

func (p *fakePlane) Name() string      { return p.name }
func (p *fakePlane) IsEmergency() bool { return p.emergency.Load() }

// declare flips the plane's flag and tells the controller, the way the fuel
// monitor does.
func (p *fakePlane) declare(c *Controller) bool {
	p.emergency.Store(true)
	return c.DeclareEmergency(p)
}

type fakeGates struct {
	free atomic.Bool
}

func newGates(free bool) *fakeGates {
	g := &fakeGates{}
	g.free.Store(free)
	return g
}

func (g *fakeGates) HasFreeGate() bool     { return g.free.Load() }
func (g *fakeGates) StatusSummary() string { return fmt.Sprintf("free=%v", g.free.Load()) }

func waitPending(t *testing.T, c *Controller, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(c.Pending()) == n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("expected %d pending requests, have %s", n, c.QueueSummary())
}

// queue starts a goroutine per plane (in order, each enqueued before the
// next starts) that requests the runway, reports its grant on the returned
// channel, and releases immediately.
func queue(t *testing.T, c *Controller, intent Intent, gates GateChecker, planes ...*fakePlane) <-chan string {
	t.Helper()
	order := make(chan string, len(planes))
	base := len(c.Pending())
	for i, p := range planes {
		go func(p *fakePlane) {
			if err := c.Request(context.Background(), p, intent, gates); err != nil {
				t.Errorf("%s: %v", p.name, err)
				return
			}
			order <- p.name
			c.Release(p)
		}(p)
		waitPending(t, c, base+i+1)
	}
	return order
}

func collect(t *testing.T, order <-chan string, n int) []string {
	t.Helper()
	var got []string
	for i := 0; i < n; i++ {
		select {
		case name := <-order:
			got = append(got, name)
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out after grants %v", got)
		}
	}
	return got
}

func assertOrder(t *testing.T, got []string, want ...string) {
	t.Helper()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("admission order = %v, want %v", got, want)
	}
}

// holdRunway takes the runway with a takeoff request so later requests queue.
func holdRunway(t *testing.T, c *Controller) *fakePlane {
	t.Helper()
	blocker := newPlane("Blocker")
	if err := c.Request(context.Background(), blocker, Takeoff, nil); err != nil {
		t.Fatalf("blocker request: %v", err)
	}
	return blocker
}

func TestController_GrantsIdleRunway(t *testing.T) {
	c := NewController(10 * time.Millisecond)
	p := newPlane("Plane-1")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Request(ctx, p, Landing, newGates(true)); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if c.Holder() != "Plane-1" {
		t.Errorf("expected Plane-1 to hold runway, got %q", c.Holder())
	}
	if c.RunwayAvailable() {
		t.Errorf("runway should be held")
	}
	c.Release(p)
	if !c.RunwayAvailable() || c.Holder() != "" {
		t.Errorf("runway should be free after release")
	}
	if c.Granted() != 1 {
		t.Errorf("expected 1 grant, got %d", c.Granted())
	}
}

func TestController_FIFOAmongNormal(t *testing.T) {
	c := NewController(5 * time.Millisecond)
	blocker := holdRunway(t, c)

	a, b, d := newPlane("A"), newPlane("B"), newPlane("D")
	order := queue(t, c, Takeoff, nil, a, b, d)

	c.Release(blocker)
	assertOrder(t, collect(t, order, 3), "A", "B", "D")
}

func TestController_EmergencyBeforeEarlierArrival(t *testing.T) {
	c := NewController(5 * time.Millisecond)
	gates := newGates(true)
	blocker := holdRunway(t, c)

	a, b := newPlane("A"), newPlane("B")
	order := queue(t, c, Landing, gates, a, b)

	if !b.declare(c) {
		t.Fatalf("expected B to be promoted")
	}
	if got := c.QueueSummary(); got != "B(E) A" {
		t.Fatalf("unexpected queue %q", got)
	}

	c.Release(blocker)
	assertOrder(t, collect(t, order, 2), "B", "A")
}

func TestController_ReprioritizeMidWait(t *testing.T) {
	c := NewController(5 * time.Millisecond)
	blocker := holdRunway(t, c)

	a, b, d := newPlane("A"), newPlane("B"), newPlane("C")
	order := queue(t, c, Takeoff, nil, a, b, d)

	d.declare(c)
	if got := c.QueueSummary(); got != "C(E) A B" {
		t.Fatalf("unexpected queue %q", got)
	}

	c.Release(blocker)
	assertOrder(t, collect(t, order, 3), "C", "A", "B")
}

func TestController_EmergencyTiebreakByDeclaration(t *testing.T) {
	c := NewController(5 * time.Millisecond)
	blocker := holdRunway(t, c)

	// E arrives before D but D declares first.
	e, d, n := newPlane("E"), newPlane("D"), newPlane("N")
	order := queue(t, c, Takeoff, nil, n, e, d)

	d.declare(c)
	e.declare(c)
	if got := c.QueueSummary(); got != "D(E) E(E) N" {
		t.Fatalf("unexpected queue %q", got)
	}

	c.Release(blocker)
	assertOrder(t, collect(t, order, 3), "D", "E", "N")
}

func TestController_EmergencyAtEnqueue(t *testing.T) {
	c := NewController(5 * time.Millisecond)
	blocker := holdRunway(t, c)

	a := newPlane("A")
	late := newPlane("Late")
	late.emergency.Store(true)

	order := queue(t, c, Takeoff, nil, a, late)
	pending := c.Pending()
	if pending[0].Plane != "Late" || pending[0].EmergencySeq == 0 {
		t.Fatalf("expected emergency plane at head, got %+v", pending)
	}

	c.Release(blocker)
	assertOrder(t, collect(t, order, 2), "Late", "A")
}

func TestController_DeclareEmergencyNoOps(t *testing.T) {
	c := NewController(5 * time.Millisecond)

	// Not queued at all.
	if newPlane("Ghost").declare(c) {
		t.Errorf("promotion of unqueued plane should be a no-op")
	}

	// Holding the runway.
	holder := holdRunway(t, c)
	if holder.declare(c) {
		t.Errorf("promotion of runway holder should be a no-op")
	}

	// Already emergency.
	a := newPlane("A")
	order := queue(t, c, Takeoff, nil, a)
	if !a.declare(c) {
		t.Fatalf("first declaration should promote")
	}
	if a.declare(c) {
		t.Errorf("second declaration should be a no-op")
	}
	if got := c.Pending()[0].EmergencySeq; got != 1 {
		t.Errorf("expected emergency seq 1, got %d", got)
	}

	c.Release(holder)
	assertOrder(t, collect(t, order, 1), "A")
}

func TestController_DeclareEmergencyLogsOnlyPromotions(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger.SetLogger(zap.New(core))
	t.Cleanup(func() { logger.SetLogger(zap.NewNop()) })

	c := NewController(5 * time.Millisecond)
	holder := holdRunway(t, c)
	newPlane("Ghost").declare(c)
	holder.declare(c)
	if n := logs.FilterMessage("emergency declared").Len(); n != 0 {
		t.Fatalf("no-op declarations logged %d emergencies", n)
	}

	a := newPlane("A")
	order := queue(t, c, Takeoff, nil, a)
	a.declare(c)
	a.declare(c)
	declared := logs.FilterMessage("emergency declared").All()
	if len(declared) != 1 || declared[0].ContextMap()["plane"] != "A" {
		t.Errorf("expected one emergency log for A, got %d", len(declared))
	}

	c.Release(holder)
	assertOrder(t, collect(t, order, 1), "A")
}

func TestController_NoLandingWithoutGate(t *testing.T) {
	c := NewController(5 * time.Millisecond)
	gates := newGates(false)

	a, b := newPlane("A"), newPlane("B")
	order := queue(t, c, Landing, gates, a, b)
	b.declare(c)

	select {
	case name := <-order:
		t.Fatalf("%s granted runway with all gates occupied", name)
	case <-time.After(50 * time.Millisecond):
	}
	if !c.RunwayAvailable() {
		t.Fatalf("runway should still be free")
	}

	gates.free.Store(true)
	assertOrder(t, collect(t, order, 2), "B", "A")
}

func TestController_HeadOfLineBlocking(t *testing.T) {
	c := NewController(5 * time.Millisecond)
	gates := newGates(false)

	lander := newPlane("Lander")
	order := queue(t, c, Landing, gates, lander)
	departer := newPlane("Departer")
	order2 := queue(t, c, Takeoff, nil, departer)

	select {
	case <-order:
		t.Fatalf("lander granted without a gate")
	case <-order2:
		t.Fatalf("departer bypassed the blocked head of the queue")
	case <-time.After(50 * time.Millisecond):
	}

	gates.free.Store(true)
	assertOrder(t, collect(t, order, 1), "Lander")
	assertOrder(t, collect(t, order2, 1), "Departer")
}

func TestController_WakeSkipsPoll(t *testing.T) {
	c := NewController(10 * time.Second)
	gates := newGates(false)

	order := queue(t, c, Landing, gates, newPlane("A"))

	gates.free.Store(true)
	c.Wake()

	select {
	case <-order:
	case <-time.After(time.Second):
		t.Fatalf("wake did not trigger a recheck")
	}
}

func TestController_NoLostWakeups(t *testing.T) {
	// The poll interval is far longer than the test; only explicit wake-ups
	// can move the queue.
	c := NewController(time.Minute)
	const planes = 40

	var holders, maxHolders int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < planes; i++ {
		wg.Add(1)
		go func(p *fakePlane) {
			defer wg.Done()
			<-start
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := c.Request(ctx, p, Takeoff, nil); err != nil {
				t.Errorf("%s: %v", p.name, err)
				return
			}
			n := atomic.AddInt32(&holders, 1)
			for {
				m := atomic.LoadInt32(&maxHolders)
				if n <= m || atomic.CompareAndSwapInt32(&maxHolders, m, n) {
					break
				}
			}
			time.Sleep(100 * time.Microsecond)
			atomic.AddInt32(&holders, -1)
			c.Release(p)
		}(newPlane(fmt.Sprintf("Plane-%d", i+1)))
	}
	close(start)
	wg.Wait()

	if maxHolders != 1 {
		t.Errorf("expected exactly one runway holder at a time, saw %d", maxHolders)
	}
	if c.Granted() != planes {
		t.Errorf("expected %d grants, got %d", planes, c.Granted())
	}
	if len(c.Pending()) != 0 {
		t.Errorf("expected empty queue, got %s", c.QueueSummary())
	}
}

func TestController_CancelWithdrawsRequest(t *testing.T) {
	c := NewController(5 * time.Millisecond)
	blocker := holdRunway(t, c)

	a := newPlane("A")
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Request(ctx, a, Takeoff, nil) }()
	waitPending(t, c, 1)

	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(c.Pending()) != 0 {
		t.Fatalf("cancelled request still queued: %s", c.QueueSummary())
	}
	if c.Holder() != "Blocker" {
		t.Errorf("expected blocker to still hold runway, got %q", c.Holder())
	}

	c.Release(blocker)
	if !c.RunwayAvailable() {
		t.Errorf("runway should be free")
	}

	// The plane can queue again after withdrawing.
	if err := c.Request(context.Background(), a, Takeoff, nil); err != nil {
		t.Fatalf("re-request: %v", err)
	}
	c.Release(a)
}

func TestController_CancelledBeforeWaitNotGranted(t *testing.T) {
	c := NewController(5 * time.Millisecond)
	a := newPlane("A")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Request(ctx, a, Takeoff, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled on an idle runway, got %v", err)
	}
	if !c.RunwayAvailable() || c.Holder() != "" {
		t.Errorf("cancelled request took the runway: holder=%q", c.Holder())
	}
	if len(c.Pending()) != 0 {
		t.Errorf("cancelled request still queued: %s", c.QueueSummary())
	}
}

func TestController_CancelledHeadUnblocksNext(t *testing.T) {
	c := NewController(time.Minute)
	gates := newGates(false)

	head := newPlane("Head")
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Request(ctx, head, Landing, gates) }()
	waitPending(t, c, 1)

	order := queue(t, c, Takeoff, nil, newPlane("Next"))

	cancel()
	<-errCh
	assertOrder(t, collect(t, order, 1), "Next")
}

func TestController_EnqueueErrors(t *testing.T) {
	c := NewController(5 * time.Millisecond)
	p := newPlane("A")

	if _, err := c.Enqueue(p, Landing, nil); !errors.Is(err, ErrNoGatePool) {
		t.Errorf("expected ErrNoGatePool, got %v", err)
	}
	if _, err := c.Enqueue(p, Intent(7), nil); !errors.Is(err, ErrUnknownIntent) {
		t.Errorf("expected ErrUnknownIntent, got %v", err)
	}

	ticket, err := c.Enqueue(p, Takeoff, nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := c.Enqueue(p, Takeoff, nil); !errors.Is(err, ErrAlreadyQueued) {
		t.Errorf("expected ErrAlreadyQueued, got %v", err)
	}

	if err := ticket.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	c.Release(p)
}

func TestController_ReleaseByNonHolderIgnored(t *testing.T) {
	c := NewController(5 * time.Millisecond)
	holder := holdRunway(t, c)

	c.Release(newPlane("Intruder"))
	if c.Holder() != "Blocker" || c.RunwayAvailable() {
		t.Fatalf("non-holder release must not free the runway")
	}
	c.Release(holder)
	if !c.RunwayAvailable() {
		t.Fatalf("runway should be free")
	}
}

func TestIntentString(t *testing.T) {
	if Landing.String() != "landing" || Takeoff.String() != "takeoff" {
		t.Errorf("unexpected intent names %s %s", Landing, Takeoff)
	}
	if Intent(9).String() != "intent(9)" {
		t.Errorf("unexpected unknown intent name %s", Intent(9))
	}
}
