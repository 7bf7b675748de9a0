package stats

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Napageneral/airport/internal/plane"
)

// Transition is one entry in a plane's state timeline.
type Transition struct {
	State plane.State `json:"-"`
	Name  string      `json:"state" yaml:"state"`
	At    time.Time   `json:"at" yaml:"at"`
}

// Collector aggregates lifecycle events for a run. It is safe for concurrent
// use and is plugged into planes as a plane.Observer.
type Collector struct {
	mu sync.Mutex

	expected    int
	waits       []time.Duration
	served      int
	passengers  int
	interrupted int
	emergencies []string
	landings    []string
	departures  []string
	timeline    map[string][]Transition
}

var _ plane.Observer = (*Collector)(nil)

// NewCollector creates a collector for a run of expected planes.
func NewCollector(expected int) *Collector {
	return &Collector{
		expected: expected,
		timeline: make(map[string][]Transition),
	}
}

func (c *Collector) StateChanged(name string, s plane.State, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeline[name] = append(c.timeline[name], Transition{State: s, Name: s.String(), At: at})
	switch s {
	case plane.Landed:
		c.landings = append(c.landings, name)
	case plane.Departed:
		c.departures = append(c.departures, name)
	}
}

func (c *Collector) RecordWait(_ string, wait time.Duration) {
	c.mu.Lock()
	c.waits = append(c.waits, wait)
	c.mu.Unlock()
}

func (c *Collector) EmergencyDeclared(name string, _ int) {
	c.mu.Lock()
	c.emergencies = append(c.emergencies, name)
	c.mu.Unlock()
}

func (c *Collector) TaskCompleted(_, _ string, interrupted bool) {
	if !interrupted {
		return
	}
	c.mu.Lock()
	c.interrupted++
	c.mu.Unlock()
}

func (c *Collector) RecordDeparture(_ string, passengers int) {
	c.mu.Lock()
	c.served++
	c.passengers += passengers
	c.mu.Unlock()
}

// Timeline returns the recorded transitions of one plane.
func (c *Collector) Timeline(name string) []Transition {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Transition(nil), c.timeline[name]...)
}

// FinalStates maps each plane seen to its last recorded state.
func (c *Collector) FinalStates() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.timeline))
	for name, tl := range c.timeline {
		if len(tl) > 0 {
			out[name] = tl[len(tl)-1].Name
		}
	}
	return out
}

// Summary is the end-of-run report.
type Summary struct {
	Expected         int      `json:"expected" yaml:"expected"`
	PlanesServed     int      `json:"planes_served" yaml:"planes_served"`
	TotalPassengers  int      `json:"total_passengers" yaml:"total_passengers"`
	WaitSamples      int      `json:"wait_samples" yaml:"wait_samples"`
	MinWaitMS        int64    `json:"min_wait_ms" yaml:"min_wait_ms"`
	MaxWaitMS        int64    `json:"max_wait_ms" yaml:"max_wait_ms"`
	AvgWaitMS        float64  `json:"avg_wait_ms" yaml:"avg_wait_ms"`
	Emergencies      []string `json:"emergencies" yaml:"emergencies"`
	LandingOrder     []string `json:"landing_order" yaml:"landing_order"`
	DepartureOrder   []string `json:"departure_order" yaml:"departure_order"`
	InterruptedTasks int      `json:"interrupted_tasks" yaml:"interrupted_tasks"`
	GatesEmpty       bool     `json:"gates_empty" yaml:"gates_empty"`
}

// Consistent reports whether every expected plane departed and no gate is
// left occupied.
func (s Summary) Consistent() bool {
	return s.GatesEmpty && s.PlanesServed == s.Expected
}

// Summary computes the report. gatesEmpty is supplied by the caller from the
// gate pool at the end of the run.
func (c *Collector) Summary(gatesEmpty bool) Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Summary{
		Expected:         c.expected,
		PlanesServed:     c.served,
		TotalPassengers:  c.passengers,
		WaitSamples:      len(c.waits),
		Emergencies:      append([]string{}, c.emergencies...),
		LandingOrder:     append([]string{}, c.landings...),
		DepartureOrder:   append([]string{}, c.departures...),
		InterruptedTasks: c.interrupted,
		GatesEmpty:       gatesEmpty,
	}
	if len(c.waits) == 0 {
		return s
	}

	lo, hi, total := c.waits[0], c.waits[0], time.Duration(0)
	for _, w := range c.waits {
		if w < lo {
			lo = w
		}
		if w > hi {
			hi = w
		}
		total += w
	}
	s.MinWaitMS = lo.Milliseconds()
	s.MaxWaitMS = hi.Milliseconds()
	s.AvgWaitMS = float64(total.Milliseconds()) / float64(len(c.waits))
	return s
}

// SnapshotJSON returns the summary as JSON.
func (c *Collector) SnapshotJSON(gatesEmpty bool) json.RawMessage {
	if c == nil {
		return json.RawMessage("null")
	}
	b, _ := json.Marshal(c.Summary(gatesEmpty))
	return b
}

// Text renders the human-readable report.
func (s Summary) Text() string {
	var sb strings.Builder
	sb.WriteString("===== Airport Statistics =====\n")
	if s.WaitSamples == 0 {
		sb.WriteString("No data recorded.\n")
	} else {
		fmt.Fprintf(&sb, "Planes served: %d/%d\n", s.PlanesServed, s.Expected)
		fmt.Fprintf(&sb, "Total passengers boarded: %d\n", s.TotalPassengers)
		fmt.Fprintf(&sb, "Max waiting time: %d ms\n", s.MaxWaitMS)
		fmt.Fprintf(&sb, "Min waiting time: %d ms\n", s.MinWaitMS)
		fmt.Fprintf(&sb, "Avg waiting time: %.2f ms\n", s.AvgWaitMS)
		if len(s.Emergencies) > 0 {
			fmt.Fprintf(&sb, "Emergencies: %s\n", strings.Join(s.Emergencies, ", "))
		}
	}
	fmt.Fprintf(&sb, "Gates empty: %t\n", s.GatesEmpty)
	sb.WriteString("==============================\n")
	return sb.String()
}
