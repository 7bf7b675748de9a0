package plane

import "fmt"

// State is a step in a plane's lifecycle. States only move forward.
type State int

const (
	Arrived State = iota
	LandingRequested
	Landed
	GateRequested
	Docked
	Turnaround
	Refueling
	ReadyForDeparture
	TakeoffRequested
	Departed
)

var stateNames = [...]string{
	Arrived:           "ARRIVED",
	LandingRequested:  "LANDING_REQUESTED",
	Landed:            "LANDED",
	GateRequested:     "GATE_REQUESTED",
	Docked:            "DOCKED",
	Turnaround:        "TURNAROUND",
	Refueling:         "REFUELING",
	ReadyForDeparture: "READY_FOR_DEPARTURE",
	TakeoffRequested:  "TAKEOFF_REQUESTED",
	Departed:          "DEPARTED",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether s ends the lifecycle.
func (s State) Terminal() bool {
	return s == Departed
}

// ParseState is the inverse of State.String.
func ParseState(name string) (State, error) {
	for i, n := range stateNames {
		if n == name {
			return State(i), nil
		}
	}
	return 0, fmt.Errorf("unknown plane state %q", name)
}
