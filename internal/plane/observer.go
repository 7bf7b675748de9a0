package plane

import "time"

// Observer receives lifecycle events. Calls are fire-and-forget and may come
// from several goroutines at once.
type Observer interface {
	StateChanged(plane string, s State, at time.Time)
	// RecordWait is the time from arrival to the landing runway grant.
	RecordWait(plane string, wait time.Duration)
	EmergencyDeclared(plane string, fuel int)
	TaskCompleted(plane, task string, interrupted bool)
	RecordDeparture(plane string, passengers int)
}

// Observers fans every event out to each member.
type Observers []Observer

func (o Observers) StateChanged(plane string, s State, at time.Time) {
	for _, x := range o {
		x.StateChanged(plane, s, at)
	}
}

func (o Observers) RecordWait(plane string, wait time.Duration) {
	for _, x := range o {
		x.RecordWait(plane, wait)
	}
}

func (o Observers) EmergencyDeclared(plane string, fuel int) {
	for _, x := range o {
		x.EmergencyDeclared(plane, fuel)
	}
}

func (o Observers) TaskCompleted(plane, task string, interrupted bool) {
	for _, x := range o {
		x.TaskCompleted(plane, task, interrupted)
	}
}

func (o Observers) RecordDeparture(plane string, passengers int) {
	for _, x := range o {
		x.RecordDeparture(plane, passengers)
	}
}

type nopObserver struct{}

func (nopObserver) StateChanged(string, State, time.Time) {}
func (nopObserver) RecordWait(string, time.Duration)      {}
func (nopObserver) EmergencyDeclared(string, int)         {}
func (nopObserver) TaskCompleted(string, string, bool)    {}
func (nopObserver) RecordDeparture(string, int)           {}
