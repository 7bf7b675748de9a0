package history

import (
	"time"

	"github.com/Napageneral/airport/internal/plane"
)

// Event kinds stored in plane_events.kind.
const (
	KindState     = "state"
	KindWait      = "wait"
	KindEmergency = "emergency"
	KindTask      = "task"
	KindDeparture = "departure"
)

const insertEvent = `INSERT INTO plane_events (run_id, plane, kind, state, detail, value, ts) VALUES (?, ?, ?, ?, ?, ?, ?)`

// Recorder persists plane events for one run through a Writer.
type Recorder struct {
	w     *Writer
	runID string
}

var _ plane.Observer = (*Recorder)(nil)

func NewRecorder(w *Writer, runID string) *Recorder {
	return &Recorder{w: w, runID: runID}
}

func (r *Recorder) StateChanged(name string, s plane.State, at time.Time) {
	r.w.Write(insertEvent, r.runID, name, KindState, s.String(), nil, nil, at.UnixMilli())
}

func (r *Recorder) RecordWait(name string, wait time.Duration) {
	r.w.Write(insertEvent, r.runID, name, KindWait, nil, nil, wait.Milliseconds(), time.Now().UnixMilli())
}

func (r *Recorder) EmergencyDeclared(name string, fuel int) {
	r.w.Write(insertEvent, r.runID, name, KindEmergency, nil, nil, fuel, time.Now().UnixMilli())
}

func (r *Recorder) TaskCompleted(name, task string, interrupted bool) {
	v := 0
	if interrupted {
		v = 1
	}
	r.w.Write(insertEvent, r.runID, name, KindTask, nil, task, v, time.Now().UnixMilli())
}

func (r *Recorder) RecordDeparture(name string, passengers int) {
	r.w.Write(insertEvent, r.runID, name, KindDeparture, nil, nil, passengers, time.Now().UnixMilli())
}
