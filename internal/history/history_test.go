package history

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Napageneral/airport/internal/gates"
	"github.com/Napageneral/airport/internal/plane"
	"github.com/Napageneral/airport/internal/sim"
	"github.com/Napageneral/airport/internal/stats"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func countEvents(t *testing.T, s *Store, runID string) int {
	t.Helper()
	var n int
	if err := s.DB().QueryRow("SELECT COUNT(*) FROM plane_events WHERE run_id = ?", runID).Scan(&n); err != nil {
		t.Fatalf("count events: %v", err)
	}
	return n
}

func TestWriter_BatchFlush(t *testing.T) {
	s := openTestStore(t)
	w := NewWriter(s.DB(), WriterConfig{BatchSize: 5, FlushInterval: time.Minute})
	defer w.Close()

	rec := NewRecorder(w, "run-batch")
	for i := 0; i < 5; i++ {
		rec.RecordWait("Plane-1", time.Duration(i)*time.Millisecond)
	}

	deadline := time.Now().Add(2 * time.Second)
	for countEvents(t, s, "run-batch") != 5 {
		if time.Now().After(deadline) {
			t.Fatalf("batch was not flushed when full")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWriter_TimerFlush(t *testing.T) {
	s := openTestStore(t)
	w := NewWriter(s.DB(), WriterConfig{BatchSize: 100, FlushInterval: 20 * time.Millisecond})
	defer w.Close()

	NewRecorder(w, "run-timer").RecordDeparture("Plane-1", 30)

	deadline := time.Now().Add(2 * time.Second)
	for countEvents(t, s, "run-timer") != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("timer flush never happened")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWriter_CloseFlushesRemaining(t *testing.T) {
	s := openTestStore(t)
	w := NewWriter(s.DB(), WriterConfig{BatchSize: 100, FlushInterval: time.Minute})

	rec := NewRecorder(w, "run-close")
	rec.StateChanged("Plane-1", plane.Arrived, time.Now())
	rec.StateChanged("Plane-1", plane.LandingRequested, time.Now())
	rec.TaskCompleted("Plane-1", plane.TaskClean, true)

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if got := countEvents(t, s, "run-close"); got != 3 {
		t.Errorf("expected 3 events, got %d", got)
	}
	if w.Written() != 3 {
		t.Errorf("Written() = %d", w.Written())
	}
}

func TestWriter_FailedBatchRollsBack(t *testing.T) {
	s := openTestStore(t)
	w := NewWriter(s.DB(), WriterConfig{BatchSize: 100, FlushInterval: time.Minute})

	NewRecorder(w, "run-bad").RecordWait("Plane-1", time.Millisecond)
	w.Write("INSERT INTO no_such_table (x) VALUES (?)", 1)

	if err := w.Flush(); err == nil {
		t.Fatalf("expected flush error")
	}
	if err := w.Close(); err == nil {
		t.Errorf("Close should report the last flush error")
	}
	if got := countEvents(t, s, "run-bad"); got != 0 {
		t.Errorf("batch not rolled back: %d events", got)
	}
}

func sampleResult(id string, started time.Time, consistent bool) *sim.Result {
	served := 2
	if !consistent {
		served = 1
	}
	return &sim.Result{
		RunID:      id,
		Scenario:   "default",
		Seed:       7,
		Gates:      2,
		StartedAt:  started,
		FinishedAt: started.Add(time.Second),
		ElapsedMS:  1000,
		Summary: stats.Summary{
			Expected:        2,
			PlanesServed:    served,
			TotalPassengers: 70,
			WaitSamples:     2,
			MinWaitMS:       10,
			MaxWaitMS:       30,
			AvgWaitMS:       20,
			Emergencies:     []string{"Plane-2"},
			GatesEmpty:      true,
		},
		GateStatus:  []gates.Status{{ID: 1}, {ID: 2}},
		FinalStates: map[string]string{"Plane-1": "DEPARTED", "Plane-2": "DEPARTED"},
	}
}

func TestStore_SaveAndListRuns(t *testing.T) {
	s := openTestStore(t)
	base := time.Now().Add(-time.Hour).Truncate(time.Millisecond)

	if err := s.SaveRun(sampleResult("older", base, true)); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	bad := sampleResult("newer", base.Add(time.Minute), false)
	bad.Error = "gate invariant violated"
	if err := s.SaveRun(bad); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	runs, err := s.ListRuns(0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "newer" || runs[1].ID != "older" {
		t.Fatalf("expected newest first, got %+v", runs)
	}
	older := runs[1]
	if !older.Consistent || !older.GatesEmpty || older.Departed != 2 || older.Emergencies != 1 {
		t.Errorf("older run fields: %+v", older)
	}
	if !older.StartedAt.Equal(base) {
		t.Errorf("started_at %s, want %s", older.StartedAt, base)
	}
	if runs[0].Consistent || runs[0].Error != "gate invariant violated" {
		t.Errorf("newer run fields: %+v", runs[0])
	}

	limited, err := s.ListRuns(1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("ListRuns(1) = %d runs, %v", len(limited), err)
	}
}

func TestStore_SaveRunReplaces(t *testing.T) {
	s := openTestStore(t)
	res := sampleResult("same", time.Now(), false)
	if err := s.SaveRun(res); err != nil {
		t.Fatal(err)
	}
	res.Summary.PlanesServed = 2
	if err := s.SaveRun(res); err != nil {
		t.Fatal(err)
	}
	runs, err := s.ListRuns(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Departed != 2 {
		t.Errorf("expected a single updated row, got %+v", runs)
	}
}

func TestStore_GetRunAndReport(t *testing.T) {
	s := openTestStore(t)
	if err := s.SaveRun(sampleResult("r1", time.Now(), true)); err != nil {
		t.Fatal(err)
	}

	r, err := s.GetRun("r1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if r.Scenario != "default" || r.Seed != 7 || r.AvgWaitMS != 20 {
		t.Errorf("unexpected run: %+v", r)
	}

	raw, err := s.Report("r1")
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	var decoded sim.Result
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("report is not a result: %v", err)
	}
	if decoded.RunID != "r1" || decoded.FinalStates["Plane-2"] != "DEPARTED" {
		t.Errorf("unexpected report: %+v", decoded)
	}

	if _, err := s.GetRun("missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
	if _, err := s.Report("missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestStore_Events(t *testing.T) {
	s := openTestStore(t)
	w := NewWriter(s.DB(), DefaultWriterConfig())
	rec := NewRecorder(w, "ev")

	at := time.Now().Truncate(time.Millisecond)
	rec.StateChanged("Plane-1", plane.Arrived, at)
	rec.EmergencyDeclared("Plane-1", 18)
	rec.TaskCompleted("Plane-1", plane.TaskEmbark, false)
	rec.RecordDeparture("Plane-1", 44)
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	events, err := s.Events("ev")
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	if events[0].Kind != KindState || events[0].State != "ARRIVED" || !events[0].At.Equal(at) {
		t.Errorf("state event: %+v", events[0])
	}
	if events[1].Kind != KindEmergency || events[1].Value != 18 {
		t.Errorf("emergency event: %+v", events[1])
	}
	if events[2].Detail != plane.TaskEmbark || events[2].Value != 0 {
		t.Errorf("task event: %+v", events[2])
	}
	if events[3].Kind != KindDeparture || events[3].Value != 44 {
		t.Errorf("departure event: %+v", events[3])
	}
}

func TestStore_Query(t *testing.T) {
	s := openTestStore(t)
	if err := s.SaveRun(sampleResult("q1", time.Now(), true)); err != nil {
		t.Fatal(err)
	}

	res := s.Query("SELECT id, scenario FROM runs")
	if !res.OK || res.RowCount != 1 || res.Rows[0]["scenario"] != "default" {
		t.Fatalf("unexpected query result: %+v", res)
	}

	blocked := s.Query("DELETE FROM runs")
	if blocked.OK || !strings.Contains(blocked.Error, "not allowed") {
		t.Errorf("write statement should be rejected: %+v", blocked)
	}

	broken := s.Query("SELECT * FROM nope")
	if broken.OK || broken.Error == "" {
		t.Errorf("expected query failure: %+v", broken)
	}
}
