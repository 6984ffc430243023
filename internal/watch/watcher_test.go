package watch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tripwire/internal/db"
	"github.com/banshee-data/tripwire/internal/monitoring"
	"github.com/banshee-data/tripwire/internal/timeutil"
	"github.com/banshee-data/tripwire/internal/tripwire"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

// memRecorder captures recorded events and calibrations in memory.
type memRecorder struct {
	mu           sync.Mutex
	events       []db.Event
	calibrations []tripwire.CalibrationReport
}

func (r *memRecorder) RecordEvent(e db.Event) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return "mem", nil
}

func (r *memRecorder) RecordCalibration(c tripwire.CalibrationReport) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calibrations = append(r.calibrations, c)
	return "mem", nil
}

func (r *memRecorder) Events() []db.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]db.Event(nil), r.events...)
}

func (r *memRecorder) Calibrations() []tripwire.CalibrationReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]tripwire.CalibrationReport(nil), r.calibrations...)
}

// scripted is a mutable range source for driving the tripwire by hand.
type scripted struct {
	mu sync.Mutex
	v  int64
}

func (s *scripted) set(v int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v = v
}

func (s *scripted) get() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v
}

func newWatcher(t *testing.T) (*Watcher, *scripted, *memRecorder, *timeutil.MockClock) {
	t.Helper()

	clock := timeutil.NewMockClock(time.Unix(5000, 0))
	src := &scripted{v: 1000}
	tw := tripwire.NewWithClock(src.get, clock)
	rec := &memRecorder{}
	w := NewWithClock(tw, rec, 50*time.Millisecond, clock)

	w.Start()
	require.True(t, w.Status().IsCalibrated)
	return w, src, rec, clock
}

func TestStartRecordsCalibration(t *testing.T) {
	_, _, rec, _ := newWatcher(t)

	calibrations := rec.Calibrations()
	require.Len(t, calibrations, 1)
	assert.True(t, calibrations[0].Calibrated)
	assert.Equal(t, int64(1000), calibrations[0].Baseline)
}

func TestConfirmedEventIsPersisted(t *testing.T) {
	w, src, rec, clock := newWatcher(t)

	src.set(900)
	w.Tick() // confirms immediately with min_successive_detections = 0
	started := w.Status().EventStartTime

	clock.Advance(300 * time.Millisecond)
	w.Tick() // still open

	src.set(1000)
	w.Tick() // streak breaks

	events := rec.Events()
	require.Len(t, events, 1)
	assert.True(t, events[0].Confirmed)
	assert.Equal(t, started, events[0].StartedAt)
	assert.Equal(t, int64(300), events[0].WidthMs)
	assert.Equal(t, int64(1000), events[0].Baseline)
	assert.Equal(t, int64(70), events[0].Threshold)
	assert.Equal(t, uint64(1), w.Status().NumDetections)
}

func TestPendingStreakPersistedAsUnconfirmed(t *testing.T) {
	w, src, rec, _ := newWatcher(t)
	w.Configure(func(tw *tripwire.Tripwire) {
		tw.MinSuccessiveDetections = 5
	})

	src.set(900)
	w.Tick()
	w.Tick() // pending, never confirmed
	src.set(1000)
	w.Tick() // breaks

	events := rec.Events()
	require.Len(t, events, 1)
	assert.False(t, events[0].Confirmed)
	assert.Equal(t, uint64(0), w.Status().NumDetections)
}

func TestConsecutiveEventsClassifiedIndependently(t *testing.T) {
	w, src, rec, _ := newWatcher(t)

	// First: a confirmed event.
	src.set(900)
	w.Tick()
	src.set(1000)
	w.Tick()

	// Second: a pending-only streak under a raised confirmation bar.
	w.Configure(func(tw *tripwire.Tripwire) {
		tw.MinSuccessiveDetections = 5
	})
	src.set(900)
	w.Tick()
	src.set(1000)
	w.Tick()

	// Third: confirmed again after lowering the bar back.
	w.Configure(func(tw *tripwire.Tripwire) {
		tw.MinSuccessiveDetections = 0
	})
	src.set(900)
	w.Tick()
	src.set(1000)
	w.Tick()

	events := rec.Events()
	require.Len(t, events, 3)
	assert.True(t, events[0].Confirmed)
	assert.False(t, events[1].Confirmed)
	assert.True(t, events[2].Confirmed)
}

func TestResetEventStatusDoesNotRecord(t *testing.T) {
	w, src, rec, _ := newWatcher(t)
	w.Configure(func(tw *tripwire.Tripwire) {
		tw.MinSuccessiveDetections = 3
	})

	src.set(900)
	w.Tick()
	w.Tick()
	w.ResetEventStatus()

	assert.Empty(t, rec.Events(), "manual reset must not persist an event")
}

func TestRecalibrateRecordsOutcome(t *testing.T) {
	w, src, rec, _ := newWatcher(t)

	src.set(500)
	rep := w.Recalibrate()
	assert.True(t, rep.Calibrated)
	assert.Equal(t, int64(500), rep.Baseline)

	calibrations := rec.Calibrations()
	require.Len(t, calibrations, 2) // Start + Recalibrate
	assert.Equal(t, int64(500), calibrations[1].Baseline)
}

func TestRunPollsUntilCancelled(t *testing.T) {
	w, src, rec, clock := newWatcher(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	src.set(900)
	// Fire poll ticks until the update loop has processed the detection.
	require.Eventually(t, func() bool {
		clock.Advance(50 * time.Millisecond)
		return w.Status().NumDetections == 1
	}, 2*time.Second, 5*time.Millisecond)

	src.set(1000)
	require.Eventually(t, func() bool {
		clock.Advance(50 * time.Millisecond)
		return len(rec.Events()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestNilRecorderIsSafe(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	src := &scripted{v: 1000}
	tw := tripwire.NewWithClock(src.get, clock)
	w := NewWithClock(tw, nil, 50*time.Millisecond, clock)

	w.Start()
	src.set(900)
	w.Tick()
	src.set(1000)
	w.Tick() // would record if a recorder were attached

	assert.Equal(t, uint64(1), w.Status().NumDetections)
}
