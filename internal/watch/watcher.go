// Package watch drives a tripwire from a periodic polling loop and persists
// the events it reports. The tripwire itself is single-threaded; the Watcher
// owns it and serialises all access, so HTTP handlers can observe and
// reconfigure the detector while the loop runs.
package watch

import (
	"context"
	"sync"
	"time"

	"github.com/banshee-data/tripwire/internal/db"
	"github.com/banshee-data/tripwire/internal/monitoring"
	"github.com/banshee-data/tripwire/internal/timeutil"
	"github.com/banshee-data/tripwire/internal/tripwire"
)

// Recorder persists detection events and calibration attempts.
type Recorder interface {
	RecordEvent(db.Event) (string, error)
	RecordCalibration(tripwire.CalibrationReport) (string, error)
}

// Watcher polls a tripwire at a fixed interval.
type Watcher struct {
	mu       sync.Mutex
	tw       *tripwire.Tripwire
	rec      Recorder
	clock    timeutil.Clock
	interval time.Duration

	// lastDetections distinguishes confirmed events from pending streaks
	// when the end callback fires: a confirmed event advanced the
	// tripwire's detection counter, a broken pending streak did not.
	lastDetections uint64
}

// New creates a Watcher polling tw every interval, recording events and
// calibrations through rec. rec may be nil to run without persistence.
func New(tw *tripwire.Tripwire, rec Recorder, interval time.Duration) *Watcher {
	return NewWithClock(tw, rec, interval, timeutil.RealClock{})
}

// NewWithClock creates a Watcher with an injected clock for tests.
func NewWithClock(tw *tripwire.Tripwire, rec Recorder, interval time.Duration, clock timeutil.Clock) *Watcher {
	w := &Watcher{
		tw:       tw,
		rec:      rec,
		clock:    clock,
		interval: interval,
	}

	// Callbacks run synchronously inside Update, which only executes with
	// w.mu held, so they may read tripwire state freely.
	tw.SetEventStartCallback(func() {
		monitoring.Logf("event started: distance=%d baseline=%d", tw.Distance, tw.BaselineDistance)
	})
	tw.SetEventEndCallback(func() {
		confirmed := tw.NumDetections != w.lastDetections
		w.lastDetections = tw.NumDetections

		monitoring.Logf("event ended: width=%v confirmed=%v", tw.LastEventWidth, confirmed)
		if w.rec == nil {
			return
		}
		_, err := w.rec.RecordEvent(db.Event{
			StartedAt: tw.EventStartTime,
			WidthMs:   tw.LastEventWidth.Milliseconds(),
			Confirmed: confirmed,
			Baseline:  tw.BaselineDistance,
			Threshold: tw.DistanceThreshold,
		})
		if err != nil {
			monitoring.Logf("failed to record event: %v", err)
		}
	})

	return w
}

// Start resets the tripwire's runtime counters and calibrates, then records
// the calibration outcome. It blocks for the duration of calibration.
func (w *Watcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastDetections = 0
	w.tw.Start()
	w.recordCalibration()
}

// Recalibrate re-runs calibration without clearing detection counters and
// returns the report. It blocks for the duration of calibration.
func (w *Watcher) Recalibrate() tripwire.CalibrationReport {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tw.Calibrate()
	w.recordCalibration()
	return w.tw.LastCalibration
}

func (w *Watcher) recordCalibration() {
	if w.rec == nil {
		return
	}
	if _, err := w.rec.RecordCalibration(w.tw.LastCalibration); err != nil {
		monitoring.Logf("failed to record calibration: %v", err)
	}
}

// Run polls the tripwire until the context is cancelled. Callers normally
// invoke Start first; an uncalibrated tripwire still updates, it just
// detects against a meaningless baseline.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			w.Tick()
		}
	}
}

// Tick performs a single update of the tripwire.
func (w *Watcher) Tick() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tw.Update()
}

// ResetEventStatus clears a stuck detection streak without firing callbacks
// or touching counters.
func (w *Watcher) ResetEventStatus() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tw.ResetEventStatus()
}

// Status returns a snapshot of the tripwire's observable state.
func (w *Watcher) Status() tripwire.Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tw.Status()
}

// LastCalibration returns the most recent calibration report.
func (w *Watcher) LastCalibration() tripwire.CalibrationReport {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tw.LastCalibration
}

// Configure runs fn against the tripwire with the watcher's lock held. Use
// it to read or change tuning fields while the polling loop is live.
func (w *Watcher) Configure(fn func(*tripwire.Tripwire)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fn(w.tw)
}
