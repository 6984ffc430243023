// Package tripwire debounces and classifies detection events from a
// distance-ranging sensor. A Tripwire establishes a stable background
// ("baseline") distance, then reports when an object crosses the sensor's
// line of sight by noting a sustained reduction in measured distance, and
// reports again when the object leaves.
//
// The Tripwire is single-threaded by design: one caller owns it and drives
// Update from a polling loop. It performs no locking of its own.
package tripwire

import (
	"time"

	"github.com/banshee-data/tripwire/internal/timeutil"
)

// RangeFunc returns the current distance reported by a ranging sensor.
// Units are inherited from the sensor and never interpreted here, but the
// value must shrink as an object approaches.
type RangeFunc func() int64

// EventFunc is invoked synchronously from Update when a detection event
// starts or ends.
type EventFunc func()

// Defaults applied by New. Distances are in the sensor's units.
const (
	DefaultDistanceThreshold       int64 = 70
	DefaultMinBaselineReads              = 20
	DefaultMaxBaselineReads              = 40
	DefaultMaxBaselineVariance           = DefaultDistanceThreshold
	DefaultBaselineReadInterval          = 100 * time.Millisecond
	DefaultMinSuccessiveDetections       = 0
)

// Tripwire manages detection events for a ranging sensor.
//
// Configuration fields may be changed at any time; they take effect on the
// next relevant operation and are not validated. Observable fields are
// read-only by convention: writing them from outside skews detection state.
type Tripwire struct {
	// DistanceThreshold is the minimum reduction from the baseline
	// distance for a reading to count as a detection.
	DistanceThreshold int64

	// MinBaselineReads and MaxBaselineReads bound the number of samples
	// taken during calibration.
	MinBaselineReads int
	MaxBaselineReads int

	// MaxBaselineVariance is the calibration acceptance threshold.
	// Calibration fails if the smoothed variance ends at or above it.
	MaxBaselineVariance int64

	// BaselineReadInterval is the pause between calibration samples.
	BaselineReadInterval time.Duration

	// MinSuccessiveDetections is the number of consecutive qualifying
	// reads required before an event is declared. Zero declares an event
	// on the first qualifying read.
	MinSuccessiveDetections int

	// IsCalibrated is true only after a successful calibration pass.
	// BaselineDistance and BaselineVariance are unreliable while false.
	IsCalibrated bool

	// Distance is the last raw reading taken by Update.
	Distance int64

	// BaselineDistance is the estimated unobstructed background distance.
	BaselineDistance int64

	// BaselineVariance is the smoothed deviation observed while
	// calibrating.
	BaselineVariance int64

	// NumDetections counts events ever declared since Start.
	NumDetections uint64

	// LastEventWidth is the duration of the most recently ended streak.
	LastEventWidth time.Duration

	// EventStartTime is when the current or most recent event began.
	EventStartTime time.Time

	// LastCalibration reports the outcome of the most recent Calibrate.
	LastCalibration CalibrationReport

	clock                timeutil.Clock
	getRange             RangeFunc
	eventStart           EventFunc
	eventEnd             EventFunc
	successiveDetections int
}

// New creates a Tripwire reading distances from getRange, which may be nil
// and supplied later via SetRangeFunc. Calibration and detection no-op
// until a range source is present.
func New(getRange RangeFunc) *Tripwire {
	return NewWithClock(getRange, timeutil.RealClock{})
}

// NewWithClock creates a Tripwire with an injected clock. The clock supplies
// event timestamps and the calibration inter-read pause, so tests can run
// calibration without real sleeps.
func NewWithClock(getRange RangeFunc, clock timeutil.Clock) *Tripwire {
	return &Tripwire{
		DistanceThreshold:       DefaultDistanceThreshold,
		MinBaselineReads:        DefaultMinBaselineReads,
		MaxBaselineReads:        DefaultMaxBaselineReads,
		MaxBaselineVariance:     DefaultMaxBaselineVariance,
		BaselineReadInterval:    DefaultBaselineReadInterval,
		MinSuccessiveDetections: DefaultMinSuccessiveDetections,
		clock:                   clock,
		getRange:                getRange,
	}
}

// Start resets the runtime counters and calibrates. Update must then be
// called regularly to ensure consistent reads. Start is the only operation
// that clears historical counters; call it once per sensor session.
func (t *Tripwire) Start() {
	t.EventStartTime = time.Time{}
	t.LastEventWidth = 0
	t.successiveDetections = 0
	t.NumDetections = 0

	t.Calibrate()
}

// Update reads the sensor and advances the detection state machine. It is
// intended to be called once per sampling tick and invokes at most one
// callback per call.
func (t *Tripwire) Update() {
	if t.getRange == nil {
		return
	}
	t.Distance = t.getRange()

	// Detection occurs when a target breaks the line of sight to the
	// baseline.
	if (t.BaselineDistance - t.Distance) > t.DistanceThreshold {
		switch {
		case t.successiveDetections == t.MinSuccessiveDetections:
			// The streak just reached confirmation. Only one event
			// is recorded per trip: the counter advances past the
			// threshold so this branch cannot re-fire while the
			// event stays open.
			t.successiveDetections++
			t.EventStartTime = t.clock.Now()
			t.NumDetections++
			if t.eventStart != nil {
				t.eventStart()
			}
		case t.successiveDetections < t.MinSuccessiveDetections:
			// Not enough successive detections yet.
			t.successiveDetections++
		}
		return
	}

	// Nothing detected. End any active streak and reset.
	//
	// The end callback fires for any non-zero streak, even one that never
	// reached confirmation and so never fired the start callback. The
	// pending state must not get stuck without cleanup, so the streak
	// break always reports.
	if t.successiveDetections > 0 {
		t.LastEventWidth = t.clock.Since(t.EventStartTime)
		if t.eventEnd != nil {
			t.eventEnd()
		}
	}
	t.successiveDetections = 0
}

// SetRangeFunc replaces the range source. A nil argument is ignored and the
// previous source, including "unset", is retained.
func (t *Tripwire) SetRangeFunc(fn RangeFunc) {
	if fn != nil {
		t.getRange = fn
	}
}

// SetEventStartCallback sets the function called when an event starts.
// A nil argument is ignored.
func (t *Tripwire) SetEventStartCallback(fn EventFunc) {
	if fn != nil {
		t.eventStart = fn
	}
}

// SetEventEndCallback sets the function called when an event ends.
// A nil argument is ignored.
func (t *Tripwire) SetEventEndCallback(fn EventFunc) {
	if fn != nil {
		t.eventEnd = fn
	}
}

// ResetEventStatus zeroes the successive-detection counter without touching
// calibration or counters. It is a manual escape hatch for a driver that
// believes the detector is stuck mid-streak.
func (t *Tripwire) ResetEventStatus() {
	t.successiveDetections = 0
}

// Detecting reports whether a confirmed event is currently open.
func (t *Tripwire) Detecting() bool {
	return t.successiveDetections > t.MinSuccessiveDetections
}

// Status is a point-in-time snapshot of the observable tripwire state,
// suitable for JSON serialisation.
type Status struct {
	IsCalibrated     bool      `json:"is_calibrated"`
	Detecting        bool      `json:"detecting"`
	Distance         int64     `json:"distance"`
	BaselineDistance int64     `json:"baseline_distance"`
	BaselineVariance int64     `json:"baseline_variance"`
	NumDetections    uint64    `json:"num_detections"`
	LastEventWidthMs int64     `json:"last_event_width_ms"`
	EventStartTime   time.Time `json:"event_start_time"`
}

// Status returns a snapshot of the observable state.
func (t *Tripwire) Status() Status {
	return Status{
		IsCalibrated:     t.IsCalibrated,
		Detecting:        t.Detecting(),
		Distance:         t.Distance,
		BaselineDistance: t.BaselineDistance,
		BaselineVariance: t.BaselineVariance,
		NumDetections:    t.NumDetections,
		LastEventWidthMs: t.LastEventWidth.Milliseconds(),
		EventStartTime:   t.EventStartTime,
	}
}
