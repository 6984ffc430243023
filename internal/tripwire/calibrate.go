package tripwire

import (
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/tripwire/internal/monitoring"
)

// CalibrationReport summarises a calibration attempt. SampleMean and
// SampleStdDev are descriptive statistics over the raw readings taken; they
// do not feed back into the smoothing algorithm.
type CalibrationReport struct {
	Baseline     int64   `json:"baseline"`
	Variance     int64   `json:"variance"`
	Reads        int     `json:"reads"`
	Calibrated   bool    `json:"calibrated"`
	SampleMean   float64 `json:"sample_mean"`
	SampleStdDev float64 `json:"sample_stddev"`
}

// Calibrate establishes the baseline distance of the sensor by iterative
// exponential smoothing. Ensure nothing is moving in front of the sensor
// during calibration or the baseline will be inaccurate.
//
// IsCalibrated reports the outcome; calibration never fails fatally. With no
// range source or a zero DistanceThreshold, calibration is skipped and
// IsCalibrated stays false. The loop blocks the calling goroutine for
// BaselineReadInterval between reads.
func (t *Tripwire) Calibrate() {
	t.IsCalibrated = false

	if t.getRange == nil || t.DistanceThreshold == 0 {
		return
	}

	t.BaselineDistance = t.getRange()
	// Seeding the variance with the baseline itself biases the early
	// iterations toward requiring convergence.
	t.BaselineVariance = t.BaselineDistance
	reads := 1
	samples := []float64{float64(t.BaselineDistance)}

	// Keep reading in the baseline until it stabilises or the max reads
	// are reached. Both the variance and the baseline are halved toward
	// the latest observation, truncating toward zero.
	for (reads < t.MinBaselineReads || t.BaselineVariance > t.MaxBaselineVariance) &&
		reads < t.MaxBaselineReads {
		newRange := t.getRange()
		newVariance := t.BaselineDistance - newRange
		if newVariance < 0 {
			newVariance = -newVariance
		}

		t.BaselineVariance = (t.BaselineVariance + newVariance) / 2
		t.BaselineDistance = (t.BaselineDistance + newRange) / 2

		reads++
		samples = append(samples, float64(newRange))
		t.clock.Sleep(t.BaselineReadInterval)
	}

	// Calibration fails if the range is varying too much. Note that a
	// variance exactly equal to MaxBaselineVariance exits the loop above
	// yet fails here; that boundary is part of the calibration contract.
	if t.BaselineVariance < t.MaxBaselineVariance {
		t.IsCalibrated = true
	}

	t.LastCalibration = CalibrationReport{
		Baseline:   t.BaselineDistance,
		Variance:   t.BaselineVariance,
		Reads:      reads,
		Calibrated: t.IsCalibrated,
		SampleMean: stat.Mean(samples, nil),
	}
	if len(samples) > 1 {
		t.LastCalibration.SampleStdDev = stat.StdDev(samples, nil)
	}

	monitoring.Logf(
		"calibration finished: baseline=%d variance=%d reads=%d calibrated=%v mean=%.1f stddev=%.1f",
		t.BaselineDistance, t.BaselineVariance, reads, t.IsCalibrated,
		t.LastCalibration.SampleMean, t.LastCalibration.SampleStdDev,
	)
}
