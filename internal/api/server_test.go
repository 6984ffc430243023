package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tripwire/internal/db"
	"github.com/banshee-data/tripwire/internal/monitoring"
	"github.com/banshee-data/tripwire/internal/timeutil"
	"github.com/banshee-data/tripwire/internal/tripwire"
	"github.com/banshee-data/tripwire/internal/watch"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

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

type fixture struct {
	mux   *http.ServeMux
	w     *watch.Watcher
	src   *scripted
	clock *timeutil.MockClock
}

func newTestServer(t *testing.T) *fixture {
	t.Helper()

	database, err := db.NewDB(filepath.Join(t.TempDir(), "tripwire.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	clock := timeutil.NewMockClock(time.Unix(5000, 0))
	src := &scripted{v: 1000}
	tw := tripwire.NewWithClock(src.get, clock)
	w := watch.NewWithClock(tw, database, 50*time.Millisecond, clock)
	w.Start()
	require.True(t, w.Status().IsCalibrated)

	return &fixture{
		mux:   NewServer(w, database, "cm", "cm").ServeMux(),
		w:     w,
		src:   src,
		clock: clock,
	}
}

// recordEvent drives one full confirmed event through the watcher.
func (f *fixture) recordEvent(t *testing.T, width time.Duration) {
	t.Helper()
	f.src.set(900)
	f.w.Tick()
	f.clock.Advance(width)
	f.src.set(1000)
	f.w.Tick()
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	f.mux.ServeHTTP(rr, req)
	return rr
}

func (f *fixture) post(t *testing.T, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	f.mux.ServeHTTP(rr, req)
	return rr
}

func TestShowStatus(t *testing.T) {
	f := newTestServer(t)

	rr := f.get(t, "/status")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, resp.IsCalibrated)
	assert.Equal(t, int64(1000), resp.BaselineDistance)
	assert.Equal(t, "cm", resp.Units)

	assert.Equal(t, http.StatusMethodNotAllowed, f.post(t, "/status", "").Code)
}

func TestListEventsConvertsUnits(t *testing.T) {
	f := newTestServer(t)
	f.recordEvent(t, 300*time.Millisecond)

	rr := f.get(t, "/events")
	require.Equal(t, http.StatusOK, rr.Code)

	var events []EventAPI
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.True(t, events[0].Confirmed)
	assert.Equal(t, int64(300), events[0].WidthMs)
	assert.Equal(t, float64(1000), events[0].Baseline)
	assert.Equal(t, "cm", events[0].Units)

	// Same event in metres.
	rr = f.get(t, "/events?units=m")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.InDelta(t, 10.0, events[0].Baseline, 1e-9)
	assert.InDelta(t, 0.7, events[0].Threshold, 1e-9)
	assert.Equal(t, "m", events[0].Units)

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/events?units=furlongs").Code)
	assert.Equal(t, http.StatusBadRequest, f.get(t, "/events?limit=bogus").Code)
}

func TestRecalibrateEndpoint(t *testing.T) {
	f := newTestServer(t)

	f.src.set(750)
	rr := f.post(t, "/calibrate", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var rep tripwire.CalibrationReport
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rep))
	assert.True(t, rep.Calibrated)
	assert.Equal(t, int64(750), rep.Baseline)

	assert.Equal(t, http.StatusMethodNotAllowed, f.get(t, "/calibrate").Code)

	// Start + recalibrate both recorded.
	rr = f.get(t, "/calibrations")
	require.Equal(t, http.StatusOK, rr.Code)
	var calibrations []db.Calibration
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &calibrations))
	assert.Len(t, calibrations, 2)
}

func TestResetEndpoint(t *testing.T) {
	f := newTestServer(t)

	f.src.set(900)
	f.w.Tick() // confirms immediately with min_successive_detections = 0
	require.True(t, f.w.Status().Detecting)

	rr := f.post(t, "/reset", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.False(t, f.w.Status().Detecting)
}

func TestConfigRoundTrip(t *testing.T) {
	f := newTestServer(t)

	rr := f.post(t, "/config", `{"distance_threshold": 120, "min_successive_detections": 2}`)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = f.get(t, "/config")
	require.Equal(t, http.StatusOK, rr.Code)

	var st tuningState
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &st))
	assert.Equal(t, int64(120), st.DistanceThreshold)
	assert.Equal(t, 2, st.MinSuccessiveDetections)
	assert.Equal(t, tripwire.DefaultMaxBaselineReads, st.MaxBaselineReads)

	assert.Equal(t, http.StatusBadRequest, f.post(t, "/config", `{"distance_threshold": -5}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.post(t, "/config", `not json`).Code)
}

func TestEventChartRenders(t *testing.T) {
	f := newTestServer(t)
	f.recordEvent(t, 250*time.Millisecond)

	rr := f.get(t, "/events/chart")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rr.Body.String(), "Event Widths")
}
