// Package api exposes the tripwire's observable state and tuning over HTTP.
package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/tripwire/internal/config"
	"github.com/banshee-data/tripwire/internal/db"
	"github.com/banshee-data/tripwire/internal/tripwire"
	"github.com/banshee-data/tripwire/internal/units"
	"github.com/banshee-data/tripwire/internal/watch"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	w            *watch.Watcher
	db           *db.DB
	sensorUnits  string
	displayUnits string
}

// NewServer creates an API server over a running watcher and its event
// store. sensorUnits names the unit of raw readings; displayUnits is the
// default unit for responses (overridable per request with ?units=).
func NewServer(w *watch.Watcher, db *db.DB, sensorUnits, displayUnits string) *Server {
	return &Server{
		w:            w,
		db:           db,
		sensorUnits:  sensorUnits,
		displayUnits: displayUnits,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.showStatus)
	mux.HandleFunc("/events", s.listEvents)
	mux.HandleFunc("/events/chart", s.chartEvents)
	mux.HandleFunc("/calibrate", s.recalibrate)
	mux.HandleFunc("/calibrations", s.listCalibrations)
	mux.HandleFunc("/reset", s.resetEventStatus)
	mux.HandleFunc("/config", s.handleConfig)
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

// targetUnits resolves the display unit for a request.
func (s *Server) targetUnits(r *http.Request) (string, error) {
	u := r.URL.Query().Get("units")
	if u == "" {
		return s.displayUnits, nil
	}
	if !units.IsValid(u) {
		return "", fmt.Errorf("invalid units %q: expected one of %s", u, units.GetValidUnitsString())
	}
	return u, nil
}

type statusResponse struct {
	tripwire.Status
	Units string `json:"units"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, statusResponse{
		Status: s.w.Status(),
		Units:  s.sensorUnits,
	})
}

// EventAPI is the wire form of a stored event, with distances converted to
// the requested display units.
type EventAPI struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	WidthMs   int64     `json:"width_ms"`
	Confirmed bool      `json:"confirmed"`
	Baseline  float64   `json:"baseline"`
	Threshold float64   `json:"threshold"`
	Units     string    `json:"units"`
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	target, err := s.targetUnits(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if limit, err = strconv.Atoi(l); err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
	}

	events, err := s.db.Events(limit)
	if err != nil {
		http.Error(w, "failed to list events", http.StatusInternalServerError)
		return
	}

	resp := make([]EventAPI, 0, len(events))
	for _, e := range events {
		resp = append(resp, EventAPI{
			ID:        e.ID,
			StartedAt: e.StartedAt,
			WidthMs:   e.WidthMs,
			Confirmed: e.Confirmed,
			Baseline:  units.ConvertDistance(float64(e.Baseline), s.sensorUnits, target),
			Threshold: units.ConvertDistance(float64(e.Threshold), s.sensorUnits, target),
			Units:     target,
		})
	}
	s.writeJSON(w, resp)
}

func (s *Server) listCalibrations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	calibrations, err := s.db.Calibrations(0)
	if err != nil {
		http.Error(w, "failed to list calibrations", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, calibrations)
}

func (s *Server) recalibrate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	// Calibration blocks for its full read loop; the handler returns the
	// outcome once it completes.
	rep := s.w.Recalibrate()
	s.writeJSON(w, rep)
}

func (s *Server) resetEventStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.w.ResetEventStatus()
	w.WriteHeader(http.StatusNoContent)
}

// tuningState mirrors config.TuningConfig's tripwire fields for GET /config.
type tuningState struct {
	DistanceThreshold       int64  `json:"distance_threshold"`
	MinBaselineReads        int    `json:"min_baseline_reads"`
	MaxBaselineReads        int    `json:"max_baseline_reads"`
	MaxBaselineVariance     int64  `json:"max_baseline_variance"`
	BaselineReadInterval    string `json:"baseline_read_interval"`
	MinSuccessiveDetections int    `json:"min_successive_detections"`
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		var st tuningState
		s.w.Configure(func(tw *tripwire.Tripwire) {
			st = tuningState{
				DistanceThreshold:       tw.DistanceThreshold,
				MinBaselineReads:        tw.MinBaselineReads,
				MaxBaselineReads:        tw.MaxBaselineReads,
				MaxBaselineVariance:     tw.MaxBaselineVariance,
				BaselineReadInterval:    tw.BaselineReadInterval.String(),
				MinSuccessiveDetections: tw.MinSuccessiveDetections,
			}
		})
		s.writeJSON(w, st)

	case http.MethodPost:
		var cfg config.TuningConfig
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			http.Error(w, "failed to parse config JSON", http.StatusBadRequest)
			return
		}
		if err := cfg.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		// Omitted fields fall back to defaults, matching startup
		// semantics: the same JSON document configures both.
		s.w.Configure(cfg.Apply)
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
