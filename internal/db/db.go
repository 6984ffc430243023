// Package db persists tripwire detection events and calibration attempts in
// a local sqlite database.
package db

import (
	"database/sql"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/banshee-data/tripwire/internal/tripwire"
)

type DB struct {
	*sql.DB
	path string
}

// NewDB opens (creating if necessary) the sqlite database at path and
// ensures the schema exists. Versioned upgrades beyond the base schema are
// handled by MigrateUp.
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			event_id          TEXT PRIMARY KEY,
			started_at_ms     BIGINT,
			width_ms          BIGINT,
			confirmed         BOOLEAN,
			baseline          BIGINT,
			threshold         BIGINT,
			timestamp         TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS calibrations (
			calibration_id    TEXT PRIMARY KEY,
			baseline          BIGINT,
			variance          BIGINT,
			reads             BIGINT,
			calibrated        BOOLEAN,
			sample_mean       DOUBLE,
			sample_stddev     DOUBLE,
			timestamp         TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return nil, err
	}

	return &DB{DB: db, path: path}, nil
}

// Event is one ended detection streak. Confirmed is false for streaks that
// broke before reaching the successive-detection threshold (those never
// fired a start callback but still report an end).
type Event struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	WidthMs   int64     `json:"width_ms"`
	Confirmed bool      `json:"confirmed"`
	Baseline  int64     `json:"baseline"`
	Threshold int64     `json:"threshold"`
}

func (e *Event) String() string {
	return fmt.Sprintf(
		"ID: %s, StartedAt: %s, WidthMs: %d, Confirmed: %v, Baseline: %d, Threshold: %d",
		e.ID, e.StartedAt.Format(time.RFC3339Nano), e.WidthMs, e.Confirmed, e.Baseline, e.Threshold,
	)
}

// RecordEvent inserts one ended streak and returns its generated ID.
func (db *DB) RecordEvent(e Event) (string, error) {
	id := e.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err := db.Exec(
		`INSERT INTO events (event_id, started_at_ms, width_ms, confirmed, baseline, threshold)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, e.StartedAt.UnixMilli(), e.WidthMs, e.Confirmed, e.Baseline, e.Threshold,
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

// Events returns the most recent events, newest first.
func (db *DB) Events(limit int) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := db.Query(
		`SELECT event_id, started_at_ms, width_ms, confirmed, baseline, threshold
		 FROM events ORDER BY started_at_ms DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var startedAtMs int64
		if err := rows.Scan(&e.ID, &startedAtMs, &e.WidthMs, &e.Confirmed, &e.Baseline, &e.Threshold); err != nil {
			return nil, err
		}
		e.StartedAt = time.UnixMilli(startedAtMs)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return events, nil
}

// RecordCalibration inserts one calibration attempt.
func (db *DB) RecordCalibration(rep tripwire.CalibrationReport) (string, error) {
	id := uuid.New().String()
	_, err := db.Exec(
		`INSERT INTO calibrations (calibration_id, baseline, variance, reads, calibrated, sample_mean, sample_stddev)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, rep.Baseline, rep.Variance, rep.Reads, rep.Calibrated, rep.SampleMean, rep.SampleStdDev,
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

// Calibration is a persisted calibration attempt.
type Calibration struct {
	ID string `json:"id"`
	tripwire.CalibrationReport
}

// Calibrations returns the most recent calibration attempts, newest first.
func (db *DB) Calibrations(limit int) ([]Calibration, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := db.Query(
		`SELECT calibration_id, baseline, variance, reads, calibrated, sample_mean, sample_stddev
		 FROM calibrations ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calibrations []Calibration
	for rows.Next() {
		var c Calibration
		if err := rows.Scan(&c.ID, &c.Baseline, &c.Variance, &c.Reads, &c.Calibrated, &c.SampleMean, &c.SampleStdDev); err != nil {
			return nil, err
		}
		calibrations = append(calibrations, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return calibrations, nil
}

// AttachAdminRoutes mounts live SQL debugging and a backup download under
// the /debug/ routes. These are accessible only over localhost/Tailscale and
// are not publicly reachable.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	// create a tailSQL instance and point it at our DB
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://"+db.path, db.DB, &tailsql.DBOptions{
		Label: "Tripwire DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backupPath := fmt.Sprintf("backup-%d.db", time.Now().Unix())
		if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, "failed to create backup", http.StatusInternalServerError)
			return
		}
		defer os.Remove(backupPath)

		f, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, "failed to open backup", http.StatusInternalServerError)
			return
		}
		defer f.Close()

		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", backupPath))
		io.Copy(w, f)
	}))
}
