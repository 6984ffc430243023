package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/tripwire/internal/api"
	"github.com/banshee-data/tripwire/internal/config"
	"github.com/banshee-data/tripwire/internal/db"
	"github.com/banshee-data/tripwire/internal/rangefinder"
	"github.com/banshee-data/tripwire/internal/tripwire"
	"github.com/banshee-data/tripwire/internal/watch"
)

var (
	devMode     = flag.Bool("dev", false, "Run in dev mode (replay fixtures instead of reading a serial port)")
	listen      = flag.String("listen", ":8080", "Listen address")
	serialPort  = flag.String("serial", "/dev/ttyAMA0", "Serial device the rangefinder is attached to")
	fixtures    = flag.String("fixtures", "fixtures.txt", "Fixtures file replayed in dev mode")
	dbFile      = flag.String("db", "tripwire.db", "Path to the sqlite database")
	configFile  = flag.String("config", "", "Optional JSON tuning config")
	migrateFrom = flag.String("migrations", "", "If set, apply database migrations from this directory and exit")
)

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg := &config.TuningConfig{}
	if *configFile != "" {
		var err error
		cfg, err = config.LoadTuningConfig(*configFile)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	database, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()

	if *migrateFrom != "" {
		if err := database.MigrateUp(*migrateFrom); err != nil {
			log.Fatalf("failed to apply migrations: %v", err)
		}
		log.Print("migrations applied")
		return
	}

	// The range source is either a replayed fixtures file (dev) or a live
	// serial rangefinder. Both expose Range() for the tripwire to poll.
	var getRange tripwire.RangeFunc
	var serialSource *rangefinder.Serial
	if *devMode {
		f, err := rangefinder.NewFixtureFromFile(*fixtures)
		if err != nil {
			log.Fatalf("failed to load fixtures: %v", err)
		}
		getRange = f.Range
	} else {
		serialSource, err = rangefinder.Open(*serialPort, rangefinder.PortOptions{
			BaudRate: cfg.GetSerialBaudRate(),
		})
		if err != nil {
			log.Fatalf("failed to open serial port %s: %v", *serialPort, err)
		}
		defer serialSource.Close()
		getRange = serialSource.Range
	}

	tw := tripwire.New(getRange)
	cfg.Apply(tw)
	watcher := watch.New(tw, database, cfg.GetPollInterval())

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Serial reader routine. In dev mode the fixture source needs no IO.
	if serialSource != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := serialSource.Monitor(ctx); err != nil && err != context.Canceled {
				log.Printf("failed to monitor serial port: %v", err)
			}
			log.Print("serial monitor routine terminated")
		}()

		// Let the first readings arrive before calibrating against zeros.
		time.Sleep(cfg.GetBaselineReadInterval())
	}

	watcher.Start()
	if !watcher.Status().IsCalibrated {
		log.Printf("calibration failed: %+v; serving anyway, recalibrate via POST /api/calibrate", watcher.LastCalibration())
	}

	// Polling loop routine.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := watcher.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("watcher stopped: %v", err)
		}
		log.Print("watcher routine terminated")
	}()

	// HTTP server routine.
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// mount the admin debugging routes (accessible only in dev mode or over Tailscale)
		database.AttachAdminRoutes(mux)

		apiMux := api.NewServer(watcher, database, cfg.GetSensorUnits(), cfg.GetDisplayUnits()).ServeMux()
		mux.Handle("/api/", http.StripPrefix("/api", apiMux))

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}()

	wg.Wait()
	log.Print("graceful shutdown complete")
}
