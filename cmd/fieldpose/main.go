package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/fieldpose/internal/camera"
	"github.com/banshee-data/fieldpose/internal/config"
	"github.com/banshee-data/fieldpose/internal/db"
	"github.com/banshee-data/fieldpose/internal/fieldlayout"
	"github.com/banshee-data/fieldpose/internal/monitor"
	"github.com/banshee-data/fieldpose/internal/pipeline"
	"github.com/banshee-data/fieldpose/internal/posestream"
	"github.com/banshee-data/fieldpose/internal/serialmux"
	"github.com/banshee-data/fieldpose/internal/version"
)

// activeLayout is the name the running layout is stored under, so a restart
// without field_layout_path picks up the last one used.
const activeLayout = "active"

var (
	configPath  = flag.String("config", config.DefaultConfigPath, "Path to the JSON configuration file")
	listen      = flag.String("listen", "", "HTTP debug listen address (overrides http_listen)")
	grpcListen  = flag.String("grpc-listen", "", "Estimate stream listen address (overrides grpc_listen)")
	dbPathFlag  = flag.String("db-path", "", "SQLite database path (overrides db_path)")
	note        = flag.String("note", "", "Free-form note stored with this run")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "       %s migrate <action> [flags]\n\n", os.Args[0])
		flag.PrintDefaults()
	}

	// The migrate subcommand manages the schema without starting the service.
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		fs := flag.NewFlagSet("migrate", flag.ExitOnError)
		path := fs.String("db-path", "fieldpose.db", "SQLite database path")
		if err := fs.Parse(os.Args[2:]); err != nil {
			log.Fatal(err)
		}
		if err := db.RunMigrateCommand(fs.Args(), *path, os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}

	flag.Parse()
	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := config.LoadEstimatorConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	dbPath := cfg.GetDBPath()
	if *dbPathFlag != "" {
		dbPath = *dbPathFlag
	}
	httpAddr := cfg.GetHTTPListen()
	if *listen != "" {
		httpAddr = *listen
	}
	grpcAddr := cfg.GetGRPCListen()
	if *grpcListen != "" {
		grpcAddr = *grpcListen
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.NewDB(dbPath)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer database.Close()

	layout, err := loadLayout(ctx, cfg, database)
	if err != nil {
		log.Fatalf("failed to load field layout: %v", err)
	}
	log.Printf("field layout: %d tags, field %.2fx%.2f m", layout.Len(), layout.Field().Length, layout.Field().Width)

	source := cfg.GetSource()
	slot := camera.NewLatest(nil, cfg.GetMaxFrameAge())
	est := cfg.NewEstimator(layout, slot)

	run, err := database.StartRun(ctx, est.Strategy(), source.Kind, *note, time.Now())
	if err != nil {
		log.Fatalf("failed to start run: %v", err)
	}
	log.Printf("%s: run %s, strategy %s, source %s", version.String(), run.ID, est.Strategy(), source.Kind)

	streamCfg := posestream.DefaultConfig()
	streamCfg.ListenAddr = grpcAddr
	publisher := posestream.NewPublisher(streamCfg)
	if err := publisher.Start(); err != nil {
		log.Fatalf("failed to start estimate stream: %v", err)
	}
	defer publisher.Stop()

	loop := pipeline.New(est, pipeline.Config{
		Interval:  cfg.GetUpdateInterval(),
		Recorder:  database,
		RunID:     run.ID,
		Publisher: publisher,
	})

	mux := http.NewServeMux()
	var wg sync.WaitGroup

	switch source.Kind {
	case config.SourceSerial:
		serial, err := serialmux.NewRealSerialMux(source.SerialPort, source.SerialOptions)
		if err != nil {
			log.Fatalf("failed to open coprocessor serial port: %v", err)
		}
		defer serial.Close()
		if err := serial.Initialize(time.Now()); err != nil {
			log.Fatalf("failed to initialize coprocessor: %v", err)
		}
		serial.AttachAdminRoutes(mux)
		serialSource := camera.NewSerialSource(serial, slot)

		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := serial.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("serial monitor stopped: %v", err)
			}
			log.Print("serial monitor routine terminated")
		}()
		go func() {
			defer wg.Done()
			if err := serialSource.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("serial source stopped: %v", err)
			}
		}()

	case config.SourceUDP:
		udp := camera.NewUDPSource(source.UDPAddress, 0, slot)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := udp.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("udp source stopped: %v", err)
			}
		}()

	case config.SourcePCAP:
		wg.Add(1)
		go func() {
			defer wg.Done()
			stats, err := camera.ReplayPCAP(ctx, camera.ReplayConfig{
				Path:  source.PCAPFile,
				Port:  source.PCAPPort,
				Speed: source.PCAPSpeed,
			}, slot)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("pcap replay failed: %v", err)
				return
			}
			log.Printf("pcap replay finished: %d frames from %d packets", stats.Frames, stats.Packets)
		}()

	default:
		log.Print("no frame source configured; the estimator will idle")
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("control loop stopped: %v", err)
		}
	}()

	// HTTP debug server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		if err := database.AttachAdminRoutes(mux); err != nil {
			log.Printf("failed to attach database admin routes: %v", err)
		}
		mon := monitor.New(loop, database, layout)
		mon.AddExtra("camera", func() interface{} { return slot.Stats() })
		mon.AddExtra("stream", func() interface{} { return publisher.Stats() })
		mon.AddExtra("version", func() interface{} { return version.Get() })
		mon.AttachAdminRoutes(mux)

		server := &http.Server{
			Addr:    httpAddr,
			Handler: mux,
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()
		log.Printf("debug pages on http://%s/debug/", httpAddr)

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()

	snap := loop.Snapshot()
	if err := database.EndRun(context.Background(), run.ID, time.Now()); err != nil {
		log.Printf("failed to close run %s: %v", run.ID, err)
	}
	log.Printf("run %s: %d ticks, %d estimates, %d record errors", run.ID, snap.Ticks, snap.Estimates, snap.RecordErrors)
	log.Printf("Graceful shutdown complete")
}

// loadLayout reads the configured layout file and stores it as the active
// layout. Without a configured file it falls back to the stored one.
func loadLayout(ctx context.Context, cfg *config.EstimatorConfig, database *db.DB) (*fieldlayout.Layout, error) {
	path := cfg.GetFieldLayoutPath()
	if path == "" {
		layout, err := database.LoadLayout(ctx, activeLayout)
		if errors.Is(err, db.ErrLayoutNotFound) {
			return nil, fmt.Errorf("no field_layout_path configured and no stored layout")
		}
		return layout, err
	}
	layout, err := fieldlayout.Load(path)
	if err != nil {
		return nil, err
	}
	if err := database.SaveLayout(ctx, activeLayout, layout, time.Now()); err != nil {
		return nil, fmt.Errorf("failed to store layout: %w", err)
	}
	return layout, nil
}
