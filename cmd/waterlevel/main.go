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

	"github.com/banshee-data/waterlevel"
	"github.com/banshee-data/waterlevel/internal/api"
	"github.com/banshee-data/waterlevel/internal/calibration"
	"github.com/banshee-data/waterlevel/internal/camera"
	"github.com/banshee-data/waterlevel/internal/capture"
	"github.com/banshee-data/waterlevel/internal/config"
	"github.com/banshee-data/waterlevel/internal/db"
	"github.com/banshee-data/waterlevel/internal/framebuffer"
	"github.com/banshee-data/waterlevel/internal/measurement"
	"github.com/banshee-data/waterlevel/internal/recorder"
	"github.com/banshee-data/waterlevel/internal/stream"
	"github.com/banshee-data/waterlevel/internal/telemetry"
	"github.com/banshee-data/waterlevel/internal/version"
	"github.com/banshee-data/waterlevel/internal/vision"
)

var (
	devMode     = flag.Bool("dev", false, "Run with a synthetic camera instead of RTSP")
	listen      = flag.String("listen", ":5000", "Listen address")
	configFile  = flag.String("config", "", "Path to JSON config (default "+config.DefaultConfigPath+" if present)")
	dbFile      = flag.String("db", "waterlevel.db", "SQLite history database")
	envFile     = flag.String("env", ".env", "Optional .env file with camera and InfluxDB credentials")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	switch flag.Arg(0) {
	case "":
	case "migrate":
		if err := db.RunMigrateCommand(flag.Args()[1:], *dbFile, os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	case "dump-log":
		if err := dumpLog(flag.Args()[1:], os.Stdout); err != nil {
			log.Fatalf("dump-log: %v", err)
		}
		return
	default:
		usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	creds, err := config.LoadCredentials(*envFile)
	if err != nil {
		log.Fatalf("failed to load credentials: %v", err)
	}
	log.Printf("starting %s", version.String())

	curve, err := cfg.Curve()
	if err != nil {
		log.Fatalf("invalid calibration: %v", err)
	}
	detector, err := vision.NewDetector(cfg.DetectorConfig(), curve)
	if err != nil {
		log.Fatalf("invalid detector config: %v", err)
	}

	src, sourceName, err := openSource(cfg, creds, curve)
	if err != nil {
		log.Fatalf("failed to open video source: %v", err)
	}
	defer src.Close()
	log.Printf("video source: %s", sourceName)
	if err := checkWindow(cfg.DetectorConfig(), src); err != nil {
		log.Printf("warning: %v; adjust column_start/column_end or capture_width", err)
	}

	database, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cell := &measurement.Cell{}
	buf := framebuffer.New[*vision.Frame](cfg.GetBufferCapacity())
	defer buf.Drain()

	loopOpts := []capture.Option{capture.WithFrameSkip(cfg.GetFrameSkip())}
	if dir := cfg.GetDetectionLogDir(); dir != "" {
		rec, err := recorder.Create(dir)
		if err != nil {
			log.Fatalf("failed to create detection log: %v", err)
		}
		defer rec.Close()
		session := db.Session{ID: rec.Session(), StartedAt: time.Now(), Source: sourceName, LogPath: rec.Path()}
		if err := database.RecordSession(ctx, session); err != nil {
			log.Printf("failed to register session: %v", err)
		}
		log.Printf("detection log: %s", rec.Path())
		loopOpts = append(loopOpts, capture.WithObserver(rec.Observe))
	}
	loop := capture.New(src, detector, buf, cell, loopOpts...)

	publisher := stream.NewPublisher(buf,
		stream.WithQuality(cfg.GetJPEGQuality()),
		stream.WithPollInterval(cfg.GetPollInterval()),
	)

	sink, closeSinks, err := buildSinks(cfg, creds, database)
	if err != nil {
		log.Fatalf("failed to set up telemetry: %v", err)
	}
	defer closeSinks()
	emitter := telemetry.NewEmitter(cell, sink,
		telemetry.WithInterval(cfg.GetTelemetryInterval()),
		telemetry.WithStartDelay(cfg.GetTelemetryStartDelay()),
		telemetry.WithLocation(cfg.GetLocation()),
	)

	captureDone := workers{capture: loop, publisher: publisher, emitter: emitter}.start(ctx, &wg)
	go func() {
		if err := <-captureDone; err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("capture has stopped (%v); still serving the last level and buffered frames", err)
		}
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		apiServer := api.NewServer(api.Config{
			Cell:    cell,
			Curve:   curve,
			Video:   publisher,
			History: database,
			Static:  waterlevel.StaticFiles(),
		})
		apiServer.AddStats("capture", func() any { return loop.Stats() })
		apiServer.AddStats("buffer", func() any { return buf.Stats() })
		apiServer.AddStats("stream", func() any { return publisher.Stats() })
		apiServer.AddStats("telemetry", func() any { return emitter.Stats() })

		mux := apiServer.ServeMux()
		publisher.AttachAdminRoutes(mux)
		database.AttachAdminRoutes(mux)

		server := &http.Server{
			Addr:              *listen,
			Handler:           api.LoggingMiddleware(mux),
			ReadHeaderTimeout: 5 * time.Second,
		}
		server.RegisterOnShutdown(apiServer.Close)

		go func() {
			log.Printf("listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("failed to start server: %v", err)
				stop()
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		// End the MJPEG responses first; Shutdown waits for active handlers.
		publisher.Close()

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
	log.Printf("Graceful shutdown complete")
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage: %s [flags] [migrate <cmd> | dump-log <file>]\n\n", os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintln(out)
	db.PrintMigrateHelp(out)
}

// loadConfig reads path, or the default config file when path is empty.
// With neither present every setting takes its default.
func loadConfig(path string) (*config.AppConfig, error) {
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigPath); err != nil {
			return &config.AppConfig{}, nil
		}
		path = config.DefaultConfigPath
	}
	return config.LoadAppConfig(path)
}

// openSource opens the RTSP camera, or the synthetic sweep in dev mode.
func openSource(cfg *config.AppConfig, creds config.Credentials, curve *calibration.Curve) (camera.Source, string, error) {
	if *devMode {
		src, err := camera.NewSynthetic(syntheticOptions(cfg, curve))
		return src, "synthetic", err
	}

	url := cfg.GetVideoURL()
	if url == "" {
		url = creds.VideoURL()
	}
	if url == "" {
		return nil, "", errors.New("no video_url configured and CAMERA_IP is not set")
	}
	src, err := camera.OpenRTSP(url, camera.Options{Width: cfg.GetCaptureWidth(), Height: cfg.GetCaptureHeight()})
	if err != nil {
		return nil, "", err
	}
	return src, src.String(), nil
}

// checkWindow compares the detector window with the frame width the source
// reports, if it reports one.
func checkWindow(det vision.DetectorConfig, src camera.Source) error {
	sized, ok := src.(interface{ FrameWidth() int })
	if !ok {
		return nil
	}
	return det.CheckWidth(sized.FrameWidth())
}

// syntheticOptions sizes the synthetic frame so the detector window and the
// whole calibration band are visible, and sweeps the marker across the band.
func syntheticOptions(cfg *config.AppConfig, curve *calibration.Curve) camera.SyntheticOptions {
	det := cfg.DetectorConfig()
	top, bottom := curve.Band()
	return camera.SyntheticOptions{
		Options: camera.Options{
			Width:  max(cfg.GetCaptureWidth(), det.ColumnEnd+40),
			Height: max(cfg.GetCaptureHeight(), bottom+40),
		},
		ColumnStart: det.ColumnStart + 10,
		ColumnEnd:   det.ColumnEnd - 10,
		TopRow:      top,
		BottomRow:   bottom,
		Step:        2,
		FPS:         15,
	}
}

// buildSinks combines the history database with InfluxDB and ZMQ when they
// are configured. The returned func closes the network sinks.
func buildSinks(cfg *config.AppConfig, creds config.Credentials, database *db.DB) (telemetry.Sink, func(), error) {
	sinks := telemetry.MultiSink{database}
	var closers []func()

	if influxCfg, ok := creds.Influx(); ok {
		influx, err := telemetry.NewInfluxSink(influxCfg)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("telemetry: writing to InfluxDB bucket %s at %s", influxCfg.Bucket, influxCfg.URL)
		sinks = append(sinks, influx)
		closers = append(closers, influx.Close)
	}

	if endpoint := cfg.GetZMQEndpoint(); endpoint != "" {
		pub, err := telemetry.NewZMQSink(endpoint)
		if err != nil {
			for _, c := range closers {
				c()
			}
			return nil, nil, err
		}
		log.Printf("telemetry: publishing on %s", endpoint)
		sinks = append(sinks, pub)
		closers = append(closers, func() { _ = pub.Close() })
	}

	return sinks, func() {
		for _, c := range closers {
			c()
		}
	}, nil
}
