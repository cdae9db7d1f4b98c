package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/waterlevel/internal/calibration"
	"github.com/banshee-data/waterlevel/internal/camera"
	"github.com/banshee-data/waterlevel/internal/config"
	"github.com/banshee-data/waterlevel/internal/db"
	"github.com/banshee-data/waterlevel/internal/recorder"
	"github.com/banshee-data/waterlevel/internal/telemetry"
	"github.com/banshee-data/waterlevel/internal/vision"
)

func TestFlagDefaults(t *testing.T) {
	if *listen != ":5000" {
		t.Errorf("listen default = %q, want :5000", *listen)
	}
	if *devMode {
		t.Error("dev mode should default to false")
	}
	if *dbFile != "waterlevel.db" {
		t.Errorf("db default = %q", *dbFile)
	}
}

func TestLoadConfig_DefaultsWhenNoFile(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.GetLocation() != "camera_1" {
		t.Errorf("location = %q, want default", cfg.GetLocation())
	}
}

func TestLoadConfig_DefaultPath(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.MkdirAll(filepath.Join(dir, "config"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(config.DefaultConfigPath, []byte(`{"location": "weir"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.GetLocation() != "weir" {
		t.Errorf("location = %q, want weir", cfg.GetLocation())
	}
}

func TestSyntheticOptions_CoverWindowAndBand(t *testing.T) {
	cfg := &config.AppConfig{}
	curve, err := cfg.Curve()
	if err != nil {
		t.Fatal(err)
	}

	opts := syntheticOptions(cfg, curve)
	det := cfg.DetectorConfig()
	top, bottom := curve.Band()

	if opts.Width <= det.ColumnEnd {
		t.Errorf("width %d does not contain window end %d", opts.Width, det.ColumnEnd)
	}
	if opts.Height <= bottom+12 {
		t.Errorf("height %d does not fit the marker at row %d", opts.Height, bottom)
	}
	if opts.ColumnStart <= det.ColumnStart || opts.ColumnEnd >= det.ColumnEnd {
		t.Errorf("marker columns [%d, %d) not inside window [%d, %d)", opts.ColumnStart, opts.ColumnEnd, det.ColumnStart, det.ColumnEnd)
	}
	if opts.TopRow != top || opts.BottomRow != bottom {
		t.Errorf("sweep [%d, %d], want band [%d, %d]", opts.TopRow, opts.BottomRow, top, bottom)
	}
}

func TestCheckWindow(t *testing.T) {
	det := (&config.AppConfig{}).DetectorConfig()

	narrow, err := camera.NewSynthetic(camera.SyntheticOptions{Options: camera.Options{Width: 720, Height: 480}})
	if err != nil {
		t.Fatal(err)
	}
	defer narrow.Close()
	if err := checkWindow(det, narrow); err == nil {
		t.Errorf("checkWindow(%d..%d, 720px) = nil, want a warning", det.ColumnStart, det.ColumnEnd)
	}

	cfg := &config.AppConfig{}
	curve, err := cfg.Curve()
	if err != nil {
		t.Fatal(err)
	}
	wide, err := camera.NewSynthetic(syntheticOptions(cfg, curve))
	if err != nil {
		t.Fatal(err)
	}
	defer wide.Close()
	if err := checkWindow(det, wide); err != nil {
		t.Errorf("checkWindow on the dev source = %v, want nil", err)
	}
}

func TestBuildSinks_DatabaseOnly(t *testing.T) {
	database, err := db.NewDB(filepath.Join(t.TempDir(), "levels.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer database.Close()

	sink, closeSinks, err := buildSinks(&config.AppConfig{}, config.Credentials{}, database)
	if err != nil {
		t.Fatalf("buildSinks: %v", err)
	}
	defer closeSinks()

	at := time.Unix(1700000000, 0)
	if err := sink.WritePoint(context.Background(), telemetry.LevelPoint("camera_1", 1.45, at)); err != nil {
		t.Fatalf("WritePoint: %v", err)
	}
	recs, err := database.Levels(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Level != 1.45 {
		t.Errorf("stored levels = %+v", recs)
	}
}

func TestDumpLog(t *testing.T) {
	w, err := recorder.Create(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	at := time.Unix(1700000000, 0).UTC()
	w.Observe(1, vision.Result{}, at)
	w.Observe(2, vision.Result{Found: true, Row: 1062, HasLevel: true, Level: 1.4514}, at.Add(time.Second))
	w.Observe(3, vision.Result{Found: true, Row: 1090}, at.Add(2*time.Second))
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := dumpLog([]string{w.Path()}, &out); err != nil {
		t.Fatalf("dumpLog: %v", err)
	}
	text := out.String()
	for _, want := range []string{"SEQ", "1062", "1.45m", "1090", "3 frames, 2 detected, 1 measured", w.Session()} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
}

func TestDumpLog_Usage(t *testing.T) {
	if err := dumpLog(nil, &bytes.Buffer{}); err == nil {
		t.Error("expected a usage error without a file")
	}
}

// The default table must still produce the reference reading once the
// default offset is applied.
func TestDefaultCalibrationReading(t *testing.T) {
	curve, err := (&config.AppConfig{}).Curve()
	if err != nil {
		t.Fatal(err)
	}
	level, ok := curve.Interpolate(1062 + calibration.DefaultOffset)
	if !ok || level < 1.44 || level > 1.46 {
		t.Errorf("Interpolate = (%v, %v), want about 1.45", level, ok)
	}
}
