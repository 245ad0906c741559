package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/mirrorlab/mirrorlink/internal/logging"
	"github.com/mirrorlab/mirrorlink/internal/panelmap"
)

func discardLogger() *slog.Logger {
	return logging.New("text", slog.LevelError, io.Discard)
}

func writeCalibration(t *testing.T, pm panelmap.PanelMap) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "panel_calibration.json")
	if err := panelmap.SaveCalibration(path, &panelmap.Calibration{Mapping: pm}); err != nil {
		t.Fatalf("save calibration: %v", err)
	}
	return path
}

func TestInitMapper_CalibrationFileSelectsTopology(t *testing.T) {
	cfg := baseConfig()
	cfg.topology = "column-serpentine"
	cfg.calibrationFile = writeCalibration(t, panelmap.PanelMap{1: 2, 2: 1, 3: 3, 4: 4, 5: 5, 6: 6, 7: 7, 8: 8})
	m, err := initMapper(cfg, discardLogger())
	if err != nil {
		t.Fatalf("initMapper: %v", err)
	}
	if m.Topology() != panelmap.AutoCalibrated {
		t.Fatalf("topology = %s, want auto-calibrated", m.Topology())
	}
	if m.Incomplete() {
		t.Fatalf("complete table reported incomplete")
	}
}

func TestInitMapper_MissingFileKeepsConfiguredTopology(t *testing.T) {
	cfg := baseConfig()
	cfg.topology = "column-split"
	cfg.calibrationFile = filepath.Join(t.TempDir(), "absent.json")
	m, err := initMapper(cfg, discardLogger())
	if err != nil {
		t.Fatalf("initMapper: %v", err)
	}
	if m.Topology() != panelmap.ColumnSplit {
		t.Fatalf("topology = %s, want column-split", m.Topology())
	}
}

func TestInitMapper_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "panel_calibration.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	cfg := baseConfig()
	cfg.topology = "auto-calibrated"
	cfg.calibrationFile = path
	if _, err := initMapper(cfg, discardLogger()); err == nil {
		t.Fatalf("corrupt table accepted for auto-calibrated topology")
	}

	// with a wired topology the table is advisory only
	cfg = baseConfig()
	cfg.topology = "raw"
	cfg.calibrationFile = path
	m, err := initMapper(cfg, discardLogger())
	if err != nil {
		t.Fatalf("corrupt table fatal for wired topology: %v", err)
	}
	if m.Topology() != panelmap.Raw {
		t.Fatalf("topology = %s, want raw", m.Topology())
	}
}
