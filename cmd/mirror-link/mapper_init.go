package main

import (
	"fmt"
	"log/slog"

	"github.com/mirrorlab/mirrorlink/internal/metrics"
	"github.com/mirrorlab/mirrorlink/internal/panelmap"
)

// initMapper builds the logical-to-physical transform. The calibration
// file is always probed: a valid table upgrades the configured topology
// to auto-calibrated. With the auto-calibrated topology requested
// explicitly, a missing file is tolerated (the transform falls back to
// identity until recalibrated) but a corrupt one is not.
func initMapper(cfg *appConfig, l *slog.Logger) (*panelmap.Mapper, error) {
	topo, _ := panelmap.ParseTopology(cfg.topology) // validated in config
	opts := []panelmap.Option{panelmap.WithFlips(cfg.flipX, cfg.flipY)}

	cal, err := panelmap.LoadCalibration(cfg.calibrationFile)
	switch {
	case err != nil && topo == panelmap.AutoCalibrated:
		metrics.IncError(metrics.ErrMappingLoad)
		return nil, fmt.Errorf("load calibration: %w", err)
	case err != nil:
		// a broken table must not take down a wired topology
		metrics.IncError(metrics.ErrMappingLoad)
		l.Warn("calibration_unreadable", "file", cfg.calibrationFile, "error", err)
	case cal != nil:
		if topo != panelmap.AutoCalibrated {
			l.Info("calibration_found", "file", cfg.calibrationFile, "configured_topology", topo.String())
			topo = panelmap.AutoCalibrated
		}
		if err := cal.Mapping.Validate(); err != nil {
			l.Warn("calibration_incomplete", "file", cfg.calibrationFile, "error", err)
		}
		opts = append(opts, panelmap.WithPanelMap(cal.Mapping))
	case topo == panelmap.AutoCalibrated:
		l.Warn("calibration_missing", "file", cfg.calibrationFile)
	}

	m := panelmap.New(topo, opts...)
	l.Info("panel_topology", "topology", topo.String(), "flip_x", cfg.flipX, "flip_y", cfg.flipY, "incomplete", m.Incomplete())
	return m, nil
}
