package panelmap

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/mirrorlab/mirrorlink/internal/frame"
)

// PanelMap assigns each logical panel (1..8) its physical slot (1..8).
type PanelMap map[int]int

// ErrIncompleteMapping marks a calibration table that does not cover
// every panel as a total bijection. The mapper still accepts such a
// table; absent entries render at their identity slot.
var ErrIncompleteMapping = errors.New("panelmap: mapping is not a complete bijection")

// Validate returns nil when the map is a total bijection over 1..8,
// or ErrIncompleteMapping describing the first defect found.
func (pm PanelMap) Validate() error {
	if len(pm) != frame.Panels {
		return fmt.Errorf("%w: %d of %d panels mapped", ErrIncompleteMapping, len(pm), frame.Panels)
	}
	seen := make(map[int]int, frame.Panels)
	for logical, physical := range pm {
		if logical < 1 || logical > frame.Panels {
			return fmt.Errorf("%w: logical panel %d out of range", ErrIncompleteMapping, logical)
		}
		if physical < 1 || physical > frame.Panels {
			return fmt.Errorf("%w: physical slot %d out of range", ErrIncompleteMapping, physical)
		}
		if prev, dup := seen[physical]; dup {
			return fmt.Errorf("%w: panels %d and %d both map to slot %d", ErrIncompleteMapping, prev, logical, physical)
		}
		seen[physical] = logical
	}
	return nil
}

// Calibration is the persisted result of the panel-detection run: the
// mapping table plus a confidence score per logical panel.
type Calibration struct {
	Mapping    PanelMap
	Confidence map[int]float64
}

// calibrationFile mirrors the on-disk JSON layout (string keys, as
// written by the detection tooling).
type calibrationFile struct {
	Mapping    map[string]int     `json:"mapping"`
	Confidence map[string]float64 `json:"confidence,omitempty"`
}

// LoadCalibration reads a persisted calibration table. A missing file
// is not an error: it returns (nil, nil) so the caller can fall back
// to a wired topology.
func LoadCalibration(path string) (*Calibration, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read calibration: %w", err)
	}
	var file calibrationFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse calibration: %w", err)
	}
	if len(file.Mapping) == 0 {
		return nil, fmt.Errorf("parse calibration: no mapping table in %s", path)
	}
	cal := &Calibration{Mapping: make(PanelMap, len(file.Mapping))}
	for k, v := range file.Mapping {
		var logical int
		if _, err := fmt.Sscanf(k, "%d", &logical); err != nil {
			return nil, fmt.Errorf("parse calibration: bad panel key %q", k)
		}
		cal.Mapping[logical] = v
	}
	if len(file.Confidence) > 0 {
		cal.Confidence = make(map[int]float64, len(file.Confidence))
		for k, v := range file.Confidence {
			var logical int
			if _, err := fmt.Sscanf(k, "%d", &logical); err != nil {
				continue
			}
			cal.Confidence[logical] = v
		}
	}
	return cal, nil
}

// SaveCalibration persists a calibration table in the same layout
// LoadCalibration reads.
func SaveCalibration(path string, cal *Calibration) error {
	file := calibrationFile{Mapping: make(map[string]int, len(cal.Mapping))}
	for k, v := range cal.Mapping {
		file.Mapping[fmt.Sprintf("%d", k)] = v
	}
	if len(cal.Confidence) > 0 {
		file.Confidence = make(map[string]float64, len(cal.Confidence))
		for k, v := range cal.Confidence {
			file.Confidence[fmt.Sprintf("%d", k)] = v
		}
	}
	raw, err := json.MarshalIndent(&file, "", "  ")
	if err != nil {
		return fmt.Errorf("encode calibration: %w", err)
	}
	return os.WriteFile(path, raw, 0o644)
}
