// Package verify closes the loop between what the host sent and what
// a camera actually sees on the LED wall. A one-time calibration maps
// the wall's corners in camera space to the 32x64 logical frame; each
// verification inverse-warps the camera image back onto the logical
// grid and counts per-LED mismatches.
package verify

import (
	"errors"
	"image"
	"sync"
	"time"

	"github.com/mirrorlab/mirrorlink/internal/frame"
	"github.com/mirrorlab/mirrorlink/internal/metrics"
)

var (
	ErrNotCalibrated     = errors.New("verify: not calibrated")
	ErrCalibrationFailed = errors.New("verify: no LED panel found in camera frame")
)

const (
	observedCut = 50  // camera pixel counts as lit above this
	expectedCut = 128 // frame pixel counts as lit above this
)

// Metrics describes one frame comparison.
type Metrics struct {
	BitErrorRate  float64
	MismatchCount int
	Observed      frame.Frame
}

// Verifier compares camera frames against the frames the link sent.
// Safe for concurrent use.
type Verifier struct {
	mu     sync.Mutex
	points [4]Point
	homog  *Homography
}

func New() *Verifier { return &Verifier{} }

// SetCalibration installs the wall's corner positions in camera
// coordinates, ordered top-left, top-right, bottom-right, bottom-left.
func (v *Verifier) SetCalibration(corners [4]Point) error {
	dst := [4]Point{
		{X: 0, Y: 0},
		{X: frame.Width - 1, Y: 0},
		{X: frame.Width - 1, Y: frame.Height - 1},
		{X: 0, Y: frame.Height - 1},
	}
	h, err := computeHomography(corners, dst)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.points = corners
	v.homog = h
	v.mu.Unlock()
	return nil
}

// Calibrated reports whether a homography is installed.
func (v *Verifier) Calibrated() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.homog != nil
}

// CalibrationPoints returns the corners passed to SetCalibration.
func (v *Verifier) CalibrationPoints() ([4]Point, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.points, v.homog != nil
}

// VerifyFrame samples the camera image at every logical LED position
// and compares against expected. The camera frame is read through the
// inverse homography so perspective distortion cancels out.
func (v *Verifier) VerifyFrame(camera *image.Gray, expected *frame.Frame) (Metrics, error) {
	v.mu.Lock()
	h := v.homog
	v.mu.Unlock()
	if h == nil {
		return Metrics{}, ErrNotCalibrated
	}

	b := camera.Bounds()
	var m Metrics
	for y := 0; y < frame.Height; y++ {
		for x := 0; x < frame.Width; x++ {
			cam := h.ApplyInverse(Point{X: float64(x), Y: float64(y)})
			cx, cy := int(cam.X+0.5)+b.Min.X, int(cam.Y+0.5)+b.Min.Y
			observed := false
			if cx >= b.Min.X && cx < b.Max.X && cy >= b.Min.Y && cy < b.Max.Y {
				observed = camera.GrayAt(cx, cy).Y > observedCut
			}
			if observed {
				m.Observed.Set(x, y, 255)
			}
			if observed != (expected.At(x, y) > expectedCut) {
				m.MismatchCount++
			}
		}
	}
	m.BitErrorRate = float64(m.MismatchCount) / float64(frame.Pixels)
	metrics.SetVerifyBER(m.BitErrorRate)
	return m, nil
}

// FailsafeGate trips when the bit error rate stays above Threshold,
// rate limited so one bad stretch triggers a single blackout rather
// than a storm of them.
type FailsafeGate struct {
	Threshold   float64
	MinInterval time.Duration

	mu       sync.Mutex
	lastTrip time.Time
	now      func() time.Time
}

func NewFailsafeGate() *FailsafeGate {
	return &FailsafeGate{Threshold: 0.15, MinInterval: 10 * time.Second, now: time.Now}
}

// Observe feeds one measured bit error rate and reports whether the
// caller should blank the wall now.
func (g *FailsafeGate) Observe(ber float64) bool {
	if ber <= g.Threshold {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	if !g.lastTrip.IsZero() && now.Sub(g.lastTrip) < g.MinInterval {
		return false
	}
	g.lastTrip = now
	metrics.IncFailsafeTrip()
	return true
}
