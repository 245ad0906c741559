package verify

import (
	"errors"
	"image"
	"image/color"
	"math"
	"testing"
	"time"

	"github.com/mirrorlab/mirrorlink/internal/frame"
)

func TestHomography_MapsCorners(t *testing.T) {
	src := [4]Point{{100, 50}, {300, 60}, {310, 460}, {90, 450}}
	dst := [4]Point{{0, 0}, {31, 0}, {31, 63}, {0, 63}}
	h, err := computeHomography(src, dst)
	if err != nil {
		t.Fatalf("computeHomography: %v", err)
	}
	for i := range src {
		got := h.Apply(src[i])
		if math.Abs(got.X-dst[i].X) > 1e-6 || math.Abs(got.Y-dst[i].Y) > 1e-6 {
			t.Fatalf("corner %d: got (%.4f,%.4f), want (%.0f,%.0f)", i, got.X, got.Y, dst[i].X, dst[i].Y)
		}
		back := h.ApplyInverse(dst[i])
		if math.Abs(back.X-src[i].X) > 1e-6 || math.Abs(back.Y-src[i].Y) > 1e-6 {
			t.Fatalf("corner %d inverse: got (%.4f,%.4f)", i, back.X, back.Y)
		}
	}
}

func TestHomography_Degenerate(t *testing.T) {
	// three collinear points cannot pin down a projective transform
	src := [4]Point{{0, 0}, {10, 0}, {20, 0}, {0, 10}}
	dst := [4]Point{{0, 0}, {31, 0}, {31, 63}, {0, 63}}
	if _, err := computeHomography(src, dst); err == nil {
		t.Fatalf("expected error for collinear correspondences")
	}
}

// identityCalibrated returns a verifier whose camera space coincides
// with the 32x64 logical grid.
func identityCalibrated(t *testing.T) *Verifier {
	t.Helper()
	v := New()
	err := v.SetCalibration([4]Point{{0, 0}, {frame.Width - 1, 0}, {frame.Width - 1, frame.Height - 1}, {0, frame.Height - 1}})
	if err != nil {
		t.Fatalf("SetCalibration: %v", err)
	}
	return v
}

func cameraOf(f *frame.Frame) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, frame.Width, frame.Height))
	for y := 0; y < frame.Height; y++ {
		for x := 0; x < frame.Width; x++ {
			if f.At(x, y) > 128 {
				img.SetGray(x, y, white)
			}
		}
	}
	return img
}

func TestVerifyFrame_PerfectMatch(t *testing.T) {
	v := identityCalibrated(t)
	var expected frame.Frame
	expected.FillPanel(1, 255)
	expected.FillPanel(6, 255)

	m, err := v.VerifyFrame(cameraOf(&expected), &expected)
	if err != nil {
		t.Fatalf("VerifyFrame: %v", err)
	}
	if m.MismatchCount != 0 || m.BitErrorRate != 0 {
		t.Fatalf("mismatches=%d ber=%f on a perfect frame", m.MismatchCount, m.BitErrorRate)
	}
	want := expected.Threshold(128)
	if !m.Observed.Equal(&want) {
		t.Fatalf("observed frame does not match expected")
	}
}

func TestVerifyFrame_CountsMismatches(t *testing.T) {
	v := identityCalibrated(t)
	var expected frame.Frame
	expected.FillPanel(1, 255)
	camera := cameraOf(&expected)
	// knock out a 4-pixel block the firmware supposedly lit
	for i := 0; i < 4; i++ {
		camera.SetGray(i, 0, color.Gray{})
	}

	m, err := v.VerifyFrame(camera, &expected)
	if err != nil {
		t.Fatalf("VerifyFrame: %v", err)
	}
	if m.MismatchCount != 4 {
		t.Fatalf("mismatches = %d, want 4", m.MismatchCount)
	}
	want := 4.0 / float64(frame.Pixels)
	if math.Abs(m.BitErrorRate-want) > 1e-9 {
		t.Fatalf("ber = %f, want %f", m.BitErrorRate, want)
	}
}

func TestVerifyFrame_NotCalibrated(t *testing.T) {
	v := New()
	var f frame.Frame
	if _, err := v.VerifyFrame(cameraOf(&f), &f); !errors.Is(err, ErrNotCalibrated) {
		t.Fatalf("expected ErrNotCalibrated, got %v", err)
	}
	if v.Calibrated() {
		t.Fatalf("fresh verifier claims calibration")
	}
}

func TestFailsafeGate(t *testing.T) {
	g := NewFailsafeGate()
	now := time.Unix(1000, 0)
	g.now = func() time.Time { return now }

	if g.Observe(0.10) {
		t.Fatalf("tripped below threshold")
	}
	if !g.Observe(0.20) {
		t.Fatalf("did not trip above threshold")
	}
	if g.Observe(0.50) {
		t.Fatalf("tripped again inside the rate-limit window")
	}
	now = now.Add(11 * time.Second)
	if !g.Observe(0.20) {
		t.Fatalf("did not trip after the window elapsed")
	}
}

func TestFailsafeGate_ExactThresholdHolds(t *testing.T) {
	g := NewFailsafeGate()
	g.now = func() time.Time { return time.Unix(0, 0) }
	if g.Observe(0.15) {
		t.Fatalf("threshold is exclusive; 0.15 must not trip")
	}
}
