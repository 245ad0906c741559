package verify

import (
	"errors"
	"image"
	"math"
	"testing"
)

func rectScene(w, h int, x0, y0, x1, y1 int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			img.SetGray(x, y, white)
		}
	}
	return img
}

func TestAutoCalibrate_FindsRectangle(t *testing.T) {
	camera := rectScene(200, 200, 40, 50, 150, 130)
	v := New()
	corners, err := v.AutoCalibrate(camera)
	if err != nil {
		t.Fatalf("AutoCalibrate: %v", err)
	}
	if !v.Calibrated() {
		t.Fatalf("calibration not installed after success")
	}
	want := [4]Point{{40, 50}, {150, 50}, {150, 130}, {40, 130}}
	for i := range want {
		dx := math.Abs(corners[i].X - want[i].X)
		dy := math.Abs(corners[i].Y - want[i].Y)
		if dx > 5 || dy > 5 {
			t.Fatalf("corner %d = (%.1f,%.1f), want near (%.0f,%.0f)", i, corners[i].X, corners[i].Y, want[i].X, want[i].Y)
		}
	}
	got, ok := v.CalibrationPoints()
	if !ok || got != corners {
		t.Fatalf("CalibrationPoints out of sync")
	}
}

func TestAutoCalibrate_TiltedQuad(t *testing.T) {
	// a parallelogram: still four corners after hull + simplification
	img := image.NewGray(image.Rect(0, 0, 200, 200))
	for y := 40; y <= 150; y++ {
		shift := (y - 40) / 4
		for x := 30 + shift; x <= 130+shift; x++ {
			img.SetGray(x, y, white)
		}
	}
	v := New()
	corners, err := v.AutoCalibrate(img)
	if err != nil {
		t.Fatalf("AutoCalibrate: %v", err)
	}
	// top-left must sit near (30,40), bottom-right near (157,150)
	if math.Abs(corners[0].X-30) > 6 || math.Abs(corners[0].Y-40) > 6 {
		t.Fatalf("top-left = (%.1f,%.1f)", corners[0].X, corners[0].Y)
	}
	if math.Abs(corners[2].X-157) > 6 || math.Abs(corners[2].Y-150) > 6 {
		t.Fatalf("bottom-right = (%.1f,%.1f)", corners[2].X, corners[2].Y)
	}
}

func TestAutoCalibrate_BlankScene(t *testing.T) {
	v := New()
	if _, err := v.AutoCalibrate(image.NewGray(image.Rect(0, 0, 120, 120))); !errors.Is(err, ErrCalibrationFailed) {
		t.Fatalf("expected ErrCalibrationFailed, got %v", err)
	}
	if v.Calibrated() {
		t.Fatalf("failed calibration must not install a homography")
	}
}

func TestAutoCalibrate_TinyBlobIgnored(t *testing.T) {
	// a blob under the 2% area floor must not calibrate
	camera := rectScene(200, 200, 100, 100, 110, 105)
	v := New()
	if _, err := v.AutoCalibrate(camera); !errors.Is(err, ErrCalibrationFailed) {
		t.Fatalf("expected ErrCalibrationFailed for tiny blob, got %v", err)
	}
}

func TestOrderCorners(t *testing.T) {
	shuffled := []Point{{150, 130}, {40, 50}, {40, 130}, {150, 50}}
	got := orderCorners(shuffled)
	want := [4]Point{{40, 50}, {150, 50}, {150, 130}, {40, 130}}
	if got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestConvexHull_Rectangle(t *testing.T) {
	pts := []Point{}
	for x := 0; x <= 10; x++ {
		pts = append(pts, Point{float64(x), 0}, Point{float64(x), 5})
	}
	for y := 0; y <= 5; y++ {
		pts = append(pts, Point{0, float64(y)}, Point{10, float64(y)})
	}
	hull := convexHull(pts)
	if len(hull) != 4 {
		t.Fatalf("hull has %d vertices, want 4", len(hull))
	}
}

func TestOtsuThreshold_Bimodal(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 20, 20))
	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			if x >= 10 {
				img.SetGray(x, y, white)
			}
		}
	}
	cut := otsuThreshold(img)
	if cut > 254 || cut < 1 {
		t.Fatalf("otsu cut = %d, want a separator between the modes", cut)
	}
	bin := binarize(img, cut)
	if bin.GrayAt(0, 0).Y != 0 || bin.GrayAt(19, 0).Y == 0 {
		t.Fatalf("binarize did not split the modes")
	}
}
