package verify

import (
	"image"
	"math"
	"sort"

	"github.com/mirrorlab/mirrorlink/internal/metrics"
)

// Corner-detection pipeline: fuse the discrete LEDs into one solid
// blob, then walk a ladder of thresholds until some blob's convex
// hull reduces to a quadrilateral.

const (
	blurKernel      = 11
	closeKernel     = 5
	closeIterations = 2
	minAreaFrac     = 0.02
	maxAreaFrac     = 0.90
	epsilonModerate = 0.02
	epsilonAggro    = 0.06
)

// fixedThresholds tried after Otsu, brightest first.
var fixedThresholds = []uint8{150, 100, 60, 30}

// AutoCalibrate tries to locate the LED wall's four corners in a
// grayscale camera frame and, on success, installs the resulting
// homography. It returns ErrCalibrationFailed when no threshold
// yields a usable quadrilateral; the caller then falls back to manual
// calibration.
func (v *Verifier) AutoCalibrate(camera *image.Gray) ([4]Point, error) {
	metrics.IncCalibrationAttempt()
	blurred := gaussianBlur(camera, blurKernel)

	b := camera.Bounds()
	frameArea := float64(b.Dx() * b.Dy())

	cuts := append([]uint8{otsuThreshold(blurred)}, fixedThresholds...)
	for _, cut := range cuts {
		bin := closeMorph(binarize(blurred, cut), closeKernel, closeIterations)
		for _, comp := range componentsByArea(bin, frameArea*minAreaFrac, frameArea*maxAreaFrac) {
			hull := convexHull(comp.edge)
			if len(hull) < 4 {
				continue
			}
			for _, eps := range []float64{epsilonModerate, epsilonAggro} {
				quad := approxPolygon(hull, eps*perimeter(hull))
				if len(quad) != 4 {
					continue
				}
				corners := orderCorners(quad)
				if err := v.SetCalibration(corners); err != nil {
					continue // degenerate quad; try the next candidate
				}
				return corners, nil
			}
		}
	}
	metrics.IncCalibrationFailure()
	return [4]Point{}, ErrCalibrationFailed
}

type component struct {
	area int
	edge []Point // per-row leftmost/rightmost pixels, enough for the hull
}

// componentsByArea labels lit regions (8-connectivity) and returns
// those inside the area window, largest first.
func componentsByArea(bin *image.Gray, minArea, maxArea float64) []component {
	b := bin.Bounds()
	w, h := b.Dx(), b.Dy()
	seen := make([]bool, w*h)
	at := func(x, y int) bool { return bin.GrayAt(b.Min.X+x, b.Min.Y+y).Y > 0 }

	var out []component
	var stack []image.Point
	for sy := 0; sy < h; sy++ {
		for sx := 0; sx < w; sx++ {
			if seen[sy*w+sx] || !at(sx, sy) {
				continue
			}
			// flood fill, tracking row extents
			minX := make(map[int]int)
			maxX := make(map[int]int)
			area := 0
			stack = append(stack[:0], image.Point{X: sx, Y: sy})
			seen[sy*w+sx] = true
			for len(stack) > 0 {
				p := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				area++
				if v, ok := minX[p.Y]; !ok || p.X < v {
					minX[p.Y] = p.X
				}
				if v, ok := maxX[p.Y]; !ok || p.X > v {
					maxX[p.Y] = p.X
				}
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						nx, ny := p.X+dx, p.Y+dy
						if nx < 0 || nx >= w || ny < 0 || ny >= h || seen[ny*w+nx] || !at(nx, ny) {
							continue
						}
						seen[ny*w+nx] = true
						stack = append(stack, image.Point{X: nx, Y: ny})
					}
				}
			}
			if float64(area) <= minArea || float64(area) >= maxArea {
				continue
			}
			comp := component{area: area}
			for y, x0 := range minX {
				comp.edge = append(comp.edge, Point{X: float64(x0), Y: float64(y)})
				if x1 := maxX[y]; x1 != x0 {
					comp.edge = append(comp.edge, Point{X: float64(x1), Y: float64(y)})
				}
			}
			out = append(out, comp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].area > out[j].area })
	return out
}

// convexHull returns the hull in counterclockwise order (Andrew's
// monotone chain).
func convexHull(pts []Point) []Point {
	if len(pts) < 3 {
		return append([]Point(nil), pts...)
	}
	sorted := append([]Point(nil), pts...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].X != sorted[j].X {
			return sorted[i].X < sorted[j].X
		}
		return sorted[i].Y < sorted[j].Y
	})
	cross := func(o, a, b Point) float64 {
		return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
	}
	var lower, upper []Point
	for _, p := range sorted {
		for len(lower) >= 2 && cross(lower[len(lower)-2], lower[len(lower)-1], p) <= 0 {
			lower = lower[:len(lower)-1]
		}
		lower = append(lower, p)
	}
	for i := len(sorted) - 1; i >= 0; i-- {
		p := sorted[i]
		for len(upper) >= 2 && cross(upper[len(upper)-2], upper[len(upper)-1], p) <= 0 {
			upper = upper[:len(upper)-1]
		}
		upper = append(upper, p)
	}
	return append(lower[:len(lower)-1], upper[:len(upper)-1]...)
}

func perimeter(poly []Point) float64 {
	var sum float64
	for i := range poly {
		sum += dist(poly[i], poly[(i+1)%len(poly)])
	}
	return sum
}

func dist(a, b Point) float64 { return math.Hypot(a.X-b.X, a.Y-b.Y) }

// approxPolygon reduces a closed polygon with Douglas-Peucker. The
// two mutually farthest vertices anchor the split into two open
// chains.
func approxPolygon(poly []Point, epsilon float64) []Point {
	n := len(poly)
	if n < 3 {
		return append([]Point(nil), poly...)
	}
	ai, bi := 0, 1
	best := 0.0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if d := dist(poly[i], poly[j]); d > best {
				best, ai, bi = d, i, j
			}
		}
	}
	chainA := make([]Point, 0, n)
	for i := ai; ; i = (i + 1) % n {
		chainA = append(chainA, poly[i])
		if i == bi {
			break
		}
	}
	chainB := make([]Point, 0, n)
	for i := bi; ; i = (i + 1) % n {
		chainB = append(chainB, poly[i])
		if i == ai {
			break
		}
	}
	simpA := douglasPeucker(chainA, epsilon)
	simpB := douglasPeucker(chainB, epsilon)
	// chain endpoints coincide; skip the duplicates when joining
	out := append([]Point(nil), simpA...)
	if len(simpB) > 2 {
		out = append(out, simpB[1:len(simpB)-1]...)
	}
	return out
}

func douglasPeucker(chain []Point, epsilon float64) []Point {
	if len(chain) < 3 {
		return append([]Point(nil), chain...)
	}
	a, b := chain[0], chain[len(chain)-1]
	maxD, maxI := 0.0, 0
	for i := 1; i < len(chain)-1; i++ {
		if d := pointLineDist(chain[i], a, b); d > maxD {
			maxD, maxI = d, i
		}
	}
	if maxD <= epsilon {
		return []Point{a, b}
	}
	left := douglasPeucker(chain[:maxI+1], epsilon)
	right := douglasPeucker(chain[maxI:], epsilon)
	return append(left[:len(left)-1], right...)
}

func pointLineDist(p, a, b Point) float64 {
	dx, dy := b.X-a.X, b.Y-a.Y
	l := math.Hypot(dx, dy)
	if l == 0 {
		return dist(p, a)
	}
	return math.Abs(dy*p.X-dx*p.Y+b.X*a.Y-b.Y*a.X) / l
}

// orderCorners sorts 4 points into {top-left, top-right, bottom-right,
// bottom-left}: the sums x+y peak at bottom-right and bottom out at
// top-left, the differences y-x distinguish the other two.
func orderCorners(pts []Point) [4]Point {
	var out [4]Point
	minSum, maxSum := math.Inf(1), math.Inf(-1)
	minDiff, maxDiff := math.Inf(1), math.Inf(-1)
	for _, p := range pts {
		sum, diff := p.X+p.Y, p.Y-p.X
		if sum < minSum {
			minSum = sum
			out[0] = p // top-left
		}
		if sum > maxSum {
			maxSum = sum
			out[2] = p // bottom-right
		}
		if diff < minDiff {
			minDiff = diff
			out[1] = p // top-right
		}
		if diff > maxDiff {
			maxDiff = diff
			out[3] = p // bottom-left
		}
	}
	return out
}
