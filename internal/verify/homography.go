package verify

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Point is an image-space coordinate.
type Point struct {
	X, Y float64
}

// Homography is a 3x3 projective transform mapping camera coordinates
// to the canonical 32x64 rectangle, with its inverse precomputed for
// warping.
type Homography struct {
	fwd *mat.Dense // camera -> canonical
	inv *mat.Dense // canonical -> camera
}

// computeHomography solves the direct linear transform for the 3x3
// matrix H (h33 fixed to 1) mapping src[i] to dst[i]. Degenerate
// correspondences (three collinear points) make the system singular
// and return an error.
func computeHomography(src, dst [4]Point) (*Homography, error) {
	a := mat.NewDense(8, 8, nil)
	b := mat.NewVecDense(8, nil)
	for i := 0; i < 4; i++ {
		x, y := src[i].X, src[i].Y
		u, v := dst[i].X, dst[i].Y
		a.SetRow(2*i, []float64{x, y, 1, 0, 0, 0, -u * x, -u * y})
		a.SetRow(2*i+1, []float64{0, 0, 0, x, y, 1, -v * x, -v * y})
		b.SetVec(2*i, u)
		b.SetVec(2*i+1, v)
	}
	var h mat.VecDense
	if err := h.SolveVec(a, b); err != nil {
		return nil, fmt.Errorf("solve homography: %w", err)
	}
	fwd := mat.NewDense(3, 3, []float64{
		h.AtVec(0), h.AtVec(1), h.AtVec(2),
		h.AtVec(3), h.AtVec(4), h.AtVec(5),
		h.AtVec(6), h.AtVec(7), 1,
	})
	var inv mat.Dense
	if err := inv.Inverse(fwd); err != nil {
		return nil, fmt.Errorf("invert homography: %w", err)
	}
	return &Homography{fwd: fwd, inv: &inv}, nil
}

func project(m *mat.Dense, p Point) Point {
	w := m.At(2, 0)*p.X + m.At(2, 1)*p.Y + m.At(2, 2)
	if w == 0 {
		return Point{}
	}
	return Point{
		X: (m.At(0, 0)*p.X + m.At(0, 1)*p.Y + m.At(0, 2)) / w,
		Y: (m.At(1, 0)*p.X + m.At(1, 1)*p.Y + m.At(1, 2)) / w,
	}
}

// Apply maps a camera point into canonical space.
func (h *Homography) Apply(p Point) Point { return project(h.fwd, p) }

// ApplyInverse maps a canonical point back into camera space; warping
// samples the camera image through this direction.
func (h *Homography) ApplyInverse(p Point) Point { return project(h.inv, p) }
