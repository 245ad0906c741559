package verify

import (
	"image"
	"image/color"
	"math"
)

// Small grayscale kernels, enough for the calibration pipeline. The
// pack carries no imaging dependency, so these mirror the handful of
// OpenCV calls the detection procedure needs on image.Gray directly.

// gaussianBlur applies a separable Gaussian of the given odd kernel
// size with the conventional sigma for that size, clamping at edges.
func gaussianBlur(src *image.Gray, ksize int) *image.Gray {
	if ksize < 3 {
		ksize = 3
	}
	if ksize%2 == 0 {
		ksize++
	}
	sigma := 0.3*(float64(ksize-1)*0.5-1) + 0.8
	half := ksize / 2
	kernel := make([]float64, ksize)
	var sum float64
	for i := range kernel {
		d := float64(i - half)
		kernel[i] = math.Exp(-d * d / (2 * sigma * sigma))
		sum += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= sum
	}

	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	clamp := func(v, hi int) int {
		if v < 0 {
			return 0
		}
		if v >= hi {
			return hi - 1
		}
		return v
	}

	tmp := image.NewGray(b)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc float64
			for k := -half; k <= half; k++ {
				acc += kernel[k+half] * float64(src.GrayAt(b.Min.X+clamp(x+k, w), b.Min.Y+y).Y)
			}
			tmp.SetGray(b.Min.X+x, b.Min.Y+y, grayOf(acc))
		}
	}
	dst := image.NewGray(b)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc float64
			for k := -half; k <= half; k++ {
				acc += kernel[k+half] * float64(tmp.GrayAt(b.Min.X+x, b.Min.Y+clamp(y+k, h)).Y)
			}
			dst.SetGray(b.Min.X+x, b.Min.Y+y, grayOf(acc))
		}
	}
	return dst
}

// otsuThreshold picks the cutoff maximizing between-class variance.
func otsuThreshold(src *image.Gray) uint8 {
	var hist [256]int
	total := 0
	b := src.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			hist[src.GrayAt(x, y).Y]++
			total++
		}
	}
	var sumAll float64
	for v, n := range hist {
		sumAll += float64(v) * float64(n)
	}
	var sumBg, wBg float64
	best, bestVar := uint8(0), -1.0
	for t := 0; t < 256; t++ {
		wBg += float64(hist[t])
		if wBg == 0 {
			continue
		}
		wFg := float64(total) - wBg
		if wFg == 0 {
			break
		}
		sumBg += float64(t) * float64(hist[t])
		mBg := sumBg / wBg
		mFg := (sumAll - sumBg) / wFg
		v := wBg * wFg * (mBg - mFg) * (mBg - mFg)
		if v > bestVar {
			bestVar = v
			best = uint8(t)
		}
	}
	return best
}

// binarize lights every pixel strictly above cut.
func binarize(src *image.Gray, cut uint8) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if src.GrayAt(x, y).Y > cut {
				dst.SetGray(x, y, white)
			}
		}
	}
	return dst
}

// closeMorph runs the given number of dilate-then-erode iterations
// with a square kernel, fusing nearby lit regions.
func closeMorph(src *image.Gray, ksize, iterations int) *image.Gray {
	out := src
	for i := 0; i < iterations; i++ {
		out = dilate(out, ksize)
	}
	for i := 0; i < iterations; i++ {
		out = erode(out, ksize)
	}
	return out
}

// dilate: a pixel lights up when any neighbor in the square window is lit.
func dilate(src *image.Gray, ksize int) *image.Gray {
	half := ksize / 2
	b := src.Bounds()
	dst := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			lit := false
			for dy := -half; dy <= half && !lit; dy++ {
				for dx := -half; dx <= half && !lit; dx++ {
					nx, ny := x+dx, y+dy
					if nx >= b.Min.X && nx < b.Max.X && ny >= b.Min.Y && ny < b.Max.Y && src.GrayAt(nx, ny).Y > 0 {
						lit = true
					}
				}
			}
			if lit {
				dst.SetGray(x, y, white)
			}
		}
	}
	return dst
}

// erode: a pixel survives only when the whole square window is lit;
// pixels beyond the border count as dark.
func erode(src *image.Gray, ksize int) *image.Gray {
	half := ksize / 2
	b := src.Bounds()
	dst := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			all := true
			for dy := -half; dy <= half && all; dy++ {
				for dx := -half; dx <= half && all; dx++ {
					nx, ny := x+dx, y+dy
					if nx < b.Min.X || nx >= b.Max.X || ny < b.Min.Y || ny >= b.Max.Y || src.GrayAt(nx, ny).Y == 0 {
						all = false
					}
				}
			}
			if all {
				dst.SetGray(x, y, white)
			}
		}
	}
	return dst
}

var white = color.Gray{Y: 255}

func grayOf(v float64) color.Gray {
	if v < 0 {
		v = 0
	}
	if v > 255 {
		v = 255
	}
	return color.Gray{Y: uint8(v + 0.5)}
}
