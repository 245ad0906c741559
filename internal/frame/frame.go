package frame

// Display geometry. Eight 16x16 panels tile a 32-wide, 64-tall grid;
// two hardware output lines drive 1024 LEDs each.
const (
	Width       = 32
	Height      = 64
	Pixels      = Width * Height // 2048
	PanelSize   = 16
	PanelCols   = 2
	PanelRows   = 4
	Panels      = PanelCols * PanelRows
	LEDsPerLine = Pixels / 2
)

// Frame is a 32x64 grid of 8-bit brightness values in row-major order.
// It is a plain value type; copying copies the pixels.
type Frame struct {
	Pix [Pixels]uint8
}

// At returns the brightness at column x, row y.
func (f *Frame) At(x, y int) uint8 { return f.Pix[y*Width+x] }

// Set writes the brightness at column x, row y.
func (f *Frame) Set(x, y int, v uint8) { f.Pix[y*Width+x] = v }

// Fill sets every pixel to v.
func (f *Frame) Fill(v uint8) {
	for i := range f.Pix {
		f.Pix[i] = v
	}
}

// FillPanel sets every pixel of the given panel (1..8, logical layout)
// to v. Out-of-range panels are ignored.
func (f *Frame) FillPanel(panel int, v uint8) {
	if panel < 1 || panel > Panels {
		return
	}
	x0 := ((panel - 1) % PanelCols) * PanelSize
	y0 := ((panel - 1) / PanelCols) * PanelSize
	for y := y0; y < y0+PanelSize; y++ {
		for x := x0; x < x0+PanelSize; x++ {
			f.Set(x, y, v)
		}
	}
}

// Threshold returns a copy with every pixel forced to 0 or 255 using
// the given cutoff: values strictly above cut become 255.
func (f *Frame) Threshold(cut uint8) Frame {
	var out Frame
	for i, v := range f.Pix {
		if v > cut {
			out.Pix[i] = 255
		}
	}
	return out
}

// Equal reports whether both frames hold identical pixels.
func (f *Frame) Equal(g *Frame) bool { return f.Pix == g.Pix }

// FromBytes builds a Frame from exactly Pixels bytes in row-major
// order. It returns false if len(b) is wrong.
func FromBytes(b []byte) (Frame, bool) {
	var f Frame
	if len(b) != Pixels {
		return f, false
	}
	copy(f.Pix[:], b)
	return f, true
}
