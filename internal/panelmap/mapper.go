// Package panelmap rearranges a logical 32x64 frame into the physical
// transmission order of the LED panels. Pixel values never change;
// only positions move. The wiring puts the four left-column panels
// (1,3,5,7) on one output line and the four right-column panels
// (2,4,6,8) on the other.
package panelmap

import "github.com/mirrorlab/mirrorlink/internal/frame"

// Topology selects the logical-to-physical transform.
type Topology int

const (
	Raw              Topology = iota // identity
	RowSplit                         // optional axis flips only
	ColumnSplit                      // two output lines, four panels each
	ColumnSerpentine                 // ColumnSplit + zig-zag rows inside panels
	FullCustom                       // extension point; flips only
	AutoCalibrated                   // panel positions from a calibration table
)

func (t Topology) String() string {
	switch t {
	case Raw:
		return "raw"
	case RowSplit:
		return "row-split"
	case ColumnSplit:
		return "column-split"
	case ColumnSerpentine:
		return "column-serpentine"
	case FullCustom:
		return "full-custom"
	case AutoCalibrated:
		return "auto-calibrated"
	}
	return "unknown"
}

// ParseTopology maps a config string to a Topology.
func ParseTopology(s string) (Topology, bool) {
	switch s {
	case "raw":
		return Raw, true
	case "row-split":
		return RowSplit, true
	case "column-split":
		return ColumnSplit, true
	case "column-serpentine":
		return ColumnSerpentine, true
	case "full-custom":
		return FullCustom, true
	case "auto-calibrated":
		return AutoCalibrated, true
	}
	return Raw, false
}

// Panels assigned to each output line, top to bottom.
var (
	leftLinePanels  = [4]int{1, 3, 5, 7}
	rightLinePanels = [4]int{2, 4, 6, 8}
)

// Mapper applies one topology. Construct with New; the transform is
// precomputed so Remap is a single pass over the 2048 positions.
type Mapper struct {
	topology Topology
	flipX    bool
	flipY    bool
	panelMap PanelMap

	// src[i] is the flat logical index feeding physical position i,
	// or -1 when no source exists (incomplete calibration table).
	src [frame.Pixels]int
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithFlips mirrors the output along either axis. Effective for the
// RowSplit and FullCustom topologies.
func WithFlips(flipX, flipY bool) Option {
	return func(m *Mapper) { m.flipX, m.flipY = flipX, flipY }
}

// WithPanelMap supplies the calibration table for AutoCalibrated.
func WithPanelMap(pm PanelMap) Option {
	return func(m *Mapper) { m.panelMap = pm }
}

// New builds a Mapper for the given topology.
func New(t Topology, opts ...Option) *Mapper {
	m := &Mapper{topology: t}
	for _, o := range opts {
		o(m)
	}
	m.buildIndex()
	return m
}

// Topology returns the active topology.
func (m *Mapper) Topology() Topology { return m.topology }

// Remap returns f rearranged into physical transmission order.
// Physical positions with no logical source stay dark.
func (m *Mapper) Remap(f *frame.Frame) frame.Frame {
	var out frame.Frame
	for i, s := range m.src {
		if s >= 0 {
			out.Pix[i] = f.Pix[s]
		}
	}
	return out
}

// Incomplete reports whether the transform leaves any physical
// position unmapped. Absent calibration entries fall back to
// identity, so this happens only when a mapped panel vacates its
// own slot and nothing else claims it.
func (m *Mapper) Incomplete() bool {
	for _, s := range m.src {
		if s < 0 {
			return true
		}
	}
	return false
}

func (m *Mapper) buildIndex() {
	switch m.topology {
	case ColumnSplit:
		m.buildColumnSplit(false)
	case ColumnSerpentine:
		m.buildColumnSplit(true)
	case AutoCalibrated:
		m.buildAutoCalibrated()
	case RowSplit, FullCustom:
		m.buildFlips()
	default: // Raw
		for i := range m.src {
			m.src[i] = i
		}
	}
}

func (m *Mapper) buildFlips() {
	for y := 0; y < frame.Height; y++ {
		for x := 0; x < frame.Width; x++ {
			sx, sy := x, y
			if m.flipX {
				sx = frame.Width - 1 - x
			}
			if m.flipY {
				sy = frame.Height - 1 - y
			}
			m.src[y*frame.Width+x] = sy*frame.Width + sx
		}
	}
}

// buildColumnSplit packs each output line's four panels into
// consecutive 16-row bands: the left line occupies x 0..15, the right
// line x 16..31. In serpentine mode every odd row inside a panel is
// horizontally reversed to follow the zig-zag LED chain.
func (m *Mapper) buildColumnSplit(serpentine bool) {
	place := func(panels [4]int, dstX0 int) {
		for slot, panel := range panels {
			srcY0 := ((panel - 1) / frame.PanelCols) * frame.PanelSize
			srcX0 := ((panel - 1) % frame.PanelCols) * frame.PanelSize
			dstY0 := slot * frame.PanelSize
			for ly := 0; ly < frame.PanelSize; ly++ {
				for lx := 0; lx < frame.PanelSize; lx++ {
					dx := lx
					if serpentine && ly&1 == 1 {
						dx = frame.PanelSize - 1 - lx
					}
					dst := (dstY0+ly)*frame.Width + dstX0 + dx
					src := (srcY0+ly)*frame.Width + srcX0 + lx
					m.src[dst] = src
				}
			}
		}
	}
	place(leftLinePanels, 0)
	place(rightLinePanels, frame.PanelSize)
}

func (m *Mapper) buildAutoCalibrated() {
	for i := range m.src {
		m.src[i] = -1
	}
	for logical := 1; logical <= frame.Panels; logical++ {
		physical, ok := m.panelMap[logical]
		if !ok {
			physical = logical // absent entries render in place
		}
		if physical < 1 || physical > frame.Panels {
			continue
		}
		srcY0 := ((logical - 1) / frame.PanelCols) * frame.PanelSize
		srcX0 := ((logical - 1) % frame.PanelCols) * frame.PanelSize
		dstY0 := ((physical - 1) / frame.PanelCols) * frame.PanelSize
		dstX0 := ((physical - 1) % frame.PanelCols) * frame.PanelSize
		for ly := 0; ly < frame.PanelSize; ly++ {
			for lx := 0; lx < frame.PanelSize; lx++ {
				dst := (dstY0+ly)*frame.Width + dstX0 + lx
				src := (srcY0+ly)*frame.Width + srcX0 + lx
				m.src[dst] = src
			}
		}
	}
}

// Inverse returns a mapper applying the inverse permutation. It is
// defined only when the transform is complete (every physical slot
// has a source); otherwise ok is false.
func (m *Mapper) Inverse() (*Mapper, bool) {
	inv := &Mapper{topology: m.topology, flipX: m.flipX, flipY: m.flipY}
	for i := range inv.src {
		inv.src[i] = -1
	}
	for dst, src := range m.src {
		if src < 0 {
			return nil, false
		}
		inv.src[src] = dst
	}
	return inv, true
}
