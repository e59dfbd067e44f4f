package artifact

// Normalization maps float artifact values into the 8-bit display range.
type Normalization int

const (
	// MinMax stretches [min, max] onto [0, 255]. A constant grid maps to 0.
	MinMax Normalization = iota
	// Clamp multiplies by 255 when the grid looks unit-scaled (max < 2),
	// then clips into [0, 255] and truncates.
	Clamp
)

func (n Normalization) String() string {
	switch n {
	case MinMax:
		return "minmax"
	case Clamp:
		return "clamp"
	default:
		return "unknown"
	}
}

// ParseNormalization is the inverse of String.
func ParseNormalization(s string) (Normalization, bool) {
	switch s {
	case "minmax", "":
		return MinMax, true
	case "clamp":
		return Clamp, true
	}
	return MinMax, false
}

// Bytes returns one byte per value of a.Pix.
func (n Normalization) Bytes(a *Artifact) []uint8 {
	out := make([]uint8, len(a.Pix))
	if len(a.Pix) == 0 {
		return out
	}
	lo, hi := a.MinMax()

	switch n {
	case Clamp:
		scale := float32(1)
		if hi < 2 {
			scale = 255
		}
		for i, v := range a.Pix {
			v *= scale
			if v > 255 {
				v = 255
			}
			if v < 0 {
				v = 0
			}
			out[i] = uint8(v)
		}
	default:
		span := hi - lo
		if span < 1e-5 {
			span = 1e-5
		}
		for i, v := range a.Pix {
			f := (v - lo) / span
			if f < 0 {
				f = 0
			}
			if f > 1 {
				f = 1
			}
			out[i] = uint8(f*255 + 0.5)
		}
	}
	return out
}

// Quantize returns what a lossless raster round trip of a yields: values in
// [0,1] on the 1/255 grid.
func (n Normalization) Quantize(a *Artifact) *Artifact {
	out := New(a.Width, a.Height, a.Channels)
	for i, b := range n.Bytes(a) {
		out.Pix[i] = float32(b) / 255
	}
	return out
}
