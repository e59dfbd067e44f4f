// Package artifact holds the dense per-frame saliency grid and its on-disk
// encodings.
package artifact

import (
	"fmt"
	"image"
	"image/color"
	"math"
)

// Artifact is a row-major grid with interleaved channels. Raster saliency
// uses one channel, optical flow uses two (u, v).
type Artifact struct {
	Width    int
	Height   int
	Channels int
	Pix      []float32
}

func New(width, height, channels int) *Artifact {
	return &Artifact{
		Width:    width,
		Height:   height,
		Channels: channels,
		Pix:      make([]float32, width*height*channels),
	}
}

func (a *Artifact) Bounds() image.Rectangle {
	return image.Rect(0, 0, a.Width, a.Height)
}

func (a *Artifact) offset(x, y, c int) int {
	return (y*a.Width+x)*a.Channels + c
}

func (a *Artifact) At(x, y, c int) float32 {
	return a.Pix[a.offset(x, y, c)]
}

func (a *Artifact) Set(x, y, c int, v float32) {
	a.Pix[a.offset(x, y, c)] = v
}

// MinMax returns the extreme values over all channels.
func (a *Artifact) MinMax() (float32, float32) {
	if len(a.Pix) == 0 {
		return 0, 0
	}
	lo, hi := a.Pix[0], a.Pix[0]
	for _, v := range a.Pix[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

func (a *Artifact) Clone() *Artifact {
	c := *a
	c.Pix = append([]float32(nil), a.Pix...)
	return &c
}

// Channel extracts channel c as a single-channel artifact.
func (a *Artifact) Channel(c int) *Artifact {
	out := New(a.Width, a.Height, 1)
	for i := range out.Pix {
		out.Pix[i] = a.Pix[i*a.Channels+c]
	}
	return out
}

// SameSize reports whether the artifact matches the given frame bounds.
func (a *Artifact) SameSize(b image.Rectangle) bool {
	return a.Width == b.Dx() && a.Height == b.Dy()
}

func (a *Artifact) String() string {
	return fmt.Sprintf("artifact %dx%dx%d", a.Width, a.Height, a.Channels)
}

// FromImage converts any image into a single-channel grid of luminance in [0,1].
func FromImage(img image.Image) *Artifact {
	b := img.Bounds()
	out := New(b.Dx(), b.Dy(), 1)
	if g, ok := img.(*image.Gray); ok {
		for y := 0; y < out.Height; y++ {
			row := g.Pix[(y+b.Min.Y-g.Rect.Min.Y)*g.Stride+(b.Min.X-g.Rect.Min.X):]
			for x := 0; x < out.Width; x++ {
				out.Pix[y*out.Width+x] = float32(row[x]) / 255
			}
		}
		return out
	}
	for y := 0; y < out.Height; y++ {
		for x := 0; x < out.Width; x++ {
			gray := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
			out.Pix[y*out.Width+x] = float32(gray.Y) / math.MaxUint16
		}
	}
	return out
}

// Gray renders a single-channel artifact into an 8-bit image using the
// given normalization.
func (a *Artifact) Gray(n Normalization) (*image.Gray, error) {
	if a.Channels != 1 {
		return nil, fmt.Errorf("artifact: gray needs 1 channel, got %d", a.Channels)
	}
	img := image.NewGray(a.Bounds())
	copy(img.Pix, n.Bytes(a))
	return img, nil
}
