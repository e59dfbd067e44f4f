package artifact

import (
	"image"
	"math"

	"golang.org/x/image/draw"
)

// Resize scales every channel to w x h with Catmull-Rom (bicubic).
// Values travel through a 16-bit image spanning each channel's range.
func Resize(a *Artifact, w, h int) *Artifact {
	if a.Width == w && a.Height == h {
		return a.Clone()
	}
	out := New(w, h, a.Channels)
	for c := 0; c < a.Channels; c++ {
		ch := a
		if a.Channels > 1 {
			ch = a.Channel(c)
		}
		lo, hi := ch.MinMax()
		span := hi - lo

		if span == 0 {
			for i := 0; i < w*h; i++ {
				out.Pix[i*a.Channels+c] = lo
			}
			continue
		}

		src := image.NewGray16(ch.Bounds())
		for i, v := range ch.Pix {
			q := uint16(math.Round(float64((v - lo) / span * math.MaxUint16)))
			src.Pix[2*i] = uint8(q >> 8)
			src.Pix[2*i+1] = uint8(q)
		}
		dst := image.NewGray16(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

		for i := 0; i < w*h; i++ {
			q := uint16(dst.Pix[2*i])<<8 | uint16(dst.Pix[2*i+1])
			out.Pix[i*a.Channels+c] = lo + float32(q)/math.MaxUint16*span
		}
	}
	return out
}

// ResizeImage scales a frame to w x h with Catmull-Rom.
func ResizeImage(img image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// ScaledSize applies factor to a size, never going below 1 pixel.
func ScaledSize(w, h int, factor float64) (int, int) {
	sw, sh := int(factor*float64(w)), int(factor*float64(h))
	if sw < 1 {
		sw = 1
	}
	if sh < 1 {
		sh = 1
	}
	return sw, sh
}
