package saliency

import (
	"image"
	"math"

	"github.com/ivlev/salcache/internal/artifact"
)

// plane is a single-channel float grid with clamped-edge reads.
type plane struct {
	w, h int
	v    []float32
}

func newPlane(w, h int) *plane {
	return &plane{w: w, h: h, v: make([]float32, w*h)}
}

func grayPlane(img image.Image) *plane {
	a := artifact.FromImage(img)
	return &plane{w: a.Width, h: a.Height, v: a.Pix}
}

func (p *plane) at(x, y int) float32 {
	if x < 0 {
		x = 0
	} else if x >= p.w {
		x = p.w - 1
	}
	if y < 0 {
		y = 0
	} else if y >= p.h {
		y = p.h - 1
	}
	return p.v[y*p.w+x]
}

func (p *plane) artifact() *artifact.Artifact {
	a := artifact.New(p.w, p.h, 1)
	copy(a.Pix, p.v)
	return a
}

func (p *plane) max() float32 {
	var m float32
	for _, v := range p.v {
		if v > m {
			m = v
		}
	}
	return m
}

// normalize scales p so its maximum is 1. An all-zero plane is unchanged.
func (p *plane) normalize() *plane {
	m := p.max()
	if m <= 0 {
		return p
	}
	for i := range p.v {
		p.v[i] /= m
	}
	return p
}

// sobel returns the horizontal and vertical Sobel responses.
func sobel(g *plane) (gx, gy *plane) {
	gx, gy = newPlane(g.w, g.h), newPlane(g.w, g.h)
	for y := 0; y < g.h; y++ {
		for x := 0; x < g.w; x++ {
			tl, tc, tr := g.at(x-1, y-1), g.at(x, y-1), g.at(x+1, y-1)
			ml, mr := g.at(x-1, y), g.at(x+1, y)
			bl, bc, br := g.at(x-1, y+1), g.at(x, y+1), g.at(x+1, y+1)

			gx.v[y*g.w+x] = (tr + 2*mr + br) - (tl + 2*ml + bl)
			gy.v[y*g.w+x] = (bl + 2*bc + br) - (tl + 2*tc + tr)
		}
	}
	return gx, gy
}

// boxBlur averages over a (2r+1)x(2r+1) window using a summed-area table.
func boxBlur(p *plane, r int) *plane {
	if r <= 0 {
		out := newPlane(p.w, p.h)
		copy(out.v, p.v)
		return out
	}
	sw := p.w + 1
	sat := make([]float64, sw*(p.h+1))
	for y := 0; y < p.h; y++ {
		var row float64
		for x := 0; x < p.w; x++ {
			row += float64(p.v[y*p.w+x])
			sat[(y+1)*sw+x+1] = sat[y*sw+x+1] + row
		}
	}

	out := newPlane(p.w, p.h)
	for y := 0; y < p.h; y++ {
		y0, y1 := max(y-r, 0), min(y+r+1, p.h)
		for x := 0; x < p.w; x++ {
			x0, x1 := max(x-r, 0), min(x+r+1, p.w)
			sum := sat[y1*sw+x1] - sat[y0*sw+x1] - sat[y1*sw+x0] + sat[y0*sw+x0]
			out.v[y*p.w+x] = float32(sum / float64((y1-y0)*(x1-x0)))
		}
	}
	return out
}

func mul(a, b *plane) *plane {
	out := newPlane(a.w, a.h)
	for i := range out.v {
		out.v[i] = a.v[i] * b.v[i]
	}
	return out
}

func hypot(a, b *plane) *plane {
	out := newPlane(a.w, a.h)
	for i := range out.v {
		out.v[i] = float32(math.Sqrt(float64(a.v[i]*a.v[i] + b.v[i]*b.v[i])))
	}
	return out
}
