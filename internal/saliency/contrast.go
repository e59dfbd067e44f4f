package saliency

import (
	"image"
	"image/color"

	"github.com/ivlev/salcache/internal/artifact"
)

// contrast is the Sobel gradient magnitude.
func contrast(g *plane, _ image.Image) *artifact.Artifact {
	gx, gy := sobel(g)
	return hypot(gx, gy).artifact()
}

// harrisK is the usual empirical constant of the corner response.
const harrisK = 0.04

// harris is the Harris corner response det(M) - k*trace(M)^2 over a 3x3
// window, with negative (edge) responses clipped to zero.
func harris(g *plane, _ image.Image) *artifact.Artifact {
	gx, gy := sobel(g)
	sxx := boxBlur(mul(gx, gx), 1)
	syy := boxBlur(mul(gy, gy), 1)
	sxy := boxBlur(mul(gx, gy), 1)

	out := newPlane(g.w, g.h)
	for i := range out.v {
		det := sxx.v[i]*syy.v[i] - sxy.v[i]*sxy.v[i]
		tr := sxx.v[i] + syy.v[i]
		if r := det - harrisK*tr*tr; r > 0 {
			out.v[i] = r
		}
	}
	return out.artifact()
}

// Center/surround radius pairs, fine to coarse.
var centerSurround = [][2]int{{1, 4}, {2, 8}, {4, 16}}

// centerSurroundMap sums |center - surround| across scales and normalizes
// the result to a peak of 1.
func centerSurroundMap(p *plane) *plane {
	out := newPlane(p.w, p.h)
	for _, cs := range centerSurround {
		c, s := boxBlur(p, cs[0]), boxBlur(p, cs[1])
		for i := range out.v {
			d := c.v[i] - s.v[i]
			if d < 0 {
				d = -d
			}
			out.v[i] += d
		}
	}
	return out.normalize()
}

// itti combines center-surround contrast of intensity and the red-green and
// blue-yellow opponent channels.
func itti(g *plane, img image.Image) *artifact.Artifact {
	rg, by := opponent(img)
	maps := []*plane{centerSurroundMap(g), centerSurroundMap(rg), centerSurroundMap(by)}

	out := newPlane(g.w, g.h)
	for _, m := range maps {
		for i := range out.v {
			out.v[i] += m.v[i] / float32(len(maps))
		}
	}
	return out.artifact()
}

func opponent(img image.Image) (rg, by *plane) {
	b := img.Bounds()
	rg, by = newPlane(b.Dx(), b.Dy()), newPlane(b.Dx(), b.Dy())
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.NRGBA64Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA64)
			r, g, bl := float32(c.R)/0xffff, float32(c.G)/0xffff, float32(c.B)/0xffff
			i := y*rg.w + x
			rg.v[i] = r - g
			by.v[i] = bl - (r+g)/2
		}
	}
	return rg, by
}
