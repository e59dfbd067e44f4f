package saliency

import (
	"image"

	"github.com/ivlev/salcache/internal/artifact"
)

type sequenceMethod struct {
	name    string
	output  Output
	compute func(gray []*plane) []*artifact.Artifact
}

func (m *sequenceMethod) Name() string   { return m.name }
func (m *sequenceMethod) Kind() Kind     { return SequenceKind }
func (m *sequenceMethod) Output() Output { return m.output }

func (m *sequenceMethod) ComputeSequence(frames []image.Image) ([]*artifact.Artifact, error) {
	gray := make([]*plane, len(frames))
	for i, f := range frames {
		gray[i] = grayPlane(f)
		if i > 0 && (gray[i].w != gray[0].w || gray[i].h != gray[0].h) {
			return nil, errFrameSize(i)
		}
	}
	return m.compute(gray), nil
}

// pairs calls fn for (i, i+1) and gives every frame the result of its
// forward pair; the last frame reuses the final pair. A single frame is
// paired with itself.
func pairs(gray []*plane, fn func(a, b *plane) *artifact.Artifact) []*artifact.Artifact {
	out := make([]*artifact.Artifact, len(gray))
	switch len(gray) {
	case 0:
		return out
	case 1:
		out[0] = fn(gray[0], gray[0])
		return out
	}
	for i := 0; i+1 < len(gray); i++ {
		out[i] = fn(gray[i], gray[i+1])
	}
	out[len(gray)-1] = out[len(gray)-2].Clone()
	return out
}

// motion is the absolute luminance difference to the next frame.
func motion(gray []*plane) []*artifact.Artifact {
	return pairs(gray, func(a, b *plane) *artifact.Artifact {
		d := newPlane(a.w, a.h)
		for i := range d.v {
			v := b.v[i] - a.v[i]
			if v < 0 {
				v = -v
			}
			d.v[i] = v
		}
		return d.artifact()
	})
}

// lkRadius is the half-width of the Lucas-Kanade integration window.
const lkRadius = 2

// lucasKanade solves the 2x2 optical-flow system per pixel over a box
// window. Ill-conditioned pixels get zero flow.
func lucasKanade(a, b *plane) *artifact.Artifact {
	avg := newPlane(a.w, a.h)
	it := newPlane(a.w, a.h)
	for i := range avg.v {
		avg.v[i] = (a.v[i] + b.v[i]) / 2
		it.v[i] = b.v[i] - a.v[i]
	}
	ix, iy := sobel(avg)
	for i := range ix.v {
		ix.v[i] /= 8
		iy.v[i] /= 8
	}

	sxx := boxBlur(mul(ix, ix), lkRadius)
	syy := boxBlur(mul(iy, iy), lkRadius)
	sxy := boxBlur(mul(ix, iy), lkRadius)
	sxt := boxBlur(mul(ix, it), lkRadius)
	syt := boxBlur(mul(iy, it), lkRadius)

	out := artifact.New(a.w, a.h, 2)
	for i := range sxx.v {
		det := sxx.v[i]*syy.v[i] - sxy.v[i]*sxy.v[i]
		if det < 1e-9 {
			continue
		}
		u := (-syy.v[i]*sxt.v[i] + sxy.v[i]*syt.v[i]) / det
		v := (sxy.v[i]*sxt.v[i] - sxx.v[i]*syt.v[i]) / det
		out.Pix[2*i] = u
		out.Pix[2*i+1] = v
	}
	return out
}

func flow(gray []*plane) []*artifact.Artifact {
	return pairs(gray, lucasKanade)
}

// magflow is the per-pixel magnitude of the dense flow.
func magflow(gray []*plane) []*artifact.Artifact {
	return pairs(gray, func(a, b *plane) *artifact.Artifact {
		f := lucasKanade(a, b)
		u, v := f.Channel(0), f.Channel(1)
		return hypot(&plane{w: f.Width, h: f.Height, v: u.Pix}, &plane{w: f.Width, h: f.Height, v: v.Pix}).artifact()
	})
}
