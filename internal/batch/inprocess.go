package batch

import (
	"context"
	"fmt"
	"image"

	"github.com/ivlev/salcache/internal/artifact"
	"github.com/ivlev/salcache/internal/cache"
	"github.com/ivlev/salcache/internal/saliency"
	"github.com/ivlev/salcache/internal/video"
)

// target returns the decode size for the job and whether it differs from
// the source size.
func (d *Driver) target(info *video.Info) (video.Size, bool) {
	if d.opts.Rescale == 1 {
		return video.Size{}, false
	}
	w, h := artifact.ScaledSize(info.Width, info.Height, d.opts.Rescale)
	return video.Size{Width: w, Height: h}, true
}

// restore brings an artifact back to the source size unless scaled
// output was requested.
func (d *Driver) restore(a *artifact.Artifact, info *video.Info, scaled bool) *artifact.Artifact {
	if !scaled || d.opts.SaveScaled {
		return a
	}
	return artifact.Resize(a, info.Width, info.Height)
}

func (d *Driver) inProcess(ctx context.Context, job *Job, method saliency.SequenceComputer) error {
	path := job.Video.AbsPath
	info, err := d.decoder.Probe(ctx, path)
	if err != nil {
		return err
	}
	size, scaled := d.target(info)

	if fc, ok := method.(saliency.FrameComputer); ok {
		return d.streamFrames(ctx, job, fc, info, size, scaled)
	}

	frames, err := d.decoder.DecodeFrames(ctx, path, size)
	if err != nil {
		return err
	}
	job.advance(Decoded)

	maps, err := method.ComputeSequence(frames)
	if err != nil {
		return fmt.Errorf("compute %s: %w", method.Name(), err)
	}
	if len(maps) != len(frames) {
		return fmt.Errorf("compute %s: %d maps for %d frames", method.Name(), len(maps), len(frames))
	}
	job.advance(Computed)

	if scaled && !d.opts.SaveScaled {
		for i, a := range maps {
			maps[i] = d.restore(a, info, scaled)
		}
		job.advance(Rescaled)
	}

	for i, a := range maps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.store.Put(cache.FrameIdentity{Video: job.Name, Frame: i}, a); err != nil {
			return err
		}
	}
	job.Frames = len(maps)
	return nil
}

// streamFrames computes and stores each frame as it is decoded, so a
// per-frame method never holds the whole video in memory.
func (d *Driver) streamFrames(ctx context.Context, job *Job, method saliency.FrameComputer, info *video.Info, size video.Size, scaled bool) error {
	n := 0
	err := d.decoder.DecodeEach(ctx, job.Video.AbsPath, size, func(i int, img *image.RGBA) error {
		a, err := method.ComputeFrame(img)
		if err != nil {
			return fmt.Errorf("compute %s frame %d: %w", method.Name(), i, err)
		}
		a = d.restore(a, info, scaled)
		if err := d.store.Put(cache.FrameIdentity{Video: job.Name, Frame: i}, a); err != nil {
			return err
		}
		n++
		return nil
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s: no frames", video.ErrDecode, job.Video.AbsPath)
	}
	job.Frames = n
	job.advance(Decoded)
	job.advance(Computed)
	if scaled && !d.opts.SaveScaled {
		job.advance(Rescaled)
	}
	return nil
}
