package batch

import (
	"context"
	"fmt"

	"github.com/ivlev/salcache/internal/saliency"
	"github.com/ivlev/salcache/internal/source"
	"github.com/ivlev/salcache/internal/system"
	"github.com/ivlev/salcache/internal/video"
)

// staged runs a directory tool: frames are extracted into a private
// staging directory, the tool writes maps straight into the cache, and the
// staging directory is removed on every exit path.
func (d *Driver) staged(ctx context.Context, job *Job, method saliency.DirectoryComputer) (err error) {
	path := job.Video.AbsPath

	var info *video.Info
	size, scaled := video.Size{}, false
	if d.opts.Rescale != 1 {
		if info, err = d.decoder.Probe(ctx, path); err != nil {
			return err
		}
		size, scaled = d.target(info)
	}

	st, err := system.Acquire(d.stagingRoot, path)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := st.Release(); rerr != nil {
			d.logger.Warn().Err(rerr).Str("dir", st.Dir).Msg("staging cleanup failed")
			if err == nil {
				err = rerr
			}
			return
		}
		job.advance(TempCleanedUp)
	}()

	frames := st.Path("frames")
	if _, err := d.decoder.ExtractFrames(ctx, path, frames, size); err != nil {
		return err
	}
	job.advance(FramesExtracted)

	out := d.store.VideoDir(job.Name)
	if err := method.ComputeDir(ctx, frames, out); err != nil {
		return err
	}
	job.advance(ExternalInvoked)

	n, err := saliency.CountOutputs(out, method.OutputExt())
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s wrote nothing for %s", saliency.ErrExternalTool, method.Name(), job.Video.RelPath)
	}
	job.Frames = n
	if err := d.checkOutputSize(frames, out, method.OutputExt()); err != nil {
		return err
	}
	job.advance(OutputCollected)

	if scaled && !d.opts.SaveScaled {
		if err := d.decoder.ScaleImages(ctx, out, st.Path("scratch"), info.Size()); err != nil {
			return err
		}
		job.advance(RescaledBack)
	}
	return nil
}

// checkOutputSize compares the first map a tool wrote with the first staged
// frame. A map that cannot be decoded fails the job; a size mismatch is
// only logged.
func (d *Driver) checkOutputSize(frames, out, ext string) error {
	in, err := source.NewImageSource(frames)
	if err != nil {
		return err
	}
	defer in.Close()
	maps, err := source.NewImageSource(out)
	if err != nil {
		return err
	}
	defer maps.Close()
	if in.FrameCount() == 0 || maps.FrameCount() == 0 {
		return nil
	}

	w, h, err := in.Dimensions(0)
	if err != nil {
		return err
	}
	mw, mh, err := maps.Dimensions(0)
	if err != nil {
		return fmt.Errorf("%w: unreadable .%s output: %w", saliency.ErrExternalTool, ext, err)
	}
	if mw != w || mh != h {
		d.logger.Warn().
			Str("map", maps.Path(0)).
			Str("frame_size", fmt.Sprintf("%dx%d", w, h)).
			Str("map_size", fmt.Sprintf("%dx%d", mw, mh)).
			Msg("tool output size differs from staged frames")
	}
	return nil
}
