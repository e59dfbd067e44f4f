package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strings"
)

func decodeArgs(path string, size Size, filter string, frames int) []string {
	args := []string{"-i", path}
	var vf []string
	if filter != "" {
		vf = append(vf, filter)
	}
	if !size.IsZero() {
		vf = append(vf, scaleFilter(size))
	}
	if len(vf) > 0 {
		args = append(args, "-vf", strings.Join(vf, ","))
	}
	if frames > 0 {
		args = append(args, "-frames:v", fmt.Sprint(frames))
	}
	return append(args, "-fps_mode", "passthrough", "-f", "rawvideo", "-pix_fmt", "rgba", "pipe:1")
}

// stream runs ffmpeg with rawvideo RGBA output and hands each frame to fn
// in a pooled buffer of the given size.
func (f *FFmpeg) stream(ctx context.Context, path string, args []string, size Size, fn func(i int, img *image.RGBA) error) (int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	full := append(f.baseArgs(), args...)
	f.logger.Debug().Strs("args", full).Msg("decoding")
	cmd := exec.CommandContext(ctx, f.ffmpegPath, full...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("%w: %s: start ffmpeg: %v", ErrDecode, path, err)
	}

	buf := f.pool.Get(image.Rect(0, 0, size.Width, size.Height))
	defer f.pool.Put(buf)

	n := 0
	var readErr error
	for {
		_, err := io.ReadFull(stdout, buf.Pix)
		if err == io.EOF {
			break
		}
		if err != nil {
			readErr = fmt.Errorf("%w: %s: truncated frame %d: %v", ErrDecode, path, n, err)
			break
		}
		if err := fn(n, buf); err != nil {
			cancel()
			_ = cmd.Wait()
			return n, err
		}
		n++
	}
	if readErr != nil {
		cancel()
		_ = cmd.Wait()
		return n, readErr
	}
	if err := cmd.Wait(); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return n, ctx.Err()
		}
		return n, fmt.Errorf("%w: %s: %v: %s", ErrDecode, path, err, strings.TrimSpace(stderr.String()))
	}
	return n, nil
}

func (f *FFmpeg) outputSize(ctx context.Context, path string, size Size) (Size, error) {
	if !size.IsZero() {
		return size, nil
	}
	info, err := f.Probe(ctx, path)
	if err != nil {
		return Size{}, err
	}
	return info.Size(), nil
}

func (f *FFmpeg) DecodeEach(ctx context.Context, path string, size Size, fn func(i int, img *image.RGBA) error) error {
	out, err := f.outputSize(ctx, path, size)
	if err != nil {
		return err
	}
	_, err = f.stream(ctx, path, decodeArgs(path, size, "", 0), out, fn)
	return err
}

func cloneRGBA(img *image.RGBA) *image.RGBA {
	c := image.NewRGBA(img.Rect)
	copy(c.Pix, img.Pix)
	return c
}

func (f *FFmpeg) DecodeFrames(ctx context.Context, path string, size Size) ([]image.Image, error) {
	var frames []image.Image
	err := f.DecodeEach(ctx, path, size, func(_ int, img *image.RGBA) error {
		frames = append(frames, cloneRGBA(img))
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: %s: no frames", ErrDecode, path)
	}
	return frames, nil
}

// rangeFilter selects decoded frames first..last by ordinal.
func rangeFilter(first, last int) string {
	return fmt.Sprintf(`select=between(n\,%d\,%d)`, first, last)
}

func (f *FFmpeg) DecodeRange(ctx context.Context, path string, first, last int) ([]image.Image, error) {
	if first < 0 || last < first {
		return nil, fmt.Errorf("video: bad frame range %d..%d", first, last)
	}
	size, err := f.outputSize(ctx, path, Size{})
	if err != nil {
		return nil, err
	}
	want := last - first + 1
	frames := make([]image.Image, 0, want)
	_, err = f.stream(ctx, path, decodeArgs(path, Size{}, rangeFilter(first, last), want), size, func(_ int, img *image.RGBA) error {
		frames = append(frames, cloneRGBA(img))
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(frames) != want {
		return nil, fmt.Errorf("%w: %s: frames %d..%d: got %d frames", ErrDecode, path, first, last, len(frames))
	}
	return frames, nil
}
