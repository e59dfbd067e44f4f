package video

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FramePattern is the image2 pattern for numbered frame files.
func FramePattern(dir, ext string) string {
	return filepath.Join(dir, "%d."+strings.TrimPrefix(ext, "."))
}

func extractArgs(path, dir string, size Size) []string {
	args := []string{"-i", path}
	if !size.IsZero() {
		args = append(args, "-vf", scaleFilter(size))
	}
	return append(args, "-fps_mode", "passthrough", "-start_number", "0", "-q:v", "2", FramePattern(dir, "jpg"))
}

func (f *FFmpeg) ExtractFrames(ctx context.Context, path, dir string, size Size) (int, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, err
	}
	if err := f.run(ctx, extractArgs(path, dir, size)...); err != nil {
		return 0, fmt.Errorf("%w: %s: extract frames: %v", ErrDecode, path, err)
	}
	n, err := countImages(dir, "jpg")
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: %s: no frames extracted", ErrDecode, path)
	}
	return n, nil
}

func scaleArgs(dir, scratch, ext string, size Size) []string {
	return []string{
		"-start_number", "0", "-i", FramePattern(dir, ext),
		"-vf", scaleFilter(size),
		"-q:v", "2",
		"-start_number", "0", FramePattern(scratch, ext),
	}
}

// ScaleImages resizes the numbered images dir/{i}.{ext} (0-based, one
// extension per directory) and replaces them in place.
func (f *FFmpeg) ScaleImages(ctx context.Context, dir, scratch string, size Size) error {
	ext, n, err := numberedImages(dir)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("video: no numbered images in %s", dir)
	}
	if err := os.MkdirAll(scratch, 0755); err != nil {
		return err
	}
	if err := f.run(ctx, scaleArgs(dir, scratch, ext, size)...); err != nil {
		return fmt.Errorf("video: rescale %s: %w", dir, err)
	}

	got, err := countImages(scratch, ext)
	if err != nil {
		return err
	}
	if got != n {
		return fmt.Errorf("video: rescale %s: expected %d images, got %d", dir, n, got)
	}
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("%d.%s", i, ext)
		if err := os.Rename(filepath.Join(scratch, name), filepath.Join(dir, name)); err != nil {
			return err
		}
	}
	return nil
}

// numberedImages finds the extension of dir/0.* and how many consecutive
// ordinals exist with it.
func numberedImages(dir string) (string, int, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "0.*"))
	if err != nil {
		return "", 0, err
	}
	if len(matches) == 0 {
		return "", 0, nil
	}
	ext := strings.TrimPrefix(filepath.Ext(matches[0]), ".")
	n := 0
	for {
		if _, err := os.Stat(filepath.Join(dir, fmt.Sprintf("%d.%s", n, ext))); err != nil {
			break
		}
		n++
	}
	return ext, n, nil
}

func countImages(dir, ext string) (int, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*."+ext))
	if err != nil {
		return 0, err
	}
	return len(matches), nil
}
