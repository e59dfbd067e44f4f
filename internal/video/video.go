// Package video wraps ffmpeg and ffprobe: probing, frame-accurate raw
// decoding, numbered-image extraction and image rescaling.
package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"
)

// ErrDecode marks a video that could not be probed or decoded.
var ErrDecode = errors.New("video: decode failed")

// Size is a target frame size. A zero Size keeps the source dimensions.
type Size struct {
	Width, Height int
}

func (s Size) IsZero() bool { return s.Width <= 0 || s.Height <= 0 }

func (s Size) String() string { return fmt.Sprintf("%dx%d", s.Width, s.Height) }

// Info is the shape of the first video stream.
type Info struct {
	Path       string
	Width      int
	Height     int
	FPS        float64
	FrameCount int // 0 when the container does not record it
	Duration   time.Duration
}

func (i *Info) Size() Size { return Size{Width: i.Width, Height: i.Height} }

// Decoder is everything the cache pipelines need from a video backend.
// Frame ordinals are 0-based and follow decode (presentation) order.
type Decoder interface {
	Probe(ctx context.Context, path string) (*Info, error)
	// ProbePTS lists the presentation timestamp of every frame in order.
	ProbePTS(ctx context.Context, path string) ([]int64, error)
	DecodeFrames(ctx context.Context, path string, size Size) ([]image.Image, error)
	// DecodeEach streams frames through fn. The image passed to fn is only
	// valid until fn returns.
	DecodeEach(ctx context.Context, path string, size Size, fn func(i int, img *image.RGBA) error) error
	// DecodeRange decodes ordinals first..last inclusive.
	DecodeRange(ctx context.Context, path string, first, last int) ([]image.Image, error)
	// ExtractFrames writes dir/{i}.jpg for every frame, starting at 0.
	ExtractFrames(ctx context.Context, path, dir string, size Size) (int, error)
	// ScaleImages resizes every image in dir to size, using scratch for
	// intermediate files.
	ScaleImages(ctx context.Context, dir, scratch string, size Size) error
}
