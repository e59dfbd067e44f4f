package clip

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/ivlev/salcache/internal/video"
)

// ErrDecode marks a clip whose frames could not be produced.
var ErrDecode = errors.New("clip: decode failed")

type Clip struct {
	Location Location
	Frames   []image.Image
	PTS      []int64
}

// Source produces clips by global index.
type Source interface {
	NumClips() int
	GetClip(ctx context.Context, idx int) (*Clip, error)
}

// FFmpegSource decodes clip frames straight from the video files.
type FFmpegSource struct {
	clips   *Clips
	decoder video.Decoder
}

func NewFFmpegSource(clips *Clips, decoder video.Decoder) *FFmpegSource {
	return &FFmpegSource{clips: clips, decoder: decoder}
}

func (s *FFmpegSource) NumClips() int { return s.clips.NumClips() }

func (s *FFmpegSource) GetClip(ctx context.Context, idx int) (*Clip, error) {
	loc, err := s.clips.Location(idx)
	if err != nil {
		return nil, err
	}
	pts := s.clips.ClipPTS(loc)
	ordinals, err := s.clips.Ordinals(loc)
	if err != nil {
		return nil, err
	}

	path := s.clips.VideoPath(loc.Video)
	first, last := ordinals[0], ordinals[len(ordinals)-1]
	decoded, err := s.decoder.DecodeRange(ctx, path, first, last)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, path, err)
	}

	frames := make([]image.Image, len(ordinals))
	for i, o := range ordinals {
		if o-first >= len(decoded) {
			return nil, fmt.Errorf("%w: %s: frame %d missing from decode", ErrDecode, path, o)
		}
		frames[i] = decoded[o-first]
	}
	return &Clip{Location: loc, Frames: frames, PTS: pts}, nil
}
