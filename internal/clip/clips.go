package clip

import (
	"fmt"
	"sort"

	"github.com/ivlev/salcache/internal/frameindex"
)

// Location addresses a clip by video and clip-within-video.
type Location struct {
	Video int
	Clip  int
}

// Clips cuts every video into windows of FramesPerClip frames, Step frames
// apart. Videos shorter than one window contribute no clips.
type Clips struct {
	meta          *Metadata
	framesPerClip int
	step          int
	cum           []int // cum[v] = clips in videos [0, v)
}

func NewClips(meta *Metadata, framesPerClip, step int) (*Clips, error) {
	if framesPerClip < 1 || step < 1 {
		return nil, fmt.Errorf("clip: frames per clip and step must be positive, got %d and %d", framesPerClip, step)
	}
	c := &Clips{
		meta:          meta,
		framesPerClip: framesPerClip,
		step:          step,
		cum:           make([]int, len(meta.VideoPTS)+1),
	}
	for v, pts := range meta.VideoPTS {
		c.cum[v+1] = c.cum[v] + c.clipsIn(len(pts))
	}
	return c, nil
}

func (c *Clips) clipsIn(frames int) int {
	if frames < c.framesPerClip {
		return 0
	}
	return (frames-c.framesPerClip)/c.step + 1
}

func (c *Clips) NumClips() int  { return c.cum[len(c.cum)-1] }
func (c *Clips) NumVideos() int { return len(c.meta.VideoPaths) }

func (c *Clips) VideoPath(v int) string { return c.meta.VideoPaths[v] }

// Location maps a global clip index to its video and clip.
func (c *Clips) Location(idx int) (Location, error) {
	if idx < 0 || idx >= c.NumClips() {
		return Location{}, fmt.Errorf("clip: index %d out of range [0,%d)", idx, c.NumClips())
	}
	v := sort.SearchInts(c.cum, idx+1) - 1
	return Location{Video: v, Clip: idx - c.cum[v]}, nil
}

// Span is the first and last frame ordinal of a clip.
func (c *Clips) Span(loc Location) (first, last int) {
	first = loc.Clip * c.step
	return first, first + c.framesPerClip - 1
}

// ClipPTS returns the timestamps of the frames in the clip, in order.
func (c *Clips) ClipPTS(loc Location) []int64 {
	first, last := c.Span(loc)
	return c.meta.VideoPTS[loc.Video][first : last+1]
}

// Ordinals maps the clip's timestamps to frame ordinals of its video. The
// mapping is rebuilt from the video's timestamp table on every call.
func (c *Clips) Ordinals(loc Location) ([]int, error) {
	ordinals, err := frameindex.Frames(c.meta.VideoPTS[loc.Video], c.ClipPTS(loc))
	if err != nil {
		return nil, fmt.Errorf("clip: %s: %w", c.meta.VideoPaths[loc.Video], err)
	}
	return ordinals, nil
}
