package frameindex

import "fmt"

// LookupError reports a clip timestamp that does not exist in the video's
// timestamp table. It signals a decoder/index inconsistency upstream.
type LookupError struct {
	PTS int64
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("frameindex: pts %d not found in video timestamps", e.PTS)
}

// Index maps presentation timestamps to frame ordinals for one video.
type Index struct {
	toFrame map[int64]int
	n       int
}

// New builds the timestamp -> ordinal map. Timestamps must be unique.
func New(videoPTS []int64) (*Index, error) {
	toFrame := make(map[int64]int, len(videoPTS))
	for i, pts := range videoPTS {
		if prev, dup := toFrame[pts]; dup {
			return nil, fmt.Errorf("frameindex: duplicate pts %d at frames %d and %d", pts, prev, i)
		}
		toFrame[pts] = i
	}
	return &Index{toFrame: toFrame, n: len(videoPTS)}, nil
}

// Len returns the number of frames in the video.
func (x *Index) Len() int {
	return x.n
}

// Frames returns the ordinal of every clip timestamp, in clip order.
func (x *Index) Frames(clipPTS []int64) ([]int, error) {
	frames := make([]int, len(clipPTS))
	for i, pts := range clipPTS {
		f, ok := x.toFrame[pts]
		if !ok {
			return nil, &LookupError{PTS: pts}
		}
		frames[i] = f
	}
	return frames, nil
}

// Frames is a one-shot helper. The mapping is rebuilt on every call.
func Frames(videoPTS, clipPTS []int64) ([]int, error) {
	x, err := New(videoPTS)
	if err != nil {
		return nil, err
	}
	return x.Frames(clipPTS)
}
