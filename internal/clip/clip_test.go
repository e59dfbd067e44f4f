package clip

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/salcache/internal/artifact"
	"github.com/ivlev/salcache/internal/cache"
	"github.com/ivlev/salcache/internal/frameindex"
	"github.com/ivlev/salcache/internal/saliency"
	"github.com/ivlev/salcache/internal/video"
)

// fakeDecoder serves synthetic frames whose gray level is the ordinal.
type fakeDecoder struct {
	pts    map[string][]int64
	broken map[string]bool

	mu     sync.Mutex
	ranges [][2]int
}

func (f *fakeDecoder) frame(o int) image.Image {
	img := image.NewGray(image.Rect(0, 0, 8, 6))
	for i := range img.Pix {
		img.Pix[i] = uint8(o * 10)
	}
	img.SetGray(o%8, 0, color.Gray{Y: 255})
	return img
}

func (f *fakeDecoder) Probe(context.Context, string) (*video.Info, error) {
	return &video.Info{Width: 8, Height: 6}, nil
}

func (f *fakeDecoder) ProbePTS(_ context.Context, path string) ([]int64, error) {
	if f.broken[path] {
		return nil, fmt.Errorf("%w: %s", video.ErrDecode, path)
	}
	return f.pts[path], nil
}

func (f *fakeDecoder) DecodeFrames(context.Context, string, video.Size) ([]image.Image, error) {
	return nil, errors.New("not used")
}

func (f *fakeDecoder) DecodeEach(context.Context, string, video.Size, func(int, *image.RGBA) error) error {
	return errors.New("not used")
}

func (f *fakeDecoder) DecodeRange(_ context.Context, path string, first, last int) ([]image.Image, error) {
	if f.broken[path] {
		return nil, fmt.Errorf("%w: %s", video.ErrDecode, path)
	}
	f.mu.Lock()
	f.ranges = append(f.ranges, [2]int{first, last})
	f.mu.Unlock()
	var out []image.Image
	for o := first; o <= last; o++ {
		out = append(out, f.frame(o))
	}
	return out, nil
}

func (f *fakeDecoder) ExtractFrames(context.Context, string, string, video.Size) (int, error) {
	return 0, errors.New("not used")
}

func (f *fakeDecoder) ScaleImages(context.Context, string, string, video.Size) error {
	return errors.New("not used")
}

// countingMethod wraps a frame method and counts computations.
type countingMethod struct {
	saliency.FrameComputer
	calls int32
}

func (m *countingMethod) ComputeFrame(img image.Image) (*artifact.Artifact, error) {
	atomic.AddInt32(&m.calls, 1)
	return m.FrameComputer.ComputeFrame(img)
}

func newCounting(t *testing.T) *countingMethod {
	t.Helper()
	m, err := saliency.New("contrast", saliency.Options{})
	require.NoError(t, err)
	return &countingMethod{FrameComputer: m.(saliency.FrameComputer)}
}

func tenPTS() []int64 {
	pts := make([]int64, 10)
	for i := range pts {
		pts[i] = int64(i * 10)
	}
	return pts
}

func TestNames(t *testing.T) {
	names := Names([]string{"/k/a/clip01.mp4", "/k/b/clip01.mp4", "/k/b/clip02.mp4"})
	assert.Equal(t, "clip02", names[2])
	assert.Len(t, names[0], 16)
	assert.NotEqual(t, names[0], names[1])
	assert.NotEqual(t, "clip01", names[0])
	assert.Equal(t, "b", Label("/k/b/clip01.mp4"))
}

func TestClipsWindows(t *testing.T) {
	meta := &Metadata{
		VideoPaths: []string{"a.mp4", "short.mp4", "b.mp4"},
		VideoPTS:   [][]int64{{0, 1, 2, 3, 4}, {0, 1}, {0, 5, 10, 15, 20, 25}},
	}
	c, err := NewClips(meta, 3, 2)
	require.NoError(t, err)

	// a: starts 0,2 ; short: none ; b: starts 0,2
	assert.Equal(t, 4, c.NumClips())
	loc, err := c.Location(3)
	require.NoError(t, err)
	assert.Equal(t, Location{Video: 2, Clip: 1}, loc)
	assert.Equal(t, []int64{10, 15, 20}, c.ClipPTS(loc))

	loc, err = c.Location(1)
	require.NoError(t, err)
	assert.Equal(t, Location{Video: 0, Clip: 1}, loc)
	first, last := c.Span(loc)
	assert.Equal(t, [2]int{2, 4}, [2]int{first, last})

	_, err = c.Location(4)
	assert.Error(t, err)
	_, err = NewClips(meta, 0, 1)
	assert.Error(t, err)
}

func TestResolveScenario(t *testing.T) {
	root := t.TempDir()
	meta := &Metadata{VideoPaths: []string{"/k/clip01.mp4"}, VideoPTS: [][]int64{tenPTS()}}
	clips, err := NewClips(meta, 3, 1)
	require.NoError(t, err)
	store := cache.New(root)
	method := newCounting(t)
	res, err := NewResolver(store, clips, Names(meta.VideoPaths), method)
	require.NoError(t, err)

	dec := &fakeDecoder{pts: map[string][]int64{"/k/clip01.mp4": tenPTS()}}
	src := NewFFmpegSource(clips, dec)
	ctx := context.Background()

	loc := Location{Video: 0, Clip: 2}
	require.Equal(t, []int64{20, 30, 40}, clips.ClipPTS(loc))
	c, err := src.GetClip(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{2, 4}}, dec.ranges)

	first, err := res.Resolve(ctx, c.Frames, loc)
	require.NoError(t, err)
	require.Len(t, first, 3)
	for _, n := range []string{"2.png", "3.png", "4.png"} {
		_, err := os.Stat(filepath.Join(root, "clip01", n))
		assert.NoError(t, err, n)
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&method.calls))

	second, err := res.Resolve(ctx, c.Frames, loc)
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&method.calls))
	for i := range first {
		assert.Equal(t, first[i].Pix, second[i].Pix)
	}

	// An overlapping clip only computes its new frame.
	c3, err := src.GetClip(ctx, 3)
	require.NoError(t, err)
	_, err = res.Resolve(ctx, c3.Frames, c3.Location)
	require.NoError(t, err)
	assert.Equal(t, int32(4), atomic.LoadInt32(&method.calls))
}

func TestResolverRejectsSequenceMethod(t *testing.T) {
	meta := &Metadata{VideoPaths: []string{"a.mp4"}, VideoPTS: [][]int64{tenPTS()}}
	clips, err := NewClips(meta, 2, 1)
	require.NoError(t, err)
	m, err := saliency.New("motion", saliency.Options{})
	require.NoError(t, err)
	_, err = NewResolver(cache.New(t.TempDir()), clips, []string{"a"}, m)
	assert.Error(t, err)
}

func TestResolveInconsistentTimestamps(t *testing.T) {
	meta := &Metadata{VideoPaths: []string{"a.mp4"}, VideoPTS: [][]int64{{0, 10, 10, 20}}}
	clips, err := NewClips(meta, 2, 1)
	require.NoError(t, err)
	res, err := NewResolver(cache.New(t.TempDir()), clips, []string{"a"}, newCounting(t))
	require.NoError(t, err)

	frames := []image.Image{image.NewGray(image.Rect(0, 0, 2, 2)), image.NewGray(image.Rect(0, 0, 2, 2))}
	_, err = res.Resolve(context.Background(), frames, Location{Video: 0, Clip: 0})
	assert.Error(t, err)

	_, err = res.Resolve(context.Background(), frames[:1], Location{Video: 0, Clip: 0})
	assert.Error(t, err)
}

func TestResolveCorruptEntry(t *testing.T) {
	root := t.TempDir()
	meta := &Metadata{VideoPaths: []string{"/k/v.mp4"}, VideoPTS: [][]int64{tenPTS()}}
	clips, _ := NewClips(meta, 2, 1)
	res, err := NewResolver(cache.New(root), clips, []string{"v"}, newCounting(t))
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "v"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "v", "1.png"), []byte("junk"), 0644))

	dec := &fakeDecoder{pts: map[string][]int64{"/k/v.mp4": tenPTS()}}
	c, err := NewFFmpegSource(clips, dec).GetClip(context.Background(), 0)
	require.NoError(t, err)
	_, err = res.Resolve(context.Background(), c.Frames, c.Location)
	assert.ErrorIs(t, err, cache.ErrCorrupt)
}

func TestFFmpegSourceDecodeFailure(t *testing.T) {
	meta := &Metadata{VideoPaths: []string{"/k/bad.mp4"}, VideoPTS: [][]int64{tenPTS()}}
	clips, _ := NewClips(meta, 2, 1)
	dec := &fakeDecoder{broken: map[string]bool{"/k/bad.mp4": true}}
	_, err := NewFFmpegSource(clips, dec).GetClip(context.Background(), 0)
	assert.ErrorIs(t, err, ErrDecode)
}

// flakySource fails with ErrDecode for the indices in fail and with the
// given error for the indices in errs.
type flakySource struct {
	inner Source
	fail  map[int]bool
	errs  map[int]error

	mu    sync.Mutex
	calls []int
}

func (s *flakySource) NumClips() int { return s.inner.NumClips() }

func (s *flakySource) GetClip(ctx context.Context, idx int) (*Clip, error) {
	s.mu.Lock()
	s.calls = append(s.calls, idx)
	s.mu.Unlock()
	if s.fail[idx] {
		return nil, fmt.Errorf("%w: clip %d", ErrDecode, idx)
	}
	if err, ok := s.errs[idx]; ok {
		return nil, err
	}
	return s.inner.GetClip(ctx, idx)
}

func newDataset(t *testing.T, fail map[int]bool, maxAttempts int) (*Dataset, *flakySource) {
	t.Helper()
	paths := []string{"/k/jump/a.mp4", "/k/run/b.mp4"}
	meta := &Metadata{VideoPaths: paths, VideoPTS: [][]int64{tenPTS(), tenPTS()}}
	clips, err := NewClips(meta, 4, 2)
	require.NoError(t, err)
	res, err := NewResolver(cache.New(t.TempDir()), clips, Names(paths), newCounting(t))
	require.NoError(t, err)
	dec := &fakeDecoder{pts: map[string][]int64{paths[0]: tenPTS(), paths[1]: tenPTS()}}
	src := &flakySource{inner: NewFFmpegSource(clips, dec), fail: fail}
	return NewDataset(src, res, DatasetOptions{MaxAttempts: maxAttempts, Seed: 1, Logger: zerolog.Nop()}), src
}

func TestDatasetGet(t *testing.T) {
	ds, _ := newDataset(t, nil, 0)
	assert.Equal(t, 8, ds.Len())

	s, err := ds.Get(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 5, s.Index)
	assert.Equal(t, Location{Video: 1, Clip: 1}, s.Location)
	assert.Equal(t, "run", s.Label)
	assert.Len(t, s.Frames, 4)
	assert.Len(t, s.Saliency, 4)
	assert.Equal(t, 1, s.Attempts)
}

func TestDatasetResamplesOnDecodeFailure(t *testing.T) {
	ds, src := newDataset(t, map[int]bool{0: true, 1: true}, 10)
	s, err := ds.Get(context.Background(), 0)
	require.NoError(t, err)
	assert.NotEqual(t, 0, s.Index)
	assert.GreaterOrEqual(t, s.Attempts, 2)

	seen := map[int]bool{}
	for _, idx := range src.calls {
		assert.False(t, seen[idx], "index %d retried", idx)
		seen[idx] = true
	}
}

func TestDatasetRetriesExhausted(t *testing.T) {
	all := map[int]bool{}
	for i := 0; i < 8; i++ {
		all[i] = true
	}

	ds, src := newDataset(t, all, 3)
	_, err := ds.Get(context.Background(), 2)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, ErrDecode)
	assert.Len(t, src.calls, 3)

	// A budget larger than the dataset stops once every clip was tried.
	ds, src = newDataset(t, all, 50)
	_, err = ds.Get(context.Background(), 0)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Len(t, src.calls, 8)
}

func TestDatasetCanceled(t *testing.T) {
	ds, _ := newDataset(t, map[int]bool{0: true}, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ds.Get(ctx, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDatasetWarm(t *testing.T) {
	ds, _ := newDataset(t, nil, 0)
	var last int32
	rep, err := ds.Warm(context.Background(), 5, 2, func(done, total int) {
		assert.Equal(t, 5, total)
		atomic.StoreInt32(&last, int32(done))
	})
	require.NoError(t, err)
	assert.Equal(t, 5, rep.Served)
	assert.Zero(t, rep.Failed)
	assert.NotZero(t, atomic.LoadInt32(&last))
}

func TestBuildMetadataSkipsBroken(t *testing.T) {
	dec := &fakeDecoder{
		pts:    map[string][]int64{"a.mp4": {0, 1}, "c.mp4": {5}},
		broken: map[string]bool{"b.mp4": true},
	}
	meta, err := BuildMetadata(context.Background(), dec, []string{"a.mp4", "b.mp4", "c.mp4"}, 2, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, []string{"a.mp4", "c.mp4"}, meta.VideoPaths)
	assert.Equal(t, [][]int64{{0, 1}, {5}}, meta.VideoPTS)

	path := filepath.Join(t.TempDir(), "meta.yaml")
	require.NoError(t, meta.Save(path))
	loaded, err := LoadMetadata(path)
	require.NoError(t, err)
	assert.Equal(t, meta, loaded)
}

func TestOrdinalsRebuiltOnEveryCall(t *testing.T) {
	meta := &Metadata{VideoPaths: []string{"a.mp4"}, VideoPTS: [][]int64{tenPTS()}}
	clips, err := NewClips(meta, 3, 1)
	require.NoError(t, err)
	loc := Location{Video: 0, Clip: 2}

	for i := 0; i < 2; i++ {
		got, err := clips.Ordinals(loc)
		require.NoError(t, err)
		assert.Equal(t, []int{2, 3, 4}, got)
	}

	// A changed timestamp table is picked up immediately.
	meta.VideoPTS[0][1], meta.VideoPTS[0][2] = meta.VideoPTS[0][2], meta.VideoPTS[0][1]
	got, err := clips.Ordinals(Location{Video: 0, Clip: 0})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, got)

	meta.VideoPTS[0][5] = meta.VideoPTS[0][4]
	_, err = clips.Ordinals(loc)
	assert.Error(t, err)
}

func TestDatasetDoesNotResampleLookupErrors(t *testing.T) {
	ds, src := newDataset(t, nil, 10)
	src.errs = map[int]error{3: &frameindex.LookupError{PTS: 70}}

	_, err := ds.Get(context.Background(), 3)
	var le *frameindex.LookupError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, int64(70), le.PTS)
	assert.NotErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, []int{3}, src.calls)
}

func TestDatasetDuplicateTimestampsPropagate(t *testing.T) {
	paths := []string{"/k/jump/a.mp4", "/k/run/b.mp4"}
	meta := &Metadata{VideoPaths: paths, VideoPTS: [][]int64{{0, 10, 10, 20}, tenPTS()}}
	clips, err := NewClips(meta, 2, 1)
	require.NoError(t, err)
	res, err := NewResolver(cache.New(t.TempDir()), clips, Names(paths), newCounting(t))
	require.NoError(t, err)
	dec := &fakeDecoder{pts: map[string][]int64{paths[0]: meta.VideoPTS[0], paths[1]: tenPTS()}}
	src := &flakySource{inner: NewFFmpegSource(clips, dec)}
	ds := NewDataset(src, res, DatasetOptions{MaxAttempts: 10, Seed: 1, Logger: zerolog.Nop()})

	s, err := ds.Get(context.Background(), 0)
	assert.Nil(t, s)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDecode)
	assert.NotErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, []int{0}, src.calls)
	assert.Empty(t, dec.ranges)
}
