package batch

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/salcache/internal/artifact"
	"github.com/ivlev/salcache/internal/cache"
	"github.com/ivlev/salcache/internal/config"
	"github.com/ivlev/salcache/internal/saliency"
	"github.com/ivlev/salcache/internal/source"
	"github.com/ivlev/salcache/internal/video"
)

const srcW, srcH = 16, 12

// fakeDecoder produces four synthetic frames per video and records which
// videos were touched.
type fakeDecoder struct {
	broken map[string]bool
	block  bool

	mu    sync.Mutex
	calls map[string]int
}

func newFakeDecoder() *fakeDecoder {
	return &fakeDecoder{broken: map[string]bool{}, calls: map[string]int{}}
}

func (f *fakeDecoder) touch(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[filepath.Base(path)]++
	if f.broken[filepath.Base(path)] {
		return fmt.Errorf("%w: %s", video.ErrDecode, path)
	}
	return nil
}

func (f *fakeDecoder) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func frame(i int, size video.Size) *image.RGBA {
	if size.IsZero() {
		size = video.Size{Width: srcW, Height: srcH}
	}
	img := image.NewRGBA(image.Rect(0, 0, size.Width, size.Height))
	for y := 0; y < size.Height; y++ {
		for x := 0; x < size.Width; x++ {
			v := uint8((x*16 + y*8 + i*40) % 256)
			img.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func (f *fakeDecoder) Probe(_ context.Context, path string) (*video.Info, error) {
	if err := f.touch(path); err != nil {
		return nil, err
	}
	return &video.Info{Path: path, Width: srcW, Height: srcH, FrameCount: 4}, nil
}

func (f *fakeDecoder) ProbePTS(_ context.Context, path string) ([]int64, error) {
	if err := f.touch(path); err != nil {
		return nil, err
	}
	return []int64{0, 1, 2, 3}, nil
}

func (f *fakeDecoder) DecodeFrames(ctx context.Context, path string, size video.Size) ([]image.Image, error) {
	var out []image.Image
	err := f.DecodeEach(ctx, path, size, func(_ int, img *image.RGBA) error {
		out = append(out, img)
		return nil
	})
	return out, err
}

func (f *fakeDecoder) DecodeEach(ctx context.Context, path string, size video.Size, fn func(int, *image.RGBA) error) error {
	if err := f.touch(path); err != nil {
		return err
	}
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	for i := 0; i < 4; i++ {
		if err := fn(i, frame(i, size)); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeDecoder) DecodeRange(ctx context.Context, path string, first, last int) ([]image.Image, error) {
	frames, err := f.DecodeFrames(ctx, path, video.Size{})
	if err != nil {
		return nil, err
	}
	return frames[first : last+1], nil
}

func writeJPEG(path string, img image.Image) error {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

func (f *fakeDecoder) ExtractFrames(_ context.Context, path, dir string, size video.Size) (int, error) {
	if err := f.touch(path); err != nil {
		return 0, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, err
	}
	for i := 0; i < 4; i++ {
		if err := writeJPEG(filepath.Join(dir, fmt.Sprintf("%d.jpg", i)), frame(i, size)); err != nil {
			return 0, err
		}
	}
	return 4, nil
}

func (f *fakeDecoder) ScaleImages(_ context.Context, dir, scratch string, size video.Size) error {
	src, err := source.NewImageSource(dir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(scratch, 0755); err != nil {
		return err
	}
	for i := 0; i < src.FrameCount(); i++ {
		img, err := src.Frame(i)
		if err != nil {
			return err
		}
		tmp := filepath.Join(scratch, filepath.Base(src.Path(i)))
		if err := writeJPEG(tmp, artifact.ResizeImage(img, size.Width, size.Height)); err != nil {
			return err
		}
		if err := os.Rename(tmp, src.Path(i)); err != nil {
			return err
		}
	}
	return nil
}

type fixture struct {
	data, cache, staging string
	dec                  *fakeDecoder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fx := &fixture{data: t.TempDir(), cache: t.TempDir(), staging: t.TempDir(), dec: newFakeDecoder()}
	for _, rel := range []string{"a/A.mp4", "b/B.mp4", "c/C.mp4"} {
		p := filepath.Join(fx.data, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte("video"), 0644))
	}
	return fx
}

func (fx *fixture) options(mode ResumeMode) Options {
	return Options{
		DataPath:    fx.data,
		Extension:   "mp4",
		BatchSize:   2,
		Workers:     2,
		Rescale:     1,
		Resume:      mode,
		JobTimeout:  time.Minute,
		StagingDirs: []string{fx.staging},
	}
}

func (fx *fixture) store(f artifact.Format) *cache.Store {
	return cache.New(fx.cache, cache.WithFormat(f), cache.WithNormalization(artifact.Clamp))
}

func method(t *testing.T, name string, opts saliency.Options) saliency.Method {
	t.Helper()
	m, err := saliency.New(name, opts)
	require.NoError(t, err)
	return m
}

func run(t *testing.T, opts Options, dec video.Decoder, store *cache.Store, m saliency.Method) *Report {
	t.Helper()
	rep, err := NewDriver(opts, dec, store, m, zerolog.Nop()).Run(context.Background())
	require.NoError(t, err)
	return rep
}

func jobByName(rep *Report, name string) *Job {
	for _, j := range rep.Jobs {
		if j.Name == name {
			return j
		}
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestDirectoryResumeSkipsExisting(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, os.MkdirAll(filepath.Join(fx.cache, "b", "B"), 0755))

	rep := run(t, fx.options(ResumeDirectory), fx.dec, fx.store(artifact.JPEG), method(t, "contrast", saliency.Options{}))

	assert.Equal(t, 3, rep.Total)
	assert.Equal(t, 2, rep.Persisted)
	assert.Equal(t, 1, rep.Skipped)
	assert.Zero(t, rep.Failed)
	assert.Zero(t, fx.dec.count("B.mp4"), "skipped video must not be decoded")
	assert.Equal(t, Skipped, jobByName(rep, filepath.Join("b", "B")).State)

	for _, v := range []string{"a/A", "c/C"} {
		for i := 0; i < 4; i++ {
			assert.True(t, exists(filepath.Join(fx.cache, v, fmt.Sprintf("%d.jpg", i))), "%s frame %d", v, i)
		}
		assert.True(t, exists(filepath.Join(fx.cache, v, cache.ManifestName)))
	}
	entries, err := os.ReadDir(filepath.Join(fx.cache, "b", "B"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDefaultResumeLeavesPartialDestinationUntouched(t *testing.T) {
	fx := newFixture(t)
	partial := filepath.Join(fx.cache, "b", "B")
	require.NoError(t, os.MkdirAll(partial, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(partial, "0.jpg"), []byte("earlier run"), 0644))

	rep := run(t, fx.options(""), fx.dec, fx.store(artifact.JPEG), method(t, "harris", saliency.Options{}))

	assert.Equal(t, 2, rep.Persisted)
	assert.Equal(t, 1, rep.Skipped)
	assert.Zero(t, fx.dec.count("B.mp4"))
	job := jobByName(rep, filepath.Join("b", "B"))
	assert.Equal(t, []State{Discovered, Skipped}, job.History)

	entries, err := os.ReadDir(partial)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data, err := os.ReadFile(filepath.Join(partial, "0.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "earlier run", string(data))
}

func TestManifestResume(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, os.MkdirAll(filepath.Join(fx.cache, "b", "B"), 0755))
	store := fx.store(artifact.JPEG)
	m := method(t, "harris", saliency.Options{})

	rep := run(t, fx.options(ResumeManifest), fx.dec, store, m)
	assert.Equal(t, 3, rep.Persisted, "a directory without manifest is reprocessed")

	before := fx.dec.count("A.mp4")
	rep = run(t, fx.options(ResumeManifest), fx.dec, store, m)
	assert.Equal(t, 3, rep.Skipped)
	assert.Equal(t, before, fx.dec.count("A.mp4"))

	require.NoError(t, os.Remove(filepath.Join(fx.cache, "a", "A", "2.jpg")))
	rep = run(t, fx.options(ResumeManifest), fx.dec, store, m)
	assert.Equal(t, 1, rep.Persisted)
	assert.Equal(t, 2, rep.Skipped)
	assert.True(t, exists(filepath.Join(fx.cache, "a", "A", "2.jpg")))

	v, err := store.VerifyManifest(filepath.Join("a", "A"))
	require.NoError(t, err)
	assert.True(t, v.OK())
}

func TestSequenceMethodStates(t *testing.T) {
	fx := newFixture(t)
	opts := fx.options(ResumeManifest)
	opts.Rescale = 0.5
	store := fx.store(artifact.PNG)

	rep := run(t, opts, fx.dec, store, method(t, "motion", saliency.Options{}))
	job := jobByName(rep, filepath.Join("a", "A"))
	require.NotNil(t, job)
	assert.Equal(t, []State{Discovered, Decoded, Computed, Rescaled, Persisted}, job.History)
	assert.Equal(t, 4, job.Frames)

	a, err := store.Load(cache.FrameIdentity{Video: job.Name, Frame: 3})
	require.NoError(t, err)
	assert.Equal(t, [2]int{srcW, srcH}, [2]int{a.Width, a.Height})
}

func TestSaveScaledKeepsScaledSize(t *testing.T) {
	fx := newFixture(t)
	opts := fx.options(ResumeManifest)
	opts.Rescale = 0.5
	opts.SaveScaled = true
	store := fx.store(artifact.PNG)

	rep := run(t, opts, fx.dec, store, method(t, "contrast", saliency.Options{}))
	job := jobByName(rep, filepath.Join("c", "C"))
	assert.Equal(t, []State{Discovered, Decoded, Computed, Persisted}, job.History)

	a, err := store.Load(cache.FrameIdentity{Video: job.Name, Frame: 0})
	require.NoError(t, err)
	assert.Equal(t, [2]int{srcW / 2, srcH / 2}, [2]int{a.Width, a.Height})
}

func TestFrameMethodRestoresSize(t *testing.T) {
	fx := newFixture(t)
	opts := fx.options(ResumeManifest)
	opts.Rescale = 0.5
	store := fx.store(artifact.PNG)

	run(t, opts, fx.dec, store, method(t, "contrast", saliency.Options{}))
	a, err := store.Load(cache.FrameIdentity{Video: filepath.Join("b", "B"), Frame: 1})
	require.NoError(t, err)
	assert.Equal(t, [2]int{srcW, srcH}, [2]int{a.Width, a.Height})
}

func TestFlowNeedsFlowStore(t *testing.T) {
	fx := newFixture(t)
	m := method(t, "flow", saliency.Options{})

	_, err := NewDriver(fx.options(ResumeManifest), fx.dec, fx.store(artifact.PNG), m, zerolog.Nop()).Run(context.Background())
	assert.Error(t, err)

	rep := run(t, fx.options(ResumeManifest), fx.dec, fx.store(artifact.Flow), m)
	assert.Equal(t, 3, rep.Persisted)
	assert.True(t, exists(filepath.Join(fx.cache, "a", "A", "0.flo")))
}

func TestDecodeFailureDoesNotStopRun(t *testing.T) {
	fx := newFixture(t)
	fx.dec.broken["B.mp4"] = true

	rep := run(t, fx.options(ResumeManifest), fx.dec, fx.store(artifact.JPEG), method(t, "contrast", saliency.Options{}))
	assert.Equal(t, 2, rep.Persisted)
	assert.Equal(t, 1, rep.Failed)

	job := jobByName(rep, filepath.Join("b", "B"))
	assert.Equal(t, Failed, job.State)
	assert.ErrorIs(t, job.Err, video.ErrDecode)
	assert.False(t, exists(filepath.Join(fx.cache, "b", "B", cache.ManifestName)))
}

func TestJobTimeout(t *testing.T) {
	fx := newFixture(t)
	fx.dec.block = true
	opts := fx.options(ResumeManifest)
	opts.JobTimeout = 50 * time.Millisecond

	rep := run(t, opts, fx.dec, fx.store(artifact.JPEG), method(t, "contrast", saliency.Options{}))
	assert.Equal(t, 3, rep.Failed)
	for _, j := range rep.Jobs {
		assert.ErrorIs(t, j.Err, context.DeadlineExceeded)
	}
}

func skipIfNoShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func externalMethod(t *testing.T, command ...string) saliency.Method {
	return method(t, "tool", saliency.Options{External: map[string]config.ExternalMethod{
		"tool": {Command: command, Ext: "jpg"},
	}})
}

func stagingEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "staging directories left behind")
}

func TestStagedFailureCleansUp(t *testing.T) {
	skipIfNoShell(t)
	fx := newFixture(t)

	rep := run(t, fx.options(ResumeManifest), fx.dec, fx.store(artifact.JPEG), externalMethod(t, "sh", "-c", "exit 1"))
	assert.Equal(t, 3, rep.Failed)
	for _, j := range rep.Jobs {
		assert.ErrorIs(t, j.Err, saliency.ErrExternalTool)
		assert.Contains(t, j.History, TempCleanedUp)
		assert.False(t, exists(filepath.Join(fx.cache, j.Name, cache.ManifestName)))
	}
	stagingEmpty(t, fx.staging)
}

func TestStagedUnreadableOutputFails(t *testing.T) {
	skipIfNoShell(t)
	fx := newFixture(t)

	rep := run(t, fx.options(ResumeManifest), fx.dec, fx.store(artifact.JPEG), externalMethod(t, "sh", "-c", "echo garbage > {output}/0.jpg"))
	assert.Equal(t, 3, rep.Failed)
	for _, j := range rep.Jobs {
		assert.ErrorIs(t, j.Err, saliency.ErrExternalTool)
		assert.NotContains(t, j.History, OutputCollected)
		assert.Contains(t, j.History, TempCleanedUp)
	}
	stagingEmpty(t, fx.staging)
}

func TestStagedRescaleBack(t *testing.T) {
	skipIfNoShell(t)
	fx := newFixture(t)
	opts := fx.options(ResumeManifest)
	opts.Rescale = 0.5

	rep := run(t, opts, fx.dec, fx.store(artifact.JPEG), externalMethod(t, "sh", "-c", "cp {input}/*.jpg {output}/"))
	require.Equal(t, 3, rep.Persisted)

	job := jobByName(rep, filepath.Join("a", "A"))
	assert.Equal(t, []State{Discovered, FramesExtracted, ExternalInvoked, OutputCollected, RescaledBack, TempCleanedUp, Persisted}, job.History)
	assert.Equal(t, 4, job.Frames)

	src, err := source.NewImageSource(filepath.Join(fx.cache, "a", "A"))
	require.NoError(t, err)
	require.Equal(t, 4, src.FrameCount())
	w, h, err := src.Dimensions(0)
	require.NoError(t, err)
	assert.Equal(t, [2]int{srcW, srcH}, [2]int{w, h})

	stagingEmpty(t, fx.staging)
}

func TestStagedNeedsMatchingStore(t *testing.T) {
	fx := newFixture(t)
	_, err := NewDriver(fx.options(ResumeManifest), fx.dec, fx.store(artifact.PNG), externalMethod(t, "true"), zerolog.Nop()).Run(context.Background())
	assert.Error(t, err)
}

func TestConsoleObserver(t *testing.T) {
	fx := newFixture(t)
	fx.dec.broken["C.mp4"] = true
	var buf bytes.Buffer

	d := NewDriver(fx.options(ResumeManifest), fx.dec, fx.store(artifact.JPEG), method(t, "contrast", saliency.Options{}), zerolog.Nop())
	d.SetObserver(NewConsoleObserver(&buf))
	_, err := d.Run(context.Background())
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "[*] Run ")
	assert.Contains(t, out, "[>] Ready: ")
	assert.Contains(t, out, "[!] skipped video clip "+filepath.Join("c", "C.mp4"))

	// Three videos in batches of two.
	assert.Equal(t, 2, strings.Count(out, "[*] Batch "))
	assert.Contains(t, out, "[*] Batch 1/2 done\n")
	assert.Contains(t, out, "[*] Batch 2/2 done\n")
}

func TestCanceledRun(t *testing.T) {
	fx := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep, err := NewDriver(fx.options(ResumeManifest), fx.dec, fx.store(artifact.JPEG), method(t, "contrast", saliency.Options{}), zerolog.Nop()).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, rep)
	assert.Equal(t, 3, rep.Failed)
}

func TestParseResumeMode(t *testing.T) {
	m, err := ParseResumeMode("DIRECTORY")
	require.NoError(t, err)
	assert.Equal(t, ResumeDirectory, m)
	m, err = ParseResumeMode("")
	require.NoError(t, err)
	assert.Equal(t, ResumeDirectory, m)
	_, err = ParseResumeMode("sometimes")
	assert.Error(t, err)
}
