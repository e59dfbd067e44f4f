package clip

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ivlev/salcache/internal/artifact"
	"github.com/ivlev/salcache/internal/metrics"
)

// ErrRetriesExhausted is returned when no clip could be decoded within the
// attempt budget.
var ErrRetriesExhausted = errors.New("clip: retries exhausted")

// DefaultMaxAttempts bounds how many clips Get tries per call.
const DefaultMaxAttempts = 10

type Sample struct {
	// Index is the clip actually served; it differs from the requested
	// index after a resample.
	Index    int
	Location Location
	Label    string
	Frames   []image.Image
	Saliency []*artifact.Artifact
	Attempts int
}

type DatasetOptions struct {
	MaxAttempts int
	Seed        int64
	Logger      zerolog.Logger
}

type Dataset struct {
	source      Source
	resolver    *Resolver
	clips       *Clips
	maxAttempts int
	logger      zerolog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

func NewDataset(src Source, resolver *Resolver, opts DatasetOptions) *Dataset {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	return &Dataset{
		source:      src,
		resolver:    resolver,
		clips:       resolver.clips,
		maxAttempts: opts.MaxAttempts,
		logger:      opts.Logger,
		rng:         rand.New(rand.NewSource(opts.Seed)),
	}
}

func (d *Dataset) Len() int { return d.source.NumClips() }

// next picks an index not in tried, or -1 when every index was tried.
func (d *Dataset) next(tried map[int]bool) int {
	n := d.Len()
	if len(tried) >= n {
		return -1
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for {
		if i := d.rng.Intn(n); !tried[i] {
			return i
		}
	}
}

// Get returns clip idx with its saliency stack. If the clip cannot be
// decoded (ErrDecode), another untried clip is drawn at random, up to
// MaxAttempts clips in total. Every other error, including timestamp
// inconsistencies and saliency failures, is returned as is.
func (d *Dataset) Get(ctx context.Context, idx int) (*Sample, error) {
	if idx < 0 || idx >= d.Len() {
		return nil, fmt.Errorf("clip: index %d out of range [0,%d)", idx, d.Len())
	}

	tried := make(map[int]bool)
	var lastErr error
	cur := idx
	for attempt := 1; attempt <= d.maxAttempts && cur >= 0; attempt++ {
		tried[cur] = true
		c, err := d.source.GetClip(ctx, cur)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !errors.Is(err, ErrDecode) {
				return nil, err
			}
			lastErr = err
			metrics.ClipResamples.Inc()
			d.logger.Warn().Err(err).Int("clip", cur).Msg("skipped video clip")
			cur = d.next(tried)
			continue
		}

		sal, err := d.resolver.Resolve(ctx, c.Frames, c.Location)
		if err != nil {
			return nil, err
		}
		return &Sample{
			Index:    cur,
			Location: c.Location,
			Label:    Label(d.clips.VideoPath(c.Location.Video)),
			Frames:   c.Frames,
			Saliency: sal,
			Attempts: attempt,
		}, nil
	}
	return nil, fmt.Errorf("%w after %d clips: %w", ErrRetriesExhausted, len(tried), lastErr)
}

// WarmReport summarizes a Warm pass.
type WarmReport struct {
	Requested int
	Served    int
	Failed    int
}

// Warm loads the first limit clips (all when limit <= 0) with up to workers
// in parallel, filling the cache for every frame they touch. Per-clip
// failures are counted, not returned; cache corruption and cancellation
// stop the pass.
func (d *Dataset) Warm(ctx context.Context, limit, workers int, progress func(done, total int)) (*WarmReport, error) {
	total := d.Len()
	if limit > 0 && limit < total {
		total = limit
	}
	rep := &WarmReport{Requested: total}

	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	var served, failed, done int64
	for i := 0; i < total; i++ {
		g.Go(func() error {
			_, err := d.Get(ctx, i)
			switch {
			case err == nil:
				atomic.AddInt64(&served, 1)
			case errors.Is(err, ErrRetriesExhausted):
				atomic.AddInt64(&failed, 1)
			default:
				return fmt.Errorf("clip %d: %w", i, err)
			}
			if progress != nil {
				progress(int(atomic.AddInt64(&done, 1)), total)
			}
			return nil
		})
	}
	err := g.Wait()
	rep.Served, rep.Failed = int(served), int(failed)
	return rep, err
}
