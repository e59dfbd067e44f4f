// Package batch precomputes saliency for every video of a corpus, one
// job per video over a bounded worker pool.
package batch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ivlev/salcache/internal/artifact"
	"github.com/ivlev/salcache/internal/cache"
	"github.com/ivlev/salcache/internal/metrics"
	"github.com/ivlev/salcache/internal/saliency"
	"github.com/ivlev/salcache/internal/system"
	"github.com/ivlev/salcache/internal/tracing"
	"github.com/ivlev/salcache/internal/video"
)

type Options struct {
	DataPath    string
	Extension   string
	BatchSize   int
	Workers     int
	Rescale     float64
	SaveScaled  bool
	Resume      ResumeMode
	JobTimeout  time.Duration
	StagingDirs []string
}

// Report summarizes a run. Jobs are in corpus order.
type Report struct {
	RunID     string
	Total     int
	Persisted int
	Skipped   int
	Failed    int
	Jobs      []*Job
	Duration  time.Duration
}

type Driver struct {
	opts     Options
	decoder  video.Decoder
	store    *cache.Store
	method   saliency.Method
	logger   zerolog.Logger
	observer Observer
	tracer   trace.Tracer

	stagingRoot string
}

func NewDriver(opts Options, decoder video.Decoder, store *cache.Store, method saliency.Method, logger zerolog.Logger) *Driver {
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Rescale <= 0 {
		opts.Rescale = 1
	}
	if opts.Resume == "" {
		opts.Resume = ResumeDirectory
	}
	return &Driver{
		opts:     opts,
		decoder:  decoder,
		store:    store,
		method:   method,
		logger:   logger.With().Str("component", "batch").Logger(),
		observer: nopObserver{},
		tracer:   tracing.Tracer("batch"),
	}
}

func (d *Driver) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	d.observer = o
}

// checkStore makes sure artifacts land with the extension the method
// produces.
func (d *Driver) checkStore() error {
	switch m := d.method.(type) {
	case saliency.DirectoryComputer:
		want, err := artifact.FormatFromExt(m.OutputExt())
		if err != nil {
			return err
		}
		if d.store.Format() != want {
			return fmt.Errorf("batch: method %s writes .%s but the cache stores .%s", m.Name(), m.OutputExt(), d.store.Format().Ext())
		}
	case saliency.SequenceComputer:
		if m.Output() == saliency.Flow && d.store.Format() != artifact.Flow {
			return fmt.Errorf("batch: method %s produces flow; cache must store .flo", m.Name())
		}
	default:
		return fmt.Errorf("batch: method %s has no usable capability", d.method.Name())
	}
	return nil
}

// Name is the cache key of a corpus video.
func Name(v system.VideoFile) string {
	return filepath.Join(v.RelDir(), v.Stem)
}

// Run processes the corpus. Per-video failures are recorded in the report
// and never stop the run; only setup errors and cancellation are returned.
func (d *Driver) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	if err := d.checkStore(); err != nil {
		return nil, err
	}
	if d.method.Kind() == saliency.DirectoryKind {
		root, err := system.StagingRoot(d.opts.StagingDirs)
		if err != nil {
			return nil, err
		}
		d.stagingRoot = root
	}

	videos, err := system.ScanVideos(d.opts.DataPath, d.opts.Extension)
	if err != nil {
		return nil, fmt.Errorf("batch: scan %s: %w", d.opts.DataPath, err)
	}

	rep := &Report{RunID: uuid.NewString(), Total: len(videos)}
	for _, v := range videos {
		rep.Jobs = append(rep.Jobs, newJob(uuid.NewString(), v, Name(v)))
	}
	d.logger.Info().
		Str("run", rep.RunID).
		Int("videos", len(videos)).
		Str("method", d.method.Name()).
		Str("kind", d.method.Kind().String()).
		Int("workers", d.opts.Workers).
		Msg("starting run")
	d.observer.RunStarted(rep.RunID, len(videos))

	batches := (len(videos) + d.opts.BatchSize - 1) / d.opts.BatchSize
	var (
		done int64
		mu   sync.Mutex
	)

	var g errgroup.Group
	g.SetLimit(d.opts.Workers)
	for _, job := range rep.Jobs {
		if ctx.Err() != nil {
			job.Started = time.Now()
			job.fail(ctx.Err())
			job.Finished = job.Started
			continue
		}
		g.Go(func() error {
			d.runJob(ctx, rep.RunID, job)

			n := int(atomic.AddInt64(&done, 1))
			mu.Lock()
			d.observer.JobFinished(job, n, len(videos))
			if n%d.opts.BatchSize == 0 || n == len(videos) {
				d.observer.BatchFinished((n+d.opts.BatchSize-1)/d.opts.BatchSize, batches)
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for _, job := range rep.Jobs {
		switch job.State {
		case Persisted:
			rep.Persisted++
		case Skipped:
			rep.Skipped++
		default:
			rep.Failed++
		}
	}
	rep.Duration = time.Since(start)
	d.logger.Info().
		Str("run", rep.RunID).
		Int("persisted", rep.Persisted).
		Int("skipped", rep.Skipped).
		Int("failed", rep.Failed).
		Dur("took", rep.Duration).
		Msg("run finished")
	return rep, ctx.Err()
}

// done reports whether the video can be skipped, creating its destination
// when it is going to be processed.
func (d *Driver) done(job *Job) (bool, error) {
	if d.opts.Resume == ResumeManifest {
		complete, err := d.store.Complete(job.Name)
		if err != nil && !errors.Is(err, cache.ErrCorrupt) {
			return false, err
		}
		if complete {
			return true, nil
		}
		_, err = d.store.EnsureVideoDir(job.Name)
		return false, err
	}
	existed, err := d.store.EnsureVideoDir(job.Name)
	return existed, err
}

func (d *Driver) runJob(ctx context.Context, runID string, job *Job) {
	job.Started = time.Now()
	defer func() { job.Finished = time.Now() }()

	log := d.logger.With().Str("job", job.ID).Str("video", job.Video.RelPath).Logger()

	ctx, span := d.tracer.Start(ctx, "batch.job", trace.WithAttributes(
		attribute.String("video", job.Video.RelPath),
		attribute.String("method", d.method.Name()),
	))
	defer span.End()

	skip, err := d.done(job)
	if err != nil {
		job.fail(err)
		d.finish(span, log, job)
		return
	}
	if skip {
		job.advance(Skipped)
		d.finish(span, log, job)
		return
	}

	if d.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.JobTimeout)
		defer cancel()
	}

	metrics.ActiveJobs.Inc()
	defer metrics.ActiveJobs.Dec()

	strategy := "in_process"
	if dc, ok := d.method.(saliency.DirectoryComputer); ok {
		strategy = "staged"
		err = d.staged(ctx, job, dc)
	} else {
		err = d.inProcess(ctx, job, d.method.(saliency.SequenceComputer))
	}
	metrics.JobDuration.WithLabelValues(strategy).Observe(time.Since(job.Started).Seconds())

	if err == nil {
		err = d.writeManifest(job, runID)
	}
	if err != nil {
		job.fail(err)
	} else {
		job.advance(Persisted)
	}
	d.finish(span, log, job)
}

func (d *Driver) writeManifest(job *Job, runID string) error {
	m, err := d.store.BuildManifest(job.Name, job.Video.AbsPath, d.method.Name())
	if err != nil {
		return err
	}
	m.RunID = runID
	return d.store.WriteManifest(job.Name, m)
}

func (d *Driver) finish(span trace.Span, log zerolog.Logger, job *Job) {
	switch job.State {
	case Failed:
		metrics.JobsTotal.WithLabelValues("failed").Inc()
		span.RecordError(job.Err)
		span.SetStatus(codes.Error, job.Err.Error())
		log.Warn().Err(job.Err).Msg("skipped video clip")
	case Skipped:
		metrics.JobsTotal.WithLabelValues("skipped").Inc()
		log.Debug().Msg("already cached")
	default:
		metrics.JobsTotal.WithLabelValues("persisted").Inc()
		log.Debug().Int("frames", job.Frames).Msg("video cached")
	}
}
