// Package cache persists per-frame saliency artifacts under
// {root}/{video}/{frame}.{ext}. File existence is the only record that a
// frame has been computed.
package cache

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/ivlev/salcache/internal/artifact"
	"github.com/ivlev/salcache/internal/metrics"
)

// ErrCorrupt marks a cache file that exists but cannot be decoded. It is
// never regenerated automatically.
var ErrCorrupt = errors.New("cache: corrupt artifact")

// FrameIdentity names one cached frame. Video may contain slashes when the
// cache mirrors a corpus tree.
type FrameIdentity struct {
	Video string
	Frame int
}

func (id FrameIdentity) String() string {
	return id.Video + "#" + strconv.Itoa(id.Frame)
}

// ComputeFunc produces the saliency artifact for one frame.
type ComputeFunc func(frame image.Image) (*artifact.Artifact, error)

type Store struct {
	root   string
	format artifact.Format
	opts   artifact.Options
	logger zerolog.Logger
	group  singleflight.Group
}

type Option func(*Store)

func WithFormat(f artifact.Format) Option {
	return func(s *Store) { s.format = f }
}

func WithJPEGQuality(q int) Option {
	return func(s *Store) { s.opts.Quality = q }
}

func WithNormalization(n artifact.Normalization) Option {
	return func(s *Store) { s.opts.Normalization = n }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New returns a PNG, min-max normalized store rooted at root.
func New(root string, opts ...Option) *Store {
	s := &Store{
		root:   filepath.Clean(root),
		format: artifact.PNG,
		opts:   artifact.Options{Normalization: artifact.MinMax, Quality: artifact.DefaultJPEGQuality},
		logger: zerolog.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) Root() string                 { return s.root }
func (s *Store) Format() artifact.Format      { return s.format }
func (s *Store) VideoDir(video string) string { return filepath.Join(s.root, video) }

func (s *Store) Path(id FrameIdentity) string {
	return filepath.Join(s.root, id.Video, strconv.Itoa(id.Frame)+"."+s.format.Ext())
}

// Lookup reports whether the frame has a file in the cache.
func (s *Store) Lookup(id FrameIdentity) (bool, error) {
	_, err := os.Stat(s.Path(id))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Load decodes a cached artifact. A missing file returns an error matching
// os.ErrNotExist; an undecodable one matches ErrCorrupt.
func (s *Store) Load(id FrameIdentity) (*artifact.Artifact, error) {
	path := s.Path(id)
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	a, err := artifact.Decode(f, s.format)
	if err != nil {
		metrics.CacheLookups.WithLabelValues("corrupt").Inc()
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	return a, nil
}

// EnsureVideoDir creates the video directory if needed and reports whether
// it was already there. Safe to race with other creators.
func (s *Store) EnsureVideoDir(video string) (bool, error) {
	dir := s.VideoDir(video)
	if fi, err := os.Stat(dir); err == nil {
		if !fi.IsDir() {
			return false, fmt.Errorf("cache: %s is not a directory", dir)
		}
		return true, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false, err
	}
	return false, nil
}

// Put normalizes and writes a atomically. Readers never observe a partial
// file at Path(id).
func (s *Store) Put(id FrameIdentity, a *artifact.Artifact) error {
	dir := s.VideoDir(id.Video)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if err := writeAtomic(dir, filepath.Base(s.Path(id)), func(f *os.File) error {
		return artifact.Encode(f, a, s.format, s.opts)
	}); err != nil {
		return fmt.Errorf("cache: write %s: %w", id, err)
	}
	metrics.ArtifactsWritten.Inc()
	return nil
}

// GetOrGenerate returns the cached artifact for id, computing and persisting
// it from frame on a miss. The returned value equals what a later Load
// yields. Concurrent misses for the same id run compute once.
func (s *Store) GetOrGenerate(id FrameIdentity, frame image.Image, compute ComputeFunc) (*artifact.Artifact, error) {
	ok, err := s.Lookup(id)
	if err != nil {
		return nil, err
	}
	if ok {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return s.Load(id)
	}

	v, err, shared := s.group.Do(s.Path(id), func() (interface{}, error) {
		// A flight that finished just before this one may have written it.
		if ok, err := s.Lookup(id); err != nil {
			return nil, err
		} else if ok {
			metrics.CacheLookups.WithLabelValues("hit").Inc()
			return s.Load(id)
		}

		metrics.CacheLookups.WithLabelValues("miss").Inc()
		a, err := compute(frame)
		if err != nil {
			return nil, fmt.Errorf("cache: compute %s: %w", id, err)
		}
		if err := s.Put(id, a); err != nil {
			return nil, err
		}
		s.logger.Debug().Str("video", id.Video).Int("frame", id.Frame).Msg("artifact generated")

		switch {
		case s.format == artifact.Flow:
			return a.Clone(), nil
		case s.format.Lossless():
			return s.opts.Normalization.Quantize(a), nil
		default:
			return s.Load(id)
		}
	})
	if err != nil {
		return nil, err
	}
	a := v.(*artifact.Artifact)
	if shared {
		a = a.Clone()
	}
	return a, nil
}
