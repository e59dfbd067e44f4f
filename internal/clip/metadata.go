// Package clip serves fixed-length video clips together with their cached
// per-frame saliency maps.
package clip

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/ivlev/salcache/internal/video"
)

// Metadata is the per-video timestamp list clips are cut from. VideoPTS[i]
// belongs to VideoPaths[i].
type Metadata struct {
	VideoPaths []string  `yaml:"video_paths"`
	VideoPTS   [][]int64 `yaml:"video_pts"`
}

// BuildMetadata probes every video's frame timestamps. Videos that cannot
// be probed are left out with a warning.
func BuildMetadata(ctx context.Context, dec video.Decoder, paths []string, workers int, logger zerolog.Logger) (*Metadata, error) {
	pts := make([][]int64, len(paths))
	ok := make([]bool, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, p := range paths {
		g.Go(func() error {
			v, err := dec.ProbePTS(ctx, p)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Warn().Err(err).Str("video", p).Msg("skipping unreadable video")
				return nil
			}
			pts[i], ok[i] = v, true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	meta := &Metadata{}
	for i, p := range paths {
		if ok[i] {
			meta.VideoPaths = append(meta.VideoPaths, p)
			meta.VideoPTS = append(meta.VideoPTS, pts[i])
		}
	}
	return meta, nil
}

func (m *Metadata) Save(path string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// LoadMetadata reads metadata written by Save, so a corpus is probed once.
func LoadMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Metadata
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("clip: parse metadata %s: %w", path, err)
	}
	if len(m.VideoPaths) != len(m.VideoPTS) {
		return nil, fmt.Errorf("clip: metadata %s: %d paths but %d pts lists", path, len(m.VideoPaths), len(m.VideoPTS))
	}
	return &m, nil
}
