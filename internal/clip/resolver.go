package clip

import (
	"context"
	"fmt"
	"image"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ivlev/salcache/internal/artifact"
	"github.com/ivlev/salcache/internal/cache"
	"github.com/ivlev/salcache/internal/saliency"
	"github.com/ivlev/salcache/internal/tracing"
)

// Resolver returns the saliency stack of a decoded clip, computing and
// caching missing frames through the store.
type Resolver struct {
	store  *cache.Store
	clips  *Clips
	names  []string
	method saliency.FrameComputer
	tracer trace.Tracer
}

// NewResolver needs a per-frame method; sequence and directory methods
// cannot fill single cache entries on demand.
func NewResolver(store *cache.Store, clips *Clips, names []string, method saliency.Method) (*Resolver, error) {
	fc, ok := method.(saliency.FrameComputer)
	if !ok {
		return nil, fmt.Errorf("clip: method %q is a %s method, need a per-frame method", method.Name(), method.Kind())
	}
	if len(names) != clips.NumVideos() {
		return nil, fmt.Errorf("clip: %d names for %d videos", len(names), clips.NumVideos())
	}
	return &Resolver{
		store:  store,
		clips:  clips,
		names:  names,
		method: fc,
		tracer: tracing.Tracer("clip"),
	}, nil
}

// Resolve returns one artifact per frame, in clip order. frames must be the
// decoded frames of the clip at loc.
func (r *Resolver) Resolve(ctx context.Context, frames []image.Image, loc Location) ([]*artifact.Artifact, error) {
	ctx, span := r.tracer.Start(ctx, "clip.Resolve", trace.WithAttributes(
		attribute.Int("video", loc.Video),
		attribute.Int("clip", loc.Clip),
	))
	defer span.End()

	pts := r.clips.ClipPTS(loc)
	if len(frames) != len(pts) {
		return nil, fmt.Errorf("clip: %d frames for a %d-frame clip", len(frames), len(pts))
	}
	ordinals, err := r.clips.Ordinals(loc)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	out := make([]*artifact.Artifact, len(frames))
	for i, o := range ordinals {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := cache.FrameIdentity{Video: r.names[loc.Video], Frame: o}
		a, err := r.store.GetOrGenerate(id, frames[i], r.method.ComputeFrame)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		out[i] = a
	}
	return out, nil
}
