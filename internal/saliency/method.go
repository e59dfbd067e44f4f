// Package saliency holds the closed set of saliency methods. A method is
// selected by name once at startup and exposes exactly one of three
// capabilities depending on its Kind.
package saliency

import (
	"context"
	"errors"
	"image"

	"github.com/ivlev/salcache/internal/artifact"
)

var (
	ErrUnknownMethod = errors.New("saliency: unknown method")
	ErrExternalTool  = errors.New("saliency: external tool failed")
)

type Kind int

const (
	// FrameKind computes one artifact from one frame.
	FrameKind Kind = iota
	// SequenceKind needs the whole frame sequence (motion, flow).
	SequenceKind
	// DirectoryKind runs an external tool over a directory of frame images.
	DirectoryKind
)

func (k Kind) String() string {
	switch k {
	case FrameKind:
		return "frame"
	case SequenceKind:
		return "sequence"
	case DirectoryKind:
		return "directory"
	}
	return "unknown"
}

// Output tells how artifacts are stored.
type Output int

const (
	Raster Output = iota
	Flow
)

// Ext is the cache file extension used for this output, given the
// extension configured for raster artifacts.
func (o Output) Ext(raster string) string {
	if o == Flow {
		return artifact.Flow.Ext()
	}
	return raster
}

type Method interface {
	Name() string
	Kind() Kind
	Output() Output
}

type FrameComputer interface {
	Method
	ComputeFrame(img image.Image) (*artifact.Artifact, error)
}

// SequenceComputer returns one artifact per input frame, in order. Every
// FrameComputer is also a SequenceComputer.
type SequenceComputer interface {
	Method
	ComputeSequence(frames []image.Image) ([]*artifact.Artifact, error)
}

// DirectoryComputer reads numbered frame images from in and writes one
// output image per frame into out.
type DirectoryComputer interface {
	Method
	ComputeDir(ctx context.Context, in, out string) error
	OutputExt() string
}

type frameFunc func(g *plane, img image.Image) *artifact.Artifact

// frameMethod adapts a per-frame function to both frame and sequence use.
type frameMethod struct {
	name    string
	compute frameFunc
}

func (m *frameMethod) Name() string   { return m.name }
func (m *frameMethod) Kind() Kind     { return FrameKind }
func (m *frameMethod) Output() Output { return Raster }

func (m *frameMethod) ComputeFrame(img image.Image) (*artifact.Artifact, error) {
	if img == nil {
		return nil, errors.New("saliency: nil frame")
	}
	return m.compute(grayPlane(img), img), nil
}

func (m *frameMethod) ComputeSequence(frames []image.Image) ([]*artifact.Artifact, error) {
	out := make([]*artifact.Artifact, len(frames))
	for i, f := range frames {
		a, err := m.ComputeFrame(f)
		if err != nil {
			return nil, err
		}
		out[i] = a
	}
	return out, nil
}
