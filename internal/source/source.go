// Package source reads frames stored as numbered image files.
package source

import (
	"image"
)

// Source is an ordered, random-access sequence of frames.
type Source interface {
	FrameCount() int
	Dimensions(index int) (width, height int, err error)
	Frame(index int) (image.Image, error)
	Close() error
}

var _ Source = (*ImageSource)(nil)
