package artifact

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"strings"
)

type Format int

const (
	PNG Format = iota
	JPEG
	Flow
)

// flowMagic is the Middlebury .flo tag ("PIEH" read as a float32).
const flowMagic float32 = 202021.25

// flowChunk is the number of float32 values decoded per read.
const flowChunk = 1 << 16

// DefaultJPEGQuality matches the quality used for batch-generated frames.
const DefaultJPEGQuality = 50

var ErrFormat = errors.New("artifact: unsupported format")

// FormatFromExt accepts "png", ".jpg", "jpeg", "flo".
func FormatFromExt(ext string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "png":
		return PNG, nil
	case "jpg", "jpeg":
		return JPEG, nil
	case "flo":
		return Flow, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrFormat, ext)
}

func (f Format) Ext() string {
	switch f {
	case JPEG:
		return "jpg"
	case Flow:
		return "flo"
	default:
		return "png"
	}
}

// Lossless reports whether a decode returns exactly what Quantize predicts.
func (f Format) Lossless() bool {
	return f != JPEG
}

type Options struct {
	Normalization Normalization
	Quality       int
}

func Encode(w io.Writer, a *Artifact, f Format, opts Options) error {
	switch f {
	case Flow:
		return encodeFlow(w, a)
	case PNG, JPEG:
		img, err := a.Gray(opts.Normalization)
		if err != nil {
			return err
		}
		if f == PNG {
			return png.Encode(w, img)
		}
		q := opts.Quality
		if q <= 0 {
			q = DefaultJPEGQuality
		}
		return jpeg.Encode(w, img, &jpeg.Options{Quality: q})
	}
	return ErrFormat
}

func Decode(r io.Reader, f Format) (*Artifact, error) {
	switch f {
	case Flow:
		return decodeFlow(r)
	case PNG, JPEG:
		var (
			img image.Image
			err error
		)
		if f == PNG {
			img, err = png.Decode(r)
		} else {
			img, err = jpeg.Decode(r)
		}
		if err != nil {
			return nil, err
		}
		return FromImage(img), nil
	}
	return nil, ErrFormat
}

func encodeFlow(w io.Writer, a *Artifact) error {
	if a.Channels != 2 {
		return fmt.Errorf("artifact: flow needs 2 channels, got %d", a.Channels)
	}
	bw := bufio.NewWriter(w)
	hdr := []any{flowMagic, int32(a.Width), int32(a.Height)}
	for _, v := range hdr {
		if err := binary.Write(bw, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	if err := binary.Write(bw, binary.LittleEndian, a.Pix); err != nil {
		return err
	}
	return bw.Flush()
}

func decodeFlow(r io.Reader) (*Artifact, error) {
	br := bufio.NewReader(r)
	var (
		magic float32
		w, h  int32
	)
	if err := binary.Read(br, binary.LittleEndian, &magic); err != nil {
		return nil, err
	}
	if magic != flowMagic {
		return nil, fmt.Errorf("artifact: bad flow tag %v", magic)
	}
	if err := binary.Read(br, binary.LittleEndian, &w); err != nil {
		return nil, err
	}
	if err := binary.Read(br, binary.LittleEndian, &h); err != nil {
		return nil, err
	}
	if w <= 0 || h <= 0 || int64(w)*int64(h) > math.MaxInt32 {
		return nil, fmt.Errorf("artifact: bad flow size %dx%d", w, h)
	}
	// Allocation follows the body actually read, never the declared size.
	n := 2 * int(w) * int(h)
	pix := make([]float32, 0, min(n, flowChunk))
	chunk := make([]float32, min(n, flowChunk))
	for len(pix) < n {
		buf := chunk[:min(n-len(pix), flowChunk)]
		if err := binary.Read(br, binary.LittleEndian, buf); err != nil {
			return nil, fmt.Errorf("artifact: short flow body for %dx%d: %w", w, h, err)
		}
		pix = append(pix, buf...)
	}
	return &Artifact{Width: int(w), Height: int(h), Channels: 2, Pix: pix}, nil
}
