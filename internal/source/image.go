package source

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
}

// ImageSource reads a directory of frame images. Files named by an integer
// ordinal ("0.jpg", "12.png") are ordered numerically and come first; any
// other image files follow in lexical order.
type ImageSource struct {
	paths []string
}

func NewImageSource(path string) (*ImageSource, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	var paths []string
	if fi.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if imageExts[strings.ToLower(filepath.Ext(entry.Name()))] {
				paths = append(paths, filepath.Join(path, entry.Name()))
			}
		}
		sortByOrdinal(paths)
	} else {
		paths = []string{path}
	}

	return &ImageSource{paths: paths}, nil
}

// Ordinal parses the integer stem of a frame file name.
func Ordinal(path string) (int, bool) {
	base := filepath.Base(path)
	n, err := strconv.Atoi(strings.TrimSuffix(base, filepath.Ext(base)))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func sortByOrdinal(paths []string) {
	sort.SliceStable(paths, func(i, j int) bool {
		a, aok := Ordinal(paths[i])
		b, bok := Ordinal(paths[j])
		switch {
		case aok && bok:
			return a < b
		case aok != bok:
			return aok
		default:
			return paths[i] < paths[j]
		}
	})
}

func (s *ImageSource) FrameCount() int {
	return len(s.paths)
}

// Path returns the file backing frame index.
func (s *ImageSource) Path(index int) string {
	return s.paths[index]
}

func (s *ImageSource) Dimensions(index int) (int, int, error) {
	if index < 0 || index >= len(s.paths) {
		return 0, 0, fmt.Errorf("frame %d out of range [0,%d)", index, len(s.paths))
	}
	f, err := os.Open(s.paths[index])
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("%s: %w", s.paths[index], err)
	}
	return cfg.Width, cfg.Height, nil
}

func (s *ImageSource) Frame(index int) (image.Image, error) {
	if index < 0 || index >= len(s.paths) {
		return nil, fmt.Errorf("frame %d out of range [0,%d)", index, len(s.paths))
	}
	f, err := os.Open(s.paths[index])
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.paths[index], err)
	}
	return img, nil
}

func (s *ImageSource) Close() error {
	return nil
}
