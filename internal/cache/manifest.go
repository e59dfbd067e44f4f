package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ManifestName is the hidden per-video completion record.
const ManifestName = ".manifest.yaml"

const manifestVersion = 1

// Manifest records that a batch job finished a video and what it wrote.
type Manifest struct {
	Version     int       `yaml:"version"`
	Source      string    `yaml:"source"`
	Method      string    `yaml:"method"`
	Ext         string    `yaml:"ext"`
	FrameCount  int       `yaml:"frame_count"`
	Frames      []int     `yaml:"frames"`
	Checksum    string    `yaml:"checksum"`
	RunID       string    `yaml:"run_id,omitempty"`
	CompletedAt time.Time `yaml:"completed_at"`
}

// Verification is the result of re-reading a video against its manifest.
type Verification struct {
	Video      string
	Missing    []int
	ChecksumOK bool
}

func (v *Verification) OK() bool {
	return len(v.Missing) == 0 && v.ChecksumOK
}

func (s *Store) manifestPath(video string) string {
	return filepath.Join(s.VideoDir(video), ManifestName)
}

// Frames lists the ordinals that currently have a file in the video dir.
func (s *Store) Frames(video string) ([]int, error) {
	entries, err := os.ReadDir(s.VideoDir(video))
	if err != nil {
		return nil, err
	}
	ext := "." + s.format.Ext()
	var frames []int
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ext) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(name, ext))
		if err != nil || n < 0 {
			continue
		}
		frames = append(frames, n)
	}
	sort.Ints(frames)
	return frames, nil
}

func (s *Store) checksum(video string, frames []int) (string, error) {
	h := sha256.New()
	for _, n := range frames {
		f, err := os.Open(s.Path(FrameIdentity{Video: video, Frame: n}))
		if err != nil {
			return "", err
		}
		fmt.Fprintf(h, "%d\n", n)
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// BuildManifest describes the frames currently stored for video.
func (s *Store) BuildManifest(video, source, method string) (*Manifest, error) {
	frames, err := s.Frames(video)
	if err != nil {
		return nil, fmt.Errorf("cache: list %s: %w", video, err)
	}
	sum, err := s.checksum(video, frames)
	if err != nil {
		return nil, fmt.Errorf("cache: checksum %s: %w", video, err)
	}
	return &Manifest{
		Version:     manifestVersion,
		Source:      source,
		Method:      method,
		Ext:         s.format.Ext(),
		FrameCount:  len(frames),
		Frames:      frames,
		Checksum:    sum,
		CompletedAt: time.Now().UTC(),
	}, nil
}

func (s *Store) WriteManifest(video string, m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	dir := s.VideoDir(video)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return writeAtomic(dir, ManifestName, func(f *os.File) error {
		_, err := f.Write(data)
		return err
	})
}

// ReadManifest returns ok=false when the video has no manifest.
func (s *Store) ReadManifest(video string) (*Manifest, bool, error) {
	data, err := os.ReadFile(s.manifestPath(video))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, false, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.manifestPath(video), err)
	}
	if m.Version != manifestVersion {
		return nil, false, fmt.Errorf("%w: %s: unknown manifest version %d", ErrCorrupt, s.manifestPath(video), m.Version)
	}
	return &m, true, nil
}

// Complete reports whether video has a manifest written for the store's
// extension and every frame it declares is still on disk. Contents are not
// hashed; see VerifyManifest for that.
func (s *Store) Complete(video string) (bool, error) {
	m, ok, err := s.ReadManifest(video)
	if err != nil || !ok {
		return false, err
	}
	if m.Ext != s.format.Ext() || len(m.Frames) != m.FrameCount {
		return false, nil
	}
	for _, n := range m.Frames {
		ok, err := s.Lookup(FrameIdentity{Video: video, Frame: n})
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// VerifyManifest re-hashes the frames a manifest declares.
func (s *Store) VerifyManifest(video string) (*Verification, error) {
	m, ok, err := s.ReadManifest(video)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("cache: %s has no manifest", video)
	}

	v := &Verification{Video: video}
	for _, n := range m.Frames {
		ok, err := s.Lookup(FrameIdentity{Video: video, Frame: n})
		if err != nil {
			return nil, err
		}
		if !ok {
			v.Missing = append(v.Missing, n)
		}
	}
	if len(v.Missing) > 0 {
		return v, nil
	}
	sum, err := s.checksum(video, m.Frames)
	if err != nil {
		return nil, err
	}
	v.ChecksumOK = sum == m.Checksum
	return v, nil
}

// ListVideos returns every video under the root that has a manifest,
// sorted.
func (s *Store) ListVideos() ([]string, error) {
	var videos []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != ManifestName {
			return nil
		}
		rel, err := filepath.Rel(s.root, filepath.Dir(path))
		if err != nil {
			return err
		}
		videos = append(videos, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(videos)
	return videos, nil
}
