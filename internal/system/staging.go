package system

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FallbackStagingDir is used when none of the preferred roots exist.
const FallbackStagingDir = "./.tmp_videos"

// StagingRoot returns the first existing preferred directory, or creates
// and returns the local fallback.
func StagingRoot(preferred []string) (string, error) {
	for _, dir := range preferred {
		if dir == "" {
			continue
		}
		if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
			return filepath.Clean(dir), nil
		}
	}
	if err := os.MkdirAll(FallbackStagingDir, 0755); err != nil {
		return "", fmt.Errorf("create staging root: %w", err)
	}
	return filepath.Clean(FallbackStagingDir), nil
}

// StagingName is the hex SHA-224 of key, so concurrent jobs over different
// videos never share a directory.
func StagingName(key string) string {
	sum := sha256.Sum224([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Staging is a scoped scratch directory owned by one job.
type Staging struct {
	Dir  string
	once sync.Once
	err  error
}

// Acquire creates root/StagingName(key). Callers must defer Release.
func Acquire(root, key string) (*Staging, error) {
	dir := filepath.Join(root, StagingName(key))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return &Staging{Dir: dir}, nil
}

// Path joins name onto the staging directory.
func (s *Staging) Path(name ...string) string {
	return filepath.Join(append([]string{s.Dir}, name...)...)
}

// Release removes every staged file and the directory itself. Safe to call
// more than once; later calls return the first result.
func (s *Staging) Release() error {
	s.once.Do(func() {
		s.err = os.RemoveAll(s.Dir)
	})
	return s.err
}
