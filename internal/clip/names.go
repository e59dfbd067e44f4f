package clip

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
)

// Names gives each video a cache directory name: its file stem, or, when
// several videos share a stem, a hash of the full path.
func Names(paths []string) []string {
	stems := make([]string, len(paths))
	count := make(map[string]int)
	for i, p := range paths {
		base := filepath.Base(p)
		stems[i] = strings.TrimSuffix(base, filepath.Ext(base))
		count[stems[i]]++
	}

	names := make([]string, len(paths))
	for i, p := range paths {
		if count[stems[i]] > 1 {
			sum := sha256.Sum224([]byte(p))
			names[i] = hex.EncodeToString(sum[:])[:16]
			continue
		}
		names[i] = stems[i]
	}
	return names
}

// Label is the name of the folder holding the video, the class name in
// class-per-folder corpora.
func Label(path string) string {
	return filepath.Base(filepath.Dir(path))
}
