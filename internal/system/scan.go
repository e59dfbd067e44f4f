package system

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// VideoFile is one corpus entry.
type VideoFile struct {
	AbsPath string
	RelPath string
	Stem    string
}

// RelDir is the corpus-relative folder holding the video ("." at the root).
func (v VideoFile) RelDir() string {
	return filepath.Dir(v.RelPath)
}

// ScanVideos lists every file under root whose extension equals ext
// (case-insensitive, with or without the dot), sorted by relative path.
func ScanVideos(root, ext string) ([]VideoFile, error) {
	root = filepath.Clean(root)
	want := "." + strings.ToLower(strings.TrimPrefix(ext, "."))

	var files []VideoFile
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			// Hidden dirs hold staging and tool scratch, never corpus videos.
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		name := d.Name()
		if strings.ToLower(filepath.Ext(name)) != want {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		files = append(files, VideoFile{
			AbsPath: abs,
			RelPath: rel,
			Stem:    strings.TrimSuffix(name, filepath.Ext(name)),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files, nil
}
