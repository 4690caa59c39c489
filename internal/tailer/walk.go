package tailer

import (
	"io/fs"
	"path/filepath"
)

// walkMatch recursively finds files under root whose base name matches
// the glob pattern, for directory sources configured with Recursive:true
// (spec §4.1).
func walkMatch(root, pattern string) ([]string, error) {
	var matches []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries, don't abort the whole walk
		}
		if d.IsDir() {
			return nil
		}
		ok, err := filepath.Match(pattern, filepath.Base(path))
		if err != nil {
			return err
		}
		if ok {
			matches = append(matches, path)
		}
		return nil
	})
	return matches, err
}
