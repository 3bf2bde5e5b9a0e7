package file

import (
	"io/fs"
	"path/filepath"
	"strings"
	"time"
)

// NewestWithExt walks dir recursively and returns the most recently modified
// regular file with the given extension (e.g. ".mp4"). Returns ok=false when
// no candidate exists.
func NewestWithExt(dir, ext string) (string, bool, error) {
	var (
		newest   string
		newestAt time.Time
		found    bool
	)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ext) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !found || info.ModTime().After(newestAt) {
			newest = path
			newestAt = info.ModTime()
			found = true
		}
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return newest, found, nil
}
