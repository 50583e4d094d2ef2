// Package fsutil provides file system utility functions.
package fsutil

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vk/rastermosaic/internal/ctxlog"
)

// FindFilesByExtension recursively searches rootPath for files whose name
// ends with one of the extensions (case-insensitive). Symlinks to regular
// files are included; a dangling symlink is an error. Hidden files and
// directories are skipped. The result is sorted so that discovery order does
// not depend on the file system.
func FindFilesByExtension(ctx context.Context, rootPath string, extensions ...string) ([]string, error) {
	if len(extensions) == 0 {
		panic("at least one extension is required")
	}
	logger := ctxlog.FromContext(ctx)

	var files []string
	err := filepath.WalkDir(rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != rootPath && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !hasExtension(d.Name(), extensions) {
			return nil
		}

		mode := d.Type()
		if mode&fs.ModeSymlink != 0 {
			fi, err := os.Stat(path)
			if err != nil {
				return fmt.Errorf("resolving symlink %s: %w", path, err)
			}
			mode = fi.Mode().Type()
		}
		if !mode.IsRegular() {
			logger.Warn("Skipping entry that is not a regular file.", "path", path, "mode", mode.String())
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

func hasExtension(name string, extensions []string) bool {
	name = strings.ToLower(name)
	for _, ext := range extensions {
		if strings.HasSuffix(name, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}
