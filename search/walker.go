package search

import (
	"io/fs"
	"iter"
	"path/filepath"
	"strings"
)

// FileWalker enumerates the regular files under a folder in a stable order.
type FileWalker struct {
	nameFilter string
	skipDirs   map[string]bool
}

// NewFileWalker creates a walker that keeps files whose base name contains
// nameFilter (all files when it is empty) and prunes directories named in
// skipDirs.
func NewFileWalker(nameFilter string, skipDirs []string) *FileWalker {
	fw := &FileWalker{
		nameFilter: nameFilter,
		skipDirs:   make(map[string]bool, len(skipDirs)),
	}
	for _, d := range skipDirs {
		if d = strings.TrimSpace(d); d != "" {
			fw.skipDirs[d] = true
		}
	}
	return fw
}

// accepts reports whether the file at path passes the name filter.
func (fw *FileWalker) accepts(path string) bool {
	return fw.nameFilter == "" || strings.Contains(filepath.Base(path), fw.nameFilter)
}

func (fw *FileWalker) shouldSkipDir(root, path, name string) bool {
	return path != root && fw.skipDirs[name]
}

// Files yields every accepted regular file below root in lexical order.
// Entries that cannot be read are yielded as a *FileError and the walk goes on.
// Breaking out of the loop ends the walk.
func (fw *FileWalker) Files(root string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if !yield("", &FileError{Path: path, Err: err}) {
					return filepath.SkipAll
				}
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			if d.IsDir() {
				if fw.shouldSkipDir(root, path, d.Name()) {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() || !fw.accepts(path) {
				return nil
			}
			if !yield(path, nil) {
				return filepath.SkipAll
			}
			return nil
		})
	}
}

// CountFiles counts the files Files would yield, ignoring unreadable entries.
func (fw *FileWalker) CountFiles(root string) int {
	count := 0
	for _, err := range fw.Files(root) {
		if err == nil {
			count++
		}
	}
	return count
}
