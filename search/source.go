package search

import (
	"io"
	"os"
	"strings"
)

// Source is an openable unit of text for the LineScanner. Open may be called
// more than once: the scanner opens the source for each trial decode pass and
// once more for the scan itself.
type Source struct {
	Path string

	// Encodings lists the candidate encodings in priority order. An empty
	// list means the content is already UTF-8.
	Encodings []string

	Open func() (io.ReadCloser, error)
}

// FileSource reads path from disk under the given candidate encodings.
func FileSource(path string, encodings []string) Source {
	return Source{
		Path:      path,
		Encodings: encodings,
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}
}

// TextSource serves already decoded text, e.g. the output of an Extractor.
func TextSource(path, text string) Source {
	return Source{
		Path: path,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(text)), nil
		},
	}
}

// closeSource closes rc, dropping the page cache for regular files first so a
// large tree scan does not evict everything else.
func closeSource(rc io.ReadCloser) {
	if f, ok := rc.(*os.File); ok {
		adviseDontNeed(f)
	}
	_ = rc.Close()
}
