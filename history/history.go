// Package history keeps the most recent keyword and ignore expressions.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// DefaultLimit bounds each list.
const DefaultLimit = 20

// History holds the recently used expressions, most recent first.
type History struct {
	Keywords       []string `json:"keywords"`
	IgnoreKeywords []string `json:"ignore_keywords"`
}

// Store loads and saves a History.
type Store interface {
	Load() (History, error)
	Save(History) error
}

// AddKeyword records a keyword expression. See push.
func (h *History) AddKeyword(expr string, limit int) {
	h.Keywords = push(h.Keywords, expr, limit)
}

// AddIgnore records an ignore expression. See push.
func (h *History) AddIgnore(expr string, limit int) {
	h.IgnoreKeywords = push(h.IgnoreKeywords, expr, limit)
}

// push moves expr to the front of list, dropping an older copy and trimming
// the list to limit entries. Blank expressions are not recorded.
func push(list []string, expr string, limit int) []string {
	if strings.TrimSpace(expr) == "" {
		return list
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	out := make([]string, 0, min(len(list)+1, limit))
	out = append(out, expr)
	for _, e := range list {
		if len(out) == limit {
			break
		}
		if e != expr {
			out = append(out, e)
		}
	}
	return out
}

// FileStore persists a History as a JSON document.
type FileStore struct {
	Path  string
	Limit int
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a store for path keeping at most limit entries per
// list (DefaultLimit when limit is not positive).
func NewFileStore(path string, limit int) *FileStore {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &FileStore{Path: path, Limit: limit}
}

// Load reads the history. A missing file is an empty history. Lists longer
// than the limit are truncated and duplicate entries dropped.
func (s *FileStore) Load() (History, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return History{}, nil
	}
	if err != nil {
		return History{}, fmt.Errorf("failed to read history: %w", err)
	}

	var h History
	if err := json.Unmarshal(data, &h); err != nil {
		return History{}, fmt.Errorf("failed to parse history %s: %w", s.Path, err)
	}
	h.Keywords = s.normalize(h.Keywords)
	h.IgnoreKeywords = s.normalize(h.IgnoreKeywords)
	return h, nil
}

// Save writes the history atomically, replacing the previous file.
func (s *FileStore) Save(h History) error {
	h.Keywords = s.normalize(h.Keywords)
	h.IgnoreKeywords = s.normalize(h.IgnoreKeywords)

	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.Path), ".history-*")
	if err != nil {
		return fmt.Errorf("failed to write history: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write history: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write history: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		return fmt.Errorf("failed to write history: %w", err)
	}
	return nil
}

// Record loads the history, adds the given expressions and saves it back.
func Record(s Store, keyword, ignore string, limit int) error {
	h, err := s.Load()
	if err != nil {
		return err
	}
	h.AddKeyword(keyword, limit)
	h.AddIgnore(ignore, limit)
	return s.Save(h)
}

// normalize keeps the first occurrence of each non-blank entry, up to the limit.
func (s *FileStore) normalize(list []string) []string {
	limit := s.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	out := make([]string, 0, min(len(list), limit))
	for _, e := range list {
		if len(out) == limit {
			break
		}
		if strings.TrimSpace(e) == "" || slices.Contains(out, e) {
			continue
		}
		out = append(out, e)
	}
	return out
}
