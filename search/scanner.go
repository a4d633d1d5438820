package search

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	readBufferSize = 64 * 1024
	maxLineBytes   = 64 << 20
	ruleWidth      = 40
)

var replacementChar = []byte("\uFFFD")

// Line is one numbered line of a file.
type Line struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// Record is a single match handed to the caller.
type Record struct {
	Path     string `json:"path"`
	Line     int    `json:"line"`
	Content  string `json:"content"`
	Before   []Line `json:"before,omitempty"`
	After    []Line `json:"after,omitempty"`
	Encoding string `json:"encoding,omitempty"`

	// Text is the rendered form: a single result line without context, or a
	// ruled block with the surrounding lines when context is requested.
	Text string `json:"text"`
}

// LineScanner applies the ignore and match predicates to every line of a
// Source and yields a Record per match.
type LineScanner struct {
	Match        Predicate
	Ignore       Predicate // nil disables ignoring
	ContextLines int
	Cancelled    func() bool // polled once per line; nil never cancels
	Logger       *slog.Logger
}

// Records returns the lazy sequence of matches for src. Per-file failures are
// yielded once as a *FileError, after which the sequence ends. The sequence
// stops early, without error, when the cancel check fires.
func (s *LineScanner) Records(src Source) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		dec, name, cancelled, err := s.selectDecoder(src)
		if err != nil {
			yield(Record{}, &FileError{Path: src.Path, Err: err})
			return
		}
		if cancelled {
			return
		}

		rc, err := src.Open()
		if err != nil {
			yield(Record{}, &FileError{Path: src.Path, Err: err})
			return
		}
		defer closeSource(rc)

		cur := newLineCursor(transform.NewReader(rc, dec))
		var ok bool
		if s.ContextLines > 0 {
			ok = s.scanContext(src.Path, name, cur, yield)
		} else {
			ok = s.scanPlain(src.Path, name, cur, yield)
		}
		if ok && cur.err != nil {
			yield(Record{}, &FileError{Path: src.Path, Err: cur.err})
		}
	}
}

func (s *LineScanner) scanPlain(path, enc string, cur *lineCursor, yield func(Record, error) bool) bool {
	for {
		if s.cancelled() {
			return false
		}
		text, ok := cur.next()
		if !ok {
			return true
		}
		if s.ignored(text) || !s.Match(text) {
			continue
		}
		rec := Record{
			Path:     path,
			Line:     cur.n,
			Content:  text,
			Encoding: enc,
			Text:     fmt.Sprintf("%s (line %d): %s", path, cur.n, strings.TrimSpace(text)),
		}
		if !yield(rec, nil) {
			return false
		}
	}
}

// scanContext keeps a look-back ring of the last ContextLines visible lines
// and, after a match, reads ahead on the same cursor. Lines consumed by the
// read-ahead become context only and are never evaluated as matches.
func (s *LineScanner) scanContext(path, enc string, cur *lineCursor, yield func(Record, error) bool) bool {
	k := s.ContextLines
	back := newLineRing(k)

	for {
		if s.cancelled() {
			return false
		}
		text, ok := cur.next()
		if !ok {
			return true
		}
		if s.ignored(text) {
			continue
		}
		hit := Line{Number: cur.n, Text: text}
		if !s.Match(text) {
			back.push(hit)
			continue
		}

		before := back.lines()
		back.push(hit)

		after := make([]Line, 0, k)
		for len(after) < k {
			if s.cancelled() {
				return false
			}
			next, ok := cur.next()
			if !ok {
				break
			}
			if s.ignored(next) {
				continue
			}
			l := Line{Number: cur.n, Text: next}
			after = append(after, l)
			back.push(l)
		}

		rec := Record{
			Path:     path,
			Line:     hit.Number,
			Content:  hit.Text,
			Before:   before,
			After:    after,
			Encoding: enc,
			Text:     renderBlock(path, before, hit, after),
		}
		if !yield(rec, nil) {
			return false
		}
	}
}

func renderBlock(path string, before []Line, hit Line, after []Line) string {
	rule := strings.Repeat("-", ruleWidth)
	var b strings.Builder
	b.WriteString(rule)
	b.WriteByte('\n')
	fmt.Fprintf(&b, "%s (line %d):\n", path, hit.Number)
	for _, l := range before {
		fmt.Fprintf(&b, "    %d: %s\n", l.Number, l.Text)
	}
	fmt.Fprintf(&b, ">>  %d: %s\n", hit.Number, hit.Text)
	for _, l := range after {
		fmt.Fprintf(&b, "    %d: %s\n", l.Number, l.Text)
	}
	b.WriteString(rule)
	return b.String()
}

func (s *LineScanner) cancelled() bool {
	return s.Cancelled != nil && s.Cancelled()
}

func (s *LineScanner) ignored(line string) bool {
	return s.Ignore != nil && s.Ignore(line)
}

func (s *LineScanner) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// selectDecoder runs a strict trial decode pass under each candidate encoding
// and returns the first that decodes the whole source cleanly. When none does,
// it falls back to UTF-8 with invalid bytes replaced.
func (s *LineScanner) selectDecoder(src Source) (transform.Transformer, string, bool, error) {
	if len(src.Encodings) == 0 {
		return unicode.UTF8.NewDecoder(), "UTF-8", false, nil
	}

	for _, name := range src.Encodings {
		enc, err := LookupEncoding(name)
		if err != nil {
			s.logger().Debug("skipping encoding", "path", src.Path, "encoding", name, "error", err)
			continue
		}
		cancelled, err := s.trialDecode(src, enc)
		switch {
		case cancelled:
			return nil, "", true, nil
		case err == nil:
			return enc.NewDecoder(), name, false, nil
		case errors.Is(err, errDecode):
			s.logger().Debug("trial decode failed", "path", src.Path, "encoding", name)
		default:
			return nil, "", false, err
		}
	}

	s.logger().Debug("no candidate encoding fits, decoding lossily", "path", src.Path)
	return unicode.UTF8.NewDecoder(), "UTF-8 (lossy)", false, nil
}

// trialDecode decodes the entire source without scanning it. It returns
// errDecode when the bytes are not valid in enc and any I/O error unwrapped.
func (s *LineScanner) trialDecode(src Source, enc encoding.Encoding) (bool, error) {
	rc, err := src.Open()
	if err != nil {
		return false, err
	}
	defer closeSource(rc)

	in := &readErrRecorder{r: rc}
	r := transform.NewReader(in, strictDecoder{t: enc.NewDecoder()})
	buf := make([]byte, readBufferSize)
	for {
		if s.cancelled() {
			return true, nil
		}
		_, err := r.Read(buf)
		if err == io.EOF {
			return false, nil
		}
		if err != nil {
			if in.err != nil {
				return false, in.err
			}
			return false, errDecode
		}
	}
}

// strictDecoder fails instead of emitting U+FFFD for invalid input.
type strictDecoder struct {
	t transform.Transformer
}

func (d strictDecoder) Transform(dst, src []byte, atEOF bool) (int, int, error) {
	nDst, nSrc, err := d.t.Transform(dst, src, atEOF)
	if bytes.Contains(dst[:nDst], replacementChar) {
		return nDst, nSrc, errDecode
	}
	return nDst, nSrc, err
}

func (d strictDecoder) Reset() { d.t.Reset() }

type readErrRecorder struct {
	r   io.Reader
	err error
}

func (r *readErrRecorder) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if err != nil && err != io.EOF {
		r.err = err
	}
	return n, err
}

// lineCursor is the single forward-only cursor over a decoded stream.
type lineCursor struct {
	sc  *bufio.Scanner
	n   int
	err error
}

func newLineCursor(r io.Reader) *lineCursor {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, readBufferSize), maxLineBytes)
	sc.Split(scanLines)
	return &lineCursor{sc: sc}
}

func (c *lineCursor) next() (string, bool) {
	if !c.sc.Scan() {
		c.err = c.sc.Err()
		return "", false
	}
	c.n++
	return c.sc.Text(), true
}

// scanLines splits on "\n", "\r\n" and a lone "\r". A final line without a
// terminator is still returned.
func scanLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\n' {
			return i + 1, data[:i], nil
		}
		switch {
		case i+1 < len(data) && data[i+1] == '\n':
			return i + 2, data[:i], nil
		case i+1 < len(data) || atEOF:
			return i + 1, data[:i], nil
		}
		// a '\r' at the end of the buffer may be half of "\r\n"
		return 0, nil, nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// lineRing holds the most recent lines up to a fixed capacity.
type lineRing struct {
	buf   []Line
	start int
	size  int
}

func newLineRing(capacity int) *lineRing {
	return &lineRing{buf: make([]Line, capacity)}
}

func (r *lineRing) push(l Line) {
	if len(r.buf) == 0 {
		return
	}
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = l
		r.size++
		return
	}
	r.buf[r.start] = l
	r.start = (r.start + 1) % len(r.buf)
}

// lines returns the buffered lines oldest first.
func (r *lineRing) lines() []Line {
	out := make([]Line, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}
