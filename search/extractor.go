package search

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/emersion/go-mbox"
	"github.com/jhillyerd/enmime"
	"github.com/ledongthuc/pdf"
	"github.com/richardlehane/mscfb"
	"golang.org/x/text/encoding/unicode"
)

// MaxExtractBytes bounds the size of a document handed to an Extractor.
const MaxExtractBytes = 64 << 20

// Extractor turns the raw bytes of a document format into plain text with one
// logical line per paragraph.
type Extractor interface {
	ExtractText(data []byte) (string, error)
}

// ExtractorFunc adapts a plain function to the Extractor interface.
type ExtractorFunc func(data []byte) (string, error)

func (f ExtractorFunc) ExtractText(data []byte) (string, error) { return f(data) }

// ExtractorRegistry maps lower-case file extensions (without the dot) to
// extractors.
type ExtractorRegistry struct {
	extractors map[string]Extractor
}

// NewExtractorRegistry creates a registry holding the built-in extractors for
// the given extensions, or for every supported extension when none are given.
func NewExtractorRegistry(exts ...string) *ExtractorRegistry {
	builtIn := builtInExtractors()
	reg := &ExtractorRegistry{extractors: make(map[string]Extractor)}
	if len(exts) == 0 {
		reg.extractors = builtIn
		return reg
	}
	for _, ext := range exts {
		ext = normalizeExt(ext)
		if e, ok := builtIn[ext]; ok {
			reg.extractors[ext] = e
		}
	}
	return reg
}

func builtInExtractors() map[string]Extractor {
	docx := zipXMLExtractor{member: "word/document.xml", lineEnds: []string{"w:p", "w:tr"}}
	odt := zipXMLExtractor{member: "content.xml", lineEnds: []string{"text:p", "text:h"}}
	cfb := compoundExtractor{}
	return map[string]Extractor{
		"eml":  EMLExtractor{},
		"mbox": MBOXExtractor{},
		"pdf":  PDFExtractor{},
		"docx": docx,
		"odt":  odt,
		"doc":  cfb,
		"msg":  cfb,
		"html": ExtractorFunc(func(data []byte) (string, error) { return htmlToText(string(data)), nil }),
		"htm":  ExtractorFunc(func(data []byte) (string, error) { return htmlToText(string(data)), nil }),
		"xml":  ExtractorFunc(func(data []byte) (string, error) { return xmlToText(string(data)), nil }),
		"rtf":  ExtractorFunc(extractRTF),
	}
}

// Register adds or replaces the extractor for ext.
func (r *ExtractorRegistry) Register(ext string, e Extractor) {
	r.extractors[normalizeExt(ext)] = e
}

// GetExtractor returns the extractor for a file extension, with or without the
// leading dot.
func (r *ExtractorRegistry) GetExtractor(ext string) (Extractor, bool) {
	e, ok := r.extractors[normalizeExt(ext)]
	return e, ok
}

// Extensions lists the registered extensions in sorted order.
func (r *ExtractorRegistry) Extensions() []string {
	out := make([]string, 0, len(r.extractors))
	for ext := range r.extractors {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Source returns a text Source for path when an extractor is registered for its
// extension. Extraction is deferred until the source is opened.
func (r *ExtractorRegistry) Source(path string) (Source, bool) {
	e, ok := r.GetExtractor(filepath.Ext(path))
	if !ok {
		return Source{}, false
	}
	return Source{
		Path: path,
		Open: func() (io.ReadCloser, error) {
			text, err := extractFile(path, e)
			if err != nil {
				return nil, err
			}
			return io.NopCloser(strings.NewReader(text)), nil
		},
	}, true
}

func extractFile(path string, e Extractor) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.Size() > MaxExtractBytes {
		return "", fmt.Errorf("document too large to extract (%s)", FormatFileSize(info.Size()))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	text, err := e.ExtractText(data)
	if err != nil {
		return "", err
	}
	return cleanLines(text), nil
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

// FormatFileSize renders a byte count with a binary unit suffix.
func FormatFileSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}

// EMLExtractor extracts the body of a MIME message, preferring the plain text
// part. The subject is kept as the first line.
type EMLExtractor struct{}

func (EMLExtractor) ExtractText(data []byte) (string, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parse message: %w", err)
	}
	body := env.Text
	if strings.TrimSpace(body) == "" && env.HTML != "" {
		body = htmlToText(env.HTML)
	}
	if subject := env.GetHeader("Subject"); subject != "" {
		return subject + "\n" + body, nil
	}
	return body, nil
}

// MBOXExtractor extracts every message of an mbox mailbox in order.
type MBOXExtractor struct{}

func (MBOXExtractor) ExtractText(data []byte) (string, error) {
	r := mbox.NewReader(bytes.NewReader(data))
	var b strings.Builder
	for {
		msg, err := r.NextMessage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if b.Len() == 0 {
				return "", fmt.Errorf("read mailbox: %w", err)
			}
			break
		}
		raw, err := io.ReadAll(msg)
		if err != nil {
			continue
		}
		text, err := EMLExtractor{}.ExtractText(raw)
		if err != nil {
			continue
		}
		b.WriteString(text)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// PDFExtractor extracts page text, starting a new line whenever the baseline
// moves. The pdf library panics on some malformed files; those pages are
// skipped.
type PDFExtractor struct{}

func (PDFExtractor) ExtractText(data []byte) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = "", fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		func() {
			defer func() { _ = recover() }()
			page := reader.Page(i)
			if page.V.IsNull() {
				return
			}
			lastY := math.NaN()
			for _, t := range page.Content().Text {
				if !math.IsNaN(lastY) && math.Abs(t.Y-lastY) > 1 {
					b.WriteByte('\n')
				}
				lastY = t.Y
				b.WriteString(t.S)
			}
			b.WriteByte('\n')
		}()
	}
	return b.String(), nil
}

// zipXMLExtractor reads one XML member of a zip based office document.
type zipXMLExtractor struct {
	member   string
	lineEnds []string
}

func (e zipXMLExtractor) ExtractText(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}
	for _, f := range zr.File {
		if f.Name != e.member {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", err
		}
		content, err := io.ReadAll(io.LimitReader(rc, MaxExtractBytes))
		rc.Close()
		if err != nil {
			return "", err
		}
		return xmlToText(string(content), e.lineEnds...), nil
	}
	return "", fmt.Errorf("archive has no %s", e.member)
}

// compoundExtractor salvages text from OLE compound files (legacy .doc and
// Outlook .msg). Streams are tried as UTF-16LE first, then as raw ASCII.
type compoundExtractor struct{}

var compoundTextStreams = map[string]bool{
	"WordDocument": true,
	"1Table":       true,
	"0Table":       true,
}

func (compoundExtractor) ExtractText(data []byte) (string, error) {
	cf, err := mscfb.New(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("open compound file: %w", err)
	}

	var b strings.Builder
	for ent, err := cf.Next(); err == nil; ent, err = cf.Next() {
		// .msg bodies live in __substg1.0_1000001F (unicode) and _1000001E (ansi).
		if !compoundTextStreams[ent.Name] && !strings.HasPrefix(ent.Name, "__substg1.0_1000") {
			continue
		}
		raw, rerr := io.ReadAll(io.LimitReader(ent, MaxExtractBytes))
		if rerr != nil || len(raw) == 0 {
			continue
		}
		if text, ok := decodeUTF16Text(raw); ok {
			b.WriteString(text)
		} else {
			b.WriteString(printableASCII(raw))
		}
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// decodeUTF16Text decodes raw as UTF-16LE and accepts it only when most of the
// result is printable.
func decodeUTF16Text(raw []byte) (string, bool) {
	if len(raw) < 2 || len(raw)%2 != 0 {
		return "", false
	}
	out, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder().Bytes(raw)
	if err != nil {
		return "", false
	}
	text := string(out)
	printable, total := 0, 0
	for _, r := range text {
		total++
		if r == '\n' || r == '\r' || r == '\t' || (r >= 0x20 && r != 0xfffd && r < 0xe000) {
			printable++
		}
	}
	if total == 0 || printable*10 < total*9 {
		return "", false
	}
	return strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\n' && r != '\t' {
			return '\n'
		}
		return r
	}, text), true
}

// extractRTF drops control words and groups, keeping paragraph breaks.
func extractRTF(data []byte) (string, error) {
	text := string(data)
	text = rtfBreakRegex.ReplaceAllString(text, "\n")
	text = rtfControlRegex.ReplaceAllString(text, "")
	text = strings.NewReplacer("{", "", "}", "").Replace(text)
	return text, nil
}
