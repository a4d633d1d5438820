package search

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gogs/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"
)

// DefaultSniffBytes is how much of a file is handed to charset detection.
const DefaultSniffBytes = 10000

// DefaultFallbackEncodings are tried, in order, after the detected encoding.
var DefaultFallbackEncodings = []string{"UTF-8", "GBK", "GB2312", "GB18030"}

// EncodingResolver proposes the ordered list of encodings to try for a file.
type EncodingResolver struct {
	sniffBytes int
	fallback   []string
	detector   *chardet.Detector
}

// NewEncodingResolver creates a resolver. Non-positive sniffBytes and an empty
// fallback list select the defaults.
func NewEncodingResolver(sniffBytes int, fallback []string) *EncodingResolver {
	if sniffBytes <= 0 {
		sniffBytes = DefaultSniffBytes
	}
	if len(fallback) == 0 {
		fallback = DefaultFallbackEncodings
	}
	return &EncodingResolver{
		sniffBytes: sniffBytes,
		fallback:   append([]string(nil), fallback...),
		detector:   chardet.NewTextDetector(),
	}
}

var defaultResolver = NewEncodingResolver(0, nil)

// ResolveEncodings builds the candidate list for path with the default sniff
// size and fallback list.
func ResolveEncodings(path string) []string {
	return defaultResolver.Resolve(path)
}

// Resolve returns the detected encoding (if any) followed by the fallback
// list, without duplicates. It never fails; on I/O errors only the fallback
// list is returned.
func (r *EncodingResolver) Resolve(path string) []string {
	sample, err := r.sniff(path)
	if err != nil {
		return candidateList("", r.fallback)
	}
	return candidateList(r.Detect(sample), r.fallback)
}

// minDetectConfidence is the chardet confidence a guess needs before it is
// put ahead of the fallback list.
const minDetectConfidence = 50

// Detect runs statistical charset detection over sample and returns the best
// guess, or "" when the fallback list should decide. Pure ASCII yields "".
func (r *EncodingResolver) Detect(sample []byte) string {
	if len(sample) == 0 || isASCII(sample) {
		return ""
	}
	results, err := r.detector.DetectAll(sample)
	if err != nil {
		return ""
	}
	return pickCharset(results)
}

// pickCharset chooses among chardet results sorted by confidence. Single-byte
// code pages accept any byte sequence, so a Latin guess is never taken while
// a multibyte charset is also proposed: it would decode GBK pairs into
// mojibake without a single error.
func pickCharset(results []chardet.Result) string {
	multibyte := false
	for _, res := range results {
		if !isSingleByteCharset(res.Charset) {
			multibyte = true
			break
		}
	}
	for _, res := range results {
		if res.Confidence < minDetectConfidence {
			break
		}
		if multibyte && isSingleByteCharset(res.Charset) {
			continue
		}
		return res.Charset
	}
	return ""
}

func isSingleByteCharset(name string) bool {
	n := normalizeEncodingName(name)
	for _, prefix := range []string{"ISO8859", "WINDOWS125", "KOI8", "IBM42"} {
		if strings.HasPrefix(n, prefix) {
			return true
		}
	}
	return false
}

// isASCII reports whether sample is 7-bit without ESC, which would signal an
// ISO-2022 stream.
func isASCII(sample []byte) bool {
	for _, c := range sample {
		if c >= 0x80 || c == 0x1b {
			return false
		}
	}
	return true
}

func (r *EncodingResolver) sniff(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, r.sniffBytes)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:n], nil
}

// candidateList puts detected in front of fallback and drops repeats, keeping
// the first spelling seen for each encoding.
func candidateList(detected string, fallback []string) []string {
	seen := make(map[string]bool, len(fallback)+1)
	out := make([]string, 0, len(fallback)+1)
	add := func(name string) {
		key := normalizeEncodingName(name)
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, name)
	}
	add(detected)
	for _, name := range fallback {
		add(name)
	}
	if len(out) == 0 {
		return candidateList(detected, DefaultFallbackEncodings)
	}
	return out
}

// normalizeEncodingName folds case and punctuation so that "GB-18030",
// "gb18030" and "GB_18030" compare equal.
func normalizeEncodingName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '-', '_', ' ', '.':
			return -1
		}
		if r >= 'a' && r <= 'z' {
			return r - 'a' + 'A'
		}
		return r
	}, strings.TrimSpace(name))
}

// LookupEncoding maps an encoding name to its decoder implementation.
func LookupEncoding(name string) (encoding.Encoding, error) {
	switch normalizeEncodingName(name) {
	case "UTF8", "ASCII":
		return unicode.UTF8BOM, nil
	case "GBK", "CP936":
		return simplifiedchinese.GBK, nil
	case "GB18030":
		return simplifiedchinese.GB18030, nil
	case "GB2312", "EUCCN":
		// GB2312 is a subset of GBK; decoding it as GBK is what browsers do.
		return simplifiedchinese.GBK, nil
	}

	if enc, err := htmlindex.Get(name); err == nil {
		return enc, nil
	}
	if enc, err := ianaindex.IANA.Encoding(name); err == nil && enc != nil {
		return enc, nil
	}
	return nil, fmt.Errorf("unsupported encoding %q", name)
}
