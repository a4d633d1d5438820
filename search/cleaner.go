package search

import (
	"html"
	"regexp"
	"strings"
)

var (
	tagRegex = regexp.MustCompile(`<[^>]*>`)

	// Go's regexp has no backreferences, so style and script are separate.
	cssRegex = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	jsRegex  = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)

	// Block level closers that should end a line once tags are gone.
	blockEndRegex = regexp.MustCompile(`(?i)</(p|div|li|tr|h[1-6]|table|ul|ol|blockquote|pre)>|<br\s*/?>`)

	controlCharRegex = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
	blankRunRegex    = regexp.MustCompile(`[ \t\x{00a0}]+`)

	rtfBreakRegex   = regexp.MustCompile(`\\(par|line)\b ?`)
	rtfControlRegex = regexp.MustCompile(`\\'[0-9a-fA-F]{2}|\\[a-z]+-?\d* ?`)
)

// htmlToText strips markup from an HTML document while keeping one line per
// block element.
func htmlToText(doc string) string {
	doc = cssRegex.ReplaceAllString(doc, "")
	doc = jsRegex.ReplaceAllString(doc, "")
	doc = blockEndRegex.ReplaceAllString(doc, "\n")
	doc = tagRegex.ReplaceAllString(doc, " ")
	return html.UnescapeString(doc)
}

// xmlToText strips tags, ending a line after every closing tag named in
// lineEnds (e.g. "w:p" for Word paragraphs).
func xmlToText(doc string, lineEnds ...string) string {
	for _, name := range lineEnds {
		doc = strings.ReplaceAll(doc, "</"+name+">", "</"+name+">\n")
	}
	doc = tagRegex.ReplaceAllString(doc, "")
	return html.UnescapeString(doc)
}

// cleanLines normalizes extracted text for line scanning: control characters
// go, runs of blanks collapse to one space and empty lines are dropped.
func cleanLines(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = controlCharRegex.ReplaceAllString(text, "")

	var b strings.Builder
	b.Grow(len(text))
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(blankRunRegex.ReplaceAllString(line, " "))
		if line == "" {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// printableASCII keeps readable ASCII from a binary stream, turning everything
// else into line breaks so the fragments do not run together.
func printableASCII(data []byte) string {
	buf := make([]byte, len(data))
	for i, c := range data {
		if c == '\t' || (c >= 0x20 && c <= 0x7e) {
			buf[i] = c
		} else {
			buf[i] = '\n'
		}
	}
	return string(buf)
}
