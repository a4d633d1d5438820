package app

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/time/rate"

	"github.com/Super-Brother/TextSearcher/search"
)

// textPrinter writes records as they arrive. It runs on the job's worker
// goroutine, so it only formats and writes.
type textPrinter struct {
	out    io.Writer
	errOut io.Writer

	color bool
	terms []string

	// status is the throttled "N matches" line on a terminal stderr.
	status  bool
	limiter *rate.Limiter
}

var _ search.Monitor = (*textPrinter)(nil)

func newTextPrinter(out, errOut io.Writer, color, status bool, terms []string, refresh time.Duration) *textPrinter {
	if refresh <= 0 {
		refresh = 100 * time.Millisecond
	}
	return &textPrinter{
		out:     out,
		errOut:  errOut,
		color:   color,
		terms:   terms,
		status:  status,
		limiter: rate.NewLimiter(rate.Every(refresh), 1),
	}
}

func (p *textPrinter) Progress(rec search.Record, count int) {
	p.clearStatus()
	text := rec.Text
	if p.color {
		text = highlightTerms(text, p.terms)
	}
	fmt.Fprintln(p.out, text)

	if p.status && p.limiter.Allow() {
		fmt.Fprint(p.errOut, "\r"+infoStyle.Render(fmt.Sprintf("%d matches • %s", count, rec.Path)))
	}
}

func (p *textPrinter) Error(path string, err error) {
	p.clearStatus()
	msg := err.Error()
	if p.color {
		msg = errorStyle.Render(msg)
	}
	fmt.Fprintln(p.errOut, msg)
}

func (p *textPrinter) Finished(out search.Outcome) {
	p.clearStatus()
	style := successStyle
	if out.Cancelled {
		style = warningStyle
	}
	summary := out.Summary()
	if p.color {
		summary = style.Render(summary)
	}
	fmt.Fprintln(p.errOut, summary)
}

func (p *textPrinter) clearStatus() {
	if p.status {
		fmt.Fprint(p.errOut, "\r\033[K")
	}
}

// highlightTerms marks every occurrence of the given literals.
func highlightTerms(text string, terms []string) string {
	if len(terms) == 0 {
		return text
	}
	hi := lipgloss.NewStyle().Foreground(lipgloss.Color("#f7768e")).Bold(true)
	for _, term := range terms {
		if term == "" {
			continue
		}
		text = strings.ReplaceAll(text, term, hi.Render(term))
	}
	return text
}

// jsonPrinter writes one JSON object per event (newline delimited).
type jsonPrinter struct {
	enc *json.Encoder
}

var _ search.Monitor = (*jsonPrinter)(nil)

type jsonEvent struct {
	Type    string          `json:"type"`
	Count   int             `json:"count,omitempty"`
	Record  *search.Record  `json:"record,omitempty"`
	Path    string          `json:"path,omitempty"`
	Error   string          `json:"error,omitempty"`
	Outcome *search.Outcome `json:"outcome,omitempty"`
}

func newJSONPrinter(out io.Writer) *jsonPrinter {
	return &jsonPrinter{enc: json.NewEncoder(out)}
}

func (p *jsonPrinter) Progress(rec search.Record, count int) {
	_ = p.enc.Encode(jsonEvent{Type: "match", Count: count, Record: &rec})
}

func (p *jsonPrinter) Error(path string, err error) {
	_ = p.enc.Encode(jsonEvent{Type: "error", Path: path, Error: err.Error()})
}

func (p *jsonPrinter) Finished(out search.Outcome) {
	_ = p.enc.Encode(jsonEvent{Type: "finished", Outcome: &out})
}
