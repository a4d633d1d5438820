package app

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/Super-Brother/TextSearcher/search"
)

// Styles (shared with the plain CLI output)
var (
	appStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7aa2f7"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7aa2f7"))

	subHeaderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7dcfff")).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#a9b1d6"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#9ece6a")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#e0af68")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#f7768e")).
			Bold(true)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

// maxEventBatch bounds how many queued events one Update consumes.
const maxEventBatch = 512

type model struct {
	job    *search.Job
	events <-chan search.Event
	req    search.Request

	// Output
	lines    []outputLine
	errors   int
	count    int
	outcome  *search.Outcome
	stopping bool

	// View state
	scroll       int
	follow       bool
	width        int
	height       int
	maxLineWidth int
	refresh      time.Duration
	started      time.Time
	memUsageText string
	totalFiles   int // -1 until counted
	quitting     bool
}

func newModel(job *search.Job, stream *search.Stream, maxLineWidth int, refresh time.Duration) model {
	if refresh <= 0 {
		refresh = 100 * time.Millisecond
	}
	return model{
		job:          job,
		events:       stream.Events(),
		req:          job.Request(),
		follow:       true,
		maxLineWidth: maxLineWidth,
		refresh:      refresh,
		started:      time.Now(),
		totalFiles:   -1,
	}
}

type outputLine struct {
	text string
	err  bool
}

// Messages for TUI updates
type eventsMsg []search.Event

type memUsageMsg struct {
	Text string
}

type clockTick struct{}

type filesCountedMsg int

func (m model) Init() tea.Cmd {
	return tea.Batch(waitForEvents(m.events), m.memUsageTick(), m.clockTick(), countFiles(m.job))
}

// countFiles walks the target once up front so the header can show the size
// of the scan.
func countFiles(job *search.Job) tea.Cmd {
	return func() tea.Msg {
		return filesCountedMsg(job.CountFiles())
	}
}

// waitForEvents blocks for one event and then drains whatever else is queued,
// so a fast scan does not cost one render per match.
func waitForEvents(ch <-chan search.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		batch := eventsMsg{ev}
		for len(batch) < maxEventBatch {
			select {
			case ev, ok := <-ch:
				if !ok {
					return batch
				}
				batch = append(batch, ev)
			default:
				return batch
			}
		}
		return batch
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.job.Stop()
			m.quitting = true
			return m, tea.Quit
		case "esc", "s":
			if m.outcome == nil {
				m.job.Stop()
				m.stopping = true
			}
			return m, nil
		case "up", "k":
			m.scrollBy(-1)
		case "down", "j":
			m.scrollBy(1)
		case "pgup":
			m.scrollBy(-m.contentHeight())
		case "pgdown", " ":
			m.scrollBy(m.contentHeight())
		case "home", "g":
			m.follow = false
			m.scroll = 0
		case "end", "G":
			m.follow = true
		}
		return m, nil

	case eventsMsg:
		for _, ev := range msg {
			switch ev.Kind {
			case search.EventProgress:
				m.count = ev.Count
				for _, l := range strings.Split(ev.Record.Text, "\n") {
					m.lines = append(m.lines, outputLine{text: l})
				}
			case search.EventError:
				m.errors++
				m.lines = append(m.lines, outputLine{text: ev.Err.Error(), err: true})
			case search.EventFinished:
				out := ev.Outcome
				m.outcome = &out
			}
		}
		if m.outcome != nil {
			return m, nil
		}
		return m, waitForEvents(m.events)

	case filesCountedMsg:
		m.totalFiles = int(msg)
		return m, nil

	case memUsageMsg:
		m.memUsageText = msg.Text
		return m, m.memUsageTick()

	case clockTick:
		if m.outcome != nil {
			return m, nil
		}
		return m, m.clockTick()
	}
	return m, nil
}

func (m *model) scrollBy(n int) {
	m.follow = false
	m.scroll += n
	if m.scroll < 0 {
		m.scroll = 0
	}
	if maxStart := len(m.lines) - m.contentHeight(); m.scroll >= maxStart {
		m.scroll = max(maxStart, 0)
		m.follow = true
	}
}

func (m model) size() (int, int) {
	width, height := m.width, m.height
	if width <= 0 {
		width = 120
	}
	if height <= 0 {
		height = 30
	}
	return width, height
}

// contentHeight is the number of result lines that fit in the box.
func (m model) contentHeight() int {
	_, height := m.size()
	// header 3, status 1, footer 1, box border 2
	return max(height-7, 1)
}

func (m model) View() string {
	if m.quitting {
		return ""
	}
	width, _ := m.size()

	var parts []string
	parts = append(parts, headerStyle.Render("text-searcher v"+version))
	parts = append(parts, subHeaderStyle.Render(truncate("🔍 "+describeRequest(m.req), width)))
	target := "📁 " + search.GetAbsolutePath(m.req.Target)
	if m.totalFiles >= 0 {
		target += fmt.Sprintf(" (%d files)", m.totalFiles)
	}
	parts = append(parts, infoStyle.Render(truncate(target, width)))
	parts = append(parts, m.statusLine(width))

	lineWidth := width - 4
	if m.maxLineWidth > 0 && m.maxLineWidth < lineWidth {
		lineWidth = m.maxLineWidth
	}
	h := m.contentHeight()
	start := m.scroll
	if m.follow {
		start = max(len(m.lines)-h, 0)
	}
	end := min(start+h, len(m.lines))

	window := make([]string, 0, h)
	for _, l := range m.lines[start:end] {
		text := truncate(l.text, lineWidth)
		if l.err {
			text = errorStyle.Render(text)
		}
		window = append(window, text)
	}
	if len(m.lines) == 0 {
		if m.outcome == nil {
			window = append(window, "Searching...")
		} else {
			window = append(window, "No results found.")
		}
	}
	parts = append(parts, appStyle.Width(width-2).Height(h).Render(strings.Join(window, "\n")))

	keys := "q quit • esc stop • ↑/↓ scroll • pgup/pgdn page • home/end"
	parts = append(parts, footerStyle.Render(keys))
	return strings.Join(parts, "\n")
}

func (m model) statusLine(width int) string {
	switch {
	case m.outcome != nil && m.outcome.Cancelled:
		return warningStyle.Render(truncate("⏹  "+m.outcome.Summary(), width))
	case m.outcome != nil:
		return successStyle.Render(truncate("✅ "+m.outcome.Summary(), width))
	}
	state := "⏳ Searching"
	if m.stopping {
		state = "⏳ Stopping"
	}
	txt := fmt.Sprintf("%s • %d matches • %d errors • %.1fs%s",
		state, m.count, m.errors, time.Since(m.started).Seconds(), m.memUsageText)
	return warningStyle.Render(truncate(txt, width))
}

func (m model) memUsageTick() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		return memUsageMsg{Text: fmt.Sprintf(" • Heap %5.1f MB", float64(ms.HeapAlloc)/(1024*1024))}
	})
}

func (m model) clockTick() tea.Cmd {
	return tea.Tick(m.refresh, func(time.Time) tea.Msg { return clockTick{} })
}

// truncate cuts s to width terminal cells. Wide runes count as two.
func truncate(s string, width int) string {
	if width <= 0 || runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "…")
}

func describeRequest(req search.Request) string {
	var b strings.Builder
	b.WriteString(exprLabel(req.Keyword))
	if !req.Ignore.IsZero() {
		b.WriteString(" (ignoring " + exprLabel(req.Ignore) + ")")
	}
	if req.FileNameFilter != "" {
		b.WriteString(fmt.Sprintf(" in *%s*", req.FileNameFilter))
	}
	if req.ContextLines > 0 {
		b.WriteString(fmt.Sprintf(" ±%d lines", req.ContextLines))
	}
	return b.String()
}

func exprLabel(e search.Expr) string {
	if e.Logical {
		return e.Raw
	}
	return fmt.Sprintf("%q", e.Raw)
}

// runTUI shows results as they stream in. Leaving the UI stops the job.
func runTUI(job *search.Job, stream *search.Stream, maxLineWidth int, refresh time.Duration) error {
	p := tea.NewProgram(newModel(job, stream, maxLineWidth, refresh), tea.WithAltScreen())
	_, err := p.Run()
	job.Stop()
	return err
}
