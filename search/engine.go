package search

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Request describes one search run. It is copied into the Job and never
// mutated afterwards.
type Request struct {
	Target         string `json:"target"`
	IsFolder       bool   `json:"is_folder"`
	Keyword        Expr   `json:"keyword"`
	Ignore         Expr   `json:"ignore,omitempty"`
	FileNameFilter string `json:"file_name_filter,omitempty"`
	ContextLines   int    `json:"context_lines"`
}

// Validate checks the structural preconditions of a request.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Target) == "" {
		return ErrEmptyTarget
	}
	if r.Keyword.IsZero() {
		return ErrEmptyKeyword
	}
	if r.ContextLines < 0 {
		return ErrNegativeContext
	}
	return nil
}

// Outcome is the terminal state of a Job.
type Outcome struct {
	JobID     string        `json:"job_id"`
	Count     int           `json:"count"`
	Cancelled bool          `json:"cancelled"`
	Files     int           `json:"files"`
	Errors    int           `json:"errors"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Summary renders the outcome as a single human readable line.
func (o Outcome) Summary() string {
	state := "finished"
	if o.Cancelled {
		state = "stopped"
	}
	s := fmt.Sprintf("Search %s: %s matches in %s files (%s)",
		state, formatNumber(o.Count), formatNumber(o.Files), o.Elapsed.Round(time.Millisecond))
	if o.Errors > 0 {
		s += fmt.Sprintf(", %s unreadable", formatNumber(o.Errors))
	}
	return s
}

// Option configures a Job.
type Option func(*Job)

// WithLogger sets the logger; slog.Default() is used otherwise.
func WithLogger(logger *slog.Logger) Option {
	return func(j *Job) {
		j.logger = logger
	}
}

// WithMonitor adds a Monitor. Several monitors receive events in the order
// they were added.
func WithMonitor(m Monitor) Option {
	return func(j *Job) {
		if m != nil {
			j.monitors = append(j.monitors, m)
		}
	}
}

// WithResolver replaces ResolveEncodings with a configured resolver.
func WithResolver(r *EncodingResolver) Option {
	return func(j *Job) {
		j.resolver = r
	}
}

// WithExtractors enables document extraction for the registry's extensions.
// Files handled by an extractor bypass encoding resolution.
func WithExtractors(reg *ExtractorRegistry) Option {
	return func(j *Job) {
		j.extractors = reg
	}
}

// WithSkipDirs prunes directories with these base names during a folder walk.
func WithSkipDirs(names ...string) Option {
	return func(j *Job) {
		j.skipDirs = append(j.skipDirs, names...)
	}
}

// Job is one run of the engine over one Request. A Job runs at most once; it
// produces exactly one Outcome and is inert afterwards.
type Job struct {
	id         string
	req        Request
	match      Predicate
	ignore     Predicate
	logger     *slog.Logger
	monitors   monitors
	resolver   *EncodingResolver
	extractors *ExtractorRegistry
	skipDirs   []string

	started atomic.Bool
	stopped atomic.Bool
	done    chan struct{}
	outcome Outcome
}

// NewJob validates req and compiles its expressions. A malformed logical
// expression is not an error: it is logged and never matches.
func NewJob(req Request, opts ...Option) (*Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	j := &Job{
		id:   uuid.NewString(),
		req:  req,
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(j)
	}
	if j.logger == nil {
		j.logger = slog.Default()
	}
	j.logger = j.logger.With("job", j.id)

	j.match = j.compile("keyword", req.Keyword)
	if !req.Ignore.IsZero() {
		j.ignore = j.compile("ignore", req.Ignore)
	}
	return j, nil
}

func (j *Job) compile(role string, e Expr) Predicate {
	p, err := CompileStrict(e.Raw, e.Logical)
	if err != nil {
		j.logger.Warn("expression will never match", "role", role, "error", err)
	}
	return p
}

// ID returns the job's unique identifier.
func (j *Job) ID() string { return j.id }

// Request returns a copy of the job's request.
func (j *Job) Request() Request { return j.req }

// Start runs the job on its own goroutine. Cancelling ctx has the same effect
// as Stop. Starting a job twice returns ErrJobStarted.
func (j *Job) Start(ctx context.Context) error {
	if !j.started.CompareAndSwap(false, true) {
		return ErrJobStarted
	}
	stopOnCancel := context.AfterFunc(ctx, j.Stop)
	go func() {
		defer stopOnCancel()
		j.run()
	}()
	return nil
}

// Run starts the job and blocks until its outcome is available.
func (j *Job) Run(ctx context.Context) (Outcome, error) {
	if err := j.Start(ctx); err != nil {
		return Outcome{}, err
	}
	return j.Wait(), nil
}

// Stop asks the job to finish early. It is safe to call from any goroutine,
// any number of times, before or after the job ends. The worker notices at
// its next check point: before each file and once per line.
func (j *Job) Stop() {
	j.stopped.Store(true)
}

// Done is closed once the Outcome is available.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job has finished and returns its outcome.
func (j *Job) Wait() Outcome {
	<-j.done
	return j.outcome
}

func (j *Job) run() {
	start := time.Now()
	out := Outcome{JobID: j.id}
	mon := j.monitor()

	j.logger.Info("search started",
		"target", j.req.Target,
		"folder", j.req.IsFolder,
		"filter", j.req.FileNameFilter,
		"context", j.req.ContextLines)

	scanner := &LineScanner{
		Match:        j.match,
		Ignore:       j.ignore,
		ContextLines: j.req.ContextLines,
		Cancelled:    j.stopped.Load,
		Logger:       j.logger,
	}

	for path, err := range j.targets() {
		if j.stopped.Load() {
			break
		}
		if err != nil {
			out.Errors++
			j.reportError(mon, path, err)
			continue
		}

		out.Files++
		for rec, err := range scanner.Records(j.source(path)) {
			if err != nil {
				out.Errors++
				j.reportError(mon, path, err)
				break
			}
			out.Count++
			mon.Progress(rec, out.Count)
		}
	}

	out.Cancelled = j.stopped.Load()
	out.Elapsed = time.Since(start)
	j.outcome = out

	j.logger.Info("search finished",
		"matches", out.Count,
		"files", out.Files,
		"errors", out.Errors,
		"cancelled", out.Cancelled,
		"elapsed", out.Elapsed)

	mon.Finished(out)
	close(j.done)
}

func (j *Job) monitor() Monitor {
	switch len(j.monitors) {
	case 0:
		return &noopMonitor{}
	case 1:
		return j.monitors[0]
	}
	return j.monitors
}

// targets yields the files to scan. A walk error carries the offending path
// inside its *FileError.
func (j *Job) targets() iter.Seq2[string, error] {
	if !j.req.IsFolder {
		return func(yield func(string, error) bool) {
			yield(j.req.Target, nil)
		}
	}
	walker := j.walker()
	return func(yield func(string, error) bool) {
		for path, err := range walker.Files(j.req.Target) {
			var fe *FileError
			if errors.As(err, &fe) {
				path = fe.Path
			}
			if !yield(path, err) {
				return
			}
		}
	}
}

func (j *Job) walker() *FileWalker {
	filter := j.req.FileNameFilter
	if strings.TrimSpace(filter) == "" {
		filter = ""
	}
	return NewFileWalker(filter, j.skipDirs)
}

// CountFiles walks the target the way the job will and returns how many files
// it is going to scan. It does not start the job and may run concurrently
// with it.
func (j *Job) CountFiles() int {
	if !j.req.IsFolder {
		return 1
	}
	return j.walker().CountFiles(j.req.Target)
}

func (j *Job) source(path string) Source {
	if j.extractors != nil {
		if src, ok := j.extractors.Source(path); ok {
			return src
		}
	}
	if j.resolver != nil {
		return FileSource(path, j.resolver.Resolve(path))
	}
	return FileSource(path, ResolveEncodings(path))
}

func (j *Job) reportError(mon Monitor, path string, err error) {
	j.logger.Debug("file skipped", "path", path, "error", err)
	mon.Error(path, err)
}

// GetAbsolutePath returns the absolute form of path, or path itself when it
// cannot be resolved.
func GetAbsolutePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

// formatNumber formats a number with thousands separators
func formatNumber(n int) string {
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result strings.Builder
	for i, digit := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result.WriteString(",")
		}
		result.WriteRune(digit)
	}
	return result.String()
}
