package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"
)

// recorder is a Monitor that keeps every callback for later inspection.
type recorder struct {
	mu       sync.Mutex
	records  []Record
	counts   []int
	errPaths []string
	errs     []error
	finished []Outcome
}

func (r *recorder) Progress(rec Record, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	r.counts = append(r.counts, count)
}

func (r *recorder) Error(path string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errPaths = append(r.errPaths, path)
	r.errs = append(r.errs, err)
}

func (r *recorder) Finished(out Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, out)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestJob(t *testing.T, req Request, opts ...Option) (*Job, *recorder) {
	t.Helper()
	rec := &recorder{}
	opts = append([]Option{WithLogger(quietLogger()), WithMonitor(rec)}, opts...)
	job, err := NewJob(req, opts...)
	require.NoError(t, err)
	return job, rec
}

func TestJobFolderWithFilter(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.log", []byte("x\ny\nerror\n"))
	writeFile(t, dir, "b.txt", []byte("error\n"))

	job, rec := newTestJob(t, Request{
		Target:         dir,
		IsFolder:       true,
		Keyword:        Expr{Raw: "error"},
		FileNameFilter: ".log",
	})
	out, err := job.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, out.Count)
	assert.Equal(t, 1, out.Files)
	assert.False(t, out.Cancelled)
	assert.Equal(t, job.ID(), out.JobID)

	require.Len(t, rec.records, 1)
	assert.Equal(t, filepath.Join(dir, "a.log")+" (line 3): error", rec.records[0].Text)
	assert.Equal(t, []int{1}, rec.counts)
	assert.Equal(t, []Outcome{out}, rec.finished)
}

func TestJobCountsAreSequential(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "1.txt", []byte("hit\nmiss\nhit\n"))
	writeFile(t, dir, "2.txt", []byte("hit\n"))
	writeFile(t, dir, "sub/3.txt", []byte("miss\nhit\n"))

	job, rec := newTestJob(t, Request{Target: dir, IsFolder: true, Keyword: Expr{Raw: "hit"}})
	out, err := job.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, out.Count)
	assert.Equal(t, 3, out.Files)
	assert.Equal(t, []int{1, 2, 3, 4}, rec.counts)

	var order []string
	for _, r := range rec.records {
		order = append(order, fmt.Sprintf("%s:%d", filepath.Base(r.Path), r.Line))
	}
	assert.Equal(t, []string{"1.txt:1", "1.txt:3", "2.txt:1", "3.txt:2"}, order)
}

func TestJobSingleFileLogical(t *testing.T) {
	path := writeFile(t, t.TempDir(), "app.log", []byte(
		"error: disk full\nerror: retrying\nwarning: slow\nerror: timeout\n"))

	job, rec := newTestJob(t, Request{
		Target:  path,
		Keyword: Expr{Raw: `"error" and not "retry"`, Logical: true},
		Ignore:  Expr{Raw: "timeout"},
	})
	out, err := job.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, out.Count)
	assert.Equal(t, 1, out.Files)
	require.Len(t, rec.records, 1)
	assert.Equal(t, 1, rec.records[0].Line)
}

func TestJobMalformedExpressionFinishesWithZero(t *testing.T) {
	path := writeFile(t, t.TempDir(), "a.txt", []byte("a\nb\n"))
	job, rec := newTestJob(t, Request{Target: path, Keyword: Expr{Raw: `("a"`, Logical: true}})
	out, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, out.Count)
	assert.Empty(t, rec.records)
	assert.Len(t, rec.finished, 1)
}

func TestJobStopFromProgress(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", []byte(strings.Repeat("hit\n", 50)))
	writeFile(t, dir, "b.txt", []byte(strings.Repeat("hit\n", 50)))

	const stopAfter = 5
	var job *Job
	var counts []int
	mon := MonitorFuncs{OnProgress: func(_ Record, count int) {
		counts = append(counts, count)
		if count == stopAfter {
			job.Stop()
		}
	}}
	job, rec := newTestJob(t, Request{Target: dir, IsFolder: true, Keyword: Expr{Raw: "hit"}}, WithMonitor(mon))

	out, err := job.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, out.Cancelled)
	assert.Equal(t, stopAfter, out.Count)
	assert.Len(t, counts, stopAfter)
	assert.Len(t, rec.finished, 1)

	// stopping a finished job is harmless
	job.Stop()
	job.Stop()
	assert.Equal(t, out, job.Wait())
}

func TestJobStopBeforeStart(t *testing.T) {
	path := writeFile(t, t.TempDir(), "a.txt", []byte("hit\n"))
	job, rec := newTestJob(t, Request{Target: path, Keyword: Expr{Raw: "hit"}})
	job.Stop()

	out, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, out.Cancelled)
	assert.Equal(t, 0, out.Count)
	assert.Len(t, rec.finished, 1)
}

func TestJobContextCancelStops(t *testing.T) {
	path := writeFile(t, t.TempDir(), "a.txt", []byte(strings.Repeat("hit\n", 10)))

	ctx, cancel := context.WithCancel(context.Background())
	var job *Job
	var once sync.Once
	mon := MonitorFuncs{OnProgress: func(Record, int) {
		once.Do(func() {
			cancel()
			// Stop runs on the context's AfterFunc goroutine
			deadline := time.Now().Add(2 * time.Second)
			for !job.stopped.Load() && time.Now().Before(deadline) {
				time.Sleep(time.Millisecond)
			}
		})
	}}
	job, _ = newTestJob(t, Request{Target: path, Keyword: Expr{Raw: "hit"}}, WithMonitor(mon))

	out, err := job.Run(ctx)
	require.NoError(t, err)
	assert.True(t, out.Cancelled)
	assert.Equal(t, 1, out.Count)
}

func TestJobStartTwice(t *testing.T) {
	path := writeFile(t, t.TempDir(), "a.txt", []byte("hit\n"))
	job, rec := newTestJob(t, Request{Target: path, Keyword: Expr{Raw: "hit"}})

	require.NoError(t, job.Start(context.Background()))
	assert.ErrorIs(t, job.Start(context.Background()), ErrJobStarted)

	out := job.Wait()
	assert.Equal(t, 1, out.Count)

	_, err := job.Run(context.Background())
	assert.ErrorIs(t, err, ErrJobStarted)

	select {
	case <-job.Done():
	default:
		t.Fatal("done channel not closed")
	}
	assert.Len(t, rec.finished, 1)
}

func TestJobMissingSingleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.txt")
	job, rec := newTestJob(t, Request{Target: path, Keyword: Expr{Raw: "x"}})

	out, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, out.Count)
	assert.Equal(t, 1, out.Errors)
	assert.False(t, out.Cancelled)

	require.Len(t, rec.errs, 1)
	assert.Equal(t, path, rec.errPaths[0])
	var fe *FileError
	assert.ErrorAs(t, rec.errs[0], &fe)
	assert.Len(t, rec.finished, 1)
}

func TestJobFileErrorDoesNotAbort(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.bad", []byte("hit\n"))
	writeFile(t, dir, "b.txt", []byte("hit\n"))

	reg := NewExtractorRegistry("none")
	reg.Register(".bad", ExtractorFunc(func([]byte) (string, error) {
		return "", errors.New("corrupt document")
	}))
	job, rec := newTestJob(t, Request{Target: dir, IsFolder: true, Keyword: Expr{Raw: "hit"}}, WithExtractors(reg))

	out, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, out.Count)
	assert.Equal(t, 2, out.Files)
	assert.Equal(t, 1, out.Errors)

	require.Len(t, rec.errPaths, 1)
	assert.Equal(t, filepath.Join(dir, "a.bad"), rec.errPaths[0])
	assert.Contains(t, rec.errs[0].Error(), "corrupt document")
	require.Len(t, rec.records, 1)
	assert.Equal(t, filepath.Join(dir, "b.txt"), rec.records[0].Path)
}

func TestJobMissingFolder(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nope")
	job, rec := newTestJob(t, Request{Target: root, IsFolder: true, Keyword: Expr{Raw: "x"}})

	out, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, out.Errors)
	assert.Equal(t, 0, out.Files)
	require.Len(t, rec.errPaths, 1)
	assert.Equal(t, root, rec.errPaths[0])
}

func TestJobSkipDirs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "keep/a.txt", []byte("hit\n"))
	writeFile(t, dir, "vendor/b.txt", []byte("hit\n"))

	job, _ := newTestJob(t, Request{Target: dir, IsFolder: true, Keyword: Expr{Raw: "hit"}}, WithSkipDirs("vendor"))
	out, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, out.Count)
	assert.Equal(t, 1, out.Files)
}

func TestJobContextLines(t *testing.T) {
	path := writeFile(t, t.TempDir(), "a.txt", []byte("a\nhit\nb\n"))
	job, rec := newTestJob(t, Request{Target: path, Keyword: Expr{Raw: "hit"}, ContextLines: 1})

	_, err := job.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, rec.records, 1)
	assert.Contains(t, rec.records[0].Text, ">>  2: hit")
}

func TestNewJobValidation(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"empty target", Request{Keyword: Expr{Raw: "x"}}, ErrEmptyTarget},
		{"blank keyword", Request{Target: ".", Keyword: Expr{Raw: "   "}}, ErrEmptyKeyword},
		{"negative context", Request{Target: ".", Keyword: Expr{Raw: "x"}, ContextLines: -1}, ErrNegativeContext},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := NewJob(tt.req)
			assert.Nil(t, job)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestJobIDsAreUnique(t *testing.T) {
	req := Request{Target: ".", Keyword: Expr{Raw: "x"}}
	a, err := NewJob(req, WithLogger(quietLogger()))
	require.NoError(t, err)
	b, err := NewJob(req, WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, req, a.Request())
}

func TestOutcomeSummary(t *testing.T) {
	out := Outcome{Count: 1234, Files: 7, Elapsed: 1500 * time.Millisecond}
	assert.Equal(t, "Search finished: 1,234 matches in 7 files (1.5s)", out.Summary())

	out.Cancelled = true
	out.Errors = 2
	assert.Equal(t, "Search stopped: 1,234 matches in 7 files (1.5s), 2 unreadable", out.Summary())
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "0", formatNumber(0))
	assert.Equal(t, "999", formatNumber(999))
	assert.Equal(t, "1,000", formatNumber(1000))
	assert.Equal(t, "1,234,567", formatNumber(1234567))
}

func TestGetAbsolutePath(t *testing.T) {
	assert.True(t, filepath.IsAbs(GetAbsolutePath("relative/dir")))
	abs := filepath.Join(t.TempDir(), "x")
	assert.Equal(t, abs, GetAbsolutePath(abs))
}

func TestJobDetectsGBKLog(t *testing.T) {
	dir := t.TempDir()
	text := strings.Repeat("INFO heartbeat ok\n", 20) + "ERROR 发生错误\n"
	data, err := simplifiedchinese.GBK.NewEncoder().Bytes([]byte(text))
	require.NoError(t, err)
	writeFile(t, dir, "gbk.log", data)
	writeFile(t, dir, "utf8.log", []byte(text))

	job, rec := newTestJob(t, Request{Target: dir, IsFolder: true, Keyword: Expr{Raw: "错误"}})
	out, err := job.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, out.Count)
	require.Len(t, rec.records, 2)
	for _, r := range rec.records {
		assert.Equal(t, 21, r.Line)
		assert.Equal(t, "ERROR 发生错误", r.Content)
	}
	assert.True(t, isGBFamily(rec.records[0].Encoding), "gbk.log decoded as %s", rec.records[0].Encoding)
	assert.Equal(t, "UTF-8", rec.records[1].Encoding)
}

func TestJobCountFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.log", []byte("x\n"))
	writeFile(t, dir, "b.txt", []byte("x\n"))
	writeFile(t, dir, "vendor/c.log", []byte("x\n"))

	job, _ := newTestJob(t, Request{Target: dir, IsFolder: true, Keyword: Expr{Raw: "x"}, FileNameFilter: ".log"}, WithSkipDirs("vendor"))
	assert.Equal(t, 1, job.CountFiles())

	out, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, job.CountFiles(), out.Files)

	single, _ := newTestJob(t, Request{Target: filepath.Join(dir, "b.txt"), Keyword: Expr{Raw: "x"}})
	assert.Equal(t, 1, single.CountFiles())
}
