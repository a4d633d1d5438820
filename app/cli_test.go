package app

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Super-Brother/TextSearcher/config"
	"github.com/Super-Brother/TextSearcher/search"
)

// execute runs the root command with a config file that does not exist, so
// defaults apply, and history redirected into a temp dir.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("TEXT_SEARCHER_HISTORY", filepath.Join(dir, "history.json"))
	t.Setenv("TEXT_SEARCHER_LOG_LEVEL", "")

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs(append([]string{"--config", filepath.Join(dir, "config.yaml")}, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func TestSearchTextOutput(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"a.log": "ok\n  error: disk full  \n",
		"b.txt": "error: ignored by filter\n",
	})
	stdout, stderr, err := execute(t, "--no-history", "--no-color", "--filter", ".log", "error", dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "a.log")+" (line 2): error: disk full\n", stdout)
	assert.Contains(t, stderr, "Search finished: 1 matches in 1 files")
}

func TestSearchContextFlag(t *testing.T) {
	dir := writeTree(t, map[string]string{"a.txt": "before\nhit\nafter\n"})
	stdout, _, err := execute(t, "--no-history", "--no-color", "-C", "1", "hit", filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	assert.Contains(t, stdout, "    1: before\n>>  2: hit\n    3: after\n")
}

func TestSearchJSONOutput(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"x.txt": "alpha\nerror beta\nerror retry\n",
	})
	stdout, _, err := execute(t, "--no-history", "--json", "--logic", `"error" and not "retry"`, dir)
	require.NoError(t, err)

	var types []string
	var events []jsonEvent
	sc := bufio.NewScanner(strings.NewReader(stdout))
	for sc.Scan() {
		var ev jsonEvent
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		types = append(types, ev.Type)
		events = append(events, ev)
	}
	require.Equal(t, []string{"match", "finished"}, types)
	require.NotNil(t, events[0].Record)
	assert.Equal(t, 2, events[0].Record.Line)
	assert.Equal(t, "error beta", events[0].Record.Content)
	assert.Equal(t, 1, events[0].Count)
	require.NotNil(t, events[1].Outcome)
	assert.Equal(t, 1, events[1].Outcome.Count)
}

func TestSearchMalformedExpressionWarns(t *testing.T) {
	dir := writeTree(t, map[string]string{"x.txt": "a\n"})
	stdout, stderr, err := execute(t, "--no-history", "--no-color", "--logic", `("a"`, dir)
	require.NoError(t, err)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "nothing will match")
	assert.Contains(t, stderr, "0 matches")
}

func TestSearchErrors(t *testing.T) {
	dir := t.TempDir()

	_, _, err := execute(t, "--no-history", "   ", dir)
	assert.ErrorIs(t, err, search.ErrEmptyKeyword)
	assert.Equal(t, 2, exitCode(err))

	_, _, err = execute(t, "--no-history", "-C", "-3", "x", dir)
	assert.ErrorIs(t, err, search.ErrNegativeContext)

	_, _, err = execute(t, "--no-history", "x", filepath.Join(dir, "missing"))
	require.Error(t, err)
	assert.Equal(t, 1, exitCode(err))

	_, _, err = execute(t, "only-one-arg")
	assert.Error(t, err)

	_, _, err = execute(t, "--json", "--tui", "x", dir)
	assert.Error(t, err)
}

func TestHistoryRecordedAndListed(t *testing.T) {
	dir := writeTree(t, map[string]string{"x.txt": "needle\n"})
	histDir := t.TempDir()
	histPath := filepath.Join(histDir, "history.json")
	cfgPath := filepath.Join(histDir, "config.yaml")
	t.Setenv("TEXT_SEARCHER_HISTORY", histPath)

	run := func(args ...string) string {
		var stdout, stderr bytes.Buffer
		cmd := newRootCmd(&stdout, &stderr)
		cmd.SetArgs(append([]string{"--config", cfgPath}, args...))
		require.NoError(t, cmd.ExecuteContext(context.Background()))
		return stdout.String()
	}

	run("--no-color", "--ignore", "debug", "needle", dir)
	run("--no-color", "other", dir)

	data, err := os.ReadFile(histPath)
	require.NoError(t, err)
	var saved map[string][]string
	require.NoError(t, json.Unmarshal(data, &saved))
	assert.Equal(t, []string{"other", "needle"}, saved["keywords"])
	assert.Equal(t, []string{"debug"}, saved["ignore_keywords"])

	out := run("history")
	assert.Contains(t, out, "KEYWORDS")
	assert.Contains(t, out, " 1  other")
	assert.Contains(t, out, " 2  needle")

	run("history", "--clear")
	out = run("history")
	assert.Contains(t, out, "(none)")
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, 2, exitCode(search.ErrEmptyTarget))
	assert.Equal(t, 2, exitCode(fmt.Errorf("wrapped: %w", search.ErrEmptyKeyword)))
	assert.Equal(t, 1, exitCode(errors.New("boom")))
}

func TestTextPrinterPlain(t *testing.T) {
	var out, errOut bytes.Buffer
	p := newTextPrinter(&out, &errOut, false, false, []string{"hit"}, 0)

	p.Progress(search.Record{Path: "a.txt", Text: "a.txt (line 1): hit"}, 1)
	p.Error("b.txt", &search.FileError{Path: "b.txt", Err: os.ErrPermission})
	p.Finished(search.Outcome{Count: 1, Files: 2, Errors: 1})

	assert.Equal(t, "a.txt (line 1): hit\n", out.String())
	assert.Contains(t, errOut.String(), "cannot read file b.txt")
	assert.Contains(t, errOut.String(), "Search finished: 1 matches in 2 files")
	assert.NotContains(t, errOut.String(), "\r")
}

func TestJSONPrinterError(t *testing.T) {
	var out bytes.Buffer
	p := newJSONPrinter(&out)
	p.Error("b.txt", errors.New("denied"))

	var ev map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &ev))
	assert.Equal(t, "error", ev["type"])
	assert.Equal(t, "b.txt", ev["path"])
	assert.Equal(t, "denied", ev["error"])
	assert.NotContains(t, ev, "record")
}

func TestHighlightTerms(t *testing.T) {
	assert.Equal(t, "plain", highlightTerms("plain", nil))
	got := highlightTerms("an error line", []string{"error", ""})
	assert.Contains(t, got, "an ")
	assert.Contains(t, got, " line")
	assert.Contains(t, got, "error")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "unlimited", truncate("unlimited", 0))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
	// wide runes take two cells
	assert.Equal(t, "你好…", truncate("你好世界", 5))
}

func TestDescribeRequest(t *testing.T) {
	req := search.Request{
		Keyword:        search.Expr{Raw: `"a" or "b"`, Logical: true},
		Ignore:         search.Expr{Raw: "debug"},
		FileNameFilter: ".log",
		ContextLines:   2,
	}
	assert.Equal(t, `"a" or "b" (ignoring "debug") in *.log* ±2 lines`, describeRequest(req))
}

func TestConfigInit(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "nested", "config.yaml")
	run := func(args ...string) (string, error) {
		var stdout, stderr bytes.Buffer
		cmd := newRootCmd(&stdout, &stderr)
		cmd.SetArgs(append([]string{"--config", cfgPath}, args...))
		err := cmd.ExecuteContext(context.Background())
		return stdout.String(), err
	}

	out, err := run("config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, cfgPath)

	cfg, err := config.LoadFromFile(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().Search, cfg.Search)

	_, err = run("config", "init")
	assert.ErrorContains(t, err, "already exists")

	_, err = run("config", "init", "--force")
	assert.NoError(t, err)
}
