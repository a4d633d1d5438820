package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Super-Brother/TextSearcher/config"
	"github.com/Super-Brother/TextSearcher/history"
	"github.com/Super-Brother/TextSearcher/search"
)

var version = "1.0.0"

// options collects the command line flags of the search command.
type options struct {
	configPath  string
	logLevel    string
	logical     bool
	ignore      string
	ignoreLogic bool
	filter      string
	contextLine int
	extract     bool
	jsonOut     bool
	tui         bool
	noHistory   bool
	noColor     bool
}

// Run executes the command line and returns a process exit code.
func Run() int {
	cmd := newRootCmd(os.Stdout, os.Stderr)
	err := cmd.ExecuteContext(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
	}
	return exitCode(err)
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "text-searcher [flags] <keyword> <file-or-folder>",
		Short: "Search files line by line for keywords",
		Long: `text-searcher scans a file, or every file below a folder, line by line and
prints the lines that contain a keyword.

With --logic the keyword is a boolean expression over quoted strings:
  "error" and not ("debug" or 'trace')
  "timeout" | "refused" & !"retry"

Files are decoded with the detected charset, falling back to UTF-8, GBK,
GB2312 and GB18030.`,
		Example: `  text-searcher error ./logs
  text-searcher --filter .log --context 2 panic /var/log/app
  text-searcher --logic '"error" and not "ignored"' --ignore heartbeat ./logs
  text-searcher --json --extract invoice ~/mail`,
		Args:          cobra.ExactArgs(2),
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, opts, args[0], args[1], stdout, stderr)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/text-searcher/config.yaml)")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error")

	f := cmd.Flags()
	f.BoolVarP(&opts.logical, "logic", "l", false, "treat the keyword as a logical expression")
	f.StringVarP(&opts.ignore, "ignore", "i", "", "skip lines matching this keyword")
	f.BoolVar(&opts.ignoreLogic, "ignore-logic", false, "treat the ignore keyword as a logical expression")
	f.StringVarP(&opts.filter, "filter", "f", "", "only scan files whose name contains this text")
	f.IntVarP(&opts.contextLine, "context", "C", -1, "lines of context around each match (default from config)")
	f.BoolVar(&opts.extract, "extract", false, "convert "+config.GetFileTypeDescription(config.DocumentTypes)+" to text first")
	f.BoolVar(&opts.jsonOut, "json", false, "print newline delimited JSON")
	f.BoolVar(&opts.tui, "tui", false, "show results in an interactive terminal UI")
	f.BoolVar(&opts.noHistory, "no-history", false, "do not record the keywords in the history")
	f.BoolVar(&opts.noColor, "no-color", false, "disable colored output")
	cmd.MarkFlagsMutuallyExclusive("json", "tui")

	cmd.AddCommand(newHistoryCmd(opts, stdout))
	cmd.AddCommand(newConfigCmd(opts, stdout))
	return cmd
}

func loadConfig(opts *options) (*config.Config, error) {
	if opts.configPath != "" {
		return config.LoadFromFile(opts.configPath)
	}
	return config.Load()
}

func setupLogger(level string, w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: config.ParseLogLevel(level)}))
}

func runSearch(cmd *cobra.Command, opts *options, keyword, target string, stdout, stderr io.Writer) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	level := cfg.LogLevel
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	logger := setupLogger(level, stderr)

	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("cannot access target: %w", err)
	}

	req := search.Request{
		Target:         target,
		IsFolder:       info.IsDir(),
		Keyword:        search.Expr{Raw: keyword, Logical: opts.logical},
		Ignore:         search.Expr{Raw: opts.ignore, Logical: opts.ignoreLogic},
		FileNameFilter: opts.filter,
		ContextLines:   cfg.Search.ContextLines,
	}
	if cmd.Flags().Changed("context") {
		req.ContextLines = opts.contextLine
	}
	if err := req.Validate(); err != nil {
		return err
	}
	for _, e := range []search.Expr{req.Keyword, req.Ignore} {
		if !e.Logical || e.IsZero() {
			continue
		}
		if _, err := search.CompileStrict(e.Raw, true); err != nil {
			fmt.Fprintln(stderr, warningStyle.Render("Warning: "+err.Error()+" (nothing will match)"))
		}
	}

	jobOpts := []search.Option{
		search.WithLogger(logger),
		search.WithSkipDirs(cfg.Search.SkipDirs...),
	}
	if cfg.Search.SniffBytes != search.DefaultSniffBytes ||
		!slices.Equal(cfg.Search.FallbackEncodings, search.DefaultFallbackEncodings) {
		jobOpts = append(jobOpts, search.WithResolver(search.NewEncodingResolver(cfg.Search.SniffBytes, cfg.Search.FallbackEncodings)))
	}
	if opts.extract || cfg.Search.ExtractDocuments {
		logger.Debug("extraction enabled", "types", config.GetFileTypeDescription(cfg.Search.DocumentTypes))
		jobOpts = append(jobOpts, search.WithExtractors(search.NewExtractorRegistry(cfg.Search.DocumentTypes...)))
	}

	refresh := time.Duration(cfg.UI.RefreshIntervalMs) * time.Millisecond
	var stream *search.Stream
	switch {
	case opts.tui:
		stream = search.NewStream()
		jobOpts = append(jobOpts, search.WithMonitor(stream))
	case opts.jsonOut:
		jobOpts = append(jobOpts, search.WithMonitor(newJSONPrinter(stdout)))
	default:
		color := !opts.noColor && isTerminal(stdout)
		status := !opts.noColor && isTerminal(stderr)
		terms := search.Terms(req.Keyword.Raw, req.Keyword.Logical)
		jobOpts = append(jobOpts, search.WithMonitor(newTextPrinter(stdout, stderr, color, status, terms, refresh)))
	}

	job, err := search.NewJob(req, jobOpts...)
	if err != nil {
		return err
	}

	if !opts.noHistory {
		store := history.NewFileStore(cfg.HistoryPath(), cfg.History.Limit)
		if err := history.Record(store, req.Keyword.Raw, req.Ignore.Raw, cfg.History.Limit); err != nil {
			logger.Warn("could not update history", "error", err)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := job.Start(ctx); err != nil {
		return err
	}
	if stream != nil {
		if err := runTUI(job, stream, cfg.UI.MaxLineWidth, refresh); err != nil {
			return err
		}
		out := job.Wait()
		fmt.Fprintln(stderr, out.Summary())
		return nil
	}
	job.Wait()
	return nil
}

func newHistoryCmd(opts *options, stdout io.Writer) *cobra.Command {
	var clearAll bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently used keywords",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			store := history.NewFileStore(cfg.HistoryPath(), cfg.History.Limit)
			if clearAll {
				return store.Save(history.History{})
			}
			h, err := store.Load()
			if err != nil {
				return err
			}
			printHistory(stdout, h)
			return nil
		},
	}
	cmd.Flags().BoolVar(&clearAll, "clear", false, "forget all recorded keywords")
	return cmd
}

func newConfigCmd(opts *options, stdout io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.configPath
			if path == "" {
				path = config.DefaultPaths().ConfigFile()
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
			}
			if err := config.DefaultConfig().SaveToFile(path); err != nil {
				return err
			}
			fmt.Fprintln(stdout, "Wrote "+path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	cmd.AddCommand(initCmd)
	return cmd
}

func printHistory(w io.Writer, h history.History) {
	section := func(title string, items []string) {
		fmt.Fprintln(w, subHeaderStyle.Render(title))
		if len(items) == 0 {
			fmt.Fprintln(w, infoStyle.Render("  (none)"))
			return
		}
		for i, item := range items {
			fmt.Fprintf(w, "  %2d  %s\n", i+1, item)
		}
	}
	section("KEYWORDS", h.Keywords)
	section("IGNORE KEYWORDS", h.IgnoreKeywords)
}

// isTerminal reports whether w is a terminal file.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// exitCode maps an error to a process exit code. Invalid requests exit with 2,
// like a usage error.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, search.ErrEmptyKeyword),
		errors.Is(err, search.ErrEmptyTarget),
		errors.Is(err, search.ErrNegativeContext):
		return 2
	}
	return 1
}
