// Package main is the docqa CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/docqa/internal/app"
	"github.com/hyperjump/docqa/internal/apperr"
	"github.com/hyperjump/docqa/internal/cli"
	"github.com/hyperjump/docqa/internal/config"
	"github.com/hyperjump/docqa/internal/models"
	"github.com/hyperjump/docqa/internal/server"
	"github.com/hyperjump/docqa/pkg/utils"
)

var version = "dev"

// configEnv overrides the default config path.
const configEnv = "DOCQA_CONFIG"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one subcommand and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 1
	}
	command, rest := args[0], args[1:]
	switch command {
	case "server":
		return runServer(rest, stderr)
	case "sync", "query", "status", "check", "documents", "delete":
		return runData(command, rest, stdout, stderr)
	case "init":
		return runInit(rest, stdout, stderr)
	case "version", "--version", "-v":
		fmt.Fprintf(stdout, "docqa version %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", command)
		printUsage(stderr)
		return 1
	}
}

func defaultConfigPath() string {
	if p := os.Getenv(configEnv); p != "" {
		return p
	}
	return config.DefaultPath
}

func runServer(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", defaultConfigPath(), "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to create logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("config loaded", zap.String("config_path", *configPath), zap.Bool("debug", debugMode))

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize components", zap.Error(err))
		return 1
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := a.StartWatcher(ctx); err != nil {
		logger.Error("failed to start watcher", zap.Error(err))
		return 1
	}

	srv := server.NewServer(a.Pipeline, a.Engine, a.Reporter, cfg, logger)
	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", zap.Error(err))
			return 1
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			logger.Warn("shutdown incomplete", zap.Error(err))
		}
	}
	return 0
}

// dataFlags are shared by every data command.
type dataFlags struct {
	configPath *string
	serverURL  *string
	output     *string
	debug      *bool
	dir        *string
	maxResults *int
	threshold  *float64
	filename   *string
}

func newDataFlagSet(command string, stderr io.Writer) (*flag.FlagSet, *dataFlags) {
	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	fs.SetOutput(stderr)
	f := &dataFlags{
		configPath: fs.String("config", defaultConfigPath(), "config file path (local mode)"),
		serverURL:  fs.String("server", "", "server URL; empty opens the index directly"),
		output:     fs.String("output", "text", "output format: text or json"),
		debug:      fs.Bool("debug", false, "enable debug logging (local mode)"),
	}
	switch command {
	case "sync", "check":
		f.dir = fs.String("dir", "", "directory to use instead of documents.data_dir (local mode)")
	case "query":
		f.maxResults = fs.Int("max-results", 0, "number of sources, 1-20 (default from config)")
		f.threshold = fs.Float64("threshold", -1, "minimum similarity 0-1 (default: none)")
		f.filename = fs.String("file", "", "only search chunks of this filename")
	}
	return fs, f
}

func runData(command string, args []string, stdout, stderr io.Writer) int {
	fs, f := newDataFlagSet(command, stderr)
	if err := fs.Parse(argsReorder(args)); err != nil {
		return 2
	}
	format, err := cli.ParseOutputFormat(*f.output)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	var backend cli.Backend
	if *f.serverURL != "" {
		backend = cli.NewClient(*f.serverURL, 10*time.Minute)
	} else {
		cfg, err := config.Load(*f.configPath)
		if err != nil {
			fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
			return 1
		}
		logger, err := utils.NewLogger(cfg.Debug || *f.debug)
		if err != nil {
			fmt.Fprintf(stderr, "Failed to create logger: %v\n", err)
			return 1
		}
		defer func() { _ = logger.Sync() }()
		a, err := app.New(cfg, logger)
		if err != nil {
			fmt.Fprintf(stderr, "Failed to initialize: %v\n", err)
			return 1
		}
		defer a.Close()
		backend = &cli.Local{App: a}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch command {
	case "sync":
		report, err := backend.Sync(ctx, *f.dir)
		if report != nil {
			_ = cli.WriteSyncReport(stdout, report, format)
		}
		if err != nil {
			return fail(stderr, "Sync failed", err)
		}
		if !report.Success {
			return 1
		}
	case "query":
		question := buildQuery(fs.Args())
		if question == "" {
			fmt.Fprintln(stderr, "Usage: docqa query [flags] <question>")
			return 2
		}
		req := &models.QueryRequest{Query: question, MaxResults: *f.maxResults}
		if *f.threshold >= 0 {
			req.SimilarityThreshold = f.threshold
		}
		if *f.filename != "" {
			req.Filters = models.FilenameFilter(*f.filename)
		}
		ans, err := backend.Query(ctx, req)
		if err != nil {
			return fail(stderr, "Query failed", err)
		}
		_ = cli.WriteAnswer(stdout, ans, format)
	case "status":
		st, err := backend.Status(ctx)
		if err != nil {
			return fail(stderr, "Status failed", err)
		}
		_ = cli.WriteStatus(stdout, st, format)
	case "check":
		report, err := backend.Consistency(ctx, *f.dir)
		if err != nil {
			return fail(stderr, "Check failed", err)
		}
		_ = cli.WriteConsistency(stdout, report, format)
		if !report.Consistent {
			return 3
		}
	case "documents":
		docs, err := backend.Documents(ctx)
		if err != nil {
			return fail(stderr, "Listing failed", err)
		}
		_ = cli.WriteDocuments(stdout, docs, format)
	case "delete":
		if fs.NArg() != 1 {
			fmt.Fprintln(stderr, "Usage: docqa delete [flags] <filename>")
			return 2
		}
		res, err := backend.Delete(ctx, fs.Arg(0))
		if err != nil {
			return fail(stderr, "Deletion failed", err)
		}
		_ = cli.WriteDeleteResult(stdout, res, format)
	}
	return 0
}

func fail(stderr io.Writer, what string, err error) int {
	fmt.Fprintf(stderr, "%s [%s]: %s\n", what, apperr.KindOf(err), apperr.MessageOf(err))
	return 1
}

func runInit(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", defaultConfigPath(), "config file to create")
	force := fs.Bool("force", false, "overwrite an existing file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if _, err := os.Stat(*configPath); err == nil && !*force {
		fmt.Fprintf(stderr, "%s already exists; use --force to overwrite\n", *configPath)
		return 1
	}
	if err := config.Save(*configPath, config.Default()); err != nil {
		fmt.Fprintf(stderr, "Failed to write config: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "wrote %s\n", *configPath)
	return 0
}

// buildQuery joins all positional args with spaces so multi-word questions
// work the same with or without shell quoting.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// argsReorder moves any flags (and their values) that appear after the
// positional arguments to the front so flag.Parse sees them. The flag package
// stops at the first non-flag argument.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `docqa - question answering over a directory of documents

Usage:
  docqa server [flags]              Start the HTTP server
  docqa sync [flags]                Index the data directory (new, changed and removed files)
  docqa query [flags] <question>    Answer a question from the indexed documents
  docqa status [flags]              Show index size and location
  docqa check [flags]               Compare the data directory with the index
  docqa documents [flags]           List indexed documents
  docqa delete [flags] <filename>   Remove a document from the index
  docqa init [flags]                Write a config file with the defaults
  docqa version                     Show version
  docqa help                        Show this help

Common Flags:
  --config string    Config file path (default: config.yaml, or $DOCQA_CONFIG)
  --server string    Server URL, e.g. http://localhost:8000. Empty opens the index directly.
  --output string    Output format: text or json (default: text)
  --debug            Enable debug logging

Sync/Check Flags:
  --dir string       Directory to use instead of documents.data_dir (local mode only)

Query Flags:
  --max-results int  Number of sources, 1-20 (default from config)
  --threshold float  Minimum cosine similarity 0-1 (default: none)
  --file string      Only search chunks of this filename

Exit codes: 0 ok, 1 failure, 2 usage error, 3 check found inconsistencies.

Examples:
  docqa sync
  docqa query "what is the refund policy"
  docqa query --max-results 3 --output json refund policy
  docqa check --server http://localhost:8000
  docqa delete old-notes.txt
`)
}
