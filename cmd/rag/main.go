package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/dangattringer/rust-rag/internal/config"
	"github.com/dangattringer/rust-rag/internal/domain"
	"github.com/dangattringer/rust-rag/internal/logger"
)

const usage = `Usage: rag [--config PATH] [--log-level LEVEL] <command> [flags] [args]

Commands:
  ingest <source>...       ingest crates (crate:NAME[@VERSION]), files, directories or globs
  query [--k N] <text>     print the k chunks most similar to text
  ask [--k N] <question>   answer a question from retrieved chunks
  docs                     list ingested documents
  chunks <document-id>     list the chunks of one document
  status                   show corpus version, fingerprint and staleness
  serve [--addr ADDR]      serve the HTTP API
  explore [--k N]          interactive retrieval explorer

Exit codes: 0 ok, 1 error, 2 usage or config, 10 fetch, 20 embedding unavailable,
30 empty index, 40 timed out.
`

const (
	exitOK                   = 0
	exitError                = 1
	exitUsage                = 2
	exitFetch                = 10
	exitEmbeddingUnavailable = 20
	exitEmptyIndex           = 30
	exitTimedOut             = 40
)

// env is what every command gets.
type env struct {
	cfg    *config.AppConfig
	logger zerolog.Logger
	stdout io.Writer
	stderr io.Writer
}

type command func(ctx context.Context, e *env, args []string) error

var commands = map[string]command{
	"ingest":  runIngest,
	"query":   runQuery,
	"ask":     runAsk,
	"docs":    runDocs,
	"chunks":  runChunks,
	"status":  runStatus,
	"serve":   runServe,
	"explore": runExplore,
}

type usageError struct{ msg string }

func (u usageError) Error() string { return u.msg }

func main() {
	_ = godotenv.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("rag", flag.ContinueOnError)
	global.SetOutput(stderr)
	global.Usage = func() { fmt.Fprint(stderr, usage) }
	cfgPath := global.String("config", "", "Path to a YAML or TOML config file (default ./config.yaml, then ~/.config/rag/config.yaml)")
	logLevel := global.String("log-level", "", "Override the configured log level")
	if err := global.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if global.NArg() == 0 {
		global.Usage()
		return exitUsage
	}
	name := global.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n", name)
		global.Usage()
		return exitUsage
	}

	var (
		cfg *config.AppConfig
		err error
	)
	if *cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(*cfgPath)
	}
	if err != nil {
		fmt.Fprintf(stderr, "error: failed to load config: %v\n", err)
		return exitCode(err)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitUsage
	}

	e := &env{
		cfg:    cfg,
		logger: logger.NewWithWriter(stderr, cfg.Log.Level, cfg.Log.Format),
		stdout: stdout,
		stderr: stderr,
	}
	if err := cmd(ctx, e, global.Args()[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitCode(err)
	}
	return exitOK
}

// exitCode maps an error to the process exit status. Timeouts win over the
// error they interrupted.
func exitCode(err error) int {
	var ue usageError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &ue), errors.Is(err, domain.ErrInvalidConfig):
		return exitUsage
	case errors.Is(err, domain.ErrTimedOut):
		return exitTimedOut
	case errors.Is(err, domain.ErrFetch):
		return exitFetch
	case errors.Is(err, domain.ErrEmbeddingUnavailable):
		return exitEmbeddingUnavailable
	case errors.Is(err, domain.ErrEmptyIndex):
		return exitEmptyIndex
	}
	return exitError
}

func newFlagSet(name string, e *env) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	return fs
}

// parseArgs parses flags that may appear before, between or after positional
// arguments and returns the positionals in order.
func parseArgs(fs *flag.FlagSet, args []string) ([]string, error) {
	var pos []string
	for {
		if err := fs.Parse(args); err != nil {
			if errors.Is(err, flag.ErrHelp) {
				return nil, err
			}
			return nil, usageError{err.Error()}
		}
		if fs.NArg() == 0 {
			return pos, nil
		}
		pos = append(pos, fs.Arg(0))
		args = fs.Args()[1:]
	}
}
