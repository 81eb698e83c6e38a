// Command examkit splits rasterized exam pages into per-question crops and
// parses answer-key text.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/wudi/examkit/config"
	"github.com/wudi/examkit/observability"
	"github.com/wudi/examkit/store"
	"github.com/wudi/examkit/templates"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, env *env, args []string) error
}

var commands = []command{
	{"split", "split page images into question crops", splitCmd},
	{"answers", "parse answer-key text into an answer table", answersCmd},
	{"templates", "list or export the page templates", templatesCmd},
	{"report", "render a split summary as HTML", reportCmd},
	{"review", "list or resolve queued manual reviews", reviewCmd},
}

// errUsage marks bad invocations; they exit with status 2.
var errUsage = errors.New("usage")

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || isHelp(args[0]) {
		printUsage(stdout)
		return 0
	}
	for _, c := range commands {
		if c.name != args[0] {
			continue
		}
		e := &env{stdout: stdout, stderr: stderr}
		err := c.run(ctx, e, args[1:])
		switch {
		case err == nil:
			return 0
		case errors.Is(err, flag.ErrHelp):
			return 0
		case errors.Is(err, errUsage):
			fmt.Fprintf(stderr, "examkit %s: %v\n", c.name, err)
			return 2
		default:
			fmt.Fprintf(stderr, "examkit %s: %v\n", c.name, err)
			if code := config.Code(err); code != "" {
				fmt.Fprintf(stderr, "error_code=%s\n", code)
			}
			return 1
		}
	}
	fmt.Fprintf(stderr, "examkit: unknown command %q\n\n", args[0])
	printUsage(stderr)
	return 2
}

func isHelp(s string) bool { return s == "-h" || s == "--help" || s == "help" }

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: examkit <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-10s %s\n", c.name, c.summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Settings are read from ./%s when present; flags take precedence.\n", config.FileName)
}

// env is the per-invocation state shared by subcommands.
type env struct {
	stdout, stderr io.Writer
	cfg            config.Config
	log            observability.Logger
}

// commonFlags are the flags every subcommand accepts.
type commonFlags struct {
	configPath  string
	outputDir   string
	templates   string
	storeDriver string
	storeDSN    string
	logLevel    string
}

func newFlagSet(e *env, name, usage string) (*flag.FlagSet, *commonFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: examkit %s %s\n", name, usage)
		fs.PrintDefaults()
	}
	cf := &commonFlags{}
	fs.StringVar(&cf.configPath, "config", "", "config file (default ./"+config.FileName+" if present)")
	fs.StringVar(&cf.outputDir, "out", "", "output directory")
	fs.StringVar(&cf.templates, "templates", "", "extra templates JSON file")
	fs.StringVar(&cf.storeDriver, "store-driver", "", "problem store driver: sqlite or pgx")
	fs.StringVar(&cf.storeDSN, "store-dsn", "", "problem store DSN")
	fs.StringVar(&cf.logLevel, "log-level", "", "debug, info, warn or error")
	return fs, cf
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	return nil
}

// setup loads configuration and builds the logger. cli carries
// subcommand-specific overrides.
func (e *env) setup(fs *flag.FlagSet, cf *commonFlags, cli config.CLI) error {
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	str := func(name, v string) *string {
		if !set[name] {
			return nil
		}
		return &v
	}
	cli.OutputDir = str("out", cf.outputDir)
	cli.TemplatesFile = str("templates", cf.templates)
	cli.StoreDriver = str("store-driver", cf.storeDriver)
	cli.StoreDSN = str("store-dsn", cf.storeDSN)
	cli.LogLevel = str("log-level", cf.logLevel)

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	cfg, err := config.Load(cwd, cf.configPath, cli)
	if err != nil {
		return err
	}
	e.cfg = cfg
	handler := slog.NewTextHandler(e.stderr, &slog.HandlerOptions{Level: observability.ParseLevel(cfg.LogLevel)})
	e.log = observability.NewSlog(slog.New(handler))
	if cfg.Source != "" {
		e.log.Debug("config loaded", observability.String("path", cfg.Source))
	}
	return nil
}

func (e *env) registry() (*templates.Registry, error) {
	reg := templates.NewBuiltinRegistry(e.log)
	if e.cfg.TemplatesFile != "" {
		extra, err := templates.LoadFile(e.cfg.TemplatesFile)
		if err != nil {
			return nil, err
		}
		for _, t := range extra {
			if err := reg.Register(t); err != nil {
				return nil, err
			}
		}
		e.log.Info("templates loaded", observability.String("path", e.cfg.TemplatesFile), observability.Int("count", len(extra)))
	}
	if _, err := reg.Apply(e.cfg.Overrides); err != nil {
		return nil, &config.Error{Code: config.ErrCodeInvalid, Path: e.cfg.Source, Err: err}
	}
	return reg, nil
}

// openStore returns nil when no store is configured.
func (e *env) openStore(ctx context.Context) (*store.Store, error) {
	if e.cfg.StoreDriver == "" {
		return nil, nil
	}
	return store.Open(ctx, e.cfg.StoreDriver, e.cfg.StoreDSN, e.log)
}
