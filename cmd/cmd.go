// Package cmd provides CLI command implementations for twinscope.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"

	"github.com/Benny93/twinscope/internal/config"
	"github.com/Benny93/twinscope/internal/graph"
	"github.com/Benny93/twinscope/internal/impact"
	"github.com/Benny93/twinscope/internal/logging"
	"github.com/Benny93/twinscope/internal/revdiff"
	"github.com/Benny93/twinscope/internal/stitch"
	"github.com/Benny93/twinscope/internal/storage"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Globals holds the flags shared by every command.
type Globals struct {
	Config    string `help:"Config file (default <data-dir>/twinscope.yaml)" type:"path" env:"TWINSCOPE_CONFIG"`
	Store     string `help:"Store backend (memory|badger|sqlite)"`
	DataDir   string `help:"Data directory" type:"path"`
	LogLevel  string `help:"Log level (debug|info|warn|error)"`
	LogFormat string `help:"Log format (text|json)"`
	JSON      bool   `help:"Print results as JSON"`

	out io.Writer `kong:"-"`
	app *App      `kong:"-"`
}

// App bundles the services a command works with.
type App struct {
	Config config.Config
	Log    *slog.Logger
	Store  graph.Store
	Graph  *graph.Service
	Diffs  *revdiff.Service
	Impact *impact.Service
	Stitch *stitch.Service
}

// NewApp wires the services over store.
func NewApp(cfg config.Config, store graph.Store, logger *slog.Logger) *App {
	g := graph.NewService(store, logger)
	return &App{
		Config: cfg,
		Log:    logger,
		Store:  store,
		Graph:  g,
		Diffs:  revdiff.NewService(g, logger),
		Impact: impact.NewService(g, logger),
		Stitch: stitch.NewService(g, logger),
	}
}

// Close releases the store.
func (a *App) Close() error {
	return a.Store.Close()
}

// settings resolves the effective settings: defaults, file, environment,
// then flags.
func (g *Globals) settings() (config.Config, error) {
	path, explicit := g.Config, g.Config != ""
	if !explicit {
		dir := g.DataDir
		if dir == "" {
			dir = config.Default().Store.DataDir
			if v, ok := os.LookupEnv(config.EnvPrefix + "DATA_DIR"); ok {
				dir = v
			}
		}
		path = config.DefaultPath(dir)
	}

	cfg, err := config.Load(path, explicit)
	if err != nil {
		return cfg, err
	}
	if g.Store != "" {
		cfg.Store.Backend = g.Store
	}
	if g.DataDir != "" {
		cfg.Store.DataDir = g.DataDir
	}
	if g.LogLevel != "" {
		cfg.Log.Level = g.LogLevel
	}
	if g.LogFormat != "" {
		cfg.Log.Format = g.LogFormat
	}
	return cfg, cfg.Validate()
}

// open returns the App for this invocation and a func releasing it.
func (g *Globals) open() (*App, func(), error) {
	if g.app != nil {
		return g.app, func() {}, nil
	}

	cfg, err := g.settings()
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		return nil, nil, err
	}

	store, err := storage.Open(storage.Config{
		Backend:    cfg.Store.Backend,
		Dir:        cfg.Store.DataDir,
		SyncWrites: cfg.Store.SyncWrites,
		Logger:     logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s store: %w", cfg.Store.Backend, err)
	}

	app := NewApp(cfg, store, logger)
	return app, func() {
		if err := app.Close(); err != nil {
			logger.Warn("closing store", "error", err)
		}
	}, nil
}

func (g *Globals) stdout() io.Writer {
	if g.out != nil {
		return g.out
	}
	return os.Stdout
}

func (g *Globals) printf(format string, args ...any) {
	fmt.Fprintf(g.stdout(), format, args...)
}

func (g *Globals) success(format string, args ...any) {
	color.New(color.FgGreen).Fprintf(g.stdout(), format+"\n", args...)
}

func (g *Globals) printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	g.printf("%s\n", data)
	return nil
}

// CLI is the root Kong command structure.
type CLI struct {
	Globals

	Version kong.VersionFlag `help:"Show version information"`

	// Commands
	Init       InitCmd       `cmd:"" help:"Write a config file with the default settings"`
	Twin       TwinCmd       `cmd:"" help:"Create, update, delete and inspect twins"`
	Rel        RelCmd        `cmd:"" help:"Manage relationships between twins"`
	Neighbors  NeighborsCmd  `cmd:"" help:"Show the direct neighbours of a twin"`
	Subgraph   SubgraphCmd   `cmd:"" help:"Show the bounded neighbourhood of a twin"`
	Validation ValidationCmd `cmd:"" help:"Store and read validator payloads"`
	File       FileCmd       `cmd:"" help:"Register file objects and attach them to twins"`
	Snapshot   SnapshotCmd   `cmd:"" help:"Record and inspect extracted snapshots"`
	Diff       DiffCmd       `cmd:"" help:"Compare two snapshots"`
	Impact     ImpactCmd     `cmd:"" help:"Show twins impacted by the latest change to a file"`
	Stitch     StitchCmd     `cmd:"" help:"Generate and review dt_key stitches"`
	Watch      WatchCmd      `cmd:"" help:"Ingest snapshot envelopes dropped into a directory"`
	MCP        MCPCmd        `cmd:"" help:"Start MCP server (stdio or HTTP transport)"`
	Status     StatusCmd     `cmd:"" help:"Show store status"`
	Clean      CleanCmd      `cmd:"" help:"Delete the data directory"`
}

// NewCLI creates a new CLI instance.
func NewCLI() *CLI {
	return &CLI{}
}

// Execute parses command-line arguments and executes the selected command.
func (c *CLI) Execute(args []string) error {
	parser, err := kong.New(c,
		kong.Name("twinscope"),
		kong.Description("Digital-twin graph with revision diffs, impact analysis and stitching"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{
			"version": Version,
		},
		kong.Bind(&c.Globals),
	)
	if err != nil {
		return err
	}

	kongCtx, err := parser.Parse(args)
	if err != nil {
		return err
	}
	return kongCtx.Run()
}

// Helper functions

// osSignalChannel returns a channel that receives OS signals for graceful shutdown.
func osSignalChannel() <-chan os.Signal {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	return sigChan
}

// optional returns nil for an empty string.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

// readJSON decodes the file at path, or stdin for "-", into v.
func readJSON(path string, v any) error {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

// notFound turns a nil lookup result into graph.ErrNotFound.
func notFound(what string, id any) error {
	return fmt.Errorf("%s %v: %w", what, id, graph.ErrNotFound)
}

// parseID parses a decimal store id.
func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q: %w", s, graph.ErrInvalidArgument)
	}
	return id, nil
}
