package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Benny93/twinscope/internal/config"
	"github.com/Benny93/twinscope/internal/graph"
	"github.com/Benny93/twinscope/internal/ingestion"
	"github.com/Benny93/twinscope/mcp"
)

// WatchCmd ingests envelopes as they appear in the drop directory.
type WatchCmd struct {
	Dir        string        `arg:"" optional:"" help:"Drop directory (default: watch.dir)"`
	Debounce   time.Duration `help:"Quiet period before a batch is ingested (default: watch.debounce)"`
	AutoStitch bool          `help:"Store stitch candidates for each new snapshot"`
}

// Run executes the watch command.
func (c *WatchCmd) Run(g *Globals) error {
	app, done, err := g.open()
	if err != nil {
		return err
	}
	defer done()

	dir, err := c.dropDir(app)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-osSignalChannel()
		cancel()
	}()

	g.printf("## Watch Mode\n")
	g.printf("Watching %s for snapshot envelopes (Ctrl+C to stop)\n\n", dir)

	err = c.watcher(g, app, dir).Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("watching: %w", err)
	}
	g.printf("Watch mode stopped.\n")
	return nil
}

func (c *WatchCmd) dropDir(app *App) (string, error) {
	dir := c.Dir
	if dir == "" {
		dir = app.Config.Watch.Dir
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating drop directory: %w", err)
	}
	return dir, nil
}

func (c *WatchCmd) watcher(g *Globals, app *App, dir string) *ingestion.Watcher {
	debounce := c.Debounce
	if debounce == 0 {
		debounce = app.Config.Watch.Debounce
	}
	return ingestion.NewWatcher(newPipeline(app, c.AutoStitch), dir, ingestion.WatcherConfig{
		Debounce: debounce,
		Logger:   app.Log,
		Handler: func(_ context.Context, _ string, out *ingestion.Outcome) {
			if g.JSON {
				_ = g.printJSON(out)
				return
			}
			g.printOutcome(out)
		},
	})
}

// MCPCmd starts the MCP server.
type MCPCmd struct {
	HTTP  string `placeholder:"ADDR" help:"Serve streamable HTTP on this address instead of stdio"`
	Watch bool   `short:"w" help:"Also ingest envelopes from the drop directory"`
}

// Run executes the mcp command.
func (c *MCPCmd) Run(g *Globals) error {
	app, done, err := g.open()
	if err != nil {
		return err
	}
	defer done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-osSignalChannel()
		cancel()
	}()

	mcp.Version = Version
	server := mcp.NewServer(app.Graph, app.Log)

	if c.Watch {
		w := &WatchCmd{}
		dir, err := w.dropDir(app)
		if err != nil {
			return err
		}
		// stdout carries the protocol; outcomes are logged instead.
		watcher := ingestion.NewWatcher(newPipeline(app, false), dir, ingestion.WatcherConfig{
			Debounce: app.Config.Watch.Debounce,
			Logger:   app.Log,
		})
		go func() {
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				app.Log.Error("watch failed", "dir", dir, "error", err)
			}
		}()
	}

	if c.HTTP == "" {
		return server.RunStdio(ctx)
	}

	httpServer := &http.Server{
		Addr:              c.HTTP,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	app.Log.Info("serving MCP over HTTP", "addr", c.HTTP)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving http: %w", err)
	}
	return nil
}

// InitCmd writes a config file.
type InitCmd struct {
	Force bool `short:"f" help:"Overwrite an existing config file"`
}

// Run executes the init command.
func (c *InitCmd) Run(g *Globals) error {
	cfg, err := g.settings()
	if err != nil {
		return err
	}
	path := g.Config
	if path == "" {
		path = config.DefaultPath(cfg.Store.DataDir)
	}

	if _, err := os.Stat(path); err == nil && !c.Force {
		return fmt.Errorf("%s already exists; use --force to overwrite", path)
	}
	if err := config.Save(path, cfg); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	g.success("✓ Wrote %s", path)
	return nil
}

// StatusCmd shows the store status.
type StatusCmd struct{}

// Run executes the status command.
func (c *StatusCmd) Run(g *Globals) error {
	app, done, err := g.open()
	if err != nil {
		return err
	}
	defer done()

	ctx := context.Background()
	twins, err := app.Graph.ListTwins(ctx)
	if err != nil {
		return err
	}
	edges, err := app.Graph.ListRelationships(ctx)
	if err != nil {
		return err
	}
	files, err := app.Graph.ListFileObjects(ctx)
	if err != nil {
		return err
	}
	pending, err := app.Graph.ListStitches(ctx, graph.StitchFilter{Status: graph.StatusCandidate})
	if err != nil {
		return err
	}

	status := map[string]any{
		"version":          Version,
		"backend":          app.Config.Store.Backend,
		"data_dir":         app.Config.Store.DataDir,
		"twins":            len(twins),
		"relationships":    len(edges),
		"file_objects":     len(files),
		"pending_stitches": len(pending),
	}
	if g.JSON {
		return g.printJSON(status)
	}

	g.printf("Store status (%s at %s)\n", app.Config.Store.Backend, app.Config.Store.DataDir)
	g.printf("  Version:           %s\n", Version)
	g.printf("  Twins:             %d\n", len(twins))
	g.printf("  Relationships:     %d\n", len(edges))
	g.printf("  File objects:      %d\n", len(files))
	g.printf("  Pending stitches:  %d\n", len(pending))
	return nil
}

// CleanCmd deletes the data directory.
type CleanCmd struct {
	Force bool `short:"f" help:"Skip confirmation"`
}

// Run executes the clean command.
func (c *CleanCmd) Run(g *Globals) error {
	cfg, err := g.settings()
	if err != nil {
		return err
	}
	dir := cfg.Store.DataDir

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("no data found at %s. Nothing to clean", dir)
	}

	if !c.Force {
		g.printf("Delete all twinscope data at %s? [y/N] ", dir)
		response, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if r := strings.TrimSpace(response); r != "y" && r != "Y" {
			g.printf("Aborted\n")
			return nil
		}
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("deleting data: %w", err)
	}
	g.success("Deleted %s", dir)
	return nil
}
