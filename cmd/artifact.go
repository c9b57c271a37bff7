package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Benny93/twinscope/internal/graph"
	"github.com/Benny93/twinscope/internal/ingestion"
)

// FileCmd groups the file object commands.
type FileCmd struct {
	Add    FileAddCmd    `cmd:"" help:"Register a file object"`
	List   FileListCmd   `cmd:"" help:"List file objects"`
	Attach FileAttachCmd `cmd:"" help:"Attach a file object to a twin"`
	Detach FileDetachCmd `cmd:"" help:"Detach a file object from its twin"`
}

// FileAddCmd registers a file object.
type FileAddCmd struct {
	Path      string `arg:"" help:"Artifact path"`
	MediaType string `help:"Media type"`
	Version   string `name:"file-version" help:"Artifact version"`
	Twin      string `help:"DTMI of the twin to attach"`
}

// Run executes the file add command.
func (c *FileAddCmd) Run(g *Globals) error {
	app, done, err := g.open()
	if err != nil {
		return err
	}
	defer done()

	file, err := app.Graph.AddFileObject(context.Background(), graph.FileFields{
		Path:      c.Path,
		MediaType: optional(c.MediaType),
		Version:   optional(c.Version),
	}, optional(c.Twin))
	if err != nil {
		return err
	}
	if g.JSON {
		return g.printJSON(file)
	}
	g.success("✓ Registered file %s (id %d)", file.Path, file.ID)
	return nil
}

// FileListCmd lists file objects.
type FileListCmd struct{}

// Run executes the file list command.
func (c *FileListCmd) Run(g *Globals) error {
	app, done, err := g.open()
	if err != nil {
		return err
	}
	defer done()

	files, err := app.Graph.ListFileObjects(context.Background())
	if err != nil {
		return err
	}
	if g.JSON {
		if files == nil {
			files = []*graph.FileObject{}
		}
		return g.printJSON(files)
	}
	if len(files) == 0 {
		g.printf("No file objects found\n")
		return nil
	}
	for _, f := range files {
		twin := "-"
		if f.TwinID != nil {
			twin = fmt.Sprintf("twin %d", *f.TwinID)
		}
		g.printf("%d\t%s\t%s\t%s\n", f.ID, f.Path, deref(f.MediaType), twin)
	}
	return nil
}

// FileAttachCmd attaches a file object to a twin.
type FileAttachCmd struct {
	ID   int64  `arg:"" help:"File object id"`
	DTMI string `arg:"" name:"dtmi" help:"Twin DTMI"`
}

// Run executes the file attach command.
func (c *FileAttachCmd) Run(g *Globals) error {
	app, done, err := g.open()
	if err != nil {
		return err
	}
	defer done()

	if _, err := app.Graph.AttachFile(context.Background(), c.ID, c.DTMI); err != nil {
		return err
	}
	g.success("✓ Attached file %d to %s", c.ID, c.DTMI)
	return nil
}

// FileDetachCmd detaches a file object.
type FileDetachCmd struct {
	ID int64 `arg:"" help:"File object id"`
}

// Run executes the file detach command.
func (c *FileDetachCmd) Run(g *Globals) error {
	app, done, err := g.open()
	if err != nil {
		return err
	}
	defer done()

	if _, err := app.Graph.DetachFile(context.Background(), c.ID); err != nil {
		return err
	}
	g.success("✓ Detached file %d", c.ID)
	return nil
}

// SnapshotCmd groups the snapshot commands.
type SnapshotCmd struct {
	Record  SnapshotRecordCmd  `cmd:"" help:"Record a snapshot extracted from a file object"`
	History SnapshotHistoryCmd `cmd:"" help:"List the snapshots of a file object, newest first"`
	Ingest  SnapshotIngestCmd  `cmd:"" help:"Ingest a snapshot envelope and report its impact"`
	Import  SnapshotImportCmd  `cmd:"" help:"Ingest every snapshot envelope under a directory"`
}

// SnapshotRecordCmd records a snapshot.
type SnapshotRecordCmd struct {
	FileID int64  `arg:"" help:"File object id"`
	Kind   string `arg:"" help:"Snapshot kind, e.g. kicad_ecad or freecad_tree"`
	Data   string `arg:"" help:"JSON data file, or - for stdin"`
}

// Run executes the snapshot record command.
func (c *SnapshotRecordCmd) Run(g *Globals) error {
	var data graph.Payload
	if err := readJSON(c.Data, &data); err != nil {
		return err
	}

	app, done, err := g.open()
	if err != nil {
		return err
	}
	defer done()

	obj, err := ingestion.NewRecorder(app.Graph, app.Log).Record(context.Background(), c.FileID, c.Kind, data)
	if err != nil {
		return err
	}
	if g.JSON {
		return g.printJSON(obj)
	}
	g.success("✓ Recorded snapshot %d (%s, %d dt_key(s))", obj.ID, obj.Kind, len(obj.Data.DTKeys()))
	return nil
}

// SnapshotHistoryCmd lists snapshots.
type SnapshotHistoryCmd struct {
	FileID int64  `arg:"" help:"File object id"`
	Kind   string `help:"Only snapshots of this kind"`
}

// Run executes the snapshot history command.
func (c *SnapshotHistoryCmd) Run(g *Globals) error {
	app, done, err := g.open()
	if err != nil {
		return err
	}
	defer done()

	history, err := app.Graph.ExtractionHistory(context.Background(), c.FileID, c.Kind)
	if err != nil {
		return err
	}
	if g.JSON {
		if history == nil {
			history = []*graph.ExtractedObject{}
		}
		return g.printJSON(history)
	}
	if len(history) == 0 {
		g.printf("No snapshots found\n")
		return nil
	}
	for _, obj := range history {
		g.printf("%d\t%s\t%s\t%d dt_key(s)\n", obj.ID, obj.Kind,
			obj.CreatedAt.Format("2006-01-02 15:04:05"), len(obj.Data.DTKeys()))
	}
	return nil
}

// SnapshotIngestCmd ingests one envelope file.
type SnapshotIngestCmd struct {
	Envelope   string `arg:"" help:"Envelope JSON file, or - for stdin"`
	AutoStitch bool   `help:"Store stitch candidates for the new snapshot"`
}

// Run executes the snapshot ingest command.
func (c *SnapshotIngestCmd) Run(g *Globals) error {
	var env ingestion.Envelope
	if err := readJSON(c.Envelope, &env); err != nil {
		return err
	}
	if env.FilePath == "" || env.Kind == "" {
		return fmt.Errorf("envelope needs file_path and kind: %w", graph.ErrInvalidArgument)
	}

	app, done, err := g.open()
	if err != nil {
		return err
	}
	defer done()

	out, err := newPipeline(app, c.AutoStitch).Ingest(context.Background(), &env)
	if err != nil {
		return err
	}
	if g.JSON {
		return g.printJSON(out)
	}
	g.printOutcome(out)
	return nil
}

// SnapshotImportCmd ingests a directory of envelopes.
type SnapshotImportCmd struct {
	Dir        string `arg:"" optional:"" help:"Directory of envelopes (default: watch.dir)"`
	AutoStitch bool   `help:"Store stitch candidates for each new snapshot"`
}

// Run executes the snapshot import command.
func (c *SnapshotImportCmd) Run(g *Globals) error {
	app, done, err := g.open()
	if err != nil {
		return err
	}
	defer done()

	dir := c.Dir
	if dir == "" {
		dir = app.Config.Watch.Dir
	}
	dir, err = filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}
	if info, err := os.Stat(dir); err != nil {
		return fmt.Errorf("accessing %s: %w", dir, err)
	} else if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	progress := func(phase string, pct float64) {
		if !g.JSON {
			fmt.Fprintf(os.Stderr, "\r\033[K%s (%.0f%%)", phase, pct*100)
		}
	}

	_, result, err := newPipeline(app, c.AutoStitch).RunImport(context.Background(), dir, progress)
	if err != nil {
		return fmt.Errorf("importing snapshots: %w", err)
	}
	if g.JSON {
		return g.printJSON(result)
	}

	fmt.Fprintln(os.Stderr)
	g.success("✓ Import complete")
	g.printf("  Files:      %d\n", result.Files)
	g.printf("  Recorded:   %d\n", result.Recorded)
	g.printf("  Failed:     %d\n", result.Failed)
	g.printf("  Impacted:   %d\n", result.Impacted)
	g.printf("  Duration:   %.2fs\n", result.DurationSecs)
	return nil
}

func newPipeline(app *App, autoStitch bool) *ingestion.Pipeline {
	return ingestion.NewPipeline(app.Graph, ingestion.Options{
		AutoStitch: autoStitch || app.Config.Watch.AutoStitch,
		Impact:     impactOptions(app, -1, false),
	}, app.Log)
}

// printOutcome summarises one ingested snapshot.
func (g *Globals) printOutcome(out *ingestion.Outcome) {
	g.success("✓ %s: snapshot %d (%s)", out.File.Path, out.Snapshot.ID, out.Snapshot.Kind)
	if len(out.Stitches) > 0 {
		g.printf("  Stitches:  %d candidate(s)\n", len(out.Stitches))
	}
	if out.Impact == nil {
		g.printf("  No previous snapshot to compare\n")
		return
	}
	g.printf("  %s\n", out.Impact.Summary)
	for _, r := range out.Impact.Impacted {
		g.printf("  - %s (severity %.2f, confidence %.2f)\n", r.DTMI, r.Severity, r.Confidence)
	}
}
