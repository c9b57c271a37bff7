package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/Benny93/twinscope/internal/graph"
	"github.com/Benny93/twinscope/internal/impact"
	"github.com/Benny93/twinscope/internal/revdiff"
)

// DiffCmd compares two snapshots by id, or the two newest of a file.
type DiffCmd struct {
	OldID  int64  `arg:"" optional:"" help:"Older snapshot id"`
	NewID  int64  `arg:"" optional:"" help:"Newer snapshot id"`
	Latest int64  `placeholder:"FILE-ID" help:"Compare the two newest snapshots of this file object instead"`
	Kind   string `help:"Snapshot kind used with --latest"`
}

// Run executes the diff command.
func (c *DiffCmd) Run(g *Globals) error {
	if c.Latest == 0 && (c.OldID == 0 || c.NewID == 0) {
		return fmt.Errorf("pass two snapshot ids or --latest FILE-ID: %w", graph.ErrInvalidArgument)
	}

	app, done, err := g.open()
	if err != nil {
		return err
	}
	defer done()

	ctx := context.Background()
	var diff *revdiff.Result
	if c.Latest != 0 {
		diff, err = app.Diffs.DiffLatest(ctx, c.Latest, c.Kind)
	} else {
		diff, err = app.Diffs.Diff(ctx, c.OldID, c.NewID)
	}
	if err != nil {
		return err
	}

	if g.JSON {
		return g.printJSON(diff)
	}
	if diff == nil {
		g.printf("No diff: a snapshot is missing\n")
		return nil
	}

	g.printf("## Diff %d -> %d (%s)\n\n", diff.OldExtractedObjectID, diff.NewExtractedObjectID, diff.Kind)
	g.printf("%s\n", diff.Summary)
	printList(g, "Added dt_keys", diff.DTKeyAdded)
	printList(g, "Removed dt_keys", diff.DTKeyRemoved)

	s := diff.Structural
	switch {
	case s.KindMismatch != nil:
		g.printf("\nKind mismatch: %s vs %s\n", s.KindMismatch.Old, s.KindMismatch.New)
	case s.KiCadDelta != nil:
		printList(g, "Components added", s.ComponentsAdded)
		printList(g, "Components removed", s.ComponentsRemoved)
		printList(g, "Nets added", s.NetsAdded)
		printList(g, "Nets removed", s.NetsRemoved)
	case s.FreeCADDelta != nil:
		printList(g, "Tree nodes added", s.TreeNodesAdded)
		printList(g, "Tree nodes removed", s.TreeNodesRemoved)
	}
	return nil
}

// ImpactCmd shows impacted twins for a file.
type ImpactCmd struct {
	FileID     int64    `arg:"" help:"File object id"`
	Kind       string   `help:"Snapshot kind"`
	Hops       int      `short:"k" default:"-1" help:"Propagation hops; -1 uses the configured value"`
	Undirected bool     `help:"Propagate along incoming edges as well"`
	Bucket     []string `help:"Only show these severity buckets (high|medium|low)"`
	Propagated bool     `help:"Include propagated twins in the ranking"`
}

// Run executes the impact command.
func (c *ImpactCmd) Run(g *Globals) error {
	app, done, err := g.open()
	if err != nil {
		return err
	}
	defer done()

	result, err := app.Impact.ComputeForFile(context.Background(), c.FileID, c.Kind,
		impactOptions(app, c.Hops, c.Undirected))
	if err != nil {
		return err
	}

	filter := impact.Filter{IncludePropagated: c.Propagated}
	for _, b := range c.Bucket {
		bucket := impact.Bucket(b)
		switch bucket {
		case impact.BucketHigh, impact.BucketMedium, impact.BucketLow:
		default:
			return fmt.Errorf("unknown bucket %q: %w", b, graph.ErrInvalidArgument)
		}
		filter.Buckets = append(filter.Buckets, bucket)
	}
	ranked := impact.Rank(result, filter)

	if g.JSON {
		if result == nil {
			return g.printJSON(nil)
		}
		return g.printJSON(map[string]any{"result": result, "ranked": ranked})
	}
	if result == nil {
		g.printf("No impact: file %d has fewer than two snapshots to compare\n", c.FileID)
		return nil
	}

	g.printf("## Impact of file %d (%d -> %d)\n\n", c.FileID, result.OldExtractedObjectID, result.NewExtractedObjectID)
	g.printf("%s\n\n", result.Summary)
	if len(ranked) == 0 {
		g.printf("No twins impacted\n")
		return nil
	}
	for i, r := range ranked {
		marker := ""
		if r.IsPropagated {
			marker = " (propagated)"
		}
		g.printf("%d. %s [%s]%s\n", i+1, r.DTMI, impact.SeverityBucket(r.Severity), marker)
		g.printf("   severity %.2f, confidence %.2f\n", r.Severity, r.Confidence)
		for _, ev := range r.Evidences {
			g.printf("   - %s: %s\n", ev.Kind, ev.Detail)
		}
	}
	return nil
}

// impactOptions applies per-command overrides to the configured
// propagation settings. Negative hops keep the configured value.
func impactOptions(app *App, hops int, undirected bool) impact.Options {
	opts := impact.Options{Hops: app.Config.Impact.Hops, Directed: app.Config.Impact.Directed}
	if hops >= 0 {
		opts.Hops = hops
	}
	if undirected {
		opts.Directed = false
	}
	return opts
}

// StitchCmd groups the stitch commands.
type StitchCmd struct {
	Generate StitchGenerateCmd `cmd:"" help:"Propose stitch candidates for a file object"`
	List     StitchListCmd     `cmd:"" help:"List stored stitches"`
	Review   StitchReviewCmd   `cmd:"" help:"Accept, reject or edit a stored stitch"`
}

// StitchGenerateCmd proposes candidates for a file.
type StitchGenerateCmd struct {
	FileID  int64 `arg:"" help:"File object id"`
	Persist bool  `help:"Store the candidates for review"`
}

// Run executes the stitch generate command.
func (c *StitchGenerateCmd) Run(g *Globals) error {
	app, done, err := g.open()
	if err != nil {
		return err
	}
	defer done()

	ctx := context.Background()
	var candidates []*graph.StitchCandidate
	if c.Persist {
		candidates, err = app.Stitch.StitchFile(ctx, c.FileID)
	} else {
		candidates, err = app.Stitch.Generate(ctx, c.FileID)
	}
	if err != nil {
		return err
	}

	if g.JSON {
		if candidates == nil {
			candidates = []*graph.StitchCandidate{}
		}
		return g.printJSON(candidates)
	}
	if len(candidates) == 0 {
		g.printf("No dt_keys to stitch\n")
		return nil
	}
	printStitches(g, candidates)
	if c.Persist {
		g.success("✓ Stored %d candidate(s)", len(candidates))
	}
	return nil
}

// StitchListCmd lists stored stitches.
type StitchListCmd struct {
	File      int64  `placeholder:"FILE-ID" help:"Only stitches of this file object"`
	Extracted int64  `placeholder:"SNAPSHOT-ID" help:"Only stitches of this snapshot"`
	Status    string `help:"Only stitches with this status (candidate|accepted|rejected)"`
}

// Run executes the stitch list command.
func (c *StitchListCmd) Run(g *Globals) error {
	app, done, err := g.open()
	if err != nil {
		return err
	}
	defer done()

	if c.Status != "" && !graph.StitchStatus(c.Status).Valid() {
		return fmt.Errorf("unknown status %q: %w", c.Status, graph.ErrInvalidArgument)
	}
	stitches, err := app.Graph.ListStitches(context.Background(), graph.StitchFilter{
		FileObjectID:      c.File,
		ExtractedObjectID: c.Extracted,
		Status:            graph.StitchStatus(c.Status),
	})
	if err != nil {
		return err
	}
	if g.JSON {
		if stitches == nil {
			stitches = []*graph.StitchCandidate{}
		}
		return g.printJSON(stitches)
	}
	if len(stitches) == 0 {
		g.printf("No stitches found\n")
		return nil
	}
	printStitches(g, stitches)
	return nil
}

// StitchReviewCmd records a reviewer decision.
type StitchReviewCmd struct {
	ID         int64   `arg:"" help:"Stitch id"`
	Status     string  `help:"New status (candidate|accepted|rejected)"`
	Target     string  `help:"New target DTMI"`
	Confidence float64 `default:"-1" help:"New confidence in [0,1]; negative leaves it unchanged"`
	Rationale  string  `help:"New rationale"`
}

// Run executes the stitch review command.
func (c *StitchReviewCmd) Run(g *Globals) error {
	var update graph.StitchUpdate
	if c.Status != "" {
		status := graph.StitchStatus(c.Status)
		if !status.Valid() {
			return fmt.Errorf("unknown status %q: %w", c.Status, graph.ErrInvalidArgument)
		}
		update.Status = &status
	}
	update.TargetDTMI = optional(c.Target)
	update.Rationale = optional(c.Rationale)
	if c.Confidence >= 0 {
		if c.Confidence > 1 {
			return fmt.Errorf("confidence %.2f out of range: %w", c.Confidence, graph.ErrInvalidArgument)
		}
		confidence := c.Confidence
		update.Confidence = &confidence
	}

	app, done, err := g.open()
	if err != nil {
		return err
	}
	defer done()

	stitch, err := app.Graph.UpdateStitch(context.Background(), c.ID, update)
	if err != nil {
		return err
	}
	if g.JSON {
		return g.printJSON(stitch)
	}
	g.success("✓ Stitch %d: %s -> %s (%s)", stitch.ID, stitch.DTKey, deref(stitch.TargetDTMI), stitch.Status)
	return nil
}

func printStitches(g *Globals, stitches []*graph.StitchCandidate) {
	for _, s := range stitches {
		id := "-"
		if s.ID != 0 {
			id = fmt.Sprint(s.ID)
		}
		g.printf("%s\t%s -> %s\t%.2f\t%s\t%s\n", id, s.DTKey, deref(s.TargetDTMI), s.Confidence, s.Status, s.Rationale)
	}
}

func printList(g *Globals, title string, items []string) {
	if len(items) == 0 {
		return
	}
	g.printf("\n%s (%d):\n  %s\n", title, len(items), strings.Join(items, "\n  "))
}
