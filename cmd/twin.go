package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/Benny93/twinscope/internal/dtmi"
	"github.com/Benny93/twinscope/internal/graph"
	"github.com/Benny93/twinscope/internal/search"
)

// TwinCmd groups the twin commands.
type TwinCmd struct {
	Create TwinCreateCmd `cmd:"" help:"Create a twin"`
	Update TwinUpdateCmd `cmd:"" help:"Update the display name or model version of a twin"`
	Delete TwinDeleteCmd `cmd:"" help:"Delete a twin and its relationships"`
	Get    TwinGetCmd    `cmd:"" help:"Show a twin"`
	List   TwinListCmd   `cmd:"" help:"List all twins"`
	Search TwinSearchCmd `cmd:"" help:"Search twins by DTMI segments and display name"`
}

// TwinCreateCmd creates a twin.
type TwinCreateCmd struct {
	DTMI         string `arg:"" name:"dtmi" help:"Twin DTMI"`
	Name         string `help:"Display name"`
	ModelVersion string `help:"Model version"`
	Strict       bool   `help:"Reject identifiers that are not canonical DTMIs"`
}

// Run executes the twin create command.
func (c *TwinCreateCmd) Run(g *Globals) error {
	if c.Strict && !dtmi.IsCanonical(c.DTMI) {
		return fmt.Errorf("%q is not a canonical DTMI: %w", c.DTMI, graph.ErrInvalidArgument)
	}

	app, done, err := g.open()
	if err != nil {
		return err
	}
	defer done()

	twin, err := app.Graph.CreateTwin(context.Background(), c.DTMI, graph.TwinFields{
		DisplayName:  optional(c.Name),
		ModelVersion: optional(c.ModelVersion),
	})
	if err != nil {
		return err
	}
	if g.JSON {
		return g.printJSON(twin)
	}
	g.success("✓ Created twin %s (id %d)", twin.DTMI, twin.ID)
	return nil
}

// TwinUpdateCmd updates a twin. Omitted flags leave fields unchanged.
type TwinUpdateCmd struct {
	DTMI         string `arg:"" name:"dtmi" help:"Twin DTMI"`
	Name         string `help:"New display name"`
	ModelVersion string `help:"New model version"`
}

// Run executes the twin update command.
func (c *TwinUpdateCmd) Run(g *Globals) error {
	app, done, err := g.open()
	if err != nil {
		return err
	}
	defer done()

	twin, err := app.Graph.UpdateTwin(context.Background(), c.DTMI, graph.TwinFields{
		DisplayName:  optional(c.Name),
		ModelVersion: optional(c.ModelVersion),
	})
	if err != nil {
		return err
	}
	if g.JSON {
		return g.printJSON(twin)
	}
	g.success("✓ Updated twin %s", twin.DTMI)
	return nil
}

// TwinDeleteCmd deletes a twin.
type TwinDeleteCmd struct {
	DTMI string `arg:"" name:"dtmi" help:"Twin DTMI"`
}

// Run executes the twin delete command.
func (c *TwinDeleteCmd) Run(g *Globals) error {
	app, done, err := g.open()
	if err != nil {
		return err
	}
	defer done()

	deleted, err := app.Graph.DeleteTwin(context.Background(), c.DTMI)
	if err != nil {
		return err
	}
	if !deleted {
		return notFound("twin", c.DTMI)
	}
	g.success("✓ Deleted twin %s", c.DTMI)
	return nil
}

// TwinGetCmd shows a twin.
type TwinGetCmd struct {
	DTMI string `arg:"" name:"dtmi" help:"Twin DTMI"`
}

// Run executes the twin get command.
func (c *TwinGetCmd) Run(g *Globals) error {
	app, done, err := g.open()
	if err != nil {
		return err
	}
	defer done()

	twin, err := app.Graph.GetTwin(context.Background(), c.DTMI)
	if err != nil {
		return err
	}
	if twin == nil {
		return notFound("twin", c.DTMI)
	}
	if g.JSON {
		return g.printJSON(twin)
	}

	g.printf("## %s\n\n", twin.DTMI)
	g.printf("  ID:             %d\n", twin.ID)
	g.printf("  Display name:   %s\n", deref(twin.DisplayName))
	g.printf("  Model version:  %s\n", deref(twin.ModelVersion))
	if twin.Validation != nil {
		g.printf("  Validation:     ok=%s, %d issue(s)\n", verdict(twin.Validation), len(twin.Validation.Issues()))
	}
	return nil
}

// TwinListCmd lists twins.
type TwinListCmd struct{}

// Run executes the twin list command.
func (c *TwinListCmd) Run(g *Globals) error {
	app, done, err := g.open()
	if err != nil {
		return err
	}
	defer done()

	twins, err := app.Graph.ListTwins(context.Background())
	if err != nil {
		return err
	}
	if g.JSON {
		if twins == nil {
			twins = []*graph.TwinNode{}
		}
		return g.printJSON(twins)
	}
	if len(twins) == 0 {
		g.printf("No twins found\n")
		return nil
	}
	for _, twin := range twins {
		g.printf("%d\t%s\t%s\n", twin.ID, twin.DTMI, deref(twin.DisplayName))
	}
	return nil
}

// TwinSearchCmd ranks twins against a free-text query.
type TwinSearchCmd struct {
	Query string `arg:"" help:"Search query"`
	Limit int    `short:"n" default:"10" help:"Maximum number of results (0 for all)"`
}

// Run executes the twin search command.
func (c *TwinSearchCmd) Run(g *Globals) error {
	app, done, err := g.open()
	if err != nil {
		return err
	}
	defer done()

	results, err := search.Twins(context.Background(), app.Graph, c.Query, c.Limit)
	if err != nil {
		return err
	}
	if g.JSON {
		return g.printJSON(results)
	}
	if len(results) == 0 {
		g.printf("No twins match %q\n", c.Query)
		return nil
	}
	for _, r := range results {
		g.printf("%.4f\t%s\t%s\n", r.Score, r.DTMI, deref(r.DisplayName))
	}
	return nil
}

// RelCmd groups the relationship commands.
type RelCmd struct {
	Create RelCreateCmd `cmd:"" help:"Create a relationship between two twins"`
	Rename RelRenameCmd `cmd:"" help:"Rename a relationship, or clear its name"`
	List   RelListCmd   `cmd:"" help:"List all relationships"`
}

// RelCreateCmd creates a relationship.
type RelCreateCmd struct {
	Source string `arg:"" help:"Source twin DTMI"`
	Target string `arg:"" help:"Target twin DTMI"`
	Name   string `help:"Relationship name"`
}

// Run executes the rel create command.
func (c *RelCreateCmd) Run(g *Globals) error {
	app, done, err := g.open()
	if err != nil {
		return err
	}
	defer done()

	edge, err := app.Graph.CreateRelationship(context.Background(), c.Source, c.Target, optional(c.Name))
	if err != nil {
		return err
	}
	if g.JSON {
		return g.printJSON(edge)
	}
	g.success("✓ Created relationship %d: %s -> %s", edge.ID, c.Source, c.Target)
	return nil
}

// RelRenameCmd renames a relationship.
type RelRenameCmd struct {
	ID   int64  `arg:"" help:"Relationship id"`
	Name string `arg:"" optional:"" help:"New name; omit to clear"`
}

// Run executes the rel rename command.
func (c *RelRenameCmd) Run(g *Globals) error {
	app, done, err := g.open()
	if err != nil {
		return err
	}
	defer done()

	edge, err := app.Graph.RenameRelationship(context.Background(), c.ID, optional(c.Name))
	if err != nil {
		return err
	}
	if g.JSON {
		return g.printJSON(edge)
	}
	g.success("✓ Relationship %d is now named %s", edge.ID, deref(edge.Name))
	return nil
}

// RelListCmd lists relationships with their endpoint DTMIs.
type RelListCmd struct{}

// Run executes the rel list command.
func (c *RelListCmd) Run(g *Globals) error {
	app, done, err := g.open()
	if err != nil {
		return err
	}
	defer done()

	ctx := context.Background()
	edges, err := app.Graph.ListRelationships(ctx)
	if err != nil {
		return err
	}
	twins, err := app.Graph.ListTwins(ctx)
	if err != nil {
		return err
	}
	byID := make(map[int64]string, len(twins))
	for _, t := range twins {
		byID[t.ID] = t.DTMI
	}

	links := make([]*graph.Link, 0, len(edges))
	for _, e := range edges {
		links = append(links, &graph.Link{RelationshipEdge: e, SourceDTMI: byID[e.SourceID], TargetDTMI: byID[e.TargetID]})
	}
	if g.JSON {
		return g.printJSON(links)
	}
	if len(links) == 0 {
		g.printf("No relationships found\n")
		return nil
	}
	for _, l := range links {
		g.printf("%d\t%s -[%s]-> %s\n", l.ID, l.SourceDTMI, deref(l.Name), l.TargetDTMI)
	}
	return nil
}

// NeighborsCmd shows the direct neighbours of a twin.
type NeighborsCmd struct {
	DTMI      string `arg:"" name:"dtmi" help:"Twin DTMI"`
	Direction string `short:"d" default:"out" enum:"out,in,both" help:"Edge direction (out|in|both)"`
}

// Run executes the neighbors command.
func (c *NeighborsCmd) Run(g *Globals) error {
	app, done, err := g.open()
	if err != nil {
		return err
	}
	defer done()

	ctx := context.Background()
	result := map[string][]string{}
	if c.Direction == "out" || c.Direction == "both" {
		nodes, err := app.Graph.OutgoingNeighbors(ctx, c.DTMI)
		if err != nil {
			return err
		}
		result["outgoing"] = dtmis(nodes)
	}
	if c.Direction == "in" || c.Direction == "both" {
		nodes, err := app.Graph.IncomingNeighbors(ctx, c.DTMI)
		if err != nil {
			return err
		}
		result["incoming"] = dtmis(nodes)
	}

	if g.JSON {
		return g.printJSON(result)
	}
	g.printf("## Neighbours of %s\n", c.DTMI)
	for _, dir := range []string{"outgoing", "incoming"} {
		nodes, ok := result[dir]
		if !ok {
			continue
		}
		g.printf("\n### %s (%d)\n", strings.ToUpper(dir[:1])+dir[1:], len(nodes))
		for _, n := range nodes {
			g.printf("  - %s\n", n)
		}
	}
	return nil
}

// SubgraphCmd shows a bounded neighbourhood.
type SubgraphCmd struct {
	DTMI       string `arg:"" name:"dtmi" help:"Start twin DTMI"`
	Hops       int    `short:"k" default:"1" help:"Maximum number of hops"`
	Undirected bool   `help:"Follow incoming edges as well"`
}

// Run executes the subgraph command.
func (c *SubgraphCmd) Run(g *Globals) error {
	app, done, err := g.open()
	if err != nil {
		return err
	}
	defer done()

	sub, err := app.Graph.Subgraph(context.Background(), c.DTMI, c.Hops, !c.Undirected)
	if err != nil {
		return err
	}
	if g.JSON {
		return g.printJSON(sub)
	}

	stats := sub.Stats()
	g.printf("## Subgraph of %s (%d hop(s))\n\n", c.DTMI, c.Hops)
	g.printf("Nodes (%d):\n", stats["nodes"])
	for _, n := range sub.Nodes {
		g.printf("  - %s\n", n.DTMI)
	}
	g.printf("Relationships (%d):\n", stats["relationships"])
	for _, l := range sub.Edges {
		g.printf("  - %s -> %s\n", l.SourceDTMI, l.TargetDTMI)
	}
	return nil
}

// ValidationCmd groups the validation payload commands.
type ValidationCmd struct {
	Set ValidationSetCmd `cmd:"" help:"Store a validation payload on a twin or relationship"`
	Get ValidationGetCmd `cmd:"" help:"Show the validation payload of a twin or relationship"`
}

// ValidationSetCmd stores a validator payload.
type ValidationSetCmd struct {
	Target string `arg:"" help:"Twin DTMI, or relationship id with --edge"`
	File   string `arg:"" help:"JSON payload file, or - for stdin"`
	Edge   bool   `help:"Target is a relationship id"`
}

// Run executes the validation set command.
func (c *ValidationSetCmd) Run(g *Globals) error {
	var payload graph.Validation
	if err := readJSON(c.File, &payload); err != nil {
		return err
	}

	app, done, err := g.open()
	if err != nil {
		return err
	}
	defer done()

	ctx := context.Background()
	if c.Edge {
		id, err := parseID(c.Target)
		if err != nil {
			return err
		}
		if _, err := app.Graph.SetEdgeValidation(ctx, id, payload); err != nil {
			return err
		}
	} else if _, err := app.Graph.SetNodeValidation(ctx, c.Target, payload); err != nil {
		return err
	}
	g.success("✓ Stored validation for %s (ok=%s, %d issue(s))", c.Target, verdict(payload), len(payload.Issues()))
	return nil
}

// ValidationGetCmd shows a stored validator payload.
type ValidationGetCmd struct {
	Target string `arg:"" help:"Twin DTMI, or relationship id with --edge"`
	Edge   bool   `help:"Target is a relationship id"`
}

// Run executes the validation get command.
func (c *ValidationGetCmd) Run(g *Globals) error {
	app, done, err := g.open()
	if err != nil {
		return err
	}
	defer done()

	ctx := context.Background()
	var v graph.Validation
	if c.Edge {
		id, err := parseID(c.Target)
		if err != nil {
			return err
		}
		v, err = app.Graph.EdgeValidation(ctx, id)
		if err != nil {
			return err
		}
	} else {
		v, err = app.Graph.NodeValidation(ctx, c.Target)
		if err != nil {
			return err
		}
	}

	if g.JSON {
		return g.printJSON(v)
	}
	if v == nil {
		g.printf("No validation stored for %s\n", c.Target)
		return nil
	}
	g.printf("Validation for %s: ok=%s\n", c.Target, verdict(v))
	for _, issue := range v.Issues() {
		g.printf("  [%s] %s\n", issue.Severity, issue.Message)
	}
	return nil
}

// verdict renders is_ok, or "unknown" when the validator did not set it.
func verdict(v graph.Validation) string {
	ok, set := v.IsOK()
	if !set {
		return "unknown"
	}
	return strconv.FormatBool(ok)
}

func dtmis(nodes []*graph.TwinNode) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.DTMI)
	}
	return out
}
