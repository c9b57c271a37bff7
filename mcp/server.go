// Package mcp provides the MCP (Model Context Protocol) server for twinscope.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Benny93/twinscope/internal/graph"
	"github.com/Benny93/twinscope/internal/impact"
	"github.com/Benny93/twinscope/internal/revdiff"
	"github.com/Benny93/twinscope/internal/search"
	"github.com/Benny93/twinscope/internal/stitch"
)

// Version is reported to clients during initialization.
var Version = "0.1.0"

// Server exposes the twin graph and its engines as MCP tools.
type Server struct {
	graph  *graph.Service
	diffs  *revdiff.Service
	impact *impact.Service
	stitch *stitch.Service
	log    *slog.Logger
	server *mcp.Server
}

// Tool represents an MCP tool.
type Tool struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema
}

// Resource represents an MCP resource.
type Resource struct {
	URI         string
	Name        string
	Description string
	MimeType    string
}

// NewServer creates a new MCP server over g.
func NewServer(g *graph.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		graph:  g,
		diffs:  revdiff.NewService(g, logger),
		impact: impact.NewService(g, logger),
		stitch: stitch.NewService(g, logger),
		log:    logger,
	}

	s.server = mcp.NewServer(&mcp.Implementation{
		Name:    "twinscope",
		Version: Version,
	}, nil)

	s.registerTools()
	s.registerResources()

	return s
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []Tool {
	dtmiProp := &jsonschema.Schema{Type: "string", Description: "Twin DTMI, e.g. dtmi:com:example:Pump;1"}
	return []Tool{
		{
			Name:        "list_twins",
			Description: "List every twin in the graph with its display name and model version.",
			InputSchema: &jsonschema.Schema{
				Type:       "object",
				Properties: map[string]*jsonschema.Schema{},
			},
		},
		{
			Name:        "search_twins",
			Description: "Rank twins against a free-text query over DTMI segments and display names.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"query": {Type: "string", Description: "Search terms, e.g. 'coolant pump'"},
					"limit": {Type: "integer", Description: "Maximum number of results (default 10)"},
				},
				Required: []string{"query"},
			},
		},
		{
			Name:        "twin_subgraph",
			Description: "Breadth-first neighbourhood of a twin, bounded by a hop count.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"dtmi":     dtmiProp,
					"hops":     {Type: "integer", Description: "Maximum number of hops (default 1)"},
					"directed": {Type: "boolean", Description: "Follow outgoing edges only (default true)"},
				},
				Required: []string{"dtmi"},
			},
		},
		{
			Name:        "twin_neighbors",
			Description: "Direct neighbours of a twin along outgoing, incoming or both edge directions.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"dtmi":      dtmiProp,
					"direction": {Type: "string", Enum: []any{"out", "in", "both"}, Description: "Edge direction (default out)"},
				},
				Required: []string{"dtmi"},
			},
		},
		{
			Name:        "revision_diff",
			Description: "Compare two snapshots by id, or the two newest snapshots of a file and kind.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"old_id":  {Type: "integer", Description: "Older extracted object id"},
					"new_id":  {Type: "integer", Description: "Newer extracted object id"},
					"file_id": {Type: "integer", Description: "File object id, used when ids are omitted"},
					"kind":    {Type: "string", Description: "Snapshot kind for the file lookup"},
				},
			},
		},
		{
			Name:        "impact_for_file",
			Description: "Twins impacted by the latest change to a file, with severity, confidence and evidence.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"file_id":  {Type: "integer", Description: "File object id"},
					"kind":     {Type: "string", Description: "Snapshot kind"},
					"hops":     {Type: "integer", Description: "Propagation is enabled when positive (default 1)"},
					"directed": {Type: "boolean", Description: "Propagate along outgoing edges only (default true)"},
				},
				Required: []string{"file_id", "kind"},
			},
		},
		{
			Name:        "stitch_file",
			Description: "Propose mappings from a file's dt_keys to twin DTMIs, optionally storing them for review.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"file_id": {Type: "integer", Description: "File object id"},
					"persist": {Type: "boolean", Description: "Store the candidates (default false)"},
				},
				Required: []string{"file_id"},
			},
		},
	}
}

// ListResources returns all registered resources.
func (s *Server) ListResources() []Resource {
	return []Resource{
		{
			URI:         "twinscope://overview",
			Name:        "Graph Overview",
			Description: "Counts of twins, relationships, file objects and stitches",
			MimeType:    "text/plain",
		},
		{
			URI:         "twinscope://schema",
			Name:        "Graph Schema",
			Description: "Description of the twin graph data model",
			MimeType:    "text/plain",
		},
	}
}

// CallTool executes a tool with the given arguments and returns its JSON
// result.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	switch name {
	case "list_twins":
		return s.handleListTwins(ctx)
	case "search_twins":
		return s.handleSearch(ctx, stringArg(args, "query"), intArg(args, "limit", 10))
	case "twin_subgraph":
		return s.handleSubgraph(ctx, stringArg(args, "dtmi"), intArg(args, "hops", 1), boolArg(args, "directed", true))
	case "twin_neighbors":
		direction := stringArg(args, "direction")
		if direction == "" {
			direction = "out"
		}
		return s.handleNeighbors(ctx, stringArg(args, "dtmi"), direction)
	case "revision_diff":
		return s.handleDiff(ctx, int64(intArg(args, "old_id", 0)), int64(intArg(args, "new_id", 0)),
			int64(intArg(args, "file_id", 0)), stringArg(args, "kind"))
	case "impact_for_file":
		opts := impact.Options{Hops: intArg(args, "hops", 1), Directed: boolArg(args, "directed", true)}
		return s.handleImpact(ctx, int64(intArg(args, "file_id", 0)), stringArg(args, "kind"), opts)
	case "stitch_file":
		return s.handleStitch(ctx, int64(intArg(args, "file_id", 0)), boolArg(args, "persist", false))
	default:
		return "", fmt.Errorf("unknown tool: %s", name)
	}
}

// ReadResource reads a resource by URI.
func (s *Server) ReadResource(ctx context.Context, uri string) (string, error) {
	switch uri {
	case "twinscope://overview":
		return s.getOverview(ctx)
	case "twinscope://schema":
		return getSchema(), nil
	default:
		return "", fmt.Errorf("unknown resource: %s", uri)
	}
}

// Run serves MCP over t until the client disconnects or ctx is cancelled.
func (s *Server) Run(ctx context.Context, t mcp.Transport) error {
	return s.server.Run(ctx, t)
}

// RunStdio serves MCP over stdin and stdout.
func (s *Server) RunStdio(ctx context.Context) error {
	return s.Run(ctx, &mcp.StdioTransport{})
}

// Handler returns a streamable HTTP handler serving this server.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.server
	}, nil)
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}

// Tool handlers

func (s *Server) handleListTwins(ctx context.Context) (string, error) {
	twins, err := s.graph.ListTwins(ctx)
	if err != nil {
		return "", err
	}
	if twins == nil {
		twins = []*graph.TwinNode{}
	}
	return toJSON(map[string]any{"twins": twins, "count": len(twins)})
}

func (s *Server) handleSearch(ctx context.Context, query string, limit int) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", fmt.Errorf("query is required: %w", graph.ErrInvalidArgument)
	}
	results, err := search.Twins(ctx, s.graph, query, limit)
	if err != nil {
		return "", err
	}
	return toJSON(map[string]any{"results": results, "count": len(results)})
}

func (s *Server) handleSubgraph(ctx context.Context, dtmi string, hops int, directed bool) (string, error) {
	if dtmi == "" {
		return "", fmt.Errorf("dtmi is required: %w", graph.ErrInvalidArgument)
	}
	sub, err := s.graph.Subgraph(ctx, dtmi, hops, directed)
	if err != nil {
		return "", err
	}
	return toJSON(map[string]any{"subgraph": sub, "stats": sub.Stats()})
}

func (s *Server) handleNeighbors(ctx context.Context, dtmi, direction string) (string, error) {
	if dtmi == "" {
		return "", fmt.Errorf("dtmi is required: %w", graph.ErrInvalidArgument)
	}

	out := map[string]any{"dtmi": dtmi}
	if direction == "out" || direction == "both" {
		nodes, err := s.graph.OutgoingNeighbors(ctx, dtmi)
		if err != nil {
			return "", err
		}
		out["outgoing"] = dtmis(nodes)
	}
	if direction == "in" || direction == "both" {
		nodes, err := s.graph.IncomingNeighbors(ctx, dtmi)
		if err != nil {
			return "", err
		}
		out["incoming"] = dtmis(nodes)
	}
	if len(out) == 1 {
		return "", fmt.Errorf("unknown direction %q: %w", direction, graph.ErrInvalidArgument)
	}
	return toJSON(out)
}

func (s *Server) handleDiff(ctx context.Context, oldID, newID, fileID int64, kind string) (string, error) {
	var (
		diff *revdiff.Result
		err  error
	)
	switch {
	case oldID != 0 && newID != 0:
		diff, err = s.diffs.Diff(ctx, oldID, newID)
	case fileID != 0:
		diff, err = s.diffs.DiffLatest(ctx, fileID, kind)
	default:
		return "", fmt.Errorf("either old_id and new_id or file_id is required: %w", graph.ErrInvalidArgument)
	}
	if err != nil {
		return "", err
	}
	if diff == nil {
		return "No diff available: a snapshot is missing.", nil
	}
	return toJSON(diff)
}

func (s *Server) handleImpact(ctx context.Context, fileID int64, kind string, opts impact.Options) (string, error) {
	if fileID == 0 {
		return "", fmt.Errorf("file_id is required: %w", graph.ErrInvalidArgument)
	}
	result, err := s.impact.ComputeForFile(ctx, fileID, kind, opts)
	if err != nil {
		return "", err
	}
	if result == nil {
		return "No impact: fewer than two snapshots of this kind.", nil
	}
	return toJSON(result)
}

func (s *Server) handleStitch(ctx context.Context, fileID int64, persist bool) (string, error) {
	if fileID == 0 {
		return "", fmt.Errorf("file_id is required: %w", graph.ErrInvalidArgument)
	}

	var (
		candidates []*graph.StitchCandidate
		err        error
	)
	if persist {
		candidates, err = s.stitch.StitchFile(ctx, fileID)
	} else {
		candidates, err = s.stitch.Generate(ctx, fileID)
	}
	if err != nil {
		return "", err
	}
	if candidates == nil {
		candidates = []*graph.StitchCandidate{}
	}
	return toJSON(map[string]any{"candidates": candidates, "persisted": persist})
}

// Resources

func (s *Server) getOverview(ctx context.Context) (string, error) {
	twins, err := s.graph.ListTwins(ctx)
	if err != nil {
		return "", err
	}
	edges, err := s.graph.ListRelationships(ctx)
	if err != nil {
		return "", err
	}
	files, err := s.graph.ListFileObjects(ctx)
	if err != nil {
		return "", err
	}
	stitches, err := s.graph.ListStitches(ctx, graph.StitchFilter{})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("Twin graph overview\n")
	fmt.Fprintf(&b, "  Twins:          %d\n", len(twins))
	fmt.Fprintf(&b, "  Relationships:  %d\n", len(edges))
	fmt.Fprintf(&b, "  File objects:   %d\n", len(files))
	fmt.Fprintf(&b, "  Stitches:       %d\n", len(stitches))
	return b.String(), nil
}

func getSchema() string {
	return `Twin graph schema

Twin (node): dtmi (unique), display_name, model_version, validation
Relationship (edge): source -> target, optional name, validation; parallel edges allowed
FileObject: path, media_type, version, optional attached twin
ExtractedObject: immutable snapshot of a file (kind, data with dt_keys), newest has the highest id
StitchCandidate: dt_key -> target_dtmi with confidence, rationale and status (candidate, accepted, rejected)
`
}

// Registration

func (s *Server) registerTools() {
	for _, tool := range s.ListTools() {
		name := tool.Name
		s.server.AddTool(&mcp.Tool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := map[string]any{}
			if len(req.Params.Arguments) > 0 {
				if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
					return toolError("Invalid arguments: %v", err), nil
				}
			}
			text, err := s.CallTool(ctx, name, args)
			if err != nil {
				s.log.WarnContext(ctx, "tool call failed", "tool", name, "error", err)
				return toolError("%s", describeError(err)), nil
			}
			return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}, nil
		})
	}
}

func (s *Server) registerResources() {
	for _, res := range s.ListResources() {
		uri := res.URI
		mimeType := res.MimeType
		s.server.AddResource(&mcp.Resource{
			URI:         res.URI,
			Name:        res.Name,
			Description: res.Description,
			MIMEType:    res.MimeType,
		}, func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			text, err := s.ReadResource(ctx, uri)
			if err != nil {
				return nil, err
			}
			return &mcp.ReadResourceResult{
				Contents: []*mcp.ResourceContents{{URI: uri, MIMEType: mimeType, Text: text}},
			}, nil
		})
	}
}

// Helper functions

func toolError(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}

// describeError prefixes well-known failures so clients can tell a bad
// request from a missing entity.
func describeError(err error) string {
	switch {
	case errors.Is(err, graph.ErrNotFound):
		return "Not found: " + err.Error()
	case errors.Is(err, graph.ErrInvalidArgument):
		return "Invalid argument: " + err.Error()
	}
	return err.Error()
}

func toJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func dtmis(nodes []*graph.TwinNode) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.DTMI)
	}
	return out
}

func stringArg(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return s
}

// intArg accepts JSON numbers as decoded by encoding/json as well as Go
// integers passed by in-process callers.
func intArg(args map[string]any, name string, def int) int {
	switch v := args[name].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return def
}

func boolArg(args map[string]any, name string, def bool) bool {
	if b, ok := args[name].(bool); ok {
		return b
	}
	return def
}
