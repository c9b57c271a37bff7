package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/twinscope/internal/graph"
	"github.com/Benny93/twinscope/internal/storage"
)

const (
	pump  = "dtmi:com:example:Pump;1"
	valve = "dtmi:com:example:Valve;1"
	motor = "dtmi:com:example:Motor;1"
)

// newTestServer builds Pump -> Valve -> Motor and a file with two snapshots,
// the second adding Motor to its dt_keys.
func newTestServer(t *testing.T) (*Server, int64) {
	t.Helper()
	ctx := context.Background()

	g := graph.NewService(storage.NewMemoryStore(), nil)
	for _, id := range []string{pump, valve, motor} {
		_, err := g.CreateTwin(ctx, id, graph.TwinFields{})
		require.NoError(t, err)
	}
	_, err := g.CreateRelationship(ctx, pump, valve, nil)
	require.NoError(t, err)
	_, err = g.CreateRelationship(ctx, valve, motor, nil)
	require.NoError(t, err)

	file, err := g.AddFileObject(ctx, graph.FileFields{Path: "pump.json"}, nil)
	require.NoError(t, err)
	_, err = g.AddExtractedObject(ctx, file.ID, "custom", graph.Payload{"dt_keys": []any{valve}})
	require.NoError(t, err)
	_, err = g.AddExtractedObject(ctx, file.ID, "custom", graph.Payload{"dt_keys": []any{valve, motor}})
	require.NoError(t, err)

	return NewServer(g, nil), file.ID
}

func decode(t *testing.T, text string) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(text), &out))
	return out
}

func TestListTools(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	names := make([]string, 0)
	for _, tool := range s.ListTools() {
		names = append(names, tool.Name)
		assert.Equal(t, "object", tool.InputSchema.Type, tool.Name)
		assert.NotEmpty(t, tool.Description, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"list_twins", "search_twins", "twin_subgraph", "twin_neighbors",
		"revision_diff", "impact_for_file", "stitch_file",
	}, names)
}

func TestCallTool(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("ListTwins", func(t *testing.T) {
		t.Parallel()
		s, _ := newTestServer(t)
		text, err := s.CallTool(ctx, "list_twins", nil)
		require.NoError(t, err)
		assert.Equal(t, float64(3), decode(t, text)["count"])
	})

	t.Run("SearchTwins", func(t *testing.T) {
		t.Parallel()
		s, _ := newTestServer(t)
		text, err := s.CallTool(ctx, "search_twins", map[string]any{"query": "motor"})
		require.NoError(t, err)
		out := decode(t, text)
		assert.Equal(t, float64(1), out["count"])
		results := out["results"].([]any)
		assert.Equal(t, motor, results[0].(map[string]any)["dtmi"])

		_, err = s.CallTool(ctx, "search_twins", map[string]any{"query": "  "})
		assert.ErrorIs(t, err, graph.ErrInvalidArgument)
	})

	t.Run("Subgraph", func(t *testing.T) {
		t.Parallel()
		s, _ := newTestServer(t)
		text, err := s.CallTool(ctx, "twin_subgraph", map[string]any{"dtmi": pump, "hops": 2})
		require.NoError(t, err)
		stats := decode(t, text)["stats"].(map[string]any)
		assert.Equal(t, float64(3), stats["nodes"])
		assert.Equal(t, float64(2), stats["relationships"])

		text, err = s.CallTool(ctx, "twin_subgraph", map[string]any{"dtmi": pump})
		require.NoError(t, err)
		stats = decode(t, text)["stats"].(map[string]any)
		assert.Equal(t, float64(2), stats["nodes"])
	})

	t.Run("Neighbors", func(t *testing.T) {
		t.Parallel()
		s, _ := newTestServer(t)
		text, err := s.CallTool(ctx, "twin_neighbors", map[string]any{"dtmi": valve, "direction": "both"})
		require.NoError(t, err)
		out := decode(t, text)
		assert.Equal(t, []any{motor}, out["outgoing"])
		assert.Equal(t, []any{pump}, out["incoming"])

		_, err = s.CallTool(ctx, "twin_neighbors", map[string]any{"dtmi": valve, "direction": "sideways"})
		assert.ErrorIs(t, err, graph.ErrInvalidArgument)
	})

	t.Run("DiffLatest", func(t *testing.T) {
		t.Parallel()
		s, fileID := newTestServer(t)
		text, err := s.CallTool(ctx, "revision_diff", map[string]any{"file_id": fileID, "kind": "custom"})
		require.NoError(t, err)
		out := decode(t, text)
		assert.Equal(t, []any{motor}, out["dt_key_added"])
		assert.Equal(t, []any{valve}, out["dt_key_unchanged"])
	})

	t.Run("DiffByIDs", func(t *testing.T) {
		t.Parallel()
		s, fileID := newTestServer(t)
		history, err := s.graph.ExtractionHistory(ctx, fileID, "custom")
		require.NoError(t, err)
		require.Len(t, history, 2)

		// Reversed order: the newer snapshot is treated as the old one.
		text, err := s.CallTool(ctx, "revision_diff", map[string]any{
			"old_id": history[0].ID,
			"new_id": history[1].ID,
		})
		require.NoError(t, err)
		assert.Equal(t, []any{motor}, decode(t, text)["dt_key_removed"])
	})

	t.Run("DiffMissingArguments", func(t *testing.T) {
		t.Parallel()
		s, _ := newTestServer(t)
		_, err := s.CallTool(ctx, "revision_diff", map[string]any{})
		assert.ErrorIs(t, err, graph.ErrInvalidArgument)
	})

	t.Run("Impact", func(t *testing.T) {
		t.Parallel()
		s, fileID := newTestServer(t)
		text, err := s.CallTool(ctx, "impact_for_file", map[string]any{"file_id": fileID, "kind": "custom"})
		require.NoError(t, err)
		impacted := decode(t, text)["impacted"].([]any)
		require.Len(t, impacted, 1)
		assert.Equal(t, motor, impacted[0].(map[string]any)["dtmi"])
	})

	t.Run("ImpactSingleSnapshot", func(t *testing.T) {
		t.Parallel()
		s, fileID := newTestServer(t)
		text, err := s.CallTool(ctx, "impact_for_file", map[string]any{"file_id": fileID, "kind": "other"})
		require.NoError(t, err)
		assert.Contains(t, text, "No impact")
	})

	t.Run("StitchPreviewAndPersist", func(t *testing.T) {
		t.Parallel()
		s, fileID := newTestServer(t)
		text, err := s.CallTool(ctx, "stitch_file", map[string]any{"file_id": fileID})
		require.NoError(t, err)
		assert.Len(t, decode(t, text)["candidates"], 3)

		stored, err := s.graph.ListStitches(ctx, graph.StitchFilter{FileObjectID: fileID})
		require.NoError(t, err)
		assert.Empty(t, stored)

		_, err = s.CallTool(ctx, "stitch_file", map[string]any{"file_id": fileID, "persist": true})
		require.NoError(t, err)
		stored, err = s.graph.ListStitches(ctx, graph.StitchFilter{FileObjectID: fileID})
		require.NoError(t, err)
		assert.Len(t, stored, 3)
	})

	t.Run("UnknownTool", func(t *testing.T) {
		t.Parallel()
		s, _ := newTestServer(t)
		_, err := s.CallTool(ctx, "search", nil)
		assert.ErrorContains(t, err, "unknown tool")
	})

	t.Run("UnknownTwin", func(t *testing.T) {
		t.Parallel()
		s, _ := newTestServer(t)
		_, err := s.CallTool(ctx, "twin_subgraph", map[string]any{"dtmi": "dtmi:com:example:Ghost;1"})
		assert.ErrorIs(t, err, graph.ErrNotFound)
	})
}

func TestReadResource(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newTestServer(t)

	text, err := s.ReadResource(ctx, "twinscope://overview")
	require.NoError(t, err)
	assert.Contains(t, text, "Twins:          3")
	assert.Contains(t, text, "Relationships:  2")

	text, err = s.ReadResource(ctx, "twinscope://schema")
	require.NoError(t, err)
	assert.Contains(t, text, "StitchCandidate")

	_, err = s.ReadResource(ctx, "twinscope://nope")
	assert.Error(t, err)
}

func TestIntArg(t *testing.T) {
	t.Parallel()

	args := map[string]any{"f": 2.0, "i": 3, "n": json.Number("4"), "s": "5"}
	assert.Equal(t, 2, intArg(args, "f", 0))
	assert.Equal(t, 3, intArg(args, "i", 0))
	assert.Equal(t, 4, intArg(args, "n", 0))
	assert.Equal(t, 9, intArg(args, "s", 9))
	assert.Equal(t, 1, intArg(args, "missing", 1))
}

// connect runs s over an in-memory transport and returns a client session.
func connect(t *testing.T, s *Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	serverT, clientT := mcp.NewInMemoryTransports()
	ss, err := s.MCPServer().Connect(ctx, serverT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client"}, nil)
	session, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func TestProtocol(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("ListTools", func(t *testing.T) {
		t.Parallel()
		s, _ := newTestServer(t)
		session := connect(t, s)

		res, err := session.ListTools(ctx, nil)
		require.NoError(t, err)
		assert.Len(t, res.Tools, len(s.ListTools()))
	})

	t.Run("CallTool", func(t *testing.T) {
		t.Parallel()
		s, _ := newTestServer(t)
		session := connect(t, s)

		res, err := session.CallTool(ctx, &mcp.CallToolParams{
			Name:      "twin_neighbors",
			Arguments: map[string]any{"dtmi": pump},
		})
		require.NoError(t, err)
		require.False(t, res.IsError)
		text := res.Content[0].(*mcp.TextContent).Text
		assert.Equal(t, []any{valve}, decode(t, text)["outgoing"])
	})

	t.Run("ToolErrorIsReported", func(t *testing.T) {
		t.Parallel()
		s, _ := newTestServer(t)
		session := connect(t, s)

		res, err := session.CallTool(ctx, &mcp.CallToolParams{
			Name:      "twin_subgraph",
			Arguments: map[string]any{"dtmi": "dtmi:com:example:Ghost;1"},
		})
		require.NoError(t, err)
		assert.True(t, res.IsError)
		assert.Contains(t, res.Content[0].(*mcp.TextContent).Text, "Not found")
	})

	t.Run("ReadResource", func(t *testing.T) {
		t.Parallel()
		s, _ := newTestServer(t)
		session := connect(t, s)

		res, err := session.ReadResource(ctx, &mcp.ReadResourceParams{URI: "twinscope://overview"})
		require.NoError(t, err)
		require.Len(t, res.Contents, 1)
		assert.Contains(t, res.Contents[0].Text, "File objects:   1")
	})
}
