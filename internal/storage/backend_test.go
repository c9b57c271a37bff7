package storage

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/twinscope/internal/graph"
)

func strPtr(s string) *string { return &s }

// storeContract exercises the graph.Store behaviour every backend must share.
func storeContract(t *testing.T, open func(t *testing.T) graph.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("TwinRoundTrip", func(t *testing.T) {
		t.Parallel()
		s := open(t)

		twin := &graph.TwinNode{DTMI: "dtmi:com:example:Pump;1", DisplayName: strPtr("Pump")}
		require.NoError(t, s.CreateTwin(ctx, twin))
		assert.NotZero(t, twin.ID)

		got, err := s.GetTwinByDTMI(ctx, "dtmi:com:example:Pump;1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, twin.ID, got.ID)
		assert.Equal(t, "Pump", *got.DisplayName)
		assert.Nil(t, got.ModelVersion)

		byID, err := s.GetTwin(ctx, twin.ID)
		require.NoError(t, err)
		assert.Equal(t, got, byID)
	})

	t.Run("MissingTwinIsNil", func(t *testing.T) {
		t.Parallel()
		s := open(t)

		got, err := s.GetTwinByDTMI(ctx, "dtmi:com:example:Nothing;1")
		assert.NoError(t, err)
		assert.Nil(t, got)

		byID, err := s.GetTwin(ctx, 999)
		assert.NoError(t, err)
		assert.Nil(t, byID)
	})

	t.Run("DuplicateDTMI", func(t *testing.T) {
		t.Parallel()
		s := open(t)

		require.NoError(t, s.CreateTwin(ctx, &graph.TwinNode{DTMI: "dtmi:com:example:A;1"}))
		err := s.CreateTwin(ctx, &graph.TwinNode{DTMI: "dtmi:com:example:A;1"})
		assert.ErrorIs(t, err, graph.ErrDuplicateDTMI)

		twins, err := s.ListTwins(ctx)
		require.NoError(t, err)
		assert.Len(t, twins, 1)
	})

	t.Run("UpdateTwin", func(t *testing.T) {
		t.Parallel()
		s := open(t)

		twin := &graph.TwinNode{DTMI: "dtmi:com:example:A;1"}
		require.NoError(t, s.CreateTwin(ctx, twin))

		twin.ModelVersion = strPtr("2")
		raw := `{"issues":[{"severity":"error","message":"bad","line":12}],"is_ok":false,"validator":"dotnet"}`
		require.NoError(t, json.Unmarshal([]byte(raw), &twin.Validation))
		require.NoError(t, s.UpdateTwin(ctx, twin))

		got, err := s.GetTwin(ctx, twin.ID)
		require.NoError(t, err)
		assert.Equal(t, "2", *got.ModelVersion)
		require.NotNil(t, got.Validation)
		stored, err := json.Marshal(got.Validation)
		require.NoError(t, err)
		assert.JSONEq(t, raw, string(stored))

		err = s.UpdateTwin(ctx, &graph.TwinNode{ID: 4242, DTMI: "dtmi:com:example:Ghost;1"})
		assert.ErrorIs(t, err, graph.ErrNotFound)
	})

	t.Run("RelationshipsAndAdjacency", func(t *testing.T) {
		t.Parallel()
		s := open(t)

		a, b, c := newTwin(t, s, "A"), newTwin(t, s, "B"), newTwin(t, s, "C")
		ab := &graph.RelationshipEdge{SourceID: a.ID, TargetID: b.ID, Name: strPtr("feeds")}
		ab2 := &graph.RelationshipEdge{SourceID: a.ID, TargetID: b.ID}
		cb := &graph.RelationshipEdge{SourceID: c.ID, TargetID: b.ID}
		for _, e := range []*graph.RelationshipEdge{ab, ab2, cb} {
			require.NoError(t, s.CreateRelationship(ctx, e))
		}

		out, err := s.OutgoingRelationships(ctx, a.ID)
		require.NoError(t, err)
		require.Len(t, out, 2)
		assert.Equal(t, ab.ID, out[0].ID)
		assert.Equal(t, ab2.ID, out[1].ID)
		assert.Equal(t, "feeds", *out[0].Name)

		in, err := s.IncomingRelationships(ctx, b.ID)
		require.NoError(t, err)
		assert.Len(t, in, 3)

		none, err := s.OutgoingRelationships(ctx, b.ID)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("RelationshipNeedsEndpoints", func(t *testing.T) {
		t.Parallel()
		s := open(t)

		a := newTwin(t, s, "A")
		err := s.CreateRelationship(ctx, &graph.RelationshipEdge{SourceID: a.ID, TargetID: 777})
		assert.ErrorIs(t, err, graph.ErrNotFound)

		edges, err := s.ListRelationships(ctx)
		require.NoError(t, err)
		assert.Empty(t, edges)
	})

	t.Run("UpdateRelationshipKeepsEndpoints", func(t *testing.T) {
		t.Parallel()
		s := open(t)

		a, b := newTwin(t, s, "A"), newTwin(t, s, "B")
		edge := &graph.RelationshipEdge{SourceID: a.ID, TargetID: b.ID}
		require.NoError(t, s.CreateRelationship(ctx, edge))

		edge.Name = strPtr("renamed")
		edge.SourceID = b.ID
		require.NoError(t, s.UpdateRelationship(ctx, edge))

		got, err := s.GetRelationship(ctx, edge.ID)
		require.NoError(t, err)
		assert.Equal(t, "renamed", *got.Name)
		assert.Equal(t, a.ID, got.SourceID)
	})

	t.Run("DeleteTwinCascades", func(t *testing.T) {
		t.Parallel()
		s := open(t)

		a, b, c := newTwin(t, s, "A"), newTwin(t, s, "B"), newTwin(t, s, "C")
		require.NoError(t, s.CreateRelationship(ctx, &graph.RelationshipEdge{SourceID: a.ID, TargetID: b.ID}))
		require.NoError(t, s.CreateRelationship(ctx, &graph.RelationshipEdge{SourceID: b.ID, TargetID: c.ID}))
		keep := &graph.RelationshipEdge{SourceID: a.ID, TargetID: c.ID}
		require.NoError(t, s.CreateRelationship(ctx, keep))

		file := &graph.FileObject{Path: "board.kicad_pcb", TwinID: &b.ID}
		require.NoError(t, s.CreateFile(ctx, file))

		deleted, err := s.DeleteTwin(ctx, b.ID)
		require.NoError(t, err)
		assert.True(t, deleted)

		edges, err := s.ListRelationships(ctx)
		require.NoError(t, err)
		require.Len(t, edges, 1)
		assert.Equal(t, keep.ID, edges[0].ID)

		in, err := s.IncomingRelationships(ctx, c.ID)
		require.NoError(t, err)
		assert.Len(t, in, 1)

		got, err := s.GetFile(ctx, file.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Nil(t, got.TwinID)

		again, err := s.DeleteTwin(ctx, b.ID)
		require.NoError(t, err)
		assert.False(t, again)

		// The dtmi is free again.
		require.NoError(t, s.CreateTwin(ctx, &graph.TwinNode{DTMI: "dtmi:com:example:B;1"}))
	})

	t.Run("Files", func(t *testing.T) {
		t.Parallel()
		s := open(t)

		a := newTwin(t, s, "A")
		file := &graph.FileObject{Path: "model.FCStd", MediaType: strPtr("application/x-freecad")}
		require.NoError(t, s.CreateFile(ctx, file))

		byPath, err := s.GetFileByPath(ctx, "model.FCStd")
		require.NoError(t, err)
		require.NotNil(t, byPath)
		assert.Equal(t, file.ID, byPath.ID)

		missing, err := s.GetFileByPath(ctx, "model")
		require.NoError(t, err)
		assert.Nil(t, missing)

		file.TwinID = &a.ID
		require.NoError(t, s.UpdateFile(ctx, file))
		got, err := s.GetFile(ctx, file.ID)
		require.NoError(t, err)
		require.NotNil(t, got.TwinID)
		assert.Equal(t, a.ID, *got.TwinID)

		ghost := int64(9999)
		file.TwinID = &ghost
		assert.ErrorIs(t, s.UpdateFile(ctx, file), graph.ErrNotFound)

		files, err := s.ListFiles(ctx)
		require.NoError(t, err)
		assert.Len(t, files, 1)
	})

	t.Run("ExtractedNewestFirst", func(t *testing.T) {
		t.Parallel()
		s := open(t)

		file := &graph.FileObject{Path: "board.kicad_pcb"}
		require.NoError(t, s.CreateFile(ctx, file))

		var ids []int64
		for _, kind := range []string{graph.KindKiCadECAD, "step", graph.KindKiCadECAD} {
			obj := &graph.ExtractedObject{
				FileObjectID: file.ID,
				Kind:         kind,
				Data:         graph.Payload{"dt_keys": []any{"dtmi:com:example:A;1"}},
			}
			require.NoError(t, s.CreateExtracted(ctx, obj))
			assert.False(t, obj.CreatedAt.IsZero())
			ids = append(ids, obj.ID)
		}

		all, err := s.ListExtracted(ctx, file.ID, "")
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []int64{ids[2], ids[1], ids[0]}, []int64{all[0].ID, all[1].ID, all[2].ID})

		kicad, err := s.ListExtracted(ctx, file.ID, graph.KindKiCadECAD)
		require.NoError(t, err)
		require.Len(t, kicad, 2)
		assert.Equal(t, ids[2], kicad[0].ID)

		got, err := s.GetExtracted(ctx, ids[0])
		require.NoError(t, err)
		assert.Equal(t, []string{"dtmi:com:example:A;1"}, got.Data.DTKeys())

		err = s.CreateExtracted(ctx, &graph.ExtractedObject{FileObjectID: 4040, Kind: "x"})
		assert.ErrorIs(t, err, graph.ErrNotFound)
	})

	t.Run("Stitches", func(t *testing.T) {
		t.Parallel()
		s := open(t)

		file := &graph.FileObject{Path: "board.kicad_pcb"}
		require.NoError(t, s.CreateFile(ctx, file))
		other := &graph.FileObject{Path: "other.kicad_pcb"}
		require.NoError(t, s.CreateFile(ctx, other))
		obj := &graph.ExtractedObject{FileObjectID: file.ID, Kind: graph.KindKiCadECAD, Data: graph.Payload{}}
		require.NoError(t, s.CreateExtracted(ctx, obj))
		otherObj := &graph.ExtractedObject{FileObjectID: other.ID, Kind: graph.KindKiCadECAD, Data: graph.Payload{}}
		require.NoError(t, s.CreateExtracted(ctx, otherObj))

		accepted := &graph.StitchCandidate{
			FileObjectID: file.ID, ExtractedObjectID: obj.ID, DTKey: "part-1",
			TargetDTMI: strPtr("dtmi:com:example:Mapped;1"), Confidence: 0.3, Status: graph.StatusCandidate,
		}
		require.NoError(t, s.CreateStitch(ctx, accepted))
		require.NoError(t, s.CreateStitch(ctx, &graph.StitchCandidate{
			FileObjectID: file.ID, ExtractedObjectID: obj.ID, DTKey: "part-2", Confidence: 0.3, Status: graph.StatusCandidate,
		}))
		require.NoError(t, s.CreateStitch(ctx, &graph.StitchCandidate{
			FileObjectID: other.ID, ExtractedObjectID: otherObj.ID, DTKey: "part-9", Confidence: 0.3, Status: graph.StatusCandidate,
		}))

		accepted.Status = graph.StatusAccepted
		require.NoError(t, s.UpdateStitch(ctx, accepted))

		got, err := s.ListStitches(ctx, graph.StitchFilter{FileObjectID: file.ID, Status: graph.StatusAccepted})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "part-1", got[0].DTKey)
		assert.Equal(t, "dtmi:com:example:Mapped;1", *got[0].TargetDTMI)

		forFile, err := s.ListStitches(ctx, graph.StitchFilter{FileObjectID: file.ID})
		require.NoError(t, err)
		assert.Len(t, forFile, 2)
		assert.Less(t, forFile[0].ID, forFile[1].ID)

		all, err := s.ListStitches(ctx, graph.StitchFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 3)

		n, err := s.DeleteStitchesForFile(ctx, file.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		all, err = s.ListStitches(ctx, graph.StitchFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 1)

		missing, err := s.GetStitch(ctx, accepted.ID)
		require.NoError(t, err)
		assert.Nil(t, missing)
	})
}

func newTwin(t *testing.T, s graph.Store, name string) *graph.TwinNode {
	t.Helper()
	twin := &graph.TwinNode{DTMI: "dtmi:com:example:" + name + ";1"}
	require.NoError(t, s.CreateTwin(context.Background(), twin))
	return twin
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()

	storeContract(t, func(t *testing.T) graph.Store {
		return NewMemoryStore()
	})
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()

	twin := &graph.TwinNode{DTMI: "dtmi:com:example:A;1"}
	require.NoError(t, s.CreateTwin(ctx, twin))

	got, err := s.GetTwin(ctx, twin.ID)
	require.NoError(t, err)
	got.DisplayName = strPtr("mutated")

	again, err := s.GetTwin(ctx, twin.ID)
	require.NoError(t, err)
	assert.Nil(t, again.DisplayName)
}

func TestOpen(t *testing.T) {
	t.Parallel()

	for _, backend := range []string{BackendMemory, BackendBadger, BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			t.Parallel()
			s, err := Open(Config{Backend: backend, Dir: t.TempDir()})
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })

			require.NoError(t, s.CreateTwin(context.Background(), &graph.TwinNode{DTMI: "dtmi:com:example:A;1"}))
		})
	}

	t.Run("Unknown", func(t *testing.T) {
		t.Parallel()
		_, err := Open(Config{Backend: "neo4j"})
		assert.Error(t, err)
	})
}
