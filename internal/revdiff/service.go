package revdiff

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Benny93/twinscope/internal/graph"
)

var tracer = otel.Tracer("github.com/Benny93/twinscope/internal/revdiff")

// Service computes revision diffs between snapshots.
type Service struct {
	graph *graph.Service
	log   *slog.Logger
}

// NewService creates a diff service reading snapshots through g.
func NewService(g *graph.Service, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{graph: g, log: logger}
}

// Diff compares the snapshots oldID and newID.
//
// It returns (nil, nil) when either snapshot does not exist. The result
// belongs to the new snapshot's file, and takes the new snapshot's kind,
// or the old one's when the new kind is empty.
func (s *Service) Diff(ctx context.Context, oldID, newID int64) (*Result, error) {
	ctx, span := tracer.Start(ctx, "revdiff.Diff")
	defer span.End()

	oldObj, err := s.graph.ExtractedObject(ctx, oldID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("loading snapshot %d: %w", oldID, err)
	}
	newObj, err := s.graph.ExtractedObject(ctx, newID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("loading snapshot %d: %w", newID, err)
	}
	if oldObj == nil || newObj == nil {
		s.log.DebugContext(ctx, "snapshot missing, no diff", "old", oldID, "new", newID)
		return nil, nil
	}

	kind := newObj.Kind
	if kind == "" {
		kind = oldObj.Kind
	}

	oldKeys, newKeys := keySet(oldObj.Data), keySet(newObj.Data)
	structural := structuralDiff(oldObj, newObj)

	result := &Result{
		FileObjectID:         newObj.FileObjectID,
		Kind:                 kind,
		OldExtractedObjectID: oldObj.ID,
		NewExtractedObjectID: newObj.ID,
		DTKeyAdded:           difference(newKeys, oldKeys),
		DTKeyRemoved:         difference(oldKeys, newKeys),
		DTKeyUnchanged:       intersection(oldKeys, newKeys),
		Structural:           structural,
	}
	result.Summary = fmt.Sprintf("dt_keys +%d -%d, structural: %s",
		len(result.DTKeyAdded), len(result.DTKeyRemoved), structural.Summary())

	span.SetAttributes(
		attribute.Int64("revdiff.file_object_id", result.FileObjectID),
		attribute.String("revdiff.kind", kind),
		attribute.Int("revdiff.dt_keys_added", len(result.DTKeyAdded)),
		attribute.Int("revdiff.dt_keys_removed", len(result.DTKeyRemoved)),
	)
	return result, nil
}

// DiffLatest compares the two newest snapshots of a file, optionally of a
// single kind. It returns (nil, nil) when fewer than two exist.
func (s *Service) DiffLatest(ctx context.Context, fileID int64, kind string) (*Result, error) {
	history, err := s.graph.ExtractionHistory(ctx, fileID, kind)
	if err != nil {
		return nil, fmt.Errorf("loading history of file %d: %w", fileID, err)
	}
	if len(history) < 2 {
		return nil, nil
	}
	return s.Diff(ctx, history[1].ID, history[0].ID)
}

func keySet(data graph.Payload) map[string]bool {
	keys := make(map[string]bool)
	for _, k := range data.DTKeys() {
		keys[k] = true
	}
	return keys
}
