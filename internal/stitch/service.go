// Package stitch proposes mappings from the artifact-local keys found in
// snapshots to twin DTMIs.
package stitch

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/Benny93/twinscope/internal/dtmi"
	"github.com/Benny93/twinscope/internal/graph"
)

// Rule outcomes for a single dt_key.
const (
	DTMIConfidence       = 0.9
	UnresolvedConfidence = 0.3

	DTMIRationale       = "dt_key looks like DTMI"
	UnresolvedRationale = "unresolved dt_key"
)

// Service generates and stores stitch candidates.
type Service struct {
	graph *graph.Service
	log   *slog.Logger
}

// NewService creates a stitch service over g.
func NewService(g *graph.Service, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{graph: g, log: logger}
}

type candidateKey struct {
	dtKey  string
	target string
}

// Generate proposes one candidate per distinct (snapshot, key, target)
// over every snapshot of the file, newest snapshot first. An unknown
// file yields no candidates. Nothing is persisted.
func (s *Service) Generate(ctx context.Context, fileID int64) ([]*graph.StitchCandidate, error) {
	file, err := s.graph.GetFileObject(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("looking up file %d: %w", fileID, err)
	}
	if file == nil {
		return nil, nil
	}

	history, err := s.graph.ExtractionHistory(ctx, fileID, "")
	if err != nil {
		return nil, fmt.Errorf("loading history of file %d: %w", fileID, err)
	}

	var candidates []*graph.StitchCandidate
	for _, obj := range history {
		candidates = append(candidates, snapshotCandidates(obj)...)
	}
	return candidates, nil
}

// snapshotCandidates proposes one candidate per distinct (key, target) of
// a single snapshot.
func snapshotCandidates(obj *graph.ExtractedObject) []*graph.StitchCandidate {
	var candidates []*graph.StitchCandidate
	seen := make(map[candidateKey]bool)
	for _, key := range obj.Data.DTKeys() {
		candidate := propose(obj.FileObjectID, obj.ID, key)

		k := candidateKey{dtKey: key}
		if candidate.TargetDTMI != nil {
			k.target = *candidate.TargetDTMI
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		candidates = append(candidates, candidate)
	}
	return candidates
}

func propose(fileID, extractedID int64, key string) *graph.StitchCandidate {
	candidate := &graph.StitchCandidate{
		FileObjectID:      fileID,
		ExtractedObjectID: extractedID,
		DTKey:             key,
		Confidence:        UnresolvedConfidence,
		Rationale:         UnresolvedRationale,
		Status:            graph.StatusCandidate,
	}
	if dtmi.IsDTMI(key) {
		target := key
		candidate.TargetDTMI = &target
		candidate.Confidence = DTMIConfidence
		candidate.Rationale = DTMIRationale
	}
	return candidate
}

// Persist stores candidates and returns their new IDs in input order.
// The IDs are also written back into the candidates.
func (s *Service) Persist(ctx context.Context, candidates []*graph.StitchCandidate) ([]int64, error) {
	ids := make([]int64, 0, len(candidates))
	for _, candidate := range candidates {
		if err := s.graph.AddStitchCandidate(ctx, candidate); err != nil {
			return ids, err
		}
		ids = append(ids, candidate.ID)
	}
	return ids, nil
}

// StitchFile generates and persists the candidates of one file.
func (s *Service) StitchFile(ctx context.Context, fileID int64) ([]*graph.StitchCandidate, error) {
	candidates, err := s.Generate(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	if _, err := s.Persist(ctx, candidates); err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "stitch candidates stored", "file_object_id", fileID, "count", len(candidates))
	return candidates, nil
}

// StitchSnapshot generates and persists the candidates of a single
// snapshot. Used when snapshots are stitched as they are recorded, so
// earlier snapshots are not proposed again.
func (s *Service) StitchSnapshot(ctx context.Context, obj *graph.ExtractedObject) ([]*graph.StitchCandidate, error) {
	candidates := snapshotCandidates(obj)
	if len(candidates) == 0 {
		return nil, nil
	}
	if _, err := s.Persist(ctx, candidates); err != nil {
		return nil, err
	}
	s.log.DebugContext(ctx, "snapshot stitched", "extracted_object_id", obj.ID, "count", len(candidates))
	return candidates, nil
}
