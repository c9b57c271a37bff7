// Package impact turns a revision diff into a list of affected twins.
//
// Changed dt_keys are resolved to DTMIs, either directly when the key is a
// DTMI or through the file's stitch mappings. Each resolved twin gets a
// severity and a confidence backed by evidence, and the direct neighbours
// of impacted twins are reported as propagated impact.
package impact

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/Benny93/twinscope/internal/dtmi"
	"github.com/Benny93/twinscope/internal/graph"
	"github.com/Benny93/twinscope/internal/revdiff"
)

// Scores assigned by the heuristics.
const (
	AddedSeverity      = 0.6
	RemovedSeverity    = 0.8
	DirectConfidence   = 0.9
	StitchedConfidence = 0.6
	StructuralBump     = 0.2
	PropagatedScore    = 0.3
)

// Evidence kinds.
const (
	EvidenceKeyAdded   = "dt_key_added"
	EvidenceKeyRemoved = "dt_key_removed"
	EvidenceStructural = "structural_change"
	EvidencePropagated = "propagated"
)

// Evidence is one reason a twin is considered impacted.
type Evidence struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
	Source string `json:"source,omitempty"`
}

// Record is the assessed impact on a single twin.
type Record struct {
	DTMI         string     `json:"dtmi"`
	Severity     float64    `json:"severity"`
	Confidence   float64    `json:"confidence"`
	Evidences    []Evidence `json:"evidences"`
	IsPropagated bool       `json:"is_propagated"`
}

// Result is the impact of one revision diff.
type Result struct {
	FileObjectID         int64     `json:"file_object_id"`
	Kind                 string    `json:"kind"`
	OldExtractedObjectID int64     `json:"old_extracted_object_id"`
	NewExtractedObjectID int64     `json:"new_extracted_object_id"`
	Impacted             []*Record `json:"impacted"`
	Propagated           []*Record `json:"propagated"`
	Summary              string    `json:"summary"`
}

// Options controls propagation.
type Options struct {
	// Hops enables propagation when positive. Propagation reaches only the
	// direct neighbours of impacted twins, whatever the value.
	Hops int

	// Directed limits propagation to outgoing edges.
	Directed bool
}

// DefaultOptions propagates one hop along outgoing edges.
func DefaultOptions() Options {
	return Options{Hops: 1, Directed: true}
}

// Service computes impact from revision diffs.
type Service struct {
	graph *graph.Service
	diffs *revdiff.Service
	log   *slog.Logger
}

// NewService creates an impact service over g.
func NewService(g *graph.Service, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{graph: g, diffs: revdiff.NewService(g, logger), log: logger}
}

// ComputeForFile diffs the two newest snapshots of the file and computes
// their impact. It returns (nil, nil) when there is nothing to diff.
func (s *Service) ComputeForFile(ctx context.Context, fileID int64, kind string, opts Options) (*Result, error) {
	diff, err := s.diffs.DiffLatest(ctx, fileID, kind)
	if err != nil {
		return nil, err
	}
	if diff == nil {
		return nil, nil
	}
	return s.ComputeFromDiff(ctx, fileID, diff, opts)
}

// impactSet keeps records in first-registration order.
type impactSet struct {
	order  []*Record
	byDTMI map[string]*Record
}

func (m *impactSet) add(target string, severity, confidence float64, ev Evidence) {
	if r, ok := m.byDTMI[target]; ok {
		r.Severity = max(r.Severity, severity)
		r.Confidence = max(r.Confidence, confidence)
		r.Evidences = append(r.Evidences, ev)
		return
	}
	r := &Record{DTMI: target, Severity: severity, Confidence: confidence, Evidences: []Evidence{ev}}
	m.byDTMI[target] = r
	m.order = append(m.order, r)
}

// ComputeFromDiff assesses the impact of diff on the twins of fileID.
// Resolution and neighbour lookup failures never fail the computation;
// unresolved keys contribute nothing.
func (s *Service) ComputeFromDiff(ctx context.Context, fileID int64, diff *revdiff.Result, opts Options) (*Result, error) {
	if diff == nil {
		return nil, fmt.Errorf("nil diff: %w", graph.ErrInvalidArgument)
	}

	ctx, span := startComputeSpan(ctx, fileID, opts)
	defer span.End()
	start := time.Now()

	resolver := &resolver{graph: s.graph, fileID: fileID, log: s.log}
	source := strconv.FormatInt(diff.NewExtractedObjectID, 10)
	impacted := &impactSet{byDTMI: make(map[string]*Record)}

	changes := []struct {
		keys     []string
		severity float64
		kind     string
	}{
		{diff.DTKeyAdded, AddedSeverity, EvidenceKeyAdded},
		{diff.DTKeyRemoved, RemovedSeverity, EvidenceKeyRemoved},
	}
	for _, change := range changes {
		for _, key := range change.keys {
			target, direct, ok := resolver.resolve(ctx, key)
			if !ok {
				continue
			}
			confidence := StitchedConfidence
			if direct {
				confidence = DirectConfidence
			}
			impacted.add(target, change.severity, confidence, Evidence{Kind: change.kind, Detail: key, Source: source})
		}
	}

	// NOTE: the bump applies to every impacted twin, not only to those whose
	// keys relate to the structural delta. Known heuristic, kept as is.
	structural := diff.Structural.Changed()
	if structural {
		for _, r := range impacted.order {
			r.Severity = min(1.0, r.Severity+StructuralBump)
			r.Evidences = append(r.Evidences, Evidence{Kind: EvidenceStructural, Detail: "structural change detected"})
		}
	}

	var propagated []*Record
	if opts.Hops > 0 {
		propagated = s.propagate(ctx, impacted, fileID, opts.Directed)
	}

	result := &Result{
		FileObjectID:         fileID,
		Kind:                 diff.Kind,
		OldExtractedObjectID: diff.OldExtractedObjectID,
		NewExtractedObjectID: diff.NewExtractedObjectID,
		Impacted:             impacted.order,
		Propagated:           propagated,
		Summary: fmt.Sprintf("impacted=%d, propagated=%d, dt_keys +%d -%d",
			len(impacted.order), len(propagated), len(diff.DTKeyAdded), len(diff.DTKeyRemoved)),
	}
	if result.Impacted == nil {
		result.Impacted = []*Record{}
	}
	if result.Propagated == nil {
		result.Propagated = []*Record{}
	}

	recordCompute(ctx, time.Since(start), result, structural)
	s.log.DebugContext(ctx, "impact computed", "file_object_id", fileID, "summary", result.Summary)
	return result, nil
}

// propagate reports the direct neighbours of impacted twins. Propagation
// stops after one hop: propagated twins are never expanded themselves.
func (s *Service) propagate(ctx context.Context, impacted *impactSet, fileID int64, directed bool) []*Record {
	var out []*Record
	seen := make(map[string]bool)
	source := strconv.FormatInt(fileID, 10)

	for _, origin := range impacted.order {
		for _, neighbor := range s.neighbors(ctx, origin.DTMI, directed) {
			if _, ok := impacted.byDTMI[neighbor]; ok || seen[neighbor] {
				continue
			}
			seen[neighbor] = true
			out = append(out, &Record{
				DTMI:       neighbor,
				Severity:   PropagatedScore,
				Confidence: PropagatedScore,
				Evidences: []Evidence{{
					Kind:   EvidencePropagated,
					Detail: "propagated from " + origin.DTMI,
					Source: source,
				}},
				IsPropagated: true,
			})
		}
	}
	return out
}

// neighbors returns the DTMIs adjacent to target. A failed lookup, such as
// a resolved DTMI with no twin in the graph, yields no neighbours.
func (s *Service) neighbors(ctx context.Context, target string, directed bool) []string {
	nodes, err := s.graph.OutgoingNeighbors(ctx, target)
	if err == nil && !directed {
		var incoming []*graph.TwinNode
		incoming, err = s.graph.IncomingNeighbors(ctx, target)
		nodes = append(nodes, incoming...)
	}
	if err != nil {
		s.log.WarnContext(ctx, "neighbour lookup failed", "dtmi", target, "error", err)
		recordNeighborFailure(ctx)
		return nil
	}

	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.DTMI)
	}
	return out
}

// resolver maps dt_keys to DTMIs for one file. Stitch mappings are loaded
// once, on the first key that needs them.
type resolver struct {
	graph  *graph.Service
	fileID int64
	log    *slog.Logger

	loaded   bool
	mappings []*graph.StitchCandidate
}

// resolve returns the DTMI for key and whether it was referenced directly.
// Accepted mappings take precedence over unreviewed candidates.
func (r *resolver) resolve(ctx context.Context, key string) (string, bool, bool) {
	if dtmi.IsDTMI(key) {
		return key, true, true
	}

	if !r.loaded {
		r.loaded = true
		for _, status := range []graph.StitchStatus{graph.StatusAccepted, graph.StatusCandidate} {
			stitches, err := r.graph.ListStitches(ctx, graph.StitchFilter{FileObjectID: r.fileID, Status: status})
			if err != nil {
				r.log.WarnContext(ctx, "loading stitch mappings failed", "file_object_id", r.fileID, "status", status, "error", err)
				continue
			}
			r.mappings = append(r.mappings, stitches...)
		}
	}

	for _, m := range r.mappings {
		if m.DTKey == key && m.TargetDTMI != nil && *m.TargetDTMI != "" {
			return *m.TargetDTMI, false, true
		}
	}
	return "", false, false
}
