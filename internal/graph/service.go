package graph

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

// Service is the single entry point for graph mutations and queries.
// Higher level services read and write the store only through it.
type Service struct {
	store Store
	log   *slog.Logger
}

// NewService creates a graph service over store. A nil logger discards output.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{store: store, log: logger}
}

// Logger returns the logger the service was built with.
func (s *Service) Logger() *slog.Logger {
	return s.log
}

// Twin operations

// CreateTwin adds a twin. Uniqueness of dtmi is enforced by the store,
// which reports ErrDuplicateDTMI.
func (s *Service) CreateTwin(ctx context.Context, dtmi string, fields TwinFields) (*TwinNode, error) {
	twin := &TwinNode{
		DTMI:         dtmi,
		DisplayName:  fields.DisplayName,
		ModelVersion: fields.ModelVersion,
	}
	if err := s.store.CreateTwin(ctx, twin); err != nil {
		return nil, fmt.Errorf("creating twin %q: %w", dtmi, err)
	}
	s.log.DebugContext(ctx, "twin created", "dtmi", dtmi, "id", twin.ID)
	return twin, nil
}

// UpdateTwin changes only the fields that are set.
func (s *Service) UpdateTwin(ctx context.Context, dtmi string, fields TwinFields) (*TwinNode, error) {
	twin, err := s.requireTwin(ctx, dtmi)
	if err != nil {
		return nil, err
	}
	if fields.DisplayName != nil {
		twin.DisplayName = fields.DisplayName
	}
	if fields.ModelVersion != nil {
		twin.ModelVersion = fields.ModelVersion
	}
	if err := s.store.UpdateTwin(ctx, twin); err != nil {
		return nil, fmt.Errorf("updating twin %q: %w", dtmi, err)
	}
	return twin, nil
}

// DeleteTwin removes a twin along with its edges and file attachments.
// Returns false when no twin has that dtmi.
func (s *Service) DeleteTwin(ctx context.Context, dtmi string) (bool, error) {
	twin, err := s.store.GetTwinByDTMI(ctx, dtmi)
	if err != nil {
		return false, fmt.Errorf("looking up twin %q: %w", dtmi, err)
	}
	if twin == nil {
		return false, nil
	}
	deleted, err := s.store.DeleteTwin(ctx, twin.ID)
	if err != nil {
		return false, fmt.Errorf("deleting twin %q: %w", dtmi, err)
	}
	if deleted {
		s.log.DebugContext(ctx, "twin deleted", "dtmi", dtmi)
	}
	return deleted, nil
}

// GetTwin returns the twin with dtmi, or nil when unknown.
func (s *Service) GetTwin(ctx context.Context, dtmi string) (*TwinNode, error) {
	twin, err := s.store.GetTwinByDTMI(ctx, dtmi)
	if err != nil {
		return nil, fmt.Errorf("looking up twin %q: %w", dtmi, err)
	}
	return twin, nil
}

// ListTwins returns every twin ordered by ID.
func (s *Service) ListTwins(ctx context.Context) ([]*TwinNode, error) {
	return s.store.ListTwins(ctx)
}

// Relationship operations

// CreateRelationship adds a directed edge. Both endpoints are resolved
// before anything is written, so a missing endpoint leaves no edge behind.
func (s *Service) CreateRelationship(ctx context.Context, sourceDTMI, targetDTMI string, name *string) (*RelationshipEdge, error) {
	source, err := s.requireTwin(ctx, sourceDTMI)
	if err != nil {
		return nil, err
	}
	target, err := s.requireTwin(ctx, targetDTMI)
	if err != nil {
		return nil, err
	}

	edge := &RelationshipEdge{Name: name, SourceID: source.ID, TargetID: target.ID}
	if err := s.store.CreateRelationship(ctx, edge); err != nil {
		return nil, fmt.Errorf("creating relationship %s -> %s: %w", sourceDTMI, targetDTMI, err)
	}
	return edge, nil
}

// RenameRelationship replaces the name of an edge. A nil name clears it.
func (s *Service) RenameRelationship(ctx context.Context, edgeID int64, name *string) (*RelationshipEdge, error) {
	edge, err := s.requireEdge(ctx, edgeID)
	if err != nil {
		return nil, err
	}
	edge.Name = name
	if err := s.store.UpdateRelationship(ctx, edge); err != nil {
		return nil, fmt.Errorf("renaming relationship %d: %w", edgeID, err)
	}
	return edge, nil
}

// GetRelationship returns the edge with edgeID, or nil when unknown.
func (s *Service) GetRelationship(ctx context.Context, edgeID int64) (*RelationshipEdge, error) {
	return s.store.GetRelationship(ctx, edgeID)
}

// ListRelationships returns every edge.
func (s *Service) ListRelationships(ctx context.Context) ([]*RelationshipEdge, error) {
	return s.store.ListRelationships(ctx)
}

// OutgoingNeighbors returns the targets of the twin's outgoing edges, one
// entry per edge.
func (s *Service) OutgoingNeighbors(ctx context.Context, dtmi string) ([]*TwinNode, error) {
	twin, err := s.requireTwin(ctx, dtmi)
	if err != nil {
		return nil, err
	}
	edges, err := s.store.OutgoingRelationships(ctx, twin.ID)
	if err != nil {
		return nil, fmt.Errorf("outgoing relationships of %q: %w", dtmi, err)
	}
	return s.endpoints(ctx, edges, func(e *RelationshipEdge) int64 { return e.TargetID })
}

// IncomingNeighbors returns the sources of the twin's incoming edges, one
// entry per edge.
func (s *Service) IncomingNeighbors(ctx context.Context, dtmi string) ([]*TwinNode, error) {
	twin, err := s.requireTwin(ctx, dtmi)
	if err != nil {
		return nil, err
	}
	edges, err := s.store.IncomingRelationships(ctx, twin.ID)
	if err != nil {
		return nil, fmt.Errorf("incoming relationships of %q: %w", dtmi, err)
	}
	return s.endpoints(ctx, edges, func(e *RelationshipEdge) int64 { return e.SourceID })
}

func (s *Service) endpoints(ctx context.Context, edges []*RelationshipEdge, pick func(*RelationshipEdge) int64) ([]*TwinNode, error) {
	nodes := make([]*TwinNode, 0, len(edges))
	for _, edge := range edges {
		node, err := s.store.GetTwin(ctx, pick(edge))
		if err != nil {
			return nil, fmt.Errorf("loading twin %d: %w", pick(edge), err)
		}
		if node != nil {
			nodes = append(nodes, node)
		}
	}
	return nodes, nil
}

// Validation payloads

// SetNodeValidation stores payload on the twin. A nil or empty payload
// clears it.
func (s *Service) SetNodeValidation(ctx context.Context, dtmi string, payload Validation) (*TwinNode, error) {
	twin, err := s.requireTwin(ctx, dtmi)
	if err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		payload = nil
	}
	twin.Validation = payload
	if err := s.store.UpdateTwin(ctx, twin); err != nil {
		return nil, fmt.Errorf("setting validation of %q: %w", dtmi, err)
	}
	return twin, nil
}

// NodeValidation returns the payload stored on the twin.
func (s *Service) NodeValidation(ctx context.Context, dtmi string) (Validation, error) {
	twin, err := s.requireTwin(ctx, dtmi)
	if err != nil {
		return nil, err
	}
	return twin.Validation, nil
}

// SetEdgeValidation stores payload on the edge. A nil or empty payload
// clears it.
func (s *Service) SetEdgeValidation(ctx context.Context, edgeID int64, payload Validation) (*RelationshipEdge, error) {
	edge, err := s.requireEdge(ctx, edgeID)
	if err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		payload = nil
	}
	edge.Validation = payload
	if err := s.store.UpdateRelationship(ctx, edge); err != nil {
		return nil, fmt.Errorf("setting validation of relationship %d: %w", edgeID, err)
	}
	return edge, nil
}

// EdgeValidation returns the payload stored on the edge.
func (s *Service) EdgeValidation(ctx context.Context, edgeID int64) (Validation, error) {
	edge, err := s.requireEdge(ctx, edgeID)
	if err != nil {
		return nil, err
	}
	return edge.Validation, nil
}

// File attachment

// AddFileObject registers an artifact, optionally attached to a twin.
func (s *Service) AddFileObject(ctx context.Context, fields FileFields, twinDTMI *string) (*FileObject, error) {
	file := &FileObject{
		Path:      fields.Path,
		MediaType: fields.MediaType,
		Version:   fields.Version,
	}
	if twinDTMI != nil {
		twin, err := s.requireTwin(ctx, *twinDTMI)
		if err != nil {
			return nil, err
		}
		file.TwinID = &twin.ID
	}
	if err := s.store.CreateFile(ctx, file); err != nil {
		return nil, fmt.Errorf("adding file %q: %w", fields.Path, err)
	}
	return file, nil
}

// ListFileObjects returns every registered file.
func (s *Service) ListFileObjects(ctx context.Context) ([]*FileObject, error) {
	return s.store.ListFiles(ctx)
}

// GetFileObject returns the file with id, or nil when unknown.
func (s *Service) GetFileObject(ctx context.Context, id int64) (*FileObject, error) {
	return s.store.GetFile(ctx, id)
}

// FileObjectByPath returns the file registered at path, or nil.
func (s *Service) FileObjectByPath(ctx context.Context, path string) (*FileObject, error) {
	return s.store.GetFileByPath(ctx, path)
}

// AttachFile points the file at the twin with dtmi.
func (s *Service) AttachFile(ctx context.Context, fileID int64, dtmi string) (*FileObject, error) {
	file, err := s.requireFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	twin, err := s.requireTwin(ctx, dtmi)
	if err != nil {
		return nil, err
	}
	file.TwinID = &twin.ID
	if err := s.store.UpdateFile(ctx, file); err != nil {
		return nil, fmt.Errorf("attaching file %d: %w", fileID, err)
	}
	return file, nil
}

// DetachFile clears the file's twin reference. The file record stays.
func (s *Service) DetachFile(ctx context.Context, fileID int64) (*FileObject, error) {
	file, err := s.requireFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	file.TwinID = nil
	if err := s.store.UpdateFile(ctx, file); err != nil {
		return nil, fmt.Errorf("detaching file %d: %w", fileID, err)
	}
	return file, nil
}

// Snapshots

// AddExtractedObject appends a snapshot to the file's history.
func (s *Service) AddExtractedObject(ctx context.Context, fileID int64, kind string, data Payload) (*ExtractedObject, error) {
	if _, err := s.requireFile(ctx, fileID); err != nil {
		return nil, err
	}
	obj := &ExtractedObject{FileObjectID: fileID, Kind: kind, Data: data}
	if err := s.store.CreateExtracted(ctx, obj); err != nil {
		return nil, fmt.Errorf("adding snapshot for file %d: %w", fileID, err)
	}
	return obj, nil
}

// ExtractedObject returns the snapshot with id, or nil when unknown.
func (s *Service) ExtractedObject(ctx context.Context, id int64) (*ExtractedObject, error) {
	return s.store.GetExtracted(ctx, id)
}

// ExtractionHistory returns the file's snapshots newest first, optionally
// limited to one kind.
func (s *Service) ExtractionHistory(ctx context.Context, fileID int64, kind string) ([]*ExtractedObject, error) {
	return s.store.ListExtracted(ctx, fileID, kind)
}

// Stitches

// AddStitchCandidate persists a candidate. An empty status defaults to
// StatusCandidate.
func (s *Service) AddStitchCandidate(ctx context.Context, candidate *StitchCandidate) error {
	if candidate.Status == "" {
		candidate.Status = StatusCandidate
	}
	if !candidate.Status.Valid() {
		return fmt.Errorf("stitch status %q: %w", candidate.Status, ErrInvalidArgument)
	}
	if err := s.store.CreateStitch(ctx, candidate); err != nil {
		return fmt.Errorf("adding stitch for %q: %w", candidate.DTKey, err)
	}
	return nil
}

// ListStitches returns the candidates passing filter ordered by ID.
func (s *Service) ListStitches(ctx context.Context, filter StitchFilter) ([]*StitchCandidate, error) {
	return s.store.ListStitches(ctx, filter)
}

// UpdateStitch applies reviewer edits to a candidate.
func (s *Service) UpdateStitch(ctx context.Context, id int64, update StitchUpdate) (*StitchCandidate, error) {
	candidate, err := s.store.GetStitch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("looking up stitch %d: %w", id, err)
	}
	if candidate == nil {
		return nil, fmt.Errorf("stitch %d: %w", id, ErrNotFound)
	}
	if update.Status != nil {
		if !update.Status.Valid() {
			return nil, fmt.Errorf("stitch status %q: %w", *update.Status, ErrInvalidArgument)
		}
		candidate.Status = *update.Status
	}
	if update.TargetDTMI != nil {
		candidate.TargetDTMI = update.TargetDTMI
	}
	if update.Confidence != nil {
		candidate.Confidence = *update.Confidence
	}
	if update.Rationale != nil {
		candidate.Rationale = *update.Rationale
	}
	if err := s.store.UpdateStitch(ctx, candidate); err != nil {
		return nil, fmt.Errorf("updating stitch %d: %w", id, err)
	}
	return candidate, nil
}

// DeleteStitchesForFile drops every candidate of the file.
func (s *Service) DeleteStitchesForFile(ctx context.Context, fileID int64) (int, error) {
	return s.store.DeleteStitchesForFile(ctx, fileID)
}

func (s *Service) requireTwin(ctx context.Context, dtmi string) (*TwinNode, error) {
	twin, err := s.store.GetTwinByDTMI(ctx, dtmi)
	if err != nil {
		return nil, fmt.Errorf("looking up twin %q: %w", dtmi, err)
	}
	if twin == nil {
		return nil, fmt.Errorf("twin %q: %w", dtmi, ErrNotFound)
	}
	return twin, nil
}

func (s *Service) requireEdge(ctx context.Context, id int64) (*RelationshipEdge, error) {
	edge, err := s.store.GetRelationship(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("looking up relationship %d: %w", id, err)
	}
	if edge == nil {
		return nil, fmt.Errorf("relationship %d: %w", id, ErrNotFound)
	}
	return edge, nil
}

func (s *Service) requireFile(ctx context.Context, id int64) (*FileObject, error) {
	file, err := s.store.GetFile(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("looking up file %d: %w", id, err)
	}
	if file == nil {
		return nil, fmt.Errorf("file %d: %w", id, ErrNotFound)
	}
	return file, nil
}
