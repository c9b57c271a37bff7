package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Benny93/twinscope/internal/graph"
)

// MemoryStore is a map-backed graph.Store.
//
// Adjacency is kept in secondary indexes (twin ID to edge IDs) so neighbour
// lookups scale with the result set. Values are copied on the way in and
// out, so callers can mutate what they receive.
type MemoryStore struct {
	mu sync.RWMutex

	twins     map[int64]*graph.TwinNode
	byDTMI    map[string]int64
	edges     map[int64]*graph.RelationshipEdge
	outgoing  map[int64]map[int64]struct{}
	incoming  map[int64]map[int64]struct{}
	files     map[int64]*graph.FileObject
	extracted map[int64]*graph.ExtractedObject
	stitches  map[int64]*graph.StitchCandidate

	lastID int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		twins:     make(map[int64]*graph.TwinNode),
		byDTMI:    make(map[string]int64),
		edges:     make(map[int64]*graph.RelationshipEdge),
		outgoing:  make(map[int64]map[int64]struct{}),
		incoming:  make(map[int64]map[int64]struct{}),
		files:     make(map[int64]*graph.FileObject),
		extracted: make(map[int64]*graph.ExtractedObject),
		stitches:  make(map[int64]*graph.StitchCandidate),
	}
}

func (m *MemoryStore) nextID() int64 {
	m.lastID++
	return m.lastID
}

// Close implements graph.Store.
func (m *MemoryStore) Close() error {
	return nil
}

// CreateTwin implements graph.Store.
func (m *MemoryStore) CreateTwin(ctx context.Context, twin *graph.TwinNode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byDTMI[twin.DTMI]; ok {
		return fmt.Errorf("twin %q: %w", twin.DTMI, graph.ErrDuplicateDTMI)
	}
	stored, err := clone(twin)
	if err != nil {
		return err
	}
	stored.ID = m.nextID()
	twin.ID = stored.ID
	m.twins[stored.ID] = stored
	m.byDTMI[stored.DTMI] = stored.ID
	return nil
}

// UpdateTwin implements graph.Store.
func (m *MemoryStore) UpdateTwin(ctx context.Context, twin *graph.TwinNode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.twins[twin.ID]
	if !ok {
		return fmt.Errorf("twin %d: %w", twin.ID, graph.ErrNotFound)
	}
	if owner, taken := m.byDTMI[twin.DTMI]; taken && owner != twin.ID {
		return fmt.Errorf("twin %q: %w", twin.DTMI, graph.ErrDuplicateDTMI)
	}
	stored, err := clone(twin)
	if err != nil {
		return err
	}
	delete(m.byDTMI, old.DTMI)
	m.twins[twin.ID] = stored
	m.byDTMI[stored.DTMI] = stored.ID
	return nil
}

// DeleteTwin implements graph.Store.
func (m *MemoryStore) DeleteTwin(ctx context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	twin, ok := m.twins[id]
	if !ok {
		return false, nil
	}
	delete(m.twins, id)
	delete(m.byDTMI, twin.DTMI)
	m.cascadeRelationshipsForTwin(id)

	for _, file := range m.files {
		if file.TwinID != nil && *file.TwinID == id {
			file.TwinID = nil
		}
	}
	return true, nil
}

// cascadeRelationshipsForTwin removes all edges where the twin is source or
// target. Must be called with the write lock held.
func (m *MemoryStore) cascadeRelationshipsForTwin(id int64) {
	for edgeID := range m.outgoing[id] {
		if edge, ok := m.edges[edgeID]; ok {
			delete(m.incoming[edge.TargetID], edgeID)
			delete(m.edges, edgeID)
		}
	}
	delete(m.outgoing, id)

	for edgeID := range m.incoming[id] {
		if edge, ok := m.edges[edgeID]; ok {
			delete(m.outgoing[edge.SourceID], edgeID)
			delete(m.edges, edgeID)
		}
	}
	delete(m.incoming, id)
}

// GetTwin implements graph.Store.
func (m *MemoryStore) GetTwin(ctx context.Context, id int64) (*graph.TwinNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return clone(m.twins[id])
}

// GetTwinByDTMI implements graph.Store.
func (m *MemoryStore) GetTwinByDTMI(ctx context.Context, dtmi string) (*graph.TwinNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byDTMI[dtmi]
	if !ok {
		return nil, nil
	}
	return clone(m.twins[id])
}

// ListTwins implements graph.Store.
func (m *MemoryStore) ListTwins(ctx context.Context) ([]*graph.TwinNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneSorted(m.twins)
}

// CreateRelationship implements graph.Store.
func (m *MemoryStore) CreateRelationship(ctx context.Context, edge *graph.RelationshipEdge) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.twins[edge.SourceID]; !ok {
		return fmt.Errorf("source twin %d: %w", edge.SourceID, graph.ErrNotFound)
	}
	if _, ok := m.twins[edge.TargetID]; !ok {
		return fmt.Errorf("target twin %d: %w", edge.TargetID, graph.ErrNotFound)
	}
	stored, err := clone(edge)
	if err != nil {
		return err
	}
	stored.ID = m.nextID()
	edge.ID = stored.ID
	m.edges[stored.ID] = stored

	if m.outgoing[stored.SourceID] == nil {
		m.outgoing[stored.SourceID] = make(map[int64]struct{})
	}
	m.outgoing[stored.SourceID][stored.ID] = struct{}{}

	if m.incoming[stored.TargetID] == nil {
		m.incoming[stored.TargetID] = make(map[int64]struct{})
	}
	m.incoming[stored.TargetID][stored.ID] = struct{}{}
	return nil
}

// UpdateRelationship implements graph.Store. Endpoints are immutable; only
// the name and validation payload are replaced.
func (m *MemoryStore) UpdateRelationship(ctx context.Context, edge *graph.RelationshipEdge) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.edges[edge.ID]
	if !ok {
		return fmt.Errorf("relationship %d: %w", edge.ID, graph.ErrNotFound)
	}
	stored, err := clone(edge)
	if err != nil {
		return err
	}
	stored.SourceID, stored.TargetID = old.SourceID, old.TargetID
	m.edges[edge.ID] = stored
	return nil
}

// GetRelationship implements graph.Store.
func (m *MemoryStore) GetRelationship(ctx context.Context, id int64) (*graph.RelationshipEdge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return clone(m.edges[id])
}

// ListRelationships implements graph.Store.
func (m *MemoryStore) ListRelationships(ctx context.Context) ([]*graph.RelationshipEdge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneSorted(m.edges)
}

// OutgoingRelationships implements graph.Store.
func (m *MemoryStore) OutgoingRelationships(ctx context.Context, twinID int64) ([]*graph.RelationshipEdge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.edgesByID(m.outgoing[twinID])
}

// IncomingRelationships implements graph.Store.
func (m *MemoryStore) IncomingRelationships(ctx context.Context, twinID int64) ([]*graph.RelationshipEdge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.edgesByID(m.incoming[twinID])
}

func (m *MemoryStore) edgesByID(ids map[int64]struct{}) ([]*graph.RelationshipEdge, error) {
	subset := make(map[int64]*graph.RelationshipEdge, len(ids))
	for id := range ids {
		if edge, ok := m.edges[id]; ok {
			subset[id] = edge
		}
	}
	return cloneSorted(subset)
}

// CreateFile implements graph.Store.
func (m *MemoryStore) CreateFile(ctx context.Context, file *graph.FileObject) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkTwinRef(file.TwinID); err != nil {
		return err
	}
	stored, err := clone(file)
	if err != nil {
		return err
	}
	stored.ID = m.nextID()
	file.ID = stored.ID
	m.files[stored.ID] = stored
	return nil
}

// UpdateFile implements graph.Store.
func (m *MemoryStore) UpdateFile(ctx context.Context, file *graph.FileObject) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.files[file.ID]; !ok {
		return fmt.Errorf("file %d: %w", file.ID, graph.ErrNotFound)
	}
	if err := m.checkTwinRef(file.TwinID); err != nil {
		return err
	}
	stored, err := clone(file)
	if err != nil {
		return err
	}
	m.files[file.ID] = stored
	return nil
}

func (m *MemoryStore) checkTwinRef(id *int64) error {
	if id == nil {
		return nil
	}
	if _, ok := m.twins[*id]; !ok {
		return fmt.Errorf("twin %d: %w", *id, graph.ErrNotFound)
	}
	return nil
}

// GetFile implements graph.Store.
func (m *MemoryStore) GetFile(ctx context.Context, id int64) (*graph.FileObject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return clone(m.files[id])
}

// GetFileByPath implements graph.Store. The oldest file with the path wins.
func (m *MemoryStore) GetFileByPath(ctx context.Context, path string) (*graph.FileObject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *graph.FileObject
	for _, file := range m.files {
		if file.Path == path && (found == nil || file.ID < found.ID) {
			found = file
		}
	}
	return clone(found)
}

// ListFiles implements graph.Store.
func (m *MemoryStore) ListFiles(ctx context.Context) ([]*graph.FileObject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneSorted(m.files)
}

// CreateExtracted implements graph.Store.
func (m *MemoryStore) CreateExtracted(ctx context.Context, obj *graph.ExtractedObject) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.files[obj.FileObjectID]; !ok {
		return fmt.Errorf("file %d: %w", obj.FileObjectID, graph.ErrNotFound)
	}
	if obj.CreatedAt.IsZero() {
		obj.CreatedAt = time.Now().UTC()
	}
	stored, err := clone(obj)
	if err != nil {
		return err
	}
	stored.ID = m.nextID()
	obj.ID = stored.ID
	m.extracted[stored.ID] = stored
	return nil
}

// GetExtracted implements graph.Store.
func (m *MemoryStore) GetExtracted(ctx context.Context, id int64) (*graph.ExtractedObject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return clone(m.extracted[id])
}

// ListExtracted implements graph.Store.
func (m *MemoryStore) ListExtracted(ctx context.Context, fileID int64, kind string) ([]*graph.ExtractedObject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	subset := make(map[int64]*graph.ExtractedObject)
	for id, obj := range m.extracted {
		if obj.FileObjectID == fileID && (kind == "" || obj.Kind == kind) {
			subset[id] = obj
		}
	}
	list, err := cloneSorted(subset)
	if err != nil {
		return nil, err
	}
	reverse(list)
	return list, nil
}

// CreateStitch implements graph.Store.
func (m *MemoryStore) CreateStitch(ctx context.Context, candidate *graph.StitchCandidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.files[candidate.FileObjectID]; !ok {
		return fmt.Errorf("file %d: %w", candidate.FileObjectID, graph.ErrNotFound)
	}
	if _, ok := m.extracted[candidate.ExtractedObjectID]; !ok {
		return fmt.Errorf("snapshot %d: %w", candidate.ExtractedObjectID, graph.ErrNotFound)
	}
	stored, err := clone(candidate)
	if err != nil {
		return err
	}
	stored.ID = m.nextID()
	candidate.ID = stored.ID
	m.stitches[stored.ID] = stored
	return nil
}

// UpdateStitch implements graph.Store.
func (m *MemoryStore) UpdateStitch(ctx context.Context, candidate *graph.StitchCandidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.stitches[candidate.ID]; !ok {
		return fmt.Errorf("stitch %d: %w", candidate.ID, graph.ErrNotFound)
	}
	stored, err := clone(candidate)
	if err != nil {
		return err
	}
	m.stitches[candidate.ID] = stored
	return nil
}

// GetStitch implements graph.Store.
func (m *MemoryStore) GetStitch(ctx context.Context, id int64) (*graph.StitchCandidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return clone(m.stitches[id])
}

// ListStitches implements graph.Store.
func (m *MemoryStore) ListStitches(ctx context.Context, filter graph.StitchFilter) ([]*graph.StitchCandidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	subset := make(map[int64]*graph.StitchCandidate)
	for id, candidate := range m.stitches {
		if filter.Matches(candidate) {
			subset[id] = candidate
		}
	}
	return cloneSorted(subset)
}

// DeleteStitchesForFile implements graph.Store.
func (m *MemoryStore) DeleteStitchesForFile(ctx context.Context, fileID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for id, candidate := range m.stitches {
		if candidate.FileObjectID == fileID {
			delete(m.stitches, id)
			count++
		}
	}
	return count, nil
}

// cloneSorted copies the values of byID ordered by key.
func cloneSorted[T any](byID map[int64]*T) ([]*T, error) {
	ids := make([]int64, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]*T, 0, len(ids))
	for _, id := range ids {
		v, err := clone(byID[id])
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
