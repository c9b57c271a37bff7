package graph

import "context"

// Store is the persistence contract the graph service is built on.
//
// Single-entity getters return (nil, nil) when the entity does not exist.
// Updates of a missing entity fail with ErrNotFound. Every call is applied
// all-or-nothing. Implementations must be safe for concurrent use.
type Store interface {
	// Twin operations

	// CreateTwin inserts twin and assigns its ID. Fails with
	// ErrDuplicateDTMI when the DTMI is taken.
	CreateTwin(ctx context.Context, twin *TwinNode) error

	// UpdateTwin replaces the stored attributes of the twin with twin.ID.
	UpdateTwin(ctx context.Context, twin *TwinNode) error

	// DeleteTwin removes the twin, every edge touching it, and clears the
	// twin reference of attached files. Reports whether a twin was removed.
	DeleteTwin(ctx context.Context, id int64) (bool, error)

	GetTwin(ctx context.Context, id int64) (*TwinNode, error)
	GetTwinByDTMI(ctx context.Context, dtmi string) (*TwinNode, error)

	// ListTwins returns all twins ordered by ID.
	ListTwins(ctx context.Context) ([]*TwinNode, error)

	// Relationship operations

	// CreateRelationship inserts edge and assigns its ID. Fails with
	// ErrNotFound when either endpoint is missing, writing nothing.
	CreateRelationship(ctx context.Context, edge *RelationshipEdge) error
	UpdateRelationship(ctx context.Context, edge *RelationshipEdge) error
	GetRelationship(ctx context.Context, id int64) (*RelationshipEdge, error)
	ListRelationships(ctx context.Context) ([]*RelationshipEdge, error)

	// OutgoingRelationships returns edges whose source is twinID, ordered by edge ID.
	OutgoingRelationships(ctx context.Context, twinID int64) ([]*RelationshipEdge, error)

	// IncomingRelationships returns edges whose target is twinID, ordered by edge ID.
	IncomingRelationships(ctx context.Context, twinID int64) ([]*RelationshipEdge, error)

	// File operations

	CreateFile(ctx context.Context, file *FileObject) error
	UpdateFile(ctx context.Context, file *FileObject) error
	GetFile(ctx context.Context, id int64) (*FileObject, error)
	GetFileByPath(ctx context.Context, path string) (*FileObject, error)
	ListFiles(ctx context.Context) ([]*FileObject, error)

	// Snapshot operations

	// CreateExtracted appends a snapshot, assigning its ID and, when zero,
	// its creation time.
	CreateExtracted(ctx context.Context, obj *ExtractedObject) error
	GetExtracted(ctx context.Context, id int64) (*ExtractedObject, error)

	// ListExtracted returns the snapshots of a file newest first. An empty
	// kind matches every kind.
	ListExtracted(ctx context.Context, fileID int64, kind string) ([]*ExtractedObject, error)

	// Stitch operations

	CreateStitch(ctx context.Context, candidate *StitchCandidate) error
	UpdateStitch(ctx context.Context, candidate *StitchCandidate) error
	GetStitch(ctx context.Context, id int64) (*StitchCandidate, error)

	// ListStitches returns the candidates passing filter ordered by ID.
	ListStitches(ctx context.Context, filter StitchFilter) ([]*StitchCandidate, error)

	// DeleteStitchesForFile removes every candidate of a file and returns
	// how many were removed.
	DeleteStitchesForFile(ctx context.Context, fileID int64) (int, error)

	// Close releases the resources held by the store.
	Close() error
}
