// Package graph provides the digital-twin graph data model for twinscope.
//
// It defines the twin nodes and relationship edges that make up the graph,
// plus the artifact side of the model: file objects, the snapshots extracted
// from them, and stitch candidates that map artifact-local keys onto twins.
// Every other package in the module shares these types.
package graph

import "time"

// StitchStatus is the review state of a stitch candidate.
type StitchStatus string

const (
	StatusCandidate StitchStatus = "candidate"
	StatusAccepted  StitchStatus = "accepted"
	StatusRejected  StitchStatus = "rejected"
)

// Valid reports whether s is one of the known statuses.
func (s StitchStatus) Valid() bool {
	switch s {
	case StatusCandidate, StatusAccepted, StatusRejected:
		return true
	}
	return false
}

// Snapshot kinds with a dedicated structural comparison.
const (
	KindKiCadECAD   = "kicad_ecad"
	KindFreeCADTree = "freecad_tree"
)

// TwinNode is a vertex in the twin graph.
type TwinNode struct {
	// ID is the store-assigned identity.
	ID int64 `json:"id"`

	// DTMI is the globally unique model identifier. Never re-keyed.
	DTMI string `json:"dtmi"`

	// DisplayName is an optional human label.
	DisplayName *string `json:"display_name,omitempty"`

	// ModelVersion is an optional model version string.
	ModelVersion *string `json:"model_version,omitempty"`

	// Validation is the last validation payload recorded for the twin.
	Validation Validation `json:"validation,omitempty"`
}

// TwinFields carries the optional twin attributes for create and update.
// A nil field means "leave unchanged" on update.
type TwinFields struct {
	DisplayName  *string
	ModelVersion *string
}

// RelationshipEdge is a directed edge between two twins.
// Parallel edges between the same pair are allowed.
type RelationshipEdge struct {
	ID         int64       `json:"id"`
	Name       *string     `json:"name,omitempty"`
	SourceID   int64       `json:"source_id"`
	TargetID   int64       `json:"target_id"`
	Validation Validation `json:"validation,omitempty"`
}

// Validation is the payload produced by the external model validator.
// It is stored verbatim and never interpreted by the graph; the accessors
// below are read-only views for presentation.
type Validation map[string]any

// ValidationIssue is a single validator finding as read by Issues.
type ValidationIssue struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
	ModelID  string `json:"model_id,omitempty"`
	Path     string `json:"path,omitempty"`
	Code     string `json:"code,omitempty"`
}

// IsOK returns the validator's verdict. set is false when the payload
// carries no boolean is_ok field.
func (v Validation) IsOK() (ok, set bool) {
	ok, set = Payload(v).Value("is_ok").(bool)
	return ok, set
}

// Issues returns the findings listed under issues. Entries that are not
// objects are skipped and missing string fields read as empty.
func (v Validation) Issues() []ValidationIssue {
	var out []ValidationIssue
	for _, item := range Payload(v).List("issues") {
		m, ok := AsMap(item)
		if !ok {
			continue
		}
		issue := Payload(m)
		var vi ValidationIssue
		vi.Severity, _ = issue.String("severity")
		vi.Message, _ = issue.String("message")
		vi.ModelID, _ = issue.String("model_id")
		vi.Path, _ = issue.String("path")
		vi.Code, _ = issue.String("code")
		out = append(out, vi)
	}
	return out
}

// FileObject is an external artifact, such as a CAD file, at a path.
type FileObject struct {
	ID        int64   `json:"id"`
	Path      string  `json:"path"`
	MediaType *string `json:"media_type,omitempty"`
	Version   *string `json:"version,omitempty"`

	// TwinID references the attached twin. Nil when detached, or when the
	// twin it pointed at has been deleted.
	TwinID *int64 `json:"twin_id"`
}

// FileFields carries the attributes used to register a file object.
type FileFields struct {
	Path      string
	MediaType *string
	Version   *string
}

// ExtractedObject is an immutable snapshot of data extracted from a file.
// Snapshots of one file are ordered by ID; a higher ID is newer.
type ExtractedObject struct {
	ID           int64     `json:"id"`
	FileObjectID int64     `json:"file_object_id"`
	Kind         string    `json:"kind"`
	Data         Payload   `json:"data"`
	CreatedAt    time.Time `json:"created_at"`
}

// StitchCandidate is a proposed or confirmed mapping from an
// artifact-local key to a twin.
type StitchCandidate struct {
	ID                int64        `json:"id"`
	FileObjectID      int64        `json:"file_object_id"`
	ExtractedObjectID int64        `json:"extracted_object_id"`
	DTKey             string       `json:"dt_key"`
	TargetDTMI        *string      `json:"target_dtmi"`
	Confidence        float64      `json:"confidence"`
	Rationale         string       `json:"rationale"`
	Status            StitchStatus `json:"status"`
}

// StitchFilter narrows a stitch listing. Zero values match everything.
type StitchFilter struct {
	FileObjectID      int64
	ExtractedObjectID int64
	Status            StitchStatus
}

// Matches reports whether c passes the filter.
func (f StitchFilter) Matches(c *StitchCandidate) bool {
	if f.FileObjectID != 0 && c.FileObjectID != f.FileObjectID {
		return false
	}
	if f.ExtractedObjectID != 0 && c.ExtractedObjectID != f.ExtractedObjectID {
		return false
	}
	if f.Status != "" && c.Status != f.Status {
		return false
	}
	return true
}

// StitchUpdate holds the reviewer edits for a stitch candidate.
// Nil fields are left unchanged.
type StitchUpdate struct {
	Status     *StitchStatus
	TargetDTMI *string
	Confidence *float64
	Rationale  *string
}
