package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/Benny93/twinscope/internal/graph"
)

// sqliteSchema creates the tables on first open. Foreign keys carry the
// cascade rules: edges go with either endpoint, files only lose their twin
// reference, and snapshots and stitches go with their file.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS twins (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	dtmi          TEXT NOT NULL UNIQUE,
	display_name  TEXT,
	model_version TEXT,
	validation    TEXT
);

CREATE TABLE IF NOT EXISTS relationships (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT,
	source_id  INTEGER NOT NULL REFERENCES twins(id) ON DELETE CASCADE,
	target_id  INTEGER NOT NULL REFERENCES twins(id) ON DELETE CASCADE,
	validation TEXT
);
CREATE INDEX IF NOT EXISTS idx_relationships_source ON relationships(source_id);
CREATE INDEX IF NOT EXISTS idx_relationships_target ON relationships(target_id);

CREATE TABLE IF NOT EXISTS file_objects (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	path       TEXT NOT NULL,
	media_type TEXT,
	version    TEXT,
	twin_id    INTEGER REFERENCES twins(id) ON DELETE SET NULL
);
CREATE INDEX IF NOT EXISTS idx_file_objects_path ON file_objects(path);

CREATE TABLE IF NOT EXISTS extracted_objects (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	file_object_id INTEGER NOT NULL REFERENCES file_objects(id) ON DELETE CASCADE,
	kind           TEXT NOT NULL,
	data           TEXT NOT NULL,
	created_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_extracted_objects_file ON extracted_objects(file_object_id);

CREATE TABLE IF NOT EXISTS stitch_candidates (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	file_object_id      INTEGER NOT NULL REFERENCES file_objects(id) ON DELETE CASCADE,
	extracted_object_id INTEGER NOT NULL REFERENCES extracted_objects(id) ON DELETE CASCADE,
	dt_key              TEXT NOT NULL,
	target_dtmi         TEXT,
	confidence          REAL NOT NULL,
	rationale           TEXT NOT NULL DEFAULT '',
	status              TEXT NOT NULL DEFAULT 'candidate'
);
CREATE INDEX IF NOT EXISTS idx_stitch_candidates_file ON stitch_candidates(file_object_id);
`

// SQLiteStore is a SQLite-backed graph.Store.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close implements graph.Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Twins

const twinColumns = `id, dtmi, display_name, model_version, validation`

// CreateTwin implements graph.Store.
func (s *SQLiteStore) CreateTwin(ctx context.Context, twin *graph.TwinNode) error {
	validation, err := encodeJSON(twin.Validation)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO twins (dtmi, display_name, model_version, validation) VALUES (?, ?, ?, ?)`,
		twin.DTMI, twin.DisplayName, twin.ModelVersion, validation,
	)
	if err != nil {
		return translateSQLiteError(fmt.Sprintf("twin %q", twin.DTMI), err)
	}
	twin.ID, err = res.LastInsertId()
	return err
}

// UpdateTwin implements graph.Store.
func (s *SQLiteStore) UpdateTwin(ctx context.Context, twin *graph.TwinNode) error {
	validation, err := encodeJSON(twin.Validation)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE twins SET dtmi = ?, display_name = ?, model_version = ?, validation = ? WHERE id = ?`,
		twin.DTMI, twin.DisplayName, twin.ModelVersion, validation, twin.ID,
	)
	if err != nil {
		return translateSQLiteError(fmt.Sprintf("twin %q", twin.DTMI), err)
	}
	return requireAffected(res, fmt.Sprintf("twin %d", twin.ID))
}

// DeleteTwin implements graph.Store. Edge removal and file detachment are
// carried out by the foreign key actions.
func (s *SQLiteStore) DeleteTwin(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM twins WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete twin: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetTwin implements graph.Store.
func (s *SQLiteStore) GetTwin(ctx context.Context, id int64) (*graph.TwinNode, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+twinColumns+` FROM twins WHERE id = ?`, id)
	return scanTwin(row)
}

// GetTwinByDTMI implements graph.Store.
func (s *SQLiteStore) GetTwinByDTMI(ctx context.Context, dtmi string) (*graph.TwinNode, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+twinColumns+` FROM twins WHERE dtmi = ?`, dtmi)
	return scanTwin(row)
}

// ListTwins implements graph.Store.
func (s *SQLiteStore) ListTwins(ctx context.Context) ([]*graph.TwinNode, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+twinColumns+` FROM twins ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list twins: %w", err)
	}
	return collect(rows, scanTwin)
}

func scanTwin(row scanner) (*graph.TwinNode, error) {
	var twin graph.TwinNode
	var displayName, modelVersion, validation sql.NullString
	err := row.Scan(&twin.ID, &twin.DTMI, &displayName, &modelVersion, &validation)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan twin: %w", err)
	}
	twin.DisplayName = nullString(displayName)
	twin.ModelVersion = nullString(modelVersion)
	if twin.Validation, err = decodeValidation(validation); err != nil {
		return nil, err
	}
	return &twin, nil
}

// Relationships

const relationshipColumns = `id, name, source_id, target_id, validation`

// CreateRelationship implements graph.Store.
func (s *SQLiteStore) CreateRelationship(ctx context.Context, edge *graph.RelationshipEdge) error {
	validation, err := encodeJSON(edge.Validation)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO relationships (name, source_id, target_id, validation) VALUES (?, ?, ?, ?)`,
		edge.Name, edge.SourceID, edge.TargetID, validation,
	)
	if err != nil {
		return translateSQLiteError(fmt.Sprintf("relationship %d -> %d", edge.SourceID, edge.TargetID), err)
	}
	edge.ID, err = res.LastInsertId()
	return err
}

// UpdateRelationship implements graph.Store. Endpoints are immutable.
func (s *SQLiteStore) UpdateRelationship(ctx context.Context, edge *graph.RelationshipEdge) error {
	validation, err := encodeJSON(edge.Validation)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE relationships SET name = ?, validation = ? WHERE id = ?`,
		edge.Name, validation, edge.ID,
	)
	if err != nil {
		return fmt.Errorf("update relationship: %w", err)
	}
	return requireAffected(res, fmt.Sprintf("relationship %d", edge.ID))
}

// GetRelationship implements graph.Store.
func (s *SQLiteStore) GetRelationship(ctx context.Context, id int64) (*graph.RelationshipEdge, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+relationshipColumns+` FROM relationships WHERE id = ?`, id)
	return scanRelationship(row)
}

// ListRelationships implements graph.Store.
func (s *SQLiteStore) ListRelationships(ctx context.Context) ([]*graph.RelationshipEdge, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+relationshipColumns+` FROM relationships ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}
	return collect(rows, scanRelationship)
}

// OutgoingRelationships implements graph.Store.
func (s *SQLiteStore) OutgoingRelationships(ctx context.Context, twinID int64) ([]*graph.RelationshipEdge, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+relationshipColumns+` FROM relationships WHERE source_id = ? ORDER BY id`, twinID)
	if err != nil {
		return nil, fmt.Errorf("outgoing relationships: %w", err)
	}
	return collect(rows, scanRelationship)
}

// IncomingRelationships implements graph.Store.
func (s *SQLiteStore) IncomingRelationships(ctx context.Context, twinID int64) ([]*graph.RelationshipEdge, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+relationshipColumns+` FROM relationships WHERE target_id = ? ORDER BY id`, twinID)
	if err != nil {
		return nil, fmt.Errorf("incoming relationships: %w", err)
	}
	return collect(rows, scanRelationship)
}

func scanRelationship(row scanner) (*graph.RelationshipEdge, error) {
	var edge graph.RelationshipEdge
	var name, validation sql.NullString
	err := row.Scan(&edge.ID, &name, &edge.SourceID, &edge.TargetID, &validation)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan relationship: %w", err)
	}
	edge.Name = nullString(name)
	if edge.Validation, err = decodeValidation(validation); err != nil {
		return nil, err
	}
	return &edge, nil
}

// Files

const fileColumns = `id, path, media_type, version, twin_id`

// CreateFile implements graph.Store.
func (s *SQLiteStore) CreateFile(ctx context.Context, file *graph.FileObject) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO file_objects (path, media_type, version, twin_id) VALUES (?, ?, ?, ?)`,
		file.Path, file.MediaType, file.Version, file.TwinID,
	)
	if err != nil {
		return translateSQLiteError(fmt.Sprintf("file %q", file.Path), err)
	}
	file.ID, err = res.LastInsertId()
	return err
}

// UpdateFile implements graph.Store.
func (s *SQLiteStore) UpdateFile(ctx context.Context, file *graph.FileObject) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE file_objects SET path = ?, media_type = ?, version = ?, twin_id = ? WHERE id = ?`,
		file.Path, file.MediaType, file.Version, file.TwinID, file.ID,
	)
	if err != nil {
		return translateSQLiteError(fmt.Sprintf("file %d", file.ID), err)
	}
	return requireAffected(res, fmt.Sprintf("file %d", file.ID))
}

// GetFile implements graph.Store.
func (s *SQLiteStore) GetFile(ctx context.Context, id int64) (*graph.FileObject, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM file_objects WHERE id = ?`, id)
	return scanFile(row)
}

// GetFileByPath implements graph.Store. The oldest file with the path wins.
func (s *SQLiteStore) GetFileByPath(ctx context.Context, path string) (*graph.FileObject, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM file_objects WHERE path = ? ORDER BY id LIMIT 1`, path)
	return scanFile(row)
}

// ListFiles implements graph.Store.
func (s *SQLiteStore) ListFiles(ctx context.Context) ([]*graph.FileObject, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+fileColumns+` FROM file_objects ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	return collect(rows, scanFile)
}

func scanFile(row scanner) (*graph.FileObject, error) {
	var file graph.FileObject
	var mediaType, version sql.NullString
	var twinID sql.NullInt64
	err := row.Scan(&file.ID, &file.Path, &mediaType, &version, &twinID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}
	file.MediaType = nullString(mediaType)
	file.Version = nullString(version)
	if twinID.Valid {
		file.TwinID = &twinID.Int64
	}
	return &file, nil
}

// Snapshots

const extractedColumns = `id, file_object_id, kind, data, created_at`

// CreateExtracted implements graph.Store.
func (s *SQLiteStore) CreateExtracted(ctx context.Context, obj *graph.ExtractedObject) error {
	if obj.CreatedAt.IsZero() {
		obj.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(obj.Data)
	if err != nil {
		return fmt.Errorf("marshaling snapshot data: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO extracted_objects (file_object_id, kind, data, created_at) VALUES (?, ?, ?, ?)`,
		obj.FileObjectID, obj.Kind, string(data), obj.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return translateSQLiteError(fmt.Sprintf("snapshot of file %d", obj.FileObjectID), err)
	}
	obj.ID, err = res.LastInsertId()
	return err
}

// GetExtracted implements graph.Store.
func (s *SQLiteStore) GetExtracted(ctx context.Context, id int64) (*graph.ExtractedObject, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+extractedColumns+` FROM extracted_objects WHERE id = ?`, id)
	return scanExtracted(row)
}

// ListExtracted implements graph.Store.
func (s *SQLiteStore) ListExtracted(ctx context.Context, fileID int64, kind string) ([]*graph.ExtractedObject, error) {
	query := `SELECT ` + extractedColumns + ` FROM extracted_objects WHERE file_object_id = ?`
	args := []any{fileID}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, kind)
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY id DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return collect(rows, scanExtracted)
}

func scanExtracted(row scanner) (*graph.ExtractedObject, error) {
	var obj graph.ExtractedObject
	var data, createdAt string
	err := row.Scan(&obj.ID, &obj.FileObjectID, &obj.Kind, &data, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(data), &obj.Data); err != nil {
		return nil, fmt.Errorf("unmarshaling snapshot data: %w", err)
	}
	if obj.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing snapshot time: %w", err)
	}
	return &obj, nil
}

// Stitches

const stitchColumns = `id, file_object_id, extracted_object_id, dt_key, target_dtmi, confidence, rationale, status`

// CreateStitch implements graph.Store.
func (s *SQLiteStore) CreateStitch(ctx context.Context, candidate *graph.StitchCandidate) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO stitch_candidates (file_object_id, extracted_object_id, dt_key, target_dtmi, confidence, rationale, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		candidate.FileObjectID, candidate.ExtractedObjectID, candidate.DTKey, candidate.TargetDTMI,
		candidate.Confidence, candidate.Rationale, string(candidate.Status),
	)
	if err != nil {
		return translateSQLiteError(fmt.Sprintf("stitch %q", candidate.DTKey), err)
	}
	candidate.ID, err = res.LastInsertId()
	return err
}

// UpdateStitch implements graph.Store.
func (s *SQLiteStore) UpdateStitch(ctx context.Context, candidate *graph.StitchCandidate) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE stitch_candidates SET dt_key = ?, target_dtmi = ?, confidence = ?, rationale = ?, status = ? WHERE id = ?`,
		candidate.DTKey, candidate.TargetDTMI, candidate.Confidence, candidate.Rationale, string(candidate.Status), candidate.ID,
	)
	if err != nil {
		return fmt.Errorf("update stitch: %w", err)
	}
	return requireAffected(res, fmt.Sprintf("stitch %d", candidate.ID))
}

// GetStitch implements graph.Store.
func (s *SQLiteStore) GetStitch(ctx context.Context, id int64) (*graph.StitchCandidate, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+stitchColumns+` FROM stitch_candidates WHERE id = ?`, id)
	return scanStitch(row)
}

// ListStitches implements graph.Store.
func (s *SQLiteStore) ListStitches(ctx context.Context, filter graph.StitchFilter) ([]*graph.StitchCandidate, error) {
	var where []string
	var args []any
	if filter.FileObjectID != 0 {
		where = append(where, "file_object_id = ?")
		args = append(args, filter.FileObjectID)
	}
	if filter.ExtractedObjectID != 0 {
		where = append(where, "extracted_object_id = ?")
		args = append(args, filter.ExtractedObjectID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT ` + stitchColumns + ` FROM stitch_candidates`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list stitches: %w", err)
	}
	return collect(rows, scanStitch)
}

// DeleteStitchesForFile implements graph.Store.
func (s *SQLiteStore) DeleteStitchesForFile(ctx context.Context, fileID int64) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM stitch_candidates WHERE file_object_id = ?`, fileID)
	if err != nil {
		return 0, fmt.Errorf("delete stitches: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func scanStitch(row scanner) (*graph.StitchCandidate, error) {
	var candidate graph.StitchCandidate
	var target sql.NullString
	var status string
	err := row.Scan(&candidate.ID, &candidate.FileObjectID, &candidate.ExtractedObjectID, &candidate.DTKey,
		&target, &candidate.Confidence, &candidate.Rationale, &status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan stitch: %w", err)
	}
	candidate.TargetDTMI = nullString(target)
	candidate.Status = graph.StitchStatus(status)
	return &candidate, nil
}

// Helpers

type scanner interface {
	Scan(dest ...any) error
}

func collect[T any](rows *sql.Rows, scan func(scanner) (*T, error)) ([]*T, error) {
	defer rows.Close()

	var out []*T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// translateSQLiteError maps constraint violations onto the graph sentinels.
func translateSQLiteError(what string, err error) error {
	switch {
	case errors.Is(err, sqlite3.CONSTRAINT_UNIQUE):
		return fmt.Errorf("%s: %w", what, graph.ErrDuplicateDTMI)
	case errors.Is(err, sqlite3.CONSTRAINT_FOREIGNKEY):
		return fmt.Errorf("%s: %w", what, graph.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func requireAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, graph.ErrNotFound)
	}
	return nil
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func encodeJSON(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshaling %T: %w", v, err)
	}
	if string(data) == "null" {
		return sql.NullString{}, nil
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeJSON[T any](v sql.NullString) (*T, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	var out T
	if err := json.Unmarshal([]byte(v.String), &out); err != nil {
		return nil, fmt.Errorf("unmarshaling %T: %w", out, err)
	}
	return &out, nil
}

func decodeValidation(v sql.NullString) (graph.Validation, error) {
	payload, err := decodeJSON[graph.Validation](v)
	if err != nil || payload == nil {
		return nil, err
	}
	return *payload, nil
}
