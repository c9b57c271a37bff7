package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/Benny93/twinscope/internal/graph"
)

// Key prefixes for different data types. IDs inside keys are zero padded
// so that lexical order matches numeric order.
const (
	keySequence = "meta:seq" // last assigned ID

	prefixTwin          = "t:"      // twin data
	prefixDTMI          = "d:"      // dtmi -> twin ID
	prefixRel           = "r:"      // relationship data
	prefixOutgoing      = "i:out:"  // source twin -> relationship
	prefixIncoming      = "i:in:"   // target twin -> relationship
	prefixFile          = "f:"      // file data
	prefixFilePath      = "p:"      // path -> file ID
	prefixTwinFile      = "tf:"     // twin -> attached file
	prefixExtracted     = "x:"      // snapshot data
	prefixFileExtracted = "fx:"     // file -> snapshot
	prefixStitch        = "s:"      // stitch data
	prefixFileStitch    = "fs:"     // file -> stitch
)

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is set.
	Path string

	// InMemory keeps everything in memory, for tests.
	InMemory bool

	// ReadOnly opens an existing database without write access.
	ReadOnly bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives Badger's own log output. Nil silences it.
	Logger *slog.Logger
}

// BadgerStore is a BadgerDB-backed graph.Store.
//
// Entities are stored as JSON values under their prefix. Adjacency and
// ownership are kept as index keys whose value is the referenced ID, which
// lets every lookup be a prefix scan.
type BadgerStore struct {
	db *badger.DB

	// mu serializes writers so that ID assignment and uniqueness checks
	// never conflict inside Badger.
	mu sync.Mutex
}

// OpenBadger opens or creates a Badger database.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("badger path is required for a persistent store")
		}
		opts = badger.DefaultOptions(cfg.Path).
			WithNumCompactors(2).
			WithNumMemtables(5).
			WithSyncWrites(cfg.SyncWrites).
			WithReadOnly(cfg.ReadOnly)
	}

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger}).WithLoggingLevel(badger.WARNING)
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger DB: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Close implements graph.Store.
func (b *BadgerStore) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

// Twins

// CreateTwin implements graph.Store.
func (b *BadgerStore) CreateTwin(ctx context.Context, twin *graph.TwinNode) error {
	stored := *twin
	err := b.update(func(txn *badger.Txn) error {
		if _, err := txn.Get(dtmiKey(twin.DTMI)); err == nil {
			return fmt.Errorf("twin %q: %w", twin.DTMI, graph.ErrDuplicateDTMI)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("checking dtmi: %w", err)
		}

		id, err := nextID(txn)
		if err != nil {
			return err
		}
		stored.ID = id
		if err := setJSON(txn, idKey(prefixTwin, id), &stored); err != nil {
			return err
		}
		return txn.Set(dtmiKey(twin.DTMI), idValue(id))
	})
	if err != nil {
		return err
	}
	twin.ID = stored.ID
	return nil
}

// UpdateTwin implements graph.Store.
func (b *BadgerStore) UpdateTwin(ctx context.Context, twin *graph.TwinNode) error {
	return b.update(func(txn *badger.Txn) error {
		old, err := getJSON[graph.TwinNode](txn, idKey(prefixTwin, twin.ID))
		if err != nil {
			return err
		}
		if old == nil {
			return fmt.Errorf("twin %d: %w", twin.ID, graph.ErrNotFound)
		}
		if old.DTMI != twin.DTMI {
			if _, err := txn.Get(dtmiKey(twin.DTMI)); err == nil {
				return fmt.Errorf("twin %q: %w", twin.DTMI, graph.ErrDuplicateDTMI)
			}
			if err := txn.Delete(dtmiKey(old.DTMI)); err != nil {
				return fmt.Errorf("deleting dtmi index: %w", err)
			}
			if err := txn.Set(dtmiKey(twin.DTMI), idValue(twin.ID)); err != nil {
				return fmt.Errorf("setting dtmi index: %w", err)
			}
		}
		return setJSON(txn, idKey(prefixTwin, twin.ID), twin)
	})
}

// DeleteTwin implements graph.Store.
func (b *BadgerStore) DeleteTwin(ctx context.Context, id int64) (bool, error) {
	deleted := false
	err := b.update(func(txn *badger.Txn) error {
		twin, err := getJSON[graph.TwinNode](txn, idKey(prefixTwin, id))
		if err != nil || twin == nil {
			return err
		}

		// Cascade relationships
		var edgeIDs []int64
		for _, prefix := range []string{prefixOutgoing, prefixIncoming} {
			ids, err := scanIDs(txn, ownerPrefix(prefix, id))
			if err != nil {
				return err
			}
			edgeIDs = append(edgeIDs, ids...)
		}
		for _, edgeID := range edgeIDs {
			if err := b.deleteRelationship(txn, edgeID); err != nil {
				return err
			}
		}

		// Detach files
		fileIDs, err := scanIDs(txn, ownerPrefix(prefixTwinFile, id))
		if err != nil {
			return err
		}
		for _, fileID := range fileIDs {
			file, err := getJSON[graph.FileObject](txn, idKey(prefixFile, fileID))
			if err != nil {
				return err
			}
			if file == nil {
				continue
			}
			file.TwinID = nil
			if err := setJSON(txn, idKey(prefixFile, fileID), file); err != nil {
				return err
			}
			if err := txn.Delete(linkKey(prefixTwinFile, id, fileID)); err != nil {
				return fmt.Errorf("deleting file index: %w", err)
			}
		}

		if err := txn.Delete(dtmiKey(twin.DTMI)); err != nil {
			return fmt.Errorf("deleting dtmi index: %w", err)
		}
		if err := txn.Delete(idKey(prefixTwin, id)); err != nil {
			return fmt.Errorf("deleting twin: %w", err)
		}
		deleted = true
		return nil
	})
	return deleted, err
}

// deleteRelationship removes an edge and both adjacency entries.
// Deleting an edge that is already gone is a no-op.
func (b *BadgerStore) deleteRelationship(txn *badger.Txn, edgeID int64) error {
	edge, err := getJSON[graph.RelationshipEdge](txn, idKey(prefixRel, edgeID))
	if err != nil || edge == nil {
		return err
	}
	for _, key := range [][]byte{
		linkKey(prefixOutgoing, edge.SourceID, edgeID),
		linkKey(prefixIncoming, edge.TargetID, edgeID),
		idKey(prefixRel, edgeID),
	} {
		if err := txn.Delete(key); err != nil {
			return fmt.Errorf("deleting relationship: %w", err)
		}
	}
	return nil
}

// GetTwin implements graph.Store.
func (b *BadgerStore) GetTwin(ctx context.Context, id int64) (*graph.TwinNode, error) {
	var twin *graph.TwinNode
	err := b.view(func(txn *badger.Txn) (err error) {
		twin, err = getJSON[graph.TwinNode](txn, idKey(prefixTwin, id))
		return err
	})
	return twin, err
}

// GetTwinByDTMI implements graph.Store.
func (b *BadgerStore) GetTwinByDTMI(ctx context.Context, dtmi string) (*graph.TwinNode, error) {
	var twin *graph.TwinNode
	err := b.view(func(txn *badger.Txn) error {
		id, ok, err := getID(txn, dtmiKey(dtmi))
		if err != nil || !ok {
			return err
		}
		twin, err = getJSON[graph.TwinNode](txn, idKey(prefixTwin, id))
		return err
	})
	return twin, err
}

// ListTwins implements graph.Store.
func (b *BadgerStore) ListTwins(ctx context.Context) ([]*graph.TwinNode, error) {
	var twins []*graph.TwinNode
	err := b.view(func(txn *badger.Txn) (err error) {
		twins, err = scanJSON[graph.TwinNode](txn, prefixTwin)
		return err
	})
	return twins, err
}

// Relationships

// CreateRelationship implements graph.Store.
func (b *BadgerStore) CreateRelationship(ctx context.Context, edge *graph.RelationshipEdge) error {
	stored := *edge
	err := b.update(func(txn *badger.Txn) error {
		for _, id := range []int64{edge.SourceID, edge.TargetID} {
			if _, err := txn.Get(idKey(prefixTwin, id)); errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("twin %d: %w", id, graph.ErrNotFound)
			} else if err != nil {
				return fmt.Errorf("checking twin: %w", err)
			}
		}

		id, err := nextID(txn)
		if err != nil {
			return err
		}
		stored.ID = id
		if err := setJSON(txn, idKey(prefixRel, id), &stored); err != nil {
			return err
		}
		return indexRelationship(txn, &stored)
	})
	if err != nil {
		return err
	}
	edge.ID = stored.ID
	return nil
}

// indexRelationship creates adjacency list indexes for a relationship.
func indexRelationship(txn *badger.Txn, edge *graph.RelationshipEdge) error {
	if err := txn.Set(linkKey(prefixOutgoing, edge.SourceID, edge.ID), idValue(edge.ID)); err != nil {
		return fmt.Errorf("setting outgoing index: %w", err)
	}
	if err := txn.Set(linkKey(prefixIncoming, edge.TargetID, edge.ID), idValue(edge.ID)); err != nil {
		return fmt.Errorf("setting incoming index: %w", err)
	}
	return nil
}

// UpdateRelationship implements graph.Store. Endpoints are immutable.
func (b *BadgerStore) UpdateRelationship(ctx context.Context, edge *graph.RelationshipEdge) error {
	return b.update(func(txn *badger.Txn) error {
		old, err := getJSON[graph.RelationshipEdge](txn, idKey(prefixRel, edge.ID))
		if err != nil {
			return err
		}
		if old == nil {
			return fmt.Errorf("relationship %d: %w", edge.ID, graph.ErrNotFound)
		}
		stored := *edge
		stored.SourceID, stored.TargetID = old.SourceID, old.TargetID
		return setJSON(txn, idKey(prefixRel, edge.ID), &stored)
	})
}

// GetRelationship implements graph.Store.
func (b *BadgerStore) GetRelationship(ctx context.Context, id int64) (*graph.RelationshipEdge, error) {
	var edge *graph.RelationshipEdge
	err := b.view(func(txn *badger.Txn) (err error) {
		edge, err = getJSON[graph.RelationshipEdge](txn, idKey(prefixRel, id))
		return err
	})
	return edge, err
}

// ListRelationships implements graph.Store.
func (b *BadgerStore) ListRelationships(ctx context.Context) ([]*graph.RelationshipEdge, error) {
	var edges []*graph.RelationshipEdge
	err := b.view(func(txn *badger.Txn) (err error) {
		edges, err = scanJSON[graph.RelationshipEdge](txn, prefixRel)
		return err
	})
	return edges, err
}

// OutgoingRelationships implements graph.Store.
func (b *BadgerStore) OutgoingRelationships(ctx context.Context, twinID int64) ([]*graph.RelationshipEdge, error) {
	return b.adjacent(prefixOutgoing, twinID)
}

// IncomingRelationships implements graph.Store.
func (b *BadgerStore) IncomingRelationships(ctx context.Context, twinID int64) ([]*graph.RelationshipEdge, error) {
	return b.adjacent(prefixIncoming, twinID)
}

func (b *BadgerStore) adjacent(prefix string, twinID int64) ([]*graph.RelationshipEdge, error) {
	var edges []*graph.RelationshipEdge
	err := b.view(func(txn *badger.Txn) (err error) {
		edges, err = loadIndexed[graph.RelationshipEdge](txn, ownerPrefix(prefix, twinID), prefixRel)
		return err
	})
	return edges, err
}

// Files

// CreateFile implements graph.Store.
func (b *BadgerStore) CreateFile(ctx context.Context, file *graph.FileObject) error {
	stored := *file
	err := b.update(func(txn *badger.Txn) error {
		if err := checkTwinRef(txn, file.TwinID); err != nil {
			return err
		}
		id, err := nextID(txn)
		if err != nil {
			return err
		}
		stored.ID = id
		if err := setJSON(txn, idKey(prefixFile, id), &stored); err != nil {
			return err
		}
		if err := txn.Set(pathKey(file.Path, id), idValue(id)); err != nil {
			return fmt.Errorf("setting path index: %w", err)
		}
		if file.TwinID != nil {
			return txn.Set(linkKey(prefixTwinFile, *file.TwinID, id), idValue(id))
		}
		return nil
	})
	if err != nil {
		return err
	}
	file.ID = stored.ID
	return nil
}

// UpdateFile implements graph.Store.
func (b *BadgerStore) UpdateFile(ctx context.Context, file *graph.FileObject) error {
	return b.update(func(txn *badger.Txn) error {
		old, err := getJSON[graph.FileObject](txn, idKey(prefixFile, file.ID))
		if err != nil {
			return err
		}
		if old == nil {
			return fmt.Errorf("file %d: %w", file.ID, graph.ErrNotFound)
		}
		if err := checkTwinRef(txn, file.TwinID); err != nil {
			return err
		}

		if old.TwinID != nil {
			if err := txn.Delete(linkKey(prefixTwinFile, *old.TwinID, file.ID)); err != nil {
				return fmt.Errorf("deleting file index: %w", err)
			}
		}
		if file.TwinID != nil {
			if err := txn.Set(linkKey(prefixTwinFile, *file.TwinID, file.ID), idValue(file.ID)); err != nil {
				return fmt.Errorf("setting file index: %w", err)
			}
		}
		if old.Path != file.Path {
			if err := txn.Delete(pathKey(old.Path, file.ID)); err != nil {
				return fmt.Errorf("deleting path index: %w", err)
			}
			if err := txn.Set(pathKey(file.Path, file.ID), idValue(file.ID)); err != nil {
				return fmt.Errorf("setting path index: %w", err)
			}
		}
		return setJSON(txn, idKey(prefixFile, file.ID), file)
	})
}

func checkTwinRef(txn *badger.Txn, id *int64) error {
	if id == nil {
		return nil
	}
	if _, err := txn.Get(idKey(prefixTwin, *id)); errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("twin %d: %w", *id, graph.ErrNotFound)
	} else if err != nil {
		return fmt.Errorf("checking twin: %w", err)
	}
	return nil
}

// GetFile implements graph.Store.
func (b *BadgerStore) GetFile(ctx context.Context, id int64) (*graph.FileObject, error) {
	var file *graph.FileObject
	err := b.view(func(txn *badger.Txn) (err error) {
		file, err = getJSON[graph.FileObject](txn, idKey(prefixFile, id))
		return err
	})
	return file, err
}

// GetFileByPath implements graph.Store. The oldest file with the path wins.
func (b *BadgerStore) GetFileByPath(ctx context.Context, path string) (*graph.FileObject, error) {
	var file *graph.FileObject
	err := b.view(func(txn *badger.Txn) error {
		files, err := loadIndexed[graph.FileObject](txn, prefixFilePath+path+"\x00", prefixFile)
		if err != nil {
			return err
		}
		if len(files) > 0 {
			file = files[0]
		}
		return nil
	})
	return file, err
}

// ListFiles implements graph.Store.
func (b *BadgerStore) ListFiles(ctx context.Context) ([]*graph.FileObject, error) {
	var files []*graph.FileObject
	err := b.view(func(txn *badger.Txn) (err error) {
		files, err = scanJSON[graph.FileObject](txn, prefixFile)
		return err
	})
	return files, err
}

// Snapshots

// CreateExtracted implements graph.Store.
func (b *BadgerStore) CreateExtracted(ctx context.Context, obj *graph.ExtractedObject) error {
	stored := *obj
	err := b.update(func(txn *badger.Txn) error {
		if _, err := txn.Get(idKey(prefixFile, obj.FileObjectID)); errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("file %d: %w", obj.FileObjectID, graph.ErrNotFound)
		} else if err != nil {
			return fmt.Errorf("checking file: %w", err)
		}
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = time.Now().UTC()
		}
		id, err := nextID(txn)
		if err != nil {
			return err
		}
		stored.ID = id
		if err := setJSON(txn, idKey(prefixExtracted, id), &stored); err != nil {
			return err
		}
		return txn.Set(linkKey(prefixFileExtracted, obj.FileObjectID, id), idValue(id))
	})
	if err != nil {
		return err
	}
	obj.ID, obj.CreatedAt = stored.ID, stored.CreatedAt
	return nil
}

// GetExtracted implements graph.Store.
func (b *BadgerStore) GetExtracted(ctx context.Context, id int64) (*graph.ExtractedObject, error) {
	var obj *graph.ExtractedObject
	err := b.view(func(txn *badger.Txn) (err error) {
		obj, err = getJSON[graph.ExtractedObject](txn, idKey(prefixExtracted, id))
		return err
	})
	return obj, err
}

// ListExtracted implements graph.Store.
func (b *BadgerStore) ListExtracted(ctx context.Context, fileID int64, kind string) ([]*graph.ExtractedObject, error) {
	var out []*graph.ExtractedObject
	err := b.view(func(txn *badger.Txn) error {
		all, err := loadIndexed[graph.ExtractedObject](txn, ownerPrefix(prefixFileExtracted, fileID), prefixExtracted)
		if err != nil {
			return err
		}
		for i := len(all) - 1; i >= 0; i-- {
			if kind == "" || all[i].Kind == kind {
				out = append(out, all[i])
			}
		}
		return nil
	})
	return out, err
}

// Stitches

// CreateStitch implements graph.Store.
func (b *BadgerStore) CreateStitch(ctx context.Context, candidate *graph.StitchCandidate) error {
	stored := *candidate
	err := b.update(func(txn *badger.Txn) error {
		obj, err := getJSON[graph.ExtractedObject](txn, idKey(prefixExtracted, candidate.ExtractedObjectID))
		if err != nil {
			return err
		}
		if obj == nil {
			return fmt.Errorf("snapshot %d: %w", candidate.ExtractedObjectID, graph.ErrNotFound)
		}
		if _, err := txn.Get(idKey(prefixFile, candidate.FileObjectID)); errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("file %d: %w", candidate.FileObjectID, graph.ErrNotFound)
		} else if err != nil {
			return fmt.Errorf("checking file: %w", err)
		}

		id, err := nextID(txn)
		if err != nil {
			return err
		}
		stored.ID = id
		if err := setJSON(txn, idKey(prefixStitch, id), &stored); err != nil {
			return err
		}
		return txn.Set(linkKey(prefixFileStitch, candidate.FileObjectID, id), idValue(id))
	})
	if err != nil {
		return err
	}
	candidate.ID = stored.ID
	return nil
}

// UpdateStitch implements graph.Store.
func (b *BadgerStore) UpdateStitch(ctx context.Context, candidate *graph.StitchCandidate) error {
	return b.update(func(txn *badger.Txn) error {
		old, err := getJSON[graph.StitchCandidate](txn, idKey(prefixStitch, candidate.ID))
		if err != nil {
			return err
		}
		if old == nil {
			return fmt.Errorf("stitch %d: %w", candidate.ID, graph.ErrNotFound)
		}
		stored := *candidate
		stored.FileObjectID, stored.ExtractedObjectID = old.FileObjectID, old.ExtractedObjectID
		return setJSON(txn, idKey(prefixStitch, candidate.ID), &stored)
	})
}

// GetStitch implements graph.Store.
func (b *BadgerStore) GetStitch(ctx context.Context, id int64) (*graph.StitchCandidate, error) {
	var candidate *graph.StitchCandidate
	err := b.view(func(txn *badger.Txn) (err error) {
		candidate, err = getJSON[graph.StitchCandidate](txn, idKey(prefixStitch, id))
		return err
	})
	return candidate, err
}

// ListStitches implements graph.Store.
func (b *BadgerStore) ListStitches(ctx context.Context, filter graph.StitchFilter) ([]*graph.StitchCandidate, error) {
	var out []*graph.StitchCandidate
	err := b.view(func(txn *badger.Txn) error {
		var all []*graph.StitchCandidate
		var err error
		if filter.FileObjectID != 0 {
			all, err = loadIndexed[graph.StitchCandidate](txn, ownerPrefix(prefixFileStitch, filter.FileObjectID), prefixStitch)
		} else {
			all, err = scanJSON[graph.StitchCandidate](txn, prefixStitch)
		}
		if err != nil {
			return err
		}
		for _, candidate := range all {
			if filter.Matches(candidate) {
				out = append(out, candidate)
			}
		}
		return nil
	})
	return out, err
}

// DeleteStitchesForFile implements graph.Store.
func (b *BadgerStore) DeleteStitchesForFile(ctx context.Context, fileID int64) (int, error) {
	count := 0
	err := b.update(func(txn *badger.Txn) error {
		ids, err := scanIDs(txn, ownerPrefix(prefixFileStitch, fileID))
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := txn.Delete(idKey(prefixStitch, id)); err != nil {
				return fmt.Errorf("deleting stitch: %w", err)
			}
			if err := txn.Delete(linkKey(prefixFileStitch, fileID, id)); err != nil {
				return fmt.Errorf("deleting stitch index: %w", err)
			}
			count++
		}
		return nil
	})
	return count, err
}

// Transactions

func (b *BadgerStore) update(fn func(txn *badger.Txn) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db == nil {
		return errors.New("badger store is closed")
	}
	txn := b.db.NewTransaction(true)
	defer txn.Discard()

	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}

func (b *BadgerStore) view(fn func(txn *badger.Txn) error) error {
	if b.db == nil {
		return errors.New("badger store is closed")
	}
	txn := b.db.NewTransaction(false)
	defer txn.Discard()
	return fn(txn)
}

// Keys and values

func idKey(prefix string, id int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefix, id))
}

func linkKey(prefix string, owner, id int64) []byte {
	return []byte(fmt.Sprintf("%s%020d:%020d", prefix, owner, id))
}

func ownerPrefix(prefix string, owner int64) string {
	return fmt.Sprintf("%s%020d:", prefix, owner)
}

func dtmiKey(dtmi string) []byte {
	return []byte(prefixDTMI + dtmi)
}

// pathKey separates the path from the ID with a NUL byte so that one path
// is never a prefix match for another.
func pathKey(path string, id int64) []byte {
	return []byte(fmt.Sprintf("%s%s\x00%020d", prefixFilePath, path, id))
}

func idValue(id int64) []byte {
	return []byte(strconv.FormatInt(id, 10))
}

func nextID(txn *badger.Txn) (int64, error) {
	last, _, err := getID(txn, []byte(keySequence))
	if err != nil {
		return 0, err
	}
	next := last + 1
	if err := txn.Set([]byte(keySequence), idValue(next)); err != nil {
		return 0, fmt.Errorf("setting sequence: %w", err)
	}
	return next, nil
}

func getID(txn *badger.Txn, key []byte) (int64, bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("getting %s: %w", key, err)
	}
	var id int64
	if err := item.Value(func(val []byte) error {
		id, err = strconv.ParseInt(string(val), 10, 64)
		return err
	}); err != nil {
		return 0, false, fmt.Errorf("reading %s: %w", key, err)
	}
	return id, true, nil
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %T: %w", v, err)
	}
	if err := txn.Set(key, data); err != nil {
		return fmt.Errorf("setting %T: %w", v, err)
	}
	return nil
}

func getJSON[T any](txn *badger.Txn, key []byte) (*T, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting %s: %w", key, err)
	}
	var v T
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &v)
	}); err != nil {
		return nil, fmt.Errorf("unmarshaling %T: %w", v, err)
	}
	return &v, nil
}

// scanJSON decodes every value under prefix in key order.
func scanJSON[T any](txn *badger.Txn, prefix string) ([]*T, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	var out []*T
	for it.Rewind(); it.Valid(); it.Next() {
		var v T
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &v)
		}); err != nil {
			return nil, fmt.Errorf("unmarshaling %T: %w", v, err)
		}
		out = append(out, &v)
	}
	return out, nil
}

// scanIDs returns the IDs stored as values of the index keys under prefix.
func scanIDs(txn *badger.Txn, prefix string) ([]int64, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var ids []int64
	for it.Rewind(); it.Valid(); it.Next() {
		var id int64
		if err := it.Item().Value(func(val []byte) (err error) {
			id, err = strconv.ParseInt(string(val), 10, 64)
			return err
		}); err != nil {
			return nil, fmt.Errorf("reading index %s: %w", it.Item().Key(), err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// loadIndexed resolves the index entries under indexPrefix to entities
// stored under dataPrefix. Dangling entries are skipped.
func loadIndexed[T any](txn *badger.Txn, indexPrefix, dataPrefix string) ([]*T, error) {
	ids, err := scanIDs(txn, indexPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(ids))
	for _, id := range ids {
		v, err := getJSON[T](txn, idKey(dataPrefix, id))
		if err != nil {
			return nil, err
		}
		if v != nil {
			out = append(out, v)
		}
	}
	return out, nil
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
