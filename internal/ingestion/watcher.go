package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/google/uuid"
)

// DefaultDebounce is the quiet period before a batch of changes is ingested.
const DefaultDebounce = 500 * time.Millisecond

// Handler is called for every snapshot the watcher records. It runs on the
// watcher goroutine, so the next batch waits for it.
type Handler func(ctx context.Context, batchID string, out *Outcome)

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	// Debounce defaults to DefaultDebounce when zero.
	Debounce time.Duration

	Handler Handler
	Logger  *slog.Logger
}

// Watcher ingests envelopes written to a drop directory.
type Watcher struct {
	pipeline *Pipeline
	dir      string
	debounce time.Duration
	handler  Handler
	log      *slog.Logger

	// hashes holds the content hash of the last envelope ingested per
	// relative path. Rewrites with identical content are skipped.
	hashes    map[string]string
	ready     chan struct{}
	readyOnce sync.Once
}

// NewWatcher creates a watcher for dir feeding p.
func NewWatcher(p *Pipeline, dir string, cfg WatcherConfig) *Watcher {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Watcher{
		pipeline: p,
		dir:      dir,
		debounce: cfg.Debounce,
		handler:  cfg.Handler,
		log:      cfg.Logger,
		hashes:   make(map[string]string),
		ready:    make(chan struct{}),
	}
}

// Ready is closed once the directory watches are in place.
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// Run monitors the drop directory and ingests changed envelopes.
// Blocks until the context is cancelled. A stopped watcher may be run
// again; Ready stays closed and content hashes carry over.
func (w *Watcher) Run(ctx context.Context) error {
	patterns, err := loadGitignore(w.dir)
	if err != nil {
		w.log.WarnContext(ctx, "ignoring unreadable .gitignore", "error", err)
	}
	matcher := newMatcher(patterns)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := w.addTree(watcher, w.dir, matcher); err != nil {
		return fmt.Errorf("setting up watcher: %w", err)
	}
	w.readyOnce.Do(func() { close(w.ready) })

	changed := make(map[string]bool)
	batchTimer := time.NewTimer(w.debounce)
	batchTimer.Stop()

	w.log.InfoContext(ctx, "watching drop directory", "dir", w.dir, "debounce", w.debounce)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(watcher, event.Name, matcher); err != nil {
						w.log.WarnContext(ctx, "watching new directory failed", "path", event.Name, "error", err)
					}
					continue
				}
			}

			if !w.shouldWatchFile(event.Name, matcher) {
				continue
			}
			relPath, err := filepath.Rel(w.dir, event.Name)
			if err != nil {
				continue
			}
			changed[relPath] = true
			batchTimer.Reset(w.debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.WarnContext(ctx, "watch error", "error", err)

		case <-batchTimer.C:
			if len(changed) > 0 {
				w.processBatch(ctx, changed)
				changed = make(map[string]bool)
			}
		}
	}
}

// addTree watches root and every directory below it that is not ignored.
func (w *Watcher) addTree(watcher *fsnotify.Watcher, root string, matcher gitignore.Matcher) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.dir && shouldSkipDir(path, w.dir, matcher) {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}

// processBatch ingests the changed envelopes in path order and returns the
// number of snapshots recorded.
func (w *Watcher) processBatch(ctx context.Context, changed map[string]bool) int {
	batchID := uuid.NewString()
	paths := make([]string, 0, len(changed))
	for p := range changed {
		paths = append(paths, p)
	}
	slices.Sort(paths)

	log := w.log.With("batch_id", batchID)
	log.DebugContext(ctx, "processing batch", "files", len(paths))

	recorded := 0
	for _, relPath := range paths {
		entry, err := readEntry(filepath.Join(w.dir, relPath), relPath)
		if errors.Is(err, os.ErrNotExist) {
			// Snapshots are history; a removed envelope leaves them in place.
			log.DebugContext(ctx, "envelope removed", "path", relPath)
			continue
		}
		if err != nil {
			log.WarnContext(ctx, "reading envelope failed", "path", relPath, "error", err)
			continue
		}
		if w.hashes[relPath] == entry.SHA256 {
			continue
		}

		out, err := w.pipeline.IngestEntry(ctx, entry)
		if err != nil {
			log.WarnContext(ctx, "ingesting envelope failed", "path", relPath, "error", err)
			continue
		}
		w.hashes[relPath] = entry.SHA256
		recorded++

		log.InfoContext(ctx, "snapshot ingested",
			"path", relPath,
			"file_object_id", out.File.ID,
			"extracted_object_id", out.Snapshot.ID,
		)
		if w.handler != nil {
			w.handler(ctx, batchID, out)
		}
	}
	return recorded
}

// shouldWatchFile checks if a file event concerns an envelope that is not
// ignored.
func (w *Watcher) shouldWatchFile(path string, matcher gitignore.Matcher) bool {
	if !isEnvelope(path) {
		return false
	}
	relPath, err := filepath.Rel(w.dir, path)
	if err != nil {
		return false
	}
	return !matcher.Match(splitPath(relPath), false)
}
