package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Benny93/twinscope/internal/graph"
	"github.com/Benny93/twinscope/internal/impact"
	"github.com/Benny93/twinscope/internal/revdiff"
	"github.com/Benny93/twinscope/internal/stitch"
)

// Envelope is the on-disk form of one extracted snapshot.
type Envelope struct {
	// FilePath identifies the artifact the snapshot was extracted from.
	FilePath string `json:"file_path"`

	// Kind selects the structural comparison, e.g. "kicad_ecad".
	Kind string `json:"kind"`

	// Data is the snapshot payload.
	Data graph.Payload `json:"data"`

	MediaType *string `json:"media_type,omitempty"`
	Version   *string `json:"version,omitempty"`

	// TwinDTMI attaches the file object to a twin when it is first
	// registered. Ignored for known files.
	TwinDTMI *string `json:"twin_dtmi,omitempty"`
}

// DecodeEnvelope parses and checks a snapshot envelope.
func DecodeEnvelope(content []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(content, &env); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}
	if env.FilePath == "" {
		return nil, fmt.Errorf("envelope without file_path: %w", graph.ErrInvalidArgument)
	}
	if env.Kind == "" {
		return nil, fmt.Errorf("envelope for %s without kind: %w", env.FilePath, graph.ErrInvalidArgument)
	}
	return &env, nil
}

// Options controls what runs after a snapshot is recorded.
type Options struct {
	// AutoStitch proposes stitch candidates for the new snapshot's keys
	// before impact is computed.
	AutoStitch bool

	// Impact configures propagation of the computed impact.
	Impact impact.Options
}

// Outcome is the result of ingesting one envelope.
type Outcome struct {
	File     *graph.FileObject
	Snapshot *graph.ExtractedObject

	// Diff and Impact are nil for the first snapshot of a kind.
	Diff   *revdiff.Result
	Impact *impact.Result

	Stitches []*graph.StitchCandidate
}

// Pipeline records snapshots and runs the diff and impact engines on them.
type Pipeline struct {
	graph    *graph.Service
	recorder *Recorder
	diffs    *revdiff.Service
	impact   *impact.Service
	stitch   *stitch.Service
	opts     Options
	log      *slog.Logger
}

// NewPipeline creates a pipeline over g.
func NewPipeline(g *graph.Service, opts Options, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pipeline{
		graph:    g,
		recorder: NewRecorder(g, logger),
		diffs:    revdiff.NewService(g, logger),
		impact:   impact.NewService(g, logger),
		stitch:   stitch.NewService(g, logger),
		opts:     opts,
		log:      logger,
	}
}

// Ingest records env against its file object, registering the file on
// first sight, and computes the impact against the previous snapshot of
// the same kind.
func (p *Pipeline) Ingest(ctx context.Context, env *Envelope) (*Outcome, error) {
	file, err := p.graph.FileObjectByPath(ctx, env.FilePath)
	if err != nil {
		return nil, err
	}
	if file == nil {
		file, err = p.graph.AddFileObject(ctx, graph.FileFields{
			Path:      env.FilePath,
			MediaType: env.MediaType,
			Version:   env.Version,
		}, env.TwinDTMI)
		if err != nil {
			return nil, fmt.Errorf("registering %s: %w", env.FilePath, err)
		}
		p.log.InfoContext(ctx, "file object registered", "path", env.FilePath, "file_object_id", file.ID)
	}

	snapshot, err := p.recorder.Record(ctx, file.ID, env.Kind, env.Data)
	if err != nil {
		return nil, fmt.Errorf("recording snapshot for %s: %w", env.FilePath, err)
	}
	out := &Outcome{File: file, Snapshot: snapshot}

	if p.opts.AutoStitch {
		out.Stitches, err = p.stitch.StitchSnapshot(ctx, snapshot)
		if err != nil {
			return nil, err
		}
	}

	out.Diff, err = p.diffs.DiffLatest(ctx, file.ID, env.Kind)
	if err != nil {
		return nil, err
	}
	if out.Diff != nil {
		out.Impact, err = p.impact.ComputeFromDiff(ctx, file.ID, out.Diff, p.opts.Impact)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// IngestEntry decodes a walked envelope file and ingests it.
func (p *Pipeline) IngestEntry(ctx context.Context, entry FileEntry) (*Outcome, error) {
	env, err := DecodeEnvelope(entry.Content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", entry.RelPath, err)
	}
	return p.Ingest(ctx, env)
}

// ImportResult summarizes an import run.
type ImportResult struct {
	Files        int
	Recorded     int
	Failed       int
	Impacted     int
	DurationSecs float64
}

// ProgressCallback is called with phase name and progress (0.0-1.0).
type ProgressCallback func(phase string, progress float64)

// RunImport ingests every envelope under dir in path order. A bad envelope
// is logged and skipped.
func (p *Pipeline) RunImport(ctx context.Context, dir string, progress ProgressCallback) ([]*Outcome, *ImportResult, error) {
	start := time.Now()
	result := &ImportResult{}

	if progress != nil {
		progress("Walking snapshots", 0.0)
	}
	patterns, err := loadGitignore(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("loading ignore rules: %w", err)
	}
	entries, err := WalkDropDir(dir, patterns)
	if err != nil {
		return nil, nil, fmt.Errorf("walking %s: %w", dir, err)
	}
	result.Files = len(entries)
	if progress != nil {
		progress("Walking snapshots", 1.0)
	}

	var outcomes []*Outcome
	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return outcomes, result, err
		}
		out, err := p.IngestEntry(ctx, entry)
		if err != nil {
			result.Failed++
			p.log.WarnContext(ctx, "skipping snapshot", "path", entry.RelPath, "error", err)
		} else {
			result.Recorded++
			if out.Impact != nil {
				result.Impacted += len(out.Impact.Impacted)
			}
			outcomes = append(outcomes, out)
		}
		if progress != nil {
			progress("Recording snapshots", float64(i+1)/float64(len(entries)))
		}
	}

	result.DurationSecs = time.Since(start).Seconds()
	return outcomes, result, nil
}
