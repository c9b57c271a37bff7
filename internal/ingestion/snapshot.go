// Package ingestion records extracted snapshots into the twin graph.
//
// Snapshots arrive as JSON envelopes dropped into a directory, either in a
// one-off import or through the watcher. Each envelope names the artifact
// it was extracted from; the artifact is registered as a file object on
// first sight and the snapshot is appended to its history.
package ingestion

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/Benny93/twinscope/internal/graph"
)

// dtKeyPrefix marks payload fields that carry artifact-local keys.
const dtKeyPrefix = "dt_"

// FindDTKeys returns every object key anywhere in data that starts with
// "dt_", sorted and without duplicates. The dt_keys field name itself is
// not reported.
func FindDTKeys(data any) []string {
	found := make(map[string]bool)
	stack := []any{data}
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if m, ok := graph.AsMap(v); ok {
			for k, child := range m {
				if strings.HasPrefix(k, dtKeyPrefix) && k != graph.DTKeysField {
					found[k] = true
				}
				stack = append(stack, child)
			}
			continue
		}
		if l, ok := graph.AsList(v); ok {
			stack = append(stack, l...)
		}
	}

	keys := make([]string, 0, len(found))
	for k := range found {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Recorder appends snapshots to file histories.
type Recorder struct {
	graph *graph.Service
	log   *slog.Logger
}

// NewRecorder creates a recorder over g.
func NewRecorder(g *graph.Service, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Recorder{graph: g, log: logger}
}

// Record stores data as the newest snapshot of kind for the file. The
// stored dt_keys are the union of the payload's own dt_keys list and the
// dt_ keys found anywhere in the payload.
func (r *Recorder) Record(ctx context.Context, fileID int64, kind string, data graph.Payload) (*graph.ExtractedObject, error) {
	if data == nil {
		data = graph.Payload{}
	}

	keys := append(data.DTKeys(), FindDTKeys(data)...)
	slices.Sort(keys)
	keys = slices.Compact(keys)

	stored := make(graph.Payload, len(data)+1)
	for k, v := range data {
		stored[k] = v
	}
	list := make([]any, len(keys))
	for i, k := range keys {
		list[i] = k
	}
	stored[graph.DTKeysField] = list

	obj, err := r.graph.AddExtractedObject(ctx, fileID, kind, stored)
	if err != nil {
		return nil, err
	}
	r.log.DebugContext(ctx, "snapshot recorded",
		"file_object_id", fileID, "extracted_object_id", obj.ID, "kind", kind, "dt_keys", len(keys))
	return obj, nil
}
