package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/twinscope/internal/config"
	"github.com/Benny93/twinscope/internal/graph"
	"github.com/Benny93/twinscope/internal/ingestion"
	"github.com/Benny93/twinscope/internal/logging"
	"github.com/Benny93/twinscope/internal/search"
	"github.com/Benny93/twinscope/internal/storage"
)

const (
	pump  = "dtmi:com:example:Pump;1"
	valve = "dtmi:com:example:Valve;1"
	motor = "dtmi:com:example:Motor;1"
)

func newTestApp() *App {
	return NewApp(config.Default(), storage.NewMemoryStore(), logging.Discard())
}

// run executes one CLI invocation against app and returns its stdout.
func run(t *testing.T, app *App, args ...string) (string, error) {
	t.Helper()
	cli := NewCLI()
	var buf bytes.Buffer
	cli.out = &buf
	cli.app = app
	err := cli.Execute(args)
	return buf.String(), err
}

func mustRun(t *testing.T, app *App, args ...string) string {
	t.Helper()
	out, err := run(t, app, args...)
	require.NoError(t, err, "%v", args)
	return out
}

func runJSON(t *testing.T, app *App, v any, args ...string) {
	t.Helper()
	out := mustRun(t, app, append(args, "--json")...)
	require.NoError(t, json.Unmarshal([]byte(out), v), out)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestTwinCommands(t *testing.T) {
	t.Parallel()
	app := newTestApp()

	out := mustRun(t, app, "twin", "create", pump, "--name", "Pump")
	assert.Contains(t, out, "Created twin "+pump)

	_, err := run(t, app, "twin", "create", pump)
	assert.ErrorIs(t, err, graph.ErrDuplicateDTMI)

	mustRun(t, app, "twin", "update", pump, "--model-version", "2")

	var twin graph.TwinNode
	runJSON(t, app, &twin, "twin", "get", pump)
	require.NotNil(t, twin.DisplayName)
	require.NotNil(t, twin.ModelVersion)
	assert.Equal(t, "Pump", *twin.DisplayName)
	assert.Equal(t, "2", *twin.ModelVersion)

	out = mustRun(t, app, "twin", "get", pump)
	assert.Contains(t, out, "Display name:   Pump")

	mustRun(t, app, "twin", "create", valve)
	var twins []graph.TwinNode
	runJSON(t, app, &twins, "twin", "list")
	assert.Len(t, twins, 2)

	mustRun(t, app, "twin", "delete", pump)
	_, err = run(t, app, "twin", "get", pump)
	assert.ErrorIs(t, err, graph.ErrNotFound)
	_, err = run(t, app, "twin", "delete", pump)
	assert.ErrorIs(t, err, graph.ErrNotFound)
}

func TestTwinCreate_Strict(t *testing.T) {
	t.Parallel()
	app := newTestApp()

	_, err := run(t, app, "twin", "create", "pump-1", "--strict")
	assert.ErrorIs(t, err, graph.ErrInvalidArgument)

	mustRun(t, app, "twin", "create", "pump-1")
	mustRun(t, app, "twin", "create", pump, "--strict")
}

func TestTwinSearch(t *testing.T) {
	t.Parallel()
	app := newTestApp()
	mustRun(t, app, "twin", "create", pump, "--name", "Coolant pump")
	mustRun(t, app, "twin", "create", valve, "--name", "Relief valve")

	var results []search.Result
	runJSON(t, app, &results, "twin", "search", "relief")
	require.Len(t, results, 1)
	assert.Equal(t, valve, results[0].DTMI)

	out := mustRun(t, app, "twin", "search", "gearbox")
	assert.Contains(t, out, `No twins match "gearbox"`)

	out = mustRun(t, app, "twin", "search", "pump", "-n", "1")
	assert.Contains(t, out, pump)
	assert.NotContains(t, out, valve)
}

func TestRelationshipCommands(t *testing.T) {
	t.Parallel()
	app := newTestApp()
	for _, id := range []string{pump, valve, motor} {
		mustRun(t, app, "twin", "create", id)
	}

	var edge graph.RelationshipEdge
	runJSON(t, app, &edge, "rel", "create", pump, valve, "--name", "feeds")
	require.NotNil(t, edge.Name)
	assert.Equal(t, "feeds", *edge.Name)
	mustRun(t, app, "rel", "create", valve, motor)

	t.Run("Rename", func(t *testing.T) {
		var renamed graph.RelationshipEdge
		runJSON(t, app, &renamed, "rel", "rename", itoa(edge.ID))
		assert.Nil(t, renamed.Name)
	})

	t.Run("List", func(t *testing.T) {
		out := mustRun(t, app, "rel", "list")
		assert.Contains(t, out, pump+" -[-]-> "+valve)
		assert.Contains(t, out, valve+" -[-]-> "+motor)
	})

	t.Run("Neighbors", func(t *testing.T) {
		var result map[string][]string
		runJSON(t, app, &result, "neighbors", valve, "--direction", "both")
		assert.Equal(t, []string{motor}, result["outgoing"])
		assert.Equal(t, []string{pump}, result["incoming"])

		_, err := run(t, app, "neighbors", valve, "--direction", "sideways")
		assert.Error(t, err)
	})

	t.Run("Subgraph", func(t *testing.T) {
		var sub graph.Subgraph
		runJSON(t, app, &sub, "subgraph", pump, "--hops", "2")
		assert.Len(t, sub.Nodes, 3)
		assert.Len(t, sub.Edges, 2)

		runJSON(t, app, &sub, "subgraph", motor)
		assert.Len(t, sub.Nodes, 1)

		runJSON(t, app, &sub, "subgraph", motor, "--undirected")
		assert.Len(t, sub.Nodes, 2)
	})

	t.Run("MissingEndpoint", func(t *testing.T) {
		_, err := run(t, app, "rel", "create", pump, "dtmi:com:example:Ghost;1")
		assert.ErrorIs(t, err, graph.ErrNotFound)
	})
}

func TestValidationCommands(t *testing.T) {
	t.Parallel()
	app := newTestApp()
	dir := t.TempDir()
	for _, id := range []string{pump, valve, motor} {
		mustRun(t, app, "twin", "create", id)
	}

	var edge graph.RelationshipEdge
	runJSON(t, app, &edge, "rel", "create", pump, valve)

	payload := writeFile(t, dir, "validation.json",
		`{"is_ok": false, "issues": [{"severity": "error", "message": "unknown property", "line": 3}], "validator": "dotnet"}`)

	out := mustRun(t, app, "validation", "set", pump, payload)
	assert.Contains(t, out, "ok=false, 1 issue(s)")

	var v graph.Validation
	runJSON(t, app, &v, "validation", "get", pump)
	assert.Equal(t, "dotnet", v["validator"])
	ok, set := v.IsOK()
	assert.True(t, set)
	assert.False(t, ok)
	require.Len(t, v.Issues(), 1)
	assert.Equal(t, "unknown property", v.Issues()[0].Message)

	unset := writeFile(t, dir, "unset.json", `{"issues": []}`)
	out = mustRun(t, app, "validation", "set", valve, unset)
	assert.Contains(t, out, "ok=unknown, 0 issue(s)")

	mustRun(t, app, "validation", "set", itoa(edge.ID), payload, "--edge")
	out = mustRun(t, app, "validation", "get", itoa(edge.ID), "--edge")
	assert.Contains(t, out, "[error] unknown property")

	out = mustRun(t, app, "validation", "get", motor)
	assert.Contains(t, out, "No validation stored")

	_, err := run(t, app, "validation", "get", "seven", "--edge")
	assert.ErrorIs(t, err, graph.ErrInvalidArgument)
}

func TestFileAndSnapshotCommands(t *testing.T) {
	t.Parallel()
	app := newTestApp()
	dir := t.TempDir()
	mustRun(t, app, "twin", "create", pump)
	mustRun(t, app, "twin", "create", valve)

	var file graph.FileObject
	runJSON(t, app, &file, "file", "add", "pump.kicad_pcb", "--media-type", "application/x-kicad", "--twin", pump)
	require.NotNil(t, file.TwinID)

	out := mustRun(t, app, "file", "list")
	assert.Contains(t, out, "pump.kicad_pcb")

	mustRun(t, app, "file", "detach", itoa(file.ID))
	var files []graph.FileObject
	runJSON(t, app, &files, "file", "list")
	require.Len(t, files, 1)
	assert.Nil(t, files[0].TwinID)
	mustRun(t, app, "file", "attach", itoa(file.ID), valve)

	first := writeFile(t, dir, "v1.json", `{"dt_keys": ["`+pump+`"]}`)
	second := writeFile(t, dir, "v2.json", `{"dt_keys": ["`+pump+`", "`+valve+`"]}`)
	mustRun(t, app, "snapshot", "record", itoa(file.ID), "custom", first)
	out = mustRun(t, app, "snapshot", "record", itoa(file.ID), "custom", second)
	assert.Contains(t, out, "2 dt_key(s)")

	var history []graph.ExtractedObject
	runJSON(t, app, &history, "snapshot", "history", itoa(file.ID))
	require.Len(t, history, 2)
	assert.Greater(t, history[0].ID, history[1].ID)

	t.Run("DiffLatest", func(t *testing.T) {
		out := mustRun(t, app, "diff", "--latest", itoa(file.ID))
		assert.Contains(t, out, "Added dt_keys (1)")
		assert.Contains(t, out, valve)
	})

	t.Run("DiffByIDs", func(t *testing.T) {
		var diff map[string]any
		runJSON(t, app, &diff, "diff", itoa(history[0].ID), itoa(history[1].ID))
		assert.Equal(t, []any{valve}, diff["dt_key_removed"])
	})

	t.Run("DiffNeedsArguments", func(t *testing.T) {
		_, err := run(t, app, "diff")
		assert.ErrorIs(t, err, graph.ErrInvalidArgument)
	})

	t.Run("Impact", func(t *testing.T) {
		var result struct {
			Ranked []struct {
				DTMI     string  `json:"dtmi"`
				Severity float64 `json:"severity"`
			} `json:"ranked"`
		}
		runJSON(t, app, &result, "impact", itoa(file.ID), "--kind", "custom")
		require.Len(t, result.Ranked, 1)
		assert.Equal(t, valve, result.Ranked[0].DTMI)

		out := mustRun(t, app, "impact", itoa(file.ID), "--bucket", "low")
		assert.Contains(t, out, "No twins impacted")

		_, err := run(t, app, "impact", itoa(file.ID), "--bucket", "severe")
		assert.ErrorIs(t, err, graph.ErrInvalidArgument)
	})

	t.Run("ImpactWithoutHistory", func(t *testing.T) {
		out := mustRun(t, app, "impact", itoa(file.ID), "--kind", "kicad_ecad")
		assert.Contains(t, out, "fewer than two snapshots")
	})

	t.Run("Stitch", func(t *testing.T) {
		var preview []graph.StitchCandidate
		runJSON(t, app, &preview, "stitch", "generate", itoa(file.ID))
		assert.Len(t, preview, 3)

		var stored []graph.StitchCandidate
		runJSON(t, app, &stored, "stitch", "list", "--status", "candidate")
		assert.Empty(t, stored)

		mustRun(t, app, "stitch", "generate", itoa(file.ID), "--persist")
		runJSON(t, app, &stored, "stitch", "list", "--file", itoa(file.ID), "--status", "candidate")
		require.Len(t, stored, 3)

		var reviewed graph.StitchCandidate
		runJSON(t, app, &reviewed, "stitch", "review", itoa(stored[0].ID), "--status", "accepted", "--confidence", "1")
		assert.Equal(t, graph.StatusAccepted, reviewed.Status)
		assert.Equal(t, 1.0, reviewed.Confidence)

		runJSON(t, app, &stored, "stitch", "list", "--status", "accepted")
		assert.Len(t, stored, 1)

		_, err := run(t, app, "stitch", "review", itoa(stored[0].ID), "--status", "maybe")
		assert.ErrorIs(t, err, graph.ErrInvalidArgument)
		_, err = run(t, app, "stitch", "review", itoa(stored[0].ID), "--confidence", "1.5")
		assert.ErrorIs(t, err, graph.ErrInvalidArgument)
		_, err = run(t, app, "stitch", "list", "--status", "maybe")
		assert.ErrorIs(t, err, graph.ErrInvalidArgument)
	})
}

func envelope(path, kind string, keys ...string) string {
	data, _ := json.Marshal(map[string]any{
		"file_path": path,
		"kind":      kind,
		"data":      map[string]any{"dt_keys": keys},
	})
	return string(data)
}

func TestSnapshotIngestAndImport(t *testing.T) {
	t.Parallel()

	t.Run("Ingest", func(t *testing.T) {
		t.Parallel()
		app := newTestApp()
		dir := t.TempDir()
		mustRun(t, app, "twin", "create", pump)

		first := writeFile(t, dir, "a.json", envelope("board.kicad_pcb", "custom"))
		second := writeFile(t, dir, "b.json", envelope("board.kicad_pcb", "custom", pump))

		out := mustRun(t, app, "snapshot", "ingest", first)
		assert.Contains(t, out, "No previous snapshot to compare")

		out = mustRun(t, app, "snapshot", "ingest", second, "--auto-stitch")
		assert.Contains(t, out, "Stitches:  1 candidate(s)")
		assert.Contains(t, out, "- "+pump)

		bad := writeFile(t, dir, "bad.json", `{"kind": "custom"}`)
		_, err := run(t, app, "snapshot", "ingest", bad)
		assert.ErrorIs(t, err, graph.ErrInvalidArgument)
	})

	t.Run("Import", func(t *testing.T) {
		t.Parallel()
		app := newTestApp()
		dir := t.TempDir()
		writeFile(t, dir, "01.json", envelope("doc.json", "custom"))
		writeFile(t, dir, "02.json", envelope("doc.json", "custom", valve))
		writeFile(t, dir, "broken.json", `{`)

		var result ingestion.ImportResult
		runJSON(t, app, &result, "snapshot", "import", dir)
		assert.Equal(t, 3, result.Files)
		assert.Equal(t, 2, result.Recorded)
		assert.Equal(t, 1, result.Failed)
		assert.Equal(t, 1, result.Impacted)
	})

	t.Run("ImportMissingDir", func(t *testing.T) {
		t.Parallel()
		_, err := run(t, newTestApp(), "snapshot", "import", filepath.Join(t.TempDir(), "nope"))
		assert.Error(t, err)
	})
}

func TestStatusCmd(t *testing.T) {
	t.Parallel()
	app := newTestApp()
	mustRun(t, app, "twin", "create", pump)

	var status map[string]any
	runJSON(t, app, &status, "status")
	assert.Equal(t, float64(1), status["twins"])
	assert.Equal(t, "badger", status["backend"])

	out := mustRun(t, app, "status")
	assert.Contains(t, out, "Twins:             1")
}

func TestImpactOptions(t *testing.T) {
	t.Parallel()
	app := newTestApp()
	app.Config.Impact.Hops = 2

	opts := impactOptions(app, -1, false)
	assert.Equal(t, 2, opts.Hops)
	assert.True(t, opts.Directed)

	opts = impactOptions(app, 0, true)
	assert.Equal(t, 0, opts.Hops)
	assert.False(t, opts.Directed)
}

// The tests below open real stores through the global flags.

func TestPersistentStore(t *testing.T) {
	t.Parallel()

	for _, backend := range []string{"badger", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			t.Parallel()
			dataDir := t.TempDir()

			mustRun(t, nil, "twin", "create", pump, "--store", backend, "--data-dir", dataDir)

			out := mustRun(t, nil, "twin", "list", "--store", backend, "--data-dir", dataDir)
			assert.Contains(t, out, pump)
		})
	}
}

func TestGlobals_Settings(t *testing.T) {
	t.Parallel()

	t.Run("FlagsOverrideFile", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		path := writeFile(t, dir, config.FileName, "store:\n  backend: sqlite\nlog:\n  level: debug\n")

		g := &Globals{Config: path, Store: "memory"}
		cfg, err := g.settings()
		require.NoError(t, err)
		assert.Equal(t, "memory", cfg.Store.Backend)
		assert.Equal(t, "debug", cfg.Log.Level)
	})

	t.Run("ImplicitFileInDataDir", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		writeFile(t, dir, config.FileName, "impact:\n  hops: 3\n")

		g := &Globals{DataDir: dir}
		cfg, err := g.settings()
		require.NoError(t, err)
		assert.Equal(t, 3, cfg.Impact.Hops)
		assert.Equal(t, dir, cfg.Store.DataDir)
	})

	t.Run("InvalidBackend", func(t *testing.T) {
		t.Parallel()
		g := &Globals{DataDir: t.TempDir(), Store: "postgres"}
		_, err := g.settings()
		assert.Error(t, err)
	})

	t.Run("MissingExplicitFile", func(t *testing.T) {
		t.Parallel()
		g := &Globals{Config: filepath.Join(t.TempDir(), "missing.yaml")}
		_, err := g.settings()
		assert.Error(t, err)
	})
}

func TestInitAndClean(t *testing.T) {
	t.Parallel()
	dataDir := filepath.Join(t.TempDir(), "data")

	out := mustRun(t, nil, "init", "--data-dir", dataDir, "--store", "sqlite")
	assert.Contains(t, out, config.FileName)

	cfg, err := config.Load(config.DefaultPath(dataDir), true)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store.Backend)

	_, err = run(t, nil, "init", "--data-dir", dataDir)
	assert.ErrorContains(t, err, "already exists")
	mustRun(t, nil, "init", "--data-dir", dataDir, "--force")

	mustRun(t, nil, "clean", "--data-dir", dataDir, "--force")
	_, err = os.Stat(dataDir)
	assert.True(t, os.IsNotExist(err))

	_, err = run(t, nil, "clean", "--data-dir", dataDir, "--force")
	assert.ErrorContains(t, err, "Nothing to clean")
}

// syncBuffer guards a buffer written by the watcher goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWatchCmd_Watcher(t *testing.T) {
	t.Parallel()
	app := newTestApp()
	dir := t.TempDir()

	var out syncBuffer
	g := &Globals{out: &out}
	w := (&WatchCmd{Debounce: 20 * time.Millisecond}).watcher(g, app, dir)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	select {
	case <-w.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not start")
	}

	writeFile(t, dir, "drop.json", envelope("pump.step", "custom", pump))
	assert.Eventually(t, func() bool {
		return bytes.Contains([]byte(out.String()), []byte("pump.step: snapshot"))
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
}

func TestDropDir(t *testing.T) {
	t.Parallel()
	app := newTestApp()
	target := filepath.Join(t.TempDir(), "drop")

	dir, err := (&WatchCmd{Dir: target}).dropDir(app)
	require.NoError(t, err)
	assert.Equal(t, target, dir)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
