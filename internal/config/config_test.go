package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	}
}

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := Default()
	assert.Equal(t, "badger", cfg.Store.Backend)
	assert.Equal(t, 1, cfg.Impact.Hops)
	assert.True(t, cfg.Impact.Directed)
	assert.Equal(t, 500*time.Millisecond, cfg.Watch.Debounce)
	assert.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	t.Parallel()

	t.Run("FileOverridesDefaults", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), FileName)
		require.NoError(t, os.WriteFile(path, []byte(`
store:
  backend: sqlite
  data_dir: /var/lib/twinscope
impact:
  hops: 2
  directed: false
watch:
  debounce: 2s
`), 0o644))

		cfg, err := Load(path, true)
		require.NoError(t, err)
		assert.Equal(t, "sqlite", cfg.Store.Backend)
		assert.Equal(t, "/var/lib/twinscope", cfg.Store.DataDir)
		assert.Equal(t, 2, cfg.Impact.Hops)
		assert.False(t, cfg.Impact.Directed)
		assert.Equal(t, 2*time.Second, cfg.Watch.Debounce)

		// Untouched sections keep their defaults.
		assert.Equal(t, "info", cfg.Log.Level)
	})

	t.Run("MissingImplicitFile", func(t *testing.T) {
		t.Parallel()
		cfg, err := Load(filepath.Join(t.TempDir(), FileName), false)
		require.NoError(t, err)
		assert.Equal(t, Default().Store, cfg.Store)
	})

	t.Run("MissingExplicitFile", func(t *testing.T) {
		t.Parallel()
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), true)
		assert.Error(t, err)
	})

	t.Run("InvalidYAML", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), FileName)
		require.NoError(t, os.WriteFile(path, []byte("store: [unclosed"), 0o644))
		_, err := Load(path, true)
		assert.Error(t, err)
	})

	t.Run("InvalidBackend", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), FileName)
		require.NoError(t, os.WriteFile(path, []byte("store:\n  backend: postgres\n"), 0o644))
		_, err := Load(path, true)
		assert.ErrorContains(t, err, "postgres")
	})
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	t.Run("Overrides", func(t *testing.T) {
		t.Parallel()
		cfg := Default()
		err := applyEnv(&cfg, env(map[string]string{
			"TWINSCOPE_STORE":       "memory",
			"TWINSCOPE_LOG_LEVEL":   "debug",
			"TWINSCOPE_HOPS":        "0",
			"TWINSCOPE_DIRECTED":    "false",
			"TWINSCOPE_DEBOUNCE":    "50ms",
			"TWINSCOPE_AUTO_STITCH": "true",
		}))
		require.NoError(t, err)
		assert.Equal(t, "memory", cfg.Store.Backend)
		assert.Equal(t, "debug", cfg.Log.Level)
		assert.Equal(t, 0, cfg.Impact.Hops)
		assert.False(t, cfg.Impact.Directed)
		assert.Equal(t, 50*time.Millisecond, cfg.Watch.Debounce)
		assert.True(t, cfg.Watch.AutoStitch)
	})

	t.Run("BadValues", func(t *testing.T) {
		t.Parallel()
		for _, vars := range []map[string]string{
			{"TWINSCOPE_HOPS": "many"},
			{"TWINSCOPE_DIRECTED": "perhaps"},
			{"TWINSCOPE_DEBOUNCE": "soon"},
		} {
			cfg := Default()
			assert.Error(t, applyEnv(&cfg, env(vars)), "%v", vars)
		}
	})
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Impact.Hops = -1
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Log.Format = "xml"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Log.Format = "JSON"
	assert.NoError(t, cfg.Validate())
}

func TestSave(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", FileName)
	cfg := Default()
	cfg.Store.Backend = "sqlite"
	cfg.Watch.Debounce = 3 * time.Second
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path, true)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
