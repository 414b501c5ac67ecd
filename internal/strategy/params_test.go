package strategy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParamsAccessors(t *testing.T) {
	p := Params{
		"f":     "1.5",
		"i":     7.0,
		"b":     true,
		"list":  []any{1, "x", 2.5},
		"tiers": []any{map[string]any{"pct": 0.1, "ratio": 0.4}, "bad"},
	}
	assert.Equal(t, 1.5, p.Float("f", 0))
	assert.Equal(t, 9.0, p.Float("missing", 9))
	assert.Equal(t, 7, p.Int("i", 0))
	assert.True(t, p.Bool("b", false))
	assert.False(t, p.Bool("f", false))
	assert.Equal(t, []float64{1, 2.5}, p.Floats("list"))
	assert.Equal(t, []Tier{{Pct: 0.1, Ratio: 0.4}}, p.Tiers("tiers"))
}

func TestSanitizeParams(t *testing.T) {
	out := sanitizeParams(Params{"n": 3, "s": " 2.5 ", "name": "abc", "nested": []any{int64(4)}}).(map[string]any)
	assert.Equal(t, 3.0, out["n"])
	assert.Equal(t, 2.5, out["s"])
	assert.Equal(t, "abc", out["name"])
	assert.Equal(t, []any{4.0}, out["nested"])
}

func TestLoadParamsFile(t *testing.T) {
	dir := t.TempDir()
	t.Run("ok", func(t *testing.T) {
		path := filepath.Join(dir, "ok.yaml")
		require.NoError(t, os.WriteFile(path, []byte("strategies:\n  SMA_Cross:\n    fast: 5\n    slow: 20\n"), 0o644))
		got, err := LoadParamsFile(path)
		require.NoError(t, err)
		require.Contains(t, got, "sma_cross")
		assert.Equal(t, 5, got["sma_cross"]["fast"])
	})
	t.Run("unknown field", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("strategy:\n  x: 1\n"), 0o644))
		_, err := LoadParamsFile(path)
		assert.Error(t, err)
	})
	t.Run("missing", func(t *testing.T) {
		_, err := LoadParamsFile(filepath.Join(dir, "none.yaml"))
		assert.Error(t, err)
	})
}
