package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "http://127.0.0.1:8787/llm/v1/chat/completions", cfg.LLM.Endpoint)
	assert.Equal(t, 200, cfg.Critic.MinWords)
	assert.Equal(t, 3, cfg.Critic.MaxItems)
	assert.Equal(t, "20s", cfg.Critic.IdleThreshold)
	assert.Equal(t, "1500ms", cfg.Critic.DebounceDelay)
	assert.Equal(t, 6, cfg.Knowledge.GleanThreshold)
	assert.Equal(t, 15, cfg.Knowledge.TopK)
	assert.Equal(t, 7, cfg.Knowledge.MinStrength)
}

func TestLoad(t *testing.T) {
	t.Run("missing file applies defaults", func(t *testing.T) {
		cfg, err := Load(t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, 200, cfg.Critic.MinWords)
	})

	t.Run("file layers over defaults", func(t *testing.T) {
		ws := t.TempDir()
		dir := filepath.Join(ws, ".inkwell")
		require.NoError(t, os.MkdirAll(dir, 0755))
		yaml := "critic:\n  min_words: 50\nknowledge:\n  top_k: 5\nmodel_overrides:\n  critique-question: deepseek-chat\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

		cfg, err := Load(ws)
		require.NoError(t, err)
		assert.Equal(t, 50, cfg.Critic.MinWords)
		assert.Equal(t, 5, cfg.Knowledge.TopK)
		assert.Equal(t, "deepseek-chat", cfg.ModelOverrides["critique-question"])
		// Untouched sections keep defaults.
		assert.Equal(t, 3, cfg.Critic.MaxItems)
	})

	t.Run("malformed file is an error", func(t *testing.T) {
		ws := t.TempDir()
		dir := filepath.Join(ws, ".inkwell")
		require.NoError(t, os.MkdirAll(dir, 0755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("{{nope"), 0644))

		_, err := Load(ws)
		assert.Error(t, err)
	})

	t.Run("env override wins", func(t *testing.T) {
		t.Setenv("INKWELL_LLM_ENDPOINT", "http://proxy.test/llm")
		cfg, err := Load(t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, "http://proxy.test/llm", cfg.LLM.Endpoint)
	})
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, 20*time.Second, ParseDuration("20s", time.Second))
	assert.Equal(t, 1500*time.Millisecond, ParseDuration("1500ms", time.Second))
	assert.Equal(t, time.Second, ParseDuration("", time.Second))
	assert.Equal(t, time.Second, ParseDuration("garbage", time.Second))
}
