package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KeLuoJun/MindCast/internal/podcast"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://api.deepseek.com/v1", cfg.LLMBaseURL)
	assert.Equal(t, "deepseek-chat", cfg.LLMModel)
	assert.Equal(t, "mp3", cfg.MiniMaxAudioFormat)
	assert.Equal(t, 3, cfg.MaxGuests)
	assert.Equal(t, 2000, cfg.TargetWordCountMax)
	assert.Equal(t, 16, cfg.ContextWindowTurns)
	assert.Equal(t, 2, cfg.MaxInterruptions)
	assert.InDelta(t, 0.35, cfg.InterruptionProbability, 0.001)
	assert.InDelta(t, podcast.DefaultSimilarityThreshold, cfg.SimilarityThreshold, 0.001)
	assert.Equal(t, 4, cfg.SynthesisConcurrency)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MINDCAST_LLM_MODEL", "deepseek-reasoner")
	t.Setenv("MINDCAST_MAX_GUESTS", "2")
	t.Setenv("MINDCAST_SYNTHESIS_CONCURRENCY", "8")
	t.Setenv("MINDCAST_INTERRUPTION_PROBABILITY", "0.1")
	t.Setenv("MINDCAST_SIMILARITY_THRESHOLD", "0.6")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "deepseek-reasoner", cfg.LLMModel)
	assert.Equal(t, 2, cfg.MaxGuests)
	assert.Equal(t, 8, cfg.SynthesisConcurrency)
	assert.InDelta(t, 0.1, cfg.InterruptionProbability, 0.001)
	assert.InDelta(t, 0.6, cfg.SimilarityThreshold, 0.001)
}

func TestLoadInvalidValues(t *testing.T) {
	t.Setenv("MINDCAST_MAX_GUESTS", "many")
	_, err := Load()
	assert.Error(t, err)
}

func TestEnsureOutputDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "episodes")
	cfg := &Settings{OutputDir: dir}

	got, err := cfg.EnsureOutputDir()
	require.NoError(t, err)
	assert.Equal(t, dir, got)
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestLoadPersonas(t *testing.T) {
	t.Run("defaults without a file", func(t *testing.T) {
		cfg := &Settings{}
		host, guests, err := cfg.LoadPersonas()
		require.NoError(t, err)
		assert.Equal(t, podcast.DefaultHostPersona.Name, host.Name)
		assert.Equal(t, len(podcast.DefaultGuestPersonas), len(guests))
	})

	t.Run("yaml roster overrides", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "personas.yaml")
		roster := `host:
  name: 周默
  gender: male
  age: 35
  occupation: 科技记者
guests:
  - name: 嘉宾甲
    gender: female
    stance_bias: 乐观派
  - name: 嘉宾乙
    gender: male
    voice_id: male-qn-jingying
`
		require.NoError(t, os.WriteFile(path, []byte(roster), 0o600))

		cfg := &Settings{PersonaFile: path}
		host, guests, err := cfg.LoadPersonas()
		require.NoError(t, err)
		assert.Equal(t, "周默", host.Name)
		assert.Equal(t, podcast.Male, host.Gender)
		require.Len(t, guests, 2)
		assert.Equal(t, "乐观派", guests[0].StanceBias)
		assert.Equal(t, "male-qn-jingying", guests[1].VoiceID)
	})

	t.Run("guest without a name rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "personas.yaml")
		require.NoError(t, os.WriteFile(path, []byte("guests:\n  - gender: male\n"), 0o600))

		cfg := &Settings{PersonaFile: path}
		_, _, err := cfg.LoadPersonas()
		assert.Error(t, err)
	})

	t.Run("missing file errors", func(t *testing.T) {
		cfg := &Settings{PersonaFile: filepath.Join(t.TempDir(), "nope.yaml")}
		_, _, err := cfg.LoadPersonas()
		assert.Error(t, err)
	})
}
