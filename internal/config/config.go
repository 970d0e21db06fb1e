// Package config loads engine settings from environment variables and the
// optional YAML persona roster file.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/KeLuoJun/MindCast/internal/podcast"
)

// Settings holds every tunable of the generation pipeline. Zero-config runs
// work with the defaults as long as the API keys are present.
type Settings struct {
	// LLM (OpenAI-compatible endpoint)
	LLMBaseURL string
	LLMAPIKey  string
	LLMModel   string

	// Tavily web search
	TavilyAPIKey  string
	TavilyBaseURL string

	// MiniMax TTS
	MiniMaxAPIKey      string
	MiniMaxGroupID     string
	MiniMaxTTSModel    string
	MiniMaxTTSBaseURL  string
	MiniMaxAudioFormat string // "mp3" or "wav"

	// Knowledge service (vector retrieval sidecar); empty disables RAG
	KnowledgeBaseURL string

	// Podcast parameters
	MaxGuests          int
	TargetWordCountMax int
	OutputDir          string
	PersonaFile        string

	// Dialogue generation
	ContextWindowTurns      int
	InterruptionProbability float64
	MaxInterruptions        int
	SimilarityThreshold     float64

	// Synthesis
	SynthesisConcurrency int
}

// Load reads settings from the environment, applying defaults that mirror a
// five-minute commute episode.
func Load() (*Settings, error) {
	s := &Settings{
		LLMBaseURL:              getenv("MINDCAST_LLM_BASE_URL", "https://api.deepseek.com/v1"),
		LLMAPIKey:               os.Getenv("MINDCAST_LLM_API_KEY"),
		LLMModel:                getenv("MINDCAST_LLM_MODEL", "deepseek-chat"),
		TavilyAPIKey:            os.Getenv("MINDCAST_TAVILY_API_KEY"),
		TavilyBaseURL:           getenv("MINDCAST_TAVILY_BASE_URL", "https://api.tavily.com"),
		MiniMaxAPIKey:           os.Getenv("MINDCAST_MINIMAX_API_KEY"),
		MiniMaxGroupID:          os.Getenv("MINDCAST_MINIMAX_GROUP_ID"),
		MiniMaxTTSModel:         getenv("MINDCAST_MINIMAX_TTS_MODEL", "speech-2.8-hd"),
		MiniMaxTTSBaseURL:       getenv("MINDCAST_MINIMAX_TTS_BASE_URL", "https://api.minimaxi.com/v1/t2a_v2"),
		MiniMaxAudioFormat:      getenv("MINDCAST_AUDIO_FORMAT", "mp3"),
		KnowledgeBaseURL:        os.Getenv("MINDCAST_KNOWLEDGE_BASE_URL"),
		OutputDir:               getenv("MINDCAST_OUTPUT_DIR", "output/episodes"),
		PersonaFile:             os.Getenv("MINDCAST_PERSONA_FILE"),
		MaxGuests:               3,
		TargetWordCountMax:      2000,
		ContextWindowTurns:      16,
		InterruptionProbability: 0.35,
		MaxInterruptions:        2,
		SimilarityThreshold:     podcast.DefaultSimilarityThreshold,
		SynthesisConcurrency:    4,
	}

	var err error
	if s.MaxGuests, err = getenvInt("MINDCAST_MAX_GUESTS", s.MaxGuests); err != nil {
		return nil, err
	}
	if s.TargetWordCountMax, err = getenvInt("MINDCAST_TARGET_WORD_COUNT_MAX", s.TargetWordCountMax); err != nil {
		return nil, err
	}
	if s.SynthesisConcurrency, err = getenvInt("MINDCAST_SYNTHESIS_CONCURRENCY", s.SynthesisConcurrency); err != nil {
		return nil, err
	}
	if s.ContextWindowTurns, err = getenvInt("MINDCAST_CONTEXT_WINDOW_TURNS", s.ContextWindowTurns); err != nil {
		return nil, err
	}
	if s.InterruptionProbability, err = getenvFloat("MINDCAST_INTERRUPTION_PROBABILITY", s.InterruptionProbability); err != nil {
		return nil, err
	}
	if s.SimilarityThreshold, err = getenvFloat("MINDCAST_SIMILARITY_THRESHOLD", s.SimilarityThreshold); err != nil {
		return nil, err
	}
	return s, nil
}

// EnsureOutputDir creates the output directory if needed and returns it.
func (s *Settings) EnsureOutputDir() (string, error) {
	if err := os.MkdirAll(s.OutputDir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}
	return s.OutputDir, nil
}

// personaFile is the YAML roster shape: one host plus a guest pool.
type personaFile struct {
	Host   *podcast.PersonaConfig  `yaml:"host"`
	Guests []podcast.PersonaConfig `yaml:"guests"`
}

// LoadPersonas returns the host persona and guest pool, either from the
// configured YAML file or from the built-in defaults.
func (s *Settings) LoadPersonas() (podcast.PersonaConfig, []podcast.PersonaConfig, error) {
	if s.PersonaFile == "" {
		return podcast.DefaultHostPersona, podcast.DefaultGuestPersonas, nil
	}

	data, err := os.ReadFile(s.PersonaFile) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return podcast.PersonaConfig{}, nil, fmt.Errorf("failed to read persona file: %w", err)
	}
	var pf personaFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return podcast.PersonaConfig{}, nil, fmt.Errorf("failed to parse persona file: %w", err)
	}

	host := podcast.DefaultHostPersona
	if pf.Host != nil {
		host = *pf.Host
	}
	guests := pf.Guests
	if len(guests) == 0 {
		guests = podcast.DefaultGuestPersonas
	}
	for i, g := range guests {
		if g.Name == "" {
			return podcast.PersonaConfig{}, nil, fmt.Errorf("persona file guest %d has no name", i)
		}
	}
	return host, guests, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getenvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}
