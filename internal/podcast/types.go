// Package podcast contains the shared data model for episode generation:
// personas, conversation turns, dialogue lines, episode plans and episodes.
package podcast

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Gender of a persona, used to pick a voice from the per-gender voice pools.
type Gender string

// Persona genders.
const (
	Male   Gender = "male"
	Female Gender = "female"
)

// PersonaConfig is the immutable identity of one speaker. One instance exists
// per host and per pool guest; it is shared read-only across episode runs.
type PersonaConfig struct {
	Name          string `json:"name" yaml:"name"`
	Gender        Gender `json:"gender" yaml:"gender"`
	Age           int    `json:"age" yaml:"age"`
	MBTI          string `json:"mbti" yaml:"mbti"`
	Personality   string `json:"personality" yaml:"personality"`
	Occupation    string `json:"occupation" yaml:"occupation"`
	SpeakingStyle string `json:"speaking_style" yaml:"speaking_style"`
	StanceBias    string `json:"stance_bias" yaml:"stance_bias"`
	VoiceID       string `json:"voice_id" yaml:"voice_id"`
	Background    string `json:"background" yaml:"background"`
}

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ConversationTurn is one role-tagged message in an LLM conversation history.
type ConversationTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// DialogueLine is a single produced utterance with TTS annotations.
// Immutable once appended to a transcript; the synthesis stage only reads it.
type DialogueLine struct {
	Speaker     string  `json:"speaker"`
	Text        string  `json:"text"`      // clean text for display
	SSMLText    string  `json:"ssml_text"` // text with inline <#x#> pauses and interjection tags
	Emotion     string  `json:"emotion"`
	VoiceID     string  `json:"voice_id"`
	PauseBefore float64 `json:"pause_before"` // seconds
	PauseAfter  float64 `json:"pause_after"`  // seconds
}

// DefaultPauseAfter is the trailing pause attached to every line unless the
// script says otherwise.
const DefaultPauseAfter = 0.3

// NewsItem is a single news article returned by the search collaborator.
type NewsItem struct {
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Content       string  `json:"content"`
	PublishedDate string  `json:"published_date,omitempty"`
	Score         float64 `json:"score,omitempty"`
}

// DetailedInfo is the outcome of one deep-research query: an optional
// synthesized answer plus the ranked source list.
type DetailedInfo struct {
	Query   string     `json:"query"`
	Answer  string     `json:"answer,omitempty"`
	Results []NewsItem `json:"results,omitempty"`
}

// Episode is the aggregate root of one generated podcast episode.
type Episode struct {
	ID              string         `json:"id"`
	Title           string         `json:"title"`
	Topic           string         `json:"topic"`
	Summary         string         `json:"summary"`
	CreatedAt       time.Time      `json:"created_at"`
	Guests          []string       `json:"guests"`
	Dialogue        []DialogueLine `json:"dialogue"`
	NewsSources     []NewsItem     `json:"news_sources,omitempty"`
	AudioPath       string         `json:"audio_path,omitempty"`
	RunLogPath      string         `json:"generation_log_path,omitempty"`
	DurationSeconds float64        `json:"duration_seconds,omitempty"`
	WordCount       int            `json:"word_count"`
	Article         string         `json:"article,omitempty"`
}

// NewEpisode creates an episode shell with a fresh id and the guest roster
// for this run. The title mirrors the topic until planning overrides it.
func NewEpisode(topic string, guests []string) *Episode {
	id := uuid.NewString()
	id = id[:8] + id[9:13] // 12 hex chars, dashes dropped
	return &Episode{
		ID:        id,
		Title:     topic,
		Topic:     topic,
		CreatedAt: time.Now(),
		Guests:    guests,
	}
}

// SaveJSON persists the episode as <id>.json under dir and returns the path.
func (e *Episode) SaveJSON(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create episode dir: %w", err)
	}
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal episode: %w", err)
	}
	path := filepath.Join(dir, e.ID+".json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write episode file: %w", err)
	}
	return path, nil
}

// LoadEpisode reads an episode previously written by SaveJSON.
func LoadEpisode(path string) (*Episode, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from our own output dir
	if err != nil {
		return nil, fmt.Errorf("failed to read episode file: %w", err)
	}
	var ep Episode
	if err := json.Unmarshal(data, &ep); err != nil {
		return nil, fmt.Errorf("failed to parse episode file: %w", err)
	}
	return &ep, nil
}
