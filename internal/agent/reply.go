package agent

import (
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"
)

// lineReply is the structured shape agents are asked to emit for dialogue
// lines. Only text is required; the rest has defaults.
type lineReply struct {
	Text     string `json:"text"`
	SSMLText string `json:"ssml_text"`
	Emotion  string `json:"emotion"`
}

// stripCodeFence removes a wrapping markdown code block, with or without a
// language tag, from a model reply.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[idx+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// extractJSONObject narrows a reply to its outermost {...} span, tolerating
// prose around the JSON.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

// parseLineReply decodes a structured line reply. On any parse failure the
// entire raw reply becomes both display and annotated text with neutral
// emotion — a malformed reply must never halt the pipeline.
func parseLineReply(speaker, raw string) (text, ssml, emotion string) {
	cleaned := stripCodeFence(raw)
	var reply lineReply
	if err := json.Unmarshal([]byte(extractJSONObject(cleaned)), &reply); err != nil || reply.Text == "" {
		log.Warn().Str("speaker", speaker).Err(err).Msg("structured line reply unparseable, using raw text")
		return raw, raw, "neutral"
	}
	if reply.SSMLText == "" {
		reply.SSMLText = reply.Text
	}
	if reply.Emotion == "" {
		reply.Emotion = "neutral"
	}
	return reply.Text, reply.SSMLText, reply.Emotion
}
