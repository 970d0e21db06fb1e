// Package tts converts dialogue lines to speech through the MiniMax
// text-to-audio API.
package tts

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// HTTPClient is the transport contract, injectable for tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

const (
	maxRetries       = 3
	requestTimeout   = 120 * time.Second
	maxSynthesisChar = 10000
)

// var so tests can shorten the wait
var retryBackoff = 2 * time.Second

// emotions the API accepts in voice_setting; anything else is sent without
// an emotion field so the voice model picks its own delivery
var supportedEmotions = map[string]struct{}{
	"happy": {}, "sad": {}, "angry": {}, "fearful": {},
	"disgusted": {}, "surprised": {}, "calm": {},
}

// Client synthesizes speech via the MiniMax t2a_v2 endpoint.
type Client struct {
	apiKey     string
	groupID    string
	baseURL    string
	model      string
	format     string
	httpClient HTTPClient
}

// NewClient creates a MiniMax TTS client. httpClient nil gets a default with
// a generous timeout since synthesis of long lines is slow.
func NewClient(baseURL, apiKey, groupID, model, format string, httpClient HTTPClient) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	return &Client{
		apiKey:     apiKey,
		groupID:    groupID,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		model:      model,
		format:     format,
		httpClient: httpClient,
	}
}

type voiceSetting struct {
	VoiceID string  `json:"voice_id"`
	Speed   float64 `json:"speed"`
	Vol     float64 `json:"vol"`
	Pitch   int     `json:"pitch"`
	Emotion string  `json:"emotion,omitempty"`
}

type audioSetting struct {
	SampleRate int    `json:"sample_rate"`
	Bitrate    int    `json:"bitrate"`
	Format     string `json:"format"`
	Channel    int    `json:"channel"`
}

type synthesizeRequest struct {
	Model        string       `json:"model"`
	Text         string       `json:"text"`
	Stream       bool         `json:"stream"`
	VoiceSetting voiceSetting `json:"voice_setting"`
	AudioSetting audioSetting `json:"audio_setting"`
}

type synthesizeResponse struct {
	Data struct {
		Audio string `json:"audio"`
	} `json:"data"`
	BaseResp struct {
		StatusCode int    `json:"status_code"`
		StatusMsg  string `json:"status_msg"`
	} `json:"base_resp"`
}

// Synthesize converts text to audio bytes using the given voice. Empty text
// returns empty bytes without calling the API. Overlong text is truncated to
// the API limit. The emotion hint is passed through only when the API
// supports it.
func (c *Client) Synthesize(ctx context.Context, text, voiceID, emotion string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	if runes := []rune(text); len(runes) > maxSynthesisChar {
		log.Warn().Int("runes", len(runes)).Msg("truncating overlong synthesis text")
		text = string(runes[:maxSynthesisChar])
	}

	vs := voiceSetting{VoiceID: voiceID, Speed: 1.0, Vol: 1.0, Pitch: 0}
	if _, ok := supportedEmotions[emotion]; ok {
		vs.Emotion = emotion
	}
	payload := synthesizeRequest{
		Model:        c.model,
		Text:         text,
		Stream:       false,
		VoiceSetting: vs,
		AudioSetting: audioSetting{SampleRate: 32000, Bitrate: 128000, Format: c.format, Channel: 1},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal synthesis request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		audio, err := c.doRequest(ctx, body)
		if err == nil {
			return audio, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn().Err(err).Int("attempt", attempt).Str("voice", voiceID).Msg("synthesis attempt failed")
		if attempt < maxRetries {
			select {
			case <-time.After(retryBackoff * time.Duration(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("synthesis failed after %d attempts: %w", maxRetries, lastErr)
}

func (c *Client) doRequest(ctx context.Context, body []byte) ([]byte, error) {
	endpoint := c.baseURL
	if c.groupID != "" {
		endpoint += "?GroupId=" + c.groupID
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create synthesis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synthesis request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("synthesis request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result synthesizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode synthesis response: %w", err)
	}
	if result.BaseResp.StatusCode != 0 {
		return nil, fmt.Errorf("synthesis rejected: %d %s", result.BaseResp.StatusCode, result.BaseResp.StatusMsg)
	}
	if result.Data.Audio == "" {
		return nil, fmt.Errorf("synthesis response contained no audio")
	}

	audio, err := hex.DecodeString(result.Data.Audio)
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio hex: %w", err)
	}
	return audio, nil
}
