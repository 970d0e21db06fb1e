package podcast

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Arc positions assigned to talking points to vary narrative instructions.
const (
	ArcExposition    = "exposition"
	ArcRisingAction  = "rising_action"
	ArcClimax        = "climax"
	ArcFallingAction = "falling_action"
)

// Talking-point count bounds enforced by plan normalization.
const (
	MinTalkingPoints = 3
	MaxTalkingPoints = 5
)

const fallbackUnexpectedAngle = "这件事背后有一个大家没注意到的变量"

var fallbackTalkingPoints = []string{
	"把这件事的来龙去脉讲清楚：到底发生了什么",
	"深入技术和商业逻辑——用普通人能懂的白话",
	"回到现实：这件事对普通人意味着什么",
}

// TalkingPoint is one outline entry in canonical form. The hint fields may be
// empty; instruction builders fall back to generic phrasing then.
type TalkingPoint struct {
	Text          string `json:"text"`
	DepthHint     string `json:"depth_hint,omitempty"`
	ConflictSetup string `json:"conflict_setup,omitempty"`
	ExampleNeeded string `json:"example_needed,omitempty"`
}

// Opening is the planned hook for the first host line.
type Opening struct {
	Hook   string `json:"hook,omitempty"`
	Stance string `json:"stance,omitempty"`
}

// Closing is the planned wrap-up frame for the final host line.
type Closing struct {
	Question string `json:"question,omitempty"`
	Takeaway string `json:"takeaway,omitempty"`
}

// EpisodePlan is the structured outline produced by the host's planning call,
// after normalization. Downstream code reads only this canonical shape.
type EpisodePlan struct {
	Topic           string         `json:"topic"`
	Summary         string         `json:"summary"`
	TalkingPoints   []TalkingPoint `json:"talking_points"`
	Opening         Opening        `json:"opening"`
	Closing         Closing        `json:"closing"`
	KeyQuestions    []string       `json:"key_questions,omitempty"`
	UnexpectedAngle string         `json:"unexpected_angle"`
	ClimaxIndex     int            `json:"climax_index"` // index into TalkingPoints
}

// planRaw tolerates the loose shapes the model may emit: talking points as
// plain strings or hint-bearing objects, opening/closing as text or objects.
type planRaw struct {
	Topic           string            `json:"topic"`
	Summary         string            `json:"summary"`
	TalkingPoints   []json.RawMessage `json:"talking_points"`
	Opening         json.RawMessage   `json:"opening"`
	Closing         json.RawMessage   `json:"closing"`
	KeyQuestions    []string          `json:"key_questions"`
	UnexpectedAngle string            `json:"unexpected_angle"`
	ClimaxIndex     *int              `json:"climax_index"`
}

// ParsePlan decodes a planner reply into the canonical EpisodePlan shape and
// normalizes it. The input must already be stripped of markdown fences.
func ParsePlan(data []byte) (EpisodePlan, error) {
	var raw planRaw
	if err := json.Unmarshal(data, &raw); err != nil {
		return EpisodePlan{}, fmt.Errorf("failed to parse episode plan: %w", err)
	}

	plan := EpisodePlan{
		Topic:           strings.TrimSpace(raw.Topic),
		Summary:         strings.TrimSpace(raw.Summary),
		KeyQuestions:    raw.KeyQuestions,
		UnexpectedAngle: strings.TrimSpace(raw.UnexpectedAngle),
		ClimaxIndex:     -1,
	}
	if raw.ClimaxIndex != nil {
		plan.ClimaxIndex = *raw.ClimaxIndex
	}

	for _, tp := range raw.TalkingPoints {
		point, ok := decodeTalkingPoint(tp)
		if ok {
			plan.TalkingPoints = append(plan.TalkingPoints, point)
		}
	}
	plan.Opening = decodeOpening(raw.Opening)
	plan.Closing = decodeClosing(raw.Closing)

	plan.Normalize()
	return plan, nil
}

func decodeTalkingPoint(data json.RawMessage) (TalkingPoint, bool) {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		text = strings.TrimSpace(text)
		return TalkingPoint{Text: text}, text != ""
	}
	var point TalkingPoint
	if err := json.Unmarshal(data, &point); err == nil {
		point.Text = strings.TrimSpace(point.Text)
		return point, point.Text != ""
	}
	return TalkingPoint{}, false
}

func decodeOpening(data json.RawMessage) Opening {
	if len(data) == 0 {
		return Opening{}
	}
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		return Opening{Hook: strings.TrimSpace(text)}
	}
	var opening Opening
	_ = json.Unmarshal(data, &opening)
	return opening
}

func decodeClosing(data json.RawMessage) Closing {
	if len(data) == 0 {
		return Closing{}
	}
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		return Closing{Question: strings.TrimSpace(text)}
	}
	var closing Closing
	_ = json.Unmarshal(data, &closing)
	return closing
}

// Normalize enforces the plan invariants: 3-5 talking points (padded with
// generic fallbacks or truncated), a non-empty unexpected angle, and a climax
// index that points at a real mid-outline position.
func (p *EpisodePlan) Normalize() {
	for len(p.TalkingPoints) < MinTalkingPoints {
		fallback := fallbackTalkingPoints[len(p.TalkingPoints)%len(fallbackTalkingPoints)]
		p.TalkingPoints = append(p.TalkingPoints, TalkingPoint{Text: fallback})
	}
	if len(p.TalkingPoints) > MaxTalkingPoints {
		p.TalkingPoints = p.TalkingPoints[:MaxTalkingPoints]
	}
	if p.UnexpectedAngle == "" {
		p.UnexpectedAngle = fallbackUnexpectedAngle
	}
	last := len(p.TalkingPoints) - 1
	if p.ClimaxIndex <= 0 || p.ClimaxIndex >= last {
		p.ClimaxIndex = last - 1
	}
}

// ArcPosition tags each talking point: first point is exposition, last is
// falling action, the designated climax point is climax, the rest rise.
func (p *EpisodePlan) ArcPosition(idx int) string {
	last := len(p.TalkingPoints) - 1
	switch {
	case idx <= 0:
		return ArcExposition
	case idx >= last:
		return ArcFallingAction
	case idx == p.ClimaxIndex:
		return ArcClimax
	default:
		return ArcRisingAction
	}
}

// PointTexts returns just the talking-point texts, for prompts and logs.
func (p *EpisodePlan) PointTexts() []string {
	texts := make([]string, 0, len(p.TalkingPoints))
	for _, tp := range p.TalkingPoints {
		texts = append(texts, tp.Text)
	}
	return texts
}

// OpeningText flattens the opening hook/stance into one instruction hint.
func (p *EpisodePlan) OpeningText() string {
	parts := make([]string, 0, 2)
	if p.Opening.Hook != "" {
		parts = append(parts, "开场钩子："+p.Opening.Hook)
	}
	if p.Opening.Stance != "" {
		parts = append(parts, "开场态度："+p.Opening.Stance)
	}
	return strings.Join(parts, " ")
}

// ClosingText flattens the closing question/takeaway into one hint.
func (p *EpisodePlan) ClosingText() string {
	parts := make([]string, 0, 2)
	if p.Closing.Question != "" {
		parts = append(parts, "留给听众的问题："+p.Closing.Question)
	}
	if p.Closing.Takeaway != "" {
		parts = append(parts, "主持人想带走的："+p.Closing.Takeaway)
	}
	return strings.Join(parts, " ")
}
