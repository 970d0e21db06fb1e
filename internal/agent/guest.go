package agent

import (
	"context"
	"fmt"

	"github.com/KeLuoJun/MindCast/internal/podcast"
)

// Guest is a personality-driven discussion contributor drawn from the pool.
type Guest struct {
	*Agent
	persona podcast.PersonaConfig
}

// NewGuest wraps a guest persona into an agent.
func NewGuest(persona podcast.PersonaConfig, llm ChatService) *Guest {
	return &Guest{
		Agent:   NewAgent(persona.Name, podcast.BuildSystemPrompt(persona, false), llm),
		persona: persona,
	}
}

// Persona returns the guest's immutable persona.
func (g *Guest) Persona() podcast.PersonaConfig { return g.persona }

// GenerateLine produces one guest utterance for the shared transcript.
func (g *Guest) GenerateLine(ctx context.Context, shared []podcast.ConversationTurn, instruction string) (podcast.DialogueLine, error) {
	prompt := fmt.Sprintf(`【嘉宾发言指令】%s

请生成你（%s，%s，%s）在这个位置的发言。

要求：
- 一段自然的口语化发言，50-200字左右
- 体现你%s的性格内核和%s的独特视角
- 像在朋友聚会上分享真实想法那样说话：可以犹豫、可以激动、可以吐槽
- 给出有深度的洞见——基于你的专业经验和个人判断，不要泛泛而谈
- 遇到复杂概念用类比拆解；引用你经历过的具体案例
- 可以大胆反驳前面的观点——"我倒不这么看"、"这里面有个问题被忽略了"
- 按照语音标注规则自然地加入停顿标记 <#X#> 和语气词标签

严禁出现："非常好的问题"之类的谄媚语；"此外"、"综上所述"等AI痕迹词；"赋能"、"打造"等宣传体。

请以JSON格式返回（不要包含markdown代码块标记）：
{"text": "用于展示的纯净文本（不含标注）", "ssml_text": "带语音标注的文本", "emotion": "当前情感状态（如 happy, neutral, excited, thoughtful, skeptical）"}`,
		instruction, g.Name(), g.persona.MBTI, g.persona.Occupation, g.persona.MBTI, g.persona.Occupation)

	reply, err := g.ProduceShared(ctx, shared, prompt, lineTemperature, lineMaxTokens)
	if err != nil {
		return podcast.DialogueLine{}, fmt.Errorf("guest line generation failed: %w", err)
	}
	text, ssml, emotion := parseLineReply(g.Name(), reply)
	return podcast.DialogueLine{
		Speaker:    g.Name(),
		Text:       text,
		SSMLText:   ssml,
		Emotion:    emotion,
		VoiceID:    g.persona.VoiceID,
		PauseAfter: podcast.DefaultPauseAfter,
	}, nil
}
