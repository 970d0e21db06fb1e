package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/KeLuoJun/MindCast/internal/podcast"
)

// Temperature presets for the host's different call types.
const (
	topicTemperature    = 0.7
	planTemperature     = 0.7
	lineTemperature     = 0.85
	decideTemperature   = 0.2
	articleTemperature  = 0.75
	lineMaxTokens       = 800
	planMaxTokens       = 1500
	topicMaxTokens      = 1024
	decideMaxTokens     = 400
	articleMaxTokens    = 3000
	newsPreviewRunes    = 200
	ragSnippetRunes     = 280
	maxRAGSnippetsShown = 6
)

// Host is the podcast host agent: selects topics, plans episodes, drives the
// conversation and writes the companion article.
type Host struct {
	*Agent
	persona podcast.PersonaConfig
}

// NewHost wraps the host persona into an agent.
func NewHost(persona podcast.PersonaConfig, llm ChatService) *Host {
	return &Host{
		Agent:   NewAgent(persona.Name, podcast.BuildSystemPrompt(persona, true), llm),
		persona: persona,
	}
}

// Persona returns the host's immutable persona.
func (h *Host) Persona() podcast.PersonaConfig { return h.persona }

// TopicChoice is the outcome of topic selection: the framed topic plus the
// follow-up research queries.
type TopicChoice struct {
	Index         int      `json:"index"` // 1-based news item index
	Topic         string   `json:"topic"`
	Reason        string   `json:"reason"`
	SearchQueries []string `json:"search_queries"`
}

// SelectTopic asks the model to pick one compelling news item, then enforces
// non-repetition against recent topics. Repetition never fails the run: a
// repeated pick falls back to the least-similar remaining item, and when
// every candidate repeats, a "what's new" framing is forced instead.
func (h *Host) SelectTopic(ctx context.Context, news []podcast.NewsItem, recentTopics []string, threshold float64) (TopicChoice, error) {
	if len(news) == 0 {
		return TopicChoice{}, fmt.Errorf("no news items to select from")
	}

	var summary strings.Builder
	for i, item := range news {
		fmt.Fprintf(&summary, "%d. 【%s】%s\n", i+1, item.Title, podcast.TruncateRunes(item.Content, newsPreviewRunes))
	}

	var recentBlock string
	if len(recentTopics) > 0 {
		recentBlock = "\n【近期已做过的话题（必须避开，不要重复）】\n- " + strings.Join(recentTopics, "\n- ") + "\n"
	}

	prompt := fmt.Sprintf(`以下是今天获取到的%d条AI相关资讯：

%s%s
请你作为播客主编，从中挑选1个最具讨论价值的方向来做今天这期播客。

选择标准：
1. 话题本身有张力——存在争议、悖论、意外转折，而不只是又一个"XX发布了XX"
2. 能从多个角度切入深度讨论（技术原理、商业逻辑、社会影响、伦理边界）
3. 和普通听众的生活有真实关联
4. 不是炒冷饭——优先选有新信息增量的话题

请以JSON格式返回你的选择（不要包含markdown代码块标记）：
{
    "index": 选中的新闻序号,
    "topic": "提炼的播客话题方向（一句话，要有观点倾向而非纯中性描述）",
    "reason": "选择理由（2-3句话）",
    "search_queries": ["后续深度搜索关键词1", "关键词2", "关键词3", "关键词4", "关键词5"]
}`, len(news), summary.String(), recentBlock)

	choice := TopicChoice{Index: 1, Topic: news[0].Title, Reason: "默认选择首条资讯", SearchQueries: []string{news[0].Title}}
	reply, err := h.Produce(ctx, prompt, topicTemperature, topicMaxTokens)
	if err != nil {
		return TopicChoice{}, fmt.Errorf("topic selection failed: %w", err)
	}
	if jsonErr := json.Unmarshal([]byte(extractJSONObject(stripCodeFence(reply))), &choice); jsonErr != nil {
		log.Warn().Err(jsonErr).Msg("topic selection reply unparseable, using first news item")
	}
	if choice.Topic == "" {
		choice.Topic = news[0].Title
	}

	if podcast.TopicRepeats(choice.Topic, recentTopics, threshold) {
		choice = h.fallbackTopic(choice, news, recentTopics, threshold)
	}
	if len(choice.SearchQueries) == 0 {
		choice.SearchQueries = DeriveQueries(choice.Topic)
	}
	return choice, nil
}

// fallbackTopic deterministically re-picks when the model's choice repeats a
// recent topic: least-similar remaining item wins, with a differentiated
// angle; if everything is similar, the original pick gets a what's-new frame.
func (h *Host) fallbackTopic(chosen TopicChoice, news []podcast.NewsItem, recentTopics []string, threshold float64) TopicChoice {
	bestIdx, bestSim := -1, 2.0
	for i, item := range news {
		if i+1 == chosen.Index {
			continue
		}
		sim := podcast.MaxSimilarity(item.Title, recentTopics)
		if sim < bestSim {
			bestIdx, bestSim = i, sim
		}
	}

	if bestIdx >= 0 && bestSim < threshold {
		title := news[bestIdx].Title
		log.Info().Str("rejected", chosen.Topic).Str("fallback", title).Msg("topic repeated recent episode, falling back")
		return TopicChoice{
			Index:         bestIdx + 1,
			Topic:         title + "：被忽略的另一面",
			Reason:        "原选题与近期节目重复，改选与历史最不相似的资讯",
			SearchQueries: DeriveQueries(title),
		}
	}

	// every candidate resembles a recent topic; reframe instead of failing
	log.Info().Str("topic", chosen.Topic).Msg("all candidates repeat recent topics, forcing what's-new framing")
	chosen.Topic = strings.TrimSpace(chosen.Topic) + "：这周出现了什么新变化"
	chosen.Reason = "所有候选均与近期话题相似，聚焦新增信息量"
	chosen.SearchQueries = DeriveQueries(chosen.Topic)
	return chosen
}

// DeriveQueries builds the default research queries for an explicitly given
// topic, mirroring what topic selection would have produced.
func DeriveQueries(topic string) []string {
	return []string{topic, topic + " 最新进展", topic + " 行业争议"}
}

// PlanEpisode turns the topic plus research bundle into a normalized episode
// outline. A malformed reply degrades to a generic plan, never an error.
func (h *Host) PlanEpisode(ctx context.Context, choice TopicChoice, research []podcast.DetailedInfo, guestNames []string) (podcast.EpisodePlan, error) {
	var info strings.Builder
	for _, d := range research {
		fmt.Fprintf(&info, "【搜索角度: %s】\n%s\n\n", d.Query, d.Answer)
	}

	prompt := fmt.Sprintf(`基于以下信息，请为今天的播客策划一期节目大纲。

【今日话题】
%s

【选题理由】
%s

【深度资料】
%s
【参与嘉宾】
%s

请以JSON格式返回节目大纲（不要包含markdown代码块标记）：
{
    "topic": "节目主题（带观点色彩的标题，像真实播客节目名）",
    "summary": "2-3句话播客摘要，要让人有点击欲望",
    "opening": {"hook": "用来抓注意力的开场钩子", "stance": "主持人的初始态度或困惑"},
    "talking_points": [
        {"text": "讨论要点", "depth_hint": "值得深挖的方向", "conflict_setup": "可能的观点冲突", "example_needed": "需要的案例或数据"}
    ],
    "closing": {"question": "留给听众的开放问题", "takeaway": "主持人自己带走的一个判断"},
    "key_questions": ["贯穿全场的关键问题"],
    "unexpected_angle": "一个大多数人没想到的切入角度",
    "climax_index": 最适合做全场高潮的要点序号（从0开始）
}

要求：
- 讨论要点控制在3-5个，适配5分钟播客
- 要点要像真人聊天前"盘"话题的思路，不要论文大纲
- 标注出可能产生观点冲突的地方——碰撞越多越好听`,
		choice.Topic, choice.Reason, info.String(), strings.Join(guestNames, "、"))

	reply, err := h.Produce(ctx, prompt, planTemperature, planMaxTokens)
	if err != nil {
		return podcast.EpisodePlan{}, fmt.Errorf("episode planning failed: %w", err)
	}

	plan, parseErr := podcast.ParsePlan([]byte(extractJSONObject(stripCodeFence(reply))))
	if parseErr != nil {
		log.Warn().Err(parseErr).Msg("episode plan unparseable, using generic outline")
		plan = podcast.EpisodePlan{
			Topic:   choice.Topic,
			Summary: "关于最新AI话题的深度讨论",
			Opening: podcast.Opening{Hook: "欢迎来到MindCast"},
			Closing: podcast.Closing{Question: "这件事接下来会走向哪里？"},
		}
		plan.Normalize()
	}
	if plan.Topic == "" {
		plan.Topic = choice.Topic
	}
	return plan, nil
}

// SearchDecision is the host's call on whether cached knowledge suffices for
// one research query or a fresh web search is warranted.
type SearchDecision struct {
	NeedFreshSearch bool   `json:"need_fresh_search"`
	Reason          string `json:"reason"`
	Focus           string `json:"focus"`
}

// DecideNeedFreshSearch is a cheap low-temperature classification call.
// Zero available snippets always force a fresh search, whatever the model
// says.
func (h *Host) DecideNeedFreshSearch(ctx context.Context, query string, ragSnippets []string) SearchDecision {
	shown := ragSnippets
	if len(shown) > maxRAGSnippetsShown {
		shown = shown[:maxRAGSnippetsShown]
	}
	var ragText strings.Builder
	for i, s := range shown {
		fmt.Fprintf(&ragText, "%d. %s\n", i+1, podcast.TruncateRunes(s, ragSnippetRunes))
	}
	ragBlock := ragText.String()
	if ragBlock == "" {
		ragBlock = "（暂无）"
	}

	prompt := fmt.Sprintf(`你是播客主编，需要判断当前资料是否足够支撑这一搜索角度。

【搜索角度】
%s

【知识库检索结果】
%s

判断规则：
1. 如果内容太少、过旧、信息密度不够或缺关键事实，返回 need_fresh_search=true
2. 如果已足够支撑该角度讨论，返回 need_fresh_search=false
3. 如果话题明显需要最新动态（如"刚发布/本周/最新进展"），优先返回 true

请严格返回JSON（不要markdown代码块）：
{"need_fresh_search": true或false, "reason": "一句话原因", "focus": "若需要新搜索给出更聚焦的搜索意图，否则给空字符串"}`, query, ragBlock)

	decision := SearchDecision{NeedFreshSearch: len(ragSnippets) < 2, Reason: "fallback: 知识库信息不足时补充搜索", Focus: query}
	reply, err := h.Produce(ctx, prompt, decideTemperature, decideMaxTokens)
	if err != nil {
		log.Warn().Err(err).Str("query", query).Msg("fresh-search decision call failed, using fallback")
	} else if jsonErr := json.Unmarshal([]byte(extractJSONObject(stripCodeFence(reply))), &decision); jsonErr != nil {
		log.Warn().Err(jsonErr).Str("query", query).Msg("fresh-search decision unparseable, using fallback")
	}
	if len(ragSnippets) == 0 {
		decision.NeedFreshSearch = true
	}
	return decision
}

// GenerateLine produces one host utterance for the shared transcript.
func (h *Host) GenerateLine(ctx context.Context, shared []podcast.ConversationTurn, instruction string) (podcast.DialogueLine, error) {
	prompt := fmt.Sprintf(`【主持人指令】%s

请生成你（%s）在这个位置的发言。

要求：
- 一段自然的口语化发言，50-150字左右
- 像在朋友聚会上聊天那样自然——可以口语化、可以断句
- 不要用"关于这个话题"、"首先我们来看"之类的主持人套话
- 如果要追问，像真正好奇那样追问
- 按照语音标注规则自然地加入停顿标记 <#X#> 和语气词标签

请以JSON格式返回（不要包含markdown代码块标记）：
{"text": "用于展示的纯净文本（不含标注）", "ssml_text": "带语音标注的文本", "emotion": "当前情感状态（如 happy, neutral, excited, thoughtful）"}`,
		instruction, h.Name())

	reply, err := h.ProduceShared(ctx, shared, prompt, lineTemperature, lineMaxTokens)
	if err != nil {
		return podcast.DialogueLine{}, fmt.Errorf("host line generation failed: %w", err)
	}
	text, ssml, emotion := parseLineReply(h.Name(), reply)
	return podcast.DialogueLine{
		Speaker:    h.Name(),
		Text:       text,
		SSMLText:   ssml,
		Emotion:    emotion,
		VoiceID:    h.persona.VoiceID,
		PauseAfter: podcast.DefaultPauseAfter,
	}, nil
}

// WriteArticle turns the finished episode material into a standalone
// long-form article.
func (h *Host) WriteArticle(ctx context.Context, ep *podcast.Episode, plan podcast.EpisodePlan, research []podcast.DetailedInfo) (string, error) {
	var researchSummary strings.Builder
	for _, info := range research {
		fmt.Fprintf(&researchSummary, "【%s】\n%s\n", info.Query, info.Answer)
		for i, r := range info.Results {
			if i >= 3 {
				break
			}
			fmt.Fprintf(&researchSummary, "- %s: %s\n", r.Title, podcast.TruncateRunes(r.Content, 200))
		}
	}

	var excerpt strings.Builder
	for i, line := range ep.Dialogue {
		if i >= 40 {
			break
		}
		fmt.Fprintf(&excerpt, "%s：%s\n", line.Speaker, line.Text)
	}

	systemPrompt := `你是一位精通科技与社会议题的中文深度内容编辑，擅长将播客讨论提炼为独立成篇的高质量文章。
写作风格：观点鲜明、逻辑严密；用具体案例、数据和类比解释复杂概念；语言克制有力；结构清晰但不生硬。
绝对禁止："值得注意的是"、"综上所述"、"赋能"、"引领"、"让我们拭目以待"之类的空洞写法。`

	userPrompt := fmt.Sprintf(`本期播客主题：%s

【节目梗概】
%s

【讨论脉络】
%s

【研究背景资料】
%s

【部分对话精华】
%s

请根据以上内容撰写一篇1500-2500字的深度文章。文章要能独立成篇；不要描述"本期节目讨论了……"，直接切入话题；标题要准确传达核心角度。直接输出文章全文（含标题）。`,
		ep.Topic, ep.Summary,
		"· "+strings.Join(plan.PointTexts(), "\n· "),
		podcast.TruncateRunes(researchSummary.String(), 3000),
		excerpt.String())

	turns := []podcast.ConversationTurn{
		{Role: podcast.RoleSystem, Content: systemPrompt},
		{Role: podcast.RoleUser, Content: userPrompt},
	}
	article, err := h.llm.Chat(ctx, turns, articleTemperature, articleMaxTokens)
	if err != nil {
		return "", fmt.Errorf("article generation failed: %w", err)
	}
	return strings.TrimSpace(article), nil
}
