package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KeLuoJun/MindCast/internal/agent"
	"github.com/KeLuoJun/MindCast/internal/audio"
	"github.com/KeLuoJun/MindCast/internal/config"
	"github.com/KeLuoJun/MindCast/internal/podcast"
	"github.com/KeLuoJun/MindCast/internal/store"
)

// scriptedLLM answers each pipeline prompt kind with a canned reply, keyed on
// prompt markers, so a whole generation run needs no network.
type scriptedLLM struct {
	mu    sync.Mutex
	lineN int
}

const testPlanJSON = `{
	"topic": "价格战的尽头是什么",
	"summary": "一期关于大模型价格战的讨论",
	"opening": {"hook": "一夜之间全线降价", "stance": "我有点怀疑"},
	"talking_points": [
		{"text": "降价动机", "depth_hint": "成本结构", "conflict_setup": "烧钱还是红利"},
		{"text": "小厂的生路", "depth_hint": "差异化", "conflict_setup": "跟还是不跟"},
		{"text": "用户的账单", "depth_hint": "真实成本", "conflict_setup": "羊毛出在谁身上"}
	],
	"closing": {"question": "你愿意付费吗", "takeaway": "免费最贵"},
	"unexpected_angle": "清场信号",
	"climax_index": 1
}`

func (s *scriptedLLM) Chat(_ context.Context, turns []podcast.ConversationTurn, _ float32, _ int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	last := turns[len(turns)-1].Content
	switch {
	case strings.Contains(last, "请你作为播客主编，从中挑选"):
		return `{"index": 1, "topic": "大模型价格战：谁先扛不住", "reason": "有张力", "search_queries": ["价格战 成本"]}`, nil
	case strings.Contains(last, "策划一期节目大纲"):
		return testPlanJSON, nil
	case strings.Contains(last, "need_fresh_search"):
		return `{"need_fresh_search": true, "reason": "需要最新数据", "focus": ""}`, nil
	case strings.Contains(last, "撰写一篇"):
		return "价格战的尽头\n\n这是一篇完整的文章正文。", nil
	default:
		s.lineN++
		return fmt.Sprintf(`{"text": "这是第%d句完整的发言内容", "ssml_text": "这是第%d句完整的发言内容<#0.3#>", "emotion": "calm"}`, s.lineN, s.lineN), nil
	}
}

type fakeNews struct {
	items     []podcast.NewsItem
	topicErr  error
	detailErr error
}

func (f *fakeNews) TopicNews(context.Context, string, int) ([]podcast.NewsItem, error) {
	return f.items, f.topicErr
}

func (f *fakeNews) SearchDetail(_ context.Context, query string) (podcast.DetailedInfo, error) {
	if f.detailErr != nil {
		return podcast.DetailedInfo{}, f.detailErr
	}
	return podcast.DetailedInfo{Query: query, Answer: "关于" + query + "的研究摘要"}, nil
}

// fakeTTS returns the line text as audio bytes; failTexts force errors.
type fakeTTS struct {
	mu        sync.Mutex
	calls     int
	failTexts []string
}

func (f *fakeTTS) Synthesize(_ context.Context, text, _, _ string) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	for _, fail := range f.failTexts {
		if strings.Contains(text, fail) {
			return nil, errors.New("synthesis rejected")
		}
	}
	return []byte(text), nil
}

type fakeStitcher struct {
	mu       sync.Mutex
	segments []audio.Segment
	duration float64
	err      error
}

func (f *fakeStitcher) Stitch(_ context.Context, segments []audio.Segment, _ string) (float64, error) {
	f.mu.Lock()
	f.segments = segments
	f.mu.Unlock()
	return f.duration, f.err
}

func testSettings(t *testing.T) *config.Settings {
	t.Helper()
	return &config.Settings{
		MiniMaxAudioFormat:      "mp3",
		OutputDir:               t.TempDir(),
		MaxGuests:               3,
		TargetWordCountMax:      2000,
		ContextWindowTurns:      16,
		InterruptionProbability: 0,
		MaxInterruptions:        2,
		SimilarityThreshold:     podcast.DefaultSimilarityThreshold,
		SynthesisConcurrency:    4,
	}
}

func testOrchestrator(t *testing.T, cfg *config.Settings, guestCount int) (*Orchestrator, *fakeStitcher, *store.Store) {
	t.Helper()
	st, err := store.New(cfg.OutputDir)
	require.NoError(t, err)
	stitcher := &fakeStitcher{duration: 42.5}
	o := New(cfg, &scriptedLLM{}, &fakeNews{items: testNewsItems()}, &fakeTTS{}, stitcher,
		nil, st, podcast.DefaultHostPersona, podcast.DefaultGuestPersonas[:guestCount],
		rand.New(rand.NewSource(1))) // #nosec G404 -- deterministic test seed
	return o, stitcher, st
}

func testNewsItems() []podcast.NewsItem {
	return []podcast.NewsItem{
		{Title: "大模型价格战全面爆发", URL: "https://a.example", Content: "多家厂商宣布降价", Score: 0.9},
		{Title: "机器人进入家庭", URL: "https://b.example", Content: "新品发布", Score: 0.8},
	}
}

func TestGenerateEpisodeDeterministic(t *testing.T) {
	cfg := testSettings(t)
	o, stitcher, st := testOrchestrator(t, cfg, 2)

	var mu sync.Mutex
	var stages []string
	ep, err := o.GenerateEpisode(context.Background(), Options{
		GuestNames: []string{"赵明远", "苏婉清"},
		Progress: func(stage, _ string) {
			mu.Lock()
			stages = append(stages, stage)
			mu.Unlock()
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "大模型价格战：谁先扛不住", ep.Topic)
	assert.Equal(t, "价格战的尽头是什么", ep.Title)
	assert.Equal(t, []string{"赵明远", "苏婉清"}, ep.Guests)

	// with interruptions off the line count is fully determined by the plan:
	// cold open + opening, then per point (host intro + 2 guests), two
	// transitions, the host's pre-closing prompt, two guest change points
	// and the closing
	assert.Len(t, ep.Dialogue, 17)

	// cold open is the fixed format line, the pre-closing prompt and closing
	// belong to the host
	hostName := podcast.DefaultHostPersona.Name
	assert.Equal(t, hostName, ep.Dialogue[0].Speaker)
	assert.Contains(t, ep.Dialogue[0].Text, "欢迎收听 MindCast")
	assert.Equal(t, hostName, ep.Dialogue[len(ep.Dialogue)-4].Speaker)
	assert.Equal(t, hostName, ep.Dialogue[len(ep.Dialogue)-1].Speaker)

	// every line got a voice
	for _, line := range ep.Dialogue {
		assert.NotEmpty(t, line.VoiceID, "line by %s has no voice", line.Speaker)
	}

	assert.Greater(t, ep.WordCount, 0)
	assert.Equal(t, 42.5, ep.DurationSeconds)
	assert.NotEmpty(t, ep.AudioPath)
	assert.NotEmpty(t, ep.Article)

	// episode persisted, run log written
	eps, err := st.ListEpisodes()
	require.NoError(t, err)
	require.Len(t, eps, 1)
	assert.Equal(t, ep.ID, eps[0].ID)
	_, statErr := os.Stat(ep.RunLogPath)
	assert.NoError(t, statErr)

	// one audio segment per line, in transcript order
	require.Len(t, stitcher.segments, len(ep.Dialogue))
	for i, seg := range stitcher.segments {
		assert.Contains(t, string(seg.Data), ep.Dialogue[i].Text)
	}

	assert.Contains(t, stages, "fetch_news")
	assert.Contains(t, stages, "dialogue")
	assert.Contains(t, stages, "persist")
}

func TestGenerateEpisodeSameSeedSameShape(t *testing.T) {
	run := func() int {
		cfg := testSettings(t)
		cfg.InterruptionProbability = 0.5
		o, _, _ := testOrchestrator(t, cfg, 2)
		ep, err := o.GenerateEpisode(context.Background(), Options{GuestNames: []string{"赵明远", "苏婉清"}})
		require.NoError(t, err)
		return len(ep.Dialogue)
	}
	assert.Equal(t, run(), run())
}

func TestGenerateEpisodeExplicitTopic(t *testing.T) {
	cfg := testSettings(t)
	st, err := store.New(cfg.OutputDir)
	require.NoError(t, err)

	// news is down; the explicit topic keeps the run alive
	news := &fakeNews{topicErr: errors.New("search api down")}
	o := New(cfg, &scriptedLLM{}, news, &fakeTTS{}, &fakeStitcher{duration: 10},
		nil, st, podcast.DefaultHostPersona, podcast.DefaultGuestPersonas[:1],
		rand.New(rand.NewSource(1))) // #nosec G404 -- deterministic test seed

	ep, err := o.GenerateEpisode(context.Background(), Options{Topic: "量子计算的冬天"})
	require.NoError(t, err)
	assert.Equal(t, "量子计算的冬天", ep.Topic)
	assert.Empty(t, ep.NewsSources)
}

func TestGenerateEpisodeNewsFailureWithoutTopic(t *testing.T) {
	cfg := testSettings(t)
	st, err := store.New(cfg.OutputDir)
	require.NoError(t, err)

	news := &fakeNews{topicErr: errors.New("search api down")}
	o := New(cfg, &scriptedLLM{}, news, &fakeTTS{}, &fakeStitcher{}, nil, st,
		podcast.DefaultHostPersona, podcast.DefaultGuestPersonas[:1], rand.New(rand.NewSource(1))) // #nosec G404

	_, err = o.GenerateEpisode(context.Background(), Options{})
	assert.Error(t, err)
}

func TestGenerateEpisodeWordCap(t *testing.T) {
	cfg := testSettings(t)
	cfg.TargetWordCountMax = 1 // every line overshoots immediately
	o, _, _ := testOrchestrator(t, cfg, 2)

	ep, err := o.GenerateEpisode(context.Background(), Options{GuestNames: []string{"赵明远", "苏婉清"}})
	require.NoError(t, err)

	// cold open + opening, all talking points skipped, then the pre-closing
	// prompt, the two guest change points and the closing still play out
	assert.Len(t, ep.Dialogue, 6)
	assert.Equal(t, podcast.DefaultHostPersona.Name, ep.Dialogue[len(ep.Dialogue)-1].Speaker)
}

func TestGenerateEpisodeInterruptionCap(t *testing.T) {
	cfg := testSettings(t)
	cfg.InterruptionProbability = 1.0
	cfg.MaxInterruptions = 2
	o, _, _ := testOrchestrator(t, cfg, 2)

	ep, err := o.GenerateEpisode(context.Background(), Options{GuestNames: []string{"赵明远", "苏婉清"}})
	require.NoError(t, err)

	cutOff := 0
	for _, line := range ep.Dialogue {
		if strings.HasSuffix(line.Text, "——") {
			cutOff++
		}
	}
	assert.Equal(t, 2, cutOff)

	// interruption rounds: host intro + 3-line sequence; transitions and
	// closing structure unchanged
	assert.Len(t, ep.Dialogue, 19)
}

func TestResolveGuestsSampling(t *testing.T) {
	cfg := testSettings(t)
	o, _, _ := testOrchestrator(t, cfg, 3)

	pool := map[string]struct{}{}
	for _, p := range podcast.DefaultGuestPersonas[:3] {
		pool[p.Name] = struct{}{}
	}

	// empty request draws a fresh roster of one or two guests each time
	sizes := map[int]int{}
	for i := 0; i < 50; i++ {
		guests, err := o.resolveGuests(nil)
		require.NoError(t, err)
		require.NotEmpty(t, guests)
		require.LessOrEqual(t, len(guests), 2)
		sizes[len(guests)]++

		seen := map[string]struct{}{}
		for _, g := range guests {
			_, known := pool[g.Name()]
			assert.True(t, known, "sampled unknown guest %s", g.Name())
			_, dup := seen[g.Name()]
			assert.False(t, dup, "guest %s sampled twice", g.Name())
			seen[g.Name()] = struct{}{}
		}
	}
	assert.Positive(t, sizes[1])
	assert.Positive(t, sizes[2])

	t.Run("explicit names bypass sampling", func(t *testing.T) {
		names := []string{podcast.DefaultGuestPersonas[2].Name, podcast.DefaultGuestPersonas[0].Name}
		guests, err := o.resolveGuests(names)
		require.NoError(t, err)
		require.Len(t, guests, 2)
		assert.Equal(t, names[0], guests[0].Name())
		assert.Equal(t, names[1], guests[1].Name())
	})

	t.Run("single-guest pool never oversamples", func(t *testing.T) {
		o, _, _ := testOrchestrator(t, testSettings(t), 1)
		for i := 0; i < 10; i++ {
			guests, err := o.resolveGuests(nil)
			require.NoError(t, err)
			assert.Len(t, guests, 1)
		}
	})
}

func TestGenerateEpisodeGuestValidation(t *testing.T) {
	cfg := testSettings(t)
	o, _, _ := testOrchestrator(t, cfg, 2)

	t.Run("unknown guest", func(t *testing.T) {
		_, err := o.GenerateEpisode(context.Background(), Options{GuestNames: []string{"不存在的人"}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown guest")
	})

	t.Run("duplicate guest", func(t *testing.T) {
		name := podcast.DefaultGuestPersonas[0].Name
		_, err := o.GenerateEpisode(context.Background(), Options{GuestNames: []string{name, name}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate")
	})

	t.Run("too many guests", func(t *testing.T) {
		cfg := testSettings(t)
		cfg.MaxGuests = 1
		o, _, _ := testOrchestrator(t, cfg, 2)
		names := []string{podcast.DefaultGuestPersonas[0].Name, podcast.DefaultGuestPersonas[1].Name}
		_, err := o.GenerateEpisode(context.Background(), Options{GuestNames: names})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "maximum")
	})
}

func TestSynthesizeFromScript(t *testing.T) {
	cfg := testSettings(t)
	o, stitcher, st := testOrchestrator(t, cfg, 1)

	ep := podcast.NewEpisode("旧话题", []string{"赵明远"})
	ep.Dialogue = []podcast.DialogueLine{
		{Speaker: "林晨曦", Text: "第一句", VoiceID: podcast.HostVoiceID},
		{Speaker: "赵明远", Text: "第二句", VoiceID: "male-qn-qingse"},
	}
	path, err := st.SaveEpisode(ep)
	require.NoError(t, err)

	got, err := o.SynthesizeFromScript(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, ep.ID, got.ID)
	assert.Equal(t, 42.5, got.DurationSeconds)
	require.Len(t, stitcher.segments, 2)
	assert.Equal(t, "第一句", string(stitcher.segments[0].Data))

	t.Run("no dialogue rejected", func(t *testing.T) {
		empty := podcast.NewEpisode("空", nil)
		path, err := st.SaveEpisode(empty)
		require.NoError(t, err)
		_, err = o.SynthesizeFromScript(context.Background(), path)
		assert.Error(t, err)
	})
}

func TestBuildVoiceMap(t *testing.T) {
	llm := &scriptedLLM{}

	t.Run("host fixed, configured guests keep their voice", func(t *testing.T) {
		guests := []*agent.Guest{
			agent.NewGuest(podcast.PersonaConfig{Name: "甲", Gender: podcast.Male, VoiceID: "male-qn-jingying"}, llm),
			agent.NewGuest(podcast.PersonaConfig{Name: "乙", Gender: podcast.Female}, llm),
		}
		voices := buildVoiceMap(podcast.DefaultHostPersona, guests)
		assert.Equal(t, podcast.HostVoiceID, voices[podcast.DefaultHostPersona.Name])
		assert.Equal(t, "male-qn-jingying", voices["甲"])
		assert.NotEmpty(t, voices["乙"])
	})

	t.Run("unconfigured guests draw distinct voices", func(t *testing.T) {
		guests := []*agent.Guest{
			agent.NewGuest(podcast.PersonaConfig{Name: "甲", Gender: podcast.Female}, llm),
			agent.NewGuest(podcast.PersonaConfig{Name: "乙", Gender: podcast.Female}, llm),
		}
		voices := buildVoiceMap(podcast.DefaultHostPersona, guests)
		assert.NotEqual(t, voices["甲"], voices["乙"])
		// host voice is reserved, not reused for guests
		assert.NotEqual(t, podcast.HostVoiceID, voices["甲"])
		assert.NotEqual(t, podcast.HostVoiceID, voices["乙"])
	})
}
