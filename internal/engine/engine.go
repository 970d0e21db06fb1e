// Package engine runs the episode generation pipeline end to end: news,
// topic selection, research, planning, dialogue, synthesis, stitching and
// persistence, with every stage recorded in the run log.
package engine

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/KeLuoJun/MindCast/internal/agent"
	"github.com/KeLuoJun/MindCast/internal/audio"
	"github.com/KeLuoJun/MindCast/internal/config"
	"github.com/KeLuoJun/MindCast/internal/knowledge"
	"github.com/KeLuoJun/MindCast/internal/podcast"
	"github.com/KeLuoJun/MindCast/internal/runlog"
	"github.com/KeLuoJun/MindCast/internal/store"
)

// NewsService covers the search operations the pipeline needs.
type NewsService interface {
	TopicNews(ctx context.Context, topic string, maxResults int) ([]podcast.NewsItem, error)
	SearchDetail(ctx context.Context, query string) (podcast.DetailedInfo, error)
}

// Synthesizer turns one line of text into audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID, emotion string) ([]byte, error)
}

// Stitcher assembles audio segments into the episode file.
type Stitcher interface {
	Stitch(ctx context.Context, segments []audio.Segment, outputPath string) (float64, error)
}

// ProgressFunc receives human-readable stage updates during generation.
type ProgressFunc func(stage, message string)

// Options select what to generate.
type Options struct {
	// Topic, when set, skips news-driven topic selection.
	Topic string
	// GuestNames picks guests from the configured pool; empty means the
	// whole pool up to the configured maximum.
	GuestNames []string
	// Progress, when set, receives stage updates.
	Progress ProgressFunc
}

const (
	newsFetchCount      = 8
	maxResearchQueries  = 4
	ragSnippetsPerQuery = 3
)

// Orchestrator wires all services and drives episode generation. Agents are
// built once and reused across sequential runs; histories are reset after
// each episode.
type Orchestrator struct {
	cfg      *config.Settings
	news     NewsService
	tts      Synthesizer
	stitcher Stitcher
	kb       knowledge.Base
	store    *store.Store

	host      *agent.Host
	guestPool map[string]*agent.Guest
	poolOrder []string
	rng       *rand.Rand
}

// New builds the orchestrator. kb nil degrades to the no-op knowledge base;
// rng nil gets a time-seeded source (tests inject a fixed seed).
func New(cfg *config.Settings, llm agent.ChatService, news NewsService, tts Synthesizer,
	stitcher Stitcher, kb knowledge.Base, st *store.Store,
	hostPersona podcast.PersonaConfig, guestPersonas []podcast.PersonaConfig, rng *rand.Rand) *Orchestrator {

	if kb == nil {
		kb = knowledge.Noop{}
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano())) // #nosec G404 -- interruption pacing, not security
	}
	o := &Orchestrator{
		cfg:       cfg,
		news:      news,
		tts:       tts,
		stitcher:  stitcher,
		kb:        kb,
		store:     st,
		host:      agent.NewHost(hostPersona, llm),
		guestPool: make(map[string]*agent.Guest, len(guestPersonas)),
		rng:       rng,
	}
	for _, p := range guestPersonas {
		o.guestPool[p.Name] = agent.NewGuest(p, llm)
		o.poolOrder = append(o.poolOrder, p.Name)
	}
	return o
}

// resolveGuests validates requested guest names against the pool. Empty
// request draws a random roster of one or two guests, so default runs vary
// in cast instead of always featuring the whole pool.
func (o *Orchestrator) resolveGuests(names []string) ([]*agent.Guest, error) {
	if len(names) == 0 && len(o.poolOrder) > 0 {
		n := 1 + o.rng.Intn(2)
		if n > len(o.poolOrder) {
			n = len(o.poolOrder)
		}
		for _, idx := range o.rng.Perm(len(o.poolOrder))[:n] {
			names = append(names, o.poolOrder[idx])
		}
	}
	if len(names) > o.cfg.MaxGuests {
		return nil, fmt.Errorf("requested %d guests, maximum is %d", len(names), o.cfg.MaxGuests)
	}
	seen := make(map[string]struct{}, len(names))
	guests := make([]*agent.Guest, 0, len(names))
	for _, name := range names {
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate guest %q", name)
		}
		seen[name] = struct{}{}
		g, ok := o.guestPool[name]
		if !ok {
			return nil, fmt.Errorf("unknown guest %q, available: %s", name, strings.Join(o.poolOrder, ", "))
		}
		guests = append(guests, g)
	}
	return guests, nil
}

// GenerateEpisode runs the full pipeline and returns the persisted episode.
func (o *Orchestrator) GenerateEpisode(ctx context.Context, opts Options) (ep *podcast.Episode, err error) {
	guests, err := o.resolveGuests(opts.GuestNames)
	if err != nil {
		return nil, err
	}
	guestNames := make([]string, len(guests))
	for i, g := range guests {
		guestNames[i] = g.Name()
	}

	outDir, err := o.cfg.EnsureOutputDir()
	if err != nil {
		return nil, err
	}
	ep = podcast.NewEpisode(opts.Topic, guestNames)
	rl, err := runlog.New(filepath.Join(outDir, ep.ID+".runlog.jsonl"))
	if err != nil {
		return nil, err
	}
	ep.RunLogPath = rl.Path()

	// agents are reused across runs; leaking a transcript into the next
	// episode would be worse than losing this one's history early
	defer func() {
		if err != nil {
			rl.Exception("pipeline", err)
		}
		o.host.ResetHistory()
		for _, g := range o.guestPool {
			g.ResetHistory()
		}
		if cerr := rl.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("failed to close run log")
		}
	}()

	emit := func(stage, message string) {
		rl.Event(stage, message, nil)
		if opts.Progress != nil {
			opts.Progress(stage, message)
		}
	}

	emit("fetch_news", "fetching latest news")
	news, err := o.news.TopicNews(ctx, opts.Topic, newsFetchCount)
	if err != nil {
		if opts.Topic == "" {
			return nil, fmt.Errorf("news fetch failed: %w", err)
		}
		// an explicit topic can carry the episode without headlines
		rl.Skipped("fetch_news", "news fetch failed, proceeding on explicit topic", map[string]any{"error": err.Error()})
		news = nil
	}
	rl.Event("fetch_news", fmt.Sprintf("got %d news items", len(news)), nil)

	recentTopics, rtErr := o.store.RecentTopics(0, ep.ID)
	if rtErr != nil {
		log.Warn().Err(rtErr).Msg("failed to load recent topics, novelty check degraded")
	}

	var choice agent.TopicChoice
	if opts.Topic != "" {
		choice = agent.TopicChoice{
			Topic:         opts.Topic,
			Reason:        "用户指定话题",
			SearchQueries: agent.DeriveQueries(opts.Topic),
		}
		rl.Decision("select_topic", "explicit topic, selection skipped", map[string]any{"topic": opts.Topic})
	} else {
		emit("select_topic", "selecting topic from news")
		choice, err = o.host.SelectTopic(ctx, news, recentTopics, o.cfg.SimilarityThreshold)
		if err != nil {
			return nil, err
		}
		rl.Decision("select_topic", "topic selected", map[string]any{"topic": choice.Topic, "reason": choice.Reason})
	}
	ep.Topic = choice.Topic

	emit("deep_research", "running deep research")
	research := o.deepResearch(ctx, rl, choice)

	emit("retrieve_knowledge", "retrieving knowledge base context")
	ragContext, ragErr := o.kb.BuildContext(ctx, choice.Topic, ragSnippetsPerQuery)
	if ragErr != nil {
		rl.Skipped("retrieve_knowledge", "knowledge retrieval failed", map[string]any{"error": ragErr.Error()})
		ragContext = ""
	}

	emit("plan", "planning the episode")
	plan, err := o.host.PlanEpisode(ctx, choice, research, guestNames)
	if err != nil {
		return nil, err
	}
	ep.Title = plan.Topic
	ep.Summary = plan.Summary
	ep.NewsSources = news
	rl.Event("plan", "outline ready", map[string]any{"points": len(plan.TalkingPoints), "climax_index": plan.ClimaxIndex})

	emit("dialogue", "generating dialogue")
	voices := buildVoiceMap(o.host.Persona(), guests)
	lines, err := o.runDialogue(ctx, rl, plan, guests, news, research, ragContext, voices, emit)
	if err != nil {
		return nil, err
	}
	ep.Dialogue = lines
	ep.WordCount = dialogueRunes(lines)

	emit("article", "writing companion article")
	if article, aErr := o.host.WriteArticle(ctx, ep, plan, research); aErr != nil {
		// the episode stands without the article
		rl.Skipped("article", "article generation failed", map[string]any{"error": aErr.Error()})
	} else {
		ep.Article = article
	}

	emit("synthesize", "synthesizing speech")
	segments, err := o.synthesizeDialogue(ctx, rl, ep.Dialogue, opts.Progress)
	if err != nil {
		return nil, err
	}

	emit("stitch", "stitching episode audio")
	audioPath := filepath.Join(outDir, ep.ID+"."+o.cfg.MiniMaxAudioFormat)
	duration, err := o.stitcher.Stitch(ctx, segments, audioPath)
	if err != nil {
		return nil, fmt.Errorf("audio stitching failed: %w", err)
	}
	if duration == 0 {
		duration = podcast.EstimateDialogueDuration(ep.Dialogue)
	}
	ep.AudioPath = audioPath
	ep.DurationSeconds = duration

	emit("persist", "saving episode")
	if _, err = o.store.SaveEpisode(ep); err != nil {
		return nil, err
	}
	if ingErr := o.kb.IngestEpisode(ctx, ep); ingErr != nil {
		rl.Skipped("persist", "knowledge ingestion failed", map[string]any{"error": ingErr.Error()})
	}
	rl.Event("persist", "episode complete", map[string]any{
		"episode_id": ep.ID,
		"audio":      ep.AudioPath,
		"duration":   ep.DurationSeconds,
		"word_count": ep.WordCount,
	})
	return ep, nil
}

// deepResearch answers each research query either from the knowledge base or
// through a fresh web search, per the host's per-query decision. Research
// never fails the run; queries that error are skipped and logged.
func (o *Orchestrator) deepResearch(ctx context.Context, rl *runlog.Logger, choice agent.TopicChoice) []podcast.DetailedInfo {
	queries := choice.SearchQueries
	if len(queries) > maxResearchQueries {
		queries = queries[:maxResearchQueries]
	}

	var research []podcast.DetailedInfo
	for _, query := range queries {
		docs, err := o.kb.Query(ctx, knowledge.CollectionBackgroundMaterial, query, ragSnippetsPerQuery)
		if err != nil {
			log.Warn().Err(err).Str("query", query).Msg("knowledge query failed")
		}
		snippets := make([]string, 0, len(docs))
		for _, d := range docs {
			snippets = append(snippets, d.Text)
		}

		decision := o.host.DecideNeedFreshSearch(ctx, query, snippets)
		if !decision.NeedFreshSearch {
			rl.Decision("deep_research", "answered from knowledge base", map[string]any{
				"query": query, "reason": decision.Reason, "snippets": len(snippets),
			})
			research = append(research, podcast.DetailedInfo{
				Query:  query,
				Answer: strings.Join(snippets, "\n"),
			})
			continue
		}

		focus := strings.TrimSpace(decision.Focus)
		if focus == "" {
			focus = query
		}
		info, err := o.news.SearchDetail(ctx, focus)
		if err != nil {
			rl.Skipped("deep_research", "fresh search failed", map[string]any{"query": query, "error": err.Error()})
			continue
		}
		info.Query = query
		research = append(research, info)
		rl.Decision("deep_research", "fresh search", map[string]any{
			"query": query, "focus": focus, "reason": decision.Reason, "results": len(info.Results),
		})

		o.archiveResearch(ctx, query, info)
	}
	return research
}

// archiveResearch stores fresh findings so future runs can answer the same
// angle from the knowledge base.
func (o *Orchestrator) archiveResearch(ctx context.Context, query string, info podcast.DetailedInfo) {
	if strings.TrimSpace(info.Answer) == "" {
		return
	}
	doc := knowledge.Document{
		ID:   fmt.Sprintf("research-%d", time.Now().UnixNano()),
		Text: info.Answer,
		Metadata: map[string]string{
			"query":    query,
			"fetched":  time.Now().UTC().Format(time.RFC3339),
			"kind":     "web_research",
			"n_result": fmt.Sprintf("%d", len(info.Results)),
		},
	}
	if err := o.kb.Store(ctx, knowledge.CollectionBackgroundMaterial, []knowledge.Document{doc}); err != nil {
		log.Warn().Err(err).Str("query", query).Msg("failed to archive research")
	}
}

// SynthesizeFromScript re-synthesizes audio for an already generated episode
// script, e.g. after tweaking voices or a partial synthesis failure. The
// episode JSON is updated in place with the new audio path and duration.
func (o *Orchestrator) SynthesizeFromScript(ctx context.Context, episodePath string) (*podcast.Episode, error) {
	ep, err := podcast.LoadEpisode(episodePath)
	if err != nil {
		return nil, err
	}
	if len(ep.Dialogue) == 0 {
		return nil, fmt.Errorf("episode %s has no dialogue to synthesize", ep.ID)
	}

	outDir, err := o.cfg.EnsureOutputDir()
	if err != nil {
		return nil, err
	}
	rl, err := runlog.New(filepath.Join(outDir, ep.ID+".resynth.jsonl"))
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rl.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("failed to close run log")
		}
	}()

	segments, err := o.synthesizeDialogue(ctx, rl, ep.Dialogue, nil)
	if err != nil {
		return nil, err
	}
	audioPath := filepath.Join(outDir, ep.ID+"."+o.cfg.MiniMaxAudioFormat)
	duration, err := o.stitcher.Stitch(ctx, segments, audioPath)
	if err != nil {
		return nil, fmt.Errorf("audio stitching failed: %w", err)
	}
	ep.AudioPath = audioPath
	ep.DurationSeconds = duration
	if _, err := o.store.SaveEpisode(ep); err != nil {
		return nil, err
	}
	return ep, nil
}

// buildVoiceMap assigns a synthesis voice to every speaker: the host keeps
// the fixed host voice, guests keep a configured voice or draw the next free
// one from their gender's pool. Exhausted pools wrap around.
func buildVoiceMap(host podcast.PersonaConfig, guests []*agent.Guest) map[string]string {
	voices := make(map[string]string, len(guests)+1)
	hostVoice := host.VoiceID
	if hostVoice == "" {
		hostVoice = podcast.HostVoiceID
	}
	voices[host.Name] = hostVoice

	used := map[string]struct{}{hostVoice: {}}
	next := make(map[podcast.Gender]int)
	for _, g := range guests {
		p := g.Persona()
		if p.VoiceID != "" {
			voices[p.Name] = p.VoiceID
			used[p.VoiceID] = struct{}{}
			continue
		}
		pool := podcast.VoiceLibraryByGender[p.Gender]
		if len(pool) == 0 {
			pool = podcast.VoiceLibraryByGender[podcast.Female]
		}
		idx := next[p.Gender]
		voice := pool[idx%len(pool)]
		for range pool {
			if _, taken := used[voice]; !taken {
				break
			}
			idx++
			voice = pool[idx%len(pool)]
		}
		next[p.Gender] = idx + 1
		used[voice] = struct{}{}
		voices[p.Name] = voice
	}
	return voices
}

func dialogueRunes(lines []podcast.DialogueLine) int {
	total := 0
	for _, line := range lines {
		total += len([]rune(line.Text))
	}
	return total
}
