// Package news fetches topic news and deep-research answers from the Tavily
// search API and enriches thin results with extracted article text.
package news

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/KeLuoJun/MindCast/internal/podcast"
)

// HTTPClient is the transport contract, injectable for tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ChatService expands a topic into varied search queries.
type ChatService interface {
	Chat(ctx context.Context, turns []podcast.ConversationTurn, temperature float32, maxTokens int) (string, error)
}

const (
	searchTimeout = 30 * time.Second
	// result content shorter than this triggers article-page extraction
	thinContentRunes = 400
)

// Client talks to the Tavily search API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient HTTPClient
	llm        ChatService
}

// New creates a Tavily client. llm may be nil; query expansion then uses the
// hand-crafted fallback queries. httpClient nil gets a default with timeout.
func New(baseURL, apiKey string, llm ChatService, httpClient HTTPClient) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: searchTimeout}
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		llm:        llm,
	}
}

type searchRequest struct {
	Query         string `json:"query"`
	Topic         string `json:"topic,omitempty"`
	TimeRange     string `json:"time_range,omitempty"`
	MaxResults    int    `json:"max_results,omitempty"`
	IncludeAnswer bool   `json:"include_answer"`
}

type searchResponse struct {
	Answer  string `json:"answer"`
	Results []struct {
		Title         string  `json:"title"`
		URL           string  `json:"url"`
		Content       string  `json:"content"`
		PublishedDate string  `json:"published_date"`
		Score         float64 `json:"score"`
	} `json:"results"`
}

func (c *Client) search(ctx context.Context, query string, maxResults int, includeAnswer bool) (string, []podcast.NewsItem, error) {
	body, err := json.Marshal(searchRequest{
		Query:         query,
		Topic:         "news",
		TimeRange:     "week",
		MaxResults:    maxResults,
		IncludeAnswer: includeAnswer,
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return "", nil, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", nil, fmt.Errorf("search request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	items := make([]podcast.NewsItem, 0, len(result.Results))
	for _, r := range result.Results {
		if r.Title == "" && r.Content == "" {
			continue
		}
		items = append(items, podcast.NewsItem{
			Title:         r.Title,
			URL:           r.URL,
			Content:       r.Content,
			PublishedDate: r.PublishedDate,
			Score:         r.Score,
		})
	}
	return result.Answer, items, nil
}

// TopicNews retrieves the latest news for a topic. A non-empty topic is
// expanded into varied queries which run in parallel; the pooled results are
// deduplicated by URL, filtered for relevance and sorted by match strength
// plus search score. An empty topic falls back to one general trending query.
func (c *Client) TopicNews(ctx context.Context, topic string, maxResults int) ([]podcast.NewsItem, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		_, items, err := c.search(ctx, "今日热点 AI 最新资讯", maxResults, false)
		if err != nil {
			return nil, err
		}
		if len(items) > maxResults {
			items = items[:maxResults]
		}
		return items, nil
	}

	queries := c.expandQueries(ctx, topic)
	perQueryMax := int(math.Ceil(float64(maxResults*2) / float64(len(queries))))
	if perQueryMax < 3 {
		perQueryMax = 3
	}

	batches := make([][]podcast.NewsItem, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			_, items, err := c.search(gctx, q, perQueryMax, false)
			if err != nil {
				// one failed sub-query narrows the pool, it doesn't fail the fetch
				log.Warn().Err(err).Str("query", q).Msg("sub-query search failed")
				return nil
			}
			batches[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var pool []podcast.NewsItem
	for _, batch := range batches {
		for _, item := range batch {
			key := strings.TrimSpace(item.URL)
			if key == "" {
				key = strings.TrimSpace(item.Title)
			}
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			pool = append(pool, item)
		}
	}

	terms := extractTopicTerms(topic)
	relevant := make([]podcast.NewsItem, 0, len(pool))
	for _, item := range pool {
		if isRelevantItem(item, topic, terms) {
			relevant = append(relevant, item)
		}
	}
	if len(relevant) == 0 {
		// nothing passed the filter; better a loosely related pool than none
		relevant = pool
	}

	sort.SliceStable(relevant, func(i, j int) bool {
		mi, mj := topicMatchCount(relevant[i], terms), topicMatchCount(relevant[j], terms)
		if mi != mj {
			return mi > mj
		}
		return relevant[i].Score > relevant[j].Score
	})
	if len(relevant) > maxResults {
		relevant = relevant[:maxResults]
	}
	return relevant, nil
}

// SearchDetail runs one deep search with a synthesized answer. When the top
// result carries only a thin snippet, the source page is fetched and its
// paragraph text extracted to give the agents real material.
func (c *Client) SearchDetail(ctx context.Context, query string) (podcast.DetailedInfo, error) {
	answer, items, err := c.search(ctx, query, 5, true)
	if err != nil {
		return podcast.DetailedInfo{}, err
	}
	if len(items) > 0 && len([]rune(items[0].Content)) < thinContentRunes && items[0].URL != "" {
		if text, exErr := ExtractArticleText(ctx, c.httpClient, items[0].URL); exErr == nil && text != "" {
			items[0].Content = text
		} else if exErr != nil {
			log.Debug().Err(exErr).Str("url", items[0].URL).Msg("article extraction failed")
		}
	}
	return podcast.DetailedInfo{Query: query, Answer: answer, Results: items}, nil
}

const expandQueriesPrompt = `你是一位专业的新闻检索助手。用户给出了一个感兴趣的话题，请为该话题生成3条各有侧重的中文搜索语句，用于检索最新、最相关的资讯。

要求：
1. 3条语句各有不同角度（最新动态、政策/影响、背景分析），避免重复
2. 每条语句简洁，50字以内，必须包含话题的核心关键词
3. 只返回JSON数组，格式：["语句1","语句2","语句3"]，不要任何其他文字`

func (c *Client) expandQueries(ctx context.Context, topic string) []string {
	fallback := []string{topic + " 最新消息", topic + " 最新进展", topic + " 相关动态"}
	if c.llm == nil {
		return fallback
	}

	turns := []podcast.ConversationTurn{
		{Role: podcast.RoleSystem, Content: expandQueriesPrompt},
		{Role: podcast.RoleUser, Content: "话题：" + topic},
	}
	raw, err := c.llm.Chat(ctx, turns, 0.5, 256)
	if err != nil {
		log.Warn().Err(err).Msg("query expansion failed, using fallback queries")
		return fallback
	}

	raw = strings.TrimSpace(raw)
	raw = strings.TrimSuffix(strings.TrimSpace(fenceRe.ReplaceAllString(raw, "")), "```")
	start, end := strings.IndexByte(raw, '['), strings.LastIndexByte(raw, ']')
	if start >= 0 && end > start {
		raw = raw[start : end+1]
	}

	var queries []string
	if err := json.Unmarshal([]byte(raw), &queries); err != nil {
		log.Warn().Err(err).Msg("query expansion reply unparseable, using fallback queries")
		return fallback
	}
	valid := queries[:0]
	for _, q := range queries {
		if q = strings.TrimSpace(q); q != "" {
			valid = append(valid, q)
		}
	}
	if len(valid) == 0 {
		return fallback
	}
	if len(valid) > 4 {
		valid = valid[:4]
	}
	return valid
}

var (
	fenceRe = regexp.MustCompile("(?i)^```[a-z]*\n?")
	splitRe = regexp.MustCompile(`[\s,，。；;、|/]+`)
	spaceRe = regexp.MustCompile(`\s+`)
)

func normalizeText(s string) string {
	return strings.ToLower(spaceRe.ReplaceAllString(s, ""))
}

// extractTopicTerms splits a topic into match terms: the full topic first,
// then its delimiter-separated parts, deduplicated after normalization.
func extractTopicTerms(topic string) []string {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil
	}
	candidates := append([]string{topic}, splitRe.Split(topic, -1)...)
	seen := make(map[string]struct{})
	var terms []string
	for _, term := range candidates {
		norm := normalizeText(term)
		if len([]rune(norm)) < 2 {
			continue
		}
		if _, dup := seen[norm]; dup {
			continue
		}
		seen[norm] = struct{}{}
		terms = append(terms, term)
	}
	return terms
}

func topicMatchCount(item podcast.NewsItem, terms []string) int {
	haystack := normalizeText(item.Title + " " + item.Content)
	if haystack == "" {
		return 0
	}
	count := 0
	for _, term := range terms {
		if strings.Contains(haystack, normalizeText(term)) {
			count++
		}
	}
	return count
}

func isRelevantItem(item podcast.NewsItem, topic string, terms []string) bool {
	haystack := normalizeText(item.Title + " " + item.Content)
	normTopic := normalizeText(topic)
	if haystack == "" || normTopic == "" {
		return false
	}
	if strings.Contains(haystack, normTopic) {
		return true
	}
	matched := topicMatchCount(item, terms)
	if len(terms) <= 1 {
		return matched >= 1
	}
	return matched >= (len(terms)+1)/2
}
