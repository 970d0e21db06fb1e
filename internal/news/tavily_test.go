package news

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KeLuoJun/MindCast/internal/podcast"
)

type fakeChat struct {
	reply string
	err   error
}

func (f *fakeChat) Chat(context.Context, []podcast.ConversationTurn, float32, int) (string, error) {
	return f.reply, f.err
}

func searchServer(t *testing.T, handler func(req searchRequest) searchResponse) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NoError(t, json.NewEncoder(w).Encode(handler(req)))
	}))
}

func newsResult(title, url, content string, score float64) struct {
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Content       string  `json:"content"`
	PublishedDate string  `json:"published_date"`
	Score         float64 `json:"score"`
} {
	return struct {
		Title         string  `json:"title"`
		URL           string  `json:"url"`
		Content       string  `json:"content"`
		PublishedDate string  `json:"published_date"`
		Score         float64 `json:"score"`
	}{Title: title, URL: url, Content: content, Score: score}
}

func TestClientTopicNews(t *testing.T) {
	t.Run("dedup, relevance filter and sort", func(t *testing.T) {
		var calls int32
		srv := searchServer(t, func(req searchRequest) searchResponse {
			atomic.AddInt32(&calls, 1)
			var resp searchResponse
			resp.Results = append(resp.Results,
				newsResult("量子计算新芯片发布", "https://a.example/1", "量子计算芯片实现纠错突破", 0.9),
				newsResult("量子计算新芯片发布", "https://a.example/1", "重复的同一条", 0.9),
				newsResult("足球联赛战报", "https://b.example/2", "昨晚的比赛", 0.95),
				newsResult("量子计算商业化提速", "https://c.example/3", "多家公司布局量子计算服务", 0.5),
			)
			return resp
		})
		defer srv.Close()

		c := New(srv.URL, "test-key", nil, srv.Client())
		items, err := c.TopicNews(context.Background(), "量子计算", 5)
		require.NoError(t, err)

		// three sub-queries from the hand-crafted fallback expansion
		assert.EqualValues(t, 3, atomic.LoadInt32(&calls))

		// the football item is irrelevant, the duplicate URL collapsed
		require.Len(t, items, 2)
		for _, item := range items {
			assert.Contains(t, item.Title, "量子计算")
		}
	})

	t.Run("empty topic runs one trending query", func(t *testing.T) {
		var calls int32
		srv := searchServer(t, func(req searchRequest) searchResponse {
			atomic.AddInt32(&calls, 1)
			assert.Equal(t, "news", req.Topic)
			var resp searchResponse
			resp.Results = append(resp.Results, newsResult("今日热点", "https://x.example", "内容", 0.8))
			return resp
		})
		defer srv.Close()

		c := New(srv.URL, "test-key", nil, srv.Client())
		items, err := c.TopicNews(context.Background(), "", 5)
		require.NoError(t, err)
		assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
		assert.Len(t, items, 1)
	})

	t.Run("llm expansion used when parseable", func(t *testing.T) {
		seen := make(chan string, 16)
		srv := searchServer(t, func(req searchRequest) searchResponse {
			seen <- req.Query
			return searchResponse{}
		})
		defer srv.Close()

		chat := &fakeChat{reply: `["量子计算 最新突破", "量子计算 商业落地"]`}
		c := New(srv.URL, "test-key", chat, srv.Client())
		_, err := c.TopicNews(context.Background(), "量子计算", 5)
		require.NoError(t, err)
		close(seen)

		var queries []string
		for q := range seen {
			queries = append(queries, q)
		}
		assert.ElementsMatch(t, []string{"量子计算 最新突破", "量子计算 商业落地"}, queries)
	})

	t.Run("server error surfaces", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
		}))
		defer srv.Close()

		c := New(srv.URL, "test-key", nil, srv.Client())
		_, err := c.TopicNews(context.Background(), "", 5)
		assert.Error(t, err)
	})
}

func TestClientSearchDetail(t *testing.T) {
	srv := searchServer(t, func(req searchRequest) searchResponse {
		assert.True(t, req.IncludeAnswer)
		resp := searchResponse{Answer: "综合回答"}
		resp.Results = append(resp.Results, newsResult("来源一", "", "这条内容足够长不需要抓取页面正文，直接使用摘要即可。", 0.9))
		return resp
	})
	defer srv.Close()

	c := New(srv.URL, "test-key", nil, srv.Client())
	info, err := c.SearchDetail(context.Background(), "量子计算 纠错")
	require.NoError(t, err)
	assert.Equal(t, "量子计算 纠错", info.Query)
	assert.Equal(t, "综合回答", info.Answer)
	require.Len(t, info.Results, 1)
}

func TestExpandQueriesFallback(t *testing.T) {
	t.Run("nil llm", func(t *testing.T) {
		c := New("http://unused", "k", nil, http.DefaultClient)
		qs := c.expandQueries(context.Background(), "量子计算")
		require.Len(t, qs, 3)
		assert.Equal(t, "量子计算 最新消息", qs[0])
	})

	t.Run("llm garbage", func(t *testing.T) {
		c := New("http://unused", "k", &fakeChat{reply: "三条都不错"}, http.DefaultClient)
		qs := c.expandQueries(context.Background(), "量子计算")
		require.Len(t, qs, 3)
		for _, q := range qs {
			assert.Contains(t, q, "量子计算")
		}
	})

	t.Run("llm array with fencing and noise", func(t *testing.T) {
		c := New("http://unused", "k", &fakeChat{reply: "```json\n[\"a查询\", \" \", \"b查询\"]\n```"}, http.DefaultClient)
		qs := c.expandQueries(context.Background(), "t")
		assert.Equal(t, []string{"a查询", "b查询"}, qs)
	})
}

func TestExtractTopicTerms(t *testing.T) {
	terms := extractTopicTerms("量子计算：纠错 突破")
	// full topic first, then its parts, single-rune fragments dropped
	require.NotEmpty(t, terms)
	assert.Equal(t, "量子计算：纠错 突破", terms[0])
	assert.Contains(t, terms, "量子计算")
	assert.Contains(t, terms, "纠错")

	assert.Empty(t, extractTopicTerms("   "))
}

func TestIsRelevantItem(t *testing.T) {
	terms := extractTopicTerms("量子计算 纠错")

	relevant := podcast.NewsItem{Title: "量子计算实现纠错", Content: "细节"}
	assert.True(t, isRelevantItem(relevant, "量子计算 纠错", terms))

	offTopic := podcast.NewsItem{Title: "足球战报", Content: "比赛结果"}
	assert.False(t, isRelevantItem(offTopic, "量子计算 纠错", terms))
}
