package news

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// extracted article text is capped before handing it to the LLM
const maxArticleRunes = 8000

// ExtractArticleText downloads a news page and pulls out its main paragraph
// text. Used to enrich search results that only carry a short snippet.
func ExtractArticleText(ctx context.Context, client HTTPClient, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create article request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; MindCast/1.0)")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch article: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch article: status code %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to parse article HTML: %w", err)
	}

	text := extractContent(doc)
	if runes := []rune(text); len(runes) > maxArticleRunes {
		text = string(runes[:maxArticleRunes]) + "..."
	}
	return text, nil
}

func extractContent(doc *goquery.Document) string {
	var articleText strings.Builder

	// first try common article containers
	article := doc.Find("article, .article, .post, .content, main")
	if article.Length() > 0 {
		article.Find("p").Each(func(_ int, s *goquery.Selection) {
			articleText.WriteString(s.Text())
			articleText.WriteString("\n\n")
		})
	} else {
		// fallback to all paragraphs, skipping short boilerplate ones
		doc.Find("p").Each(func(_ int, s *goquery.Selection) {
			if len(s.Text()) > 50 {
				articleText.WriteString(s.Text())
				articleText.WriteString("\n\n")
			}
		})
	}

	return strings.TrimSpace(articleText.String())
}
