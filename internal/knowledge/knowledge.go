// Package knowledge provides the retrieval-augmented memory of the show: a
// vector-store sidecar holding past episode material, expert opinions and
// background facts, queried before each recording and fed after it.
package knowledge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/KeLuoJun/MindCast/internal/podcast"
)

// Collection names partition the store by the kind of material.
const (
	CollectionHistoryArchive     = "history_archive"
	CollectionExpertOpinions     = "expert_opinions"
	CollectionFactCheck          = "fact_check"
	CollectionBackgroundMaterial = "background_material"
)

// Document is one stored or retrieved knowledge fragment.
type Document struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Distance float64           `json:"distance,omitempty"`
}

// Base is the knowledge store contract. Query and Store address a single
// collection; BuildContext aggregates across collections into prompt text.
type Base interface {
	Query(ctx context.Context, collection, query string, limit int) ([]Document, error)
	Store(ctx context.Context, collection string, docs []Document) error
	BuildContext(ctx context.Context, topic string, limitPerCollection int) (string, error)
	IngestEpisode(ctx context.Context, ep *podcast.Episode) error
}

var contextSections = []struct {
	collection string
	heading    string
}{
	{CollectionHistoryArchive, "往期节目相关内容"},
	{CollectionExpertOpinions, "相关专家观点"},
	{CollectionBackgroundMaterial, "背景资料"},
	{CollectionFactCheck, "事实核查要点"},
}

// buildContext is shared by implementations: query each collection and render
// the hits as a headed Chinese prompt block. Collections with no hits are
// skipped; an empty result overall yields an empty string.
func buildContext(ctx context.Context, b Base, topic string, limit int) (string, error) {
	var sb strings.Builder
	for _, section := range contextSections {
		docs, err := b.Query(ctx, section.collection, topic, limit)
		if err != nil {
			return "", fmt.Errorf("failed to query collection %s: %w", section.collection, err)
		}
		if len(docs) == 0 {
			continue
		}
		sb.WriteString("## " + section.heading + "\n")
		for _, doc := range docs {
			sb.WriteString("- " + strings.TrimSpace(doc.Text) + "\n")
		}
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String()), nil
}

// episodeDocuments flattens an episode into storable fragments: a summary
// record for the archive and each guest's strongest lines as opinions.
func episodeDocuments(ep *podcast.Episode) (archive []Document, opinions []Document) {
	meta := map[string]string{
		"episode_id": ep.ID,
		"topic":      ep.Topic,
		"created_at": ep.CreatedAt.Format(time.RFC3339),
	}
	summary := ep.Summary
	if summary == "" {
		summary = ep.Title
	}
	archive = append(archive, Document{
		ID:       "episode-" + ep.ID,
		Text:     fmt.Sprintf("节目《%s》讨论了「%s」。%s", ep.Title, ep.Topic, summary),
		Metadata: meta,
	})

	perSpeaker := make(map[string]int)
	for i, line := range ep.Dialogue {
		if len([]rune(line.Text)) < 40 {
			continue
		}
		if perSpeaker[line.Speaker] >= 3 {
			continue
		}
		perSpeaker[line.Speaker]++
		docMeta := map[string]string{
			"episode_id": ep.ID,
			"topic":      ep.Topic,
			"speaker":    line.Speaker,
		}
		opinions = append(opinions, Document{
			ID:       fmt.Sprintf("opinion-%s-%d", ep.ID, i),
			Text:     fmt.Sprintf("%s 在讨论「%s」时表示：%s", line.Speaker, ep.Topic, line.Text),
			Metadata: docMeta,
		})
	}
	return archive, opinions
}
