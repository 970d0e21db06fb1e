// Package store persists finished episodes as JSON files and answers the
// "what did we already talk about" question for topic novelty checks.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/KeLuoJun/MindCast/internal/podcast"
)

// RecentTopicsLimit caps how many past topics feed the novelty check.
const RecentTopicsLimit = 20

// Store keeps episode JSON files in a single directory.
type Store struct {
	dir string
}

// New creates the store, ensuring the directory exists.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create episode dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the episode directory.
func (s *Store) Dir() string { return s.dir }

// SaveEpisode writes the episode JSON and returns its path.
func (s *Store) SaveEpisode(ep *podcast.Episode) (string, error) {
	return ep.SaveJSON(s.dir)
}

// ListEpisodes loads every readable episode, newest first. Unreadable files
// are logged and skipped.
func (s *Store) ListEpisodes() ([]*podcast.Episode, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read episode dir: %w", err)
	}

	type dated struct {
		ep      *podcast.Episode
		modTime int64
	}
	var eps []dated
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		ep, err := podcast.LoadEpisode(path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("skipping unreadable episode file")
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		eps = append(eps, dated{ep: ep, modTime: info.ModTime().UnixNano()})
	}

	sort.Slice(eps, func(i, j int) bool { return eps[i].modTime > eps[j].modTime })
	result := make([]*podcast.Episode, len(eps))
	for i, d := range eps {
		result[i] = d.ep
	}
	return result, nil
}

// RecentTopics returns past episode topics newest first, excluding the given
// episode id and capped at limit (RecentTopicsLimit when limit <= 0).
func (s *Store) RecentTopics(limit int, excludeID string) ([]string, error) {
	if limit <= 0 {
		limit = RecentTopicsLimit
	}
	eps, err := s.ListEpisodes()
	if err != nil {
		return nil, err
	}
	var topics []string
	for _, ep := range eps {
		if ep.ID == excludeID || strings.TrimSpace(ep.Topic) == "" {
			continue
		}
		topics = append(topics, ep.Topic)
		if len(topics) >= limit {
			break
		}
	}
	return topics, nil
}
