package podcast

import (
	"strings"
	"unicode"
)

// DefaultSimilarityThreshold is the Jaccard score at or above which a
// candidate topic counts as a repeat of a recent one. Tunable, not sacred.
const DefaultSimilarityThreshold = 0.42

// TopicTokens extracts the comparison token set from a topic string:
// alphanumeric runs become lowercased word tokens, CJK runs contribute
// overlapping character bigrams. Tokens shorter than two runes are dropped.
func TopicTokens(s string) map[string]struct{} {
	tokens := make(map[string]struct{})
	var word []rune
	var han []rune

	flushWord := func() {
		if len(word) >= 2 {
			tokens[strings.ToLower(string(word))] = struct{}{}
		}
		word = word[:0]
	}
	flushHan := func() {
		for i := 0; i+1 < len(han); i++ {
			tokens[string(han[i:i+2])] = struct{}{}
		}
		han = han[:0]
	}

	for _, r := range s {
		switch {
		case unicode.Is(unicode.Han, r):
			flushWord()
			han = append(han, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			flushHan()
			word = append(word, r)
		default:
			flushWord()
			flushHan()
		}
	}
	flushWord()
	flushHan()
	return tokens
}

// TopicSimilarity computes the Jaccard similarity of two topic strings over
// their token sets. Returns 0 when either side has no tokens.
func TopicSimilarity(a, b string) float64 {
	ta, tb := TopicTokens(a), TopicTokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inter := 0
	for tok := range ta {
		if _, ok := tb[tok]; ok {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}

// TopicRepeats reports whether candidate duplicates any recent topic: exact
// case-insensitive match or token similarity at/above the threshold.
func TopicRepeats(candidate string, recent []string, threshold float64) bool {
	cand := strings.ToLower(strings.TrimSpace(candidate))
	if cand == "" {
		return false
	}
	for _, prev := range recent {
		if cand == strings.ToLower(strings.TrimSpace(prev)) {
			return true
		}
		if TopicSimilarity(candidate, prev) >= threshold {
			return true
		}
	}
	return false
}

// MaxSimilarity returns the highest similarity between s and any of the
// recent topics, used to rank fallback candidates.
func MaxSimilarity(s string, recent []string) float64 {
	best := 0.0
	for _, prev := range recent {
		if sim := TopicSimilarity(s, prev); sim > best {
			best = sim
		}
	}
	return best
}
