package textproc

import (
	"sort"
	"unicode"
)

// DefaultKeywordLimit is the number of keywords reported per cluster
const DefaultKeywordLimit = 10

// stopWords covers English function words plus ticket boilerplate that
// shows up in nearly every incident and carries no signal.
var stopWords = map[string]struct{}{}

func init() {
	for _, w := range []string{
		"a", "about", "above", "after", "again", "against", "all", "am", "an", "and",
		"any", "are", "aren't", "as", "at", "be", "because", "been", "before", "being",
		"below", "between", "both", "but", "by", "can", "can't", "cannot", "could",
		"couldn't", "did", "didn't", "do", "does", "doesn't", "doing", "don't", "down",
		"during", "each", "few", "for", "from", "further", "had", "hadn't", "has",
		"hasn't", "have", "haven't", "having", "he", "her", "here", "hers", "herself",
		"him", "himself", "his", "how", "i", "if", "in", "into", "is", "isn't", "it",
		"it's", "its", "itself", "just", "me", "more", "most", "my", "myself", "no",
		"nor", "not", "now", "of", "off", "on", "once", "only", "or", "other", "ought",
		"our", "ours", "ourselves", "out", "over", "own", "same", "she", "should",
		"shouldn't", "so", "some", "such", "than", "that", "the", "their", "theirs",
		"them", "themselves", "then", "there", "these", "they", "this", "those",
		"through", "to", "too", "under", "until", "up", "very", "was", "wasn't", "we",
		"were", "weren't", "what", "when", "where", "which", "while", "who", "whom",
		"why", "will", "with", "won't", "would", "wouldn't", "you", "your", "yours",
		"yourself", "yourselves", "n't", "'s", "'re", "'ve", "'ll", "'d", "'m",
		"ca", "wo", "also", "get", "got", "still", "unable", "please", "user",
		"users", "issue", "issues", "problem", "hi", "hello", "thanks", "thank",
	} {
		stopWords[w] = struct{}{}
	}
}

// IsStopWord reports whether w is ignored for keyword extraction
func IsStopWord(w string) bool {
	_, ok := stopWords[w]
	return ok
}

// ContentTokens returns the tokens of s that can serve as keywords:
// stop-words, single characters and bare numbers are removed.
func ContentTokens(s string) []string {
	var out []string
	for _, t := range Tokens(s) {
		if len([]rune(t)) < 2 || IsStopWord(t) || isNumeric(t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) && r != '.' && r != ',' {
			return false
		}
	}
	return true
}

type termCount struct {
	term  string
	count int
	first int
}

// TopKeywords ranks the content terms of texts by total frequency, breaking
// ties by first occurrence across texts in the given order.
func TopKeywords(texts []string, limit int) []string {
	if limit <= 0 {
		limit = DefaultKeywordLimit
	}

	counts := make(map[string]*termCount)
	pos := 0
	for _, text := range texts {
		for _, tok := range ContentTokens(text) {
			tc, ok := counts[tok]
			if !ok {
				tc = &termCount{term: tok, first: pos}
				counts[tok] = tc
			}
			tc.count++
			pos++
		}
	}

	ranked := make([]*termCount, 0, len(counts))
	for _, tc := range counts {
		ranked = append(ranked, tc)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].first < ranked[j].first
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	out := make([]string, len(ranked))
	for i, tc := range ranked {
		out[i] = tc.term
	}
	return out
}
