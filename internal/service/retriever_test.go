package service

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/resolvekb/internal/domain"
	"github.com/cloo-solutions/resolvekb/internal/embedding"
)

// unit returns a 5-d unit vector with the given cosine to e1
func unit(cos float64) []float32 {
	return []float32{float32(cos), float32(math.Sqrt(1 - cos*cos)), 0, 0, 0}
}

func kbWith(entries ...*domain.Incident) *domain.KnowledgeBase {
	return &domain.KnowledgeBase{Version: 1, Entries: entries}
}

func scored(id string, cat domain.Category, v []float32) *domain.Incident {
	return &domain.Incident{ID: id, Category: cat, ResolutionNotes: "resolution for " + id, Embedding: v}
}

// queryEncoder answers every query with e1
func queryEncoder() *topicEncoder {
	return newTopicEncoder(topicRule{"", []float32{1, 0, 0, 0, 0}})
}

func TestSuggest_EmptyKnowledgeBase(t *testing.T) {
	enc := vpnEncoder()
	store, _ := newTestStore(t, enc)
	r := NewRetriever(store, enc, nil)

	for _, q := range []string{"VPN timeout", "", "anything at all"} {
		s, err := r.Suggest(context.Background(), q)

		require.NoError(t, err)
		assert.Equal(t, domain.SuggestionNoConfidentMatch, s.Status)
		assert.False(t, s.Matched())
	}
	assert.Equal(t, 0, enc.callCount(), "nothing is encoded")
}

func TestSuggest_AfterAppend(t *testing.T) {
	ctx := context.Background()
	enc := vpnEncoder()
	store, _ := newTestStore(t, enc)
	a, err := store.Append(ctx, vpnIncident("INC-A", "VPN connection timeout"))
	require.NoError(t, err)
	r := NewRetriever(store, enc, nil)

	s, err := r.Suggest(ctx, "Cannot connect to VPN")

	require.NoError(t, err)
	assert.Equal(t, domain.SuggestionMatched, s.Status)
	assert.Equal(t, a.ID, s.SourceID)
	assert.Equal(t, "Updated VPN client to version 3.5", s.Resolution)
	assert.GreaterOrEqual(t, s.Confidence, 0.60)
	assert.LessOrEqual(t, s.Confidence, 1.0+1e-6)
	assert.InDelta(t, 0.8, s.Confidence, 1e-6)
	assert.Empty(t, s.Alternatives)
}

func TestSuggest_ConfidenceIsBestSimilarity(t *testing.T) {
	kb := kbWith(
		scored("low", domain.CategoryNetwork, unit(0.3)),
		scored("best", domain.CategoryNetwork, unit(0.91)),
		scored("mid", domain.CategoryNetwork, unit(0.7)),
	)
	r := NewRetriever(staticSnapshot{kb}, queryEncoder(), nil)

	s, err := r.Suggest(context.Background(), "query")

	require.NoError(t, err)
	assert.Equal(t, "best", s.SourceID)
	assert.InDelta(t, 0.91, s.Confidence, 1e-6)
	require.Len(t, s.Alternatives, 2)
	assert.Equal(t, "mid", s.Alternatives[0].IncidentID)
	assert.Equal(t, "low", s.Alternatives[1].IncidentID)
	assert.Empty(t, s.Note)
}

func TestSuggest_BelowThreshold(t *testing.T) {
	kb := kbWith(scored("a", domain.CategoryNetwork, unit(0.55)))
	r := NewRetriever(staticSnapshot{kb}, queryEncoder(), nil)

	s, err := r.Suggest(context.Background(), "query")
	require.NoError(t, err)
	assert.Equal(t, domain.SuggestionNoConfidentMatch, s.Status)
	assert.InDelta(t, 0.55, s.BestScore, 1e-6)
	assert.Empty(t, s.SourceID)

	s, err = r.Suggest(context.Background(), "query", WithConfidenceThreshold(0.5))
	require.NoError(t, err)
	assert.Equal(t, domain.SuggestionMatched, s.Status)
}

func TestSuggest_TieKeepsInsertionOrder(t *testing.T) {
	kb := kbWith(
		scored("first", domain.CategoryNetwork, unit(0.9)),
		scored("second", domain.CategoryNetwork, unit(0.9)),
	)
	r := NewRetriever(staticSnapshot{kb}, queryEncoder(), nil)

	for i := 0; i < 10; i++ {
		s, err := r.Suggest(context.Background(), "query")
		require.NoError(t, err)
		assert.Equal(t, "first", s.SourceID)
	}
}

func TestSuggest_TopK(t *testing.T) {
	kb := kbWith(
		scored("a", domain.CategoryNetwork, unit(0.95)),
		scored("b", domain.CategoryNetwork, unit(0.9)),
		scored("c", domain.CategoryNetwork, unit(0.85)),
		scored("d", domain.CategoryNetwork, unit(0.8)),
		scored("e", domain.CategoryNetwork, unit(0.75)),
		scored("f", domain.CategoryNetwork, unit(0.7)),
		scored("g", domain.CategoryNetwork, unit(0.65)),
	)
	r := NewRetriever(staticSnapshot{kb}, queryEncoder(), nil)

	s, err := r.Suggest(context.Background(), "query")
	require.NoError(t, err)
	assert.Len(t, s.Alternatives, DefaultTopK-1)
	assert.Equal(t, "Based on 5 similar resolved incidents", s.Note)

	s, err = r.Suggest(context.Background(), "query", WithTopK(2))
	require.NoError(t, err)
	require.Len(t, s.Alternatives, 1)
	assert.Equal(t, "b", s.Alternatives[0].IncidentID)

	_, err = r.Suggest(context.Background(), "query", WithTopK(0))
	assert.True(t, domain.IsCode(err, domain.ErrCodeInvalidInput))
}

func TestSuggest_NoteNeedsCloseRunnerUp(t *testing.T) {
	kb := kbWith(
		scored("a", domain.CategoryNetwork, unit(0.95)),
		scored("b", domain.CategoryNetwork, unit(0.75)),
	)
	r := NewRetriever(staticSnapshot{kb}, queryEncoder(), nil)

	s, err := r.Suggest(context.Background(), "query")

	require.NoError(t, err)
	assert.Empty(t, s.Note)
}

func TestSuggest_CategoryFilter(t *testing.T) {
	kb := kbWith(
		scored("net", domain.CategoryNetwork, unit(0.95)),
		scored("hw", domain.CategoryHardware, unit(0.7)),
	)
	enc := queryEncoder()
	r := NewRetriever(staticSnapshot{kb}, enc, nil)

	s, err := r.Suggest(context.Background(), "query", WithCategory("Printer"))
	require.NoError(t, err)
	assert.Equal(t, "hw", s.SourceID)

	s, err = r.Suggest(context.Background(), "query", WithCategory("database"))
	require.NoError(t, err)
	assert.Equal(t, domain.SuggestionNoConfidentMatch, s.Status)
	assert.Equal(t, 1, enc.callCount(), "an empty candidate set is not encoded")
}

func TestSuggest_SymptomsAppendedToQuery(t *testing.T) {
	kb := kbWith(scored("a", domain.CategoryNetwork, unit(0.95)))
	enc := queryEncoder()
	r := NewRetriever(staticSnapshot{kb}, enc, nil)

	_, err := r.Suggest(context.Background(), "  VPN drops ", WithSymptoms("every 10 minutes"))

	require.NoError(t, err)
	assert.Equal(t, []string{"VPN drops every 10 minutes"}, enc.seen())
}

func TestSuggest_CategoryAppendedToQuery(t *testing.T) {
	kb := kbWith(
		scored("a", domain.CategoryNetwork, unit(0.95)),
		scored("b", domain.CategoryOther, unit(0.9)),
	)
	enc := queryEncoder()
	r := NewRetriever(staticSnapshot{kb}, enc, nil)

	_, err := r.Suggest(context.Background(), "VPN drops", WithSymptoms("hourly"), WithCategory("Network"))
	require.NoError(t, err)
	_, err = r.Suggest(context.Background(), "VPN drops", WithCategory("misc"))
	require.NoError(t, err)

	assert.Equal(t, []string{"VPN drops hourly network", "VPN drops"}, enc.seen())
}

func TestSuggest_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	wide := make([]float32, 384)
	wide[0] = 1
	kb := kbWith(scored("INC-384", domain.CategoryNetwork, wide))
	provider := embedding.NewProvider(embedding.HashingLoader(16), embedding.WithDimension(16))
	r := NewRetriever(staticSnapshot{kb}, provider, nil)

	s, err := r.Suggest(ctx, "VPN timeout")

	assert.Nil(t, s)
	assert.True(t, domain.IsCode(err, domain.ErrCodeModelUnavailable))
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestSuggest_Errors(t *testing.T) {
	kb := kbWith(scored("a", domain.CategoryNetwork, unit(0.95)))

	t.Run("empty query", func(t *testing.T) {
		r := NewRetriever(staticSnapshot{kb}, queryEncoder(), nil)
		_, err := r.Suggest(context.Background(), "   ")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("encoder unavailable", func(t *testing.T) {
		enc := queryEncoder()
		enc.err = domain.ModelUnavailable(errors.New("connection refused"))
		r := NewRetriever(staticSnapshot{kb}, enc, nil)

		s, err := r.Suggest(context.Background(), "query")

		assert.Nil(t, s)
		assert.True(t, domain.IsCode(err, domain.ErrCodeModelUnavailable))
	})

	t.Run("threshold out of range", func(t *testing.T) {
		r := NewRetriever(staticSnapshot{kb}, queryEncoder(), nil)
		_, err := r.Suggest(context.Background(), "query", WithConfidenceThreshold(2))
		assert.True(t, domain.IsCode(err, domain.ErrCodeInvalidInput))
	})
}

func TestRankCandidates_EpsilonTies(t *testing.T) {
	cs := []candidate{
		{order: 2, score: 0.5},
		{order: 0, score: 0.5 + 1e-12},
		{order: 1, score: 0.9},
	}

	rankCandidates(cs)

	assert.Equal(t, []int{1, 0, 2}, []int{cs[0].order, cs[1].order, cs[2].order})
}
