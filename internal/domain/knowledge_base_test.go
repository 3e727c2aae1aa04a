package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKnowledgeBase(t *testing.T) {
	kb := NewKnowledgeBase()

	assert.Equal(t, int64(0), kb.Version)
	assert.True(t, kb.IsEmpty())
	assert.Equal(t, 0, kb.IncidentCount())
	assert.Equal(t, 0, kb.Dimension())
	assert.NotNil(t, kb.Entries)
}

func TestKnowledgeBase_CloneIsIndependent(t *testing.T) {
	kb := &KnowledgeBase{
		Version: 3,
		Entries: []*Incident{{ID: "A", Embedding: []float32{1, 0}}},
	}

	c := kb.Clone()
	c.Entries[0].Embedding[0] = 0
	c.Entries = append(c.Entries, &Incident{ID: "B", Embedding: []float32{0, 1}})
	c.Touch(time.Now())

	assert.Equal(t, int64(3), kb.Version)
	assert.Equal(t, int64(4), c.Version)
	assert.Len(t, kb.Entries, 1)
	assert.Equal(t, float32(1), kb.Entries[0].Embedding[0])
}

func TestKnowledgeBase_Lookup(t *testing.T) {
	kb := &KnowledgeBase{Entries: []*Incident{
		{ID: "A", Embedding: []float32{1, 0, 0}},
		{ID: "B", Embedding: []float32{0, 1, 0}},
	}}

	assert.Equal(t, 1, kb.IndexOf("B"))
	assert.Equal(t, -1, kb.IndexOf("C"))
	assert.Equal(t, 3, kb.Dimension())

	got, ok := kb.Get("A")
	require.True(t, ok)
	assert.Equal(t, "A", got.ID)

	_, ok = kb.Get("missing")
	assert.False(t, ok)
}

func TestValidateKnowledgeBase(t *testing.T) {
	tests := []struct {
		name    string
		kb      *KnowledgeBase
		wantErr string
	}{
		{name: "empty", kb: NewKnowledgeBase()},
		{
			name: "valid",
			kb: &KnowledgeBase{Version: 2, Entries: []*Incident{
				{ID: "A", Embedding: []float32{1, 0}},
				{ID: "B", Embedding: []float32{0, 1}},
			}},
		},
		{name: "nil", kb: nil, wantErr: "nil"},
		{name: "negative version", kb: &KnowledgeBase{Version: -1}, wantErr: "Version"},
		{
			name: "duplicate id",
			kb: &KnowledgeBase{Entries: []*Incident{
				{ID: "A", Embedding: []float32{1}},
				{ID: "A", Embedding: []float32{1}},
			}},
			wantErr: "duplicate",
		},
		{
			name:    "missing embedding",
			kb:      &KnowledgeBase{Entries: []*Incident{{ID: "A"}}},
			wantErr: "no embedding",
		},
		{
			name: "mixed dimensions",
			kb: &KnowledgeBase{Entries: []*Incident{
				{ID: "A", Embedding: []float32{1, 0}},
				{ID: "B", Embedding: []float32{1, 0, 0}},
			}},
			wantErr: "dimension",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKnowledgeBase(tt.kb)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDomainError_Matching(t *testing.T) {
	cause := errors.New("connection refused")

	err := fmt.Errorf("encode: %w", ModelUnavailable(cause))
	assert.True(t, errors.Is(err, ErrModelUnavailable))
	assert.True(t, errors.Is(err, cause))
	assert.True(t, IsCode(err, ErrCodeModelUnavailable))
	assert.False(t, IsCode(err, ErrCodePersistence))

	perr := PersistenceFailed("append", "INC1", cause)
	assert.True(t, errors.Is(perr, ErrPersistence))
	assert.Contains(t, perr.Error(), "append INC1")

	assert.False(t, errors.Is(ErrEmptyText, ErrInvalidInput))
	assert.True(t, IsCode(ErrEmptyText, ErrCodeInvalidInput))
	assert.False(t, IsCode(cause, ErrCodeInvalidInput))
}

func TestDuplicateError(t *testing.T) {
	err := fmt.Errorf("append: %w", &DuplicateError{ID: "INC1", Similarity: 0.97})

	dup, ok := AsDuplicate(err)
	require.True(t, ok)
	assert.Equal(t, "INC1", dup.ID)
	assert.Contains(t, err.Error(), "INC1")

	_, ok = AsDuplicate(errors.New("other"))
	assert.False(t, ok)
}
