package domain

import (
	"fmt"
	"time"
)

// KnowledgeBase is the versioned collection of resolved incidents.
// A published KnowledgeBase is never mutated; writers work on a Clone.
type KnowledgeBase struct {
	Version     int64
	LastUpdated time.Time
	Entries     []*Incident
}

// NewKnowledgeBase returns an empty knowledge base at version 0
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		Version: 0,
		Entries: []*Incident{},
	}
}

// IncidentCount returns the number of stored incidents
func (kb *KnowledgeBase) IncidentCount() int {
	return len(kb.Entries)
}

// IsEmpty reports whether the knowledge base holds no incidents
func (kb *KnowledgeBase) IsEmpty() bool {
	return len(kb.Entries) == 0
}

// Dimension returns the embedding dimension of the stored incidents, or 0 when empty
func (kb *KnowledgeBase) Dimension() int {
	for _, e := range kb.Entries {
		if len(e.Embedding) > 0 {
			return len(e.Embedding)
		}
	}
	return 0
}

// IndexOf returns the insertion position of the incident with the given ID, or -1
func (kb *KnowledgeBase) IndexOf(id string) int {
	for i, e := range kb.Entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

// Get returns the incident with the given ID
func (kb *KnowledgeBase) Get(id string) (*Incident, bool) {
	if i := kb.IndexOf(id); i >= 0 {
		return kb.Entries[i], true
	}
	return nil, false
}

// Clone returns a deep copy suitable for mutation
func (kb *KnowledgeBase) Clone() *KnowledgeBase {
	entries := make([]*Incident, len(kb.Entries))
	for i, e := range kb.Entries {
		entries[i] = e.Clone()
	}
	return &KnowledgeBase{
		Version:     kb.Version,
		LastUpdated: kb.LastUpdated,
		Entries:     entries,
	}
}

// Touch records a successful mutation
func (kb *KnowledgeBase) Touch(now time.Time) {
	kb.Version++
	kb.LastUpdated = now
}

// ValidateKnowledgeBase checks the aggregate invariants
func ValidateKnowledgeBase(kb *KnowledgeBase) error {
	if kb == nil {
		return fmt.Errorf("knowledge base cannot be nil")
	}

	if kb.Version < 0 {
		return fmt.Errorf("knowledge base Version cannot be negative")
	}

	seen := make(map[string]struct{}, len(kb.Entries))
	dim := 0
	for i, e := range kb.Entries {
		if e == nil {
			return fmt.Errorf("knowledge base entry %d is nil", i)
		}
		if e.ID == "" {
			return fmt.Errorf("knowledge base entry %d has no ID", i)
		}
		if _, dup := seen[e.ID]; dup {
			return fmt.Errorf("knowledge base has duplicate incident ID %s", e.ID)
		}
		seen[e.ID] = struct{}{}

		if len(e.Embedding) == 0 {
			return fmt.Errorf("incident %s has no embedding", e.ID)
		}
		if dim == 0 {
			dim = len(e.Embedding)
		} else if len(e.Embedding) != dim {
			return fmt.Errorf("incident %s embedding has dimension %d, expected %d", e.ID, len(e.Embedding), dim)
		}
	}

	return nil
}
