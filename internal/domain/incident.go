package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// IncidentSource records how an incident entered the knowledge base
type IncidentSource string

const (
	IncidentSourceManual     IncidentSource = "manual"
	IncidentSourceBulkImport IncidentSource = "bulk_import"
	IncidentSourceSync       IncidentSource = "sync"
)

// Incident is one resolved incident together with its semantic fingerprint.
// It is the unit stored in a KnowledgeBase.
type Incident struct {
	ID               string
	ShortDescription string
	Description      string
	Category         Category
	Priority         Priority
	ResolutionNotes  string
	Embedding        []float32
	CreatedAt        time.Time
	ResolvedAt       time.Time
	UpdatedAt        time.Time
	Source           IncidentSource
}

// EmbeddingText returns the text the incident is encoded from
func (i *Incident) EmbeddingText() string {
	var parts []string
	if s := strings.TrimSpace(i.ShortDescription); s != "" {
		parts = append(parts, s)
	}
	if s := strings.TrimSpace(i.Description); s != "" && s != strings.TrimSpace(i.ShortDescription) {
		parts = append(parts, s)
	}
	if i.Category != "" && i.Category != CategoryOther {
		parts = append(parts, string(i.Category))
	}
	return strings.Join(parts, " ")
}

// Clone returns a deep copy of the incident
func (i *Incident) Clone() *Incident {
	c := *i
	if i.Embedding != nil {
		c.Embedding = make([]float32, len(i.Embedding))
		copy(c.Embedding, i.Embedding)
	}
	return &c
}

// ResolutionHours returns the time between creation and resolution.
// ok is false when either timestamp is missing or resolution precedes creation.
func (i *Incident) ResolutionHours() (hours float64, ok bool) {
	if i.CreatedAt.IsZero() || i.ResolvedAt.IsZero() || i.ResolvedAt.Before(i.CreatedAt) {
		return 0, false
	}
	return i.ResolvedAt.Sub(i.CreatedAt).Hours(), true
}

// ValidateIncident validates an Incident before it is stored
func ValidateIncident(i *Incident) error {
	if i == nil {
		return fmt.Errorf("incident cannot be nil")
	}

	if strings.TrimSpace(i.ID) == "" {
		return fmt.Errorf("incident ID is required")
	}

	if strings.TrimSpace(i.EmbeddingText()) == "" {
		return fmt.Errorf("incident %s needs a short description or description", i.ID)
	}

	if !isValidCategory(i.Category) {
		return fmt.Errorf("incident Category is invalid: %s", i.Category)
	}

	if !isValidIncidentSource(i.Source) {
		return fmt.Errorf("incident Source is invalid: %s", i.Source)
	}

	return nil
}

func isValidIncidentSource(s IncidentSource) bool {
	switch s {
	case IncidentSourceManual, IncidentSourceBulkImport, IncidentSourceSync:
		return true
	}
	return false
}

// Priority is the ticket priority as received from the ticketing system.
// ServiceNow exports carry it as "1", "2 - High", or a bare integer.
type Priority string

// Number returns the leading integer of the priority, if any
func (p Priority) Number() (int, bool) {
	s := strings.TrimSpace(string(p))
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

// MarshalJSON writes numeric priorities as JSON numbers and everything else as strings
func (p Priority) MarshalJSON() ([]byte, error) {
	s := strings.TrimSpace(string(p))
	if n, err := strconv.Atoi(s); err == nil {
		return json.Marshal(n)
	}
	return json.Marshal(string(p))
}

// UnmarshalJSON accepts a string, an integer or null
func (p *Priority) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*p = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*p = Priority(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("priority must be a string or integer: %w", err)
	}
	if _, err := n.Int64(); err != nil {
		return fmt.Errorf("priority must be an integer: %s", n)
	}
	*p = Priority(n.String())
	return nil
}
