package repository

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/cloo-solutions/resolvekb/internal/domain"
)

// ErrNotFound is returned by Load when nothing has been persisted yet
var ErrNotFound = errors.New("knowledge base not found")

// CorruptError reports persisted content that fails schema validation
type CorruptError struct {
	Source string
	Err    error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("corrupted knowledge base at %s: %v", e.Source, e.Err)
}

func (e *CorruptError) Unwrap() error {
	return e.Err
}

// AsCorrupt extracts a CorruptError from err
func AsCorrupt(err error) (*CorruptError, bool) {
	var ce *CorruptError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// document is the persisted JSON representation of a knowledge base
type document struct {
	Version       string             `json:"version"`
	LastUpdated   string             `json:"last_updated"`
	IncidentCount *int               `json:"incident_count"`
	Incidents     []documentIncident `json:"incidents"`
}

type documentIncident struct {
	Number           string          `json:"number"`
	ShortDescription string          `json:"short_description"`
	Description      string          `json:"description"`
	Category         string          `json:"category"`
	Priority         domain.Priority `json:"priority"`
	ResolutionNotes  string          `json:"resolution_notes"`
	Embedding        []float32       `json:"embedding"`
	CreatedAt        string          `json:"sys_created_on"`
	ResolvedAt       string          `json:"resolved_at"`
	UpdatedAt        string          `json:"sys_updated_on,omitempty"`
	Source           string          `json:"source,omitempty"`
}

// timestampLayouts are accepted on decode; the first is used on encode.
// Naive timestamps are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(field, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%s is not an ISO-8601 timestamp: %q", field, s)
}

// EncodeDocument renders kb in the persisted JSON layout
func EncodeDocument(kb *domain.KnowledgeBase) ([]byte, error) {
	count := len(kb.Entries)
	doc := document{
		Version:       strconv.FormatInt(kb.Version, 10),
		LastUpdated:   formatTime(kb.LastUpdated),
		IncidentCount: &count,
		Incidents:     make([]documentIncident, 0, count),
	}
	for _, e := range kb.Entries {
		doc.Incidents = append(doc.Incidents, documentIncident{
			Number:           e.ID,
			ShortDescription: e.ShortDescription,
			Description:      e.Description,
			Category:         string(e.Category),
			Priority:         e.Priority,
			ResolutionNotes:  e.ResolutionNotes,
			Embedding:        e.Embedding,
			CreatedAt:        formatTime(e.CreatedAt),
			ResolvedAt:       formatTime(e.ResolvedAt),
			UpdatedAt:        formatTime(e.UpdatedAt),
			Source:           string(e.Source),
		})
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode knowledge base: %w", err)
	}
	return append(data, '\n'), nil
}

// DecodeDocument parses and validates a persisted document. Validation
// failures are returned as *CorruptError naming source.
func DecodeDocument(source string, data []byte) (*domain.KnowledgeBase, error) {
	corrupt := func(err error) error {
		return &CorruptError{Source: source, Err: err}
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, corrupt(errors.New("document is empty"))
	}

	var doc document
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		return nil, corrupt(fmt.Errorf("malformed JSON: %w", err))
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, corrupt(errors.New("malformed JSON: trailing data after document"))
	}

	version, err := strconv.ParseInt(doc.Version, 10, 64)
	if err != nil || version < 0 {
		return nil, corrupt(fmt.Errorf("version must be a non-negative integer string, got %q", doc.Version))
	}
	if doc.IncidentCount == nil {
		return nil, corrupt(errors.New("incident_count is missing"))
	}
	if *doc.IncidentCount != len(doc.Incidents) {
		return nil, corrupt(fmt.Errorf("incident_count %d does not match %d incidents", *doc.IncidentCount, len(doc.Incidents)))
	}

	lastUpdated, err := parseTime("last_updated", doc.LastUpdated)
	if err != nil {
		return nil, corrupt(err)
	}

	kb := &domain.KnowledgeBase{
		Version:     version,
		LastUpdated: lastUpdated,
		Entries:     make([]*domain.Incident, 0, len(doc.Incidents)),
	}
	for i, di := range doc.Incidents {
		inc, err := di.toIncident()
		if err != nil {
			return nil, corrupt(fmt.Errorf("incident %d: %w", i, err))
		}
		kb.Entries = append(kb.Entries, inc)
	}

	if err := domain.ValidateKnowledgeBase(kb); err != nil {
		return nil, corrupt(err)
	}
	return kb, nil
}

func (di documentIncident) toIncident() (*domain.Incident, error) {
	created, err := parseTime("sys_created_on", di.CreatedAt)
	if err != nil {
		return nil, err
	}
	resolved, err := parseTime("resolved_at", di.ResolvedAt)
	if err != nil {
		return nil, err
	}
	updated, err := parseTime("sys_updated_on", di.UpdatedAt)
	if err != nil {
		return nil, err
	}

	source := domain.IncidentSource(di.Source)
	if source == "" {
		source = domain.IncidentSourceManual
	}

	return &domain.Incident{
		ID:               di.Number,
		ShortDescription: di.ShortDescription,
		Description:      di.Description,
		Category:         domain.NormalizeCategory(di.Category),
		Priority:         di.Priority,
		ResolutionNotes:  di.ResolutionNotes,
		Embedding:        di.Embedding,
		CreatedAt:        created,
		ResolvedAt:       resolved,
		UpdatedAt:        updated,
		Source:           source,
	}, nil
}

// DecodeIncidents parses incident records for import. data is a JSON array
// of records, a full knowledge base document, or one record per line.
// Embeddings in the input are kept; the store normalises or recomputes them.
func DecodeIncidents(data []byte) ([]*domain.Incident, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("import file is empty")
	}

	var records []documentIncident
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("malformed JSON array: %w", err)
		}
	case '{':
		var doc document
		if err := json.Unmarshal(trimmed, &doc); err == nil && doc.Incidents != nil {
			records = doc.Incidents
			break
		}
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		for line := 1; dec.More(); line++ {
			var r documentIncident
			if err := dec.Decode(&r); err != nil {
				return nil, fmt.Errorf("record %d: %w", line, err)
			}
			records = append(records, r)
		}
	default:
		return nil, errors.New("expected a JSON array, a knowledge base document or JSON lines")
	}

	out := make([]*domain.Incident, 0, len(records))
	for i, r := range records {
		inc, err := r.toIncident()
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		if r.Source == "" {
			inc.Source = domain.IncidentSourceBulkImport
		}
		out = append(out, inc)
	}
	return out, nil
}
