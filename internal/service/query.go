package service

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cloo-solutions/resolvekb/internal/domain"
	"github.com/cloo-solutions/resolvekb/internal/pagination"
)

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 500
)

// Filter narrows a listing. Zero fields match everything.
type Filter struct {
	Category domain.Category
	Priority domain.Priority
}

func (f Filter) matches(inc *domain.Incident) bool {
	if f.Category != "" && inc.Category != domain.NormalizeCategory(string(f.Category)) {
		return false
	}
	if strings.TrimSpace(string(f.Priority)) != "" && !samePriority(f.Priority, inc.Priority) {
		return false
	}
	return true
}

// samePriority compares numerically when both sides carry a number, so "2"
// matches "2 - High"
func samePriority(a, b domain.Priority) bool {
	an, aok := a.Number()
	bn, bok := b.Number()
	if aok && bok {
		return an == bn
	}
	return strings.EqualFold(strings.TrimSpace(string(a)), strings.TrimSpace(string(b)))
}

// QueryAll returns copies of the incidents matching filter, in insertion order
func (s *KnowledgeStore) QueryAll(filter Filter) []*domain.Incident {
	kb := s.Snapshot()
	out := make([]*domain.Incident, 0, len(kb.Entries))
	for _, e := range kb.Entries {
		if filter.matches(e) {
			out = append(out, e.Clone())
		}
	}
	return out
}

// QueryPage lists matching incidents in insertion order, limit at a time.
// cursor is empty for the first page and the previous page's Cursor after that.
func (s *KnowledgeStore) QueryPage(filter Filter, cursor string, limit int) (*pagination.PageResult[*domain.Incident], error) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}

	c, err := pagination.DecodeCursor(cursor)
	if err != nil {
		return nil, domain.InvalidInput(err)
	}

	kb := s.Snapshot()
	start := 0
	if c != nil {
		idx := kb.IndexOf(c.LastID)
		if idx < 0 {
			return nil, domain.InvalidInput(fmt.Errorf("%w: incident %s is no longer stored", pagination.ErrInvalidCursor, c.LastID))
		}
		start = idx + 1
	}

	items := make([]*domain.Incident, 0, limit)
	hasMore := false
	for _, e := range kb.Entries[start:] {
		if !filter.matches(e) {
			continue
		}
		if len(items) == limit {
			hasMore = true
			break
		}
		items = append(items, e.Clone())
	}

	return &pagination.PageResult[*domain.Incident]{
		Items:   items,
		Cursor:  pagination.NextCursor(items, hasMore, kb.Version, func(inc *domain.Incident) string { return inc.ID }),
		HasMore: hasMore,
	}, nil
}

// Stats summarises the published knowledge base
type Stats struct {
	Version       int64
	LastUpdated   time.Time
	IncidentCount int
	Dimension     int
	Categories    []domain.CategoryCount
}

// Stats reports the size and category mix of the published knowledge base
func (s *KnowledgeStore) Stats() Stats {
	kb := s.Snapshot()
	counts := make(map[domain.Category]int)
	for _, e := range kb.Entries {
		counts[e.Category]++
	}
	return Stats{
		Version:       kb.Version,
		LastUpdated:   kb.LastUpdated,
		IncidentCount: kb.IncidentCount(),
		Dimension:     kb.Dimension(),
		Categories:    sortedCategoryCounts(counts),
	}
}

// sortedCategoryCounts orders by count descending, then category name
func sortedCategoryCounts(counts map[domain.Category]int) []domain.CategoryCount {
	out := make([]domain.CategoryCount, 0, len(counts))
	for c, n := range counts {
		out = append(out, domain.CategoryCount{Category: c, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Category < out[j].Category
	})
	return out
}
