package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cloo-solutions/resolvekb/internal/domain"
	"github.com/cloo-solutions/resolvekb/internal/metrics"
	"github.com/cloo-solutions/resolvekb/internal/telemetry"
)

// AppendStatus is the per-entry outcome of an append
type AppendStatus string

const (
	AppendAccepted  AppendStatus = "accepted"
	AppendDuplicate AppendStatus = "duplicate"
	// AppendRejected is only reported by AppendBatch, for entries that failed validation
	AppendRejected AppendStatus = "rejected"
)

// AppendResult describes what happened to one appended entry.
// Version is the knowledge base version after the call.
type AppendResult struct {
	ID          string
	Status      AppendStatus
	DuplicateOf string
	Similarity  float64
	Version     int64
	Err         error
}

type appendConfig struct {
	threshold float64
	force     bool
}

// AppendOption configures duplicate screening
type AppendOption func(*appendConfig)

// WithDedupeThreshold sets the similarity at or above which an entry is rejected as a duplicate
func WithDedupeThreshold(t float64) AppendOption {
	return func(c *appendConfig) {
		c.threshold = t
	}
}

// WithForce skips duplicate screening. Existing IDs are still rejected.
func WithForce() AppendOption {
	return func(c *appendConfig) {
		c.force = true
	}
}

func newAppendConfig(opts []AppendOption) (appendConfig, error) {
	cfg := appendConfig{threshold: DefaultDedupeThreshold}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.threshold <= 0 || cfg.threshold > 1 {
		return cfg, domain.InvalidInput(fmt.Errorf("dedupe threshold must be in (0, 1], got %v", cfg.threshold))
	}
	return cfg, nil
}

// derive starts the next version of kb. Published incidents are never
// modified, so the entries are shared until replaced.
func derive(kb *domain.KnowledgeBase) *domain.KnowledgeBase {
	entries := make([]*domain.Incident, len(kb.Entries), len(kb.Entries)+1)
	copy(entries, kb.Entries)
	return &domain.KnowledgeBase{
		Version:     kb.Version,
		LastUpdated: kb.LastUpdated,
		Entries:     entries,
	}
}

// Append adds one incident. An entry whose embedding is at least as similar
// as the dedupe threshold to a stored incident is not added: the result has
// Status AppendDuplicate and err is a *domain.DuplicateError.
func (s *KnowledgeStore) Append(ctx context.Context, entry *domain.Incident, opts ...AppendOption) (*AppendResult, error) {
	cfg, err := newAppendConfig(opts)
	if err != nil {
		return nil, err
	}

	inc, err := s.prepare(entry)
	if err != nil {
		metrics.StoreMutationsTotal.WithLabelValues("append", "rejected").Inc()
		s.logger.Debug("append rejected", zap.Error(err))
		return nil, err
	}

	ctx, span := telemetry.StartSpan(ctx, "KnowledgeStore.Append", telemetry.SpanAttributes{
		IncidentID: inc.ID,
		Backend:    s.backend,
		Operation:  "append",
	})
	defer span.End()

	if len(inc.Embedding) == 0 {
		v, err := s.provider.Encode(ctx, inc.EmbeddingText())
		if err != nil {
			s.logEncodeFailure("append", inc.ID, err)
			span.SetError(err)
			return nil, err
		}
		inc.Embedding = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.Snapshot()
	if cur.IndexOf(inc.ID) >= 0 {
		metrics.StoreMutationsTotal.WithLabelValues("append", "rejected").Inc()
		return nil, fmt.Errorf("%w: %s", domain.ErrIncidentAlreadyExists, inc.ID)
	}
	if err := checkDimension(cur, inc); err != nil {
		metrics.StoreMutationsTotal.WithLabelValues("append", "rejected").Inc()
		return nil, err
	}

	if !cfg.force {
		if best, score := bestMatch(cur.Entries, inc.Embedding); best != nil && score >= cfg.threshold {
			metrics.StoreMutationsTotal.WithLabelValues("append", "duplicate").Inc()
			s.logger.Info("append rejected as duplicate",
				zap.String("incident_id", inc.ID),
				zap.String("duplicate_of", best.ID),
				zap.Float64("similarity", score),
			)
			return &AppendResult{
				ID:          inc.ID,
				Status:      AppendDuplicate,
				DuplicateOf: best.ID,
				Similarity:  score,
				Version:     cur.Version,
			}, &domain.DuplicateError{ID: best.ID, Similarity: score}
		}
	}

	next := derive(cur)
	next.Entries = append(next.Entries, inc)
	if err := s.commit(ctx, "append", inc.ID, next); err != nil {
		span.SetError(err)
		return nil, err
	}

	return &AppendResult{ID: inc.ID, Status: AppendAccepted, Version: next.Version}, nil
}

// AppendBatch adds many incidents with one encoder call and one save. Each
// entry is screened against the stored incidents and the entries accepted
// before it in the batch. Invalid entries are reported as AppendRejected
// without failing the batch; an encoder or save failure fails all of it.
func (s *KnowledgeStore) AppendBatch(ctx context.Context, entries []*domain.Incident, opts ...AppendOption) ([]AppendResult, error) {
	cfg, err := newAppendConfig(opts)
	if err != nil {
		return nil, err
	}

	ctx, span := telemetry.StartSpan(ctx, "KnowledgeStore.AppendBatch", telemetry.SpanAttributes{
		Backend:   s.backend,
		Operation: "append_batch",
		BatchSize: len(entries),
	})
	defer span.End()

	results := make([]AppendResult, len(entries))
	prepared := make([]*domain.Incident, len(entries))
	var texts []string
	var needs []int
	for i, e := range entries {
		inc, err := s.prepare(e)
		if err != nil {
			id := ""
			if e != nil {
				id = e.ID
			}
			results[i] = AppendResult{ID: id, Status: AppendRejected, Err: err}
			metrics.StoreMutationsTotal.WithLabelValues("append_batch", "rejected").Inc()
			continue
		}
		prepared[i] = inc
		results[i].ID = inc.ID
		if len(inc.Embedding) == 0 {
			texts = append(texts, inc.EmbeddingText())
			needs = append(needs, i)
		}
	}

	if len(texts) > 0 {
		vecs, err := s.provider.EncodeBatch(ctx, texts)
		if err != nil {
			s.logEncodeFailure("append_batch", "", err)
			span.SetError(err)
			return nil, err
		}
		for j, i := range needs {
			prepared[i].Embedding = vecs[j]
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.Snapshot()
	next := derive(cur)
	ids := make(map[string]struct{}, len(next.Entries))
	for _, e := range next.Entries {
		ids[e.ID] = struct{}{}
	}

	accepted := 0
	for i, inc := range prepared {
		if inc == nil {
			continue
		}
		if _, exists := ids[inc.ID]; exists {
			results[i].Status = AppendRejected
			results[i].Err = fmt.Errorf("%w: %s", domain.ErrIncidentAlreadyExists, inc.ID)
			continue
		}
		if err := checkDimension(next, inc); err != nil {
			results[i].Status = AppendRejected
			results[i].Err = err
			continue
		}
		if !cfg.force {
			if best, score := bestMatch(next.Entries, inc.Embedding); best != nil && score >= cfg.threshold {
				results[i].Status = AppendDuplicate
				results[i].DuplicateOf = best.ID
				results[i].Similarity = score
				results[i].Err = &domain.DuplicateError{ID: best.ID, Similarity: score}
				metrics.StoreMutationsTotal.WithLabelValues("append_batch", "duplicate").Inc()
				continue
			}
		}
		next.Entries = append(next.Entries, inc)
		ids[inc.ID] = struct{}{}
		results[i].Status = AppendAccepted
		accepted++
	}

	version := cur.Version
	if accepted > 0 {
		if err := s.commit(ctx, "append_batch", "", next); err != nil {
			span.SetError(err)
			return nil, err
		}
		version = next.Version
	}
	for i := range results {
		results[i].Version = version
	}

	s.logger.Info("batch append finished",
		zap.Int("submitted", len(entries)),
		zap.Int("accepted", accepted),
		zap.Int64("version", version),
	)
	return results, nil
}

// IncidentPatch holds the fields to change on an incident. Nil fields are kept.
type IncidentPatch struct {
	ShortDescription *string
	Description      *string
	Category         *string
	Priority         *domain.Priority
	ResolutionNotes  *string
	ResolvedAt       *time.Time
}

// IsEmpty reports whether the patch changes nothing
func (p IncidentPatch) IsEmpty() bool {
	return p.ShortDescription == nil && p.Description == nil && p.Category == nil &&
		p.Priority == nil && p.ResolutionNotes == nil && p.ResolvedAt == nil
}

func (p IncidentPatch) apply(inc *domain.Incident) {
	if p.ShortDescription != nil {
		inc.ShortDescription = *p.ShortDescription
	}
	if p.Description != nil {
		inc.Description = *p.Description
	}
	if p.Category != nil {
		inc.Category = domain.NormalizeCategory(*p.Category)
	}
	if p.Priority != nil {
		inc.Priority = *p.Priority
	}
	if p.ResolutionNotes != nil {
		inc.ResolutionNotes = *p.ResolutionNotes
	}
	if p.ResolvedAt != nil {
		inc.ResolvedAt = p.ResolvedAt.UTC()
	}
}

// Update changes fields of a stored incident and returns the updated copy.
// The incident is re-encoded when its embedding text changes. On failure the
// knowledge base and its version are unchanged.
func (s *KnowledgeStore) Update(ctx context.Context, id string, patch IncidentPatch) (*domain.Incident, error) {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeStore.Update", telemetry.SpanAttributes{
		IncidentID: id,
		Backend:    s.backend,
		Operation:  "update",
	})
	defer span.End()

	if patch.IsEmpty() {
		return nil, domain.InvalidInput(errors.New("patch has no fields to update"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.Snapshot()
	idx := cur.IndexOf(id)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrIncidentNotFound, id)
	}

	old := cur.Entries[idx]
	upd := old.Clone()
	patch.apply(upd)

	if patch.ResolutionNotes != nil {
		if err := s.checkResolution(upd); err != nil {
			metrics.StoreMutationsTotal.WithLabelValues("update", "rejected").Inc()
			return nil, err
		}
	}
	if err := domain.ValidateIncident(upd); err != nil {
		metrics.StoreMutationsTotal.WithLabelValues("update", "rejected").Inc()
		return nil, domain.InvalidInput(err)
	}

	if text := upd.EmbeddingText(); text != old.EmbeddingText() {
		v, err := s.provider.Encode(ctx, text)
		if err != nil {
			s.logEncodeFailure("update", id, err)
			span.SetError(err)
			return nil, err
		}
		upd.Embedding = v
		if err := checkDimension(cur, upd); err != nil {
			return nil, err
		}
	}
	upd.UpdatedAt = s.now()

	next := derive(cur)
	next.Entries[idx] = upd
	if err := s.commit(ctx, "update", id, next); err != nil {
		span.SetError(err)
		return nil, err
	}
	return upd.Clone(), nil
}

// Remove deletes a stored incident
func (s *KnowledgeStore) Remove(ctx context.Context, id string) error {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeStore.Remove", telemetry.SpanAttributes{
		IncidentID: id,
		Backend:    s.backend,
		Operation:  "remove",
	})
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.Snapshot()
	idx := cur.IndexOf(id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", domain.ErrIncidentNotFound, id)
	}

	next := derive(cur)
	next.Entries = append(next.Entries[:idx], next.Entries[idx+1:]...)
	if err := s.commit(ctx, "remove", id, next); err != nil {
		span.SetError(err)
		return err
	}
	return nil
}

// Reembed encodes every stored incident again with the current provider,
// typically after a model change, and saves the result as one mutation.
// It returns the number of incidents encoded.
func (s *KnowledgeStore) Reembed(ctx context.Context) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeStore.Reembed", telemetry.SpanAttributes{
		Backend:   s.backend,
		Operation: "reembed",
	})
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.Snapshot()
	if cur.IsEmpty() {
		return 0, nil
	}
	span.SetData("incidents", cur.IncidentCount())

	texts := make([]string, len(cur.Entries))
	for i, e := range cur.Entries {
		texts[i] = e.EmbeddingText()
	}
	vecs, err := s.provider.EncodeBatch(ctx, texts)
	if err != nil {
		s.logEncodeFailure("reembed", "", err)
		span.SetError(err)
		return 0, err
	}

	next := derive(cur)
	for i, e := range cur.Entries {
		upd := e.Clone()
		upd.Embedding = vecs[i]
		next.Entries[i] = upd
	}
	if err := s.commit(ctx, "reembed", "", next); err != nil {
		span.SetError(err)
		return 0, err
	}
	return len(texts), nil
}

func (s *KnowledgeStore) logEncodeFailure(op, id string, err error) {
	fields := []zap.Field{zap.String("operation", op), zap.Error(err)}
	if id != "" {
		fields = append(fields, zap.String("incident_id", strings.TrimSpace(id)))
	}
	if domain.IsCode(err, domain.ErrCodeInvalidInput) {
		s.logger.Debug("encoding rejected input", fields...)
		return
	}
	metrics.StoreMutationsTotal.WithLabelValues(op, "failed").Inc()
	s.logger.Warn("encoding failed", fields...)
}
