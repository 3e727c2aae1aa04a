package service

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/cloo-solutions/resolvekb/internal/domain"
	"github.com/cloo-solutions/resolvekb/internal/repository"
)

const testDim = 5

var (
	sqrt3half = float32(math.Sqrt(3) / 2)

	vecEmail   = []float32{1, 0, 0, 0, 0}
	vecPrinter = []float32{0.5, sqrt3half, 0, 0, 0}
)

// scatterVec is at cosine distance ~0.567 from vecEmail and vecPrinter and
// 0.75 from the other scatter vectors
func scatterVec(k int) []float32 {
	v := make([]float32, testDim)
	v[0] = 0.5 * sqrt3half
	v[1] = 0.5 * 0.5
	v[2+k] = sqrt3half
	return v
}

type topicRule struct {
	contains string
	vec      []float32
}

// topicEncoder maps texts to fixed unit vectors by the first rule whose
// substring the lower-cased text contains
type topicEncoder struct {
	mu    sync.Mutex
	rules []topicRule
	calls int
	texts []string
	err   error
}

func newTopicEncoder(rules ...topicRule) *topicEncoder {
	return &topicEncoder{rules: rules}
}

func (e *topicEncoder) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.texts = append(e.texts, texts...)
	if e.err != nil {
		return nil, e.err
	}

	out := make([][]float32, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, domain.InvalidInput(domain.ErrEmptyText)
		}
		out[i] = []float32{0, 0, 0, 0, 1}
		lower := strings.ToLower(t)
		for _, r := range e.rules {
			if strings.Contains(lower, strings.ToLower(r.contains)) {
				out[i] = append([]float32(nil), r.vec...)
				break
			}
		}
	}
	return out, nil
}

func (e *topicEncoder) Encode(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EncodeBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (e *topicEncoder) Dimension() int {
	return testDim
}

func (e *topicEncoder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *topicEncoder) seen() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.texts...)
}

// vpnEncoder places "VPN login timeout" at similarity 0.98 to "VPN connection
// timeout" and "Cannot connect to VPN" at 0.8
func vpnEncoder() *topicEncoder {
	return newTopicEncoder(
		topicRule{"vpn connection", []float32{1, 0, 0, 0, 0}},
		topicRule{"vpn login", []float32{0.98, float32(math.Sqrt(1 - 0.98*0.98)), 0, 0, 0}},
		topicRule{"connect to vpn", []float32{0.8, 0.6, 0, 0, 0}},
		topicRule{"printer", []float32{0, 0, 1, 0, 0}},
		topicRule{"outlook", []float32{0, 0, 0, 1, 0}},
	)
}

// memoryRepository keeps the last saved knowledge base in memory
type memoryRepository struct {
	mu      sync.Mutex
	kb      *domain.KnowledgeBase
	saves   int
	saveErr error
}

func (r *memoryRepository) Load(ctx context.Context) (*domain.KnowledgeBase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.kb == nil {
		return nil, repository.ErrNotFound
	}
	return r.kb.Clone(), nil
}

func (r *memoryRepository) Save(ctx context.Context, kb *domain.KnowledgeBase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.saves++
	r.kb = kb.Clone()
	return nil
}

func (r *memoryRepository) failSaves(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saveErr = err
}

func (r *memoryRepository) saveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saves
}

func (r *memoryRepository) saved() *domain.KnowledgeBase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.kb
}

// MockKnowledgeBaseRepository is a mock implementation of KnowledgeBaseRepository
type MockKnowledgeBaseRepository struct {
	mock.Mock
}

func (m *MockKnowledgeBaseRepository) Load(ctx context.Context) (*domain.KnowledgeBase, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.KnowledgeBase), args.Error(1)
}

func (m *MockKnowledgeBaseRepository) Save(ctx context.Context, kb *domain.KnowledgeBase) error {
	args := m.Called(ctx, kb)
	return args.Error(0)
}

type sequentialIDs struct {
	mu sync.Mutex
	n  int
}

func (g *sequentialIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return "KB-" + string(rune('0'+g.n))
}

var fixedNow = time.Date(2025, 11, 15, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time {
	return fixedNow
}

func vpnIncident(id, description string) *domain.Incident {
	return &domain.Incident{
		ID:              id,
		Description:     description,
		Category:        "Network",
		Priority:        "2",
		ResolutionNotes: "Updated VPN client to version 3.5",
	}
}

// staticSnapshot serves a fixed knowledge base
type staticSnapshot struct {
	kb *domain.KnowledgeBase
}

func (s staticSnapshot) Snapshot() *domain.KnowledgeBase {
	return s.kb
}
