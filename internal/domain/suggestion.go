package domain

// SuggestionStatus distinguishes a confident match from the fall-back outcome
type SuggestionStatus string

const (
	SuggestionMatched          SuggestionStatus = "matched"
	SuggestionNoConfidentMatch SuggestionStatus = "no_confident_match"
)

// ScoredIncident is a knowledge base incident with its similarity to a query
type ScoredIncident struct {
	IncidentID      string
	ResolutionNotes string
	Category        Category
	Similarity      float64
}

// Suggestion is the outcome of a resolution lookup.
// When Status is SuggestionNoConfidentMatch only BestScore may be set.
type Suggestion struct {
	Status       SuggestionStatus
	Resolution   string
	Confidence   float64
	SourceID     string
	Alternatives []ScoredIncident
	Note         string
	BestScore    float64
}

// Matched reports whether a resolution above the threshold was found
func (s *Suggestion) Matched() bool {
	return s.Status == SuggestionMatched
}

// NoConfidentMatch builds the fall-back outcome
func NoConfidentMatch(bestScore float64) *Suggestion {
	return &Suggestion{
		Status:       SuggestionNoConfidentMatch,
		Alternatives: []ScoredIncident{},
		BestScore:    bestScore,
	}
}
