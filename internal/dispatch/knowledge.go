package dispatch

import "context"

// KnowledgeAnswer is one stored question/answer pair returned by a lookup.
type KnowledgeAnswer struct {
	Question      string
	Answer        string
	AverageRating float64
	RatingCount   int
}

// KnowledgeBase looks up previously stored answers for similar prompts.
// Lookups are best-effort: dispatch logs and swallows their errors and
// proceeds to a live provider call.
type KnowledgeBase interface {
	Lookup(ctx context.Context, prompt string) ([]KnowledgeAnswer, error)
}
