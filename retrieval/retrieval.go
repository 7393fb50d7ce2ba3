// Package retrieval finds the passages of the survey knowledge base that are
// most similar to a question and folds them into the prompt sent to the crew.
package retrieval

import (
	"context"
	"errors"
)

// ErrRetrievalUnavailable is returned when the index cannot be bootstrapped,
// opened or queried.
var ErrRetrievalUnavailable = errors.New("retrieval unavailable")

// Passage is one retrieved snippet. Rank 1 is the most relevant.
type Passage struct {
	Content string
	Source  string
	Rank    int
}

type Retriever interface {
	Retrieve(ctx context.Context, prompt string, k int) ([]Passage, error)
}
