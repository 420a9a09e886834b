package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/haasonsaas/docqa/pkg/models"
)

// QueryEmbedder embeds one question. embeddings.Provider implements it.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher returns the k chunks nearest to a vector in descending
// similarity. *index.Index implements it.
type Searcher interface {
	Query(vector []float32, k int) ([]models.ScoredChunk, error)
}

// Retriever finds the chunks most relevant to a standalone question.
type Retriever struct {
	embedder QueryEmbedder
	index    Searcher
	k        int
}

// NewRetriever creates a Retriever returning at most k chunks.
func NewRetriever(embedder QueryEmbedder, index Searcher, k int) (*Retriever, error) {
	if embedder == nil || index == nil {
		return nil, errors.New("retriever: embedder and index are required")
	}
	if k <= 0 {
		return nil, fmt.Errorf("retriever: k must be positive, got %d", k)
	}
	return &Retriever{embedder: embedder, index: index, k: k}, nil
}

// K returns the number of chunks requested per question.
func (r *Retriever) K() int { return r.k }

// Retrieve returns min(K, N) chunks for an index of N chunks.
func (r *Retriever) Retrieve(ctx context.Context, question string) ([]models.ScoredChunk, error) {
	vector, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, newError(KindRetrievalFailure, "embed question", err)
	}
	chunks, err := r.index.Query(vector, r.k)
	if err != nil {
		return nil, newError(KindRetrievalFailure, "query index", err)
	}
	return chunks, nil
}
