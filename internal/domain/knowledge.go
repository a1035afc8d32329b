package domain

import (
	"context"
	"time"
)

// KnowledgeEntry is a title/content pair with an associated dense embedding,
// used by the responder for retrieval and by semantic deduplication.
type KnowledgeEntry struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// KnowledgeMatch is one search result with its similarity score.
type KnowledgeMatch struct {
	Entry KnowledgeEntry
	Score float64 // cosine similarity, higher is closer
}

// KnowledgeStore persists knowledge entries and their embeddings, and
// answers nearest-neighbor queries by cosine similarity.
type KnowledgeStore interface {
	Get(ctx context.Context, id string) (*KnowledgeEntry, error)
	Upsert(ctx context.Context, e *KnowledgeEntry) error
	Delete(ctx context.Context, id string) error
	// Search returns the topK entries most similar to query, by cosine
	// similarity over the stored embeddings.
	Search(ctx context.Context, query []float32, topK int) ([]KnowledgeMatch, error)
}
