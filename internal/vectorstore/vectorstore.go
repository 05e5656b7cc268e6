// Package vectorstore implements the Vector Store half of C7: a pluggable
// store for embedding vectors with cosine-similarity nearest-neighbor
// search, either in-process ("Faiss-local" in spec's module table) or
// backed by Qdrant over its gRPC API. Grounded on the teacher's
// internal/persistence/databases.VectorStore interface plus its
// memory_vector.go and qdrant_vector.go implementations, generalized from
// the teacher's `intelligence.dev` module path into this package.
package vectorstore

import "context"

// Result is one nearest-neighbor hit. From the local store, Score is cosine
// similarity in [-1, 1], higher is closer; from Qdrant it is the score of
// the collection's distance metric (cosine unless configured otherwise).
type Result struct {
	ID       string
	Score    float64
	Metadata map[string]string
}

// Store is the minimal interface a pluggable vector backend implements.
type Store interface {
	Upsert(ctx context.Context, id string, vector []float32, metadata map[string]string) error
	Delete(ctx context.Context, id string) error
	SimilaritySearch(ctx context.Context, vector []float32, k int, filter map[string]string) ([]Result, error)
	Close() error
}
