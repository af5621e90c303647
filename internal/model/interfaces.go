package model

import "context"

// KnowledgeStore is the adapter contract over an external vector index.
// Any k-NN-capable backend satisfies it; the engine never depends on a
// concrete store.
type KnowledgeStore interface {
	// Upsert persists records idempotently by chunk ID. Records rejected by
	// the backend are reported per-record; only a storewide failure returns
	// an error.
	Upsert(ctx context.Context, records []KnowledgeRecord) (UpsertResult, error)

	// Search returns up to k nearest records by similarity, ordered by
	// descending score with ties broken by ascending chunk ID. An empty
	// modality searches both.
	Search(ctx context.Context, vector []float32, k int, modality Modality) ([]RetrievedNeighbor, error)

	// Exists reports whether a document fingerprint has been ingested.
	Exists(ctx context.Context, fingerprint string) (bool, error)

	PutDocument(ctx context.Context, doc Document) error
	DeleteDocument(ctx context.Context, fingerprint string) error
	Stats(ctx context.Context) (CorpusStats, error)
	Close() error
}

// ObjectStore holds raw document bytes keyed by fingerprint.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) (handle string, err error)
	Get(ctx context.Context, handle string) ([]byte, error)
}

// TextEncoder maps text into the shared embedding space.
type TextEncoder interface {
	EncodeText(ctx context.Context, text string) ([]float32, error)
}

// ImageEncoder maps raw image bytes into the shared embedding space.
type ImageEncoder interface {
	EncodeImage(ctx context.Context, data []byte) ([]float32, error)
}

// Generator is the stateless generative backend.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
