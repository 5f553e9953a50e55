package interfaces

import "context"

// Embedder converts text to a fixed-length vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbeddingModel identifies the vector space. Vectors from different models are not comparable.
	EmbeddingModel() string
}

// Generator converts a prompt to a text completion
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
