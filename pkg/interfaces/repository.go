package interfaces

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/castmate/pkg/model"
)

// MemoryRepository defines the interface for memory persistence and similarity search
type MemoryRepository interface {
	// PutMemory inserts a new memory record. It never deduplicates.
	PutMemory(ctx context.Context, memory *model.Memory) error

	// SearchMemories returns the owner's memories whose cosine similarity to
	// embedding is greater than threshold, most similar first, at most limit entries.
	// Only records embedded with embeddingModel are candidates; an empty
	// embeddingModel matches every record.
	SearchMemories(ctx context.Context, owner model.OwnerID, embeddingModel string, embedding firestore.Vector32, threshold float64, limit int) ([]*model.Memory, error)

	// ListMemories returns the owner's memories, newest first
	ListMemories(ctx context.Context, owner model.OwnerID, limit int) ([]*model.Memory, error)
}
