package memory

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/castmate/pkg/interfaces"
	"github.com/m-mizutani/castmate/pkg/model"
	"github.com/m-mizutani/castmate/pkg/utils/logging"
	"github.com/m-mizutani/castmate/pkg/utils/retry"
	"github.com/m-mizutani/goerr/v2"
)

const (
	DefaultLimit     = 5
	DefaultThreshold = 0.7
)

// UseCase bridges raw text and vector-indexed persistent memory
type UseCase struct {
	repo      interfaces.MemoryRepository
	embedder  interfaces.Embedder
	limit     int
	threshold float64
	retry     retry.Policy
	now       func() time.Time
}

// Option is a functional option for UseCase
type Option func(*UseCase)

// WithLimit sets the default number of memories returned by Retrieve
func WithLimit(limit int) Option {
	return func(uc *UseCase) {
		uc.limit = limit
	}
}

// WithThreshold sets the default similarity threshold used by Retrieve
func WithThreshold(threshold float64) Option {
	return func(uc *UseCase) {
		uc.threshold = threshold
	}
}

// WithRetryPolicy sets timeout and backoff for embedding and store calls
func WithRetryPolicy(p retry.Policy) Option {
	return func(uc *UseCase) {
		uc.retry = p
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(uc *UseCase) {
		uc.now = now
	}
}

// New creates a new memory UseCase instance
func New(repo interfaces.MemoryRepository, embedder interfaces.Embedder, opts ...Option) *UseCase {
	uc := &UseCase{
		repo:      repo,
		embedder:  embedder,
		limit:     DefaultLimit,
		threshold: DefaultThreshold,
		retry:     retry.Default,
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(uc)
	}

	return uc
}

func (uc *UseCase) embed(ctx context.Context, text string) (firestore.Vector32, error) {
	var vec []float32
	err := retry.Do(ctx, uc.retry, "embed", func(ctx context.Context) error {
		v, err := uc.embedder.Embed(ctx, text)
		if err != nil {
			return err
		}
		vec = v
		return nil
	})
	if err != nil {
		return nil, goerr.Wrap(model.ErrProviderUnavailable, "failed to embed text",
			goerr.V("cause", err.Error()),
			goerr.V("model", uc.embedder.EmbeddingModel()))
	}
	return firestore.Vector32(vec), nil
}

// Store embeds content and inserts a new memory record. Storing identical
// content twice creates two records.
func (uc *UseCase) Store(ctx context.Context, owner model.OwnerID, content string, category model.Category) (*model.Memory, error) {
	return uc.store(ctx, owner, content, category, uc.now())
}

func (uc *UseCase) store(ctx context.Context, owner model.OwnerID, content string, category model.Category, createdAt time.Time) (*model.Memory, error) {
	if err := category.Validate(); err != nil {
		return nil, err
	}

	vec, err := uc.embed(ctx, content)
	if err != nil {
		return nil, err
	}

	mem := &model.Memory{
		ID:             model.NewMemoryID(),
		OwnerID:        owner,
		Content:        content,
		Category:       category,
		Embedding:      vec,
		EmbeddingModel: uc.embedder.EmbeddingModel(),
		CreatedAt:      createdAt,
	}

	if err := retry.Do(ctx, uc.retry.Once(), "put_memory", func(ctx context.Context) error {
		return uc.repo.PutMemory(ctx, mem)
	}); err != nil {
		return nil, goerr.Wrap(model.ErrStoreFailure, "failed to put memory",
			goerr.V("cause", err.Error()),
			goerr.V("owner_id", owner),
			goerr.V("category", category))
	}

	logging.From(ctx).Debug("memory stored",
		"owner_id", owner,
		"memory_id", mem.ID,
		"category", category)

	return mem, nil
}

// Retrieve returns the owner's memories most similar to query using the
// configured limit and threshold
func (uc *UseCase) Retrieve(ctx context.Context, owner model.OwnerID, query string) ([]*model.Memory, error) {
	return uc.RetrieveWith(ctx, owner, query, uc.limit, uc.threshold)
}

// RetrieveWith returns at most limit memories whose similarity to query
// exceeds threshold, most similar first. No match is an empty slice.
func (uc *UseCase) RetrieveWith(ctx context.Context, owner model.OwnerID, query string, limit int, threshold float64) ([]*model.Memory, error) {
	if limit <= 0 {
		return []*model.Memory{}, nil
	}

	vec, err := uc.embed(ctx, query)
	if err != nil {
		return nil, err
	}

	current := uc.embedder.EmbeddingModel()
	var found []*model.Memory
	if err := retry.Do(ctx, uc.retry, "search_memories", func(ctx context.Context) error {
		res, err := uc.repo.SearchMemories(ctx, owner, current, vec, threshold, limit)
		if err != nil {
			return err
		}
		found = res
		return nil
	}); err != nil {
		return nil, goerr.Wrap(model.ErrStoreFailure, "failed to search memories",
			goerr.V("cause", err.Error()),
			goerr.V("owner_id", owner))
	}

	memories := make([]*model.Memory, 0, len(found))
	for _, m := range found {
		// the repository filters by model already; vectors of another model are never comparable
		if m.EmbeddingModel != "" && m.EmbeddingModel != current {
			logging.From(ctx).Debug("skip memory with stale embedding",
				"memory_id", m.ID,
				"embedding_model", m.EmbeddingModel,
				"current", current)
			continue
		}
		if m.OwnerID != owner {
			continue
		}
		memories = append(memories, m)
	}

	return memories, nil
}

// List returns the owner's memories, newest first
func (uc *UseCase) List(ctx context.Context, owner model.OwnerID, limit int) ([]*model.Memory, error) {
	var memories []*model.Memory
	if err := retry.Do(ctx, uc.retry, "list_memories", func(ctx context.Context) error {
		res, err := uc.repo.ListMemories(ctx, owner, limit)
		if err != nil {
			return err
		}
		memories = res
		return nil
	}); err != nil {
		return nil, goerr.Wrap(model.ErrStoreFailure, "failed to list memories",
			goerr.V("cause", err.Error()),
			goerr.V("owner_id", owner))
	}
	return memories, nil
}
