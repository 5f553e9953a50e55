package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/castmate/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	chromem "github.com/philippgille/chromem-go"
)

const (
	metaOwnerID        = "owner_id"
	metaCategory       = "category"
	metaEmbeddingModel = "embedding_model"
	metaCreatedAt      = "created_at"

	ledgerCollection = "ledger"
)

// ledgerVector is the constant embedding of ledger entries. The ledger only
// needs metadata filtering, never similarity.
var ledgerVector = []float32{1}

var errNoEmbeddingFunc = goerr.New("chromem collection requires precomputed embeddings")

func noEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, errNoEmbeddingFunc
}

// Chromem implements interfaces.MemoryRepository with an embedded chromem-go
// database. Each owner gets a dedicated collection; a ledger collection
// indexes memory IDs per owner for listing.
type Chromem struct {
	db          *chromem.DB
	ledger      *chromem.Collection
	collections map[model.OwnerID]*chromem.Collection
	mu          sync.RWMutex
}

// NewChromem opens a chromem database. An empty dir keeps everything in memory.
func NewChromem(dir string) (*Chromem, error) {
	var db *chromem.DB
	if dir == "" {
		db = chromem.NewDB()
	} else {
		persistent, err := chromem.NewPersistentDB(dir, false)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to open chromem database", goerr.V("dir", dir))
		}
		db = persistent
	}

	ledger, err := db.GetOrCreateCollection(ledgerCollection, nil, noEmbedding)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open ledger collection")
	}

	return &Chromem{
		db:          db,
		ledger:      ledger,
		collections: make(map[model.OwnerID]*chromem.Collection),
	}, nil
}

func (r *Chromem) collection(owner model.OwnerID) (*chromem.Collection, error) {
	r.mu.RLock()
	col, ok := r.collections[owner]
	r.mu.RUnlock()
	if ok {
		return col, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if col, ok := r.collections[owner]; ok {
		return col, nil
	}

	col, err := r.db.GetOrCreateCollection("owner_"+string(owner), nil, noEmbedding)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open owner collection", goerr.V("owner_id", owner))
	}
	r.collections[owner] = col
	return col, nil
}

func (r *Chromem) PutMemory(ctx context.Context, memory *model.Memory) error {
	if memory.ID == "" {
		return goerr.New("memory ID is empty")
	}
	if len(memory.Embedding) == 0 {
		return goerr.New("memory embedding is empty", goerr.V("memory_id", memory.ID))
	}

	col, err := r.collection(memory.OwnerID)
	if err != nil {
		return err
	}

	if _, err := col.GetByID(ctx, string(memory.ID)); err == nil {
		return goerr.New("memory already exists", goerr.V("memory_id", memory.ID))
	}

	meta := map[string]string{
		metaOwnerID:        string(memory.OwnerID),
		metaCategory:       string(memory.Category),
		metaEmbeddingModel: memory.EmbeddingModel,
		metaCreatedAt:      memory.CreatedAt.UTC().Format(time.RFC3339Nano),
	}

	if err := col.AddDocument(ctx, chromem.Document{
		ID:        string(memory.ID),
		Metadata:  meta,
		Embedding: []float32(memory.Embedding),
		Content:   memory.Content,
	}); err != nil {
		return goerr.Wrap(err, "failed to add memory document", goerr.V("memory_id", memory.ID))
	}

	if err := r.ledger.AddDocument(ctx, chromem.Document{
		ID:        string(memory.ID),
		Metadata:  map[string]string{metaOwnerID: string(memory.OwnerID)},
		Embedding: ledgerVector,
		Content:   string(memory.ID),
	}); err != nil {
		return goerr.Wrap(err, "failed to index memory", goerr.V("memory_id", memory.ID))
	}

	return nil
}

func (r *Chromem) SearchMemories(ctx context.Context, owner model.OwnerID, embeddingModel string, embedding firestore.Vector32, threshold float64, limit int) ([]*model.Memory, error) {
	col, err := r.collection(owner)
	if err != nil {
		return nil, err
	}

	n := min(limit, col.Count())
	if n <= 0 {
		return []*model.Memory{}, nil
	}

	// metadata filtering runs before similarity, so vectors of another
	// dimension are never compared
	where := map[string]string{metaOwnerID: string(owner)}
	if embeddingModel != "" {
		where[metaEmbeddingModel] = embeddingModel
	}

	results, err := col.QueryEmbedding(ctx, []float32(embedding), n, where, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query memories", goerr.V("owner_id", owner))
	}

	memories := make([]*model.Memory, 0, len(results))
	for _, res := range results {
		if float64(res.Similarity) <= threshold {
			continue
		}
		m := fromChromem(res.ID, res.Content, res.Metadata, res.Embedding)
		m.Similarity = float64(res.Similarity)
		memories = append(memories, m)
	}

	return memories, nil
}

func (r *Chromem) ListMemories(ctx context.Context, owner model.OwnerID, limit int) ([]*model.Memory, error) {
	total := r.ledger.Count()
	if total == 0 {
		return []*model.Memory{}, nil
	}

	entries, err := r.ledger.QueryEmbedding(ctx, ledgerVector, total, map[string]string{metaOwnerID: string(owner)}, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read memory ledger", goerr.V("owner_id", owner))
	}

	col, err := r.collection(owner)
	if err != nil {
		return nil, err
	}

	memories := make([]*model.Memory, 0, len(entries))
	for _, entry := range entries {
		doc, err := col.GetByID(ctx, entry.ID)
		if err != nil {
			return nil, goerr.Wrap(err, "memory indexed but missing", goerr.V("memory_id", entry.ID))
		}
		memories = append(memories, fromChromem(doc.ID, doc.Content, doc.Metadata, doc.Embedding))
	}

	sort.SliceStable(memories, func(i, j int) bool {
		return memories[i].CreatedAt.After(memories[j].CreatedAt)
	})
	if limit > 0 && len(memories) > limit {
		memories = memories[:limit]
	}

	return memories, nil
}

func fromChromem(id, content string, meta map[string]string, embedding []float32) *model.Memory {
	createdAt, _ := time.Parse(time.RFC3339Nano, meta[metaCreatedAt])
	return &model.Memory{
		ID:             model.MemoryID(id),
		OwnerID:        model.OwnerID(meta[metaOwnerID]),
		Content:        content,
		Category:       model.Category(meta[metaCategory]),
		Embedding:      firestore.Vector32(embedding),
		EmbeddingModel: meta[metaEmbeddingModel],
		CreatedAt:      createdAt,
	}
}
