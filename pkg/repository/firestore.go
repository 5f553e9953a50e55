package repository

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/castmate/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
)

const (
	DefaultCollection = "podcast_memories"
	distanceField     = "distance"
)

// Firestore implements interfaces.MemoryRepository with Firestore vector search.
//
// Similarity search requires a composite vector index:
//
//	gcloud firestore indexes composite create --collection-group=podcast_memories \
//	  --query-scope=COLLECTION --field-config=order=ASCENDING,field-path=owner_id \
//	  --field-config=order=ASCENDING,field-path=embedding_model \
//	  --field-config=field-path=embedding,vector-config='{"dimension":"768","flat":"{}"}'
type Firestore struct {
	client     *firestore.Client
	collection string
}

type FirestoreOption func(*Firestore)

// WithCollection overrides the collection name
func WithCollection(name string) FirestoreOption {
	return func(f *Firestore) {
		f.collection = name
	}
}

// New creates a Firestore repository for the given project and database
func New(ctx context.Context, projectID, databaseID string, opts ...FirestoreOption) (*Firestore, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project", projectID),
			goerr.V("database", databaseID))
	}

	f := &Firestore{
		client:     client,
		collection: DefaultCollection,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Close releases the underlying client
func (r *Firestore) Close() error {
	return r.client.Close()
}

type memoryDoc struct {
	ID             string             `firestore:"id"`
	OwnerID        string             `firestore:"owner_id"`
	Content        string             `firestore:"content"`
	Category       string             `firestore:"category"`
	Embedding      firestore.Vector32 `firestore:"embedding"`
	EmbeddingModel string             `firestore:"embedding_model"`
	CreatedAt      time.Time          `firestore:"created_at"`
	Distance       float64            `firestore:"distance,omitempty"`
}

func toDoc(m *model.Memory) *memoryDoc {
	return &memoryDoc{
		ID:             string(m.ID),
		OwnerID:        string(m.OwnerID),
		Content:        m.Content,
		Category:       string(m.Category),
		Embedding:      m.Embedding,
		EmbeddingModel: m.EmbeddingModel,
		CreatedAt:      m.CreatedAt,
	}
}

func (d *memoryDoc) toModel() *model.Memory {
	return &model.Memory{
		ID:             model.MemoryID(d.ID),
		OwnerID:        model.OwnerID(d.OwnerID),
		Content:        d.Content,
		Category:       model.Category(d.Category),
		Embedding:      d.Embedding,
		EmbeddingModel: d.EmbeddingModel,
		CreatedAt:      d.CreatedAt,
	}
}

func (r *Firestore) PutMemory(ctx context.Context, memory *model.Memory) error {
	if memory.ID == "" {
		return goerr.New("memory ID is empty")
	}

	// Create fails on an existing ID so a record is never overwritten
	if _, err := r.client.Collection(r.collection).Doc(string(memory.ID)).Create(ctx, toDoc(memory)); err != nil {
		return goerr.Wrap(err, "failed to create memory",
			goerr.V("memory_id", memory.ID),
			goerr.V("owner_id", memory.OwnerID))
	}

	return nil
}

func (r *Firestore) SearchMemories(ctx context.Context, owner model.OwnerID, embeddingModel string, embedding firestore.Vector32, threshold float64, limit int) ([]*model.Memory, error) {
	if limit <= 0 {
		return []*model.Memory{}, nil
	}

	// cosine distance = 1 - cosine similarity
	maxDistance := 1 - threshold
	q := r.client.Collection(r.collection).Where("owner_id", "==", string(owner))
	if embeddingModel != "" {
		q = q.Where("embedding_model", "==", embeddingModel)
	}
	vq := q.FindNearest("embedding", embedding, limit, firestore.DistanceMeasureCosine, &firestore.FindNearestOptions{
		DistanceThreshold:   &maxDistance,
		DistanceResultField: distanceField,
	})

	iter := vq.Documents(ctx)
	defer iter.Stop()

	results := []*model.Memory{}
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate vector search result", goerr.V("owner_id", owner))
		}

		var doc memoryDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, goerr.Wrap(err, "failed to decode memory", goerr.V("doc_id", snap.Ref.ID))
		}

		m := doc.toModel()
		m.Similarity = 1 - doc.Distance
		// Firestore keeps distance == threshold; similarity must be strictly greater
		if m.Similarity <= threshold {
			continue
		}
		results = append(results, m)
	}

	return results, nil
}

func (r *Firestore) ListMemories(ctx context.Context, owner model.OwnerID, limit int) ([]*model.Memory, error) {
	q := r.client.Collection(r.collection).
		Where("owner_id", "==", string(owner)).
		OrderBy("created_at", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	results := []*model.Memory{}
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to list memories", goerr.V("owner_id", owner))
		}

		var doc memoryDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, goerr.Wrap(err, "failed to decode memory", goerr.V("doc_id", snap.Ref.ID))
		}
		results = append(results, doc.toModel())
	}

	return results, nil
}
