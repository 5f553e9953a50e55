package model

import (
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

type MemoryID string

// NewMemoryID generates a new unique MemoryID
func NewMemoryID() MemoryID {
	return MemoryID(uuid.New().String())
}

// OwnerID scopes every memory read and write to one conversational participant.
type OwnerID string

// NewOwnerID generates a new opaque owner (session) identifier
func NewOwnerID() OwnerID {
	return OwnerID(uuid.New().String())
}

type Category string

const (
	CategoryGeneral Category = "general"
	CategoryTheme   Category = "theme"
	CategoryEpisode Category = "episode"
)

// Validate checks if the category is valid
func (c Category) Validate() error {
	switch c {
	case CategoryGeneral, CategoryTheme, CategoryEpisode:
		return nil
	default:
		return goerr.New("invalid memory category", goerr.V("category", c))
	}
}

// Memory is a text snippet persisted with its embedding for later similarity retrieval.
// Embedding is always computed from Content by EmbeddingModel.
type Memory struct {
	ID             MemoryID           `json:"id" yaml:"id"`
	OwnerID        OwnerID            `json:"owner_id" yaml:"owner_id"`
	Content        string             `json:"content" yaml:"content"`
	Category       Category           `json:"category" yaml:"category"`
	Embedding      firestore.Vector32 `json:"-" yaml:"-"`
	EmbeddingModel string             `json:"embedding_model" yaml:"embedding_model"`
	CreatedAt      time.Time          `json:"created_at" yaml:"created_at"`

	// Similarity is set only on search results (1.0 means identical direction)
	Similarity float64 `json:"similarity,omitempty" yaml:"similarity,omitempty" firestore:"-"`
}
