package memory

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/m-mizutani/castmate/pkg/adapter"
	"github.com/m-mizutani/castmate/pkg/model"
	"github.com/m-mizutani/castmate/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

// Format is a serialization format for memory snapshots
type Format string

const (
	FormatJSONL Format = "jsonl"
	FormatYAML  Format = "yaml"
)

// ParseFormat accepts "jsonl", "json", "yaml" or "yml"
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "jsonl", "json", "ndjson":
		return FormatJSONL, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", goerr.New("unsupported export format", goerr.V("format", s))
	}
}

// record is the portable form of a memory. Vectors are not exported; they
// are recomputed on import with the current embedding model.
type record struct {
	Content        string         `json:"content" yaml:"content"`
	Category       model.Category `json:"category" yaml:"category"`
	EmbeddingModel string         `json:"embedding_model,omitempty" yaml:"embedding_model,omitempty"`
	CreatedAt      time.Time      `json:"created_at" yaml:"created_at"`
}

// Export writes all of the owner's memories to w and returns how many were written
func (uc *UseCase) Export(ctx context.Context, owner model.OwnerID, w io.Writer, format Format) (int, error) {
	memories, err := uc.List(ctx, owner, 0)
	if err != nil {
		return 0, err
	}

	records := make([]record, 0, len(memories))
	for _, m := range memories {
		records = append(records, record{
			Content:        m.Content,
			Category:       m.Category,
			EmbeddingModel: m.EmbeddingModel,
			CreatedAt:      m.CreatedAt,
		})
	}

	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(records); err != nil {
			return 0, goerr.Wrap(err, "failed to encode memories as yaml")
		}
		if err := enc.Close(); err != nil {
			return 0, goerr.Wrap(err, "failed to flush yaml encoder")
		}

	case FormatJSONL:
		enc := json.NewEncoder(w)
		for _, r := range records {
			if err := enc.Encode(r); err != nil {
				return 0, goerr.Wrap(err, "failed to encode memory as json")
			}
		}

	default:
		return 0, goerr.New("unsupported export format", goerr.V("format", format))
	}

	return len(records), nil
}

type bigqueryRow struct {
	ID             string    `bigquery:"id"`
	OwnerID        string    `bigquery:"owner_id"`
	Content        string    `bigquery:"content"`
	Category       string    `bigquery:"category"`
	EmbeddingModel string    `bigquery:"embedding_model"`
	CreatedAt      time.Time `bigquery:"created_at"`
	ExportedAt     time.Time `bigquery:"exported_at"`
}

// ExportToBigQuery streams the owner's memories into dataset.table
func (uc *UseCase) ExportToBigQuery(ctx context.Context, owner model.OwnerID, bq adapter.BigQuery, datasetID, tableID string) (int, error) {
	memories, err := uc.List(ctx, owner, 0)
	if err != nil {
		return 0, err
	}
	if len(memories) == 0 {
		return 0, nil
	}

	now := uc.now()
	rows := make([]*bigqueryRow, 0, len(memories))
	for _, m := range memories {
		rows = append(rows, &bigqueryRow{
			ID:             string(m.ID),
			OwnerID:        string(m.OwnerID),
			Content:        m.Content,
			Category:       string(m.Category),
			EmbeddingModel: m.EmbeddingModel,
			CreatedAt:      m.CreatedAt,
			ExportedAt:     now,
		})
	}

	if err := bq.Insert(ctx, datasetID, tableID, rows); err != nil {
		return 0, goerr.Wrap(err, "failed to export memories to bigquery", goerr.V("owner_id", owner))
	}

	return len(rows), nil
}

// Import reads JSONL records from r and stores each one for owner with a
// fresh embedding. Records keep their category and creation time; a record
// without created_at is stamped with the current time.
func (uc *UseCase) Import(ctx context.Context, owner model.OwnerID, r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	imported := 0
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var rec record
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return imported, goerr.Wrap(err, "failed to decode memory record", goerr.V("line", line))
		}
		if rec.Content == "" {
			return imported, goerr.New("memory record has no content", goerr.V("line", line))
		}
		if err := rec.Category.Validate(); err != nil {
			return imported, goerr.Wrap(err, "invalid memory record", goerr.V("line", line))
		}

		createdAt := rec.CreatedAt
		if createdAt.IsZero() {
			createdAt = uc.now()
		}

		mem, err := uc.store(ctx, owner, rec.Content, rec.Category, createdAt)
		if err != nil {
			return imported, goerr.Wrap(err, "failed to import memory", goerr.V("line", line))
		}
		if rec.EmbeddingModel != "" && rec.EmbeddingModel != mem.EmbeddingModel {
			logging.From(ctx).Info("re-embedded memory",
				"memory_id", mem.ID,
				"from", rec.EmbeddingModel,
				"to", mem.EmbeddingModel)
		}
		imported++
	}
	if err := scanner.Err(); err != nil {
		return imported, goerr.Wrap(err, "failed to read memory records")
	}

	return imported, nil
}
