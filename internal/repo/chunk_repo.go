package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/didi/gendry/builder"
	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/kbingest/internal/model"
	"github.com/xxxsen/kbingest/internal/pkg/dbutil"
)

type ChunkRepo struct {
	db *sql.DB
}

func NewChunkRepo(db *sql.DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

// Insert stores one chunk. Re-inserting an index that already exists for the
// source is a no-op, so a batch resumed after a crash does not duplicate rows.
func (r *ChunkRepo) Insert(ctx context.Context, chunk *model.KnowledgeChunk) error {
	meta, err := json.Marshal(chunk.Metadata)
	if err != nil {
		return err
	}
	data := map[string]interface{}{
		"id":                  chunk.ID,
		"knowledge_source_id": chunk.KnowledgeSourceID,
		"job_id":              chunk.JobID,
		"content":             chunk.Content,
		"chunk_index":         chunk.ChunkIndex,
		"embedding":           pgvector.NewVector(chunk.Embedding),
		"metadata":            string(meta),
		"ctime":               chunk.Ctime,
	}
	sqlStr, args, err := builder.BuildInsert("knowledge_chunks", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	sqlStr += " ON CONFLICT (knowledge_source_id, chunk_index) DO NOTHING"
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *ChunkRepo) CountBySource(ctx context.Context, sourceID string) (int, error) {
	const query = `SELECT COUNT(*) FROM knowledge_chunks WHERE knowledge_source_id = $1`
	var count int
	if err := r.db.QueryRowContext(ctx, query, sourceID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *ChunkRepo) ListBySource(ctx context.Context, sourceID string) ([]model.KnowledgeChunk, error) {
	const query = `
		SELECT id, knowledge_source_id, job_id, content, chunk_index, embedding, metadata, ctime
		FROM knowledge_chunks
		WHERE knowledge_source_id = $1
		ORDER BY chunk_index ASC
	`
	rows, err := r.db.QueryContext(ctx, query, sourceID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var result []model.KnowledgeChunk
	for rows.Next() {
		var item model.KnowledgeChunk
		var embedding pgvector.Vector
		var meta []byte
		if err := rows.Scan(
			&item.ID,
			&item.KnowledgeSourceID,
			&item.JobID,
			&item.Content,
			&item.ChunkIndex,
			&embedding,
			&meta,
			&item.Ctime,
		); err != nil {
			return nil, err
		}
		item.Embedding = embedding.Slice()
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &item.Metadata); err != nil {
				return nil, err
			}
		}
		result = append(result, item)
	}
	return result, rows.Err()
}

// SearchNearest ranks chunks embedded by modelName by cosine distance to the
// query vector. Vectors of other models are never compared.
func (r *ChunkRepo) SearchNearest(ctx context.Context, query []float32, modelName string, topK int) ([]model.ChunkMatch, error) {
	const sqlStr = `
		SELECT knowledge_source_id, chunk_index, content, 1 - (embedding <=> $1) AS score
		FROM knowledge_chunks
		WHERE metadata->>'embedding_model' = $2 AND vector_dims(embedding) = $3
		ORDER BY embedding <=> $1
		LIMIT $4
	`
	rows, err := r.db.QueryContext(ctx, sqlStr, pgvector.NewVector(query), modelName, len(query), topK)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var result []model.ChunkMatch
	for rows.Next() {
		var item model.ChunkMatch
		if err := rows.Scan(&item.KnowledgeSourceID, &item.ChunkIndex, &item.Content, &item.Score); err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	return result, rows.Err()
}
