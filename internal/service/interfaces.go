package service

import (
	"context"
	"io"

	"github.com/xxxsen/kbingest/internal/model"
)

type ISourceRepo interface {
	Create(ctx context.Context, src *model.KnowledgeSource) error
	GetByID(ctx context.Context, id string) (*model.KnowledgeSource, error)
	UpdateStatus(ctx context.Context, id, status string, mtime int64) error
	UpdateStatusIf(ctx context.Context, id, fromStatus, status string, mtime int64) (bool, error)
}

type IJobRepo interface {
	Create(ctx context.Context, job *model.ProcessingJob) error
	GetByID(ctx context.Context, id string) (*model.ProcessingJob, error)
	ListByStatus(ctx context.Context, status string, limit int) ([]model.ProcessingJob, error)
	ClaimNext(ctx context.Context, mtime int64) (*model.ProcessingJob, error)
	SetTotalChunks(ctx context.Context, id string, total int, mtime int64) error
	SetEmbeddingModel(ctx context.Context, id, modelName string, mtime int64) error
	UpdateProgress(ctx context.Context, id string, current int, mtime int64) error
	UpdateStatusIf(ctx context.Context, id, fromStatus, toStatus, errMsg string, mtime int64) (bool, error)
	MarkCompleted(ctx context.Context, id string, processedAt int64) error
	MarkFailed(ctx context.Context, id, errMsg string, mtime int64) error
	ReleaseStale(ctx context.Context, cutoff, mtime int64) (int64, error)
}

type IChunkRepo interface {
	Insert(ctx context.Context, chunk *model.KnowledgeChunk) error
	CountBySource(ctx context.Context, sourceID string) (int, error)
}

type IChunkSearcher interface {
	SearchNearest(ctx context.Context, query []float32, modelName string, topK int) ([]model.ChunkMatch, error)
}

// IFileOpener reads uploaded source files. filestore.Store satisfies it.
type IFileOpener interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}
