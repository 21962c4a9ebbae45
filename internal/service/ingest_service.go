package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/kbingest/internal/ai"
	"github.com/xxxsen/kbingest/internal/model"
	appErr "github.com/xxxsen/kbingest/internal/pkg/errors"
)

type IngestConfig struct {
	ChunkSize      int
	ChunkOverlap   int
	MaxSourceBytes int64
}

type IngestService struct {
	sources        ISourceRepo
	jobs           IJobRepo
	chunks         IChunkRepo
	embedder       ai.IEmbedder
	files          IFileOpener
	chunker        *ai.Chunker
	maxSourceBytes int64
	now            func() time.Time
}

func NewIngestService(sources ISourceRepo, jobs IJobRepo, chunks IChunkRepo, embedder ai.IEmbedder, files IFileOpener, cfg IngestConfig) (*IngestService, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	chunker, err := ai.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	if cfg.MaxSourceBytes <= 0 {
		cfg.MaxSourceBytes = 10 << 20
	}
	return &IngestService{
		sources:        sources,
		jobs:           jobs,
		chunks:         chunks,
		embedder:       embedder,
		files:          files,
		chunker:        chunker,
		maxSourceBytes: cfg.MaxSourceBytes,
		now:            time.Now,
	}, nil
}

type SubmitSourceRequest struct {
	Type     string `json:"type"`
	Content  string `json:"content"`
	FilePath string `json:"file_path"`
}

// BatchResult describes what one ProcessBatch call did to its job.
type BatchResult struct {
	JobID        string `json:"job_id"`
	SourceID     string `json:"source_id"`
	Status       string `json:"status"`
	Processed    int    `json:"processed"`
	CurrentChunk int    `json:"current_chunk"`
	TotalChunks  int    `json:"total_chunks"`
}

func (s *IngestService) SubmitSource(ctx context.Context, req SubmitSourceRequest) (*model.KnowledgeSource, *model.ProcessingJob, error) {
	sourceType := strings.ToLower(strings.TrimSpace(req.Type))
	if sourceType == "" {
		sourceType = model.SourceTypeText
	}
	src := &model.KnowledgeSource{ID: newID(), Type: sourceType, Status: model.SourceStatusPending}
	switch sourceType {
	case model.SourceTypeText:
		if strings.TrimSpace(req.Content) == "" {
			return nil, nil, fmt.Errorf("content is required: %w", appErr.ErrInvalid)
		}
		src.Content = req.Content
	case model.SourceTypeFile:
		if strings.TrimSpace(req.FilePath) == "" {
			return nil, nil, fmt.Errorf("file_path is required: %w", appErr.ErrInvalid)
		}
		src.FilePath = strings.TrimSpace(req.FilePath)
	default:
		return nil, nil, fmt.Errorf("unsupported source type %q: %w", req.Type, appErr.ErrInvalid)
	}
	now := s.now().UnixMilli()
	src.Ctime, src.Mtime = now, now
	if err := s.sources.Create(ctx, src); err != nil {
		return nil, nil, storageErr("create source", err)
	}
	job := &model.ProcessingJob{
		ID:                newID(),
		KnowledgeSourceID: src.ID,
		Status:            model.JobStatusPending,
		Ctime:             now,
		Mtime:             now,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		if uerr := s.sources.UpdateStatus(context.WithoutCancel(ctx), src.ID, model.SourceStatusFailed, now); uerr != nil {
			logutil.GetLogger(ctx).Error("mark orphan source failed", zap.String("source_id", src.ID), zap.Error(uerr))
		}
		return nil, nil, storageErr("create job", err)
	}
	logutil.GetLogger(ctx).Info("knowledge source submitted",
		zap.String("source_id", src.ID),
		zap.String("job_id", job.ID),
		zap.String("type", src.Type),
	)
	return src, job, nil
}

// ClaimNextJob moves the oldest pending job to processing and loads its
// source. It returns ErrNoJobAvailable when nothing is pending.
func (s *IngestService) ClaimNextJob(ctx context.Context) (*model.ProcessingJob, *model.KnowledgeSource, error) {
	job, err := s.jobs.ClaimNext(ctx, s.now().UnixMilli())
	if err != nil {
		if errors.Is(err, appErr.ErrNotFound) {
			return nil, nil, ErrNoJobAvailable
		}
		return nil, nil, storageErr("claim job", err)
	}
	src, err := s.sources.GetByID(ctx, job.KnowledgeSourceID)
	if err != nil {
		return nil, nil, s.stopJob(ctx, job, nil, storageErr("load source", err))
	}
	return job, src, nil
}

// ProcessBatch embeds and stores at most maxChunks chunks of a claimed job,
// starting at its cursor. maxChunks <= 0 processes the rest of the source.
// The job ends the call completed, failed, or back in pending.
func (s *IngestService) ProcessBatch(ctx context.Context, job *model.ProcessingJob, src *model.KnowledgeSource, maxChunks int) (*BatchResult, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("job_id", job.ID), zap.String("source_id", src.ID))
	result := &BatchResult{JobID: job.ID, SourceID: src.ID}
	defer func() {
		result.Status = job.Status
		result.CurrentChunk = job.CurrentChunk
		result.TotalChunks = job.TotalChunks
	}()

	text, err := s.loadContent(ctx, src)
	if err != nil {
		return result, s.stopJob(ctx, job, src, err)
	}
	chunks, err := s.chunker.Chunk(text)
	if err != nil {
		return result, s.failJob(ctx, job, src, err)
	}
	total := len(chunks)
	if !job.Planned() {
		if err := s.jobs.SetTotalChunks(ctx, job.ID, total, s.now().UnixMilli()); err != nil {
			return result, s.stopJob(ctx, job, src, storageErr("set total chunks", err))
		}
		job.TotalChunks = total
		logger.Info("job planned", zap.Int("total_chunks", total))
	} else if job.TotalChunks != total {
		return result, s.failJob(ctx, job, src, fmt.Errorf("%w: planned %d chunks, found %d", ErrSourceChanged, job.TotalChunks, total))
	}

	end := total
	if maxChunks > 0 && job.CurrentChunk+maxChunks < total {
		end = job.CurrentChunk + maxChunks
	}
	// every chunk of a job is embedded by one model, so its vectors share a space
	var embedder ai.IEmbedder
	if job.EmbeddingModel != "" {
		if embedder, err = ai.PinModel(s.embedder, job.EmbeddingModel); err != nil {
			return result, s.failJob(ctx, job, src, err)
		}
	}
	for idx := job.CurrentChunk; idx < end; idx++ {
		if ctx.Err() != nil {
			return result, s.releaseJob(ctx, job)
		}
		chunk := chunks[idx]
		var vec []float32
		if embedder == nil {
			var used string
			vec, used, err = ai.EmbedAny(ctx, s.embedder, chunk.Content, ai.TaskTypeRetrievalDocument)
			if err == nil {
				embedder, err = ai.PinModel(s.embedder, used)
			}
			if err == nil {
				if err := s.jobs.SetEmbeddingModel(ctx, job.ID, used, s.now().UnixMilli()); err != nil {
					return result, s.stopJob(ctx, job, src, storageErr("set embedding model", err))
				}
				job.EmbeddingModel = used
				logger.Info("job embedding model chosen", zap.String("embedding_model", used))
			}
		} else {
			vec, err = embedder.Embed(ctx, chunk.Content, ai.TaskTypeRetrievalDocument)
		}
		if err != nil {
			return result, s.stopJob(ctx, job, src, fmt.Errorf("embed chunk %d: %w", idx, err))
		}
		if err := s.chunks.Insert(ctx, &model.KnowledgeChunk{
			ID:                newID(),
			KnowledgeSourceID: src.ID,
			JobID:             job.ID,
			Content:           chunk.Content,
			ChunkIndex:        idx,
			Embedding:         vec,
			Metadata: model.ChunkMetadata{
				ChunkSize:      s.chunker.Size(),
				ChunkOverlap:   s.chunker.Overlap(),
				CharCount:      utf8.RuneCountInString(chunk.Content),
				EmbeddingModel: job.EmbeddingModel,
			},
			Ctime: s.now().UnixMilli(),
		}); err != nil {
			return result, s.stopJob(ctx, job, src, storageErr(fmt.Sprintf("insert chunk %d", idx), err))
		}
		if err := s.jobs.UpdateProgress(ctx, job.ID, idx+1, s.now().UnixMilli()); err != nil {
			return result, s.stopJob(ctx, job, src, storageErr("update progress", err))
		}
		job.CurrentChunk = idx + 1
		result.Processed++
	}

	// the finished batch is recorded even when ctx was cancelled after its last chunk
	bg := context.WithoutCancel(ctx)
	now := s.now().UnixMilli()
	if job.CurrentChunk >= total {
		if err := s.jobs.MarkCompleted(bg, job.ID, now); err != nil {
			return result, storageErr("complete job", err)
		}
		job.Status = model.JobStatusCompleted
		job.ProcessedAt = now
		if err := s.sources.UpdateStatus(bg, src.ID, model.SourceStatusCompleted, now); err != nil {
			return result, storageErr("complete source", err)
		}
		src.Status = model.SourceStatusCompleted
		logger.Info("job completed", zap.Int("total_chunks", total), zap.Int("processed", result.Processed))
		return result, nil
	}
	if _, err := s.jobs.UpdateStatusIf(bg, job.ID, model.JobStatusProcessing, model.JobStatusPending, "", now); err != nil {
		return result, storageErr("release job", err)
	}
	job.Status = model.JobStatusPending
	logger.Info("job batch done",
		zap.Int("processed", result.Processed),
		zap.Int("current_chunk", job.CurrentChunk),
		zap.Int("total_chunks", total),
	)
	return result, nil
}

// RunOnce claims the next pending job and processes one batch of it.
func (s *IngestService) RunOnce(ctx context.Context, maxChunks int) (*BatchResult, error) {
	job, src, err := s.ClaimNextJob(ctx)
	if err != nil {
		return nil, err
	}
	return s.ProcessBatch(ctx, job, src, maxChunks)
}

func (s *IngestService) CountPending(ctx context.Context, limit int) (int, error) {
	jobs, err := s.jobs.ListByStatus(ctx, model.JobStatusPending, limit)
	if err != nil {
		return 0, storageErr("list pending jobs", err)
	}
	return len(jobs), nil
}

// ResetJob puts a failed job and its source back to pending. Progress is
// kept, so the next claim resumes at current_chunk. The source moves first:
// once the job is pending a worker may claim it and own the source status.
func (s *IngestService) ResetJob(ctx context.Context, jobID string) (*model.ProcessingJob, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, storageErr("get job", err)
	}
	if job.Status != model.JobStatusFailed {
		return nil, fmt.Errorf("job %s is %s, only failed jobs can be reset: %w", job.ID, job.Status, appErr.ErrConflict)
	}
	now := s.now().UnixMilli()
	if _, err := s.sources.UpdateStatusIf(ctx, job.KnowledgeSourceID, model.SourceStatusFailed, model.SourceStatusPending, now); err != nil {
		return nil, storageErr("reset source", err)
	}
	ok, err := s.jobs.UpdateStatusIf(ctx, job.ID, model.JobStatusFailed, model.JobStatusPending, "", now)
	if err != nil {
		return nil, storageErr("reset job", err)
	}
	if !ok {
		return nil, fmt.Errorf("job %s is no longer failed: %w", job.ID, appErr.ErrConflict)
	}
	logutil.GetLogger(ctx).Info("job reset", zap.String("job_id", job.ID), zap.Int("current_chunk", job.CurrentChunk))
	job.Status = model.JobStatusPending
	job.ErrorMessage = ""
	job.Mtime = now
	return job, nil
}

// ReleaseStaleJobs returns processing jobs that have not moved for olderThan
// to pending, so jobs held by a crashed worker are picked up again.
func (s *IngestService) ReleaseStaleJobs(ctx context.Context, olderThan time.Duration) (int64, error) {
	now := s.now()
	released, err := s.jobs.ReleaseStale(ctx, now.Add(-olderThan).UnixMilli(), now.UnixMilli())
	if err != nil {
		return 0, storageErr("release stale jobs", err)
	}
	if released > 0 {
		logutil.GetLogger(ctx).Warn("released stale processing jobs", zap.Int64("count", released))
	}
	return released, nil
}

func (s *IngestService) GetJob(ctx context.Context, id string) (*model.ProcessingJob, error) {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, storageErr("get job", err)
	}
	return job, nil
}

func (s *IngestService) GetSource(ctx context.Context, id string) (*model.KnowledgeSource, error) {
	src, err := s.sources.GetByID(ctx, id)
	if err != nil {
		return nil, storageErr("get source", err)
	}
	return src, nil
}

// stopJob releases the job when ctx was cancelled and fails it otherwise.
func (s *IngestService) stopJob(ctx context.Context, job *model.ProcessingJob, src *model.KnowledgeSource, cause error) error {
	if ctx.Err() != nil {
		return s.releaseJob(ctx, job)
	}
	return s.failJob(ctx, job, src, cause)
}

// failJob records cause on the job and its source and returns cause. The
// writes outlive ctx cancellation.
func (s *IngestService) failJob(ctx context.Context, job *model.ProcessingJob, src *model.KnowledgeSource, cause error) error {
	bg := context.WithoutCancel(ctx)
	logger := logutil.GetLogger(ctx).With(zap.String("job_id", job.ID))
	now := s.now().UnixMilli()
	if err := s.jobs.MarkFailed(bg, job.ID, cause.Error(), now); err != nil {
		logger.Error("mark job failed", zap.Error(err))
	}
	job.Status = model.JobStatusFailed
	job.ErrorMessage = cause.Error()
	sourceID := job.KnowledgeSourceID
	if src != nil {
		src.Status = model.SourceStatusFailed
		sourceID = src.ID
	}
	if err := s.sources.UpdateStatus(bg, sourceID, model.SourceStatusFailed, now); err != nil {
		logger.Error("mark source failed", zap.String("source_id", sourceID), zap.Error(err))
	}
	logger.Error("job failed", zap.Int("current_chunk", job.CurrentChunk), zap.Error(cause))
	return cause
}

// releaseJob hands an interrupted job back to pending. Stored chunks and the
// cursor stay as they are.
func (s *IngestService) releaseJob(ctx context.Context, job *model.ProcessingJob) error {
	cause := ctx.Err()
	bg := context.WithoutCancel(ctx)
	if _, err := s.jobs.UpdateStatusIf(bg, job.ID, model.JobStatusProcessing, model.JobStatusPending, "", s.now().UnixMilli()); err != nil {
		logutil.GetLogger(ctx).Error("release interrupted job", zap.String("job_id", job.ID), zap.Error(err))
	} else {
		job.Status = model.JobStatusPending
	}
	logutil.GetLogger(ctx).Warn("job interrupted", zap.String("job_id", job.ID), zap.Int("current_chunk", job.CurrentChunk), zap.Error(cause))
	return cause
}
