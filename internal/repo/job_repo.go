package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/xxxsen/kbingest/internal/model"
	appErr "github.com/xxxsen/kbingest/internal/pkg/errors"
	"github.com/xxxsen/kbingest/internal/pkg/dbutil"
)

const jobColumns = `id, knowledge_source_id, status, current_chunk, total_chunks, error_message, embedding_model, processed_at, ctime, mtime`

type JobRepo struct {
	db *sql.DB
}

func NewJobRepo(db *sql.DB) *JobRepo {
	return &JobRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*model.ProcessingJob, error) {
	var job model.ProcessingJob
	if err := row.Scan(
		&job.ID,
		&job.KnowledgeSourceID,
		&job.Status,
		&job.CurrentChunk,
		&job.TotalChunks,
		&job.ErrorMessage,
		&job.EmbeddingModel,
		&job.ProcessedAt,
		&job.Ctime,
		&job.Mtime,
	); err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *JobRepo) Create(ctx context.Context, job *model.ProcessingJob) error {
	const query = `
		INSERT INTO processing_jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.ExecContext(ctx, query,
		job.ID,
		job.KnowledgeSourceID,
		job.Status,
		job.CurrentChunk,
		job.TotalChunks,
		job.ErrorMessage,
		job.EmbeddingModel,
		job.ProcessedAt,
		job.Ctime,
		job.Mtime,
	)
	if err != nil && dbutil.IsConflict(err) {
		return appErr.ErrConflict
	}
	return err
}

func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.ProcessingJob, error) {
	query := `SELECT ` + jobColumns + ` FROM processing_jobs WHERE id = $1`
	job, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// ListByStatus returns up to limit jobs in the given status, oldest first.
func (r *JobRepo) ListByStatus(ctx context.Context, status string, limit int) ([]model.ProcessingJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM processing_jobs
		WHERE status = $1
		ORDER BY ctime ASC, id ASC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, status, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var result []model.ProcessingJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *job)
	}
	return result, rows.Err()
}

// ClaimNext moves the oldest pending job to processing in a single
// conditional update. Rows locked by a concurrent claimant are skipped, and
// the outer status predicate keeps the transition pending->processing only.
func (r *JobRepo) ClaimNext(ctx context.Context, mtime int64) (*model.ProcessingJob, error) {
	query := `
		UPDATE processing_jobs
		SET status = $1, mtime = $2
		WHERE id = (
			SELECT id FROM processing_jobs
			WHERE status = $3
			ORDER BY ctime ASC, id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		) AND status = $3
		RETURNING ` + jobColumns
	job, err := scanJob(r.db.QueryRowContext(ctx, query, model.JobStatusProcessing, mtime, model.JobStatusPending))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

func (r *JobRepo) SetTotalChunks(ctx context.Context, id string, total int, mtime int64) error {
	const query = `
		UPDATE processing_jobs
		SET total_chunks = $1, mtime = $2
		WHERE id = $3 AND total_chunks = 0
	`
	return r.execOne(ctx, query, total, mtime, id)
}

// SetEmbeddingModel records the model a job embeds with. It only succeeds
// once per job.
func (r *JobRepo) SetEmbeddingModel(ctx context.Context, id, modelName string, mtime int64) error {
	const query = `
		UPDATE processing_jobs
		SET embedding_model = $1, mtime = $2
		WHERE id = $3 AND embedding_model = ''
	`
	return r.execOne(ctx, query, modelName, mtime, id)
}

func (r *JobRepo) UpdateProgress(ctx context.Context, id string, current int, mtime int64) error {
	const query = `
		UPDATE processing_jobs
		SET current_chunk = $1, mtime = $2
		WHERE id = $3 AND status = $4
	`
	return r.execOne(ctx, query, current, mtime, id, model.JobStatusProcessing)
}

func (r *JobRepo) UpdateStatusIf(ctx context.Context, id, fromStatus, toStatus, errMsg string, mtime int64) (bool, error) {
	const query = `
		UPDATE processing_jobs
		SET status = $1, error_message = $2, mtime = $3
		WHERE id = $4 AND status = $5
	`
	res, err := r.db.ExecContext(ctx, query, toStatus, errMsg, mtime, id, fromStatus)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *JobRepo) MarkCompleted(ctx context.Context, id string, processedAt int64) error {
	const query = `
		UPDATE processing_jobs
		SET status = $1, error_message = '', processed_at = $2, mtime = $2
		WHERE id = $3 AND status = $4
	`
	return r.execOne(ctx, query, model.JobStatusCompleted, processedAt, id, model.JobStatusProcessing)
}

func (r *JobRepo) MarkFailed(ctx context.Context, id, errMsg string, mtime int64) error {
	const query = `
		UPDATE processing_jobs
		SET status = $1, error_message = $2, mtime = $3
		WHERE id = $4
	`
	return r.execOne(ctx, query, model.JobStatusFailed, errMsg, mtime, id)
}

// ReleaseStale returns processing jobs untouched since cutoff to pending.
func (r *JobRepo) ReleaseStale(ctx context.Context, cutoff, mtime int64) (int64, error) {
	const query = `
		UPDATE processing_jobs
		SET status = $1, mtime = $2
		WHERE status = $3 AND mtime < $4
	`
	res, err := r.db.ExecContext(ctx, query, model.JobStatusPending, mtime, model.JobStatusProcessing, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *JobRepo) execOne(ctx context.Context, query string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}
