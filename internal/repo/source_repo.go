package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/kbingest/internal/model"
	appErr "github.com/xxxsen/kbingest/internal/pkg/errors"
	"github.com/xxxsen/kbingest/internal/pkg/dbutil"
)

type SourceRepo struct {
	db *sql.DB
}

func NewSourceRepo(db *sql.DB) *SourceRepo {
	return &SourceRepo{db: db}
}

func (r *SourceRepo) Create(ctx context.Context, src *model.KnowledgeSource) error {
	data := map[string]interface{}{
		"id":        src.ID,
		"type":      src.Type,
		"content":   src.Content,
		"file_path": src.FilePath,
		"status":    src.Status,
		"ctime":     src.Ctime,
		"mtime":     src.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("knowledge_sources", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	if _, err := r.db.ExecContext(ctx, sqlStr, args...); err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		return err
	}
	return nil
}

func (r *SourceRepo) GetByID(ctx context.Context, id string) (*model.KnowledgeSource, error) {
	const query = `
		SELECT id, type, content, file_path, status, ctime, mtime
		FROM knowledge_sources
		WHERE id = $1
	`
	var src model.KnowledgeSource
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&src.ID,
		&src.Type,
		&src.Content,
		&src.FilePath,
		&src.Status,
		&src.Ctime,
		&src.Mtime,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	return &src, nil
}

func (r *SourceRepo) UpdateStatus(ctx context.Context, id, status string, mtime int64) error {
	const query = `UPDATE knowledge_sources SET status = $1, mtime = $2 WHERE id = $3`
	res, err := r.db.ExecContext(ctx, query, status, mtime, id)
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

// UpdateStatusIf moves a source to status only while it is still in
// fromStatus and reports whether it did.
func (r *SourceRepo) UpdateStatusIf(ctx context.Context, id, fromStatus, status string, mtime int64) (bool, error) {
	const query = `UPDATE knowledge_sources SET status = $1, mtime = $2 WHERE id = $3 AND status = $4`
	res, err := r.db.ExecContext(ctx, query, status, mtime, id, fromStatus)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
