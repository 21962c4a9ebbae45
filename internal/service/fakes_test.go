package service

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/xxxsen/kbingest/internal/model"
	appErr "github.com/xxxsen/kbingest/internal/pkg/errors"
)

// memStore keeps sources, jobs and chunks in memory with the same
// conditional semantics as the postgres repos.
type memStore struct {
	mu        sync.Mutex
	sources   map[string]*model.KnowledgeSource
	jobs      map[string]*model.ProcessingJob
	chunks    map[string][]model.KnowledgeChunk
	insertErr error
	claimErr  error
}

func newMemStore() *memStore {
	return &memStore{
		sources: map[string]*model.KnowledgeSource{},
		jobs:    map[string]*model.ProcessingJob{},
		chunks:  map[string][]model.KnowledgeChunk{},
	}
}

type memSources struct{ *memStore }

type memJobs struct{ *memStore }

type memChunks struct{ *memStore }

func (m memSources) Create(ctx context.Context, src *model.KnowledgeSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sources[src.ID]; ok {
		return appErr.ErrConflict
	}
	cp := *src
	m.sources[src.ID] = &cp
	return nil
}

func (m memSources) GetByID(ctx context.Context, id string) (*model.KnowledgeSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.sources[id]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	cp := *src
	return &cp, nil
}

func (m memSources) UpdateStatus(ctx context.Context, id, status string, mtime int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.sources[id]
	if !ok {
		return appErr.ErrNotFound
	}
	src.Status = status
	src.Mtime = mtime
	return nil
}

func (m memSources) UpdateStatusIf(ctx context.Context, id, fromStatus, status string, mtime int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.sources[id]
	if !ok || src.Status != fromStatus {
		return false, nil
	}
	src.Status = status
	src.Mtime = mtime
	return true, nil
}

func (m memJobs) Create(ctx context.Context, job *model.ProcessingJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m memJobs) GetByID(ctx context.Context, id string) (*model.ProcessingJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (m memJobs) pendingLocked() []*model.ProcessingJob {
	var out []*model.ProcessingJob
	for _, job := range m.jobs {
		if job.Status == model.JobStatusPending {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ctime != out[j].Ctime {
			return out[i].Ctime < out[j].Ctime
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m memJobs) ListByStatus(ctx context.Context, status string, limit int) ([]model.ProcessingJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ProcessingJob
	for _, job := range m.pendingLocked() {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, *job)
	}
	return out, nil
}

func (m memJobs) ClaimNext(ctx context.Context, mtime int64) (*model.ProcessingJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimErr != nil {
		return nil, m.claimErr
	}
	pending := m.pendingLocked()
	if len(pending) == 0 {
		return nil, appErr.ErrNotFound
	}
	job := pending[0]
	job.Status = model.JobStatusProcessing
	job.Mtime = mtime
	cp := *job
	return &cp, nil
}

func (m memJobs) SetTotalChunks(ctx context.Context, id string, total int, mtime int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.TotalChunks != 0 {
		return appErr.ErrNotFound
	}
	job.TotalChunks = total
	job.Mtime = mtime
	return nil
}

func (m memJobs) SetEmbeddingModel(ctx context.Context, id, modelName string, mtime int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.EmbeddingModel != "" {
		return appErr.ErrNotFound
	}
	job.EmbeddingModel = modelName
	job.Mtime = mtime
	return nil
}

func (m memJobs) UpdateProgress(ctx context.Context, id string, current int, mtime int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.Status != model.JobStatusProcessing {
		return appErr.ErrNotFound
	}
	job.CurrentChunk = current
	job.Mtime = mtime
	return nil
}

func (m memJobs) UpdateStatusIf(ctx context.Context, id, fromStatus, toStatus, errMsg string, mtime int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.Status != fromStatus {
		return false, nil
	}
	job.Status = toStatus
	job.ErrorMessage = errMsg
	job.Mtime = mtime
	return true, nil
}

func (m memJobs) MarkCompleted(ctx context.Context, id string, processedAt int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.Status != model.JobStatusProcessing {
		return appErr.ErrNotFound
	}
	job.Status = model.JobStatusCompleted
	job.ErrorMessage = ""
	job.ProcessedAt = processedAt
	job.Mtime = processedAt
	return nil
}

func (m memJobs) MarkFailed(ctx context.Context, id, errMsg string, mtime int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return appErr.ErrNotFound
	}
	job.Status = model.JobStatusFailed
	job.ErrorMessage = errMsg
	job.Mtime = mtime
	return nil
}

func (m memJobs) ReleaseStale(ctx context.Context, cutoff, mtime int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var released int64
	for _, job := range m.jobs {
		if job.Status == model.JobStatusProcessing && job.Mtime < cutoff {
			job.Status = model.JobStatusPending
			job.Mtime = mtime
			released++
		}
	}
	return released, nil
}

func (m memChunks) Insert(ctx context.Context, chunk *model.KnowledgeChunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	for _, existing := range m.chunks[chunk.KnowledgeSourceID] {
		if existing.ChunkIndex == chunk.ChunkIndex {
			return nil
		}
	}
	m.chunks[chunk.KnowledgeSourceID] = append(m.chunks[chunk.KnowledgeSourceID], *chunk)
	return nil
}

func (m memChunks) CountBySource(ctx context.Context, sourceID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.chunks[sourceID]), nil
}

func (m memChunks) SearchNearest(ctx context.Context, query []float32, modelName string, topK int) ([]model.ChunkMatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ChunkMatch
	for _, items := range m.chunks {
		for _, c := range items {
			if c.Metadata.EmbeddingModel != modelName || len(c.Embedding) != len(query) {
				continue
			}
			out = append(out, model.ChunkMatch{KnowledgeSourceID: c.KnowledgeSourceID, ChunkIndex: c.ChunkIndex, Content: c.Content})
		}
	}
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (m *memStore) contents(sourceID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := append([]model.KnowledgeChunk(nil), m.chunks[sourceID]...)
	sort.Slice(items, func(i, j int) bool { return items[i].ChunkIndex < items[j].ChunkIndex })
	out := make([]string, 0, len(items))
	for _, c := range items {
		out = append(out, c.Content)
	}
	return out
}

// fakeEmbedder returns a vector per text and fails for texts in failOn.
type fakeEmbedder struct {
	mu     sync.Mutex
	calls  []string
	failOn map[string]error
	hook   func(text string)
	model  string
	dims   int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	err := f.failOn[text]
	hook := f.hook
	f.mu.Unlock()
	if hook != nil {
		hook(text)
	}
	if err != nil {
		return nil, err
	}
	vec := []float32{float32(len(text)), 1}
	for len(vec) < f.dims {
		vec = append(vec, 0)
	}
	return vec, nil
}

func (f *fakeEmbedder) ModelName() string {
	if f.model != "" {
		return f.model
	}
	return "fake-embed"
}

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type memFiles map[string]string

func (m memFiles) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	body, ok := m[key]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

var errBoom = errors.New("boom")
