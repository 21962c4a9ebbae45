package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/kbingest/internal/ai"
	"github.com/xxxsen/kbingest/internal/job"
	"github.com/xxxsen/kbingest/internal/model"
	"github.com/xxxsen/kbingest/internal/pkg/errcode"
	appErr "github.com/xxxsen/kbingest/internal/pkg/errors"
	"github.com/xxxsen/kbingest/internal/service"
)

type stubIngest struct {
	submitted []service.SubmitSourceRequest
	sources   map[string]*model.KnowledgeSource
	jobs      map[string]*model.ProcessingJob
	resetErr  error
}

func (s *stubIngest) SubmitSource(ctx context.Context, req service.SubmitSourceRequest) (*model.KnowledgeSource, *model.ProcessingJob, error) {
	if req.Type == model.SourceTypeText && req.Content == "" {
		return nil, nil, fmt.Errorf("content is required: %w", appErr.ErrInvalid)
	}
	s.submitted = append(s.submitted, req)
	src := &model.KnowledgeSource{ID: "src-1", Type: req.Type, FilePath: req.FilePath, Status: model.SourceStatusPending}
	return src, &model.ProcessingJob{ID: "job-1", KnowledgeSourceID: src.ID, Status: model.JobStatusPending}, nil
}

func (s *stubIngest) GetSource(ctx context.Context, id string) (*model.KnowledgeSource, error) {
	if src, ok := s.sources[id]; ok {
		return src, nil
	}
	return nil, appErr.ErrNotFound
}

func (s *stubIngest) GetJob(ctx context.Context, id string) (*model.ProcessingJob, error) {
	if item, ok := s.jobs[id]; ok {
		return item, nil
	}
	return nil, appErr.ErrNotFound
}

func (s *stubIngest) ResetJob(ctx context.Context, id string) (*model.ProcessingJob, error) {
	if s.resetErr != nil {
		return nil, s.resetErr
	}
	return s.GetJob(ctx, id)
}

type stubTicker struct{ calls int }

func (s *stubTicker) Tick(ctx context.Context) (*job.TickSummary, error) {
	s.calls++
	return &job.TickSummary{PendingJobs: 2, Processed: 2}, nil
}

type stubSearcher struct {
	query string
	topK  int
}

func (s *stubSearcher) Search(ctx context.Context, query string, topK int) ([]model.ChunkMatch, error) {
	if query == "" {
		return nil, fmt.Errorf("query is required: %w", appErr.ErrInvalid)
	}
	s.query, s.topK = query, topK
	return []model.ChunkMatch{{KnowledgeSourceID: "src-1", ChunkIndex: 0, Content: "Hello world."}}, nil
}

type memSaver map[string][]byte

func (m memSaver) Save(ctx context.Context, key string, r io.ReadSeeker, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m[key] = data
	return nil
}

type apiReply struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type testEnv struct {
	router   *gin.Engine
	ingest   *stubIngest
	ticker   *stubTicker
	searcher *stubSearcher
	files    memSaver
}

func setupRouter(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	env := &testEnv{
		ingest: &stubIngest{
			sources: map[string]*model.KnowledgeSource{"src-1": {ID: "src-1", Status: model.SourceStatusCompleted}},
			jobs:    map[string]*model.ProcessingJob{"job-1": {ID: "job-1", Status: model.JobStatusFailed}},
		},
		ticker:   &stubTicker{},
		searcher: &stubSearcher{},
		files:    memSaver{},
	}
	env.router = gin.New()
	RegisterRoutes(env.router.Group("/api/v1"), RouterDeps{
		Sources:       NewSourceHandler(env.ingest, env.files, 1<<20),
		Jobs:          NewJobHandler(env.ingest, env.ticker),
		Search:        NewSearchHandler(env.searcher),
		TickRateLimit: time.Minute,
	})
	return env
}

func (env *testEnv) do(t *testing.T, req *http.Request) apiReply {
	t.Helper()
	resp := httptest.NewRecorder()
	env.router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	var reply apiReply
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &reply))
	return reply
}

func TestMapError(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{appErr.ErrNotFound, errcode.ErrNotFound},
		{fmt.Errorf("bad: %w", appErr.ErrInvalid), errcode.ErrInvalid},
		{ai.ErrEmptyContent, errcode.ErrInvalid},
		{appErr.ErrConflict, errcode.ErrConflict},
		{ai.ErrUnavailable, errcode.ErrAIUnavailable},
		{&ai.EmbeddingProviderError{Provider: "openai", StatusCode: 500, Message: "boom"}, errcode.ErrEmbeddingFailed},
		{&service.StorageError{Op: "insert chunk", Err: io.ErrUnexpectedEOF}, errcode.ErrInternal},
	}
	for _, tc := range cases {
		code, msg := mapError(tc.err)
		require.Equal(t, tc.code, code, tc.err.Error())
		require.NotEmpty(t, msg)
	}
	_, msg := mapError(&service.StorageError{Op: "insert chunk", Err: io.ErrUnexpectedEOF})
	require.Equal(t, "internal error", msg)
}

func TestSourceHandlers(t *testing.T) {
	env := setupRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sources", bytes.NewReader([]byte(`{"type":"text","content":"Hello world."}`)))
	req.Header.Set("Content-Type", "application/json")
	reply := env.do(t, req)
	require.Equal(t, 0, reply.Code)
	var submitted SubmitResponse
	require.NoError(t, json.Unmarshal(reply.Data, &submitted))
	require.Equal(t, "job-1", submitted.Job.ID)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/sources", bytes.NewReader([]byte(`{"type":"text"}`)))
	req.Header.Set("Content-Type", "application/json")
	require.Equal(t, errcode.ErrInvalid, env.do(t, req).Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/sources", bytes.NewReader([]byte(`{`)))
	req.Header.Set("Content-Type", "application/json")
	require.Equal(t, errcode.ErrInvalid, env.do(t, req).Code)

	reply = env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/sources/src-1", nil))
	require.Equal(t, 0, reply.Code)
	require.Equal(t, errcode.ErrNotFound, env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/sources/nope", nil)).Code)
}

func newUpload(t *testing.T, filename string, body []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(body)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sources/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestSourceUpload(t *testing.T) {
	env := setupRouter(t)

	reply := env.do(t, newUpload(t, "notes.md", []byte("# Title\n\nSome text.")))
	require.Equal(t, 0, reply.Code)
	require.Len(t, env.ingest.submitted, 1)
	key := env.ingest.submitted[0].FilePath
	require.Equal(t, model.SourceTypeFile, env.ingest.submitted[0].Type)
	require.Contains(t, key, ".md")
	require.Equal(t, "# Title\n\nSome text.", string(env.files[key]))

	require.Equal(t, errcode.ErrInvalidFile, env.do(t, newUpload(t, "image.png", []byte("abc"))).Code)
	require.Equal(t, errcode.ErrInvalidFile, env.do(t, newUpload(t, "bin.txt", []byte{0x00, 0x01, 0x02, 0xff})).Code)
	require.Equal(t, errcode.ErrInvalidFile, env.do(t, newUpload(t, "big.txt", bytes.Repeat([]byte("a"), 1<<20+1))).Code)
	require.Len(t, env.ingest.submitted, 1)
}

func TestJobHandlers(t *testing.T) {
	env := setupRouter(t)

	require.Equal(t, 0, env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job-1", nil)).Code)
	require.Equal(t, errcode.ErrNotFound, env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/nope", nil)).Code)
	require.Equal(t, 0, env.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/jobs/job-1/reset", nil)).Code)

	env.ingest.resetErr = fmt.Errorf("job is processing: %w", appErr.ErrConflict)
	require.Equal(t, errcode.ErrConflict, env.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/jobs/job-1/reset", nil)).Code)
}

func TestTickIsRateLimited(t *testing.T) {
	env := setupRouter(t)

	reply := env.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/ingest/tick", nil))
	require.Equal(t, 0, reply.Code)
	var summary job.TickSummary
	require.NoError(t, json.Unmarshal(reply.Data, &summary))
	require.Equal(t, 2, summary.PendingJobs)
	require.Equal(t, 2, summary.Processed)

	reply = env.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/ingest/tick", nil))
	require.Equal(t, errcode.ErrTooMany, reply.Code)
	require.Equal(t, 1, env.ticker.calls)
}

func TestSearchHandler(t *testing.T) {
	env := setupRouter(t)

	reply := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/search?q=hello&top_k=3", nil))
	require.Equal(t, 0, reply.Code)
	require.Equal(t, "hello", env.searcher.query)
	require.Equal(t, 3, env.searcher.topK)
	var body struct {
		Matches []model.ChunkMatch `json:"matches"`
	}
	require.NoError(t, json.Unmarshal(reply.Data, &body))
	require.Len(t, body.Matches, 1)

	require.Equal(t, errcode.ErrInvalid, env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/search?q=hello&top_k=x", nil)).Code)
	require.Equal(t, errcode.ErrInvalid, env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/search", nil)).Code)
}
