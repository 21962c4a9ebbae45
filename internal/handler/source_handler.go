package handler

import (
	"context"
	"fmt"
	"io"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/kbingest/internal/model"
	"github.com/xxxsen/kbingest/internal/pkg/errcode"
	"github.com/xxxsen/kbingest/internal/pkg/response"
	"github.com/xxxsen/kbingest/internal/service"
)

type SourceService interface {
	SubmitSource(ctx context.Context, req service.SubmitSourceRequest) (*model.KnowledgeSource, *model.ProcessingJob, error)
	GetSource(ctx context.Context, id string) (*model.KnowledgeSource, error)
}

type FileSaver interface {
	Save(ctx context.Context, key string, r io.ReadSeeker, size int64) error
}

type SourceHandler struct {
	sources  SourceService
	files    FileSaver
	maxBytes int64
}

type SubmitResponse struct {
	Source *model.KnowledgeSource `json:"source"`
	Job    *model.ProcessingJob   `json:"job"`
}

func NewSourceHandler(sources SourceService, files FileSaver, maxBytes int64) *SourceHandler {
	return &SourceHandler{sources: sources, files: files, maxBytes: maxBytes}
}

func (h *SourceHandler) Create(c *gin.Context) {
	var req service.SubmitSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request body")
		return
	}
	src, job, err := h.sources.SubmitSource(c.Request.Context(), req)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, SubmitResponse{Source: src, Job: job})
}

func (h *SourceHandler) Upload(c *gin.Context) {
	if h.files == nil {
		response.Error(c, errcode.ErrUploadFailed, "file store not configured")
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		response.Error(c, errcode.ErrInvalidFile, "file is required")
		return
	}
	if h.maxBytes > 0 && header.Size > h.maxBytes {
		response.Error(c, errcode.ErrInvalidFile, fmt.Sprintf("file exceeds %s", formatUploadLimit(h.maxBytes)))
		return
	}
	key, ok := buildFileKey(header.Filename)
	if !ok {
		response.Error(c, errcode.ErrInvalidFile, "only .txt, .md and .markdown files are accepted")
		return
	}
	file, err := header.Open()
	if err != nil {
		response.Error(c, errcode.ErrInvalidFile, "failed to open file")
		return
	}
	defer file.Close()
	isText, err := detectTextFile(file)
	if err != nil {
		response.Error(c, errcode.ErrInvalidFile, "failed to read file")
		return
	}
	if !isText {
		response.Error(c, errcode.ErrInvalidFile, "file is not text")
		return
	}
	ctx := c.Request.Context()
	if err := h.files.Save(ctx, key, file, header.Size); err != nil {
		code, _ := mapError(err)
		if code == errcode.ErrInternal {
			code = errcode.ErrUploadFailed
		}
		response.Error(c, code, "failed to store file")
		return
	}
	src, job, err := h.sources.SubmitSource(ctx, service.SubmitSourceRequest{Type: model.SourceTypeFile, FilePath: key})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, SubmitResponse{Source: src, Job: job})
}

func (h *SourceHandler) Get(c *gin.Context) {
	src, err := h.sources.GetSource(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, src)
}
