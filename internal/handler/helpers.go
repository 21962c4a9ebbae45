package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/kbingest/internal/ai"
	"github.com/xxxsen/kbingest/internal/middleware"
	"github.com/xxxsen/kbingest/internal/pkg/errcode"
	appErr "github.com/xxxsen/kbingest/internal/pkg/errors"
	"github.com/xxxsen/kbingest/internal/pkg/response"
)

// mapError turns a service error into a reply code and a client safe message.
func mapError(err error) (int, string) {
	var providerErr *ai.EmbeddingProviderError
	switch {
	case errors.Is(err, appErr.ErrNotFound):
		return errcode.ErrNotFound, "not found"
	case errors.Is(err, appErr.ErrInvalid), errors.Is(err, ai.ErrEmptyContent):
		return errcode.ErrInvalid, err.Error()
	case errors.Is(err, appErr.ErrConflict):
		return errcode.ErrConflict, err.Error()
	case errors.Is(err, appErr.ErrTooMany):
		return errcode.ErrTooMany, http.StatusText(http.StatusTooManyRequests)
	case errors.Is(err, ai.ErrUnavailable):
		return errcode.ErrAIUnavailable, "embedding provider unavailable"
	case errors.As(err, &providerErr):
		return errcode.ErrEmbeddingFailed, "embedding failed"
	default:
		return errcode.ErrInternal, "internal error"
	}
}

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	code, msg := mapError(err)
	logger := logutil.GetLogger(c.Request.Context()).With(
		zap.String("request_id", c.GetString(middleware.ContextRequestIDKey)),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("code", code),
	)
	if code == errcode.ErrInternal || code == errcode.ErrEmbeddingFailed {
		logger.Error("request failed", zap.Error(err))
	} else {
		logger.Warn("request rejected", zap.Error(err))
	}
	response.Error(c, code, msg)
}
