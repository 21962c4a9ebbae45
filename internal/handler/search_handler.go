package handler

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/kbingest/internal/model"
	"github.com/xxxsen/kbingest/internal/pkg/errcode"
	"github.com/xxxsen/kbingest/internal/pkg/response"
)

type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]model.ChunkMatch, error)
}

type SearchHandler struct {
	searcher Searcher
}

func NewSearchHandler(searcher Searcher) *SearchHandler {
	return &SearchHandler{searcher: searcher}
}

func (h *SearchHandler) Search(c *gin.Context) {
	topK := 0
	if raw := c.Query("top_k"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			response.Error(c, errcode.ErrInvalid, "top_k must be a positive integer")
			return
		}
		topK = v
	}
	matches, err := h.searcher.Search(c.Request.Context(), c.Query("q"), topK)
	if err != nil {
		handleError(c, err)
		return
	}
	if matches == nil {
		matches = []model.ChunkMatch{}
	}
	response.Success(c, gin.H{"matches": matches})
}
