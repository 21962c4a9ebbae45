package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/xxxsen/kbingest/internal/ai"
	"github.com/xxxsen/kbingest/internal/model"
	appErr "github.com/xxxsen/kbingest/internal/pkg/errors"
)

const (
	defaultSearchTopK = 5
	maxSearchTopK     = 50
)

type SearchService struct {
	searcher IChunkSearcher
	embedder ai.IEmbedder
}

func NewSearchService(searcher IChunkSearcher, embedder ai.IEmbedder) *SearchService {
	return &SearchService{searcher: searcher, embedder: embedder}
}

func (s *SearchService) Search(ctx context.Context, query string, topK int) ([]model.ChunkMatch, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query is required: %w", appErr.ErrInvalid)
	}
	if topK <= 0 {
		topK = defaultSearchTopK
	}
	if topK > maxSearchTopK {
		topK = maxSearchTopK
	}
	vec, modelName, err := ai.EmbedAny(ctx, s.embedder, query, ai.TaskTypeRetrievalQuery)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	matches, err := s.searcher.SearchNearest(ctx, vec, modelName, topK)
	if err != nil {
		return nil, storageErr("search chunks", err)
	}
	return matches, nil
}
