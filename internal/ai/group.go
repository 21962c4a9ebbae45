package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type EmbedderEntry struct {
	Name     string
	Embedder IEmbedder
}

// IModelRouter is an embedder backed by several models. Vectors from
// different models live in different spaces, so callers that store vectors
// need to know which model produced them.
type IModelRouter interface {
	IEmbedder
	// EmbedModel embeds with the first working entry and reports its model.
	EmbedModel(ctx context.Context, text string, taskType string) ([]float32, string, error)
	// Pin returns an embedder limited to the entries serving model, or nil.
	Pin(model string) IEmbedder
}

type groupEmbedder struct {
	items []EmbedderEntry
}

// NewGroupEmbedder tries each embedder in order and returns the first vector.
func NewGroupEmbedder(items []EmbedderEntry) IEmbedder {
	if len(items) == 0 {
		return nil
	}
	if len(items) == 1 {
		return items[0].Embedder
	}
	return &groupEmbedder{items: items}
}

func (g *groupEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	vec, _, err := g.EmbedModel(ctx, text, taskType)
	return vec, err
}

func (g *groupEmbedder) EmbedModel(ctx context.Context, text string, taskType string) ([]float32, string, error) {
	var lastErr error
	for i, item := range g.items {
		if item.Embedder == nil {
			continue
		}
		res, err := item.Embedder.Embed(ctx, text, taskType)
		if err == nil {
			return res, item.Embedder.ModelName(), nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		logutil.GetLogger(ctx).Warn("embedder failed", zap.Int("index", i), zap.String("name", item.Name), zap.Error(err))
	}
	if lastErr == nil {
		return nil, "", fmt.Errorf("embedder not configured")
	}
	return nil, "", lastErr
}

func (g *groupEmbedder) Pin(model string) IEmbedder {
	var items []EmbedderEntry
	for _, item := range g.items {
		if item.Embedder != nil && item.Embedder.ModelName() == model {
			items = append(items, item)
		}
	}
	return NewGroupEmbedder(items)
}

func (g *groupEmbedder) ModelName() string {
	names := make([]string, 0, len(g.items))
	for _, item := range g.items {
		if item.Name == "" {
			continue
		}
		names = append(names, item.Name)
	}
	if len(names) == 0 {
		return ""
	}
	return strings.Join(names, "|")
}

// EmbedAny embeds text with e and reports the model that produced the vector.
func EmbedAny(ctx context.Context, e IEmbedder, text string, taskType string) ([]float32, string, error) {
	if r, ok := e.(IModelRouter); ok {
		return r.EmbedModel(ctx, text, taskType)
	}
	vec, err := e.Embed(ctx, text, taskType)
	if err != nil {
		return nil, "", err
	}
	return vec, e.ModelName(), nil
}

// PinModel narrows e to the entries serving model. Vectors from the result
// are comparable with vectors model produced earlier.
func PinModel(e IEmbedder, model string) (IEmbedder, error) {
	if r, ok := e.(IModelRouter); ok {
		if pinned := r.Pin(model); pinned != nil {
			return pinned, nil
		}
	} else if e != nil && e.ModelName() == model {
		return e, nil
	}
	return nil, fmt.Errorf("embedding model %q is not configured: %w", model, ErrUnavailable)
}
