package embedcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/kbingest/internal/model"
)

type countingEmbedder struct {
	calls int
	err   error
}

func (c *countingEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return []float32{float32(len(text)), 1}, nil
}

func (c *countingEmbedder) ModelName() string { return "test-model" }

type memoryStore struct {
	items  map[string]*model.EmbeddingCache
	getErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{items: map[string]*model.EmbeddingCache{}}
}

func (m *memoryStore) Get(ctx context.Context, modelName, taskType, contentHash string) ([]float32, bool, error) {
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	item, ok := m.items[modelName+taskType+contentHash]
	if !ok {
		return nil, false, nil
	}
	return item.Embedding, true, nil
}

func (m *memoryStore) Save(ctx context.Context, item *model.EmbeddingCache) error {
	m.items[item.ModelName+item.TaskType+item.ContentHash] = item
	return nil
}

func TestLruEmbedder_CachesPerTaskType(t *testing.T) {
	next := &countingEmbedder{}
	e := WrapLruCacheToEmbedder(next, 10, time.Minute)
	ctx := context.Background()

	first, err := e.Embed(ctx, "hello", "RETRIEVAL_DOCUMENT")
	require.NoError(t, err)
	first[0] = 99
	second, err := e.Embed(ctx, "hello", "RETRIEVAL_DOCUMENT")
	require.NoError(t, err)
	require.Equal(t, []float32{5, 1}, second)
	require.Equal(t, 1, next.calls)

	_, err = e.Embed(ctx, "hello", "RETRIEVAL_QUERY")
	require.NoError(t, err)
	require.Equal(t, 2, next.calls)
	require.Equal(t, "test-model", e.ModelName())
}

func TestLruEmbedder_DisabledReturnsNext(t *testing.T) {
	next := &countingEmbedder{}
	require.Same(t, next, WrapLruCacheToEmbedder(next, 0, time.Minute))
}

func TestDBEmbedder(t *testing.T) {
	next := &countingEmbedder{}
	store := newMemoryStore()
	e := WrapDBCacheToEmbedder(next, store)
	ctx := context.Background()

	_, err := e.Embed(ctx, "chunk", "RETRIEVAL_DOCUMENT")
	require.NoError(t, err)
	require.Len(t, store.items, 1)
	vec, err := e.Embed(ctx, "chunk", "RETRIEVAL_DOCUMENT")
	require.NoError(t, err)
	require.Equal(t, []float32{5, 1}, vec)
	require.Equal(t, 1, next.calls)

	store.getErr = errors.New("db down")
	_, err = e.Embed(ctx, "chunk", "RETRIEVAL_DOCUMENT")
	require.NoError(t, err)
	require.Equal(t, 2, next.calls)
}

func TestDBEmbedder_PropagatesEmbedError(t *testing.T) {
	boom := errors.New("boom")
	e := WrapDBCacheToEmbedder(&countingEmbedder{err: boom}, newMemoryStore())
	_, err := e.Embed(context.Background(), "x", "")
	require.ErrorIs(t, err, boom)
}
