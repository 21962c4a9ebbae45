package ai

import (
	"context"
	"errors"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// Timeout bounds a single attempt. Zero means no extra deadline.
	Timeout time.Duration
}

type retryEmbedder struct {
	next IEmbedder
	cfg  RetryConfig
}

// WrapRetry retries transport errors, 429 and 5xx replies with exponential
// backoff. Other failures are returned after the first attempt.
func WrapRetry(e IEmbedder, cfg RetryConfig) IEmbedder {
	if e == nil {
		return nil
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &retryEmbedder{next: e, cfg: cfg}
}

func (r *retryEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := r.embedOnce(ctx, text, taskType)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if attempt == r.cfg.MaxAttempts || !isRetryable(err) || ctx.Err() != nil {
			break
		}
		delay := r.cfg.BaseDelay << (attempt - 1)
		logutil.GetLogger(ctx).Debug("embedding failed, will retry",
			zap.String("model", r.next.ModelName()),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, lastErr
}

func (r *retryEmbedder) embedOnce(ctx context.Context, text string, taskType string) ([]float32, error) {
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}
	return r.next.Embed(ctx, text, taskType)
}

func (r *retryEmbedder) ModelName() string {
	return r.next.ModelName()
}

func isRetryable(err error) bool {
	var providerErr *EmbeddingProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Retryable()
	}
	return errors.Is(err, context.DeadlineExceeded)
}
