package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/kbingest/internal/service"
)

type IngestWorker interface {
	CountPending(ctx context.Context, limit int) (int, error)
	RunOnce(ctx context.Context, maxChunks int) (*service.BatchResult, error)
}

type IngestJobConfig struct {
	MaxPendingScan         int
	MaxWorkers             int
	MaxChunksPerInvocation int
}

type TickSummary struct {
	PendingJobs int `json:"pending_jobs"`
	Processed   int `json:"processed"`
	Failed      int `json:"failed"`
}

// IngestJob fans a tick out to at most MaxWorkers workers. Workers claim jobs
// on their own, so the tick never hands a job to a worker.
type IngestJob struct {
	worker IngestWorker
	cfg    IngestJobConfig
	pool   *ants.Pool
}

func NewIngestJob(worker IngestWorker, cfg IngestJobConfig) (*IngestJob, error) {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 3
	}
	if cfg.MaxPendingScan <= 0 {
		cfg.MaxPendingScan = 5
	}
	pool, err := ants.NewPool(cfg.MaxWorkers)
	if err != nil {
		return nil, fmt.Errorf("create ingest pool: %w", err)
	}
	return &IngestJob{worker: worker, cfg: cfg, pool: pool}, nil
}

func (j *IngestJob) Name() string {
	return "ingest_tick"
}

func (j *IngestJob) Run(ctx context.Context) error {
	summary, err := j.Tick(ctx)
	if err != nil {
		return err
	}
	if summary.PendingJobs > 0 {
		logutil.GetLogger(ctx).Info("ingest tick done",
			zap.Int("pending_jobs", summary.PendingJobs),
			zap.Int("processed", summary.Processed),
			zap.Int("failed", summary.Failed),
		)
	}
	return nil
}

// Tick sizes the fan-out from the pending backlog and waits for every worker.
// Worker errors and panics are counted, never returned.
func (j *IngestJob) Tick(ctx context.Context) (*TickSummary, error) {
	pending, err := j.worker.CountPending(ctx, j.cfg.MaxPendingScan)
	if err != nil {
		return nil, fmt.Errorf("count pending jobs: %w", err)
	}
	summary := &TickSummary{PendingJobs: pending}
	if pending == 0 {
		return summary, nil
	}
	workers := min(pending, j.cfg.MaxWorkers)
	var (
		wg        sync.WaitGroup
		processed atomic.Int32
		failed    atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		if err := j.pool.Submit(func() {
			defer wg.Done()
			j.runWorker(ctx, &processed, &failed)
		}); err != nil {
			wg.Done()
			failed.Add(1)
			logutil.GetLogger(ctx).Error("submit ingest worker failed", zap.Error(err))
		}
	}
	wg.Wait()
	summary.Processed = int(processed.Load())
	summary.Failed = int(failed.Load())
	return summary, nil
}

func (j *IngestJob) runWorker(ctx context.Context, processed, failed *atomic.Int32) {
	defer func() {
		if r := recover(); r != nil {
			failed.Add(1)
			logutil.GetLogger(ctx).Error("ingest worker panic", zap.Any("panic", r))
		}
	}()
	res, err := j.worker.RunOnce(ctx, j.cfg.MaxChunksPerInvocation)
	if err != nil {
		if errors.Is(err, service.ErrNoJobAvailable) {
			return
		}
		failed.Add(1)
		fields := []zap.Field{zap.Error(err)}
		if res != nil {
			fields = append(fields, zap.String("job_id", res.JobID))
		}
		logutil.GetLogger(ctx).Warn("ingest worker failed", fields...)
		return
	}
	processed.Add(1)
}

func (j *IngestJob) Release() {
	j.pool.Release()
}
