package job

import (
	"context"
	"time"
)

type StaleJobReleaser interface {
	ReleaseStaleJobs(ctx context.Context, olderThan time.Duration) (int64, error)
}

type StaleJobReleaseJob struct {
	releaser  StaleJobReleaser
	olderThan time.Duration
}

func NewStaleJobReleaseJob(releaser StaleJobReleaser, olderThan time.Duration) *StaleJobReleaseJob {
	return &StaleJobReleaseJob{releaser: releaser, olderThan: olderThan}
}

func (j *StaleJobReleaseJob) Name() string {
	return "stale_job_release"
}

func (j *StaleJobReleaseJob) Run(ctx context.Context) error {
	olderThan := j.olderThan
	if olderThan <= 0 {
		olderThan = 15 * time.Minute
	}
	_, err := j.releaser.ReleaseStaleJobs(ctx, olderThan)
	return err
}
