package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/kbingest/internal/job"
	"github.com/xxxsen/kbingest/internal/model"
	"github.com/xxxsen/kbingest/internal/pkg/response"
)

type JobService interface {
	GetJob(ctx context.Context, id string) (*model.ProcessingJob, error)
	ResetJob(ctx context.Context, id string) (*model.ProcessingJob, error)
}

type Ticker interface {
	Tick(ctx context.Context) (*job.TickSummary, error)
}

type JobHandler struct {
	jobs   JobService
	ticker Ticker
}

func NewJobHandler(jobs JobService, ticker Ticker) *JobHandler {
	return &JobHandler{jobs: jobs, ticker: ticker}
}

func (h *JobHandler) Get(c *gin.Context) {
	item, err := h.jobs.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, item)
}

func (h *JobHandler) Reset(c *gin.Context) {
	item, err := h.jobs.ResetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, item)
}

// Tick runs one scheduler tick inline and replies with its summary.
func (h *JobHandler) Tick(c *gin.Context) {
	summary, err := h.ticker.Tick(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, summary)
}
