package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/kbingest/internal/middleware"
)

type RouterDeps struct {
	Sources       *SourceHandler
	Jobs          *JobHandler
	Search        *SearchHandler
	TickRateLimit time.Duration
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.POST("/sources", deps.Sources.Create)
	api.POST("/sources/upload", deps.Sources.Upload)
	api.GET("/sources/:id", deps.Sources.Get)

	api.GET("/jobs/:id", deps.Jobs.Get)
	api.POST("/jobs/:id/reset", deps.Jobs.Reset)
	api.POST("/ingest/tick", middleware.RateLimit(deps.TickRateLimit), deps.Jobs.Tick)

	api.GET("/search", deps.Search.Search)
}
