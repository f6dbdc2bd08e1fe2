// Package api serves run history and the active pipeline definition over HTTP.
package api

import (
	"net/http"
	"strconv"

	"github.com/Alias1177/PredictorPipeline/config"
	"github.com/Alias1177/PredictorPipeline/internal/api/middleware"
	"github.com/Alias1177/PredictorPipeline/internal/metrics"
	"github.com/Alias1177/PredictorPipeline/internal/runner"
	"github.com/Alias1177/PredictorPipeline/models"
	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
)

const maxListLimit = 200

type handler struct {
	store    models.RunStore
	pipeline *config.Pipeline
}

// NewRouter builds the HTTP handler. store may be nil, in which case the
// history endpoints answer 503.
func NewRouter(store models.RunStore, p *config.Pipeline, production bool) http.Handler {
	if production {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.Logger())
	router.Use(middleware.ErrorHandler())

	h := &handler{store: store, pipeline: p}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := router.Group("/api/v1")
	{
		api.GET("/pipeline", h.getPipeline)
		api.GET("/runs", h.listRuns)
		api.GET("/runs/:id", h.getRun)
	}

	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
	}).Handler(router)
}

func (h *handler) getPipeline(c *gin.Context) {
	hash, err := h.pipeline.Fingerprint()
	if err != nil {
		middleware.Fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":        h.pipeline.Name,
		"end_date":    h.pipeline.EndDate,
		"config_hash": hash,
		"tickers":     h.pipeline.Jobs(),
		"invocations": runner.Plan(h.pipeline),
	})
}

func (h *handler) listRuns(c *gin.Context) {
	if h.store == nil {
		middleware.Fail(c, http.StatusServiceUnavailable, "HISTORY_DISABLED", "run history is not configured")
		return
	}
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			middleware.Fail(c, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}
	runs, err := h.store.ListRuns(c.Request.Context(), limit)
	if err != nil {
		middleware.Fail(c, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if runs == nil {
		runs = []models.RunSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (h *handler) getRun(c *gin.Context) {
	if h.store == nil {
		middleware.Fail(c, http.StatusServiceUnavailable, "HISTORY_DISABLED", "run history is not configured")
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		middleware.Fail(c, http.StatusBadRequest, "INVALID_ID", "run id must be an integer")
		return
	}
	run, invocations, err := h.store.GetRun(c.Request.Context(), id)
	if err != nil {
		middleware.Fail(c, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if run == nil {
		middleware.Fail(c, http.StatusNotFound, "NOT_FOUND", "run not found")
		return
	}
	if invocations == nil {
		invocations = []models.InvocationRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"run": run, "invocations": invocations})
}
