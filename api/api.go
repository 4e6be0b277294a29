// Package api serves stored articles, sources and runs over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pevans/newsagg/article"
	"github.com/pevans/newsagg/driver"
	"github.com/pevans/newsagg/ident"
	"github.com/pevans/newsagg/logger"
	"github.com/pevans/newsagg/service"
	"github.com/pevans/newsagg/source"
	"github.com/pevans/newsagg/store"
)

// Defaults for GET /api/v1/articles.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// ArticleStore is the read side of the store.
type ArticleStore interface {
	GetArticle(ctx context.Context, id article.ID) (*article.Article, error)
	ListArticles(ctx context.Context, filter store.ArticleFilter) ([]article.Article, error)
	LatestRun(ctx context.Context) (*store.Run, error)
}

// Server is the HTTP API server.
type Server struct {
	runner   *service.Runner
	store    ArticleStore
	gatherer prometheus.Gatherer
	log      logger.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithStore serves articles and runs from st. Without a store the article
// routes answer 503 and /runs/latest reports the runner's last run.
func WithStore(st ArticleStore) Option {
	return func(s *Server) { s.store = st }
}

// WithGatherer exposes g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithLogger sets the request logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) { s.log = l }
}

// NewServer creates a new API server.
func NewServer(runner *service.Runner, opts ...Option) *Server {
	s := &Server{
		runner: runner,
		log:    logger.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetupRouter configures the Gin router with all routes.
func (s *Server) SetupRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	})

	router.GET("/healthz", s.HandleHealth)
	if s.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api/v1")
	api.GET("/articles", s.HandleListArticles)
	api.GET("/articles/:id", s.HandleGetArticle)
	api.GET("/sources", s.HandleListSources)
	api.GET("/runs/latest", s.HandleLatestRun)
	api.POST("/runs", s.HandleStartRun)

	return router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("HTTP request",
			logger.String("method", c.Request.Method),
			logger.String("path", c.FullPath()),
			logger.Int("status", c.Writer.Status()),
			logger.Duration("elapsed", time.Since(start)))
	}
}

// ListArticlesResponse represents the response for GET /api/v1/articles.
type ListArticlesResponse struct {
	Articles []article.Article `json:"articles"`
	Total    int               `json:"total"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

// SourceResponse describes one registered source.
type SourceResponse struct {
	Name   string      `json:"name"`
	URL    string      `json:"url"`
	Domain string      `json:"domain"`
	Kind   source.Kind `json:"kind"`
}

// ListSourcesResponse represents the response for GET /api/v1/sources.
type ListSourcesResponse struct {
	Sources []SourceResponse `json:"sources"`
	Total   int              `json:"total"`
}

// errorResponse creates a standardized error response.
func errorResponse(code, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

// handleError maps domain errors to HTTP responses.
func (s *Server) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse("not_found", err.Error()))
	case errors.Is(err, service.ErrRunning):
		c.JSON(http.StatusConflict, errorResponse("conflict", err.Error()))
	default:
		s.log.Error("Request failed", logger.String("path", c.FullPath()), logger.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse("internal_error", "Failed to process request"))
	}
}

func (s *Server) requireStore(c *gin.Context) bool {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse("store_disabled", "No article store is configured"))
		return false
	}
	return true
}

// HandleHealth handles GET /healthz.
func (s *Server) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"running": s.runner.Running(),
		"sources": s.runner.Registry().Len(),
	})
}

// HandleListArticles handles GET /api/v1/articles.
func (s *Server) HandleListArticles(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}

	filter := store.ArticleFilter{
		Source: c.Query("source"),
		Flag:   c.Query("flag"),
		Limit:  DefaultLimit,
	}

	if since := c.Query("since"); since != "" {
		t, err := parseSince(since, time.Now())
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("validation_error", "since must be RFC 3339 or a duration such as 24h"))
			return
		}
		filter.Since = t
	}

	var err error
	if filter.Limit, err = intParam(c, "limit", DefaultLimit); err != nil || filter.Limit < 1 {
		c.JSON(http.StatusBadRequest, errorResponse("validation_error", "limit must be a positive integer"))
		return
	}
	filter.Limit = min(filter.Limit, MaxLimit)
	if filter.Offset, err = intParam(c, "offset", 0); err != nil || filter.Offset < 0 {
		c.JSON(http.StatusBadRequest, errorResponse("validation_error", "offset must be a non-negative integer"))
		return
	}

	articles, err := s.store.ListArticles(c.Request.Context(), filter)
	if err != nil {
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, ListArticlesResponse{
		Articles: articles,
		Total:    len(articles),
		Limit:    filter.Limit,
		Offset:   filter.Offset,
	})
}

// HandleGetArticle handles GET /api/v1/articles/{id}.
func (s *Server) HandleGetArticle(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}

	id, err := ident.Parse[article.Kind](c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("bad_request", "Invalid article ID"))
		return
	}

	a, err := s.store.GetArticle(c.Request.Context(), id)
	if err != nil {
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, a)
}

// HandleListSources handles GET /api/v1/sources.
func (s *Server) HandleListSources(c *gin.Context) {
	adapters := s.runner.Registry().Adapters()
	out := make([]SourceResponse, 0, len(adapters))
	for _, a := range adapters {
		out = append(out, SourceResponse{
			Name:   a.Name(),
			URL:    a.SourceURL().String(),
			Domain: a.Domain(),
			Kind:   a.Kind(),
		})
	}

	c.JSON(http.StatusOK, ListSourcesResponse{Sources: out, Total: len(out)})
}

// HandleLatestRun handles GET /api/v1/runs/latest.
func (s *Server) HandleLatestRun(c *gin.Context) {
	if s.store == nil {
		report := s.runner.Last()
		if report == nil {
			c.JSON(http.StatusNotFound, errorResponse("not_found", "No run has completed yet"))
			return
		}
		c.JSON(http.StatusOK, Summarize(report))
		return
	}

	run, err := s.store.LatestRun(c.Request.Context())
	if err != nil {
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, run)
}

// HandleStartRun handles POST /api/v1/runs.
func (s *Server) HandleStartRun(c *gin.Context) {
	if err := s.runner.Trigger(); err != nil {
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "started"})
}

// Summarize reduces a report to its stored form.
func Summarize(r *driver.Report) *store.Run {
	return &store.Run{
		ID:         r.RunID,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Sources:    len(r.Results),
		Articles:   len(r.Articles),
		Duplicates: r.Duplicates,
		Failures:   r.Failures,
	}
}

// parseSince accepts an RFC 3339 time or a duration back from now.
func parseSince(v string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(v); err == nil {
		return now.Add(-d), nil
	}
	return time.Parse(time.RFC3339, v)
}

func intParam(c *gin.Context, name string, def int) (int, error) {
	v := c.Query(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
