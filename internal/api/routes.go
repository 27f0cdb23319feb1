// Package api exposes the monitor over HTTP for the browser UI.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lot_monitor/internal/fetcher"
	"lot_monitor/internal/ingest"
	"lot_monitor/internal/metrics"
	"lot_monitor/internal/model"
	"lot_monitor/internal/query"
)

// Coordinator is the write side the handlers drive.
type Coordinator interface {
	Ingest(ctx context.Context, lots []model.Lot, opts ingest.Options) (ingest.Result, error)
	UpdateState(ctx context.Context, lotID string, state model.ItemState) (*model.UserState, error)
	UpdateNotes(ctx context.Context, lotID, notes string, tags []string) error
	NewCount(ctx context.Context) (int, error)
	Filters(ctx context.Context) (model.FilterSet, error)
	UpdateFilters(ctx context.Context, f model.FilterSet) error
	Preferences(ctx context.Context) (model.Preferences, error)
	UpdatePreferences(ctx context.Context, p model.Preferences) error
	Metadata(ctx context.Context) (model.Metadata, error)
	ClearData(ctx context.Context) error
	Cleanup(ctx context.Context) (int, error)
	StartSearch(ctx context.Context, query string) (*ingest.Search, error)
	ActiveSearch(id string) (*ingest.Search, bool)
}

// ItemLister reads the item views.
type ItemLister interface {
	Items(ctx context.Context, view query.View) ([]model.Item, error)
}

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	coord  Coordinator
	items  ItemLister
	cities fetcher.CityResolver
	log    *slog.Logger
	now    func() time.Time
}

// NewServer creates a Server. cities resolves auction house cities for raw
// search payloads and may be nil.
func NewServer(coord Coordinator, items ItemLister, cities fetcher.CityResolver, log *slog.Logger) *Server {
	return &Server{
		coord:  coord,
		items:  items,
		cities: cities,
		log:    log,
		now:    time.Now,
	}
}

// Router builds the gin engine. An empty origins list allows any origin.
func (s *Server) Router(origins []string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.observe())

	config := cors.DefaultConfig()
	if len(origins) > 0 {
		config.AllowOrigins = origins
	} else {
		config.AllowAllOrigins = true
	}
	config.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	config.AllowCredentials = false
	router.Use(cors.New(config))

	api := router.Group("/api")
	{
		lots := api.Group("/lots")
		{
			lots.POST("", s.ingestLots)
			lots.PUT("/:id/state", s.updateState)
			lots.PUT("/:id/notes", s.updateNotes)
		}

		api.GET("/items", s.listItems)
		api.GET("/count/new", s.newCount)
		api.GET("/stats", s.stats)

		api.GET("/filters", s.getFilters)
		api.PUT("/filters", s.putFilters)
		api.GET("/preferences", s.getPreferences)
		api.PUT("/preferences", s.putPreferences)

		api.POST("/clear", s.clear)
		api.POST("/cleanup", s.cleanup)

		search := api.Group("/search")
		{
			search.POST("", s.startSearch)
			search.POST("/:id/pages", s.addSearchPage)
			search.POST("/:id/finish", s.finishSearch)
		}
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"success": true, "status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.NoRoute(func(c *gin.Context) {
		fail(c, http.StatusNotFound, errors.New("not found"))
	})

	return router
}

// Run serves the API on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string, origins []string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(origins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("http api listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// observe records request metrics and logs each request.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)

		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(elapsed.Seconds())
		s.log.Debug("http request",
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"duration", elapsed,
		)
	}
}

func fail(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"success": false, "error": err.Error()})
}

// failWithResult reports err together with what was committed before it.
func failWithResult(c *gin.Context, status int, err error, r ingest.Result) {
	payload := resultPayload(r)
	payload["success"] = false
	payload["error"] = err.Error()
	c.JSON(status, payload)
}

func ok(c *gin.Context, payload gin.H) {
	if payload == nil {
		payload = gin.H{}
	}
	payload["success"] = true
	c.JSON(http.StatusOK, payload)
}
