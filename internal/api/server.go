package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/ah-its-andy/mediaconv/internal/db"
	"github.com/ah-its-andy/mediaconv/internal/fingerprint"
	"github.com/ah-its-andy/mediaconv/internal/livelog"
	"github.com/ah-its-andy/mediaconv/internal/metrics"
	"github.com/ah-its-andy/mediaconv/internal/worker"
)

// Deps are the pieces the API reads from. Queue is only set in watch mode;
// without it the scan-now route is not registered. FreshCache makes every
// request re-read the fingerprint log, for when another process appends it.
type Deps struct {
	DB         *gorm.DB
	Cache      *fingerprint.Cache
	Live       *livelog.Manager
	Metrics    *metrics.Collector
	Queue      *worker.Queue
	Root       string
	ExportDir  string
	FreshCache bool
	Log        zerolog.Logger
}

// liveStaleAfter clears an in-flight item that stopped reporting progress.
const liveStaleAfter = 10 * time.Minute

type Server struct {
	Router *gin.Engine
	deps   Deps
}

func NewServer(d Deps) *Server {
	g := gin.New()
	g.Use(gin.Recovery(), requestLogger(d.Log))
	s := &Server{Router: g, deps: d}

	api := g.Group("/api")
	api.GET("/runs", s.listRuns)
	api.GET("/runs/:id", s.getRun)
	api.GET("/runs/:id/tasks", s.listTasks)
	api.GET("/stats", s.getStats)
	api.GET("/fingerprints", s.listFingerprints)
	api.POST("/export", s.export)
	api.GET("/live", s.live)
	if d.Queue != nil {
		api.POST("/scan-now", s.scanNow)
	}
	if d.Metrics != nil {
		g.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}
	return s
}

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("http request")
	}
}

func (s *Server) listRuns(c *gin.Context) {
	limit := parseIntDefault(c.Query("limit"), 50)
	offset := parseIntDefault(c.Query("offset"), 0)
	rows, total, err := db.ListRuns(s.deps.DB, limit, offset)
	if err != nil {
		s.internal(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows, "total": total})
}

func (s *Server) getRun(c *gin.Context) {
	run, err := db.GetRun(s.deps.DB, c.Param("id"))
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	if err != nil {
		s.internal(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) listTasks(c *gin.Context) {
	limit := parseIntDefault(c.Query("limit"), 100)
	rows, err := db.ListTasks(s.deps.DB, c.Param("id"), db.Status(c.Query("status")), limit)
	if err != nil {
		s.internal(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

// fingerprints returns a loaded cache.
func (s *Server) fingerprints() (*fingerprint.Cache, error) {
	cache := s.deps.Cache
	if s.deps.FreshCache {
		cache = fingerprint.NewCache(cache.Dir())
	}
	if err := cache.Load(); err != nil {
		return nil, err
	}
	return cache, nil
}

func (s *Server) getStats(c *gin.Context) {
	stats, err := db.GetStats(s.deps.DB)
	if err != nil {
		s.internal(c, err)
		return
	}
	cache, err := s.fingerprints()
	if err != nil {
		s.internal(c, err)
		return
	}
	out := gin.H{
		"runs":            stats.Runs,
		"converted":       stats.Converted,
		"failed":          stats.Failed,
		"bytes_reclaimed": stats.BytesReclaimed,
		"fingerprints":    cache.Len(),
		"state":           s.deps.Live.Snapshot().State,
	}
	if s.deps.Queue != nil {
		out["queue_len"] = s.deps.Queue.Len()
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) listFingerprints(c *gin.Context) {
	cache, err := s.fingerprints()
	if err != nil {
		s.internal(c, err)
		return
	}
	fps := cache.Export()
	c.JSON(http.StatusOK, gin.H{"data": fps, "total": len(fps)})
}

func (s *Server) export(c *gin.Context) {
	cache, err := s.fingerprints()
	if err != nil {
		s.internal(c, err)
		return
	}
	path, err := cache.ExportTo(s.deps.ExportDir)
	if err != nil {
		s.internal(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path, "total": cache.Len()})
}

func (s *Server) live(c *gin.Context) {
	s.deps.Live.CleanStale(liveStaleAfter)
	c.JSON(http.StatusOK, s.deps.Live.Snapshot())
}

func (s *Server) scanNow(c *gin.Context) {
	queued := s.deps.Queue.Enqueue(s.deps.Root)
	c.JSON(http.StatusAccepted, gin.H{"queued": queued})
}

func (s *Server) internal(c *gin.Context, err error) {
	s.deps.Log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("api request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if v, err := strconv.Atoi(s); err == nil && v >= 0 {
		return v
	}
	return def
}
