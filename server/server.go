// Package server exposes the indexing and query operations over HTTP.
package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sedump/sedump/archive"
	"github.com/sedump/sedump/config"
	"github.com/sedump/sedump/registry"
)

const defaultPageLimit = 100

type Server struct {
	cfg    *config.Settings
	reg    *registry.Registry
	logger *zap.Logger
}

// New wires the router.
func New(cfg *config.Settings, reg *registry.Registry, logger *zap.Logger) *Server {
	return &Server{cfg: cfg, reg: reg, logger: logger}
}

func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	idx := r.Group("/indexing")
	idx.GET("/list", s.handleList)
	idx.PUT("/process", s.handleProcess)
	idx.PUT("/process/all", s.handleProcessAll)

	ar := r.Group("/archive")
	ar.GET("/tags", s.handleTags)
	ar.GET("/get/post", s.handleGetPost)
	ar.GET("/get/posts", s.handleGetPosts)
	ar.GET("/load", s.handleLoad)
	ar.GET("/load_all", s.handleLoadAll)

	r.GET("/config/", s.handleConfig)
	return r
}

// Run serves until the listener fails.
func (s *Server) Run() error {
	return s.Router().Run(s.cfg.Addr())
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		begin := time.Now()
		c.Next()
		s.logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(begin)))
	}
}

func (s *Server) handleList(c *gin.Context) {
	names, err := s.reg.List()
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, names)
}

func (s *Server) handleProcess(c *gin.Context) {
	d, ok := s.dump(c)
	if !ok {
		return
	}
	s.logger.Info("start index", zap.String("archive", d.Name))
	if err := d.Indexer.Run(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	s.logger.Info("end index", zap.String("archive", d.Name))
	c.JSON(http.StatusOK, true)
}

func (s *Server) handleProcessAll(c *gin.Context) {
	names, err := s.reg.List()
	if err != nil {
		s.fail(c, err)
		return
	}

	ctx := c.Request.Context()
	dumps := make([]*registry.Dump, 0, len(names))
	for _, name := range names {
		d, err := s.reg.Get(ctx, name)
		if err != nil {
			s.fail(c, err)
			return
		}
		dumps = append(dumps, d)
	}

	// Tag passes across all archives first: post passes resolve tag ids.
	g, gctx := errgroup.WithContext(ctx)
	for _, d := range dumps {
		d := d
		g.Go(func() error { return d.Indexer.IndexTags(gctx) })
	}
	if err := g.Wait(); err != nil {
		s.fail(c, err)
		return
	}

	g, gctx = errgroup.WithContext(ctx)
	for _, d := range dumps {
		d := d
		g.Go(func() error { return d.Indexer.IndexPosts(gctx) })
	}
	if err := g.Wait(); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, true)
}

func (s *Server) handleTags(c *gin.Context) {
	offset, limit, ok := s.page(c)
	if !ok {
		return
	}
	d, ok := s.dump(c)
	if !ok {
		return
	}
	tags, err := d.Engine.TagsList(c.Request.Context(), offset, limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tags)
}

func (s *Server) handleGetPost(c *gin.Context) {
	postID, err := strconv.ParseInt(c.Query("post_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "post_id must be an integer"})
		return
	}
	d, ok := s.dump(c)
	if !ok {
		return
	}
	doc, err := d.Engine.GetPost(c.Request.Context(), postID)
	if err != nil {
		s.fail(c, err)
		return
	}
	if doc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (s *Server) handleGetPosts(c *gin.Context) {
	offset, limit, ok := s.page(c)
	if !ok {
		return
	}
	d, ok := s.dump(c)
	if !ok {
		return
	}
	docs, err := d.Engine.QueryPosts(c.Request.Context(), offset, limit, c.QueryArray("tags"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, docs)
}

func (s *Server) handleLoad(c *gin.Context) {
	d, ok := s.dump(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": d.Name, "size": d.Posts.Size()})
}

func (s *Server) handleLoadAll(c *gin.Context) {
	names, err := s.reg.List()
	if err != nil {
		s.fail(c, err)
		return
	}
	loaded := make(map[string]int64, len(names))
	for _, name := range names {
		d, err := s.reg.Get(c.Request.Context(), name)
		if err != nil {
			s.fail(c, err)
			return
		}
		loaded[d.Name] = d.Posts.Size()
	}
	c.JSON(http.StatusOK, loaded)
}

func (s *Server) handleConfig(c *gin.Context) {
	c.JSON(http.StatusOK, s.cfg)
}

func (s *Server) dump(c *gin.Context) (*registry.Dump, bool) {
	name := c.Query("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return nil, false
	}
	d, err := s.reg.Get(c.Request.Context(), name)
	if err != nil {
		s.fail(c, err)
		return nil, false
	}
	return d, true
}

func (s *Server) page(c *gin.Context) (offset, limit int, ok bool) {
	var err error
	if raw := c.Query("offset"); raw != "" {
		if offset, err = strconv.Atoi(raw); err != nil || offset < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be a non-negative integer"})
			return 0, 0, false
		}
	}
	limit = defaultPageLimit
	if raw := c.Query("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return 0, 0, false
		}
	}
	return offset, limit, true
}

func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, registry.ErrUnknownArchive):
		status = http.StatusNotFound
	case errors.Is(err, archive.ErrNotAnArchive), errors.Is(err, archive.ErrMissingMember):
		status = http.StatusBadRequest
	}
	s.logger.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	c.JSON(status, gin.H{"error": err.Error()})
}
