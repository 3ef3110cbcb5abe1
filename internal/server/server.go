package server

import (
	"log/slog"
	"net/http"
	"slices"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/agenthands/entitynet/internal/core"
	"github.com/agenthands/entitynet/internal/core/extraction"
)

type Options struct {
	APIKey      string
	CORSOrigins []string
	ServiceName string
}

type Server struct {
	Engine *core.Engine
	// Extractor is nil when no LLM is configured.
	Extractor extraction.Extractor

	opts   Options
	logger *slog.Logger
}

func NewServer(engine *core.Engine, extractor extraction.Extractor, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "entitynet"
	}
	return &Server{
		Engine:    engine,
		Extractor: extractor,
		opts:      opts,
		logger:    logger.With("component", "http"),
	}
}

func (s *Server) SetupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(s.opts.ServiceName))
	r.Use(RequestLogger(s.logger))
	if c := s.corsMiddleware(); c != nil {
		r.Use(c)
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/")
	api.Use(APIKeyAuth(s.opts.APIKey))

	api.GET("/nodes/", s.ListNodes)
	api.GET("/nodes/:uid", s.GetNode)
	api.POST("/nodes/", s.CreateNodes)
	api.PUT("/nodes/", s.UpdateNode)
	api.DELETE("/nodes/", s.DeleteNode)
	api.GET("/relationships/", s.ListRelationships)
	api.GET("/communities/", s.ListCommunities)

	api.POST("/extraction/", s.Extract)
	api.POST("/entity-network/", s.BuildEntityNetwork)

	return r
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	if len(s.opts.CORSOrigins) == 0 {
		return nil
	}
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Requested-With"},
	}
	if slices.Contains(s.opts.CORSOrigins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = s.opts.CORSOrigins
	}
	return cors.New(cfg)
}
