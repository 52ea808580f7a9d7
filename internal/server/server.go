package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	apikeydomain "github.com/smallbiznis/emissor/internal/apikey/domain"
	"github.com/smallbiznis/emissor/internal/config"
	documentdomain "github.com/smallbiznis/emissor/internal/document/domain"
	emissiondomain "github.com/smallbiznis/emissor/internal/emission/domain"
	eventdomain "github.com/smallbiznis/emissor/internal/fiscalevent/domain"
	"github.com/smallbiznis/emissor/internal/observability"
	obslogger "github.com/smallbiznis/emissor/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/emissor/internal/observability/metrics"
	"github.com/smallbiznis/emissor/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine *gin.Engine
	cfg    config.Config
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node

	apiKeySvc   apikeydomain.Service
	emissionSvc emissiondomain.Service
	docRepo     documentdomain.Repository
	recorder    eventdomain.Recorder
	limiter     *ratelimit.EmissionLimiter
	obsMetrics  *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	APIKeySvc   apikeydomain.Service
	EmissionSvc emissiondomain.Service
	DocRepo     documentdomain.Repository
	Recorder    eventdomain.Recorder
	Limiter     *ratelimit.EmissionLimiter `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics        `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		db:          p.DB,
		log:         p.Log.Named("server"),
		genID:       p.GenID,
		apiKeySvc:   p.APIKeySvc,
		emissionSvc: p.EmissionSvc,
		docRepo:     p.DocRepo,
		recorder:    p.Recorder,
		limiter:     p.Limiter,
		obsMetrics:  p.ObsMetrics,
	}

	s.registerAPIRoutes()
	s.registerAdminRoutes()

	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1")
	api.Use(s.APIKeyRequired())

	emit := api.Group("")
	emit.Use(s.RequireScope(apikeydomain.ScopeEmissionWrite))
	emit.Use(s.EmissionRateLimit())
	emit.POST("/nfe/:id/emit", s.EmitGoods)
	emit.POST("/nfse/:id/emit", s.EmitService)

	read := api.Group("")
	read.Use(s.RequireScope(apikeydomain.ScopeDocumentsRead))
	read.GET("/documents", s.ListDocuments)
	read.GET("/documents/:id", s.GetDocument)
	read.GET("/documents/:id/events", s.ListDocumentEvents)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")
	admin.Use(s.AdminRequired())
	admin.GET("/api_keys", s.ListAPIKeys)
	admin.POST("/api_keys", s.CreateAPIKey)
	admin.POST("/api_keys/:key_id/rotate", s.RotateAPIKey)
	admin.DELETE("/api_keys/:key_id", s.RevokeAPIKey)
}
