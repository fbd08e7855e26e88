package api

import (
	"log/slog"

	"github.com/rahvis/VideoForge/internal/auth"
	"github.com/rahvis/VideoForge/internal/cache"
	"github.com/rahvis/VideoForge/internal/config"
	"github.com/rahvis/VideoForge/internal/events"
	"github.com/rahvis/VideoForge/internal/lock"
	"github.com/rahvis/VideoForge/internal/pipeline"
	"github.com/rahvis/VideoForge/internal/provider"
	"github.com/rahvis/VideoForge/internal/storage"
	"github.com/rahvis/VideoForge/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	auth       *auth.Service
	store      *store.Store
	orch       *pipeline.Orchestrator
	lock       *lock.Manager
	layout     *storage.Layout
	cache      *cache.SegmentCache
	storyboard provider.Storyboard
	hub        *events.Hub
	voices     *config.VoiceCatalog
	cfg        *config.Config
	log        *slog.Logger
}

func NewServer(
	authSvc *auth.Service,
	st *store.Store,
	orch *pipeline.Orchestrator,
	lockMgr *lock.Manager,
	layout *storage.Layout,
	segCache *cache.SegmentCache,
	storyboard provider.Storyboard,
	hub *events.Hub,
	voices *config.VoiceCatalog,
	cfg *config.Config,
	logger *slog.Logger,
) *Server {
	return &Server{
		auth:       authSvc,
		store:      st,
		orch:       orch,
		lock:       lockMgr,
		layout:     layout,
		cache:      segCache,
		storyboard: storyboard,
		hub:        hub,
		voices:     voices,
		cfg:        cfg,
		log:        logger,
	}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(TraceMiddleware())
	r.Use(RequestLogMiddleware(s.log))

	r.GET("/healthz", func(c *gin.Context) {
		writeData(c, 200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/auth/login", s.login)

	authed := r.Group("")
	authed.Use(AuthMiddleware(s.auth))
	{
		authed.GET("/me", s.me)
		authed.GET("/voices", s.listVoices)

		authed.POST("/videos/create", s.createVideo)
		authed.GET("/videos", s.listVideos)
		authed.GET("/videos/:id", s.getVideo)
		authed.GET("/videos/:id/status", s.getVideoStatus)
		authed.GET("/videos/:id/segments", s.getVideoSegments)
		authed.GET("/videos/:id/events", s.streamVideoEvents)
		authed.POST("/videos/:id/cancel", s.cancelVideo)
		authed.DELETE("/videos/:id", s.deleteVideo)

		authed.POST("/prompts/enhance", s.enhancePrompt)
		authed.POST("/prompts/decompose", s.decomposePrompt)

		authed.GET("/system/status", s.systemStatus)

		authed.GET("/files/:id/video", s.serveVideoFile)
		authed.GET("/files/:id/thumbnail", s.serveThumbnail)
		authed.GET("/files/:id/audio", s.serveAudio)
	}

	return r
}
