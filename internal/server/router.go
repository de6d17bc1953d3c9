package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/wire"

	"github.com/melodia-ai/melodia/internal/config"
	"github.com/melodia-ai/melodia/internal/handler"
	"github.com/melodia-ai/melodia/internal/server/middleware"
)

// NewEngine builds the gin engine with the shared middleware chain.
func NewEngine(cfg *config.Config) *gin.Engine {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS(cfg.CORS))
	return r
}

// SetupRouter registers all routes on the engine.
func SetupRouter(r *gin.Engine, h *handler.Handlers, cfg *config.Config) *gin.Engine {
	r.GET("/health", h.Token.Health)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/account", h.Account.Profile)

		token := v1.Group("/token")
		{
			token.GET("/metrics", h.Token.Metrics)
			token.POST("/refresh", h.Token.ForceRefresh)
		}

		ops := v1.Group("/ops")
		{
			ops.GET("/log-level", h.Ops.GetLogLevel)
			ops.PUT("/log-level", h.Ops.SetLogLevel)
		}
	}
	return r
}

// NewHTTPServer wraps the configured engine in an http.Server.
func NewHTTPServer(cfg *config.Config, r *gin.Engine, h *handler.Handlers) *http.Server {
	SetupRouter(r, h, cfg)
	return &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           r,
		ReadHeaderTimeout: time.Duration(cfg.Server.ReadHeaderTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(cfg.Server.IdleTimeoutSeconds) * time.Second,
	}
}

// ProviderSet is the Wire provider set for the HTTP server layer.
var ProviderSet = wire.NewSet(
	NewEngine,
	NewHTTPServer,
)
