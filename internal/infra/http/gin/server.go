package ginserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	gin "github.com/gin-gonic/gin"

	"neighborhub/internal/infra/config"
	"neighborhub/internal/infra/obs"
)

type ChatHTTP interface {
	Start(c *gin.Context)
	List(c *gin.Context)
	Messages(c *gin.Context)
	Send(c *gin.Context)
	MarkRead(c *gin.Context)
	Upload(c *gin.Context)
	AdminAll(c *gin.Context)
}

type ViewHTTP interface {
	Track(c *gin.Context)
}

type Handlers struct {
	Chat           ChatHTTP
	Views          ViewHTTP
	Auth           AuthHTTP
	AuthMiddleware gin.HandlerFunc
	// UploadDir is served statically under UploadPrefix when set.
	UploadDir    string
	UploadPrefix string
}

func NewServer(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *http.Server {
	mode := configureGinMode(cfg.Env)
	if obsMW.Logger != nil {
		obsMW.Logger.Info("gin initialized", "mode", mode)
	}
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           NewRouter(obsMW, health, h),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// NewRouter builds the gin engine without touching the global gin mode.
func NewRouter(obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(obsMW.RequestID())
	router.Use(obsMW.LoggerMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", "Idempotency-Key"},
		ExposeHeaders: []string{
			"Content-Length",
			"Content-Type",
			"X-Request-ID",
		},
		MaxAge: 12 * time.Hour,
	}))
	if h.AuthMiddleware != nil {
		router.Use(h.AuthMiddleware)
	}

	registerSwaggerRoutes(router)

	router.GET("/livez", health.Livez)
	router.GET("/readyz", health.Readyz)

	if h.UploadDir != "" {
		prefix := h.UploadPrefix
		if prefix == "" {
			prefix = "/uploads"
		}
		router.Static(prefix, h.UploadDir)
	}

	api := router.Group("/api/v1")
	if h.Auth != nil {
		api.POST("/auth/register", h.Auth.Register)
		api.POST("/auth/login", h.Auth.Login)
		api.POST("/auth/logout", h.Auth.Logout)
		api.GET("/auth/me", h.Auth.Me)
	}
	if h.Chat != nil {
		chatGroup := api.Group("/chat")
		chatGroup.POST("/start", h.Chat.Start)
		chatGroup.GET("", h.Chat.List)
		chatGroup.GET("/admin/all", h.Chat.AdminAll)
		chatGroup.GET("/:conversationId/messages", h.Chat.Messages)
		chatGroup.POST("/:conversationId/message", h.Chat.Send)
		chatGroup.PATCH("/:conversationId/read", h.Chat.MarkRead)
		chatGroup.POST("/:conversationId/upload", h.Chat.Upload)
	}
	if h.Views != nil {
		api.POST("/views", h.Views.Track)
	}

	return router
}

func configureGinMode(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "debug":
		gin.SetMode(gin.DebugMode)
		return gin.DebugMode
	case "test", "testing":
		gin.SetMode(gin.TestMode)
		return gin.TestMode
	default:
		gin.SetMode(gin.ReleaseMode)
		return gin.ReleaseMode
	}
}
