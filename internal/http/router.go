package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/washboard/backend/internal/ai"
	"github.com/washboard/backend/internal/cache"
	"github.com/washboard/backend/internal/config"
	"github.com/washboard/backend/internal/db"
	"github.com/washboard/backend/internal/http/handlers"
	"github.com/washboard/backend/internal/http/middleware"
	"github.com/washboard/backend/internal/service"

	_ "github.com/washboard/backend/docs"
)

func Router(cfg config.Config, store *db.Store, analyzer ai.Analyzer, assistant ai.Assistant, redisCache *cache.Cache, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))

	// A GET against the webhook path must be a 405, not a 404.
	r.HandleMethodNotAllowed = true
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{
			"error": gin.H{
				"code":    "METHOD_NOT_ALLOWED",
				"message": "Method not allowed",
			},
		})
	})

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Admin-Key", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.CORSAllowed == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = []string{cfg.CORSAllowed}
	}
	r.Use(cors.New(corsCfg))

	h := &handlers.Handler{
		Store:         store,
		Pipeline:      &service.Pipeline{Store: store, Analyzer: analyzer, Logger: logger},
		Assistant:     assistant,
		Cache:         redisCache,
		Validator:     validator.New(),
		Logger:        logger,
		WebhookSecret: cfg.WebhookSecret,
	}

	r.GET("/healthz", h.Healthz)
	r.POST("/webhooks/rounded", h.Webhook)

	api := r.Group("/api")
	{
		api.GET("/calls", h.CallsList)
		api.GET("/calls/:id", h.CallDetails)
		api.GET("/laundries", h.LaundriesList)
		api.GET("/follow-ups", h.FollowUpsList)
		api.GET("/analytics/summary", h.AnalyticsSummary)
	}

	admin := api.Group("")
	admin.Use(middleware.AdminKey(cfg.AdminKey))
	{
		admin.POST("/assistant/chat", h.AssistantChat)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}
