package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/ticketform/backend/internal/config"
	"github.com/ticketform/backend/internal/db"
	"github.com/ticketform/backend/internal/http/handlers"
	"github.com/ticketform/backend/internal/http/middleware"
	"github.com/ticketform/backend/internal/service"

	_ "github.com/ticketform/backend/docs"
)

func Router(cfg config.Config, store db.Store, intake *service.IntakeService, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.CORSAllowed == "" || cfg.CORSAllowed == "*" {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = []string{cfg.CORSAllowed}
	}
	r.Use(cors.New(corsCfg))

	h := &handlers.Handler{
		Intake:    intake,
		Store:     store,
		Validator: validator.New(),
		Logger:    logger,
	}

	r.GET("/healthz", h.Healthz)

	// The form posts to the bare paths; /api mirrors them for proxies.
	for _, g := range []*gin.RouterGroup{&r.RouterGroup, r.Group("/api")} {
		g.GET("/health", h.Health)
		g.POST("/drafts", h.StartDraft)
		g.GET("/drafts/:userId", h.GetDraft)
		g.POST("/tickets", h.CreateTicket)
		g.GET("/tickets", h.ListTickets)
		g.POST("/ai/followups", h.Followups)
		g.POST("/ai/finalize", h.Finalize)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}
