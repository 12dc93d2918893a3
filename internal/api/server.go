package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/vclabel/spool/internal/api/middleware"
	"github.com/vclabel/spool/internal/config"
	"github.com/vclabel/spool/internal/store"
)

// NewServer builds the HTTP server for the job queue API. Job and
// printer routes require an authenticated session; auth bootstrap and
// health do not.
func NewServer(cfg config.ServerConfig, s *store.Store, p StatusQuerier) (*http.Server, error) {
	auth, err := middleware.NewAuth(s)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())
	router.MaxMultipartMemory = 8 << 20

	handlers := NewHandlers(s, p)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authGroup := router.Group("/api/auth")
	{
		authGroup.POST("/setup", auth.Setup)
		authGroup.POST("/login", auth.Login)
		authGroup.GET("/status", auth.Status)
	}

	apiGroup := router.Group("/api", auth.RequireAuth())
	{
		apiGroup.POST("/jobs", handlers.SubmitJob)
		apiGroup.GET("/jobs", handlers.ListJobs)
		apiGroup.GET("/jobs/:id", handlers.GetJob)
		apiGroup.POST("/jobs/:id/cancel", handlers.CancelJob)
		apiGroup.POST("/jobs/:id/retry", handlers.RetryJob)
		apiGroup.GET("/queue", handlers.QueueStats)
		apiGroup.DELETE("/queue", handlers.CancelAllHeld)
		apiGroup.GET("/printer/status", handlers.PrinterStatus)
	}

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}, nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	}
}
