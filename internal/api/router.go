package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"medsync-backend/config"
	"medsync-backend/internal/mw"
	"medsync-backend/internal/store"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(cfg *config.ServerConfig, s store.Store) *gin.Engine {
	r := gin.Default()
	r.Use(mw.RequestID())

	db := s.DB()
	handler := NewHandler(s)

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst, cfg.RequestIPHeader)

	cacheTTL := time.Duration(cfg.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(cacheTTL, 2*cacheTTL)
	caching := mw.Cache(cacheStore, cacheTTL)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		// Mark-taken: the user-action entry point racing the evaluator.
		api.POST("/doses/:id/taken", handler.MarkDoseTaken)

		api.POST("/schedules", handler.PostSchedule)
		api.GET("/users/:user_id/doses", handler.GetUserDoses)

		// Read-only feeds for downstream consumers.
		api.GET("/events", caching, GetEvents(db))
		api.GET("/medications", caching, GetMedications(db))
	}

	return r
}
