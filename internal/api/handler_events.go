package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"medsync-backend/internal/model"
)

// GetEvents handles GET /api/events, the feed downstream alerting and
// analytics consumers read from. Supports ?type=, ?since= (RFC3339) and
// ?limit= filters; newest first.
func GetEvents(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		query := db.WithContext(c.Request.Context()).Model(&model.AdherenceEvent{})

		if eventType := c.Query("type"); eventType != "" {
			query = query.Where("event_type = ?", eventType)
		}

		if sinceParam := c.Query("since"); sinceParam != "" {
			since, err := time.Parse(time.RFC3339, sinceParam)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid 'since' timestamp format. Use RFC3339."})
				return
			}
			query = query.Where("created_at >= ?", since)
		}

		limit := 100
		if limitParam := c.Query("limit"); limitParam != "" {
			parsed, err := strconv.Atoi(limitParam)
			if err != nil || parsed <= 0 || parsed > 1000 {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid 'limit' parameter"})
				return
			}
			limit = parsed
		}

		var events []model.AdherenceEvent
		if err := query.Order("created_at DESC").Limit(limit).Find(&events).Error; err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve events"})
			return
		}
		c.JSON(http.StatusOK, events)
	}
}
