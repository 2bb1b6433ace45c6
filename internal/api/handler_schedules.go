package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"medsync-backend/internal/model"
)

type postScheduleRequest struct {
	UserID       int64       `json:"user_id" binding:"required"`
	MedicationID int64       `json:"medication_id" binding:"required"`
	Times        []time.Time `json:"times" binding:"required,min=1"`
}

// PostSchedule handles POST /api/schedules, creating one PENDING dose
// occurrence per scheduled time.
func (h *Handler) PostSchedule(c *gin.Context) {
	var req postScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	db := h.store.DB().WithContext(c.Request.Context())
	if err := db.First(&model.User{}, req.UserID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := db.First(&model.Medication{}, req.MedicationID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "medication not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	occurrences := make([]model.DoseOccurrence, 0, len(req.Times))
	for _, t := range req.Times {
		occurrences = append(occurrences, model.DoseOccurrence{
			UserID:       req.UserID,
			MedicationID: req.MedicationID,
			ScheduledAt:  t.UTC(),
		})
	}

	if err := h.store.CreateOccurrences(c.Request.Context(), occurrences); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, occurrences)
}
