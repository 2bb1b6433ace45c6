package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"medsync-backend/internal/model"
	"medsync-backend/internal/store"
)

// MarkDoseTaken handles POST /api/doses/:id/taken. It races fairly against
// the evaluator: whichever side wins the store's conditional transition
// resolves the occurrence, and the loser gets AlreadyResolved.
func (h *Handler) MarkDoseTaken(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid dose ID"})
		return
	}

	err = h.store.MarkTaken(c.Request.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "dose occurrence not found"})
	case errors.Is(err, store.ErrAlreadyResolved):
		c.JSON(http.StatusConflict, gin.H{"error": "dose occurrence already resolved"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"status": string(model.StatusTaken)})
	}
}

// GetUserDoses handles GET /api/users/:user_id/doses with an optional
// ?status= filter.
func (h *Handler) GetUserDoses(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return
	}

	query := h.store.DB().WithContext(c.Request.Context()).Where("user_id = ?", userID)
	if status := c.Query("status"); status != "" {
		switch model.DoseStatus(status) {
		case model.StatusPending, model.StatusTaken, model.StatusMissed:
			query = query.Where("status = ?", status)
		default:
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid status filter"})
			return
		}
	}

	var doses []model.DoseOccurrence
	if err := query.Order("scheduled_at ASC").Find(&doses).Error; err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve doses"})
		return
	}
	c.JSON(http.StatusOK, doses)
}
