package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"medsync-backend/internal/model"
)

// GetMedications handles GET /api/medications.
func GetMedications(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var medications []model.Medication
		if err := db.WithContext(c.Request.Context()).Order("name ASC").Find(&medications).Error; err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve medications"})
			return
		}
		c.JSON(http.StatusOK, medications)
	}
}
