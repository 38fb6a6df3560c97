package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/eventrec/internal/services"
)

type UserHandler struct {
	logger      *logrus.Logger
	preferences services.PreferenceModelInterface
}

func NewUserHandler(logger *logrus.Logger, preferences services.PreferenceModelInterface) *UserHandler {
	return &UserHandler{
		logger:      logger,
		preferences: preferences,
	}
}

// GetPreferences returns the learned, active preferences of a user.
func (h *UserHandler) GetPreferences(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "INVALID_USER_ID", "Invalid user ID format")
		return
	}

	profile, err := h.preferences.Profile(c.Request.Context(), userID)
	if err != nil {
		respondServiceError(c, h.logger, err, "PREFERENCES_FAILED", "Failed to load preferences")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  profile,
		"count": len(profile.Preferences),
	})
}
