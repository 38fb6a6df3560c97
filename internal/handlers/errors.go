package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/eventrec/internal/services"
)

func abortWithError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

// respondServiceError maps domain error kinds onto HTTP statuses. Anything
// that is not a domain error is logged and reported as internalCode.
func respondServiceError(c *gin.Context, logger *logrus.Logger, err error, internalCode, internalMessage string) {
	var de *services.Error
	if errors.As(err, &de) {
		switch de.Kind {
		case services.KindValidation:
			abortWithError(c, http.StatusBadRequest, "VALIDATION_FAILED", de.Message)
			return
		case services.KindNotFound:
			abortWithError(c, http.StatusNotFound, "NOT_FOUND", de.Message)
			return
		case services.KindConflict:
			abortWithError(c, http.StatusConflict, "CONFLICT", de.Message)
			return
		}
	}

	logger.WithError(err).WithField("path", c.FullPath()).Error(internalMessage)
	abortWithError(c, http.StatusInternalServerError, internalCode, internalMessage)
}
