package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/eventrec/internal/services"
)

// statusCodes maps an aggregate health status onto the response code;
// degraded still reports 200.
var statusCodes = map[string]int{
	services.StatusHealthy:   http.StatusOK,
	services.StatusDegraded:  http.StatusOK,
	services.StatusUnhealthy: http.StatusServiceUnavailable,
}

type HealthHandler struct {
	logger        *logrus.Logger
	healthService *services.HealthService
	started       time.Time
}

func NewHealthHandler(logger *logrus.Logger, healthService *services.HealthService) *HealthHandler {
	return &HealthHandler{
		logger:        logger,
		healthService: healthService,
		started:       time.Now(),
	}
}

// Check serves GET /health with every registered dependency check.
func (h *HealthHandler) Check(c *gin.Context) {
	status := h.healthService.CheckHealth(c.Request.Context())

	code, ok := statusCodes[status.Status]
	if !ok {
		code = http.StatusInternalServerError
	}
	if code != http.StatusOK {
		h.logger.WithField("critical", status.Critical).Warn("Health check failed")
	}
	c.JSON(code, status)
}

// Live serves GET /health/live. It never touches dependencies.
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "alive",
		"uptime": time.Since(h.started).String(),
	})
}
