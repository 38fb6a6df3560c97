package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/temcen/eventrec/internal/services"
	"github.com/temcen/eventrec/internal/validation"
	"github.com/temcen/eventrec/pkg/models"
)

type ExperimentHandler struct {
	logger     *logrus.Logger
	controller services.ExperimentControllerInterface
	schemas    *validation.SchemaValidator
	validator  *validator.Validate
}

func NewExperimentHandler(logger *logrus.Logger, controller services.ExperimentControllerInterface, schemas *validation.SchemaValidator) *ExperimentHandler {
	return &ExperimentHandler{
		logger:     logger,
		controller: controller,
		schemas:    schemas,
		validator:  validator.New(),
	}
}

// RegisterRoutes registers the experiment routes on router.
func (h *ExperimentHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/experiments", h.Create)
	router.GET("/experiments", h.List)
	router.GET("/experiments/:experimentId", h.Get)
	router.POST("/experiments/:experimentId/start", h.transition(h.controller.StartExperiment, "Experiment started"))
	router.POST("/experiments/:experimentId/pause", h.transition(h.controller.PauseExperiment, "Experiment paused"))
	router.POST("/experiments/:experimentId/resume", h.transition(h.controller.ResumeExperiment, "Experiment resumed"))
	router.POST("/experiments/:experimentId/cancel", h.transition(h.controller.CancelExperiment, "Experiment cancelled"))
	router.POST("/experiments/:experimentId/stop", h.Stop)
	router.POST("/experiments/:experimentId/analyze", h.Analyze)
	router.GET("/experiments/:experimentId/assignment/:userId", h.Assign)
	router.POST("/experiments/:experimentId/metrics", h.RecordMetric)
}

// bindValidated checks body against schema, decodes it into dst and runs
// the struct validators. It writes the error response and returns false on
// failure.
func (h *ExperimentHandler) bindValidated(c *gin.Context, schema string, dst interface{}) bool {
	body, err := c.GetRawData()
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format")
		return false
	}
	if h.schemas != nil {
		if result := h.schemas.Validate(schema, body); !result.Valid {
			c.JSON(http.StatusBadRequest, result.ToAPIError())
			return false
		}
	}
	if err := json.Unmarshal(body, dst); err != nil {
		abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format")
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "VALIDATION_FAILED",
				"message": "Request validation failed",
				"details": err.Error(),
			},
		})
		return false
	}
	return true
}

// Create creates a draft experiment
func (h *ExperimentHandler) Create(c *gin.Context) {
	var req models.CreateExperimentRequest
	if !h.bindValidated(c, validation.SchemaExperiment, &req) {
		return
	}

	exp, err := h.controller.CreateExperiment(c.Request.Context(), &req)
	if err != nil {
		respondServiceError(c, h.logger, err, "EXPERIMENT_CREATE_FAILED", "Failed to create experiment")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"data":    exp,
		"message": "Experiment created successfully",
	})
}

func (h *ExperimentHandler) List(c *gin.Context) {
	exps, err := h.controller.ListExperiments(c.Request.Context(), models.ExperimentStatus(c.Query("status")))
	if err != nil {
		respondServiceError(c, h.logger, err, "EXPERIMENT_LIST_FAILED", "Failed to list experiments")
		return
	}
	if exps == nil {
		exps = []models.Experiment{}
	}
	c.JSON(http.StatusOK, gin.H{
		"data":  exps,
		"count": len(exps),
	})
}

func (h *ExperimentHandler) Get(c *gin.Context) {
	exp, err := h.controller.GetExperiment(c.Request.Context(), c.Param("experimentId"))
	if err != nil {
		respondServiceError(c, h.logger, err, "EXPERIMENT_FETCH_FAILED", "Failed to get experiment")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": exp})
}

func (h *ExperimentHandler) transition(
	op func(ctx context.Context, id string) (*models.Experiment, error),
	message string,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		exp, err := op(c.Request.Context(), c.Param("experimentId"))
		if err != nil {
			respondServiceError(c, h.logger, err, "EXPERIMENT_TRANSITION_FAILED", "Failed to change experiment status")
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"data":    exp,
			"message": message,
		})
	}
}

// Stop completes a running experiment and returns its final analysis.
func (h *ExperimentHandler) Stop(c *gin.Context) {
	results, err := h.controller.StopExperiment(c.Request.Context(), c.Param("experimentId"))
	if err != nil {
		respondServiceError(c, h.logger, err, "EXPERIMENT_STOP_FAILED", "Failed to stop experiment")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":    results,
		"message": "Experiment stopped",
	})
}

func (h *ExperimentHandler) Analyze(c *gin.Context) {
	results, err := h.controller.AnalyzeExperiment(c.Request.Context(), c.Param("experimentId"))
	if err != nil {
		respondServiceError(c, h.logger, err, "EXPERIMENT_ANALYSIS_FAILED", "Failed to analyze experiment")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": results})
}

// Assign returns the variant a user is served under
func (h *ExperimentHandler) Assign(c *gin.Context) {
	userID := c.Param("userId")
	experimentID := c.Param("experimentId")

	variant, err := h.controller.AssignVariant(c.Request.Context(), userID, experimentID)
	if err != nil {
		respondServiceError(c, h.logger, err, "ASSIGNMENT_FAILED", "Failed to assign user to experiment")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":       userID,
		"experiment_id": experimentID,
		"variant":       variant,
	})
}

// RecordMetric appends one observation for a variant
func (h *ExperimentHandler) RecordMetric(c *gin.Context) {
	var req models.RecordMetricRequest
	if !h.bindValidated(c, validation.SchemaMetric, &req) {
		return
	}

	metric, err := h.controller.RecordExperimentMetric(c.Request.Context(), c.Param("experimentId"), &req)
	if err != nil {
		respondServiceError(c, h.logger, err, "METRIC_RECORD_FAILED", "Failed to record experiment metric")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"data":    metric,
		"message": "Experiment metric recorded successfully",
	})
}
