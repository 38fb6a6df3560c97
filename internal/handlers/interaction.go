package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/temcen/eventrec/internal/services"
	"github.com/temcen/eventrec/internal/validation"
	"github.com/temcen/eventrec/pkg/models"
)

type InteractionHandler struct {
	logger    *logrus.Logger
	tracker   services.InteractionTrackerInterface
	schemas   *validation.SchemaValidator
	validator *validator.Validate
}

func NewInteractionHandler(logger *logrus.Logger, tracker services.InteractionTrackerInterface, schemas *validation.SchemaValidator) *InteractionHandler {
	return &InteractionHandler{
		logger:    logger,
		tracker:   tracker,
		schemas:   schemas,
		validator: validator.New(),
	}
}

// decodeInteraction validates raw against the interaction schema and the
// struct tags, then decodes it.
func (h *InteractionHandler) decodeInteraction(raw []byte) (*models.RecordInteractionRequest, *validation.ValidationResult, error) {
	if h.schemas != nil {
		if result := h.schemas.ValidateInteraction(raw); !result.Valid {
			return nil, result, nil
		}
	}

	var req models.RecordInteractionRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, nil, err
	}
	if err := h.validator.Struct(&req); err != nil {
		return nil, nil, err
	}
	return &req, nil, nil
}

// Record serves POST /interactions.
func (h *InteractionHandler) Record(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format")
		return
	}

	req, result, err := h.decodeInteraction(body)
	if result != nil {
		c.JSON(http.StatusBadRequest, result.ToAPIError())
		return
	}
	if err != nil {
		h.logger.WithError(err).Debug("Validation failed for interaction")
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "VALIDATION_FAILED",
				"message": "Request validation failed",
				"details": err.Error(),
			},
		})
		return
	}

	interaction, err := h.tracker.RecordInteraction(c.Request.Context(), req)
	if err != nil {
		respondServiceError(c, h.logger, err, "INTERACTION_FAILED", "Failed to record interaction")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"data":    interaction,
		"message": "Interaction recorded successfully",
	})
}

// RecordBatch serves POST /interactions/batch.
func (h *InteractionHandler) RecordBatch(c *gin.Context) {
	var envelope struct {
		Interactions []json.RawMessage `json:"interactions"`
	}
	if err := c.ShouldBindJSON(&envelope); err != nil {
		abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format")
		return
	}
	if len(envelope.Interactions) == 0 {
		abortWithError(c, http.StatusBadRequest, "EMPTY_BATCH_REQUEST", "Batch request cannot be empty")
		return
	}
	if len(envelope.Interactions) > 100 {
		abortWithError(c, http.StatusBadRequest, "BATCH_SIZE_EXCEEDED", "Batch size cannot exceed 100 interactions")
		return
	}

	batch := &models.InteractionBatchRequest{Interactions: make([]models.RecordInteractionRequest, 0, len(envelope.Interactions))}
	for i, raw := range envelope.Interactions {
		req, result, err := h.decodeInteraction(raw)
		if result != nil {
			c.JSON(http.StatusBadRequest, result.ToAPIError())
			return
		}
		if err != nil {
			abortWithError(c, http.StatusBadRequest, "VALIDATION_FAILED", fmt.Sprintf("interaction %d: %v", i, err))
			return
		}
		batch.Interactions = append(batch.Interactions, *req)
	}

	recorded, err := h.tracker.RecordBatch(c.Request.Context(), batch)
	if err != nil {
		respondServiceError(c, h.logger, err, "BATCH_INTERACTION_FAILED", "Failed to record interactions")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"data":     recorded,
		"recorded": len(recorded),
		"total":    len(batch.Interactions),
	})
}
