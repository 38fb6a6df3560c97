package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/eventrec/internal/services"
	"github.com/temcen/eventrec/internal/validation"
	"github.com/temcen/eventrec/pkg/models"
)

// ItemHandler exposes the catalog write path used to seed and update events.
type ItemHandler struct {
	logger    *logrus.Logger
	items     services.ItemServiceInterface
	schemas   *validation.SchemaValidator
	validator *validator.Validate
}

func NewItemHandler(logger *logrus.Logger, items services.ItemServiceInterface, schemas *validation.SchemaValidator) *ItemHandler {
	return &ItemHandler{
		logger:    logger,
		items:     items,
		schemas:   schemas,
		validator: validator.New(),
	}
}

// Upsert serves POST /items.
func (h *ItemHandler) Upsert(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format")
		return
	}

	if h.schemas != nil {
		if result := h.schemas.ValidateItem(body); !result.Valid {
			c.JSON(http.StatusBadRequest, result.ToAPIError())
			return
		}
	}

	var req models.UpsertItemRequest
	if err := json.Unmarshal(body, &req); err != nil {
		abortWithError(c, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON format")
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		h.logger.WithError(err).Debug("Item validation failed")
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "VALIDATION_FAILED",
				"message": "Item validation failed",
				"details": err.Error(),
			},
		})
		return
	}

	item, err := h.items.UpsertItem(c.Request.Context(), &req)
	if err != nil {
		respondServiceError(c, h.logger, err, "ITEM_STORE_FAILED", "Failed to store item")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"data":    item,
		"message": "Item stored successfully",
	})
}

// Get serves GET /items/:itemId.
func (h *ItemHandler) Get(c *gin.Context) {
	itemID, err := uuid.Parse(c.Param("itemId"))
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "INVALID_ITEM_ID", "Item ID must be a valid UUID")
		return
	}

	item, err := h.items.GetItem(c.Request.Context(), itemID)
	if err != nil {
		respondServiceError(c, h.logger, err, "ITEM_LOOKUP_FAILED", "Failed to load item")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": item})
}
