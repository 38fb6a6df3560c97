package handlers

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/eventrec/internal/services"
	"github.com/temcen/eventrec/pkg/models"
)

type RecommendationHandler struct {
	engine services.RecommendationEngineInterface
	logger *logrus.Logger
}

func NewRecommendationHandler(engine services.RecommendationEngineInterface, logger *logrus.Logger) *RecommendationHandler {
	return &RecommendationHandler{
		engine: engine,
		logger: logger,
	}
}

// Get serves GET /recommendations/:userId.
func (h *RecommendationHandler) Get(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "INVALID_USER_ID", "Invalid user ID format")
		return
	}

	req := &models.RecommendationRequest{
		UserID:       userID,
		Context:      c.DefaultQuery("context", "home"),
		ExperimentID: c.Query("experiment"),
		Filters: models.Filters{
			Category:   c.Query("category"),
			Location:   c.Query("location"),
			Expression: c.Query("expression"),
		},
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			abortWithError(c, http.StatusBadRequest, "INVALID_LIMIT", "Limit must be a positive integer")
			return
		}
		req.Limit = limit
	}

	prices := []struct {
		param  string
		target **float64
	}{
		{"min_price", &req.Filters.MinPrice},
		{"max_price", &req.Filters.MaxPrice},
	}
	for _, p := range prices {
		raw := c.Query(p.param)
		if raw == "" {
			continue
		}
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
			abortWithError(c, http.StatusBadRequest, "INVALID_PRICE", "Invalid "+p.param)
			return
		}
		*p.target = &value
	}

	dates := []struct {
		param  string
		target **time.Time
	}{
		{"starts_after", &req.Filters.StartsAfter},
		{"starts_before", &req.Filters.StartsBefore},
	}
	for _, d := range dates {
		raw := c.Query(d.param)
		if raw == "" {
			continue
		}
		value, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			abortWithError(c, http.StatusBadRequest, "INVALID_DATE", d.param+" must be an RFC3339 timestamp")
			return
		}
		*d.target = &value
	}

	if excludeStr := c.Query("exclude"); excludeStr != "" {
		for _, itemStr := range strings.Split(excludeStr, ",") {
			itemID, err := uuid.Parse(strings.TrimSpace(itemStr))
			if err != nil {
				abortWithError(c, http.StatusBadRequest, "INVALID_EXCLUDE", "Invalid item ID in exclude list")
				return
			}
			req.ExcludeIDs = append(req.ExcludeIDs, itemID)
		}
	}

	result, err := h.engine.GetRecommendations(c.Request.Context(), req)
	if err != nil {
		respondServiceError(c, h.logger, err, "RECOMMENDATION_GENERATION_FAILED", "Failed to generate recommendations")
		return
	}

	c.JSON(http.StatusOK, result)
}
