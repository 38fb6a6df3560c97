package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/eventrec/internal/config"
	"github.com/temcen/eventrec/pkg/models"
)

func newMemoryApp(t *testing.T) *App {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.Storage.Driver = "memory"
	cfg.Monitoring.Enabled = false

	logger, _ := test.NewNullLogger()
	logger.SetLevel(logrus.ErrorLevel)

	application, err := NewWithLogger(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, application.Shutdown(ctx))
	})
	return application
}

func serve(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&payload).Encode(body))
	}
	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestApp_Health(t *testing.T) {
	application := newMemoryApp(t)

	w := serve(t, application.Router(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])

	w = serve(t, application.Router(), http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestApp_InteractionThenRecommendation(t *testing.T) {
	application := newMemoryApp(t)
	application.Start()
	router := application.Router()

	userA, userB := uuid.New(), uuid.New()
	shared1, shared2, unseen := uuid.New(), uuid.New(), uuid.New()

	for _, in := range []struct {
		user uuid.UUID
		item uuid.UUID
		kind string
	}{
		{userA, shared1, "purchase"},
		{userA, shared2, "click"},
		{userB, shared1, "purchase"},
		{userB, shared2, "click"},
		{userB, unseen, "share"},
	} {
		w := serve(t, router, http.MethodPost, "/api/v1/interactions", map[string]interface{}{
			"user_id": in.user,
			"item_id": in.item,
			"type":    in.kind,
			"context": map[string]string{"category": "music"},
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	w := serve(t, router, http.MethodGet, "/api/v1/recommendations/"+userA.String()+"?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result models.RecommendationResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, userA, result.UserID)

	found := false
	for _, item := range result.Items {
		if item.ItemID == unseen {
			found = true
			assert.True(t, item.Reasons.Contains(models.ReasonSimilarUsers))
		}
	}
	assert.True(t, found, "unseen item should be recommended, got %+v", result.Items)

	w = serve(t, router, http.MethodGet, "/api/v1/users/"+userA.String()+"/preferences", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestApp_SeededItemsServeColdStart(t *testing.T) {
	application := newMemoryApp(t)
	router := application.Router()

	w := serve(t, router, http.MethodPost, "/api/v1/items", map[string]interface{}{
		"title":    "Open air cinema",
		"category": "film",
		"price":    8,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created struct {
		Data models.Item `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.True(t, created.Data.Active)

	w = serve(t, router, http.MethodGet, "/api/v1/items/"+created.Data.ID.String(), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(t, router, http.MethodGet, "/api/v1/recommendations/"+uuid.NewString(), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var result models.RecommendationResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, models.AlgorithmFallback, result.Algorithm)
	require.Len(t, result.Items, 1)
	assert.Equal(t, created.Data.ID, result.Items[0].ItemID)
	assert.True(t, result.Items[0].Reasons.Contains(models.ReasonTrending))
}

func TestApp_RejectsInvalidInput(t *testing.T) {
	application := newMemoryApp(t)
	router := application.Router()

	w := serve(t, router, http.MethodPost, "/api/v1/interactions", map[string]interface{}{
		"user_id": uuid.New(),
		"type":    "teleport",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(t, router, http.MethodGet, "/api/v1/recommendations/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(t, router, http.MethodGet, fmt.Sprintf("/api/v1/experiments/%s", uuid.NewString()), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
