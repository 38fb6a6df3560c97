package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/temcen/eventrec/internal/services"
	"github.com/temcen/eventrec/internal/validation"
	"github.com/temcen/eventrec/pkg/models"
)

func newExperimentRouter(t *testing.T, controller *MockExperimentController) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	schemas, err := validation.NewSchemaValidator()
	require.NoError(t, err)

	router := gin.New()
	NewExperimentHandler(testLogger(), controller, schemas).RegisterRoutes(router.Group("/api/v1"))
	return router
}

func serve(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) interface{} {
	t.Helper()
	var body map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body["error"]["code"]
}

const validExperiment = `{
	"name": "fusion weights",
	"variants": [
		{"name": "control", "traffic_percentage": 50},
		{"name": "content_heavy", "traffic_percentage": 50, "config": {"collaborative_weight": 0.3, "content_weight": 0.7}}
	],
	"target_metrics": ["click"]
}`

func TestExperimentHandler_Create(t *testing.T) {
	t.Run("valid experiment", func(t *testing.T) {
		controller := new(MockExperimentController)
		controller.On("CreateExperiment", mock.Anything, mock.MatchedBy(func(req *models.CreateExperimentRequest) bool {
			return req.Name == "fusion weights" && len(req.Variants) == 2 &&
				req.Variants[1].Config.ContentWeight != nil && *req.Variants[1].Config.ContentWeight == 0.7
		})).Return(&models.Experiment{ID: "exp-1", Status: models.ExperimentStatusDraft}, nil)

		w := serve(newExperimentRouter(t, controller), http.MethodPost, "/api/v1/experiments", validExperiment)
		assert.Equal(t, http.StatusCreated, w.Code)
		controller.AssertExpectations(t)
	})

	t.Run("unknown variant config key rejected by schema", func(t *testing.T) {
		controller := new(MockExperimentController)
		body := `{"name":"x","target_metrics":["click"],"variants":[
			{"name":"a","traffic_percentage":50,"config":{"temperature":1}},
			{"name":"b","traffic_percentage":50}]}`

		w := serve(newExperimentRouter(t, controller), http.MethodPost, "/api/v1/experiments", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "VALIDATION_ERROR", errorCode(t, w))
		controller.AssertNotCalled(t, "CreateExperiment", mock.Anything, mock.Anything)
	})

	t.Run("traffic split rejected by controller", func(t *testing.T) {
		controller := new(MockExperimentController)
		controller.On("CreateExperiment", mock.Anything, mock.Anything).
			Return(nil, &services.Error{Kind: services.KindValidation, Op: "create experiment", Message: "traffic percentages must sum to 100"})

		w := serve(newExperimentRouter(t, controller), http.MethodPost, "/api/v1/experiments", validExperiment)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "VALIDATION_FAILED", errorCode(t, w))
	})
}

func TestExperimentHandler_Lifecycle(t *testing.T) {
	tests := []struct {
		name           string
		method         string
		path           string
		body           string
		mockSetup      func(*MockExperimentController)
		expectedStatus int
		expectedCode   string
	}{
		{
			name:   "start",
			method: http.MethodPost,
			path:   "/api/v1/experiments/exp-1/start",
			mockSetup: func(m *MockExperimentController) {
				m.On("StartExperiment", mock.Anything, "exp-1").Return(&models.Experiment{ID: "exp-1", Status: models.ExperimentStatusRunning}, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:   "start completed experiment conflicts",
			method: http.MethodPost,
			path:   "/api/v1/experiments/exp-1/start",
			mockSetup: func(m *MockExperimentController) {
				m.On("StartExperiment", mock.Anything, "exp-1").
					Return(nil, &services.Error{Kind: services.KindConflict, Op: "start experiment", Message: "experiment is completed"})
			},
			expectedStatus: http.StatusConflict,
			expectedCode:   "CONFLICT",
		},
		{
			name:   "pause",
			method: http.MethodPost,
			path:   "/api/v1/experiments/exp-1/pause",
			mockSetup: func(m *MockExperimentController) {
				m.On("PauseExperiment", mock.Anything, "exp-1").Return(&models.Experiment{ID: "exp-1", Status: models.ExperimentStatusPaused}, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:   "resume",
			method: http.MethodPost,
			path:   "/api/v1/experiments/exp-1/resume",
			mockSetup: func(m *MockExperimentController) {
				m.On("ResumeExperiment", mock.Anything, "exp-1").Return(&models.Experiment{ID: "exp-1", Status: models.ExperimentStatusRunning}, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:   "cancel",
			method: http.MethodPost,
			path:   "/api/v1/experiments/exp-1/cancel",
			mockSetup: func(m *MockExperimentController) {
				m.On("CancelExperiment", mock.Anything, "exp-1").Return(&models.Experiment{ID: "exp-1", Status: models.ExperimentStatusCancelled}, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:   "stop returns analysis",
			method: http.MethodPost,
			path:   "/api/v1/experiments/exp-1/stop",
			mockSetup: func(m *MockExperimentController) {
				m.On("StopExperiment", mock.Anything, "exp-1").Return(&models.ExperimentResults{WinningVariant: "control"}, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:   "analyze",
			method: http.MethodPost,
			path:   "/api/v1/experiments/exp-1/analyze",
			mockSetup: func(m *MockExperimentController) {
				m.On("AnalyzeExperiment", mock.Anything, "exp-1").Return(&models.ExperimentResults{WinningVariant: "treatment"}, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:   "get missing",
			method: http.MethodGet,
			path:   "/api/v1/experiments/missing",
			mockSetup: func(m *MockExperimentController) {
				m.On("GetExperiment", mock.Anything, "missing").
					Return(nil, &services.Error{Kind: services.KindNotFound, Op: "get experiment", Message: "experiment missing not found"})
			},
			expectedStatus: http.StatusNotFound,
			expectedCode:   "NOT_FOUND",
		},
		{
			name:   "list by status",
			method: http.MethodGet,
			path:   "/api/v1/experiments?status=running",
			mockSetup: func(m *MockExperimentController) {
				m.On("ListExperiments", mock.Anything, models.ExperimentStatusRunning).Return([]models.Experiment{{ID: "exp-1"}}, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:   "assignment",
			method: http.MethodGet,
			path:   "/api/v1/experiments/exp-1/assignment/user-42",
			mockSetup: func(m *MockExperimentController) {
				m.On("AssignVariant", mock.Anything, "user-42", "exp-1").Return("treatment", nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:   "record metric",
			method: http.MethodPost,
			path:   "/api/v1/experiments/exp-1/metrics",
			body:   `{"variant":"control","metric_type":"click","value":1}`,
			mockSetup: func(m *MockExperimentController) {
				m.On("RecordExperimentMetric", mock.Anything, "exp-1", mock.MatchedBy(func(req *models.RecordMetricRequest) bool {
					return req.Variant == "control" && req.MetricType == "click" && req.Value == 1
				})).Return(&models.ExperimentMetric{ExperimentID: "exp-1", Variant: "control"}, nil)
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "record metric without value",
			method:         http.MethodPost,
			path:           "/api/v1/experiments/exp-1/metrics",
			body:           `{"variant":"control","metric_type":"click"}`,
			mockSetup:      func(m *MockExperimentController) {},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "VALIDATION_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			controller := new(MockExperimentController)
			tt.mockSetup(controller)

			w := serve(newExperimentRouter(t, controller), tt.method, tt.path, tt.body)
			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedCode != "" {
				assert.Equal(t, tt.expectedCode, errorCode(t, w))
			}
			controller.AssertExpectations(t)
		})
	}
}
