package handlers

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"

	"github.com/temcen/eventrec/pkg/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel) // Reduce noise in tests
	return logger
}

type MockRecommendationEngine struct {
	mock.Mock
}

func (m *MockRecommendationEngine) GetRecommendations(ctx context.Context, req *models.RecommendationRequest) (*models.RecommendationResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RecommendationResult), args.Error(1)
}

type MockInteractionTracker struct {
	mock.Mock
}

func (m *MockInteractionTracker) RecordInteraction(ctx context.Context, req *models.RecordInteractionRequest) (*models.Interaction, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Interaction), args.Error(1)
}

func (m *MockInteractionTracker) RecordBatch(ctx context.Context, req *models.InteractionBatchRequest) ([]models.Interaction, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Interaction), args.Error(1)
}

type MockPreferenceModel struct {
	mock.Mock
}

func (m *MockPreferenceModel) Profile(ctx context.Context, userID uuid.UUID) (*models.UserProfile, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UserProfile), args.Error(1)
}

type MockExperimentController struct {
	mock.Mock
}

func (m *MockExperimentController) experiment(args mock.Arguments) (*models.Experiment, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Experiment), args.Error(1)
}

func (m *MockExperimentController) results(args mock.Arguments) (*models.ExperimentResults, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ExperimentResults), args.Error(1)
}

func (m *MockExperimentController) CreateExperiment(ctx context.Context, req *models.CreateExperimentRequest) (*models.Experiment, error) {
	return m.experiment(m.Called(ctx, req))
}

func (m *MockExperimentController) GetExperiment(ctx context.Context, id string) (*models.Experiment, error) {
	return m.experiment(m.Called(ctx, id))
}

func (m *MockExperimentController) ListExperiments(ctx context.Context, status models.ExperimentStatus) ([]models.Experiment, error) {
	args := m.Called(ctx, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Experiment), args.Error(1)
}

func (m *MockExperimentController) StartExperiment(ctx context.Context, id string) (*models.Experiment, error) {
	return m.experiment(m.Called(ctx, id))
}

func (m *MockExperimentController) PauseExperiment(ctx context.Context, id string) (*models.Experiment, error) {
	return m.experiment(m.Called(ctx, id))
}

func (m *MockExperimentController) ResumeExperiment(ctx context.Context, id string) (*models.Experiment, error) {
	return m.experiment(m.Called(ctx, id))
}

func (m *MockExperimentController) StopExperiment(ctx context.Context, id string) (*models.ExperimentResults, error) {
	return m.results(m.Called(ctx, id))
}

func (m *MockExperimentController) CancelExperiment(ctx context.Context, id string) (*models.Experiment, error) {
	return m.experiment(m.Called(ctx, id))
}

func (m *MockExperimentController) AssignVariant(ctx context.Context, userID, experimentID string) (string, error) {
	args := m.Called(ctx, userID, experimentID)
	return args.String(0), args.Error(1)
}

func (m *MockExperimentController) RecordExperimentMetric(ctx context.Context, experimentID string, req *models.RecordMetricRequest) (*models.ExperimentMetric, error) {
	args := m.Called(ctx, experimentID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ExperimentMetric), args.Error(1)
}

func (m *MockExperimentController) AnalyzeExperiment(ctx context.Context, id string) (*models.ExperimentResults, error) {
	return m.results(m.Called(ctx, id))
}

type MockItemService struct {
	mock.Mock
}

func (m *MockItemService) UpsertItem(ctx context.Context, req *models.UpsertItemRequest) (*models.Item, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Item), args.Error(1)
}

func (m *MockItemService) GetItem(ctx context.Context, id uuid.UUID) (*models.Item, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Item), args.Error(1)
}
