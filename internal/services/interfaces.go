package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/temcen/eventrec/pkg/models"
)

// NeighborFinder returns users who share at least minShared of itemIDs,
// ordered by shared count descending.
type NeighborFinder interface {
	CandidateNeighbors(ctx context.Context, userID uuid.UUID, itemIDs []uuid.UUID, minShared, limit int) ([]models.NeighborCandidate, error)
}

// InteractionLog is the append-only record of user interactions.
type InteractionLog interface {
	NeighborFinder
	Append(ctx context.Context, interaction *models.Interaction) error
	RecentByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.Interaction, error)
	// UserItemWeights returns, per user, the summed weight and count of
	// interactions on each item drawn from that user's most recent perUserLimit rows.
	UserItemWeights(ctx context.Context, userIDs []uuid.UUID, perUserLimit int) (map[uuid.UUID]map[uuid.UUID]models.ItemWeight, error)
	ItemStats(ctx context.Context, itemIDs []uuid.UUID) (map[uuid.UUID]models.ItemStats, error)
	PopularItems(ctx context.Context, since time.Time, limit int) ([]models.ItemStats, error)
}

// PreferenceStore persists learned preferences. Concurrent upserts of the
// same (user, type, value) are last-writer-wins unless the adapter serializes them.
type PreferenceStore interface {
	// GetPreference returns ErrNotFound when the user has no such preference.
	GetPreference(ctx context.Context, userID uuid.UUID, attributeType models.AttributeType, value string) (*models.Preference, error)
	UpsertPreference(ctx context.Context, pref *models.Preference) error
	ListPreferences(ctx context.Context, userID uuid.UUID, activeOnly bool) ([]models.Preference, error)
	// DecayPreferences applies policy as of now to every preference and
	// returns how many rows changed.
	DecayPreferences(ctx context.Context, policy models.DecayPolicy, now time.Time) (int, error)
}

type ItemCatalog interface {
	GetItems(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Item, error)
	QueryItems(ctx context.Context, filters models.Filters, limit int) ([]models.Item, error)
	RecentItems(ctx context.Context, limit int) ([]models.Item, error)
}

type ExperimentStore interface {
	CreateExperiment(ctx context.Context, exp *models.Experiment) error
	// GetExperiment returns ErrNotFound for an unknown id.
	GetExperiment(ctx context.Context, id string) (*models.Experiment, error)
	ListExperiments(ctx context.Context, status models.ExperimentStatus) ([]models.Experiment, error)
	UpdateExperiment(ctx context.Context, exp *models.Experiment) error
	AppendMetric(ctx context.Context, metric *models.ExperimentMetric) error
	ListMetrics(ctx context.Context, experimentID string) ([]models.ExperimentMetric, error)
}

// ModelInput is the feature row a learned model scores for one user/item pair.
type ModelInput struct {
	UserID   uuid.UUID
	ItemID   uuid.UUID
	Features []float64
}

type ModelHandle interface {
	Name() string
	Predict(ctx context.Context, input ModelInput) (float64, error)
}

// ModelRegistry resolves the model currently serving a model type. It
// returns a nil handle and nil error when no model is active.
type ModelRegistry interface {
	GetActiveModel(ctx context.Context, modelType string) (ModelHandle, error)
}

type EventPublisher interface {
	PublishInteraction(ctx context.Context, interaction *models.Interaction) error
}

// ItemWriter is implemented by catalogs that accept writes.
type ItemWriter interface {
	UpsertItem(ctx context.Context, item *models.Item) error
}

type GraphWriter interface {
	MergeInteractions(ctx context.Context, batch []models.Interaction) error
}

// RecommendationEngineInterface is what the HTTP layer depends on.
type RecommendationEngineInterface interface {
	GetRecommendations(ctx context.Context, req *models.RecommendationRequest) (*models.RecommendationResult, error)
}

type InteractionTrackerInterface interface {
	RecordInteraction(ctx context.Context, req *models.RecordInteractionRequest) (*models.Interaction, error)
	RecordBatch(ctx context.Context, req *models.InteractionBatchRequest) ([]models.Interaction, error)
}

type ItemServiceInterface interface {
	UpsertItem(ctx context.Context, req *models.UpsertItemRequest) (*models.Item, error)
	GetItem(ctx context.Context, id uuid.UUID) (*models.Item, error)
}

type PreferenceModelInterface interface {
	Profile(ctx context.Context, userID uuid.UUID) (*models.UserProfile, error)
}

type ExperimentControllerInterface interface {
	CreateExperiment(ctx context.Context, req *models.CreateExperimentRequest) (*models.Experiment, error)
	GetExperiment(ctx context.Context, id string) (*models.Experiment, error)
	ListExperiments(ctx context.Context, status models.ExperimentStatus) ([]models.Experiment, error)
	StartExperiment(ctx context.Context, id string) (*models.Experiment, error)
	PauseExperiment(ctx context.Context, id string) (*models.Experiment, error)
	ResumeExperiment(ctx context.Context, id string) (*models.Experiment, error)
	StopExperiment(ctx context.Context, id string) (*models.ExperimentResults, error)
	CancelExperiment(ctx context.Context, id string) (*models.Experiment, error)
	AssignVariant(ctx context.Context, userID, experimentID string) (string, error)
	RecordExperimentMetric(ctx context.Context, experimentID string, req *models.RecordMetricRequest) (*models.ExperimentMetric, error)
	AnalyzeExperiment(ctx context.Context, id string) (*models.ExperimentResults, error)
}
