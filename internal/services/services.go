package services

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/temcen/eventrec/internal/config"
)

// Dependencies are the adapters the services run on. Optional fields may be
// left nil: Neighbors falls back to Interactions, Items to Catalog when it
// accepts writes, and a nil Models, Graph, Publisher or Redis disables that
// integration.
type Dependencies struct {
	Interactions InteractionLog
	Neighbors    NeighborFinder
	Preferences  PreferenceStore
	Catalog      ItemCatalog
	Items        ItemWriter
	Experiments  ExperimentStore
	Models       ModelRegistry
	Graph        GraphWriter
	Publisher    EventPublisher
	Redis        *redis.Client
	Pool         *pgxpool.Pool
	HealthChecks []HealthCheck
}

type Services struct {
	Health             *HealthService
	Preferences        *PreferenceModel
	Collaborative      *CollaborativeEstimator
	Content            *ContentEstimator
	Experiments        *ExperimentController
	Items              *ItemService
	Recommendations    *RecommendationEngine
	InteractionTracker *InteractionTracker
	GraphSyncer        *GraphSyncer
	Cache              *RecommendationCache
}

func New(cfg *config.Config, logger *logrus.Logger, deps Dependencies) (*Services, error) {
	if deps.Interactions == nil || deps.Preferences == nil || deps.Catalog == nil || deps.Experiments == nil {
		return nil, fmt.Errorf("interaction log, preference, catalog and experiment stores are required")
	}

	strategy, err := NewSignificanceStrategy(cfg.Experiments.Significance)
	if err != nil {
		return nil, err
	}

	healthService := NewHealthService(logger, deps.Pool, deps.HealthChecks...)
	cache := NewRecommendationCache(deps.Redis, cfg.Recommendation.CacheTTL, logger)
	features := NewFeatureExtractor()

	preferenceModel := NewPreferenceModel(deps.Preferences, &cfg.Preferences, logger)
	collaborative := NewCollaborativeEstimator(deps.Interactions, deps.Neighbors, &cfg.Collaborative, logger)
	content := NewContentEstimator(deps.Catalog, features, &cfg.Content, logger)
	experiments := NewExperimentController(deps.Experiments, strategy, logger)

	itemWriter := deps.Items
	if itemWriter == nil {
		if w, ok := deps.Catalog.(ItemWriter); ok {
			itemWriter = w
		}
	}
	items := NewItemService(deps.Catalog, itemWriter, logger)

	engine := NewRecommendationEngine(
		collaborative, content, preferenceModel, deps.Catalog, deps.Models, experiments,
		cache, &cfg.Recommendation, logger,
	)
	engine.RecordImpressions(cfg.Experiments.RecordImpressions)

	// Interface fields stay nil unless the integration exists.
	var graphQueue interactionQueue
	var graphSyncer *GraphSyncer
	if deps.Graph != nil {
		graphSyncer = NewGraphSyncer(deps.Graph, cfg.Neo4j.SyncInterval, cfg.Neo4j.SyncBatchSize, logger)
		graphQueue = graphSyncer
	}

	tracker := NewInteractionTracker(deps.Interactions, preferenceModel, cache, graphQueue, deps.Publisher, logger)

	return &Services{
		Health:             healthService,
		Preferences:        preferenceModel,
		Collaborative:      collaborative,
		Content:            content,
		Experiments:        experiments,
		Items:              items,
		Recommendations:    engine,
		InteractionTracker: tracker,
		GraphSyncer:        graphSyncer,
		Cache:              cache,
	}, nil
}

// Start launches the background workers.
func (s *Services) Start(cfg *config.Config) {
	s.Preferences.StartDecayWorker(cfg.Preferences.DecaySchedule)
	if s.GraphSyncer != nil {
		s.GraphSyncer.Start()
	}
	if cfg.Monitoring.Enabled {
		s.Health.StartMetricsCollection(monitoringInterval)
	}
}

// Stop halts the workers, flushing pending graph writes.
func (s *Services) Stop() {
	s.Preferences.Stop()
	if s.GraphSyncer != nil {
		s.GraphSyncer.Stop()
	}
	s.Health.Stop()
}
