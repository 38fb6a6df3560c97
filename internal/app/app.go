package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/temcen/eventrec/internal/config"
	"github.com/temcen/eventrec/internal/database"
	"github.com/temcen/eventrec/internal/handlers"
	"github.com/temcen/eventrec/internal/messaging"
	"github.com/temcen/eventrec/internal/middleware"
	"github.com/temcen/eventrec/internal/ml"
	"github.com/temcen/eventrec/internal/repository"
	"github.com/temcen/eventrec/internal/services"
	"github.com/temcen/eventrec/internal/validation"
)

type App struct {
	config   *config.Config
	logger   *logrus.Logger
	db       *database.Database
	models   *ml.ModelRegistry
	bus      *messaging.EventBus
	services *services.Services
	handlers *handlers.Handlers
	router   *gin.Engine

	cancelConsumer context.CancelFunc
	consumerWG     sync.WaitGroup
}

func New(cfg *config.Config) (*App, error) {
	return NewWithLogger(cfg, setupLogger(cfg))
}

// NewWithLogger builds the application with a caller-supplied logger.
func NewWithLogger(cfg *config.Config, logger *logrus.Logger) (*App, error) {
	app := &App{
		config: cfg,
		logger: logger,
	}

	db, err := database.New(cfg, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	deps, err := app.buildDependencies(context.Background())
	if err != nil {
		db.Close()
		return nil, err
	}

	svcs, err := services.New(cfg, app.logger, deps)
	if err != nil {
		app.closeConnections()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	app.services = svcs

	schemas, err := validation.NewSchemaValidator()
	if err != nil {
		app.closeConnections()
		return nil, fmt.Errorf("failed to load validation schemas: %w", err)
	}
	app.handlers = handlers.New(app.logger, svcs, schemas)

	app.setupRouter()

	return app, nil
}

// buildDependencies selects the storage adapters and optional integrations.
// Optional interface fields are assigned only from non-nil values.
func (a *App) buildDependencies(ctx context.Context) (services.Dependencies, error) {
	var deps services.Dependencies

	if a.db.PG != nil {
		if err := repository.Migrate(ctx, a.db.PG); err != nil {
			return deps, fmt.Errorf("failed to migrate database: %w", err)
		}
		deps.Interactions = repository.NewPostgresInteractionLog(a.db.PG)
		deps.Preferences = repository.NewPostgresPreferenceStore(a.db.PG)
		deps.Catalog = repository.NewPostgresItemCatalog(a.db.PG)
		deps.Experiments = repository.NewPostgresExperimentStore(a.db.PG)
		deps.Pool = a.db.PG
		deps.HealthChecks = append(deps.HealthChecks, services.HealthCheck{
			Name:     "postgres",
			Critical: true,
			Check:    a.db.PG.Ping,
		})
	} else {
		store := repository.NewMemoryStore()
		deps.Interactions = store
		deps.Preferences = store
		deps.Catalog = store
		deps.Experiments = store
	}

	if a.db.Redis != nil {
		deps.Redis = a.db.Redis
		deps.HealthChecks = append(deps.HealthChecks, services.HealthCheck{
			Name: "redis",
			Check: func(ctx context.Context) error {
				return a.db.Redis.Ping(ctx).Err()
			},
		})
	}

	if a.db.Neo4j != nil {
		graph := repository.NewNeo4jGraph(a.db.Neo4j, a.logger)
		deps.Graph = graph
		deps.Neighbors = graph
		deps.HealthChecks = append(deps.HealthChecks, services.HealthCheck{
			Name:  "neo4j",
			Check: graph.Ping,
		})
	}

	registry, err := a.buildModelRegistry()
	if err != nil {
		return deps, err
	}
	a.models = registry
	if a.config.Recommendation.Model.Enabled {
		deps.Models = registry
	}

	if a.config.Kafka.Enabled {
		a.bus = messaging.NewEventBus(a.config.Kafka, a.logger)
		deps.Publisher = a.bus
	}

	return deps, nil
}

func (a *App) buildModelRegistry() (*ml.ModelRegistry, error) {
	registry := ml.NewModelRegistry(a.config.Models, a.config.Recommendation.Model.Timeout, a.logger)

	path := a.config.Models.LinearPath
	if path == "" {
		return registry, nil
	}

	name, model, err := ml.LoadLinearModel(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load ranking model: %w", err)
	}
	info := &ml.ModelInfo{
		Name:       name,
		ModelType:  ml.ModelTypeRanking,
		FeatureDim: model.Dim(),
	}
	if err := registry.RegisterModel(info, model); err != nil {
		return nil, err
	}
	if err := registry.ActivateModel(name); err != nil {
		return nil, err
	}
	return registry, nil
}

func (a *App) Router() *gin.Engine {
	return a.router
}

// Services exposes the wired services, mainly for tests.
func (a *App) Services() *services.Services {
	return a.services
}

// Start launches the background workers and, when enabled, the interaction consumer.
func (a *App) Start() {
	a.services.Start(a.config)

	if a.bus == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancelConsumer = cancel
	a.consumerWG.Add(1)
	go func() {
		defer a.consumerWG.Done()
		err := a.bus.ConsumeInteractions(ctx, a.services.InteractionTracker.Ingest)
		if err != nil && !errors.Is(err, context.Canceled) {
			a.logger.WithError(err).Error("Interaction consumer stopped")
		}
	}()
	a.logger.WithField("topic", a.config.Kafka.Topics.UserInteractions).Info("Interaction consumer started")
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("Shutting down application...")

	if a.cancelConsumer != nil {
		a.cancelConsumer()
	}

	done := make(chan struct{})
	go func() {
		a.consumerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("Timed out waiting for interaction consumer")
	}

	a.services.Stop()

	if err := a.closeConnections(); err != nil {
		a.logger.WithError(err).Error("Error closing connections")
		return err
	}
	return nil
}

func (a *App) closeConnections() error {
	var errs []error
	if a.bus != nil {
		errs = append(errs, a.bus.Close())
	}
	errs = append(errs, a.db.Close())
	return errors.Join(errs...)
}

func setupLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}

func (a *App) setupRouter() {
	if a.config.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(a.logger))
	router.Use(middleware.Recovery(a.logger))
	router.Use(middleware.CORS(a.config.Security.CORS))

	router.GET("/health", a.handlers.Health.Check)
	router.GET("/health/live", a.handlers.Health.Live)

	if a.config.Monitoring.Enabled {
		metricsPath := a.config.Monitoring.MetricsPath
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		router.GET(metricsPath, gin.WrapH(promhttp.Handler()))
	}

	api := router.Group("/api/v1")
	{
		api.GET("/recommendations/:userId", a.handlers.Recommendation.Get)

		interactions := api.Group("/interactions")
		{
			interactions.POST("", a.handlers.Interaction.Record)
			interactions.POST("/batch", a.handlers.Interaction.RecordBatch)
		}

		api.GET("/users/:userId/preferences", a.handlers.User.GetPreferences)

		api.POST("/items", a.handlers.Item.Upsert)
		api.GET("/items/:itemId", a.handlers.Item.Get)

		a.handlers.Experiment.RegisterRoutes(api)
	}

	a.router = router
}
