package handlers

import (
	"github.com/sirupsen/logrus"

	"github.com/temcen/eventrec/internal/services"
	"github.com/temcen/eventrec/internal/validation"
)

type Handlers struct {
	Health         *HealthHandler
	Interaction    *InteractionHandler
	Item           *ItemHandler
	Recommendation *RecommendationHandler
	User           *UserHandler
	Experiment     *ExperimentHandler
}

func New(logger *logrus.Logger, svcs *services.Services, schemas *validation.SchemaValidator) *Handlers {
	return &Handlers{
		Health:         NewHealthHandler(logger, svcs.Health),
		Interaction:    NewInteractionHandler(logger, svcs.InteractionTracker, schemas),
		Item:           NewItemHandler(logger, svcs.Items, schemas),
		Recommendation: NewRecommendationHandler(svcs.Recommendations, logger),
		User:           NewUserHandler(logger, svcs.Preferences),
		Experiment:     NewExperimentHandler(logger, svcs.Experiments, schemas),
	}
}
