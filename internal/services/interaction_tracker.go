package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/eventrec/pkg/models"
)

type preferenceRecorder interface {
	Record(ctx context.Context, interaction *models.Interaction) (int, error)
}

type interactionQueue interface {
	Enqueue(interaction models.Interaction)
}

// InteractionTracker is the behavioral tracking boundary. It validates and
// appends interactions, then runs side effects in a fixed order: preference
// update, cache invalidation, graph sync, event publication. Side-effect
// failures are logged and never fail the interaction.
type InteractionTracker struct {
	log         InteractionLog
	preferences preferenceRecorder
	cache       *RecommendationCache
	graph       interactionQueue
	publisher   EventPublisher
	logger      *logrus.Logger
	now         func() time.Time
}

// NewInteractionTracker accepts nil graph and publisher when those
// integrations are not configured.
func NewInteractionTracker(
	log InteractionLog,
	preferences preferenceRecorder,
	cache *RecommendationCache,
	graph interactionQueue,
	publisher EventPublisher,
	logger *logrus.Logger,
) *InteractionTracker {
	return &InteractionTracker{
		log:         log,
		preferences: preferences,
		cache:       cache,
		graph:       graph,
		publisher:   publisher,
		logger:      logger,
		now:         time.Now,
	}
}

func (t *InteractionTracker) RecordInteraction(ctx context.Context, req *models.RecordInteractionRequest) (*models.Interaction, error) {
	interaction, err := t.build(req)
	if err != nil {
		return nil, err
	}

	if err := t.log.Append(ctx, interaction); err != nil {
		return nil, fmt.Errorf("failed to store interaction: %w", err)
	}
	interactionsRecorded.WithLabelValues(string(interaction.Type)).Inc()

	t.trackSideEffects(ctx, interaction)

	t.logger.WithFields(logrus.Fields{
		"user_id":          interaction.UserID,
		"item_id":          interaction.ItemID,
		"interaction_type": interaction.Type,
		"weight":           interaction.Weight,
	}).Debug("Recorded interaction")

	return interaction, nil
}

// RecordBatch validates every entry before storing any of them.
func (t *InteractionTracker) RecordBatch(ctx context.Context, req *models.InteractionBatchRequest) ([]models.Interaction, error) {
	if req == nil || len(req.Interactions) == 0 {
		return nil, validationError("record batch", "at least one interaction is required")
	}
	for i := range req.Interactions {
		if _, err := t.build(&req.Interactions[i]); err != nil {
			return nil, fmt.Errorf("interaction %d: %w", i, err)
		}
	}

	recorded := make([]models.Interaction, 0, len(req.Interactions))
	users := make(map[uuid.UUID]struct{})
	for i := range req.Interactions {
		interaction, err := t.RecordInteraction(ctx, &req.Interactions[i])
		if err != nil {
			t.logger.WithError(err).WithField("index", i).Error("Failed to record interaction in batch")
			continue
		}
		recorded = append(recorded, *interaction)
		users[interaction.UserID] = struct{}{}
	}

	t.logger.WithFields(logrus.Fields{
		"total_interactions": len(recorded),
		"affected_users":     len(users),
	}).Info("Recorded interaction batch")

	if len(recorded) == 0 {
		return nil, fmt.Errorf("failed to record any of %d interactions", len(req.Interactions))
	}
	return recorded, nil
}

// Ingest stores an interaction that arrived already formed, e.g. from the
// message bus. Missing ids and timestamps are filled in; the weight always
// comes from the type table.
func (t *InteractionTracker) Ingest(ctx context.Context, interaction *models.Interaction) error {
	const op = "ingest interaction"
	if interaction == nil || interaction.UserID == uuid.Nil {
		return validationError(op, "user id is required")
	}
	itype, err := models.ParseInteractionType(string(interaction.Type))
	if err != nil {
		return validationError(op, "%v", err)
	}
	if err := checkRating(op, itype, interaction.Value); err != nil {
		return err
	}
	interaction.Type = itype
	if interaction.ID == uuid.Nil {
		interaction.ID = uuid.New()
	}
	interaction.Weight = models.WeightFor(itype)
	if interaction.Timestamp.IsZero() {
		interaction.Timestamp = t.now()
	}

	if err := t.log.Append(ctx, interaction); err != nil {
		return fmt.Errorf("failed to store interaction: %w", err)
	}
	interactionsRecorded.WithLabelValues(string(interaction.Type)).Inc()
	t.trackSideEffects(ctx, interaction)
	return nil
}

func (t *InteractionTracker) build(req *models.RecordInteractionRequest) (*models.Interaction, error) {
	const op = "record interaction"
	if req == nil || req.UserID == uuid.Nil {
		return nil, validationError(op, "user id is required")
	}
	itype, err := models.ParseInteractionType(req.Type)
	if err != nil {
		return nil, validationError(op, "%v", err)
	}
	if err := checkRating(op, itype, req.Value); err != nil {
		return nil, err
	}

	return &models.Interaction{
		ID:        uuid.New(),
		UserID:    req.UserID,
		ItemID:    req.ItemID,
		Type:      itype,
		Weight:    models.WeightFor(itype),
		Value:     req.Value,
		Context:   req.Context,
		Timestamp: t.now(),
	}, nil
}

// checkRating requires a value in [1,5] on rating interactions.
func checkRating(op string, itype models.InteractionType, value *float64) error {
	if itype != models.InteractionRating {
		return nil
	}
	if value == nil {
		return validationError(op, "rating value is required")
	}
	if *value < 1 || *value > 5 {
		return validationError(op, "rating must be between 1 and 5, got %v", *value)
	}
	return nil
}

func (t *InteractionTracker) trackSideEffects(ctx context.Context, interaction *models.Interaction) {
	if t.preferences != nil {
		if _, err := t.preferences.Record(ctx, interaction); err != nil {
			t.logger.WithError(err).WithField("user_id", interaction.UserID).Warn("Failed to update preferences")
		}
	}

	t.cache.InvalidateUser(ctx, interaction.UserID)

	if t.graph != nil && interaction.ItemID != nil {
		t.graph.Enqueue(*interaction)
	}

	if t.publisher != nil {
		if err := t.publisher.PublishInteraction(ctx, interaction); err != nil {
			t.logger.WithError(err).WithField("interaction_id", interaction.ID).Warn("Failed to publish interaction event")
		}
	}
}
