package services

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/temcen/eventrec/internal/config"
	"github.com/temcen/eventrec/pkg/models"
)

type collaborativeSource interface {
	Estimate(ctx context.Context, userID uuid.UUID, limit int) ([]models.CandidateScore, error)
}

type contentSource interface {
	Estimate(ctx context.Context, profile *models.UserProfile, filters models.Filters, limit int) ([]models.CandidateScore, error)
}

// VariantAssignment is the experiment arm a request is served under.
type VariantAssignment struct {
	Variant string
	Config  models.VariantConfig
	// Active is false when the experiment is not running or out of window,
	// in which case Variant is the control name.
	Active bool
}

// VariantResolver lets the engine serve requests under an experiment.
type VariantResolver interface {
	ResolveVariant(ctx context.Context, userID uuid.UUID, experimentID string) (*VariantAssignment, error)
	RecordImpression(ctx context.Context, experimentID, variant string, userID uuid.UUID) error
}

// resultCache is satisfied by *RecommendationCache.
type resultCache interface {
	Get(ctx context.Context, req *models.RecommendationRequest, variant string) (*models.RecommendationResult, bool)
	Set(ctx context.Context, req *models.RecommendationRequest, variant string, result *models.RecommendationResult)
}

type fusionWeights struct {
	collaborative float64
	content       float64
}

// RecommendationEngine produces the final ranked list for a user, either from
// an active learned model or by fusing the collaborative and content estimates.
type RecommendationEngine struct {
	collaborative collaborativeSource
	content       contentSource
	preferences   PreferenceModelInterface
	catalog       ItemCatalog
	registry      ModelRegistry
	experiments   VariantResolver
	features      *FeatureExtractor
	cache         resultCache
	config        *config.RecommendationConfig
	recordImpr    bool
	logger        *logrus.Logger
}

func NewRecommendationEngine(
	collaborative collaborativeSource,
	content contentSource,
	preferences PreferenceModelInterface,
	catalog ItemCatalog,
	registry ModelRegistry,
	experiments VariantResolver,
	cache resultCache,
	cfg *config.RecommendationConfig,
	logger *logrus.Logger,
) *RecommendationEngine {
	return &RecommendationEngine{
		collaborative: collaborative,
		content:       content,
		preferences:   preferences,
		catalog:       catalog,
		registry:      registry,
		experiments:   experiments,
		features:      NewFeatureExtractor(),
		cache:         cache,
		config:        cfg,
		logger:        logger,
	}
}

// RecordImpressions toggles appending an impression metric for experiment traffic.
func (e *RecommendationEngine) RecordImpressions(enabled bool) {
	e.recordImpr = enabled
}

func (e *RecommendationEngine) GetRecommendations(ctx context.Context, req *models.RecommendationRequest) (*models.RecommendationResult, error) {
	start := time.Now()
	const op = "recommendations"

	if req == nil || req.UserID == uuid.Nil {
		return nil, validationError(op, "user id is required")
	}
	limit := req.Limit
	if limit == 0 {
		limit = e.config.DefaultLimit
	}
	if limit < 0 || (e.config.MaxLimit > 0 && limit > e.config.MaxLimit) {
		return nil, validationError(op, "limit must be between 1 and %d", e.config.MaxLimit)
	}
	normalized := *req
	normalized.Limit = limit
	req = &normalized

	filter, err := compileFilters(req.Filters)
	if err != nil {
		return nil, err
	}

	weights := fusionWeights{collaborative: e.config.CollaborativeWeight, content: e.config.ContentWeight}
	useModel := e.config.Model.Enabled && e.registry != nil
	cutoff := e.config.Model.Cutoff

	var assignment *VariantAssignment
	if req.ExperimentID != "" && e.experiments != nil {
		assignment, err = e.experiments.ResolveVariant(ctx, req.UserID, req.ExperimentID)
		if err != nil {
			if IsNotFound(err) || IsValidation(err) {
				return nil, err
			}
			e.logger.WithError(err).WithField("experiment_id", req.ExperimentID).Warn("Variant resolution failed, serving control")
			recommendationFallbacks.WithLabelValues("experiment").Inc()
			assignment = nil
		}
	}
	variant := ""
	if assignment != nil {
		variant = assignment.Variant
		vc := assignment.Config
		if vc.CollaborativeWeight != nil {
			weights.collaborative = *vc.CollaborativeWeight
		}
		if vc.ContentWeight != nil {
			weights.content = *vc.ContentWeight
		}
		if vc.UseModel != nil {
			useModel = useModel && *vc.UseModel
		}
		if vc.ModelCutoff != nil {
			cutoff = *vc.ModelCutoff
		}
	}

	if cached, ok := e.cache.Get(ctx, req, variant); ok {
		e.recordImpression(ctx, req, assignment)
		return cached, nil
	}

	exclude := make(map[uuid.UUID]struct{}, len(req.ExcludeIDs))
	for _, id := range req.ExcludeIDs {
		exclude[id] = struct{}{}
	}

	profile, err := e.preferences.Profile(ctx, req.UserID)
	if err != nil {
		e.logger.WithError(err).WithField("user_id", req.UserID).Warn("Failed to load preference profile")
		recommendationFallbacks.WithLabelValues("profile").Inc()
		profile = &models.UserProfile{UserID: req.UserID}
	}

	var items []models.CandidateScore
	algorithm := ""
	if useModel {
		if modelItems, ok := e.modelRecommendations(ctx, req, profile, filter, exclude, cutoff); ok {
			items = modelItems
			algorithm = models.AlgorithmModel
		}
	}
	if algorithm == "" {
		items, algorithm = e.fuse(ctx, req, profile, filter, exclude, weights)
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].Score > items[j].Score })
	if len(items) > limit {
		items = items[:limit]
	}
	for i := range items {
		items[i].Rank = i + 1
	}

	result := &models.RecommendationResult{
		UserID:      req.UserID,
		Items:       items,
		Algorithm:   algorithm,
		Context:     req.Context,
		Variant:     variant,
		GeneratedAt: time.Now(),
	}

	e.cache.Set(ctx, req, variant, result)

	e.recordImpression(ctx, req, assignment)

	recommendationRequests.WithLabelValues(algorithm).Inc()
	recommendationLatency.WithLabelValues(algorithm).Observe(time.Since(start).Seconds())

	e.logger.WithFields(logrus.Fields{
		"user_id":   req.UserID,
		"algorithm": algorithm,
		"variant":   variant,
		"results":   len(items),
		"latency":   time.Since(start),
	}).Debug("Recommendations generated")

	return result, nil
}

// recordImpression counts one served list per request, whether or not it
// came from the cache.
func (e *RecommendationEngine) recordImpression(ctx context.Context, req *models.RecommendationRequest, assignment *VariantAssignment) {
	if assignment == nil || !assignment.Active || !e.recordImpr {
		return
	}
	if err := e.experiments.RecordImpression(ctx, req.ExperimentID, assignment.Variant, req.UserID); err != nil {
		e.logger.WithError(err).WithField("experiment_id", req.ExperimentID).Warn("Failed to record impression")
	}
}

// modelRecommendations scores a bounded candidate pool with the active model.
// It reports false when no model is active or anything fails, in which case
// the caller falls back to heuristic fusion.
func (e *RecommendationEngine) modelRecommendations(
	ctx context.Context,
	req *models.RecommendationRequest,
	profile *models.UserProfile,
	filter *itemFilter,
	exclude map[uuid.UUID]struct{},
	cutoff float64,
) ([]models.CandidateScore, bool) {
	lookupCtx, cancelLookup := context.WithTimeout(ctx, e.config.Model.LookupTimeout)
	handle, err := e.registry.GetActiveModel(lookupCtx, e.config.Model.Type)
	cancelLookup()
	if err != nil {
		e.logger.WithError(err).Warn("Model lookup failed, using heuristic fusion")
		recommendationFallbacks.WithLabelValues("model_lookup").Inc()
		return nil, false
	}
	if handle == nil {
		return nil, false
	}

	predictCtx, cancel := context.WithTimeout(ctx, e.config.Model.Timeout)
	defer cancel()

	candidates, err := e.catalog.QueryItems(predictCtx, req.Filters, e.config.Model.PoolSize)
	if err != nil {
		e.logger.WithError(err).Warn("Failed to load model candidate pool, using heuristic fusion")
		recommendationFallbacks.WithLabelValues("model_pool").Inc()
		return nil, false
	}

	userVec := e.features.ProjectPreferences(profile.SparseMap())
	results := make([]models.CandidateScore, 0, len(candidates))
	for _, item := range candidates {
		if _, skip := exclude[item.ID]; skip || !filter.Match(item) {
			continue
		}
		score, err := handle.Predict(predictCtx, ModelInput{
			UserID:   req.UserID,
			ItemID:   item.ID,
			Features: e.features.ModelFeatures(e.features.ItemVector(item), userVec),
		})
		if err != nil {
			reason := "model_error"
			if errors.Is(err, context.DeadlineExceeded) {
				reason = "model_timeout"
			}
			e.logger.WithError(err).WithField("model", handle.Name()).Warn("Model prediction failed, using heuristic fusion")
			recommendationFallbacks.WithLabelValues(reason).Inc()
			return nil, false
		}
		if score < cutoff {
			continue
		}
		score = clamp01(score)
		results = append(results, models.CandidateScore{
			ItemID:     item.ID,
			Score:      score,
			Confidence: score,
			Reasons:    models.NewReasonSet(models.ReasonModel),
		})
	}
	return results, true
}

type fusedEntry struct {
	collaborative *models.CandidateScore
	content       *models.CandidateScore
}

// fuse runs both estimators concurrently and blends their scores. An
// estimator that fails contributes nothing.
func (e *RecommendationEngine) fuse(
	ctx context.Context,
	req *models.RecommendationRequest,
	profile *models.UserProfile,
	filter *itemFilter,
	exclude map[uuid.UUID]struct{},
	weights fusionWeights,
) ([]models.CandidateScore, string) {
	multiplier := e.config.CandidateMultiplier
	if multiplier < 1 {
		multiplier = 1
	}
	candidateLimit := req.Limit*multiplier + len(exclude)

	var collaborative, content []models.CandidateScore
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		estimateCtx, cancel := e.estimatorContext(gctx)
		defer cancel()
		results, err := e.collaborative.Estimate(estimateCtx, req.UserID, candidateLimit)
		if err != nil {
			e.logger.WithError(err).WithField("user_id", req.UserID).Warn("Collaborative estimate failed")
			recommendationFallbacks.WithLabelValues("collaborative").Inc()
			return nil
		}
		collaborative = results
		return nil
	})
	g.Go(func() error {
		estimateCtx, cancel := e.estimatorContext(gctx)
		defer cancel()
		results, err := e.content.Estimate(estimateCtx, profile, req.Filters, candidateLimit)
		if err != nil {
			e.logger.WithError(err).WithField("user_id", req.UserID).Warn("Content estimate failed")
			recommendationFallbacks.WithLabelValues("content").Inc()
			return nil
		}
		content = results
		return nil
	})
	_ = g.Wait()

	entries := make(map[uuid.UUID]*fusedEntry)
	var order []uuid.UUID
	for i := range collaborative {
		c := &collaborative[i]
		if _, ok := entries[c.ItemID]; !ok {
			entries[c.ItemID] = &fusedEntry{}
			order = append(order, c.ItemID)
		}
		entries[c.ItemID].collaborative = c
	}
	for i := range content {
		c := &content[i]
		if _, ok := entries[c.ItemID]; !ok {
			entries[c.ItemID] = &fusedEntry{}
			order = append(order, c.ItemID)
		}
		entries[c.ItemID].content = c
	}

	allowed := e.applyFilters(ctx, order, filter)

	fused := make([]models.CandidateScore, 0, len(order))
	for _, id := range order {
		if _, skip := exclude[id]; skip {
			continue
		}
		if allowed != nil && !allowed[id] {
			continue
		}
		fused = append(fused, blend(id, entries[id], weights))
	}

	return fused, classify(fused)
}

func blend(id uuid.UUID, entry *fusedEntry, w fusionWeights) models.CandidateScore {
	c, n := entry.collaborative, entry.content
	switch {
	case c != nil && n != nil:
		confidence := c.Confidence
		if n.Confidence > confidence {
			confidence = n.Confidence
		}
		return models.CandidateScore{
			ItemID:     id,
			Score:      c.Score*w.collaborative + n.Score*w.content,
			Confidence: confidence,
			Reasons:    c.Reasons.Union(n.Reasons...),
		}
	case c != nil:
		return models.CandidateScore{ItemID: id, Score: c.Score * w.collaborative, Confidence: c.Confidence, Reasons: c.Reasons}
	default:
		return models.CandidateScore{ItemID: id, Score: n.Score * w.content, Confidence: n.Confidence, Reasons: n.Reasons}
	}
}

// applyFilters returns the ids that pass filter, or nil when no filter is set.
func (e *RecommendationEngine) applyFilters(ctx context.Context, ids []uuid.UUID, filter *itemFilter) map[uuid.UUID]bool {
	if filter == nil || filter.filters.IsEmpty() {
		return nil
	}
	allowed := make(map[uuid.UUID]bool, len(ids))
	if len(ids) == 0 {
		return allowed
	}

	items, err := e.catalog.GetItems(ctx, ids)
	if err != nil {
		// Filters cannot be verified; serve nothing rather than violate them.
		e.logger.WithError(err).Warn("Failed to load items for filtering")
		recommendationFallbacks.WithLabelValues("catalog").Inc()
		return allowed
	}
	for _, id := range ids {
		if item, ok := items[id]; ok && filter.Match(item) {
			allowed[id] = true
		}
	}
	return allowed
}

func (e *RecommendationEngine) estimatorContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.config.EstimatorTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.config.EstimatorTimeout)
}

// classify labels a heuristic result "fallback" when every item came from a
// cold-start path.
func classify(items []models.CandidateScore) string {
	if len(items) == 0 {
		return models.AlgorithmFallback
	}
	for _, it := range items {
		for _, r := range it.Reasons {
			if r != models.ReasonPopular && r != models.ReasonTrending {
				return models.AlgorithmHybrid
			}
		}
	}
	return models.AlgorithmFallback
}

