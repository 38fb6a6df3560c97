package services

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/eventrec/pkg/models"
)

const (
	defaultSignificanceLevel = 0.05
	defaultMinimumSampleSize = 100
	trafficTolerance         = 0.01

	// ImpressionMetric is recorded for each recommendation served under a variant.
	ImpressionMetric = "impression"
)

// ExperimentController owns the experiment lifecycle, variant assignment
// and result analysis. Status transitions are read-then-write through the
// store; concurrent transitions of the same experiment are last-writer-wins.
type ExperimentController struct {
	store        ExperimentStore
	significance SignificanceStrategy
	logger       *logrus.Logger
	now          func() time.Time
}

func NewExperimentController(store ExperimentStore, strategy SignificanceStrategy, logger *logrus.Logger) *ExperimentController {
	if strategy == nil {
		strategy = SampleSizeStrategy{}
	}
	return &ExperimentController{
		store:        store,
		significance: strategy,
		logger:       logger,
		now:          time.Now,
	}
}

func (c *ExperimentController) CreateExperiment(ctx context.Context, req *models.CreateExperimentRequest) (*models.Experiment, error) {
	if err := validateExperimentRequest(req); err != nil {
		return nil, err
	}

	now := c.now()
	exp := &models.Experiment{
		ID:                uuid.New().String(),
		Name:              strings.TrimSpace(req.Name),
		Description:       req.Description,
		Status:            models.ExperimentStatusDraft,
		Variants:          req.Variants,
		TargetMetrics:     req.TargetMetrics,
		StartDate:         req.StartDate,
		EndDate:           req.EndDate,
		MinimumSampleSize: req.MinimumSampleSize,
		SignificanceLevel: req.SignificanceLevel,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if exp.MinimumSampleSize == 0 {
		exp.MinimumSampleSize = defaultMinimumSampleSize
	}
	if exp.SignificanceLevel == 0 {
		exp.SignificanceLevel = defaultSignificanceLevel
	}

	if err := c.store.CreateExperiment(ctx, exp); err != nil {
		return nil, fmt.Errorf("failed to store experiment: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"experiment_id": exp.ID,
		"name":          exp.Name,
		"variants":      len(exp.Variants),
	}).Info("Experiment created")
	return exp, nil
}

func validateExperimentRequest(req *models.CreateExperimentRequest) error {
	const op = "create experiment"
	if req == nil {
		return validationError(op, "request is required")
	}
	if strings.TrimSpace(req.Name) == "" {
		return validationError(op, "experiment name is required")
	}
	if len(req.Variants) < 2 {
		return validationError(op, "experiment must have at least 2 variants")
	}

	seen := make(map[string]struct{}, len(req.Variants))
	total := 0.0
	for _, v := range req.Variants {
		name := strings.TrimSpace(v.Name)
		if name == "" {
			return validationError(op, "variant name is required")
		}
		if _, dup := seen[name]; dup {
			return validationError(op, "duplicate variant name %q", name)
		}
		seen[name] = struct{}{}

		if math.IsNaN(v.TrafficPercentage) || v.TrafficPercentage < 0 || v.TrafficPercentage > 100 {
			return validationError(op, "variant %q traffic must be between 0 and 100", name)
		}
		total += v.TrafficPercentage

		if err := validateVariantConfig(op, name, v.Config); err != nil {
			return err
		}
	}
	if math.Abs(total-100) > trafficTolerance {
		return validationError(op, "traffic percentages must sum to 100, got %.3f", total)
	}

	if len(req.TargetMetrics) == 0 {
		return validationError(op, "at least one target metric is required")
	}
	for _, m := range req.TargetMetrics {
		if strings.TrimSpace(m) == "" {
			return validationError(op, "target metric names must not be empty")
		}
	}
	if req.StartDate != nil && req.EndDate != nil && !req.StartDate.Before(*req.EndDate) {
		return validationError(op, "start date must be before end date")
	}
	if req.MinimumSampleSize < 0 {
		return validationError(op, "minimum sample size must not be negative")
	}
	if req.SignificanceLevel < 0 || req.SignificanceLevel >= 1 {
		return validationError(op, "significance level must be in (0, 1)")
	}
	return nil
}

func validateVariantConfig(op, name string, cfg models.VariantConfig) error {
	for field, v := range map[string]*float64{
		"collaborative_weight": cfg.CollaborativeWeight,
		"content_weight":       cfg.ContentWeight,
		"model_cutoff":         cfg.ModelCutoff,
	} {
		if v != nil && (math.IsNaN(*v) || *v < 0 || *v > 1) {
			return validationError(op, "variant %q %s must be between 0 and 1", name, field)
		}
	}
	return nil
}

func (c *ExperimentController) GetExperiment(ctx context.Context, id string) (*models.Experiment, error) {
	exp, err := c.store.GetExperiment(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, notFoundError("get experiment", "experiment %s not found", id)
		}
		return nil, fmt.Errorf("failed to load experiment %s: %w", id, err)
	}
	return exp, nil
}

func (c *ExperimentController) ListExperiments(ctx context.Context, status models.ExperimentStatus) ([]models.Experiment, error) {
	if status != "" && !status.Valid() {
		return nil, validationError("list experiments", "unknown status %q", status)
	}
	exps, err := c.store.ListExperiments(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	return exps, nil
}

// StartExperiment moves a draft to running. A missing start date is set to now.
func (c *ExperimentController) StartExperiment(ctx context.Context, id string) (*models.Experiment, error) {
	return c.transition(ctx, id, "start experiment", models.ExperimentStatusRunning,
		[]models.ExperimentStatus{models.ExperimentStatusDraft},
		func(exp *models.Experiment, now time.Time) error {
			if exp.StartDate != nil && exp.StartDate.After(now) {
				return validationError("start experiment", "start date %s is in the future", exp.StartDate.Format(time.RFC3339))
			}
			if exp.EndDate != nil && !exp.EndDate.After(now) {
				return validationError("start experiment", "end date %s has already passed", exp.EndDate.Format(time.RFC3339))
			}
			if exp.StartDate == nil {
				exp.StartDate = &now
			}
			return nil
		})
}

func (c *ExperimentController) PauseExperiment(ctx context.Context, id string) (*models.Experiment, error) {
	return c.transition(ctx, id, "pause experiment", models.ExperimentStatusPaused,
		[]models.ExperimentStatus{models.ExperimentStatusRunning}, nil)
}

func (c *ExperimentController) ResumeExperiment(ctx context.Context, id string) (*models.Experiment, error) {
	return c.transition(ctx, id, "resume experiment", models.ExperimentStatusRunning,
		[]models.ExperimentStatus{models.ExperimentStatusPaused}, nil)
}

func (c *ExperimentController) CancelExperiment(ctx context.Context, id string) (*models.Experiment, error) {
	return c.transition(ctx, id, "cancel experiment", models.ExperimentStatusCancelled,
		[]models.ExperimentStatus{models.ExperimentStatusDraft, models.ExperimentStatusRunning, models.ExperimentStatusPaused}, nil)
}

// StopExperiment completes a running experiment and persists its final analysis.
func (c *ExperimentController) StopExperiment(ctx context.Context, id string) (*models.ExperimentResults, error) {
	var results *models.ExperimentResults
	_, err := c.transition(ctx, id, "stop experiment", models.ExperimentStatusCompleted,
		[]models.ExperimentStatus{models.ExperimentStatusRunning},
		func(exp *models.Experiment, now time.Time) error {
			metrics, err := c.store.ListMetrics(ctx, exp.ID)
			if err != nil {
				return fmt.Errorf("failed to load experiment metrics: %w", err)
			}
			results = analyzeExperiment(exp, metrics, c.significance, now)
			exp.Results = results
			if exp.EndDate == nil || exp.EndDate.After(now) {
				exp.EndDate = &now
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (c *ExperimentController) transition(
	ctx context.Context,
	id, op string,
	to models.ExperimentStatus,
	from []models.ExperimentStatus,
	mutate func(exp *models.Experiment, now time.Time) error,
) (*models.Experiment, error) {
	exp, err := c.GetExperiment(ctx, id)
	if err != nil {
		return nil, err
	}

	allowed := false
	for _, s := range from {
		if exp.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, conflictError(op, "experiment %s is %s", id, exp.Status)
	}

	now := c.now()
	if mutate != nil {
		if err := mutate(exp, now); err != nil {
			return nil, err
		}
	}
	previous := exp.Status
	exp.Status = to
	exp.UpdatedAt = now

	if err := c.store.UpdateExperiment(ctx, exp); err != nil {
		return nil, fmt.Errorf("failed to update experiment: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"experiment_id": id,
		"from":          previous,
		"to":            to,
	}).Info("Experiment status changed")
	return exp, nil
}

// AssignVariant returns the variant userID is served under.
func (c *ExperimentController) AssignVariant(ctx context.Context, userID, experimentID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", validationError("assign variant", "user id is required")
	}
	exp, err := c.GetExperiment(ctx, experimentID)
	if err != nil {
		return "", err
	}
	variant := AssignVariantFor(exp, userID, c.now())
	experimentAssignments.WithLabelValues(exp.ID, variant).Inc()
	return variant, nil
}

// ResolveVariant assigns userID and returns the variant's engine overrides.
func (c *ExperimentController) ResolveVariant(ctx context.Context, userID uuid.UUID, experimentID string) (*VariantAssignment, error) {
	exp, err := c.GetExperiment(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	now := c.now()
	name := AssignVariantFor(exp, userID.String(), now)
	experimentAssignments.WithLabelValues(exp.ID, name).Inc()

	assignment := &VariantAssignment{Variant: name}
	if exp.Status == models.ExperimentStatusRunning && exp.InWindow(now) {
		if v, ok := exp.Variant(name); ok {
			assignment.Config = v.Config
			assignment.Active = true
		}
	}
	return assignment, nil
}

// AssignVariantFor hashes userID and the experiment id with 32-bit FNV-1a,
// reduces it mod 100 and walks cumulative traffic in variant order,
// returning the first variant whose cumulative percentage is >= the bucket.
// Variants with no traffic are never returned. Users of an experiment that
// is not running, or outside its window, get the control variant.
func AssignVariantFor(exp *models.Experiment, userID string, now time.Time) string {
	if exp == nil || exp.Status != models.ExperimentStatusRunning || !exp.InWindow(now) {
		return models.ControlVariant
	}

	bucket := float64(assignmentBucket(userID, exp.ID))
	cumulative := 0.0
	last := ""
	for _, v := range exp.Variants {
		if v.TrafficPercentage <= 0 {
			continue
		}
		cumulative += v.TrafficPercentage
		last = v.Name
		if cumulative >= bucket {
			return v.Name
		}
	}
	if last == "" {
		return models.ControlVariant
	}
	// Only reachable when rounding leaves the total just under the bucket.
	return last
}

func assignmentBucket(userID, experimentID string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(userID + ":" + experimentID))
	return h.Sum32() % 100
}

func (c *ExperimentController) RecordExperimentMetric(ctx context.Context, experimentID string, req *models.RecordMetricRequest) (*models.ExperimentMetric, error) {
	const op = "record metric"
	if req == nil {
		return nil, validationError(op, "request is required")
	}
	if strings.TrimSpace(req.MetricType) == "" {
		return nil, validationError(op, "metric type is required")
	}
	if math.IsNaN(req.Value) || math.IsInf(req.Value, 0) {
		return nil, validationError(op, "metric value must be finite")
	}

	exp, err := c.GetExperiment(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	if _, ok := exp.Variant(req.Variant); !ok {
		return nil, validationError(op, "variant %q is not part of experiment %s", req.Variant, experimentID)
	}

	metric := &models.ExperimentMetric{
		ID:           uuid.New(),
		ExperimentID: exp.ID,
		Variant:      req.Variant,
		MetricType:   req.MetricType,
		Value:        req.Value,
		UserID:       req.UserID,
		Metadata:     req.Metadata,
		RecordedAt:   c.now(),
	}
	if err := c.store.AppendMetric(ctx, metric); err != nil {
		return nil, fmt.Errorf("failed to record experiment metric: %w", err)
	}
	experimentMetricsRecorded.WithLabelValues(exp.ID, req.MetricType).Inc()
	return metric, nil
}

// RecordImpression appends an impression metric for a served recommendation.
func (c *ExperimentController) RecordImpression(ctx context.Context, experimentID, variant string, userID uuid.UUID) error {
	_, err := c.RecordExperimentMetric(ctx, experimentID, &models.RecordMetricRequest{
		Variant:    variant,
		MetricType: ImpressionMetric,
		Value:      1,
		UserID:     &userID,
	})
	return err
}

// AnalyzeExperiment computes and persists results without changing status.
func (c *ExperimentController) AnalyzeExperiment(ctx context.Context, id string) (*models.ExperimentResults, error) {
	exp, err := c.GetExperiment(ctx, id)
	if err != nil {
		return nil, err
	}
	metrics, err := c.store.ListMetrics(ctx, exp.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load experiment metrics: %w", err)
	}

	now := c.now()
	exp.Results = analyzeExperiment(exp, metrics, c.significance, now)
	exp.UpdatedAt = now
	if err := c.store.UpdateExperiment(ctx, exp); err != nil {
		return nil, fmt.Errorf("failed to persist experiment results: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"experiment_id": id,
		"winner":        exp.Results.WinningVariant,
		"significant":   exp.Results.StatisticalSignificance,
		"confidence":    exp.Results.ConfidenceLevel,
	}).Info("Experiment analyzed")
	return exp.Results, nil
}

func analyzeExperiment(exp *models.Experiment, metrics []models.ExperimentMetric, strategy SignificanceStrategy, now time.Time) *models.ExperimentResults {
	values := make(map[string]map[string][]float64, len(exp.Variants))
	samples := make(map[string]int, len(exp.Variants))
	for _, m := range metrics {
		if values[m.Variant] == nil {
			values[m.Variant] = make(map[string][]float64)
		}
		values[m.Variant][m.MetricType] = append(values[m.Variant][m.MetricType], m.Value)
		samples[m.Variant]++
	}

	summaries := make([]models.VariantSummary, 0, len(exp.Variants))
	winner := -1
	for i, v := range exp.Variants {
		summary := models.VariantSummary{
			Variant:    v.Name,
			SampleSize: samples[v.Name],
			Metrics:    make(map[string]models.MetricAggregate, len(values[v.Name])),
		}
		for metricType, vals := range values[v.Name] {
			summary.Metrics[metricType] = aggregate(vals)
		}
		for _, target := range exp.TargetMetrics {
			summary.Score += summary.Metrics[target].Mean
		}
		summaries = append(summaries, summary)

		if summary.SampleSize > 0 && (winner < 0 || summary.Score > summaries[winner].Score) {
			winner = i
		}
	}

	results := &models.ExperimentResults{
		Strategy:   strategy.Name(),
		Variants:   summaries,
		AnalyzedAt: now,
	}
	if winner < 0 {
		results.Conclusion = "No metrics recorded yet"
		return results
	}

	outcome := strategy.Evaluate(exp, summaries, winner)
	w := summaries[winner]
	results.WinningVariant = w.Variant
	results.ConfidenceLevel = outcome.Confidence
	results.StatisticalSignificance = outcome.Significant
	if outcome.Significant {
		results.Conclusion = fmt.Sprintf("Variant %s wins on %s with %.0f%% confidence",
			w.Variant, strings.Join(exp.TargetMetrics, "+"), outcome.Confidence*100)
	} else {
		results.Conclusion = fmt.Sprintf("Variant %s leads but is not yet significant (%d of %d samples)",
			w.Variant, w.SampleSize, exp.MinimumSampleSize)
	}
	return results
}
