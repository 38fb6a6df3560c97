package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"

	"github.com/temcen/eventrec/internal/config"
	"github.com/temcen/eventrec/pkg/models"
)

type attributeTerm struct {
	Type   models.AttributeType
	Weight float64
	Reason models.ReasonTag
}

// ContentEstimator scores catalog items against a single user's preferences.
type ContentEstimator struct {
	catalog  ItemCatalog
	features *FeatureExtractor
	config   *config.ContentConfig
	logger   *logrus.Logger
	now      func() time.Time
}

func NewContentEstimator(catalog ItemCatalog, features *FeatureExtractor, cfg *config.ContentConfig, logger *logrus.Logger) *ContentEstimator {
	if features == nil {
		features = NewFeatureExtractor()
	}
	return &ContentEstimator{
		catalog:  catalog,
		features: features,
		config:   cfg,
		logger:   logger,
		now:      time.Now,
	}
}

func (e *ContentEstimator) terms() []attributeTerm {
	return []attributeTerm{
		{Type: models.AttributeCategory, Weight: e.config.CategoryWeight, Reason: models.ReasonCategoryMatch},
		{Type: models.AttributeLocation, Weight: e.config.LocationWeight, Reason: models.ReasonLocationMatch},
		{Type: models.AttributePriceRange, Weight: e.config.PriceRangeWeight, Reason: models.ReasonPriceMatch},
		{Type: models.AttributeTime, Weight: e.config.TimeWeight, Reason: models.ReasonTimeMatch},
	}
}

// Estimate scores candidates from the catalog. Signal types the user has no
// preference for, or the item has no value for, are left out of both the
// weighted sum and its normalizer.
func (e *ContentEstimator) Estimate(ctx context.Context, profile *models.UserProfile, filters models.Filters, limit int) ([]models.CandidateScore, error) {
	if limit <= 0 {
		return nil, nil
	}
	if profile.IsEmpty() {
		return e.trending(ctx, limit)
	}

	byType := strengthsByType(profile)
	userVec := e.features.ProjectPreferences(profile.SparseMap())
	hasUserVec := floats.Norm(userVec, 2) > 0

	pool := e.config.CandidatePool
	if pool < limit {
		pool = limit
	}
	items, err := e.catalog.QueryItems(ctx, filters, pool)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidate items: %w", err)
	}

	results := make([]models.CandidateScore, 0, len(items))
	for _, item := range items {
		var score, matched, confSum float64
		var confCount int
		reasons := models.ReasonSet{}

		for _, term := range e.terms() {
			prefs := byType[term.Type]
			if len(prefs) == 0 || term.Weight <= 0 {
				continue
			}
			value := normalizeValue(item.Attribute(term.Type))
			if value == "" {
				continue
			}
			matched += term.Weight
			if m, ok := prefs[value]; ok {
				score += term.Weight * m.strength
				confSum += m.confidence
				confCount++
				reasons = reasons.Union(term.Reason)
			}
		}

		itemVec := e.features.ItemVector(item)
		if hasUserVec && e.config.CosineWeight > 0 && floats.Norm(itemVec, 2) > 0 {
			matched += e.config.CosineWeight
			if sim := cosineSimilarity(userVec, itemVec); sim > 0 {
				score += e.config.CosineWeight * sim
				reasons = reasons.Union(models.ReasonContentMatch)
			}
		}

		if matched == 0 || score <= 0 {
			continue
		}

		confidence := e.config.TrendingConfidence
		if confCount > 0 {
			confidence = confSum / float64(confCount)
		}
		results = append(results, models.CandidateScore{
			ItemID:     item.ID,
			Score:      clamp01(score / matched),
			Confidence: clamp01(confidence),
			Reasons:    reasons,
		})
	}

	if len(results) == 0 {
		e.logger.WithField("user_id", profile.UserID).Debug("No content matches, using trending items")
		return e.trending(ctx, limit)
	}

	sortCandidates(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// trending returns the newest catalog items at a fixed low confidence.
func (e *ContentEstimator) trending(ctx context.Context, limit int) ([]models.CandidateScore, error) {
	items, err := e.catalog.RecentItems(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent items: %w", err)
	}

	now := e.now()
	results := make([]models.CandidateScore, 0, len(items))
	for _, item := range items {
		ageDays := now.Sub(item.CreatedAt).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		results = append(results, models.CandidateScore{
			ItemID:     item.ID,
			Score:      clamp01(0.5 / (1 + ageDays/7)),
			Confidence: e.config.TrendingConfidence,
			Reasons:    models.NewReasonSet(models.ReasonTrending),
		})
	}
	sortCandidates(results)
	return results, nil
}

type attributeMatch struct {
	strength   float64
	confidence float64
}

// strengthsByType normalizes each preference's weight*confidence by the
// strongest value of the same type, giving match strengths in [0,1].
func strengthsByType(profile *models.UserProfile) map[models.AttributeType]map[string]attributeMatch {
	maxByType := make(map[models.AttributeType]float64)
	for _, p := range profile.Preferences {
		if p.IsActive && p.Strength() > maxByType[p.AttributeType] {
			maxByType[p.AttributeType] = p.Strength()
		}
	}

	out := make(map[models.AttributeType]map[string]attributeMatch)
	for _, p := range profile.Preferences {
		top := maxByType[p.AttributeType]
		if !p.IsActive || top <= 0 {
			continue
		}
		if out[p.AttributeType] == nil {
			out[p.AttributeType] = make(map[string]attributeMatch)
		}
		out[p.AttributeType][normalizeValue(p.Value)] = attributeMatch{
			strength:   p.Strength() / top,
			confidence: p.Confidence,
		}
	}
	return out
}
