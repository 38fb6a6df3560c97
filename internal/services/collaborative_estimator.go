package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/eventrec/internal/config"
	"github.com/temcen/eventrec/pkg/models"
)

const popularConfidence = 0.6

type scoredNeighbor struct {
	UserID      uuid.UUID
	Similarity  float64
	SharedItems int
}

// CollaborativeEstimator scores items by what users with overlapping
// histories interacted with.
type CollaborativeEstimator struct {
	interactions InteractionLog
	neighbors    NeighborFinder
	config       *config.CollaborativeConfig
	logger       *logrus.Logger
	now          func() time.Time
}

// NewCollaborativeEstimator uses neighbors to find candidate users; a nil
// finder falls back to the interaction log.
func NewCollaborativeEstimator(
	interactions InteractionLog,
	neighbors NeighborFinder,
	cfg *config.CollaborativeConfig,
	logger *logrus.Logger,
) *CollaborativeEstimator {
	if neighbors == nil {
		neighbors = interactions
	}
	return &CollaborativeEstimator{
		interactions: interactions,
		neighbors:    neighbors,
		config:       cfg,
		logger:       logger,
		now:          time.Now,
	}
}

func (e *CollaborativeEstimator) Estimate(ctx context.Context, userID uuid.UUID, limit int) ([]models.CandidateScore, error) {
	if limit <= 0 {
		return nil, nil
	}

	history, err := e.interactions.RecentByUser(ctx, userID, e.config.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load user history: %w", err)
	}

	target := make(map[uuid.UUID]float64)
	for _, in := range history {
		if in.ItemID != nil {
			target[*in.ItemID] += in.Weight
		}
	}
	if len(target) == 0 {
		return e.popular(ctx, target, limit)
	}

	neighbors, err := e.findNeighbors(ctx, userID, target)
	if err != nil {
		return nil, err
	}
	if len(neighbors) == 0 {
		e.logger.WithField("user_id", userID).Debug("No similar users, using popular items")
		return e.popular(ctx, target, limit)
	}

	neighborIDs := make([]uuid.UUID, len(neighbors))
	for i, n := range neighbors {
		neighborIDs[i] = n.UserID
	}
	vectors, err := e.interactions.UserItemWeights(ctx, neighborIDs, e.config.NeighborHistory)
	if err != nil {
		return nil, fmt.Errorf("failed to load neighbor vectors: %w", err)
	}

	numerator := make(map[uuid.UUID]float64)
	denominator := make(map[uuid.UUID]float64)
	contributors := make(map[uuid.UUID]int)
	for _, n := range neighbors {
		for itemID, w := range vectors[n.UserID] {
			if _, seen := target[itemID]; seen || w.Count == 0 {
				continue
			}
			numerator[itemID] += n.Similarity * (w.Average() / models.MaxInteractionWeight)
			denominator[itemID] += n.Similarity
			contributors[itemID]++
		}
	}
	if len(numerator) == 0 {
		return e.popular(ctx, target, limit)
	}

	candidateIDs := sortedKeys(numerator)
	stats, err := e.interactions.ItemStats(ctx, candidateIDs)
	if err != nil {
		e.logger.WithError(err).Warn("Failed to load item stats, skipping popularity boost")
		stats = nil
	}

	results := make([]models.CandidateScore, 0, len(candidateIDs))
	for _, itemID := range candidateIDs {
		den := denominator[itemID]
		if den <= 0 {
			continue
		}
		boost := math.Log(float64(stats[itemID].Count)+1) / 10
		results = append(results, models.CandidateScore{
			ItemID:     itemID,
			Score:      clamp01(numerator[itemID]/den + boost),
			Confidence: collaborativeConfidence(contributors[itemID], den),
			Reasons:    models.NewReasonSet(models.ReasonSimilarUsers),
		})
	}

	sortCandidates(results)
	if len(results) > limit {
		results = results[:limit]
	}

	e.logger.WithFields(logrus.Fields{
		"user_id":   userID,
		"neighbors": len(neighbors),
		"results":   len(results),
	}).Debug("Collaborative estimate completed")

	return results, nil
}

// findNeighbors ranks candidate users by intersection cosine and keeps the
// top K above the similarity threshold.
func (e *CollaborativeEstimator) findNeighbors(ctx context.Context, userID uuid.UUID, target map[uuid.UUID]float64) ([]scoredNeighbor, error) {
	candidates, err := e.neighbors.CandidateNeighbors(ctx, userID, sortedKeys(target), e.config.MinSharedItems, e.config.NeighborPool)
	if err != nil {
		return nil, fmt.Errorf("failed to find candidate neighbors: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, 0, len(candidates))
	shared := make(map[uuid.UUID]int, len(candidates))
	for _, c := range candidates {
		if c.UserID == userID {
			continue
		}
		ids = append(ids, c.UserID)
		shared[c.UserID] = c.SharedItems
	}

	vectors, err := e.interactions.UserItemWeights(ctx, ids, e.config.NeighborHistory)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate vectors: %w", err)
	}

	var neighbors []scoredNeighbor
	for _, id := range ids {
		sums := make(map[uuid.UUID]float64, len(vectors[id]))
		for itemID, w := range vectors[id] {
			sums[itemID] = w.Sum
		}
		sim := intersectionCosine(target, sums)
		if sim <= e.config.SimilarityThreshold {
			continue
		}
		neighbors = append(neighbors, scoredNeighbor{UserID: id, Similarity: sim, SharedItems: shared[id]})
	}

	sort.SliceStable(neighbors, func(i, j int) bool {
		if neighbors[i].Similarity != neighbors[j].Similarity {
			return neighbors[i].Similarity > neighbors[j].Similarity
		}
		return neighbors[i].SharedItems > neighbors[j].SharedItems
	})
	if e.config.TopK > 0 && len(neighbors) > e.config.TopK {
		neighbors = neighbors[:e.config.TopK]
	}
	return neighbors, nil
}

// popular is the cold-start path: recently popular items the user has not touched.
func (e *CollaborativeEstimator) popular(ctx context.Context, seen map[uuid.UUID]float64, limit int) ([]models.CandidateScore, error) {
	fetch := limit + len(seen)
	stats, err := e.interactions.PopularItems(ctx, e.now().Add(-e.config.PopularWindow), fetch)
	if err != nil {
		return nil, fmt.Errorf("failed to load popular items: %w", err)
	}
	if len(stats) == 0 {
		// Nothing in the window; widen to all time.
		if stats, err = e.interactions.PopularItems(ctx, time.Time{}, fetch); err != nil {
			return nil, fmt.Errorf("failed to load popular items: %w", err)
		}
	}

	results := make([]models.CandidateScore, 0, len(stats))
	for _, s := range stats {
		if _, ok := seen[s.ItemID]; ok {
			continue
		}
		results = append(results, models.CandidateScore{
			ItemID:     s.ItemID,
			Score:      clamp01(math.Log(float64(s.Count)+1)/10 + 0.5*clamp01(s.AvgWeight/models.MaxInteractionWeight)),
			Confidence: popularConfidence,
			Reasons:    models.NewReasonSet(models.ReasonPopular),
		})
	}

	sortCandidates(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func collaborativeConfidence(contributorCount int, weightSum float64) float64 {
	// More contributors and higher similarity mass = higher confidence
	contributorFactor := math.Min(float64(contributorCount)/10.0, 1.0)
	weightFactor := math.Min(weightSum/5.0, 1.0)
	return (contributorFactor + weightFactor) / 2.0
}

// sortCandidates orders by score descending; ties keep a deterministic item order.
func sortCandidates(items []models.CandidateScore) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].ItemID.String() < items[j].ItemID.String()
	})
}

func sortedKeys[V any](m map[uuid.UUID]V) []uuid.UUID {
	keys := make([]uuid.UUID, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}
