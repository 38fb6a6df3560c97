package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/eventrec/internal/config"
	"github.com/temcen/eventrec/internal/repository"
	"github.com/temcen/eventrec/internal/services"
	"github.com/temcen/eventrec/pkg/models"
)

func seedItems(t *testing.T, store *repository.MemoryStore, items ...models.Item) {
	t.Helper()
	for i := range items {
		items[i].Active = true
		if items[i].CreatedAt.IsZero() {
			items[i].CreatedAt = time.Now()
		}
		require.NoError(t, store.UpsertItem(context.Background(), &items[i]))
	}
}

func newContentEstimator(store *repository.MemoryStore, cosine float64) *services.ContentEstimator {
	cfg := config.Default().Content
	cfg.CosineWeight = cosine
	return services.NewContentEstimator(store, nil, &cfg, quietLogger())
}

func TestContentEstimator_NormalizesByMatchedWeights(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()
	now := time.Now()
	evening := time.Date(2026, 6, 1, 19, 0, 0, 0, time.UTC)

	profile := &models.UserProfile{UserID: userID, Preferences: []models.Preference{
		models.NewPreference(userID, models.AttributeCategory, "music", 0.8, 0.5, now),
		models.NewPreference(userID, models.AttributeLocation, "lisbon", 0.6, 0.4, now),
		models.NewPreference(userID, models.AttributePriceRange, models.PriceBudget, 0.5, 0.3, now),
		models.NewPreference(userID, models.AttributeTime, models.TimeEvening, 0.4, 0.2, now),
	}}

	full := models.Item{ID: uuid.New(), Title: "Fado", Category: "music", Location: "Lisbon", Price: ptr(10.0), StartsAt: &evening}
	partial := models.Item{ID: uuid.New(), Title: "Rock", Category: "MUSIC", Location: "Porto", Price: ptr(50.0)}
	unpriced := models.Item{ID: uuid.New(), Title: "Choir", Category: "music", Location: "Lisbon"}
	mismatch := models.Item{ID: uuid.New(), Title: "Expo", Category: "art", Location: "Porto", Price: ptr(200.0)}

	store := repository.NewMemoryStore()
	seedItems(t, store, full, partial, unpriced, mismatch)

	results, err := newContentEstimator(store, 0).Estimate(ctx, profile, models.Filters{}, 10)
	require.NoError(t, err)

	tests := []struct {
		name       string
		item       models.Item
		score      float64
		confidence float64
		reasons    []models.ReasonTag
	}{
		{
			name:       "every signal matches",
			item:       full,
			score:      1,
			confidence: (0.5 + 0.4 + 0.3 + 0.2) / 4,
			reasons:    []models.ReasonTag{models.ReasonCategoryMatch, models.ReasonLocationMatch, models.ReasonPriceMatch, models.ReasonTimeMatch},
		},
		{
			// no start time, so the time weight is left out of the normalizer
			name:       "category only",
			item:       partial,
			score:      0.30 / (0.30 + 0.20 + 0.15),
			confidence: 0.5,
			reasons:    []models.ReasonTag{models.ReasonCategoryMatch},
		},
		{
			name:       "unpriced item is judged on the signals it has",
			item:       unpriced,
			score:      1,
			confidence: (0.5 + 0.4) / 2,
			reasons:    []models.ReasonTag{models.ReasonCategoryMatch, models.ReasonLocationMatch},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := findItem(results, tt.item.ID)
			require.True(t, ok)
			assert.InDelta(t, tt.score, got.Score, 1e-9)
			assert.InDelta(t, tt.confidence, got.Confidence, 1e-9)
			assert.ElementsMatch(t, tt.reasons, []models.ReasonTag(got.Reasons))
		})
	}

	t.Run("items with no matching signal are dropped", func(t *testing.T) {
		_, ok := findItem(results, mismatch.ID)
		assert.False(t, ok)
		assert.Len(t, results, 3)
	})
}

func TestContentEstimator_CosineTerm(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	profile := &models.UserProfile{UserID: userID, Preferences: []models.Preference{
		models.NewPreference(userID, models.AttributeCategory, "music", 1, 1, time.Now()),
	}}
	item := models.Item{ID: uuid.New(), Category: "music"}

	store := repository.NewMemoryStore()
	seedItems(t, store, item)

	results, err := newContentEstimator(store, 0.35).Estimate(ctx, profile, models.Filters{}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)

	// The item vector is exactly the category bucket, so cosine is 1.
	assert.InDelta(t, (0.30+0.35)/(0.30+0.35), results[0].Score, 1e-9)
	assert.True(t, results[0].Reasons.Contains(models.ReasonContentMatch))
	assert.True(t, results[0].Reasons.Contains(models.ReasonCategoryMatch))
}

func TestContentEstimator_TrendingFallback(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	fresh := models.Item{ID: uuid.New(), Title: "Opening", Category: "art", CreatedAt: time.Now()}
	week := models.Item{ID: uuid.New(), Title: "Closing", Category: "art", CreatedAt: time.Now().Add(-7 * 24 * time.Hour)}

	tests := []struct {
		name    string
		profile *models.UserProfile
	}{
		{"empty profile", &models.UserProfile{UserID: userID}},
		{"nil profile", nil},
		{"no item matches the profile", &models.UserProfile{UserID: userID, Preferences: []models.Preference{
			models.NewPreference(userID, models.AttributeCategory, "sports", 1, 1, time.Now()),
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := repository.NewMemoryStore()
			seedItems(t, store, fresh, week)

			results, err := newContentEstimator(store, 0).Estimate(ctx, tt.profile, models.Filters{}, 10)
			require.NoError(t, err)
			require.Len(t, results, 2)

			assert.Equal(t, fresh.ID, results[0].ItemID)
			assert.InDelta(t, 0.5, results[0].Score, 1e-3)
			assert.Equal(t, week.ID, results[1].ItemID)
			assert.InDelta(t, 0.25, results[1].Score, 1e-3)
			for _, r := range results {
				assert.InDelta(t, 0.3, r.Confidence, 1e-9)
				assert.Equal(t, models.NewReasonSet(models.ReasonTrending), r.Reasons)
			}
		})
	}
}
