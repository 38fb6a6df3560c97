package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/temcen/eventrec/pkg/models"
)

func TestFeatureExtractor_ItemVector(t *testing.T) {
	fe := NewFeatureExtractor()
	price := 45.0
	starts := time.Date(2026, 5, 1, 19, 30, 0, 0, time.UTC)

	item := models.Item{
		ID:          uuid.New(),
		Title:       "Jazz night at the harbour",
		Description: "Live jazz quartet",
		Category:    "Music",
		Location:    "Lisbon",
		Price:       &price,
		Capacity:    300,
		Tags:        []string{"jazz", "live"},
		StartsAt:    &starts,
	}

	v := fe.ItemVector(item)
	require.Len(t, v, FeatureDim)
	assert.Equal(t, 48, FeatureDim)
	assert.InDelta(t, 1, floats.Norm(v, 2), 1e-9)

	// Category and location are normalized before hashing.
	assert.Greater(t, v[categoryOffset+hashBucket("music", categoryBlock)], 0.0)
	assert.Greater(t, v[locationOffset+hashBucket("lisbon", locationBlock)], 0.0)
	assert.Greater(t, v[priceOffset+indexOf(models.PriceRanges, models.PriceMid)], 0.0)
	assert.Greater(t, v[timeOffset+indexOf(models.TimeSlots, models.TimeEvening)], 0.0)
	assert.Greater(t, v[capacityOffset+2], 0.0)

	empty := fe.ItemVector(models.Item{ID: uuid.New()})
	assert.Zero(t, floats.Norm(empty, 2))
}

func TestFeatureExtractor_ProjectPreferences(t *testing.T) {
	fe := NewFeatureExtractor()
	price := 10.0

	item := models.Item{Category: "music", Location: "porto", Price: &price}
	userVec := fe.ProjectPreferences(map[string]float64{
		"category:music":     0.8,
		"location:porto":     0.4,
		"price_range:budget": 0.2,
		"malformed":          1,
		"time:":              1,
	})

	require.Len(t, userVec, FeatureDim)
	assert.InDelta(t, 1, floats.Norm(userVec, 2), 1e-9)
	assert.Greater(t, cosineSimilarity(userVec, fe.ItemVector(item)), 0.85)

	features := fe.ModelFeatures(fe.ItemVector(item), userVec)
	require.Len(t, features, FeatureDim+1)
	assert.InDelta(t, cosineSimilarity(userVec, fe.ItemVector(item)), features[FeatureDim], 1e-9)
}

func TestExtractKeywords(t *testing.T) {
	got := extractKeywords("The best Jazz event in Lisbon, jazz at the river!")
	assert.Equal(t, []string{"best", "jazz", "lisbon", "river"}, got)
	assert.Nil(t, extractKeywords("   "))
}

func TestCapacityBucket(t *testing.T) {
	assert.Equal(t, 0, capacityBucket(10))
	assert.Equal(t, 1, capacityBucket(50))
	assert.Equal(t, 2, capacityBucket(999))
	assert.Equal(t, 3, capacityBucket(5000))
}
