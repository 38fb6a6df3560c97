package services

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/eventrec/internal/config"
	"github.com/temcen/eventrec/pkg/models"
)

type stubCollaborative struct {
	results []models.CandidateScore
	err     error
}

func (s *stubCollaborative) Estimate(ctx context.Context, userID uuid.UUID, limit int) ([]models.CandidateScore, error) {
	return s.results, s.err
}

type stubContent struct {
	results []models.CandidateScore
	err     error
}

func (s *stubContent) Estimate(ctx context.Context, profile *models.UserProfile, filters models.Filters, limit int) ([]models.CandidateScore, error) {
	return s.results, s.err
}

type stubPreferences struct {
	profile *models.UserProfile
	err     error
}

func (s *stubPreferences) Profile(ctx context.Context, userID uuid.UUID) (*models.UserProfile, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.profile == nil {
		return &models.UserProfile{UserID: userID}, nil
	}
	return s.profile, nil
}

type stubCatalog struct {
	items []models.Item
	err   error
}

func (s *stubCatalog) GetItems(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Item, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[uuid.UUID]models.Item)
	for _, it := range s.items {
		out[it.ID] = it
	}
	return out, nil
}

func (s *stubCatalog) QueryItems(ctx context.Context, filters models.Filters, limit int) ([]models.Item, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.items, nil
}

func (s *stubCatalog) RecentItems(ctx context.Context, limit int) ([]models.Item, error) {
	return s.QueryItems(ctx, models.Filters{}, limit)
}

type stubModel struct {
	scores map[uuid.UUID]float64
	err    error
}

func (m *stubModel) Name() string { return "stub-ranker" }

func (m *stubModel) Predict(ctx context.Context, input ModelInput) (float64, error) {
	if m.err != nil {
		return 0, m.err
	}
	if len(input.Features) != FeatureDim+1 {
		return 0, errors.New("unexpected feature length")
	}
	return m.scores[input.ItemID], nil
}

type stubRegistry struct {
	handle ModelHandle
	err    error
}

func (r *stubRegistry) GetActiveModel(ctx context.Context, modelType string) (ModelHandle, error) {
	return r.handle, r.err
}

type stubResolver struct {
	assignment  *VariantAssignment
	err         error
	impressions []string
}

func (r *stubResolver) ResolveVariant(ctx context.Context, userID uuid.UUID, experimentID string) (*VariantAssignment, error) {
	return r.assignment, r.err
}

func (r *stubResolver) RecordImpression(ctx context.Context, experimentID, variant string, userID uuid.UUID) error {
	r.impressions = append(r.impressions, experimentID+"/"+variant)
	return nil
}

// mapCache keeps results in process, keyed by user and variant.
type mapCache struct {
	results map[string]*models.RecommendationResult
	hits    int
}

func (c *mapCache) Get(ctx context.Context, req *models.RecommendationRequest, variant string) (*models.RecommendationResult, bool) {
	r, ok := c.results[req.UserID.String()+"/"+variant]
	if ok {
		c.hits++
	}
	return r, ok
}

func (c *mapCache) Set(ctx context.Context, req *models.RecommendationRequest, variant string, result *models.RecommendationResult) {
	if c.results == nil {
		c.results = make(map[string]*models.RecommendationResult)
	}
	c.results[req.UserID.String()+"/"+variant] = result
}

type engineFixture struct {
	collaborative *stubCollaborative
	content       *stubContent
	catalog       *stubCatalog
	registry      ModelRegistry
	resolver      VariantResolver
	cache         resultCache
	config        config.RecommendationConfig
}

func (f *engineFixture) build() *RecommendationEngine {
	var cache resultCache = NewRecommendationCache(nil, 0, testLogger())
	if f.cache != nil {
		cache = f.cache
	}
	return NewRecommendationEngine(
		f.collaborative, f.content, &stubPreferences{}, f.catalog, f.registry, f.resolver,
		cache, &f.config, testLogger(),
	)
}

func newEngineFixture() *engineFixture {
	return &engineFixture{
		collaborative: &stubCollaborative{},
		content:       &stubContent{},
		catalog:       &stubCatalog{},
		config:        config.Default().Recommendation,
	}
}

func itemIDs(items []models.CandidateScore) []uuid.UUID {
	ids := make([]uuid.UUID, len(items))
	for i, it := range items {
		ids[i] = it.ItemID
	}
	return ids
}

func sortedIDs(ids ...uuid.UUID) []uuid.UUID {
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

func TestRecommendationEngine_Fusion(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	collaborative := []models.CandidateScore{
		{ItemID: a, Score: 0.8, Confidence: 0.5, Reasons: models.NewReasonSet(models.ReasonSimilarUsers)},
		{ItemID: b, Score: 0.5, Confidence: 0.4, Reasons: models.NewReasonSet(models.ReasonSimilarUsers)},
	}
	content := []models.CandidateScore{
		{ItemID: a, Score: 0.5, Confidence: 0.7, Reasons: models.NewReasonSet(models.ReasonContentMatch)},
		{ItemID: c, Score: 0.9, Confidence: 0.3, Reasons: models.NewReasonSet(models.ReasonCategoryMatch)},
	}

	t.Run("blends both estimators with configured weights", func(t *testing.T) {
		f := newEngineFixture()
		f.collaborative.results = collaborative
		f.content.results = content

		result, err := f.build().GetRecommendations(ctx, &models.RecommendationRequest{UserID: userID})
		require.NoError(t, err)
		require.Len(t, result.Items, 3)
		assert.Equal(t, models.AlgorithmHybrid, result.Algorithm)
		assert.Equal(t, []uuid.UUID{a, c, b}, itemIDs(result.Items))

		first := result.Items[0]
		assert.InDelta(t, 0.8*0.6+0.5*0.4, first.Score, 1e-9)
		assert.InDelta(t, 0.7, first.Confidence, 1e-9)
		assert.Equal(t, models.NewReasonSet(models.ReasonContentMatch, models.ReasonSimilarUsers), first.Reasons)
		assert.Equal(t, 1, first.Rank)

		assert.InDelta(t, 0.9*0.4, result.Items[1].Score, 1e-9)
		assert.InDelta(t, 0.5*0.6, result.Items[2].Score, 1e-9)
		assert.Equal(t, 3, result.Items[2].Rank)
	})

	t.Run("excluded items are never returned", func(t *testing.T) {
		f := newEngineFixture()
		f.collaborative.results = collaborative
		f.content.results = content

		result, err := f.build().GetRecommendations(ctx, &models.RecommendationRequest{UserID: userID, ExcludeIDs: []uuid.UUID{a, c}})
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{b}, itemIDs(result.Items))
	})

	t.Run("limit truncates", func(t *testing.T) {
		f := newEngineFixture()
		f.collaborative.results = collaborative
		f.content.results = content

		result, err := f.build().GetRecommendations(ctx, &models.RecommendationRequest{UserID: userID, Limit: 1})
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{a}, itemIDs(result.Items))
	})

	t.Run("failed estimator contributes nothing", func(t *testing.T) {
		f := newEngineFixture()
		f.collaborative.results = collaborative
		f.content.err = errors.New("catalog down")

		result, err := f.build().GetRecommendations(ctx, &models.RecommendationRequest{UserID: userID})
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{a, b}, itemIDs(result.Items))
		assert.InDelta(t, 0.8*0.6, result.Items[0].Score, 1e-9)
	})

	t.Run("both estimators failing yields an empty fallback", func(t *testing.T) {
		f := newEngineFixture()
		f.collaborative.err = errors.New("timeout")
		f.content.err = errors.New("timeout")

		result, err := f.build().GetRecommendations(ctx, &models.RecommendationRequest{UserID: userID})
		require.NoError(t, err)
		assert.Empty(t, result.Items)
		assert.Equal(t, models.AlgorithmFallback, result.Algorithm)
	})

	t.Run("cold start paths are labelled fallback", func(t *testing.T) {
		f := newEngineFixture()
		f.collaborative.results = []models.CandidateScore{{ItemID: a, Score: 0.3, Reasons: models.NewReasonSet(models.ReasonPopular)}}
		f.content.results = []models.CandidateScore{{ItemID: c, Score: 0.4, Reasons: models.NewReasonSet(models.ReasonTrending)}}

		result, err := f.build().GetRecommendations(ctx, &models.RecommendationRequest{UserID: userID})
		require.NoError(t, err)
		assert.Len(t, result.Items, 2)
		assert.Equal(t, models.AlgorithmFallback, result.Algorithm)
	})
}

func TestRecommendationEngine_Filters(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()
	music, sports := uuid.New(), uuid.New()

	f := newEngineFixture()
	f.collaborative.results = []models.CandidateScore{
		{ItemID: music, Score: 0.6, Reasons: models.NewReasonSet(models.ReasonSimilarUsers)},
		{ItemID: sports, Score: 0.9, Reasons: models.NewReasonSet(models.ReasonSimilarUsers)},
	}
	f.catalog.items = []models.Item{
		{ID: music, Category: "music", Price: floatPtr(15)},
		{ID: sports, Category: "sports", Price: floatPtr(15)},
	}

	result, err := f.build().GetRecommendations(ctx, &models.RecommendationRequest{
		UserID:  userID,
		Filters: models.Filters{Category: "music"},
	})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{music}, itemIDs(result.Items))

	result, err = f.build().GetRecommendations(ctx, &models.RecommendationRequest{
		UserID:  userID,
		Filters: models.Filters{Expression: "item.category == 'sports'"},
	})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{sports}, itemIDs(result.Items))

	t.Run("unverifiable filters serve nothing", func(t *testing.T) {
		f.catalog.err = errors.New("catalog down")
		defer func() { f.catalog.err = nil }()

		result, err := f.build().GetRecommendations(ctx, &models.RecommendationRequest{
			UserID:  userID,
			Filters: models.Filters{Category: "music"},
		})
		require.NoError(t, err)
		assert.Empty(t, result.Items)
	})

	t.Run("invalid filters are rejected", func(t *testing.T) {
		_, err := f.build().GetRecommendations(ctx, &models.RecommendationRequest{
			UserID:  userID,
			Filters: models.Filters{Expression: "item.price >"},
		})
		assert.True(t, IsValidation(err))
	})
}

func TestRecommendationEngine_Validation(t *testing.T) {
	engine := newEngineFixture().build()
	ctx := context.Background()

	_, err := engine.GetRecommendations(ctx, &models.RecommendationRequest{})
	assert.True(t, IsValidation(err))

	_, err = engine.GetRecommendations(ctx, &models.RecommendationRequest{UserID: uuid.New(), Limit: 101})
	assert.True(t, IsValidation(err))

	_, err = engine.GetRecommendations(ctx, &models.RecommendationRequest{UserID: uuid.New(), Limit: -1})
	assert.True(t, IsValidation(err))

	_, err = engine.GetRecommendations(ctx, nil)
	assert.True(t, IsValidation(err))
}

func TestRecommendationEngine_ModelPath(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()
	high, low, mid := uuid.New(), uuid.New(), uuid.New()
	fused := uuid.New()

	fixture := func(model *stubModel) *engineFixture {
		f := newEngineFixture()
		f.catalog.items = []models.Item{{ID: high, Category: "music"}, {ID: low, Category: "music"}, {ID: mid, Category: "art"}}
		f.collaborative.results = []models.CandidateScore{{ItemID: fused, Score: 0.5, Reasons: models.NewReasonSet(models.ReasonSimilarUsers)}}
		f.registry = &stubRegistry{handle: model}
		return f
	}

	t.Run("active model ranks the pool above the cutoff", func(t *testing.T) {
		f := fixture(&stubModel{scores: map[uuid.UUID]float64{high: 0.9, low: 0.2, mid: 0.5}})

		result, err := f.build().GetRecommendations(ctx, &models.RecommendationRequest{UserID: userID})
		require.NoError(t, err)
		assert.Equal(t, models.AlgorithmModel, result.Algorithm)
		assert.Equal(t, []uuid.UUID{high, mid}, itemIDs(result.Items))
		assert.Equal(t, models.NewReasonSet(models.ReasonModel), result.Items[0].Reasons)
		assert.InDelta(t, 0.9, result.Items[0].Confidence, 1e-9)
	})

	t.Run("excludes and filters apply to the model path", func(t *testing.T) {
		f := fixture(&stubModel{scores: map[uuid.UUID]float64{high: 0.9, low: 0.2, mid: 0.5}})

		result, err := f.build().GetRecommendations(ctx, &models.RecommendationRequest{
			UserID:     userID,
			ExcludeIDs: []uuid.UUID{high},
			Filters:    models.Filters{Category: "art"},
		})
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{mid}, itemIDs(result.Items))
	})

	t.Run("nothing above cutoff is still a model result", func(t *testing.T) {
		f := fixture(&stubModel{scores: map[uuid.UUID]float64{high: 0.1}})

		result, err := f.build().GetRecommendations(ctx, &models.RecommendationRequest{UserID: userID})
		require.NoError(t, err)
		assert.Equal(t, models.AlgorithmModel, result.Algorithm)
		assert.Empty(t, result.Items)
	})

	t.Run("prediction failure falls back to fusion", func(t *testing.T) {
		f := fixture(&stubModel{err: context.DeadlineExceeded})

		result, err := f.build().GetRecommendations(ctx, &models.RecommendationRequest{UserID: userID})
		require.NoError(t, err)
		assert.Equal(t, models.AlgorithmHybrid, result.Algorithm)
		assert.Equal(t, []uuid.UUID{fused}, itemIDs(result.Items))
	})

	t.Run("no active model falls back to fusion", func(t *testing.T) {
		f := fixture(nil)
		f.registry = &stubRegistry{}

		result, err := f.build().GetRecommendations(ctx, &models.RecommendationRequest{UserID: userID})
		require.NoError(t, err)
		assert.Equal(t, models.AlgorithmHybrid, result.Algorithm)
	})

	t.Run("registry failure falls back to fusion", func(t *testing.T) {
		f := fixture(nil)
		f.registry = &stubRegistry{err: errors.New("registry unavailable")}

		result, err := f.build().GetRecommendations(ctx, &models.RecommendationRequest{UserID: userID})
		require.NoError(t, err)
		assert.Equal(t, models.AlgorithmHybrid, result.Algorithm)
	})

	t.Run("model disabled in config", func(t *testing.T) {
		f := fixture(&stubModel{scores: map[uuid.UUID]float64{high: 0.9}})
		f.config.Model.Enabled = false

		result, err := f.build().GetRecommendations(ctx, &models.RecommendationRequest{UserID: userID})
		require.NoError(t, err)
		assert.Equal(t, models.AlgorithmHybrid, result.Algorithm)
	})
}

func TestRecommendationEngine_Experiments(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()
	a, c := uuid.New(), uuid.New()
	contentOnly, noCollaborative, noModel := 1.0, 0.0, false

	newFixture := func(resolver *stubResolver) *engineFixture {
		f := newEngineFixture()
		f.collaborative.results = []models.CandidateScore{{ItemID: a, Score: 0.9, Reasons: models.NewReasonSet(models.ReasonSimilarUsers)}}
		f.content.results = []models.CandidateScore{{ItemID: c, Score: 0.5, Reasons: models.NewReasonSet(models.ReasonContentMatch)}}
		f.resolver = resolver
		return f
	}

	t.Run("variant overrides fusion weights and records an impression", func(t *testing.T) {
		resolver := &stubResolver{assignment: &VariantAssignment{
			Variant: "content_heavy",
			Active:  true,
			Config: models.VariantConfig{
				CollaborativeWeight: &noCollaborative,
				ContentWeight:       &contentOnly,
				UseModel:            &noModel,
			},
		}}
		engine := newFixture(resolver).build()
		engine.RecordImpressions(true)

		result, err := engine.GetRecommendations(ctx, &models.RecommendationRequest{UserID: userID, ExperimentID: "exp-1"})
		require.NoError(t, err)
		assert.Equal(t, "content_heavy", result.Variant)
		assert.Equal(t, []uuid.UUID{c, a}, itemIDs(result.Items))
		assert.InDelta(t, 0.5, result.Items[0].Score, 1e-9)
		assert.Zero(t, result.Items[1].Score)
		assert.Equal(t, []string{"exp-1/content_heavy"}, resolver.impressions)
	})

	t.Run("cached results still count an impression", func(t *testing.T) {
		resolver := &stubResolver{assignment: &VariantAssignment{Variant: "treatment", Active: true}}
		f := newFixture(resolver)
		cache := &mapCache{}
		f.cache = cache
		engine := f.build()
		engine.RecordImpressions(true)

		req := &models.RecommendationRequest{UserID: userID, ExperimentID: "exp-1"}
		first, err := engine.GetRecommendations(ctx, req)
		require.NoError(t, err)
		second, err := engine.GetRecommendations(ctx, req)
		require.NoError(t, err)

		assert.Equal(t, 1, cache.hits)
		assert.Same(t, first, second)
		assert.Equal(t, []string{"exp-1/treatment", "exp-1/treatment"}, resolver.impressions)
	})

	t.Run("inactive experiment serves control without impressions", func(t *testing.T) {
		resolver := &stubResolver{assignment: &VariantAssignment{Variant: models.ControlVariant}}
		engine := newFixture(resolver).build()
		engine.RecordImpressions(true)

		result, err := engine.GetRecommendations(ctx, &models.RecommendationRequest{UserID: userID, ExperimentID: "exp-1"})
		require.NoError(t, err)
		assert.Equal(t, models.ControlVariant, result.Variant)
		assert.Empty(t, resolver.impressions)
	})

	t.Run("unknown experiment is surfaced", func(t *testing.T) {
		resolver := &stubResolver{err: notFoundError("get experiment", "experiment missing not found")}

		_, err := newFixture(resolver).build().GetRecommendations(ctx, &models.RecommendationRequest{UserID: userID, ExperimentID: "missing"})
		assert.True(t, IsNotFound(err))
	})

	t.Run("resolver outage is absorbed", func(t *testing.T) {
		resolver := &stubResolver{err: errors.New("store unavailable")}

		result, err := newFixture(resolver).build().GetRecommendations(ctx, &models.RecommendationRequest{UserID: userID, ExperimentID: "exp-1"})
		require.NoError(t, err)
		assert.Empty(t, result.Variant)
		assert.Equal(t, sortedIDs(a, c), sortedIDs(itemIDs(result.Items)...))
	})
}
