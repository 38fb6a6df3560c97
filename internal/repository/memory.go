package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/temcen/eventrec/internal/services"
	"github.com/temcen/eventrec/pkg/models"
)

type preferenceKey struct {
	userID        uuid.UUID
	attributeType models.AttributeType
	value         string
}

// MemoryStore implements every storage port in process. Each operation holds
// a single lock, so preference upserts are serialized.
type MemoryStore struct {
	mu           sync.RWMutex
	interactions []models.Interaction
	preferences  map[preferenceKey]models.Preference
	items        map[uuid.UUID]models.Item
	experiments  map[string]models.Experiment
	metrics      map[string][]models.ExperimentMetric
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		preferences: make(map[preferenceKey]models.Preference),
		items:       make(map[uuid.UUID]models.Item),
		experiments: make(map[string]models.Experiment),
		metrics:     make(map[string][]models.ExperimentMetric),
	}
}

func (s *MemoryStore) Append(ctx context.Context, in *models.Interaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interactions = append(s.interactions, *in)
	return nil
}

// recentLocked returns a user's interactions newest first.
func (s *MemoryStore) recentLocked(userID uuid.UUID, limit int) []models.Interaction {
	var out []models.Interaction
	for i := len(s.interactions) - 1; i >= 0; i-- {
		if s.interactions[i].UserID == userID {
			out = append(out, s.interactions[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *MemoryStore) RecentByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.Interaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recentLocked(userID, limit), nil
}

func (s *MemoryStore) UserItemWeights(ctx context.Context, userIDs []uuid.UUID, perUserLimit int) (map[uuid.UUID]map[uuid.UUID]models.ItemWeight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[uuid.UUID]map[uuid.UUID]models.ItemWeight, len(userIDs))
	for _, userID := range userIDs {
		for _, in := range s.recentLocked(userID, perUserLimit) {
			if in.ItemID == nil {
				continue
			}
			if result[userID] == nil {
				result[userID] = make(map[uuid.UUID]models.ItemWeight)
			}
			w := result[userID][*in.ItemID]
			w.Sum += in.Weight
			w.Count++
			result[userID][*in.ItemID] = w
		}
	}
	return result, nil
}

func (s *MemoryStore) ItemStats(ctx context.Context, itemIDs []uuid.UUID) (map[uuid.UUID]models.ItemStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[uuid.UUID]struct{}, len(itemIDs))
	for _, id := range itemIDs {
		wanted[id] = struct{}{}
	}
	return s.statsLocked(func(in models.Interaction) bool {
		_, ok := wanted[*in.ItemID]
		return ok
	}), nil
}

func (s *MemoryStore) statsLocked(keep func(models.Interaction) bool) map[uuid.UUID]models.ItemStats {
	sums := make(map[uuid.UUID]float64)
	stats := make(map[uuid.UUID]models.ItemStats)
	for _, in := range s.interactions {
		if in.ItemID == nil || !keep(in) {
			continue
		}
		st := stats[*in.ItemID]
		st.ItemID = *in.ItemID
		st.Count++
		sums[*in.ItemID] += in.Weight
		stats[*in.ItemID] = st
	}
	for id, st := range stats {
		st.AvgWeight = sums[id] / float64(st.Count)
		stats[id] = st
	}
	return stats
}

func (s *MemoryStore) PopularItems(ctx context.Context, since time.Time, limit int) ([]models.ItemStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := s.statsLocked(func(in models.Interaction) bool { return !in.Timestamp.Before(since) })
	out := make([]models.ItemStats, 0, len(stats))
	for _, st := range stats {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].AvgWeight != out[j].AvgWeight {
			return out[i].AvgWeight > out[j].AvgWeight
		}
		return out[i].ItemID.String() < out[j].ItemID.String()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CandidateNeighbors(ctx context.Context, userID uuid.UUID, itemIDs []uuid.UUID, minShared, limit int) ([]models.NeighborCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[uuid.UUID]struct{}, len(itemIDs))
	for _, id := range itemIDs {
		wanted[id] = struct{}{}
	}
	shared := make(map[uuid.UUID]map[uuid.UUID]struct{})
	for _, in := range s.interactions {
		if in.ItemID == nil || in.UserID == userID {
			continue
		}
		if _, ok := wanted[*in.ItemID]; !ok {
			continue
		}
		if shared[in.UserID] == nil {
			shared[in.UserID] = make(map[uuid.UUID]struct{})
		}
		shared[in.UserID][*in.ItemID] = struct{}{}
	}

	var out []models.NeighborCandidate
	for id, items := range shared {
		if len(items) >= minShared {
			out = append(out, models.NeighborCandidate{UserID: id, SharedItems: len(items)})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SharedItems != out[j].SharedItems {
			return out[i].SharedItems > out[j].SharedItems
		}
		return out[i].UserID.String() < out[j].UserID.String()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) GetPreference(ctx context.Context, userID uuid.UUID, attributeType models.AttributeType, value string) (*models.Preference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.preferences[preferenceKey{userID, attributeType, value}]
	if !ok {
		return nil, services.ErrNotFound
	}
	return &p, nil
}

func (s *MemoryStore) UpsertPreference(ctx context.Context, p *models.Preference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preferences[preferenceKey{p.UserID, p.AttributeType, p.Value}] = *p
	return nil
}

func (s *MemoryStore) ListPreferences(ctx context.Context, userID uuid.UUID, activeOnly bool) ([]models.Preference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Preference
	for k, p := range s.preferences {
		if k.userID == userID && (!activeOnly || p.IsActive) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].Key() < out[j].Key()
	})
	return out, nil
}

func (s *MemoryStore) DecayPreferences(ctx context.Context, policy models.DecayPolicy, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := 0
	for k, p := range s.preferences {
		if p.Decay(policy, now) {
			s.preferences[k] = p
			changed++
		}
	}
	return changed, nil
}

// UpsertItem adds or replaces a catalog item.
func (s *MemoryStore) UpsertItem(ctx context.Context, it *models.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[it.ID] = *it
	return nil
}

func (s *MemoryStore) GetItems(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[uuid.UUID]models.Item, len(ids))
	for _, id := range ids {
		if it, ok := s.items[id]; ok {
			out[id] = it
		}
	}
	return out, nil
}

func (s *MemoryStore) QueryItems(ctx context.Context, f models.Filters, limit int) ([]models.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Item
	for _, it := range s.items {
		if it.Active && matchesStructured(it, f) {
			out = append(out, it)
		}
	}
	sortByCreatedDesc(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) RecentItems(ctx context.Context, limit int) ([]models.Item, error) {
	return s.QueryItems(ctx, models.Filters{}, limit)
}

// matchesStructured mirrors the SQL pushdown in PostgresItemCatalog.
func matchesStructured(it models.Item, f models.Filters) bool {
	if f.Category != "" && !strings.EqualFold(it.Category, f.Category) {
		return false
	}
	if f.Location != "" && !strings.Contains(strings.ToLower(it.Location), strings.ToLower(f.Location)) {
		return false
	}
	if f.MinPrice != nil && (it.Price == nil || *it.Price < *f.MinPrice) {
		return false
	}
	if f.MaxPrice != nil && (it.Price == nil || *it.Price > *f.MaxPrice) {
		return false
	}
	if f.StartsAfter != nil && (it.StartsAt == nil || it.StartsAt.Before(*f.StartsAfter)) {
		return false
	}
	if f.StartsBefore != nil && (it.StartsAt == nil || it.StartsAt.After(*f.StartsBefore)) {
		return false
	}
	return true
}

func sortByCreatedDesc(items []models.Item) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID.String() < items[j].ID.String()
	})
}

func (s *MemoryStore) CreateExperiment(ctx context.Context, exp *models.Experiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.experiments[exp.ID] = cloneExperiment(*exp)
	return nil
}

func (s *MemoryStore) GetExperiment(ctx context.Context, id string) (*models.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exp, ok := s.experiments[id]
	if !ok {
		return nil, services.ErrNotFound
	}
	clone := cloneExperiment(exp)
	return &clone, nil
}

func (s *MemoryStore) ListExperiments(ctx context.Context, status models.ExperimentStatus) ([]models.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Experiment
	for _, exp := range s.experiments {
		if status == "" || exp.Status == status {
			out = append(out, cloneExperiment(exp))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) UpdateExperiment(ctx context.Context, exp *models.Experiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.experiments[exp.ID]; !ok {
		return services.ErrNotFound
	}
	s.experiments[exp.ID] = cloneExperiment(*exp)
	return nil
}

func (s *MemoryStore) AppendMetric(ctx context.Context, m *models.ExperimentMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics[m.ExperimentID] = append(s.metrics[m.ExperimentID], *m)
	return nil
}

func (s *MemoryStore) ListMetrics(ctx context.Context, experimentID string) ([]models.ExperimentMetric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ExperimentMetric, len(s.metrics[experimentID]))
	copy(out, s.metrics[experimentID])
	return out, nil
}

// cloneExperiment copies the slices so callers cannot mutate stored state.
func cloneExperiment(exp models.Experiment) models.Experiment {
	exp.Variants = append([]models.Variant(nil), exp.Variants...)
	exp.TargetMetrics = append([]string(nil), exp.TargetMetrics...)
	if exp.Results != nil {
		results := *exp.Results
		results.Variants = append([]models.VariantSummary(nil), results.Variants...)
		exp.Results = &results
	}
	return exp
}
