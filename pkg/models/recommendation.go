package models

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

type ReasonTag string

const (
	ReasonSimilarUsers  ReasonTag = "similar_users"
	ReasonPopular       ReasonTag = "popular"
	ReasonContentMatch  ReasonTag = "content_match"
	ReasonCategoryMatch ReasonTag = "category_match"
	ReasonLocationMatch ReasonTag = "location_match"
	ReasonPriceMatch    ReasonTag = "price_match"
	ReasonTimeMatch     ReasonTag = "time_match"
	ReasonTrending      ReasonTag = "trending"
	ReasonModel         ReasonTag = "ml_model"
)

// ReasonSet is a sorted, duplicate-free list of reason tags.
type ReasonSet []ReasonTag

func NewReasonSet(tags ...ReasonTag) ReasonSet {
	var s ReasonSet
	return s.Union(tags...)
}

func (s ReasonSet) Contains(tag ReasonTag) bool {
	for _, t := range s {
		if t == tag {
			return true
		}
	}
	return false
}

// Union returns a new set containing s and tags.
func (s ReasonSet) Union(tags ...ReasonTag) ReasonSet {
	seen := make(map[ReasonTag]struct{}, len(s)+len(tags))
	out := make(ReasonSet, 0, len(s)+len(tags))
	for _, group := range [][]ReasonTag{s, tags} {
		for _, t := range group {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CandidateScore is an estimator or engine output for one item.
type CandidateScore struct {
	ItemID     uuid.UUID `json:"item_id"`
	Score      float64   `json:"score"`
	Confidence float64   `json:"confidence"`
	Reasons    ReasonSet `json:"reasons"`
	Rank       int       `json:"rank,omitempty"`
}

type Filters struct {
	Category     string     `json:"category,omitempty"`
	Location     string     `json:"location,omitempty"`
	MinPrice     *float64   `json:"min_price,omitempty"`
	MaxPrice     *float64   `json:"max_price,omitempty"`
	StartsAfter  *time.Time `json:"starts_after,omitempty"`
	StartsBefore *time.Time `json:"starts_before,omitempty"`
	// Expression is an optional CEL predicate over item fields.
	Expression string `json:"expression,omitempty"`
}

func (f Filters) IsEmpty() bool {
	return f.Category == "" && f.Location == "" && f.MinPrice == nil && f.MaxPrice == nil &&
		f.StartsAfter == nil && f.StartsBefore == nil && f.Expression == ""
}

type RecommendationRequest struct {
	UserID       uuid.UUID   `json:"user_id" validate:"required"`
	Limit        int         `json:"limit" validate:"min=1,max=100"`
	Context      string      `json:"context,omitempty"`
	Filters      Filters     `json:"filters"`
	ExcludeIDs   []uuid.UUID `json:"exclude_ids,omitempty"`
	ExperimentID string      `json:"experiment_id,omitempty"`
}

const (
	AlgorithmModel    = "model"
	AlgorithmHybrid   = "hybrid"
	AlgorithmFallback = "fallback"
)

type RecommendationResult struct {
	UserID      uuid.UUID        `json:"user_id"`
	Items       []CandidateScore `json:"items"`
	Algorithm   string           `json:"algorithm"`
	Context     string           `json:"context,omitempty"`
	Variant     string           `json:"variant,omitempty"`
	GeneratedAt time.Time        `json:"generated_at"`
	CacheHit    bool             `json:"cache_hit"`
}
