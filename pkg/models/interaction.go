package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type InteractionType string

const (
	InteractionView        InteractionType = "view"
	InteractionClick       InteractionType = "click"
	InteractionPurchase    InteractionType = "purchase"
	InteractionShare       InteractionType = "share"
	InteractionFavorite    InteractionType = "favorite"
	InteractionSearch      InteractionType = "search"
	InteractionFilter      InteractionType = "filter"
	InteractionCartAdd     InteractionType = "cart_add"
	InteractionCartRemove  InteractionType = "cart_remove"
	InteractionWishlistAdd InteractionType = "wishlist_add"
	InteractionReview      InteractionType = "review"
	InteractionRating      InteractionType = "rating"
)

// MaxInteractionWeight is the largest positive entry of InteractionWeights.
const MaxInteractionWeight = 10.0

// InteractionWeights is the fixed signal strength of each interaction type.
var InteractionWeights = map[InteractionType]float64{
	InteractionView:        1.0,
	InteractionClick:       2.0,
	InteractionPurchase:    10.0,
	InteractionShare:       5.0,
	InteractionFavorite:    4.0,
	InteractionSearch:      0.5,
	InteractionFilter:      0.5,
	InteractionCartAdd:     3.0,
	InteractionCartRemove:  -1.0,
	InteractionWishlistAdd: 3.0,
	InteractionReview:      4.0,
	InteractionRating:      3.0,
}

func ParseInteractionType(s string) (InteractionType, error) {
	t := InteractionType(s)
	if _, ok := InteractionWeights[t]; !ok {
		return "", fmt.Errorf("unknown interaction type: %s", s)
	}
	return t, nil
}

// WeightFor returns the table weight, or 0 for an unknown type.
func WeightFor(t InteractionType) float64 {
	return InteractionWeights[t]
}

// InteractionContext carries the search or filter state an interaction happened in.
type InteractionContext struct {
	Query      string `json:"query,omitempty"`
	Category   string `json:"category,omitempty"`
	Location   string `json:"location,omitempty"`
	PriceRange string `json:"price_range,omitempty"`
	TimeSlot   string `json:"time_slot,omitempty"`
	Source     string `json:"source,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
}

func (c InteractionContext) IsEmpty() bool {
	return c == InteractionContext{}
}

type Interaction struct {
	ID        uuid.UUID          `json:"id" db:"id"`
	UserID    uuid.UUID          `json:"user_id" db:"user_id"`
	ItemID    *uuid.UUID         `json:"item_id,omitempty" db:"item_id"`
	Type      InteractionType    `json:"type" db:"interaction_type"`
	Weight    float64            `json:"weight" db:"weight"`
	Value     *float64           `json:"value,omitempty" db:"value"`
	Context   InteractionContext `json:"context" db:"context"`
	Timestamp time.Time          `json:"timestamp" db:"timestamp"`
}

type RecordInteractionRequest struct {
	UserID  uuid.UUID          `json:"user_id" validate:"required"`
	ItemID  *uuid.UUID         `json:"item_id,omitempty"`
	Type    string             `json:"type" validate:"required"`
	Value   *float64           `json:"value,omitempty"`
	Context InteractionContext `json:"context"`
}

type InteractionBatchRequest struct {
	Interactions []RecordInteractionRequest `json:"interactions" validate:"required,min=1,max=100,dive"`
}

// ItemWeight is a user's accumulated signal on one item.
type ItemWeight struct {
	Sum   float64 `json:"sum"`
	Count int     `json:"count"`
}

func (w ItemWeight) Average() float64 {
	if w.Count == 0 {
		return 0
	}
	return w.Sum / float64(w.Count)
}

// ItemStats aggregates interactions on an item across all users.
type ItemStats struct {
	ItemID    uuid.UUID `json:"item_id"`
	Count     int       `json:"count"`
	AvgWeight float64   `json:"avg_weight"`
}

type NeighborCandidate struct {
	UserID      uuid.UUID `json:"user_id"`
	SharedItems int       `json:"shared_items"`
}
