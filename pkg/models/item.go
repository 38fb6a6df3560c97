package models

import (
	"time"

	"github.com/google/uuid"
)

// Item is a recommendable event as exposed by the catalog.
type Item struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	Title       string     `json:"title" db:"title"`
	Description string     `json:"description,omitempty" db:"description"`
	Category    string     `json:"category,omitempty" db:"category"`
	Location    string     `json:"location,omitempty" db:"location"`
	Price       *float64   `json:"price,omitempty" db:"price"`
	Capacity    int        `json:"capacity,omitempty" db:"capacity"`
	Tags        []string   `json:"tags,omitempty" db:"tags"`
	StartsAt    *time.Time `json:"starts_at,omitempty" db:"starts_at"`
	EndsAt      *time.Time `json:"ends_at,omitempty" db:"ends_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	Active      bool       `json:"active" db:"active"`
}

const (
	PriceFree    = "free"
	PriceBudget  = "budget"
	PriceMid     = "mid"
	PricePremium = "premium"
)

var PriceRanges = []string{PriceFree, PriceBudget, PriceMid, PricePremium}

// PriceRange buckets the price; an unpriced item has no bucket.
func (i Item) PriceRange() string {
	if i.Price == nil {
		return ""
	}
	switch p := *i.Price; {
	case p <= 0:
		return PriceFree
	case p < 25:
		return PriceBudget
	case p < 100:
		return PriceMid
	default:
		return PricePremium
	}
}

const (
	TimeMorning   = "morning"
	TimeAfternoon = "afternoon"
	TimeEvening   = "evening"
	TimeNight     = "night"
)

var TimeSlots = []string{TimeMorning, TimeAfternoon, TimeEvening, TimeNight}

func (i Item) TimeSlot() string {
	if i.StartsAt == nil {
		return ""
	}
	switch h := i.StartsAt.Hour(); {
	case h >= 5 && h < 12:
		return TimeMorning
	case h >= 12 && h < 17:
		return TimeAfternoon
	case h >= 17 && h < 22:
		return TimeEvening
	default:
		return TimeNight
	}
}

// Attribute returns the item's value for a categorical attribute type.
func (i Item) Attribute(t AttributeType) string {
	switch t {
	case AttributeCategory:
		return i.Category
	case AttributeLocation:
		return i.Location
	case AttributePriceRange:
		return i.PriceRange()
	case AttributeTime:
		return i.TimeSlot()
	case AttributeGeneric:
		return ""
	}
	return ""
}

// UpsertItemRequest creates an item, or replaces it when ID names an existing one.
type UpsertItemRequest struct {
	ID          *uuid.UUID `json:"id,omitempty"`
	Title       string     `json:"title" validate:"required,max=500"`
	Description string     `json:"description,omitempty" validate:"max=5000"`
	Category    string     `json:"category,omitempty" validate:"max=100"`
	Location    string     `json:"location,omitempty" validate:"max=200"`
	Price       *float64   `json:"price,omitempty" validate:"omitempty,min=0"`
	Capacity    int        `json:"capacity,omitempty" validate:"min=0"`
	Tags        []string   `json:"tags,omitempty" validate:"max=50"`
	StartsAt    *time.Time `json:"starts_at,omitempty"`
	EndsAt      *time.Time `json:"ends_at,omitempty"`
	Active      *bool      `json:"active,omitempty"`
}
