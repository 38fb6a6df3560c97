package models

import (
	"math"
	"time"

	"github.com/google/uuid"
)

type AttributeType string

const (
	AttributeCategory   AttributeType = "category"
	AttributeLocation   AttributeType = "location"
	AttributePriceRange AttributeType = "price_range"
	AttributeTime       AttributeType = "time"
	AttributeGeneric    AttributeType = "generic"
)

var AttributeTypes = []AttributeType{
	AttributeCategory,
	AttributeLocation,
	AttributePriceRange,
	AttributeTime,
	AttributeGeneric,
}

func (t AttributeType) Valid() bool {
	switch t {
	case AttributeCategory, AttributeLocation, AttributePriceRange, AttributeTime, AttributeGeneric:
		return true
	}
	return false
}

// Preference is one learned (attribute type, value) affinity of a user.
// Weight is non-negative and Confidence stays in [0,1].
type Preference struct {
	UserID        uuid.UUID     `json:"user_id" db:"user_id"`
	AttributeType AttributeType `json:"attribute_type" db:"attribute_type"`
	Value         string        `json:"value" db:"value"`
	Weight        float64       `json:"weight" db:"weight"`
	Confidence    float64       `json:"confidence" db:"confidence"`
	Frequency     int           `json:"frequency" db:"frequency"`
	LastUsed      time.Time     `json:"last_used" db:"last_used"`
	LastDecayedAt *time.Time    `json:"last_decayed_at,omitempty" db:"last_decayed_at"`
	IsActive      bool          `json:"is_active" db:"is_active"`
}

// PreferenceKey formats the sparse-map key for a preference signal.
func PreferenceKey(t AttributeType, value string) string {
	return string(t) + ":" + value
}

func (p Preference) Key() string {
	return PreferenceKey(p.AttributeType, p.Value)
}

// Strength is the contribution of the preference to content matching.
func (p Preference) Strength() float64 {
	return p.Weight * p.Confidence
}

// NewPreference creates the first observation of a signal.
func NewPreference(userID uuid.UUID, t AttributeType, value string, incoming, step float64, now time.Time) Preference {
	return Preference{
		UserID:        userID,
		AttributeType: t,
		Value:         value,
		Weight:        math.Max(incoming, 0),
		Confidence:    clampUnit(step),
		Frequency:     1,
		LastUsed:      now,
		IsActive:      true,
	}
}

// Reinforce applies a repeated observation: the weight moves to the mean of
// old and incoming, confidence rises by step up to 1.
func (p *Preference) Reinforce(incoming, step float64, now time.Time) {
	p.Weight = math.Max((p.Weight+incoming)/2, 0)
	p.Confidence = clampUnit(p.Confidence + step)
	p.Frequency++
	p.LastUsed = now
	p.IsActive = true
}

type DecayPolicy struct {
	IdleWindow       time.Duration
	DeactivateWindow time.Duration
	WeightFactor     float64
	ConfidenceFactor float64
	WeightFloor      float64
	// Interval is the minimum time between two decays of the same preference.
	Interval time.Duration
}

func DefaultDecayPolicy() DecayPolicy {
	return DecayPolicy{
		IdleWindow:       30 * 24 * time.Hour,
		DeactivateWindow: 90 * 24 * time.Hour,
		WeightFactor:     0.9,
		ConfidenceFactor: 0.95,
		WeightFloor:      0.1,
		Interval:         24 * time.Hour,
	}
}

// Decay applies the policy as of now and reports whether anything changed.
// A preference decayed less than policy.Interval ago is left alone, so
// repeated runs within the interval are no-ops.
func (p *Preference) Decay(policy DecayPolicy, now time.Time) bool {
	if !p.IsActive {
		return false
	}
	idle := now.Sub(p.LastUsed)
	if idle < policy.IdleWindow {
		return false
	}
	if p.LastDecayedAt != nil && now.Sub(*p.LastDecayedAt) < policy.Interval {
		return false
	}

	p.Weight *= policy.WeightFactor
	p.Confidence = clampUnit(p.Confidence * policy.ConfidenceFactor)
	decayedAt := now
	p.LastDecayedAt = &decayedAt

	if idle >= policy.DeactivateWindow && p.Weight < policy.WeightFloor {
		p.IsActive = false
	}
	return true
}

type UserProfile struct {
	UserID      uuid.UUID    `json:"user_id"`
	Preferences []Preference `json:"preferences"`
}

func (p *UserProfile) IsEmpty() bool {
	return p == nil || len(p.Preferences) == 0
}

// SparseMap returns type:value -> weight*confidence for active preferences.
func (p *UserProfile) SparseMap() map[string]float64 {
	out := make(map[string]float64)
	if p == nil {
		return out
	}
	for _, pref := range p.Preferences {
		if !pref.IsActive {
			continue
		}
		out[pref.Key()] += pref.Strength()
	}
	return out
}

func clampUnit(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
