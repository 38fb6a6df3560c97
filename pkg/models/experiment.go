package models

import (
	"time"

	"github.com/google/uuid"
)

type ExperimentStatus string

const (
	ExperimentStatusDraft     ExperimentStatus = "draft"
	ExperimentStatusRunning   ExperimentStatus = "running"
	ExperimentStatusPaused    ExperimentStatus = "paused"
	ExperimentStatusCompleted ExperimentStatus = "completed"
	ExperimentStatusCancelled ExperimentStatus = "cancelled"
)

func (s ExperimentStatus) Valid() bool {
	switch s {
	case ExperimentStatusDraft, ExperimentStatusRunning, ExperimentStatusPaused,
		ExperimentStatusCompleted, ExperimentStatusCancelled:
		return true
	}
	return false
}

// ControlVariant is returned for users outside a running experiment window.
const ControlVariant = "control"

// VariantConfig lists the engine knobs a variant may override.
type VariantConfig struct {
	CollaborativeWeight *float64 `json:"collaborative_weight,omitempty"`
	ContentWeight       *float64 `json:"content_weight,omitempty"`
	UseModel            *bool    `json:"use_model,omitempty"`
	ModelCutoff         *float64 `json:"model_cutoff,omitempty"`
}

type Variant struct {
	Name              string        `json:"name" validate:"required"`
	TrafficPercentage float64       `json:"traffic_percentage" validate:"min=0,max=100"`
	Config            VariantConfig `json:"config"`
}

type Experiment struct {
	ID                string             `json:"id" db:"id"`
	Name              string             `json:"name" db:"name"`
	Description       string             `json:"description,omitempty" db:"description"`
	Status            ExperimentStatus   `json:"status" db:"status"`
	Variants          []Variant          `json:"variants" db:"variants"`
	TargetMetrics     []string           `json:"target_metrics" db:"target_metrics"`
	StartDate         *time.Time         `json:"start_date,omitempty" db:"start_date"`
	EndDate           *time.Time         `json:"end_date,omitempty" db:"end_date"`
	MinimumSampleSize int                `json:"minimum_sample_size" db:"minimum_sample_size"`
	SignificanceLevel float64            `json:"significance_level" db:"significance_level"`
	Results           *ExperimentResults `json:"results,omitempty" db:"results"`
	CreatedAt         time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at" db:"updated_at"`
}

func (e *Experiment) Variant(name string) (Variant, bool) {
	for _, v := range e.Variants {
		if v.Name == name {
			return v, true
		}
	}
	return Variant{}, false
}

// InWindow reports whether now falls inside [StartDate, EndDate].
func (e *Experiment) InWindow(now time.Time) bool {
	if e.StartDate != nil && now.Before(*e.StartDate) {
		return false
	}
	if e.EndDate != nil && now.After(*e.EndDate) {
		return false
	}
	return true
}

type CreateExperimentRequest struct {
	Name              string     `json:"name" validate:"required"`
	Description       string     `json:"description,omitempty"`
	Variants          []Variant  `json:"variants" validate:"required,min=2,dive"`
	TargetMetrics     []string   `json:"target_metrics" validate:"required,min=1"`
	StartDate         *time.Time `json:"start_date,omitempty"`
	EndDate           *time.Time `json:"end_date,omitempty"`
	MinimumSampleSize int        `json:"minimum_sample_size" validate:"min=0"`
	SignificanceLevel float64    `json:"significance_level" validate:"min=0,max=1"`
}

// ExperimentMetric is one append-only observation for a variant.
type ExperimentMetric struct {
	ID           uuid.UUID         `json:"id" db:"id"`
	ExperimentID string            `json:"experiment_id" db:"experiment_id"`
	Variant      string            `json:"variant" db:"variant"`
	MetricType   string            `json:"metric_type" db:"metric_type"`
	Value        float64           `json:"value" db:"value"`
	UserID       *uuid.UUID        `json:"user_id,omitempty" db:"user_id"`
	Metadata     map[string]string `json:"metadata,omitempty" db:"metadata"`
	RecordedAt   time.Time         `json:"recorded_at" db:"recorded_at"`
}

type RecordMetricRequest struct {
	Variant    string            `json:"variant" validate:"required"`
	MetricType string            `json:"metric_type" validate:"required"`
	Value      float64           `json:"value"`
	UserID     *uuid.UUID        `json:"user_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type MetricAggregate struct {
	Count    int     `json:"count"`
	Sum      float64 `json:"sum"`
	Mean     float64 `json:"mean"`
	Variance float64 `json:"variance"`
}

type VariantSummary struct {
	Variant    string                     `json:"variant"`
	SampleSize int                        `json:"sample_size"`
	Metrics    map[string]MetricAggregate `json:"metrics"`
	// Score is the sum of the target metric means.
	Score float64 `json:"score"`
}

type ExperimentResults struct {
	WinningVariant          string           `json:"winning_variant"`
	ConfidenceLevel         float64          `json:"confidence_level"`
	StatisticalSignificance bool             `json:"statistical_significance"`
	Conclusion              string           `json:"conclusion"`
	Strategy                string           `json:"strategy"`
	Variants                []VariantSummary `json:"variants"`
	AnalyzedAt              time.Time        `json:"analyzed_at"`
}
