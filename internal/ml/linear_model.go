package ml

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/floats"

	"github.com/temcen/eventrec/internal/services"
)

// Predictor scores a single feature row.
type Predictor interface {
	Predict(ctx context.Context, input services.ModelInput) (float64, error)
}

// LinearModel is a logistic scorer: sigmoid(bias + w·x).
type LinearModel struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

func NewLinearModel(weights []float64, bias float64) *LinearModel {
	return &LinearModel{Weights: append([]float64(nil), weights...), Bias: bias}
}

// LoadLinearModel reads a {"name", "weights", "bias"} JSON document.
func LoadLinearModel(path string) (string, *LinearModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read model file: %w", err)
	}

	var doc struct {
		Name string `json:"name"`
		LinearModel
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", nil, fmt.Errorf("failed to decode model file: %w", err)
	}
	if doc.Name == "" {
		return "", nil, fmt.Errorf("model file %s has no name", path)
	}
	if len(doc.Weights) == 0 {
		return "", nil, fmt.Errorf("model file %s has no weights", path)
	}
	return doc.Name, NewLinearModel(doc.Weights, doc.Bias), nil
}

func (m *LinearModel) Dim() int {
	return len(m.Weights)
}

func (m *LinearModel) Predict(ctx context.Context, input services.ModelInput) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(input.Features) != len(m.Weights) {
		return 0, fmt.Errorf("feature dimension mismatch: got %d, want %d", len(input.Features), len(m.Weights))
	}
	z := m.Bias + floats.Dot(m.Weights, input.Features)
	return 1 / (1 + math.Exp(-z)), nil
}
