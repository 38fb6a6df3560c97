package services

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/temcen/eventrec/pkg/models"
)

const (
	StrategySampleSize = "sample_size"
	StrategyZTest      = "z_test"
)

// SignificanceOutcome is a strategy's verdict on the winning variant.
type SignificanceOutcome struct {
	Significant bool
	Confidence  float64
}

// SignificanceStrategy decides whether the winner of an analysis is
// trustworthy. summaries are in variant order and winner indexes into them.
type SignificanceStrategy interface {
	Name() string
	Evaluate(exp *models.Experiment, summaries []models.VariantSummary, winner int) SignificanceOutcome
}

func NewSignificanceStrategy(name string) (SignificanceStrategy, error) {
	switch name {
	case "", StrategySampleSize:
		return SampleSizeStrategy{}, nil
	case StrategyZTest:
		return ZTestStrategy{}, nil
	default:
		return nil, fmt.Errorf("unknown significance strategy: %s", name)
	}
}

// SampleSizeStrategy declares the winner significant once it has collected
// the experiment's minimum sample size. It is a threshold, not a hypothesis test.
type SampleSizeStrategy struct{}

func (SampleSizeStrategy) Name() string { return StrategySampleSize }

func (SampleSizeStrategy) Evaluate(exp *models.Experiment, summaries []models.VariantSummary, winner int) SignificanceOutcome {
	if winner < 0 || winner >= len(summaries) {
		return SignificanceOutcome{}
	}
	n := summaries[winner].SampleSize
	if n == 0 {
		return SignificanceOutcome{}
	}
	minimum := exp.MinimumSampleSize
	if minimum <= 0 {
		return SignificanceOutcome{Significant: true, Confidence: 0.95}
	}
	return SignificanceOutcome{
		Significant: n >= minimum,
		Confidence:  math.Min(0.95, 0.5+(float64(n)/float64(minimum))*0.45),
	}
}

// ZTestStrategy compares the winner's first target metric against the
// runner-up with a two-sided Welch z-test at the experiment's significance level.
type ZTestStrategy struct{}

func (ZTestStrategy) Name() string { return StrategyZTest }

func (ZTestStrategy) Evaluate(exp *models.Experiment, summaries []models.VariantSummary, winner int) SignificanceOutcome {
	if winner < 0 || winner >= len(summaries) || len(summaries) < 2 || len(exp.TargetMetrics) == 0 {
		return SignificanceOutcome{}
	}
	metric := exp.TargetMetrics[0]

	runnerUp := -1
	for i, s := range summaries {
		if i == winner {
			continue
		}
		if runnerUp < 0 || s.Score > summaries[runnerUp].Score {
			runnerUp = i
		}
	}

	a := summaries[winner].Metrics[metric]
	b := summaries[runnerUp].Metrics[metric]
	if a.Count == 0 || b.Count == 0 {
		return SignificanceOutcome{}
	}

	se := math.Sqrt(a.Variance/float64(a.Count) + b.Variance/float64(b.Count))
	if se == 0 || math.IsNaN(se) {
		return SignificanceOutcome{}
	}
	z := (a.Mean - b.Mean) / se
	pValue := 2 * (1 - distuv.UnitNormal.CDF(math.Abs(z)))
	pValue = clampRange(pValue, 0, 1)

	alpha := exp.SignificanceLevel
	if alpha <= 0 || alpha >= 1 {
		alpha = defaultSignificanceLevel
	}
	enough := exp.MinimumSampleSize <= 0 || summaries[winner].SampleSize >= exp.MinimumSampleSize
	return SignificanceOutcome{
		Significant: pValue < alpha && enough,
		Confidence:  1 - pValue,
	}
}

// aggregate computes count, sum, mean and sample variance. Fewer than two
// observations yield zero variance.
func aggregate(values []float64) models.MetricAggregate {
	if len(values) == 0 {
		return models.MetricAggregate{}
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean, variance := stat.MeanVariance(values, nil)
	if len(values) < 2 || math.IsNaN(variance) {
		variance = 0
	}
	return models.MetricAggregate{Count: len(values), Sum: sum, Mean: mean, Variance: variance}
}
