package ml

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/temcen/eventrec/internal/config"
	"github.com/temcen/eventrec/internal/services"
)

// ResilientModel guards a predictor with a circuit breaker and a per-call
// timeout. While the breaker is open predictions fail fast with
// gobreaker.ErrOpenState.
type ResilientModel struct {
	name      string
	predictor Predictor
	breaker   *gobreaker.CircuitBreaker[float64]
	timeout   time.Duration
	observe   func(name string, latency time.Duration, err error)
}

func NewResilientModel(
	name string,
	predictor Predictor,
	cfg config.ModelConfig,
	timeout time.Duration,
	observe func(string, time.Duration, error),
	logger *logrus.Logger,
) *ResilientModel {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.Breaker.MinRequests || counts.Requests == 0 {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.Breaker.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"model": name,
				"from":  from.String(),
				"to":    to.String(),
			}).Warn("Model circuit breaker changed state")
		},
	}

	return &ResilientModel{
		name:      name,
		predictor: predictor,
		breaker:   gobreaker.NewCircuitBreaker[float64](settings),
		timeout:   timeout,
		observe:   observe,
	}
}

func (m *ResilientModel) Name() string {
	return m.name
}

// State reports the breaker state for monitoring.
func (m *ResilientModel) State() string {
	return m.breaker.State().String()
}

func (m *ResilientModel) Predict(ctx context.Context, input services.ModelInput) (float64, error) {
	start := time.Now()
	score, err := m.breaker.Execute(func() (float64, error) {
		callCtx := ctx
		if m.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, m.timeout)
			defer cancel()
		}
		return m.predictor.Predict(callCtx, input)
	})
	if m.observe != nil {
		m.observe(m.name, time.Since(start), err)
	}
	return score, err
}
