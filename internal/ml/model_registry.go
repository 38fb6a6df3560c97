package ml

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/temcen/eventrec/internal/config"
	"github.com/temcen/eventrec/internal/services"
)

// ModelTypeRanking is the only model type the engine asks for.
const ModelTypeRanking = "ranking"

type ModelStatus string

const (
	ModelStatusRegistered ModelStatus = "registered"
	ModelStatusActive     ModelStatus = "active"
	ModelStatusInactive   ModelStatus = "inactive"
)

// ModelInfo contains metadata about a registered model
type ModelInfo struct {
	Name       string       `json:"name"`
	Version    string       `json:"version"`
	ModelType  string       `json:"model_type"`
	FeatureDim int          `json:"feature_dim"`
	Status     ModelStatus  `json:"status"`
	LoadedAt   time.Time    `json:"loaded_at"`
	Metrics    ModelMetrics `json:"metrics"`
}

// ModelMetrics tracks serving metrics for a model
type ModelMetrics struct {
	Predictions  int64     `json:"predictions"`
	Failures     int64     `json:"failures"`
	AvgLatencyMs float64   `json:"avg_latency_ms"`
	OfflineAUC   float64   `json:"offline_auc,omitempty"`
	LastUpdated  time.Time `json:"last_updated"`
}

type registeredModel struct {
	info      *ModelInfo
	predictor Predictor
	resilient *ResilientModel
}

// ModelRegistry manages registered models and the one active per type.
type ModelRegistry struct {
	models  map[string]*registeredModel
	active  map[string]string
	mutex   sync.RWMutex
	breaker config.ModelConfig
	timeout time.Duration
	logger  *logrus.Logger
}

// NewModelRegistry creates a registry whose handles are wrapped with the
// configured breaker and a per-call timeout.
func NewModelRegistry(cfg config.ModelConfig, callTimeout time.Duration, logger *logrus.Logger) *ModelRegistry {
	return &ModelRegistry{
		models:  make(map[string]*registeredModel),
		active:  make(map[string]string),
		breaker: cfg,
		timeout: callTimeout,
		logger:  logger,
	}
}

// RegisterModel registers a new model with the registry. Registering an
// existing name replaces it and drops its active status.
func (mr *ModelRegistry) RegisterModel(info *ModelInfo, predictor Predictor) error {
	if info == nil || info.Name == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	if info.ModelType != ModelTypeRanking {
		return fmt.Errorf("invalid model type: %s", info.ModelType)
	}
	if predictor == nil {
		return fmt.Errorf("model %s has no predictor", info.Name)
	}

	mr.mutex.Lock()
	defer mr.mutex.Unlock()

	if mr.active[info.ModelType] == info.Name {
		delete(mr.active, info.ModelType)
	}

	stored := *info
	if stored.Version == "" {
		stored.Version = GenerateModelHash(stored.Name, map[string]interface{}{
			"type":        stored.ModelType,
			"feature_dim": stored.FeatureDim,
		})
	}
	stored.Status = ModelStatusRegistered
	stored.LoadedAt = time.Now()

	mr.models[info.Name] = &registeredModel{
		info:      &stored,
		predictor: predictor,
		resilient: NewResilientModel(stored.Name, predictor, mr.breaker, mr.timeout, mr.observe, mr.logger),
	}

	mr.logger.WithFields(logrus.Fields{
		"model_name":  stored.Name,
		"model_type":  stored.ModelType,
		"feature_dim": stored.FeatureDim,
		"version":     stored.Version,
	}).Info("Model registered successfully")

	return nil
}

// ActivateModel makes name the serving model of its type, deactivating the
// previous one.
func (mr *ModelRegistry) ActivateModel(name string) error {
	mr.mutex.Lock()
	defer mr.mutex.Unlock()

	m, exists := mr.models[name]
	if !exists {
		return fmt.Errorf("model not found: %s", name)
	}
	if prev, ok := mr.active[m.info.ModelType]; ok && prev != name {
		mr.models[prev].info.Status = ModelStatusInactive
	}
	mr.active[m.info.ModelType] = name
	m.info.Status = ModelStatusActive

	mr.logger.WithFields(logrus.Fields{
		"model_name": name,
		"model_type": m.info.ModelType,
	}).Info("Model activated")
	return nil
}

// DeactivateModel stops serving any model for modelType.
func (mr *ModelRegistry) DeactivateModel(modelType string) {
	mr.mutex.Lock()
	defer mr.mutex.Unlock()

	name, ok := mr.active[modelType]
	if !ok {
		return
	}
	delete(mr.active, modelType)
	mr.models[name].info.Status = ModelStatusInactive
	mr.logger.WithField("model_type", modelType).Info("Model deactivated")
}

// GetActiveModel returns the breaker-wrapped active model, or nil when none
// is active.
func (mr *ModelRegistry) GetActiveModel(ctx context.Context, modelType string) (services.ModelHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mr.mutex.RLock()
	defer mr.mutex.RUnlock()

	name, ok := mr.active[modelType]
	if !ok {
		return nil, nil
	}
	return mr.models[name].resilient, nil
}

// GetModelInfo returns information about a registered model
func (mr *ModelRegistry) GetModelInfo(name string) (*ModelInfo, error) {
	mr.mutex.RLock()
	defer mr.mutex.RUnlock()

	m, exists := mr.models[name]
	if !exists {
		return nil, fmt.Errorf("model not found: %s", name)
	}
	info := *m.info
	return &info, nil
}

// ListModels returns all registered models ordered by name
func (mr *ModelRegistry) ListModels() []ModelInfo {
	mr.mutex.RLock()
	defer mr.mutex.RUnlock()

	result := make([]ModelInfo, 0, len(mr.models))
	for _, m := range mr.models {
		result = append(result, *m.info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// UpdateMetrics replaces the metrics of a model, e.g. after offline evaluation.
func (mr *ModelRegistry) UpdateMetrics(name string, metrics ModelMetrics) error {
	mr.mutex.Lock()
	defer mr.mutex.Unlock()

	m, exists := mr.models[name]
	if !exists {
		return fmt.Errorf("model not found: %s", name)
	}

	metrics.LastUpdated = time.Now()
	m.info.Metrics = metrics
	return nil
}

// observe folds one prediction into the running metrics.
func (mr *ModelRegistry) observe(name string, latency time.Duration, err error) {
	mr.mutex.Lock()
	defer mr.mutex.Unlock()

	m, exists := mr.models[name]
	if !exists {
		return
	}
	metrics := &m.info.Metrics
	metrics.Predictions++
	if err != nil {
		metrics.Failures++
	}
	ms := float64(latency.Microseconds()) / 1000
	metrics.AvgLatencyMs += (ms - metrics.AvgLatencyMs) / float64(metrics.Predictions)
	metrics.LastUpdated = time.Now()
}

// GenerateModelHash creates a short fingerprint for model versioning
func GenerateModelHash(name string, cfg map[string]interface{}) string {
	hasher := sha256.New()
	hasher.Write([]byte(name))

	keys := make([]string, 0, len(cfg))
	for key := range cfg {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		hasher.Write([]byte(fmt.Sprintf("%s:%v", key, cfg[key])))
	}

	return fmt.Sprintf("%x", hasher.Sum(nil))[:16]
}
