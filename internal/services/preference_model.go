package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/eventrec/internal/config"
	"github.com/temcen/eventrec/pkg/models"
)

// maxQuerySignals caps the generic keyword signals taken from one search query.
const maxQuerySignals = 3

type preferenceSignal struct {
	Type  models.AttributeType
	Value string
}

// PreferenceModel learns per-user attribute affinities from interactions.
type PreferenceModel struct {
	store  PreferenceStore
	config *config.PreferenceConfig
	logger *logrus.Logger
	now    func() time.Time

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewPreferenceModel(store PreferenceStore, cfg *config.PreferenceConfig, logger *logrus.Logger) *PreferenceModel {
	return &PreferenceModel{
		store:    store,
		config:   cfg,
		logger:   logger,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

func (m *PreferenceModel) Policy() models.DecayPolicy {
	policy := models.DefaultDecayPolicy()
	if m.config == nil {
		return policy
	}
	if m.config.IdleWindow > 0 {
		policy.IdleWindow = m.config.IdleWindow
	}
	if m.config.DeactivateWindow > 0 {
		policy.DeactivateWindow = m.config.DeactivateWindow
	}
	if m.config.WeightDecay > 0 {
		policy.WeightFactor = m.config.WeightDecay
	}
	if m.config.ConfidenceDecay > 0 {
		policy.ConfidenceFactor = m.config.ConfidenceDecay
	}
	if m.config.WeightFloor > 0 {
		policy.WeightFloor = m.config.WeightFloor
	}
	if m.config.DecayInterval > 0 {
		policy.Interval = m.config.DecayInterval
	}
	return policy
}

func (m *PreferenceModel) step() float64 {
	if m.config == nil || m.config.ReinforcementStep <= 0 {
		return 0.1
	}
	return m.config.ReinforcementStep
}

// Record updates preferences from one interaction and returns how many rows
// were written. Interactions without an item, without a positive weight or
// without any extractable signal are ignored.
func (m *PreferenceModel) Record(ctx context.Context, interaction *models.Interaction) (int, error) {
	if interaction == nil || interaction.ItemID == nil || interaction.Weight <= 0 {
		return 0, nil
	}

	signals := extractSignals(interaction.Context)
	if len(signals) == 0 {
		return 0, nil
	}

	incoming := clamp01(interaction.Weight / models.MaxInteractionWeight)
	now := interaction.Timestamp
	if now.IsZero() {
		now = m.now()
	}

	written := 0
	for _, sig := range signals {
		pref, err := m.store.GetPreference(ctx, interaction.UserID, sig.Type, sig.Value)
		operation := "reinforce"
		switch {
		case errors.Is(err, ErrNotFound):
			created := models.NewPreference(interaction.UserID, sig.Type, sig.Value, incoming, m.step(), now)
			pref = &created
			operation = "create"
		case err != nil:
			return written, fmt.Errorf("failed to load preference %s: %w", models.PreferenceKey(sig.Type, sig.Value), err)
		default:
			pref.Reinforce(incoming, m.step(), now)
		}

		if err := m.store.UpsertPreference(ctx, pref); err != nil {
			return written, fmt.Errorf("failed to store preference %s: %w", pref.Key(), err)
		}
		preferenceUpdates.WithLabelValues(operation).Inc()
		written++
	}

	m.logger.WithFields(logrus.Fields{
		"user_id": interaction.UserID,
		"type":    interaction.Type,
		"signals": written,
	}).Debug("Preferences updated from interaction")

	return written, nil
}

// Decay applies the decay policy to all stored preferences.
func (m *PreferenceModel) Decay(ctx context.Context) (int, error) {
	changed, err := m.store.DecayPreferences(ctx, m.Policy(), m.now())
	if err != nil {
		return 0, fmt.Errorf("failed to decay preferences: %w", err)
	}
	if changed > 0 {
		preferenceUpdates.WithLabelValues("decay").Add(float64(changed))
	}
	m.logger.WithField("changed", changed).Info("Preference decay completed")
	return changed, nil
}

// Profile returns the user's active preferences, strongest weight first.
func (m *PreferenceModel) Profile(ctx context.Context, userID uuid.UUID) (*models.UserProfile, error) {
	if userID == uuid.Nil {
		return nil, validationError("profile", "user id is required")
	}

	prefs, err := m.store.ListPreferences(ctx, userID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list preferences: %w", err)
	}

	active := prefs[:0]
	for _, p := range prefs {
		if p.IsActive {
			active = append(active, p)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].Weight != active[j].Weight {
			return active[i].Weight > active[j].Weight
		}
		return active[i].Key() < active[j].Key()
	})

	return &models.UserProfile{UserID: userID, Preferences: active}, nil
}

// StartDecayWorker runs Decay every interval until Stop is called.
func (m *PreferenceModel) StartDecayWorker(interval time.Duration) {
	if interval <= 0 {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), interval/2)
				if _, err := m.Decay(ctx); err != nil {
					m.logger.WithError(err).Error("Scheduled preference decay failed")
				}
				cancel()
			case <-m.stopChan:
				return
			}
		}
	}()
}

func (m *PreferenceModel) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
	m.wg.Wait()
}

// extractSignals reads attribute signals from the search or filter context.
func extractSignals(c models.InteractionContext) []preferenceSignal {
	var signals []preferenceSignal
	add := func(t models.AttributeType, raw string) {
		if v := normalizeValue(raw); v != "" {
			signals = append(signals, preferenceSignal{Type: t, Value: v})
		}
	}

	add(models.AttributeCategory, c.Category)
	add(models.AttributeLocation, c.Location)
	add(models.AttributePriceRange, c.PriceRange)
	add(models.AttributeTime, c.TimeSlot)

	keywords := extractKeywords(c.Query)
	if len(keywords) > maxQuerySignals {
		keywords = keywords[:maxQuerySignals]
	}
	for _, kw := range keywords {
		add(models.AttributeGeneric, kw)
	}
	return signals
}
