package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/eventrec/internal/services"
	"github.com/temcen/eventrec/pkg/models"
)

var preferenceRowColumns = []string{
	"user_id", "attribute_type", "value", "weight", "confidence", "frequency", "last_used", "last_decayed_at", "is_active",
}

func TestPostgresPreferenceStore_GetPreference(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresPreferenceStore(mock)
	userID := uuid.New()
	lastUsed := time.Now()

	t.Run("found", func(t *testing.T) {
		mock.ExpectQuery("FROM user_preferences").
			WithArgs(userID, "category", "music").
			WillReturnRows(pgxmock.NewRows(preferenceRowColumns).
				AddRow(userID, "category", "music", 0.6, 0.3, 3, lastUsed, nil, true))

		p, err := store.GetPreference(context.Background(), userID, models.AttributeCategory, "music")
		require.NoError(t, err)
		assert.Equal(t, models.AttributeCategory, p.AttributeType)
		assert.Equal(t, 0.6, p.Weight)
		assert.Equal(t, 3, p.Frequency)
		assert.Nil(t, p.LastDecayedAt)
	})

	t.Run("missing row maps to ErrNotFound", func(t *testing.T) {
		mock.ExpectQuery("FROM user_preferences").
			WithArgs(userID, "location", "porto").
			WillReturnError(pgx.ErrNoRows)

		_, err := store.GetPreference(context.Background(), userID, models.AttributeLocation, "porto")
		assert.ErrorIs(t, err, services.ErrNotFound)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPreferenceStore_Upsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresPreferenceStore(mock)
	p := models.NewPreference(uuid.New(), models.AttributeTime, "evening", 0.4, 0.1, time.Now())

	mock.ExpectExec("ON CONFLICT").
		WithArgs(p.UserID, "time", "evening", p.Weight, p.Confidence, p.Frequency, p.LastUsed, p.LastDecayedAt, true).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.UpsertPreference(context.Background(), &p))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPreferenceStore_DecayPreferences(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresPreferenceStore(mock)
	policy := models.DefaultDecayPolicy()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("UPDATE user_preferences").
		WithArgs(
			policy.WeightFactor,
			policy.ConfidenceFactor,
			now,
			now.Add(-policy.IdleWindow),
			now.Add(-policy.DeactivateWindow),
			policy.WeightFloor,
			now.Add(-policy.Interval),
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 4))

	changed, err := store.DecayPreferences(context.Background(), policy, now)
	require.NoError(t, err)
	assert.Equal(t, 4, changed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPreferenceStore_ListPreferences(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresPreferenceStore(mock)
	userID := uuid.New()
	now := time.Now()

	mock.ExpectQuery("FROM user_preferences").
		WithArgs(userID, true).
		WillReturnRows(pgxmock.NewRows(preferenceRowColumns).
			AddRow(userID, "category", "music", 0.8, 0.5, 5, now, nil, true).
			AddRow(userID, "location", "lisbon", 0.3, 0.2, 2, now, nil, true))

	prefs, err := store.ListPreferences(context.Background(), userID, true)
	require.NoError(t, err)
	require.Len(t, prefs, 2)
	assert.Equal(t, "music", prefs[0].Value)
	assert.Equal(t, models.AttributeLocation, prefs[1].AttributeType)
	require.NoError(t, mock.ExpectationsWereMet())
}
