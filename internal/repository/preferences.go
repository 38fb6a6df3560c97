package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/temcen/eventrec/pkg/models"
)

const preferenceColumns = `user_id, attribute_type, value, weight, confidence, frequency, last_used, last_decayed_at, is_active`

// PostgresPreferenceStore upserts with ON CONFLICT, so concurrent writers of
// one row never fail; the last write wins.
type PostgresPreferenceStore struct {
	db Querier
}

func NewPostgresPreferenceStore(db Querier) *PostgresPreferenceStore {
	return &PostgresPreferenceStore{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPreference(row rowScanner) (*models.Preference, error) {
	var (
		p     models.Preference
		ptype string
	)
	if err := row.Scan(&p.UserID, &ptype, &p.Value, &p.Weight, &p.Confidence, &p.Frequency, &p.LastUsed, &p.LastDecayedAt, &p.IsActive); err != nil {
		return nil, err
	}
	p.AttributeType = models.AttributeType(ptype)
	return &p, nil
}

func (s *PostgresPreferenceStore) GetPreference(ctx context.Context, userID uuid.UUID, attributeType models.AttributeType, value string) (*models.Preference, error) {
	query := `SELECT ` + preferenceColumns + `
		FROM user_preferences
		WHERE user_id = $1 AND attribute_type = $2 AND value = $3`

	p, err := scanPreference(s.db.QueryRow(ctx, query, userID, string(attributeType), value))
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

func (s *PostgresPreferenceStore) UpsertPreference(ctx context.Context, p *models.Preference) error {
	query := `
		INSERT INTO user_preferences (` + preferenceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, attribute_type, value) DO UPDATE SET
			weight = EXCLUDED.weight,
			confidence = EXCLUDED.confidence,
			frequency = EXCLUDED.frequency,
			last_used = EXCLUDED.last_used,
			last_decayed_at = EXCLUDED.last_decayed_at,
			is_active = EXCLUDED.is_active
	`
	_, err := s.db.Exec(ctx, query,
		p.UserID, string(p.AttributeType), p.Value, p.Weight, p.Confidence,
		p.Frequency, p.LastUsed, p.LastDecayedAt, p.IsActive)
	if err != nil {
		return fmt.Errorf("failed to upsert preference: %w", err)
	}
	return nil
}

func (s *PostgresPreferenceStore) ListPreferences(ctx context.Context, userID uuid.UUID, activeOnly bool) ([]models.Preference, error) {
	query := `SELECT ` + preferenceColumns + `
		FROM user_preferences
		WHERE user_id = $1 AND ($2 = FALSE OR is_active)
		ORDER BY weight DESC, attribute_type, value`

	rows, err := s.db.Query(ctx, query, userID, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to query preferences: %w", err)
	}
	defer rows.Close()

	var prefs []models.Preference
	for rows.Next() {
		p, err := scanPreference(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan preference: %w", err)
		}
		prefs = append(prefs, *p)
	}
	return prefs, rows.Err()
}

// DecayPreferences applies models.Preference.Decay as one UPDATE. SET
// expressions see the old row, so the deactivation test uses the decayed weight.
func (s *PostgresPreferenceStore) DecayPreferences(ctx context.Context, policy models.DecayPolicy, now time.Time) (int, error) {
	query := `
		UPDATE user_preferences SET
			weight = weight * $1,
			confidence = LEAST(confidence * $2, 1),
			last_decayed_at = $3,
			is_active = NOT (last_used <= $5 AND weight * $1 < $6)
		WHERE is_active
		  AND last_used <= $4
		  AND (last_decayed_at IS NULL OR last_decayed_at <= $7)
	`
	tag, err := s.db.Exec(ctx, query,
		policy.WeightFactor,
		policy.ConfidenceFactor,
		now,
		now.Add(-policy.IdleWindow),
		now.Add(-policy.DeactivateWindow),
		policy.WeightFloor,
		now.Add(-policy.Interval),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to decay preferences: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
