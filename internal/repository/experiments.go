package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/temcen/eventrec/internal/services"
	"github.com/temcen/eventrec/pkg/models"
)

const experimentColumns = `id, name, description, status, variants, target_metrics, start_date, end_date,
	minimum_sample_size, significance_level, results, created_at, updated_at`

type PostgresExperimentStore struct {
	db Querier
}

func NewPostgresExperimentStore(db Querier) *PostgresExperimentStore {
	return &PostgresExperimentStore{db: db}
}

func scanExperiment(row rowScanner) (*models.Experiment, error) {
	var (
		exp          models.Experiment
		status       string
		variantsJSON []byte
		resultsJSON  []byte
	)
	err := row.Scan(&exp.ID, &exp.Name, &exp.Description, &status, &variantsJSON, &exp.TargetMetrics,
		&exp.StartDate, &exp.EndDate, &exp.MinimumSampleSize, &exp.SignificanceLevel, &resultsJSON,
		&exp.CreatedAt, &exp.UpdatedAt)
	if err != nil {
		return nil, err
	}
	exp.Status = models.ExperimentStatus(status)
	if err := json.Unmarshal(variantsJSON, &exp.Variants); err != nil {
		return nil, fmt.Errorf("failed to decode variants: %w", err)
	}
	if len(resultsJSON) > 0 {
		exp.Results = &models.ExperimentResults{}
		if err := json.Unmarshal(resultsJSON, exp.Results); err != nil {
			return nil, fmt.Errorf("failed to decode results: %w", err)
		}
	}
	return &exp, nil
}

func encodeExperiment(exp *models.Experiment) (variants, results []byte, err error) {
	if variants, err = json.Marshal(exp.Variants); err != nil {
		return nil, nil, fmt.Errorf("failed to encode variants: %w", err)
	}
	if exp.Results != nil {
		if results, err = json.Marshal(exp.Results); err != nil {
			return nil, nil, fmt.Errorf("failed to encode results: %w", err)
		}
	}
	return variants, results, nil
}

func (s *PostgresExperimentStore) CreateExperiment(ctx context.Context, exp *models.Experiment) error {
	variants, results, err := encodeExperiment(exp)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO experiments (` + experimentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = s.db.Exec(ctx, query, exp.ID, exp.Name, exp.Description, string(exp.Status), variants,
		exp.TargetMetrics, exp.StartDate, exp.EndDate, exp.MinimumSampleSize, exp.SignificanceLevel,
		results, exp.CreatedAt, exp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert experiment: %w", err)
	}
	return nil
}

func (s *PostgresExperimentStore) GetExperiment(ctx context.Context, id string) (*models.Experiment, error) {
	exp, err := scanExperiment(s.db.QueryRow(ctx, `SELECT `+experimentColumns+` FROM experiments WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return exp, nil
}

// ListExperiments returns every experiment when status is empty.
func (s *PostgresExperimentStore) ListExperiments(ctx context.Context, status models.ExperimentStatus) ([]models.Experiment, error) {
	query := `SELECT ` + experimentColumns + `
		FROM experiments
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, id`

	rows, err := s.db.Query(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to query experiments: %w", err)
	}
	defer rows.Close()

	var exps []models.Experiment
	for rows.Next() {
		exp, err := scanExperiment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan experiment: %w", err)
		}
		exps = append(exps, *exp)
	}
	return exps, rows.Err()
}

func (s *PostgresExperimentStore) UpdateExperiment(ctx context.Context, exp *models.Experiment) error {
	variants, results, err := encodeExperiment(exp)
	if err != nil {
		return err
	}
	query := `
		UPDATE experiments SET
			name = $2, description = $3, status = $4, variants = $5, target_metrics = $6,
			start_date = $7, end_date = $8, minimum_sample_size = $9, significance_level = $10,
			results = $11, updated_at = $12
		WHERE id = $1
	`
	tag, err := s.db.Exec(ctx, query, exp.ID, exp.Name, exp.Description, string(exp.Status), variants,
		exp.TargetMetrics, exp.StartDate, exp.EndDate, exp.MinimumSampleSize, exp.SignificanceLevel,
		results, exp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update experiment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return services.ErrNotFound
	}
	return nil
}

func (s *PostgresExperimentStore) AppendMetric(ctx context.Context, m *models.ExperimentMetric) error {
	var metadata []byte
	if len(m.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(m.Metadata); err != nil {
			return fmt.Errorf("failed to encode metric metadata: %w", err)
		}
	}
	query := `
		INSERT INTO experiment_metrics (id, experiment_id, variant, metric_type, value, user_id, metadata, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.Exec(ctx, query, m.ID, m.ExperimentID, m.Variant, m.MetricType, m.Value, m.UserID, metadata, m.RecordedAt)
	if err != nil {
		return fmt.Errorf("failed to insert experiment metric: %w", err)
	}
	return nil
}

func (s *PostgresExperimentStore) ListMetrics(ctx context.Context, experimentID string) ([]models.ExperimentMetric, error) {
	query := `
		SELECT id, experiment_id, variant, metric_type, value, user_id, metadata, recorded_at
		FROM experiment_metrics
		WHERE experiment_id = $1
		ORDER BY recorded_at, id
	`
	rows, err := s.db.Query(ctx, query, experimentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query experiment metrics: %w", err)
	}
	defer rows.Close()

	var metrics []models.ExperimentMetric
	for rows.Next() {
		var (
			m        models.ExperimentMetric
			metadata []byte
		)
		if err := rows.Scan(&m.ID, &m.ExperimentID, &m.Variant, &m.MetricType, &m.Value, &m.UserID, &metadata, &m.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan experiment metric: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &m.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metric metadata: %w", err)
			}
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}
