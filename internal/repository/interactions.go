package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/temcen/eventrec/pkg/models"
)

type PostgresInteractionLog struct {
	db Querier
}

func NewPostgresInteractionLog(db Querier) *PostgresInteractionLog {
	return &PostgresInteractionLog{db: db}
}

func (r *PostgresInteractionLog) Append(ctx context.Context, in *models.Interaction) error {
	contextJSON, err := json.Marshal(in.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal interaction context: %w", err)
	}

	query := `
		INSERT INTO interactions (id, user_id, item_id, interaction_type, weight, value, context, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.db.Exec(ctx, query,
		in.ID, in.UserID, in.ItemID, string(in.Type), in.Weight, in.Value, contextJSON, in.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert interaction: %w", err)
	}
	return nil
}

func (r *PostgresInteractionLog) RecentByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.Interaction, error) {
	query := `
		SELECT id, user_id, item_id, interaction_type, weight, value, context, timestamp
		FROM interactions
		WHERE user_id = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query interactions: %w", err)
	}
	defer rows.Close()

	var interactions []models.Interaction
	for rows.Next() {
		var (
			in          models.Interaction
			itype       string
			contextJSON []byte
		)
		if err := rows.Scan(&in.ID, &in.UserID, &in.ItemID, &itype, &in.Weight, &in.Value, &contextJSON, &in.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan interaction: %w", err)
		}
		in.Type = models.InteractionType(itype)
		if len(contextJSON) > 0 {
			if err := json.Unmarshal(contextJSON, &in.Context); err != nil {
				return nil, fmt.Errorf("failed to decode interaction context: %w", err)
			}
		}
		interactions = append(interactions, in)
	}
	return interactions, rows.Err()
}

func (r *PostgresInteractionLog) UserItemWeights(ctx context.Context, userIDs []uuid.UUID, perUserLimit int) (map[uuid.UUID]map[uuid.UUID]models.ItemWeight, error) {
	result := make(map[uuid.UUID]map[uuid.UUID]models.ItemWeight, len(userIDs))
	if len(userIDs) == 0 {
		return result, nil
	}

	query := `
		SELECT user_id, item_id, SUM(weight), COUNT(*)
		FROM (
			SELECT user_id, item_id, weight,
			       ROW_NUMBER() OVER (PARTITION BY user_id ORDER BY timestamp DESC) AS rn
			FROM interactions
			WHERE user_id = ANY($1) AND item_id IS NOT NULL
		) recent
		WHERE rn <= $2
		GROUP BY user_id, item_id
	`
	rows, err := r.db.Query(ctx, query, userIDs, perUserLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to query user item weights: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			userID, itemID uuid.UUID
			w              models.ItemWeight
		)
		if err := rows.Scan(&userID, &itemID, &w.Sum, &w.Count); err != nil {
			return nil, fmt.Errorf("failed to scan user item weight: %w", err)
		}
		if result[userID] == nil {
			result[userID] = make(map[uuid.UUID]models.ItemWeight)
		}
		result[userID][itemID] = w
	}
	return result, rows.Err()
}

func (r *PostgresInteractionLog) ItemStats(ctx context.Context, itemIDs []uuid.UUID) (map[uuid.UUID]models.ItemStats, error) {
	result := make(map[uuid.UUID]models.ItemStats, len(itemIDs))
	if len(itemIDs) == 0 {
		return result, nil
	}

	query := `
		SELECT item_id, COUNT(*), AVG(weight)
		FROM interactions
		WHERE item_id = ANY($1)
		GROUP BY item_id
	`
	rows, err := r.db.Query(ctx, query, itemIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query item stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s models.ItemStats
		if err := rows.Scan(&s.ItemID, &s.Count, &s.AvgWeight); err != nil {
			return nil, fmt.Errorf("failed to scan item stats: %w", err)
		}
		result[s.ItemID] = s
	}
	return result, rows.Err()
}

// PopularItems ranks items by interaction count then average weight. A zero
// since covers all time.
func (r *PostgresInteractionLog) PopularItems(ctx context.Context, since time.Time, limit int) ([]models.ItemStats, error) {
	query := `
		SELECT item_id, COUNT(*) AS cnt, AVG(weight) AS avg_weight
		FROM interactions
		WHERE item_id IS NOT NULL AND timestamp >= $1
		GROUP BY item_id
		ORDER BY cnt DESC, avg_weight DESC, item_id
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query popular items: %w", err)
	}
	defer rows.Close()

	var stats []models.ItemStats
	for rows.Next() {
		var s models.ItemStats
		if err := rows.Scan(&s.ItemID, &s.Count, &s.AvgWeight); err != nil {
			return nil, fmt.Errorf("failed to scan popular item: %w", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

func (r *PostgresInteractionLog) CandidateNeighbors(ctx context.Context, userID uuid.UUID, itemIDs []uuid.UUID, minShared, limit int) ([]models.NeighborCandidate, error) {
	if len(itemIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT user_id, COUNT(DISTINCT item_id) AS shared
		FROM interactions
		WHERE item_id = ANY($1) AND user_id <> $2
		GROUP BY user_id
		HAVING COUNT(DISTINCT item_id) >= $3
		ORDER BY shared DESC, user_id
		LIMIT $4
	`
	rows, err := r.db.Query(ctx, query, itemIDs, userID, minShared, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidate neighbors: %w", err)
	}
	defer rows.Close()

	var candidates []models.NeighborCandidate
	for rows.Next() {
		var c models.NeighborCandidate
		if err := rows.Scan(&c.UserID, &c.SharedItems); err != nil {
			return nil, fmt.Errorf("failed to scan neighbor: %w", err)
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}
