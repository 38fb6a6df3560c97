package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/sirupsen/logrus"

	"github.com/temcen/eventrec/pkg/models"
)

// Neo4jGraph keeps a (:User)-[:INTERACTED_WITH]->(:Event) graph whose edges
// accumulate interaction weight and count. It serves neighbor lookups for the
// collaborative estimator.
type Neo4jGraph struct {
	driver neo4j.DriverWithContext
	logger *logrus.Logger
}

func NewNeo4jGraph(driver neo4j.DriverWithContext, logger *logrus.Logger) *Neo4jGraph {
	return &Neo4jGraph{driver: driver, logger: logger}
}

// MergeInteractions upserts one edge per interaction in a single transaction.
// A retried transaction may count a batch twice.
func (g *Neo4jGraph) MergeInteractions(ctx context.Context, batch []models.Interaction) error {
	if len(batch) == 0 {
		return nil
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	cypher := `
		UNWIND $interactions AS rel
		MERGE (u:User {user_id: rel.user_id})
		MERGE (e:Event {item_id: rel.item_id})
		MERGE (u)-[r:INTERACTED_WITH]->(e)
		ON CREATE SET r.weight = 0.0, r.count = 0
		SET r.weight = r.weight + rel.weight,
		    r.count = r.count + 1,
		    r.last_type = rel.type,
		    r.last_seen = rel.timestamp,
		    r.updated_at = datetime()`

	interactions := make([]map[string]interface{}, 0, len(batch))
	for _, in := range batch {
		if in.ItemID == nil {
			continue
		}
		interactions = append(interactions, map[string]interface{}{
			"user_id":   in.UserID.String(),
			"item_id":   in.ItemID.String(),
			"weight":    in.Weight,
			"type":      string(in.Type),
			"timestamp": in.Timestamp.Unix(),
		})
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		result, err := tx.Run(ctx, cypher, map[string]interface{}{"interactions": interactions})
		if err != nil {
			return nil, err
		}
		summary, err := result.Consume(ctx)
		if err != nil {
			return nil, err
		}
		return summary.Counters(), nil
	})
	if err != nil {
		return fmt.Errorf("failed to merge interactions into graph: %w", err)
	}
	return nil
}

func (g *Neo4jGraph) CandidateNeighbors(ctx context.Context, userID uuid.UUID, itemIDs []uuid.UUID, minShared, limit int) ([]models.NeighborCandidate, error) {
	if len(itemIDs) == 0 {
		return nil, nil
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := `
		MATCH (other:User)-[:INTERACTED_WITH]->(e:Event)
		WHERE e.item_id IN $itemIds AND other.user_id <> $userId
		WITH other, count(DISTINCT e) AS shared
		WHERE shared >= $minShared
		RETURN other.user_id AS user_id, shared
		ORDER BY shared DESC, user_id
		LIMIT $limit`

	ids := make([]string, len(itemIDs))
	for i, id := range itemIDs {
		ids[i] = id.String()
	}

	records, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		result, err := tx.Run(ctx, query, map[string]interface{}{
			"userId":    userID.String(),
			"itemIds":   ids,
			"minShared": minShared,
			"limit":     limit,
		})
		if err != nil {
			return nil, err
		}
		return result.Collect(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query graph neighbors: %w", err)
	}

	var candidates []models.NeighborCandidate
	for _, record := range records.([]*neo4j.Record) {
		userIDStr, _ := record.Values[0].(string)
		shared, _ := record.Values[1].(int64)

		neighborID, err := uuid.Parse(userIDStr)
		if err != nil {
			g.logger.WithField("user_id", userIDStr).Debug("Skipping graph user with invalid id")
			continue
		}
		candidates = append(candidates, models.NeighborCandidate{UserID: neighborID, SharedItems: int(shared)})
	}
	return candidates, nil
}

// Ping verifies the driver can reach the server.
func (g *Neo4jGraph) Ping(ctx context.Context) error {
	return g.driver.VerifyConnectivity(ctx)
}
