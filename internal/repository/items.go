package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/temcen/eventrec/pkg/models"
)

const itemColumns = `id, title, description, category, location, price, capacity, tags, starts_at, ends_at, created_at, active`

type PostgresItemCatalog struct {
	db Querier
}

func NewPostgresItemCatalog(db Querier) *PostgresItemCatalog {
	return &PostgresItemCatalog{db: db}
}

func scanItem(row rowScanner) (models.Item, error) {
	var it models.Item
	err := row.Scan(&it.ID, &it.Title, &it.Description, &it.Category, &it.Location, &it.Price,
		&it.Capacity, &it.Tags, &it.StartsAt, &it.EndsAt, &it.CreatedAt, &it.Active)
	return it, err
}

func (c *PostgresItemCatalog) collect(ctx context.Context, query string, args ...interface{}) ([]models.Item, error) {
	rows, err := c.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []models.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (c *PostgresItemCatalog) GetItems(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Item, error) {
	result := make(map[uuid.UUID]models.Item, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	items, err := c.collect(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		result[it.ID] = it
	}
	return result, nil
}

// QueryItems pushes the structured filters down to SQL. The expression
// filter is evaluated in process by the caller.
func (c *PostgresItemCatalog) QueryItems(ctx context.Context, filters models.Filters, limit int) ([]models.Item, error) {
	where, args := buildItemFilters(filters)
	args = append(args, limit)

	query := fmt.Sprintf(`SELECT %s FROM items WHERE %s ORDER BY created_at DESC, id LIMIT $%d`,
		itemColumns, strings.Join(where, " AND "), len(args))
	return c.collect(ctx, query, args...)
}

func buildItemFilters(f models.Filters) ([]string, []interface{}) {
	where := []string{"active"}
	var args []interface{}
	add := func(clause string, value interface{}) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if f.Category != "" {
		add("LOWER(category) = LOWER($%d)", f.Category)
	}
	if f.Location != "" {
		add("location ILIKE '%%' || $%d || '%%'", f.Location)
	}
	if f.MinPrice != nil {
		add("price >= $%d", *f.MinPrice)
	}
	if f.MaxPrice != nil {
		add("price <= $%d", *f.MaxPrice)
	}
	if f.StartsAfter != nil {
		add("starts_at >= $%d", *f.StartsAfter)
	}
	if f.StartsBefore != nil {
		add("starts_at <= $%d", *f.StartsBefore)
	}
	return where, args
}

func (c *PostgresItemCatalog) RecentItems(ctx context.Context, limit int) ([]models.Item, error) {
	return c.collect(ctx, `SELECT `+itemColumns+` FROM items WHERE active ORDER BY created_at DESC, id LIMIT $1`, limit)
}

// UpsertItem inserts or replaces an item by ID. The caller supplies CreatedAt.
func (c *PostgresItemCatalog) UpsertItem(ctx context.Context, it *models.Item) error {
	query := `
		INSERT INTO items (` + itemColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			category = EXCLUDED.category,
			location = EXCLUDED.location,
			price = EXCLUDED.price,
			capacity = EXCLUDED.capacity,
			tags = EXCLUDED.tags,
			starts_at = EXCLUDED.starts_at,
			ends_at = EXCLUDED.ends_at,
			active = EXCLUDED.active
	`
	tags := it.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := c.db.Exec(ctx, query, it.ID, it.Title, it.Description, it.Category, it.Location, it.Price,
		it.Capacity, tags, it.StartsAt, it.EndsAt, it.CreatedAt, it.Active)
	if err != nil {
		return fmt.Errorf("failed to upsert item: %w", err)
	}
	return nil
}
