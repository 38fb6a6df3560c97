package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/eventrec/pkg/models"
)

var itemRowColumns = []string{
	"id", "title", "description", "category", "location", "price", "capacity", "tags", "starts_at", "ends_at", "created_at", "active",
}

func TestBuildItemFilters(t *testing.T) {
	minPrice, maxPrice := 10.0, 50.0
	after := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	where, args := buildItemFilters(models.Filters{
		Category:    "Music",
		Location:    "lis",
		MinPrice:    &minPrice,
		MaxPrice:    &maxPrice,
		StartsAfter: &after,
	})

	assert.Equal(t, []string{
		"active",
		"LOWER(category) = LOWER($1)",
		"location ILIKE '%' || $2 || '%'",
		"price >= $3",
		"price <= $4",
		"starts_at >= $5",
	}, where)
	assert.Equal(t, []interface{}{"Music", "lis", 10.0, 50.0, after}, args)

	where, args = buildItemFilters(models.Filters{})
	assert.Equal(t, []string{"active"}, where)
	assert.Empty(t, args)
}

func TestPostgresItemCatalog_QueryItems(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	catalog := NewPostgresItemCatalog(mock)
	price := 20.0
	now := time.Now()
	id := uuid.New()

	mock.ExpectQuery(`WHERE active AND LOWER\(category\)`).
		WithArgs("music", 25).
		WillReturnRows(pgxmock.NewRows(itemRowColumns).
			AddRow(id, "Jazz Night", "", "music", "Lisbon", &price, 120, []string{"jazz"}, &now, nil, now, true))

	items, err := catalog.QueryItems(context.Background(), models.Filters{Category: "music"}, 25)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, id, items[0].ID)
	assert.Equal(t, "budget", items[0].PriceRange())
	assert.Equal(t, []string{"jazz"}, items[0].Tags)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresItemCatalog_GetItems(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	catalog := NewPostgresItemCatalog(mock)
	id := uuid.New()
	now := time.Now()

	mock.ExpectQuery("WHERE id = ANY").
		WithArgs([]uuid.UUID{id}).
		WillReturnRows(pgxmock.NewRows(itemRowColumns).
			AddRow(id, "Expo", "", "art", "Porto", nil, 0, []string{}, nil, nil, now, true))

	items, err := catalog.GetItems(context.Background(), []uuid.UUID{id})
	require.NoError(t, err)
	assert.Contains(t, items, id)
	assert.Nil(t, items[id].Price)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresItemCatalog_UpsertItem(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	catalog := NewPostgresItemCatalog(mock)
	price := 15.0
	now := time.Now()
	it := &models.Item{
		ID: uuid.New(), Title: "Fado Evening", Category: "music", Location: "Lisbon",
		Price: &price, Capacity: 80, StartsAt: &now, EndsAt: &now, CreatedAt: now, Active: true,
	}

	mock.ExpectExec("ON CONFLICT \\(id\\) DO UPDATE").
		WithArgs(it.ID, "Fado Evening", "", "music", "Lisbon", it.Price, 80, []string{}, it.StartsAt, it.EndsAt, now, true).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, catalog.UpsertItem(context.Background(), it))

	mock.ExpectExec("ON CONFLICT").WillReturnError(assert.AnError)
	err = catalog.UpsertItem(context.Background(), it)
	assert.ErrorIs(t, err, assert.AnError)
	require.NoError(t, mock.ExpectationsWereMet())
}
